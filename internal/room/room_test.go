package room

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/byte-battle-backend/internal/battle"
	"github.com/DoyleJ11/byte-battle-backend/internal/judge"
	"github.com/DoyleJ11/byte-battle-backend/internal/rewards"
	"github.com/DoyleJ11/byte-battle-backend/internal/session"
	"github.com/DoyleJ11/byte-battle-backend/pkg/types"
)

const code = "AB12"

// helper: receive until a message of the given type shows up so tests never hang
func recvType(t *testing.T, ch <-chan types.ServerMessage, typ string, within time.Duration) types.ServerMessage {
	t.Helper()
	timeout := time.After(within)
	for {
		select {
		case m := <-ch:
			if m.Type == typ {
				return m
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
			return types.ServerMessage{} // unreachable
		}
	}
}

func recvNone(t *testing.T, ch <-chan types.ServerMessage, typ string, within time.Duration) {
	t.Helper()
	timeout := time.After(within)
	for {
		select {
		case m := <-ch:
			if m.Type == typ {
				t.Fatalf("expected no %s within %v, got %+v", typ, within, m.Data)
			}
		case <-timeout:
			return
		}
	}
}

func recvView(t *testing.T, r *Room) View {
	t.Helper()
	reply := make(chan View, 1)
	require.NoError(t, r.Send(context.Background(), GetState{Reply: reply}))
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

func testRules() battle.Rules {
	rules := battle.DefaultRules()
	rules.MinDuration = 10 * time.Millisecond
	rules.DefaultDuration = 200 * time.Millisecond
	return rules
}

type fixture struct {
	room     *Room
	reg      *session.Memory
	ledger   *rewards.Memory
	closed   chan string
	host     Client
	guest    Client
	hostOut  chan types.ServerMessage
	guestOut chan types.ServerMessage
}

func newFixture(t *testing.T, gw judge.Gateway) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := &fixture{
		reg:      session.NewMemory(),
		ledger:   rewards.NewMemory(),
		closed:   make(chan string, 1),
		hostOut:  make(chan types.ServerMessage, 64),
		guestOut: make(chan types.ServerMessage, 64),
	}
	f.host = Client{ID: "p-host", Name: "alice", Outbox: f.hostOut}
	f.guest = Client{ID: "p-guest", Name: "bob", Outbox: f.guestOut}

	f.room = New(ctx, code, f.host, testRules(), Deps{
		Registry: f.reg,
		Judge:    gw,
		Rewards:  f.ledger,
		OnClose:  func(c string) { f.closed <- c },
	})
	recvType(t, f.hostOut, types.EvtCreated, time.Second)
	return f
}

func (f *fixture) send(t *testing.T, from Client, cmd battle.Command) {
	t.Helper()
	require.NoError(t, f.room.Send(context.Background(), FromClient{From: from, Cmd: cmd}))
}

// seat walks the guest through request, accept and confirm.
func (f *fixture) seat(t *testing.T) {
	t.Helper()
	f.send(t, f.guest, battle.Command{Type: battle.CmdJoinRequest})
	recvType(t, f.hostOut, types.EvtJoinRequestNotify, time.Second)

	f.send(t, f.host, battle.Command{Type: battle.CmdJoinResponse, Accepted: true})
	recvType(t, f.guestOut, types.EvtJoinAccepted, time.Second)

	f.send(t, f.guest, battle.Command{Type: battle.CmdConfirmJoin})
	recvType(t, f.hostOut, types.EvtEntered, time.Second)
	recvType(t, f.guestOut, types.EvtEntered, time.Second)
}

func (f *fixture) start(t *testing.T, d time.Duration) types.BattleStarted {
	t.Helper()
	f.send(t, f.host, battle.Command{Type: battle.CmdStart, Config: battle.RoundConfig{Language: "python", Duration: d}})
	m := recvType(t, f.guestOut, types.EvtStarted, time.Second)
	recvType(t, f.hostOut, types.EvtStarted, time.Second)
	return m.Data.(types.BattleStarted)
}

func TestRoom_CreateBindsHost(t *testing.T) {
	f := newFixture(t, nil)

	got, ok, err := f.reg.Resolve(context.Background(), f.host.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, code, got)

	v := recvView(t, f.room)
	assert.Equal(t, battle.PhaseWaitingForGuest, v.State.Phase)
	assert.Equal(t, 1, v.NumClients)
}

func TestRoom_ErrorsGoOnlyToSender(t *testing.T) {
	f := newFixture(t, nil)
	f.seat(t)

	strangerOut := make(chan types.ServerMessage, 4)
	stranger := Client{ID: "p-x", Name: "eve", Outbox: strangerOut}
	f.send(t, stranger, battle.Command{Type: battle.CmdJoinRequest})

	m := recvType(t, strangerOut, types.EvtError, time.Second)
	assert.Equal(t, battle.ErrRoomFull.Error(), m.Data.(types.Error).Message)
	recvNone(t, f.hostOut, types.EvtError, 50*time.Millisecond)

	v := recvView(t, f.room)
	assert.Equal(t, 2, v.NumClients, "stranger connection is not kept")
}

func TestRoom_DeadlineWithoutSubmissions(t *testing.T) {
	f := newFixture(t, nil)
	f.seat(t)
	f.start(t, 50*time.Millisecond)

	m := recvType(t, f.hostOut, types.EvtResult, time.Second)
	res := m.Data.(types.BattleResult)
	assert.True(t, res.Draw)
	assert.Equal(t, "no submissions", res.Reason)
}

func TestRoom_BothSubmitJudgesBeforeDeadline(t *testing.T) {
	gw := judge.GatewayFunc(func(ctx context.Context, req judge.Request) (judge.Verdict, error) {
		if req.Code == "good" {
			return judge.Verdict{Score: 100, Passed: true}, nil
		}
		return judge.Verdict{Score: 10}, nil
	})
	f := newFixture(t, gw)
	f.seat(t)
	f.start(t, 300*time.Millisecond)

	f.send(t, f.host, battle.Command{Type: battle.CmdSubmit, Code: "meh"})
	recvType(t, f.guestOut, types.EvtNotification, time.Second)
	f.send(t, f.guest, battle.Command{Type: battle.CmdSubmit, Code: "good"})

	m := recvType(t, f.hostOut, types.EvtResult, time.Second)
	res := m.Data.(types.BattleResult)
	assert.Equal(t, f.guest.ID, res.Winner)
	assert.Equal(t, "higher score", res.Reason)

	// the cancelled deadline must not produce a second result
	recvNone(t, f.hostOut, types.EvtResult, 400*time.Millisecond)

	f.assertXP(t, f.guest.ID, 100)
}

func (f *fixture) assertXP(t *testing.T, playerID string, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, err := f.ledger.Total(context.Background(), playerID)
		return err == nil && got == want
	}, time.Second, 10*time.Millisecond, "xp for %s", playerID)
}

func TestRoom_SingleSubmitterWinsAtDeadline(t *testing.T) {
	f := newFixture(t, nil)
	f.seat(t)
	f.start(t, 100*time.Millisecond)

	f.send(t, f.host, battle.Command{Type: battle.CmdSubmit, Code: "print('racecar')"})
	recvType(t, f.guestOut, types.EvtNotification, time.Second)

	m := recvType(t, f.guestOut, types.EvtResult, time.Second)
	res := m.Data.(types.BattleResult)
	assert.Equal(t, f.host.ID, res.Winner)
	assert.Equal(t, "alice", res.WinnerName)
	assert.False(t, res.Draw)
	assert.Equal(t, "opponent did not submit", res.Reason)

	f.assertXP(t, f.host.ID, 100)
	f.assertXP(t, f.guest.ID, 0)
}

func TestRoom_LeaveCancelsJudging(t *testing.T) {
	entered := make(chan struct{}, 2)
	cancelled := make(chan struct{}, 2)
	gw := judge.GatewayFunc(func(ctx context.Context, req judge.Request) (judge.Verdict, error) {
		entered <- struct{}{}
		<-ctx.Done()
		cancelled <- struct{}{}
		return judge.Verdict{}, ctx.Err()
	})
	f := newFixture(t, gw)
	f.seat(t)
	f.start(t, time.Second)

	f.send(t, f.host, battle.Command{Type: battle.CmdSubmit, Code: "a"})
	f.send(t, f.guest, battle.Command{Type: battle.CmdSubmit, Code: "b"})
	recvType(t, f.hostOut, types.EvtStateChange, time.Second)
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatalf("judge never called")
	}

	f.send(t, f.guest, battle.Command{Type: battle.CmdLeave})
	recvType(t, f.hostOut, types.EvtClosed, time.Second)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatalf("judging was not cancelled")
	}
	recvNone(t, f.hostOut, types.EvtResult, 200*time.Millisecond)
	f.room.Wait()
	f.assertXP(t, f.host.ID, 0)
}

func TestRoom_JudgeFailureIsDraw(t *testing.T) {
	gw := judge.GatewayFunc(func(ctx context.Context, req judge.Request) (judge.Verdict, error) {
		return judge.Verdict{}, judge.ErrUnavailable
	})
	f := newFixture(t, gw)
	f.seat(t)
	f.start(t, time.Second)

	f.send(t, f.host, battle.Command{Type: battle.CmdSubmit, Code: "a"})
	f.send(t, f.guest, battle.Command{Type: battle.CmdSubmit, Code: "b"})

	m := recvType(t, f.guestOut, types.EvtResult, time.Second)
	res := m.Data.(types.BattleResult)
	assert.True(t, res.Draw)
	assert.Equal(t, "judging unavailable", res.Reason)
}

func TestRoom_ChatSetupStartsRound(t *testing.T) {
	f := newFixture(t, nil)
	f.seat(t)

	f.send(t, f.host, battle.Command{Type: battle.CmdChat, Text: "medium in javascript"})
	m := recvType(t, f.guestOut, types.EvtStarted, time.Second)
	started := m.Data.(types.BattleStarted)
	assert.Equal(t, "JavaScript", started.Language)
	assert.Equal(t, "Medium", started.Difficulty)
	assert.NotEmpty(t, started.Problem.Title)
}

func TestRoom_LeaveClosesAndUnbinds(t *testing.T) {
	f := newFixture(t, nil)
	f.seat(t)
	f.start(t, time.Second)

	f.send(t, f.guest, battle.Command{Type: battle.CmdLeave})
	recvType(t, f.hostOut, types.EvtClosed, time.Second)

	select {
	case c := <-f.closed:
		assert.Equal(t, code, c)
	case <-time.After(time.Second):
		t.Fatalf("room did not report close")
	}
	<-f.room.Done()

	for _, id := range []string{f.host.ID, f.guest.ID} {
		_, ok, err := f.reg.Resolve(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, ok, id)
	}

	err := f.room.Send(context.Background(), FromClient{From: f.host, Cmd: battle.Command{Type: battle.CmdHeartbeat}})
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestRoom_SweepClosesIdleRoom(t *testing.T) {
	f := newFixture(t, nil)
	f.seat(t)

	require.NoError(t, f.room.Send(context.Background(), Sweep{Now: time.Now().Add(time.Hour)}))
	select {
	case <-f.closed:
	case <-time.After(time.Second):
		t.Fatalf("idle room not closed")
	}
}

func TestRoom_DropSlowClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan types.ServerMessage) // nobody reads
	r := New(ctx, code, Client{ID: "p-host", Name: "alice", Outbox: out}, testRules(), Deps{})

	v := recvView(t, r)
	assert.Equal(t, 0, v.NumClients)
}

func TestRoom_GuestRejoinMidBattle(t *testing.T) {
	f := newFixture(t, nil)
	f.seat(t)
	f.start(t, time.Minute)
	before := recvView(t, f.room)

	require.NoError(t, f.room.Send(context.Background(), Detach{PlayerID: f.guest.ID, Outbox: f.guestOut}))

	fresh := make(chan types.ServerMessage, 8)
	f.send(t, Client{ID: f.guest.ID, Name: f.guest.Name, Outbox: fresh}, battle.Command{Type: battle.CmdRejoin})
	m := recvType(t, fresh, types.EvtRejoined, time.Second)
	rejoined := m.Data.(types.RoomEntered)
	assert.False(t, rejoined.IsHost)
	assert.Equal(t, code, rejoined.RoomCode)
	assert.Equal(t, string(before.State.Phase), rejoined.State)
	assert.Len(t, rejoined.Players, 2)

	after := recvView(t, f.room)
	assert.Equal(t, battle.PhaseInProgress, after.State.Phase)
	assert.Equal(t, before.State.Round, after.State.Round)
	assert.Equal(t, before.State.Deadline, after.State.Deadline)
	assert.Equal(t, before.State.Host, after.State.Host)
	assert.Equal(t, *before.State.Guest, *after.State.Guest)
}

// second opens another room on the fixture's registry.
func (f *fixture) second(t *testing.T) (*Room, chan types.ServerMessage) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	out := make(chan types.ServerMessage, 16)
	rm := New(ctx, "CD34", Client{ID: "p-carol", Name: "carol", Outbox: out}, testRules(), Deps{Registry: f.reg})
	recvType(t, out, types.EvtCreated, time.Second)
	return rm, out
}

func TestRoom_PendingRequesterCannotAskAnotherRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	other, otherOut := f.second(t)

	f.send(t, f.guest, battle.Command{Type: battle.CmdJoinRequest})
	recvType(t, f.hostOut, types.EvtJoinRequestNotify, time.Second)

	require.NoError(t, other.Send(ctx, FromClient{From: f.guest, Cmd: battle.Command{Type: battle.CmdJoinRequest}}))
	m := recvType(t, f.guestOut, types.EvtError, time.Second)
	assert.Contains(t, m.Data.(types.Error).Message, battle.ErrAlreadyInRoom.Error())
	recvNone(t, otherOut, types.EvtJoinRequestNotify, 50*time.Millisecond)
	assert.Equal(t, battle.PhaseWaitingForGuest, recvView(t, other).State.Phase)

	f.send(t, f.host, battle.Command{Type: battle.CmdJoinResponse, Accepted: true})
	recvType(t, f.guestOut, types.EvtJoinAccepted, time.Second)
	bound, ok, err := f.reg.Resolve(ctx, f.guest.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, code, bound)
}

func TestRoom_AcceptChecksBindingAgain(t *testing.T) {
	f := newFixture(t, nil)

	f.send(t, f.guest, battle.Command{Type: battle.CmdJoinRequest})
	recvType(t, f.hostOut, types.EvtJoinRequestNotify, time.Second)

	// the claim was lost while waiting, e.g. to an expired key
	require.NoError(t, f.reg.Bind(context.Background(), f.guest.ID, "ZZ99"))

	f.send(t, f.host, battle.Command{Type: battle.CmdJoinResponse, Accepted: true})
	m := recvType(t, f.guestOut, types.EvtError, time.Second)
	assert.Contains(t, m.Data.(types.Error).Message, "ZZ99")
	recvType(t, f.hostOut, types.EvtNotification, time.Second)

	v := recvView(t, f.room)
	assert.Equal(t, battle.PhaseWaitingForGuest, v.State.Phase)
	assert.Nil(t, v.State.Guest)

	bound, _, err := f.reg.Resolve(context.Background(), f.guest.ID)
	require.NoError(t, err)
	assert.Equal(t, "ZZ99", bound)
}

func TestRoom_RejectReleasesClaim(t *testing.T) {
	f := newFixture(t, nil)

	f.send(t, f.guest, battle.Command{Type: battle.CmdJoinRequest})
	recvType(t, f.hostOut, types.EvtJoinRequestNotify, time.Second)
	f.send(t, f.host, battle.Command{Type: battle.CmdJoinResponse, Accepted: false})
	recvType(t, f.guestOut, types.EvtError, time.Second)

	_, ok, err := f.reg.Resolve(context.Background(), f.guest.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRoom_DetachKeepsState(t *testing.T) {
	f := newFixture(t, nil)
	f.seat(t)

	require.NoError(t, f.room.Send(context.Background(), Detach{PlayerID: f.guest.ID, Outbox: f.guestOut}))
	v := recvView(t, f.room)
	assert.Equal(t, 1, v.NumClients)
	assert.Equal(t, battle.PhaseSetup, v.State.Phase)
	require.NotNil(t, v.State.Guest)

	// reconnect on a fresh socket
	fresh := make(chan types.ServerMessage, 8)
	f.send(t, Client{ID: f.guest.ID, Name: f.guest.Name, Outbox: fresh}, battle.Command{Type: battle.CmdRejoin})
	m := recvType(t, fresh, types.EvtRejoined, time.Second)
	assert.Equal(t, string(battle.PhaseSetup), m.Data.(types.RoomEntered).State)
}
