// Package room runs one battle room as an actor: a single goroutine owns the battle
// state and drains one inbox, so transitions for a room are serialized.
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/byte-battle-backend/internal/battle"
	"github.com/DoyleJ11/byte-battle-backend/internal/judge"
	"github.com/DoyleJ11/byte-battle-backend/internal/problem"
	"github.com/DoyleJ11/byte-battle-backend/internal/rewards"
	"github.com/DoyleJ11/byte-battle-backend/internal/session"
	"github.com/DoyleJ11/byte-battle-backend/pkg/types"
)

type Msg interface{ isRoomMsg() }

// Client is one websocket connection speaking for a player.
type Client struct {
	ID     string
	Name   string
	Outbox chan<- types.ServerMessage
}

type FromClient struct {
	From Client
	Cmd  battle.Command
}

func (FromClient) isRoomMsg() {}

// Detach drops the connection without touching battle state. Liveness decides what a
// silent player means.
type Detach struct {
	PlayerID string
	Outbox   chan<- types.ServerMessage
}

func (Detach) isRoomMsg() {}

type Sweep struct{ Now time.Time }

func (Sweep) isRoomMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

type deadlineFired struct{ gen, round int }

func (deadlineFired) isRoomMsg() {}

type judged struct {
	round    int
	verdicts map[string]judge.Verdict
	failed   bool
}

func (judged) isRoomMsg() {}

type problemReady struct {
	actor battle.Participant
	cfg   battle.RoundConfig
	p     problem.Problem
}

func (problemReady) isRoomMsg() {}

type View struct {
	Version    int
	NumClients int
	State      battle.State
}

type Deps struct {
	Registry session.Registry
	Judge    judge.Gateway
	Problems problem.Source
	Rewards  rewards.Store
	Logger   *zap.Logger
	Now      func() time.Time
	// OnClose is called from the room goroutine once the room reaches CLOSED.
	OnClose func(code string)
	// Bound on registry, problem and ledger calls.
	DepTimeout time.Duration
}

func (d *Deps) defaults() {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.DepTimeout <= 0 {
		d.DepTimeout = 3 * time.Second
	}
	if d.Registry == nil {
		d.Registry = session.NewMemory()
	}
	if d.Judge == nil {
		d.Judge = judge.Lenient{}
	}
	if d.Problems == nil {
		d.Problems = problem.NewCatalog(problem.Builtin, 1)
	}
	if d.Rewards == nil {
		d.Rewards = rewards.NewMemory()
	}
	if d.OnClose == nil {
		d.OnClose = func(string) {}
	}
}

var ErrClosed = errors.New("room closed")

type Room struct {
	code    string
	inbox   chan Msg
	state   battle.State
	version int
	conns   map[string]chan<- types.ServerMessage
	deps    Deps
	log     *zap.Logger

	timer    *time.Timer
	timerGen int
	starting bool
	closed   bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New opens a room with host as its host and starts its goroutine.
func New(parent context.Context, code string, host Client, rules battle.Rules, deps Deps) *Room {
	deps.defaults()
	ctx, cancel := context.WithCancel(parent)

	r := &Room{
		code:   code,
		inbox:  make(chan Msg, 64),
		conns:  make(map[string]chan<- types.ServerMessage),
		deps:   deps,
		log:    deps.Logger.With(zap.String("room", code)),
		ctx:    ctx,
		cancel: cancel,
	}
	if host.Outbox != nil {
		r.conns[host.ID] = host.Outbox
	}

	effects, s := battle.New(code, battle.Participant{ID: host.ID, Name: host.Name}, rules, deps.Now())
	r.state = s
	r.log.Info("room created", zap.String("host", host.ID))

	// The opening effects bind the host in the registry, so they run on the room
	// goroutine rather than the caller's.
	go r.loop(effects)
	return r
}

func (r *Room) Code() string { return r.code }

// Done is closed once the room goroutine has exited.
func (r *Room) Done() <-chan struct{} { return r.ctx.Done() }

// Send delivers m to the room, failing if the room has closed.
func (r *Room) Send(ctx context.Context, m Msg) error {
	if r.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case r.inbox <- m:
		return nil
	case <-r.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post is Send for the room's own timers and goroutines.
func (r *Room) post(m Msg) {
	select {
	case r.inbox <- m:
	case <-r.ctx.Done():
	}
}

func (r *Room) loop(opening []battle.Effect) {
	defer r.stop()
	r.execute(opening)
	for {
		select {
		case <-r.ctx.Done():
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case FromClient:
				r.fromClient(msg)

			case Detach:
				if cur, ok := r.conns[msg.PlayerID]; ok && cur == msg.Outbox {
					delete(r.conns, msg.PlayerID)
				}

			case Sweep:
				r.apply(battle.Command{Type: battle.CmdSweep, At: msg.Now}, nil)

			case deadlineFired:
				if msg.gen != r.timerGen {
					break // stale
				}
				r.apply(battle.Command{Type: battle.CmdDeadline, Round: msg.round, At: r.deps.Now()}, nil)

			case judged:
				r.apply(battle.Command{
					Type:     battle.CmdJudged,
					Round:    msg.round,
					Verdicts: msg.verdicts,
					Failed:   msg.failed,
					At:       r.deps.Now(),
				}, nil)

			case problemReady:
				r.starting = false
				r.apply(battle.Command{
					Type:    battle.CmdStart,
					Actor:   msg.actor,
					Config:  msg.cfg,
					Problem: msg.p,
					At:      r.deps.Now(),
				}, r.conns[msg.actor.ID])

			case GetState:
				msg.Reply <- View{Version: r.version, NumClients: len(r.conns), State: r.state}

			case Shutdown:
				return
			}

			r.prune()
			if r.closed {
				r.deps.OnClose(r.code)
				return
			}
		}
	}
}

func (r *Room) fromClient(msg FromClient) {
	if msg.From.Outbox != nil {
		r.conns[msg.From.ID] = msg.From.Outbox
	}
	cmd := msg.Cmd
	cmd.Actor = battle.Participant{ID: msg.From.ID, Name: msg.From.Name}
	cmd.At = r.deps.Now()

	switch cmd.Type {
	case battle.CmdStart:
		if err := r.requestStart(cmd.Actor, cmd.Config); err != nil {
			r.reject(msg.From.Outbox, cmd, err)
		}
		return

	case battle.CmdJoinRequest:
		if r.state.IsMember(cmd.Actor.ID) {
			break
		}
		if err := r.claim(cmd.Actor.ID); err != nil {
			r.reject(msg.From.Outbox, cmd, err)
			return
		}
		if !r.apply(cmd, msg.From.Outbox) {
			r.unbind(cmd.Actor.ID)
		}
		return

	case battle.CmdJoinResponse:
		if cmd.Accepted && r.state.Pending != nil && r.state.IsHost(cmd.Actor.ID) {
			cmd.Taken = r.holder(r.state.Pending.ID)
		}
	}
	r.apply(cmd, msg.From.Outbox)
}

// claim binds a join requester to this room before the request is applied, so a
// player can wait on only one room at a time.
func (r *Room) claim(playerID string) error {
	if err := battle.CheckJoin(r.state, playerID); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(r.ctx, r.deps.DepTimeout)
	defer cancel()
	holder, err := r.deps.Registry.Claim(ctx, playerID, r.code)
	if err != nil {
		return err
	}
	if holder != r.code {
		return fmt.Errorf("%w: %s", battle.ErrAlreadyInRoom, holder)
	}
	return nil
}

// holder re-checks a pending requester's binding before the host's accept lands. A
// registry failure keeps the claim taken at request time.
func (r *Room) holder(playerID string) string {
	ctx, cancel := context.WithTimeout(r.ctx, r.deps.DepTimeout)
	defer cancel()
	holder, err := r.deps.Registry.Claim(ctx, playerID, r.code)
	if err != nil {
		r.log.Warn("session claim failed", zap.String("player", playerID), zap.Error(err))
		return r.code
	}
	return holder
}

// apply runs cmd through the state machine. Rejections go back to replyTo only.
func (r *Room) apply(cmd battle.Command, replyTo chan<- types.ServerMessage) bool {
	effects, next, err := battle.Apply(r.state, cmd)
	if err != nil {
		r.reject(replyTo, cmd, err)
		return false
	}
	prev := r.state.Phase
	r.state = next
	r.version++
	if prev != next.Phase {
		r.log.Info("transition",
			zap.String("event", string(cmd.Type)),
			zap.String("from", string(prev)),
			zap.String("to", string(next.Phase)))
	}
	r.execute(effects)
	return true
}

func (r *Room) reject(replyTo chan<- types.ServerMessage, cmd battle.Command, err error) {
	r.log.Debug("command rejected",
		zap.String("event", string(cmd.Type)),
		zap.String("player", cmd.Actor.ID),
		zap.String("state", string(r.state.Phase)),
		zap.Error(err))
	if replyTo != nil {
		r.deliver(cmd.Actor.ID, replyTo, types.ServerMessage{Type: types.EvtError, Data: battle.ErrorMessage(err)})
	}
}

func (r *Room) requestStart(actor battle.Participant, cfg battle.RoundConfig) error {
	if r.starting {
		return fmt.Errorf("%w: round is already starting", battle.ErrInvalidState)
	}
	cfg, err := battle.CheckStart(r.state, actor.ID, cfg)
	if err != nil {
		return err
	}
	r.starting = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(r.ctx, r.deps.DepTimeout)
		defer cancel()

		p, err := problem.PickOrFallback(ctx, r.deps.Problems, cfg.Difficulty, cfg.Language)
		if err != nil {
			r.log.Warn("problem source failed, using fallback", zap.Error(err))
		}
		r.post(problemReady{actor: actor, cfg: cfg, p: p})
	}()
	return nil
}

func (r *Room) execute(effects []battle.Effect) {
	for _, e := range effects {
		switch e.Type {
		case battle.EffSend:
			if ch, ok := r.conns[e.To]; ok {
				r.deliver(e.To, ch, e.Msg)
			}

		case battle.EffBroadcast:
			for _, m := range r.state.Members() {
				if ch, ok := r.conns[m.ID]; ok {
					r.deliver(m.ID, ch, e.Msg)
				}
			}

		case battle.EffArmDeadline:
			r.armDeadline(e.At, e.Round)

		case battle.EffCancelDeadline:
			r.cancelDeadline()

		case battle.EffJudge:
			r.startJudging(e.Round, e.Jobs)

		case battle.EffBind:
			ctx, cancel := context.WithTimeout(r.ctx, r.deps.DepTimeout)
			if err := r.deps.Registry.Bind(ctx, e.Player, r.code); err != nil {
				r.log.Error("session bind failed", zap.String("player", e.Player), zap.Error(err))
			}
			cancel()

		case battle.EffUnbind:
			r.unbind(e.Player)

		case battle.EffConfigReady:
			if err := r.requestStart(r.state.Host, r.state.Config); err != nil {
				r.log.Debug("auto start skipped", zap.Error(err))
			}

		case battle.EffAward:
			r.award(e.Round, *e.Result)

		case battle.EffClosed:
			r.closed = true
			r.log.Info("room closed", zap.String("reason", e.Reason))
		}
	}
}

func (r *Room) unbind(playerID string) {
	// the room context may already be cancelled by a shutdown
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), r.deps.DepTimeout)
	defer cancel()
	if err := r.deps.Registry.Unbind(ctx, playerID, r.code); err != nil {
		r.log.Error("session unbind failed", zap.String("player", playerID), zap.Error(err))
	}
}

// deliver never blocks the room. A client that cannot keep up is detached and has to
// rejoin.
func (r *Room) deliver(id string, ch chan<- types.ServerMessage, m types.ServerMessage) {
	select {
	case ch <- m:
	default:
		r.log.Warn("slow client dropped", zap.String("player", id), zap.String("event", m.Type))
		if cur, ok := r.conns[id]; ok && cur == ch {
			delete(r.conns, id)
		}
	}
}

// prune forgets connections of players who are neither members nor pending.
func (r *Room) prune() {
	for id := range r.conns {
		if r.state.IsMember(id) || (r.state.Pending != nil && r.state.Pending.ID == id) {
			continue
		}
		delete(r.conns, id)
	}
}

func (r *Room) armDeadline(at time.Time, round int) {
	r.cancelDeadline()
	gen := r.timerGen
	r.timer = time.AfterFunc(at.Sub(r.deps.Now()), func() {
		r.post(deadlineFired{gen: gen, round: round})
	})
}

func (r *Room) cancelDeadline() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.timerGen++
}

func (r *Room) startJudging(round int, jobs []battle.JudgeJob) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		verdicts := make(map[string]judge.Verdict, len(jobs))
		var mu sync.Mutex

		g, ctx := errgroup.WithContext(r.ctx)
		for _, job := range jobs {
			g.Go(func() error {
				v, err := r.deps.Judge.Evaluate(ctx, job.Request)
				if err != nil {
					return fmt.Errorf("player %s: %w", job.PlayerID, err)
				}
				mu.Lock()
				verdicts[job.PlayerID] = v
				mu.Unlock()
				return nil
			})
		}
		err := g.Wait()
		if err != nil {
			r.log.Warn("judging failed", zap.Int("round", round), zap.Error(err))
		}
		r.post(judged{round: round, verdicts: verdicts, failed: err != nil})
	}()
}

func (r *Room) award(round int, res battle.Result) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), r.deps.DepTimeout)
		defer cancel()
		if err := r.deps.Rewards.Award(ctx, r.code, round, res); err != nil {
			r.log.Error("xp award failed", zap.Int("round", round), zap.Error(err))
		}
	}()
}

func (r *Room) stop() {
	if r.timer != nil {
		r.timer.Stop()
	}
	r.cancel()
}

// Wait blocks until background work started by the room has finished.
func (r *Room) Wait() { r.wg.Wait() }
