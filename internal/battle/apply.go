package battle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DoyleJ11/byte-battle-backend/internal/judge"
	"github.com/DoyleJ11/byte-battle-backend/internal/problem"
	"github.com/DoyleJ11/byte-battle-backend/pkg/types"
)

const (
	botName        = "ByteBot"
	maxChatMessage = 2000
)

// Apply runs one command against s. On error the returned state is s, untouched.
// Commands produced by timers (Deadline, Judged, Sweep) that no longer apply return no
// effects and no error.
func Apply(s State, cmd Command) ([]Effect, State, error) {
	if s.Phase == PhaseClosed || s.Phase == PhaseEntry || s.Phase == "" {
		switch cmd.Type {
		case CmdDeadline, CmdJudged, CmdSweep:
			return nil, s, nil
		}
		return nil, s, ErrRoomExpired
	}

	switch cmd.Type {
	case CmdJoinRequest:
		return joinRequest(s, cmd)
	case CmdJoinResponse:
		return joinResponse(s, cmd)
	case CmdConfirmJoin:
		return confirmJoin(s, cmd)
	case CmdRejoin:
		return rejoin(s, cmd)
	case CmdHeartbeat:
		return heartbeat(s, cmd)
	case CmdChat:
		return chat(s, cmd)
	case CmdStart:
		return start(s, cmd)
	case CmdSubmit:
		return submit(s, cmd)
	case CmdDeadline:
		return deadline(s, cmd)
	case CmdJudged:
		return judged(s, cmd)
	case CmdRematchVote:
		return rematchVote(s, cmd)
	case CmdLeave:
		return leave(s, cmd)
	case CmdSweep:
		return sweep(s, cmd)
	default:
		return nil, s, ErrUnsupported
	}
}

// CheckJoin reports whether a non-member may ask to join s. The caller claims the
// player's session binding between this check and applying the request.
func CheckJoin(s State, actorID string) error {
	switch {
	case s.Phase == PhaseClosed || s.Phase == PhaseEntry || s.Phase == "":
		return ErrRoomExpired
	case s.Guest != nil:
		return ErrRoomFull
	case s.Phase == PhaseJoinPending:
		return fmt.Errorf("%w: a join request is already pending", ErrInvalidState)
	case s.Phase != PhaseWaitingForGuest:
		return fmt.Errorf("%w: %s", ErrInvalidState, s.Phase)
	}
	return nil
}

func joinRequest(s State, cmd Command) ([]Effect, State, error) {
	if s.IsMember(cmd.Actor.ID) {
		return rejoin(s, cmd)
	}
	if err := CheckJoin(s, cmd.Actor.ID); err != nil {
		return nil, s, err
	}

	n := s.clone()
	pending := cmd.Actor
	n.Pending = &pending
	n.Phase = PhaseJoinPending

	return []Effect{
		send(n.Host.ID, types.EvtJoinRequestNotify, types.JoinRequestNotify{
			PlayerID:   pending.ID,
			PlayerName: pending.Name,
		}),
	}, n, nil
}

func joinResponse(s State, cmd Command) ([]Effect, State, error) {
	if !s.IsHost(cmd.Actor.ID) {
		return nil, s, ErrNotHost
	}
	if s.Phase != PhaseJoinPending || s.Pending == nil {
		return nil, s, fmt.Errorf("%w: no pending join request", ErrInvalidState)
	}

	n := s.clone()
	guest := *s.Pending
	n.Pending = nil
	n.Phase = PhaseWaitingForGuest

	if !cmd.Accepted {
		return []Effect{
			{Type: EffUnbind, Player: guest.ID},
			send(guest.ID, types.EvtError, ErrorMessage(ErrJoinRejected)),
		}, n, nil
	}
	if cmd.Taken != "" && cmd.Taken != n.Code {
		// The requester got into another room while waiting here.
		return []Effect{
			send(guest.ID, types.EvtError, ErrorMessage(fmt.Errorf("%w: %s", ErrAlreadyInRoom, cmd.Taken))),
			send(n.Host.ID, types.EvtNotification, types.Notification{
				Message: guest.Name + " is already in another room.",
			}),
		}, n, nil
	}

	n.Guest = &guest
	n.GuestConfirmed = false
	n.Phase = PhaseSetup
	n.LastSeen[guest.ID] = cmd.At
	delete(n.Disconnected, guest.ID)

	return []Effect{
		{Type: EffBind, Player: guest.ID},
		send(guest.ID, types.EvtJoinAccepted, types.JoinAccepted{RoomCode: n.Code}),
	}, n, nil
}

func confirmJoin(s State, cmd Command) ([]Effect, State, error) {
	if !s.IsMember(cmd.Actor.ID) {
		return nil, s, ErrNotInRoom
	}
	if s.IsHost(cmd.Actor.ID) || s.Phase != PhaseSetup || s.GuestConfirmed {
		return nil, s, fmt.Errorf("%w: nothing to confirm", ErrInvalidState)
	}

	n := s.clone()
	n.GuestConfirmed = true
	n.LastSeen[cmd.Actor.ID] = cmd.At

	effects := []Effect{
		send(n.Host.ID, types.EvtEntered, types.RoomEntered{RoomCode: n.Code, State: string(n.Phase), IsHost: true}),
		send(n.Guest.ID, types.EvtEntered, types.RoomEntered{RoomCode: n.Code, State: string(n.Phase), IsHost: false}),
	}
	effects = append(effects, n.say(cmd.At, fmt.Sprintf(
		"Welcome to Byte Battle ⚔️\nBoth players are connected.\n\nHost (%s), please select:\n• Difficulty: Easy / Medium / Hard\n• Language: %s",
		n.Host.Name, strings.Join(Languages(), " / "))))
	return effects, n, nil
}

func rejoin(s State, cmd Command) ([]Effect, State, error) {
	if s.Pending != nil && s.Pending.ID == cmd.Actor.ID {
		return []Effect{
			send(cmd.Actor.ID, types.EvtNotification, types.Notification{
				Message: "Your join request is still waiting for the host.",
			}),
		}, s, nil
	}
	if !s.IsMember(cmd.Actor.ID) {
		return nil, s, ErrNotInRoom
	}

	n := s.clone()
	effects := n.markSeen(cmd.Actor.ID, cmd.At)
	effects = append(effects, send(cmd.Actor.ID, types.EvtRejoined, types.RoomEntered{
		RoomCode: n.Code,
		PlayerID: cmd.Actor.ID,
		State:    string(n.Phase),
		IsHost:   n.IsHost(cmd.Actor.ID),
		Players:  n.players(),
	}))
	return effects, n, nil
}

func heartbeat(s State, cmd Command) ([]Effect, State, error) {
	if !s.IsMember(cmd.Actor.ID) {
		return nil, s, ErrNotInRoom
	}
	n := s.clone()
	return n.markSeen(cmd.Actor.ID, cmd.At), n, nil
}

func chat(s State, cmd Command) ([]Effect, State, error) {
	if !s.IsMember(cmd.Actor.ID) {
		return nil, s, ErrNotInRoom
	}
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		return nil, s, ErrEmptyMessage
	}
	if len(text) > maxChatMessage {
		text = text[:maxChatMessage]
	}

	n := s.clone()
	name := n.Name(cmd.Actor.ID)
	n.appendChat(ChatEntry{Sender: name, Message: text, Kind: "user", At: cmd.At})
	effects := []Effect{broadcast(types.EvtChatMessage, types.ChatMessage{
		Sender: name, Message: text, Type: "user", Timestamp: cmd.At,
	})}

	if n.Phase != PhaseSetup || !n.GuestConfirmed || !n.IsHost(cmd.Actor.ID) {
		return effects, n, nil
	}

	// Host chat doubles as setup input.
	d, lang := ScanSetup(text)
	changed := false
	if d != "" && d != n.Config.Difficulty {
		n.Config.Difficulty = d
		changed = true
	}
	if lang != "" && lang != n.Config.Language {
		n.Config.Language = lang
		changed = true
	}
	if changed && n.Config.Difficulty != "" && n.Config.Language != "" {
		effects = append(effects, n.say(cmd.At, fmt.Sprintf(
			"Configuration locked: %s | %s.\nGenerating problem...", n.Config.Difficulty, n.Config.Language)))
		effects = append(effects, Effect{Type: EffConfigReady})
	}
	return effects, n, nil
}

// CheckStart validates a start request without applying it, so the caller can fetch the
// problem before committing the transition.
func CheckStart(s State, actorID string, cfg RoundConfig) (RoundConfig, error) {
	if !s.IsMember(actorID) {
		return cfg, ErrNotInRoom
	}
	if !s.IsHost(actorID) {
		return cfg, ErrNotHost
	}
	if s.Phase != PhaseSetup || !s.GuestConfirmed {
		return cfg, fmt.Errorf("%w: room is not ready to start", ErrInvalidState)
	}

	lang, ok := ParseLanguage(cfg.Language)
	if !ok {
		return cfg, fmt.Errorf("%w: unsupported language %q", ErrInvalidConfig, cfg.Language)
	}
	cfg.Language = lang
	if cfg.Difficulty == "" {
		cfg.Difficulty = problem.Easy
	}
	if cfg.Duration == 0 {
		cfg.Duration = s.Rules.DefaultDuration
	}
	if cfg.Duration < s.Rules.MinDuration || cfg.Duration > s.Rules.MaxDuration {
		return cfg, fmt.Errorf("%w: duration %s outside [%s, %s]",
			ErrInvalidConfig, cfg.Duration, s.Rules.MinDuration, s.Rules.MaxDuration)
	}
	return cfg, nil
}

func start(s State, cmd Command) ([]Effect, State, error) {
	cfg, err := CheckStart(s, cmd.Actor.ID, cmd.Config)
	if err != nil {
		return nil, s, err
	}

	n := s.clone()
	p := cmd.Problem
	n.Round++
	n.Config = cfg
	n.Problem = &p
	n.Deadline = cmd.At.Add(cfg.Duration)
	n.Submissions = map[string]Submission{}
	n.RematchVotes = map[string]Vote{}
	n.Result = nil
	n.Phase = PhaseInProgress

	effects := []Effect{
		{Type: EffArmDeadline, At: n.Deadline, Round: n.Round},
		broadcast(types.EvtStarted, types.BattleStarted{
			Language:   cfg.Language,
			Difficulty: string(cfg.Difficulty),
			Problem:    wireProblem(p),
			Duration:   int(cfg.Duration / time.Second),
			Deadline:   n.Deadline,
		}),
	}
	effects = append(effects, n.say(cmd.At, "Here is your challenge.\nTimer has started."))
	return effects, n, nil
}

// Submissions are applied in arrival order. One that arrives before the deadline event is
// processed is accepted even if its timestamp is past the deadline.
func submit(s State, cmd Command) ([]Effect, State, error) {
	if !s.IsMember(cmd.Actor.ID) {
		return nil, s, ErrNotInRoom
	}
	if s.Phase == PhaseJudging {
		return nil, s, fmt.Errorf("%w: judging already started", ErrInvalidState)
	}
	if s.Phase != PhaseInProgress {
		return nil, s, fmt.Errorf("%w: no battle in progress", ErrInvalidState)
	}
	if strings.TrimSpace(cmd.Code) == "" {
		return nil, s, ErrEmptySubmission
	}

	n := s.clone()
	n.Submissions[cmd.Actor.ID] = Submission{Code: cmd.Code, At: cmd.At}

	notice := fmt.Sprintf("🔔 %s has submitted their solution.", n.Name(cmd.Actor.ID))
	effects := []Effect{broadcast(types.EvtNotification, types.Notification{Message: notice})}
	effects = append(effects, n.say(cmd.At, notice))

	if n.Guest != nil && len(n.Submissions) == 2 {
		more, n := beginJudging(n, cmd.At)
		return append(effects, more...), n, nil
	}
	return effects, n, nil
}

func deadline(s State, cmd Command) ([]Effect, State, error) {
	if s.Phase != PhaseInProgress || cmd.Round != s.Round {
		return nil, s, nil
	}
	n := s.clone()
	effects, n := beginJudging(n, cmd.At)
	return effects, n, nil
}

func beginJudging(n State, at time.Time) ([]Effect, State) {
	n.Phase = PhaseJudging
	effects := []Effect{
		{Type: EffCancelDeadline},
		broadcast(types.EvtStateChange, types.StateChange{State: string(PhaseJudging)}),
	}

	if len(n.Submissions) == 0 {
		more, n := finish(n, decide(n, nil, false), at)
		return append(effects, more...), n
	}

	jobs := make([]JudgeJob, 0, len(n.Submissions))
	for _, m := range n.Members() {
		sub, ok := n.Submissions[m.ID]
		if !ok {
			continue
		}
		req := judge.Request{Code: sub.Code, Language: n.Config.Language}
		if n.Problem != nil {
			req.ProblemID = n.Problem.ID
		}
		jobs = append(jobs, JudgeJob{PlayerID: m.ID, Request: req})
	}
	return append(effects, Effect{Type: EffJudge, Round: n.Round, Jobs: jobs}), n
}

func judged(s State, cmd Command) ([]Effect, State, error) {
	if s.Phase != PhaseJudging || cmd.Round != s.Round {
		return nil, s, nil
	}
	n := s.clone()
	effects, n := finish(n, decide(n, cmd.Verdicts, cmd.Failed), cmd.At)
	return effects, n, nil
}

func finish(n State, res Result, at time.Time) ([]Effect, State) {
	n.Result = &res
	n.Phase = PhaseResult
	n.Submissions = map[string]Submission{}
	n.RematchVotes = map[string]Vote{}
	for _, m := range n.Members() {
		n.RematchVotes[m.ID] = VotePending
	}

	effects := []Effect{broadcast(types.EvtResult, n.wireResult(res))}
	if len(res.XP) > 0 {
		effects = append(effects, Effect{Type: EffAward, Result: &res, Round: n.Round})
	}
	effects = append(effects, n.say(at, "Do you want another round? (yes / no)"))
	return effects, n
}

func rematchVote(s State, cmd Command) ([]Effect, State, error) {
	if !s.IsMember(cmd.Actor.ID) {
		return nil, s, ErrNotInRoom
	}
	if s.Phase != PhaseResult && s.Phase != PhaseRematchVote {
		return nil, s, fmt.Errorf("%w: no rematch vote open", ErrInvalidState)
	}
	vote := Vote(strings.ToLower(strings.TrimSpace(string(cmd.Vote))))
	if vote != VoteYes && vote != VoteNo {
		return nil, s, ErrInvalidVote
	}

	n := s.clone()
	name := n.Name(cmd.Actor.ID)
	n.RematchVotes[cmd.Actor.ID] = vote
	effects := []Effect{n.say(cmd.At, fmt.Sprintf("%s voted: %s", name, strings.ToUpper(string(vote))))}

	if vote == VoteNo {
		effects = append(effects, n.say(cmd.At, fmt.Sprintf(
			"%s declined rematch. Battle concluded. Thanks for playing! 👋", name)))
		effects = append(effects, broadcast(types.EvtRematchDeclined, nil))
		more, n := closeRoom(n, name+" declined rematch")
		return append(effects, more...), n, nil
	}

	n.Phase = PhaseRematchVote
	for _, m := range n.Members() {
		if n.RematchVotes[m.ID] != VoteYes {
			effects = append(effects, n.say(cmd.At, fmt.Sprintf(
				"%s wants a rematch! Waiting for opponent's response...", name)))
			return effects, n, nil
		}
	}

	n.Phase = PhaseSetup
	n.Problem = nil
	n.Config = RoundConfig{}
	n.Deadline = time.Time{}
	n.Result = nil
	n.Submissions = map[string]Submission{}
	n.RematchVotes = map[string]Vote{}

	effects = append(effects, broadcast(types.EvtRestart, nil))
	effects = append(effects, n.say(cmd.At,
		"Rematch accepted! 🔥 Host, please choose settings again (Easy/Medium/Hard and a language)."))
	return effects, n, nil
}

func leave(s State, cmd Command) ([]Effect, State, error) {
	id := cmd.Actor.ID

	if s.Pending != nil && s.Pending.ID == id {
		n := s.clone()
		n.Pending = nil
		n.Phase = PhaseWaitingForGuest
		return []Effect{
			{Type: EffUnbind, Player: id},
			send(n.Host.ID, types.EvtNotification, types.Notification{
				Message: s.Pending.Name + " withdrew their join request.",
			}),
		}, n, nil
	}
	if !s.IsMember(id) {
		return nil, s, ErrNotInRoom
	}

	if !s.IsHost(id) && !s.GuestConfirmed {
		n := s.clone()
		n.Guest = nil
		n.Phase = PhaseWaitingForGuest
		delete(n.LastSeen, id)
		delete(n.Disconnected, id)
		return []Effect{
			{Type: EffUnbind, Player: id},
			send(n.Host.ID, types.EvtNotification, types.Notification{
				Message: s.Name(id) + " left before confirming.",
			}),
		}, n, nil
	}

	n := s.clone()
	reason := n.Name(id) + " left the battle"
	var effects []Effect
	if opp, ok := n.Opponent(id); ok {
		effects = append(effects, send(opp.ID, types.EvtClosed, types.Closed{Reason: reason}))
	}
	more, n := closeRoom(n, reason)
	return append(effects, more...), n, nil
}

// sweep is the liveness check injected by the monitor.
func sweep(s State, cmd Command) ([]Effect, State, error) {
	n := s.clone()
	var (
		effects []Effect
		stale   int
		expired []Participant
	)
	members := n.Members()

	for _, m := range members {
		age := cmd.At.Sub(n.LastSeen[m.ID])
		if age <= n.Rules.HeartbeatTimeout {
			continue
		}
		stale++
		if !n.Disconnected[m.ID] {
			n.Disconnected[m.ID] = true
			if opp, ok := n.Opponent(m.ID); ok {
				effects = append(effects, send(opp.ID, types.EvtOpponentStatus, types.OpponentStatus{
					PlayerID: m.ID, Online: false,
				}))
			}
		}
		if age > n.Rules.GraceWindow {
			expired = append(expired, m)
		}
	}

	if stale == len(members) {
		more, n := closeRoom(n, "idle timeout")
		return append(effects, more...), n, nil
	}

	if len(expired) > 0 {
		gone := expired[0]
		opp, _ := n.Opponent(gone.ID)
		if n.Phase == PhaseInProgress || n.Phase == PhaseJudging {
			res := Result{Winner: opp.ID, Reason: "opponent disconnected"}
			effects = append(effects, broadcast(types.EvtResult, n.wireResult(res)))
			n.Result = &res
		}
		effects = append(effects, send(opp.ID, types.EvtClosed, types.Closed{Reason: gone.Name + " disconnected"}))
		more, n := closeRoom(n, gone.Name+" disconnected")
		return append(effects, more...), n, nil
	}

	return effects, n, nil
}

func closeRoom(n State, reason string) ([]Effect, State) {
	n.Phase = PhaseClosed
	n.Submissions = map[string]Submission{}
	effects := []Effect{{Type: EffCancelDeadline}}
	for _, m := range n.Members() {
		effects = append(effects, Effect{Type: EffUnbind, Player: m.ID})
	}
	if n.Pending != nil {
		effects = append(effects, Effect{Type: EffUnbind, Player: n.Pending.ID})
		n.Pending = nil
	}
	return append(effects, Effect{Type: EffClosed, Reason: reason}), n
}

func (n *State) markSeen(id string, at time.Time) []Effect {
	n.LastSeen[id] = at
	if !n.Disconnected[id] {
		return nil
	}
	delete(n.Disconnected, id)
	if opp, ok := n.Opponent(id); ok {
		return []Effect{send(opp.ID, types.EvtOpponentStatus, types.OpponentStatus{PlayerID: id, Online: true})}
	}
	return nil
}

func (n *State) appendChat(e ChatEntry) {
	n.ChatLog = append(n.ChatLog, e)
	if limit := n.Rules.ChatLimit; limit > 0 && len(n.ChatLog) > limit {
		n.ChatLog = n.ChatLog[len(n.ChatLog)-limit:]
	}
}

// say appends a system message to the chat log and returns its broadcast.
func (n *State) say(at time.Time, text string) Effect {
	n.appendChat(ChatEntry{Sender: botName, Message: text, Kind: "system", At: at})
	return broadcast(types.EvtChatMessage, types.ChatMessage{
		Sender: botName, Message: text, Type: "system", Timestamp: at,
	})
}

func send(to, event string, data any) Effect {
	return Effect{Type: EffSend, To: to, Msg: types.ServerMessage{Type: event, Data: data}}
}

func broadcast(event string, data any) Effect {
	return Effect{Type: EffBroadcast, Msg: types.ServerMessage{Type: event, Data: data}}
}

// Clients drop their cached room when a not_found message contains "Invalid room",
// "expired" or "not in this room", so these keep that wording.
var wireText = []struct {
	err  error
	text string
}{
	{ErrRoomNotFound, "Invalid room code."},
	{ErrRoomExpired, "Room invalid or expired."},
	{ErrNotInRoom, "You are not in this room."},
}

func ErrorMessage(err error) types.Error {
	msg := err.Error()
	for _, w := range wireText {
		if errors.Is(err, w.err) {
			msg = w.text
			break
		}
	}
	return types.Error{Message: msg, Kind: string(KindOf(err))}
}
