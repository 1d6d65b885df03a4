package battle

import (
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/DoyleJ11/byte-battle-backend/internal/judge"
	"github.com/DoyleJ11/byte-battle-backend/internal/problem"
	"github.com/DoyleJ11/byte-battle-backend/pkg/types"
)

var (
	ErrRoomNotFound    = errors.New("invalid room code")
	ErrRoomExpired     = errors.New("room invalid or expired")
	ErrRoomFull        = errors.New("room is full")
	ErrNotInRoom       = errors.New("you are not in this room")
	ErrNotHost         = errors.New("only the host can do that")
	ErrAlreadyInRoom   = errors.New("already in a room")
	ErrJoinRejected    = errors.New("host rejected your request")
	ErrInvalidState    = errors.New("action not allowed in current state")
	ErrInvalidConfig   = errors.New("invalid round configuration")
	ErrInvalidVote     = errors.New("vote must be yes or no")
	ErrEmptyMessage    = errors.New("message cannot be empty")
	ErrEmptySubmission = errors.New("submission cannot be empty")
	ErrUnsupported     = errors.New("unsupported command")
)

type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindUnauthorized      Kind = "unauthorized"
	KindRejected          Kind = "rejected"
	KindProtocolViolation Kind = "protocol_violation"
)

// KindOf classifies an error for the battle_error channel.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrRoomExpired), errors.Is(err, ErrNotInRoom):
		return KindNotFound
	case errors.Is(err, ErrNotHost):
		return KindUnauthorized
	case errors.Is(err, ErrJoinRejected):
		return KindRejected
	default:
		return KindProtocolViolation
	}
}

type Phase string

const (
	PhaseEntry           Phase = "entry"
	PhaseWaitingForGuest Phase = "waiting_for_guest"
	PhaseJoinPending     Phase = "join_pending"
	PhaseSetup           Phase = "setup"
	PhaseInProgress      Phase = "battle_in_progress"
	PhaseJudging         Phase = "judging"
	PhaseResult          Phase = "result"
	PhaseRematchVote     Phase = "rematch_vote"
	PhaseClosed          Phase = "closed"
)

type Participant struct {
	ID   string
	Name string
}

type Vote string

const (
	VotePending Vote = "pending"
	VoteYes     Vote = "yes"
	VoteNo      Vote = "no"
)

type Submission struct {
	Code string
	At   time.Time
}

type RoundConfig struct {
	Language   string
	Difficulty problem.Difficulty
	Duration   time.Duration
}

type Rules struct {
	DefaultDuration  time.Duration
	MinDuration      time.Duration
	MaxDuration      time.Duration
	HeartbeatTimeout time.Duration
	GraceWindow      time.Duration
	ChatLimit        int
}

func DefaultRules() Rules {
	return Rules{
		DefaultDuration:  10 * time.Minute,
		MinDuration:      30 * time.Second,
		MaxDuration:      time.Hour,
		HeartbeatTimeout: 30 * time.Second,
		GraceWindow:      2 * time.Minute,
		ChatLimit:        100,
	}
}

type ChatEntry struct {
	Sender  string
	Message string
	Kind    string // "user" | "system"
	At      time.Time
}

type Result struct {
	Winner string
	Draw   bool
	Reason string
	Scores map[string]float64
	XP     map[string]int
}

// State is one room. The zero value is the ENTRY phase (no room).
type State struct {
	Code           string
	Phase          Phase
	Host           Participant
	Guest          *Participant
	GuestConfirmed bool
	Pending        *Participant

	Round        int
	Config       RoundConfig
	Problem      *problem.Problem
	Deadline     time.Time
	Submissions  map[string]Submission
	RematchVotes map[string]Vote
	Result       *Result

	LastSeen     map[string]time.Time
	Disconnected map[string]bool
	ChatLog      []ChatEntry
	Rules        Rules
}

type CommandType string

const (
	CmdJoinRequest  CommandType = "JoinRequest"
	CmdJoinResponse CommandType = "JoinResponse"
	CmdConfirmJoin  CommandType = "ConfirmJoin"
	CmdRejoin       CommandType = "Rejoin"
	CmdHeartbeat    CommandType = "Heartbeat"
	CmdChat         CommandType = "Chat"
	CmdStart        CommandType = "Start"
	CmdSubmit       CommandType = "Submit"
	CmdDeadline     CommandType = "Deadline"
	CmdJudged       CommandType = "Judged"
	CmdRematchVote  CommandType = "RematchVote"
	CmdLeave        CommandType = "Leave"
	CmdSweep        CommandType = "Sweep"
)

type Command struct {
	Type     CommandType
	Actor    Participant
	Accepted bool
	// Taken is the room a pending requester is bound to elsewhere, checked on accept.
	Taken    string
	Text     string
	Code     string
	Vote     Vote
	Config   RoundConfig
	Problem  problem.Problem
	Round    int
	Verdicts map[string]judge.Verdict
	Failed   bool
	At       time.Time
}

/*
	JoinRequest  -> Send(host, join_request_notify)          (binding claimed by the caller)
	JoinResponse -> Bind(guest) + Send(guest, join_accepted) | Unbind(guest) + Send(guest, battle_error)
	ConfirmJoin  -> Send(each, battle_entered)
	Start        -> ArmDeadline + Broadcast(battle_started)
	Submit       -> Broadcast(notification) [-> CancelDeadline + Judge]
	Deadline     -> CancelDeadline + Judge | Broadcast(battle_result)
	Judged       -> Broadcast(battle_result) + Award
	RematchVote  -> Broadcast(battle_restart) | Broadcast(battle_rematch_declined) + Unbind + Closed
	Sweep/Leave  -> Send(opponent, status/closed) [+ Unbind + Closed]
*/

type EffectType string

const (
	EffSend           EffectType = "Send"
	EffBroadcast      EffectType = "Broadcast"
	EffArmDeadline    EffectType = "ArmDeadline"
	EffCancelDeadline EffectType = "CancelDeadline"
	EffJudge          EffectType = "Judge"
	EffBind           EffectType = "Bind"
	EffUnbind         EffectType = "Unbind"
	EffConfigReady    EffectType = "ConfigReady"
	EffAward          EffectType = "Award"
	EffClosed         EffectType = "Closed"
)

type JudgeJob struct {
	PlayerID string
	Request  judge.Request
}

type Effect struct {
	Type   EffectType
	To     string
	Msg    types.ServerMessage
	At     time.Time
	Round  int
	Jobs   []JudgeJob
	Player string
	Result *Result
	Reason string
}

// New opens a room in WAITING_FOR_GUEST with host as its fixed host.
func New(code string, host Participant, rules Rules, at time.Time) ([]Effect, State) {
	s := State{
		Code:         code,
		Phase:        PhaseWaitingForGuest,
		Host:         host,
		Submissions:  map[string]Submission{},
		RematchVotes: map[string]Vote{},
		LastSeen:     map[string]time.Time{host.ID: at},
		Disconnected: map[string]bool{},
		Rules:        rules,
	}
	effects := []Effect{
		{Type: EffBind, Player: host.ID},
		send(host.ID, types.EvtCreated, types.RoomEntered{
			RoomCode: code,
			PlayerID: host.ID,
			State:    string(s.Phase),
			IsHost:   true,
		}),
	}
	return effects, s
}

func (s State) IsMember(id string) bool {
	return id != "" && (s.Host.ID == id || (s.Guest != nil && s.Guest.ID == id))
}

func (s State) IsHost(id string) bool { return s.Host.ID == id }

func (s State) Members() []Participant {
	if s.Guest == nil {
		return []Participant{s.Host}
	}
	return []Participant{s.Host, *s.Guest}
}

// Opponent returns the other member, if any.
func (s State) Opponent(id string) (Participant, bool) {
	switch {
	case s.Guest == nil:
		return Participant{}, false
	case s.Host.ID == id:
		return *s.Guest, true
	case s.Guest.ID == id:
		return s.Host, true
	}
	return Participant{}, false
}

func (s State) Name(id string) string {
	for _, m := range s.Members() {
		if m.ID == id {
			return m.Name
		}
	}
	if s.Pending != nil && s.Pending.ID == id {
		return s.Pending.Name
	}
	return id
}

func (s State) clone() State {
	n := s
	n.Submissions = maps.Clone(s.Submissions)
	n.RematchVotes = maps.Clone(s.RematchVotes)
	n.LastSeen = maps.Clone(s.LastSeen)
	n.Disconnected = maps.Clone(s.Disconnected)
	n.ChatLog = slices.Clone(s.ChatLog)
	if n.Submissions == nil {
		n.Submissions = map[string]Submission{}
	}
	if n.RematchVotes == nil {
		n.RematchVotes = map[string]Vote{}
	}
	if n.LastSeen == nil {
		n.LastSeen = map[string]time.Time{}
	}
	if n.Disconnected == nil {
		n.Disconnected = map[string]bool{}
	}
	return n
}
