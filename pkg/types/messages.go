package types

import "time"

// Client -> Server
const (
	EvtCreate        = "battle_create"
	EvtJoinRequest   = "battle_join_request"
	EvtJoinResponse  = "battle_join_response"
	EvtConfirmJoin   = "battle_confirm_join"
	EvtRejoinAttempt = "battle_rejoin_attempt"
	EvtHeartbeat     = "battle_heartbeat"
	EvtChatSend      = "battle_chat_send"
	EvtStart         = "battle_start"
	EvtSubmit        = "battle_submit"
	EvtRematchVote   = "battle_rematch_vote"
	EvtLeave         = "battle_leave"
)

// Server -> Client
const (
	EvtSession           = "battle_session"
	EvtCreated           = "battle_created"
	EvtJoinRequestNotify = "battle_join_request_notify"
	EvtJoinAccepted      = "join_accepted"
	EvtEntered           = "battle_entered"
	EvtRejoined          = "battle_rejoined"
	EvtChatMessage       = "battle_chat_message"
	EvtStarted           = "battle_started"
	EvtNotification      = "battle_notification"
	EvtStateChange       = "battle_state_change"
	EvtResult            = "battle_result"
	EvtRestart           = "battle_restart"
	EvtRematchDeclined   = "battle_rematch_declined"
	EvtOpponentStatus    = "battle_opponent_status"
	EvtClosed            = "battle_closed"
	EvtError             = "battle_error"
)

// ClientMessage is every inbound frame. Fields not used by an event are omitted.
type ClientMessage struct {
	Type       string `json:"type"`
	RoomCode   string `json:"room_code,omitempty"`
	Accepted   bool   `json:"accepted,omitempty"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
	Vote       string `json:"vote,omitempty"`
	Language   string `json:"language,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
	Duration   int    `json:"duration,omitempty"` // seconds
}

type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type Session struct {
	PlayerID string `json:"player_id"`
	// Seconds between battle_heartbeat frames.
	HeartbeatInterval int `json:"heartbeat_interval"`
}

type RoomEntered struct {
	RoomCode string   `json:"room_code"`
	PlayerID string   `json:"player_id,omitempty"`
	State    string   `json:"state,omitempty"`
	IsHost   bool     `json:"is_host"`
	Players  []Player `json:"players,omitempty"`
}

type Player struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

type JoinRequestNotify struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
}

type JoinAccepted struct {
	RoomCode string `json:"room_code"`
}

type ChatMessage struct {
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Type      string    `json:"type"` // "user" | "system"
	Timestamp time.Time `json:"timestamp"`
}

type Problem struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	InputFormat   string `json:"input_format"`
	OutputFormat  string `json:"output_format"`
	ExampleInput  string `json:"example_input,omitempty"`
	ExampleOutput string `json:"example_output,omitempty"`
}

type BattleStarted struct {
	Language   string    `json:"language"`
	Difficulty string    `json:"difficulty"`
	Problem    Problem   `json:"problem"`
	Duration   int       `json:"duration"` // seconds
	Deadline   time.Time `json:"deadline"`
}

type Notification struct {
	Message string `json:"message"`
}

type StateChange struct {
	State string `json:"state"`
}

type BattleResult struct {
	Winner     string             `json:"winner"` // player id, empty on a draw
	WinnerName string             `json:"winner_name,omitempty"`
	Draw       bool               `json:"draw"`
	Reason     string             `json:"reason"`
	Scores     map[string]float64 `json:"scores,omitempty"`
	XPAwarded  map[string]int     `json:"xp_awarded,omitempty"`
}

type OpponentStatus struct {
	PlayerID string `json:"player_id"`
	Online   bool   `json:"online"`
}

type Closed struct {
	Reason string `json:"reason"`
}

type Error struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}
