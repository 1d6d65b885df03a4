package types

import "time"

// RoomSnapshot is the read-only view served by GET /rooms/{code}.
type RoomSnapshot struct {
	Code       string    `json:"code"`
	State      string    `json:"state"`
	Round      int       `json:"round"`
	Host       Player    `json:"host"`
	Guest      *Player   `json:"guest,omitempty"`
	Language   string    `json:"language,omitempty"`
	Difficulty string    `json:"difficulty,omitempty"`
	Deadline   time.Time `json:"deadline,omitzero"`
	Submitted  []string  `json:"submitted,omitempty"`
	ChatLength int       `json:"chat_length"`
	Version    int       `json:"version"`
}

type PlayerXP struct {
	PlayerID string `json:"player_id"`
	XP       int    `json:"xp"`
}
