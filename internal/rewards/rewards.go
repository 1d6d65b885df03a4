// Package rewards records the XP a round result pays out.
package rewards

import (
	"context"
	"sync"

	"gorm.io/gorm"

	"github.com/DoyleJ11/byte-battle-backend/internal/battle"
)

const (
	SourceWin  = "battle_win"
	SourceDraw = "battle_draw"
)

type XPAward struct {
	gorm.Model
	PlayerID string `gorm:"index;not null"`
	RoomCode string `gorm:"size:8;not null"`
	Round    int
	Source   string `gorm:"size:32;not null"`
	Amount   int    `gorm:"not null"`
}

type Store interface {
	Award(ctx context.Context, code string, round int, res battle.Result) error
	// Total is the XP a player has earned across all rounds.
	Total(ctx context.Context, playerID string) (int, error)
}

// awardsFor expands a result into one ledger row per paid participant.
func awardsFor(code string, round int, res battle.Result) []XPAward {
	source := SourceWin
	if res.Draw {
		source = SourceDraw
	}
	out := make([]XPAward, 0, len(res.XP))
	for id, amount := range res.XP {
		if amount <= 0 {
			continue
		}
		out = append(out, XPAward{PlayerID: id, RoomCode: code, Round: round, Source: source, Amount: amount})
	}
	return out
}

// Memory is the ledger used when no database is configured.
type Memory struct {
	mu     sync.Mutex
	awards []XPAward
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Award(_ context.Context, code string, round int, res battle.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.awards = append(m.awards, awardsFor(code, round, res)...)
	return nil
}

func (m *Memory) Total(_ context.Context, playerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, a := range m.awards {
		if a.PlayerID == playerID {
			total += a.Amount
		}
	}
	return total, nil
}
