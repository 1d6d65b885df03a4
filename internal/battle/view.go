package battle

import (
	"slices"

	"github.com/DoyleJ11/byte-battle-backend/internal/problem"
	"github.com/DoyleJ11/byte-battle-backend/pkg/types"
)

// Snapshot is the read-only view of s. Version is filled in by the owner of the state.
func (s State) Snapshot() types.RoomSnapshot {
	snap := types.RoomSnapshot{
		Code:       s.Code,
		State:      string(s.Phase),
		Round:      s.Round,
		Host:       s.player(s.Host),
		Language:   s.Config.Language,
		Difficulty: string(s.Config.Difficulty),
		Deadline:   s.Deadline,
		ChatLength: len(s.ChatLog),
	}
	if s.Guest != nil {
		g := s.player(*s.Guest)
		snap.Guest = &g
	}
	for id := range s.Submissions {
		snap.Submitted = append(snap.Submitted, id)
	}
	slices.Sort(snap.Submitted)
	return snap
}

func (s State) player(p Participant) types.Player {
	return types.Player{ID: p.ID, Name: p.Name, Online: !s.Disconnected[p.ID]}
}

func (s State) players() []types.Player {
	members := s.Members()
	out := make([]types.Player, 0, len(members))
	for _, m := range members {
		out = append(out, s.player(m))
	}
	return out
}

func (s State) wireResult(r Result) types.BattleResult {
	out := types.BattleResult{
		Winner:    r.Winner,
		Draw:      r.Draw,
		Reason:    r.Reason,
		Scores:    r.Scores,
		XPAwarded: r.XP,
	}
	if r.Winner != "" {
		out.WinnerName = s.Name(r.Winner)
	}
	return out
}

func wireProblem(p problem.Problem) types.Problem {
	return types.Problem{
		ID:            p.ID,
		Title:         p.Title,
		Description:   p.Description,
		InputFormat:   p.InputFormat,
		OutputFormat:  p.OutputFormat,
		ExampleInput:  p.ExampleInput,
		ExampleOutput: p.ExampleOutput,
	}
}
