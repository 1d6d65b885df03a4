package battle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/DoyleJ11/byte-battle-backend/internal/judge"
	"github.com/DoyleJ11/byte-battle-backend/internal/problem"
)

func TestDecide(t *testing.T) {
	early, late := t0, t0.Add(time.Second)
	both := func(hostAt, guestAt time.Time) map[string]Submission {
		return map[string]Submission{
			host.ID:  {Code: "h", At: hostAt},
			guest.ID: {Code: "g", At: guestAt},
		}
	}

	cases := []struct {
		name     string
		subs     map[string]Submission
		verdicts map[string]judge.Verdict
		failed   bool
		winner   string
		draw     bool
		reason   string
		xp       map[string]int
	}{
		{
			name:   "no submissions",
			subs:   map[string]Submission{},
			draw:   true,
			reason: "no submissions",
		},
		{
			name:     "single submission wins",
			subs:     map[string]Submission{guest.ID: {Code: "g", At: early}},
			verdicts: map[string]judge.Verdict{guest.ID: {Score: 30}},
			winner:   guest.ID,
			reason:   "opponent did not submit",
			xp:       map[string]int{guest.ID: 1000},
		},
		{
			name:   "single submission unjudged pays nothing",
			subs:   map[string]Submission{guest.ID: {Code: "g", At: early}},
			failed: true,
			winner: guest.ID,
			reason: "opponent did not submit (unjudged)",
		},
		{
			name:   "judge unavailable",
			subs:   both(early, late),
			failed: true,
			draw:   true,
			reason: "judging unavailable",
		},
		{
			name:     "higher score",
			subs:     both(early, late),
			verdicts: map[string]judge.Verdict{host.ID: {Score: 10}, guest.ID: {Score: 20}},
			winner:   guest.ID,
			reason:   "higher score",
			xp:       map[string]int{guest.ID: 1000},
		},
		{
			name:     "equal score goes to earlier submission",
			subs:     both(late, early),
			verdicts: map[string]judge.Verdict{host.ID: {Score: 50}, guest.ID: {Score: 50}},
			winner:   guest.ID,
			reason:   "faster submission on equal score",
			xp:       map[string]int{guest.ID: 1000},
		},
		{
			name:     "equal score and time",
			subs:     both(early, early),
			verdicts: map[string]judge.Verdict{host.ID: {Score: 50}, guest.ID: {Score: 50}},
			draw:     true,
			reason:   "equal score",
			xp:       map[string]int{host.ID: 500, guest.ID: 500},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := setup(t)
			s.Config.Difficulty = problem.Hard
			s.Submissions = tc.subs

			res := decide(s, tc.verdicts, tc.failed)
			assert.Equal(t, tc.winner, res.Winner)
			assert.Equal(t, tc.draw, res.Draw)
			assert.Equal(t, tc.reason, res.Reason)
			assert.Equal(t, tc.xp, res.XP)
		})
	}
}

func TestXPFor(t *testing.T) {
	assert.Equal(t, 100, XPFor(problem.Easy))
	assert.Equal(t, 500, XPFor(problem.Medium))
	assert.Equal(t, 1000, XPFor(problem.Hard))
	assert.Equal(t, 100, XPFor(""))
}
