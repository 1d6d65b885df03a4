package battle

import (
	"github.com/DoyleJ11/byte-battle-backend/internal/judge"
	"github.com/DoyleJ11/byte-battle-backend/internal/problem"
)

// XP paid to the winner of a round. A judged draw pays half to each side.
var winXP = map[problem.Difficulty]int{
	problem.Easy:   100,
	problem.Medium: 500,
	problem.Hard:   1000,
}

func XPFor(d problem.Difficulty) int {
	if xp, ok := winXP[d]; ok {
		return xp
	}
	return winXP[problem.Easy]
}

// decide applies the winner policy to the round's submissions.
func decide(s State, verdicts map[string]judge.Verdict, failed bool) Result {
	var subs []Participant
	for _, m := range s.Members() {
		if _, ok := s.Submissions[m.ID]; ok {
			subs = append(subs, m)
		}
	}

	switch {
	case len(subs) == 0:
		return Result{Draw: true, Reason: "no submissions"}
	case len(subs) == 1 && failed:
		// An unjudged round never pays XP.
		return Result{Winner: subs[0].ID, Reason: "opponent did not submit (unjudged)"}
	case len(subs) == 1:
		res := Result{Winner: subs[0].ID, Reason: "opponent did not submit"}
		if v, ok := verdicts[subs[0].ID]; ok {
			res.Scores = map[string]float64{subs[0].ID: v.Score}
		}
		res.XP = map[string]int{subs[0].ID: XPFor(s.Config.Difficulty)}
		return res
	case failed:
		return Result{Draw: true, Reason: "judging unavailable"}
	}

	a, b := subs[0], subs[1]
	sa, sb := verdicts[a.ID].Score, verdicts[b.ID].Score
	res := Result{Scores: map[string]float64{a.ID: sa, b.ID: sb}}
	xp := XPFor(s.Config.Difficulty)

	switch {
	case sa > sb:
		res.Winner, res.Reason = a.ID, "higher score"
	case sb > sa:
		res.Winner, res.Reason = b.ID, "higher score"
	default:
		ta, tb := s.Submissions[a.ID].At, s.Submissions[b.ID].At
		switch {
		case ta.Before(tb):
			res.Winner, res.Reason = a.ID, "faster submission on equal score"
		case tb.Before(ta):
			res.Winner, res.Reason = b.ID, "faster submission on equal score"
		default:
			res.Draw, res.Reason = true, "equal score"
			res.XP = map[string]int{a.ID: xp / 2, b.ID: xp / 2}
			return res
		}
	}
	res.XP = map[string]int{res.Winner: xp}
	return res
}
