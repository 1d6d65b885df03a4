package problem

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
)

type Difficulty string

const (
	Easy   Difficulty = "Easy"
	Medium Difficulty = "Medium"
	Hard   Difficulty = "Hard"
)

var ErrNoProblem = errors.New("no problem for difficulty")

type Problem struct {
	ID            string
	Title         string
	Description   string
	InputFormat   string
	OutputFormat  string
	ExampleInput  string
	ExampleOutput string
	Difficulty    Difficulty
}

// Source selects the problem for a round. Implementations may be remote and slow.
type Source interface {
	Pick(ctx context.Context, d Difficulty, language string) (Problem, error)
}

// Fallback is served whenever a Source cannot produce a problem.
var Fallback = Problem{
	ID:            "palindrome-check",
	Title:         "Palindrome Check",
	Description:   "Write a program to check if a string is a palindrome.",
	InputFormat:   "A single string S.",
	OutputFormat:  "Print 'YES' if palindrome, else 'NO'.",
	ExampleInput:  "racecar",
	ExampleOutput: "YES",
	Difficulty:    Easy,
}

func ParseDifficulty(s string) (Difficulty, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy":
		return Easy, true
	case "medium":
		return Medium, true
	case "hard":
		return Hard, true
	default:
		return "", false
	}
}

// Catalog is an in-memory Source backed by a fixed problem list.
type Catalog struct {
	mu       sync.Mutex
	problems map[Difficulty][]Problem
	rng      *rand.Rand
}

func NewCatalog(problems []Problem, seed uint64) *Catalog {
	c := &Catalog{
		problems: make(map[Difficulty][]Problem),
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	for _, p := range problems {
		c.problems[p.Difficulty] = append(c.problems[p.Difficulty], p)
	}
	return c
}

func (c *Catalog) Pick(ctx context.Context, d Difficulty, _ string) (Problem, error) {
	if err := ctx.Err(); err != nil {
		return Problem{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.problems[d]
	if len(list) == 0 {
		return Problem{}, ErrNoProblem
	}
	return list[c.rng.IntN(len(list))], nil
}

// PickOrFallback never fails: any Source error yields Fallback.
func PickOrFallback(ctx context.Context, src Source, d Difficulty, language string) (Problem, error) {
	p, err := src.Pick(ctx, d, language)
	if err != nil {
		return Fallback, err
	}
	return p, nil
}
