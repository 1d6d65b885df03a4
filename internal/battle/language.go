package battle

import (
	"strings"

	"github.com/DoyleJ11/byte-battle-backend/internal/problem"
)

var languages = []struct {
	name    string
	aliases []string
}{
	{"Python", []string{"python", "py"}},
	{"JavaScript", []string{"javascript", "js"}},
	{"Java", []string{"java"}},
	{"C++", []string{"c++", "cpp"}},
	{"C", []string{"c"}},
	{"Go", []string{"go", "golang"}},
}

// Languages lists the supported language names in display order.
func Languages() []string {
	out := make([]string, len(languages))
	for i, l := range languages {
		out[i] = l.name
	}
	return out
}

func ParseLanguage(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, l := range languages {
		for _, a := range l.aliases {
			if s == a {
				return l.name, true
			}
		}
	}
	return "", false
}

// ScanSetup picks a difficulty and a language out of free-form chat. Matching is per
// word so "c" only matches a standalone token, and a bare "go" is read as English.
// Either result may be empty.
func ScanSetup(text string) (problem.Difficulty, string) {
	var (
		d    problem.Difficulty
		lang string
	)
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '+')
	})
	for _, f := range fields {
		if d == "" {
			if v, ok := problem.ParseDifficulty(f); ok {
				d = v
				continue
			}
		}
		if lang == "" && f != "go" {
			if v, ok := ParseLanguage(f); ok {
				lang = v
			}
		}
	}
	return d, lang
}
