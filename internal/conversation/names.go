package conversation

import (
	"regexp"
	"strings"
	"unicode"
)

// NameDetector extracts a display name from a message. An empty result means
// no name was found.
type NameDetector interface {
	DetectName(text string) string
}

// Introduction phrases in priority order. Longer phrases precede their
// prefixes ("sou o" before "sou") so the article is not taken as the name.
var introductions = []string{
	"meu nome é", "me chamo", "sou o", "sou a",
	"sou", "chamo-me", "aqui é o", "aqui é a",
	"aqui é", "quem fala é o", "quem fala é a", "quem fala é",
	"me apresento como", "me identifico como", "pode me chamar de",
	"pode me chamar", "o meu nome é", "o nome é", "me disseram que me chamo",
	"acredito que meu nome seja", "dizem que me chamo", "oi, sou o",
	"oi, sou a", "olá, sou", "me chamam de", "me chamam",
	"sou conhecida como", "sou conhecido como", "é o", "é a",
}

// Phrases common in ordinary questions ("qual é a receita?"); after these
// only a capitalized word counts as a name.
var ambiguous = map[string]bool{"é o": true, "é a": true}

// PatternDetector matches Portuguese self-introductions ("Sou a Maria", "me chamo João").
// The first phrase in priority order that occurs wins; within it the last
// occurrence is used, and the following word is the name.
type PatternDetector struct {
	patterns []pattern
}

type pattern struct {
	re           *regexp.Regexp
	needsCapital bool
}

func NewPatternDetector() *PatternDetector {
	d := &PatternDetector{patterns: make([]pattern, 0, len(introductions))}
	for _, p := range introductions {
		// Greedy prefix selects the last occurrence; the phrase must start a word.
		re := regexp.MustCompile(`(?is)^.*(?:^|[\s,.;:!?¡¿"'(])` + regexp.QuoteMeta(p) + `\s+(\S+)`)
		d.patterns = append(d.patterns, pattern{re: re, needsCapital: ambiguous[p]})
	}
	return d
}

func (d *PatternDetector) DetectName(text string) string {
	for _, p := range d.patterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		name := cleanName(m[1])
		if name == "" {
			continue
		}
		if p.needsCapital && !unicode.IsUpper([]rune(name)[0]) {
			continue
		}
		return name
	}
	return ""
}

// cleanName strips surrounding punctuation ("Maria," → "Maria").
func cleanName(w string) string {
	return strings.TrimFunc(w, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
