package translate

import (
	"context"
	"strings"

	"github.com/minios-linux/renlokit/placeholder"
)

// Pseudo-localization modes.
const (
	PseudoAccent = "accent"
	PseudoExpand = "expand"
	PseudoBoth   = "both"
)

var accents = map[rune]rune{
	'a': 'à', 'e': 'é', 'i': 'î', 'o': 'õ', 'u': 'ü', 'y': 'ý',
	'A': 'À', 'E': 'É', 'I': 'Î', 'O': 'Õ', 'U': 'Ü', 'Y': 'Ý',
}

// Pseudo rewrites text locally so that layout problems and untranslated
// strings are visible in game. It never calls a network service.
type Pseudo struct {
	Mode string
}

// NewPseudo returns a pseudo engine. Unknown modes behave as PseudoBoth.
func NewPseudo(mode string) *Pseudo {
	switch mode {
	case PseudoAccent, PseudoExpand:
	default:
		mode = PseudoBoth
	}
	return &Pseudo{Mode: mode}
}

func (p *Pseudo) Name() string { return EnginePseudo }

func (p *Pseudo) Translate(_ context.Context, texts []string, _, _ string) ([]string, error) {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = p.Transform(t)
	}
	return out, nil
}

// Transform applies the mode to text. Protected constructs pass through
// untouched; placeholder tokens carry no vowels, so tokenized input is safe
// too. The expansion opens with "[[", Ren'Py's escaped bracket.
func (p *Pseudo) Transform(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	s, m := placeholder.Protect(text)
	if p.Mode != PseudoExpand {
		s = accentOutside(s, m)
	}
	if p.Mode != PseudoAccent {
		s = "[[!!! " + s + " !!!]"
	}
	return placeholder.Restore(s, m)
}

// accentOutside accents letters that are not part of a placeholder token.
func accentOutside(s string, m placeholder.Map) string {
	var b strings.Builder
	for len(s) > 0 {
		at, tok := nextToken(s, m)
		if at < 0 {
			b.WriteString(accentRunes(s))
			break
		}
		b.WriteString(accentRunes(s[:at]))
		b.WriteString(tok)
		s = s[at+len(tok):]
	}
	return b.String()
}

func nextToken(s string, m placeholder.Map) (int, string) {
	best, tok := -1, ""
	for _, e := range m {
		if i := strings.Index(s, e.Token); i >= 0 && (best < 0 || i < best) {
			best, tok = i, e.Token
		}
	}
	return best, tok
}

func accentRunes(s string) string {
	return strings.Map(func(r rune) rune {
		if a, ok := accents[r]; ok {
			return a
		}
		return r
	}, s)
}
