package translate

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/minios-linux/renlokit/placeholder"
)

// Glossary forces preferred renderings of terms in translated text.
type Glossary struct {
	terms []glossaryTerm
	// WholeWord restricts matches to terms not embedded in a longer word.
	WholeWord bool
}

type glossaryTerm struct {
	from, to string
}

// NewGlossary builds a glossary from source term to replacement. Longer
// terms are tried first.
func NewGlossary(terms map[string]string, wholeWord bool) *Glossary {
	g := &Glossary{WholeWord: wholeWord}
	for from, to := range terms {
		if from == "" {
			continue
		}
		g.terms = append(g.terms, glossaryTerm{from: from, to: to})
	}
	sort.Slice(g.terms, func(i, j int) bool {
		a, b := g.terms[i].from, g.terms[j].from
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})
	return g
}

// Len returns the number of terms.
func (g *Glossary) Len() int {
	if g == nil {
		return 0
	}
	return len(g.terms)
}

// Apply substitutes glossary terms in text. Protected constructs are left
// alone and act as word boundaries.
func (g *Glossary) Apply(text string) string {
	if g.Len() == 0 || text == "" {
		return text
	}
	s, m := placeholder.Protect(text)

	var b strings.Builder
	for len(s) > 0 {
		at, tok := nextToken(s, m)
		if at < 0 {
			b.WriteString(g.replace(s))
			break
		}
		b.WriteString(g.replace(s[:at]))
		b.WriteString(tok)
		s = s[at+len(tok):]
	}
	return placeholder.Restore(b.String(), m)
}

// replace runs a single left-to-right pass, so a replacement is never
// rewritten by a shorter term.
func (g *Glossary) replace(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		matched := false
		for _, t := range g.terms {
			if !strings.HasPrefix(s[i:], t.from) {
				continue
			}
			if g.WholeWord && !wordBounded(s, i, i+len(t.from)) {
				continue
			}
			b.WriteString(t.to)
			i += len(t.from)
			matched = true
			break
		}
		if !matched {
			_, size := utf8.DecodeRuneInString(s[i:])
			b.WriteString(s[i : i+size])
			i += size
		}
	}
	return b.String()
}

func wordBounded(s string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(s) {
		r, _ := utf8.DecodeRuneInString(s[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
