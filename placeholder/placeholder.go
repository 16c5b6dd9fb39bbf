// Package placeholder shields Ren'Py text markup from machine translation.
//
// Protect replaces every construct that must survive translation unchanged
// (disambiguation markers, [interpolations], {text tags}, template braces and
// printf specifiers) with short alphanumeric tokens. Restore puts the
// original fragments back, tolerating the ways translators mangle tokens:
// changed case, inserted spaces, and partially rewritten prefixes.
//
//	protected, m := placeholder.Protect(`Hello [player], {b}welcome{/b}!`)
//	// protected == "Hello ZQV0, ZQT1welcomeZQT2!"
//	restored := placeholder.Restore(translated, m)
package placeholder

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Kind identifies which class of construct a token stands for.
type Kind byte

const (
	KindDisambiguation Kind = 'D' // {#id}
	KindInterpolation  Kind = 'V' // [name], [obj.attr!t], [a[0]]
	KindTag            Kind = 'T' // {b}, {/b}, {color=#fff}
	KindBrace          Kind = 'B' // {}, {0}, {{, }}
	KindFormat         Kind = 'F' // %s, %(name)d, %%
)

func (k Kind) String() string {
	switch k {
	case KindDisambiguation:
		return "disambiguation"
	case KindInterpolation:
		return "interpolation"
	case KindTag:
		return "tag"
	case KindBrace:
		return "brace"
	case KindFormat:
		return "format"
	}
	return "unknown"
}

// Entry maps one token to the fragment it replaced. Original may itself
// contain tokens of earlier entries when constructs were nested.
type Entry struct {
	Token    string
	Original string
	Kind     Kind
}

// Map is the insertion-ordered restore map produced by Protect.
type Map []Entry

// Lookup returns the original fragment for token.
func (m Map) Lookup(token string) (string, bool) {
	for _, e := range m {
		if e.Token == token {
			return e.Original, true
		}
	}
	return "", false
}

// Expanded returns each entry's fragment with nested tokens resolved, in
// insertion order.
func (m Map) Expanded() []string {
	out := make([]string, len(m))
	for i, e := range m {
		s := e.Original
		for j := i - 1; j >= 0; j-- {
			s = strings.Replace(s, m[j].Token, out[j], 1)
		}
		out[i] = s
	}
	return out
}

// ---------------------------------------------------------------------------
// Protect
// ---------------------------------------------------------------------------

// nonces are two-letter token prefixes, chosen to be rare in natural text
// in every language renlokit targets.
var nonces = []string{"ZQ", "QZ", "XJ", "JX", "QX", "XQ", "ZX", "VQ", "QV", "JQ", "WX", "KQ"}

var formatPattern = regexp.MustCompile(`%%|%\([^)\s]+\)[-#0+]*\d*(?:\.\d+)?[sdifrxXeEgGc]|%[-#0+]*\d*(?:\.\d+)?[sdifrxX]`)

var tagBody = regexp.MustCompile(`^/?[A-Za-z_][A-Za-z0-9_]*(?:=[^{}]*)?$`)

type protector struct {
	nonce string
	width int
	m     Map
}

// token allocates the next token. Indices are zero-padded to a fixed width
// so no token is a prefix of another and a digit following a token in the
// text can never be mistaken for part of it.
func (p *protector) token(kind Kind, original string) string {
	idx := strconv.Itoa(len(p.m))
	if pad := p.width - len(idx); pad > 0 {
		idx = strings.Repeat("0", pad) + idx
	}
	tok := p.nonce + string(kind) + idx
	p.m = append(p.m, Entry{Token: tok, Original: original, Kind: kind})
	return tok
}

// Protect replaces protected constructs in text with tokens. Text without
// any construct is returned unchanged with a nil map.
func Protect(text string) (string, Map) {
	if !strings.ContainsAny(text, "[{}%") {
		return text, nil
	}
	// Each construct consumes at least one of these bytes.
	bound := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '[', '{', '}', '%':
			bound++
		}
	}
	p := &protector{nonce: pickNonce(text), width: len(strconv.Itoa(bound))}

	s := p.disambiguation(text)
	s = p.interpolations(s)
	s = p.tags(s)
	s = p.braces(s)
	s = formatPattern.ReplaceAllStringFunc(s, func(spec string) string {
		return p.token(KindFormat, spec)
	})

	if len(p.m) == 0 {
		return text, nil
	}
	return s, p.m
}

func pickNonce(text string) string {
	upper := strings.ToUpper(text)
	for _, n := range nonces {
		if !strings.Contains(upper, n) {
			return n
		}
	}
	// Every candidate occurs; fall back to a prefix built from unused letters.
	for a := 'Z'; a >= 'A'; a-- {
		for b := 'Z'; b >= 'A'; b-- {
			n := string([]rune{a, b})
			if !strings.Contains(upper, n) {
				return n
			}
		}
	}
	return "ZQ"
}

func (p *protector) disambiguation(s string) string {
	var b strings.Builder
	for {
		i := strings.Index(s, "{#")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.IndexAny(s[i+2:], "{}")
		if end < 0 || s[i+2+end] != '}' {
			b.WriteString(s[:i+2])
			s = s[i+2:]
			continue
		}
		b.WriteString(s[:i])
		b.WriteString(p.token(KindDisambiguation, s[i:i+2+end+1]))
		s = s[i+2+end+1:]
	}
}

// interpolations protects balanced [...] spans. "[[" is Ren'Py's escape for
// a literal bracket and is left alone.
func (p *protector) interpolations(s string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		c := s[i]
		if c != '[' {
			b.WriteByte(c)
			i++
			continue
		}
		if i+1 < len(s) && s[i+1] == '[' {
			b.WriteString("[[")
			i += 2
			continue
		}
		end := matchBracket(s, i)
		if end < 0 || end == i+1 {
			b.WriteByte(c)
			i++
			continue
		}
		b.WriteString(p.token(KindInterpolation, s[i:end+1]))
		i = end + 1
	}
	return b.String()
}

func matchBracket(s string, start int) int {
	depth := 0
	for j := start; j < len(s); j++ {
		switch s[j] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return j
			}
		case '\n':
			return -1
		}
	}
	return -1
}

func (p *protector) tags(s string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		c := s[i]
		if c != '{' {
			b.WriteByte(c)
			i++
			continue
		}
		if i+1 < len(s) && s[i+1] == '{' {
			b.WriteString("{{")
			i += 2
			continue
		}
		end := strings.IndexAny(s[i+1:], "{}")
		if end < 0 || s[i+1+end] != '}' {
			b.WriteByte(c)
			i++
			continue
		}
		body := s[i+1 : i+1+end]
		if !tagBody.MatchString(body) {
			b.WriteByte(c)
			i++
			continue
		}
		b.WriteString(p.token(KindTag, s[i:i+1+end+1]))
		i += end + 2
	}
	return b.String()
}

// braces protects template braces the tag pass did not claim: "{{", "}}",
// "{}" and format fields such as "{0}" or "{0:.2f}".
func (p *protector) braces(s string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '{' && i+1 < len(s) && s[i+1] == '{':
			b.WriteString(p.token(KindBrace, "{{"))
			i += 2
		case c == '}' && i+1 < len(s) && s[i+1] == '}':
			b.WriteString(p.token(KindBrace, "}}"))
			i += 2
		case c == '{':
			end := strings.IndexAny(s[i+1:], "{} \n")
			if end >= 0 && s[i+1+end] == '}' {
				b.WriteString(p.token(KindBrace, s[i:i+1+end+1]))
				i += end + 2
				continue
			}
			b.WriteByte(c)
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Restore
// ---------------------------------------------------------------------------

// Restore puts the original fragments back into text. Tokens are resolved
// newest first so that fragments containing earlier tokens expand fully.
func Restore(text string, m Map) string {
	if len(m) == 0 {
		return text
	}
	done := make([]bool, len(m))
	s := text
	for i := len(m) - 1; i >= 0; i-- {
		s, done[i] = restoreOne(s, m[i])
	}

	if pending(done) {
		s = sweep(s, m, done)
		// Fragments restored by the sweep may carry nested tokens.
		for i := len(m) - 1; i >= 0; i-- {
			if !done[i] {
				s, done[i] = restoreOne(s, m[i])
			}
		}
	}
	return s
}

func pending(done []bool) bool {
	for _, d := range done {
		if !d {
			return true
		}
	}
	return false
}

func restoreOne(s string, e Entry) (string, bool) {
	if at := strings.Index(s, e.Token); at >= 0 {
		return s[:at] + e.Original + s[at+len(e.Token):], true
	}
	if at := strings.Index(asciiUpper(s), e.Token); at >= 0 {
		return s[:at] + e.Original + s[at+len(e.Token):], true
	}
	if loc := spacedPattern(e.Token).FindStringIndex(s); loc != nil {
		return s[:loc[0]] + e.Original + s[loc[1]:], true
	}
	return s, false
}

// asciiUpper upper-cases ASCII letters only, keeping byte offsets intact.
func asciiUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func spacedPattern(tok string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?i)")
	for i, r := range tok {
		if i > 0 {
			b.WriteString(`\s*`)
		}
		b.WriteString(regexp.QuoteMeta(string(r)))
	}
	return regexp.MustCompile(b.String())
}

// sweep is the last resort: any two letters followed by a kind letter and
// an index of the right width is taken to be a mangled token.
func sweep(s string, m Map, done []bool) string {
	width := len(m[0].Token) - 3
	re := regexp.MustCompile(`(?i)[a-z]{2}\s?([dvtbf])\s?(\d{` + strconv.Itoa(width) + `})`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		sub := re.FindStringSubmatch(match)
		kind := Kind(unicode.ToUpper(rune(sub[1][0])))
		idx, err := strconv.Atoi(sub[2])
		if err != nil || idx >= len(m) || done[idx] || m[idx].Kind != kind {
			return match
		}
		done[idx] = true
		return m[idx].Original
	})
}

// ---------------------------------------------------------------------------
// Validation helpers
// ---------------------------------------------------------------------------

// Fragments returns every protected construct found in text, in order of
// discovery, with nested constructs expanded.
func Fragments(text string) []string {
	_, m := Protect(text)
	return m.Expanded()
}

// Validate reports the protected constructs of original that are missing
// from restored. A nil result means restored kept every construct at least
// as many times as original had it.
func Validate(original, restored string) []string {
	frags := Fragments(original)
	if len(frags) == 0 {
		return nil
	}
	want := make(map[string]int)
	var order []string
	for _, f := range frags {
		if want[f] == 0 {
			order = append(order, f)
		}
		want[f]++
	}
	var missing []string
	for _, f := range order {
		if strings.Count(restored, f) < want[f] {
			missing = append(missing, f)
		}
	}
	return missing
}

// Strip removes every protected construct from text, leaving only the words
// a reader would see.
func Strip(text string) string {
	s, m := Protect(text)
	for i := len(m) - 1; i >= 0; i-- {
		s = strings.Replace(s, m[i].Token, " ", 1)
	}
	return s
}

// OnlyPlaceholders reports whether text consists of protected constructs
// and whitespace alone.
func OnlyPlaceholders(text string) bool {
	_, m := Protect(text)
	return len(m) > 0 && strings.TrimSpace(Strip(text)) == ""
}
