package rpyc

import (
	"regexp"
	"strings"

	"github.com/minios-linux/renlokit/extract"
)

// Literal is a string constant recovered from a code fragment.
type Literal struct {
	Text      string
	Type      extract.TextType
	Character string
	// Line is the 0-based line offset inside the fragment.
	Line    int
	FString bool
}

// callTypes classifies the argument positions of known calls.
var callTypes = map[string]map[int]extract.TextType{
	"_":                {0: extract.TypeFunction},
	"__":               {0: extract.TypeFunction},
	"_p":               {0: extract.TypeParagraph},
	"renpy.notify":     {0: extract.TypeNotify},
	"Notify":           {0: extract.TypeNotify},
	"Character":        {0: extract.TypeFunction},
	"DynamicCharacter": {0: extract.TypeFunction},
	"renpy.say":        {1: extract.TypeDialogue},
	"Text":             {0: extract.TypeUI},
	"renpy.input":      {0: extract.TypeInput},
	"Confirm":          {0: extract.TypeUI},
	"renpy.confirm":    {0: extract.TypeUI},
}

var assignRe = regexp.MustCompile(`^\s*(?:define\s+|default\s+)?(?:config\.(?:name|version|about|window_title|menu_\w+)|gui\.\w*(?:text|title|caption|label|about)\w*)\s*=\s*(?:__?\(\s*)?$`)

type bracket struct {
	open     byte
	callee   string
	arg      int
	argStart int
	first    string
	colon    bool
}

// ScanCode finds the translatable string literals in a Python fragment: call
// arguments of the known text functions, list items and dict values, and
// config/gui assignments. Byte strings and comments are ignored.
func ScanCode(src string) []Literal {
	var (
		out       []Literal
		stack     []bracket
		line      int
		stmtStart int
	)
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '\n':
			line++
			i++
			if len(stack) == 0 {
				stmtStart = i
			}
		case c == ';' && len(stack) == 0:
			i++
			stmtStart = i
		case c == '(' || c == '[' || c == '{':
			b := bracket{open: c, argStart: i + 1}
			if c == '(' {
				b.callee = strings.TrimPrefix(identBefore(src, i), "store.")
			} else if c == '[' && subscript(src, i) {
				b.open = 's'
			}
			stack = append(stack, b)
			i++
		case c == ')' || c == ']' || c == '}':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			i++
		case c == ',':
			if n := len(stack); n > 0 {
				top := &stack[n-1]
				if top.arg == 0 {
					top.first = strings.TrimSpace(src[top.argStart:i])
				}
				top.arg++
				top.colon = false
			}
			i++
		case c == ':':
			if n := len(stack); n > 0 {
				stack[n-1].colon = true
			}
			i++
		case c == '"' || c == '\'':
			lit, end, ok := readString(src, i, "")
			if !ok {
				return out
			}
			if l, keep := classify(src, stmtStart, i, stack, lit); keep {
				l.Line = line
				out = append(out, l)
			}
			line += strings.Count(src[i:end], "\n")
			i = end
		case isIdentStart(c):
			j := i
			for j < len(src) && isIdent(src[j]) {
				j++
			}
			prefix := strings.ToLower(src[i:j])
			if j < len(src) && (src[j] == '"' || src[j] == '\'') && isStringPrefix(prefix) {
				lit, end, ok := readString(src, j, prefix)
				if !ok {
					return out
				}
				if !strings.Contains(prefix, "b") {
					if l, keep := classify(src, stmtStart, i, stack, lit); keep {
						l.Line = line
						out = append(out, l)
					}
				}
				line += strings.Count(src[j:end], "\n")
				i = end
				continue
			}
			i = j
		default:
			i++
		}
	}
	return out
}

type stringLit struct {
	value  string
	fmt    bool
	triple bool
}

// readString reads the literal starting at the quote src[i]. prefix is the
// lowercased prefix already consumed.
func readString(src string, i int, prefix string) (stringLit, int, bool) {
	q := src[i]
	delim := string(q)
	if strings.HasPrefix(src[i:], strings.Repeat(delim, 3)) {
		delim = strings.Repeat(delim, 3)
	}
	raw := strings.Contains(prefix, "r")
	start := i + len(delim)
	for j := start; j < len(src); j++ {
		switch {
		case src[j] == '\\':
			j++
		case src[j] == '\n' && len(delim) == 1:
			return stringLit{}, 0, false
		case strings.HasPrefix(src[j:], delim):
			body := src[start:j]
			if !raw {
				body = extract.DecodeEscapes(body)
			}
			return stringLit{value: body, fmt: strings.Contains(prefix, "f"), triple: len(delim) == 3}, j + len(delim), true
		}
	}
	return stringLit{}, 0, false
}

func classify(src string, stmtStart, at int, stack []bracket, lit stringLit) (Literal, bool) {
	l := Literal{Text: lit.value, FString: lit.fmt}
	if n := len(stack); n > 0 {
		top := stack[n-1]
		switch top.open {
		case '(':
			typ, ok := callTypes[top.callee][top.arg]
			if !ok || strings.TrimSpace(src[top.argStart:at]) != "" && top.arg == 0 {
				return l, false
			}
			if top.arg > 0 && !argStartsAt(src, at) {
				return l, false
			}
			if top.callee == "_" || top.callee == "__" || top.callee == "_p" {
				// Translation markers inherit the meaning of the call they sit in.
				if n > 1 {
					outer := stack[n-2]
					if t, ok := callTypes[outer.callee][outer.arg]; ok && outer.open == '(' {
						typ = t
						top = outer
					}
				} else if assignRe.MatchString(src[stmtStart:top.argStart]) {
					typ = extract.TypeConfig
				}
			}
			if typ == extract.TypeDialogue {
				l.Character = top.first
			}
			l.Type = typ
			return l, true
		case '[':
			l.Type = extract.TypeString
			return l, true
		case '{':
			if top.colon {
				l.Type = extract.TypeString
				return l, true
			}
		}
		return l, false
	}
	if assignRe.MatchString(src[stmtStart:at]) {
		l.Type = extract.TypeConfig
		return l, true
	}
	return l, false
}

// argStartsAt reports whether the literal at position at begins its
// argument, i.e. only whitespace separates it from the preceding comma.
func argStartsAt(src string, at int) bool {
	for k := at - 1; k >= 0; k-- {
		switch src[k] {
		case ' ', '\t', '\n', '\r':
			continue
		case ',':
			return true
		}
		return false
	}
	return false
}

// identBefore returns the dotted name immediately before position i.
func identBefore(src string, i int) string {
	j := i
	for j > 0 && (isIdent(src[j-1]) || src[j-1] == '.') {
		j--
	}
	return src[j:i]
}

// subscript reports whether the '[' at i indexes a value rather than opening
// a list literal.
func subscript(src string, i int) bool {
	if i == 0 {
		return false
	}
	p := src[i-1]
	return isIdent(p) || p == ')' || p == ']' || p == '"' || p == '\''
}

func isStringPrefix(p string) bool {
	switch p {
	case "r", "u", "b", "f", "rb", "br", "fr", "rf":
		return true
	}
	return false
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

func isIdent(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

// ScanLine scans the raw text of a user-defined statement. Besides the code
// rules, statements that mention a text-bearing keyword contribute every
// quoted string of three or more characters.
func ScanLine(line string) []Literal {
	out := ScanCode(line)
	if !lineKeywordRe.MatchString(line) {
		return out
	}
	seen := make(map[string]bool, len(out))
	for _, l := range out {
		seen[l.Text] = true
	}
	for _, m := range lineQuotedRe.FindAllStringSubmatch(line, -1) {
		text := extract.DecodeEscapes(m[1] + m[2])
		if len([]rune(text)) < 3 || seen[text] {
			continue
		}
		seen[text] = true
		out = append(out, Literal{Text: text, Type: extract.TypeString})
	}
	return out
}

var (
	lineKeywordRe = regexp.MustCompile(`\b(?:text|label|button|tooltip|caption|title)\b`)
	lineQuotedRe  = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"|'((?:[^'\\]|\\.)*)'`)
)
