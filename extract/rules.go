package extract

import (
	"regexp"
	"strings"
)

// Rule is one line shape the parser knows how to read text from. Rules are
// tried in the order of ruleOrder; the first that matches classifies the
// line.
type Rule int

const (
	RuleDialogue Rule = iota
	RuleNarrator
	RuleMenuChoice
	RuleButton
	RuleScreenText
	RuleParagraph
	RuleNotify
	RuleInput
	RuleAlt
	RuleConfig
	RuleGUI
	RuleStyle
	RuleFunctionArg
)

var ruleOrder = []Rule{
	RuleDialogue,
	RuleNarrator,
	RuleMenuChoice,
	RuleButton,
	RuleScreenText,
	RuleParagraph,
	RuleNotify,
	RuleInput,
	RuleAlt,
	RuleConfig,
	RuleGUI,
	RuleStyle,
	RuleFunctionArg,
}

var ruleNames = map[Rule]string{
	RuleDialogue:    "dialogue",
	RuleNarrator:    "narrator",
	RuleMenuChoice:  "menu-choice",
	RuleButton:      "button",
	RuleScreenText:  "screen-text",
	RuleParagraph:   "paragraph",
	RuleNotify:      "notify",
	RuleInput:       "input",
	RuleAlt:         "alt",
	RuleConfig:      "config",
	RuleGUI:         "gui",
	RuleStyle:       "style",
	RuleFunctionArg: "function-arg",
}

func (r Rule) String() string {
	if n, ok := ruleNames[r]; ok {
		return n
	}
	return "unknown"
}

// Type is the classification a match of this rule carries.
func (r Rule) Type() TextType {
	switch r {
	case RuleDialogue:
		return TypeDialogue
	case RuleNarrator:
		return TypeNarration
	case RuleMenuChoice:
		return TypeMenu
	case RuleButton:
		return TypeButton
	case RuleScreenText:
		return TypeUI
	case RuleParagraph:
		return TypeParagraph
	case RuleNotify:
		return TypeNotify
	case RuleInput:
		return TypeInput
	case RuleAlt:
		return TypeAlt
	case RuleConfig, RuleGUI:
		return TypeConfig
	case RuleStyle:
		return TypeStyle
	}
	return TypeFunction
}

// Match is the result of a rule applied to a line.
type Match struct {
	Rule      Rule
	Type      TextType
	Character string
	// Literals are the quoted string tokens, quotes included, in line order.
	Literals []string
}

// quoted matches a Python string literal with an optional prefix. Triple
// quoted forms come first so a one-line """x""" is not read as "" + "x".
const quoted = `(?:[rRuU]{1,2})?(?P<q>"""(?s:.*?)"""|'''(?s:.*?)'''|"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*')`

const wrap = `(?:__?\(\s*)?`

var rulePatterns = map[Rule][]*regexp.Regexp{
	RuleDialogue: {
		regexp.MustCompile(`^(?P<who>[A-Za-z_]\w*)(?:\s+@?[A-Za-z_][\w-]*)*\s+` + quoted),
	},
	RuleNarrator: {
		regexp.MustCompile(`^` + quoted + `(?:\s+(?:with|id)\s+[\w.()]+)*\s*(?:#.*)?$`),
	},
	RuleMenuChoice: {
		regexp.MustCompile(`^` + wrap + quoted + `\)?\s*(?:\([^)]*\)\s*)?(?:if\s+.+?)?\s*:\s*(?:#.*)?$`),
	},
	RuleButton: {
		regexp.MustCompile(`^textbutton\s+` + wrap + quoted),
	},
	RuleScreenText: {
		regexp.MustCompile(`^(?:text|label|tooltip)\s+` + wrap + quoted),
		regexp.MustCompile(`\btooltip\s+` + wrap + quoted),
		regexp.MustCompile(`\bConfirm\(\s*` + wrap + quoted),
	},
	RuleParagraph: {
		regexp.MustCompile(`\b_p\(\s*` + quoted + `\s*\)`),
	},
	RuleNotify: {
		regexp.MustCompile(`\b(?:renpy\.notify|Notify)\(\s*` + wrap + quoted),
	},
	RuleInput: {
		regexp.MustCompile(`\brenpy\.input\(\s*(?:prompt\s*=\s*)?` + wrap + quoted),
		regexp.MustCompile(`^input\b.*\b(?:default|prefix|suffix)\s+` + wrap + quoted),
	},
	RuleAlt: {
		regexp.MustCompile(`\balt\s*=?\s*` + wrap + quoted),
	},
	RuleConfig: {
		regexp.MustCompile(`^(?:define\s+)?config\.(?:name|version|about|window_title|save_name|menu_\w+)\s*=\s*` + wrap + quoted),
	},
	RuleGUI: {
		regexp.MustCompile(`^(?:define\s+)?gui\.(?:text|button|label|title|heading|caption|tooltip|confirm|about|dialogue)\w*\s*=\s*` + wrap + quoted),
	},
	RuleStyle: {
		regexp.MustCompile(`^style\.[\w.]+\s*=\s*` + wrap + quoted),
	},
	RuleFunctionArg: {
		regexp.MustCompile(`\b__?\(\s*` + quoted + `\s*\)`),
		regexp.MustCompile(`\b(?:Character|DynamicCharacter|Text)\(\s*` + wrap + quoted),
		regexp.MustCompile(`\brenpy\.say\(\s*[\w.]+\s*,\s*` + wrap + quoted),
	},
}

// statementKeywords begin Ren'Py statements that are never a say statement,
// even though they look like "word "string"".
var statementKeywords = map[string]bool{
	"text": true, "textbutton": true, "label": true, "tooltip": true, "show": true,
	"scene": true, "hide": true, "play": true, "queue": true, "stop": true,
	"voice": true, "sound": true, "music": true, "jump": true, "call": true,
	"define": true, "default": true, "image": true, "style": true, "transform": true,
	"screen": true, "init": true, "python": true, "menu": true, "if": true,
	"elif": true, "else": true, "while": true, "for": true, "return": true,
	"pass": true, "use": true, "add": true, "imagebutton": true, "key": true,
	"timer": true, "translate": true, "old": true, "new": true, "window": true,
	"nvl": true, "with": true, "at": true, "action": true, "hovered": true,
	"unhovered": true, "font": true, "input": true, "bar": true, "vbar": true,
	"frame": true, "vbox": true, "hbox": true, "null": true, "camera": true,
	"layeredimage": true, "attribute": true, "group": true, "testcase": true,
	"rpy": true, "outlines": true, "background": true, "foreground": true,
	"prefix": true, "suffix": true, "properties": true, "variant": true, "modal": true,
	"tag": true, "zorder": true, "on": true, "showif": true, "has": true, "xpos": true,
	"ypos": true, "idle": true, "hover": true, "insensitive": true, "selected": true,
}

// Match applies the rule to a line stripped of its indentation.
func (r Rule) Match(line string) (Match, bool) {
	m := Match{Rule: r, Type: r.Type()}
	for _, re := range rulePatterns[r] {
		qi := re.SubexpIndex("q")
		all := re.FindAllStringSubmatch(line, -1)
		for _, sub := range all {
			if r == RuleDialogue {
				who := sub[re.SubexpIndex("who")]
				if statementKeywords[who] {
					return Match{}, false
				}
				rest := strings.TrimSpace(line[len(sub[0]):])
				if strings.HasPrefix(rest, ":") {
					return Match{}, false
				}
				m.Character = who
				m.Literals = append(m.Literals, sub[qi])
				return m, true
			}
			m.Literals = append(m.Literals, sub[qi])
		}
		if len(m.Literals) > 0 && r != RuleFunctionArg {
			break
		}
	}
	return m, len(m.Literals) > 0
}

// MatchLine returns the first rule in priority order that matches line,
// skipping the rules for which allow returns false.
func MatchLine(line string, allow func(Rule) bool) (Match, bool) {
	for _, r := range ruleOrder {
		if allow != nil && !allow(r) {
			continue
		}
		if m, ok := r.Match(line); ok {
			return m, true
		}
	}
	return Match{}, false
}

// Unquote strips one layer of Python string quotes from lit and decodes the
// escape sequences Ren'Py understands. Unknown escapes are kept verbatim.
func Unquote(lit string) string {
	lit = strings.TrimLeft(lit, "rRuUfFbB")
	switch {
	case len(lit) >= 6 && (strings.HasPrefix(lit, `"""`) && strings.HasSuffix(lit, `"""`) ||
		strings.HasPrefix(lit, `'''`) && strings.HasSuffix(lit, `'''`)):
		lit = lit[3 : len(lit)-3]
	case len(lit) >= 2 && (lit[0] == '"' || lit[0] == '\'') && lit[len(lit)-1] == lit[0]:
		lit = lit[1 : len(lit)-1]
	}
	return DecodeEscapes(lit)
}

// DecodeEscapes turns \n, \t, \", \', \\ and "\ " into the characters they
// stand for.
func DecodeEscapes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case '"', '\'', '\\', ' ':
			b.WriteByte(s[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
