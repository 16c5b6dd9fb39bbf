package extract

import (
	"fmt"
	"regexp"
	"strings"
)

// Parser reads Ren'Py source scripts line by line and recovers translatable
// literals with the block context they appear in.
type Parser struct {
	Filter *Filter
	// TabWidth is the column width of a tab when measuring indentation.
	TabWidth int
	// OnSkip, if set, is called for every literal the filter rejects. It may
	// be called from several goroutines by ParseSources.
	OnSkip func(file string, line int, text, reason string)
}

// NewParser returns a parser using f, or the default filter when f is nil.
func NewParser(f *Filter) *Parser {
	if f == nil {
		f = DefaultFilter()
	}
	return &Parser{Filter: f, TabWidth: 4}
}

// ParseFile reads path with encoding detection and parses it. rel is the
// path recorded in each record, normally relative to the game directory.
func (p *Parser) ParseFile(path, rel string) ([]Record, error) {
	text, err := ReadTextSafely(path)
	if err != nil {
		return nil, err
	}
	return p.Parse(rel, text), nil
}

// Parse extracts records from script content. file is only used to label
// the records.
func (p *Parser) Parse(file, content string) []Record {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	content = strings.TrimPrefix(content, "\ufeff")

	s := &scanState{p: p, file: file, skipIndent: -1}
	for i, raw := range strings.Split(content, "\n") {
		s.line(raw, i+1)
	}
	if s.ml != nil && p.OnSkip != nil {
		p.OnSkip(file, s.ml.startLine, s.ml.body(), "unterminated string")
	}
	return s.records
}

// ---------------------------------------------------------------------------
// Block openers
// ---------------------------------------------------------------------------

var (
	labelRe    = regexp.MustCompile(`^label\s+([A-Za-z_][\w.]*)\s*(?:\([^)]*\))?\s*(hide)?\s*:`)
	tlBlockRe  = regexp.MustCompile(`^translate\s+\w+\s+\w+\s*:`)
	menuRe     = regexp.MustCompile(`^menu(?:\s+([A-Za-z_]\w*))?\s*(?:\(.*\))?\s*:\s*(?:#.*)?$`)
	screenRe   = regexp.MustCompile(`^screen\s+([A-Za-z_]\w*).*:\s*(?:#.*)?$`)
	condRe     = regexp.MustCompile(`^(if|elif|else|while|for|showif)\b.*:\s*(?:#.*)?$`)
	pythonRe   = regexp.MustCompile(`^(?:init(?:\s+[-+]?\d+)?\s+)?python\b[^:"']*:\s*(?:#.*)?$`)
	dollarPyRe = regexp.MustCompile(`^\$\s*python\s*:`)
	styleRe    = regexp.MustCompile(`^style\s+([A-Za-z_]\w*)[^=]*:\s*(?:#.*)?$`)
	initRe     = regexp.MustCompile(`^init(?:\s+[-+]?\d+)?\s*:\s*(?:#.*)?$`)
)

// ---------------------------------------------------------------------------
// Scan state
// ---------------------------------------------------------------------------

type multiline struct {
	delim     string
	startLine int
	indent    int
	typ       TextType
	character string
	parts     []string
	// silent spans are consumed without producing a record (docstrings).
	silent bool
	ctx    []Frame
}

func (m *multiline) body() string {
	return strings.Join(m.parts, "\n")
}

type scanState struct {
	p          *Parser
	file       string
	stack      []Frame
	records    []Record
	skipIndent int
	ml         *multiline
}

func (s *scanState) indentOf(raw string) int {
	w := 0
	for _, c := range raw {
		switch c {
		case ' ':
			w++
		case '\t':
			w += s.p.TabWidth
		default:
			return w
		}
	}
	return w
}

func (s *scanState) in(kind FrameKind) bool {
	for _, f := range s.stack {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

func (s *scanState) top() FrameKind {
	if len(s.stack) == 0 {
		return ""
	}
	return s.stack[len(s.stack)-1].Kind
}

func (s *scanState) push(kind FrameKind, name string, indent int) {
	s.stack = append(s.stack, Frame{Indent: indent, Kind: kind, Name: name})
}

func (s *scanState) line(raw string, lineNo int) {
	if s.ml != nil {
		s.continueMultiline(raw)
		return
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return
	}
	indent := s.indentOf(raw)
	if s.skipIndent >= 0 {
		if indent > s.skipIndent {
			return
		}
		s.skipIndent = -1
	}
	for len(s.stack) > 0 && s.stack[len(s.stack)-1].Indent >= indent {
		s.stack = s.stack[:len(s.stack)-1]
	}

	if s.opener(trimmed, indent) {
		return
	}
	if s.startMultiline(trimmed, lineNo, indent) {
		return
	}
	s.matchLine(trimmed, lineNo)
}

// opener pushes a frame for block-opening statements. Hidden labels and
// existing translate blocks are skipped entirely.
func (s *scanState) opener(line string, indent int) bool {
	if m := labelRe.FindStringSubmatch(line); m != nil {
		if m[2] == "hide" {
			s.skipIndent = indent
			return true
		}
		s.push(FrameLabel, m[1], indent)
		return true
	}
	if tlBlockRe.MatchString(line) {
		s.skipIndent = indent
		return true
	}
	if m := menuRe.FindStringSubmatch(line); m != nil {
		s.push(FrameMenu, m[1], indent)
		return true
	}
	if m := screenRe.FindStringSubmatch(line); m != nil {
		s.push(FrameScreen, m[1], indent)
		return true
	}
	if pythonRe.MatchString(line) || dollarPyRe.MatchString(line) {
		s.push(FramePython, "", indent)
		return true
	}
	if initRe.MatchString(line) {
		s.push(FrameInit, "", indent)
		return true
	}
	if m := styleRe.FindStringSubmatch(line); m != nil {
		s.push(FrameStyle, m[1], indent)
		return true
	}
	if m := condRe.FindStringSubmatch(line); m != nil {
		s.push(FrameConditional, m[1], indent)
		return true
	}
	return false
}

// allow reports whether a rule applies in the current context. Python code
// and screens never contain say statements; menu choices only exist
// directly inside a menu.
func (s *scanState) allow(pythonLine bool) func(Rule) bool {
	inPython := pythonLine || s.in(FramePython)
	inScreen := s.in(FrameScreen)
	inMenu := s.top() == FrameMenu
	return func(r Rule) bool {
		switch r {
		case RuleDialogue, RuleNarrator:
			return !inPython && !inScreen
		case RuleMenuChoice:
			return inMenu && !inPython
		case RuleButton, RuleScreenText:
			return !inPython
		}
		return true
	}
}

func (s *scanState) matchLine(line string, lineNo int) {
	pythonLine := false
	if strings.HasPrefix(line, "$") {
		pythonLine = true
		line = strings.TrimSpace(line[1:])
	}
	m, ok := MatchLine(line, s.allow(pythonLine))
	if !ok {
		return
	}
	typ := m.Type
	if (pythonLine || s.in(FramePython)) && typ != TypeNotify && typ != TypeInput && typ != TypeParagraph {
		typ = TypeFunction
	}
	for _, lit := range m.Literals {
		s.emit(Unquote(lit), lineNo, typ, m.Character, s.stack)
	}
}

func (s *scanState) emit(text string, lineNo int, typ TextType, character string, ctx []Frame) {
	if ok, reason := s.p.Filter.Meaningful(text, typ); !ok {
		if s.p.OnSkip != nil {
			s.p.OnSkip(s.file, lineNo, text, reason)
		}
		return
	}
	s.records = append(s.records, NewRecord(text, s.file, lineNo, ctx, typ, character))
}

// ---------------------------------------------------------------------------
// Multi-line strings
// ---------------------------------------------------------------------------

var (
	paragraphOpenRe = regexp.MustCompile(`\b_p\(\s*$`)
	sayOpenRe       = regexp.MustCompile(`^([A-Za-z_]\w*)(?:\s+@?[A-Za-z_][\w-]*)*$`)
	funcOpenRe      = regexp.MustCompile(`\b__?\(\s*$`)
	notifyOpenRe    = regexp.MustCompile(`\b(?:renpy\.notify|Notify)\(\s*(?:__?\(\s*)?$`)
	menuCloseRe     = regexp.MustCompile(`^\s*(?:if\s+.+?)?\s*:\s*(?:#.*)?$`)
)

// startMultiline recognizes a line that opens a triple-quoted string without
// closing it.
func (s *scanState) startMultiline(line string, lineNo, indent int) bool {
	at, delim := -1, ""
	for _, d := range []string{`"""`, `'''`} {
		if i := strings.Index(line, d); i >= 0 && (at < 0 || i < at) {
			at, delim = i, d
		}
	}
	if at < 0 || strings.Count(line[at:], delim) != 1 {
		return false
	}

	prefix := strings.TrimSpace(line[:at])
	pythonLine := strings.HasPrefix(prefix, "$")
	inPython := pythonLine || s.in(FramePython)
	ml := &multiline{
		delim:     delim,
		startLine: lineNo,
		indent:    indent,
		parts:     []string{line[at+3:]},
		ctx:       append([]Frame(nil), s.stack...),
	}
	switch {
	case paragraphOpenRe.MatchString(prefix):
		ml.typ = TypeParagraph
	case notifyOpenRe.MatchString(prefix):
		ml.typ = TypeNotify
	case funcOpenRe.MatchString(prefix):
		ml.typ = TypeFunction
	case inPython || s.in(FrameScreen):
		ml.silent = true
	case prefix == "":
		ml.typ = TypeNarration
	default:
		m := sayOpenRe.FindStringSubmatch(prefix)
		if m == nil || statementKeywords[m[1]] {
			ml.silent = true
			break
		}
		ml.typ = TypeDialogue
		ml.character = m[1]
	}
	s.ml = ml
	return true
}

func (s *scanState) continueMultiline(raw string) {
	ml := s.ml
	i := strings.Index(raw, ml.delim)
	if i < 0 {
		ml.parts = append(ml.parts, raw)
		return
	}
	ml.parts = append(ml.parts, raw[:i])
	rest := raw[i+3:]
	s.ml = nil
	if ml.silent {
		return
	}
	typ := ml.typ
	if typ == TypeNarration && len(ml.ctx) > 0 && ml.ctx[len(ml.ctx)-1].Kind == FrameMenu && menuCloseRe.MatchString(rest) {
		typ = TypeMenu
	}
	var text string
	if typ == TypeParagraph {
		text = normalizeParagraph(ml.parts)
	} else {
		text = dedent(ml.parts)
	}
	s.emit(DecodeEscapes(text), ml.startLine, typ, ml.character, ml.ctx)
}

// dedent removes the common leading whitespace of the continuation lines and
// drops blank first and last lines, keeping the line breaks in between.
func dedent(parts []string) string {
	lines := append([]string(nil), parts...)
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return ""
	}
	common := -1
	for i, l := range lines {
		if i == 0 && l == parts[0] {
			// Text sharing the opening line has no meaningful indentation.
			continue
		}
		if strings.TrimSpace(l) == "" {
			continue
		}
		n := len(l) - len(strings.TrimLeft(l, " \t"))
		if common < 0 || n < common {
			common = n
		}
	}
	if common < 0 {
		common = 0
	}
	for i, l := range lines {
		if i == 0 && l == parts[0] {
			lines[i] = strings.TrimLeft(l, " \t")
			continue
		}
		if len(l) >= common {
			lines[i] = l[common:]
		} else {
			lines[i] = strings.TrimLeft(l, " \t")
		}
	}
	return strings.Join(lines, "\n")
}

// normalizeParagraph follows _p() semantics: lines within a paragraph are
// joined with single spaces and blank lines separate paragraphs.
func normalizeParagraph(parts []string) string {
	var paras []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			paras = append(paras, strings.Join(cur, " "))
			cur = nil
		}
	}
	for _, l := range parts {
		l = strings.TrimSpace(l)
		if l == "" {
			flush()
			continue
		}
		cur = append(cur, strings.Join(strings.Fields(l), " "))
	}
	flush()
	return strings.Join(paras, "\n\n")
}

// Describe renders a record as "file:line [type] text" for logs.
func Describe(r Record) string {
	who := ""
	if r.Character != "" {
		who = r.Character + ": "
	}
	return fmt.Sprintf("%s:%d [%s] %s%s", r.File, r.Line, r.Type, who, truncate(r.RawText, 60))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
