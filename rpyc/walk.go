package rpyc

import (
	"context"
	"strings"

	"github.com/minios-linux/renlokit/extract"
	"github.com/minios-linux/renlokit/unpickle"
)

// maxDepth bounds nesting so a crafted tree cannot exhaust the stack.
const maxDepth = 256

// slKeywords are the screen-language properties that carry visible text.
var slKeywords = map[string]extract.TextType{
	"text":    extract.TypeUI,
	"alt":     extract.TypeAlt,
	"tooltip": extract.TypeUI,
	"caption": extract.TypeUI,
	"title":   extract.TypeUI,
}

// Extractor walks decoded compiled scripts and emits extraction records.
type Extractor struct {
	Filter *extract.Filter
	// OnSkip, if set, is called for every literal the filter rejects. It may
	// be called from several goroutines by ExtractFiles.
	OnSkip func(file string, line int, text, reason string)
}

// NewExtractor returns an extractor using f, or the default filter when f
// is nil.
func NewExtractor(f *extract.Filter) *Extractor {
	if f == nil {
		f = extract.DefaultFilter()
	}
	return &Extractor{Filter: f}
}

// ExtractFile reads a compiled script and returns its records, labelled
// with rel.
func (x *Extractor) ExtractFile(path, rel string) ([]extract.Record, error) {
	s, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return x.Extract(rel, s), nil
}

// Extract walks a decoded script.
func (x *Extractor) Extract(file string, s *Script) []extract.Record {
	w := &walker{x: x, file: file, seen: make(map[*unpickle.Object]bool)}
	w.block(s.Statements, nil)
	return Dedup(w.records)
}

// ExtractFiles extracts compiled scripts on a worker pool. A file that
// fails to decode, including one rejected by the allow-list, carries its
// error and does not stop the others.
func ExtractFiles(ctx context.Context, x *Extractor, root string, files []string, workers int) ([]extract.FileResult, error) {
	return extract.ProcessFiles(ctx, files, workers, func(path string) ([]extract.Record, error) {
		return x.ExtractFile(path, extract.RelPath(root, path))
	})
}

// Dedup keeps one record per text. A record from a statement node beats
// one from a code scan; between equals, the deeper context wins. The
// position of the first occurrence is kept.
func Dedup(records []extract.Record) []extract.Record {
	index := make(map[string]int, len(records))
	out := make([]extract.Record, 0, len(records))
	for _, r := range records {
		i, ok := index[r.RawText]
		if !ok {
			index[r.RawText] = len(out)
			out = append(out, r)
			continue
		}
		if richer(r, out[i]) {
			out[i] = r
		}
	}
	return out
}

func richer(a, b extract.Record) bool {
	if a.Structural != b.Structural {
		return a.Structural
	}
	return len(a.Context) > len(b.Context)
}

// ---------------------------------------------------------------------------
// Statement tree
// ---------------------------------------------------------------------------

type walker struct {
	x       *Extractor
	file    string
	records []extract.Record
	seen    map[*unpickle.Object]bool
}

func push(ctx []extract.Frame, kind extract.FrameKind, name string) []extract.Frame {
	return append(ctx[:len(ctx):len(ctx)], extract.Frame{Kind: kind, Name: name})
}

func (w *walker) block(v any, ctx []extract.Frame) {
	for _, n := range unpickle.AsSlice(v) {
		w.node(n, ctx)
	}
}

// visit marks o as walked and reports whether the walk should descend.
func (w *walker) visit(o *unpickle.Object, ctx []extract.Frame) bool {
	if o == nil || w.seen[o] || len(ctx) >= maxDepth {
		return false
	}
	w.seen[o] = true
	return true
}

func (w *walker) node(v any, ctx []extract.Frame) {
	o, ok := v.(*unpickle.Object)
	if !ok || !w.visit(o, ctx) {
		return
	}
	line := lineOf(o)

	switch {
	case o.Is("TranslateSay"):
		if o.AttrString("language") != "" {
			return
		}
		w.say(o, push(ctx, extract.FrameTranslate, o.AttrString("identifier")))
	case o.Is("Say"):
		w.say(o, ctx)
	case o.Is("Menu"):
		mctx := push(ctx, extract.FrameMenu, "")
		for _, it := range unpickle.AsSlice(o.Attr("items")) {
			item := unpickle.AsSlice(it)
			if len(item) == 0 {
				continue
			}
			if label, ok := unpickle.AsString(item[0]); ok {
				typ := extract.TypeMenu
				if len(item) > 2 && item[2] == nil {
					// A choice without a block is the menu caption.
					typ = extract.TypeNarration
				}
				w.emit(label, line, mctx, typ, "", true)
			}
			if len(item) > 2 {
				w.block(item[2], mctx)
			}
		}
	case o.Is("Label"):
		w.block(o.Attr("block"), push(ctx, extract.FrameLabel, o.AttrString("name")))
	case o.Is("Init"):
		w.block(o.Attr("block"), push(ctx, extract.FrameInit, ""))
	case o.Is("If"):
		for _, e := range unpickle.AsSlice(o.Attr("entries")) {
			if entry := unpickle.AsSlice(e); len(entry) > 1 {
				w.block(entry[1], push(ctx, extract.FrameConditional, ""))
			}
		}
	case o.Is("While"):
		w.block(o.Attr("block"), push(ctx, extract.FrameConditional, ""))
	case o.Is("Translate"):
		if o.AttrString("language") != "" {
			return
		}
		w.block(o.Attr("block"), push(ctx, extract.FrameTranslate, o.AttrString("identifier")))
	case o.Is("TranslateString"):
		if old := o.AttrString("old"); old != "" {
			w.emit(old, line, push(ctx, extract.FrameTranslate, o.AttrString("language")), extract.TypeString, "", true)
		}
	case o.Is("TranslateBlock", "TranslateEarlyBlock", "TranslatePython", "EndTranslate", "Style"):
	case o.Is("Define", "Default"):
		w.code(o.Attr("code"), line, ctx)
	case o.Is("Python", "EarlyPython"):
		w.code(o.Attr("code"), line, push(ctx, extract.FramePython, ""))
	case o.Is("UserStatement", "PostUserStatement"):
		for _, l := range ScanLine(o.AttrString("line")) {
			w.literal(l, line, ctx)
		}
	case o.Is("Screen"):
		scr, _ := o.Attr("screen").(*unpickle.Object)
		name := scr.AttrString("name")
		if name == "" {
			name = o.AttrString("name")
		}
		w.sl(scr, push(ctx, extract.FrameScreen, name))
	default:
		w.block(o.Attr("block"), ctx)
	}
}

func (w *walker) say(o *unpickle.Object, ctx []extract.Frame) {
	who := o.AttrString("who")
	typ := extract.TypeDialogue
	if who == "" {
		typ = extract.TypeNarration
	}
	w.emit(o.AttrString("what"), lineOf(o), ctx, typ, who, true)
}

// ---------------------------------------------------------------------------
// Screen language
// ---------------------------------------------------------------------------

func (w *walker) sl(v any, ctx []extract.Frame) {
	o, ok := v.(*unpickle.Object)
	if !ok || !w.visit(o, ctx) {
		return
	}
	line := lineOf(o)

	for _, kw := range unpickle.AsSlice(o.Attr("keyword")) {
		pair := unpickle.AsSlice(kw)
		if len(pair) != 2 {
			continue
		}
		name, _ := unpickle.AsString(pair[0])
		if typ, ok := slKeywords[name]; ok {
			w.expr(pair[1], line, ctx, typ)
		}
	}

	switch {
	case o.Is("SLDisplayable"):
		for _, p := range unpickle.AsSlice(o.Attr("positional")) {
			w.expr(p, line, ctx, extract.TypeUI)
		}
		w.children(o, ctx)
	case o.Is("SLIf", "SLShowIf"):
		for _, e := range unpickle.AsSlice(o.Attr("entries")) {
			if entry := unpickle.AsSlice(e); len(entry) > 1 {
				w.sl(entry[1], push(ctx, extract.FrameConditional, ""))
			}
		}
	case o.Is("SLFor"):
		w.children(o, push(ctx, extract.FrameConditional, ""))
	case o.Is("SLUse"):
		w.sl(o.Attr("block"), ctx)
	case o.Is("SLPython"):
		w.code(o.Attr("code"), line, push(ctx, extract.FramePython, ""))
	case o.Is("SLDefault", "SLPass", "SLBreak", "SLContinue"):
	default:
		w.children(o, ctx)
	}
}

func (w *walker) children(o *unpickle.Object, ctx []extract.Frame) {
	for _, c := range unpickle.AsSlice(o.Attr("children")) {
		w.sl(c, ctx)
	}
}

// expr handles a screen argument expression. A bare string literal is the
// displayed text; anything else goes through the code scanner, with
// translation markers taking the argument's type.
func (w *walker) expr(v any, line int, ctx []extract.Frame, typ extract.TextType) {
	src, _ := codeSource(v)
	src = strings.TrimSpace(src)
	if src == "" {
		return
	}
	if lit, ok := bareLiteral(src); ok {
		if !lit.bytes {
			w.emit(lit.value, line, ctx, typ, "", true)
		}
		return
	}
	for _, l := range ScanCode(src) {
		if l.Type == extract.TypeFunction {
			l.Type = typ
		}
		w.emit(l.Text, line+l.Line, ctx, l.Type, l.Character, true)
	}
}

type bare struct {
	stringLit
	bytes bool
}

// bareLiteral reports whether src is exactly one string literal.
func bareLiteral(src string) (bare, bool) {
	j := 0
	for j < len(src) && isIdent(src[j]) {
		j++
	}
	prefix := strings.ToLower(src[:j])
	if j >= len(src) || (src[j] != '"' && src[j] != '\'') || (j > 0 && !isStringPrefix(prefix)) {
		return bare{}, false
	}
	lit, end, ok := readString(src, j, prefix)
	if !ok || end != len(src) {
		return bare{}, false
	}
	return bare{stringLit: lit, bytes: strings.Contains(prefix, "b")}, true
}

// ---------------------------------------------------------------------------
// Code fragments
// ---------------------------------------------------------------------------

func (w *walker) code(v any, line int, ctx []extract.Frame) {
	src, codeLine := codeSource(v)
	if codeLine > 0 {
		line = codeLine
	}
	for _, l := range ScanCode(src) {
		w.literal(l, line, ctx)
	}
}

func (w *walker) literal(l Literal, line int, ctx []extract.Frame) {
	w.emit(l.Text, line+l.Line, ctx, l.Type, l.Character, false)
}

func (w *walker) emit(text string, line int, ctx []extract.Frame, typ extract.TextType, who string, structural bool) {
	if ok, reason := w.x.Filter.Meaningful(text, typ); !ok {
		if w.x.OnSkip != nil {
			w.x.OnSkip(w.file, line, text, reason)
		}
		return
	}
	r := extract.NewRecord(text, w.file, line, ctx, typ, who)
	r.Structural = structural
	w.records = append(w.records, r)
}

// codeSource returns the source text of a PyCode, PyExpr or plain string,
// and the line it starts on when known.
func codeSource(v any) (string, int) {
	o, ok := v.(*unpickle.Object)
	if !ok {
		s, _ := unpickle.AsString(v)
		return s, 0
	}
	// PyCode pickles its state as (version, source, location, mode, ...).
	if st, ok := o.State.(unpickle.Tuple); ok && len(st) >= 2 {
		src, _ := unpickle.AsString(st[1])
		line := 0
		if len(st) >= 3 {
			if loc := unpickle.AsSlice(st[2]); len(loc) > 1 {
				if n, ok := loc[1].(int64); ok {
					line = int(n)
				}
			}
		}
		if line == 0 {
			line = exprLine(st[1])
		}
		return src, line
	}
	if src := o.Attr("source"); src != nil {
		s, _ := unpickle.AsString(src)
		return s, exprLine(src)
	}
	s, _ := unpickle.AsString(o)
	return s, exprLine(o)
}

// exprLine reads the line number a PyExpr carries as its third argument.
func exprLine(v any) int {
	if o, ok := v.(*unpickle.Object); ok && len(o.Args) > 2 {
		if n, ok := o.Args[2].(int64); ok {
			return int(n)
		}
	}
	return 0
}

// lineOf returns a node's line number from linenumber or location.
func lineOf(o *unpickle.Object) int {
	if n := o.AttrInt("linenumber"); n > 0 {
		return n
	}
	if loc := unpickle.AsSlice(o.Attr("location")); len(loc) > 1 {
		if n, ok := loc[1].(int64); ok {
			return int(n)
		}
	}
	return 0
}
