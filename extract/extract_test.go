package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"unicode/utf8"
)

const sampleScript = `define e = Character("Eileen", color="#c8ffc8")

label start:
    scene bg room
    e "Hello [player_name], you scored {b}100{/b}!"
    "It was a quiet evening."
    e happy "Let's go."
    menu:
        "Go left":
            jump left
        "Go right" if brave:
            e "Bold choice."
    $ renpy.notify(_("Saved!"))
    play music "audio/theme.ogg"
    return

label secret hide:
    e "Never extracted."

translate french start_1234:
    e "Bonjour"

screen main_menu():
    textbutton _("Start") action Start()
    text "Welcome back"
    text "100"
    add "gui/overlay.png"

init python:
    greeting = _("Good morning")
    style_name = "default"
`

func TestParseScript(t *testing.T) {
	t.Parallel()

	var skipped []string
	p := NewParser(nil)
	p.OnSkip = func(file string, line int, text, reason string) {
		skipped = append(skipped, reason)
	}
	recs := p.Parse("script.rpy", sampleScript)

	type want struct {
		text      string
		typ       TextType
		character string
		context   string
		line      int
	}
	wants := []want{
		{"Eileen", TypeFunction, "", "", 1},
		{"Hello [player_name], you scored {b}100{/b}!", TypeDialogue, "e", "label:start", 5},
		{"It was a quiet evening.", TypeNarration, "", "label:start", 6},
		{"Let's go.", TypeDialogue, "e", "label:start", 7},
		{"Go left", TypeMenu, "", "label:start/menu", 9},
		{"Go right", TypeMenu, "", "label:start/menu", 11},
		{"Bold choice.", TypeDialogue, "e", "label:start/menu", 12},
		{"Saved!", TypeNotify, "", "label:start", 13},
		{"Start", TypeButton, "", "screen:main_menu", 24},
		{"Welcome back", TypeUI, "", "screen:main_menu", 25},
		{"Good morning", TypeFunction, "", "python", 30},
	}

	if len(recs) != len(wants) {
		for _, r := range recs {
			t.Log(Describe(r))
		}
		t.Fatalf("Parse returned %d records, want %d", len(recs), len(wants))
	}
	for i, w := range wants {
		r := recs[i]
		if r.RawText != w.text {
			t.Errorf("record %d text = %q, want %q", i, r.RawText, w.text)
		}
		if r.Type != w.typ {
			t.Errorf("record %d (%q) type = %q, want %q", i, w.text, r.Type, w.typ)
		}
		if r.Character != w.character {
			t.Errorf("record %d (%q) character = %q, want %q", i, w.text, r.Character, w.character)
		}
		if got := r.ContextPath(); got != w.context {
			t.Errorf("record %d (%q) context = %q, want %q", i, w.text, got, w.context)
		}
		if r.Line != w.line {
			t.Errorf("record %d (%q) line = %d, want %d", i, w.text, r.Line, w.line)
		}
		if r.File != "script.rpy" {
			t.Errorf("record %d file = %q", i, r.File)
		}
	}

	if !reflect.DeepEqual(skipped, []string{"number"}) {
		t.Errorf("skipped reasons = %v, want [number]", skipped)
	}

	// The dialogue line is protected for translation.
	if len(recs[1].Placeholders) != 3 {
		t.Errorf("placeholders = %d, want 3", len(recs[1].Placeholders))
	}
}

func TestParseMultiline(t *testing.T) {
	t.Parallel()

	script := `label intro:
    e """
    First line
    second line
    """
    $ about = _p("""
        This is a long
        paragraph.

        Second one.
        """)
    "After"
`
	recs := NewParser(nil).Parse("intro.rpy", script)
	if len(recs) != 3 {
		t.Fatalf("Parse returned %d records, want 3", len(recs))
	}

	if recs[0].RawText != "First line\nsecond line" {
		t.Errorf("dialogue text = %q", recs[0].RawText)
	}
	if recs[0].Type != TypeDialogue || recs[0].Character != "e" || recs[0].Line != 2 {
		t.Errorf("dialogue record = %+v", recs[0])
	}
	if want := "This is a long paragraph.\n\nSecond one."; recs[1].RawText != want {
		t.Errorf("paragraph text = %q, want %q", recs[1].RawText, want)
	}
	if recs[1].Type != TypeParagraph || recs[1].Line != 6 {
		t.Errorf("paragraph record = %+v", recs[1])
	}
	if recs[2].RawText != "After" || recs[2].Line != 12 || recs[2].ContextPath() != "label:intro" {
		t.Errorf("record after multiline = %+v", recs[2])
	}
}

func TestParseUnterminatedString(t *testing.T) {
	t.Parallel()

	var reasons []string
	p := NewParser(nil)
	p.OnSkip = func(file string, line int, text, reason string) {
		reasons = append(reasons, reason)
	}
	recs := p.Parse("broken.rpy", "label a:\n    e \"\"\"never\n    closed\n")
	if len(recs) != 0 {
		t.Errorf("Parse returned %d records, want 0", len(recs))
	}
	if len(reasons) != 1 || reasons[0] != "unterminated string" {
		t.Errorf("reasons = %v", reasons)
	}
}

func TestMeaningful(t *testing.T) {
	t.Parallel()

	f := DefaultFilter()
	tests := []struct {
		text   string
		typ    TextType
		ok     bool
		reason string
	}{
		{text: "Hello there", typ: TypeDialogue, ok: true},
		{text: "Hi!", typ: TypeUI, ok: true},
		{text: "hmm", typ: TypeDialogue, ok: true},
		{text: "a", typ: TypeDialogue, reason: "too short"},
		{text: `old "x"`, typ: TypeFunction, reason: "translation syntax"},
		{text: "[name]", typ: TypeDialogue, reason: "placeholder only"},
		{text: "dissolve", typ: TypeFunction, reason: "technical term"},
		{text: "#ff0000", typ: TypeStyle, reason: "color"},
		{text: "100", typ: TypeUI, reason: "number"},
		{text: "1.2.3", typ: TypeConfig, reason: "number"},
		{text: "images/bg.png", typ: TypeFunction, reason: "file path"},
		{text: "player_name", typ: TypeFunction, reason: "identifier"},
		{text: "renpy.notify", typ: TypeFunction, reason: "identifier"},
		{text: "Start()", typ: TypeFunction, reason: "code"},
		{text: "hmm", typ: TypeUI, reason: "identifier"},
		{text: "--", typ: TypeDialogue, reason: "no letters"},
	}

	for _, tc := range tests {
		t.Run(tc.text+"/"+string(tc.typ), func(t *testing.T) {
			ok, reason := f.Meaningful(tc.text, tc.typ)
			if ok != tc.ok || reason != tc.reason {
				t.Errorf("Meaningful(%q, %s) = %v, %q, want %v, %q", tc.text, tc.typ, ok, reason, tc.ok, tc.reason)
			}
		})
	}

	f.Extend([]string{"Custom Term"}, []string{"dat"})
	if ok, _ := f.Meaningful("custom term", TypeDialogue); ok {
		t.Error("extended denylist term was accepted")
	}
	if ok, reason := f.Meaningful("save.dat", TypeFunction); ok || reason != "file path" {
		t.Errorf("Meaningful(save.dat) = %v, %q, want file path", ok, reason)
	}
}

func TestMatchLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line      string
		ok        bool
		rule      Rule
		character string
		literals  []string
	}{
		{line: `e "Hi"`, ok: true, rule: RuleDialogue, character: "e", literals: []string{`"Hi"`}},
		{line: `"Just text" with dissolve`, ok: true, rule: RuleNarrator, literals: []string{`"Just text"`}},
		{line: `"Choice" if x:`, ok: true, rule: RuleMenuChoice, literals: []string{`"Choice"`}},
		{line: `textbutton _("Load") action ShowMenu("load")`, ok: true, rule: RuleButton, literals: []string{`"Load"`}},
		{line: `x = _("A") + _("B")`, ok: true, rule: RuleFunctionArg, literals: []string{`"A"`, `"B"`}},
		{line: `define config.name = _("My Game")`, ok: true, rule: RuleConfig, literals: []string{`"My Game"`}},
		{line: `add "bg.png" alt "Background"`, ok: true, rule: RuleAlt, literals: []string{`"Background"`}},
		{line: `$ name = renpy.input("Your name?")`, ok: true, rule: RuleInput, literals: []string{`"Your name?"`}},
		{line: `play music "theme.ogg"`, ok: false},
		{line: `jump ending`, ok: false},
	}

	for _, tc := range tests {
		t.Run(tc.line, func(t *testing.T) {
			m, ok := MatchLine(tc.line, nil)
			if ok != tc.ok {
				t.Fatalf("MatchLine(%q) ok = %v, want %v (%+v)", tc.line, ok, tc.ok, m)
			}
			if !ok {
				return
			}
			if m.Rule != tc.rule {
				t.Errorf("rule = %s, want %s", m.Rule, tc.rule)
			}
			if m.Character != tc.character {
				t.Errorf("character = %q, want %q", m.Character, tc.character)
			}
			if !reflect.DeepEqual(m.Literals, tc.literals) {
				t.Errorf("literals = %q, want %q", m.Literals, tc.literals)
			}
		})
	}
}

func TestUnquote(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{`"Say \"hi\""`, `Say "hi"`},
		{`'it\'s'`, "it's"},
		{`"""tri"""`, "tri"},
		{`"a\nb"`, "a\nb"},
		{`"keep \w"`, `keep \w`},
		{`u"prefixed"`, "prefixed"},
	}
	for _, tc := range tests {
		if got := Unquote(tc.in); got != tc.want {
			t.Errorf("Unquote(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFindScripts(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	game := filepath.Join(tmp, "game")
	for _, rel := range []string{
		"script.rpy",
		"tl/french/script.rpy",
		"renpy/common.rpy",
		"sub/screens.rpyc",
		"archive.rpa",
		"notes.txt",
	} {
		p := filepath.Join(game, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := FindScripts([]string{game})
	if err != nil {
		t.Fatalf("FindScripts: %v", err)
	}
	want := []string{
		filepath.Join(game, "archive.rpa"),
		filepath.Join(game, "script.rpy"),
		filepath.Join(game, "sub", "screens.rpyc"),
	}
	if !reflect.DeepEqual(files, want) {
		t.Fatalf("FindScripts = %v, want %v", files, want)
	}
	if got := DescribeFiles(files); got != "1 source, 1 compiled, 1 archive" {
		t.Errorf("DescribeFiles = %q", got)
	}
	if got := RelPath(game, files[2]); got != "sub/screens.rpyc" {
		t.Errorf("RelPath = %q", got)
	}
}

func TestDecodeText(t *testing.T) {
	t.Parallel()

	got, err := DecodeText(append([]byte{0xEF, 0xBB, 0xBF}, "bom"...))
	if err != nil || got != "bom" {
		t.Errorf("DecodeText(BOM) = %q, %v", got, err)
	}
	if _, err := DecodeText([]byte("a\x00b")); !errors.Is(err, ErrBinary) {
		t.Errorf("DecodeText(NUL) error = %v, want ErrBinary", err)
	}
	latin := []byte("label start:\n    e \"Caf\xe9 cr\xe8me br\xfbl\xe9e, tr\xe8s d\xe9licieux.\"\n")
	got, err = DecodeText(latin)
	if err != nil {
		t.Fatalf("DecodeText(latin-1): %v", err)
	}
	if !utf8.ValidString(got) {
		t.Errorf("DecodeText(latin-1) returned invalid UTF-8: %q", got)
	}
}

func TestParseSources(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	a := filepath.Join(tmp, "a.rpy")
	b := filepath.Join(tmp, "b.rpy")
	missing := filepath.Join(tmp, "missing.rpy")
	if err := os.WriteFile(a, []byte("label a:\n    \"First file\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("label b:\n    \"Second file\"\n    \"More text\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	results, err := ParseSources(context.Background(), NewParser(nil), tmp, []string{a, b, missing}, 2)
	if err != nil {
		t.Fatalf("ParseSources: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	if len(results[0].Records) != 1 || results[0].Records[0].File != "a.rpy" {
		t.Errorf("results[0] = %+v", results[0])
	}
	if len(results[1].Records) != 2 {
		t.Errorf("results[1] has %d records, want 2", len(results[1].Records))
	}
	if results[2].Err == nil {
		t.Error("missing file has no error")
	}
}

func TestWorkerPool(t *testing.T) {
	t.Parallel()

	p := NewWorkerPool(4, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	var ran int32
	boom := errors.New("boom")
	for i := 0; i < 100; i++ {
		i := i
		if err := p.Submit(func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			if i == 50 {
				return boom
			}
			return nil
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if err := p.Close(); !errors.Is(err, boom) {
		t.Errorf("Close() = %v, want boom", err)
	}
	if got := atomic.LoadInt32(&ran); got != 100 {
		t.Errorf("ran %d jobs, want 100", got)
	}
	if err := p.Submit(func(ctx context.Context) error { return nil }); err != ErrPoolClosed {
		t.Errorf("Submit after Close = %v, want ErrPoolClosed", err)
	}
}
