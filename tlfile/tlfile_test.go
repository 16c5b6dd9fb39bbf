package tlfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/minios-linux/renlokit/extract"
)

const stringsFile = "\ufeff# TODO: Translation updated at 2024-05-01 10:00\n" +
	"\n" +
	"translate turkish strings:\n" +
	"\n" +
	"    # game/screens.rpy:10\n" +
	"    old \"Start\"\n" +
	"    new \"Başla\"\n" +
	"\n" +
	"    # game/screens.rpy:12\n" +
	"    old \"Load Game\"\n" +
	"    new \"\"\n"

const dialogueFile = "# game/script.rpy:5\n" +
	"translate turkish start_a170b500:\n" +
	"\n" +
	"    # e \"Hello [player_name], you scored {b}100{/b}!\"\n" +
	"    e \"\" with dissolve\n" +
	"\n" +
	"# game/script.rpy:7\n" +
	"translate turkish start_b2c3d4e5:\n" +
	"\n" +
	"    # \"It was a \\\"quiet\\\" night.\"\n" +
	"    voice \"v01.ogg\"\n" +
	"    \"\"\n" +
	"\n" +
	"label after:\n" +
	"    # e \"Not a translation\"\n" +
	"    e \"ignored\"\n"

func TestIdentifierStable(t *testing.T) {
	t.Parallel()

	base := Identifier("game/script.rpy", 12, "label:start/menu", "Hello\nworld")
	if len(base) != 16 {
		t.Fatalf("len(Identifier()) = %d, want 16", len(base))
	}
	if again := Identifier("game/script.rpy", 12, "label:start/menu", "Hello\nworld"); again != base {
		t.Errorf("Identifier() not deterministic: %s != %s", again, base)
	}

	same := []struct {
		name string
		path string
		text string
	}{
		{"windows path", `game\script.rpy`, "Hello\nworld"},
		{"crlf", "game/script.rpy", "Hello\r\nworld"},
		{"cr", "game/script.rpy", "Hello\rworld"},
		{"escaped newline", "game/script.rpy", `Hello\nworld`},
		{"quoted", "game/script.rpy", "\"Hello\nworld\""},
	}
	for _, tc := range same {
		t.Run(tc.name, func(t *testing.T) {
			if got := Identifier(tc.path, 12, "label:start/menu", tc.text); got != base {
				t.Errorf("Identifier(%q, %q) = %s, want %s", tc.path, tc.text, got, base)
			}
		})
	}

	differ := []struct {
		name string
		id   string
	}{
		{"line", Identifier("game/script.rpy", 13, "label:start/menu", "Hello\nworld")},
		{"context", Identifier("game/script.rpy", 12, "label:start", "Hello\nworld")},
		{"path", Identifier("game/other.rpy", 12, "label:start/menu", "Hello\nworld")},
		{"text", Identifier("game/script.rpy", 12, "label:start/menu", "Hello world")},
	}
	for _, tc := range differ {
		if tc.id == base {
			t.Errorf("changing %s kept identifier %s", tc.name, base)
		}
	}
}

func TestEscape(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{`say "hi"`, `say \"hi\"`},
		{`C:\games`, `C:\\games`},
		{"a\r\nb", `a\nb`},
		{"a\tb", `a\tb`},
		{"[name] {b}x{/b}", "[name] {b}x{/b}"},
	}
	for _, tc := range tests {
		got := Escape(tc.in)
		if got != tc.want {
			t.Errorf("Escape(%q) = %q, want %q", tc.in, got, tc.want)
		}
		back := Unescape(got)
		if want := strings.ReplaceAll(tc.in, "\r", ""); back != want {
			t.Errorf("Unescape(%q) = %q, want %q", got, back, want)
		}
	}
	if got := Unescape(`keep \% and \x`); got != `keep \% and \x` {
		t.Errorf("Unescape() of unknown escapes = %q", got)
	}
}

func TestParseStrings(t *testing.T) {
	t.Parallel()

	f := Parse(stringsFile)
	if !f.BOM {
		t.Error("BOM = false, want true")
	}
	if f.Lang != "turkish" {
		t.Errorf("Lang = %q, want turkish", f.Lang)
	}
	if len(f.Entries) != 2 {
		t.Fatalf("len(Entries) = %d, want 2", len(f.Entries))
	}
	e := f.Entries[0]
	if e.Original != "Start" || e.Translation != "Başla" || e.Kind != KindString {
		t.Errorf("Entries[0] = %+v", e)
	}
	if e.Source != "game/screens.rpy:10" {
		t.Errorf("Source = %q, want game/screens.rpy:10", e.Source)
	}
	if want := Identifier("game/screens.rpy", 10, StringsBlock, "Start"); e.ID != want {
		t.Errorf("ID = %s, want %s", e.ID, want)
	}
	if f.Lines[e.OrigLine] != `    old "Start"` || f.Lines[e.TransLine] != `    new "Başla"` {
		t.Errorf("line indices = %d/%d", e.OrigLine, e.TransLine)
	}
	if got := f.Stats(); got.Total != 2 || got.Translated != 1 || got.Untranslated != 1 || got.Progress != 50 {
		t.Errorf("Stats() = %+v", got)
	}
	if u := f.Untranslated(); len(u) != 1 || u[0].Original != "Load Game" {
		t.Errorf("Untranslated() = %v", u)
	}
}

func TestParseDialogue(t *testing.T) {
	t.Parallel()

	f := Parse(dialogueFile)
	if len(f.Entries) != 2 {
		t.Fatalf("len(Entries) = %d, want 2", len(f.Entries))
	}

	d := f.Entries[0]
	if d.Kind != KindDialogue || d.Character != "e" || d.Block != "start_a170b500" {
		t.Errorf("dialogue entry = %+v", d)
	}
	if d.Original != "Hello [player_name], you scored {b}100{/b}!" {
		t.Errorf("dialogue Original = %q", d.Original)
	}
	if d.Source != "game/script.rpy:5" {
		t.Errorf("dialogue Source = %q", d.Source)
	}

	n := f.Entries[1]
	if n.Kind != KindNarrator || n.Original != `It was a "quiet" night.` {
		t.Errorf("narrator entry = %+v", n)
	}
	if f.Lines[n.TransLine] != `    ""` {
		t.Errorf("narrator TransLine = %q, want the bare string line", f.Lines[n.TransLine])
	}
}

func TestUpdateEmptyIsIdentity(t *testing.T) {
	t.Parallel()

	for name, content := range map[string]string{
		"strings":  stringsFile,
		"dialogue": dialogueFile,
		"crlf":     strings.ReplaceAll(stringsFile, "\n", "\r\n"),
		"no eol":   strings.TrimSuffix(stringsFile, "\n"),
	} {
		t.Run(name, func(t *testing.T) {
			f := Parse(content)
			got, changed := f.Update(nil)
			if changed || got != content {
				t.Errorf("Update(nil) changed = %v, content equal = %v", changed, got == content)
			}
			again, _ := Parse(got).Update(map[string]string{})
			if again != content {
				t.Error("second pass not byte-identical")
			}
		})
	}
}

func TestUpdateTouchesOnlyMatchedEntry(t *testing.T) {
	t.Parallel()

	f := Parse(stringsFile)
	got, changed := f.Update(map[string]string{"Load Game": `Oyunu "Yükle"`})
	if !changed {
		t.Fatal("changed = false, want true")
	}

	want := strings.Replace(stringsFile, "    new \"\"\n", "    new \"Oyunu \\\"Yükle\\\"\"\n", 1)
	if got != want {
		t.Errorf("Update() =\n%s\nwant\n%s", got, want)
	}
	before := strings.Split(stringsFile, "\n")
	after := strings.Split(got, "\n")
	diff := 0
	for i := range before {
		if before[i] != after[i] {
			diff++
		}
	}
	if diff != 1 {
		t.Errorf("%d lines changed, want 1", diff)
	}

	if _, changed := f.Update(map[string]string{"Load Game": `Oyunu "Yükle"`}); changed {
		t.Error("repeating the same update reported a change")
	}
}

func TestUpdateByIDKeepsSpeakerAndClause(t *testing.T) {
	t.Parallel()

	f := Parse(dialogueFile)
	d := f.Entries[0]
	got, changed := f.Update(map[string]string{
		d.ID:          "Merhaba [player_name], {b}100{/b} puan!",
		"unknown key": "x",
	})
	if !changed {
		t.Fatal("changed = false, want true")
	}
	line := strings.Split(got, "\n")[d.TransLine]
	if want := `    e "Merhaba [player_name], {b}100{/b} puan!" with dissolve`; line != want {
		t.Errorf("translation line = %q, want %q", line, want)
	}
	if f.Lookup(d.ID).Translation != "Merhaba [player_name], {b}100{/b} puan!" {
		t.Error("entry translation not updated")
	}
	if !strings.Contains(got, "    e \"ignored\"\n") {
		t.Error("line outside a translate block was modified")
	}
}

func TestMerge(t *testing.T) {
	t.Parallel()

	existing := Parse(stringsFile)
	records := []extract.Record{
		extract.NewRecord("Start", "game/screens.rpy", 10, nil, extract.TypeButton, ""),
		extract.NewRecord("Preferences", "game/screens.rpy", 20, nil, extract.TypeButton, ""),
		extract.NewRecord("Hello", `game\script.rpy`, 3, nil, extract.TypeDialogue, "e"),
		extract.NewRecord("Preferences", "game/options.rpy", 4, nil, extract.TypeUI, ""),
		extract.NewRecord("42", "game/screens.rpy", 30, nil, extract.TypeUI, ""),
	}

	merged, added := Merge(existing, records, "turkish")
	if added != 2 {
		t.Fatalf("added = %d, want 2", added)
	}
	content := merged.Content()
	if !strings.HasPrefix(content, stringsFile) {
		t.Error("merge modified existing content")
	}
	tail := strings.TrimPrefix(content, stringsFile)
	want := "\ntranslate turkish strings:\n" +
		"\n    # game/screens.rpy:20\n    old \"Preferences\"\n    new \"\"\n" +
		"\n    # game/script.rpy:3\n    old \"Hello\"\n    new \"\"\n"
	if tail != want {
		t.Errorf("appended block =\n%q\nwant\n%q", tail, want)
	}
	if len(merged.Entries) != 4 {
		t.Errorf("len(Entries) = %d, want 4", len(merged.Entries))
	}

	again, added := Merge(merged, records, "turkish")
	if added != 0 || again.Content() != content {
		t.Errorf("second Merge() added %d entries", added)
	}
}

func TestMergedEntryMatchesRecordID(t *testing.T) {
	t.Parallel()

	label := []extract.Frame{{Kind: extract.FrameLabel, Name: "start"}}
	records := []extract.Record{
		extract.NewRecord("Welcome to the harbor.", "game/script.rpy", 4, label, extract.TypeNarration, ""),
		extract.NewRecord("Hello [player].", `game\script.rpy`, 6, label, extract.TypeDialogue, "e"),
		extract.NewRecord("Start", "game/screens.rpy", 10, nil, extract.TypeButton, ""),
	}
	f, added := Merge(nil, records, "turkish")
	if added != len(records) {
		t.Fatalf("added = %d, want %d", added, len(records))
	}
	for _, rec := range records {
		e := f.Lookup(rec.RawText)
		if e == nil {
			t.Errorf("Lookup(%q) = nil", rec.RawText)
			continue
		}
		if got := RecordID(rec); got != e.ID {
			t.Errorf("RecordID(%q) = %s, want entry ID %s", rec.RawText, got, e.ID)
		}
	}
}

func TestMergeNewFileAndWrite(t *testing.T) {
	t.Parallel()

	records := []extract.Record{
		extract.NewRecord("Quit", "game/screens.rpy", 8, nil, extract.TypeButton, ""),
	}
	f, added := Merge(nil, records, "french")
	if added != 1 || f.Lang != "french" {
		t.Fatalf("Merge(nil) added = %d, Lang = %q", added, f.Lang)
	}
	content, _ := f.Update(map[string]string{"Quit": "Quitter"})

	path := filepath.Join(t.TempDir(), "tl", "french", "strings.rpy")
	if err := WriteFile(path, strings.ReplaceAll(content, "\n", "\r\n")); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "\ufeff") {
		t.Error("written file has no BOM")
	}
	if strings.Contains(string(data), "\r") {
		t.Error("written file contains CR")
	}
	if strings.Count(string(data), "\ufeff") != 1 {
		t.Error("BOM duplicated")
	}

	parsed, err := ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if e := parsed.Lookup("Quit"); e == nil || e.Translation != "Quitter" {
		t.Errorf("Lookup(Quit) = %+v", e)
	}
}

func TestParseDirAndCollect(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := WriteFile(filepath.Join(dir, "screens.rpy"), stringsFile); err != nil {
		t.Fatal(err)
	}
	if err := WriteFile(filepath.Join(dir, "sub", "script.rpy"), dialogueFile); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	files, err := ParseDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("len(ParseDir()) = %d, want 2", len(files))
	}
	s := Collect(files)
	if s.Total != 4 || s.Translated != 1 || s.Untranslated != 3 {
		t.Errorf("Collect() = %+v", s)
	}
}

func TestTrivial(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"", true},
		{"a", true},
		{"42", true},
		{"1.5%", true},
		{"OK", false},
		{"Уровень 2", false},
	}
	for _, tc := range tests {
		if got := Trivial(tc.in); got != tc.want {
			t.Errorf("Trivial(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestLanguageInitFile(t *testing.T) {
	t.Parallel()

	rel, content := LanguageInitFile("turkish")
	if rel != "tl/turkish/a0_turkish_language.rpy" {
		t.Errorf("rel = %q", rel)
	}
	if content != "define config.language = \"turkish\"\n" {
		t.Errorf("content = %q", content)
	}
}
