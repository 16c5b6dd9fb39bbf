package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/minios-linux/renlokit/diagnostics"
	"github.com/minios-linux/renlokit/lockfile"
	"github.com/minios-linux/renlokit/tlfile"
	"github.com/minios-linux/renlokit/translate"
)

const script = `define e = Character("Eileen")

label start:
    e "Hello there."
    "It was a quiet evening."
    menu:
        "Go left":
            return

screen main_menu():
    textbutton _("Start") action Start()
`

func newProject(t *testing.T, content string) string {
	t.Helper()
	root := t.TempDir()
	game := filepath.Join(root, "game")
	if err := os.MkdirAll(game, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(game, "script.rpy"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

// stubEngine returns a fixed answer or error for every text.
type stubEngine struct {
	answer string
	err    error
}

func (s *stubEngine) Name() string { return "stub" }

func (s *stubEngine) Translate(_ context.Context, texts []string, _, _ string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]string, len(texts))
	for i := range out {
		out[i] = s.answer
	}
	return out, nil
}

func pseudoOptions(root string) Options {
	m := translate.NewManager(translate.Options{Engines: []translate.Engine{translate.NewPseudo(translate.PseudoAccent)}})
	return Options{Root: root, Language: "turkish", Engine: translate.EnginePseudo, Manager: m}
}

func stringsFile(t *testing.T, root string) *tlfile.File {
	t.Helper()
	f, err := tlfile.ParseFile(filepath.Join(root, "game", "tl", "turkish", StringsFileName))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	return f
}

func TestRunTranslatesAndWrites(t *testing.T) {
	root := newProject(t, script)
	opts := pseudoOptions(root)
	opts.DiagnosticsPath = filepath.Join(root, "report.json")

	var stages []Stage
	var finished *Result
	lastDone, lastTotal := 0, 0
	opts.OnStage = func(s Stage, _ string) { stages = append(stages, s) }
	opts.OnProgress = func(done, total int, _ string) { lastDone, lastTotal = done, total }
	opts.OnFinished = func(r Result) { finished = &r }

	res := New(opts).Run(context.Background())
	if !res.Success || res.Stage != StageCompleted {
		t.Fatalf("Run() = %+v", res)
	}
	want := []Stage{StageValidating, StageParsing, StageGenerating, StageTranslating, StageSaving, StageCompleted}
	if !reflect.DeepEqual(stages, want) {
		t.Errorf("stages = %v, want %v", stages, want)
	}
	if finished == nil || finished.Written != res.Written {
		t.Error("OnFinished not called with the result")
	}
	if lastDone != 5 || lastTotal != 5 {
		t.Errorf("progress = %d/%d, want 5/5", lastDone, lastTotal)
	}
	if res.Extracted != 5 || res.Added != 5 || res.Translated != 5 || res.Written != 5 {
		t.Errorf("counts = %+v", res)
	}
	if res.Stats.Total != 5 || res.Stats.Untranslated != 0 {
		t.Errorf("Stats = %+v", res.Stats)
	}
	if res.OutputDir != filepath.Join(root, "game", "tl", "turkish") {
		t.Errorf("OutputDir = %q", res.OutputDir)
	}

	f := stringsFile(t, root)
	e := f.Lookup("Hello there.")
	if e == nil || e.Pending() || e.Translation == "Hello there." {
		t.Fatalf("entry = %+v", e)
	}
	if e.Source != "game/script.rpy:4" {
		t.Errorf("Source = %q", e.Source)
	}

	rel, _ := tlfile.LanguageInitFile("turkish")
	if _, err := os.Stat(filepath.Join(root, "game", filepath.FromSlash(rel))); err != nil {
		t.Errorf("language init file: %v", err)
	}

	lock, err := lockfile.Load(root)
	if err != nil {
		t.Fatal(err)
	}
	if !lock.MachineWritten("turkish", "Hello there.", e.Translation) {
		t.Error("lock file does not record the written translation")
	}

	report, err := diagnostics.Load(opts.DiagnosticsPath)
	if err != nil {
		t.Fatalf("diagnostics: %v", err)
	}
	if report.Totals.Extracted != 5 || report.Totals.Written != 5 {
		t.Errorf("report totals = %+v", report.Totals)
	}
}

func TestRunIsIncremental(t *testing.T) {
	root := newProject(t, script)
	if res := New(pseudoOptions(root)).Run(context.Background()); !res.Success {
		t.Fatalf("first Run() = %+v", res)
	}
	before, err := os.ReadFile(filepath.Join(root, "game", "tl", "turkish", StringsFileName))
	if err != nil {
		t.Fatal(err)
	}

	res := New(pseudoOptions(root)).Run(context.Background())
	if !res.Success || res.Added != 0 || res.Translated != 0 || res.Written != 0 {
		t.Errorf("second Run() = %+v", res)
	}
	after, _ := os.ReadFile(filepath.Join(root, "game", "tl", "turkish", StringsFileName))
	if string(after) != string(before) {
		t.Error("second run changed strings.rpy")
	}

	// A new line in the game only adds its own entry.
	updated := script + "\nlabel ending:\n    \"The end.\"\n"
	if err := os.WriteFile(filepath.Join(root, "game", "script.rpy"), []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}
	res = New(pseudoOptions(root)).Run(context.Background())
	if res.Added != 1 || res.Written != 1 {
		t.Errorf("third Run() = %+v, want 1 added and written", res)
	}
}

func TestRetranslateKeepsHandEdits(t *testing.T) {
	root := newProject(t, script)
	if res := New(pseudoOptions(root)).Run(context.Background()); !res.Success {
		t.Fatalf("Run() = %+v", res)
	}

	f := stringsFile(t, root)
	content, _ := f.Update(map[string]string{"Hello there.": "Merhaba."})
	if err := tlfile.WriteFile(f.Path, content); err != nil {
		t.Fatal(err)
	}

	opts := pseudoOptions(root)
	opts.Retranslate = true
	res := New(opts).Run(context.Background())
	if !res.Success {
		t.Fatalf("Run() = %+v", res)
	}
	// The four machine translations come back identical and count once.
	if res.Translated != 0 || res.Unchanged != 4 || res.Written != 0 {
		t.Errorf("counts = %+v", res)
	}
	if got := stringsFile(t, root).Lookup("Hello there.").Translation; got != "Merhaba." {
		t.Errorf("hand edit replaced with %q", got)
	}
}

func TestRunOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		engine    *stubEngine
		skipped   int
		unchanged int
	}{
		{
			name:      "dropped placeholder falls back",
			content:   "label start:\n    \"Hello [player].\"\n",
			engine:    &stubEngine{answer: "Merhaba."},
			unchanged: 1,
		},
		{
			name:    "engine failure skips",
			content: "label start:\n    \"Hello.\"\n",
			engine:  &stubEngine{err: &translate.PermanentError{Engine: "stub", Msg: "no key"}},
			skipped: 1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			root := newProject(t, tc.content)
			m := translate.NewManager(translate.Options{
				Engines:     []translate.Engine{tc.engine},
				RetryDelays: []time.Duration{time.Millisecond},
			})
			res := New(Options{Root: root, Language: "turkish", Engine: "stub", Manager: m}).Run(context.Background())
			if !res.Success {
				t.Fatalf("Run() = %+v", res)
			}
			if res.Skipped != tc.skipped || res.Unchanged != tc.unchanged || res.Written != 0 {
				t.Errorf("counts = %+v, want %d skipped, %d unchanged", res, tc.skipped, tc.unchanged)
			}
			if len(stringsFile(t, root).Untranslated()) != 1 {
				t.Error("entry should stay pending")
			}
		})
	}
}

func TestGenerateOnly(t *testing.T) {
	root := newProject(t, script)
	res := New(Options{Root: root, Language: "turkish", GenerateOnly: true}).Run(context.Background())
	if !res.Success || res.Added != 5 || res.Translated != 0 {
		t.Fatalf("Run() = %+v", res)
	}
	if got := len(stringsFile(t, root).Untranslated()); got != 5 {
		t.Errorf("pending entries = %d, want 5", got)
	}
	data, _ := os.ReadFile(filepath.Join(root, "game", "tl", "turkish", StringsFileName))
	if !strings.HasPrefix(string(data), "\ufeff# Translation file generated by renlokit.") {
		t.Errorf("strings.rpy starts with %q", string(data[:min(len(data), 40)]))
	}
}

func TestConfigurationFailures(t *testing.T) {
	root := newProject(t, script)
	m := translate.NewManager(translate.Options{})
	tests := []struct {
		name string
		opts Options
	}{
		{"no engine", Options{Root: root, Language: "turkish"}},
		{"no language", Options{Root: root, Engine: "google", Manager: m}},
		{"no game", Options{Root: t.TempDir(), Language: "turkish", Engine: "google", Manager: m}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var stages []Stage
			tc.opts.OnStage = func(s Stage, _ string) { stages = append(stages, s) }
			res := New(tc.opts).Run(context.Background())
			if res.Success || res.Stage != StageError || res.Err == nil {
				t.Errorf("Run() = %+v, want error stage", res)
			}
			if len(stages) == 0 || stages[len(stages)-1] != StageError {
				t.Errorf("stages = %v", stages)
			}
		})
	}
}

func TestStop(t *testing.T) {
	root := newProject(t, script)
	p := New(pseudoOptions(root))
	p.Stop()
	p.Stop()
	select {
	case <-p.Done():
	default:
		t.Fatal("Done() not closed")
	}
	res := p.Run(context.Background())
	if res.Stage != StageIdle || !errors.Is(res.Err, ErrStopped) || res.Success {
		t.Errorf("Run() after Stop = %+v", res)
	}
}

func TestCompiledScriptSkippedNextToSource(t *testing.T) {
	root := newProject(t, script)
	// Not a valid compiled script; it would be logged if it were read.
	if err := os.WriteFile(filepath.Join(root, "game", "script.rpyc"), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	var logs []string
	opts := pseudoOptions(root)
	opts.OnLog = func(format string, args ...any) { logs = append(logs, format) }
	res := New(opts).Run(context.Background())
	if !res.Success || res.Extracted != 5 {
		t.Fatalf("Run() = %+v", res)
	}
	for _, l := range logs {
		if strings.Contains(l, "skipping") {
			t.Errorf("unexpected log %q", l)
		}
	}
}
