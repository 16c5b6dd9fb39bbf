package main

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/minios-linux/renlokit/config"
	"github.com/minios-linux/renlokit/translate"
)

func TestProgressBar(t *testing.T) {
	color.NoColor = true

	tests := []struct {
		name    string
		percent int
		width   int
		want    string
	}{
		{"clamps below zero", -10, 4, "░░░░   0%"},
		{"mid range", 50, 4, "██░░  50%"},
		{"clamps above hundred", 120, 4, "████ 100%"},
		{"rounds down", 99, 10, "█████████░  99%"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := progressBar(tc.percent, tc.width); got != tc.want {
				t.Errorf("progressBar(%d, %d) = %q, want %q", tc.percent, tc.width, got, tc.want)
			}
		})
	}
}

func TestLangHelpers(t *testing.T) {
	langs := []string{"turkish", "chinese_s", "es"}
	if got := langColumnWidth(langs); got != len("chinese_s") {
		t.Errorf("langColumnWidth() = %d, want %d", got, len("chinese_s"))
	}
	if got := langColumnWidth(nil); got != len("Lang") {
		t.Errorf("langColumnWidth(nil) = %d, want %d", got, len("Lang"))
	}

	cell := langCell("turkish", 9)
	if !strings.Contains(cell, "🇹🇷") || !strings.Contains(cell, "turkish  ") {
		t.Errorf("langCell() = %q, want flag and padded name", cell)
	}
}

func TestParseLangs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"turkish", []string{"turkish"}},
		{" tr , french,turkish,,", []string{"turkish", "french"}},
		{"pt-BR,zh-CN", []string{"brazilian", "chinese_s"}},
	}
	for _, tc := range tests {
		if got := parseLangs(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("parseLangs(%q) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
}

func TestDiagnosticsPath(t *testing.T) {
	tests := []struct {
		path string
		lang string
		n    int
		want string
	}{
		{"", "turkish", 2, ""},
		{"report.json", "turkish", 1, "report.json"},
		{"out/report.json", "french", 3, "out/report.french.json"},
		{"report", "german", 2, "report.german"},
	}
	for _, tc := range tests {
		if got := diagnosticsPath(tc.path, tc.lang, tc.n); got != tc.want {
			t.Errorf("diagnosticsPath(%q, %q, %d) = %q, want %q", tc.path, tc.lang, tc.n, got, tc.want)
		}
	}
}

func TestCredentialID(t *testing.T) {
	tests := []struct {
		engine, provider, want string
	}{
		{translate.EngineGoogle, "", ""},
		{translate.EnginePseudo, "openai", ""},
		{translate.EngineDeepL, "", "deepl"},
		{translate.EngineLLM, translate.ProviderGroq, translate.ProviderGroq},
		{translate.EngineLLM, "", translate.ProviderCustomOpenAI},
	}
	for _, tc := range tests {
		if got := credentialID(tc.engine, tc.provider); got != tc.want {
			t.Errorf("credentialID(%q, %q) = %q, want %q", tc.engine, tc.provider, got, tc.want)
		}
	}
	for _, p := range keyProviders {
		if !knownProvider(p.id) {
			t.Errorf("knownProvider(%q) = false", p.id)
		}
	}
	if knownProvider("copilot") {
		t.Error("knownProvider(copilot) = true, want false")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "b", "c"); got != "b" {
		t.Errorf("firstNonEmpty() = %q, want %q", got, "b")
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Errorf("firstNonEmpty() = %q, want empty", got)
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(filePath, []byte("ok"), 0o644); err != nil {
		t.Fatalf("os.WriteFile() error: %v", err)
	}

	if !fileExists(filePath) {
		t.Errorf("fileExists(file) = false, want true")
	}
	if fileExists(dir) {
		t.Errorf("fileExists(directory) = true, want false")
	}
	if fileExists(filepath.Join(dir, "missing.txt")) {
		t.Errorf("fileExists(missing) = true, want false")
	}
}

// execute runs the CLI with args against a fresh command tree.
func execute(t *testing.T, args ...string) error {
	t.Helper()
	t.Setenv("LANGUAGE", "C")
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_MESSAGES", "")
	t.Setenv("LANG", "")
	color.NoColor = true
	cmd := newRootCmd()
	cmd.SetArgs(args)
	return cmd.Execute()
}

func newGame(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	game := filepath.Join(root, "game")
	if err := os.MkdirAll(game, 0o755); err != nil {
		t.Fatal(err)
	}
	script := "label start:\n    \"Welcome to the harbor.\"\n    \"Hello [player].\"\n"
	if err := os.WriteFile(filepath.Join(game, "script.rpy"), []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestInitCommand(t *testing.T) {
	root := t.TempDir()
	if err := execute(t, "init", "--root", root, "--lang", "tr,french", "--engine", "deepl"); err != nil {
		t.Fatalf("init: %v", err)
	}
	cfg, err := config.Load(root)
	if err != nil || cfg == nil {
		t.Fatalf("config.Load() = %v, %v", cfg, err)
	}
	if !reflect.DeepEqual(cfg.Languages, []string{"turkish", "french"}) || cfg.Engine != "deepl" {
		t.Errorf("config = %+v", cfg)
	}

	if err := execute(t, "init", "--root", root); err == nil {
		t.Error("second init without --force succeeded")
	}
	if err := execute(t, "init", "--root", root, "--force"); err != nil {
		t.Errorf("init --force: %v", err)
	}
}

func TestExtractCommand(t *testing.T) {
	root := newGame(t)
	if err := execute(t, "extract", "--root", root, "--lang", "tr"); err != nil {
		t.Fatalf("extract: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "game", "tl", "turkish", "strings.rpy"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `old "Hello [player]."`) {
		t.Errorf("strings.rpy missing entry:\n%s", data)
	}
}

func TestExtractCommandNeedsLanguage(t *testing.T) {
	root := newGame(t)
	if err := execute(t, "extract", "--root", root); err == nil {
		t.Error("extract without a language succeeded")
	}
}

func TestPseudoCommand(t *testing.T) {
	root := newGame(t)
	if err := execute(t, "pseudo", "--root", root, "--mode", translate.PseudoAccent); err != nil {
		t.Fatalf("pseudo: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "game", "tl", "pseudo", "strings.rpy"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "[player]") || strings.Contains(string(data), `new ""`) {
		t.Errorf("pseudo translation incomplete:\n%s", data)
	}
}

func TestStatusCommand(t *testing.T) {
	root := newGame(t)
	if err := execute(t, "extract", "--root", root, "--lang", "french"); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if err := execute(t, "status", "--root", root); err != nil {
		t.Errorf("status: %v", err)
	}
	if err := execute(t, "status", "--root", t.TempDir()); err == nil {
		t.Error("status without a game directory succeeded")
	}
}
