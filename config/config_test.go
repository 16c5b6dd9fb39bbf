package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestDetect(t *testing.T) {
	root := t.TempDir()
	game := filepath.Join(root, "game")
	writeFile(t, filepath.Join(game, "options.rpy"),
		"define config.name = _(\"Moonlit Harbor\")\ndefine config.version = \"1.2\"\n")
	writeFile(t, filepath.Join(game, "script.rpy"), "label start:\n    \"Hi\"\n")
	writeFile(t, filepath.Join(game, "screens.rpyc"), "RENPY RPC2")
	writeFile(t, filepath.Join(game, "archive.rpa"), "RPA-3.0 ")
	writeFile(t, filepath.Join(game, "tl", "turkish", "common.rpy"), "")
	writeFile(t, filepath.Join(game, "tl", "french", "common.rpy"), "")
	writeFile(t, filepath.Join(game, "tl", "None", "common.rpy"), "")
	writeFile(t, filepath.Join(game, "tl", "turkish", "script.rpy"), "")

	p, err := Detect(root, "")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if p.GameDir != game {
		t.Errorf("GameDir = %q, want %q", p.GameDir, game)
	}
	if p.Name != "Moonlit Harbor" || p.Version != "1.2" {
		t.Errorf("Name, Version = %q, %q", p.Name, p.Version)
	}
	if want := []string{"french", "turkish"}; !reflect.DeepEqual(p.Languages, want) {
		t.Errorf("Languages = %v, want %v", p.Languages, want)
	}
	// tl/ scripts are translations, not sources.
	if p.SourceScripts != 2 || p.CompiledScripts != 1 || p.Archives != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/1/1", p.SourceScripts, p.CompiledScripts, p.Archives)
	}
	if got := p.Summary(); got != "2 source, 1 compiled, 1 archive" {
		t.Errorf("Summary() = %q", got)
	}
	if got := p.TLDir("turkish"); got != filepath.Join(game, "tl", "turkish") {
		t.Errorf("TLDir() = %q", got)
	}
}

func TestDetectGameDirVariants(t *testing.T) {
	t.Run("root is the game dir", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, "script.rpy"), "")
		p, err := Detect(root, "")
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if p.GameDir != root {
			t.Errorf("GameDir = %q, want %q", p.GameDir, root)
		}
		if p.Name != filepath.Base(root) {
			t.Errorf("Name = %q, want directory name", p.Name)
		}
	})

	t.Run("explicit game dir", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, "src", "game", "script.rpy"), "")
		p, err := Detect(root, "src/game")
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if p.GameDir != filepath.Join(root, "src", "game") {
			t.Errorf("GameDir = %q", p.GameDir)
		}
	})

	t.Run("missing", func(t *testing.T) {
		if _, err := Detect(t.TempDir(), ""); err == nil {
			t.Error("Detect() of an empty directory succeeded")
		}
		if _, err := Detect(t.TempDir(), "nope"); err == nil {
			t.Error("Detect() with a missing game dir succeeded")
		}
	})
}

func TestLoadDefaultsAndComponents(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, FileName), `
languages: [turkish, french]
engine: deepl
glossary:
  HP: Can
glossary_whole_word: true
filter:
  denylist: [Debug Menu]
  extensions: [dat]
proxies:
  enabled: true
  list: ["1.2.3.4:8080"]
  refresh_interval: 30m
cache:
  path: tm.db
timeout: 20s
unpack: false
`)

	f, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.SourceLang != "en" {
		t.Errorf("SourceLang = %q, want en", f.SourceLang)
	}
	if f.Engine != "deepl" {
		t.Errorf("Engine = %q", f.Engine)
	}
	if f.Timeout != 20*time.Second || f.Proxies.RefreshInterval != 30*time.Minute {
		t.Errorf("durations = %v, %v", f.Timeout, f.Proxies.RefreshInterval)
	}
	if f.UnpackArchives() {
		t.Error("UnpackArchives() = true, want false")
	}
	if !f.ReadCompiled() {
		t.Error("ReadCompiled() = false, want true")
	}
	if got := f.CachePath(root); got != filepath.Join(root, "tm.db") {
		t.Errorf("CachePath() = %q", got)
	}

	flt := f.NewFilter()
	if !flt.Denylist["debug menu"] {
		t.Error("filter denylist not extended")
	}
	if ok, _ := flt.Meaningful("save-1.dat", "ui"); ok {
		t.Error("filter extensions not extended")
	}

	if g := f.NewGlossary(); g.Len() != 1 || g.Apply("HP up") != "Can up" {
		t.Error("glossary not built from config")
	}
	if r := f.NewRotator(nil); r == nil {
		t.Error("NewRotator() = nil with proxies enabled")
	}
	if got := f.TargetLanguages(&Project{Languages: []string{"german"}}); !reflect.DeepEqual(got, []string{"turkish", "french"}) {
		t.Errorf("TargetLanguages() = %v", got)
	}
}

func TestLoadMissingAndDefault(t *testing.T) {
	f, err := Load(t.TempDir())
	if err != nil || f != nil {
		t.Fatalf("Load(no file) = %v, %v, want nil, nil", f, err)
	}

	d := Default()
	if d.Engine != "google" || d.SourceLang != "en" {
		t.Errorf("Default() = %+v", d)
	}
	if d.NewGlossary() != nil || d.NewRotator(nil) != nil {
		t.Error("Default() builds optional components")
	}
	if got := d.TargetLanguages(&Project{Languages: []string{"german"}}); !reflect.DeepEqual(got, []string{"german"}) {
		t.Errorf("TargetLanguages() = %v, want detected languages", got)
	}
	if got := d.CachePath("/p"); got != filepath.Join("/p", DefaultCachePath) {
		t.Errorf("CachePath() = %q", got)
	}
	d.Cache.Path = "off"
	if got := d.CachePath("/p"); got != "" {
		t.Errorf("CachePath(off) = %q, want empty", got)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad yaml", "languages: [", "parsing"},
		{"unknown engine", "engine: babelfish\n", "unknown engine"},
		{"bad language", "languages: [\"pt-BR\"]\n", "invalid language"},
		{"proxies without sources", "proxies:\n  enabled: true\n", "proxies enabled"},
		{"negative workers", "workers: -1\n", "negative"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			root := t.TempDir()
			writeFile(t, filepath.Join(root, FileName), tc.content)
			_, err := Load(root)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	root := t.TempDir()
	f := Default()
	f.Languages = []string{"spanish"}
	f.Glossary = map[string]string{"Eileen": "Eileen"}
	if err := f.Save(root); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got.Languages, f.Languages) || got.Glossary["Eileen"] != "Eileen" {
		t.Errorf("Load() after Save() = %+v", got)
	}
}
