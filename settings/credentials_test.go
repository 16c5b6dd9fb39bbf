package settings

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDataDirAndFilePathUseXDGDataHome(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmp)

	dir, err := DataDir()
	if err != nil {
		t.Fatalf("DataDir() error: %v", err)
	}
	if want := filepath.Join(tmp, "renlokit"); dir != want {
		t.Fatalf("DataDir() = %q, want %q", dir, want)
	}
	if want := filepath.Join(tmp, "renlokit", "auth.json"); FilePath() != want {
		t.Fatalf("FilePath() = %q, want %q", FilePath(), want)
	}
}

func TestSaveLoadRemoveLifecycle(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmp)

	store := Store{
		"deepl":  {Type: "api", Key: "deepl-key-123:fx"},
		"ollama": {Type: "api", BaseURL: "http://localhost:11434/v1"},
	}
	if err := Save(store); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	path := filepath.Join(tmp, "renlokit", "auth.json")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat auth.json: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("auth.json mode = %o, want 600", info.Mode().Perm())
	}

	if got := GetAPIKey("deepl"); got != "deepl-key-123:fx" {
		t.Fatalf("GetAPIKey(deepl) = %q", got)
	}
	if got := GetBaseURL("ollama"); got != "http://localhost:11434/v1" {
		t.Fatalf("GetBaseURL(ollama) = %q", got)
	}
	if got := List(); !reflect.DeepEqual(got, []string{"deepl", "ollama"}) {
		t.Fatalf("List() = %v", got)
	}

	if err := Remove("deepl"); err != nil {
		t.Fatalf("Remove(deepl) error: %v", err)
	}
	if got := GetAPIKey("deepl"); got != "" {
		t.Fatalf("GetAPIKey after remove = %q, want empty", got)
	}
	if err := Remove("missing-provider"); err != nil {
		t.Fatalf("Remove(missing) should be no-op, got: %v", err)
	}

	if err := RemoveAll(); err != nil {
		t.Fatalf("RemoveAll() error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("auth.json should be removed, stat err=%v", err)
	}
	if got := Load(); len(got) != 0 {
		t.Fatalf("Load() after RemoveAll should be empty, got=%#v", got)
	}
}

func TestResolveAPIKeyPriority(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmp)
	t.Setenv(EnvAPIKey, "")
	t.Setenv("DEEPL_API_KEY", "")

	if err := SetAPIKey("deepl", "stored-key"); err != nil {
		t.Fatalf("SetAPIKey() error: %v", err)
	}
	dotenv := map[string]string{"DEEPL_API_KEY": "dotenv-key"}

	if key, src := ResolveAPIKey("deepl", "flag-key", dotenv); key != "flag-key" || src != SourceFlag {
		t.Fatalf("flag should win, got %q from %s", key, src)
	}

	t.Setenv("DEEPL_API_KEY", "env-key")
	if key, src := ResolveAPIKey("deepl", "", dotenv); key != "env-key" || src != SourceEnv {
		t.Fatalf("env should win over .env, got %q from %s", key, src)
	}

	t.Setenv("DEEPL_API_KEY", "")
	if key, src := ResolveAPIKey("deepl", "", dotenv); key != "dotenv-key" || src != SourceEnvFile {
		t.Fatalf(".env should win over store, got %q from %s", key, src)
	}

	if key, src := ResolveAPIKey("deepl", "", nil); key != "stored-key" || src != SourceStore {
		t.Fatalf("stored key expected, got %q from %s", key, src)
	}

	t.Setenv(EnvAPIKey, "generic")
	if key, _ := ResolveAPIKey("ollama", "", nil); key != "generic" {
		t.Fatalf("RENLOKIT_API_KEY fallback = %q", key)
	}
	t.Setenv(EnvAPIKey, "")
	if key, src := ResolveAPIKey("ollama", "", nil); key != "" || src != "" {
		t.Fatalf("no key expected, got %q from %s", key, src)
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()

	env, err := LoadEnv(dir)
	if err != nil || len(env) != 0 {
		t.Fatalf("LoadEnv(no file) = %v, %v", env, err)
	}

	content := "# keys\nDEEPL_API_KEY=abc:fx\nGROQ_API_KEY=\"gsk 1\"\n"
	if err := os.WriteFile(filepath.Join(dir, EnvFileName), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	env, err = LoadEnv(dir)
	if err != nil {
		t.Fatalf("LoadEnv() error: %v", err)
	}
	if env["DEEPL_API_KEY"] != "abc:fx" || env["GROQ_API_KEY"] != "gsk 1" {
		t.Fatalf("LoadEnv() = %v", env)
	}
	if os.Getenv("GROQ_API_KEY") == "gsk 1" {
		t.Fatal("LoadEnv() modified the process environment")
	}
}

func TestEnvVarsAndMaskKey(t *testing.T) {
	cases := map[string][]string{
		"deepl":  {"DEEPL_API_KEY", EnvAPIKey},
		"openai": {"OPENAI_API_KEY", EnvAPIKey},
		"ollama": {EnvAPIKey},
	}
	for provider, want := range cases {
		if got := EnvVars(provider); !reflect.DeepEqual(got, want) {
			t.Fatalf("EnvVars(%q) = %v, want %v", provider, got, want)
		}
	}

	if got := MaskKey("short"); got != "****" {
		t.Fatalf("MaskKey(short) = %q, want ****", got)
	}
	if got := MaskKey("123456789"); got != "1234...6789" {
		t.Fatalf("MaskKey(9 chars) = %q, want 1234...6789", got)
	}
}
