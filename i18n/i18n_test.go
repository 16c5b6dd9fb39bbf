package i18n

import (
	"reflect"
	"testing"
)

func clearLocaleEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LANGUAGE", "")
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_MESSAGES", "")
	t.Setenv("LANG", "")
}

func TestDetectLanguagePriorityAndNormalization(t *testing.T) {
	t.Run("LANGUAGE has highest priority", func(t *testing.T) {
		clearLocaleEnv(t)
		t.Setenv("LANGUAGE", "ru_RU.UTF-8:en_US")
		t.Setenv("LC_ALL", "de_DE.UTF-8")

		if got := detectLanguage(); got != "ru_RU" {
			t.Fatalf("detectLanguage() = %q, want %q", got, "ru_RU")
		}
	})

	t.Run("C and POSIX are skipped", func(t *testing.T) {
		clearLocaleEnv(t)
		t.Setenv("LANGUAGE", "C")
		t.Setenv("LC_ALL", "POSIX")
		t.Setenv("LC_MESSAGES", "fr_FR.UTF-8")

		if got := detectLanguage(); got != "fr_FR" {
			t.Fatalf("detectLanguage() = %q, want %q", got, "fr_FR")
		}
	})

	t.Run("falls back to en", func(t *testing.T) {
		clearLocaleEnv(t)
		if got := detectLanguage(); got != "en" {
			t.Fatalf("detectLanguage() = %q, want %q", got, "en")
		}
	})
}

func TestTAndNFallbackWhenUninitialized(t *testing.T) {
	old := po
	po = nil
	t.Cleanup(func() { po = old })

	if got := T("Hello"); got != "Hello" {
		t.Fatalf("T fallback = %q, want %q", got, "Hello")
	}

	if got := N("file", "files", 1); got != "file" {
		t.Fatalf("N singular fallback = %q, want %q", got, "file")
	}

	if got := N("file", "files", 2); got != "files" {
		t.Fatalf("N plural fallback = %q, want %q", got, "files")
	}
}

func TestEmbeddedCatalogs(t *testing.T) {
	old, oldLang := po, current
	t.Cleanup(func() { po, current = old, oldLang })

	tests := []struct {
		lang string
		want string
	}{
		{"tr", "Proje"},
		{"tr_TR", "Proje"},
		{"ru", "Проект"},
		{"en", "Project"},
		{"xx", "Project"},
	}
	for _, tc := range tests {
		t.Run(tc.lang, func(t *testing.T) {
			if got := Init(tc.lang); got != tc.lang || Language() != tc.lang {
				t.Fatalf("Init(%q) = %q", tc.lang, got)
			}
			if got := T("Project"); got != tc.want {
				t.Errorf("T(Project) = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRussianPlurals(t *testing.T) {
	old, oldLang := po, current
	t.Cleanup(func() { po, current = old, oldLang })

	Init("ru")
	tests := []struct {
		n    int
		want string
	}{
		{1, "%s: извлечён %d файл"},
		{3, "%s: извлечено %d файла"},
		{11, "%s: извлечено %d файлов"},
	}
	for _, tc := range tests {
		if got := N("%s: %d file extracted", "%s: %d files extracted", tc.n); got != tc.want {
			t.Errorf("N(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}

func TestAvailable(t *testing.T) {
	if got, want := Available(), []string{"ru", "tr"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Available() = %v, want %v", got, want)
	}
}
