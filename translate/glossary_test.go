package translate

import "testing"

func TestGlossaryApply(t *testing.T) {
	t.Parallel()

	terms := map[string]string{
		"HP":        "Can",
		"Save":      "Kaydet",
		"Save Game": "Oyunu Kaydet",
		"Kaydet":    "WRONG",
	}
	tests := []struct {
		name      string
		wholeWord bool
		in        string
		want      string
	}{
		{"longest first", false, "Save Game now", "Oyunu Kaydet now"},
		{"no cascade", false, "Save", "Kaydet"},
		{"substring allowed", false, "Saved HP", "Kaydetd Can"},
		{"whole word", true, "Saved HP", "Saved Can"},
		{"placeholder untouched", true, "[HP] HP", "[HP] Can"},
		{"tag boundary", true, "{b}HP{/b}", "{b}Can{/b}"},
		{"unicode boundary", true, "çHP HPç HP", "çHP HPç Can"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGlossary(terms, tc.wholeWord)
			if got := g.Apply(tc.in); got != tc.want {
				t.Errorf("Apply(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNilGlossary(t *testing.T) {
	t.Parallel()

	var g *Glossary
	if got := g.Apply("HP"); got != "HP" {
		t.Errorf("nil Apply() = %q, want HP", got)
	}
	if g.Len() != 0 {
		t.Errorf("nil Len() = %d, want 0", g.Len())
	}
}
