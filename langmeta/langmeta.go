// Package langmeta maps Ren'Py language names (turkish, chinese_s, ...) to
// the language codes translation APIs expect, and provides display names
// and flags for the CLI.
package langmeta

import (
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Meta describes one language.
type Meta struct {
	// Code is the API language code (BCP 47), e.g. "zh-CN".
	Code string
	// RenPy is the tl/ directory name, e.g. "chinese_s".
	RenPy string
	// Name is the English name, used in prompts.
	Name string
	// Native is the name in the language itself.
	Native string
	Flag   string
}

type entry struct {
	renpy, code, native, region string
}

// languages lists the Ren'Py names renlokit knows. The first entry for a
// code is the preferred Ren'Py name for that code.
var languages = []entry{
	{"turkish", "tr", "Türkçe", "TR"},
	{"english", "en", "English", "US"},
	{"german", "de", "Deutsch", "DE"},
	{"french", "fr", "Français", "FR"},
	{"spanish", "es", "Español", "ES"},
	{"italian", "it", "Italiano", "IT"},
	{"portuguese", "pt", "Português", "PT"},
	{"brazilian", "pt-BR", "Português (Brasil)", "BR"},
	{"russian", "ru", "Русский", "RU"},
	{"polish", "pl", "Polski", "PL"},
	{"dutch", "nl", "Nederlands", "NL"},
	{"japanese", "ja", "日本語", "JP"},
	{"korean", "ko", "한국어", "KR"},
	{"chinese_s", "zh-CN", "简体中文", "CN"},
	{"chinese_t", "zh-TW", "繁體中文", "TW"},
	{"chinese", "zh", "中文", "CN"},
	{"thai", "th", "ไทย", "TH"},
	{"vietnamese", "vi", "Tiếng Việt", "VN"},
	{"indonesian", "id", "Bahasa Indonesia", "ID"},
	{"malay", "ms", "Bahasa Melayu", "MY"},
	{"hindi", "hi", "हिन्दी", "IN"},
	{"arabic", "ar", "العربية", "SA"},
	{"czech", "cs", "Čeština", "CZ"},
	{"danish", "da", "Dansk", "DK"},
	{"finnish", "fi", "Suomi", "FI"},
	{"greek", "el", "Ελληνικά", "GR"},
	{"hebrew", "he", "עברית", "IL"},
	{"hungarian", "hu", "Magyar", "HU"},
	{"norwegian", "no", "Norsk", "NO"},
	{"romanian", "ro", "Română", "RO"},
	{"swedish", "sv", "Svenska", "SE"},
	{"ukrainian", "uk", "Українська", "UA"},
	{"bulgarian", "bg", "Български", "BG"},
	{"catalan", "ca", "Català", "ES"},
	{"croatian", "hr", "Hrvatski", "HR"},
	{"slovak", "sk", "Slovenčina", "SK"},
	{"slovenian", "sl", "Slovenščina", "SI"},
	{"serbian", "sr", "Српски", "RS"},
	{"persian", "fa", "فارسی", "IR"},
	{"estonian", "et", "Eesti", "EE"},
	{"latvian", "lv", "Latviešu", "LV"},
	{"lithuanian", "lt", "Lietuvių", "LT"},
	{"filipino", "fil", "Filipino", "PH"},
	{"belarusian", "be", "Беларуская", "BY"},
	{"kazakh", "kk", "Қазақ тілі", "KZ"},
}

var (
	byRenPy = map[string]entry{}
	byCode  = map[string]entry{}
)

func init() {
	for _, e := range languages {
		byRenPy[e.renpy] = e
		if _, ok := byCode[e.code]; !ok {
			byCode[e.code] = e
		}
	}
}

// flag builds the emoji flag of a two-letter region code.
func flag(region string) string {
	if len(region) != 2 {
		return ""
	}
	var b strings.Builder
	for _, c := range strings.ToUpper(region) {
		if c < 'A' || c > 'Z' {
			return ""
		}
		b.WriteRune(0x1F1E6 + (c - 'A'))
	}
	return b.String()
}

func canonicalize(lang string) string {
	normalized := strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	if normalized == "" {
		return ""
	}
	parts := strings.Split(normalized, "-")
	parts[0] = strings.ToLower(parts[0])
	if len(parts) >= 2 {
		parts[1] = strings.ToUpper(parts[1])
	}
	return strings.Join(parts, "-")
}

// englishName returns the English display name of a code, or "".
func englishName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return ""
	}
	return display.English.Tags().Name(tag)
}

func (e entry) meta() Meta {
	name := englishName(e.code)
	if name == "" {
		name = e.renpy
	}
	return Meta{Code: e.code, RenPy: e.renpy, Name: name, Native: e.native, Flag: flag(e.region)}
}

// Resolve returns metadata for a Ren'Py name or a language code. Variants
// such as pt_br resolve to pt-BR, and unknown regional variants fall back
// to their base language. Unknown input is passed through as Code and Name.
func Resolve(lang string) Meta {
	if e, ok := byRenPy[strings.ToLower(strings.TrimSpace(lang))]; ok {
		return e.meta()
	}
	code := canonicalize(lang)
	if e, ok := byCode[code]; ok {
		return e.meta()
	}
	if base, _, ok := strings.Cut(code, "-"); ok {
		if e, ok := byCode[base]; ok {
			m := e.meta()
			m.Code = code
			if n := englishName(code); n != "" {
				m.Name = n
			}
			return m
		}
	}
	if e, ok := byDisplayName(lang); ok {
		return e.meta()
	}
	return Meta{Code: lang, Name: lang}
}

// byDisplayName matches names like "Latvian" or "latvian"
// against the English display names of the known codes.
func byDisplayName(name string) (entry, bool) {
	want := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", " "))
	if want == "" {
		return entry{}, false
	}
	for _, e := range languages {
		if strings.ToLower(englishName(e.code)) == want {
			return e, true
		}
	}
	return entry{}, false
}

// APICode converts a Ren'Py language name to an API code. Codes are
// returned canonicalized; unknown names are returned unchanged.
func APICode(lang string) string {
	return Resolve(lang).Code
}

// RenPyName returns the tl/ directory name for a code or Ren'Py name.
// Unknown codes map to their lower-cased English name with underscores.
func RenPyName(lang string) string {
	if m := Resolve(lang); m.RenPy != "" {
		return m.RenPy
	}
	if n := englishName(canonicalize(lang)); n != "" {
		return strings.ToLower(strings.NewReplacer(" ", "_", "(", "", ")", "").Replace(n))
	}
	return lang
}

// Known returns all known Ren'Py language names, sorted.
func Known() []string {
	names := make([]string, 0, len(byRenPy))
	for n := range byRenPy {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
