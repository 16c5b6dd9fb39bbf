package extract

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/minios-linux/renlokit/placeholder"
)

// Filter decides whether a literal is worth translating. The checks run in
// a fixed order and the first one that rejects wins; the term and extension
// lists are configuration and can be extended from .renlokit.yaml.
type Filter struct {
	// Denylist holds lower-cased strings that are never translated.
	Denylist map[string]bool
	// Extensions are file suffixes that mark a literal as a path.
	Extensions []string
	// PathPrefixes mark a literal as an asset path.
	PathPrefixes []string
}

// DefaultDenylist lists engine keywords and UI chrome values that show up
// as string literals but are never user-visible text.
var DefaultDenylist = []string{
	"true", "false", "none", "auto", "left", "right", "center", "top", "bottom",
	"vertical", "horizontal", "linear", "game_menu", "main_menu", "sync", "overlay",
	"touch_keyboard", "subtitle", "empty", "dissolve", "fade", "pixellate",
	"hpunch", "vpunch", "renderer", "fps", "gl", "gl2", "angle", "angle2", "master",
	"music", "sfx", "sound", "voice", "movie", "say", "nvl", "adv", "screens",
	"idle", "hover", "selected_idle", "selected_hover", "insensitive", "ltr", "rtl",
	"utf-8", "rb", "wb", "r", "w",
}

// DefaultExtensions are media and script suffixes that identify paths.
var DefaultExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp", ".svg",
	".mp3", ".ogg", ".opus", ".wav", ".flac", ".webm", ".mp4", ".mkv", ".avi",
	".ttf", ".otf", ".ttc", ".woff",
	".rpy", ".rpyc", ".rpa", ".json", ".txt", ".py",
}

// DefaultFilter returns a Filter with the built-in lists.
func DefaultFilter() *Filter {
	f := &Filter{
		Denylist:     make(map[string]bool, len(DefaultDenylist)),
		Extensions:   append([]string(nil), DefaultExtensions...),
		PathPrefixes: []string{"images/", "audio/", "gui/", "fonts/", "music/", "sfx/", "voice/", "video/"},
	}
	for _, t := range DefaultDenylist {
		f.Denylist[t] = true
	}
	return f
}

// Extend adds extra denylist terms and extensions.
func (f *Filter) Extend(terms, extensions []string) {
	if f.Denylist == nil {
		f.Denylist = make(map[string]bool)
	}
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			f.Denylist[t] = true
		}
	}
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		f.Extensions = append(f.Extensions, e)
	}
}

var (
	hexColorRe  = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3,4}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)
	numberRe    = regexp.MustCompile(`^[-+]?[0-9][0-9.,:_]*%?$`)
	versionRe   = regexp.MustCompile(`^[vV]?\d+(?:\.\d+)+[a-z0-9.+-]*$`)
	snakeRe     = regexp.MustCompile(`^[a-z0-9]+(?:_[a-z0-9]+)+$`)
	capsRe      = regexp.MustCompile(`^[A-Z0-9]+(?:_[A-Z0-9]+)+$`)
	dottedRe    = regexp.MustCompile(`^[A-Za-z_]\w*(?:\.[A-Za-z_]\w*)+$`)
	callRe      = regexp.MustCompile(`^[A-Za-z_][\w.]*\(.*\)$`)
	keyValueRe  = regexp.MustCompile(`^[a-z_]\w*\s*:\s*\S+$`)
	translateRe = regexp.MustCompile(`^(?:translate\s+\w+\s+\w+\s*:|old\s+"|new\s+")`)
	wrappedRe   = regexp.MustCompile(`^__?\(\s*["'].*["']\s*\)$`)
	lowerWordRe = regexp.MustCompile(`^[a-z][a-z0-9]*$`)
	spokenTypes = map[TextType]bool{TypeDialogue: true, TypeNarration: true, TypeMenu: true, TypeParagraph: true}
)

// Meaningful reports whether text should be extracted. When it returns
// false, reason names the check that rejected it.
func (f *Filter) Meaningful(text string, typ TextType) (ok bool, reason string) {
	s := strings.TrimSpace(text)
	if len([]rune(s)) < 2 {
		return false, "too short"
	}
	if translateRe.MatchString(s) {
		return false, "translation syntax"
	}
	if placeholder.OnlyPlaceholders(s) {
		return false, "placeholder only"
	}
	lower := strings.ToLower(s)
	if f.Denylist[lower] {
		return false, "technical term"
	}
	if hexColorRe.MatchString(s) {
		return false, "color"
	}
	if numberRe.MatchString(s) || versionRe.MatchString(s) {
		return false, "number"
	}
	if f.isPath(lower) {
		return false, "file path"
	}
	if snakeRe.MatchString(s) || capsRe.MatchString(s) || dottedRe.MatchString(s) {
		return false, "identifier"
	}
	if wrappedRe.MatchString(s) || callRe.MatchString(s) || keyValueRe.MatchString(s) {
		return false, "code"
	}
	// A single lower-case word in UI or code position is almost always an
	// identifier (style names, screen names, transition names). Spoken lines
	// keep them: "hmm", "okay".
	if !spokenTypes[typ] && lowerWordRe.MatchString(s) {
		return false, "identifier"
	}
	letters := 0
	for _, r := range placeholder.Strip(s) {
		if unicode.IsLetter(r) {
			letters++
			if letters >= 2 {
				return true, ""
			}
		}
	}
	return false, "no letters"
}

func (f *Filter) isPath(lower string) bool {
	if strings.ContainsAny(lower, " \n") {
		return false
	}
	for _, ext := range f.Extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	for _, p := range f.PathPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return strings.Count(lower, "/") >= 2
}
