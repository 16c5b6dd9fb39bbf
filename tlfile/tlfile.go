// Package tlfile reads and writes Ren'Py translation files (game/tl/<lang>/*.rpy).
//
// Files are treated as a sequence of lines. Parsing records which line holds
// each entry's translation, and write-back touches only those lines, so a file
// that receives no new translations is reproduced byte for byte.
package tlfile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Kind is the textual shape an entry was read from.
type Kind string

const (
	KindString   Kind = "string"
	KindDialogue Kind = "dialogue"
	KindNarrator Kind = "narrator"
)

// StringsBlock is the block ID of string-table blocks.
const StringsBlock = "strings"

const bom = "\ufeff"

// Entry is one translatable unit of a translation file.
type Entry struct {
	ID          string
	Original    string
	Translation string
	Kind        Kind
	Character   string
	// Source is the location comment preceding the entry, e.g. "game/script.rpy:12".
	Source string
	Block  string
	Lang   string
	// OrigLine and TransLine index File.Lines.
	OrigLine  int
	TransLine int

	prefix string // translation line up to the opening quote
	suffix string // translation line after the closing quote
}

// Pending reports whether the entry still needs a translation.
func (e *Entry) Pending() bool {
	return strings.TrimSpace(e.Translation) == ""
}

// File is a parsed translation file.
type File struct {
	Path    string
	Lang    string
	Entries []*Entry
	Lines   []string
	BOM     bool
}

// ---------------------------------------------------------------------------
// Identifiers
// ---------------------------------------------------------------------------

// Identifier returns a stable 16-character ID for a piece of text found at
// path:line inside ctx. Path separators, line endings, one layer of
// surrounding quotes and backslash escapes are normalized first.
func Identifier(path string, line int, ctx, text string) string {
	h := sha256.New()
	h.Write([]byte(NormalizePath(path)))
	h.Write([]byte{0x1f})
	h.Write([]byte(strconv.Itoa(line)))
	h.Write([]byte{0x1f})
	h.Write([]byte(ctx))
	h.Write([]byte{0x1f})
	h.Write([]byte(Canonical(text)))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// NormalizePath converts both separator styles to forward slashes.
func NormalizePath(path string) string {
	return strings.ReplaceAll(filepath.ToSlash(path), `\`, "/")
}

// Canonical is the text form identifiers are computed over.
func Canonical(text string) string {
	if len(text) >= 2 {
		q := text[0]
		if (q == '"' || q == '\'') && text[len(text)-1] == q {
			text = text[1 : len(text)-1]
		}
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return Unescape(text)
}

// ---------------------------------------------------------------------------
// Escaping
// ---------------------------------------------------------------------------

var escaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\r", "",
	"\n", `\n`,
	"\t", `\t`,
)

// Escape quotes s for a Ren'Py string literal.
func Escape(s string) string {
	return escaper.Replace(s)
}

// Unescape decodes \n, \t, \", \' and \\. Other escapes are kept verbatim.
func Unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case '"', '\'', '\\':
			b.WriteByte(s[i+1])
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i+1])
		}
		i++
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

const quoted = `"((?:[^"\\]|\\.)*)"`

var (
	reBlock        = regexp.MustCompile(`^translate\s+(\w+)\s+(\w+)\s*:\s*$`)
	reSource       = regexp.MustCompile(`^\s*#\s*([^:"]+:\d+)\s*$`)
	reOld          = regexp.MustCompile(`^\s*old\s+` + quoted + `\s*$`)
	reNew          = regexp.MustCompile(`^(\s*new\s+)` + quoted + `(\s*)$`)
	reDialogueNote = regexp.MustCompile(`^\s*#\s*(\w+)\s+` + quoted + `(.*)$`)
	reNarratorNote = regexp.MustCompile(`^\s*#\s*` + quoted + `(.*)$`)
	reDialogueLine = regexp.MustCompile(`^(\s*(\w+)\s+)` + quoted + `(.*)$`)
	reNarratorLine = regexp.MustCompile(`^(\s*)` + quoted + `(.*)$`)
)

// Parse reads translation file content. A leading byte-order mark and CRLF
// line endings are tolerated and reproduced by Content.
func Parse(content string) *File {
	f := &File{}
	if strings.HasPrefix(content, bom) {
		f.BOM = true
		content = content[len(bom):]
	}
	f.Lines = strings.Split(content, "\n")

	var (
		lang, block string
		inBlock     bool
		source      string
		pending     *Entry
	)
	for i, raw := range f.Lines {
		line := strings.TrimSuffix(raw, "\r")

		if m := reBlock.FindStringSubmatch(line); m != nil {
			lang, block, inBlock = m[1], m[2], true
			pending = nil
			if f.Lang == "" {
				f.Lang = lang
			}
			continue
		}
		if m := reSource.FindStringSubmatch(line); m != nil {
			source = strings.TrimSpace(m[1])
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !strings.HasPrefix(line, "#") && !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
			inBlock = false
			pending = nil
			continue
		}
		if !inBlock {
			continue
		}

		if block == StringsBlock {
			if m := reOld.FindStringSubmatch(line); m != nil {
				pending = &Entry{Kind: KindString, Original: Unescape(m[1]), OrigLine: i}
				continue
			}
			if m := reNew.FindStringSubmatch(line); m != nil && pending != nil {
				pending.Translation = Unescape(m[2])
				pending.prefix, pending.suffix = m[1], m[3]
				f.add(pending, i, lang, block, source)
				pending, source = nil, ""
			}
			continue
		}

		if m := reDialogueNote.FindStringSubmatch(line); m != nil {
			pending = &Entry{Kind: KindDialogue, Character: m[1], Original: Unescape(m[2]), OrigLine: i}
			continue
		}
		if m := reNarratorNote.FindStringSubmatch(line); m != nil {
			pending = &Entry{Kind: KindNarrator, Original: Unescape(m[1]), OrigLine: i}
			continue
		}
		if pending == nil || strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		// Statements such as voice or nvl clear may sit between the note and
		// the translated line; the speaker has to match.
		switch pending.Kind {
		case KindDialogue:
			m := reDialogueLine.FindStringSubmatch(line)
			if m == nil || m[2] != pending.Character {
				continue
			}
			pending.Translation = Unescape(m[3])
			pending.prefix, pending.suffix = m[1], m[4]
		case KindNarrator:
			m := reNarratorLine.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			pending.Translation = Unescape(m[2])
			pending.prefix, pending.suffix = m[1], m[3]
		}
		f.add(pending, i, lang, block, source)
		pending, source = nil, ""
	}
	return f
}

func (f *File) add(e *Entry, transLine int, lang, block, source string) {
	e.TransLine = transLine
	e.Lang = lang
	e.Block = block
	e.Source = source
	path, line := splitSource(source)
	e.ID = Identifier(path, line, block, e.Original)
	f.Entries = append(f.Entries, e)
}

func splitSource(source string) (string, int) {
	i := strings.LastIndexByte(source, ':')
	if i < 0 {
		return source, 0
	}
	n, err := strconv.Atoi(source[i+1:])
	if err != nil {
		return source, 0
	}
	return source[:i], n
}

// ParseFile reads and parses a translation file from disk.
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	f := Parse(string(data))
	f.Path = path
	return f, nil
}

// ParseDir parses every .rpy file below dir in path order.
func ParseDir(dir string) ([]*File, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".rpy") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	sort.Strings(paths)

	files := make([]*File, 0, len(paths))
	for _, p := range paths {
		f, err := ParseFile(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// ---------------------------------------------------------------------------
// Write-back
// ---------------------------------------------------------------------------

// Content renders the file. Without intervening updates it returns exactly
// the bytes that were parsed.
func (f *File) Content() string {
	s := strings.Join(f.Lines, "\n")
	if f.BOM {
		return bom + s
	}
	return s
}

// Update sets translations and returns the new content. Keys are entry IDs
// or original texts; an ID match wins. Only the translation line of a
// matched entry is rewritten, keeping its indent, speaker and trailing
// clauses. changed reports whether any line differs.
func (f *File) Update(updates map[string]string) (content string, changed bool) {
	for _, e := range f.Entries {
		tr, ok := updates[e.ID]
		if !ok {
			tr, ok = updates[e.Original]
		}
		if !ok {
			continue
		}
		old := f.Lines[e.TransLine]
		cr := ""
		if strings.HasSuffix(old, "\r") {
			cr = "\r"
		}
		line := e.prefix + `"` + Escape(tr) + `"` + e.suffix + cr
		if line != old {
			f.Lines[e.TransLine] = line
			changed = true
		}
		e.Translation = tr
	}
	return f.Content(), changed
}

// Lookup returns the entry with the given ID or original text.
func (f *File) Lookup(key string) *Entry {
	for _, e := range f.Entries {
		if e.ID == key {
			return e
		}
	}
	for _, e := range f.Entries {
		if e.Original == key {
			return e
		}
	}
	return nil
}

// Untranslated lists entries that still need a translation, skipping texts
// with nothing to translate.
func (f *File) Untranslated() []*Entry {
	var out []*Entry
	for _, e := range f.Entries {
		if e.Pending() && !Trivial(e.Original) {
			out = append(out, e)
		}
	}
	return out
}

// Trivial reports texts that never need translation: empty, a single
// character, or digits and punctuation only.
func Trivial(s string) bool {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= 1 {
		return true
	}
	for _, r := range s {
		if unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// WriteFile writes content as BOM-prefixed UTF-8 with LF line endings,
// creating parent directories.
func WriteFile(path, content string) error {
	content = strings.TrimPrefix(content, bom)
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(bom+content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Statistics
// ---------------------------------------------------------------------------

// Stats summarizes translation progress.
type Stats struct {
	Total        int
	Translated   int
	Untranslated int
	// Progress is a percentage in [0, 100].
	Progress float64
}

// Stats returns progress counts for the file.
func (f *File) Stats() Stats {
	return Collect([]*File{f})
}

// Collect sums the statistics of several files.
func Collect(files []*File) Stats {
	var s Stats
	for _, f := range files {
		for _, e := range f.Entries {
			s.Total++
			if e.Pending() {
				s.Untranslated++
			} else {
				s.Translated++
			}
		}
	}
	if s.Total > 0 {
		s.Progress = float64(s.Translated) / float64(s.Total) * 100
	}
	return s
}
