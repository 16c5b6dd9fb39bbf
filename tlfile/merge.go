package tlfile

import (
	"fmt"
	"path"
	"strings"

	"github.com/minios-linux/renlokit/extract"
)

// RecordID is the identifier of an extraction record. It equals the ID of
// the entry Merge writes for the record, which lives in a string-table block.
func RecordID(r extract.Record) string {
	return Identifier(r.File, r.Line, StringsBlock, r.RawText)
}

// Header starts a translation file created from scratch.
func Header(lang string) string {
	return "# Translation file generated by renlokit.\n" +
		"# Language: " + lang + "\n"
}

// Merge adds a string-table block for every record whose text has no entry
// in existing yet and returns the re-parsed result with the number of
// entries added. Existing lines are never changed or removed. A nil
// existing file starts from Header.
//
// Texts are deduplicated; each keeps the location of its first record.
// Records are grouped per source file in order of first appearance.
func Merge(existing *File, records []extract.Record, lang string) (*File, int) {
	var content string
	known := map[string]bool{}
	if existing != nil {
		content = existing.Content()
		for _, e := range existing.Entries {
			known[e.Original] = true
		}
	} else {
		content = bom + Header(lang)
	}

	var order []string
	groups := map[string][]extract.Record{}
	for _, r := range records {
		if known[r.RawText] || Trivial(r.RawText) {
			continue
		}
		known[r.RawText] = true
		file := NormalizePath(r.File)
		if _, ok := groups[file]; !ok {
			order = append(order, file)
		}
		groups[file] = append(groups[file], r)
	}

	added := 0
	if len(order) > 0 {
		var b strings.Builder
		b.WriteString(content)
		if content != "" && content != bom && !strings.HasSuffix(content, "\n") {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "\ntranslate %s %s:\n", lang, StringsBlock)
		for _, file := range order {
			for _, r := range groups[file] {
				fmt.Fprintf(&b, "\n    # %s:%d\n", file, r.Line)
				fmt.Fprintf(&b, "    old \"%s\"\n", Escape(r.RawText))
				b.WriteString("    new \"\"\n")
				added++
			}
		}
		content = b.String()
	}

	f := Parse(content)
	if existing != nil {
		f.Path = existing.Path
	}
	if f.Lang == "" {
		f.Lang = lang
	}
	return f, added
}

// LanguageInitFile returns the path, relative to the game directory, and
// the content of the script that makes lang the default language.
func LanguageInitFile(lang string) (rel, content string) {
	rel = path.Join("tl", lang, "a0_"+lang+"_language.rpy")
	content = fmt.Sprintf("define config.language = %q\n", lang)
	return rel, content
}
