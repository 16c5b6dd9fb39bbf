// Package lockfile implements renlokit.lock, which records a checksum of
// every translation renlokit wrote, per language and source text.
//
// On the next run a translation that still matches its checksum is known to
// be machine-written and may be replaced. One that differs was edited by a
// person and is left alone.
//
// The lock file is stored in the project root next to .renlokit.yaml.
package lockfile

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// LockFileName is the default lock file name.
const LockFileName = "renlokit.lock"

// Version is the lock file format version.
const Version = 1

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// LockFile maps language -> Key(original) -> Hash(written translation).
type LockFile struct {
	Version   int                          `yaml:"version"`
	Checksums map[string]map[string]string `yaml:"checksums"`

	mu   sync.Mutex `yaml:"-"`
	path string     `yaml:"-"`
}

// ---------------------------------------------------------------------------
// Loading and saving
// ---------------------------------------------------------------------------

// Load reads the lock file from dir. A missing file yields an empty lock.
func Load(dir string) (*LockFile, error) {
	path := filepath.Join(dir, LockFileName)
	lf := &LockFile{
		Version:   Version,
		Checksums: make(map[string]map[string]string),
		path:      path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return lf, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, lf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if lf.Version > Version {
		return nil, fmt.Errorf("%s: unsupported version %d", path, lf.Version)
	}
	lf.path = path
	if lf.Checksums == nil {
		lf.Checksums = make(map[string]map[string]string)
	}
	return lf, nil
}

// Save writes the lock file to disk.
func (lf *LockFile) Save() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.path == "" {
		return fmt.Errorf("lock file path not set")
	}
	data, err := yaml.Marshal(lf)
	if err != nil {
		return fmt.Errorf("marshaling lock file: %w", err)
	}
	if err := os.WriteFile(lf.path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", lf.path, err)
	}
	return nil
}

// Path returns the lock file path.
func (lf *LockFile) Path() string {
	return lf.path
}

// ---------------------------------------------------------------------------
// Checksums
// ---------------------------------------------------------------------------

// Hash computes the MD5 hex digest of a string.
func Hash(s string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(s)))
}

// Key is the lock key of a source text.
func Key(original string) string {
	return Hash(original)
}

// Record stores the checksum of a translation renlokit just wrote.
func (lf *LockFile) Record(lang, original, translation string) {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	lf.recordLocked(lang, original, translation)
}

// RecordBatch stores checksums for a map of original -> translation.
func (lf *LockFile) RecordBatch(lang string, written map[string]string) {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	for original, translation := range written {
		lf.recordLocked(lang, original, translation)
	}
}

func (lf *LockFile) recordLocked(lang, original, translation string) {
	if lf.Checksums[lang] == nil {
		lf.Checksums[lang] = make(map[string]string)
	}
	lf.Checksums[lang][Key(original)] = Hash(translation)
}

// MachineWritten reports whether current is exactly what renlokit last
// wrote for original.
func (lf *LockFile) MachineWritten(lang, original, current string) bool {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	h, ok := lf.Checksums[lang][Key(original)]
	return ok && h == Hash(current)
}

// Replaceable reports whether an entry may receive a new machine
// translation: it is empty, or it is untouched since renlokit wrote it.
// A non-empty translation without a checksum counts as human work.
func (lf *LockFile) Replaceable(lang, original, current string) bool {
	if strings.TrimSpace(current) == "" {
		return true
	}
	return lf.MachineWritten(lang, original, current)
}

// Clean drops checksums whose source text is no longer in originals.
func (lf *LockFile) Clean(lang string, originals []string) int {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	existing := lf.Checksums[lang]
	if existing == nil {
		return 0
	}
	valid := make(map[string]bool, len(originals))
	for _, o := range originals {
		valid[Key(o)] = true
	}
	removed := 0
	for k := range existing {
		if !valid[k] {
			delete(existing, k)
			removed++
		}
	}
	return removed
}

// RemoveLanguage drops all checksums of a language.
func (lf *LockFile) RemoveLanguage(lang string) {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	delete(lf.Checksums, lang)
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// Stats returns the number of languages and total checksums.
func (lf *LockFile) Stats() (languages, keys int) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	languages = len(lf.Checksums)
	for _, m := range lf.Checksums {
		keys += len(m)
	}
	return
}

// Languages returns the recorded languages, sorted.
func (lf *LockFile) Languages() []string {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	langs := make([]string, 0, len(lf.Checksums))
	for l := range lf.Checksums {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

// Summary returns a human-readable summary string.
func (lf *LockFile) Summary() string {
	languages, keys := lf.Stats()
	if languages == 0 {
		return "empty"
	}

	var parts []string
	for _, l := range lf.Languages() {
		lf.mu.Lock()
		n := len(lf.Checksums[l])
		lf.mu.Unlock()
		parts = append(parts, fmt.Sprintf("%s: %d", l, n))
	}
	return fmt.Sprintf("%d languages, %d translations (%s)", languages, keys, strings.Join(parts, ", "))
}
