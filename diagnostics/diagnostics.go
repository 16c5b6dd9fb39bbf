// Package diagnostics collects per-file outcome counts of a renlokit run
// and writes them as an indented JSON report.
package diagnostics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome recorded for an entry.
type Status string

const (
	StatusExtracted  Status = "extracted"
	StatusTranslated Status = "translated"
	StatusWritten    Status = "written"
	StatusSkipped    Status = "skipped"
	StatusUnchanged  Status = "unchanged"
)

// DefaultSampleSize bounds the entries kept per file.
const DefaultSampleSize = 50

// Entry is one sampled event.
type Entry struct {
	Status     Status `json:"status"`
	ID         string `json:"translation_id,omitempty"`
	Original   string `json:"original_text,omitempty"`
	Translated string `json:"translated_text,omitempty"`
	Line       int    `json:"line,omitempty"`
	Context    string `json:"context,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Counts holds the five outcome counters.
type Counts struct {
	Extracted  int `json:"extracted"`
	Translated int `json:"translated"`
	Written    int `json:"written"`
	Skipped    int `json:"skipped"`
	Unchanged  int `json:"unchanged"`
}

func (c *Counts) add(s Status) {
	switch s {
	case StatusExtracted:
		c.Extracted++
	case StatusTranslated:
		c.Translated++
	case StatusWritten:
		c.Written++
	case StatusSkipped:
		c.Skipped++
	case StatusUnchanged:
		c.Unchanged++
	}
}

// FileReport holds the counts and sampled entries of one source file.
type FileReport struct {
	Counts
	Entries []Entry `json:"entries"`
	// Dropped counts entries beyond the sample size.
	Dropped int `json:"dropped,omitempty"`
}

// Report is safe for concurrent use.
type Report struct {
	RunID          uuid.UUID              `json:"run_id"`
	Project        string                 `json:"project"`
	TargetLanguage string                 `json:"target_language"`
	Engine         string                 `json:"engine,omitempty"`
	Started        time.Time              `json:"started"`
	Finished       time.Time              `json:"finished,omitzero"`
	Totals         Counts                 `json:"totals"`
	Files          map[string]*FileReport `json:"files"`

	// SampleSize bounds Entries per file; zero selects DefaultSampleSize.
	SampleSize int `json:"-"`

	mu sync.Mutex
}

// New starts a report with a fresh run ID.
func New(project, lang, engine string) *Report {
	return &Report{
		RunID:          uuid.New(),
		Project:        project,
		TargetLanguage: lang,
		Engine:         engine,
		Started:        time.Now().UTC(),
		Files:          make(map[string]*FileReport),
	}
}

// Add records an entry for file and bumps the matching counters.
func (r *Report) Add(file string, e Entry) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	fr := r.Files[file]
	if fr == nil {
		fr = &FileReport{}
		r.Files[file] = fr
	}
	fr.add(e.Status)
	r.Totals.add(e.Status)

	limit := r.SampleSize
	if limit <= 0 {
		limit = DefaultSampleSize
	}
	if len(fr.Entries) < limit {
		fr.Entries = append(fr.Entries, e)
	} else {
		fr.Dropped++
	}
}

// Skip records a skipped entry with its reason.
func (r *Report) Skip(file, reason string, e Entry) {
	e.Status = StatusSkipped
	e.Reason = reason
	r.Add(file, e)
}

// Snapshot returns a copy of the totals.
func (r *Report) Snapshot() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Totals
}

// Finish stamps the end time.
func (r *Report) Finish() {
	r.mu.Lock()
	r.Finished = time.Now().UTC()
	r.mu.Unlock()
}

// Marshal renders the report as indented JSON without HTML escaping, so
// Ren'Py tags stay readable.
func (r *Report) Marshal() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("marshaling diagnostics: %w", err)
	}
	return buf.Bytes(), nil
}

// Write writes the report to path, creating parent directories.
func (r *Report) Write(path string) error {
	data, err := r.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Load reads a report written by Write.
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if r.Files == nil {
		r.Files = make(map[string]*FileReport)
	}
	return &r, nil
}
