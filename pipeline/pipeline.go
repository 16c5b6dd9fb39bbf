// Package pipeline runs a complete translation of one Ren'Py project into
// one language: validate, unpack archives, parse scripts, generate the
// translation skeleton, translate pending entries and write them back.
//
// Progress is reported through Callbacks; the pipeline itself prints
// nothing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/minios-linux/renlokit/config"
	"github.com/minios-linux/renlokit/diagnostics"
	"github.com/minios-linux/renlokit/extract"
	"github.com/minios-linux/renlokit/langmeta"
	"github.com/minios-linux/renlokit/lockfile"
	"github.com/minios-linux/renlokit/rpa"
	"github.com/minios-linux/renlokit/rpyc"
	"github.com/minios-linux/renlokit/tlfile"
	"github.com/minios-linux/renlokit/translate"
)

// Stage names a pipeline step.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageValidating  Stage = "validating"
	StageUnpacking   Stage = "unpacking"
	StageParsing     Stage = "parsing"
	StageGenerating  Stage = "generating"
	StageTranslating Stage = "translating"
	StageSaving      Stage = "saving"
	StageCompleted   Stage = "completed"
	StageError       Stage = "error"
)

// chunkSize is the number of entries handed to the manager between
// progress reports and stop checks.
const chunkSize = 200

// StringsFileName is the file new string-table entries are appended to,
// inside tl/<lang>/.
const StringsFileName = "strings.rpy"

// ErrStopped is the error of a run ended by Stop.
var ErrStopped = errors.New("pipeline stopped")

// Callbacks receive progress notifications. Any of them may be nil.
type Callbacks struct {
	OnStage    func(stage Stage, msg string)
	OnProgress func(done, total int, label string)
	OnLog      func(format string, args ...any)
	OnFinished func(Result)
}

// Options configures a run.
type Options struct {
	// Root is the project directory.
	Root string
	// Config is the project configuration; nil selects config.Default().
	Config *config.File
	// Language is the Ren'Py language name, e.g. "turkish".
	Language string
	// Engine is the translate engine ID requests are addressed to.
	Engine  string
	Manager *translate.Manager

	// GenerateOnly stops after the translation skeleton is written.
	GenerateOnly bool
	// Retranslate also replaces translations renlokit wrote earlier and
	// nobody has edited since.
	Retranslate bool
	// DiagnosticsPath, if set, receives a JSON report of the run.
	DiagnosticsPath string

	Callbacks
}

// Result is the outcome of a run.
type Result struct {
	Success bool
	// Stage is StageCompleted on success, StageError for configuration
	// failures and StageIdle when stopped.
	Stage     Stage
	Message   string
	OutputDir string
	Err       error

	Extracted int
	// Translated counts new text for the file. A result equal to the
	// current translation is counted as Unchanged instead.
	Translated int
	Written    int
	Skipped    int
	Unchanged  int

	// Added counts entries appended to the skeleton this run.
	Added int
	Stats tlfile.Stats
}

// Pipeline is a single-use run.
type Pipeline struct {
	opts Options
	cfg  *config.File

	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}

	report *diagnostics.Report
}

// New returns a pipeline for opts.
func New(opts Options) *Pipeline {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	return &Pipeline{opts: opts, cfg: cfg, stopCh: make(chan struct{})}
}

// Stop asks the run to end. Translations already returned are still saved.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		close(p.stopCh)
		if p.opts.Manager != nil {
			p.opts.Manager.Stop()
		}
	})
}

// Done is closed by Stop.
func (p *Pipeline) Done() <-chan struct{} { return p.stopCh }

func (p *Pipeline) setStage(s Stage, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if p.opts.OnStage != nil {
		p.opts.OnStage(s, msg)
	}
	p.log("[%s] %s", strings.ToUpper(string(s)), msg)
}

func (p *Pipeline) log(format string, args ...any) {
	if p.opts.OnLog != nil {
		p.opts.OnLog(format, args...)
	}
}

func (p *Pipeline) progress(done, total int, label string) {
	if p.opts.OnProgress != nil {
		p.opts.OnProgress(done, total, label)
	}
}

// fail ends the run at the error stage.
func (p *Pipeline) fail(err error) Result {
	p.setStage(StageError, "%v", err)
	return Result{Stage: StageError, Message: err.Error(), Err: err}
}

func (p *Pipeline) stoppedResult(r Result) Result {
	r.Success = false
	r.Stage = StageIdle
	r.Message = "stopped by user"
	r.Err = ErrStopped
	if p.opts.OnStage != nil {
		p.opts.OnStage(StageIdle, r.Message)
	}
	return r
}

// Run executes the pipeline. OnFinished receives the same result.
func (p *Pipeline) Run(ctx context.Context) Result {
	r := p.run(ctx)
	if p.opts.OnFinished != nil {
		p.opts.OnFinished(r)
	}
	return r
}

func (p *Pipeline) run(ctx context.Context) Result {
	// -- validating
	p.setStage(StageValidating, "checking project")
	proj, outDir, err := p.validate()
	if err != nil {
		return p.fail(err)
	}
	lang := p.opts.Language
	p.report = diagnostics.New(proj.Name, lang, p.opts.Engine)
	res := Result{OutputDir: outDir}

	if p.stopped.Load() {
		return p.stoppedResult(res)
	}

	// -- unpacking
	files, err := extract.FindScripts([]string{proj.GameDir})
	if err != nil {
		return p.fail(err)
	}
	if p.cfg.UnpackArchives() {
		if archives := extract.FilesByKind(files)[extract.KindArchive]; len(archives) > 0 {
			p.setStage(StageUnpacking, "unpacking %d archive(s)", len(archives))
			if p.unpack(proj.GameDir, archives) > 0 {
				if files, err = extract.FindScripts([]string{proj.GameDir}); err != nil {
					return p.fail(err)
				}
			}
		}
	}
	if p.stopped.Load() {
		return p.stoppedResult(res)
	}

	// -- parsing
	p.setStage(StageParsing, "reading %s", extract.DescribeFiles(files))
	records, err := p.parse(ctx, proj.Root, files)
	if err != nil {
		if p.stopped.Load() || ctx.Err() != nil {
			return p.stoppedResult(res)
		}
		return p.fail(err)
	}
	res.Extracted = len(records)
	p.log("%d translatable texts found", len(records))
	if p.stopped.Load() {
		return p.stoppedResult(res)
	}

	// -- generating
	p.setStage(StageGenerating, "updating tl/%s", lang)
	tlFiles, added, err := p.generate(outDir, records)
	if err != nil {
		return p.fail(err)
	}
	res.Added = added
	if added > 0 {
		p.log("%d new entries added to %s", added, StringsFileName)
	}
	if err := p.writeLanguageInit(proj.GameDir); err != nil {
		p.log("WARNING: %v", err)
	}

	lock, err := lockfile.Load(proj.Root)
	if err != nil {
		p.log("WARNING: %v", err)
		lock = nil
	}

	if p.opts.GenerateOnly {
		return p.complete(res, tlFiles, "translation files generated")
	}
	if p.stopped.Load() {
		return p.stoppedResult(res)
	}

	// -- translating
	pending := p.pending(tlFiles, lock)
	if len(pending) == 0 {
		return p.complete(res, tlFiles, "all texts are already translated")
	}
	p.setStage(StageTranslating, "translating %d texts (%s -> %s)",
		len(pending), p.cfg.SourceLang, langmeta.APICode(lang))
	results := p.translate(ctx, pending)

	// -- saving
	p.setStage(StageSaving, "writing tl/%s", lang)
	p.save(&res, tlFiles, pending, results, lock)

	if p.stopped.Load() {
		p.finishReport()
		return p.stoppedResult(res)
	}
	return p.complete(res, tlFiles, fmt.Sprintf("%d translated, %d written", res.Translated, res.Written))
}

// validate resolves the project and prepares the output directory. Its
// errors are the only ones that fail a run.
func (p *Pipeline) validate() (*config.Project, string, error) {
	if p.opts.Language == "" {
		return nil, "", errors.New("no target language")
	}
	if !p.opts.GenerateOnly && (p.opts.Manager == nil || p.opts.Engine == "") {
		return nil, "", errors.New("no translation engine configured")
	}
	proj, err := config.Detect(p.opts.Root, p.cfg.GameDir)
	if err != nil {
		return nil, "", err
	}
	outDir := proj.TLDir(p.opts.Language)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("creating output directory: %w", err)
	}
	probe, err := os.CreateTemp(outDir, ".renlokit-*")
	if err != nil {
		return nil, "", fmt.Errorf("output directory %s is not writable: %w", outDir, err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return proj, outDir, nil
}

// unpack extracts script members of archives into the game directory,
// never overwriting existing files. It returns the number of files written.
func (p *Pipeline) unpack(gameDir string, archives []string) int {
	total := 0
	for _, path := range archives {
		a, err := rpa.Open(path)
		if err != nil {
			p.log("WARNING: skipping %s: %v", filepath.Base(path), err)
			continue
		}
		if !a.HasScripts() {
			a.Close()
			continue
		}
		written, err := a.Extract(gameDir, func(name string) bool {
			if !rpa.Scripts(name) {
				return false
			}
			target, err := rpa.SafeJoin(gameDir, name)
			if err != nil {
				return true // let Extract report it
			}
			_, statErr := os.Stat(target)
			return os.IsNotExist(statErr)
		})
		a.Close()
		if err != nil {
			p.log("WARNING: %s: %v", filepath.Base(path), err)
		}
		p.log("%s: %d script(s) unpacked", filepath.Base(path), len(written))
		total += len(written)
	}
	return total
}

func (p *Pipeline) workers() int {
	if p.cfg.Workers > 0 {
		return p.cfg.Workers
	}
	return runtime.NumCPU()
}

// parse reads source and compiled scripts. A compiled script is skipped
// when its source sits next to it. Unreadable files are logged and
// skipped.
func (p *Pipeline) parse(ctx context.Context, root string, files []string) ([]extract.Record, error) {
	byKind := extract.FilesByKind(files)
	filter := p.cfg.NewFilter()

	var records []extract.Record
	collect := func(results []extract.FileResult) {
		for _, fr := range results {
			rel := extract.RelPath(root, fr.Path)
			if fr.Err != nil {
				p.log("WARNING: skipping %s: %v", rel, fr.Err)
				p.report.Skip(rel, fr.Err.Error(), diagnostics.Entry{})
				continue
			}
			for _, rec := range fr.Records {
				p.report.Add(rec.File, diagnostics.Entry{
					Status:   diagnostics.StatusExtracted,
					ID:       tlfile.RecordID(rec),
					Original: rec.RawText,
					Line:     rec.Line,
					Context:  rec.ContextPath(),
				})
			}
			records = append(records, fr.Records...)
		}
	}

	sources := byKind[extract.KindSource]
	results, err := extract.ParseSources(ctx, extract.NewParser(filter), root, sources, p.workers())
	if err != nil {
		return nil, err
	}
	collect(results)

	if p.cfg.ReadCompiled() {
		have := make(map[string]bool, len(sources))
		for _, s := range sources {
			have[strings.TrimSuffix(s, filepath.Ext(s))] = true
		}
		var compiled []string
		for _, c := range byKind[extract.KindCompiled] {
			if !have[strings.TrimSuffix(c, filepath.Ext(c))] {
				compiled = append(compiled, c)
			}
		}
		if len(compiled) > 0 {
			results, err := rpyc.ExtractFiles(ctx, rpyc.NewExtractor(filter), root, compiled, p.workers())
			if err != nil {
				return nil, err
			}
			collect(results)
		}
	}
	return records, nil
}

// generate parses tl/<lang> and appends entries for texts none of its
// files contain yet to strings.rpy.
func (p *Pipeline) generate(outDir string, records []extract.Record) ([]*tlfile.File, int, error) {
	files, err := tlfile.ParseDir(outDir)
	if err != nil {
		return nil, 0, err
	}

	stringsPath := filepath.Join(outDir, StringsFileName)
	var existing *tlfile.File
	known := map[string]bool{}
	for _, f := range files {
		if f.Path == stringsPath {
			existing = f
			continue
		}
		for _, e := range f.Entries {
			known[e.Original] = true
		}
	}
	var fresh []extract.Record
	for _, r := range records {
		if !known[r.RawText] {
			fresh = append(fresh, r)
		}
	}

	merged, added := tlfile.Merge(existing, fresh, p.opts.Language)
	if added == 0 {
		return files, 0, nil
	}
	merged.Path = stringsPath
	if err := tlfile.WriteFile(stringsPath, merged.Content()); err != nil {
		return nil, 0, err
	}
	// WriteFile normalizes to a BOM and LF endings; parse what is on disk.
	if merged, err = tlfile.ParseFile(stringsPath); err != nil {
		return nil, 0, err
	}
	if existing == nil {
		files = append(files, merged)
	} else {
		for i, f := range files {
			if f == existing {
				files[i] = merged
			}
		}
	}
	return files, added, nil
}

// writeLanguageInit creates tl/<lang>/a0_<lang>_language.rpy unless it
// exists.
func (p *Pipeline) writeLanguageInit(gameDir string) error {
	rel, content := tlfile.LanguageInitFile(p.opts.Language)
	path := filepath.Join(gameDir, filepath.FromSlash(rel))
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return tlfile.WriteFile(path, content)
}

// job is one entry awaiting translation.
type job struct {
	file  *tlfile.File
	entry *tlfile.Entry
}

// pending lists the entries to translate: empty ones, plus machine-written
// ones when retranslating. Hand-edited translations are never touched.
func (p *Pipeline) pending(files []*tlfile.File, lock *lockfile.LockFile) []job {
	var jobs []job
	for _, f := range files {
		for _, e := range f.Entries {
			if tlfile.Trivial(e.Original) {
				continue
			}
			if e.Pending() {
				jobs = append(jobs, job{f, e})
				continue
			}
			if p.opts.Retranslate && lock != nil {
				if lock.MachineWritten(p.opts.Language, e.Original, e.Translation) {
					jobs = append(jobs, job{f, e})
				} else {
					p.report.Skip(p.rel(f), "edited by hand", diagnostics.Entry{
						ID: e.ID, Original: e.Original, Translated: e.Translation,
					})
				}
			}
		}
	}
	return jobs
}

// translate sends jobs to the manager in chunks, reporting progress after
// each. A stop leaves the remaining jobs without a result.
func (p *Pipeline) translate(ctx context.Context, jobs []job) []translate.Result {
	target := langmeta.APICode(p.opts.Language)
	results := make([]translate.Result, 0, len(jobs))
	for start := 0; start < len(jobs); start += chunkSize {
		if p.stopped.Load() || ctx.Err() != nil {
			break
		}
		chunk := jobs[start:min(start+chunkSize, len(jobs))]
		reqs := make([]translate.Request, len(chunk))
		for i, j := range chunk {
			reqs[i] = translate.Request{
				Text:       j.entry.Original,
				SourceLang: p.cfg.SourceLang,
				TargetLang: target,
				Engine:     p.opts.Engine,
				Metadata:   map[string]any{"id": j.entry.ID, "file": j.file.Path},
			}
		}
		results = append(results, p.opts.Manager.TranslateBatch(ctx, reqs)...)
		p.progress(len(results), len(jobs), label(chunk[0].entry.Original))
	}
	return results
}

// label shortens a text for progress display.
func label(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 50 {
		return string(r[:50]) + "..."
	}
	return s
}

// save writes successful results into their files and records what was
// written in the lock file and the report.
func (p *Pipeline) save(res *Result, files []*tlfile.File, jobs []job, results []translate.Result, lock *lockfile.LockFile) {
	lang := p.opts.Language
	updates := map[*tlfile.File]map[string]string{}
	written := map[string]string{}

	for i, r := range results {
		if errors.Is(r.Err, translate.ErrStopped) {
			continue
		}
		j := jobs[i]
		rel := p.rel(j.file)
		entry := diagnostics.Entry{ID: j.entry.ID, Original: r.Original, Translated: r.Translated}
		switch {
		case r.Fallback:
			res.Unchanged++
			entry.Status = diagnostics.StatusUnchanged
			if r.Err != nil {
				entry.Reason = r.Err.Error()
			}
			p.report.Add(rel, entry)
		case !r.Success:
			res.Skipped++
			reason := "translation failed"
			if r.Err != nil {
				reason = r.Err.Error()
			}
			p.report.Skip(rel, reason, entry)
		case r.Translated == j.entry.Translation:
			res.Unchanged++
			entry.Status = diagnostics.StatusUnchanged
			p.report.Add(rel, entry)
		default:
			res.Translated++
			entry.Status = diagnostics.StatusTranslated
			p.report.Add(rel, entry)
			if updates[j.file] == nil {
				updates[j.file] = map[string]string{}
			}
			updates[j.file][j.entry.ID] = r.Translated
		}
	}

	for _, f := range files {
		u := updates[f]
		if len(u) == 0 {
			continue
		}
		content, changed := f.Update(u)
		if !changed {
			continue
		}
		if err := tlfile.WriteFile(f.Path, content); err != nil {
			p.log("WARNING: %v", err)
			for id := range u {
				res.Skipped++
				p.report.Skip(p.rel(f), err.Error(), diagnostics.Entry{ID: id})
			}
			continue
		}
		for id, tr := range u {
			e := f.Lookup(id)
			if e == nil {
				continue
			}
			written[e.Original] = tr
			res.Written++
			p.report.Add(p.rel(f), diagnostics.Entry{
				Status: diagnostics.StatusWritten, ID: id, Original: e.Original, Translated: tr,
			})
		}
	}

	if lock == nil {
		return
	}
	lock.RecordBatch(lang, written)
	var originals []string
	for _, f := range files {
		for _, e := range f.Entries {
			originals = append(originals, e.Original)
		}
	}
	lock.Clean(lang, originals)
	if err := lock.Save(); err != nil {
		p.log("WARNING: %v", err)
	}
}

func (p *Pipeline) rel(f *tlfile.File) string {
	return extract.RelPath(p.opts.Root, f.Path)
}

func (p *Pipeline) finishReport() {
	p.report.Finish()
	if p.opts.DiagnosticsPath == "" {
		return
	}
	if err := p.report.Write(p.opts.DiagnosticsPath); err != nil {
		p.log("WARNING: %v", err)
		return
	}
	p.log("diagnostics written to %s", p.opts.DiagnosticsPath)
}

func (p *Pipeline) complete(res Result, files []*tlfile.File, msg string) Result {
	res.Stats = tlfile.Collect(files)
	p.finishReport()
	res.Success = true
	res.Stage = StageCompleted
	res.Message = msg
	p.setStage(StageCompleted, "%s", msg)
	return res
}
