// Package translate is the translation orchestrator: it dedups requests,
// packs them into slices, consults the cache, calls engines with retry and
// adaptive concurrency, and refuses translations that corrupt protected
// constructs.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/minios-linux/renlokit/cache"
	"github.com/minios-linux/renlokit/placeholder"
	"github.com/minios-linux/renlokit/upstream"
)

// ErrStopped is the error of results left untranslated by Stop or by a
// cancelled context.
var ErrStopped = errors.New("translation stopped")

// Slicing and retry defaults.
const (
	DefaultMaxSliceChars = 4500
	DefaultMaxSliceTexts = 25
	DefaultMaxRetries    = 1
	DefaultTimeout       = 30 * time.Second
)

// DefaultRetryDelays are the waits before the first and later retries.
var DefaultRetryDelays = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}

// ---------------------------------------------------------------------------
// Requests and results
// ---------------------------------------------------------------------------

// Request asks for one text to be translated.
type Request struct {
	Text       string
	SourceLang string
	TargetLang string
	Engine     string
	// Metadata is opaque to the manager and comes back on the Result.
	Metadata map[string]any
}

// Result is the outcome of one Request.
type Result struct {
	Original   string
	Translated string
	Success    bool
	Err        error
	Confidence float64
	Engine     string
	Metadata   map[string]any
	// Cached is set when the translation came from the cache.
	Cached bool
	// Fallback is set when the translation dropped protected constructs
	// and the original text was substituted.
	Fallback bool
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Options configures a Manager.
type Options struct {
	// Engines are addressed by their Name().
	Engines []Engine
	// CacheCapacity bounds the in-memory cache (default cache.DefaultCapacity).
	CacheCapacity int
	// Store is an optional persistent translation memory.
	Store *cache.Store
	// Rotator supplies upstream identities; nil means direct connections.
	Rotator *upstream.Rotator
	// Glossary is applied to translated text after the cache.
	Glossary *Glossary

	MaxSliceChars int
	MaxSliceTexts int
	// MaxRetries is the number of extra attempts per slice. Zero selects
	// DefaultMaxRetries; a negative value disables retries.
	MaxRetries  int
	RetryDelays []time.Duration
	// Timeout bounds each attempt.
	Timeout time.Duration
	// Concurrency is the initial adaptive limit.
	Concurrency int

	// OnProgress is called as slots resolve.
	OnProgress func(done, total int)
	// OnLog emits log messages during translation.
	OnLog func(format string, args ...any)
	// OnError emits error messages during translation.
	OnError func(format string, args ...any)
	Verbose bool

	now func() time.Time
}

func (o *Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) logError(format string, args ...any) {
	if o.OnError != nil {
		o.OnError(format, args...)
	} else if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) effectiveMaxRetries() int {
	switch {
	case o.MaxRetries < 0:
		return 0
	case o.MaxRetries == 0:
		return DefaultMaxRetries
	}
	return o.MaxRetries
}

func (o *Options) retryDelay(attempt int) time.Duration {
	delays := o.RetryDelays
	if len(delays) == 0 {
		delays = DefaultRetryDelays
	}
	return delays[min(attempt, len(delays)-1)]
}

func (o *Options) effectiveTimeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return DefaultTimeout
}

func (o *Options) effectiveSliceChars() int {
	if o.MaxSliceChars > 0 {
		return o.MaxSliceChars
	}
	return DefaultMaxSliceChars
}

func (o *Options) effectiveSliceTexts() int {
	if o.MaxSliceTexts > 0 {
		return o.MaxSliceTexts
	}
	return DefaultMaxSliceTexts
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

// Manager owns the cache, the metrics window, the rotator handle and the
// stop flag. It is safe for concurrent use.
type Manager struct {
	opts    Options
	engines map[string]Engine
	lru     *cache.LRU
	limiter *limiter

	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager returns a manager for opts.
func NewManager(opts Options) *Manager {
	m := &Manager{
		opts:    opts,
		engines: make(map[string]Engine, len(opts.Engines)),
		lru:     cache.NewLRU(opts.CacheCapacity),
		stopCh:  make(chan struct{}),
	}
	for _, e := range opts.Engines {
		m.engines[e.Name()] = e
	}
	m.limiter = newLimiter(opts.Concurrency, MaxConcurrency, opts.now)
	m.limiter.onChange = func(old, next int, latency time.Duration, failRate float64) {
		m.opts.log("Adaptive concurrency %d -> %d (latency %v, failures %.1f%%)", old, next, latency.Round(time.Millisecond), failRate*100)
	}
	if r := opts.Rotator; r != nil && r.Len() > 0 {
		m.limiter.setCeiling(r.SuggestConcurrency())
	}
	return m
}

// Stop asks the manager to stop. Slices already in flight finish; nothing
// new is dispatched.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.stopped.Store(true)
		close(m.stopCh)
	})
}

// Done is closed by Stop.
func (m *Manager) Done() <-chan struct{} { return m.stopCh }

// Stopped reports whether Stop was called.
func (m *Manager) Stopped() bool { return m.stopped.Load() }

// Limit returns the current adaptive concurrency limit.
func (m *Manager) Limit() int { return m.limiter.Limit() }

// CacheStats returns in-memory cache hits, misses and size.
func (m *Manager) CacheStats() (hits, misses, size int) {
	hits, misses = m.lru.Stats()
	return hits, misses, m.lru.Len()
}

// TranslateOne translates a single request through the cache and retry
// machinery.
func (m *Manager) TranslateOne(ctx context.Context, req Request) Result {
	return m.TranslateBatch(ctx, []Request{req})[0]
}

type groupKey struct {
	engine, sl, tl string
}

// TranslateBatch translates reqs and returns one result per request, in
// input order.
func (m *Manager) TranslateBatch(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	if len(reqs) == 0 {
		return results
	}
	m.prepareUpstream(ctx)

	var order []groupKey
	groups := make(map[groupKey][]int)
	for i, r := range reqs {
		k := groupKey{engine: r.Engine, sl: r.SourceLang, tl: r.TargetLang}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	p := &progress{total: len(reqs), fn: m.opts.OnProgress}
	for _, k := range order {
		if m.Stopped() || ctx.Err() != nil {
			for _, i := range groups[k] {
				results[i] = failure(reqs[i], ErrStopped)
			}
			p.add(len(groups[k]))
			continue
		}
		m.translateGroup(ctx, k, groups[k], reqs, results, p)
	}
	m.limiter.adapt()
	return results
}

func (m *Manager) prepareUpstream(ctx context.Context) {
	r := m.opts.Rotator
	if r == nil {
		return
	}
	if err := r.EnsureFresh(ctx); err != nil {
		m.opts.logError("Refreshing upstream list: %v", err)
	}
	if r.Len() > 0 {
		m.limiter.setCeiling(r.SuggestConcurrency())
	}
}

type progress struct {
	mu    sync.Mutex
	done  int
	total int
	fn    func(done, total int)
}

func (p *progress) add(n int) {
	if p.fn == nil || n == 0 {
		return
	}
	p.mu.Lock()
	p.done += n
	done := p.done
	p.mu.Unlock()
	p.fn(done, p.total)
}

func failure(r Request, err error) Result {
	return Result{Original: r.Text, Err: err, Engine: r.Engine, Metadata: r.Metadata}
}

// outcome is the shared answer for one unique text of a group.
type outcome struct {
	text     string
	err      error
	cached   bool
	fallback bool
}

// unit is one unique text on its way to an engine.
type unit struct {
	text      string
	protected string
	pmap      placeholder.Map
}

func (m *Manager) translateGroup(ctx context.Context, k groupKey, idx []int, reqs []Request, results []Result, p *progress) {
	eng, ok := m.engines[k.engine]
	if !ok {
		err := &PermanentError{Engine: k.engine, Msg: "engine not available"}
		for _, i := range idx {
			results[i] = failure(reqs[i], err)
		}
		p.add(len(idx))
		return
	}

	var uniq []string
	slots := make(map[string][]int)
	for _, i := range idx {
		t := reqs[i].Text
		if _, seen := slots[t]; !seen {
			uniq = append(uniq, t)
		}
		slots[t] = append(slots[t], i)
	}

	var mu sync.Mutex
	outcomes := make(map[string]outcome, len(uniq))
	var pending []string
	resolved := 0
	for _, t := range uniq {
		if strings.TrimSpace(t) == "" || placeholder.OnlyPlaceholders(t) {
			outcomes[t] = outcome{text: t}
			resolved += len(slots[t])
			continue
		}
		if v, ok := m.lookup(ctx, k, t); ok {
			outcomes[t] = outcome{text: v, cached: true}
			resolved += len(slots[t])
			continue
		}
		pending = append(pending, t)
	}
	p.add(resolved)

	slices := m.pack(pending)
	if len(slices) > 0 && m.opts.Verbose {
		m.opts.log("%s %s->%s: %d texts (%d unique, %d uncached) in %d slices",
			k.engine, k.sl, k.tl, len(idx), len(uniq), len(pending), len(slices))
	}
	// The dispatcher only bounds goroutines; acquire applies the live limit.
	_ = runParallelGeneric(ctx, slices, min(len(slices), m.limiter.Ceiling()), 0, func(ctx context.Context, units []unit) error {
		if m.Stopped() {
			return nil
		}
		if err := m.limiter.acquire(ctx); err != nil {
			return err
		}
		defer m.limiter.release()

		got := m.runSlice(ctx, eng, k, units)
		n := 0
		mu.Lock()
		for t, o := range got {
			outcomes[t] = o
			n += len(slots[t])
		}
		mu.Unlock()
		p.add(n)
		return nil
	})

	for t, is := range slots {
		o, ok := outcomes[t]
		if !ok {
			for _, i := range is {
				results[i] = failure(reqs[i], ErrStopped)
			}
			p.add(len(is))
			continue
		}
		translated := o.text
		if o.err == nil {
			translated = m.opts.Glossary.Apply(translated)
		}
		for _, i := range is {
			r := reqs[i]
			results[i] = Result{
				Original:   r.Text,
				Translated: translated,
				Success:    o.err == nil,
				Err:        o.err,
				Engine:     k.engine,
				Metadata:   r.Metadata,
				Cached:     o.cached,
				Fallback:   o.fallback,
			}
			if o.err == nil {
				results[i].Confidence = confidence(k.engine)
			} else if !o.fallback {
				results[i].Translated = ""
			}
		}
	}
}

func confidence(engine string) float64 {
	if engine == EnginePseudo {
		return 1.0
	}
	return 0.9
}

func (m *Manager) cacheKey(k groupKey, text string) cache.Key {
	return cache.Key{Engine: k.engine, SourceLang: k.sl, TargetLang: k.tl, Text: text}
}

// lookup consults the in-memory cache, then the persistent store.
func (m *Manager) lookup(ctx context.Context, k groupKey, text string) (string, bool) {
	key := m.cacheKey(k, text)
	if v, ok := m.lru.Get(key); ok {
		return v, true
	}
	if m.opts.Store == nil {
		return "", false
	}
	v, ok, err := m.opts.Store.Get(ctx, key)
	if err != nil {
		m.opts.logError("Translation memory lookup: %v", err)
		return "", false
	}
	if ok {
		m.lru.Put(key, v)
	}
	return v, ok
}

// pack protects each text and groups the results into slices bounded by
// character and text counts. A text longer than the character bound gets a
// slice of its own.
func (m *Manager) pack(texts []string) [][]unit {
	maxChars, maxTexts := m.opts.effectiveSliceChars(), m.opts.effectiveSliceTexts()
	var out [][]unit
	var cur []unit
	chars := 0
	for _, t := range texts {
		protected, pm := placeholder.Protect(t)
		n := len([]rune(protected))
		if len(cur) > 0 && (chars+n > maxChars || len(cur) >= maxTexts) {
			out = append(out, cur)
			cur, chars = nil, 0
		}
		cur = append(cur, unit{text: t, protected: protected, pmap: pm})
		chars += n
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// runSlice calls the engine for one slice and validates each answer.
func (m *Manager) runSlice(ctx context.Context, eng Engine, k groupKey, units []unit) map[string]outcome {
	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.protected
	}
	res := make(map[string]outcome, len(units))

	out, err := m.call(ctx, eng, texts, k.sl, k.tl)
	if err != nil {
		m.opts.logError("%s: slice of %d failed: %v", eng.Name(), len(units), err)
		for _, u := range units {
			res[u.text] = outcome{err: err}
		}
		return res
	}

	store := make(map[cache.Key]string)
	for i, u := range units {
		tr := out[i]
		if strings.TrimSpace(tr) == "" {
			res[u.text] = outcome{err: fmt.Errorf("%s: empty translation", eng.Name())}
			continue
		}
		restored := placeholder.Restore(tr, u.pmap)
		if missing := placeholder.Validate(u.text, restored); len(missing) > 0 {
			m.opts.logError("Rejected translation of %q: lost %s", truncate(u.text, 60), strings.Join(missing, " "))
			res[u.text] = outcome{text: u.text, err: &PlaceholderError{Missing: missing}, fallback: true}
			continue
		}
		res[u.text] = outcome{text: restored}
		key := m.cacheKey(k, u.text)
		m.lru.Put(key, restored)
		store[key] = restored
	}
	if m.opts.Store != nil && len(store) > 0 {
		if err := m.opts.Store.PutMany(context.WithoutCancel(ctx), store); err != nil {
			m.opts.logError("Translation memory write: %v", err)
		}
	}
	return res
}

// call runs one slice through the engine with per-attempt timeouts and
// retries. Permanent errors and cancellation end the loop at once.
func (m *Manager) call(ctx context.Context, eng Engine, texts []string, sl, tl string) ([]string, error) {
	rot := m.opts.Rotator
	attempts := 1 + m.opts.effectiveMaxRetries()
	var lastErr error
	for a := 0; a < attempts; a++ {
		if a > 0 {
			if m.Stopped() {
				break
			}
			if err := sleepCtx(ctx, m.backoff(a-1, lastErr)); err != nil {
				break
			}
		}

		var id *upstream.Identity
		if rot != nil {
			id = rot.NextIdentity()
		}
		actx, cancel := context.WithTimeout(WithIdentity(ctx, id), m.opts.effectiveTimeout())
		start := time.Now()
		out, err := eng.Translate(actx, texts, sl, tl)
		elapsed := time.Since(start)
		cancel()
		if err == nil && len(out) != len(texts) {
			err = fmt.Errorf("%s returned %d translations for %d texts", eng.Name(), len(out), len(texts))
		}
		m.limiter.record(elapsed, err == nil)

		if err == nil {
			if rot != nil {
				rot.ReportSuccess(id, elapsed)
			}
			return out, nil
		}
		if rot != nil {
			rot.ReportFailure(id)
		}
		lastErr = err
		if m.opts.Verbose {
			m.opts.log("%s attempt %d/%d: %v", eng.Name(), a+1, attempts, err)
		}

		var perm *PermanentError
		if errors.As(err, &perm) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// backoff is the wait before retry attempt+1. A service that named its own
// delay is honoured up to the attempt timeout.
func (m *Manager) backoff(attempt int, err error) time.Duration {
	var re *RetryableError
	if errors.As(err, &re) && re.After > 0 {
		return min(re.After, m.opts.effectiveTimeout())
	}
	return m.opts.retryDelay(attempt)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ---------------------------------------------------------------------------
// Generic parallel runner
// ---------------------------------------------------------------------------

// runParallelGeneric runs typed tasks in parallel with a concurrency limit
// and an optional delay between launches. It returns the first error.
func runParallelGeneric[T any](ctx context.Context, tasks []T, maxConcurrent int, delay time.Duration, fn func(context.Context, T) error) error {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	var firstErr error
	var errOnce sync.Once

launch:
	for i, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				break launch
			case <-time.After(delay):
			}
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(t T) {
			defer func() {
				<-sem
				wg.Done()
			}()
			if err := fn(ctx, t); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}(task)
	}

	wg.Wait()
	return firstErr
}
