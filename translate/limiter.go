package translate

import (
	"context"
	"sync"
	"time"
)

// Adaptive concurrency defaults.
const (
	DefaultConcurrency = 256
	MinConcurrency     = 4
	MaxConcurrency     = 512

	metricsWindow = 500
	minSamples    = 20
	evaluateEvery = 25
	adaptCooldown = 5 * time.Second
	slowLatency   = 1500 * time.Millisecond
	fastLatency   = 500 * time.Millisecond
	highFailRate  = 0.2
	lowFailRate   = 0.05
	shrinkFactor  = 0.8
	growFactor    = 1.1
)

type sample struct {
	dur time.Duration
	ok  bool
}

// limiter is a resizable semaphore driven by a rolling window of call
// outcomes. One mutex guards everything; it is never held while waiting.
type limiter struct {
	mu     sync.Mutex
	limit  int
	ceil   int
	active int
	wake   chan struct{}

	window    []sample
	pos       int
	sinceEval int
	lastAdapt time.Time

	now      func() time.Time
	onChange func(old, next int, latency time.Duration, failRate float64)
}

func newLimiter(initial, ceil int, now func() time.Time) *limiter {
	if ceil <= 0 || ceil > MaxConcurrency {
		ceil = MaxConcurrency
	}
	if initial <= 0 {
		initial = DefaultConcurrency
	}
	if initial > ceil {
		initial = ceil
	}
	if now == nil {
		now = time.Now
	}
	return &limiter{limit: initial, ceil: ceil, wake: make(chan struct{}), now: now}
}

// Limit returns the current concurrency limit.
func (l *limiter) Limit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

// Ceiling returns the upper bound the limit can grow to.
func (l *limiter) Ceiling() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ceil
}

// setCeiling lowers or raises the upper bound, clamping the current limit.
func (l *limiter) setCeiling(ceil int) {
	if ceil <= 0 {
		return
	}
	if ceil > MaxConcurrency {
		ceil = MaxConcurrency
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ceil = ceil
	if l.limit > ceil {
		l.limit = ceil
	}
	l.broadcast()
}

func (l *limiter) acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		if l.active < l.limit {
			l.active++
			l.mu.Unlock()
			return nil
		}
		wake := l.wake
		l.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}

func (l *limiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active--
	l.broadcast()
}

// broadcast wakes every waiter. Callers hold mu.
func (l *limiter) broadcast() {
	close(l.wake)
	l.wake = make(chan struct{})
}

// record adds one call outcome and re-evaluates every evaluateEvery
// samples.
func (l *limiter) record(d time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := sample{dur: d, ok: ok}
	if len(l.window) < metricsWindow {
		l.window = append(l.window, s)
	} else {
		l.window[l.pos] = s
		l.pos = (l.pos + 1) % metricsWindow
	}
	l.sinceEval++
	if l.sinceEval%evaluateEvery == 0 {
		l.adaptLocked()
	}
}

// adapt re-evaluates the limit outside the sample cadence, for example at
// the end of a batch.
func (l *limiter) adapt() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.adaptLocked()
}

func (l *limiter) adaptLocked() {
	now := l.now()
	if !l.lastAdapt.IsZero() && now.Sub(l.lastAdapt) < adaptCooldown {
		return
	}
	if len(l.window) < minSamples {
		return
	}
	var total time.Duration
	failed := 0
	for _, s := range l.window {
		total += s.dur
		if !s.ok {
			failed++
		}
	}
	latency := total / time.Duration(len(l.window))
	failRate := float64(failed) / float64(len(l.window))

	old := l.limit
	next := old
	switch {
	case failRate > highFailRate || latency > slowLatency:
		next = max(MinConcurrency, int(float64(old)*shrinkFactor))
	case failRate < lowFailRate && latency < fastLatency:
		next = min(l.ceil, max(old+1, int(float64(old)*growFactor)))
	}
	l.lastAdapt = now
	if next == old {
		return
	}
	l.limit = next
	l.broadcast()
	if l.onChange != nil {
		l.onChange(old, next, latency, failRate)
	}
}
