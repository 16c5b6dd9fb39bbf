// Package upstream rotates outbound network identities (HTTP and SOCKS
// proxies) for the translation engines and tracks how each one behaves.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// Defaults for Options fields left at zero.
const (
	DefaultRefreshInterval = time.Hour
	DefaultMaxFailures     = 10
	DefaultMinSuccessRate  = 0.3
	DefaultProbeBatch      = 20
)

// Identity is one upstream route.
type Identity struct {
	Host         string
	Port         int
	Protocol     string
	Country      string
	Successes    int
	Failures     int
	LastUsed     time.Time
	ResponseTime time.Duration
	Healthy      bool
}

// Addr returns host:port, the dedup key.
func (id *Identity) Addr() string {
	return net.JoinHostPort(id.Host, strconv.Itoa(id.Port))
}

// URL returns the proxy URL for the identity.
func (id *Identity) URL() string {
	proto := id.Protocol
	if proto == "" {
		proto = "http"
	}
	return proto + "://" + id.Addr()
}

// SuccessRate is successes / attempts, or 1 when the identity is unused.
func (id *Identity) SuccessRate() float64 {
	total := id.Successes + id.Failures
	if total == 0 {
		return 1.0
	}
	return float64(id.Successes) / float64(total)
}

// ---------------------------------------------------------------------------
// Sources
// ---------------------------------------------------------------------------

// Source supplies candidate identities.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]*Identity, error)
}

// StaticSource is a fixed list of "host:port" or "scheme://host:port"
// entries, usually from the project file.
type StaticSource []string

func (s StaticSource) Name() string { return "custom" }

func (s StaticSource) Fetch(context.Context) ([]*Identity, error) {
	return ParseList(strings.Join(s, "\n"), "http"), nil
}

// URLSource downloads a proxy list. Plain text lists hold one entry per
// line; JSON responses in the {"data":[{"ip","port","protocols","country"}]}
// shape are also understood.
type URLSource struct {
	URL string
	// Protocol is assumed for text entries without a scheme.
	Protocol string
	Client   *resty.Client
}

func (s URLSource) Name() string { return s.URL }

func (s URLSource) Fetch(ctx context.Context) ([]*Identity, error) {
	c := s.Client
	if c == nil {
		c = resty.New().SetTimeout(15 * time.Second)
	}
	resp, err := c.R().SetContext(ctx).Get(s.URL)
	if err != nil {
		return nil, fmt.Errorf("fetching proxy list %s: %w", s.URL, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetching proxy list %s: %s", s.URL, resp.Status())
	}
	body := strings.TrimSpace(resp.String())
	if strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[") {
		return parseJSONList([]byte(body))
	}
	proto := s.Protocol
	if proto == "" {
		proto = "http"
	}
	return ParseList(body, proto), nil
}

// ParseList parses one entry per line. Blank lines, comments and malformed
// entries are skipped.
func ParseList(text, defaultProto string) []*Identity {
	var out []*Identity
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if id := parseEntry(strings.Fields(line)[0], defaultProto); id != nil {
			out = append(out, id)
		}
	}
	return out
}

func parseEntry(entry, defaultProto string) *Identity {
	proto := defaultProto
	if strings.Contains(entry, "://") {
		u, err := url.Parse(entry)
		if err != nil || u.Hostname() == "" || u.Port() == "" {
			return nil
		}
		port, err := strconv.Atoi(u.Port())
		if err != nil || port <= 0 || port > 65535 {
			return nil
		}
		return &Identity{Host: u.Hostname(), Port: port, Protocol: strings.ToLower(u.Scheme), Healthy: true}
	}
	host, portStr, err := net.SplitHostPort(entry)
	if err != nil || host == "" {
		return nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil
	}
	return &Identity{Host: host, Port: port, Protocol: proto, Healthy: true}
}

func parseJSONList(body []byte) ([]*Identity, error) {
	type item struct {
		IP        string          `json:"ip"`
		Host      string          `json:"host"`
		Port      json.RawMessage `json:"port"`
		Protocols []string        `json:"protocols"`
		Protocol  string          `json:"protocol"`
		Country   string          `json:"country"`
	}
	var wrapped struct {
		Data []item `json:"data"`
	}
	var items []item
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Data != nil {
		items = wrapped.Data
	} else if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("parsing proxy list: %w", err)
	}

	var out []*Identity
	for _, it := range items {
		host := it.IP
		if host == "" {
			host = it.Host
		}
		port, err := strconv.Atoi(strings.Trim(string(it.Port), `"`))
		if host == "" || err != nil || port <= 0 || port > 65535 {
			continue
		}
		proto := it.Protocol
		if len(it.Protocols) > 0 {
			proto = it.Protocols[0]
		}
		if proto == "" {
			proto = "http"
		}
		out = append(out, &Identity{Host: host, Port: port, Protocol: strings.ToLower(proto), Country: it.Country, Healthy: true})
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Rotator
// ---------------------------------------------------------------------------

// Options configures a Rotator.
type Options struct {
	Sources         []Source
	RefreshInterval time.Duration
	MaxFailures     int
	MinSuccessRate  float64

	// ProbeURL, when set, is fetched through every candidate on refresh and
	// only the identities that answer are kept.
	ProbeURL     string
	ProbeTimeout time.Duration

	OnLog func(msg string)
	// Now is the clock; tests replace it.
	Now func() time.Time
}

// Rotator hands out identities round-robin and keeps their health. All
// methods are safe for concurrent use; no lock is held across network I/O.
type Rotator struct {
	opts Options

	mu        sync.Mutex
	list      []*Identity
	next      int
	refreshed time.Time
}

// New returns a rotator. Call Refresh to populate it.
func New(opts Options) *Rotator {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = DefaultMaxFailures
	}
	if opts.MinSuccessRate <= 0 {
		opts.MinSuccessRate = DefaultMinSuccessRate
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Rotator{opts: opts}
}

func (r *Rotator) log(format string, args ...any) {
	if r.opts.OnLog != nil {
		r.opts.OnLog(fmt.Sprintf(format, args...))
	}
}

// Refresh fetches every source, dedups by host:port and replaces the list.
// Counters of identities that were already known are kept. An error is
// returned only when every source failed.
func (r *Rotator) Refresh(ctx context.Context) error {
	var (
		fetched []*Identity
		errs    []error
	)
	for _, src := range r.opts.Sources {
		ids, err := src.Fetch(ctx)
		if err != nil {
			r.log("proxy source %s: %v", src.Name(), err)
			errs = append(errs, err)
			continue
		}
		fetched = append(fetched, ids...)
	}

	seen := make(map[string]bool, len(fetched))
	unique := fetched[:0]
	for _, id := range fetched {
		if !seen[id.Addr()] {
			seen[id.Addr()] = true
			unique = append(unique, id)
		}
	}
	if r.opts.ProbeURL != "" && len(unique) > 0 {
		unique = r.probeAll(ctx, unique)
	}

	r.mu.Lock()
	old := make(map[string]*Identity, len(r.list))
	for _, id := range r.list {
		old[id.Addr()] = id
	}
	for i, id := range unique {
		if prev, ok := old[id.Addr()]; ok && r.opts.ProbeURL == "" {
			unique[i] = prev
		}
	}
	r.list = unique
	r.next = 0
	r.refreshed = r.opts.Now()
	r.mu.Unlock()

	r.log("proxy list refreshed: %d identities", len(unique))
	if len(errs) > 0 && len(errs) == len(r.opts.Sources) {
		return errors.Join(errs...)
	}
	return nil
}

// EnsureFresh refreshes the list when it is empty or older than the
// refresh interval.
func (r *Rotator) EnsureFresh(ctx context.Context) error {
	r.mu.Lock()
	stale := r.refreshed.IsZero() || r.opts.Now().Sub(r.refreshed) > r.opts.RefreshInterval
	r.mu.Unlock()
	if !stale {
		return nil
	}
	return r.Refresh(ctx)
}

// probeAll checks candidates in batches and keeps the ones that respond.
func (r *Rotator) probeAll(ctx context.Context, ids []*Identity) []*Identity {
	var working []*Identity
	for start := 0; start < len(ids); start += DefaultProbeBatch {
		end := min(start+DefaultProbeBatch, len(ids))
		batch := ids[start:end]
		ok := make([]bool, len(batch))
		var wg sync.WaitGroup
		for i, id := range batch {
			wg.Add(1)
			go func(i int, id *Identity) {
				defer wg.Done()
				ok[i] = r.Probe(ctx, id)
			}(i, id)
		}
		wg.Wait()
		for i, id := range batch {
			if ok[i] {
				working = append(working, id)
			}
		}
	}
	return working
}

// Probe fetches ProbeURL through id and records the outcome on id. It is
// meant for identities not yet shared with other goroutines.
func (r *Rotator) Probe(ctx context.Context, id *Identity) bool {
	client := resty.New().SetProxy(id.URL()).SetTimeout(r.opts.ProbeTimeout)
	start := time.Now()
	resp, err := client.R().SetContext(ctx).Get(r.opts.ProbeURL)
	if err != nil || resp.StatusCode() != 200 {
		id.Failures++
		id.Healthy = false
		return false
	}
	id.Successes++
	id.ResponseTime = time.Since(start)
	id.Healthy = true
	return true
}

// NextIdentity returns a snapshot of the next identity, or nil when the
// list is empty (direct connection). Healthy identities with a success rate
// above one half are preferred; when there are none, every identity is
// eligible.
func (r *Rotator) NextIdentity() *Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.list) == 0 {
		return nil
	}
	var pool []*Identity
	for _, id := range r.list {
		if id.Healthy && id.SuccessRate() > 0.5 {
			pool = append(pool, id)
		}
	}
	if len(pool) == 0 {
		pool = r.list
	}
	id := pool[r.next%len(pool)]
	r.next++
	id.LastUsed = r.opts.Now()
	snap := *id
	return &snap
}

func (r *Rotator) find(addr string) *Identity {
	for _, id := range r.list {
		if id.Addr() == addr {
			return id
		}
	}
	return nil
}

// ReportSuccess records a successful call through id.
func (r *Rotator) ReportSuccess(id *Identity, latency time.Duration) {
	if id == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.find(id.Addr())
	if cur == nil {
		return
	}
	cur.Successes++
	n := time.Duration(cur.Successes)
	cur.ResponseTime = (cur.ResponseTime*(n-1) + latency) / n
	r.updateHealth(cur)
}

// ReportFailure records a failed call through id. The identity is marked
// unhealthy once it has more than MaxFailures failures and a success rate
// under MinSuccessRate.
func (r *Rotator) ReportFailure(id *Identity) {
	if id == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.find(id.Addr())
	if cur == nil {
		return
	}
	cur.Failures++
	r.updateHealth(cur)
}

func (r *Rotator) updateHealth(id *Identity) {
	id.Healthy = !(id.Failures > r.opts.MaxFailures && id.SuccessRate() < r.opts.MinSuccessRate)
}

// SuggestConcurrency maps the number of usable identities to a worker
// count.
func (r *Rotator) SuggestConcurrency() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range r.list {
		if id.Healthy && id.SuccessRate() > 0.5 {
			n++
		}
	}
	switch {
	case n >= 50:
		return 32
	case n >= 20:
		return 16
	case n >= 10:
		return 8
	case n >= 5:
		return 4
	}
	return 2
}

// Stats summarizes the identity list.
type Stats struct {
	Total           int
	Healthy         int
	AvgResponseTime time.Duration
	AvgSuccessRate  float64
	Refreshed       time.Time
}

// Stats returns a summary of the current list.
func (r *Rotator) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Stats{Total: len(r.list), Refreshed: r.refreshed}
	if s.Total == 0 {
		return s
	}
	var rt time.Duration
	var rate float64
	for _, id := range r.list {
		if id.Healthy {
			s.Healthy++
		}
		rt += id.ResponseTime
		rate += id.SuccessRate()
	}
	s.AvgResponseTime = rt / time.Duration(s.Total)
	s.AvgSuccessRate = rate / float64(s.Total)
	return s
}

// Len returns the number of identities.
func (r *Rotator) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.list)
}
