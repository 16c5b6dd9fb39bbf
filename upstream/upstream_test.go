package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestParseList(t *testing.T) {
	t.Parallel()

	ids := ParseList(`
# comment
1.2.3.4:8080
socks5://5.6.7.8:1080
bad-entry
9.9.9.9:notaport
http://[::1]:3128 US
`, "http")
	want := []string{"http://1.2.3.4:8080", "socks5://5.6.7.8:1080", "http://[::1]:3128"}
	if len(ids) != len(want) {
		t.Fatalf("ParseList() returned %d identities, want %d", len(ids), len(want))
	}
	for i, id := range ids {
		if id.URL() != want[i] {
			t.Errorf("identity %d = %s, want %s", i, id.URL(), want[i])
		}
		if !id.Healthy {
			t.Errorf("identity %d not healthy on creation", i)
		}
	}
}

func TestSuccessRate(t *testing.T) {
	t.Parallel()

	id := &Identity{}
	if got := id.SuccessRate(); got != 1.0 {
		t.Errorf("unused SuccessRate() = %v, want 1", got)
	}
	id.Successes, id.Failures = 3, 1
	if got := id.SuccessRate(); got != 0.75 {
		t.Errorf("SuccessRate() = %v, want 0.75", got)
	}
}

func newRotator(t *testing.T, n int) *Rotator {
	t.Helper()
	var entries StaticSource
	for i := 0; i < n; i++ {
		entries = append(entries, fmt.Sprintf("10.0.0.%d:8080", i+1))
	}
	// Duplicates collapse.
	entries = append(entries, "10.0.0.1:8080")
	r := New(Options{Sources: []Source{entries}})
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh(): %v", err)
	}
	return r
}

func TestRoundRobin(t *testing.T) {
	t.Parallel()

	r := newRotator(t, 3)
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}
	var got []string
	for i := 0; i < 4; i++ {
		got = append(got, r.NextIdentity().Host)
	}
	want := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.1"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("NextIdentity() #%d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestEmptyRotatorIsDirect(t *testing.T) {
	t.Parallel()

	r := New(Options{})
	if id := r.NextIdentity(); id != nil {
		t.Errorf("NextIdentity() = %v, want nil", id)
	}
	r.ReportFailure(nil)
	r.ReportSuccess(nil, time.Second)
	if got := r.SuggestConcurrency(); got != 2 {
		t.Errorf("SuggestConcurrency() = %d, want 2", got)
	}
}

func TestHealthNeedsBothConditions(t *testing.T) {
	t.Parallel()

	r := newRotator(t, 2)
	id := &Identity{Host: "10.0.0.1", Port: 8080}

	// Many failures but a good success rate keeps it healthy.
	for i := 0; i < 30; i++ {
		r.ReportSuccess(id, 100*time.Millisecond)
	}
	for i := 0; i < 11; i++ {
		r.ReportFailure(id)
	}
	if h := r.Stats().Healthy; h != 2 {
		t.Errorf("Healthy = %d after failures with high success rate, want 2", h)
	}

	bad := &Identity{Host: "10.0.0.2", Port: 8080}
	for i := 0; i < 11; i++ {
		r.ReportFailure(bad)
	}
	if h := r.Stats().Healthy; h != 1 {
		t.Errorf("Healthy = %d, want 1", h)
	}

	// The unhealthy identity is skipped while a healthy one exists.
	for i := 0; i < 3; i++ {
		if got := r.NextIdentity().Host; got != "10.0.0.1" {
			t.Errorf("NextIdentity() = %s, want 10.0.0.1", got)
		}
	}
}

func TestFallbackToAllIdentities(t *testing.T) {
	t.Parallel()

	r := newRotator(t, 1)
	id := &Identity{Host: "10.0.0.1", Port: 8080}
	for i := 0; i < 20; i++ {
		r.ReportFailure(id)
	}
	if got := r.NextIdentity(); got == nil || got.Host != "10.0.0.1" {
		t.Errorf("NextIdentity() = %v, want fallback to 10.0.0.1", got)
	}
}

func TestSuggestConcurrency(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n    int
		want int
	}{
		{0, 2}, {4, 2}, {5, 4}, {10, 8}, {20, 16}, {50, 32}, {60, 32},
	}
	for _, tc := range tests {
		r := newRotator(t, tc.n)
		if got := r.SuggestConcurrency(); got != tc.want {
			t.Errorf("SuggestConcurrency() with %d healthy = %d, want %d", tc.n, got, tc.want)
		}
	}
}

func TestURLSource(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/list.txt":
			fmt.Fprint(w, "1.1.1.1:80\n2.2.2.2:3128\n")
		case "/list.json":
			fmt.Fprint(w, `{"data":[{"ip":"3.3.3.3","port":"1080","protocols":["socks5"],"country":"DE"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ids, err := URLSource{URL: srv.URL + "/list.txt"}.Fetch(context.Background())
	if err != nil || len(ids) != 2 {
		t.Fatalf("text Fetch() = %v, %v; want 2 identities", ids, err)
	}

	ids, err = URLSource{URL: srv.URL + "/list.json"}.Fetch(context.Background())
	if err != nil || len(ids) != 1 {
		t.Fatalf("json Fetch() = %v, %v; want 1 identity", ids, err)
	}
	if ids[0].URL() != "socks5://3.3.3.3:1080" || ids[0].Country != "DE" {
		t.Errorf("json identity = %+v", ids[0])
	}

	if _, err := (URLSource{URL: srv.URL + "/missing"}).Fetch(context.Background()); err == nil {
		t.Error("Fetch(404) succeeded, want error")
	}
}

func TestRefreshKeepsCountersAndHonoursInterval(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	r := New(Options{Sources: []Source{StaticSource{"10.0.0.1:80"}}, Now: clock})
	if err := r.EnsureFresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	id := r.NextIdentity()
	r.ReportSuccess(id, time.Second)

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := r.NextIdentity().Successes; got != 1 {
		t.Errorf("Successes after refresh = %d, want 1", got)
	}

	before := r.Stats().Refreshed
	mu.Lock()
	now = now.Add(30 * time.Minute)
	mu.Unlock()
	r.EnsureFresh(context.Background())
	if got := r.Stats().Refreshed; !got.Equal(before) {
		t.Errorf("refreshed inside interval")
	}
	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()
	r.EnsureFresh(context.Background())
	if got := r.Stats().Refreshed; got.Equal(before) {
		t.Errorf("not refreshed after interval")
	}
}

func TestRefreshFailsOnlyWhenAllSourcesFail(t *testing.T) {
	t.Parallel()

	bad := URLSource{URL: "http://127.0.0.1:1/none"}
	r := New(Options{Sources: []Source{bad}})
	if err := r.Refresh(context.Background()); err == nil {
		t.Error("Refresh() with only failing sources succeeded")
	}
	r = New(Options{Sources: []Source{bad, StaticSource{"10.0.0.1:80"}}})
	if err := r.Refresh(context.Background()); err != nil {
		t.Errorf("Refresh() = %v, want nil with one working source", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}
