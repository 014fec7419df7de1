package leadpulse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a settable time source for freshness tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countServer serves the CRM envelope with the given total and counts hits.
func countServer(t *testing.T, total int, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"success": true, "data": [], "pagination": {"page": 1, "limit": 1, "total": %d}}`, total)
	}))
	t.Cleanup(server.Close)
	return server
}

// newTestPoller creates a poller with fast retries and a discarding logger.
func newTestPoller(t *testing.T, baseURL string, opts ...PollerOption) *Poller {
	t.Helper()
	opts = append([]PollerOption{
		WithRetry(3, time.Millisecond),
		WithPollerLogger(testLogger()),
	}, opts...)
	p, err := NewPoller(baseURL, opts...)
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}
	t.Cleanup(p.Stop)
	return p
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPoller_Refresh_FormatsCount(t *testing.T) {
	tests := []struct {
		total     int
		wantBadge string
		wantOK    bool
	}{
		{42, "42", true},
		{150, "99+", true},
		{0, "", false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.total), func(t *testing.T) {
			server := countServer(t, tt.total, nil)
			p := newTestPoller(t, server.URL)

			snap := p.Refresh(context.Background())
			if snap.Count != tt.total {
				t.Errorf("Count = %d, want %d", snap.Count, tt.total)
			}
			if snap.Badge != tt.wantBadge || snap.HasBadge != tt.wantOK {
				t.Errorf("badge = (%q, %v), want (%q, %v)", snap.Badge, snap.HasBadge, tt.wantBadge, tt.wantOK)
			}
			if snap.State != StateReady {
				t.Errorf("State = %v, want %v", snap.State, StateReady)
			}
			if snap.LastError != nil {
				t.Errorf("LastError = %v, want nil", snap.LastError)
			}
		})
	}
}

func TestPoller_Refresh_RequestsCollectionPath(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"success": true, "pagination": {"total": 3}}`))
	}))
	defer server.Close()

	p := newTestPoller(t, server.URL+"/", WithCollection(Contacts))
	p.Refresh(context.Background())

	if gotPath != "/api/contacts" {
		t.Errorf("path = %q, want %q", gotPath, "/api/contacts")
	}
	if gotQuery != "limit=1&page=1" {
		t.Errorf("query = %q, want %q", gotQuery, "limit=1&page=1")
	}
}

func TestPoller_Refresh_BackendFailureResolvesToZero(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"success": false, "message": "x"}`))
	}))
	defer server.Close()

	p := newTestPoller(t, server.URL)
	snap := p.Refresh(context.Background())

	if snap.Count != 0 || snap.HasBadge {
		t.Errorf("snapshot = %+v, want zero count without badge", snap)
	}
	if !errors.Is(snap.LastError, ErrBackend) {
		t.Errorf("LastError = %v, want ErrBackend", snap.LastError)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("hits = %d, want 1 (backend failures are not retried)", got)
	}
}

func TestPoller_Refresh_ConnectionRefusedLogsWarning(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	p, err := NewPoller("http://"+addr, WithRetry(3, time.Millisecond), WithPollerLogger(logger))
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}
	defer p.Stop()

	snap := p.Refresh(context.Background())
	if snap.Count != 0 {
		t.Errorf("Count = %d, want 0", snap.Count)
	}
	if !errors.Is(snap.LastError, ErrTransport) {
		t.Errorf("LastError = %v, want ErrTransport", snap.LastError)
	}

	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "count fetch failed") {
		t.Errorf("log output missing warning: %s", out)
	}
	if !strings.Contains(out, "collection=leads") {
		t.Errorf("log output missing collection attribute: %s", out)
	}
}

func TestPoller_Refresh_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	p := newTestPoller(t, server.URL)
	snap := p.Refresh(context.Background())

	if got := hits.Load(); got != 3 {
		t.Errorf("hits = %d, want 3", got)
	}
	if snap.Count != 0 {
		t.Errorf("Count = %d, want 0", snap.Count)
	}
}

func TestPoller_Refresh_FailureReplacesPreviousCount(t *testing.T) {
	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			_, _ = w.Write([]byte(`{"success": false}`))
			return
		}
		_, _ = w.Write([]byte(`{"success": true, "pagination": {"total": 12}}`))
	}))
	defer server.Close()

	p := newTestPoller(t, server.URL)
	if got := p.Refresh(context.Background()).Count; got != 12 {
		t.Fatalf("Count = %d, want 12", got)
	}

	fail.Store(true)
	snap := p.Refresh(context.Background())
	if snap.Count != 0 || snap.HasBadge {
		t.Errorf("snapshot = %+v, want zero count after failure", snap)
	}
}

func TestPoller_Read_BeforeFirstFetch(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"success": true, "pagination": {"total": 5}}`))
	}))
	defer server.Close()
	defer close(release)

	p := newTestPoller(t, server.URL)

	if got := p.Snapshot().State; got != StateIdle {
		t.Errorf("Snapshot().State = %v, want %v", got, StateIdle)
	}

	snap := p.Read()
	if snap.State != StateLoading {
		t.Errorf("Read().State = %v, want %v", snap.State, StateLoading)
	}
	if snap.Count != 0 || snap.HasBadge {
		t.Errorf("Read() = %+v, want zero count without badge", snap)
	}
	if !snap.Fetching {
		t.Error("Read() should report a fetch in flight")
	}
}

func TestPoller_Read_FreshnessWindow(t *testing.T) {
	var hits atomic.Int32
	server := countServer(t, 8, &hits)

	clock := newFakeClock()
	p := newTestPoller(t, server.URL, WithStaleTime(15*time.Second))
	p.now = clock.Now

	// first read starts the initial fetch
	p.Read()
	waitFor(t, time.Second, func() bool { return p.Snapshot().State == StateReady })

	// repeated reads inside the window never touch the network
	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
		if got := p.Read().Count; got != 8 {
			t.Fatalf("Read().Count = %d, want 8", got)
		}
	}
	time.Sleep(20 * time.Millisecond)
	if got := hits.Load(); got != 1 {
		t.Fatalf("hits = %d inside freshness window, want 1", got)
	}

	// past the window, the next read serves the stale value and revalidates
	clock.Advance(6 * time.Second)
	snap := p.Read()
	if snap.State != StateStale {
		t.Errorf("Read().State = %v, want %v", snap.State, StateStale)
	}
	if snap.Count != 8 {
		t.Errorf("stale Read().Count = %d, want 8", snap.Count)
	}
	waitFor(t, time.Second, func() bool { return hits.Load() == 2 })
	waitFor(t, time.Second, func() bool { return p.Snapshot().State == StateReady })
}

func TestPoller_Read_SingleRevalidation(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"success": true, "pagination": {"total": 1}}`))
	}))
	defer server.Close()

	p := newTestPoller(t, server.URL)
	for i := 0; i < 20; i++ {
		p.Read()
	}
	time.Sleep(30 * time.Millisecond)
	close(release)

	waitFor(t, time.Second, func() bool { return p.Snapshot().State == StateReady })
	if got := hits.Load(); got != 1 {
		t.Errorf("hits = %d, want 1", got)
	}
}

func TestPoller_Refresh_CoalescesConcurrentCalls(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"success": true, "pagination": {"total": 4}}`))
	}))
	defer server.Close()

	p := newTestPoller(t, server.URL)

	var wg sync.WaitGroup
	results := make([]int, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = p.Refresh(context.Background()).Count
		}()
	}

	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := hits.Load(); got != 1 {
		t.Errorf("hits = %d, want 1", got)
	}
	for i, n := range results {
		if n != 4 {
			t.Errorf("results[%d] = %d, want 4", i, n)
		}
	}
}

func TestPoller_Refresh_CallerDeadlineOnlyBoundsWait(t *testing.T) {
	var slow atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if slow.Load() {
			time.Sleep(100 * time.Millisecond)
			_, _ = w.Write([]byte(`{"success": true, "pagination": {"total": 7}}`))
			return
		}
		_, _ = w.Write([]byte(`{"success": true, "pagination": {"total": 42}}`))
	}))
	defer server.Close()

	p := newTestPoller(t, server.URL)
	p.Refresh(context.Background())

	slow.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	snap := p.Refresh(ctx)
	if snap.Count != 42 {
		t.Errorf("Count = %d, want 42 while the fetch is pending", snap.Count)
	}
	if !snap.Fetching {
		t.Error("Fetching = false, want true while the fetch is pending")
	}

	// the shared fetch outlives the caller's deadline and records its result
	waitFor(t, 2*time.Second, func() bool { return p.Snapshot().Count == 7 })
}

func TestPoller_Stop_KeepsPreviousCount(t *testing.T) {
	var slow atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if slow.Load() {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		_, _ = w.Write([]byte(`{"success": true, "pagination": {"total": 42}}`))
	}))
	defer server.Close()

	p := newTestPoller(t, server.URL)
	p.Refresh(context.Background())

	slow.Store(true)
	go p.Refresh(context.Background())
	waitFor(t, time.Second, func() bool { return p.Snapshot().Fetching })
	p.Stop()

	// let the abandoned fetch unwind
	time.Sleep(50 * time.Millisecond)
	snap := p.Snapshot()
	if snap.Count != 42 {
		t.Errorf("Count = %d, want 42 after Stop abandoned the fetch", snap.Count)
	}
	if snap.LastError != nil {
		t.Errorf("LastError = %v, want nil", snap.LastError)
	}
}

func TestPoller_Stop_AbandonsPendingRetries(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	p := newTestPoller(t, server.URL, WithRetry(3, 100*time.Millisecond))
	go p.Refresh(context.Background())

	waitFor(t, time.Second, func() bool { return hits.Load() >= 1 })
	p.Stop()
	after := hits.Load()

	time.Sleep(400 * time.Millisecond)
	if got := hits.Load(); got != after {
		t.Errorf("attempts grew from %d to %d after Stop()", after, got)
	}
}

func TestPoller_StartRefreshesOnInterval(t *testing.T) {
	var hits atomic.Int32
	server := countServer(t, 2, &hits)

	p := newTestPoller(t, server.URL, WithRefreshInterval(20*time.Millisecond))
	p.Start(context.Background())

	waitFor(t, time.Second, func() bool { return hits.Load() >= 3 })
	if got := p.Snapshot().Count; got != 2 {
		t.Errorf("Count = %d, want 2", got)
	}
}

func TestPoller_NoFetchAfterStop(t *testing.T) {
	var hits atomic.Int32
	server := countServer(t, 2, &hits)

	clock := newFakeClock()
	p := newTestPoller(t, server.URL, WithRefreshInterval(10*time.Millisecond))
	p.now = clock.Now
	p.Start(context.Background())

	waitFor(t, time.Second, func() bool { return hits.Load() >= 2 })
	p.Stop()
	after := hits.Load()

	// an expired window must not trigger a fetch either
	clock.Advance(time.Hour)
	p.Read()
	time.Sleep(50 * time.Millisecond)

	if got := hits.Load(); got != after {
		t.Errorf("hits grew from %d to %d after Stop()", after, got)
	}
}

func TestPoller_StopIdempotent(t *testing.T) {
	p := newTestPoller(t, "http://localhost:1")
	p.Stop()
	p.Stop()
	p.Start(context.Background()) // no-op after Stop
}

func TestPoller_ContextCancellationStops(t *testing.T) {
	server := countServer(t, 1, nil)
	p := newTestPoller(t, server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	sub := p.Subscribe()
	p.Start(ctx)
	cancel()

	// the subscription closes once the poller has stopped
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("subscription not closed after context cancellation")
		}
	}
}

func TestPoller_Subscribe(t *testing.T) {
	server := countServer(t, 64, nil)
	p := newTestPoller(t, server.URL, WithCollectionName("accounts"))

	sub := p.Subscribe()
	p.Refresh(context.Background())

	select {
	case snap := <-sub:
		if snap.Collection != "accounts" || snap.Count != 64 || snap.Badge != "64" {
			t.Errorf("snapshot = %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot published after Refresh")
	}

	p.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
}

func TestPoller_CustomExtractor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"meta": {"total_count": "17"}}`))
	}))
	defer server.Close()

	p := newTestPoller(t, server.URL, WithExtractor(JSONPathExtractor("meta.total_count")))
	if got := p.Refresh(context.Background()).Count; got != 17 {
		t.Errorf("Count = %d, want 17", got)
	}
}

func TestNewPoller_Defaults(t *testing.T) {
	p, err := NewPoller("http://localhost:8000")
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}
	defer p.Stop()

	if p.Collection() != Leads {
		t.Errorf("Collection() = %v, want %v", p.Collection(), Leads)
	}
	if p.URL() != "http://localhost:8000/api/leads" {
		t.Errorf("URL() = %q", p.URL())
	}
	if p.RefreshInterval() != 30*time.Second {
		t.Errorf("RefreshInterval() = %v, want 30s", p.RefreshInterval())
	}
	if p.StaleTime() != 15*time.Second {
		t.Errorf("StaleTime() = %v, want 15s", p.StaleTime())
	}
	attempts, delay := p.Retry()
	if attempts != 3 || delay != time.Second {
		t.Errorf("Retry() = (%d, %v), want (3, 1s)", attempts, delay)
	}
}

func TestNewPoller_InvalidBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
	}{
		{"empty", ""},
		{"no scheme", "localhost:8000"},
		{"ftp scheme", "ftp://crm.local"},
		{"no host", "http://"},
		{"unparseable", "http://[::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPoller(tt.baseURL); err == nil {
				t.Errorf("NewPoller(%q) expected error", tt.baseURL)
			}
		})
	}
}

func TestNewPollers(t *testing.T) {
	pollers, err := NewPollers("http://crm.local", KnownCollections(), WithRefreshInterval(time.Minute))
	if err != nil {
		t.Fatalf("NewPollers() error = %v", err)
	}
	if len(pollers) != 5 {
		t.Fatalf("len = %d, want 5", len(pollers))
	}
	for i, c := range KnownCollections() {
		defer pollers[i].Stop()
		if pollers[i].Collection() != c {
			t.Errorf("pollers[%d].Collection() = %v, want %v", i, pollers[i].Collection(), c)
		}
		if pollers[i].URL() != "http://crm.local"+c.Path {
			t.Errorf("pollers[%d].URL() = %q", i, pollers[i].URL())
		}
		if pollers[i].RefreshInterval() != time.Minute {
			t.Errorf("pollers[%d].RefreshInterval() = %v", i, pollers[i].RefreshInterval())
		}
	}

	if _, err := NewPollers("http://crm.local", nil); err == nil {
		t.Error("NewPollers() with no collections expected error")
	}
}
