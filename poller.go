package leadpulse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jpalmerr/leadpulse/internal/poller"
	"github.com/jpalmerr/leadpulse/internal/store"
)

const (
	defaultRefreshInterval = 30 * time.Second
	defaultStaleTime       = 15 * time.Second
	defaultRetryAttempts   = 3
	defaultRetryDelay      = 1 * time.Second
	defaultRequestTimeout  = 10 * time.Second

	snapshotBuffer = 16
)

// Poller keeps an eventually-fresh count of one CRM collection for badge
// display.
//
// A Poller owns a single cell holding the last count, when it was fetched,
// and whether a fetch is in flight. Fetch failures never reach the caller:
// transport errors, backend-reported failures and malformed payloads are
// logged as warnings and resolve the count to zero.
//
// The typical lifecycle is tied to the consumer:
//
//	p, err := leadpulse.NewPoller("http://localhost:8000")
//	if err != nil {
//	    return err
//	}
//	p.Start(ctx) // fetch now, then every 30s until ctx is cancelled
//	defer p.Stop()
//
//	snap := p.Read()
//	if snap.HasBadge {
//	    fmt.Println(snap.Badge)
//	}
//
// All methods are safe for concurrent use.
type Poller struct {
	collection      Collection
	baseURL         string
	url             string
	headers         map[string]string
	timeout         time.Duration
	refreshInterval time.Duration
	staleTime       time.Duration
	retry           poller.RetryPolicy
	extractor       CountExtractor
	logger          *slog.Logger

	client *poller.Client
	broker *store.Broker[Snapshot]
	flight singleflight.Group
	now    func() time.Time

	// life bounds every fetch; cancelled by Stop
	life     context.Context
	cancel   context.CancelFunc
	bg       sync.WaitGroup
	stopOnce sync.Once

	mu        sync.Mutex
	scheduler *poller.Scheduler
	count     int
	fetchedAt time.Time
	inFlight  bool
	lastErr   error
	closed    bool

	// set while a fetch started by Read is pending
	revalidating bool
}

// NewPoller creates a [Poller] for the CRM API at baseURL.
//
// baseURL must be an absolute http or https URL; the collection path
// (default [Leads], "/api/leads") is appended to it. Defaults:
//   - Refresh interval: 30 seconds
//   - Stale time (freshness window): 15 seconds
//   - Retry: 3 attempts, 1 second fixed delay
//   - Request timeout: 10 seconds per attempt
//
// Returns an error if baseURL is invalid or any option is invalid.
func NewPoller(baseURL string, opts ...PollerOption) (*Poller, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.New("base URL must have an http:// or https:// scheme")
	}
	if parsed.Host == "" {
		return nil, errors.New("base URL must have a host")
	}

	cfg := &pollerConfig{
		collection:      Leads,
		headers:         make(map[string]string),
		timeout:         defaultRequestTimeout,
		refreshInterval: defaultRefreshInterval,
		staleTime:       defaultStaleTime,
		retry:           poller.RetryPolicy{Attempts: defaultRetryAttempts, Delay: defaultRetryDelay},
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("collection", cfg.collection.Name)

	life, cancel := context.WithCancel(context.Background())

	return &Poller{
		collection:      cfg.collection,
		baseURL:         baseURL,
		url:             strings.TrimRight(baseURL, "/") + cfg.collection.Path,
		headers:         cfg.headers,
		timeout:         cfg.timeout,
		refreshInterval: cfg.refreshInterval,
		staleTime:       cfg.staleTime,
		retry:           cfg.retry,
		extractor:       cfg.extractor,
		logger:          logger,
		client:          poller.NewClient(cfg.retry, logger),
		broker:          store.NewBroker[Snapshot](snapshotBuffer),
		now:             time.Now,
		life:            life,
		cancel:          cancel,
	}, nil
}

// NewPollers creates one [Poller] per collection, sharing baseURL and opts.
//
// Any [WithCollection] among opts is overridden by the collection being built.
func NewPollers(baseURL string, collections []Collection, opts ...PollerOption) ([]*Poller, error) {
	if len(collections) == 0 {
		return nil, errors.New("at least one collection is required")
	}

	pollers := make([]*Poller, 0, len(collections))
	for _, c := range collections {
		p, err := NewPoller(baseURL, append(opts[:len(opts):len(opts)], WithCollection(c))...)
		if err != nil {
			return nil, fmt.Errorf("collection %q: %w", c.Name, err)
		}
		pollers = append(pollers, p)
	}
	return pollers, nil
}

// Collection returns the collection this poller counts.
func (p *Poller) Collection() Collection {
	return p.collection
}

// URL returns the collection URL, without pagination parameters.
func (p *Poller) URL() string {
	return p.url
}

// BaseURL returns the CRM API base URL the poller was created with.
func (p *Poller) BaseURL() string {
	return p.baseURL
}

// Headers returns a copy of the custom headers sent with every fetch.
func (p *Poller) Headers() map[string]string {
	return copyMap(p.headers)
}

// RefreshInterval returns the time between scheduled fetches.
func (p *Poller) RefreshInterval() time.Duration {
	return p.refreshInterval
}

// StaleTime returns the freshness window of a fetched count.
func (p *Poller) StaleTime() time.Duration {
	return p.staleTime
}

// Retry returns the attempt count and fixed delay used for each fetch.
func (p *Poller) Retry() (attempts uint, delay time.Duration) {
	return p.retry.Attempts, p.retry.Delay
}

// Start fetches the count immediately and then every refresh interval,
// until ctx is cancelled or [Poller.Stop] is called. Cancelling ctx has the
// same effect as calling Stop.
//
// Start is non-blocking and idempotent; calling it after Stop is a no-op.
func (p *Poller) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	if p.closed || p.scheduler != nil {
		p.mu.Unlock()
		return
	}
	p.scheduler = poller.NewScheduler(p.collection.Name, p.refreshInterval, func(ctx context.Context) {
		p.Refresh(ctx)
	}, p.logger)
	scheduler := p.scheduler
	p.mu.Unlock()

	scheduler.Start(ctx)
	context.AfterFunc(ctx, p.Stop)
}

// Stop ends the schedule, abandons in-flight fetches and closes all
// subscriptions. No fetch is issued after Stop returns. Idempotent.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		scheduler := p.scheduler
		p.mu.Unlock()

		p.cancel()
		if scheduler != nil {
			scheduler.Stop()
		}
		p.bg.Wait()
		p.client.Close()
		p.broker.Close()
	})
}

// Read returns the cached count.
//
// Inside the freshness window Read never touches the network. Once the
// window has elapsed (or before the first fetch), Read starts a background
// fetch unless one is already in flight, and returns the last known value
// immediately.
func (p *Poller) Read() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed && !p.inFlight && !p.revalidating && !p.freshLocked() {
		p.revalidating = true
		p.bg.Add(1)
		go func() {
			defer p.bg.Done()
			p.Refresh(p.life)

			p.mu.Lock()
			p.revalidating = false
			p.mu.Unlock()
		}()
	}
	return p.snapshotLocked()
}

// Count returns the cached count as [Poller.Read] does.
func (p *Poller) Count() int {
	return p.Read().Count
}

// Badge returns the badge text for the cached count as [Poller.Read] does.
func (p *Poller) Badge() (string, bool) {
	snap := p.Read()
	return snap.Badge, snap.HasBadge
}

// Snapshot returns the cached state without ever starting a fetch.
func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Refresh fetches the count now and returns the resulting snapshot.
//
// Concurrent calls share a single in-flight fetch, which runs until it
// completes or the poller is stopped. ctx only bounds how long Refresh
// waits: if it ends first, Refresh returns the current snapshot and the
// fetch still records its result. A fetch abandoned by Stop does not
// overwrite the cached count.
func (p *Poller) Refresh(ctx context.Context) Snapshot {
	if ctx == nil {
		ctx = context.Background()
	}

	ch := p.flight.DoChan(p.collection.Name, func() (interface{}, error) {
		p.refresh(p.life)
		return nil, nil
	})

	select {
	case <-ch:
	case <-ctx.Done():
	}
	return p.Snapshot()
}

// Subscribe returns a channel that receives a [Snapshot] after every
// completed fetch. The channel is closed by Stop or Unsubscribe.
func (p *Poller) Subscribe() <-chan Snapshot {
	return p.broker.Subscribe()
}

// Unsubscribe removes a subscription and closes its channel.
func (p *Poller) Unsubscribe(ch <-chan Snapshot) {
	p.broker.Unsubscribe(ch)
}

// refresh runs one fetch cycle and records its outcome in the cell.
func (p *Poller) refresh(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.inFlight = true
	p.mu.Unlock()

	count, err := p.fetchCount(ctx)

	p.mu.Lock()
	p.inFlight = false
	if p.closed || ctx.Err() != nil {
		// abandoned by Stop, keep the previous value
		p.mu.Unlock()
		return
	}
	p.count = count
	p.fetchedAt = p.now()
	p.lastErr = err
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.broker.Publish(snap)
}

// fetchCount queries the collection total. Every failure is logged and
// resolves to zero; the error is returned only so the cell can record it.
func (p *Poller) fetchCount(ctx context.Context) (int, error) {
	start := time.Now()

	n, err := p.client.Count(ctx, poller.CountRequest{
		URL:     p.url,
		Headers: p.headers,
		Timeout: p.timeout,
		Decode:  poller.Decoder(p.extractor),
	})
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("count fetch failed",
				"url", p.url,
				"error", err.Error(),
				"latency_ms", time.Since(start).Milliseconds(),
			)
		}
		return 0, err
	}

	p.logger.Debug("count fetched",
		"count", n,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return n, nil
}

// freshLocked reports whether the cached count is inside the freshness window.
func (p *Poller) freshLocked() bool {
	return !p.fetchedAt.IsZero() && p.now().Sub(p.fetchedAt) < p.staleTime
}

func (p *Poller) snapshotLocked() Snapshot {
	fetching := p.inFlight || p.revalidating

	var state PollState
	switch {
	case p.fetchedAt.IsZero() && fetching:
		state = StateLoading
	case p.fetchedAt.IsZero():
		state = StateIdle
	case p.freshLocked():
		state = StateReady
	default:
		state = StateStale
	}

	badge, ok := FormatCount(p.count)
	return Snapshot{
		Collection: p.collection.Name,
		Count:      p.count,
		Badge:      badge,
		HasBadge:   ok,
		State:      state,
		FetchedAt:  p.fetchedAt,
		Fetching:   fetching,
		LastError:  p.lastErr,
	}
}

// copyMap returns a shallow copy of the map.
func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
