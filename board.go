package leadpulse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/jpalmerr/leadpulse/internal/server"
	"github.com/jpalmerr/leadpulse/internal/store"
)

const defaultPort = 8080

// Board runs a set of pollers and serves their badges over HTTP.
//
// Board wires every [Poller] into a shared feed store, exposes the counts as
// JSON and as a server-sent event stream, and invokes update callbacks. It is
// created using [New] with functional options and started with [Board.Start].
//
// The typical lifecycle is:
//
//	pollers, err := leadpulse.NewPollers("http://localhost:8000", leadpulse.KnownCollections())
//	if err != nil {
//	    return err
//	}
//	b, err := leadpulse.New(leadpulse.WithPollers(pollers...))
//	if err != nil {
//	    return err
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	b.Start(ctx) // blocks until context cancelled
//
// The pollers belong to the board once it starts: they are stopped when
// Start returns.
type Board struct {
	pollers         []*Poller
	port            int
	logger          *slog.Logger
	updateCallbacks []func(Snapshot)
}

// New creates a new [Board] with the given options.
//
// At least one poller must be configured via [WithPoller] or [WithPollers],
// and collection names must be unique. The port defaults to 8080.
func New(opts ...Option) (*Board, error) {
	cfg := &boardConfig{
		port: defaultPort,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if len(cfg.pollers) == 0 {
		return nil, errors.New("at least one poller is required")
	}

	// the feed store is keyed by collection name
	seen := make(map[string]bool, len(cfg.pollers))
	for _, p := range cfg.pollers {
		name := p.Collection().Name
		if seen[name] {
			return nil, fmt.Errorf("duplicate collection name: %q", name)
		}
		seen[name] = true
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Board{
		pollers:         cfg.pollers,
		port:            cfg.port,
		logger:          logger,
		updateCallbacks: cfg.updateCallbacks,
	}, nil
}

// Start starts every poller and serves the badge feed.
//
// Start is a blocking call that runs until the provided context is cancelled.
// During execution:
//
//   - Each poller fetches immediately, then on its refresh interval
//   - Every published snapshot updates the feed store, then runs the callbacks
//   - GET /api/counts, /api/counts/{collection} and /api/sse are served on the
//     configured port
//
// Returns nil on graceful shutdown. Returns an error if the HTTP server fails.
func (b *Board) Start(ctx context.Context) error {
	b.logger.Info("leadpulse starting", "collection_count", len(b.pollers))
	b.logger.Info("badge feed available", "url", fmt.Sprintf("http://localhost:%d/api/counts", b.port))

	if ctx.Err() != nil {
		for _, p := range b.pollers {
			p.Stop()
		}
		return nil
	}

	feed := store.NewMemoryStore()

	// subscribe before starting so the first fetch is not missed
	updates := make(chan Snapshot)
	var forwarders sync.WaitGroup
	for _, p := range b.pollers {
		sub := p.Subscribe()
		forwarders.Add(1)
		go func() {
			defer forwarders.Done()
			for snap := range sub {
				updates <- snap
			}
		}()
	}

	var consumer sync.WaitGroup
	consumer.Add(1)
	go func() {
		defer consumer.Done()
		for snap := range updates {
			// store update first (callbacks fire after data is persisted)
			feed.Update(snapshotToRecord(snap))

			for _, cb := range b.updateCallbacks {
				invokeCallbackSafe(cb, snap, b.logger)
			}

			logAttrs := []any{
				"collection", snap.Collection,
				"count", snap.Count,
				"state", snap.State.String(),
			}
			if snap.LastError != nil {
				b.logger.Warn("badge updated after failed fetch", append(logAttrs, "error", snap.LastError.Error())...)
			} else {
				b.logger.Debug("badge updated", logAttrs...)
			}
		}
	}()

	for _, p := range b.pollers {
		p.Start(ctx)
	}

	// stopping a poller closes its subscription, which ends its forwarder
	cleanup := func() {
		for _, p := range b.pollers {
			p.Stop()
		}
		forwarders.Wait()
		close(updates)
		consumer.Wait()
		feed.Close()
	}

	err := server.NewServer(feed, b.port, b.logger).Serve(ctx)
	cleanup()
	if err != nil {
		return fmt.Errorf("badge feed server: %w", err)
	}

	b.logger.Info("leadpulse stopped")
	return nil
}

// Pollers returns a copy of the configured pollers.
func (b *Board) Pollers() []*Poller {
	cp := make([]*Poller, len(b.pollers))
	copy(cp, b.pollers)
	return cp
}

// Port returns the configured HTTP port of the badge feed.
func (b *Board) Port() int {
	return b.port
}

// snapshotToRecord converts a poller snapshot to a feed record.
func snapshotToRecord(s Snapshot) store.CountRecord {
	var errStr *string
	if s.LastError != nil {
		msg := s.LastError.Error()
		errStr = &msg
	}

	return store.CountRecord{
		Collection: s.Collection,
		Count:      s.Count,
		Badge:      s.Badge,
		State:      s.State.String(),
		FetchedAt:  s.FetchedAt,
		Error:      errStr,
	}
}

// invokeCallbackSafe calls an update callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(Snapshot), snap Snapshot, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("update callback panicked",
				"panic", r,
				"collection", snap.Collection,
				"correlation_id", uuid.NewString(),
			)
		}
	}()
	cb(snap)
}
