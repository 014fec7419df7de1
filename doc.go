// Package leadpulse keeps an eventually-fresh count of CRM records for
// badge display.
//
// A [Poller] periodically asks a CRM list endpoint for its total record
// count, caches the result, and formats it for a navigation badge. Reads are
// served from the cache; the network is only touched on the refresh schedule
// or when a read finds the cached count older than the freshness window.
// Fetch failures never surface to the reader: they are logged and the count
// resolves to zero, so the badge is hidden rather than wrong.
//
// # Quick Start
//
//	p, _ := leadpulse.NewPoller("http://localhost:8000")
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	p.Start(ctx) // fetch now, then every 30 seconds
//	if badge, ok := p.Badge(); ok {
//	    fmt.Println("Leads", badge)
//	}
//
// # Configuration
//
// Pollers use the functional options pattern:
//
//	p, err := leadpulse.NewPoller("https://crm.example.com",
//	    leadpulse.WithCollection(leadpulse.Contacts),
//	    leadpulse.WithHeaders("Authorization", "Bearer token"),
//	    leadpulse.WithRefreshInterval(time.Minute),
//	    leadpulse.WithStaleTime(30 * time.Second),
//	    leadpulse.WithRetry(3, time.Second),
//	)
//
// # Badge Feed
//
// A [Board] runs several pollers and serves their counts over HTTP, as JSON
// at /api/counts and as server-sent events at /api/sse:
//
//	pollers, _ := leadpulse.NewPollers(baseURL, leadpulse.KnownCollections())
//	b, _ := leadpulse.New(leadpulse.WithPollers(pollers...), leadpulse.WithPort(9090))
//	b.Start(ctx) // blocks until ctx is cancelled
//
// # Architecture
//
//   - internal/poller: HTTP count client with fixed-delay retries, and the
//     refresh scheduler
//   - internal/store: in-memory feed store with pub/sub
//   - internal/server: chi router serving the badge feed
package leadpulse
