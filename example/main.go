package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/leadpulse"
	"github.com/jpalmerr/leadpulse/internal/mockcrm"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// start the mock CRM API: totals drift every 10s, 1 in 10 requests fails
	crm := mockcrm.New(mockcrm.WithFailureRate(0.1))
	go crm.Run(ctx, 10*time.Second)
	go func() {
		if err := http.ListenAndServe(":8000", crm.Handler()); err != nil {
			slog.Error("mock CRM error", "error", err)
		}
	}()
	time.Sleep(100 * time.Millisecond)

	pollers, err := leadpulse.NewPollers("http://localhost:8000", leadpulse.KnownCollections(),
		leadpulse.WithRefreshInterval(5*time.Second),
		leadpulse.WithStaleTime(3*time.Second),
	)
	if err != nil {
		slog.Error("failed to create pollers", "error", err)
		os.Exit(1)
	}

	b, err := leadpulse.New(
		leadpulse.WithPollers(pollers...),
		leadpulse.WithPort(8080),
		leadpulse.WithUpdateCallback(func(s leadpulse.Snapshot) {
			badge := s.Badge
			if !s.HasBadge {
				badge = "(hidden)"
			}
			fmt.Printf("  %-14s %s\n", s.Collection, badge)
		}),
	)
	if err != nil {
		slog.Error("failed to create board", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  leadpulse demo")
	fmt.Println()
	fmt.Println("  Mock CRM:   http://localhost:8000/api/leads")
	fmt.Println("  Badge feed: http://localhost:8080/api/counts")
	fmt.Println("  Live feed:  http://localhost:8080/api/sse")
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	if err := b.Start(ctx); err != nil {
		slog.Error("leadpulse error", "error", err)
		os.Exit(1)
	}
}
