// Standalone mock CRM API for testing the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/leadpulse serve -c example/config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/leadpulse/internal/mockcrm"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	failureRate := flag.Float64("failure-rate", 0.1, "share of requests that report success=false")
	drift := flag.Duration("drift", 10*time.Second, "interval between total changes")
	flag.Parse()

	fmt.Printf("Mock CRM API starting on %s\n", *addr)
	fmt.Println("Collections: leads, contacts, accounts, properties, opportunities")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	crm := mockcrm.New(mockcrm.WithFailureRate(*failureRate))
	go crm.Run(ctx, *drift)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           crm.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
