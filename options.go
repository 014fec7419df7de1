package leadpulse

import (
	"errors"
	"log/slog"
)

// boardConfig holds mutable state during Board construction.
type boardConfig struct {
	pollers         []*Poller
	port            int
	logger          *slog.Logger
	updateCallbacks []func(Snapshot)
}

// Option configures a [Board] during construction.
//
// Built-in options: [WithPoller], [WithPollers], [WithPort], [WithLogger],
// [WithUpdateCallback].
type Option func(*boardConfig) error

// WithPoller adds a single [Poller] to the board.
//
// Can be called multiple times. At least one poller must be configured for
// [New] to succeed. Returns an error if p is nil.
func WithPoller(p *Poller) Option {
	return func(cfg *boardConfig) error {
		if p == nil {
			return errors.New("poller cannot be nil")
		}
		cfg.pollers = append(cfg.pollers, p)
		return nil
	}
}

// WithPollers adds several pollers at once, typically the result of
// [NewPollers]. Equivalent to calling [WithPoller] for each.
func WithPollers(pollers ...*Poller) Option {
	return func(cfg *boardConfig) error {
		for _, p := range pollers {
			if p == nil {
				return errors.New("poller cannot be nil")
			}
		}
		cfg.pollers = append(cfg.pollers, pollers...)
		return nil
	}
}

// WithPort sets the HTTP port of the badge feed. Defaults to 8080.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *boardConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithLogger sets the [slog.Logger] for board lifecycle and feed events.
// If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *boardConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithUpdateCallback registers a function called with every [Snapshot]
// published by any of the board's pollers, after the feed store has been
// updated.
//
// Callbacks run synchronously on a single goroutine, in registration order,
// and must not block. Panics are recovered and logged.
//
// Nil callbacks are silently ignored.
func WithUpdateCallback(cb func(Snapshot)) Option {
	return func(cfg *boardConfig) error {
		if cb == nil {
			return nil
		}
		cfg.updateCallbacks = append(cfg.updateCallbacks, cb)
		return nil
	}
}
