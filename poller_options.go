package leadpulse

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpalmerr/leadpulse/internal/poller"
)

// pollerConfig holds mutable state during Poller construction.
type pollerConfig struct {
	collection      Collection
	headers         map[string]string
	timeout         time.Duration
	refreshInterval time.Duration
	staleTime       time.Duration
	retry           poller.RetryPolicy
	extractor       CountExtractor
	logger          *slog.Logger
}

// PollerOption configures a [Poller] during construction.
//
// Options are applied in order and return an error if validation fails.
type PollerOption func(*pollerConfig) error

// WithCollection sets the collection to count. Defaults to [Leads].
//
// Returns an error if the collection fails [NewCollection] validation.
func WithCollection(c Collection) PollerOption {
	return func(cfg *pollerConfig) error {
		valid, err := NewCollection(c.Name, c.Path)
		if err != nil {
			return err
		}
		cfg.collection = valid
		return nil
	}
}

// WithCollectionName selects a built-in collection by name, such as
// "contacts" or "opportunities".
//
// Returns an error if the name is not one of [KnownCollections].
func WithCollectionName(name string) PollerOption {
	return func(cfg *pollerConfig) error {
		c, ok := LookupCollection(name)
		if !ok {
			return fmt.Errorf("unknown collection %q", name)
		}
		cfg.collection = c
		return nil
	}
}

// WithHeaders adds HTTP headers sent with every fetch, typically for
// authentication.
//
// Accepts variadic key-value pairs. The number of arguments must be even.
//
// Example:
//
//	p, err := leadpulse.NewPoller(baseURL,
//	    leadpulse.WithHeaders("Authorization", "Bearer token123"),
//	)
func WithHeaders(keyValues ...string) PollerOption {
	return func(cfg *pollerConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithHeaders requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.headers[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithTimeout sets the timeout of each individual fetch attempt.
// Defaults to 10 seconds.
//
// Returns an error if the duration is zero or negative.
func WithTimeout(d time.Duration) PollerOption {
	return func(cfg *pollerConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithRefreshInterval sets how often the count is re-fetched while the
// poller is running. Defaults to 30 seconds.
//
// Returns an error if the duration is zero or negative.
func WithRefreshInterval(d time.Duration) PollerOption {
	return func(cfg *pollerConfig) error {
		if d <= 0 {
			return errors.New("refresh interval must be positive")
		}
		cfg.refreshInterval = d
		return nil
	}
}

// WithStaleTime sets the freshness window: how long a fetched count is
// served by [Poller.Read] without triggering a new fetch. Defaults to 15
// seconds.
//
// Returns an error if the duration is zero or negative.
func WithStaleTime(d time.Duration) PollerOption {
	return func(cfg *pollerConfig) error {
		if d <= 0 {
			return errors.New("stale time must be positive")
		}
		cfg.staleTime = d
		return nil
	}
}

// WithRetry sets how many attempts each fetch makes and the fixed delay
// between attempts. Only transport failures and 5xx responses are retried.
// Defaults to 3 attempts with a 1 second delay.
//
// Returns an error if attempts is zero or delay is negative.
func WithRetry(attempts uint, delay time.Duration) PollerOption {
	return func(cfg *pollerConfig) error {
		if attempts == 0 {
			return errors.New("retry attempts must be at least 1")
		}
		if delay < 0 {
			return errors.New("retry delay cannot be negative")
		}
		cfg.retry = poller.RetryPolicy{Attempts: attempts, Delay: delay}
		return nil
	}
}

// WithExtractor sets a custom [CountExtractor]. Defaults to
// [EnvelopeExtractor]. A nil extractor restores the default.
//
// Example:
//
//	p, err := leadpulse.NewPoller(baseURL,
//	    leadpulse.WithExtractor(leadpulse.JSONPathExtractor("meta.total")),
//	)
func WithExtractor(e CountExtractor) PollerOption {
	return func(cfg *pollerConfig) error {
		cfg.extractor = e
		return nil
	}
}

// WithPollerLogger sets the [slog.Logger] used for fetch warnings and
// debug output. If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithPollerLogger(logger *slog.Logger) PollerOption {
	return func(cfg *pollerConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}
