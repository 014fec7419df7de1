package config

import (
	"log/slog"
	"sort"

	"github.com/jpalmerr/leadpulse"
)

// BuildPollers converts parsed configuration into one SDK Poller per
// configured collection, in configuration order.
//
// The pollers are not started. A nil logger uses [slog.Default].
func BuildPollers(cfg *Config, logger *slog.Logger) ([]*leadpulse.Poller, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pollers := make([]*leadpulse.Poller, 0, len(cfg.Collections))
	for _, cc := range cfg.Collections {
		p, err := buildPoller(cfg, cc, logger)
		if err != nil {
			for _, built := range pollers {
				built.Stop()
			}
			return nil, err
		}
		pollers = append(pollers, p)
	}
	return pollers, nil
}

// buildPoller converts a single CollectionConfig to an SDK Poller, with
// collection-level settings taking precedence over global ones.
func buildPoller(cfg *Config, cc CollectionConfig, logger *slog.Logger) (*leadpulse.Poller, error) {
	refresh := cfg.RefreshInterval
	if cc.RefreshInterval != 0 {
		refresh = cc.RefreshInterval
	}
	stale := cfg.StaleTime
	if cc.StaleTime != 0 {
		stale = cc.StaleTime
	}
	extractor := cfg.Extractor
	if cc.Extractor.Type != "" {
		extractor = cc.Extractor
	}

	var delay Duration
	if cfg.Retry.Delay != nil {
		delay = *cfg.Retry.Delay
	}

	opts := []leadpulse.PollerOption{
		leadpulse.WithCollection(leadpulse.Collection{Name: cc.Name, Path: cc.Path}),
		leadpulse.WithRefreshInterval(refresh.Duration()),
		leadpulse.WithStaleTime(stale.Duration()),
		leadpulse.WithTimeout(cfg.Timeout.Duration()),
		leadpulse.WithRetry(uint(cfg.Retry.Attempts), delay.Duration()),
		leadpulse.WithExtractor(buildExtractor(extractor)),
		leadpulse.WithPollerLogger(logger),
	}

	if len(cfg.Headers) > 0 {
		opts = append(opts, leadpulse.WithHeaders(mapToKeyValuePairs(cfg.Headers)...))
	}

	return leadpulse.NewPoller(cfg.BaseURL, opts...)
}

// mapToKeyValuePairs converts a map to a sorted slice of key-value pairs.
func mapToKeyValuePairs(m map[string]string) []string {
	// sort keys for deterministic ordering
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}

// buildExtractor converts ExtractorConfig to a CountExtractor.
// Returns nil for the envelope extractor (SDK default).
func buildExtractor(ec ExtractorConfig) leadpulse.CountExtractor {
	if ec.Type == "json" {
		return leadpulse.JSONPathExtractor(ec.Path)
	}
	return nil
}
