// Package config provides YAML configuration parsing for leadpulse.
//
// This package enables running leadpulse as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	port: 8080
//	base_url: ${CRM_URL:-http://localhost:8000}
//	refresh_interval: 30s
//	stale_time: 15s
//
//	headers:
//	  Authorization: Bearer ${CRM_TOKEN}
//
//	collections:
//	  - leads
//	  - contacts
//	  - name: tickets
//	    path: /api/tickets
//	    extractor: json:meta.total
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/leadpulse"
)

// minRefreshInterval is the minimum allowed refresh interval for production
// configs. This prevents accidental hammering of the CRM API.
const minRefreshInterval = 1 * time.Second

const (
	defaultPort            = 8080
	defaultRefreshInterval = 30 * time.Second
	defaultStaleTime       = 15 * time.Second
	defaultTimeout         = 10 * time.Second
	defaultRetryAttempts   = 3
	defaultRetryDelay      = 1 * time.Second

	maxRetryAttempts = 10
	maxInterval      = time.Hour
)

// Config is the root configuration structure for leadpulse.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Port is the HTTP port of the badge feed. Defaults to 8080.
	Port int `yaml:"port"`

	// BaseURL is the CRM API base URL; collection paths are appended to it.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	BaseURL string `yaml:"base_url"`

	// RefreshInterval is the time between scheduled fetches. Defaults to 30s.
	RefreshInterval Duration `yaml:"refresh_interval"`

	// StaleTime is the freshness window of a fetched count. Defaults to 15s.
	StaleTime Duration `yaml:"stale_time"`

	// Timeout is the per-attempt request timeout. Defaults to 10s.
	Timeout Duration `yaml:"timeout"`

	// Retry controls the fixed-delay retry of failed fetches.
	Retry RetryConfig `yaml:"retry"`

	// Headers are custom HTTP headers sent with each request.
	// Values support environment variable substitution.
	Headers map[string]string `yaml:"headers"`

	// Extractor determines how a response body is read as a count.
	// "envelope" (default) or "json:<path>".
	Extractor ExtractorConfig `yaml:"extractor"`

	// Collections lists the CRM collections to count. Defaults to [leads].
	Collections []CollectionConfig `yaml:"collections"`
}

// RetryConfig defines the retry policy of every fetch.
type RetryConfig struct {
	// Attempts is the total number of attempts, including the first.
	// Defaults to 3.
	Attempts int `yaml:"attempts"`

	// Delay is the fixed wait between attempts. Defaults to 1s; an explicit
	// 0s retries immediately.
	Delay *Duration `yaml:"delay"`
}

// CollectionConfig defines one counted collection.
//
// It supports two formats in YAML:
//
// Built-in collection name:
//
//	collections:
//	  - leads
//
// Structured object, for custom collections or per-collection overrides:
//
//	collections:
//	  - name: tickets
//	    path: /api/tickets
//	    refresh_interval: 1m
type CollectionConfig struct {
	// Name is the collection name used in logs and the badge feed.
	Name string `yaml:"name"`

	// Path is the list endpoint path. Optional for built-in collections.
	Path string `yaml:"path"`

	// RefreshInterval overrides the global refresh_interval.
	RefreshInterval Duration `yaml:"refresh_interval"`

	// StaleTime overrides the global stale_time.
	StaleTime Duration `yaml:"stale_time"`

	// Extractor overrides the global extractor.
	Extractor ExtractorConfig `yaml:"extractor"`
}

// ExtractorConfig specifies how to read a count from a response.
//
// It supports two formats in YAML:
//
// Shorthand string:
//
//	extractor: envelope
//	extractor: json:meta.total
//
// Structured object:
//
//	extractor:
//	  type: json
//	  path: meta.total
type ExtractorConfig struct {
	// Type is the extractor type: "envelope" or "json".
	Type string

	// Path is the JSON field path (for type: json).
	Path string
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler for CollectionConfig.
func (c *CollectionConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&c.Name)
	}

	if node.Kind == yaml.MappingNode {
		// alias type to avoid infinite recursion
		type plain CollectionConfig
		var raw plain
		if err := node.Decode(&raw); err != nil {
			return err
		}
		*c = CollectionConfig(raw)
		return nil
	}

	return fmt.Errorf("collection must be a name or object, got %v", node.Kind)
}

// UnmarshalYAML implements yaml.Unmarshaler for ExtractorConfig.
func (e *ExtractorConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		return e.parseShorthand(s)
	}

	if node.Kind == yaml.MappingNode {
		var raw struct {
			Type string `yaml:"type"`
			Path string `yaml:"path"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		e.Type = raw.Type
		e.Path = raw.Path
		return nil
	}

	return fmt.Errorf("extractor must be a string or object, got %v", node.Kind)
}

// parseShorthand parses extractor shorthand syntax.
//
// Supported formats:
//   - "envelope" → standard {success, pagination: {total}} response
//   - "json:path" → count read from a JSON field
func (e *ExtractorConfig) parseShorthand(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if typ, path, ok := strings.Cut(s, ":"); ok {
		if typ != "json" {
			return fmt.Errorf("unknown extractor type %q", typ)
		}
		e.Type = typ
		e.Path = path
		return nil
	}

	if s != "envelope" {
		return fmt.Errorf("unknown extractor %q (expected 'envelope' or 'json:path')", s)
	}
	e.Type = s
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in BaseURL and Header values.
// Defaults are applied for Port (8080), RefreshInterval (30s),
// StaleTime (15s), Timeout (10s), Retry (3 attempts, 1s delay) and
// Collections ([leads]).
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = Duration(defaultRefreshInterval)
	}
	if c.StaleTime == 0 {
		c.StaleTime = Duration(defaultStaleTime)
	}
	if c.Timeout == 0 {
		c.Timeout = Duration(defaultTimeout)
	}
	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = defaultRetryAttempts
	}
	if c.Retry.Delay == nil {
		d := Duration(defaultRetryDelay)
		c.Retry.Delay = &d
	}
	if len(c.Collections) == 0 {
		c.Collections = []CollectionConfig{{Name: leadpulse.Leads.Name}}
	}
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	expanded, err := expandEnvVars(c.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	c.BaseURL = expanded

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if parsedURL.Scheme == "" {
		return errors.New("base_url must have a scheme (http:// or https://)")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("base_url scheme must be http or https, got %q", parsedURL.Scheme)
	}

	if err := validateInterval("refresh_interval", c.RefreshInterval); err != nil {
		return err
	}
	if err := validateInterval("stale_time", c.StaleTime); err != nil {
		return err
	}
	if c.Timeout.Duration() < time.Second {
		return fmt.Errorf("timeout must be at least 1s, got %s", c.Timeout.Duration())
	}

	if c.Retry.Attempts < 1 || c.Retry.Attempts > maxRetryAttempts {
		return fmt.Errorf("retry.attempts must be between 1 and %d, got %d", maxRetryAttempts, c.Retry.Attempts)
	}
	if c.Retry.Delay.Duration() < 0 {
		return fmt.Errorf("retry.delay cannot be negative, got %s", c.Retry.Delay.Duration())
	}

	for k, v := range c.Headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("headers[%s]: %w", k, err)
		}
		c.Headers[k] = expanded
	}

	if err := validateExtractor(&c.Extractor, "extractor"); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Collections))
	for i := range c.Collections {
		col := &c.Collections[i]

		if col.Name == "" {
			return fmt.Errorf("collections[%d]: name is required", i)
		}
		where := fmt.Sprintf("collections[%d] (%s)", i, col.Name)

		if seen[col.Name] {
			return fmt.Errorf("%s: duplicate collection name", where)
		}
		seen[col.Name] = true

		if col.Path == "" {
			known, ok := leadpulse.LookupCollection(col.Name)
			if !ok {
				return fmt.Errorf("%s: path is required for custom collections", where)
			}
			col.Path = known.Path
		}
		if _, err := leadpulse.NewCollection(col.Name, col.Path); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}

		if col.RefreshInterval != 0 {
			if err := validateInterval(where+": refresh_interval", col.RefreshInterval); err != nil {
				return err
			}
		}
		if col.StaleTime != 0 {
			if err := validateInterval(where+": stale_time", col.StaleTime); err != nil {
				return err
			}
		}

		if err := validateExtractor(&col.Extractor, where+": extractor"); err != nil {
			return err
		}
	}

	return nil
}

// validateInterval checks that d is between 1s and 1h.
func validateInterval(field string, d Duration) error {
	if d.Duration() < minRefreshInterval {
		return fmt.Errorf("%s must be at least %s, got %s", field, minRefreshInterval, d.Duration())
	}
	if d.Duration() > maxInterval {
		return fmt.Errorf("%s must not exceed %s, got %s", field, maxInterval, d.Duration())
	}
	return nil
}

// validateExtractor validates an extractor configuration.
func validateExtractor(e *ExtractorConfig, context string) error {
	switch e.Type {
	case "", "envelope":
		return nil
	case "json":
		if e.Path == "" {
			return fmt.Errorf("%s: extractor type 'json' requires a path", context)
		}
		return nil
	default:
		return fmt.Errorf("%s: unknown extractor type %q", context, e.Type)
	}
}
