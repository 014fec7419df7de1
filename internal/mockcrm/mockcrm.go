// Package mockcrm serves a fake CRM list API for demos and tests.
//
// Every collection answers GET /api/{collection}?page=&limit= with the
// standard list envelope:
//
//	{"success": true, "data": [...], "pagination": {"page": 1, "limit": 1, "total": 42, "pages": 42}}
//
// Totals drift over time and a configurable share of requests report
// {"success": false}, so badge consumers see realistic churn.
package mockcrm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// CRM is an in-memory fake of the CRM list API. Safe for concurrent use.
type CRM struct {
	logger      *slog.Logger
	failureRate float64

	mu     sync.Mutex
	rng    *rand.Rand
	totals map[string]int
}

// Option configures a [CRM].
type Option func(*CRM)

// WithTotals sets the starting total of each collection. Collections not
// listed here answer 404.
func WithTotals(totals map[string]int) Option {
	return func(c *CRM) {
		c.totals = make(map[string]int, len(totals))
		for k, v := range totals {
			c.totals[k] = v
		}
	}
}

// WithFailureRate sets the share of requests, between 0 and 1, that report
// success=false.
func WithFailureRate(p float64) Option {
	return func(c *CRM) {
		c.failureRate = p
	}
}

// WithSeed makes drift and failures reproducible.
func WithSeed(seed int64) Option {
	return func(c *CRM) {
		c.rng = rand.New(rand.NewSource(seed))
	}
}

// WithLogger sets the logger for drift and failure events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *CRM) {
		c.logger = logger
	}
}

// New creates a [CRM]. By default it serves the five built-in collections
// with a mix of small, large and empty totals, and never fails.
func New(opts ...Option) *CRM {
	c := &CRM{
		logger: slog.Default(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		totals: map[string]int{
			"leads":         12,
			"contacts":      148,
			"accounts":      0,
			"properties":    37,
			"opportunities": 99,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handler returns the HTTP handler of the fake API.
func (c *CRM) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/{collection}", c.handleList)
	return r
}

// Set replaces the total of a collection, creating it if needed.
func (c *CRM) Set(collection string, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals[collection] = total
}

// Total returns the current total of a collection.
func (c *CRM) Total(collection string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.totals[collection]
	return n, ok
}

// Drift moves every total by a small random step, never below zero.
func (c *CRM) Drift() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, total := range c.totals {
		next := total + c.rng.Intn(7) - 3
		if next < 0 {
			next = 0
		}
		if next != total {
			c.logger.Info("total drifted", "collection", name, "from", total, "to", next)
		}
		c.totals[name] = next
	}
}

// Run calls [CRM.Drift] every interval until ctx is cancelled.
func (c *CRM) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Drift()
		}
	}
}

type listResponse struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message,omitempty"`
	Data       []record    `json:"data,omitempty"`
	Pagination *pagination `json:"pagination,omitempty"`
}

type record struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

func (c *CRM) handleList(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")

	page, err := queryInt(r, "page", 1)
	if err != nil || page < 1 {
		writeJSON(w, http.StatusBadRequest, listResponse{Message: "page must be a positive integer"})
		return
	}
	limit, err := queryInt(r, "limit", defaultLimit)
	if err != nil || limit < 1 || limit > maxLimit {
		writeJSON(w, http.StatusBadRequest, listResponse{Message: fmt.Sprintf("limit must be between 1 and %d", maxLimit)})
		return
	}

	c.mu.Lock()
	total, ok := c.totals[collection]
	failed := c.failureRate > 0 && c.rng.Float64() < c.failureRate
	c.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, listResponse{Message: "unknown collection"})
		return
	}
	if failed {
		c.logger.Info("simulated failure", "collection", collection)
		writeJSON(w, http.StatusOK, listResponse{Message: "temporarily unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, listResponse{
		Success: true,
		Data:    pageRecords(collection, page, limit, total),
		Pagination: &pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: (total + limit - 1) / limit,
		},
	})
}

// pageRecords builds the placeholder records of one page.
func pageRecords(collection string, page, limit, total int) []record {
	start := (page - 1) * limit
	if start >= total {
		return []record{}
	}
	end := min(start+limit, total)

	records := make([]record, 0, end-start)
	for i := start; i < end; i++ {
		records = append(records, record{
			ID:   fmt.Sprintf("%s-%d", collection, i+1),
			Name: fmt.Sprintf("%s #%d", collection, i+1),
		})
	}
	return records
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
