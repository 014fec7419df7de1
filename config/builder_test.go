package config

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

func mustParse(t *testing.T, yaml string) *Config {
	t.Helper()
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return cfg
}

func TestBuildPollers_Defaults(t *testing.T) {
	cfg := mustParse(t, "base_url: http://localhost:8000")

	pollers, err := BuildPollers(cfg, nil)
	if err != nil {
		t.Fatalf("BuildPollers() error = %v", err)
	}
	if len(pollers) != 1 {
		t.Fatalf("len(pollers) = %d, want 1", len(pollers))
	}

	p := pollers[0]
	defer p.Stop()
	if p.URL() != "http://localhost:8000/api/leads" {
		t.Errorf("URL() = %q", p.URL())
	}
	if p.RefreshInterval() != 30*time.Second || p.StaleTime() != 15*time.Second {
		t.Errorf("intervals = %v/%v, want 30s/15s", p.RefreshInterval(), p.StaleTime())
	}
	attempts, delay := p.Retry()
	if attempts != 3 || delay != time.Second {
		t.Errorf("Retry() = (%d, %v), want (3, 1s)", attempts, delay)
	}
}

func TestBuildPollers_CollectionOverrides(t *testing.T) {
	cfg := mustParse(t, `
base_url: https://crm.example.com/
refresh_interval: 1m
stale_time: 20s
retry:
  attempts: 2
  delay: 500ms
headers:
  X-Tenant: acme
  Authorization: Bearer x
collections:
  - leads
  - name: tickets
    path: /api/tickets
    refresh_interval: 5m
    stale_time: 1m
`)

	pollers, err := BuildPollers(cfg, nil)
	if err != nil {
		t.Fatalf("BuildPollers() error = %v", err)
	}
	for _, p := range pollers {
		defer p.Stop()
	}
	if len(pollers) != 2 {
		t.Fatalf("len(pollers) = %d, want 2", len(pollers))
	}

	leads, tickets := pollers[0], pollers[1]
	if leads.RefreshInterval() != time.Minute || leads.StaleTime() != 20*time.Second {
		t.Errorf("leads intervals = %v/%v", leads.RefreshInterval(), leads.StaleTime())
	}
	if tickets.RefreshInterval() != 5*time.Minute || tickets.StaleTime() != time.Minute {
		t.Errorf("tickets intervals = %v/%v", tickets.RefreshInterval(), tickets.StaleTime())
	}
	if tickets.URL() != "https://crm.example.com/api/tickets" {
		t.Errorf("tickets URL() = %q", tickets.URL())
	}

	attempts, delay := tickets.Retry()
	if attempts != 2 || delay != 500*time.Millisecond {
		t.Errorf("Retry() = (%d, %v), want (2, 500ms)", attempts, delay)
	}

	want := map[string]string{"X-Tenant": "acme", "Authorization": "Bearer x"}
	if got := leads.Headers(); !reflect.DeepEqual(got, want) {
		t.Errorf("Headers() = %v, want %v", got, want)
	}
}

func TestBuildPollers_JSONExtractor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"meta": {"total": 31}}`))
	}))
	defer server.Close()

	cfg := mustParse(t, `
base_url: `+server.URL+`
extractor: json:meta.total
`)

	pollers, err := BuildPollers(cfg, nil)
	if err != nil {
		t.Fatalf("BuildPollers() error = %v", err)
	}
	defer pollers[0].Stop()

	if got := pollers[0].Refresh(context.Background()).Count; got != 31 {
		t.Errorf("Count = %d, want 31", got)
	}
}

func TestMapToKeyValuePairs(t *testing.T) {
	got := mapToKeyValuePairs(map[string]string{"b": "2", "a": "1"})
	want := []string{"a", "1", "b", "2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("mapToKeyValuePairs() = %v, want %v", got, want)
	}
}
