package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/AlexKimmel/GateLite/internal/config"
	"github.com/AlexKimmel/GateLite/internal/limiter"
	"github.com/AlexKimmel/GateLite/internal/stats"
)

func testApp(t *testing.T, yaml string) *app {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	reg := prometheus.NewRegistry()
	a, err := newApp(ctx, cfg, zerolog.Nop(), reg, reg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func do(a *app, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestApp_DefaultsThrottleLogin(t *testing.T) {
	a := testApp(t, "{}")

	for i := 0; i < 5; i++ {
		if w := do(a, http.MethodPost, "/auth/login"); w.Code != http.StatusOK {
			t.Fatalf("login %d: expected 200, got %d", i, w.Code)
		}
	}
	w := do(a, http.MethodPost, "/auth/login")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected the 6th login to be throttled, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After")
	}

	// other routes keep their own budget
	if w := do(a, http.MethodGet, "/api/products"); w.Code != http.StatusOK {
		t.Fatalf("expected products to be served, got %d", w.Code)
	}

	body, _ := io.ReadAll(do(a, http.MethodGet, "/metrics").Body)
	if !strings.Contains(string(body), `gatelite_admissions_total{outcome="rejected",policy="authentication"} 1`) {
		t.Fatalf("expected the rejection in metrics, got:\n%s", body)
	}
	if !strings.Contains(string(body), "gatelite_partitions ") {
		t.Fatalf("expected the partitions gauge in metrics")
	}
}

func TestApp_OpsEndpointsAreNeverLimited(t *testing.T) {
	a := testApp(t, "rate_limiting:\n  global:\n    permit_limit: 0\n    window_ms: 60000\n")

	if w := do(a, http.MethodGet, "/"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected a zero global budget to reject, got %d", w.Code)
	}
	for _, p := range []string{"/health", "/version", "/metrics"} {
		if w := do(a, http.MethodGet, p); w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", p, w.Code)
		}
	}
}

func TestApp_Disabled(t *testing.T) {
	a := testApp(t, "rate_limiting:\n  enabled: false\n")
	if a.limiter != nil {
		t.Fatalf("expected no limiter when disabled")
	}
	for i := 0; i < 20; i++ {
		if w := do(a, http.MethodPost, "/auth/login"); w.Code != http.StatusOK {
			t.Fatalf("expected every login served, got %d", w.Code)
		}
	}
}

func TestApp_MemoryStats(t *testing.T) {
	a := testApp(t, "stats:\n  backend: memory\n")

	do(a, http.MethodGet, "/")
	do(a, http.MethodGet, "/")

	w := do(a, http.MethodGet, "/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got struct {
		Total stats.Counters `json:"total"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// the /stats request itself is admitted before it is served
	if got.Total.Acquired != 3 {
		t.Fatalf("expected 3 acquired, got %+v", got.Total)
	}
}

func TestApp_MemoryStatsByKey(t *testing.T) {
	a := testApp(t, "stats:\n  backend: memory\n  track_keys: true\n")

	do(a, http.MethodGet, "/")
	w := do(a, http.MethodGet, "/stats")

	var got struct {
		ByKey map[string]stats.Counters `json:"by_key"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// httptest requests come from 192.0.2.1
	if got.ByKey["192.0.2.1"].Acquired != 2 {
		t.Fatalf("expected 2 acquired for the test client, got %+v", got.ByKey)
	}
}

func TestNewApp_RejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"unknown route policy": "routes:\n  - id: x\n    match:\n      path_prefix: /x\n    policy: missing\n",
		"bad upstream":         "routes:\n  - id: x\n    match:\n      path_prefix: /x\n    upstream: not-a-url\n",
		"invalid policy":       "rate_limiting:\n  policies:\n    - name: api\n      permit_limit: 1\n      window_ms: 0\n",
	}
	for name, in := range cases {
		cfg, err := config.Parse([]byte(in))
		if err != nil {
			t.Fatalf("%s: parse: %v", name, err)
		}
		reg := prometheus.NewRegistry()
		if _, err := newApp(context.Background(), cfg, zerolog.Nop(), reg, reg); err == nil {
			t.Fatalf("%s: expected error", name)
		} else if name == "unknown route policy" && !errors.Is(err, limiter.ErrUnknownPolicy) {
			t.Fatalf("expected ErrUnknownPolicy, got %v", err)
		}
	}
}
