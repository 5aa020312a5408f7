package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AlexKimmel/GateLite/internal/ratelimit"
)

const sample = `
server:
  addr: ":9090"
observability:
  log_level: debug
rate_limiting:
  enabled: true
  partition_by: api_key
  trust_forwarded: false
  max_queue_wait_ms: 1500
  global:
    permit_limit: 50
    window_ms: 30000
    queue_limit: 2
  policies:
    - name: api
      permit_limit: 10
      window_ms: 60000
    - name: ip
      algorithm: sliding_window
      permit_limit: 100
      window_ms: 60000
      segments: 6
  eviction:
    safety_factor: 3
    sweep_every_ms: 5000
stats:
  backend: memory
  track_keys: true
routes:
  - id: products
    match:
      path_prefix: /api/products
      methods: [GET]
    policy: api
    upstream: http://127.0.0.1:9000
    timeout_ms: 2500
`

func TestParse_Sample(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Observability.LogLevel != "debug" {
		t.Fatalf("unexpected server/observability: %+v %+v", cfg.Server, cfg.Observability)
	}

	rl := cfg.RateLimiting
	if !rl.IsEnabled() || rl.TrustsForwarded() || rl.PartitionBy != "api_key" {
		t.Fatalf("unexpected rate limiting flags: %+v", rl)
	}
	if rl.MaxQueueWait() != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s queue wait, got %s", rl.MaxQueueWait())
	}
	if rl.Eviction.SafetyFactor != 3 || rl.Eviction.SweepEvery() != 5*time.Second {
		t.Fatalf("unexpected eviction: %+v", rl.Eviction)
	}

	global, named, err := rl.Policies()
	if err != nil {
		t.Fatalf("policies: %v", err)
	}
	if global.PermitLimit != 50 || global.Window != 30*time.Second || global.QueueLimit != 2 {
		t.Fatalf("unexpected global policy %+v", global)
	}
	if len(named) != 2 {
		t.Fatalf("expected 2 named policies, got %d", len(named))
	}
	if named[1].Algorithm != ratelimit.SlidingWindow || named[1].Segments != 6 {
		t.Fatalf("unexpected ip policy %+v", named[1])
	}

	if cfg.Stats.Backend != "memory" || !cfg.Stats.TrackKeys {
		t.Fatalf("unexpected stats: %+v", cfg.Stats)
	}
	if len(cfg.Routes) != 1 || cfg.Routes[0].Policy != "api" || cfg.Routes[0].Upstream != "http://127.0.0.1:9000" || cfg.Routes[0].Timeout() != 2500*time.Millisecond {
		t.Fatalf("unexpected routes %+v", cfg.Routes)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Auth.Header != "X-API-Key" || cfg.Observability.PrometheusPath != "/metrics" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	rl := cfg.RateLimiting
	if !rl.IsEnabled() || !rl.TrustsForwarded() || rl.PartitionBy != "ip" || rl.MaxQueueWait() != 0 {
		t.Fatalf("unexpected rate limiting defaults: %+v", rl)
	}
	global, named, err := rl.Policies()
	if err != nil {
		t.Fatalf("policies: %v", err)
	}
	if global.PermitLimit != 100 || global.Window != time.Minute {
		t.Fatalf("unexpected default global %+v", global)
	}
	if len(named) != 3 {
		t.Fatalf("expected default api, authentication and ip policies, got %d", len(named))
	}
	for _, p := range named {
		if err := p.Validate(); err != nil {
			t.Fatalf("default policy invalid: %v", err)
		}
	}
	if len(cfg.Routes) != 3 || cfg.Routes[0].Match.PathPrefix != "/auth/login" || cfg.Routes[0].Timeout() != 30*time.Second {
		t.Fatalf("unexpected default routes %+v", cfg.Routes)
	}
	if cfg.Stats.Backend != "none" || cfg.Stats.TTL() != 24*time.Hour || cfg.Stats.TrackKeys {
		t.Fatalf("unexpected stats defaults: %+v", cfg.Stats)
	}
}

func TestParse_Disabled(t *testing.T) {
	cfg, err := Parse([]byte("rate_limiting:\n  enabled: false\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.RateLimiting.IsEnabled() {
		t.Fatalf("expected rate limiting disabled")
	}
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"bad yaml":      "rate_limiting: [",
		"partition":     "rate_limiting:\n  partition_by: cookie\n",
		"stats backend": "stats:\n  backend: kafka\n",
		"redis no addr": "stats:\n  backend: redis\n",
	}
	for name, in := range cases {
		if _, err := Parse([]byte(in)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestPolicies_UnknownAlgorithm(t *testing.T) {
	cfg, err := Parse([]byte("rate_limiting:\n  policies:\n    - name: x\n      algorithm: leaky\n      permit_limit: 1\n      window_ms: 1000\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, _, err := cfg.RateLimiting.Policies(); !errors.Is(err, ratelimit.ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("expected addr from file, got %q", cfg.Server.Addr)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}

func TestPolicies_MissingGlobal(t *testing.T) {
	var rl RateLimiting
	if _, _, err := rl.Policies(); !errors.Is(err, ratelimit.ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy without a global policy, got %v", err)
	}
}
