package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AlexKimmel/GateLite/internal/ratelimit"
)

type Server struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
	IdleTimeoutMS  int    `yaml:"idle_timeout_ms"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level"`       // "debug","info","warn","error"
	PrometheusPath string `yaml:"prometheus_path"` // e.g. "/metrics"
}

type APIKey struct {
	ID       string            `yaml:"id"`
	Secret   string            `yaml:"secret"`
	Metadata map[string]string `yaml:"metadata"`
}

type Auth struct {
	Header string   `yaml:"header"`
	Keys   []APIKey `yaml:"keys"`
}

// Policy is one rate limit policy as written in the file.
type Policy struct {
	Name        string `yaml:"name"`
	Algorithm   string `yaml:"algorithm"` // "fixed_window" (default) or "sliding_window"
	PermitLimit int    `yaml:"permit_limit"`
	WindowMS    int    `yaml:"window_ms"`
	QueueLimit  int    `yaml:"queue_limit"`
	Segments    int    `yaml:"segments"`
}

type Eviction struct {
	SafetyFactor int `yaml:"safety_factor"`
	SweepEveryMS int `yaml:"sweep_every_ms"`
}

type RateLimiting struct {
	Enabled        *bool    `yaml:"enabled"`
	PartitionBy    string   `yaml:"partition_by"` // "ip" or "api_key"
	TrustForwarded *bool    `yaml:"trust_forwarded"`
	MaxQueueWaitMS int      `yaml:"max_queue_wait_ms"`
	Global         *Policy  `yaml:"global"`
	PolicyList     []Policy `yaml:"policies"`
	Eviction       Eviction `yaml:"eviction"`
}

type Stats struct {
	Backend       string `yaml:"backend"` // "none", "memory" or "redis"
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Prefix        string `yaml:"prefix"`
	TTLMS         int    `yaml:"ttl_ms"`
	TrackKeys     bool   `yaml:"track_keys"` // per partition key counts
}

type Routes struct {
	ID    string `yaml:"id"`
	Match struct {
		PathPrefix string   `yaml:"path_prefix"`
		Methods    []string `yaml:"methods"`
	} `yaml:"match"`
	Policy    string `yaml:"policy"`
	Upstream  string `yaml:"upstream"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type Root struct {
	Server        Server        `yaml:"server"`
	Observability Observability `yaml:"observability"`
	Auth          Auth          `yaml:"auth"`
	RateLimiting  RateLimiting  `yaml:"rate_limiting"`
	Stats         Stats         `yaml:"stats"`
	Routes        []Routes      `yaml:"routes"`
}

func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s Server) WriteTimeout() time.Duration {
	if s.WriteTimeoutMS == 0 {
		return 10 * time.Second
	}
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s Server) IdleTimeout() time.Duration {
	if s.IdleTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

func (s Server) MaxBody() int64 {
	if s.MaxBodyBytes == 0 {
		return 10 << 20
	}
	return s.MaxBodyBytes
} // default 10MB

func (r RateLimiting) IsEnabled() bool { return r.Enabled == nil || *r.Enabled }

func (r RateLimiting) TrustsForwarded() bool { return r.TrustForwarded == nil || *r.TrustForwarded }

func (r RateLimiting) MaxQueueWait() time.Duration {
	return time.Duration(r.MaxQueueWaitMS) * time.Millisecond
}

func (e Eviction) SweepEvery() time.Duration {
	if e.SweepEveryMS == 0 {
		return 30 * time.Second
	}
	return time.Duration(e.SweepEveryMS) * time.Millisecond
}

func (r Routes) Timeout() time.Duration {
	if r.TimeoutMS == 0 {
		return 30 * time.Second
	}
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

func (s Stats) TTL() time.Duration {
	if s.TTLMS == 0 {
		return 24 * time.Hour
	}
	return time.Duration(s.TTLMS) * time.Millisecond
}

// Policy converts the file form. Range checks are left to
// ratelimit.Policy.Validate so there is one source of truth.
func (p Policy) Policy() (ratelimit.Policy, error) {
	alg, err := ratelimit.ParseAlgorithm(p.Algorithm)
	if err != nil {
		return ratelimit.Policy{}, fmt.Errorf("policy %q: %w", p.Name, err)
	}
	return ratelimit.Policy{
		Name:        p.Name,
		Algorithm:   alg,
		PermitLimit: p.PermitLimit,
		Window:      time.Duration(p.WindowMS) * time.Millisecond,
		QueueLimit:  p.QueueLimit,
		Segments:    p.Segments,
	}, nil
}

// Policies returns the global policy and the named ones.
func (r RateLimiting) Policies() (ratelimit.Policy, []ratelimit.Policy, error) {
	if r.Global == nil {
		return ratelimit.Policy{}, nil, fmt.Errorf("rate_limiting.global is not set: %w", ratelimit.ErrInvalidPolicy)
	}
	global, err := r.Global.Policy()
	if err != nil {
		return ratelimit.Policy{}, nil, err
	}
	named := make([]ratelimit.Policy, 0, len(r.PolicyList))
	for _, p := range r.PolicyList {
		rp, err := p.Policy()
		if err != nil {
			return ratelimit.Policy{}, nil, err
		}
		named = append(named, rp)
	}
	return global, named, nil
}

// DefaultPolicies mirrors the limits the gateway ships with: a global
// budget, a tighter one for APIs and authentication, and a per-IP sliding window.
func DefaultPolicies() []Policy {
	return []Policy{
		{Name: "api", PermitLimit: 20, WindowMS: 60_000},
		{Name: "authentication", PermitLimit: 5, WindowMS: 60_000},
		{Name: "ip", Algorithm: "sliding_window", PermitLimit: 200, WindowMS: 60_000, Segments: 10},
	}
}

// DefaultRoutes binds the sample endpoints to the default policies.
func DefaultRoutes() []Routes {
	login := Routes{ID: "login", Policy: "authentication"}
	login.Match.PathPrefix = "/auth/login"
	login.Match.Methods = []string{"POST"}

	api := Routes{ID: "api", Policy: "api"}
	api.Match.PathPrefix = "/api"

	public := Routes{ID: "public", Policy: "ip"}
	public.Match.PathPrefix = "/public"

	return []Routes{login, api, public}
}

func Load(path string) (*Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Root, error) {
	var cfg Root
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	}
	if cfg.Auth.Header == "" {
		cfg.Auth.Header = "X-API-Key"
	}

	rl := &cfg.RateLimiting
	if rl.PartitionBy == "" {
		rl.PartitionBy = "ip"
	}
	if rl.Global == nil {
		rl.Global = &Policy{PermitLimit: 100, WindowMS: 60_000}
	}
	if rl.Global.Name == "" {
		rl.Global.Name = "global"
	}
	if rl.PolicyList == nil {
		rl.PolicyList = DefaultPolicies()
		// only the default policies are known to exist
		if cfg.Routes == nil {
			cfg.Routes = DefaultRoutes()
		}
	}
	if rl.Eviction.SafetyFactor <= 0 {
		rl.Eviction.SafetyFactor = 2
	}

	if cfg.Stats.Backend == "" {
		cfg.Stats.Backend = "none"
	}
	if cfg.Stats.Prefix == "" {
		cfg.Stats.Prefix = "gatelite:stats"
	}

	switch rl.PartitionBy {
	case "ip", "api_key":
	default:
		return nil, fmt.Errorf("rate_limiting.partition_by: unsupported value %q", rl.PartitionBy)
	}
	switch cfg.Stats.Backend {
	case "none", "memory":
	case "redis":
		if cfg.Stats.RedisAddr == "" {
			return nil, fmt.Errorf("stats.redis_addr is required when stats.backend is redis")
		}
	default:
		return nil, fmt.Errorf("stats.backend: unsupported value %q", cfg.Stats.Backend)
	}

	return &cfg, nil
}
