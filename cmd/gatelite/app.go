package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/AlexKimmel/GateLite/internal/auth"
	"github.com/AlexKimmel/GateLite/internal/clock"
	"github.com/AlexKimmel/GateLite/internal/config"
	"github.com/AlexKimmel/GateLite/internal/gateway"
	"github.com/AlexKimmel/GateLite/internal/limiter"
	"github.com/AlexKimmel/GateLite/internal/obs"
	"github.com/AlexKimmel/GateLite/internal/proxy"
	"github.com/AlexKimmel/GateLite/internal/ratelimit/memory"
	"github.com/AlexKimmel/GateLite/internal/routing"
	"github.com/AlexKimmel/GateLite/internal/stats"
)

const version = "v0.2.0"

type app struct {
	handler http.Handler
	limiter *limiter.Limiter // nil when rate limiting is disabled
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp wires the gateway from cfg. The partition janitor runs until ctx is
// done.
func newApp(ctx context.Context, cfg *config.Root, logger zerolog.Logger, reg prometheus.Registerer, gatherer prometheus.Gatherer) (*app, error) {
	a := &app{}

	skip := map[string]struct{}{
		"/health":  {},
		"/version": {},
	}
	skip[cfg.Observability.PrometheusPath] = struct{}{}

	router, err := buildRouter(cfg.Routes)
	if err != nil {
		return nil, err
	}

	secrets := make(map[string]string, len(cfg.Auth.Keys))
	for _, k := range cfg.Auth.Keys {
		secrets[k.Secret] = k.ID
	}
	keys := auth.NewKeys(cfg.Auth.Header, secrets)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(version))
	})
	mux.Handle(cfg.Observability.PrometheusPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	registerSamples(mux)

	rl := cfg.RateLimiting
	if !rl.IsEnabled() {
		logger.Warn().Msg("rate limiting is disabled")
		metrics := obs.NewMetrics(reg, nil)
		a.handler = gateway.Chain(
			proxy.Handler(proxy.NewHTTPTransport(), mux),
			obs.Logger(logger),
			gateway.BodyLimit(cfg.Server.MaxBody()),
			keys.Middleware(skip),
			gateway.RouteMatcher(router, skip),
			metrics.Middleware(skip),
		)
		return a, nil
	}

	global, named, err := rl.Policies()
	if err != nil {
		return nil, err
	}
	registry, err := limiter.NewRegistry(global, named...)
	if err != nil {
		return nil, err
	}
	if err := registry.Require(router.Policies()...); err != nil {
		return nil, fmt.Errorf("routes: %w", err)
	}

	var table *memory.Table
	metrics := obs.NewMetrics(reg, func() int { return table.Len() })
	table = memory.New(
		memory.WithSafetyFactor(rl.Eviction.SafetyFactor),
		memory.WithEvictionObserver(metrics),
		memory.WithLogger(logger.With().Str("component", "partitions").Logger()),
	)
	table.StartJanitor(ctx, rl.Eviction.SweepEvery(), clock.System())

	a.limiter = limiter.New(registry,
		limiter.WithTable(table),
		limiter.WithObserver(metrics),
	)

	recorder, closeStats, err := buildStats(ctx, cfg.Stats, logger, mux)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStats)

	logger.Info().
		Strs("policies", registry.Names()).
		Str("partition_by", rl.PartitionBy).
		Int("routes", len(router.Routes())).
		Msg("rate limiting enabled")

	a.handler = gateway.Chain(
		proxy.Handler(proxy.NewHTTPTransport(), mux),
		obs.Logger(logger),
		gateway.BodyLimit(cfg.Server.MaxBody()),
		keys.Middleware(skip),
		gateway.RouteMatcher(router, skip),
		metrics.Middleware(skip),
		gateway.RateLimit(a.limiter, gateway.RateLimitOptions{
			PartitionBy:    rl.PartitionBy,
			TrustForwarded: rl.TrustsForwarded(),
			MaxQueueWait:   rl.MaxQueueWait(),
			Skip:           skip,
			Stats:          recorder,
			Logger:         logger,
		}),
	)
	return a, nil
}

func buildRouter(routes []config.Routes) (*routing.Router, error) {
	rr := routing.New()
	for _, r := range routes {
		rt := &routing.Route{
			ID:      r.ID,
			Methods: routing.MethodSet(r.Match.Methods),
			Prefix:  r.Match.PathPrefix,
			Policy:  r.Policy,
			Timeout: r.Timeout(),
		}
		if r.Upstream != "" {
			u, err := url.Parse(r.Upstream)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return nil, fmt.Errorf("route %q: invalid upstream %q", r.ID, r.Upstream)
			}
			rt.Upstream = u
		}
		rr.Add(rt)
	}
	return rr, nil
}

func buildStats(ctx context.Context, cfg config.Stats, logger zerolog.Logger, mux *http.ServeMux) (stats.Recorder, func(), error) {
	switch cfg.Backend {
	case "memory":
		mem := stats.NewMemory(stats.WithTrackKeys(cfg.TrackKeys))
		mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
			body := map[string]any{
				"total":     mem.Total(),
				"by_policy": mem.ByPolicy(),
			}
			if cfg.TrackKeys {
				body["by_key"] = mem.ByKey()
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(body)
		})
		return mem, func() {}, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			// stats are best-effort; go-redis reconnects on its own
			logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis stats backend unreachable")
		}
		async := stats.NewAsync(
			stats.NewRedis(rdb,
				stats.WithPrefix(cfg.Prefix),
				stats.WithTTL(cfg.TTL()),
				stats.WithRedisTrackKeys(cfg.TrackKeys),
			),
			4096, time.Second,
			logger.With().Str("component", "stats").Logger(),
		)
		return async, func() {
			async.Close()
			_ = rdb.Close()
		}, nil

	default:
		return stats.Nop{}, func() {}, nil
	}
}
