package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/time/rate"

	"github.com/AlexKimmel/GateLite/internal/limiter"
	"github.com/AlexKimmel/GateLite/internal/ratelimit"
	"github.com/AlexKimmel/GateLite/internal/routing"
	"github.com/AlexKimmel/GateLite/internal/stats"
)

type RateLimitOptions struct {
	PartitionBy    string // PartitionByIP (default) or PartitionByAPIKey
	TrustForwarded bool
	// MaxQueueWait is how long a queued request may be held before it is
	// served. Zero rejects queued requests immediately.
	MaxQueueWait time.Duration
	Skip         map[string]struct{}
	Stats        stats.Recorder
	Logger       zerolog.Logger
	// WarnEvery limits rejection warnings to one per interval after the first
	// few. Zero uses one second.
	WarnEvery time.Duration
}

type rejectionBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

// RateLimit admits each request against the global policy and then against
// the matched route's policy, if any. A request rejected by the route policy
// has already spent its global permit.
func RateLimit(lim *limiter.Limiter, opts RateLimitOptions) Middleware {
	if opts.PartitionBy == "" {
		opts.PartitionBy = PartitionByIP
	}
	if opts.Stats == nil {
		opts.Stats = stats.Nop{}
	}
	if opts.WarnEvery <= 0 {
		opts.WarnEvery = time.Second
	}
	warn := &rate.Sometimes{First: 5, Interval: opts.WarnEvery}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := opts.Skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			key := ClientKey(r, opts.PartitionBy, opts.TrustForwarded)
			policies := []string{limiter.GlobalPolicy}
			if rt, ok := routing.RouteFrom(r); ok && rt.Policy != "" && rt.Policy != limiter.GlobalPolicy {
				policies = append(policies, rt.Policy)
			}

			tightest, tightestLimit := -1, 0
			for _, name := range policies {
				lease, err := lim.Allow(name, key)
				if err != nil {
					opts.Logger.Error().Err(err).Str("policy", name).Msg("rate limiter error")
					writeError(w, http.StatusInternalServerError, "rate_limiter_error", "internal rate limiter error")
					return
				}
				record(r, opts, name, key, lease)

				if lease.Outcome == ratelimit.Queued {
					if opts.MaxQueueWait > 0 && lease.Wait <= opts.MaxQueueWait {
						if !hold(r.Context(), lease.Wait) {
							cancelReservation(lim, opts.Logger, name, key)
							return
						}
						lease = ratelimit.AcquiredLease(0)
					} else {
						// not held: free the slot before the client retries
						cancelReservation(lim, opts.Logger, name, key)
						lease = ratelimit.RejectedLease(lease.Wait)
					}
				}

				if rej, limited := ratelimit.Report(lease); limited {
					warn.Do(func() {
						ev := opts.Logger.Warn().
							Str("client", key).
							Str("method", r.Method).
							Str("path", r.URL.Path).
							Str("policy", name).
							Str("reason", rej.Reason).
							Int("retry_after_s", rej.RetryAfterSeconds)
						if id, ok := hlog.IDFromRequest(r); ok {
							ev = ev.Str("req_id", id.String())
						}
						ev.Msg("rate limit exceeded")
					})
					writeRejection(w, rej)
					return
				}

				if tightest < 0 || lease.Remaining < tightest {
					tightest = lease.Remaining
					if p, err := lim.Registry().Lookup(name); err == nil {
						tightestLimit = p.PermitLimit
					}
				}
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(tightestLimit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(tightest, 0)))
			next.ServeHTTP(w, r)
		})
	}
}

// hold waits for a queued reservation to come up. It reports false when the
// client went away first.
func hold(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func cancelReservation(lim *limiter.Limiter, log zerolog.Logger, policy, key string) {
	if _, err := lim.Cancel(policy, key); err != nil {
		log.Error().Err(err).Str("policy", policy).Msg("cancel queued reservation")
	}
}

func record(r *http.Request, opts RateLimitOptions, policy, key string, lease ratelimit.Lease) {
	err := opts.Stats.Record(r.Context(), stats.Event{
		Policy:  policy,
		Key:     key,
		Outcome: lease.Outcome,
		Method:  r.Method,
		Path:    r.URL.Path,
		At:      time.Now(),
	})
	if err != nil {
		opts.Logger.Debug().Err(err).Str("policy", policy).Msg("stats record failed")
	}
}

func writeRejection(w http.ResponseWriter, rej ratelimit.Rejection) {
	w.Header().Set("Retry-After", strconv.Itoa(rej.RetryAfterSeconds))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rej.Status)
	_ = json.NewEncoder(w).Encode(rejectionBody{
		Error:      "Too many requests",
		Message:    rej.Message,
		RetryAfter: rej.RetryAfterSeconds,
	})
}

func writeError(w http.ResponseWriter, code int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": errCode, "message": msg})
}
