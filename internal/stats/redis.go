package stats

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis aggregates decisions in Redis hashes so several gateway instances can
// be inspected together. Only the statistics live there; admission state
// stays in process.
//
// Layout, with the default prefix:
//
//	gatelite:stats:total                 outcome -> count
//	gatelite:stats:policy:{name}         outcome -> count
//	gatelite:stats:minute:{yyyymmddhhmm} outcome -> count (expires)
//	gatelite:stats:key:{key}             outcome -> count (expires, opt-in)
type Redis struct {
	rdb redis.Cmdable

	prefix    string
	ttl       time.Duration
	trackKeys bool
}

type RedisOption func(*Redis)

func WithPrefix(prefix string) RedisOption {
	return func(s *Redis) { s.prefix = strings.Trim(prefix, ":") }
}

// WithTTL sets the expiry of minute buckets and per-key hashes. Totals never
// expire.
func WithTTL(d time.Duration) RedisOption {
	return func(s *Redis) { s.ttl = d }
}

func WithRedisTrackKeys(track bool) RedisOption {
	return func(s *Redis) { s.trackKeys = track }
}

func NewRedis(rdb redis.Cmdable, opts ...RedisOption) *Redis {
	s := &Redis{
		rdb:    rdb,
		prefix: "gatelite:stats",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Redis) Record(ctx context.Context, ev Event) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := ev.Outcome.String()

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)
	if ev.Policy != "" {
		pipe.HIncrBy(ctx, s.prefix+":policy:"+ev.Policy, field, 1)
	}

	bucket := s.prefix + ":minute:" + at.UTC().Format("200601021504")
	pipe.HIncrBy(ctx, bucket, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucket, s.ttl)
	}

	if s.trackKeys && strings.TrimSpace(ev.Key) != "" {
		keyKey := s.prefix + ":key:" + strings.TrimSpace(ev.Key)
		pipe.HIncrBy(ctx, keyKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, keyKey, s.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}
