package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AlexKimmel/GateLite/internal/clock"
	"github.com/AlexKimmel/GateLite/internal/ratelimit"
	"github.com/rs/zerolog"
)

const DefaultSafetyFactor = 2

// EvictionObserver is told how many partitions each sweep removed.
type EvictionObserver interface {
	ObserveEviction(n int)
}

type partitionID struct {
	policy string
	key    string
}

// Partition is the counter state of one (policy, key) pair.
type Partition struct {
	mu       sync.Mutex
	policy   ratelimit.Policy
	counter  ratelimit.Counter
	lastSeen time.Time
	dead     bool // set under mu when evicted
}

// Table maps (policy, key) to partitions. Unrelated partitions never share a
// lock.
type Table struct {
	partitions sync.Map // partitionID -> *Partition
	size       atomic.Int64

	safety   int
	observer EvictionObserver
	log      zerolog.Logger
}

type Option func(*Table)

// WithSafetyFactor sets how many windows a partition may stay idle before it
// is evicted. Values below 1 are ignored.
func WithSafetyFactor(f int) Option {
	return func(t *Table) {
		if f >= 1 {
			t.safety = f
		}
	}
}

func WithEvictionObserver(o EvictionObserver) Option {
	return func(t *Table) { t.observer = o }
}

func WithLogger(l zerolog.Logger) Option {
	return func(t *Table) { t.log = l }
}

func New(opts ...Option) *Table {
	t := &Table{
		safety: DefaultSafetyFactor,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GetOrCreate returns the partition for (p.Name, key), creating it at now on
// first touch. Concurrent first touches get the same partition.
func (t *Table) GetOrCreate(p ratelimit.Policy, key string, now time.Time) *Partition {
	id := partitionID{policy: p.Name, key: key}
	if v, ok := t.partitions.Load(id); ok {
		return v.(*Partition)
	}

	fresh := &Partition{
		policy:   p,
		counter:  ratelimit.NewCounter(p, now),
		lastSeen: now,
	}
	v, loaded := t.partitions.LoadOrStore(id, fresh)
	if !loaded {
		t.size.Add(1)
	}
	return v.(*Partition)
}

// Acquire runs one admission check against the partition for (p.Name, key).
func (t *Table) Acquire(p ratelimit.Policy, key string, now time.Time) ratelimit.Lease {
	for {
		part := t.GetOrCreate(p, key, now)
		part.mu.Lock()
		if part.dead {
			// lost a race with the janitor; the next GetOrCreate makes a new one
			part.mu.Unlock()
			continue
		}
		lease := part.counter.TryAcquire(now)
		if now.After(part.lastSeen) {
			part.lastSeen = now
		}
		part.mu.Unlock()
		return lease
	}
}

// Cancel returns one queued reservation of the partition for (p.Name, key).
// It never creates a partition.
func (t *Table) Cancel(p ratelimit.Policy, key string) bool {
	v, ok := t.partitions.Load(partitionID{policy: p.Name, key: key})
	if !ok {
		return false
	}
	part := v.(*Partition)
	part.mu.Lock()
	defer part.mu.Unlock()
	if part.dead {
		return false
	}
	return part.counter.Cancel()
}

// Evict removes partitions idle for longer than their policy window times the
// safety factor and returns how many it removed.
func (t *Table) Evict(now time.Time) int {
	removed := 0
	t.partitions.Range(func(k, v any) bool {
		part := v.(*Partition)
		ttl := part.policy.Window * time.Duration(t.safety)

		part.mu.Lock()
		if !part.dead && now.Sub(part.lastSeen) > ttl {
			part.dead = true
			if t.partitions.CompareAndDelete(k, part) {
				t.size.Add(-1)
				removed++
			}
		}
		part.mu.Unlock()
		return true
	})

	if removed > 0 && t.observer != nil {
		t.observer.ObserveEviction(removed)
	}
	return removed
}

func (t *Table) Len() int { return int(t.size.Load()) }

// StartJanitor sweeps idle partitions every interval until ctx is done.
func (t *Table) StartJanitor(ctx context.Context, every time.Duration, clk clock.Clock) {
	if every <= 0 {
		return
	}

	tick := time.NewTicker(every)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				n := t.Evict(clk.Now())
				t.log.Debug().
					Int("evicted", n).
					Int("partitions", t.Len()).
					Msg("partition sweep")
			}
		}
	}()
}
