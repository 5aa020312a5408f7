package limiter

import (
	"time"

	"github.com/AlexKimmel/GateLite/internal/clock"
	"github.com/AlexKimmel/GateLite/internal/ratelimit"
	"github.com/AlexKimmel/GateLite/internal/ratelimit/memory"
)

// Observer is told about every admission decision.
type Observer interface {
	ObserveLease(policy string, lease ratelimit.Lease)
}

// Limiter is the admission entry point: it resolves a policy, finds the
// caller's partition and runs the policy's counter against it.
type Limiter struct {
	registry *Registry
	table    *memory.Table
	clock    clock.Clock
	observer Observer
}

type Option func(*Limiter)

func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

func WithTable(t *memory.Table) Option {
	return func(l *Limiter) { l.table = t }
}

func WithObserver(o Observer) Option {
	return func(l *Limiter) { l.observer = o }
}

func New(reg *Registry, opts ...Option) *Limiter {
	l := &Limiter{
		registry: reg,
		clock:    clock.System(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.table == nil {
		l.table = memory.New()
	}
	return l
}

// Evaluate consumes one admission check for key under the named policy at now.
// Every call has a side effect: an acquired or queued lease counts against
// the partition.
func (l *Limiter) Evaluate(policyName, key string, now time.Time) (ratelimit.Lease, error) {
	p, err := l.registry.Lookup(policyName)
	if err != nil {
		return ratelimit.Lease{}, err
	}
	lease := l.table.Acquire(p, key, now)
	if l.observer != nil {
		l.observer.ObserveLease(p.Name, lease)
	}
	return lease, nil
}

// Allow is Evaluate at the limiter's clock.
func (l *Limiter) Allow(policyName, key string) (ratelimit.Lease, error) {
	return l.Evaluate(policyName, key, l.clock.Now())
}

// Cancel gives back a queued reservation that key will not wait for, so it
// does not consume a permit when the window opens. It reports whether a
// reservation was returned.
func (l *Limiter) Cancel(policyName, key string) (bool, error) {
	p, err := l.registry.Lookup(policyName)
	if err != nil {
		return false, err
	}
	return l.table.Cancel(p, key), nil
}

func (l *Limiter) Registry() *Registry  { return l.registry }
func (l *Limiter) Table() *memory.Table { return l.table }
