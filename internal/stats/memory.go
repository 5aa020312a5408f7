package stats

import (
	"context"
	"sync"

	"github.com/AlexKimmel/GateLite/internal/ratelimit"
)

// Counters holds the number of decisions per outcome.
type Counters struct {
	Acquired int64
	Queued   int64
	Rejected int64
}

func (c *Counters) add(o ratelimit.Outcome) {
	switch o {
	case ratelimit.Acquired:
		c.Acquired++
	case ratelimit.Queued:
		c.Queued++
	case ratelimit.Rejected:
		c.Rejected++
	}
}

// Memory keeps counters in process. It never expires anything and is meant
// for tests and single-instance setups.
type Memory struct {
	mu       sync.Mutex
	total    Counters
	byPolicy map[string]Counters
	byKey    map[string]Counters

	trackKeys bool
}

type MemoryOption func(*Memory)

func WithTrackKeys(track bool) MemoryOption {
	return func(m *Memory) { m.trackKeys = track }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		byPolicy: make(map[string]Counters),
		byKey:    make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Record(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total.add(ev.Outcome)

	c := m.byPolicy[ev.Policy]
	c.add(ev.Outcome)
	m.byPolicy[ev.Policy] = c

	if m.trackKeys {
		k := m.byKey[ev.Key]
		k.add(ev.Outcome)
		m.byKey[ev.Key] = k
	}
	return nil
}

func (m *Memory) Total() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

func (m *Memory) ByPolicy() map[string]Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Counters, len(m.byPolicy))
	for k, v := range m.byPolicy {
		out[k] = v
	}
	return out
}

func (m *Memory) ByKey() map[string]Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Counters, len(m.byKey))
	for k, v := range m.byKey {
		out[k] = v
	}
	return out
}
