// Package stats records admission decisions for later inspection. Recording
// is best-effort: callers log failures and never fail a request over them.
package stats

import (
	"context"
	"time"

	"github.com/AlexKimmel/GateLite/internal/ratelimit"
)

// Event is one admission decision.
//
// Key is the partition key. Storing it per key can explode cardinality, so
// recorders only keep per-key counts when asked to.
type Event struct {
	Policy  string
	Key     string
	Outcome ratelimit.Outcome
	Method  string
	Path    string
	At      time.Time
}

type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }
