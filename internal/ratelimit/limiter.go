package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPolicy is wrapped by every policy validation failure.
var ErrInvalidPolicy = errors.New("invalid rate limit policy")

type Algorithm int

const (
	FixedWindow Algorithm = iota
	SlidingWindow
)

func (a Algorithm) String() string {
	switch a {
	case FixedWindow:
		return "fixed_window"
	case SlidingWindow:
		return "sliding_window"
	default:
		return "unknown"
	}
}

// ParseAlgorithm maps a config name to an Algorithm. Empty means fixed window.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "", "fixed", "fixed_window":
		return FixedWindow, nil
	case "sliding", "sliding_window":
		return SlidingWindow, nil
	default:
		return 0, fmt.Errorf("unknown algorithm %q: %w", s, ErrInvalidPolicy)
	}
}

// Policy is an immutable set of limits shared by every partition it applies to.
type Policy struct {
	Name        string
	Algorithm   Algorithm
	PermitLimit int           // permits per window
	Window      time.Duration // window length
	QueueLimit  int           // reservations accepted once the window is full
	Segments    int           // sliding window only
}

// Validate reports the first invalid field, wrapping ErrInvalidPolicy.
func (p Policy) Validate() error {
	switch {
	case p.Name == "":
		return fmt.Errorf("policy name is empty: %w", ErrInvalidPolicy)
	case p.PermitLimit < 0:
		return fmt.Errorf("policy %q: permit limit %d < 0: %w", p.Name, p.PermitLimit, ErrInvalidPolicy)
	case p.Window <= 0:
		return fmt.Errorf("policy %q: window %s <= 0: %w", p.Name, p.Window, ErrInvalidPolicy)
	case p.QueueLimit < 0:
		return fmt.Errorf("policy %q: queue limit %d < 0: %w", p.Name, p.QueueLimit, ErrInvalidPolicy)
	case p.Algorithm != FixedWindow && p.Algorithm != SlidingWindow:
		return fmt.Errorf("policy %q: unknown algorithm %d: %w", p.Name, int(p.Algorithm), ErrInvalidPolicy)
	case p.Algorithm == SlidingWindow && p.Segments < 1:
		return fmt.Errorf("policy %q: segments %d < 1: %w", p.Name, p.Segments, ErrInvalidPolicy)
	case p.Algorithm == SlidingWindow && p.Window/time.Duration(p.Segments) <= 0:
		return fmt.Errorf("policy %q: window %s too short for %d segments: %w", p.Name, p.Window, p.Segments, ErrInvalidPolicy)
	}
	return nil
}

type Outcome int

const (
	Acquired Outcome = iota
	Queued
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case Queued:
		return "queued"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Lease is the result of one admission check.
type Lease struct {
	Outcome   Outcome
	Remaining int           // permits left in the window (Acquired)
	Wait      time.Duration // estimated wait (Queued) or retry-after (Rejected)
	Position  int           // 0-based FIFO position among queued reservations (Queued)
}

func AcquiredLease(remaining int) Lease {
	return Lease{Outcome: Acquired, Remaining: remaining}
}

func QueuedLease(wait time.Duration, position int) Lease {
	return Lease{Outcome: Queued, Wait: nonNegative(wait), Position: position}
}

func RejectedLease(retryAfter time.Duration) Lease {
	return Lease{Outcome: Rejected, Wait: nonNegative(retryAfter)}
}

func (l Lease) Admitted() bool { return l.Outcome == Acquired }

// Counter holds the admission state of one partition. Implementations are not
// safe for concurrent use; the partition table serializes access.
type Counter interface {
	TryAcquire(now time.Time) Lease
	// Cancel gives back one queued reservation whose request will not wait
	// for it. It reports false when nothing is queued.
	Cancel() bool
}

// NewCounter builds the counter for p, starting at now. p must be valid.
func NewCounter(p Policy, now time.Time) Counter {
	if p.Algorithm == SlidingWindow && p.Segments > 1 {
		return newSlidingWindow(p, now)
	}
	return newFixedWindow(p, now)
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
