package ratelimit

import "time"

// fixedWindow counts permits in a window that opens on the first request
// after the previous one expired.
type fixedWindow struct {
	limit      int
	queueLimit int
	window     time.Duration

	start  time.Time
	count  int
	queued int
}

func newFixedWindow(p Policy, now time.Time) *fixedWindow {
	return &fixedWindow{
		limit:      p.PermitLimit,
		queueLimit: p.QueueLimit,
		window:     p.Window,
		start:      now,
	}
}

func (w *fixedWindow) TryAcquire(now time.Time) Lease {
	// clock went backwards: stay in the current window
	if now.Before(w.start) {
		now = w.start
	}
	if elapsed := now.Sub(w.start); elapsed >= w.window {
		w.roll(now, elapsed)
	}

	left := w.start.Add(w.window).Sub(now)
	if w.limit == 0 {
		return RejectedLease(left)
	}
	if w.count < w.limit {
		w.count++
		return AcquiredLease(w.limit - w.count)
	}
	if w.queued < w.queueLimit {
		pos := w.queued
		w.queued++
		// each window opening serves up to limit reservations, oldest first
		wait := left + time.Duration(pos/w.limit)*w.window
		return QueuedLease(wait, pos)
	}
	return RejectedLease(left)
}

// Cancel drops the newest reservation. Reservations are anonymous, so this
// only moves later positions up.
func (w *fixedWindow) Cancel() bool {
	if w.queued == 0 {
		return false
	}
	w.queued--
	return true
}

// roll opens a new window at now. Reservations queued against the window that
// just opened are served first; if a whole window went by unused they were
// already due and are dropped.
func (w *fixedWindow) roll(now time.Time, elapsed time.Duration) {
	released := 0
	if elapsed < 2*w.window {
		released = min(w.queued, w.limit)
		w.queued -= released
	} else {
		w.queued = 0
	}
	w.start = now
	w.count = released
}
