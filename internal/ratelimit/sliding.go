package ratelimit

import "time"

// slidingWindow approximates a sliding window with a ring of per-segment
// counts. Segment i covers [origin+i*segLen, origin+(i+1)*segLen) and stays
// live until segment i+len(ring) begins.
type slidingWindow struct {
	limit      int
	queueLimit int
	segLen     time.Duration

	origin time.Time
	last   time.Time
	head   int64 // absolute index of the current segment
	ring   []int
	total  int
	queued int
}

func newSlidingWindow(p Policy, now time.Time) *slidingWindow {
	return &slidingWindow{
		limit:      p.PermitLimit,
		queueLimit: p.QueueLimit,
		segLen:     p.Window / time.Duration(p.Segments),
		origin:     now,
		last:       now,
		ring:       make([]int, p.Segments),
	}
}

func (s *slidingWindow) TryAcquire(now time.Time) Lease {
	if now.Before(s.last) {
		now = s.last
	}
	s.last = now
	s.advance(now)

	if s.limit == 0 {
		return RejectedLease(s.waitFor(1, now))
	}
	if s.total < s.limit {
		s.ring[s.slot(s.head)]++
		s.total++
		return AcquiredLease(s.limit - s.total)
	}
	if s.queued < s.queueLimit {
		pos := s.queued
		s.queued++
		return QueuedLease(s.waitFor(s.total+pos+1-s.limit, now), pos)
	}
	return RejectedLease(s.waitFor(s.total+s.queued+1-s.limit, now))
}

func (s *slidingWindow) Cancel() bool {
	if s.queued == 0 {
		return false
	}
	s.queued--
	return true
}

// advance moves the ring to the segment containing now, expiring segments that
// left the window. Capacity freed at a segment boundary goes to queued
// reservations first and is counted in that segment.
func (s *slidingWindow) advance(now time.Time) {
	idx := int64(now.Sub(s.origin) / s.segLen)
	if idx <= s.head {
		return
	}
	n := int64(len(s.ring))
	if idx-s.head > n {
		// a full window without traffic: every segment expired and every
		// queued reservation was due before now
		clear(s.ring)
		s.total = 0
		s.queued = 0
		s.head = idx
		return
	}
	for i := s.head + 1; i <= idx; i++ {
		slot := s.slot(i)
		s.total -= s.ring[slot]
		s.ring[slot] = 0
		if s.queued > 0 && s.total < s.limit {
			r := min(s.queued, s.limit-s.total)
			s.ring[slot] = r
			s.total += r
			s.queued -= r
		}
	}
	s.head = idx
}

// waitFor estimates how long until need permits are freed by expiring the
// oldest live segments.
func (s *slidingWindow) waitFor(need int, now time.Time) time.Duration {
	n := int64(len(s.ring))
	freed := 0
	for j := max(s.head-n+1, 0); j <= s.head; j++ {
		freed += s.ring[s.slot(j)]
		if freed >= need {
			return s.expiry(j, now)
		}
	}
	if s.limit == 0 {
		return s.expiry(s.head, now)
	}
	// the rest frees up only after reservations served later expire in turn
	windows := (need - freed + s.limit - 1) / s.limit
	return s.expiry(s.head, now) + time.Duration(windows)*time.Duration(n)*s.segLen
}

func (s *slidingWindow) expiry(j int64, now time.Time) time.Duration {
	return s.origin.Add(time.Duration(j+int64(len(s.ring))) * s.segLen).Sub(now)
}

func (s *slidingWindow) slot(i int64) int {
	return int(i % int64(len(s.ring)))
}
