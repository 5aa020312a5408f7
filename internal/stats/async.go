package stats

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrDropped is returned when the buffer is full or the recorder is closed.
var ErrDropped = errors.New("stats event dropped")

// Async hands events to a background goroutine so slow backends never add
// latency to requests. Events that do not fit in the buffer are dropped.
type Async struct {
	next    Recorder
	timeout time.Duration
	log     zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	ch      chan Event
	done    chan struct{}
	dropped atomic.Int64
}

func NewAsync(next Recorder, buffer int, timeout time.Duration, log zerolog.Logger) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	a := &Async{
		next:    next,
		timeout: timeout,
		log:     log,
		ch:      make(chan Event, buffer),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Record(_ context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return ErrDropped
	}
	select {
	case a.ch <- ev:
		return nil
	default:
		a.dropped.Add(1)
		return ErrDropped
	}
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.ch {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Record(ctx, ev); err != nil {
			a.log.Warn().Err(err).Str("policy", ev.Policy).Msg("stats record failed")
		}
		cancel()
	}
}

// Close stops accepting events and waits for the buffered ones to be written.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()
	<-a.done
}

func (a *Async) Dropped() int64 { return a.dropped.Load() }
