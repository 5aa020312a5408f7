package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/AlexKimmel/GateLite/internal/ratelimit"
)

type blockingRecorder struct {
	release chan struct{}
	inner   *Memory
}

func (b *blockingRecorder) Record(ctx context.Context, ev Event) error {
	<-b.release
	return b.inner.Record(ctx, ev)
}

func TestAsync_FlushesOnClose(t *testing.T) {
	mem := NewMemory()
	a := NewAsync(mem, 16, time.Second, zerolog.Nop())

	for _i := 0; _i < 10; _i++ {
		if err := a.Record(context.Background(), Event{Policy: "api", Outcome: ratelimit.Acquired}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	a.Close()

	if got := mem.Total().Acquired; got != 10 {
		t.Fatalf("expected 10 events written, got %d", got)
	}
	if err := a.Record(context.Background(), Event{}); !errors.Is(err, ErrDropped) {
		t.Fatalf("expected ErrDropped after close, got %v", err)
	}
}

func TestAsync_DropsWhenFull(t *testing.T) {
	b := &blockingRecorder{release: make(chan struct{}), inner: NewMemory()}
	a := NewAsync(b, 1, time.Second, zerolog.Nop())

	var dropped int
	for _i := 0; _i < 10; _i++ {
		if err := a.Record(context.Background(), Event{Outcome: ratelimit.Rejected}); errors.Is(err, ErrDropped) {
			dropped++
		}
	}
	close(b.release)
	a.Close()

	// at most one event in flight plus one buffered
	if dropped < 8 {
		t.Fatalf("expected at least 8 dropped, got %d", dropped)
	}
	if int64(dropped) != a.Dropped() {
		t.Fatalf("expected Dropped() == %d, got %d", dropped, a.Dropped())
	}
	if got := b.inner.Total().Rejected; got+int64(dropped) != 10 {
		t.Fatalf("expected written + dropped == 10, got %d + %d", got, dropped)
	}
}
