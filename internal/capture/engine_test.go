package capture

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/screenlink/internal/relay"
)

// fakeSource yields total frames spaced step apart, then io.EOF.
// With block set it waits for Close after the last frame instead.
type fakeSource struct {
	w, h  int
	total int
	step  time.Duration
	block bool

	mu     sync.Mutex
	n      int
	now    time.Time
	closed chan struct{}
	once   sync.Once
}

func newFakeSource(total int, step time.Duration) *fakeSource {
	return &fakeSource{
		w: 4, h: 2,
		total:  total,
		step:   step,
		now:    time.Unix(1000, 0),
		closed: make(chan struct{}),
	}
}

func (s *fakeSource) Size() (int, int) { return s.w, s.h }

func (s *fakeSource) next() (time.Time, error) {
	s.mu.Lock()
	if s.n >= s.total {
		s.mu.Unlock()
		if s.block {
			<-s.closed
			return time.Time{}, errors.New("closed")
		}
		return time.Time{}, io.EOF
	}
	s.n++
	t := s.now
	s.now = s.now.Add(s.step)
	s.mu.Unlock()
	return t, nil
}

func (s *fakeSource) ReadFrame(buf []byte) (time.Time, error) {
	t, err := s.next()
	if err == nil {
		buf[0] = byte(s.n)
	}
	return t, err
}

func (s *fakeSource) Discard() (time.Time, error) { return s.next() }

func (s *fakeSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func TestEngine_RateGate(t *testing.T) {
	// One second of 125 fps input against a 25 fps target.
	src := newFakeSource(125, 8*time.Millisecond)
	pool := PoolFor(relay.MaxCapacity, src.w, src.h)
	r := relay.New(relay.MaxCapacity, relay.WithRelease(pool.Release))

	e := NewEngine(src, r, pool, 25)
	err := e.Run(context.Background())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("Expected ErrSourceUnavailable at end of stream, got %v", err)
	}

	stats := e.Stats()
	if stats.Captured != 125 {
		t.Errorf("Expected 125 captured frames, got %d", stats.Captured)
	}
	if stats.Forwarded != 25 {
		t.Errorf("Expected 25 forwarded frames for one second at 25fps, got %d", stats.Forwarded)
	}
	if stats.Forwarded+stats.RateSkipped != stats.Captured {
		t.Errorf("forwarded (%d) + skipped (%d) != captured (%d)", stats.Forwarded, stats.RateSkipped, stats.Captured)
	}
	if stats.MissingBuffer != 0 {
		t.Errorf("Expected no missing buffers, got %d", stats.MissingBuffer)
	}

	var prev time.Time
	for {
		f, ok := r.Pop()
		if !ok {
			break
		}
		if !prev.IsZero() {
			if gap := f.CapturedAt.Sub(prev); gap < 40*time.Millisecond {
				t.Errorf("Frame %d forwarded %v after the previous one, want >= 40ms", f.Seq, gap)
			}
		}
		prev = f.CapturedAt
		pool.Release(f)
	}
}

func TestEngine_RateGateNoBurst(t *testing.T) {
	tests := []struct {
		name  string
		total int
		step  time.Duration
		fps   int
		want  uint64
	}{
		{"back to back at start", 3, time.Millisecond, 10, 1},
		{"just under the interval", 4, 99 * time.Millisecond, 10, 2},
		{"exactly the interval", 4, 100 * time.Millisecond, 10, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource(tt.total, tt.step)
			pool := PoolFor(relay.MaxCapacity, src.w, src.h)
			r := relay.New(relay.MaxCapacity, relay.WithRelease(pool.Release))

			e := NewEngine(src, r, pool, tt.fps)
			_ = e.Run(context.Background())

			if got := e.Stats().Forwarded; got != tt.want {
				t.Errorf("Forwarded = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEngine_SequenceStrictlyIncreasing(t *testing.T) {
	src := newFakeSource(40, 50*time.Millisecond)
	pool := PoolFor(relay.MaxCapacity, src.w, src.h)
	r := relay.New(relay.MaxCapacity, relay.WithRelease(pool.Release))

	e := NewEngine(src, r, pool, 30)
	_ = e.Run(context.Background())

	var last uint64
	popped := 0
	for {
		f, ok := r.Pop()
		if !ok {
			break
		}
		if f.Seq <= last {
			t.Fatalf("Seq %d after %d", f.Seq, last)
		}
		if f.Width != 4 || f.Height != 2 {
			t.Errorf("Frame size %dx%d, want 4x2", f.Width, f.Height)
		}
		last = f.Seq
		popped++
		pool.Release(f)
	}
	if popped == 0 {
		t.Fatal("Expected frames in the relay")
	}
	if last != e.Stats().LastSeq {
		t.Errorf("Last popped seq %d, engine reports %d", last, e.Stats().LastSeq)
	}
}

func TestEngine_MissingBuffer(t *testing.T) {
	src := newFakeSource(10, 100*time.Millisecond)
	// One buffer that the relay never gives back.
	pool := NewPool(1, relay.FrameSize(src.w, src.h))
	r := relay.New(relay.MaxCapacity)

	e := NewEngine(src, r, pool, 30)
	_ = e.Run(context.Background())

	stats := e.Stats()
	if stats.Forwarded != 1 {
		t.Errorf("Expected 1 forwarded frame, got %d", stats.Forwarded)
	}
	if stats.MissingBuffer != 9 {
		t.Errorf("Expected 9 missing-buffer drops, got %d", stats.MissingBuffer)
	}
	if stats.Captured != 10 {
		t.Errorf("Expected 10 captured frames, got %d", stats.Captured)
	}
}

func TestEngine_StopOnCancel(t *testing.T) {
	src := newFakeSource(3, 100*time.Millisecond)
	src.block = true
	pool := PoolFor(relay.MinCapacity, src.w, src.h)
	r := relay.New(relay.MinCapacity, relay.WithRelease(pool.Release))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	e := NewEngine(src, r, pool, 30)
	go func() { done <- e.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for e.Stats().Captured < 3 {
		select {
		case <-deadline:
			t.Fatal("Engine did not read the initial frames")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil on cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	select {
	case <-src.closed:
	default:
		t.Error("Expected the source to be closed on cancellation")
	}
}

func TestPool(t *testing.T) {
	p := NewPool(2, 8)
	a, ok := p.Get()
	if !ok || len(a) != 8 {
		t.Fatalf("Get() = %d bytes, %v", len(a), ok)
	}
	if _, ok := p.Get(); !ok {
		t.Fatal("Expected a second buffer")
	}
	if _, ok := p.Get(); ok {
		t.Fatal("Expected a miss on an exhausted pool")
	}

	p.Release(&relay.Frame{Pixels: a})
	if p.Free() != 1 {
		t.Errorf("Expected 1 free buffer after release, got %d", p.Free())
	}
	p.Put(make([]byte, 4))
	if p.Free() != 1 {
		t.Errorf("Undersized buffer must be dropped, free=%d", p.Free())
	}
}
