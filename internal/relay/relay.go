package relay

import (
	"runtime"
	"sync/atomic"
)

// Capacity bounds.
const (
	DefaultCapacity = 8
	MinCapacity     = 2
	MaxCapacity     = 64
)

// Stats is a point-in-time view of relay counters.
type Stats struct {
	Capacity    int    `json:"capacity"`
	Depth       int    `json:"depth"`
	Pushed      uint64 `json:"pushed"`
	Consumed    uint64 `json:"consumed"`
	DroppedFull uint64 `json:"dropped_full"`
}

// Option configures a Relay.
type Option func(*Relay)

// WithRelease sets a callback that receives frames evicted on overflow or
// discarded by Drain, so their buffers can be recycled.
func WithRelease(release func(*Frame)) Option {
	return func(r *Relay) {
		r.release = release
	}
}

// Relay is a bounded SPSC ring buffer with a drop-oldest overflow policy.
//
// head is written only by the producer. tail is advanced with CAS by the
// consumer and, on overflow, by the producer evicting the oldest slot.
type Relay struct {
	slots    []atomic.Pointer[Frame]
	capacity uint64

	head atomic.Uint64
	tail atomic.Uint64

	ready   chan struct{}
	release func(*Frame)

	pushed      atomic.Uint64
	consumed    atomic.Uint64
	droppedFull atomic.Uint64
}

// New creates a relay with the given slot count, clamped to [MinCapacity, MaxCapacity].
// A non-positive capacity selects DefaultCapacity.
func New(capacity int, opts ...Option) *Relay {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	capacity = max(MinCapacity, min(capacity, MaxCapacity))

	r := &Relay{
		slots:    make([]atomic.Pointer[Frame], capacity),
		capacity: uint64(capacity),
		ready:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Push hands a frame to the consumer. It never blocks on the consumer.
// Returns true when an older frame had to be evicted to make room.
func (r *Relay) Push(f *Frame) bool {
	evicted := false
	for {
		h := r.head.Load()
		t := r.tail.Load()

		if h-t >= r.capacity {
			if r.tail.CompareAndSwap(t, t+1) {
				if old := r.slots[t%r.capacity].Swap(nil); old != nil {
					r.droppedFull.Add(1)
					evicted = true
					if r.release != nil {
						r.release(old)
					}
				}
			}
			continue
		}

		// The consumer may have claimed this slot but not yet emptied it.
		slot := &r.slots[h%r.capacity]
		for !slot.CompareAndSwap(nil, f) {
			runtime.Gosched()
		}
		r.head.Store(h + 1)
		r.pushed.Add(1)
		break
	}

	select {
	case r.ready <- struct{}{}:
	default:
	}
	return evicted
}

// Pop removes the oldest frame. Ownership moves to the caller.
func (r *Relay) Pop() (*Frame, bool) {
	for {
		t := r.tail.Load()
		h := r.head.Load()
		if t >= h {
			return nil, false
		}
		if !r.tail.CompareAndSwap(t, t+1) {
			continue
		}
		f := r.slots[t%r.capacity].Swap(nil)
		if f == nil {
			continue
		}
		r.consumed.Add(1)
		return f, true
	}
}

// Ready is signalled after every Push. A single pending signal may cover
// several frames, so consumers should Pop until empty.
func (r *Relay) Ready() <-chan struct{} {
	return r.ready
}

// Len returns the current occupancy.
func (r *Relay) Len() int {
	h := r.head.Load()
	t := r.tail.Load()
	if t >= h {
		return 0
	}
	return int(min(h-t, r.capacity))
}

// Cap returns the slot count.
func (r *Relay) Cap() int {
	return int(r.capacity)
}

// Dropped returns the number of frames evicted because the ring was full.
func (r *Relay) Dropped() uint64 {
	return r.droppedFull.Load()
}

// Drain discards every queued frame and returns how many were discarded.
// Used on shutdown; discarded frames are not counted as overflow drops.
func (r *Relay) Drain() int {
	n := 0
	for {
		f, ok := r.Pop()
		if !ok {
			return n
		}
		n++
		if r.release != nil {
			r.release(f)
		}
	}
}

// Stats returns the current counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Capacity:    r.Cap(),
		Depth:       r.Len(),
		Pushed:      r.pushed.Load(),
		Consumed:    r.consumed.Load(),
		DroppedFull: r.droppedFull.Load(),
	}
}
