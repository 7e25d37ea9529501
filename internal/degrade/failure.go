package degrade

import (
	"fmt"
	"time"
)

// DefaultFailureWindow is the stock rolling window length.
const DefaultFailureWindow = 12 * time.Second

// FailureKind classifies a counted failure.
type FailureKind int

const (
	EncodeError FailureKind = iota
	SendError
	OverflowDrop

	failureKinds
)

func (k FailureKind) String() string {
	switch k {
	case EncodeError:
		return "encode_errors"
	case SendError:
		return "send_errors"
	case OverflowDrop:
		return "overflow_drops"
	default:
		return "unknown"
	}
}

// Ceilings are absolute counts allowed within the window. Zero disables a kind.
type Ceilings struct {
	EncodeErrors int `toml:"encode_errors" json:"encode_errors"`
	SendErrors   int `toml:"send_errors" json:"send_errors"`
	Drops        int `toml:"drops" json:"drops"`
}

func (c Ceilings) of(k FailureKind) int {
	switch k {
	case EncodeError:
		return c.EncodeErrors
	case SendError:
		return c.SendErrors
	case OverflowDrop:
		return c.Drops
	}
	return 0
}

// DefaultCeilings returns the stock ceilings.
func DefaultCeilings() Ceilings {
	return Ceilings{EncodeErrors: 30, SendErrors: 200, Drops: 600}
}

// Exceeded describes a tripped ceiling.
type Exceeded struct {
	Kind    FailureKind
	Count   int
	Ceiling int
	Window  time.Duration
}

func (e Exceeded) String() string {
	return fmt.Sprintf("%s: %d in %s exceeds ceiling %d", e.Kind, e.Count, e.Window, e.Ceiling)
}

type failureEvent struct {
	at time.Time
	n  int
}

// FailureWindow counts failures per kind over a rolling window.
// It is owned by the sender worker and is not safe for concurrent use.
type FailureWindow struct {
	window   time.Duration
	ceilings Ceilings
	events   [failureKinds][]failureEvent
	counts   [failureKinds]int
}

// NewFailureWindow creates a window of the given length.
func NewFailureWindow(window time.Duration, ceilings Ceilings) *FailureWindow {
	if window <= 0 {
		window = DefaultFailureWindow
	}
	return &FailureWindow{window: window, ceilings: ceilings}
}

// Record adds n failures of kind k observed at now.
func (w *FailureWindow) Record(k FailureKind, n int, now time.Time) {
	if n <= 0 || k < 0 || k >= failureKinds {
		return
	}
	evs := w.events[k]
	// Coalesce bursts recorded at the same instant.
	if last := len(evs) - 1; last >= 0 && evs[last].at.Equal(now) {
		evs[last].n += n
	} else {
		w.events[k] = append(evs, failureEvent{at: now, n: n})
	}
	w.counts[k] += n
}

func (w *FailureWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	for k := range w.events {
		evs := w.events[k]
		i := 0
		for i < len(evs) && !evs[i].at.After(cutoff) {
			w.counts[k] -= evs[i].n
			i++
		}
		if i > 0 {
			w.events[k] = append(evs[:0], evs[i:]...)
		}
	}
}

// Count returns the failures of kind k inside the window ending at now.
func (w *FailureWindow) Count(k FailureKind, now time.Time) int {
	w.prune(now)
	return w.counts[k]
}

// Check returns the first kind whose count exceeds its ceiling.
func (w *FailureWindow) Check(now time.Time) (Exceeded, bool) {
	w.prune(now)
	for k := FailureKind(0); k < failureKinds; k++ {
		ceiling := w.ceilings.of(k)
		if ceiling > 0 && w.counts[k] > ceiling {
			return Exceeded{Kind: k, Count: w.counts[k], Ceiling: ceiling, Window: w.window}, true
		}
	}
	return Exceeded{}, false
}

// Reset forgets every recorded failure.
func (w *FailureWindow) Reset() {
	for k := range w.events {
		w.events[k] = w.events[k][:0]
		w.counts[k] = 0
	}
}
