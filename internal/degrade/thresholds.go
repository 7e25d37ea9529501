package degrade

import (
	"errors"
	"fmt"
)

// Threshold is an (average, peak) occupancy pair.
type Threshold struct {
	AvgDepth  float64 `toml:"avg" json:"avg"`
	PeakDepth int     `toml:"peak" json:"peak"`
}

// reachedBy reports whether pressure meets an entry threshold.
// Either a sustained average or a peak is enough to climb.
func (t Threshold) reachedBy(p Pressure) bool {
	return p.AvgDepth >= t.AvgDepth || p.PeakDepth >= t.PeakDepth
}

// calmBy reports whether pressure is at or under a recovery threshold.
// Both the average and the peak must have settled to step down.
func (t Threshold) calmBy(p Pressure) bool {
	return p.AvgDepth <= t.AvgDepth && p.PeakDepth <= t.PeakDepth
}

// Thresholds holds the entry and recovery pairs for Level1..Level3.
// Index 0 is Level1.
type Thresholds struct {
	Enter   [3]Threshold `toml:"enter" json:"enter"`
	Recover [3]Threshold `toml:"recover" json:"recover"`
}

// ErrInvalidThresholds is returned by Validate.
var ErrInvalidThresholds = errors.New("invalid degradation thresholds")

// UniformRecovery returns thresholds with one recovery pair shared by every level.
func UniformRecovery(enter [3]Threshold, recovery Threshold) Thresholds {
	return Thresholds{
		Enter:   enter,
		Recover: [3]Threshold{recovery, recovery, recovery},
	}
}

// DefaultThresholds returns thresholds tuned for a relay of the given capacity.
func DefaultThresholds(capacity int) Thresholds {
	c := float64(capacity)
	return UniformRecovery([3]Threshold{
		{AvgDepth: c * 0.34, PeakDepth: capacity * 2 / 3},
		{AvgDepth: c * 0.5, PeakDepth: capacity},
		{AvgDepth: c * 0.75, PeakDepth: capacity},
	}, Threshold{AvgDepth: c * 0.15, PeakDepth: capacity / 3})
}

// Validate checks ordering: entry thresholds are non-decreasing across levels
// and each recovery pair is strictly below the entry pair of its level.
func (t Thresholds) Validate() error {
	for i := 1; i < len(t.Enter); i++ {
		prev, cur := t.Enter[i-1], t.Enter[i]
		if cur.AvgDepth < prev.AvgDepth || cur.PeakDepth < prev.PeakDepth {
			return fmt.Errorf("%w: level %d entry (avg=%.2f peak=%d) below level %d entry (avg=%.2f peak=%d)",
				ErrInvalidThresholds, i+1, cur.AvgDepth, cur.PeakDepth, i, prev.AvgDepth, prev.PeakDepth)
		}
	}
	for i := range t.Enter {
		enter, rec := t.Enter[i], t.Recover[i]
		if rec.AvgDepth >= enter.AvgDepth || rec.PeakDepth >= enter.PeakDepth {
			return fmt.Errorf("%w: level %d recovery (avg=%.2f peak=%d) must be strictly below entry (avg=%.2f peak=%d)",
				ErrInvalidThresholds, i+1, rec.AvgDepth, rec.PeakDepth, enter.AvgDepth, enter.PeakDepth)
		}
		if rec.AvgDepth < 0 || rec.PeakDepth < 0 {
			return fmt.Errorf("%w: level %d recovery must not be negative", ErrInvalidThresholds, i+1)
		}
	}
	return nil
}

// enterFor returns the entry threshold for climbing into level l (l >= Level1).
func (t Thresholds) enterFor(l Level) Threshold {
	return t.Enter[l-1]
}

// recoverFrom returns the recovery threshold for leaving level l (l >= Level1).
func (t Thresholds) recoverFrom(l Level) Threshold {
	return t.Recover[l-1]
}
