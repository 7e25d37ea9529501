package degrade

// DefaultWindowSize is the number of occupancy samples kept by a PressureWindow.
const DefaultWindowSize = 16

// Pressure summarizes relay occupancy over the current window.
type Pressure struct {
	AvgDepth  float64 `json:"avg_depth"`
	PeakDepth int     `json:"peak_depth"`

	// Session-lifetime maxima of the two values above.
	MaxAvgDepth  float64 `json:"max_avg_depth"`
	MaxPeakDepth int     `json:"max_peak_depth"`

	Samples int `json:"samples"`
}

// PressureWindow is a moving window of relay occupancy samples.
// It is owned by the sender worker and is not safe for concurrent use.
type PressureWindow struct {
	samples []int
	next    int
	count   int
	sum     int

	maxAvg  float64
	maxPeak int
}

// NewPressureWindow creates a window holding the last size samples.
func NewPressureWindow(size int) *PressureWindow {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &PressureWindow{samples: make([]int, size)}
}

// Observe records one occupancy sample.
func (w *PressureWindow) Observe(depth int) {
	if depth < 0 {
		depth = 0
	}
	if w.count == len(w.samples) {
		w.sum -= w.samples[w.next]
	} else {
		w.count++
	}
	w.samples[w.next] = depth
	w.sum += depth
	w.next = (w.next + 1) % len(w.samples)

	avg, peak := w.current()
	if avg > w.maxAvg {
		w.maxAvg = avg
	}
	if peak > w.maxPeak {
		w.maxPeak = peak
	}
}

func (w *PressureWindow) current() (float64, int) {
	if w.count == 0 {
		return 0, 0
	}
	peak := 0
	for i := 0; i < w.count; i++ {
		if w.samples[i] > peak {
			peak = w.samples[i]
		}
	}
	return float64(w.sum) / float64(w.count), peak
}

// Snapshot returns the current window summary.
func (w *PressureWindow) Snapshot() Pressure {
	avg, peak := w.current()
	return Pressure{
		AvgDepth:     avg,
		PeakDepth:    peak,
		MaxAvgDepth:  w.maxAvg,
		MaxPeakDepth: w.maxPeak,
		Samples:      w.count,
	}
}

// Reset clears samples and lifetime maxima.
func (w *PressureWindow) Reset() {
	clear(w.samples)
	w.next, w.count, w.sum = 0, 0, 0
	w.maxAvg, w.maxPeak = 0, 0
}
