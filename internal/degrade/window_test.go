package degrade

import "testing"

func TestPressureWindow(t *testing.T) {
	w := NewPressureWindow(4)

	if p := w.Snapshot(); p.Samples != 0 || p.AvgDepth != 0 || p.PeakDepth != 0 {
		t.Fatalf("Expected empty snapshot, got %+v", p)
	}

	for _, d := range []int{2, 4, 6, 0} {
		w.Observe(d)
	}
	p := w.Snapshot()
	if p.AvgDepth != 3 {
		t.Errorf("Expected avg 3, got %v", p.AvgDepth)
	}
	if p.PeakDepth != 6 {
		t.Errorf("Expected peak 6, got %d", p.PeakDepth)
	}

	// Slide the window past the peak.
	for range 4 {
		w.Observe(1)
	}
	p = w.Snapshot()
	if p.AvgDepth != 1 || p.PeakDepth != 1 {
		t.Errorf("Expected avg 1 peak 1 after slide, got avg %v peak %d", p.AvgDepth, p.PeakDepth)
	}
	if p.MaxPeakDepth != 6 {
		t.Errorf("Expected lifetime peak 6, got %d", p.MaxPeakDepth)
	}
	if p.MaxAvgDepth != 3 {
		t.Errorf("Expected lifetime avg max 3, got %v", p.MaxAvgDepth)
	}
	if p.Samples != 4 {
		t.Errorf("Expected 4 samples, got %d", p.Samples)
	}

	w.Reset()
	if p := w.Snapshot(); p.Samples != 0 || p.MaxPeakDepth != 0 {
		t.Errorf("Expected reset window, got %+v", p)
	}
}

func TestPressureWindow_NegativeClamped(t *testing.T) {
	w := NewPressureWindow(2)
	w.Observe(-3)
	if p := w.Snapshot(); p.AvgDepth != 0 {
		t.Errorf("Expected negative depth clamped to 0, got %v", p.AvgDepth)
	}
}
