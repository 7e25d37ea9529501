package degrade

import (
	"errors"
	"testing"
)

func scenarioThresholds() Thresholds {
	return UniformRecovery([3]Threshold{
		{AvgDepth: 2, PeakDepth: 4},
		{AvgDepth: 4, PeakDepth: 6},
		{AvgDepth: 6, PeakDepth: 7},
	}, Threshold{AvgDepth: 1, PeakDepth: 2})
}

func TestThresholds_Validate(t *testing.T) {
	tests := []struct {
		name    string
		th      Thresholds
		wantErr bool
	}{
		{"scenario", scenarioThresholds(), false},
		{"defaults", DefaultThresholds(8), false},
		{"small relay defaults", DefaultThresholds(2), false},
		{
			name: "decreasing entry",
			th: UniformRecovery([3]Threshold{
				{AvgDepth: 4, PeakDepth: 6},
				{AvgDepth: 2, PeakDepth: 4},
				{AvgDepth: 6, PeakDepth: 7},
			}, Threshold{AvgDepth: 1, PeakDepth: 2}),
			wantErr: true,
		},
		{
			name: "recovery equals entry",
			th: UniformRecovery([3]Threshold{
				{AvgDepth: 2, PeakDepth: 4},
				{AvgDepth: 4, PeakDepth: 6},
				{AvgDepth: 6, PeakDepth: 7},
			}, Threshold{AvgDepth: 2, PeakDepth: 2}),
			wantErr: true,
		},
		{
			name: "recovery peak above entry",
			th: UniformRecovery([3]Threshold{
				{AvgDepth: 2, PeakDepth: 4},
				{AvgDepth: 4, PeakDepth: 6},
				{AvgDepth: 6, PeakDepth: 7},
			}, Threshold{AvgDepth: 1, PeakDepth: 5}),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.th.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidThresholds) {
					t.Errorf("Expected ErrInvalidThresholds, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestNewController_RejectsInvalid(t *testing.T) {
	th := scenarioThresholds()
	th.Recover[0] = Threshold{AvgDepth: 3, PeakDepth: 1}
	if _, err := NewController(th); err == nil {
		t.Fatal("Expected error for recovery above entry")
	}
}

// Relay capacity 6: a trace rising to avg=5 reaches Level2 through Level1, and a
// calm trace walks back down through Level1 to Normal.
func TestController_Scenario(t *testing.T) {
	c, err := NewController(scenarioThresholds())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	rising := []Pressure{
		{AvgDepth: 0.5, PeakDepth: 1},
		{AvgDepth: 1.5, PeakDepth: 3},
		{AvgDepth: 3, PeakDepth: 5},
		{AvgDepth: 5, PeakDepth: 6},
		{AvgDepth: 5, PeakDepth: 6},
		{AvgDepth: 5, PeakDepth: 6},
	}
	var visited []Level
	for _, p := range rising {
		c.Evaluate(p)
		visited = append(visited, c.Level())
	}
	if c.Level() != Level2Downscale {
		t.Fatalf("Expected Level2 after rising trace, got %s (visited %v)", c.Level(), visited)
	}

	for range 6 {
		c.Evaluate(Pressure{AvgDepth: 0, PeakDepth: 0})
		visited = append(visited, c.Level())
	}
	if c.Level() != Normal {
		t.Fatalf("Expected Normal after calm trace, got %s (visited %v)", c.Level(), visited)
	}

	assertSingleSteps(t, visited)

	sawLevel1Down := false
	for i := 1; i < len(visited); i++ {
		if visited[i-1] == Level2Downscale && visited[i] == Level1FrameDrop {
			sawLevel1Down = true
		}
	}
	if !sawLevel1Down {
		t.Errorf("Expected recovery to pass through Level1, visited %v", visited)
	}
}

func TestController_SpikeClimbsOneLevelPerTick(t *testing.T) {
	c, err := NewController(scenarioThresholds())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	spike := Pressure{AvgDepth: 6, PeakDepth: 7}
	want := []Level{Level1FrameDrop, Level2Downscale, Level3AggressiveDownscale, Level3AggressiveDownscale}
	for i, w := range want {
		tr, changed := c.Evaluate(spike)
		if c.Level() != w {
			t.Fatalf("tick %d: level %s, want %s", i, c.Level(), w)
		}
		if changed && tr.To-tr.From != 1 {
			t.Errorf("tick %d: transition %s -> %s skips a level", i, tr.From, tr.To)
		}
		if i == len(want)-1 && changed {
			t.Errorf("Expected no transition above MaxLevel")
		}
	}
	if c.Transitions() != 3 {
		t.Errorf("Expected 3 transitions, got %d", c.Transitions())
	}
}

func TestController_Hysteresis(t *testing.T) {
	c, err := NewController(scenarioThresholds())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	// Enter Level1 by peak alone.
	if _, changed := c.Evaluate(Pressure{AvgDepth: 0.5, PeakDepth: 4}); !changed || c.Level() != Level1FrameDrop {
		t.Fatalf("Expected Level1 on peak entry, got %s", c.Level())
	}

	// Between recovery and entry: hold.
	between := Pressure{AvgDepth: 1.5, PeakDepth: 3}
	for range 5 {
		if _, changed := c.Evaluate(between); changed {
			t.Fatalf("Level changed inside the hysteresis band: %s", c.Level())
		}
	}

	// Average settled but peak still high: recovery needs both.
	if _, changed := c.Evaluate(Pressure{AvgDepth: 0.5, PeakDepth: 3}); changed {
		t.Fatalf("Recovered with peak above recovery threshold")
	}

	if _, changed := c.Evaluate(Pressure{AvgDepth: 1, PeakDepth: 2}); !changed || c.Level() != Normal {
		t.Fatalf("Expected Normal at recovery threshold, got %s", c.Level())
	}

	// Revisiting the band after recovery must not re-enter Level1.
	for range 5 {
		if _, changed := c.Evaluate(between); changed {
			t.Fatalf("Re-entered %s without crossing the entry threshold", c.Level())
		}
	}
}

func TestController_RandomTraceNeverSkips(t *testing.T) {
	c, err := NewController(scenarioThresholds())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	// Deterministic pseudo-random trace over [0, 6].
	seed := uint32(7)
	visited := []Level{c.Level()}
	for range 2000 {
		seed = seed*1664525 + 1013904223
		peak := int(seed>>16) % 7
		avg := float64(int(seed>>8)%(peak*10+1)) / 10
		c.Evaluate(Pressure{AvgDepth: avg, PeakDepth: peak})
		visited = append(visited, c.Level())
	}
	assertSingleSteps(t, visited)
}

func assertSingleSteps(t *testing.T, visited []Level) {
	t.Helper()
	for i := 1; i < len(visited); i++ {
		d := visited[i] - visited[i-1]
		if d > 1 || d < -1 {
			t.Fatalf("Level jumped from %s to %s at tick %d", visited[i-1], visited[i], i)
		}
	}
}

func TestController_WithPressureWindow(t *testing.T) {
	c, err := NewController(scenarioThresholds())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	w := NewPressureWindow(4)

	for range 8 {
		w.Observe(5)
		c.Evaluate(w.Snapshot())
	}
	if c.Level() != Level2Downscale {
		t.Fatalf("Expected Level2 with depth 5, got %s", c.Level())
	}

	for range 12 {
		w.Observe(0)
		c.Evaluate(w.Snapshot())
	}
	if c.Level() != Normal {
		t.Fatalf("Expected Normal after the window emptied, got %s", c.Level())
	}
}

func TestLevel_TextRoundTrip(t *testing.T) {
	for l := Normal; l <= MaxLevel; l++ {
		b, err := l.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var got Level
		if err := got.UnmarshalText(b); err != nil || got != l {
			t.Errorf("UnmarshalText(%q) = %v, %v", b, got, err)
		}
	}
	var l Level
	if err := l.UnmarshalText([]byte("level9")); err == nil {
		t.Error("Expected an error for an unknown level")
	}
}
