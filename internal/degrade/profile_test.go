package degrade

import "testing"

func TestProfile_Apply(t *testing.T) {
	base := Target{Width: 1920, Height: 1080, FPS: 30, BitrateKbps: 4000}
	p := DefaultProfile()

	tests := []struct {
		level   Level
		drop    bool
		div     int
		width   int
		height  int
		bitrate int
	}{
		{Normal, false, 1, 1920, 1080, 4000},
		{Level1FrameDrop, true, 1, 1920, 1080, 4000},
		{Level2Downscale, true, 2, 960, 540, 2400},
		{Level3AggressiveDownscale, true, 4, 480, 270, 1200},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			eff := p.Apply(base, tt.level)
			if eff.DropFrames != tt.drop {
				t.Errorf("DropFrames = %v, want %v", eff.DropFrames, tt.drop)
			}
			if eff.ScaleDiv != tt.div {
				t.Errorf("ScaleDiv = %d, want %d", eff.ScaleDiv, tt.div)
			}
			if eff.Width != tt.width || eff.Height != tt.height {
				t.Errorf("Size = %dx%d, want %dx%d", eff.Width, eff.Height, tt.width, tt.height)
			}
			if eff.BitrateKbps != tt.bitrate {
				t.Errorf("Bitrate = %d, want %d", eff.BitrateKbps, tt.bitrate)
			}
		})
	}
}

func TestProfile_BitrateFloorAndEvenSize(t *testing.T) {
	p := DefaultProfile()
	eff := p.Apply(Target{Width: 1366, Height: 766, BitrateKbps: 300}, Level3AggressiveDownscale)
	if eff.BitrateKbps != p.MinBitrateKbps {
		t.Errorf("Expected floor %d, got %d", p.MinBitrateKbps, eff.BitrateKbps)
	}
	if eff.Width%2 != 0 || eff.Height%2 != 0 {
		t.Errorf("Expected even size, got %dx%d", eff.Width, eff.Height)
	}
}

func TestProfile_Validate(t *testing.T) {
	if err := DefaultProfile().Validate(); err != nil {
		t.Fatalf("Default profile invalid: %v", err)
	}
	p := DefaultProfile()
	p.Level2Bitrate = Ratio{Num: 6, Den: 5}
	if err := p.Validate(); err == nil {
		t.Error("Expected error for ratio above 1")
	}
	p = DefaultProfile()
	p.DropEvery = 1
	if err := p.Validate(); err == nil {
		t.Error("Expected error for drop_every 1")
	}
}

func TestDecimator_HalvesFrames(t *testing.T) {
	d := NewDecimator(2)
	kept := 0
	for range 100 {
		if d.Keep() {
			kept++
		}
	}
	if kept != 50 {
		t.Errorf("Expected 50 kept frames, got %d", kept)
	}

	d.Reset()
	if !d.Keep() {
		t.Error("Expected first frame after reset to be kept")
	}
}
