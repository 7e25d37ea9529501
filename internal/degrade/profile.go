package degrade

import (
	"errors"
	"fmt"
)

// Ratio is a numerator/denominator scaling factor.
type Ratio struct {
	Num int `toml:"num" json:"num"`
	Den int `toml:"den" json:"den"`
}

// Apply scales v by the ratio. A zero or negative ratio leaves v unchanged.
func (r Ratio) Apply(v int) int {
	if r.Num <= 0 || r.Den <= 0 {
		return v
	}
	return int(int64(v) * int64(r.Num) / int64(r.Den))
}

// Profile describes what each level does to the outgoing stream.
type Profile struct {
	// DropEvery drops one frame out of every DropEvery frames from Level1 up.
	// 2 drops half of the frames.
	DropEvery int `toml:"drop_every" json:"drop_every"`

	// Level2Bitrate is applied to the base bitrate at Level2.
	Level2Bitrate Ratio `toml:"level2_bitrate" json:"level2_bitrate"`

	// Level3Bitrate is applied on top of Level2Bitrate at Level3.
	Level3Bitrate Ratio `toml:"level3_bitrate" json:"level3_bitrate"`

	// MinBitrateKbps is the floor for reduced bitrates.
	MinBitrateKbps int `toml:"min_bitrate_kbps" json:"min_bitrate_kbps"`
}

// DefaultProfile returns the stock per-level effects.
func DefaultProfile() Profile {
	return Profile{
		DropEvery:      2,
		Level2Bitrate:  Ratio{Num: 3, Den: 5},
		Level3Bitrate:  Ratio{Num: 1, Den: 2},
		MinBitrateKbps: 150,
	}
}

// ErrInvalidProfile is returned by Profile.Validate.
var ErrInvalidProfile = errors.New("invalid degradation profile")

// Validate rejects ratios that would raise the bitrate.
func (p Profile) Validate() error {
	if p.DropEvery < 2 {
		return fmt.Errorf("%w: drop_every must be at least 2, got %d", ErrInvalidProfile, p.DropEvery)
	}
	ratios := []struct {
		name string
		r    Ratio
	}{{"level2_bitrate", p.Level2Bitrate}, {"level3_bitrate", p.Level3Bitrate}}
	for _, x := range ratios {
		if x.r.Num <= 0 || x.r.Den <= 0 || x.r.Num > x.r.Den {
			return fmt.Errorf("%w: %s must satisfy 0 < num <= den, got %d/%d", ErrInvalidProfile, x.name, x.r.Num, x.r.Den)
		}
	}
	if p.MinBitrateKbps < 0 {
		return fmt.Errorf("%w: min_bitrate_kbps must not be negative", ErrInvalidProfile)
	}
	return nil
}

// Target is the operating point requested for a session.
type Target struct {
	Width       int `json:"width"`
	Height      int `json:"height"`
	FPS         int `json:"fps"`
	BitrateKbps int `json:"bitrate_kbps"`
}

// Effective is the operating point after a level has been applied.
type Effective struct {
	Level       Level `json:"level"`
	DropFrames  bool  `json:"drop_frames"`
	ScaleDiv    int   `json:"scale_div"`
	Width       int   `json:"width"`
	Height      int   `json:"height"`
	BitrateKbps int   `json:"bitrate_kbps"`
}

// Apply derives the effective operating point for level l from the base target.
// Width and height are rounded down to even values as required by 4:2:0 encoders.
func (p Profile) Apply(base Target, l Level) Effective {
	eff := Effective{
		Level:       l,
		ScaleDiv:    1,
		Width:       base.Width,
		Height:      base.Height,
		BitrateKbps: base.BitrateKbps,
	}
	if l >= Level1FrameDrop {
		eff.DropFrames = true
	}
	switch {
	case l >= Level3AggressiveDownscale:
		eff.ScaleDiv = 4
		eff.BitrateKbps = p.Level3Bitrate.Apply(p.Level2Bitrate.Apply(base.BitrateKbps))
	case l >= Level2Downscale:
		eff.ScaleDiv = 2
		eff.BitrateKbps = p.Level2Bitrate.Apply(base.BitrateKbps)
	}
	if eff.ScaleDiv > 1 {
		eff.Width = evenFloor(base.Width / eff.ScaleDiv)
		eff.Height = evenFloor(base.Height / eff.ScaleDiv)
	}
	if eff.BitrateKbps < base.BitrateKbps && eff.BitrateKbps < p.MinBitrateKbps {
		eff.BitrateKbps = min(p.MinBitrateKbps, base.BitrateKbps)
	}
	return eff
}

func evenFloor(v int) int {
	v &^= 1
	if v < 2 {
		return 2
	}
	return v
}

// Decimator drops a fixed share of frames while a frame-dropping level is active.
type Decimator struct {
	every int
	n     uint64
}

// NewDecimator drops one frame out of every `every` frames.
func NewDecimator(every int) *Decimator {
	if every < 2 {
		every = 2
	}
	return &Decimator{every: every}
}

// Keep reports whether the next frame should be encoded.
func (d *Decimator) Keep() bool {
	d.n++
	return d.n%uint64(d.every) != 0
}

// Reset restarts the drop pattern, so the first frame after a level change is kept.
func (d *Decimator) Reset() {
	d.n = 0
}
