package degrade

import "fmt"

// Level is a rung on the degradation ladder. Levels are totally ordered.
type Level int

// Degradation levels, from full quality to the most aggressive reduction.
const (
	Normal Level = iota
	Level1FrameDrop
	Level2Downscale
	Level3AggressiveDownscale
)

// MaxLevel is the highest rung.
const MaxLevel = Level3AggressiveDownscale

func (l Level) String() string {
	switch l {
	case Normal:
		return "normal"
	case Level1FrameDrop:
		return "level1_frame_drop"
	case Level2Downscale:
		return "level2_downscale"
	case Level3AggressiveDownscale:
		return "level3_aggressive_downscale"
	default:
		return "unknown"
	}
}

// Valid reports whether l is a defined level.
func (l Level) Valid() bool {
	return l >= Normal && l <= MaxLevel
}

// MarshalText encodes the level by name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name produced by MarshalText.
func (l *Level) UnmarshalText(b []byte) error {
	for lv := Normal; lv <= MaxLevel; lv++ {
		if lv.String() == string(b) {
			*l = lv
			return nil
		}
	}
	return fmt.Errorf("unknown degradation level %q", b)
}
