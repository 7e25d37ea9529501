package encoder

import (
	"maps"

	"github.com/smazurov/screenlink/internal/ffmpeg"
)

// Family is one ffmpeg H.264 encoder together with the settings that keep
// its output within ProfileLevelID.
type Family struct {
	Name         string            `toml:"name" json:"name"`
	Encoder      string            `toml:"encoder" json:"encoder"`
	Description  string            `toml:"-" json:"description"`
	Hardware     bool              `toml:"-" json:"hardware"`
	GlobalArgs   []string          `toml:"-" json:"-"`
	VideoFilters string            `toml:"-" json:"-"`
	OutputParams map[string]string `toml:"-" json:"-"`
}

// Software is the x264 family used as the fallback backend.
var Software = Family{
	Name:        "software",
	Encoder:     "libx264",
	Description: "x264 software encoder",
	OutputParams: map[string]string{
		"x264-params": "repeat-headers=1",
	},
}

var hardwareFamilies = []Family{
	{
		Name:         "vaapi",
		Encoder:      "h264_vaapi",
		Description:  "VAAPI (Intel/AMD on Linux)",
		Hardware:     true,
		GlobalArgs:   []string{"-vaapi_device", "/dev/dri/renderD128"},
		VideoFilters: "format=nv12,hwupload",
		OutputParams: map[string]string{
			"profile:v": "constrained_baseline",
			"level":     "5.1",
			"rc_mode":   "CBR",
		},
	},
	{
		Name:         "nvenc",
		Encoder:      "h264_nvenc",
		Description:  "NVIDIA NVENC",
		Hardware:     true,
		VideoFilters: "format=nv12",
		OutputParams: map[string]string{
			"profile:v":   "baseline",
			"level":       "5.1",
			"preset":      "p1",
			"tune":        "ull",
			"rc":          "cbr",
			"zerolatency": "1",
			"delay":       "0",
			"forced-idr":  "1",
		},
	},
	{
		Name:         "qsv",
		Encoder:      "h264_qsv",
		Description:  "Intel Quick Sync Video",
		Hardware:     true,
		GlobalArgs:   []string{"-init_hw_device", "qsv=hw", "-filter_hw_device", "hw"},
		VideoFilters: "format=nv12,hwupload=extra_hw_frames=64",
		OutputParams: map[string]string{
			"profile:v":   "baseline",
			"level":       "5.1",
			"async_depth": "1",
			"forced_idr":  "1",
		},
	},
	{
		Name:         "rkmpp",
		Encoder:      "h264_rkmpp",
		Description:  "Rockchip MPP",
		Hardware:     true,
		VideoFilters: "format=nv12",
		OutputParams: map[string]string{
			"profile:v": "baseline",
			"level":     "5.1",
			"rc_mode":   "CBR",
		},
	},
	{
		Name:         "v4l2m2m",
		Encoder:      "h264_v4l2m2m",
		Description:  "V4L2 memory-to-memory (SoC encoders)",
		Hardware:     true,
		VideoFilters: "format=yuv420p",
		OutputParams: map[string]string{
			"profile:v": "baseline",
		},
	},
}

// HardwareFamilies returns the hardware families in preference order.
func HardwareFamilies() []Family {
	out := make([]Family, len(hardwareFamilies))
	copy(out, hardwareFamilies)
	return out
}

// FamilyByName looks up a hardware family, or the software family by "software".
func FamilyByName(name string) (Family, bool) {
	if name == Software.Name || name == Software.Encoder {
		return Software, true
	}
	for _, f := range hardwareFamilies {
		if f.Name == name || f.Encoder == name {
			return f, true
		}
	}
	return Family{}, false
}

func (f Family) encodeParams(s Settings) ffmpeg.EncodeParams {
	return ffmpeg.EncodeParams{
		Encoder:      f.Encoder,
		Width:        s.Width,
		Height:       s.Height,
		FPS:          s.FPS,
		BitrateKbps:  s.BitrateKbps,
		GOP:          s.GOP,
		GlobalArgs:   f.GlobalArgs,
		VideoFilters: f.VideoFilters,
		OutputParams: maps.Clone(f.OutputParams),
		Software:     !f.Hardware,
	}
}

func (f Family) probeArgs() []string {
	return ffmpeg.ProbeArgs(f.Encoder, f.GlobalArgs, f.VideoFilters, f.OutputParams)
}
