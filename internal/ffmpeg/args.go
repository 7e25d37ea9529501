package ffmpeg

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
)

// Binary is the ffmpeg executable used by every builder.
var Binary = "ffmpeg"

// LogLevel is passed to every ffmpeg invocation so ParseLogLevel can recover levels.
const LogLevel = "level+warning"

// Option is a typed input/output tuning flag.
type Option string

const (
	OptionLowDelay    Option = "low_delay"
	OptionNoBuffer    Option = "nobuffer"
	OptionThreadQueue Option = "thread_queue"
)

func base() []string {
	return []string{"-hide_banner", "-nostdin", "-nostats", "-loglevel", LogLevel}
}

func applyInputOptions(args []string, opts []Option) []string {
	if slices.Contains(opts, OptionThreadQueue) {
		args = append(args, "-thread_queue_size", "64")
	}
	if slices.Contains(opts, OptionNoBuffer) {
		args = append(args, "-fflags", "nobuffer")
	}
	if slices.Contains(opts, OptionLowDelay) {
		args = append(args, "-flags", "low_delay")
	}
	return args
}

// CaptureParams describes an x11grab capture that writes raw BGRA frames to stdout.
type CaptureParams struct {
	Display  string // ":0.0"
	WindowID string // hex window id; empty captures a screen region
	X, Y     int
	Width    int
	Height   int
	FPS      int

	// OutputWidth and OutputHeight scale the grabbed area. Zero keeps Width x Height.
	OutputWidth  int
	OutputHeight int

	DrawMouse  bool
	ShowRegion bool // outline the captured area on screen

	Options []Option
}

// CaptureArgs builds the argument list for a capture process.
func CaptureArgs(p CaptureParams) ([]string, error) {
	if p.Display == "" {
		return nil, fmt.Errorf("display is required")
	}
	if p.FPS <= 0 {
		return nil, fmt.Errorf("fps must be positive, got %d", p.FPS)
	}

	args := base()
	args = applyInputOptions(args, p.Options)
	args = append(args,
		"-f", "x11grab",
		"-framerate", strconv.Itoa(p.FPS),
		"-draw_mouse", boolFlag(p.DrawMouse),
		"-show_region", boolFlag(p.ShowRegion),
	)

	input := p.Display
	switch {
	case p.WindowID != "":
		args = append(args, "-window_id", p.WindowID)
	case p.Width > 0 && p.Height > 0:
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", p.Width, p.Height))
		input = fmt.Sprintf("%s+%d,%d", p.Display, p.X, p.Y)
	default:
		return nil, fmt.Errorf("window id or region size is required")
	}
	args = append(args, "-i", input)

	// Window geometry can differ from what the window manager reported;
	// pin the output size so every frame on the pipe has the expected length.
	outW, outH := p.Width, p.Height
	if p.OutputWidth > 0 && p.OutputHeight > 0 {
		outW, outH = p.OutputWidth, p.OutputHeight
	}
	if outW > 0 && outH > 0 && (p.WindowID != "" || outW != p.Width || outH != p.Height) {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d:flags=fast_bilinear", outW, outH))
	}

	args = append(args,
		"-an",
		"-fps_mode", "passthrough",
		"-pix_fmt", "bgra",
		"-f", "rawvideo",
		"pipe:1",
	)
	return args, nil
}

// EncodeParams describes an encoder process reading raw BGRA frames from stdin
// and writing an H.264 Annex-B elementary stream with access unit delimiters to stdout.
type EncodeParams struct {
	Encoder string
	Width   int
	Height  int
	FPS     int

	BitrateKbps int
	GOP         int

	GlobalArgs   []string
	VideoFilters string
	OutputParams map[string]string

	// Software encoders get x264 low-latency tuning.
	Software bool
}

// EncodeArgs builds the argument list for an encoder process.
func EncodeArgs(p EncodeParams) ([]string, error) {
	if p.Encoder == "" {
		return nil, fmt.Errorf("encoder is required")
	}
	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("invalid size %dx%d", p.Width, p.Height)
	}
	if p.FPS <= 0 {
		return nil, fmt.Errorf("fps must be positive, got %d", p.FPS)
	}

	args := base()
	args = append(args, p.GlobalArgs...)
	args = append(args,
		"-f", "rawvideo",
		"-pix_fmt", "bgra",
		"-video_size", fmt.Sprintf("%dx%d", p.Width, p.Height),
		"-framerate", strconv.Itoa(p.FPS),
		"-i", "pipe:0",
	)

	if p.VideoFilters != "" {
		args = append(args, "-vf", p.VideoFilters)
	}

	args = append(args, "-c:v", p.Encoder)

	if p.BitrateKbps > 0 {
		rate := fmt.Sprintf("%dk", p.BitrateKbps)
		args = append(args,
			"-b:v", rate,
			"-maxrate", rate,
			"-bufsize", fmt.Sprintf("%dk", p.BitrateKbps/2),
		)
	}

	gop := p.GOP
	if gop <= 0 {
		gop = p.FPS * 2
	}
	args = append(args, "-g", strconv.Itoa(gop), "-bf", "0")

	if p.Software {
		args = append(args,
			"-profile:v", "baseline",
			"-level:v", "5.1",
			"-preset", "ultrafast",
			"-tune", "zerolatency",
			"-sc_threshold", "0",
			"-pix_fmt", "yuv420p",
		)
	}

	for _, k := range slices.Sorted(maps.Keys(p.OutputParams)) {
		args = append(args, "-"+k, p.OutputParams[k])
	}

	args = append(args,
		"-fps_mode", "passthrough",
		"-flush_packets", "1",
		"-bsf:v", "h264_metadata=aud=insert",
		"-f", "h264",
		"pipe:1",
	)
	return args, nil
}

// SnapshotArgs builds a single-frame capture written to stdout as JPEG,
// scaled down to at most maxWidth pixels wide.
func SnapshotArgs(p CaptureParams, maxWidth int) ([]string, error) {
	if p.FPS <= 0 {
		p.FPS = 1
	}
	args, err := CaptureArgs(p)
	if err != nil {
		return nil, err
	}
	// Replace the rawvideo output with a one-frame JPEG.
	idx := slices.Index(args, "-an")
	if vf := slices.Index(args, "-vf"); vf >= 0 && vf < idx {
		idx = vf
	}
	args = append(args[:idx:idx], "-an", "-frames:v", "1")
	if maxWidth > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale='min(%d,iw)':-2", maxWidth))
	}
	return append(args, "-q:v", "5", "-f", "mjpeg", "pipe:1"), nil
}

// ProbeArgs builds a short synthetic encode used to check that an encoder works.
func ProbeArgs(encoder string, globalArgs []string, videoFilters string, outputParams map[string]string) []string {
	args := base()
	args = append(args, globalArgs...)
	args = append(args,
		"-f", "lavfi",
		"-i", "testsrc2=duration=1:size=640x480:rate=30",
		"-pix_fmt", "bgra",
	)
	if videoFilters != "" {
		args = append(args, "-vf", videoFilters)
	}
	args = append(args, "-c:v", encoder, "-bf", "0")
	for _, k := range slices.Sorted(maps.Keys(outputParams)) {
		args = append(args, "-"+k, outputParams[k])
	}
	return append(args, "-f", "null", "-")
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
