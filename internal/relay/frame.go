package relay

import "time"

// BytesPerPixel is the size of one pixel in the normalized BGRA layout.
const BytesPerPixel = 4

// PixelFormat names the in-memory layout of Frame.Pixels.
type PixelFormat string

// PixelFormatBGRA is the only layout the capture engine emits.
const PixelFormatBGRA PixelFormat = "bgra"

// Frame is one captured picture in BGRA layout.
// Pixels holds exactly Width*Height*BytesPerPixel bytes, rows packed without padding.
type Frame struct {
	Pixels     []byte
	Width      int
	Height     int
	CapturedAt time.Time

	// Seq is assigned by the capture engine and strictly increases per session.
	Seq uint64
}

// Size returns the expected pixel buffer length for the frame dimensions.
func (f *Frame) Size() int {
	return f.Width * f.Height * BytesPerPixel
}

// FrameSize returns the BGRA buffer length for the given dimensions.
func FrameSize(width, height int) int {
	return width * height * BytesPerPixel
}
