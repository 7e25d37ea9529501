package encoder

import (
	"testing"
	"time"

	"github.com/smazurov/screenlink/internal/relay"
)

func solidFrame(w, h int, b, g, r byte) *relay.Frame {
	px := make([]byte, relay.FrameSize(w, h))
	for i := 0; i < len(px); i += 4 {
		px[i], px[i+1], px[i+2], px[i+3] = b, g, r, 255
	}
	return &relay.Frame{Pixels: px, Width: w, Height: h, CapturedAt: time.Unix(5, 0), Seq: 9}
}

func TestDownscaler(t *testing.T) {
	var d Downscaler
	src := solidFrame(8, 4, 10, 20, 30)

	out, err := d.Scale(src, 2)
	if err != nil {
		t.Fatalf("Scale: %v", err)
	}
	if out.Width != 4 || out.Height != 2 {
		t.Fatalf("Expected 4x2, got %dx%d", out.Width, out.Height)
	}
	if len(out.Pixels) != relay.FrameSize(4, 2) {
		t.Errorf("Unexpected buffer size %d", len(out.Pixels))
	}
	if out.Pixels[0] != 10 || out.Pixels[1] != 20 || out.Pixels[2] != 30 {
		t.Errorf("Solid colour not preserved: %v", out.Pixels[:4])
	}
	if out.Seq != src.Seq || !out.CapturedAt.Equal(src.CapturedAt) {
		t.Error("Frame metadata not carried over")
	}

	// The buffer is reused between calls.
	first := &out.Pixels[0]
	out2, _ := d.Scale(src, 2)
	if &out2.Pixels[0] != first {
		t.Error("Expected buffer reuse")
	}
}

func TestDownscaler_Averages(t *testing.T) {
	var d Downscaler
	src := solidFrame(2, 2, 0, 0, 0)
	// One white pixel out of four.
	copy(src.Pixels[0:4], []byte{200, 200, 200, 255})

	out, err := d.Scale(src, 2)
	if err == nil {
		t.Fatalf("Expected 1x1 output to be rejected, got %dx%d", out.Width, out.Height)
	}

	src = solidFrame(4, 4, 0, 0, 0)
	copy(src.Pixels[0:4], []byte{200, 200, 200, 255})
	out, err = d.Scale(src, 2)
	if err != nil {
		t.Fatalf("Scale: %v", err)
	}
	if out.Pixels[0] != 50 {
		t.Errorf("Expected averaged blue 50, got %d", out.Pixels[0])
	}
}

func TestDownscaler_Passthrough(t *testing.T) {
	var d Downscaler
	src := solidFrame(6, 4, 1, 2, 3)
	out, err := d.Scale(src, 1)
	if err != nil {
		t.Fatalf("Scale: %v", err)
	}
	if out != src {
		t.Error("Even-sized frame at div 1 should pass through")
	}

	odd := solidFrame(7, 5, 1, 2, 3)
	out, err = d.Scale(odd, 1)
	if err != nil {
		t.Fatalf("Scale: %v", err)
	}
	if out.Width != 6 || out.Height != 4 {
		t.Errorf("Expected odd frame cropped to 6x4, got %dx%d", out.Width, out.Height)
	}
}
