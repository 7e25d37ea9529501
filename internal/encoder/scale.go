package encoder

import (
	"fmt"

	"github.com/smazurov/screenlink/internal/relay"
)

// Downscaler shrinks BGRA frames by an integer factor with a box filter.
// The output buffer is reused across calls; the returned frame is valid until
// the next call.
type Downscaler struct {
	buf   []byte
	frame relay.Frame
}

// Scale returns f reduced by div in both dimensions. Output dimensions are
// rounded down to even values; an even-sized frame with div 1 is returned as is.
func (d *Downscaler) Scale(f *relay.Frame, div int) (*relay.Frame, error) {
	if div < 1 {
		div = 1
	}
	if div == 1 && f.Width%2 == 0 && f.Height%2 == 0 {
		return f, nil
	}
	if len(f.Pixels) < f.Size() {
		return nil, fmt.Errorf("frame buffer too short: %d < %d", len(f.Pixels), f.Size())
	}

	w := (f.Width / div) &^ 1
	h := (f.Height / div) &^ 1
	if w < 2 || h < 2 {
		return nil, fmt.Errorf("frame %dx%d too small to scale by %d", f.Width, f.Height, div)
	}

	size := relay.FrameSize(w, h)
	if cap(d.buf) < size {
		d.buf = make([]byte, size)
	}
	d.buf = d.buf[:size]

	stride := f.Width * relay.BytesPerPixel
	area := uint32(div * div)
	for y := 0; y < h; y++ {
		dstRow := d.buf[y*w*relay.BytesPerPixel:]
		for x := 0; x < w; x++ {
			var b, g, r, a uint32
			for sy := y * div; sy < y*div+div; sy++ {
				row := f.Pixels[sy*stride:]
				for sx := x * div; sx < x*div+div; sx++ {
					p := row[sx*relay.BytesPerPixel:]
					b += uint32(p[0])
					g += uint32(p[1])
					r += uint32(p[2])
					a += uint32(p[3])
				}
			}
			o := dstRow[x*relay.BytesPerPixel:]
			o[0] = byte(b / area)
			o[1] = byte(g / area)
			o[2] = byte(r / area)
			o[3] = byte(a / area)
		}
	}

	d.frame = relay.Frame{
		Pixels:     d.buf,
		Width:      w,
		Height:     h,
		CapturedAt: f.CapturedAt,
		Seq:        f.Seq,
	}
	return &d.frame, nil
}
