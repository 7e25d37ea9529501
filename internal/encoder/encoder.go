package encoder

import (
	"errors"
	"time"

	"github.com/smazurov/screenlink/internal/relay"
)

var (
	// ErrEncode marks a per-frame encode failure. The caller counts it and moves on.
	ErrEncode = errors.New("encode failed")

	// ErrInit marks a backend that could not be opened.
	ErrInit = errors.New("encoder init failed")

	// ErrNoBackend is returned when neither the primary nor the fallback backend can run.
	ErrNoBackend = errors.New("no usable encoder backend")

	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("encoder closed")
)

// AccessUnit is the encoded form of one captured frame.
type AccessUnit struct {
	// NALUs holds the payload units in decode order, without start codes.
	NALUs    [][]byte
	Keyframe bool

	// CapturedAt is the capture time of the source frame.
	CapturedAt time.Time
	FrameSeq   uint64
}

// Size returns the total payload size without framing.
func (au *AccessUnit) Size() int {
	n := 0
	for _, nalu := range au.NALUs {
		n += len(nalu)
	}
	return n
}

// Settings is the operating point an encoder is opened or reconfigured with.
type Settings struct {
	Width       int
	Height      int
	FPS         int
	BitrateKbps int
	GOP         int
}

// Encoder is the contract the sender worker drives.
type Encoder interface {
	// Encode consumes one frame and returns every access unit that became
	// available. An encoder with pipeline delay may return none.
	Encode(f *relay.Frame) ([]AccessUnit, error)

	// RequestKeyframe makes a later access unit a keyframe.
	RequestKeyframe()

	// Describe returns the negotiated codec parameters.
	Describe() CodecDescriptor
}

// Backend is a concrete encoder implementation managed by a Cascade.
type Backend interface {
	Encoder

	Name() string
	Hardware() bool

	// Open prepares the backend. The first access unit after Open is a keyframe.
	Open(s Settings) error
	// Reconfigure applies new settings. Backends that cannot change settings
	// in place restart internally; queued output is preserved.
	Reconfigure(s Settings) error
	// Flush returns access units still held by the backend.
	Flush() ([]AccessUnit, error)
	Close() error
}
