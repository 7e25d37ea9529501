package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/screenlink/internal/capture"
	"github.com/smazurov/screenlink/internal/encoder"
	"github.com/smazurov/screenlink/internal/relay"
	"github.com/smazurov/screenlink/internal/sources"
	"github.com/smazurov/screenlink/internal/transport"
)

var (
	testSPS = []byte{0x67, 0x42, 0xe0, 0x1f}
	testPPS = []byte{0x68, 0xce, 0x3c, 0x80}
)

// fakeCapture delivers frames every interval. After total frames it either
// reports end of stream (lose) or blocks until closed. total 0 is unlimited.
type fakeCapture struct {
	w, h     int
	interval time.Duration
	total    int
	lose     bool

	n      atomic.Int64
	closed chan struct{}
	once   sync.Once
}

func newFakeCapture(w, h int) *fakeCapture {
	return &fakeCapture{w: w, h: h, interval: 2 * time.Millisecond, closed: make(chan struct{})}
}

func (c *fakeCapture) Size() (int, int) { return c.w, c.h }

func (c *fakeCapture) ReadFrame(buf []byte) (time.Time, error) {
	if c.total > 0 && int(c.n.Load()) >= c.total {
		if c.lose {
			return time.Time{}, fmt.Errorf("%w: window closed", capture.ErrSourceUnavailable)
		}
		<-c.closed
		return time.Time{}, io.EOF
	}
	select {
	case <-c.closed:
		return time.Time{}, io.EOF
	case <-time.After(c.interval):
	}
	c.n.Add(1)
	buf[0] = byte(c.n.Load())
	return time.Now(), nil
}

func (c *fakeCapture) Discard() (time.Time, error) {
	return c.ReadFrame(make([]byte, relay.FrameSize(c.w, c.h)))
}

func (c *fakeCapture) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeCapture) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeBackend is an encoder backend that never runs a process. It fails
// Open when openErr is set and every Encode from failFrom on. Like a 4:2:0
// encoder it rejects odd dimensions.
type fakeBackend struct {
	name     string
	hardware bool
	openErr  error
	failFrom int64

	mu        sync.Mutex
	opened    int
	closed    int
	keyframe  bool
	settings  []encoder.Settings
	encodes   atomic.Int64
	keyframes atomic.Int64
	desc      encoder.CodecDescriptor
}

func (b *fakeBackend) Name() string   { return b.name }
func (b *fakeBackend) Hardware() bool { return b.hardware }

func (b *fakeBackend) Open(s encoder.Settings) error {
	if b.openErr != nil {
		return b.openErr
	}
	if s.Width%2 != 0 || s.Height%2 != 0 {
		return fmt.Errorf("%w: odd size %dx%d", encoder.ErrEncode, s.Width, s.Height)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened++
	b.keyframe = true
	b.settings = append(b.settings, s)
	b.desc = encoder.H264Descriptor()
	return nil
}

func (b *fakeBackend) Encode(f *relay.Frame) ([]encoder.AccessUnit, error) {
	n := b.encodes.Add(1)
	if f.Width%2 != 0 || f.Height%2 != 0 {
		return nil, fmt.Errorf("%w: odd frame %dx%d", encoder.ErrEncode, f.Width, f.Height)
	}
	if b.failFrom > 0 && n >= b.failFrom {
		return nil, fmt.Errorf("%w: frame %d", encoder.ErrEncode, f.Seq)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := b.keyframe
	b.keyframe = false
	nalus := [][]byte{{0x41, 0x9a, byte(n)}}
	if key {
		nalus = [][]byte{testSPS, testPPS, {0x65, 0x88, byte(n)}}
		b.desc = b.desc.WithParameterSets(testSPS, testPPS)
	}
	return []encoder.AccessUnit{{NALUs: nalus, Keyframe: key, FrameSeq: f.Seq, CapturedAt: f.CapturedAt}}, nil
}

func (b *fakeBackend) RequestKeyframe() {
	b.keyframes.Add(1)
	b.mu.Lock()
	b.keyframe = true
	b.mu.Unlock()
}

func (b *fakeBackend) Describe() encoder.CodecDescriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.desc
}

func (b *fakeBackend) Reconfigure(s encoder.Settings) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settings = append(b.settings, s)
	return nil
}

func (b *fakeBackend) Flush() ([]encoder.AccessUnit, error) { return nil, nil }

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	return nil
}

func (b *fakeBackend) closedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// fakeTransport records access units and hands out queued feedback.
type fakeTransport struct {
	failSends bool

	mu       sync.Mutex
	sent     []encoder.AccessUnit
	sps, pps []byte
	pending  transport.FeedbackBatch
	closed   bool
	done     chan struct{}
	once     sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{done: make(chan struct{})}
}

func (t *fakeTransport) Send(au *encoder.AccessUnit) (transport.SendResult, error) {
	if t.failSends {
		return transport.SendResult{Errors: 1}, fmt.Errorf("%w: connection refused", transport.ErrSend)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, *au)
	return transport.SendResult{Packets: 1, Bytes: au.Size()}, nil
}

func (t *fakeTransport) SetParameterSets(sps, pps []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sps, t.pps = sps, pps
}

func (t *fakeTransport) queue(b transport.FeedbackBatch) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending.PLI += b.PLI
	t.pending.FIR += b.FIR
	t.pending.Overflow += b.Overflow
}

func (t *fakeTransport) DrainFeedback() transport.FeedbackBatch {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.pending
	t.pending = transport.FeedbackBatch{}
	return b
}

func (t *fakeTransport) Run() error {
	<-t.done
	return nil
}

func (t *fakeTransport) Stats() transport.Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return transport.Stats{Remote: "127.0.0.1:5004", PacketsSent: uint64(len(t.sent)), Connected: !t.closed}
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.done)
	})
	return nil
}

func (t *fakeTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeCatalog map[string]sources.Source

func (c fakeCatalog) Lookup(_ context.Context, id string) (sources.Source, error) {
	src, ok := c[id]
	if !ok {
		return sources.Source{}, fmt.Errorf("%w: %s", sources.ErrNotFound, id)
	}
	return src, nil
}

var errNoGPU = errors.New("no render node")
