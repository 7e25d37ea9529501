package encoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/smazurov/screenlink/internal/ffmpeg"
	"github.com/smazurov/screenlink/internal/logging"
	"github.com/smazurov/screenlink/internal/process"
	"github.com/smazurov/screenlink/internal/relay"
)

const (
	// startupGrace is how long Open waits for an early ffmpeg exit, which
	// catches missing devices and unsupported encoders.
	startupGrace = 250 * time.Millisecond
	flushTimeout = 2 * time.Second
	readChunk    = 64 * 1024

	// KeyframeRestartInterval is the minimum spacing between restarts made
	// only to answer keyframe requests. Later requests wait for the next slot.
	KeyframeRestartInterval = time.Second
)

type frameMeta struct {
	seq        uint64
	capturedAt time.Time
}

// run is one ffmpeg encoder process and its stdout reader.
type run struct {
	proc   *process.Pipe
	width  int
	height int

	mu       sync.Mutex
	splitter auSplitter
	ready    [][][]byte
	readErr  error
	eof      chan struct{}
}

func (r *run) read(stdout io.Reader) {
	defer close(r.eof)
	buf := make([]byte, readChunk)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			r.mu.Lock()
			r.ready = append(r.ready, r.splitter.write(buf[:n])...)
			r.mu.Unlock()
		}
		if err != nil {
			r.mu.Lock()
			if tail := r.splitter.flush(); len(tail) > 0 {
				r.ready = append(r.ready, tail)
			}
			if !errors.Is(err, io.EOF) {
				r.readErr = err
			}
			r.mu.Unlock()
			return
		}
	}
}

func (r *run) take() [][][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.ready
	r.ready = nil
	return out
}

func (r *run) exited() bool {
	select {
	case <-r.proc.Done():
		return true
	default:
		return false
	}
}

// PipeBackend encodes through an ffmpeg subprocess: BGRA frames go to stdin,
// an Annex-B stream with access unit delimiters comes back on stdout.
//
// ffmpeg cannot be told to emit a keyframe mid-stream, so keyframe requests
// and setting changes restart the process; a fresh encoder always starts with
// an IDR. Output still held by the old process is flushed first so no access
// unit is lost or reordered.
type PipeBackend struct {
	family Family
	logger *slog.Logger

	settings Settings
	cur      *run
	inflight []frameMeta
	pending  []AccessUnit

	keyframeWanted bool
	keyframeGate   *rate.Limiter
	restartWanted  bool
	closed         bool

	desc     CodecDescriptor
	restarts int
}

// NewPipeBackend creates a backend for family. Nothing runs until Open.
func NewPipeBackend(family Family) *PipeBackend {
	return &PipeBackend{
		family:       family,
		logger:       logging.GetLogger("encoder").With("backend", family.Name),
		desc:         H264Descriptor(),
		keyframeGate: rate.NewLimiter(rate.Every(KeyframeRestartInterval), 1),
	}
}

func (b *PipeBackend) Name() string   { return b.family.Name }
func (b *PipeBackend) Hardware() bool { return b.family.Hardware }

// Family returns the ffmpeg encoder family.
func (b *PipeBackend) Family() Family { return b.family }

// Restarts returns how many times the encoder process was replaced.
func (b *PipeBackend) Restarts() int { return b.restarts }

func (b *PipeBackend) Describe() CodecDescriptor { return b.desc }

// Open starts the encoder process and fails if it exits during startup.
func (b *PipeBackend) Open(s Settings) error {
	if s.Width <= 0 || s.Height <= 0 || s.FPS <= 0 {
		return fmt.Errorf("%w: invalid settings %dx%d@%d", ErrInit, s.Width, s.Height, s.FPS)
	}
	b.closed = false
	b.settings = s
	r, err := b.start(s.Width, s.Height)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInit, b.family.Encoder, err)
	}

	select {
	case <-r.proc.Done():
		_ = r.proc.Stop()
		return fmt.Errorf("%w: %s exited during startup (code %d)", ErrInit, b.family.Encoder, process.ExitCode(r.proc.Err()))
	case <-time.After(startupGrace):
	}

	b.cur = r
	b.logger.Info("Encoder opened", "encoder", b.family.Encoder, "width", s.Width, "height", s.Height, "fps", s.FPS, "bitrate_kbps", s.BitrateKbps)
	return nil
}

func (b *PipeBackend) start(width, height int) (*run, error) {
	s := b.settings
	s.Width, s.Height = width, height
	args, err := ffmpeg.EncodeArgs(b.family.encodeParams(s))
	if err != nil {
		return nil, err
	}

	proc, err := process.Start(context.Background(), "encoder-"+b.family.Name, ffmpeg.Binary, args,
		process.WithStdin(),
		process.WithStdout(),
		process.WithLogParser(b.logger, ffmpeg.ParseLogLevel),
		process.WithGracefulTimeout(flushTimeout),
	)
	if err != nil {
		return nil, err
	}

	r := &run{proc: proc, width: width, height: height, eof: make(chan struct{})}
	go r.read(proc.Stdout())
	return r, nil
}

// RequestKeyframe schedules a restart before the next frame, or before the
// first frame after KeyframeRestartInterval when one just happened.
func (b *PipeBackend) RequestKeyframe() {
	b.keyframeWanted = true
}

// keyframeDue reports whether a pending keyframe request may restart the
// process at now.
func (b *PipeBackend) keyframeDue(now time.Time) bool {
	return b.keyframeWanted && b.keyframeGate.AllowN(now, 1)
}

// Reconfigure records new settings. A bitrate or GOP change restarts the process
// before the next frame; a size change is picked up from the frames themselves.
func (b *PipeBackend) Reconfigure(s Settings) error {
	if b.closed {
		return ErrClosed
	}
	if s.BitrateKbps != b.settings.BitrateKbps || s.GOP != b.settings.GOP || s.FPS != b.settings.FPS {
		b.restartWanted = true
	}
	b.settings = s
	return nil
}

// Encode writes one frame and returns the access units completed so far.
func (b *PipeBackend) Encode(f *relay.Frame) ([]AccessUnit, error) {
	if b.closed {
		return nil, ErrClosed
	}
	if len(f.Pixels) < f.Size() {
		return nil, fmt.Errorf("%w: frame buffer %d bytes, want %d", ErrEncode, len(f.Pixels), f.Size())
	}

	if b.cur == nil || b.cur.exited() || b.restartWanted ||
		f.Width != b.cur.width || f.Height != b.cur.height || b.keyframeDue(time.Now()) {
		if err := b.restart(f.Width, f.Height); err != nil {
			return b.drain(), fmt.Errorf("%w: restart %s: %w", ErrEncode, b.family.Encoder, err)
		}
	}

	if _, err := b.cur.proc.Stdin().Write(f.Pixels[:f.Size()]); err != nil {
		b.collect()
		return b.drain(), fmt.Errorf("%w: write frame %d: %w", ErrEncode, f.Seq, err)
	}
	b.inflight = append(b.inflight, frameMeta{seq: f.Seq, capturedAt: f.CapturedAt})

	b.collect()
	return b.drain(), nil
}

// restart flushes the current process and starts a new one.
func (b *PipeBackend) restart(width, height int) error {
	if b.cur != nil {
		b.finish(b.cur)
		b.restarts++
	}
	b.cur = nil
	b.keyframeWanted = false
	b.restartWanted = false

	r, err := b.start(width, height)
	if err != nil {
		return err
	}
	b.cur = r
	b.logger.Debug("Encoder restarted", "width", width, "height", height, "restarts", b.restarts)
	return nil
}

// finish ends r after collecting everything it still had buffered.
func (b *PipeBackend) finish(r *run) {
	_ = r.proc.CloseStdin()
	select {
	case <-r.eof:
	case <-time.After(flushTimeout):
		b.logger.Warn("Encoder flush timed out")
	}
	b.collectFrom(r)
	_ = r.proc.Stop()

	// Frames the old process never emitted are gone.
	if n := len(b.inflight); n > 0 {
		b.logger.Debug("Encoder dropped in-flight frames", "count", n)
		b.inflight = b.inflight[:0]
	}
}

func (b *PipeBackend) collect() {
	if b.cur != nil {
		b.collectFrom(b.cur)
	}
}

// collectFrom pairs completed NAL groups with in-flight frames in order.
func (b *PipeBackend) collectFrom(r *run) {
	for _, nalus := range r.take() {
		au := AccessUnit{NALUs: nalus, Keyframe: isKeyframe(nalus)}
		if len(b.inflight) > 0 {
			au.FrameSeq = b.inflight[0].seq
			au.CapturedAt = b.inflight[0].capturedAt
			b.inflight = b.inflight[1:]
		} else {
			au.CapturedAt = time.Now()
		}
		if au.Keyframe {
			if sps, pps := parameterSets(nalus); sps != nil && pps != nil {
				b.desc = b.desc.WithParameterSets(sps, pps)
			}
		}
		b.pending = append(b.pending, au)
	}
}

func (b *PipeBackend) drain() []AccessUnit {
	out := b.pending
	b.pending = nil
	return out
}

// Flush ends the current process and returns everything it still held.
func (b *PipeBackend) Flush() ([]AccessUnit, error) {
	if b.cur != nil {
		b.finish(b.cur)
		b.cur = nil
	}
	return b.drain(), nil
}

// Close stops the encoder process without collecting pending output.
func (b *PipeBackend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.pending = nil
	b.inflight = nil
	if b.cur == nil {
		return nil
	}
	if err := b.cur.proc.Stop(); err != nil {
		b.logger.Debug("Encoder exit", "error", err)
	}
	b.cur = nil
	b.logger.Info("Encoder closed", "restarts", b.restarts)
	return nil
}
