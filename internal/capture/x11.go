package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/screenlink/internal/ffmpeg"
	"github.com/smazurov/screenlink/internal/logging"
	"github.com/smazurov/screenlink/internal/process"
	"github.com/smazurov/screenlink/internal/relay"
	"github.com/smazurov/screenlink/internal/sources"
)

// startTimeout bounds how long the first frame may take to arrive.
const startTimeout = 5 * time.Second

// Options are static for a capture session.
type Options struct {
	Display string
	FPS     int
	// Width and Height scale frames to an output size. Zero keeps the source size.
	Width  int
	Height int
	// Cursor draws the mouse pointer into the frames.
	Cursor bool
	// Indicator outlines the captured region on screen while sharing.
	Indicator bool
}

// FrameSource delivers frames of a fixed size in BGRA layout.
type FrameSource interface {
	Size() (width, height int)
	// ReadFrame fills buf with the next frame and returns its capture time.
	ReadFrame(buf []byte) (time.Time, error)
	// Discard consumes the next frame without keeping it.
	Discard() (time.Time, error)
	Close() error
}

// X11Source captures a monitor region or a window through ffmpeg x11grab.
type X11Source struct {
	source sources.Source
	width  int
	height int
	pipe   *process.Pipe
	stdout io.Reader
	logger *slog.Logger

	scratch []byte
	lost    atomic.Bool
	reason  atomic.Value
	closing atomic.Bool
	once    sync.Once
}

// Params maps a source onto x11grab parameters.
func Params(src sources.Source, opts Options) (ffmpeg.CaptureParams, error) {
	p := ffmpeg.CaptureParams{
		Display:    opts.Display,
		FPS:        opts.FPS,
		DrawMouse:  opts.Cursor,
		ShowRegion: opts.Indicator,
		Width:      src.Width,
		Height:     src.Height,
		Options:    []ffmpeg.Option{ffmpeg.OptionThreadQueue},
	}
	if p.Display == "" {
		p.Display = ":0"
	}
	switch src.Kind {
	case sources.KindMonitor:
		p.X, p.Y = src.X, src.Y
	case sources.KindWindow, sources.KindApplication:
		if src.WindowID == "" {
			return p, fmt.Errorf("%w: %s has no window", ErrInitFailed, src.ID)
		}
		p.WindowID = src.WindowID
	default:
		return p, fmt.Errorf("%w: unknown source kind %q", ErrInitFailed, src.Kind)
	}
	if src.Width <= 0 || src.Height <= 0 {
		return p, fmt.Errorf("%w: %s has no size", ErrInitFailed, src.ID)
	}
	if opts.Width > 0 && opts.Height > 0 {
		p.OutputWidth, p.OutputHeight = opts.Width&^1, opts.Height&^1
	}
	return p, nil
}

// OpenX11 starts capturing src and waits for the first frame to confirm the
// stream works. The first frame is consumed.
func OpenX11(ctx context.Context, src sources.Source, opts Options) (*X11Source, error) {
	params, err := Params(src, opts)
	if err != nil {
		return nil, err
	}
	args, err := ffmpeg.CaptureArgs(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	w, h := src.Width, src.Height
	if params.OutputWidth > 0 {
		w, h = params.OutputWidth, params.OutputHeight
	}
	s := &X11Source{
		source:  src,
		width:   w,
		height:  h,
		logger:  logging.GetLogger("capture").With("source", src.ID),
		scratch: make([]byte, relay.FrameSize(w, h)),
	}
	s.reason.Store("")

	s.pipe, err = process.Start(ctx, "capture", ffmpeg.Binary, args,
		process.WithStdout(),
		process.WithLogParser(s.logger, ffmpeg.ParseLogLevel),
		process.WithLineHook(s.watchStderr),
		process.WithGracefulTimeout(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}
	s.stdout = s.pipe.Stdout()

	first := make(chan error, 1)
	go func() {
		_, err := s.Discard()
		first <- err
	}()
	select {
	case err = <-first:
	case <-time.After(startTimeout):
		err = errors.New("no frame within " + startTimeout.String())
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrInitFailed, src.ID, err)
	}

	s.logger.Info("Capture started", "kind", src.Kind, "width", s.width, "height", s.height,
		"fps", opts.FPS, "cursor", opts.Cursor, "indicator", opts.Indicator)
	return s, nil
}

func (s *X11Source) watchStderr(line string) {
	if ffmpeg.SourceLost(line) {
		_, msg := ffmpeg.ParseLogLevel(line)
		s.reason.Store(msg)
		s.lost.Store(true)
	}
}

// Size returns the frame dimensions.
func (s *X11Source) Size() (int, int) { return s.width, s.height }

// ReadFrame reads exactly one frame into buf.
func (s *X11Source) ReadFrame(buf []byte) (time.Time, error) {
	size := relay.FrameSize(s.width, s.height)
	if len(buf) < size {
		return time.Time{}, fmt.Errorf("frame buffer %d bytes, want %d", len(buf), size)
	}
	if _, err := io.ReadFull(s.stdout, buf[:size]); err != nil {
		return time.Time{}, s.readError(err)
	}
	return time.Now(), nil
}

// Discard reads one frame into a scratch buffer.
func (s *X11Source) Discard() (time.Time, error) {
	return s.ReadFrame(s.scratch)
}

// readError classifies a failed read. Any end of stream that was not asked
// for means the surface is gone.
func (s *X11Source) readError(err error) error {
	if s.closing.Load() {
		return fmt.Errorf("capture closed: %w", err)
	}
	select {
	case <-s.pipe.Done():
	case <-time.After(time.Second):
	}
	reason, _ := s.reason.Load().(string)
	if reason == "" {
		reason = fmt.Sprintf("ffmpeg exited (code %d)", process.ExitCode(s.pipe.Err()))
	}
	s.logger.Warn("Capture source lost", "reason", reason, "error", err)
	return fmt.Errorf("%w: %s: %s", ErrSourceUnavailable, s.source.ID, reason)
}

// Close stops the capture process. Safe to call more than once.
func (s *X11Source) Close() error {
	var err error
	s.once.Do(func() {
		s.closing.Store(true)
		err = s.pipe.Stop()
		s.logger.Debug("Capture stopped")
	})
	return err
}
