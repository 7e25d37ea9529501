package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/smazurov/screenlink/internal/logging"
	"github.com/smazurov/screenlink/internal/relay"
)

// Stats counts what happened to frames read from the source.
type Stats struct {
	Captured  uint64 `json:"captured"`
	Forwarded uint64 `json:"forwarded"`
	// RateSkipped were delivered faster than the target rate.
	RateSkipped uint64 `json:"rate_skipped"`
	// MissingBuffer were dropped because every buffer was in flight.
	MissingBuffer uint64 `json:"missing_buffer"`
	LastSeq       uint64 `json:"last_seq"`
}

// Engine is the capture loop: it is the only producer of the relay.
type Engine struct {
	src     FrameSource
	relay   *relay.Relay
	pool    *Pool
	limiter *rate.Limiter
	logger  *slog.Logger

	seq           atomic.Uint64
	captured      atomic.Uint64
	forwarded     atomic.Uint64
	rateSkipped   atomic.Uint64
	missingBuffer atomic.Uint64
}

// NewEngine creates a loop that reads src at no more than fps frames per second.
func NewEngine(src FrameSource, r *relay.Relay, pool *Pool, fps int) *Engine {
	if fps <= 0 {
		fps = 30
	}
	// Burst 1: forwarded frames are never closer than 1/fps apart.
	return &Engine{
		src:     src,
		relay:   r,
		pool:    pool,
		limiter: rate.NewLimiter(rate.Limit(fps), 1),
		logger:  logging.GetLogger("capture"),
	}
}

// Run reads frames until ctx is cancelled or the source fails. Cancellation
// closes the source and returns nil; source loss returns ErrSourceUnavailable.
func (e *Engine) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = e.src.Close() })
	defer stop()

	w, h := e.src.Size()
	for {
		if ctx.Err() != nil {
			return nil
		}

		buf, ok := e.pool.Get()
		if !ok {
			if _, err := e.src.Discard(); err != nil {
				return e.fail(ctx, err)
			}
			e.captured.Add(1)
			e.missingBuffer.Add(1)
			framesDropped.WithLabelValues("missing_buffer").Inc()
			continue
		}

		capturedAt, err := e.src.ReadFrame(buf)
		if err != nil {
			e.pool.Put(buf)
			return e.fail(ctx, err)
		}
		e.captured.Add(1)
		framesCaptured.Inc()

		if !e.limiter.AllowN(capturedAt, 1) {
			e.pool.Put(buf)
			e.rateSkipped.Add(1)
			framesDropped.WithLabelValues("rate").Inc()
			continue
		}

		f := &relay.Frame{
			Pixels:     buf,
			Width:      w,
			Height:     h,
			CapturedAt: capturedAt,
			Seq:        e.seq.Add(1),
		}
		if e.relay.Push(f) {
			framesDropped.WithLabelValues("relay_full").Inc()
		}
		e.forwarded.Add(1)
	}
}

func (e *Engine) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	if !errors.Is(err, ErrSourceUnavailable) {
		err = errors.Join(ErrSourceUnavailable, err)
	}
	e.logger.Error("Capture failed", "error", err, "frames", e.captured.Load())
	return err
}

// Stats returns the capture counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Captured:      e.captured.Load(),
		Forwarded:     e.forwarded.Load(),
		RateSkipped:   e.rateSkipped.Load(),
		MissingBuffer: e.missingBuffer.Load(),
		LastSeq:       e.seq.Load(),
	}
}

// PoolFor sizes a buffer pool for a relay of the given capacity: every slot
// can be full while the worker holds one frame and the loop fills another.
func PoolFor(capacity, width, height int) *Pool {
	return NewPool(capacity+2, relay.FrameSize(width, height))
}
