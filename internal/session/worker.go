package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/smazurov/screenlink/internal/degrade"
	"github.com/smazurov/screenlink/internal/encoder"
	"github.com/smazurov/screenlink/internal/relay"
	"github.com/smazurov/screenlink/internal/transport"
)

// Encoder is what the worker drives. *encoder.Cascade implements it.
type Encoder interface {
	encoder.Encoder
	Reconfigure(s encoder.Settings) error
	Status() encoder.FallbackStatus
	Close() error
}

// Transport is what the worker sends through. *transport.Sender implements it.
type Transport interface {
	Send(au *encoder.AccessUnit) (transport.SendResult, error)
	SetParameterSets(sps, pps []byte)
	DrainFeedback() transport.FeedbackBatch
	// Run reads feedback until Close.
	Run() error
	Stats() transport.Stats
	Close() error
}

type counters struct {
	encoded          uint64
	encodeErrors     uint64
	sendErrors       uint64
	keyframeRequests uint64
	preEncode        uint64
	duringSend       uint64
}

// worker is everything downstream of the relay. All of its state is owned by
// the goroutine that calls drain and tick.
type worker struct {
	relay   *relay.Relay
	release func(*relay.Frame)
	enc     Encoder
	tx      Transport
	logger  *slog.Logger

	ctrl      *degrade.Controller
	window    *degrade.PressureWindow
	profile   degrade.Profile
	base      degrade.Target
	eff       degrade.Effective
	gop       int
	decimator *degrade.Decimator
	scaler    encoder.Downscaler
	failures  *degrade.FailureWindow

	sps, pps     []byte
	lastOverflow uint64
	c            counters

	onTransition func(degrade.Transition, degrade.Effective)
}

type workerParams struct {
	relay      *relay.Relay
	release    func(*relay.Frame)
	enc        Encoder
	tx         Transport
	base       degrade.Target
	gop        int
	thresholds degrade.Thresholds
	profile    degrade.Profile
	windowSize int
	failWindow time.Duration
	ceilings   degrade.Ceilings
	logger     *slog.Logger
}

func newWorker(p workerParams) (*worker, error) {
	ctrl, err := degrade.NewController(p.thresholds)
	if err != nil {
		return nil, err
	}
	if p.release == nil {
		p.release = func(*relay.Frame) {}
	}
	w := &worker{
		relay:     p.relay,
		release:   p.release,
		enc:       p.enc,
		tx:        p.tx,
		logger:    p.logger,
		ctrl:      ctrl,
		window:    degrade.NewPressureWindow(p.windowSize),
		profile:   p.profile,
		base:      p.base,
		gop:       p.gop,
		decimator: degrade.NewDecimator(p.profile.DropEvery),
		failures:  degrade.NewFailureWindow(p.failWindow, p.ceilings),
	}
	w.eff = w.profile.Apply(w.base, degrade.Normal)
	return w, nil
}

// settings is the encoder operating point for the current level.
func (w *worker) settings() encoder.Settings {
	return encoder.Settings{
		Width:       w.eff.Width,
		Height:      w.eff.Height,
		FPS:         w.base.FPS,
		BitrateKbps: w.eff.BitrateKbps,
		GOP:         w.gop,
	}
}

// feedback turns every queued keyframe request into a single encoder request.
func (w *worker) feedback() {
	batch := w.tx.DrainFeedback()
	n := batch.Requests()
	if n == 0 {
		return
	}
	w.c.keyframeRequests += uint64(n)
	w.enc.RequestKeyframe()
	w.logger.Debug("Keyframe requested", "pli", batch.PLI, "fir", batch.FIR, "overflow", batch.Overflow)
}

// drain consumes every frame in the relay in capture order. It stops early
// when ctx is cancelled and returns an error only when encoding can no
// longer continue.
func (w *worker) drain(ctx context.Context, now time.Time) error {
	w.feedback()
	for ctx.Err() == nil {
		f, ok := w.relay.Pop()
		if !ok {
			return nil
		}
		if err := w.handleFrame(f, now); err != nil {
			return err
		}
	}
	return nil
}

func (w *worker) handleFrame(f *relay.Frame, now time.Time) error {
	defer w.release(f)

	if w.eff.DropFrames && !w.decimator.Keep() {
		w.c.preEncode++
		workerDrops.WithLabelValues("pre_encode").Inc()
		return nil
	}

	in := f
	if w.eff.ScaleDiv > 1 || f.Width%2 != 0 || f.Height%2 != 0 {
		scaled, err := w.scaler.Scale(f, w.eff.ScaleDiv)
		if err != nil {
			w.encodeFailed(err, now)
			return nil
		}
		in = scaled
	}

	aus, err := w.enc.Encode(in)
	if err != nil {
		if errors.Is(err, encoder.ErrNoBackend) || errors.Is(err, encoder.ErrClosed) {
			return err
		}
		w.encodeFailed(err, now)
	}
	w.syncParameterSets()

	for i := range aus {
		w.send(&aus[i], now)
	}
	return nil
}

func (w *worker) encodeFailed(err error, now time.Time) {
	w.c.encodeErrors++
	encodeErrors.Inc()
	w.failures.Record(degrade.EncodeError, 1, now)
	w.logger.Debug("Encode failed", "error", err)
}

// syncParameterSets hands newly learnt SPS/PPS to the transport so they are
// repeated in front of every keyframe.
func (w *worker) syncParameterSets() {
	desc := w.enc.Describe()
	if desc.SPS == nil || desc.PPS == nil {
		return
	}
	if bytes.Equal(desc.SPS, w.sps) && bytes.Equal(desc.PPS, w.pps) {
		return
	}
	w.sps, w.pps = desc.SPS, desc.PPS
	w.tx.SetParameterSets(w.sps, w.pps)
}

func (w *worker) send(au *encoder.AccessUnit, now time.Time) {
	w.c.encoded++
	framesEncoded.Inc()

	res, err := w.tx.Send(au)
	if err == nil {
		return
	}
	n := max(res.Errors, 1)
	w.c.sendErrors += uint64(n)
	w.c.duringSend++
	workerDrops.WithLabelValues("during_send").Inc()
	w.failures.Record(degrade.SendError, n, now)
	w.logger.Debug("Send failed", "frame", au.FrameSeq, "sent", res.Packets, "failed", res.Errors, "error", err)
}

// tick runs one degradation evaluation. It returns an error when a failure
// ceiling has been exceeded.
func (w *worker) tick(now time.Time) error {
	w.feedback()

	depth := w.relay.Len()
	relayDepth.Set(float64(depth))
	w.window.Observe(depth)
	if tr, ok := w.ctrl.Evaluate(w.window.Snapshot()); ok {
		w.applyLevel(tr)
	}

	dropped := w.relay.Dropped()
	if d := dropped - w.lastOverflow; d > 0 {
		w.failures.Record(degrade.OverflowDrop, int(d), now)
	}
	w.lastOverflow = dropped

	if ex, bad := w.failures.Check(now); bad {
		return &Error{Code: CodeSustainedFailure, Message: ex.String(), Err: ErrSustainedFailure}
	}
	return nil
}

func (w *worker) applyLevel(tr degrade.Transition) {
	w.eff = w.profile.Apply(w.base, tr.To)
	w.decimator.Reset()
	if err := w.enc.Reconfigure(w.settings()); err != nil {
		w.logger.Warn("Encoder reconfigure failed", "level", tr.To, "error", err)
	}
	degradationLevel.Set(float64(tr.To))
	w.logger.Info("Degradation level changed",
		"from", tr.From, "to", tr.To,
		"avg_depth", tr.Pressure.AvgDepth, "peak_depth", tr.Pressure.PeakDepth,
		"width", w.eff.Width, "height", w.eff.Height, "bitrate_kbps", w.eff.BitrateKbps)
	if w.onTransition != nil {
		w.onTransition(tr, w.eff)
	}
}
