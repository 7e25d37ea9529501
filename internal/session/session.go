package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/smazurov/screenlink/internal/capture"
	"github.com/smazurov/screenlink/internal/degrade"
	"github.com/smazurov/screenlink/internal/encoder"
	"github.com/smazurov/screenlink/internal/events"
	"github.com/smazurov/screenlink/internal/logging"
	"github.com/smazurov/screenlink/internal/relay"
	"github.com/smazurov/screenlink/internal/sources"
)

// Session is one run of the pipeline from Starting to Stopped or Failed.
type Session struct {
	id     string
	req    Request
	pref   encoder.Preference
	src    sources.Source
	cfg    Config
	deps   factories
	bus    *events.Bus
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.RWMutex
	state     State
	reason    string
	code      Code
	stopping  bool
	snap      Status
	startedAt time.Time

	// Owned by the worker goroutine after open.
	capSrc capture.FrameSource
	engine *capture.Engine
	relay  *relay.Relay
	pool   *capture.Pool
	enc    *encoder.Cascade
	tx     Transport
	w      *worker

	rateAt       time.Time
	rateCaptured uint64
	rateEncoded  uint64
	captureFPS   float64
	encodeFPS    float64
}

func newSession(cfg Config, deps factories, bus *events.Bus, req Request, pref encoder.Preference, src sources.Source) *Session {
	id := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:     id.String(),
		req:    req,
		pref:   pref,
		src:    src,
		cfg:    cfg,
		deps:   deps,
		bus:    bus,
		logger: logging.GetLogger("session").With("session", id.String()),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateIdle,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Done is closed once the session has stopped or failed and released everything.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status returns the last published snapshot with the current state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.snap
	st.SessionID = s.id
	st.State = s.state
	st.Active = s.state.Active()
	st.Reason = s.reason
	st.Code = s.code
	return st
}

// setState moves to `to`. Terminal states are final.
func (s *Session) setState(to State, reason string, code Code) {
	s.mu.Lock()
	from := s.state
	if from == to || from.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.reason = reason
	s.code = code
	s.mu.Unlock()

	sessionState.Set(to.gaugeValue())
	if to == StateFailed {
		s.logger.Error("Session state changed", "from", from, "to", to, "reason", reason)
	} else {
		s.logger.Info("Session state changed", "from", from, "to", to)
	}
	s.publish(events.StateChangedEvent{
		SessionID: s.id,
		From:      string(from),
		To:        string(to),
		Reason:    reason,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func (s *Session) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

// ssrc derives a synchronization source from the session id when none is configured.
func (s *Session) ssrc() uint32 {
	if s.cfg.Transport.SSRC != 0 {
		return s.cfg.Transport.SSRC
	}
	id := uuid.MustParse(s.id)
	return binary.BigEndian.Uint32(id[:4])
}

// open brings up capture, the encoder and the transport in that order.
// On error everything opened so far is released.
func (s *Session) open(ctx context.Context) (err error) {
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.setState(StateStarting, "", "")

	defer func() {
		if err != nil {
			s.release()
		}
	}()

	s.capSrc, err = s.deps.openCapture(s.ctx, s.src, capture.Options{
		Display:   s.cfg.Capture.Display,
		FPS:       s.req.FPS,
		Width:     s.req.Width,
		Height:    s.req.Height,
		Cursor:    s.cfg.Capture.Cursor,
		Indicator: s.cfg.Capture.Indicator,
	})
	if err != nil {
		if !errors.Is(err, capture.ErrInitFailed) {
			err = fmt.Errorf("%w: %w", capture.ErrInitFailed, err)
		}
		return err
	}
	width, height := s.capSrc.Size()

	s.pool = capture.PoolFor(s.cfg.RelayCapacity, width, height)
	// 4:2:0 encoders need even dimensions; the worker crops odd frames.
	width, height = width&^1, height&^1

	s.relay = relay.New(s.cfg.RelayCapacity, relay.WithRelease(s.pool.Release))
	s.engine = capture.NewEngine(s.capSrc, s.relay, s.pool, s.req.FPS)

	primary, fallback := s.deps.backends(ctx, s.pref)
	s.enc = encoder.NewCascade(primary, fallback, encoder.CascadeOptions{
		Preference:       s.pref,
		FailureThreshold: s.cfg.FailureThreshold,
		OnFallback:       s.onFallback,
	})
	base := degrade.Target{Width: width, Height: height, FPS: s.req.FPS, BitrateKbps: s.req.BitrateKbps}
	if err = s.enc.Open(encoder.Settings{
		Width:       width,
		Height:      height,
		FPS:         s.req.FPS,
		BitrateKbps: s.req.BitrateKbps,
		GOP:         s.cfg.GOP,
	}); err != nil {
		return err
	}

	tcfg := s.cfg.Transport
	tcfg.SSRC = s.ssrc()
	if s.tx, err = s.deps.dial(tcfg, s.enc.Describe()); err != nil {
		return fmt.Errorf("dial %s: %w", tcfg.RemoteAddr, err)
	}

	s.w, err = newWorker(workerParams{
		relay:      s.relay,
		release:    s.pool.Release,
		enc:        s.enc,
		tx:         s.tx,
		base:       base,
		gop:        s.cfg.GOP,
		thresholds: s.cfg.thresholds(),
		profile:    s.cfg.Profile,
		windowSize: s.cfg.WindowSize,
		failWindow: s.cfg.FailureWindow,
		ceilings:   s.cfg.Ceilings,
		logger:     s.logger,
	})
	if err != nil {
		return err
	}
	s.w.onTransition = s.onTransition

	now := time.Now()
	s.rateAt = now
	s.publishSnapshot(now)
	s.setState(StateRunning, "", "")
	s.logger.Info("Session started",
		"source", s.src.ID, "width", width, "height", height,
		"fps", s.req.FPS, "bitrate_kbps", s.req.BitrateKbps,
		"encoder", s.enc.Status().Active, "remote", tcfg.RemoteAddr, "ssrc", tcfg.SSRC)
	return nil
}

// run drives the session until it is stopped or fails. It is called once, after open.
func (s *Session) run() {
	g, gctx := errgroup.WithContext(s.ctx)
	stopTx := context.AfterFunc(gctx, func() { _ = s.tx.Close() })

	g.Go(func() error { return s.engine.Run(gctx) })
	g.Go(func() error { return s.tx.Run() })
	g.Go(func() error { return s.work(gctx) })

	err := g.Wait()
	stopTx()
	s.finish(err)
}

func (s *Session) work(ctx context.Context) error {
	tick := time.NewTicker(s.cfg.Tick)
	defer tick.Stop()
	telemetry := time.NewTicker(s.cfg.TelemetryInterval)
	defer telemetry.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.relay.Ready():
			if err := s.w.drain(ctx, time.Now()); err != nil {
				return newError("encoder failed", err)
			}
		case now := <-tick.C:
			if err := s.w.tick(now); err != nil {
				return err
			}
			s.publishSnapshot(now)
		case <-telemetry.C:
			s.emitTelemetry()
		}
	}
}

// finish releases every resource and settles the final state.
func (s *Session) finish(err error) {
	s.mu.RLock()
	stopping := s.stopping
	s.mu.RUnlock()

	if err != nil && stopping {
		s.logger.Debug("Ignoring error during stop", "error", err)
		err = nil
	}
	if err == nil {
		s.setState(StateStopping, "", "")
	}

	s.release()
	s.publishSnapshot(time.Now())

	if err != nil {
		se := newError("session failed", err)
		s.setState(StateFailed, se.Error(), se.Code)
		s.publish(events.SessionFailedEvent{
			SessionID: s.id,
			Code:      string(se.Code),
			Reason:    se.Error(),
			Timestamp: time.Now().Format(time.RFC3339),
		})
		sessionsTotal.WithLabelValues(string(StateFailed)).Inc()
	} else {
		s.setState(StateStopped, "", "")
		sessionsTotal.WithLabelValues(string(StateStopped)).Inc()
	}
	degradationLevel.Set(0)
	relayDepth.Set(0)
	close(s.done)
}

// release closes whatever open managed to bring up.
func (s *Session) release() {
	s.cancel()
	if s.enc != nil {
		if err := s.enc.Close(); err != nil {
			s.logger.Debug("Closing encoder", "error", err)
		}
	}
	if s.tx != nil {
		_ = s.tx.Close()
	}
	if s.capSrc != nil {
		_ = s.capSrc.Close()
	}
	if s.relay != nil {
		s.relay.Drain()
	}
}

// fail settles a session that never started running.
func (s *Session) fail(err error) *Error {
	se := newError("start session", err)
	s.setState(StateFailed, se.Error(), se.Code)
	s.publish(events.SessionFailedEvent{
		SessionID: s.id,
		Code:      string(se.Code),
		Reason:    se.Error(),
		Timestamp: time.Now().Format(time.RFC3339),
	})
	sessionsTotal.WithLabelValues(string(StateFailed)).Inc()
	close(s.done)
	return se
}

// stop asks the session to end and waits until it has.
func (s *Session) stop() {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	if s.State().Active() {
		s.setState(StateStopping, "", "")
	}
	s.cancel()
	<-s.done
}

func (s *Session) onFallback(st encoder.FallbackStatus) {
	kind := "init"
	if st.LiveSwap {
		kind = "live_swap"
	}
	backendFallbacks.WithLabelValues(kind).Inc()
	s.publish(events.BackendFallbackEvent{
		SessionID: s.id,
		Requested: string(st.Requested),
		Active:    st.Active,
		Reason:    st.Reason,
		LiveSwap:  st.LiveSwap,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func (s *Session) onTransition(tr degrade.Transition, eff degrade.Effective) {
	if tr.To == degrade.Normal {
		s.setState(StateRunning, "", "")
	} else {
		s.setState(StateDegraded, "", "")
	}
	s.publish(events.QualityChangedEvent{
		SessionID:   s.id,
		From:        tr.From.String(),
		To:          tr.To.String(),
		AvgDepth:    tr.Pressure.AvgDepth,
		PeakDepth:   tr.Pressure.PeakDepth,
		Width:       eff.Width,
		Height:      eff.Height,
		BitrateKbps: eff.BitrateKbps,
		DropFrames:  eff.DropFrames,
		Timestamp:   time.Now().Format(time.RFC3339),
	})
}

// publishSnapshot rebuilds the status from worker-owned state. It must run on
// the worker goroutine, or when the worker is not running.
func (s *Session) publishSnapshot(now time.Time) {
	st := s.build(now)
	s.mu.Lock()
	s.snap = st
	s.mu.Unlock()
}

func (s *Session) build(now time.Time) Status {
	st := Status{
		Source:      &SourceInfo{ID: s.src.ID, Kind: s.src.Kind, Title: s.src.Title},
		StartedAt:   s.startedAt,
		FPS:         s.req.FPS,
		BitrateKbps: s.req.BitrateKbps,
	}
	if s.engine == nil || s.w == nil {
		return st
	}

	cs := s.engine.Stats()
	rs := s.relay.Stats()
	p := s.w.window.Snapshot()

	if elapsed := now.Sub(s.rateAt); elapsed >= time.Second {
		s.captureFPS = float64(cs.Captured-s.rateCaptured) / elapsed.Seconds()
		s.encodeFPS = float64(s.w.c.encoded-s.rateEncoded) / elapsed.Seconds()
		s.rateAt, s.rateCaptured, s.rateEncoded = now, cs.Captured, s.w.c.encoded
	}

	desc := s.enc.Describe()
	st.Width, st.Height = s.w.base.Width, s.w.base.Height
	st.Level = s.w.ctrl.Level()
	st.Effective = s.w.eff
	st.Transitions = s.w.ctrl.Transitions()
	st.CaptureFPS = s.captureFPS
	st.EncodeFPS = s.encodeFPS
	st.FramesCaptured = cs.Captured
	st.FramesEncoded = s.w.c.encoded
	st.EncodeErrors = s.w.c.encodeErrors
	st.SendErrors = s.w.c.sendErrors
	st.KeyframeRequests = s.w.c.keyframeRequests
	st.Queue = QueueStatus{
		Capacity:     rs.Capacity,
		Depth:        rs.Depth,
		AvgDepth:     p.AvgDepth,
		PeakDepth:    p.PeakDepth,
		MaxAvgDepth:  p.MaxAvgDepth,
		MaxPeakDepth: p.MaxPeakDepth,
	}
	st.Dropped = DropCounts{
		RelayFull:     rs.DroppedFull,
		MissingBuffer: cs.MissingBuffer,
		RateSkipped:   cs.RateSkipped,
		PreEncode:     s.w.c.preEncode,
		DuringSend:    s.w.c.duringSend,
	}
	st.Encoder = s.enc.Status()
	st.Codec = &desc
	st.Transport = s.tx.Stats()
	return st
}

func (s *Session) emitTelemetry() {
	st := s.Status()
	s.publish(events.StatusEvent{
		SessionID: s.id,
		Status:    st,
		Timestamp: time.Now().Format(time.RFC3339),
	})
	s.logger.Debug("Session telemetry",
		"state", st.State, "level", st.Level,
		"capture_fps", st.CaptureFPS, "encode_fps", st.EncodeFPS,
		"depth", st.Queue.Depth, "dropped", st.Dropped.Total(),
		"encode_errors", st.EncodeErrors, "send_errors", st.SendErrors)
}
