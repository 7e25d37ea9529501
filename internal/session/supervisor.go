package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/smazurov/screenlink/internal/capture"
	"github.com/smazurov/screenlink/internal/encoder"
	"github.com/smazurov/screenlink/internal/events"
	"github.com/smazurov/screenlink/internal/logging"
	"github.com/smazurov/screenlink/internal/sources"
	"github.com/smazurov/screenlink/internal/transport"
)

// Catalog resolves source ids.
type Catalog interface {
	Lookup(ctx context.Context, id string) (sources.Source, error)
}

// CaptureOpener opens a frame source for src.
type CaptureOpener func(ctx context.Context, src sources.Source, opts capture.Options) (capture.FrameSource, error)

// BackendFactory returns the primary and fallback encoder backends for a
// preference. primary may be nil.
type BackendFactory func(ctx context.Context, pref encoder.Preference) (primary, fallback encoder.Backend)

// Dialer opens the transport for a session.
type Dialer func(cfg transport.Config, desc encoder.CodecDescriptor) (Transport, error)

type factories struct {
	openCapture CaptureOpener
	backends    BackendFactory
	dial        Dialer
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithCaptureOpener replaces the x11grab capture.
func WithCaptureOpener(fn CaptureOpener) Option {
	return func(sv *Supervisor) { sv.deps.openCapture = fn }
}

// WithBackends replaces the ffmpeg encoder backends.
func WithBackends(fn BackendFactory) Option {
	return func(sv *Supervisor) { sv.deps.backends = fn }
}

// WithDialer replaces the RTP sender.
func WithDialer(fn Dialer) Option {
	return func(sv *Supervisor) { sv.deps.dial = fn }
}

// WithEventBus publishes session notifications on bus.
func WithEventBus(bus *events.Bus) Option {
	return func(sv *Supervisor) { sv.bus = bus }
}

// Supervisor enforces a single active session.
type Supervisor struct {
	cfg     Config
	catalog Catalog
	deps    factories
	bus     *events.Bus
	logger  *slog.Logger

	// mu serializes Start and Stop.
	mu       sync.Mutex
	cur      atomic.Pointer[Session]
	defaults atomic.Pointer[Defaults]
}

// NewSupervisor validates cfg and returns an idle supervisor.
func NewSupervisor(cfg Config, catalog Catalog, opts ...Option) (*Supervisor, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sv := &Supervisor{
		cfg:     cfg,
		catalog: catalog,
		logger:  logging.GetLogger("session"),
	}
	sv.deps = factories{
		openCapture: openX11,
		backends:    sv.ffmpegBackends,
		dial:        dialRTP,
	}
	for _, opt := range opts {
		opt(sv)
	}
	d := cfg.Defaults
	sv.defaults.Store(&d)
	sessionState.Set(StateIdle.gaugeValue())
	return sv, nil
}

func openX11(ctx context.Context, src sources.Source, opts capture.Options) (capture.FrameSource, error) {
	return capture.OpenX11(ctx, src, opts)
}

func dialRTP(cfg transport.Config, desc encoder.CodecDescriptor) (Transport, error) {
	return transport.Dial(cfg, desc)
}

// ffmpegBackends resolves the hardware family on every start so a new probe
// report is picked up without a restart.
func (sv *Supervisor) ffmpegBackends(ctx context.Context, pref encoder.Preference) (encoder.Backend, encoder.Backend) {
	fallback := encoder.NewPipeBackend(encoder.Software)
	if pref == encoder.PreferSoftware {
		return nil, fallback
	}
	family, err := encoder.ResolveHardware(ctx, sv.cfg.HardwareFamily, sv.cfg.ProbeReportPath)
	if err != nil {
		sv.logger.Warn("No hardware encoder", "family", sv.cfg.HardwareFamily, "error", err)
		return encoder.Unavailable(sv.cfg.HardwareFamily, err), fallback
	}
	return encoder.NewPipeBackend(family), fallback
}

// Defaults returns the parameters applied to requests that omit them.
func (sv *Supervisor) Defaults() Defaults {
	return *sv.defaults.Load()
}

// SetDefaults changes the defaults for future sessions.
func (sv *Supervisor) SetDefaults(d Defaults) {
	if d.FPS <= 0 {
		d.FPS = DefaultFPS
	}
	if d.BitrateKbps <= 0 {
		d.BitrateKbps = DefaultBitrateKbps
	}
	sv.defaults.Store(&d)
	sv.logger.Info("Session defaults updated", "fps", d.FPS, "bitrate_kbps", d.BitrateKbps,
		"width", d.Width, "height", d.Height, "encoder_backend", d.Backend)
}

// Start begins sharing req.SourceID. An active session is stopped first and
// has reached Stopped before the new one starts.
func (sv *Supervisor) Start(ctx context.Context, req Request) (Status, error) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	req, pref, err := req.resolve(sv.Defaults())
	if err != nil {
		return sv.status(), newError("invalid request", err)
	}
	src, err := sv.catalog.Lookup(ctx, req.SourceID)
	if err != nil {
		return sv.status(), newError("lookup source", err)
	}

	if cur := sv.cur.Load(); cur != nil && !cur.State().Terminal() {
		sv.logger.Info("Stopping active session before starting a new one", "session", cur.ID())
		cur.stop()
	}

	s := newSession(sv.cfg, sv.deps, sv.bus, req, pref, src)
	sv.cur.Store(s)
	if err := s.open(ctx); err != nil {
		se := s.fail(err)
		return s.Status(), se
	}
	go s.run()
	return s.Status(), nil
}

// Stop ends the active session and returns its final status. Stopping when
// nothing runs is not an error: the last session's status is returned again.
func (sv *Supervisor) Stop() Status {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	s := sv.cur.Load()
	if s == nil {
		return idleStatus()
	}
	s.stop()
	return s.Status()
}

// Status returns the active session's status, or an inactive status when no
// session is starting, running or degraded.
func (sv *Supervisor) Status() Status {
	return sv.status()
}

func (sv *Supervisor) status() Status {
	s := sv.cur.Load()
	if s == nil || !s.State().Active() {
		return idleStatus()
	}
	return s.Status()
}

// Current returns the most recent session, or nil.
func (sv *Supervisor) Current() *Session {
	return sv.cur.Load()
}
