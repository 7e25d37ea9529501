package encoder

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/smazurov/screenlink/internal/logging"
	"github.com/smazurov/screenlink/internal/relay"
)

// DefaultFailureThreshold is the number of consecutive primary encode
// failures that triggers a live swap to the fallback.
const DefaultFailureThreshold = 5

// Preference is the backend a session asks for.
type Preference string

const (
	PreferAuto     Preference = "auto"
	PreferHardware Preference = "hardware"
	PreferSoftware Preference = "software"
)

// ParsePreference validates a preference string. Empty means auto.
func ParsePreference(s string) (Preference, error) {
	switch p := Preference(s); p {
	case "":
		return PreferAuto, nil
	case PreferAuto, PreferHardware, PreferSoftware:
		return p, nil
	}
	return "", fmt.Errorf("unknown encoder backend %q (want auto, hardware or software)", s)
}

// wantsHardware reports whether the primary backend should be tried.
func (p Preference) wantsHardware() bool {
	return p != PreferSoftware
}

// FallbackStatus tells apart "hardware never tried" from "hardware tried and failed".
type FallbackStatus struct {
	Requested         Preference `json:"requested"`
	Active            string     `json:"active"`
	ActiveHardware    bool       `json:"active_hardware"`
	HardwareAttempted bool       `json:"hardware_attempted"`
	Reason            string     `json:"reason,omitempty"`
	LiveSwap          bool       `json:"live_swap"`
	Consecutive       int        `json:"consecutive_failures"`
}

// CascadeOptions configures a Cascade.
type CascadeOptions struct {
	Preference       Preference
	FailureThreshold int

	// OnFallback runs on the caller's goroutine whenever the fallback takes over.
	OnFallback func(FallbackStatus)
}

type cascadeState int

const (
	stateIdle cascadeState = iota
	statePrimary
	stateFallback
	stateClosed
)

// Cascade selects between a primary (hardware) and a fallback (software)
// backend. At Open it tries the primary and falls back if it cannot start.
// While running, FailureThreshold consecutive primary failures swap to the
// fallback once; there is no way back to the primary within a session.
type Cascade struct {
	primary  Backend
	fallback Backend
	opts     CascadeOptions
	logger   *slog.Logger

	state    cascadeState
	settings Settings
	status   FallbackStatus
}

// NewCascade builds a cascade. primary may be nil when no hardware backend exists.
func NewCascade(primary, fallback Backend, opts CascadeOptions) *Cascade {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	if opts.Preference == "" {
		opts.Preference = PreferAuto
	}
	return &Cascade{
		primary:  primary,
		fallback: fallback,
		opts:     opts,
		logger:   logging.GetLogger("encoder"),
		status:   FallbackStatus{Requested: opts.Preference},
	}
}

// Open starts the preferred backend, falling back immediately if the primary
// cannot be initialized.
func (c *Cascade) Open(s Settings) error {
	if c.state != stateIdle {
		return fmt.Errorf("cascade already opened")
	}
	c.settings = s

	if c.opts.Preference.wantsHardware() {
		c.status.HardwareAttempted = true
		err := errors.New("no hardware backend configured")
		if c.primary != nil {
			err = c.primary.Open(s)
		}
		if err == nil {
			c.activate(statePrimary, c.primary)
			return nil
		}
		c.status.Reason = "primary init failed: " + err.Error()
		c.logger.Warn("Primary encoder unavailable, using fallback", "error", err)
	}

	if err := c.fallback.Open(s); err != nil {
		c.state = stateClosed
		return fmt.Errorf("%w: fallback %s: %w", ErrNoBackend, c.fallback.Name(), err)
	}
	c.activate(stateFallback, c.fallback)
	if c.status.HardwareAttempted && c.opts.OnFallback != nil {
		c.opts.OnFallback(c.status)
	}
	return nil
}

func (c *Cascade) activate(state cascadeState, b Backend) {
	c.state = state
	c.status.Active = b.Name()
	c.status.ActiveHardware = b.Hardware()
	c.status.Consecutive = 0
}

func (c *Cascade) active() Backend {
	switch c.state {
	case statePrimary:
		return c.primary
	case stateFallback:
		return c.fallback
	}
	return nil
}

// Encode encodes with the active backend and performs the live swap when the
// primary keeps failing.
func (c *Cascade) Encode(f *relay.Frame) ([]AccessUnit, error) {
	b := c.active()
	if b == nil {
		return nil, ErrClosed
	}

	aus, err := b.Encode(f)
	if err == nil {
		c.status.Consecutive = 0
		return aus, nil
	}

	c.status.Consecutive++
	if c.state == statePrimary && c.status.Consecutive >= c.opts.FailureThreshold {
		if swapErr := c.swap(err); swapErr != nil {
			return aus, swapErr
		}
	}
	return aus, err
}

func (c *Cascade) swap(cause error) error {
	failures := c.status.Consecutive
	if err := c.primary.Close(); err != nil {
		c.logger.Debug("Closing primary encoder", "error", err)
	}
	c.status.Reason = fmt.Sprintf("%d consecutive encode failures: %v", failures, cause)
	c.status.LiveSwap = true

	if err := c.fallback.Open(c.settings); err != nil {
		c.state = stateClosed
		return fmt.Errorf("%w: fallback %s after primary failure: %w", ErrNoBackend, c.fallback.Name(), err)
	}
	c.activate(stateFallback, c.fallback)
	c.logger.Warn("Swapped to fallback encoder", "from", c.primary.Name(), "to", c.fallback.Name(), "reason", c.status.Reason)

	if c.opts.OnFallback != nil {
		c.opts.OnFallback(c.status)
	}
	return nil
}

// RequestKeyframe forwards to the active backend.
func (c *Cascade) RequestKeyframe() {
	if b := c.active(); b != nil {
		b.RequestKeyframe()
	}
}

// Describe returns the active backend's descriptor, or the shared H.264
// descriptor before Open.
func (c *Cascade) Describe() CodecDescriptor {
	if b := c.active(); b != nil {
		return b.Describe()
	}
	return H264Descriptor()
}

// Reconfigure applies new settings to the active backend and remembers them
// for a later swap.
func (c *Cascade) Reconfigure(s Settings) error {
	c.settings = s
	if b := c.active(); b != nil {
		return b.Reconfigure(s)
	}
	return nil
}

// Status returns the backend selection state.
func (c *Cascade) Status() FallbackStatus {
	return c.status
}

// Close closes the active backend. Safe to call more than once.
func (c *Cascade) Close() error {
	b := c.active()
	c.state = stateClosed
	if b == nil {
		return nil
	}
	return b.Close()
}
