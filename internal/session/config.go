package session

import (
	"fmt"
	"time"

	"github.com/smazurov/screenlink/internal/capture"
	"github.com/smazurov/screenlink/internal/degrade"
	"github.com/smazurov/screenlink/internal/encoder"
	"github.com/smazurov/screenlink/internal/relay"
	"github.com/smazurov/screenlink/internal/transport"
)

// Defaults are applied to start requests that leave a parameter out.
// They can change between sessions; a running session keeps what it started with.
type Defaults struct {
	FPS         int    `json:"fps"`
	BitrateKbps int    `json:"bitrate_kbps"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Backend     string `json:"encoder_backend"`
}

// Validate checks that the defaults form a valid request on their own.
func (d Defaults) Validate() error {
	_, _, err := Request{SourceID: "defaults"}.resolve(d)
	return err
}

// Config is the static supervisor configuration.
type Config struct {
	// Transport is the template for every session's sender.
	Transport transport.Config
	// Capture carries the display and the cursor and indicator toggles.
	Capture capture.Options

	Defaults Defaults

	RelayCapacity     int
	Tick              time.Duration
	WindowSize        int
	TelemetryInterval time.Duration
	GOP               int

	// Thresholds overrides the defaults derived from RelayCapacity.
	Thresholds *degrade.Thresholds
	Profile    degrade.Profile

	FailureWindow time.Duration
	Ceilings      degrade.Ceilings

	// FailureThreshold is the consecutive primary encode failures that swap
	// to the software backend.
	FailureThreshold int
	// HardwareFamily names the hardware encoder family, or "auto".
	HardwareFamily  string
	ProbeReportPath string
}

// Defaults for Config.
const (
	DefaultFPS               = 30
	DefaultBitrateKbps       = 2500
	DefaultTelemetryInterval = 2 * time.Second
)

func (c *Config) setDefaults() {
	if c.Defaults.FPS <= 0 {
		c.Defaults.FPS = DefaultFPS
	}
	if c.Defaults.BitrateKbps <= 0 {
		c.Defaults.BitrateKbps = DefaultBitrateKbps
	}
	if c.RelayCapacity <= 0 {
		c.RelayCapacity = relay.DefaultCapacity
	}
	c.RelayCapacity = max(relay.MinCapacity, min(c.RelayCapacity, relay.MaxCapacity))
	if c.Tick <= 0 {
		c.Tick = degrade.DefaultTickMillis * time.Millisecond
	}
	if c.WindowSize <= 0 {
		c.WindowSize = degrade.DefaultWindowSize
	}
	if c.TelemetryInterval <= 0 {
		c.TelemetryInterval = DefaultTelemetryInterval
	}
	if c.Profile == (degrade.Profile{}) {
		c.Profile = degrade.DefaultProfile()
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = degrade.DefaultFailureWindow
	}
	if c.Ceilings == (degrade.Ceilings{}) {
		c.Ceilings = degrade.DefaultCeilings()
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = encoder.DefaultFailureThreshold
	}
	if c.HardwareFamily == "" {
		c.HardwareFamily = "auto"
	}
}

func (c *Config) thresholds() degrade.Thresholds {
	if c.Thresholds != nil {
		return *c.Thresholds
	}
	return degrade.DefaultThresholds(c.RelayCapacity)
}

// Validate checks the degradation configuration.
func (c *Config) Validate() error {
	if err := c.thresholds().Validate(); err != nil {
		return err
	}
	if err := c.Profile.Validate(); err != nil {
		return err
	}
	if c.Transport.RemoteAddr == "" {
		return fmt.Errorf("transport remote address is required")
	}
	return nil
}

// Request asks for a new session. Zero values take the supervisor defaults.
type Request struct {
	SourceID    string `json:"source_id"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	FPS         int    `json:"fps,omitempty"`
	BitrateKbps int    `json:"bitrate_kbps,omitempty"`
	Backend     string `json:"encoder_backend,omitempty"`
}

// resolve fills in defaults and validates ranges.
func (r Request) resolve(d Defaults) (Request, encoder.Preference, error) {
	if r.SourceID == "" {
		return r, "", fmt.Errorf("%w: source_id is required", ErrInvalidRequest)
	}
	if r.FPS == 0 {
		r.FPS = d.FPS
	}
	if r.BitrateKbps == 0 {
		r.BitrateKbps = d.BitrateKbps
	}
	if r.Width == 0 && r.Height == 0 {
		r.Width, r.Height = d.Width, d.Height
	}
	if r.Backend == "" {
		r.Backend = d.Backend
	}

	if r.FPS < 1 || r.FPS > 120 {
		return r, "", fmt.Errorf("%w: fps %d out of range 1-120", ErrInvalidRequest, r.FPS)
	}
	if r.BitrateKbps < 100 || r.BitrateKbps > 100000 {
		return r, "", fmt.Errorf("%w: bitrate %d kbps out of range 100-100000", ErrInvalidRequest, r.BitrateKbps)
	}
	if (r.Width == 0) != (r.Height == 0) || r.Width < 0 || r.Height < 0 {
		return r, "", fmt.Errorf("%w: width and height must be given together", ErrInvalidRequest)
	}
	if r.Width != 0 && (r.Width < 16 || r.Height < 16) {
		return r, "", fmt.Errorf("%w: resolution %dx%d too small", ErrInvalidRequest, r.Width, r.Height)
	}
	pref, err := encoder.ParsePreference(r.Backend)
	if err != nil {
		return r, "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	r.Backend = string(pref)
	return r, pref, nil
}
