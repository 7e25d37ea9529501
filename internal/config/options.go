package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/smazurov/screenlink/internal/capture"
	"github.com/smazurov/screenlink/internal/session"
	"github.com/smazurov/screenlink/internal/transport"
)

// Options is the flat service configuration with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"screenlink.toml"`

	// Server settings
	Port string `help:"Control API listen address" short:"p" default:":8091" toml:"server.port" env:"SERVER_PORT"`

	// Auth settings, both empty disables basic auth
	AuthUsername string `help:"Basic auth username" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Transport settings
	TransportHost           string `help:"Router media host" default:"127.0.0.1" toml:"transport.host" env:"TRANSPORT_HOST"`
	TransportPort           int    `help:"Router media UDP port" default:"5004" toml:"transport.port" env:"TRANSPORT_PORT"`
	TransportRTCPPort       int    `help:"Router RTCP port, 0 multiplexes RTCP on the media port" default:"0" toml:"transport.rtcp_port" env:"TRANSPORT_RTCP_PORT"`
	TransportPayloadType    int    `help:"RTP payload type" default:"96" toml:"transport.payload_type" env:"TRANSPORT_PAYLOAD_TYPE"`
	TransportSSRC           int    `help:"RTP SSRC, 0 derives one per session" default:"0" toml:"transport.ssrc" env:"TRANSPORT_SSRC"`
	TransportMTU            int    `help:"Maximum RTP packet size in bytes" default:"1200" toml:"transport.mtu" env:"TRANSPORT_MTU"`
	TransportNACK           bool   `help:"Answer NACKs from a send history" default:"false" toml:"transport.nack" env:"TRANSPORT_NACK"`
	TransportReportInterval string `help:"RTCP sender report interval" default:"1s" toml:"transport.report_interval" env:"TRANSPORT_REPORT_INTERVAL"`
	TransportRemoteTimeout  string `help:"Router silence before it is reported unreachable" default:"5s" toml:"transport.remote_timeout" env:"TRANSPORT_REMOTE_TIMEOUT"`

	// Session settings
	SessionFPS               int    `help:"Default frame rate" default:"30" toml:"session.fps" env:"SESSION_FPS"`
	SessionBitrateKbps       int    `help:"Default bitrate in kbps" default:"2500" toml:"session.bitrate_kbps" env:"SESSION_BITRATE_KBPS"`
	SessionWidth             int    `help:"Default output width, 0 keeps the source size" default:"0" toml:"session.width" env:"SESSION_WIDTH"`
	SessionHeight            int    `help:"Default output height, 0 keeps the source size" default:"0" toml:"session.height" env:"SESSION_HEIGHT"`
	SessionBackend           string `help:"Default encoder backend (auto, hardware, software)" default:"auto" toml:"session.encoder_backend" env:"SESSION_ENCODER_BACKEND"`
	SessionRelayCapacity     int    `help:"Frame relay capacity" default:"8" toml:"session.relay_capacity" env:"SESSION_RELAY_CAPACITY"`
	SessionTelemetryInterval string `help:"Status telemetry interval" default:"2s" toml:"session.telemetry_interval" env:"SESSION_TELEMETRY_INTERVAL"`
	SessionFailureThreshold  int    `help:"Consecutive hardware encode failures before the software swap" default:"5" toml:"session.failure_threshold" env:"SESSION_FAILURE_THRESHOLD"`
	SessionGOP               int    `help:"Keyframe interval in frames, 0 uses two seconds" default:"0" toml:"session.gop" env:"SESSION_GOP"`

	// Encoder settings
	EncoderFamily      string `help:"Hardware encoder family (auto, vaapi, nvenc, qsv, rkmpp, v4l2m2m)" default:"auto" toml:"encoder.family" env:"ENCODER_FAMILY"`
	EncoderProbeReport string `help:"Encoder probe report written by probe-encoders" default:"encoders.toml" toml:"encoder.probe_report" env:"ENCODER_PROBE_REPORT"`

	// Degradation settings
	DegradeTick       string `help:"Degradation evaluation interval" default:"250ms" toml:"degrade.tick" env:"DEGRADE_TICK"`
	DegradeWindowSize int    `help:"Pressure window size in ticks" default:"16" toml:"degrade.window_size" env:"DEGRADE_WINDOW_SIZE"`

	// Failure window settings
	FailureWindow string `help:"Rolling failure window" default:"12s" toml:"failure.window" env:"FAILURE_WINDOW"`

	// Capture settings
	CaptureDisplay   string `help:"X11 display" default:":0" toml:"capture.display" env:"CAPTURE_DISPLAY"`
	CaptureCursor    bool   `help:"Include the cursor" default:"true" toml:"capture.cursor" env:"CAPTURE_CURSOR"`
	CaptureIndicator bool   `help:"Outline the captured region on screen" default:"false" toml:"capture.indicator" env:"CAPTURE_INDICATOR"`

	// Logging settings
	LoggingLevel     string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat    string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingSources   string `help:"Source catalog logging level" default:"info" toml:"logging.sources" env:"LOGGING_SOURCES"`
	LoggingCapture   string `help:"Capture logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingRelay     string `help:"Relay logging level" default:"info" toml:"logging.relay" env:"LOGGING_RELAY"`
	LoggingEncoder   string `help:"Encoder logging level" default:"info" toml:"logging.encoder" env:"LOGGING_ENCODER"`
	LoggingTransport string `help:"Transport logging level" default:"info" toml:"logging.transport" env:"LOGGING_TRANSPORT"`
	LoggingSession   string `help:"Session logging level" default:"info" toml:"logging.session" env:"LOGGING_SESSION"`
	LoggingAPI       string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingConfig    string `help:"Config logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
}

// LoggingModules returns the per-module levels.
func (o *Options) LoggingModules() map[string]string {
	return map[string]string{
		"sources":   o.LoggingSources,
		"capture":   o.LoggingCapture,
		"relay":     o.LoggingRelay,
		"encoder":   o.LoggingEncoder,
		"transport": o.LoggingTransport,
		"session":   o.LoggingSession,
		"api":       o.LoggingAPI,
		"config":    o.LoggingConfig,
	}
}

// Defaults returns the session defaults carried by the options.
func (o *Options) Defaults() session.Defaults {
	return session.Defaults{
		FPS:         o.SessionFPS,
		BitrateKbps: o.SessionBitrateKbps,
		Width:       o.SessionWidth,
		Height:      o.SessionHeight,
		Backend:     o.SessionBackend,
	}
}

// SessionConfig builds the supervisor configuration from the options and the
// structured tables of the config file.
func (o *Options) SessionConfig(tuning Tuning) (session.Config, error) {
	var errs []error
	duration := func(name, s string) time.Duration {
		if s == "" {
			return 0
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		return d
	}

	if o.TransportPayloadType < 0 || o.TransportPayloadType > 127 {
		errs = append(errs, fmt.Errorf("transport.payload_type %d out of range 0-127", o.TransportPayloadType))
	}
	if o.TransportSSRC < 0 || o.TransportSSRC > 1<<32-1 {
		errs = append(errs, fmt.Errorf("transport.ssrc %d out of range", o.TransportSSRC))
	}

	cfg := session.Config{
		Transport: transport.Config{
			RemoteAddr:     net.JoinHostPort(o.TransportHost, strconv.Itoa(o.TransportPort)),
			RTCPPort:       o.TransportRTCPPort,
			PayloadType:    uint8(o.TransportPayloadType),
			SSRC:           uint32(o.TransportSSRC),
			MTU:            o.TransportMTU,
			NACK:           o.TransportNACK,
			ReportInterval: duration("transport.report_interval", o.TransportReportInterval),
			RemoteTimeout:  duration("transport.remote_timeout", o.TransportRemoteTimeout),
		},
		Capture: capture.Options{
			Display:   o.CaptureDisplay,
			Cursor:    o.CaptureCursor,
			Indicator: o.CaptureIndicator,
		},
		Defaults:          o.Defaults(),
		RelayCapacity:     o.SessionRelayCapacity,
		Tick:              duration("degrade.tick", o.DegradeTick),
		WindowSize:        o.DegradeWindowSize,
		TelemetryInterval: duration("session.telemetry_interval", o.SessionTelemetryInterval),
		GOP:               o.SessionGOP,
		Thresholds:        tuning.Thresholds,
		FailureWindow:     duration("failure.window", o.FailureWindow),
		FailureThreshold:  o.SessionFailureThreshold,
		HardwareFamily:    o.EncoderFamily,
		ProbeReportPath:   o.EncoderProbeReport,
	}
	if tuning.Profile != nil {
		cfg.Profile = *tuning.Profile
	}
	if tuning.Ceilings != nil {
		cfg.Ceilings = *tuning.Ceilings
	}
	if len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}
	return cfg, nil
}
