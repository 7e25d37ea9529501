package session

import (
	"time"

	"github.com/smazurov/screenlink/internal/degrade"
	"github.com/smazurov/screenlink/internal/encoder"
	"github.com/smazurov/screenlink/internal/sources"
	"github.com/smazurov/screenlink/internal/transport"
)

// SourceInfo identifies the shared surface.
type SourceInfo struct {
	ID    string       `json:"id"`
	Kind  sources.Kind `json:"kind"`
	Title string       `json:"title"`
}

// QueueStatus describes relay occupancy.
type QueueStatus struct {
	Capacity     int     `json:"capacity"`
	Depth        int     `json:"depth"`
	AvgDepth     float64 `json:"avg_depth"`
	PeakDepth    int     `json:"peak_depth"`
	MaxAvgDepth  float64 `json:"max_avg_depth"`
	MaxPeakDepth int     `json:"max_peak_depth"`
}

// DropCounts break dropped frames out by cause. They never decrease within a session.
type DropCounts struct {
	// RelayFull were evicted from a full relay.
	RelayFull uint64 `json:"relay_full"`
	// MissingBuffer arrived while every capture buffer was in flight.
	MissingBuffer uint64 `json:"missing_buffer"`
	// RateSkipped arrived faster than the target frame rate.
	RateSkipped uint64 `json:"rate_skipped"`
	// PreEncode were dropped by the frame-drop degradation level.
	PreEncode uint64 `json:"pre_encode"`
	// DuringSend were access units with at least one packet that failed to send.
	DuringSend uint64 `json:"during_send"`
}

// Total returns the sum over every cause.
func (d DropCounts) Total() uint64 {
	return d.RelayFull + d.MissingBuffer + d.RateSkipped + d.PreEncode + d.DuringSend
}

// Status is a consistent snapshot of a session.
type Status struct {
	Active    bool        `json:"active"`
	SessionID string      `json:"session_id,omitempty"`
	State     State       `json:"state"`
	Reason    string      `json:"reason,omitempty"`
	Code      Code        `json:"code,omitempty"`
	Source    *SourceInfo `json:"source,omitempty"`
	StartedAt time.Time   `json:"started_at,omitzero"`

	// Requested operating point.
	Width       int `json:"width,omitempty"`
	Height      int `json:"height,omitempty"`
	FPS         int `json:"fps,omitempty"`
	BitrateKbps int `json:"bitrate_kbps,omitempty"`

	Level       degrade.Level     `json:"level"`
	Effective   degrade.Effective `json:"effective"`
	Transitions uint64            `json:"level_transitions"`

	CaptureFPS float64 `json:"capture_fps"`
	EncodeFPS  float64 `json:"encode_fps"`

	FramesCaptured   uint64 `json:"frames_captured"`
	FramesEncoded    uint64 `json:"frames_encoded"`
	EncodeErrors     uint64 `json:"encode_errors"`
	SendErrors       uint64 `json:"send_errors"`
	KeyframeRequests uint64 `json:"keyframe_requests"`

	Queue   QueueStatus `json:"queue"`
	Dropped DropCounts  `json:"dropped"`

	Encoder   encoder.FallbackStatus   `json:"encoder"`
	Codec     *encoder.CodecDescriptor `json:"codec,omitempty"`
	Transport transport.Stats          `json:"transport"`
}

// idleStatus is returned when no session is active.
func idleStatus() Status {
	return Status{State: StateIdle}
}
