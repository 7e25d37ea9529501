package events

// Event type constants for kelindar/event.
const (
	TypeStatus uint32 = iota + 1
	TypeStateChanged
	TypeQualityChanged
	TypeSessionFailed
	TypeBackendFallback
	TypeSourcesRefreshed
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// StatusEvent is the periodic telemetry snapshot of the active session.
type StatusEvent struct {
	SessionID string `json:"session_id" example:"6f1c2b8e-3d1a-4c52-9a57-0b2f5c1e7d44" doc:"Session identifier"`
	Status    any    `json:"status" doc:"Full session status"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Snapshot time"`
}

// Type returns the event type identifier for StatusEvent.
func (e StatusEvent) Type() uint32 { return TypeStatus }

// StateChangedEvent is published on every session state transition.
type StateChangedEvent struct {
	SessionID string `json:"session_id" doc:"Session identifier"`
	From      string `json:"from" example:"running" doc:"Previous state"`
	To        string `json:"to" example:"degraded" doc:"New state"`
	Reason    string `json:"reason,omitempty" doc:"Failure reason when To is failed"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Transition time"`
}

// Type returns the event type identifier for StateChangedEvent.
func (e StateChangedEvent) Type() uint32 { return TypeStateChanged }

// QualityChangedEvent is published when the degradation level changes.
type QualityChangedEvent struct {
	SessionID   string  `json:"session_id" doc:"Session identifier"`
	From        string  `json:"from" example:"normal" doc:"Previous degradation level"`
	To          string  `json:"to" example:"level1_frame_drop" doc:"New degradation level"`
	AvgDepth    float64 `json:"avg_depth" doc:"Average relay occupancy that caused the change"`
	PeakDepth   int     `json:"peak_depth" doc:"Peak relay occupancy that caused the change"`
	Width       int     `json:"width" doc:"Effective encode width"`
	Height      int     `json:"height" doc:"Effective encode height"`
	BitrateKbps int     `json:"bitrate_kbps" doc:"Effective target bitrate"`
	DropFrames  bool    `json:"drop_frames" doc:"Whether frames are dropped before encode"`
	Timestamp   string  `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Change time"`
}

// Type returns the event type identifier for QualityChangedEvent.
func (e QualityChangedEvent) Type() uint32 { return TypeQualityChanged }

// SessionFailedEvent is published when a session ends in the failed state.
type SessionFailedEvent struct {
	SessionID string `json:"session_id" doc:"Session identifier"`
	Code      string `json:"code" example:"sustained_failure" doc:"Failure class"`
	Reason    string `json:"reason" doc:"Human readable failure reason"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Failure time"`
}

// Type returns the event type identifier for SessionFailedEvent.
func (e SessionFailedEvent) Type() uint32 { return TypeSessionFailed }

// BackendFallbackEvent is informational: the software encoder took over.
type BackendFallbackEvent struct {
	SessionID string `json:"session_id" doc:"Session identifier"`
	Requested string `json:"requested" example:"auto" doc:"Requested backend preference"`
	Active    string `json:"active" example:"software" doc:"Backend now encoding"`
	Reason    string `json:"reason" doc:"Why the primary backend was abandoned"`
	LiveSwap  bool   `json:"live_swap" doc:"True when the swap happened mid-session"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Fallback time"`
}

// Type returns the event type identifier for BackendFallbackEvent.
func (e BackendFallbackEvent) Type() uint32 { return TypeBackendFallback }

// SourcesRefreshedEvent is published after the source catalog is re-enumerated.
type SourcesRefreshedEvent struct {
	Count     int    `json:"count" doc:"Number of capturable sources"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Enumeration time"`
}

// Type returns the event type identifier for SourcesRefreshedEvent.
func (e SourcesRefreshedEvent) Type() uint32 { return TypeSourcesRefreshed }
