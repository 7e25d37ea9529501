package models

import (
	"time"

	"github.com/smazurov/screenlink/internal/encoder"
	"github.com/smazurov/screenlink/internal/logging"
	"github.com/smazurov/screenlink/internal/metrics"
	"github.com/smazurov/screenlink/internal/session"
	"github.com/smazurov/screenlink/internal/sources"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
	Version string `json:"version" example:"v0.3.0" doc:"Build version"`
}

type HealthResponse struct {
	Body HealthData
}

// Source models
type SourceListInput struct {
	Refresh bool `query:"refresh" doc:"Re-enumerate monitors and windows before answering"`
}

type SourceListData struct {
	Sources      []sources.Source `json:"sources" doc:"Shareable monitors, windows and applications"`
	Count        int              `json:"count" example:"3" doc:"Number of sources"`
	EnumeratedAt time.Time        `json:"enumerated_at" doc:"When the list was last enumerated"`
}

type SourceListResponse struct {
	Body SourceListData
}

type ThumbnailInput struct {
	SourceID string `path:"source_id" example:"monitor:HDMI-1" doc:"Source identifier"`
	Width    int    `query:"width" minimum:"16" maximum:"1920" example:"320" doc:"Maximum thumbnail width"`
}

type ThumbnailResponse struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	Body         []byte
}

// Session models
type StartSessionData struct {
	SourceID    string `json:"source_id" example:"window:0x03a00007" doc:"Source to share"`
	Width       int    `json:"width,omitempty" example:"1280" doc:"Output width, requires height"`
	Height      int    `json:"height,omitempty" example:"720" doc:"Output height, requires width"`
	FPS         int    `json:"fps,omitempty" example:"30" doc:"Target frame rate (1-120)"`
	BitrateKbps int    `json:"bitrate_kbps,omitempty" example:"2500" doc:"Target bitrate in kbps"`
	Backend     string `json:"encoder_backend,omitempty" enum:"auto,hardware,software" doc:"Encoder backend preference"`
}

type StartSessionRequest struct {
	Body StartSessionData
}

type SessionResponse struct {
	Body session.Status
}

type DefaultsResponse struct {
	Body session.Defaults
}

// Encoder models
type EncoderData struct {
	Families []encoder.Family      `json:"families" doc:"Known H.264 encoder families"`
	Report   *encoder.ProbeReport `json:"report,omitempty" doc:"Last hardware probe report"`
	Selected string               `json:"selected" example:"auto" doc:"Configured hardware family"`
	Load     []metrics.DeviceLoad `json:"load,omitempty" doc:"Last hardware engine load sample"`
}

type EncodersResponse struct {
	Body EncoderData
}

// Log models
type LogsInput struct {
	Limit  int    `query:"limit" minimum:"0" maximum:"5000" default:"200" doc:"Most recent entries to return"`
	Module string `query:"module" example:"transport" doc:"Only entries of this module"`
}

type LogsData struct {
	Entries []logging.Entry `json:"entries"`
	Count   int             `json:"count"`
}

type LogsResponse struct {
	Body LogsData
}

type LogLevelsResponse struct {
	Body map[string]string
}

type SetLogLevelRequest struct {
	Body struct {
		Module string `json:"module,omitempty" example:"transport" doc:"Module name, empty for the global level"`
		Level  string `json:"level" enum:"debug,info,warn,error" doc:"New level"`
	}
}
