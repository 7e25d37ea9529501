// Package sources enumerates what can be shared: monitors, top-level windows
// and applications (all windows of one process grouped under one source).
package sources

import (
	"errors"
	"strconv"
)

// Kind is the type of capture surface.
type Kind string

const (
	KindMonitor     Kind = "monitor"
	KindWindow      Kind = "window"
	KindApplication Kind = "application"
)

// ErrNotFound is returned when a source id is not in the catalog.
var ErrNotFound = errors.New("source not found")

// Source is one capturable surface. Sources are immutable once enumerated.
type Source struct {
	ID      string `json:"id" doc:"Stable identifier"`
	Kind    Kind   `json:"kind" enum:"monitor,window,application"`
	Title   string `json:"title"`
	Process string `json:"process,omitempty" doc:"Owning process name"`
	PID     int    `json:"pid,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	X       int    `json:"x"`
	Y       int    `json:"y"`

	// WindowID is the X11 window captured for window and application sources.
	WindowID string `json:"window_id,omitempty"`
	// Windows lists the member windows of an application source.
	Windows []string `json:"windows,omitempty"`
	Primary bool     `json:"primary,omitempty"`
}

func monitorID(name string) string { return "monitor:" + name }
func windowID(id string) string    { return "window:" + id }

// applicationID is synthetic: the process name plus its pid.
func applicationID(process string, pid int) string {
	return "application:" + process + ":" + strconv.Itoa(pid)
}
