package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Entry is one record kept in History.
type Entry struct {
	Time    time.Time         `json:"time"`
	Level   string            `json:"level"`
	Module  string            `json:"module"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// History keeps the most recent log entries in memory.
type History struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// NewHistory keeps up to size entries.
func NewHistory(size int) *History {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &History{entries: make([]Entry, size)}
}

func (h *History) add(e Entry) {
	h.mu.Lock()
	h.entries[h.next] = e
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()
}

// Recent returns up to n entries, oldest first, optionally filtered by module.
// n <= 0 returns everything retained.
func (h *History) Recent(n int, module string) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var ordered []Entry
	if h.full {
		ordered = append(ordered, h.entries[h.next:]...)
	}
	ordered = append(ordered, h.entries[:h.next]...)

	out := make([]Entry, 0, len(ordered))
	for _, e := range ordered {
		if module == "" || e.Module == module {
			out = append(out, e)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// Handler returns a slog.Handler that records into h.
func (h *History) Handler(level slog.Leveler) slog.Handler {
	return &historyHandler{history: h, level: level}
}

type historyHandler struct {
	history *History
	level   slog.Leveler
	module  string
	attrs   map[string]string
	prefix  string
}

func (hh *historyHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= hh.level.Level()
}

func (hh *historyHandler) Handle(_ context.Context, r slog.Record) error {
	e := Entry{
		Time:    r.Time,
		Level:   levelName(r.Level),
		Module:  hh.module,
		Message: r.Message,
	}
	if len(hh.attrs) > 0 || r.NumAttrs() > 0 {
		e.Attrs = make(map[string]string, len(hh.attrs)+r.NumAttrs())
		for k, v := range hh.attrs {
			e.Attrs[k] = v
		}
		r.Attrs(func(a slog.Attr) bool {
			flatten(e.Attrs, hh.prefix, a)
			return true
		})
	}
	if e.Module == "" {
		e.Module = "app"
	}
	hh.history.add(e)
	return nil
}

func (hh *historyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &historyHandler{
		history: hh.history,
		level:   hh.level,
		module:  hh.module,
		prefix:  hh.prefix,
		attrs:   make(map[string]string, len(hh.attrs)+len(attrs)),
	}
	for k, v := range hh.attrs {
		next.attrs[k] = v
	}
	for _, a := range attrs {
		if a.Key == "module" && hh.prefix == "" {
			next.module = a.Value.String()
			continue
		}
		flatten(next.attrs, hh.prefix, a)
	}
	return next
}

func (hh *historyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return hh
	}
	next := *hh
	next.prefix = hh.prefix + name + "."
	return &next
}

func flatten(dst map[string]string, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			flatten(dst, prefix+a.Key+".", ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	dst[prefix+a.Key] = a.Value.String()
}
