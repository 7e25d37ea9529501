package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Identifier tags journal records.
const Identifier = "screenlink"

const defaultHistorySize = 500

// Logger is the subset of *slog.Logger used by packages that accept an injected logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config is the [logging] config section.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

type moduleLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

var (
	mu          sync.RWMutex
	cfg         = Config{Level: "info", Format: "text"}
	initialized bool
	modules     = make(map[string]*moduleLogger)
	rootLevel   = &slog.LevelVar{}
	history     = NewHistory(defaultHistorySize)
)

// Initialize applies cfg to the root logger and to every module logger,
// including those created before the call.
func Initialize(c Config) {
	mu.Lock()
	defer mu.Unlock()

	cfg = c
	initialized = true
	rootLevel.Set(levelOr(c.Level, slog.LevelInfo))

	for name, m := range modules {
		m.level.Set(moduleLevel(name))
		m.logger = slog.New(newHandler(c.Format, m.level)).With("module", name)
	}

	slog.SetDefault(slog.New(newHandler(c.Format, rootLevel)))
}

// GetLogger returns the logger for module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	mu.RLock()
	m, ok := modules[module]
	mu.RUnlock()
	if ok {
		return m.logger
	}

	mu.Lock()
	defer mu.Unlock()
	if m, ok := modules[module]; ok {
		return m.logger
	}

	lv := &slog.LevelVar{}
	lv.Set(moduleLevel(module))
	format := "text"
	if initialized {
		format = cfg.Format
	}
	m = &moduleLogger{
		logger: slog.New(newHandler(format, lv)).With("module", module),
		level:  lv,
	}
	modules[module] = m
	return m.logger
}

// SetLevel changes the level of one module at runtime. An empty module
// changes the global level and every module without an override.
func SetLevel(module, level string) bool {
	parsed, ok := parseLevel(level)
	if !ok {
		return false
	}

	mu.Lock()
	defer mu.Unlock()

	if module == "" {
		cfg.Level = level
		rootLevel.Set(parsed)
		for name, m := range modules {
			if _, override := cfg.Modules[name]; !override {
				m.level.Set(parsed)
			}
		}
		return true
	}

	if cfg.Modules == nil {
		cfg.Modules = make(map[string]string)
	}
	cfg.Modules[module] = level
	if m, ok := modules[module]; ok {
		m.level.Set(parsed)
	}
	return true
}

// Levels returns the effective level of every known module.
func Levels() map[string]string {
	mu.RLock()
	defer mu.RUnlock()

	out := make(map[string]string, len(modules)+1)
	out["global"] = levelName(rootLevel.Level())
	for name, m := range modules {
		out[name] = levelName(m.level.Level())
	}
	return out
}

// GetHistory returns the in-memory log history.
func GetHistory() *History {
	return history
}

// moduleLevel must be called with mu held.
func moduleLevel(module string) slog.Level {
	if s, ok := cfg.Modules[module]; ok {
		if l, ok := parseLevel(s); ok {
			return l
		}
	}
	return levelOr(cfg.Level, slog.LevelInfo)
}

func newHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var handlers []slog.Handler
	if stdoutUsable() {
		if format == "json" {
			handlers = append(handlers, slog.NewJSONHandler(os.Stdout, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stdout, opts))
		}
	}
	if JournalAvailable() {
		handlers = append(handlers, NewJournalHandler(level))
	}
	handlers = append(handlers, history.Handler(level))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return NewMultiHandler(handlers...)
}

// stdoutUsable is false when stdout is /dev/null or closed.
func stdoutUsable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&os.ModeCharDevice != 0 || mode&os.ModeNamedPipe != 0 || mode&os.ModeSocket != 0 || mode.IsRegular()
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return 0, false
}

func levelOr(s string, def slog.Level) slog.Level {
	if l, ok := parseLevel(s); ok {
		return l
	}
	return def
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warn"
	case l >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
