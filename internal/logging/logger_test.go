package logging

import (
	"context"
	"log/slog"
	"testing"
)

func resetLoggers() {
	mu.Lock()
	modules = make(map[string]*moduleLogger)
	initialized = false
	cfg = Config{Level: "info", Format: "text"}
	mu.Unlock()
}

func TestModuleLevelOverride(t *testing.T) {
	resetLoggers()

	// Created before Initialize, must pick up the override.
	early := GetLogger("transport")

	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"transport": "debug",
			"api":       "warn",
		},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"transport", true, true, true},
		{"api", false, false, true},
		{"session", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			h := GetLogger(tt.module).Handler()
			ctx := context.Background()
			if got := h.Enabled(ctx, slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("Debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if got := h.Enabled(ctx, slog.LevelInfo); got != tt.wantInfo {
				t.Errorf("Info enabled = %v, want %v", got, tt.wantInfo)
			}
			if got := h.Enabled(ctx, slog.LevelWarn); got != tt.wantWarn {
				t.Errorf("Warn enabled = %v, want %v", got, tt.wantWarn)
			}
		})
	}

	if !early.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Logger created before Initialize did not follow the module override")
	}
}

func TestSetLevel(t *testing.T) {
	resetLoggers()
	Initialize(Config{Level: "info", Format: "text", Modules: map[string]string{"capture": "error"}})

	enc := GetLogger("encoder")
	capt := GetLogger("capture")

	if !SetLevel("encoder", "debug") {
		t.Fatal("SetLevel rejected a valid level")
	}
	if !enc.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Expected encoder at debug")
	}

	if SetLevel("encoder", "loud") {
		t.Error("SetLevel accepted an invalid level")
	}

	SetLevel("", "warn")
	if capt.Handler().Enabled(context.Background(), slog.LevelWarn) {
		t.Error("Global change must not override the capture module override")
	}
	if got := Levels()["global"]; got != "warn" {
		t.Errorf("Expected global warn, got %q", got)
	}
}

func TestHistory(t *testing.T) {
	h := NewHistory(3)
	logger := slog.New(h.Handler(slog.LevelDebug)).With("module", "relay")

	for _, msg := range []string{"one", "two", "three", "four"} {
		logger.Info(msg, "depth", 4)
	}
	slog.New(h.Handler(slog.LevelDebug)).With("module", "api").Warn("other")

	all := h.Recent(0, "")
	if len(all) != 3 {
		t.Fatalf("Expected 3 retained entries, got %d", len(all))
	}
	if all[0].Message != "three" || all[2].Message != "other" {
		t.Errorf("Unexpected order: %q .. %q", all[0].Message, all[2].Message)
	}

	relay := h.Recent(10, "relay")
	if len(relay) != 2 {
		t.Fatalf("Expected 2 relay entries, got %d", len(relay))
	}
	if relay[1].Attrs["depth"] != "4" {
		t.Errorf("Expected depth attr 4, got %q", relay[1].Attrs["depth"])
	}
	if relay[1].Module != "relay" {
		t.Errorf("Expected module relay, got %q", relay[1].Module)
	}

	if got := h.Recent(1, ""); len(got) != 1 || got[0].Message != "other" {
		t.Errorf("Recent(1) = %+v", got)
	}
}

func TestHistoryGroups(t *testing.T) {
	h := NewHistory(4)
	slog.New(h.Handler(slog.LevelInfo)).WithGroup("rtcp").Info("rr", "rtt_ms", 12)

	e := h.Recent(0, "")[0]
	if e.Attrs["rtcp.rtt_ms"] != "12" {
		t.Errorf("Expected grouped attribute, got %v", e.Attrs)
	}
	if e.Module != "app" {
		t.Errorf("Expected default module app, got %q", e.Module)
	}
}
