package capture

import (
	"errors"
	"testing"

	"github.com/smazurov/screenlink/internal/sources"
)

func TestParams_OutputSize(t *testing.T) {
	src := sources.Source{ID: "monitor:DP-1", Kind: sources.KindMonitor, Width: 2560, Height: 1440}
	p, err := Params(src, Options{FPS: 30, Width: 1281, Height: 721})
	if err != nil {
		t.Fatalf("Params() error = %v", err)
	}
	if p.OutputWidth != 1280 || p.OutputHeight != 720 {
		t.Errorf("Output size %dx%d, want even 1280x720", p.OutputWidth, p.OutputHeight)
	}
	if p.Width != 2560 || p.Height != 1440 {
		t.Errorf("Grab size %dx%d, want the full monitor", p.Width, p.Height)
	}
}

func TestParams(t *testing.T) {
	tests := []struct {
		name    string
		src     sources.Source
		wantErr bool
		window  string
		x, y    int
	}{
		{
			name: "monitor region",
			src:  sources.Source{ID: "monitor:DP-1", Kind: sources.KindMonitor, X: 1920, Y: 0, Width: 2560, Height: 1440},
			x:    1920,
		},
		{
			name:   "window",
			src:    sources.Source{ID: "window:0x3a00007", Kind: sources.KindWindow, WindowID: "0x3a00007", Width: 800, Height: 600},
			window: "0x3a00007",
		},
		{
			name:   "application uses its window",
			src:    sources.Source{ID: "application:firefox:42", Kind: sources.KindApplication, WindowID: "0x1", Width: 1200, Height: 900},
			window: "0x1",
		},
		{
			name:    "application without window",
			src:     sources.Source{ID: "application:x:1", Kind: sources.KindApplication, Width: 10, Height: 10},
			wantErr: true,
		},
		{
			name:    "no size",
			src:     sources.Source{ID: "monitor:HDMI-1", Kind: sources.KindMonitor},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Params(tt.src, Options{FPS: 30, Cursor: true})
			if tt.wantErr {
				if !errors.Is(err, ErrInitFailed) {
					t.Errorf("Expected ErrInitFailed, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Params() error = %v", err)
			}
			if p.Display != ":0" {
				t.Errorf("Expected default display :0, got %q", p.Display)
			}
			if p.WindowID != tt.window {
				t.Errorf("WindowID = %q, want %q", p.WindowID, tt.window)
			}
			if p.X != tt.x || p.Y != tt.y {
				t.Errorf("Origin = %d,%d, want %d,%d", p.X, p.Y, tt.x, tt.y)
			}
			if !p.DrawMouse {
				t.Error("Expected cursor drawing")
			}
		})
	}
}
