package encoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/screenlink/internal/ffmpeg"
	"github.com/smazurov/screenlink/internal/logging"
	"github.com/smazurov/screenlink/internal/process"
)

const probeTimeout = 10 * time.Second

// ProbeResult is the outcome of testing one family.
type ProbeResult struct {
	Family   string `toml:"family" json:"family"`
	Encoder  string `toml:"encoder" json:"encoder"`
	Compiled bool   `toml:"compiled" json:"compiled"`
	Working  bool   `toml:"working" json:"working"`
	Error    string `toml:"error,omitempty" json:"error,omitempty"`
}

// ProbeReport is persisted so sessions do not have to re-probe hardware.
type ProbeReport struct {
	Timestamp     time.Time     `toml:"timestamp" json:"timestamp"`
	FFmpegVersion string        `toml:"ffmpeg_version" json:"ffmpeg_version"`
	Results       []ProbeResult `toml:"results" json:"results"`
}

// Working returns the families that passed, in preference order.
func (r *ProbeReport) Working() []Family {
	var out []Family
	for _, res := range r.Results {
		if !res.Working {
			continue
		}
		if f, ok := FamilyByName(res.Family); ok && f.Hardware {
			out = append(out, f)
		}
	}
	return out
}

// Probe checks which hardware families are compiled into ffmpeg and can encode
// a short synthetic clip.
func Probe(ctx context.Context, families []Family) (*ProbeReport, error) {
	logger := logging.GetLogger("encoder")

	if !ffmpeg.Installed() {
		return nil, fmt.Errorf("%w: ffmpeg not found in PATH", ErrInit)
	}
	compiled, err := ffmpeg.ListEncoders(ctx)
	if err != nil {
		return nil, err
	}

	report := &ProbeReport{
		Timestamp:     time.Now().UTC().Truncate(time.Second),
		FFmpegVersion: ffmpeg.Version(ctx),
	}
	for _, f := range families {
		res := ProbeResult{Family: f.Name, Encoder: f.Encoder}
		res.Compiled = slices.ContainsFunc(compiled, func(e ffmpeg.Encoder) bool { return e.Name == f.Encoder })
		if !res.Compiled {
			res.Error = "not compiled into ffmpeg"
			report.Results = append(report.Results, res)
			continue
		}

		logger.Info("Probing encoder", "family", f.Name, "encoder", f.Encoder)
		if err := runProbe(ctx, f); err != nil {
			res.Error = err.Error()
			logger.Info("Encoder unavailable", "family", f.Name, "error", err)
		} else {
			res.Working = true
			logger.Info("Encoder working", "family", f.Name)
		}
		report.Results = append(report.Results, res)
	}
	return report, nil
}

func runProbe(ctx context.Context, f Family) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var mu sync.Mutex
	var lastErr string
	p, err := process.Start(ctx, "probe-"+f.Name, ffmpeg.Binary, f.probeArgs(),
		process.WithLineHook(func(line string) {
			if level, msg := ffmpeg.ParseLogLevel(line); level == "error" || level == "fatal" {
				mu.Lock()
				lastErr = msg
				mu.Unlock()
			}
		}))
	if err != nil {
		return err
	}
	<-p.Done()
	if err := p.Err(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("probe timed out after %s", probeTimeout)
		}
		mu.Lock()
		defer mu.Unlock()
		if lastErr != "" {
			return errors.New(strings.TrimSpace(lastErr))
		}
		return err
	}
	return nil
}

// SaveReport writes the report as TOML.
func SaveReport(path string, r *ProbeReport) error {
	data, err := toml.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode probe report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadReport reads a report written by SaveReport.
func LoadReport(path string) (*ProbeReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r ProbeReport
	if err := toml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode probe report %s: %w", path, err)
	}
	return &r, nil
}

// ResolveHardware picks the hardware family for a session. A named family is
// used as is; "auto" consults the report at reportPath, probing and saving a
// new report when none exists.
func ResolveHardware(ctx context.Context, name, reportPath string) (Family, error) {
	if name != "" && name != "auto" {
		f, ok := FamilyByName(name)
		if !ok || !f.Hardware {
			return Family{}, fmt.Errorf("%w: unknown hardware family %q", ErrInit, name)
		}
		return f, nil
	}

	report, err := LoadReport(reportPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Family{}, err
		}
		if report, err = Probe(ctx, HardwareFamilies()); err != nil {
			return Family{}, err
		}
		if saveErr := SaveReport(reportPath, report); saveErr != nil {
			logging.GetLogger("encoder").Warn("Failed to save probe report", "path", reportPath, "error", saveErr)
		}
	}

	working := report.Working()
	if len(working) == 0 {
		return Family{}, fmt.Errorf("%w: no working hardware encoder", ErrInit)
	}
	return working[0], nil
}
