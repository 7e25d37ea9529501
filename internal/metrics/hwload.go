// Package metrics samples hardware encoder load for Prometheus.
package metrics

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/smazurov/screenlink/internal/logging"
)

const (
	// MPPLoadPath is where Rockchip kernels report MPP engine load.
	MPPLoadPath = "/proc/mpp_service/load"
	// DefaultInterval is how often the load file is sampled.
	DefaultInterval = 5 * time.Second
)

var (
	deviceLoad = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "screenlink",
		Subsystem: "hwenc",
		Name:      "device_load",
		Help:      "Hardware encoder engine load percentage",
	}, []string{"device"})

	deviceUtilization = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "screenlink",
		Subsystem: "hwenc",
		Name:      "device_utilization",
		Help:      "Hardware encoder engine utilization percentage",
	}, []string{"device"})
)

// DeviceLoad is one sampled engine.
type DeviceLoad struct {
	Device      string  `json:"device"`
	Load        float64 `json:"load"`
	Utilization float64 `json:"utilization"`
}

// LoadCollector periodically samples an MPP-style load file.
type LoadCollector struct {
	path     string
	interval time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	latest []DeviceLoad
	known  map[string]bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoadCollector samples path every interval. Zero values use MPPLoadPath
// and DefaultInterval.
func NewLoadCollector(path string, interval time.Duration) *LoadCollector {
	if path == "" {
		path = MPPLoadPath
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &LoadCollector{
		path:     path,
		interval: interval,
		logger:   logging.GetLogger("encoder"),
		known:    make(map[string]bool),
	}
}

// Available reports whether the load file exists on this machine.
func (c *LoadCollector) Available() bool {
	_, err := os.Stat(c.path)
	return err == nil
}

// Start samples once and then on every interval until Stop.
func (c *LoadCollector) Start(ctx context.Context) error {
	if !c.Available() {
		return fmt.Errorf("hardware load file %s: %w", c.path, os.ErrNotExist)
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	c.logger.Info("Sampling hardware encoder load", "path", c.path, "interval", c.interval)
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.Collect()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Collect()
			}
		}
	}()
	return nil
}

// Stop ends sampling and removes the gauges. Safe without Start.
func (c *LoadCollector) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done

	c.mu.Lock()
	defer c.mu.Unlock()
	for device := range c.known {
		deviceLoad.DeleteLabelValues(device)
		deviceUtilization.DeleteLabelValues(device)
	}
	clear(c.known)
	c.latest = nil
}

// Latest returns the last sample.
func (c *LoadCollector) Latest() []DeviceLoad {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]DeviceLoad(nil), c.latest...)
}

// Collect reads the load file once and updates the gauges.
func (c *LoadCollector) Collect() {
	f, err := os.Open(c.path)
	if err != nil {
		c.logger.Warn("Failed to open hardware load file", "error", err)
		return
	}
	defer f.Close()

	devices, err := parseLoad(f)
	if err != nil {
		c.logger.Warn("Failed to parse hardware load", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range devices {
		deviceLoad.WithLabelValues(d.Device).Set(d.Load)
		deviceUtilization.WithLabelValues(d.Device).Set(d.Utilization)
		c.known[d.Device] = true
	}
	c.latest = devices
}

func parseLoad(r io.Reader) ([]DeviceLoad, error) {
	var devices []DeviceLoad
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if d, err := parseLoadLine(line); err == nil {
			devices = append(devices, d)
		}
	}
	return devices, scanner.Err()
}

var errLoadLine = errors.New("not a load line")

// parseLoadLine reads lines like "rkvenc: load: 45% utilization: 78%".
func parseLoadLine(line string) (DeviceLoad, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return DeviceLoad{}, errLoadLine
	}

	d := DeviceLoad{Device: strings.TrimSuffix(fields[0], ":")}
	var haveLoad, haveUtil bool
	for i := 1; i+1 < len(fields); i++ {
		var dst *float64
		switch fields[i] {
		case "load:":
			dst, haveLoad = &d.Load, true
		case "utilization:":
			dst, haveUtil = &d.Utilization, true
		default:
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSuffix(fields[i+1], "%"), 64)
		if err != nil {
			return DeviceLoad{}, fmt.Errorf("%s %q: %w", fields[i], fields[i+1], err)
		}
		*dst = v
	}
	if !haveLoad || !haveUtil {
		return DeviceLoad{}, errLoadLine
	}
	return d, nil
}
