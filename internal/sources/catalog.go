package sources

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smazurov/screenlink/internal/logging"
)

const enumerateTimeout = 5 * time.Second

// minWindowSize filters out docks, tooltips and other slivers.
const minWindowSize = 32

// Runner runs an external command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithRunner replaces command execution, mainly for tests.
func WithRunner(r Runner) Option { return func(c *Catalog) { c.run = r } }

// WithProcRoot points process name lookups at a different /proc.
func WithProcRoot(dir string) Option { return func(c *Catalog) { c.procRoot = dir } }

// WithDisplay sets the X display the tools talk to.
func WithDisplay(display string) Option { return func(c *Catalog) { c.display = display } }

// Catalog enumerates sources and caches the last result.
type Catalog struct {
	run      Runner
	procRoot string
	display  string
	logger   *slog.Logger

	mu      sync.RWMutex
	sources []Source
	at      time.Time
}

// NewCatalog creates a catalog. Nothing is enumerated until List is called.
func NewCatalog(opts ...Option) *Catalog {
	c := &Catalog{
		run:      execRunner,
		procRoot: "/proc",
		display:  os.Getenv("DISPLAY"),
		logger:   logging.GetLogger("sources"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// List returns the cached sources, enumerating first when refresh is set or
// nothing has been enumerated yet.
func (c *Catalog) List(ctx context.Context, refresh bool) ([]Source, error) {
	if !refresh {
		c.mu.RLock()
		cached := c.sources
		c.mu.RUnlock()
		if cached != nil {
			return slices.Clone(cached), nil
		}
	}
	return c.Refresh(ctx)
}

// Lookup returns the source with id, re-enumerating once if it is unknown.
func (c *Catalog) Lookup(ctx context.Context, id string) (Source, error) {
	find := func(list []Source) (Source, bool) {
		i := slices.IndexFunc(list, func(s Source) bool { return s.ID == id })
		if i < 0 {
			return Source{}, false
		}
		return list[i], true
	}

	list, err := c.List(ctx, false)
	if err == nil {
		if s, ok := find(list); ok {
			return s, nil
		}
	}
	if list, err = c.Refresh(ctx); err != nil {
		return Source{}, err
	}
	if s, ok := find(list); ok {
		return s, nil
	}
	return Source{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Refresh re-enumerates and replaces the whole set. A failing tool yields a
// reduced list; only when monitors and windows both fail is an error returned.
func (c *Catalog) Refresh(ctx context.Context) ([]Source, error) {
	ctx, cancel := context.WithTimeout(ctx, enumerateTimeout)
	defer cancel()

	var monitors []Source
	var windows []window
	var monErr, winErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := c.run(gctx, "xrandr", c.displayArgs("--listactivemonitors")...)
		if err != nil {
			monErr = fmt.Errorf("xrandr: %w", err)
			return nil
		}
		monitors = parseMonitors(out)
		return nil
	})
	g.Go(func() error {
		out, err := c.run(gctx, "wmctrl", "-lpG")
		if err != nil {
			winErr = fmt.Errorf("wmctrl: %w", err)
			return nil
		}
		windows = parseWindows(out)
		return nil
	})
	_ = g.Wait()

	if monErr != nil && winErr != nil {
		return nil, errors.Join(monErr, winErr)
	}
	if monErr != nil {
		c.logger.Warn("Monitor enumeration failed, listing windows only", "error", monErr)
	}
	if winErr != nil {
		c.logger.Warn("Window enumeration failed, listing monitors only", "error", winErr)
	}

	list := append(monitors, c.windowSources(windows)...)
	if list == nil {
		list = []Source{}
	}

	c.mu.Lock()
	c.sources = list
	c.at = time.Now()
	c.mu.Unlock()

	c.logger.Debug("Sources enumerated", "monitors", len(monitors), "windows", len(windows), "total", len(list))
	return slices.Clone(list), nil
}

// EnumeratedAt returns when the cached list was built.
func (c *Catalog) EnumeratedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.at
}

func (c *Catalog) displayArgs(args ...string) []string {
	if c.display == "" {
		return args
	}
	return append([]string{"--display", c.display}, args...)
}

// windowSources turns windows into window sources plus one application
// source per owning process.
func (c *Catalog) windowSources(windows []window) []Source {
	var out []Source
	apps := make(map[int][]window)
	names := make(map[int]string)

	for _, w := range windows {
		if w.desktop < 0 || w.w < minWindowSize || w.h < minWindowSize {
			continue
		}
		s := Source{
			ID:       windowID(w.id),
			Kind:     KindWindow,
			Title:    w.title,
			PID:      w.pid,
			Width:    w.w,
			Height:   w.h,
			X:        w.x,
			Y:        w.y,
			WindowID: w.id,
		}
		if w.pid > 0 {
			name, ok := names[w.pid]
			if !ok {
				name = c.processName(w.pid)
				names[w.pid] = name
			}
			s.Process = name
			if name != "" {
				apps[w.pid] = append(apps[w.pid], w)
			}
		}
		if s.Title == "" {
			s.Title = cmp.Or(s.Process, w.id)
		}
		out = append(out, s)
	}

	pids := make([]int, 0, len(apps))
	for pid := range apps {
		pids = append(pids, pid)
	}
	slices.Sort(pids)
	for _, pid := range pids {
		out = append(out, applicationSource(names[pid], pid, apps[pid]))
	}
	return out
}

// applicationSource groups the windows of one process. The largest window is
// the one captured.
func applicationSource(process string, pid int, windows []window) Source {
	main := slices.MaxFunc(windows, func(a, b window) int {
		return cmp.Compare(a.w*a.h, b.w*b.h)
	})
	ids := make([]string, len(windows))
	for i, w := range windows {
		ids[i] = w.id
	}
	return Source{
		ID:       applicationID(process, pid),
		Kind:     KindApplication,
		Title:    cmp.Or(main.title, process),
		Process:  process,
		PID:      pid,
		Width:    main.w,
		Height:   main.h,
		X:        main.x,
		Y:        main.y,
		WindowID: main.id,
		Windows:  ids,
	}
}

// processName reads /proc/<pid>/comm. Unreadable entries are skipped, not fatal.
func (c *Catalog) processName(pid int) string {
	data, err := os.ReadFile(filepath.Join(c.procRoot, strconv.Itoa(pid), "comm"))
	if err != nil {
		c.logger.Debug("Process name unavailable", "pid", pid, "error", err)
		return ""
	}
	return strings.TrimSpace(string(data))
}
