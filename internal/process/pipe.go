package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/screenlink/internal/logging"
)

// LogParser splits a stderr line into a level and a message.
type LogParser func(line string) (level, msg string)

// LineHook sees every stderr line before it is logged.
type LineHook func(line string)

// State is the lifecycle state of a Pipe.
type State string

const (
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateExited   State = "exited"
)

const (
	defaultGracefulTimeout = 2 * time.Second
	defaultKillTimeout     = 2 * time.Second
)

type options struct {
	stdin           bool
	stdout          bool
	logger          logging.Logger
	parser          LogParser
	hook            LineHook
	gracefulTimeout time.Duration
	killTimeout     time.Duration
}

// Option configures Start.
type Option func(*options)

// WithStdin exposes the subprocess stdin.
func WithStdin() Option { return func(o *options) { o.stdin = true } }

// WithStdout exposes the subprocess stdout. Without it stdout is discarded.
func WithStdout() Option { return func(o *options) { o.stdout = true } }

// WithLogParser logs stderr through logger using parser to pick the level.
func WithLogParser(logger logging.Logger, parser LogParser) Option {
	return func(o *options) {
		o.logger = logger
		o.parser = parser
	}
}

// WithLineHook registers a callback for every stderr line.
func WithLineHook(hook LineHook) Option { return func(o *options) { o.hook = hook } }

// WithGracefulTimeout sets how long Stop waits after SIGINT before killing.
func WithGracefulTimeout(d time.Duration) Option {
	return func(o *options) { o.gracefulTimeout = d }
}

// Pipe is a running subprocess.
type Pipe struct {
	id     string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	opts   options

	mu    sync.Mutex
	state State

	done      chan struct{}
	stderrEOF chan struct{}
	err       error
	stopOnce  sync.Once
}

// Start launches name with args. The subprocess is placed in its own process
// group so terminal signals aimed at this program do not reach it directly.
// Cancelling ctx kills the subprocess.
func Start(ctx context.Context, id, name string, args []string, opts ...Option) (*Pipe, error) {
	o := options{
		gracefulTimeout: defaultGracefulTimeout,
		killTimeout:     defaultKillTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	p := &Pipe{
		id:        id,
		cmd:       cmd,
		opts:      o,
		state:     StateRunning,
		done:      make(chan struct{}),
		stderrEOF: make(chan struct{}),
	}

	var err error
	if o.stdin {
		if p.stdin, err = cmd.StdinPipe(); err != nil {
			return nil, fmt.Errorf("%s: stdin pipe: %w", id, err)
		}
	}
	// stdout is an os.Pipe rather than cmd.StdoutPipe so that Wait does not
	// close it while the owner is still reading buffered output.
	var stdoutW *os.File
	if o.stdout {
		if p.stdout, stdoutW, err = os.Pipe(); err != nil {
			return nil, fmt.Errorf("%s: stdout pipe: %w", id, err)
		}
		cmd.Stdout = stdoutW
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.closeStdout(stdoutW)
		return nil, fmt.Errorf("%s: stderr pipe: %w", id, err)
	}

	if err := cmd.Start(); err != nil {
		p.closeStdout(stdoutW)
		return nil, fmt.Errorf("%s: start %s: %w", id, name, err)
	}
	if stdoutW != nil {
		stdoutW.Close()
	}
	if o.logger != nil {
		o.logger.Debug("Process started", "id", id, "pid", cmd.Process.Pid)
	}

	go p.streamStderr(stderr)
	go p.wait()
	return p, nil
}

// ID returns the identifier given to Start.
func (p *Pipe) ID() string { return p.id }

// PID returns the subprocess pid.
func (p *Pipe) PID() int { return p.cmd.Process.Pid }

// Stdin returns the stdin pipe, or nil if WithStdin was not given.
func (p *Pipe) Stdin() io.WriteCloser { return p.stdin }

// Stdout returns the stdout pipe, or nil if WithStdout was not given.
// It reaches EOF after the subprocess exits and its output is consumed.
func (p *Pipe) Stdout() io.Reader {
	if p.stdout == nil {
		return nil
	}
	return p.stdout
}

func (p *Pipe) closeStdout(w *os.File) {
	if w != nil {
		w.Close()
	}
	if p.stdout != nil {
		p.stdout.Close()
	}
}

// Done is closed once the subprocess has exited and stderr is drained.
func (p *Pipe) Done() <-chan struct{} { return p.done }

// Err returns the exit error after Done is closed.
func (p *Pipe) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// State returns the lifecycle state.
func (p *Pipe) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// CloseStdin signals end of input. The subprocess is expected to flush and exit.
func (p *Pipe) CloseStdin() error {
	if p.stdin == nil {
		return nil
	}
	if err := p.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

// Wait blocks until the subprocess exits or timeout elapses.
func (p *Pipe) Wait(timeout time.Duration) error {
	select {
	case <-p.done:
		return p.err
	case <-time.After(timeout):
		return fmt.Errorf("%s: still running after %s", p.id, timeout)
	}
}

// Stop closes stdin, sends SIGINT and waits for exit, killing the subprocess
// if it does not exit within the graceful timeout. Unread stdout is discarded.
// Safe to call repeatedly.
func (p *Pipe) Stop() error {
	p.stopOnce.Do(func() {
		defer func() {
			if p.stdout != nil {
				p.stdout.Close()
			}
		}()

		select {
		case <-p.done:
			return
		default:
		}

		p.mu.Lock()
		p.state = StateStopping
		p.mu.Unlock()

		_ = p.CloseStdin()
		if err := p.cmd.Process.Signal(syscall.SIGINT); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logWarn("Failed to send SIGINT", "error", err)
		}

		select {
		case <-p.done:
			return
		case <-time.After(p.opts.gracefulTimeout):
		}

		p.logWarn("Graceful stop timed out, killing", "timeout", p.opts.gracefulTimeout)
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logWarn("Kill failed", "error", err)
		}
		select {
		case <-p.done:
		case <-time.After(p.opts.killTimeout):
			p.logWarn("Process did not exit after kill")
		}
	})
	return p.Err()
}

func (p *Pipe) wait() {
	// cmd.Wait closes the pipes, so stderr must be fully read first.
	<-p.stderrEOF
	err := p.cmd.Wait()

	p.mu.Lock()
	p.state = StateExited
	p.mu.Unlock()

	p.err = err
	if p.opts.logger != nil {
		p.opts.logger.Debug("Process exited", "id", p.id, "exit_code", ExitCode(err))
	}
	close(p.done)
}

func (p *Pipe) streamStderr(r io.Reader) {
	defer close(p.stderrEOF)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if p.opts.hook != nil {
			p.opts.hook(line)
		}
		if p.opts.logger == nil {
			continue
		}

		level, msg := "info", line
		if p.opts.parser != nil {
			level, msg = p.opts.parser(line)
		}
		switch level {
		case "panic", "fatal", "error":
			p.opts.logger.Error(msg, "process", p.id)
		case "warning":
			p.opts.logger.Warn(msg, "process", p.id)
		case "info":
			p.opts.logger.Info(msg, "process", p.id)
		default:
			p.opts.logger.Debug(msg, "process", p.id)
		}
	}
}

func (p *Pipe) logWarn(msg string, args ...any) {
	if p.opts.logger != nil {
		p.opts.logger.Warn(msg, append([]any{"id", p.id}, args...)...)
	}
}

// ExitCode extracts the exit status from a Wait error: 0 for nil, the
// process exit code for an ExitError, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
