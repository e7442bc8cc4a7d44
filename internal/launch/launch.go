// Package launch starts the CAN Logger application and watches it
// through its startup window. The application counts as launched only
// if it is still alive once the stabilization window has passed; an
// earlier exit is a startup failure and carries the exit code.
package launch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultStabilizationWindow matches the splash screen's hold time: the
// app needs roughly this long to bring up its window or fail trying.
const DefaultStabilizationWindow = 2200 * time.Millisecond

// Options configures a Launcher.
type Options struct {
	// Python is the interpreter binary used to run the app.
	Python string
	// App is the entry script, resolved relative to WorkingDir.
	App        string
	Args       []string
	WorkingDir string
	// StabilizationWindow is how long the process must survive before
	// the launch counts as successful. Zero means the default.
	StabilizationWindow time.Duration
}

// EarlyExitError reports an application that died inside the
// stabilization window.
type EarlyExitError struct {
	App      string
	ExitCode int
}

func (e *EarlyExitError) Error() string {
	return fmt.Sprintf("launch: %s exited during startup with code %d", e.App, e.ExitCode)
}

// procHandle abstracts the spawned process so tests can script exits.
type procHandle interface {
	Wait() error
	Kill() error
	PID() int
}

type startFunc func(ctx context.Context, binary string, args []string, dir string) (procHandle, error)

// Launcher spawns and supervises the application process.
type Launcher struct {
	opts   Options
	start  startFunc
	logger *zap.Logger
}

// New creates a Launcher. A nil logger disables logging.
func New(opts Options, logger *zap.Logger) *Launcher {
	if opts.StabilizationWindow <= 0 {
		opts.StabilizationWindow = DefaultStabilizationWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{opts: opts, start: execStart, logger: logger}
}

// Launch spawns the application and waits out the stabilization
// window. It returns the still-running process on success, an
// EarlyExitError if the app died inside the window, or ctx.Err() if the
// caller cancelled (the process is killed in that case).
func (l *Launcher) Launch(ctx context.Context) (*Process, error) {
	args := append([]string{l.opts.App}, l.opts.Args...)
	handle, err := l.start(ctx, l.opts.Python, args, l.opts.WorkingDir)
	if err != nil {
		return nil, fmt.Errorf("launch: start %s: %w", l.opts.App, err)
	}

	p := &Process{handle: handle, done: make(chan struct{})}
	go p.reap()

	l.logger.Info("application started",
		zap.String("app", l.opts.App),
		zap.Int("pid", handle.PID()))

	timer := time.NewTimer(l.opts.StabilizationWindow)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil, &EarlyExitError{App: l.opts.App, ExitCode: p.ExitCode()}
	case <-ctx.Done():
		_ = p.Kill()
		<-p.done
		return nil, ctx.Err()
	case <-timer.C:
		l.logger.Info("application stable",
			zap.Duration("window", l.opts.StabilizationWindow))
		return p, nil
	}
}

// Process is a launched application that survived its startup window.
type Process struct {
	handle procHandle

	mu       sync.Mutex
	exitCode int
	waitErr  error
	done     chan struct{}
}

func (p *Process) reap() {
	err := p.handle.Wait()
	p.mu.Lock()
	p.exitCode = exitCodeFrom(err)
	p.waitErr = err
	p.mu.Unlock()
	close(p.done)
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// PID returns the operating system process id.
func (p *Process) PID() int { return p.handle.PID() }

// ExitCode returns the exit code once the process has finished, and 0
// before that.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Kill terminates the process. Waiters on Done unblock once the exit is
// reaped.
func (p *Process) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return p.handle.Kill()
}

// Wait blocks until the process exits or ctx is cancelled. On
// cancellation the process is killed before returning.
func (p *Process) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		return p.ExitCode(), nil
	case <-ctx.Done():
		_ = p.Kill()
		<-p.done
		return p.ExitCode(), ctx.Err()
	}
}

func exitCodeFrom(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// execHandle wraps exec.Cmd behind procHandle.
type execHandle struct {
	cmd *exec.Cmd
}

func (h *execHandle) Wait() error { return h.cmd.Wait() }
func (h *execHandle) Kill() error { return h.cmd.Process.Kill() }
func (h *execHandle) PID() int    { return h.cmd.Process.Pid }

// execStart deliberately ignores ctx for the child's lifetime: the app
// must outlive the launcher's own context once it is stable.
// Cancellation during startup is delivered through Kill by Launch.
func execStart(_ context.Context, binary string, args []string, dir string) (procHandle, error) {
	cmd := exec.Command(binary, args...)
	cmd.Dir = dir
	// The app owns the console once it is up; its output goes straight
	// through rather than being captured.
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execHandle{cmd: cmd}, nil
}
