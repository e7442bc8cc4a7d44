// Package runner executes external commands on the host with timeouts
// and bounded output capture. Every subprocess canboot starts (pip, the
// Python interpreter, the logger application) goes through here.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Command describes a single external invocation.
type Command struct {
	Binary      string
	Arguments   []string
	WorkingDir  string
	Environment []string // appended to the inherited allow-list
	Stdin       string
	Timeout     time.Duration // 0 means Config.DefaultTimeout
}

// String renders the command for logs and error messages.
func (c Command) String() string {
	if len(c.Arguments) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Arguments, " ")
}

// Result holds the outcome of one invocation.
type Result struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	Killed     bool // timeout or cancellation
	KillReason string
	Truncated  bool
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

// Combined returns stdout and stderr joined for diagnostics.
func (r *Result) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Tail returns at most n trailing bytes of the combined output, cut at a
// line boundary where possible. The run ledger stores this instead of the
// full output.
func (r *Result) Tail(n int) string {
	combined := r.Combined()
	if len(combined) <= n {
		return combined
	}
	tail := combined[len(combined)-n:]
	// Advance to the next line boundary only when the slice starts
	// mid-line.
	if combined[len(combined)-n-1] != '\n' {
		if idx := strings.IndexByte(tail, '\n'); idx >= 0 && idx < len(tail)-1 {
			tail = tail[idx+1:]
		}
	}
	return tail
}

// Config controls runner defaults.
type Config struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	MaxOutputBytes int64
	// AllowedEnvironment lists variables copied from the parent process.
	AllowedEnvironment []string
}

// DefaultConfig returns defaults suited to package-manager invocations,
// which can legitimately run for minutes on a cold cache.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 5 * time.Minute,
		MaxTimeout:     30 * time.Minute,
		MaxOutputBytes: 1 << 20, // 1MB per stream
		AllowedEnvironment: []string{
			"PATH", "HOME", "USERPROFILE", "TEMP", "TMP", "TMPDIR",
			"SYSTEMROOT", "LANG", "LC_ALL",
			"PIP_INDEX_URL", "PIP_EXTRA_INDEX_URL", "PIP_CACHE_DIR",
			"HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY",
			"VIRTUAL_ENV", "PYTHONIOENCODING",
		},
	}
}

// DirectRunner runs commands directly on the host using os/exec.
type DirectRunner struct {
	config Config
}

// New creates a runner with default config.
func New() *DirectRunner {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a runner with custom config.
func NewWithConfig(config Config) *DirectRunner {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if config.MaxOutputBytes <= 0 {
		config.MaxOutputBytes = DefaultConfig().MaxOutputBytes
	}
	return &DirectRunner{config: config}
}

// Run executes the command and returns its result. A non-zero exit code
// is not an error: the result carries it and the caller decides. An error
// is returned only when the process could not be started or was killed
// before producing an exit status.
func (r *DirectRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Binary == "" {
		return nil, fmt.Errorf("runner: binary is required")
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.config.DefaultTimeout
	}
	if r.config.MaxTimeout > 0 && timeout > r.config.MaxTimeout {
		timeout = r.config.MaxTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCmd := exec.CommandContext(execCtx, cmd.Binary, cmd.Arguments...)
	execCmd.Dir = cmd.WorkingDir
	execCmd.Env = r.buildEnvironment(cmd.Environment)
	if cmd.Stdin != "" {
		execCmd.Stdin = strings.NewReader(cmd.Stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: r.config.MaxOutputBytes}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: r.config.MaxOutputBytes}
	execCmd.Stdout = stdoutLimited
	execCmd.Stderr = stderrLimited

	result := &Result{ExitCode: -1, StartedAt: time.Now()}
	err := execCmd.Run()
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()
	result.Truncated = stdoutLimited.truncated || stderrLimited.truncated

	if err != nil {
		switch {
		case execCtx.Err() == context.DeadlineExceeded:
			result.Killed = true
			result.KillReason = fmt.Sprintf("timeout after %s", timeout)
			return result, fmt.Errorf("runner: %s killed: %s", cmd.Binary, result.KillReason)
		case execCtx.Err() == context.Canceled:
			result.Killed = true
			result.KillReason = "canceled"
			return result, context.Canceled
		default:
			if exitErr, ok := err.(*exec.ExitError); ok {
				// Command ran and returned non-zero.
				result.ExitCode = exitErr.ExitCode()
				return result, nil
			}
			return result, fmt.Errorf("runner: failed to start %s: %w", cmd.Binary, err)
		}
	}

	result.ExitCode = 0
	return result, nil
}

// buildEnvironment copies the allow-listed variables from the parent
// process and appends command-specific ones.
func (r *DirectRunner) buildEnvironment(cmdEnv []string) []string {
	env := make([]string, 0, len(r.config.AllowedEnvironment)+len(cmdEnv))
	for _, key := range r.config.AllowedEnvironment {
		if val := os.Getenv(key); val != "" {
			env = append(env, key+"="+val)
		}
	}
	return append(env, cmdEnv...)
}

// limitedWriter caps total bytes written, discarding the rest while still
// reporting full-length writes so the child never sees a short write.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.max {
		lw.truncated = true
		return n, nil
	}
	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err
	}
	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
