// Package pyenv wraps the ambient Python interpreter and its package
// installer. It knows how to bootstrap pip, upgrade the core packaging
// tools, install a requirements manifest, and run the dependency
// consistency check. Each step is one blocking invocation.
package pyenv

import (
	"context"
	"fmt"
	"strings"
	"time"

	"canboot/internal/runner"
)

// Runner abstracts command execution so steps can be tested without a
// real interpreter.
type Runner interface {
	Run(ctx context.Context, cmd runner.Command) (*runner.Result, error)
}

// Interpreter is a handle to one Python installation.
type Interpreter struct {
	binary  string
	runner  Runner
	timeout time.Duration
	// quiet passes --quiet to pip so install output stays off the console.
	quiet bool
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithTimeout sets the per-step timeout.
func WithTimeout(d time.Duration) Option {
	return func(i *Interpreter) { i.timeout = d }
}

// WithQuiet controls whether pip runs with --quiet.
func WithQuiet(quiet bool) Option {
	return func(i *Interpreter) { i.quiet = quiet }
}

// New creates an Interpreter for the given binary ("python3", "python",
// or an absolute path).
func New(binary string, r Runner, opts ...Option) *Interpreter {
	i := &Interpreter{
		binary:  binary,
		runner:  r,
		timeout: 10 * time.Minute,
		quiet:   true,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Binary returns the interpreter binary.
func (i *Interpreter) Binary() string {
	return i.binary
}

// Version reports the interpreter version string, e.g. "Python 3.12.4".
func (i *Interpreter) Version(ctx context.Context) (string, error) {
	res, err := i.run(ctx, "--version")
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("pyenv: %s --version exited %d: %s", i.binary, res.ExitCode, res.Tail(200))
	}
	return strings.TrimSpace(res.Combined()), nil
}

// HasInstaller reports whether pip is importable by this interpreter.
func (i *Interpreter) HasInstaller(ctx context.Context) bool {
	res, err := i.run(ctx, "-m", "pip", "--version")
	return err == nil && res.ExitCode == 0
}

// EnsureInstaller bootstraps pip via ensurepip when it is absent. When a
// working pip is already present this is a no-op, keeping repeat runs
// idempotent.
func (i *Interpreter) EnsureInstaller(ctx context.Context) (*runner.Result, error) {
	if i.HasInstaller(ctx) {
		return &runner.Result{ExitCode: 0, Stdout: "pip already present"}, nil
	}
	return i.run(ctx, "-m", "ensurepip", "--upgrade")
}

// UpgradeCore upgrades pip and the core packaging libraries to latest.
func (i *Interpreter) UpgradeCore(ctx context.Context) (*runner.Result, error) {
	args := []string{"-m", "pip", "install", "--upgrade", "pip", "setuptools", "wheel"}
	return i.run(ctx, i.withPipFlags(args)...)
}

// InstallRequirements installs every dependency listed in the manifest.
// forceReinstall re-installs already-satisfied versions, which is what
// makes repeat provisioning converge on the manifest exactly.
func (i *Interpreter) InstallRequirements(ctx context.Context, manifestPath string, forceReinstall bool) (*runner.Result, error) {
	args := []string{"-m", "pip", "install", "-r", manifestPath, "--no-input"}
	if forceReinstall {
		args = append(args, "--force-reinstall")
	}
	return i.run(ctx, i.withPipFlags(args)...)
}

// Check runs pip's consistency check over installed packages' declared
// dependencies. Exit code 0 means consistent.
func (i *Interpreter) Check(ctx context.Context) (*runner.Result, error) {
	return i.run(ctx, "-m", "pip", "check")
}

func (i *Interpreter) withPipFlags(args []string) []string {
	args = append(args, "--disable-pip-version-check")
	if i.quiet {
		args = append(args, "--quiet")
	}
	return args
}

func (i *Interpreter) run(ctx context.Context, args ...string) (*runner.Result, error) {
	return i.runner.Run(ctx, runner.Command{
		Binary:    i.binary,
		Arguments: args,
		Timeout:   i.timeout,
		// Force UTF-8 so status text with non-ASCII symbols survives
		// legacy Windows consoles.
		Environment: []string{"PYTHONIOENCODING=utf-8", "PYTHONUTF8=1"},
	})
}
