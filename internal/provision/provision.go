// Package provision brings the local Python installation to a known-good
// state for the CAN Logger application: bootstrap the installer, upgrade
// the core packaging tools, install the manifest, and verify dependency
// consistency. The pipeline is fixed, ordered, and strictly sequential.
package provision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"canboot/internal/history"
	"canboot/internal/manifest"
	"canboot/internal/runner"
)

// State tracks where the provisioner is in its pipeline.
type State string

const (
	StateIdle              State = "idle"
	StateEnsuringInstaller State = "ensuring_installer"
	StateUpgradingCore     State = "upgrading_core"
	StateInstalling        State = "installing"
	StateChecking          State = "checking"
	StateReady             State = "ready"
	StateError             State = "error"
)

// Step names, in pipeline order.
const (
	StepEnsureInstaller = "ensure-installer"
	StepUpgradeCore     = "upgrade-core"
	StepInstall         = "install-requirements"
	StepCheck           = "check"
)

// Python is the subset of the interpreter surface the provisioner needs.
// *pyenv.Interpreter satisfies it.
type Python interface {
	Version(ctx context.Context) (string, error)
	EnsureInstaller(ctx context.Context) (*runner.Result, error)
	UpgradeCore(ctx context.Context) (*runner.Result, error)
	InstallRequirements(ctx context.Context, manifestPath string, forceReinstall bool) (*runner.Result, error)
	Check(ctx context.Context) (*runner.Result, error)
}

// Options configures a provisioning run.
type Options struct {
	// Manifest is the requirements file path.
	Manifest string
	// ForceReinstall re-installs already-satisfied versions.
	ForceReinstall bool
	// BestEffort swallows step failures and still reports success, the
	// legacy fire-and-forget behavior. Failures are logged either way.
	BestEffort bool
}

// StepResult is the recorded outcome of one pipeline step.
type StepResult struct {
	Name       string
	ExitCode   int
	Duration   time.Duration
	OutputTail string
	Err        error // spawn failure or kill, not a non-zero exit
}

// Failed reports whether the step counts as failed.
func (s StepResult) Failed() bool {
	return s.Err != nil || s.ExitCode != 0
}

// Report summarizes one provisioning run.
type Report struct {
	RunID           string
	Steps           []StepResult
	Outcome         history.Outcome
	ManifestPath    string
	DependencyCount int
	PythonVersion   string
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Success reports whether the run should exit zero.
func (r *Report) Success() bool {
	return r.Outcome == history.OutcomeSuccess || r.Outcome == history.OutcomeBestEffort
}

// FirstFailure returns the first failed step, if any.
func (r *Report) FirstFailure() *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Failed() {
			return &r.Steps[i]
		}
	}
	return nil
}

// Ledger is the subset of the history store the provisioner uses.
type Ledger interface {
	BeginRun(manifestPath, pythonVersion string, dependencyCount int) (string, error)
	RecordStep(step history.Step) error
	FinishRun(id string, outcome history.Outcome) error
}

// Provisioner runs the pipeline against one interpreter.
type Provisioner struct {
	mu     sync.RWMutex
	state  State
	python Python
	ledger Ledger // nil disables recording
	logger *zap.Logger
}

// New creates a Provisioner. ledger may be nil.
func New(python Python, ledger Ledger, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{
		state:  StateIdle,
		python: python,
		ledger: ledger,
		logger: logger,
	}
}

// State returns the current pipeline state.
func (p *Provisioner) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Provisioner) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Run executes the full pipeline. The returned report is always non-nil;
// the error is non-nil only when a step failed in strict mode.
func (p *Provisioner) Run(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{
		ManifestPath: opts.Manifest,
		StartedAt:    time.Now(),
	}

	// Interpreter version and manifest stats are reporting-only: their
	// failure never blocks provisioning (pip surfaces real problems at
	// the install step).
	if v, err := p.python.Version(ctx); err == nil {
		report.PythonVersion = v
	} else {
		p.logger.Warn("could not determine interpreter version", zap.Error(err))
	}
	if m, err := manifest.Load(opts.Manifest); err == nil {
		report.DependencyCount = m.Count()
		p.logger.Info("manifest parsed",
			zap.String("path", opts.Manifest),
			zap.Int("dependencies", m.Count()))
	} else {
		p.logger.Warn("manifest not readable", zap.String("path", opts.Manifest), zap.Error(err))
	}

	if p.ledger != nil {
		id, err := p.ledger.BeginRun(opts.Manifest, report.PythonVersion, report.DependencyCount)
		if err != nil {
			p.logger.Warn("run ledger unavailable", zap.Error(err))
		} else {
			report.RunID = id
		}
	}

	steps := []struct {
		name  string
		state State
		run   func(context.Context) (*runner.Result, error)
	}{
		{StepEnsureInstaller, StateEnsuringInstaller, p.python.EnsureInstaller},
		{StepUpgradeCore, StateUpgradingCore, p.python.UpgradeCore},
		{StepInstall, StateInstalling, func(ctx context.Context) (*runner.Result, error) {
			return p.python.InstallRequirements(ctx, opts.Manifest, opts.ForceReinstall)
		}},
		{StepCheck, StateChecking, p.python.Check},
	}

	failed := false
	for _, step := range steps {
		p.setState(step.state)
		p.logger.Info("running step", zap.String("step", step.name))

		sr := p.runStep(ctx, step.name, step.run)
		report.Steps = append(report.Steps, sr)
		p.recordStep(report.RunID, sr)

		if !sr.Failed() {
			continue
		}
		failed = true
		p.logger.Error("step failed",
			zap.String("step", sr.Name),
			zap.Int("exit_code", sr.ExitCode),
			zap.Error(sr.Err),
			zap.String("output", sr.OutputTail))

		if !opts.BestEffort {
			break
		}
		// Legacy behavior: keep going, report success anyway.
	}

	report.FinishedAt = time.Now()

	switch {
	case !failed:
		report.Outcome = history.OutcomeSuccess
		p.setState(StateReady)
	case opts.BestEffort:
		report.Outcome = history.OutcomeBestEffort
		p.setState(StateReady)
	default:
		report.Outcome = history.OutcomeFailed
		p.setState(StateError)
	}

	if p.ledger != nil && report.RunID != "" {
		if err := p.ledger.FinishRun(report.RunID, report.Outcome); err != nil {
			p.logger.Warn("could not finish ledger run", zap.Error(err))
		}
	}

	if report.Outcome == history.OutcomeFailed {
		f := report.FirstFailure()
		if f.Err != nil {
			return report, fmt.Errorf("provision: step %s: %w", f.Name, f.Err)
		}
		return report, fmt.Errorf("provision: step %s exited %d", f.Name, f.ExitCode)
	}
	return report, nil
}

func (p *Provisioner) runStep(ctx context.Context, name string, run func(context.Context) (*runner.Result, error)) StepResult {
	started := time.Now()
	res, err := run(ctx)

	sr := StepResult{
		Name:     name,
		Duration: time.Since(started),
		Err:      err,
		ExitCode: -1,
	}
	if res != nil {
		sr.ExitCode = res.ExitCode
		sr.OutputTail = res.Tail(2048)
		if sr.Duration == 0 {
			sr.Duration = res.Duration
		}
	}
	return sr
}

func (p *Provisioner) recordStep(runID string, sr StepResult) {
	if p.ledger == nil || runID == "" {
		return
	}
	err := p.ledger.RecordStep(history.Step{
		RunID:      runID,
		Name:       sr.Name,
		ExitCode:   sr.ExitCode,
		Duration:   sr.Duration,
		OutputTail: sr.OutputTail,
	})
	if err != nil {
		p.logger.Warn("could not record step", zap.String("step", sr.Name), zap.Error(err))
	}
}
