package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"canboot/internal/history"
	"canboot/internal/provision"
	"canboot/internal/pyenv"
	"canboot/internal/runner"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	provisionRequirements   string
	provisionForceReinstall bool
	provisionBestEffort     bool
	provisionPause          bool
	provisionWatch          bool
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Prepare the Python environment for the CAN Logger",
	Long: `Runs the provisioning sequence: ensure pip is present, upgrade
pip/setuptools/wheel, install the requirements manifest, then verify
installed packages with pip check.

By default a failed step stops the run and canboot exits non-zero.
--best-effort restores the old setup script's behavior: every step
runs, failures are logged, and the success banner prints regardless.`,
	RunE: runProvision,
}

func init() {
	provisionCmd.Flags().StringVarP(&provisionRequirements, "requirements", "r", "", "Requirements manifest (default from config)")
	provisionCmd.Flags().BoolVar(&provisionForceReinstall, "force-reinstall", true, "Reinstall all requirements even when already satisfied")
	provisionCmd.Flags().BoolVar(&provisionBestEffort, "best-effort", false, "Run every step and report success regardless of failures")
	provisionCmd.Flags().BoolVar(&provisionPause, "pause", false, "Wait for Enter before exiting")
	provisionCmd.Flags().BoolVar(&provisionWatch, "watch", false, "Re-provision whenever the manifest changes")
}

func runProvision(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	if provisionPause {
		defer pauseForEnter()
	}

	store, err := openLedger()
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	p := newProvisioner(store)
	opts := provision.Options{
		Manifest:       manifestPath(),
		ForceReinstall: provisionForceReinstall,
		BestEffort:     provisionBestEffort || cfg.Provision.BestEffort,
	}

	if provisionWatch {
		return provisionAndWatch(ctx, p, opts)
	}
	return provisionOnce(ctx, p, opts)
}

func provisionOnce(ctx context.Context, p *provision.Provisioner, opts provision.Options) error {
	report, err := p.Run(ctx, opts)
	if err != nil {
		if f := report.FirstFailure(); f != nil {
			fmt.Fprintf(os.Stderr, "step %s failed (exit %d)\n%s\n", f.Name, f.ExitCode, f.OutputTail)
		}
		return err
	}
	printBanner()
	return nil
}

func provisionAndWatch(ctx context.Context, p *provision.Provisioner, opts provision.Options) error {
	if err := provisionOnce(ctx, p, opts); err != nil {
		return err
	}

	w, err := provision.NewWatcher(opts.Manifest, func(ctx context.Context) {
		if err := provisionOnce(ctx, p, opts); err != nil {
			logger.Warn("re-provision failed", zap.Error(err))
		}
	}, logger)
	if err != nil {
		return fmt.Errorf("watch manifest: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("watch manifest: %w", err)
	}
	defer w.Stop()

	fmt.Printf("Watching %s for changes. Ctrl+C to stop.\n", opts.Manifest)
	<-ctx.Done()
	return nil
}

// newProvisioner wires the pip step runner for the configured
// interpreter.
func newProvisioner(store *history.Store) *provision.Provisioner {
	r := runner.New()
	py := pyenv.New(cfg.Provision.Python, r,
		pyenv.WithTimeout(cfg.Provision.StepTimeoutDuration()),
		pyenv.WithQuiet(!verbose))

	// The nil check happens on the concrete type so provision.New never
	// sees a typed-nil Ledger.
	var ledger provision.Ledger
	if store != nil {
		ledger = store
	}
	return provision.New(py, ledger, logger)
}

func manifestPath() string {
	if provisionRequirements != "" {
		return provisionRequirements
	}
	return cfg.Provision.Requirements
}

// printBanner emits the single success line the old setup script
// printed. Exactly one banner per provisioning run.
func printBanner() {
	fmt.Println("All requirements installed successfully.")
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
