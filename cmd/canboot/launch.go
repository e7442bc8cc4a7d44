package main

import (
	"errors"
	"fmt"

	"canboot/cmd/canboot/ui"
	"canboot/internal/launch"
	"canboot/internal/provision"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	launchApp           string
	launchSkipProvision bool
	launchBestEffort    bool
	launchWait          bool
)

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Provision the environment and start the CAN Logger",
	Long: `Provisions the Python environment, then starts the application
behind a splash screen. The splash stays up until the app has survived
its stabilization window, the operator cancels, or the failsafe timeout
fires.`,
	RunE: runLaunch,
}

func init() {
	launchCmd.Flags().StringVar(&launchApp, "app", "", "Application entry script (default from config)")
	launchCmd.Flags().BoolVar(&launchSkipProvision, "skip-provision", false, "Start the app without provisioning first")
	launchCmd.Flags().BoolVar(&launchBestEffort, "best-effort", false, "Launch even if provisioning steps fail")
	launchCmd.Flags().BoolVar(&launchWait, "wait", false, "Block until the application exits and propagate its exit code")
}

func runLaunch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	store, err := openLedger()
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	app := launchApp
	if app == "" {
		app = cfg.Launch.App
	}

	splash := ui.NewSplash(cfg.Name, cfg.Version, cfg.Launch.FailsafeTimeoutDuration())
	prog := tea.NewProgram(splash)

	procCh := make(chan *launch.Process, 1)
	go func() {
		if !launchSkipProvision {
			prog.Send(ui.StatusMsg("Provisioning environment..."))
			p := newProvisioner(store)
			_, err := p.Run(ctx, provision.Options{
				Manifest:       cfg.Provision.Requirements,
				ForceReinstall: cfg.Provision.ForceReinstall,
				BestEffort:     launchBestEffort || cfg.Provision.BestEffort,
			})
			if err != nil {
				prog.Send(ui.DoneMsg{Err: err})
				return
			}
		}

		prog.Send(ui.StatusMsg("Starting application..."))
		l := launch.New(launch.Options{
			Python:              cfg.Provision.Python,
			App:                 app,
			StabilizationWindow: cfg.Launch.StabilizationWindowDuration(),
		}, logger)

		proc, err := l.Launch(ctx)
		if err != nil {
			prog.Send(ui.DoneMsg{Err: err})
			return
		}
		procCh <- proc
		prog.Send(ui.DoneMsg{})
	}()

	final, err := prog.Run()
	if err != nil {
		return fmt.Errorf("splash: %w", err)
	}
	s := final.(ui.Splash)

	switch {
	case s.Cancelled():
		cancel()
		killPending(procCh)
		return errors.New("startup cancelled")
	case s.TimedOut():
		cancel()
		killPending(procCh)
		return fmt.Errorf("application did not come up within %s", cfg.Launch.FailsafeTimeoutDuration())
	case s.Err() != nil:
		return s.Err()
	}

	proc := <-procCh
	logger.Info("application running", zap.String("app", app), zap.Int("pid", proc.PID()))

	if launchWait {
		code, err := proc.Wait(ctx)
		if err != nil {
			return err
		}
		if code != 0 {
			return fmt.Errorf("%s exited with code %d", app, code)
		}
	}
	return nil
}

// killPending reaps an app that went stable in the gap between the
// operator aborting and the launch goroutine handing it over.
// Cancelling the launch context only stops a child still inside its
// stabilization window; a stable child must be killed explicitly.
func killPending(procCh <-chan *launch.Process) {
	select {
	case proc := <-procCh:
		_ = proc.Kill()
	default:
	}
}
