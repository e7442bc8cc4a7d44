package main

import (
	"fmt"

	"canboot/internal/pyenv"
	"canboot/internal/runner"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the installed Python environment",
	Long: `Reports the interpreter version, whether pip is available, and
runs pip check for dependency conflicts. Exits non-zero when the
environment is not usable.`,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	py := pyenv.New(cfg.Provision.Python, runner.New(),
		pyenv.WithTimeout(cfg.Provision.StepTimeoutDuration()),
		pyenv.WithQuiet(false))

	version, err := py.Version(ctx)
	if err != nil {
		return fmt.Errorf("interpreter %q not usable: %w", cfg.Provision.Python, err)
	}
	fmt.Printf("Interpreter: %s (%s)\n", cfg.Provision.Python, version)

	if !py.HasInstaller(ctx) {
		return fmt.Errorf("pip is not available; run 'canboot provision' to bootstrap it")
	}
	fmt.Println("Installer:   pip present")

	res, err := py.Check(ctx)
	if err != nil {
		return fmt.Errorf("pip check could not run: %w", err)
	}
	if res.ExitCode != 0 {
		fmt.Print(res.Combined())
		return fmt.Errorf("pip check found dependency conflicts (exit %d)", res.ExitCode)
	}
	fmt.Println("Dependencies: consistent")
	return nil
}
