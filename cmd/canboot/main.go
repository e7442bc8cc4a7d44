// canboot provisions, launches, and updates the CAN Logger Python
// application. It replaces the hand-run setup script: ensure pip,
// upgrade the packaging core, install requirements, verify the
// environment, then start the app.
package main

import (
	"bufio"
	"fmt"
	"os"

	"canboot/internal/config"
	"canboot/internal/history"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Logger
	logger *zap.Logger

	// Loaded configuration, available to all subcommands after
	// PersistentPreRunE.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "canboot",
	Short: "CAN Logger environment bootstrapper",
	Long: `canboot prepares and starts the CAN Logger application.

It provisions the Python environment (pip bootstrap, core upgrade,
requirements install, consistency check), launches the app behind a
splash screen, and keeps the installation in sync with the upstream
repository.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the configured application version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("%s v%s\n", cfg.Name, cfg.Version)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "canboot.yaml", "Configuration file")

	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openLedger opens the run history store, or returns nil when history
// is disabled.
func openLedger() (*history.Store, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}
	store, err := history.Open(cfg.History.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open history ledger: %w", err)
	}
	return store, nil
}

// pauseForEnter blocks until the operator presses Enter, mirroring the
// old setup script's final pause so the console stays readable.
func pauseForEnter() {
	fmt.Print("Press Enter to exit...")
	reader := bufio.NewReader(os.Stdin)
	_, _ = reader.ReadString('\n')
}
