package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the canboot configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the effective configuration to the config file",
	Long: `Writes the current effective configuration (defaults, file values,
and CANBOOT_* overrides merged) to the configured path, giving a new
bench machine a canboot.yaml to edit.`,
	RunE: runConfigInit,
}

func init() {
	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil && !configInitForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}
	if err := cfg.Save(configPath); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", configPath)
	return nil
}
