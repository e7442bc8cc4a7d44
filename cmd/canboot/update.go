package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"canboot/internal/manifest"
	"canboot/internal/update"

	"github.com/spf13/cobra"
)

var (
	updateYes       bool
	updateCheckOnly bool
	updateTarget    string
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Sync the application files from the upstream repository",
	Long: `Compares the locally installed version against the published
version.txt in the upstream repository. When they differ, downloads the
application files (scripts, requirements, DBC databases), preserving
folder structure, and records the new version only after every file
landed.`,
	RunE: runUpdate,
}

func init() {
	updateCmd.Flags().BoolVarP(&updateYes, "yes", "y", false, "Apply without asking")
	updateCmd.Flags().BoolVar(&updateCheckOnly, "check", false, "Only report whether an update is available")
	updateCmd.Flags().StringVar(&updateTarget, "target", ".", "Directory holding the installed application")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client := update.New(update.Options{
		RepoOwner:   cfg.Update.RepoOwner,
		RepoName:    cfg.Update.RepoName,
		Branch:      cfg.Update.Branch,
		VersionFile: cfg.Update.VersionFile,
		Extensions:  cfg.Update.Extensions,
		TargetDir:   updateTarget,
		Parallelism: cfg.Update.Parallelism,
		HTTPTimeout: cfg.Update.HTTPTimeoutDuration(),
	}, logger)

	check, err := client.CheckForUpdate(ctx)
	if err != nil {
		return err
	}

	if !check.Available {
		fmt.Printf("Up to date (version %s).\n", displayVersion(check.Local))
		return nil
	}
	fmt.Printf("Update available: %s -> %s\n", displayVersion(check.Local), check.Remote)

	if updateCheckOnly {
		return nil
	}
	if !updateYes && !confirm("Apply update?") {
		fmt.Println("Update skipped.")
		return nil
	}

	result, err := client.Apply(ctx, check.Remote)
	if err != nil {
		return err
	}
	fmt.Printf("Synced %d files, now at version %s.\n", len(result.Files), result.Version)

	// A new manifest usually rides along with an update.
	if m, err := manifest.Load(filepath.Join(updateTarget, cfg.Provision.Requirements)); err == nil {
		fmt.Printf("Manifest lists %d dependencies; run 'canboot provision' to apply them.\n", m.Count())
	}
	return nil
}

func displayVersion(v string) string {
	if v == "" {
		return "none"
	}
	return v
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
