// Package config loads canboot configuration from canboot.yaml with
// sane defaults and CANBOOT_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all canboot configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Python interpreter and provisioning
	Provision ProvisionConfig `yaml:"provision"`

	// Main application launch
	Launch LaunchConfig `yaml:"launch"`

	// Upstream update source
	Update UpdateConfig `yaml:"update"`

	// Run history ledger
	History HistoryConfig `yaml:"history"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ProvisionConfig configures the environment provisioner.
type ProvisionConfig struct {
	// Python is the interpreter binary ("python", "python3", or a path).
	Python string `yaml:"python"`
	// Requirements is the manifest path, relative to the working directory.
	Requirements string `yaml:"requirements"`
	// ForceReinstall re-installs already-satisfied versions (the
	// provisioner's idempotent-install contract).
	ForceReinstall bool `yaml:"force_reinstall"`
	// StepTimeout bounds each pip invocation (Go duration string).
	StepTimeout string `yaml:"step_timeout"`
	// BestEffort preserves the legacy fire-and-forget behavior: step
	// failures are logged but the run still reports success.
	BestEffort bool `yaml:"best_effort"`
}

// StepTimeoutDuration parses StepTimeout, falling back to 10m.
func (p ProvisionConfig) StepTimeoutDuration() time.Duration {
	return parseDuration(p.StepTimeout, 10*time.Minute)
}

// LaunchConfig configures the application launcher.
type LaunchConfig struct {
	// App is the main application script handed to the interpreter.
	App string `yaml:"app"`
	// StabilizationWindow is how long the child must survive before the
	// splash considers it launched (Go duration string).
	StabilizationWindow string `yaml:"stabilization_window"`
	// FailsafeTimeout closes the splash unconditionally.
	FailsafeTimeout string `yaml:"failsafe_timeout"`
}

// StabilizationWindowDuration parses StabilizationWindow, falling back to 2.2s.
func (l LaunchConfig) StabilizationWindowDuration() time.Duration {
	return parseDuration(l.StabilizationWindow, 2200*time.Millisecond)
}

// FailsafeTimeoutDuration parses FailsafeTimeout, falling back to 120s.
func (l LaunchConfig) FailsafeTimeoutDuration() time.Duration {
	return parseDuration(l.FailsafeTimeout, 120*time.Second)
}

// UpdateConfig configures the upstream updater.
type UpdateConfig struct {
	RepoOwner string `yaml:"repo_owner"`
	RepoName  string `yaml:"repo_name"`
	Branch    string `yaml:"branch"`
	// VersionFile is the local file holding the installed version.
	VersionFile string `yaml:"version_file"`
	// Extensions lists file suffixes synced from the repository.
	Extensions []string `yaml:"extensions"`
	// Parallelism bounds concurrent downloads.
	Parallelism int    `yaml:"parallelism"`
	HTTPTimeout string `yaml:"http_timeout"`
}

// HTTPTimeoutDuration parses HTTPTimeout, falling back to 30s.
func (u UpdateConfig) HTTPTimeoutDuration() time.Duration {
	return parseDuration(u.HTTPTimeout, 30*time.Second)
}

// HistoryConfig configures the run ledger.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`
	// DatabasePath is the SQLite file; relative paths resolve against the
	// working directory.
	DatabasePath string `yaml:"database_path"`
	// Keep is how many runs `canboot history` shows by default.
	Keep int `yaml:"keep"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "CAN Logger",
		Version: "1.0.26",

		Provision: ProvisionConfig{
			Python:         defaultPython(),
			Requirements:   "requirements.txt",
			ForceReinstall: true,
			StepTimeout:    "10m",
			BestEffort:     false,
		},

		Launch: LaunchConfig{
			App:                 "pcan_logger.py",
			StabilizationWindow: "2200ms",
			FailsafeTimeout:     "120s",
		},

		Update: UpdateConfig{
			RepoOwner:   "itssatishkumar",
			RepoName:    "CAN-SCRIPT-LOGGER",
			Branch:      "main",
			VersionFile: "version.txt",
			Extensions:  []string{".py", ".txt", ".dbc"},
			Parallelism: 4,
			HTTPTimeout: "30s",
		},

		History: HistoryConfig{
			Enabled:      true,
			DatabasePath: filepath.Join(".canboot", "history.db"),
			Keep:         20,
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func defaultPython() string {
	if runtime.GOOS == "windows" {
		return "python"
	}
	return "python3"
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides lets the environment win over file values for the
// settings a bench operator most commonly changes per machine.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CANBOOT_PYTHON"); v != "" {
		c.Provision.Python = v
	}
	if v := os.Getenv("CANBOOT_REQUIREMENTS"); v != "" {
		c.Provision.Requirements = v
	}
	if v := os.Getenv("CANBOOT_APP"); v != "" {
		c.Launch.App = v
	}
	if v := os.Getenv("CANBOOT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CANBOOT_HISTORY_DB"); v != "" {
		c.History.DatabasePath = v
	}
}
