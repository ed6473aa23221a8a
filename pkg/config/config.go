// Package config loads and validates the bootforge configuration file. The
// file is YAML; struct tags drive validation. Declared phases compile into a
// bootstrap plan of command units.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/bootforge/bootforge/pkg/bootstrap"
	"github.com/bootforge/bootforge/pkg/installer"
	"github.com/bootforge/bootforge/pkg/telemetry"
)

// Config is the top-level configuration.
type Config struct {
	// TargetDir is the root of the project being bootstrapped.
	TargetDir string `yaml:"target_dir" validate:"required"`

	// State configures the durable progress store.
	State StateConfig `yaml:"state"`

	// Installer configures dependency installation.
	Installer InstallerConfig `yaml:"installer"`

	// Logging configures structured logging.
	Logging telemetry.LoggingConfig `yaml:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics telemetry.MetricsConfig `yaml:"metrics"`

	// Phases declares the bootstrap plan.
	Phases []PhaseConfig `yaml:"phases" validate:"required,min=1,dive"`

	// Vars are free-form settings passed through to every unit.
	Vars map[string]string `yaml:"vars,omitempty"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// StateConfig configures progress persistence.
type StateConfig struct {
	// Backend selects the store implementation.
	Backend string `yaml:"backend" validate:"required,oneof=log sqlite"`

	// Path is the store file. Defaults under <target_dir>/.bootforge.
	Path string `yaml:"path,omitempty"`

	// CheckpointPath is the advisory resume pointer file. Defaults under
	// <target_dir>/.bootforge.
	CheckpointPath string `yaml:"checkpoint_path,omitempty"`
}

// InstallerConfig configures package installation.
type InstallerConfig struct {
	// Manager is the preferred package manager binary.
	Manager string `yaml:"manager,omitempty"`

	// FallbackManager is used when the preferred manager is not on PATH.
	FallbackManager string `yaml:"fallback_manager,omitempty"`

	// CacheDir holds pre-fetched package archives. Empty disables the cache.
	CacheDir string `yaml:"cache_dir,omitempty"`

	// StrictCache requires cached archive versions to match the requested
	// version exactly. Off by default: a name match is trusted.
	StrictCache bool `yaml:"strict_cache,omitempty"`

	// Attempts is the number of install attempts per batch.
	Attempts int `yaml:"attempts,omitempty" validate:"omitempty,min=1"`

	// RetryDelay is the fixed pause between attempts.
	RetryDelay Duration `yaml:"retry_delay,omitempty"`

	// SettleDelay is the pause after a successful install before the next
	// step runs.
	SettleDelay Duration `yaml:"settle_delay,omitempty"`

	// AttemptTimeout bounds a single attempt. Zero means no bound.
	AttemptTimeout Duration `yaml:"attempt_timeout,omitempty"`
}

// PhaseConfig declares one phase of the plan.
type PhaseConfig struct {
	// ID identifies the phase in state records and checkpoints.
	ID string `yaml:"id" validate:"required"`

	// Name is the human-readable phase name.
	Name string `yaml:"name,omitempty"`

	// Units lists the phase's units in execution order.
	Units []UnitConfig `yaml:"units" validate:"required,min=1,dive"`
}

// UnitConfig declares one command unit.
type UnitConfig struct {
	// ID identifies the unit in state records.
	ID string `yaml:"id" validate:"required"`

	// Command is the executable to run in the target directory.
	Command string `yaml:"command" validate:"required"`

	// Args are the command arguments.
	Args []string `yaml:"args,omitempty"`

	// Packages are installed before the command runs.
	Packages []PackageConfig `yaml:"packages,omitempty" validate:"omitempty,dive"`
}

// PackageConfig declares one required package.
type PackageConfig struct {
	// Name is the package name.
	Name string `yaml:"name" validate:"required"`

	// Version is an optional version or constraint.
	Version string `yaml:"version,omitempty"`

	// Dev marks the package as a development dependency.
	Dev bool `yaml:"dev,omitempty"`
}

// Default returns a configuration with defaults applied. TargetDir and
// Phases must still be supplied.
func Default() *Config {
	return &Config{
		State: StateConfig{
			Backend: "log",
		},
		Installer: InstallerConfig{
			Manager:         "pnpm",
			FallbackManager: "npm",
		},
		Logging: telemetry.DefaultLoggingConfig(),
		Metrics: telemetry.DefaultMetricsConfig(),
	}
}

// Load reads, defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, bootstrap.NewConfigError(fmt.Sprintf("failed to read config file %s", path), err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, bootstrap.NewConfigError("failed to parse config file", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills derived paths that depend on other fields.
func (c *Config) applyDefaults() {
	stateDir := filepath.Join(c.TargetDir, ".bootforge")
	if c.State.Path == "" {
		switch c.State.Backend {
		case "sqlite":
			c.State.Path = filepath.Join(stateDir, "state.db")
		default:
			c.State.Path = filepath.Join(stateDir, "state.log")
		}
	}
	if c.State.CheckpointPath == "" {
		c.State.CheckpointPath = filepath.Join(stateDir, "checkpoint")
	}
}

// Validate checks structural validity. Phase and unit ID rules are enforced
// again by the plan builder; this catches config problems early with the
// offending field named.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return bootstrap.NewConfigError("invalid configuration", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return bootstrap.NewConfigError("invalid logging configuration", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return bootstrap.NewConfigError("invalid metrics configuration", err)
	}
	return nil
}

// RetryPolicy builds the installer retry policy, falling back to defaults
// for unset fields.
func (c *Config) RetryPolicy() installer.RetryPolicy {
	policy := installer.DefaultRetryPolicy()
	if c.Installer.Attempts > 0 {
		policy.Attempts = c.Installer.Attempts
	}
	if c.Installer.RetryDelay > 0 {
		policy.Delay = time.Duration(c.Installer.RetryDelay)
	}
	if c.Installer.SettleDelay > 0 {
		policy.SettleDelay = time.Duration(c.Installer.SettleDelay)
	}
	if c.Installer.AttemptTimeout > 0 {
		policy.AttemptTimeout = time.Duration(c.Installer.AttemptTimeout)
	}
	return policy
}

// Plan compiles the declared phases into an executable bootstrap plan.
func (c *Config) Plan() ([]bootstrap.Phase, error) {
	b := bootstrap.NewBuilder()
	for _, pc := range c.Phases {
		b.Phase(pc.ID, pc.Name)
		for _, uc := range pc.Units {
			packages := make([]installer.PackageRequest, 0, len(uc.Packages))
			for _, p := range uc.Packages {
				packages = append(packages, installer.PackageRequest{
					Name:    p.Name,
					Version: p.Version,
					Dev:     p.Dev,
				})
			}
			b.Unit(&bootstrap.CommandUnit{
				UnitID:   uc.ID,
				Command:  uc.Command,
				Args:     uc.Args,
				Packages: packages,
			})
		}
	}
	return b.Build()
}
