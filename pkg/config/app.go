package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/xbzone/pkg/engine"
	"github.com/openfroyo/xbzone/pkg/telemetry"
)

// Lock backends.
const (
	LockBackendMemory = "memory"
	LockBackendSQLite = "sqlite"
)

// AppConfig is the xbzone configuration file.
type AppConfig struct {
	Store     StoreConfig      `yaml:"store"`
	Locks     LocksConfig      `yaml:"locks"`
	Placement PlacementConfig  `yaml:"placement"`
	Workflow  WorkflowConfig   `yaml:"workflow"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	// Path is the database file, or ":memory:".
	Path         string `yaml:"path" validate:"required"`
	MaxOpenConns int    `yaml:"max_open_conns" validate:"gte=0"`
}

// LocksConfig configures step locking.
type LocksConfig struct {
	Backend string `yaml:"backend" validate:"oneof=memory sqlite"`

	// Timeouts maps a timeout class, e.g. "vplex_backend_export", to the
	// time a step waits for its keys.
	Timeouts map[string]time.Duration `yaml:"timeouts" validate:"dive,gt=0"`

	// Lease bounds how long a persisted lock outlives a crashed holder.
	Lease time.Duration `yaml:"lease" validate:"gte=0"`
}

// PlacementConfig configures port group selection and zoning.
type PlacementConfig struct {
	// DirectorCount overrides the number of directors found in the topology.
	DirectorCount int `yaml:"director_count" validate:"gte=0"`

	// MaxSelectionRounds bounds one selection pass; zero derives it from
	// the number of candidate ports.
	MaxSelectionRounds int `yaml:"max_selection_rounds" validate:"gte=0"`
}

// WorkflowConfig configures the step dispatcher.
type WorkflowConfig struct {
	MaxParallel int           `yaml:"max_parallel" validate:"gte=1"`
	StepTimeout time.Duration `yaml:"step_timeout" validate:"gte=0"`
}

// DefaultAppConfig returns the default configuration.
func DefaultAppConfig() *AppConfig {
	tel := telemetry.DefaultConfig()

	return &AppConfig{
		Store: StoreConfig{
			Path:         "xbzone.db",
			MaxOpenConns: 25,
		},
		Locks: LocksConfig{
			Backend: LockBackendSQLite,
			Timeouts: map[string]time.Duration{
				string(engine.LockTimeoutDefault):            5 * time.Minute,
				string(engine.LockTimeoutVPlexBackendExport): 10 * time.Minute,
			},
			Lease: 30 * time.Minute,
		},
		Workflow: WorkflowConfig{
			MaxParallel: 4,
			StepTimeout: 30 * time.Minute,
		},
		Telemetry: *tel,
	}
}

// LoadAppConfig reads a YAML configuration file over the defaults.
// An empty path returns the defaults.
func LoadAppConfig(path string) (*AppConfig, error) {
	cfg := DefaultAppConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration, telemetry block included.
func (c *AppConfig) Validate() error {
	return validator.New().Struct(c)
}

// LockTimeouts returns the lock timeouts keyed by class.
func (c *AppConfig) LockTimeouts() map[engine.LockTimeoutClass]time.Duration {
	out := make(map[engine.LockTimeoutClass]time.Duration, len(c.Locks.Timeouts))
	for class, d := range c.Locks.Timeouts {
		out[engine.LockTimeoutClass(class)] = d
	}
	return out
}
