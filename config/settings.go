package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"

	"github.com/dcshock/texpipe/logging"
)

// EnvPrefix prefixes every settings variable, e.g. TEXPIPE_CHECKPOINT_ROOT.
const EnvPrefix = "texpipe"

// Settings holds process-level configuration read from the environment.
// Command-line flags override these.
type Settings struct {
	CheckpointRoot string `envconfig:"CHECKPOINT_ROOT" default:".texpipe/checkpoints"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogDev         bool   `envconfig:"LOG_DEV" default:"false"`
	// MetricsAddr, when set, serves Prometheus metrics on this address.
	MetricsAddr string `envconfig:"METRICS_ADDR"`
	// Purge removes unobserved checkpoints and outputs after a successful run.
	Purge bool `envconfig:"PURGE" default:"false"`
}

// LoadSettings loads Settings from TEXPIPE_* environment variables.
func LoadSettings() (*Settings, error) {
	var s Settings
	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return &s, nil
}

// Logging returns the logger configuration these settings describe.
func (s *Settings) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = s.LogLevel
	cfg.Development = s.LogDev
	return cfg
}
