// Package config holds the trainer's run settings and their YAML form.
package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is one training run's configuration. TrainPath and TestPath come
// from the command line only.
type Config struct {
	TrainPath string `yaml:"-"`
	TestPath  string `yaml:"-"`

	Epochs    int     `yaml:"epochs"`
	BatchSize int     `yaml:"batchSize"`
	LR        float64 `yaml:"lr"`
	Inputs    int     `yaml:"inputs"`
	Hidden    int     `yaml:"hidden"`

	Seed      uint64  `yaml:"seed"`
	ValSplit  float64 `yaml:"valSplit"`
	Optimizer string  `yaml:"optimizer"` // adam, momentum or sgd

	LogLevel    string `yaml:"logLevel"`
	MetricsAddr string `yaml:"metricsAddr"` // empty disables the metrics server
	History     string `yaml:"history"`     // SQLite path; empty disables run history
}

// Default returns the configuration used when neither a file nor flags say
// otherwise.
func Default() Config {
	return Config{
		Epochs:    10,
		BatchSize: 64,
		LR:        0.01,
		Inputs:    784,
		Hidden:    16,
		Seed:      42,
		ValSplit:  0.2,
		Optimizer: "adam",
		LogLevel:  "warn",
	}
}

// Load reads YAML config from path. Keys absent from the file keep their
// default values.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.WithStack(err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse %s", path)
	}
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WithStack(err)
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.WriteFile(path, b, 0o644))
}

// Validate checks the enumerated settings. Numeric values are passed through
// unchecked; the stages that consume them report their own errors.
func (c Config) Validate() error {
	switch c.Optimizer {
	case "adam", "momentum", "sgd":
	default:
		return errors.Errorf("unknown optimizer %q (want adam, momentum or sgd)", c.Optimizer)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("unknown log level %q (want debug, info, warn or error)", c.LogLevel)
	}
	return nil
}
