package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the llamacore configuration file
// (~/.config/llamacore/config.yaml). Pointer fields distinguish "not set"
// from zero values.
type Config struct {
	Model         string `yaml:"model"`
	Workers       *int   `yaml:"workers"`
	MaxStateBytes *int64 `yaml:"max_state_bytes"`

	// Sampling defaults
	Temperature   *float64 `yaml:"temperature"`
	TopK          *int64   `yaml:"top_k"`
	TopP          *float64 `yaml:"top_p"`
	RepeatPenalty *float64 `yaml:"repeat_penalty"`
	Steps         *int64   `yaml:"steps"`
	Seed          *int64   `yaml:"seed"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress     string   `yaml:"server_address"`
	MaxSessions       *int     `yaml:"max_sessions"`
	RequestsPerSecond *float64 `yaml:"requests_per_second"`
}

// fileConfig is loaded once by the root command's Before hook.
var fileConfig Config

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "llamacore", "config.yaml")
}

// LoadConfig reads the config file at path. A missing file yields a zero
// Config; a malformed one is an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyModelConfig applies config file defaults to the shared model flags
// when the corresponding flag was not set on the command line or through
// the environment.
func applyModelConfig(c *cli.Command, cfg Config) {
	if cfg.Model != "" && !c.IsSet("model") {
		modelPath = cfg.Model
	}
	if cfg.Workers != nil && !c.IsSet("workers") {
		workers = *cfg.Workers
	}
	if cfg.MaxStateBytes != nil && !c.IsSet("max-state-bytes") {
		maxStateBytes = *cfg.MaxStateBytes
	}
}

func applySamplingConfig(c *cli.Command, cfg Config, o *samplingOptions, steps *int64) {
	if cfg.Temperature != nil && !c.IsSet("temperature") {
		o.temperature = *cfg.Temperature
	}
	if cfg.TopK != nil && !c.IsSet("top-k") {
		o.topK = *cfg.TopK
	}
	if cfg.TopP != nil && !c.IsSet("top-p") {
		o.topP = *cfg.TopP
	}
	if cfg.RepeatPenalty != nil && !c.IsSet("repeat-penalty") {
		o.repeatPenalty = *cfg.RepeatPenalty
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		o.seed = *cfg.Seed
	}
	if cfg.Steps != nil && steps != nil && !c.IsSet("steps") {
		*steps = *cfg.Steps
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr *string, maxSessions *int, rps *float64) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.MaxSessions != nil && !c.IsSet("max-sessions") {
		*maxSessions = *cfg.MaxSessions
	}
	if cfg.RequestsPerSecond != nil && !c.IsSet("rps") {
		*rps = *cfg.RequestsPerSecond
	}
}
