/*
PURPOSE:
  Defines the configuration structure and loading logic for torchscale.
  One YAML file describes a whole scaling study.

REQUIREMENTS:
  User-specified:
  - Sweep dimensions (models, batch sizes, GPU counts), output location,
    profiling options, and engine tuning all live in one file.

  Implementation-discovered:
  - Needs to support YAML parsing.
  - Durations are written in Go form ("5m", "300s"); yaml.v3 parses them
    natively into time.Duration.

ARCHITECTURE INTEGRATION:
  - Used by: internal/cli
  - Dependencies: gopkg.in/yaml.v3 (standard for Go config)

ERROR HANDLING:
  - Returns explicit error if config file is invalid.
  - Missing file falls back to defaults when no path was given.

IMPLEMENTATION RULES:
  - Config struct tags should support yaml.
  - Defaults should be sensible (runnable without hardware).

USAGE:
  cfg, err := config.Load("torchscale.yaml")

SELF-HEALING INSTRUCTIONS:
  - If new fields are needed, add to Config struct and update
    DefaultConfig() together.

RELATED FILES:
  - internal/cli/root.go
  - internal/engine/sweep.go

MAINTENANCE:
  - Update when adding new tuning parameters.
*/

package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mlinfra/torchscale/internal/engine"
)

// ExampleYAML is a fully commented starter configuration, written to disk
// by `torchscale config init`.
//
//go:embed torchscale.example.yaml
var ExampleYAML []byte

// Profiling trigger policies.
const (
	TriggerAlways       = "always"
	TriggerOnBottleneck = "on_bottleneck"
	TriggerNever        = "never"
)

// Config represents the full configuration for a torchscale study.
type Config struct {
	ExperimentName string   `yaml:"experiment_name"`
	Models         []string `yaml:"models"`
	BatchSizes     []int    `yaml:"batch_sizes"`
	GPUCounts      []int    `yaml:"gpu_counts"`
	OutputDir      string   `yaml:"output_dir"`

	// Engine tuning.
	Concurrency    int           `yaml:"concurrency"`
	PerRunTimeout  time.Duration `yaml:"per_run_timeout"`
	LaunchInterval time.Duration `yaml:"launch_interval"`
	SampleWindow   int           `yaml:"sample_window"`

	Torchrun   TorchrunConfig  `yaml:"torchrun"`
	Profiling  ProfilingConfig `yaml:"profiling"`
	Thresholds engine.Policy   `yaml:"thresholds"`
}

// TorchrunConfig selects live collection through torchrun instead of the
// built-in simulation.
type TorchrunConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Binary         string        `yaml:"binary"`
	Script         string        `yaml:"script"`
	ScriptArgs     []string      `yaml:"script_args"`
	LaunchAttempts uint          `yaml:"launch_attempts"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

// ProfilingConfig controls the post-sweep profiling pass.
type ProfilingConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Tool     string        `yaml:"tool"`
	Trigger  string        `yaml:"trigger"`
	Duration time.Duration `yaml:"duration"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ExperimentName: "scaling_study",
		Models:         []string{"resnet50", "bert-base"},
		BatchSizes:     []int{32, 64},
		GPUCounts:      []int{1, 2, 4},
		OutputDir:      "results",
		Concurrency:    1,
		PerRunTimeout:  5 * time.Minute,
		SampleWindow:   10,
		Torchrun: TorchrunConfig{
			Binary:         "torchrun",
			LaunchAttempts: 3,
			RetryDelay:     2 * time.Second,
		},
		Profiling: ProfilingConfig{
			Tool:     "nsys",
			Trigger:  TriggerOnBottleneck,
			Duration: 30 * time.Second,
		},
		Thresholds: engine.DefaultPolicy(),
	}
}

// Load reads configuration from a file.
// If path is specified, it attempts to load that file.
// If path is empty, it searches for default files in order.
// If no file found, returns default config.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	var data []byte
	var err error

	if path != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
	} else {
		// Search for defaults
		defaults := []string{"torchscale.yaml", "benchmark_config.yaml", "config.yaml"}
		found := false
		for _, name := range defaults {
			data, err = os.ReadFile(name)
			if err == nil {
				path = name // record which file we loaded
				found = true
				break
			}
		}
		if !found {
			// No config file found, return default
			return cfg, nil
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate rejects option combinations the engine cannot honor. Matrix
// dimensions are validated separately when the matrix is built.
func (c *Config) Validate() error {
	switch c.Profiling.Trigger {
	case "", TriggerAlways, TriggerOnBottleneck, TriggerNever:
	default:
		return engine.NewConfigurationError(
			"profiling.trigger must be one of %s, %s, %s; got %q",
			TriggerAlways, TriggerOnBottleneck, TriggerNever, c.Profiling.Trigger)
	}
	if c.Torchrun.Enabled && c.Torchrun.Script == "" {
		return engine.NewConfigurationError("torchrun.enabled requires torchrun.script")
	}
	if c.Concurrency < 1 {
		return engine.NewConfigurationError("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.SampleWindow < 0 {
		return engine.NewConfigurationError("sample_window must not be negative, got %d", c.SampleWindow)
	}
	return nil
}
