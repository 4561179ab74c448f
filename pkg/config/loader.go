package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the single YAML file read from the config directory.
const ConfigFileName = "curio.yaml"

// curioYAMLConfig represents the complete curio.yaml file structure.
// All sections are optional; unset values fall back to built-in defaults.
type curioYAMLConfig struct {
	Task      *TaskConfig      `yaml:"task"`
	Bus       *BusConfig       `yaml:"bus"`
	Worker    *WorkerConfig    `yaml:"worker"`
	Reaper    *reaperYAML      `yaml:"reaper"`
	Retention *retentionYAML   `yaml:"retention"`
	Database  *DatabaseConfig  `yaml:"database"`
	Redis     *RedisConfig     `yaml:"redis"`
	API       *APIConfig       `yaml:"api"`
	Synthesis *SynthesisConfig `yaml:"synthesis"`
	Project   *ProjectConfig   `yaml:"project"`
}

// reaperYAML mirrors ReaperConfig with a pointer Enabled so an explicit
// `enabled: false` survives the merge (mergo treats false as unset).
type reaperYAML struct {
	Enabled       *bool         `yaml:"enabled,omitempty"`
	CheckInterval time.Duration `yaml:"check_interval,omitempty"`
}

// retentionYAML mirrors RetentionConfig, same pointer treatment.
type retentionYAML struct {
	Enabled       *bool         `yaml:"enabled,omitempty"`
	CheckInterval time.Duration `yaml:"check_interval,omitempty"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read curio.yaml from configDir (missing file is not an error)
//  2. Expand {{.ENV_VAR}} references
//  3. Parse YAML into section structs
//  4. Merge user sections over built-in defaults
//  5. Validate the merged result
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized",
		"queue", cfg.Bus.QueueName,
		"workers", cfg.Worker.Concurrency,
		"reaper_enabled", cfg.Reaper.Enabled,
		"retention_enabled", cfg.Retention.Enabled)

	return cfg, nil
}

// load is the internal loader (not exported).
func load(_ context.Context, configDir string) (*Config, error) {
	file, err := readConfigFile(configDir)
	if err != nil {
		return nil, NewLoadError(ConfigFileName, err)
	}

	cfg := &Config{
		configDir: configDir,
		Task:      DefaultTaskConfig(),
		Bus:       DefaultBusConfig(),
		Worker:    DefaultWorkerConfig(),
		Reaper:    DefaultReaperConfig(),
		Retention: DefaultRetentionConfig(),
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		API:       DefaultAPIConfig(),
		Synthesis: DefaultSynthesisConfig(),
		Project:   DefaultProjectConfig(),
	}
	if file == nil {
		return cfg, nil
	}

	// Merge user-provided sections into defaults (non-zero values override).
	if file.Task != nil {
		if err := mergo.Merge(cfg.Task, file.Task, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge task config: %w", err)
		}
	}
	if file.Bus != nil {
		if err := mergo.Merge(cfg.Bus, file.Bus, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge bus config: %w", err)
		}
	}
	if file.Worker != nil {
		if err := mergo.Merge(cfg.Worker, file.Worker, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge worker config: %w", err)
		}
	}
	if file.Database != nil {
		if err := mergo.Merge(cfg.Database, file.Database, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge database config: %w", err)
		}
	}
	if file.Redis != nil {
		if err := mergo.Merge(cfg.Redis, file.Redis, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge redis config: %w", err)
		}
	}
	if file.API != nil {
		if err := mergo.Merge(cfg.API, file.API, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge api config: %w", err)
		}
	}
	if file.Synthesis != nil {
		if err := mergo.Merge(cfg.Synthesis, file.Synthesis, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge synthesis config: %w", err)
		}
	}
	if file.Project != nil {
		if err := mergo.Merge(cfg.Project, file.Project, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge project config: %w", err)
		}
	}

	// Enabled flags need explicit resolution: a user's `enabled: false`
	// must not be mistaken for "unset".
	cfg.Reaper = resolveReaper(cfg.Reaper, file.Reaper)
	cfg.Retention = resolveRetention(cfg.Retention, file.Retention)

	return cfg, nil
}

// readConfigFile reads and parses curio.yaml. Returns (nil, nil) when the
// file does not exist: a defaults-only boot is supported.
func readConfigFile(configDir string) (*curioYAMLConfig, error) {
	path := filepath.Join(configDir, ConfigFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("No config file found, using built-in defaults", "path", path)
			return nil, nil
		}
		return nil, err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// ExpandEnv passes original data through on parse errors, letting the
	// YAML parser produce the clearer message.
	data = ExpandEnv(data)

	var file curioYAMLConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &file, nil
}

func resolveReaper(def *ReaperConfig, y *reaperYAML) *ReaperConfig {
	if y == nil {
		return def
	}
	if y.Enabled != nil {
		def.Enabled = *y.Enabled
	}
	if y.CheckInterval > 0 {
		def.CheckInterval = y.CheckInterval
	}
	return def
}

func resolveRetention(def *RetentionConfig, y *retentionYAML) *RetentionConfig {
	if y == nil {
		return def
	}
	if y.Enabled != nil {
		def.Enabled = *y.Enabled
	}
	if y.CheckInterval > 0 {
		def.CheckInterval = y.CheckInterval
	}
	return def
}
