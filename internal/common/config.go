package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for RunForge.
type Config struct {
	Environment string       `toml:"environment"`
	Workspace   string       `toml:"workspace"`
	Daemon      DaemonConfig `toml:"daemon"`
	Logging     LoggingConfig `toml:"logging"`
}

// DaemonConfig holds execution-daemon tunables.
type DaemonConfig struct {
	MaxParallel      int    `toml:"max_parallel"`
	GPUSlots         int    `toml:"gpu_slots"`
	HeartbeatInterval string `toml:"heartbeat_interval"` // duration string, default "5s"
	PollInterval      string `toml:"poll_interval"`      // duration string, default "1s"
	ChildTimeout      string `toml:"child_timeout"`      // duration string, default "1h"
	ShutdownGrace     string `toml:"shutdown_grace"`     // duration string, default "60s"
	WorkerCommand     string `toml:"worker_command"`     // default "runforge-worker"
}

// GetHeartbeatInterval parses HeartbeatInterval, defaulting to 5s.
func (d *DaemonConfig) GetHeartbeatInterval() time.Duration {
	return parseDurationOr(d.HeartbeatInterval, 5*time.Second)
}

// GetPollInterval parses PollInterval, defaulting to 1s.
func (d *DaemonConfig) GetPollInterval() time.Duration {
	return parseDurationOr(d.PollInterval, 1*time.Second)
}

// GetChildTimeout parses ChildTimeout, defaulting to 1 hour.
func (d *DaemonConfig) GetChildTimeout() time.Duration {
	return parseDurationOr(d.ChildTimeout, 1*time.Hour)
}

// GetShutdownGrace parses ShutdownGrace, defaulting to 60s.
func (d *DaemonConfig) GetShutdownGrace() time.Duration {
	return parseDurationOr(d.ShutdownGrace, 60*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Format     string   `toml:"format"`
	Outputs    []string `toml:"outputs"`
	FilePath   string   `toml:"file_path"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
}

// NewDefaultConfig returns a Config with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Workspace:   ".",
		Daemon: DaemonConfig{
			MaxParallel:       2,
			GPUSlots:          1,
			HeartbeatInterval: "5s",
			PollInterval:      "1s",
			ChildTimeout:      "1h",
			ShutdownGrace:     "60s",
			WorkerCommand:     "runforge-worker",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "json",
			Outputs: []string{"console"},
		},
	}
}

// LoadConfig loads configuration from files with environment overrides.
// Missing files are skipped so a workspace can run with zero configuration.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if config.Daemon.MaxParallel < 1 {
		config.Daemon.MaxParallel = 1
	}
	if config.Daemon.GPUSlots < 0 {
		config.Daemon.GPUSlots = 0
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("RUNFORGE_ENV"); env != "" {
		config.Environment = env
	}
	if ws := os.Getenv("RUNFORGE_WORKSPACE"); ws != "" {
		config.Workspace = ws
	}
	if level := os.Getenv("RUNFORGE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if mp := os.Getenv("RUNFORGE_MAX_PARALLEL"); mp != "" {
		if n, err := strconv.Atoi(mp); err == nil {
			config.Daemon.MaxParallel = n
		}
	}
	if gs := os.Getenv("RUNFORGE_GPU_SLOTS"); gs != "" {
		if n, err := strconv.Atoi(gs); err == nil {
			config.Daemon.GPUSlots = n
		}
	}
	if hi := os.Getenv("RUNFORGE_HEARTBEAT_INTERVAL"); hi != "" {
		config.Daemon.HeartbeatInterval = hi
	}
	if pi := os.Getenv("RUNFORGE_POLL_INTERVAL"); pi != "" {
		config.Daemon.PollInterval = pi
	}
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// AbsWorkspace resolves the configured workspace to an absolute path.
func (c *Config) AbsWorkspace() (string, error) {
	if c.Workspace == "" {
		return os.Getwd()
	}
	if filepath.IsAbs(c.Workspace) {
		return c.Workspace, nil
	}
	abs, err := filepath.Abs(c.Workspace)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace path %s: %w", c.Workspace, err)
	}
	return abs, nil
}
