// Package config handles application configuration.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	// DataDir is the directory for persistent data (selection db, etc.)
	DataDir string `yaml:"-"`

	// Shell is the command started in each terminal pane
	Shell string `yaml:"shell"`

	// WorktreeDir is the subdirectory name for worktrees inside repos
	WorktreeDir string `yaml:"worktree_dir"`

	// RefreshInterval is how often to refresh session state (in seconds)
	RefreshInterval int `yaml:"refresh_interval"`

	// ShowSpecSessions controls whether drafted sessions appear in the list
	ShowSpecSessions bool `yaml:"show_spec_sessions"`

	// PendingStartupSeconds bounds how long an expected session start is
	// waited for
	PendingStartupSeconds int `yaml:"pending_startup_seconds"`

	// Stream contains output streaming tunables
	Stream StreamConfig `yaml:"stream"`

	// Keys contains keybinding configuration
	Keys KeyBindings `yaml:"keys"`
}

// StreamConfig holds the output flush cadence and budgets.
type StreamConfig struct {
	// FrameIntervalMs is the flush tick interval in milliseconds
	FrameIntervalMs int `yaml:"frame_interval_ms"`

	// NormalBudget is the per-terminal byte budget per flush
	NormalBudget int `yaml:"normal_budget"`

	// TightBudget replaces NormalBudget while backlog exceeds HighWaterMark
	TightBudget int `yaml:"tight_budget"`

	// HighWaterMark is the combined backlog that engages TightBudget
	HighWaterMark int `yaml:"high_water_mark"`

	// FollowSlack is how many rows above the bottom still count as
	// "following" for the auto-scroll heuristic
	FollowSlack int `yaml:"follow_slack"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		DataDir:               defaultDataDir(),
		Shell:                 getDefaultShell(),
		WorktreeDir:           ".worktrees",
		RefreshInterval:       2,
		ShowSpecSessions:      true,
		PendingStartupSeconds: 30,
		Stream: StreamConfig{
			FrameIntervalMs: 16,
			NormalBudget:    64 * 1024,
			TightBudget:     16 * 1024,
			HighWaterMark:   256 * 1024,
			FollowSlack:     2,
		},
		Keys: DefaultKeyBindings(),
	}
}

// Load loads configuration from the config file, falling back to defaults.
func Load() (*Config, error) {
	cfg := Default()

	configPath := cfg.ConfigFile()
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Config file doesn't exist, use defaults
			return cfg, nil
		}
		return nil, err
	}

	// Parse YAML into a temporary struct to merge with defaults
	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, err
	}

	// Merge file config with defaults (file values override defaults)
	mergeConfig(cfg, &fileCfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// mergeConfig merges file configuration into the default configuration.
// Only non-zero values from file are applied.
func mergeConfig(dst, src *Config) {
	if src.Shell != "" {
		dst.Shell = src.Shell
	}
	if src.WorktreeDir != "" {
		dst.WorktreeDir = src.WorktreeDir
	}
	if src.RefreshInterval != 0 {
		dst.RefreshInterval = src.RefreshInterval
	}
	if src.PendingStartupSeconds != 0 {
		dst.PendingStartupSeconds = src.PendingStartupSeconds
	}

	mergeStream(&dst.Stream, &src.Stream)
	mergeKeyBindings(&dst.Keys, &src.Keys)
}

// mergeStream merges streaming tunables from src into dst.
func mergeStream(dst, src *StreamConfig) {
	if src.FrameIntervalMs != 0 {
		dst.FrameIntervalMs = src.FrameIntervalMs
	}
	if src.NormalBudget != 0 {
		dst.NormalBudget = src.NormalBudget
	}
	if src.TightBudget != 0 {
		dst.TightBudget = src.TightBudget
	}
	if src.HighWaterMark != 0 {
		dst.HighWaterMark = src.HighWaterMark
	}
	if src.FollowSlack != 0 {
		dst.FollowSlack = src.FollowSlack
	}
}

// FrameInterval returns the flush cadence as a duration.
func (c *Config) FrameInterval() time.Duration {
	return time.Duration(c.Stream.FrameIntervalMs) * time.Millisecond
}

// PendingStartupTTL returns the startup wait bound as a duration.
func (c *Config) PendingStartupTTL() time.Duration {
	return time.Duration(c.PendingStartupSeconds) * time.Second
}

// defaultDataDir returns the default data directory.
func defaultDataDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "helmdesk")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".helmdesk"
	}
	return filepath.Join(home, ".config", "helmdesk")
}

// getDefaultShell returns the user's default shell.
func getDefaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/bash"
}

// DatabaseFile returns the path to the sqlite database.
func (c *Config) DatabaseFile() string {
	return filepath.Join(c.DataDir, "helmdesk.db")
}

// ConfigFile returns the path to the config file.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "config.yaml")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}
