package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.WorktreeDir != ".worktrees" {
		t.Errorf("WorktreeDir = %q, want '.worktrees'", cfg.WorktreeDir)
	}

	if cfg.RefreshInterval != 2 {
		t.Errorf("RefreshInterval = %d, want 2", cfg.RefreshInterval)
	}

	if !cfg.ShowSpecSessions {
		t.Error("ShowSpecSessions should default to true")
	}

	if cfg.Stream.FrameIntervalMs != 16 {
		t.Errorf("FrameIntervalMs = %d, want 16", cfg.Stream.FrameIntervalMs)
	}

	if cfg.Stream.TightBudget >= cfg.Stream.NormalBudget {
		t.Error("tight budget should be smaller than normal budget")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()
	if got := cfg.FrameInterval(); got != 16*time.Millisecond {
		t.Errorf("FrameInterval() = %v, want 16ms", got)
	}
	if got := cfg.PendingStartupTTL(); got != 30*time.Second {
		t.Errorf("PendingStartupTTL() = %v, want 30s", got)
	}
}

func TestDefaultDataDir(t *testing.T) {
	// Save and restore XDG_CONFIG_HOME
	oldXDG := os.Getenv("XDG_CONFIG_HOME")
	defer os.Setenv("XDG_CONFIG_HOME", oldXDG)

	// Test with XDG_CONFIG_HOME set
	os.Setenv("XDG_CONFIG_HOME", "/custom/config")
	dir := defaultDataDir()
	if dir != "/custom/config/helmdesk" {
		t.Errorf("with XDG_CONFIG_HOME: got %q, want '/custom/config/helmdesk'", dir)
	}

	// Test without XDG_CONFIG_HOME
	os.Unsetenv("XDG_CONFIG_HOME")
	dir = defaultDataDir()
	if !strings.HasSuffix(dir, ".config/helmdesk") {
		t.Errorf("without XDG_CONFIG_HOME: got %q, expected to end with '.config/helmdesk'", dir)
	}
}

func TestGetDefaultShell(t *testing.T) {
	shell := getDefaultShell()
	if shell == "" {
		t.Error("getDefaultShell() returned empty string")
	}
}

func TestMergeConfigOverridesNonZero(t *testing.T) {
	dst := Default()
	src := &Config{
		Shell:           "/bin/zsh",
		RefreshInterval: 5,
		Stream: StreamConfig{
			FrameIntervalMs: 33,
		},
		Keys: KeyBindings{
			Quit: "ctrl+q",
		},
	}

	mergeConfig(dst, src)

	if dst.Shell != "/bin/zsh" {
		t.Errorf("Shell = %q, want '/bin/zsh'", dst.Shell)
	}
	if dst.RefreshInterval != 5 {
		t.Errorf("RefreshInterval = %d, want 5", dst.RefreshInterval)
	}
	if dst.Stream.FrameIntervalMs != 33 {
		t.Errorf("FrameIntervalMs = %d, want 33", dst.Stream.FrameIntervalMs)
	}
	if dst.Stream.NormalBudget != 64*1024 {
		t.Errorf("NormalBudget = %d, want default preserved", dst.Stream.NormalBudget)
	}
	if dst.Keys.Quit != "ctrl+q" {
		t.Errorf("Keys.Quit = %q, want 'ctrl+q'", dst.Keys.Quit)
	}
	if dst.Keys.NavDown != "j" {
		t.Errorf("Keys.NavDown = %q, want default preserved", dst.Keys.NavDown)
	}
}

func TestYamlMerge(t *testing.T) {
	raw := `
shell: /bin/fish
stream:
  frame_interval_ms: 8
  high_water_mark: 524288
keys:
  quit: ctrl+q
`
	var fileCfg Config
	if err := yaml.Unmarshal([]byte(raw), &fileCfg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	cfg := Default()
	mergeConfig(cfg, &fileCfg)

	if cfg.Shell != "/bin/fish" {
		t.Errorf("Shell = %q, want '/bin/fish'", cfg.Shell)
	}
	if cfg.Stream.FrameIntervalMs != 8 {
		t.Errorf("FrameIntervalMs = %d, want 8", cfg.Stream.FrameIntervalMs)
	}
	if cfg.Stream.HighWaterMark != 524288 {
		t.Errorf("HighWaterMark = %d, want 524288", cfg.Stream.HighWaterMark)
	}
	if cfg.Stream.TightBudget != 16*1024 {
		t.Errorf("TightBudget = %d, want default preserved", cfg.Stream.TightBudget)
	}
	if cfg.Keys.Quit != "ctrl+q" {
		t.Errorf("Keys.Quit = %q, want 'ctrl+q'", cfg.Keys.Quit)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("merged config should validate: %v", err)
	}
}

func TestValidateStreamBounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero frame interval", func(c *Config) { c.Stream.FrameIntervalMs = 0 }},
		{"negative budget", func(c *Config) { c.Stream.NormalBudget = -1 }},
		{"tight above normal", func(c *Config) { c.Stream.TightBudget = c.Stream.NormalBudget + 1 }},
		{"high water below budget", func(c *Config) { c.Stream.HighWaterMark = 1 }},
		{"negative follow slack", func(c *Config) { c.Stream.FollowSlack = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateKeysRejectsDuplicates(t *testing.T) {
	keys := DefaultKeyBindings()
	keys.Refresh = keys.Quit

	if err := ValidateKeys(&keys); err == nil {
		t.Error("expected duplicate keybinding error")
	}
}

func TestValidateKeysCaseSensitive(t *testing.T) {
	keys := DefaultKeyBindings()
	// "r" (refresh) and "R" (force recreate) coexist
	if err := ValidateKeys(&keys); err != nil {
		t.Errorf("default bindings should validate: %v", err)
	}
}

func TestPaths(t *testing.T) {
	cfg := &Config{DataDir: "/data/helmdesk"}
	if got := cfg.ConfigFile(); got != "/data/helmdesk/config.yaml" {
		t.Errorf("ConfigFile() = %q", got)
	}
	if got := cfg.DatabaseFile(); got != "/data/helmdesk/helmdesk.db" {
		t.Errorf("DatabaseFile() = %q", got)
	}
}
