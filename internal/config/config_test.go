package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[general]
log_level = "debug"

[spike]
threshold = 0.08
cooldown = "90s"

[risk]
max_daily_loss = 0.03
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Spike.Threshold != 0.08 {
		t.Errorf("expected threshold 0.08, got %f", cfg.Spike.Threshold)
	}
	if cfg.Spike.Cooldown.Duration != 90*time.Second {
		t.Errorf("expected cooldown 90s, got %s", cfg.Spike.Cooldown.Duration)
	}
	if cfg.Risk.MaxDailyLoss != 0.03 {
		t.Errorf("expected max daily loss 0.03, got %f", cfg.Risk.MaxDailyLoss)
	}
	// Untouched sections keep their defaults.
	if cfg.Spike.WindowSize != 30 {
		t.Errorf("expected default window size 30, got %d", cfg.Spike.WindowSize)
	}
	if cfg.Kelly.HistorySize != 40 {
		t.Errorf("expected default kelly history 40, got %d", cfg.Kelly.HistorySize)
	}
	if cfg.General.SlogLevel() != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", cfg.General.SlogLevel())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[spike]\ncooldown = \"soon\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for unparseable duration")
	}
}

func TestSlogLevel_DefaultsToInfo(t *testing.T) {
	g := GeneralConfig{LogLevel: "verbose"}
	if g.SlogLevel() != slog.LevelInfo {
		t.Errorf("expected info for unknown level, got %v", g.SlogLevel())
	}
}
