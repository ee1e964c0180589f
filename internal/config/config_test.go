package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	//1.- Clear every override so the loader falls back to compiled defaults.
	for _, key := range []string{
		"ARENA_ADDR", "ARENA_PING_INTERVAL", "ARENA_MAX_PAYLOAD_BYTES",
		"ARENA_TICK_RATE", "ARENA_COUNTDOWN_SECONDS", "ARENA_CHECKPOINT_INTERVAL",
		"ARENA_LOG_LEVEL", "ARENA_LOG_PATH", "ARENA_LOG_COMPRESS",
	} {
		t.Setenv(key, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error loading defaults: %v", err)
	}
	//2.- Spot check the defaults that drive the simulation cadence.
	if cfg.Address != DefaultAddr {
		t.Fatalf("expected default address %q, got %q", DefaultAddr, cfg.Address)
	}
	if cfg.TickRate != DefaultTickRate {
		t.Fatalf("expected default tick rate %v, got %v", DefaultTickRate, cfg.TickRate)
	}
	if cfg.CountdownSeconds != DefaultCountdownSeconds {
		t.Fatalf("expected %d countdown seconds, got %d", DefaultCountdownSeconds, cfg.CountdownSeconds)
	}
	if cfg.CheckpointInterval != DefaultCheckpointInterval {
		t.Fatalf("expected checkpoint interval %v, got %v", DefaultCheckpointInterval, cfg.CheckpointInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	//1.- Provide explicit overrides for the tunables the operators most often change.
	t.Setenv("ARENA_ADDR", ":9000")
	t.Setenv("ARENA_TICK_RATE", "30")
	t.Setenv("ARENA_COUNTDOWN_SECONDS", "5")
	t.Setenv("ARENA_CHECKPOINT_INTERVAL", "10s")
	t.Setenv("ARENA_REPLAY_DIR", "/tmp/replays")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error loading overrides: %v", err)
	}
	if cfg.Address != ":9000" || cfg.TickRate != 30 || cfg.CountdownSeconds != 5 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.CheckpointInterval != 10*time.Second {
		t.Fatalf("expected 10s checkpoint interval, got %v", cfg.CheckpointInterval)
	}
	if cfg.ReplayDir != "/tmp/replays" {
		t.Fatalf("expected replay dir override, got %q", cfg.ReplayDir)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	//1.- Supply several malformed overrides and expect a combined validation error.
	t.Setenv("ARENA_TICK_RATE", "fast")
	t.Setenv("ARENA_COUNTDOWN_SECONDS", "-1")
	t.Setenv("ARENA_CHECKPOINT_INTERVAL", "0s")
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for malformed overrides")
	}
}
