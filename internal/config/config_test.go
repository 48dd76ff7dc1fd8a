package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.TickRateHz != 20 || cfg.World.ChunkSize != 16 || cfg.World.NoiseFrequency != 0.1 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.API.ChunksPerMinute != 600 || cfg.API.TrustProxy {
		t.Fatalf("api defaults: %+v", cfg.API)
	}
	if cfg.Jobs.ArrivalEpsilon != 0.5 {
		t.Fatalf("arrival epsilon: got %g want 0.5", cfg.Jobs.ArrivalEpsilon)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tuning.yaml")
	raw := `
tick_rate_hz: 30
world:
  seed: 7
  width: 32
units:
  speed: 4.5
`
	if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TickRateHz != 30 {
		t.Fatalf("tick rate: got %d want 30", cfg.TickRateHz)
	}
	if cfg.World.Seed != 7 || cfg.World.Width != 32 {
		t.Fatalf("world: got %+v", cfg.World)
	}
	// Untouched keys keep their defaults.
	if cfg.World.Height != 64 || cfg.World.ChunkSize != 16 {
		t.Fatalf("defaults lost: %+v", cfg.World)
	}
	if cfg.Units.Speed != 4.5 {
		t.Fatalf("speed: got %g want 4.5", cfg.Units.Speed)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(p, []byte("tick_rate_hz: 0\nunits:\n  speed: -1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(p)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"tick_rate_hz", "units.speed"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
