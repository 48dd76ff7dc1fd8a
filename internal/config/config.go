// Package config loads the simulation tuning file.
// Every constant the core depends on is injectable here so tests can shrink worlds,
// speed units up, or swap thresholds without touching simulation code.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all simulation and process parameters.
type Config struct {
	TickRateHz  int `yaml:"tick_rate_hz"`  // Fixed simulation ticks per second
	FrameRateHz int `yaml:"frame_rate_hz"` // Driver callbacks per second (render rate)
	MaxFrameMs  int `yaml:"max_frame_ms"`  // Clamp on a single frame's elapsed time

	World WorldConfig `yaml:"world"`
	Units UnitConfig  `yaml:"units"`
	Jobs  JobConfig   `yaml:"jobs"`

	Journal JournalConfig `yaml:"journal"`
	API     APIConfig     `yaml:"api"`

	DBPath string `yaml:"db_path"` // Empty disables persistence
}

// WorldConfig parameterizes terrain generation and the walkable bounds.
type WorldConfig struct {
	Seed              int64   `yaml:"seed"`
	ChunkSize         int     `yaml:"chunk_size"`
	NoiseFrequency    float64 `yaml:"noise_frequency"`
	WaterThreshold    float64 `yaml:"water_threshold"`    // Samples below this are water
	MountainThreshold float64 `yaml:"mountain_threshold"` // Samples above this are mountain
	Width             int     `yaml:"width"`              // Walkable tiles along x, starting at 0
	Height            int     `yaml:"height"`             // Walkable tiles along y, starting at 0
	MaxExpansions     int     `yaml:"max_expansions"`     // Pathfinder cap per search, 0 = unlimited
}

// UnitConfig parameterizes unit movement.
type UnitConfig struct {
	Speed float64 `yaml:"speed"` // Tiles per second
}

// JobConfig parameterizes the job scheduler.
type JobConfig struct {
	PriorityWeight float64 `yaml:"priority_weight"` // score = priority*weight - distance
	ArrivalEpsilon float64 `yaml:"arrival_epsilon"` // Manhattan distance counted as arrived
}

// JournalConfig controls the compressed tick journal.
type JournalConfig struct {
	Dir        string `yaml:"dir"`         // Empty disables the journal
	EveryTicks int    `yaml:"every_ticks"` // Write one entry every N ticks
}

// APIConfig controls the HTTP adapter.
type APIConfig struct {
	Port             int    `yaml:"port"` // 0 disables the API
	AdminKey         string `yaml:"admin_key"`
	StreamIntervalMs int    `yaml:"stream_interval_ms"`
	IntentsPerMinute int    `yaml:"intents_per_minute"`
	ChunksPerMinute  int    `yaml:"chunks_per_minute"` // Per-IP cap on chunk reads; 0 = unlimited
	TrustProxy       bool   `yaml:"trust_proxy"`       // Key rate limits on X-Forwarded-For
}

// Default returns the reference configuration.
func Default() Config {
	return Config{
		TickRateHz:  20,
		FrameRateHz: 60,
		MaxFrameMs:  1000,
		World: WorldConfig{
			Seed:              42,
			ChunkSize:         16,
			NoiseFrequency:    0.1,
			WaterThreshold:    -0.2,
			MountainThreshold: 0.6,
			Width:             64,
			Height:            64,
		},
		Units: UnitConfig{
			Speed: 2.0,
		},
		Jobs: JobConfig{
			PriorityWeight: 10,
			ArrivalEpsilon: 0.5,
		},
		Journal: JournalConfig{
			Dir:        "data/journal",
			EveryTicks: 100,
		},
		API: APIConfig{
			Port:             8080,
			StreamIntervalMs: 250,
			IntentsPerMinute: 120,
			ChunksPerMinute:  600,
		},
		DBPath: "data/tilesim.db",
	}
}

// Load reads a YAML file and overlays it on Default.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the simulation cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.TickRateHz <= 0 {
		errs = append(errs, fmt.Errorf("tick_rate_hz must be positive, got %d", c.TickRateHz))
	}
	if c.FrameRateHz <= 0 {
		errs = append(errs, fmt.Errorf("frame_rate_hz must be positive, got %d", c.FrameRateHz))
	}
	if c.MaxFrameMs <= 0 {
		errs = append(errs, fmt.Errorf("max_frame_ms must be positive, got %d", c.MaxFrameMs))
	}
	if c.World.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("world.chunk_size must be positive, got %d", c.World.ChunkSize))
	}
	if c.World.Width <= 0 || c.World.Height <= 0 {
		errs = append(errs, fmt.Errorf("world bounds must be positive, got %dx%d", c.World.Width, c.World.Height))
	}
	if c.World.WaterThreshold >= c.World.MountainThreshold {
		errs = append(errs, fmt.Errorf("world.water_threshold (%g) must be below mountain_threshold (%g)",
			c.World.WaterThreshold, c.World.MountainThreshold))
	}
	if c.World.MaxExpansions < 0 {
		errs = append(errs, fmt.Errorf("world.max_expansions must not be negative, got %d", c.World.MaxExpansions))
	}
	if c.Units.Speed <= 0 {
		errs = append(errs, fmt.Errorf("units.speed must be positive, got %g", c.Units.Speed))
	}
	if c.Jobs.ArrivalEpsilon <= 0 {
		errs = append(errs, fmt.Errorf("jobs.arrival_epsilon must be positive, got %g", c.Jobs.ArrivalEpsilon))
	}
	if c.Journal.EveryTicks < 0 {
		errs = append(errs, fmt.Errorf("journal.every_ticks must not be negative, got %d", c.Journal.EveryTicks))
	}
	return errors.Join(errs...)
}
