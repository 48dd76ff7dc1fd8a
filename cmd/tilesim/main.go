// Command tilesim runs the tile settlement simulation headless, with an HTTP API
// for observers and player intents.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/talgya/tilesim/internal/api"
	"github.com/talgya/tilesim/internal/config"
	"github.com/talgya/tilesim/internal/engine"
	"github.com/talgya/tilesim/internal/journal"
	"github.com/talgya/tilesim/internal/logbuf"
	"github.com/talgya/tilesim/internal/persistence"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults are used when empty)")
	units := flag.Int("units", 3, "units to spawn at startup")
	port := flag.Int("port", -1, "override the API port (0 disables the API)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logs := logbuf.NewRing(logbuf.DefaultSize)
	setupLogging(*debug, logs)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
	}
	if *port >= 0 {
		cfg.API.Port = *port
	}
	if key := os.Getenv("TILESIM_ADMIN_KEY"); key != "" {
		cfg.API.AdminKey = key
	}

	slog.Info("tilesim starting",
		"seed", cfg.World.Seed,
		"tick_rate_hz", cfg.TickRateHz,
		"bounds", fmt.Sprintf("%dx%d", cfg.World.Width, cfg.World.Height),
		"chunk_size", cfg.World.ChunkSize,
	)

	sim := engine.NewSimulation(cfg)

	// ── Database ──────────────────────────────────────────────────────
	var (
		db        *persistence.DB
		writer    *persistence.Writer
		worldID   string
		startTick uint64
	)
	if cfg.DBPath != "" {
		var err error
		db, err = persistence.Open(cfg.DBPath)
		if err != nil {
			slog.Error("failed to open database", "path", cfg.DBPath, "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.CheckSeed(cfg.World.Seed); err != nil {
			slog.Error("refusing to load structures onto different terrain", "path", cfg.DBPath, "error", err)
			os.Exit(1)
		}

		id, err := db.WorldID()
		if err != nil {
			slog.Error("failed to read world id", "error", err)
			os.Exit(1)
		}
		worldID = id.String()

		recs, err := db.LoadStructures()
		if err != nil {
			slog.Error("failed to load structures", "error", err)
			os.Exit(1)
		}
		placed := sim.LoadStructures(recs)
		if startTick, err = db.LastTick(); err != nil {
			slog.Warn("could not read last tick", "error", err)
		}
		slog.Info("database opened",
			"path", cfg.DBPath,
			"world_id", worldID,
			"structures", humanize.Comma(int64(placed)),
			"previous_ticks", humanize.Comma(int64(startTick)),
		)

		writer = persistence.NewWriter(db, 1024)
		sim.SetSaver(writer)
	} else {
		slog.Warn("db_path empty, structures will not be persisted")
	}

	// ── Units ─────────────────────────────────────────────────────────
	spawned := spawnUnits(sim, *units)
	if spawned < *units {
		slog.Warn("not enough walkable cells for requested units", "requested", *units, "spawned", spawned)
	}
	slog.Info("world ready", "units", spawned)

	// ── Journal ───────────────────────────────────────────────────────
	var jr *journal.Journal
	if cfg.Journal.Dir != "" {
		jr = journal.New(cfg.Journal.Dir, cfg.Journal.EveryTicks)
		defer func() {
			if err := jr.Close(); err != nil {
				slog.Error("journal close failed", "error", err)
			}
			slog.Info("journal closed", "lines", humanize.Comma(int64(jr.Lines())), "dropped", jr.Dropped())
		}()
	}

	// ── Loop ──────────────────────────────────────────────────────────
	update := func(dt time.Duration) {
		sim.Update(dt)
		if jr != nil {
			if err := jr.Observe(sim.Stats()); err != nil {
				slog.Warn("journal entry dropped", "tick", sim.Tick(), "error", err)
			}
		}
	}
	loop := engine.NewLoop(update, nil, cfg.TickRateHz)
	loop.FrameRate = cfg.FrameRateHz
	loop.MaxFrame = time.Duration(cfg.MaxFrameMs) * time.Millisecond

	// ── HTTP API ──────────────────────────────────────────────────────
	var apiServer *api.Server
	if cfg.API.Port > 0 {
		if cfg.API.AdminKey == "" {
			slog.Warn("no admin key set, POST /api/v1/intents is open")
		}
		apiServer = &api.Server{
			Sim:              sim,
			Loop:             loop,
			Port:             cfg.API.Port,
			AdminKey:         cfg.API.AdminKey,
			WorldID:          worldID,
			StreamInterval:   time.Duration(cfg.API.StreamIntervalMs) * time.Millisecond,
			IntentsPerMinute: cfg.API.IntentsPerMinute,
			ChunksPerMinute:  cfg.API.ChunksPerMinute,
			TrustProxy:       cfg.API.TrustProxy,
			Logs:             logs,
		}
		apiServer.Start()
	}

	// ── Start ─────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if apiServer != nil {
		fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.API.Port)
	}
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	loop.Start(ctx)
	<-ctx.Done()
	slog.Info("shutting down")
	loop.Stop()

	if apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("API shutdown failed", "error", err)
		}
		cancel()
	}

	st := sim.Stats()
	if writer != nil {
		writer.Close()
		ws := writer.Stats()
		slog.Info("structure writes flushed", "written", ws.Written, "failed", ws.Failed, "dropped", ws.Dropped)
	}
	if db != nil {
		if err := db.SaveLastTick(startTick + st.Tick); err != nil {
			slog.Error("final save failed", "error", err)
		}
	}

	slog.Info("simulation stopped",
		"ticks", humanize.Comma(int64(st.Tick)),
		"structures", st.Structures,
		"jobs_completed", st.Jobs.Completed,
		"job_resets", st.Jobs.Resets,
	)
}

// setupLogging picks a readable handler on a terminal and JSON otherwise.
// Info and above are also kept in logs for the API.
func setupLogging(debug bool, logs *logbuf.Ring) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(logbuf.NewHandler(handler, logs, slog.LevelInfo)))
}

// spawnUnits places up to n units on walkable cells, scanning rows from the origin.
func spawnUnits(sim *engine.Simulation, n int) int {
	b := sim.Bounds()
	spawned := 0
	for y := 0; y < b.Height && spawned < n; y++ {
		for x := 0; x < b.Width && spawned < n; x++ {
			if !sim.Walkable(x, y) {
				continue
			}
			if err := sim.HandleIntent(engine.SpawnUnit{X: float64(x), Y: float64(y)}); err != nil {
				slog.Warn("spawn failed", "x", x, "y", y, "error", err)
				continue
			}
			spawned++
		}
	}
	return spawned
}
