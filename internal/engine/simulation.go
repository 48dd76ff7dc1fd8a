// Simulation ties together terrain, structures, units and jobs and advances them each tick.
package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/tilesim/internal/config"
	"github.com/talgya/tilesim/internal/ecs"
	"github.com/talgya/tilesim/internal/job"
	"github.com/talgya/tilesim/internal/pathfind"
	"github.com/talgya/tilesim/internal/structure"
	"github.com/talgya/tilesim/internal/unit"
	"github.com/talgya/tilesim/internal/world"
)

// StructureSaver receives every successful placement.
// Implementations must not block; errors are logged and otherwise ignored.
type StructureSaver interface {
	SaveStructure(rec structure.Record) error
}

// Stats summarizes the world after a tick.
type Stats struct {
	Tick           uint64    `json:"tick"`
	Units          int       `json:"units"`
	Idle           int       `json:"idle"`
	Moving         int       `json:"moving"`
	Working        int       `json:"working"`
	Structures     int       `json:"structures"`
	Chunks         int       `json:"chunks"`
	Entities       int       `json:"entities"`
	Jobs           job.Stats `json:"jobs"`
	IntentsApplied uint64    `json:"intents_applied"`
	IntentErrors   uint64    `json:"intent_errors"`
}

// Snapshot is a copy of the world published after each tick.
type Snapshot struct {
	Tick       uint64                `json:"tick"`
	Structures []structure.Structure `json:"structures"`
	Units      []unit.Unit           `json:"units"`
	Jobs       []job.Job             `json:"jobs"`
	Stats      Stats                 `json:"stats"`
}

// Simulation owns all core state. Update, HandleIntent and the live accessors must
// be called from one goroutine; Enqueue, Snapshot, Stats and Chunk are safe from any.
type Simulation struct {
	grid       *world.ChunkStore
	structures *structure.Registry
	finder     *pathfind.Finder
	units      *unit.Registry
	jobs       *job.Scheduler
	entities   *ecs.World

	unitEntity      map[unit.ID]ecs.Entity
	structureEntity map[world.Coord]ecs.Entity

	saver StructureSaver

	tick           uint64
	intentsApplied uint64
	intentErrors   uint64

	qmu   sync.Mutex
	queue []Intent

	smu  sync.RWMutex
	snap Snapshot
}

// NewSimulation builds an empty world from configuration.
func NewSimulation(cfg config.Config) *Simulation {
	gen := world.GenConfig{
		Seed:              cfg.World.Seed,
		ChunkSize:         cfg.World.ChunkSize,
		Frequency:         cfg.World.NoiseFrequency,
		WaterThreshold:    cfg.World.WaterThreshold,
		MountainThreshold: cfg.World.MountainThreshold,
	}
	return newSimulation(gen, cfg)
}

// newSimulation lets tests inject a generator with a fixed noise field.
func newSimulation(gen world.GenConfig, cfg config.Config) *Simulation {
	s := &Simulation{
		grid:            world.NewChunkStore(gen),
		structures:      structure.NewRegistry(),
		entities:        ecs.NewWorld(),
		unitEntity:      make(map[unit.ID]ecs.Entity),
		structureEntity: make(map[world.Coord]ecs.Entity),
	}
	s.finder = pathfind.NewFinder(s.grid, s.structures, pathfind.Bounds{
		Width:  cfg.World.Width,
		Height: cfg.World.Height,
	})
	s.finder.MaxExpansions = cfg.World.MaxExpansions
	s.units = unit.NewRegistry(s.finder, cfg.Units.Speed)
	s.jobs = job.NewScheduler(s.units, placer{s}, job.Config{
		PriorityWeight: cfg.Jobs.PriorityWeight,
		ArrivalEpsilon: cfg.Jobs.ArrivalEpsilon,
	})
	s.publish()
	return s
}

// placer routes build-job placements through the simulation so they are saved.
type placer struct{ s *Simulation }

func (p placer) Place(x, y int, t structure.Type) (structure.Structure, bool) {
	return p.s.place(x, y, t, true)
}

// SetSaver installs the persistence hook. Pass nil to disable saving.
func (s *Simulation) SetSaver(saver StructureSaver) {
	s.saver = saver
}

// LoadStructures places persisted records without calling the saver.
// Records on occupied cells are skipped. It returns the number placed.
func (s *Simulation) LoadStructures(recs []structure.Record) int {
	placed := 0
	for _, r := range recs {
		if _, ok := s.place(r.X, r.Y, r.Type, false); ok {
			placed++
		}
	}
	if skipped := len(recs) - placed; skipped > 0 {
		slog.Warn("skipped duplicate structure records", "skipped", skipped)
	}
	s.publish()
	return placed
}

func (s *Simulation) place(x, y int, t structure.Type, save bool) (structure.Structure, bool) {
	st, ok := s.structures.Place(x, y, t)
	if !ok {
		return st, false
	}
	e := s.entities.Create()
	s.entities.Kind.Add(e, ecs.KindStructure)
	s.entities.Ref.Add(e, uint64(st.ID))
	s.entities.Cell.Add(e, ecs.Cell{X: x, Y: y})
	s.structureEntity[st.Coord()] = e

	if save && s.saver != nil {
		if err := s.saver.SaveStructure(structure.Record{X: x, Y: y, Type: t}); err != nil {
			slog.Warn("structure save failed", "x", x, "y", y, "type", t.String(), "error", err)
		}
	}
	return st, true
}

// RemoveStructure deletes the structure at (x, y) and its entity.
func (s *Simulation) RemoveStructure(x, y int) bool {
	if !s.structures.Remove(x, y) {
		return false
	}
	c := world.Coord{X: x, Y: y}
	if e, ok := s.structureEntity[c]; ok {
		s.destroy(e)
		delete(s.structureEntity, c)
	}
	return true
}

// SpawnUnit creates an idle unit and its entity.
func (s *Simulation) SpawnUnit(x, y float64) unit.ID {
	id := s.units.Spawn(x, y)
	e := s.entities.Create()
	s.entities.Kind.Add(e, ecs.KindUnit)
	s.entities.Ref.Add(e, uint64(id))
	c := world.RoundCoord(x, y)
	s.entities.Cell.Add(e, ecs.Cell{X: c.X, Y: c.Y})
	s.unitEntity[id] = e
	return id
}

// RemoveUnit deletes a unit. Jobs bound to it are released on the next tick.
func (s *Simulation) RemoveUnit(id unit.ID) bool {
	if !s.units.Remove(id) {
		return false
	}
	if e, ok := s.unitEntity[id]; ok {
		s.destroy(e)
		delete(s.unitEntity, id)
	}
	return true
}

// destroy removes an entity from every built-in table.
func (s *Simulation) destroy(e ecs.Entity) {
	s.entities.Destroy(e)
	s.entities.Kind.Remove(e)
	s.entities.Ref.Remove(e)
	s.entities.Cell.Remove(e)
}

// AddJob queues work directly, bypassing the intent queue.
func (s *Simulation) AddJob(kind job.Kind, x, y, priority int, t structure.Type) (job.ID, error) {
	return s.jobs.Add(kind, x, y, priority, t)
}

// Update advances the world by one fixed tick: queued intents, then jobs, then
// movement. A move order issued during assignment is integrated in the same tick.
func (s *Simulation) Update(dt time.Duration) {
	sec := dt.Seconds()

	s.drain()
	s.jobs.Update(sec)
	s.units.Update(sec)
	s.tick++

	for _, u := range s.units.All() {
		if e, ok := s.unitEntity[u.ID]; ok {
			c := u.Cell()
			s.entities.Cell.Add(e, ecs.Cell{X: c.X, Y: c.Y})
		}
	}

	s.publish()
}

// publish copies the live state into the shared snapshot.
func (s *Simulation) publish() {
	snap := Snapshot{
		Tick:       s.tick,
		Structures: s.structures.All(),
		Units:      s.units.Snapshot(),
		Jobs:       s.jobs.Active(),
		Stats:      s.liveStats(),
	}
	s.smu.Lock()
	s.snap = snap
	s.smu.Unlock()
}

func (s *Simulation) liveStats() Stats {
	counts := s.units.CountByState()
	return Stats{
		Tick:           s.tick,
		Units:          s.units.Len(),
		Idle:           counts[unit.StateIdle],
		Moving:         counts[unit.StateMoving],
		Working:        counts[unit.StateWorking],
		Structures:     s.structures.Len(),
		Chunks:         s.grid.Len(),
		Entities:       s.entities.Count(),
		Jobs:           s.jobs.Stats(),
		IntentsApplied: s.intentsApplied,
		IntentErrors:   s.intentErrors,
	}
}

// Snapshot returns the state published after the most recent tick.
// The slices are not shared with the simulation but are shared between callers.
func (s *Simulation) Snapshot() Snapshot {
	s.smu.RLock()
	defer s.smu.RUnlock()
	return s.snap
}

// Stats returns the statistics published after the most recent tick.
func (s *Simulation) Stats() Stats {
	return s.Snapshot().Stats
}

// Chunk returns terrain for chunk (cx, cy), generating it on first access.
func (s *Simulation) Chunk(cx, cy int) *world.Chunk {
	return s.grid.Chunk(cx, cy)
}

// ChunkInBounds reports whether chunk (cx, cy) overlaps the walkable area.
func (s *Simulation) ChunkInBounds(cx, cy int) bool {
	b := s.finder.Bounds()
	size := s.grid.ChunkSize()
	return cx >= 0 && cy >= 0 && cx < (b.Width+size-1)/size && cy < (b.Height+size-1)/size
}

// ChunkSize returns the chunk edge length in tiles.
func (s *Simulation) ChunkSize() int {
	return s.grid.ChunkSize()
}

// Tile returns the terrain at absolute (x, y).
func (s *Simulation) Tile(x, y int) world.Tile {
	return s.grid.Tile(x, y)
}

// Bounds returns the walkable area.
func (s *Simulation) Bounds() pathfind.Bounds {
	return s.finder.Bounds()
}

// Walkable reports whether a unit may stand on (x, y).
func (s *Simulation) Walkable(x, y int) bool {
	return s.finder.Walkable(x, y)
}

// Tick returns the number of ticks processed.
func (s *Simulation) Tick() uint64 {
	return s.tick
}

// Structures returns live structures in placement order.
func (s *Simulation) Structures() []structure.Structure {
	return s.structures.All()
}

// Units returns deep copies of live units in spawn order.
func (s *Simulation) Units() []unit.Unit {
	return s.units.Snapshot()
}

// Jobs returns copies of active jobs in insertion order.
func (s *Simulation) Jobs() []job.Job {
	return s.jobs.Active()
}

// Entity returns the entity backing a unit.
func (s *Simulation) Entity(id unit.ID) (ecs.Entity, bool) {
	e, ok := s.unitEntity[id]
	return e, ok
}

// Entities exposes the component store for extensions.
func (s *Simulation) Entities() *ecs.World {
	return s.entities
}
