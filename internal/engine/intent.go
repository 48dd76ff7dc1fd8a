package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/talgya/tilesim/internal/job"
	"github.com/talgya/tilesim/internal/structure"
	"github.com/talgya/tilesim/internal/unit"
	"github.com/talgya/tilesim/internal/world"
)

// Intent errors.
var (
	ErrUnknownIntent = errors.New("unknown intent")
	ErrNoUnit        = errors.New("no such unit")
	ErrOccupied      = errors.New("cell already occupied")
	ErrInvalidType   = errors.New("invalid structure type")
	ErrUnreachable   = errors.New("target unreachable")
	ErrOutOfBounds   = errors.New("position out of bounds")
)

// Intent is a player command applied at a tick boundary.
type Intent interface {
	Name() string
}

// PlaceBuilding places a structure immediately, without a unit walking there.
type PlaceBuilding struct {
	X    int            `json:"x"`
	Y    int            `json:"y"`
	Type structure.Type `json:"type"`
}

func (PlaceBuilding) Name() string { return "place_building" }

// Interact sends a unit to a tile. UnitID zero selects the earliest-spawned unit.
type Interact struct {
	Tile   world.Coord `json:"tile"`
	UnitID unit.ID     `json:"unit_id,omitempty"`
}

func (Interact) Name() string { return "interact" }

// SpawnUnit creates an idle unit.
type SpawnUnit struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (SpawnUnit) Name() string { return "spawn_unit" }

// QueueJob adds a job to the scheduler.
type QueueJob struct {
	Kind     job.Kind       `json:"kind"`
	X        int            `json:"x"`
	Y        int            `json:"y"`
	Priority int            `json:"priority"`
	Type     structure.Type `json:"type,omitempty"`
}

func (QueueJob) Name() string { return "queue_job" }

// HandleIntent applies an intent immediately. It must be called from the goroutine
// that runs Update; other goroutines use Enqueue.
func (s *Simulation) HandleIntent(in Intent) error {
	var err error
	switch v := in.(type) {
	case PlaceBuilding:
		err = s.placeBuilding(v)
	case Interact:
		err = s.interact(v)
	case SpawnUnit:
		err = s.spawnUnit(v)
	case QueueJob:
		err = s.queueJob(v)
	default:
		err = fmt.Errorf("%w: %T", ErrUnknownIntent, in)
	}
	if err != nil {
		s.intentErrors++
		return err
	}
	s.intentsApplied++
	return nil
}

// Enqueue queues an intent for the next tick boundary. Safe for concurrent use.
func (s *Simulation) Enqueue(in Intent) {
	s.qmu.Lock()
	s.queue = append(s.queue, in)
	s.qmu.Unlock()
}

// drain applies every queued intent in arrival order.
func (s *Simulation) drain() {
	s.qmu.Lock()
	pending := s.queue
	s.queue = nil
	s.qmu.Unlock()

	for _, in := range pending {
		if err := s.HandleIntent(in); err != nil {
			slog.Debug("intent rejected", "tick", s.tick, "intent", in.Name(), "error", err)
		}
	}
}

func (s *Simulation) placeBuilding(v PlaceBuilding) error {
	if v.Type == structure.TypeNone {
		return ErrInvalidType
	}
	if _, ok := s.place(v.X, v.Y, v.Type, true); !ok {
		return fmt.Errorf("%w: (%d,%d)", ErrOccupied, v.X, v.Y)
	}
	return nil
}

func (s *Simulation) interact(v Interact) error {
	var u *unit.Unit
	var ok bool
	if v.UnitID == 0 {
		u, ok = s.units.First()
	} else {
		u, ok = s.units.Get(v.UnitID)
	}
	if !ok {
		return ErrNoUnit
	}
	switch s.units.MoveTo(u.ID, v.Tile.X, v.Tile.Y) {
	case unit.MoveStarted:
		return nil
	case unit.MoveUnreachable:
		return fmt.Errorf("%w: (%d,%d)", ErrUnreachable, v.Tile.X, v.Tile.Y)
	default:
		return ErrNoUnit
	}
}

func (s *Simulation) spawnUnit(v SpawnUnit) error {
	c := world.RoundCoord(v.X, v.Y)
	if !s.finder.Bounds().Contains(c.X, c.Y) {
		return fmt.Errorf("%w: (%g,%g)", ErrOutOfBounds, v.X, v.Y)
	}
	s.SpawnUnit(v.X, v.Y)
	return nil
}

func (s *Simulation) queueJob(v QueueJob) error {
	if _, err := s.jobs.Add(v.Kind, v.X, v.Y, v.Priority, v.Type); err != nil {
		return fmt.Errorf("queue job: %w", err)
	}
	return nil
}
