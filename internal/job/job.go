// Package job queues deferred work and binds it to idle units.
//
// Each tick runs two passes. Assignment gives every idle, unbound unit the best
// unassigned job by priority and distance and orders it to the target. Completion
// finishes jobs whose unit is idle on the target and releases jobs whose unit went
// idle anywhere else, so they are retried on a later tick. A job with an unreachable
// target is never dropped: it cycles between assigned and unassigned.
package job

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/talgya/tilesim/internal/structure"
	"github.com/talgya/tilesim/internal/unit"
	"github.com/talgya/tilesim/internal/world"
)

// ErrMissingStructureType is returned when a Build job carries no structure type.
var ErrMissingStructureType = errors.New("build job requires a structure type")

// ErrUnknownKind is returned for job kinds the scheduler does not handle.
var ErrUnknownKind = errors.New("unknown job kind")

// ID identifies a job.
type ID uint64

// Kind is the type of work.
type Kind uint8

const (
	KindMove  Kind = iota // Walk to the target
	KindBuild             // Walk to the target, then place a structure there
)

// String returns a human-readable name for a kind.
func (k Kind) String() string {
	switch k {
	case KindMove:
		return "move"
	case KindBuild:
		return "build"
	default:
		return "unknown"
	}
}

// ParseKind converts a name produced by Kind.String back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "move":
		return KindMove, nil
	case "build":
		return KindBuild, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Job is one unit of deferred work. Assigned refers to a unit by id only and
// may go stale if the unit is removed; zero means unassigned.
type Job struct {
	ID            ID             `json:"id"`
	Kind          Kind           `json:"kind"`
	X             int            `json:"x"`
	Y             int            `json:"y"`
	Priority      int            `json:"priority"`
	StructureType structure.Type `json:"structure_type,omitempty"`
	Assigned      unit.ID        `json:"assigned,omitempty"`
}

// Target returns the job's destination cell.
func (j *Job) Target() world.Coord {
	return world.Coord{X: j.X, Y: j.Y}
}

// Units is the view of the unit registry the scheduler needs.
type Units interface {
	All() []*unit.Unit
	Get(id unit.ID) (*unit.Unit, bool)
	MoveTo(id unit.ID, tx, ty int) unit.MoveResult
}

// Placer places structures when build jobs complete.
type Placer interface {
	Place(x, y int, t structure.Type) (structure.Structure, bool)
}

// Config holds scoring constants.
type Config struct {
	PriorityWeight float64 // score = priority*weight - manhattan distance
	ArrivalEpsilon float64 // Manhattan distance below which a unit has arrived
}

// DefaultConfig returns the reference scoring constants.
func DefaultConfig() Config {
	return Config{PriorityWeight: 10, ArrivalEpsilon: 0.5}
}

// DefaultPriority is used for jobs queued without an explicit priority.
const DefaultPriority = 1

// Stats counts scheduler outcomes since creation.
type Stats struct {
	Assigned   int    `json:"assigned"`   // Active jobs bound to a unit
	Unassigned int    `json:"unassigned"` // Active jobs waiting for a unit
	Completed  uint64 `json:"completed"`
	Resets     uint64 `json:"resets"`      // Assigned jobs released because the unit idled away from the target
	Stale      uint64 `json:"stale"`       // Assigned jobs released because the unit no longer exists
	Orders     uint64 `json:"orders"`      // Assignments made
	Unreached  uint64 `json:"unreachable"` // Assignments whose move order found no path
}

// Scheduler owns the active job set.
type Scheduler struct {
	units  Units
	placer Placer
	cfg    Config

	jobs   []*Job // Insertion order
	nextID ID
	stats  Stats
}

// NewScheduler creates an empty scheduler.
func NewScheduler(u Units, p Placer, cfg Config) *Scheduler {
	return &Scheduler{
		units:  u,
		placer: p,
		cfg:    cfg,
		nextID: 1,
	}
}

// Add enqueues an unassigned job and returns its id.
func (s *Scheduler) Add(kind Kind, x, y, priority int, t structure.Type) (ID, error) {
	switch kind {
	case KindMove:
	case KindBuild:
		if t == structure.TypeNone {
			return 0, ErrMissingStructureType
		}
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}

	j := &Job{
		ID:            s.nextID,
		Kind:          kind,
		X:             x,
		Y:             y,
		Priority:      priority,
		StructureType: t,
	}
	s.nextID++
	s.jobs = append(s.jobs, j)
	return j.ID, nil
}

// Cancel removes a job regardless of its assignment. The assigned unit, if any,
// keeps walking; it simply has nothing to complete on arrival.
func (s *Scheduler) Cancel(id ID) bool {
	for i, j := range s.jobs {
		if j.ID == id {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns a copy of the active job with the given id.
func (s *Scheduler) Get(id ID) (Job, bool) {
	for _, j := range s.jobs {
		if j.ID == id {
			return *j, true
		}
	}
	return Job{}, false
}

// Active returns copies of all active jobs in insertion order.
func (s *Scheduler) Active() []Job {
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out
}

// Len returns the number of active jobs.
func (s *Scheduler) Len() int {
	return len(s.jobs)
}

// Stats returns outcome counters and the current assigned/unassigned split.
func (s *Scheduler) Stats() Stats {
	st := s.stats
	for _, j := range s.jobs {
		if j.Assigned != 0 {
			st.Assigned++
		} else {
			st.Unassigned++
		}
	}
	return st
}

// Update runs the assignment pass, then the completion pass.
// dt is accepted for symmetry with the other per-tick systems; scheduling does not
// depend on elapsed time.
func (s *Scheduler) Update(dt float64) {
	s.assign()
	s.complete()
}

// assign binds idle units to the best unassigned jobs.
func (s *Scheduler) assign() {
	var pool []*Job
	busy := make(map[unit.ID]bool)
	for _, j := range s.jobs {
		if j.Assigned == 0 {
			pool = append(pool, j)
		} else {
			busy[j.Assigned] = true
		}
	}
	if len(pool) == 0 {
		return
	}
	sort.SliceStable(pool, func(a, b int) bool { return pool[a].Priority > pool[b].Priority })

	for _, u := range s.units.All() {
		if len(pool) == 0 {
			return
		}
		// A unit still bound to a job waits for the completion pass to release it.
		if u.State != unit.StateIdle || busy[u.ID] {
			continue
		}

		best := -1
		bestScore := math.Inf(-1)
		for i, j := range pool {
			score := float64(j.Priority)*s.cfg.PriorityWeight - world.ManhattanF(u.X, u.Y, j.Target())
			if score > bestScore {
				bestScore = score
				best = i
			}
		}
		if best < 0 {
			continue
		}

		j := pool[best]
		pool = append(pool[:best], pool[best+1:]...)
		j.Assigned = u.ID
		s.stats.Orders++

		res := s.units.MoveTo(u.ID, j.X, j.Y)
		if res != unit.MoveStarted {
			s.stats.Unreached++
		}
		slog.Debug("job assigned",
			"job", j.ID,
			"kind", j.Kind.String(),
			"unit", u.ID,
			"target_x", j.X,
			"target_y", j.Y,
			"score", bestScore,
			"move", res.String(),
		)
	}
}

// complete finishes arrived jobs and releases jobs whose unit idled elsewhere.
func (s *Scheduler) complete() {
	kept := s.jobs[:0]
	for _, j := range s.jobs {
		if j.Assigned == 0 {
			kept = append(kept, j)
			continue
		}

		u, ok := s.units.Get(j.Assigned)
		if !ok {
			slog.Debug("job released, unit gone", "job", j.ID, "unit", j.Assigned)
			j.Assigned = 0
			s.stats.Stale++
			kept = append(kept, j)
			continue
		}
		if u.State != unit.StateIdle {
			kept = append(kept, j)
			continue
		}

		if world.ManhattanF(u.X, u.Y, j.Target()) < s.cfg.ArrivalEpsilon {
			if j.Kind == KindBuild && j.StructureType != structure.TypeNone {
				// A cell filled after the route was planned still completes the job.
				_, placed := s.placer.Place(j.X, j.Y, j.StructureType)
				slog.Debug("build job finished", "job", j.ID, "placed", placed, "x", j.X, "y", j.Y)
			}
			s.stats.Completed++
			continue
		}

		j.Assigned = 0
		s.stats.Resets++
		kept = append(kept, j)
	}
	// Drop references held past the new length.
	for i := len(kept); i < len(s.jobs); i++ {
		s.jobs[i] = nil
	}
	s.jobs = kept
}
