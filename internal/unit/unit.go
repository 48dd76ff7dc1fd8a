// Package unit tracks mobile agents and integrates their movement along planned paths.
package unit

import (
	"math"

	"github.com/talgya/tilesim/internal/world"
)

// ID identifies a unit.
type ID uint64

// State is what a unit is currently doing.
type State uint8

const (
	StateIdle State = iota
	StateMoving
	StateWorking
)

// String returns a human-readable name for a state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMoving:
		return "moving"
	case StateWorking:
		return "working"
	default:
		return "unknown"
	}
}

// Unit is a mobile agent with a continuous position.
// Path is non-empty only while Moving; the unit owns it exclusively.
type Unit struct {
	ID     ID            `json:"id"`
	X      float64       `json:"x"`
	Y      float64       `json:"y"`
	Path   []world.Coord `json:"path,omitempty"`
	Target *world.Coord  `json:"target,omitempty"`
	State  State         `json:"state"`
}

// Cell returns the grid cell nearest the unit.
func (u *Unit) Cell() world.Coord {
	return world.RoundCoord(u.X, u.Y)
}

// clone returns a copy that shares no memory with u.
func (u *Unit) clone() Unit {
	c := *u
	if u.Path != nil {
		c.Path = append([]world.Coord(nil), u.Path...)
	}
	if u.Target != nil {
		t := *u.Target
		c.Target = &t
	}
	return c
}

// Planner computes grid paths. An empty result means unreachable.
type Planner interface {
	FindPath(sx, sy, ex, ey int) []world.Coord
}

// MoveResult reports what a move order did.
type MoveResult uint8

const (
	MoveStarted     MoveResult = iota // Path stored, unit is Moving
	MoveUnreachable                   // No path; unit left unchanged
	MoveUnknownUnit                   // No unit with that id
)

// String returns a human-readable name for a move result.
func (r MoveResult) String() string {
	switch r {
	case MoveStarted:
		return "started"
	case MoveUnreachable:
		return "unreachable"
	case MoveUnknownUnit:
		return "unknown unit"
	default:
		return "unknown"
	}
}

// snapEpsilon absorbs float drift so a node one step away is reached on this tick.
const snapEpsilon = 1e-9

// Registry holds every unit in spawn order.
type Registry struct {
	planner Planner
	speed   float64 // Tiles per second

	units  map[ID]*Unit
	order  []ID
	nextID ID
}

// NewRegistry creates an empty registry. speed is in tiles per second.
func NewRegistry(p Planner, speed float64) *Registry {
	return &Registry{
		planner: p,
		speed:   speed,
		units:   make(map[ID]*Unit),
		nextID:  1,
	}
}

// Spawn creates an idle unit at a continuous position.
func (r *Registry) Spawn(x, y float64) ID {
	id := r.nextID
	r.nextID++
	r.units[id] = &Unit{ID: id, X: x, Y: y, State: StateIdle}
	r.order = append(r.order, id)
	return id
}

// Get returns the live unit with the given id.
// The returned pointer is owned by the registry; do not retain its Path.
func (r *Registry) Get(id ID) (*Unit, bool) {
	u, ok := r.units[id]
	return u, ok
}

// Remove deletes a unit. Jobs holding its id will see it as stale.
func (r *Registry) Remove(id ID) bool {
	if _, ok := r.units[id]; !ok {
		return false
	}
	delete(r.units, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// All returns live units in spawn order.
func (r *Registry) All() []*Unit {
	out := make([]*Unit, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.units[id])
	}
	return out
}

// First returns the earliest-spawned live unit.
func (r *Registry) First() (*Unit, bool) {
	if len(r.order) == 0 {
		return nil, false
	}
	return r.units[r.order[0]], true
}

// Snapshot returns deep copies of all units in spawn order.
func (r *Registry) Snapshot() []Unit {
	out := make([]Unit, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.units[id].clone())
	}
	return out
}

// Len returns the number of live units.
func (r *Registry) Len() int {
	return len(r.units)
}

// CountByState returns how many units are in each state.
func (r *Registry) CountByState() map[State]int {
	counts := make(map[State]int, 3)
	for _, u := range r.units {
		counts[u.State]++
	}
	return counts
}

// MoveTo plans a path from the unit's nearest cell to (tx, ty). On success the path
// replaces any previous one and the unit becomes Moving. When no path exists the
// unit is not modified.
func (r *Registry) MoveTo(id ID, tx, ty int) MoveResult {
	u, ok := r.units[id]
	if !ok {
		return MoveUnknownUnit
	}
	start := u.Cell()
	path := r.planner.FindPath(start.X, start.Y, tx, ty)
	if len(path) == 0 {
		return MoveUnreachable
	}
	u.Path = path
	u.Target = &world.Coord{X: tx, Y: ty}
	u.State = StateMoving
	return MoveStarted
}

// Update advances every moving unit by one tick of dt seconds.
// A unit closer to its next node than one tick's travel snaps onto the node exactly,
// so units never overshoot and always rest on cell centers.
func (r *Registry) Update(dt float64) {
	step := r.speed * dt
	for _, id := range r.order {
		u := r.units[id]
		if u.State != StateMoving || len(u.Path) == 0 {
			continue
		}

		next := u.Path[0]
		dx := float64(next.X) - u.X
		dy := float64(next.Y) - u.Y
		dist := math.Sqrt(dx*dx + dy*dy)

		if dist < step+snapEpsilon {
			u.X = float64(next.X)
			u.Y = float64(next.Y)
			u.Path = u.Path[1:]
			if len(u.Path) == 0 {
				u.Path = nil
				u.Target = nil
				u.State = StateIdle
			}
			continue
		}
		u.X += dx / dist * step
		u.Y += dy / dist * step
	}
}
