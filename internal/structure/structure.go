// Package structure holds placed, immovable buildings keyed by grid cell.
package structure

import (
	"errors"
	"fmt"
	"strings"

	"github.com/talgya/tilesim/internal/world"
)

// ID identifies a placed structure.
type ID uint64

// Type discriminates building kinds. Zero means "no structure type".
type Type uint8

const (
	TypeNone  Type = iota
	TypeHouse      // Dwelling
	TypeWall       // Barrier
)

// String returns a human-readable name for a structure type.
func (t Type) String() string {
	switch t {
	case TypeNone:
		return "None"
	case TypeHouse:
		return "House"
	case TypeWall:
		return "Wall"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// ErrUnknownType is returned by ParseType for names it does not recognize.
var ErrUnknownType = errors.New("unknown structure type")

// ParseType converts a case-insensitive name such as "house" to a Type.
func ParseType(name string) (Type, error) {
	switch strings.ToLower(name) {
	case "house":
		return TypeHouse, nil
	case "wall":
		return TypeWall, nil
	default:
		return TypeNone, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
}

// Structure is a building occupying exactly one cell.
type Structure struct {
	ID   ID   `json:"id"`
	Type Type `json:"type"`
	X    int  `json:"x"`
	Y    int  `json:"y"`
}

// Coord returns the cell the structure occupies.
func (s Structure) Coord() world.Coord {
	return world.Coord{X: s.X, Y: s.Y}
}

// Record is the persisted shape of a structure.
type Record struct {
	X    int  `json:"x" db:"x"`
	Y    int  `json:"y" db:"y"`
	Type Type `json:"type" db:"type"`
}

// Registry stores at most one structure per cell.
type Registry struct {
	byCell map[world.Coord]Structure
	order  []world.Coord // Placement order, for stable snapshots
	nextID ID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byCell: make(map[world.Coord]Structure),
		nextID: 1,
	}
}

// Place inserts a structure at (x, y). It returns false and changes nothing
// when the cell is already occupied.
func (r *Registry) Place(x, y int, t Type) (Structure, bool) {
	c := world.Coord{X: x, Y: y}
	if _, ok := r.byCell[c]; ok {
		return Structure{}, false
	}
	s := Structure{ID: r.nextID, Type: t, X: x, Y: y}
	r.nextID++
	r.byCell[c] = s
	r.order = append(r.order, c)
	return s, true
}

// Get returns the structure at (x, y), if any.
func (r *Registry) Get(x, y int) (Structure, bool) {
	s, ok := r.byCell[world.Coord{X: x, Y: y}]
	return s, ok
}

// Occupied reports whether a structure stands at (x, y).
func (r *Registry) Occupied(x, y int) bool {
	_, ok := r.byCell[world.Coord{X: x, Y: y}]
	return ok
}

// Remove deletes the structure at (x, y) and reports whether one existed.
func (r *Registry) Remove(x, y int) bool {
	c := world.Coord{X: x, Y: y}
	if _, ok := r.byCell[c]; !ok {
		return false
	}
	delete(r.byCell, c)
	for i, oc := range r.order {
		if oc == c {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// All returns every structure in placement order.
func (r *Registry) All() []Structure {
	out := make([]Structure, 0, len(r.order))
	for _, c := range r.order {
		out = append(out, r.byCell[c])
	}
	return out
}

// Len returns the number of placed structures.
func (r *Registry) Len() int {
	return len(r.byCell)
}
