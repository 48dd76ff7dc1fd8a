// Package pathfind finds 4-connected grid paths with A*.
package pathfind

import (
	"sort"

	"github.com/talgya/tilesim/internal/world"
)

// Terrain reports the tile at an absolute cell.
type Terrain interface {
	Tile(x, y int) world.Tile
}

// Occupancy reports whether a structure stands on a cell.
type Occupancy interface {
	Occupied(x, y int) bool
}

// Bounds is the walkable rectangle [0, Width) x [0, Height).
type Bounds struct {
	Width, Height int
}

// Contains reports whether the cell lies inside the bounds.
func (b Bounds) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < b.Width && y < b.Height
}

// Finder runs path searches against live terrain and structure state.
// Searches are never cached; callers re-plan when obstacles change.
type Finder struct {
	terrain   Terrain
	occupancy Occupancy
	bounds    Bounds

	// MaxExpansions caps closed nodes per search. Zero means unlimited.
	MaxExpansions int

	expanded int // Closed nodes in the most recent search
}

// NewFinder creates a pathfinder over the given terrain and occupancy sources.
func NewFinder(t Terrain, o Occupancy, b Bounds) *Finder {
	return &Finder{terrain: t, occupancy: o, bounds: b}
}

// Bounds returns the walkable rectangle.
func (f *Finder) Bounds() Bounds {
	return f.bounds
}

// Walkable reports whether a unit may path through (x, y): in bounds, passable
// terrain, and no structure.
func (f *Finder) Walkable(x, y int) bool {
	if !f.bounds.Contains(x, y) {
		return false
	}
	if !f.terrain.Tile(x, y).Passable() {
		return false
	}
	return !f.occupancy.Occupied(x, y)
}

// Expanded returns how many nodes the most recent search closed.
func (f *Finder) Expanded() int {
	return f.expanded
}

type node struct {
	c      world.Coord
	g, f   int
	parent *node
}

// FindPath returns the cells from start to end, both included, or nil when no path
// exists. A destination that is neither walkable nor a structure fails before any
// search. Structure cells are never entered, so a search toward one explores the
// reachable area and then returns nil.
//
// The open list is stably re-sorted by f before each pop, so ties go to the entry
// that was opened first. Callers must not rely on which of several equal-cost paths
// is returned.
func (f *Finder) FindPath(sx, sy, ex, ey int) []world.Coord {
	f.expanded = 0

	goal := world.Coord{X: ex, Y: ey}
	if !f.Walkable(ex, ey) && !(f.bounds.Contains(ex, ey) && f.occupancy.Occupied(ex, ey)) {
		return nil
	}

	start := &node{c: world.Coord{X: sx, Y: sy}}
	open := []*node{start}
	inOpen := map[world.Coord]*node{start.c: start}
	closed := make(map[world.Coord]bool)

	for len(open) > 0 {
		sort.SliceStable(open, func(i, j int) bool { return open[i].f < open[j].f })
		cur := open[0]
		open = open[1:]
		delete(inOpen, cur.c)

		if cur.c == goal {
			return reconstructPath(cur)
		}

		closed[cur.c] = true
		f.expanded++
		if f.MaxExpansions > 0 && f.expanded >= f.MaxExpansions {
			return nil
		}

		for _, nc := range cur.c.Neighbors4() {
			if closed[nc] {
				continue
			}
			if !f.Walkable(nc.X, nc.Y) {
				continue
			}

			g := cur.g + 1
			h := world.Manhattan(nc, goal)
			if existing, ok := inOpen[nc]; ok {
				if g < existing.g {
					existing.g = g
					existing.f = g + h
					existing.parent = cur
				}
				continue
			}
			n := &node{c: nc, g: g, f: g + h, parent: cur}
			open = append(open, n)
			inOpen[nc] = n
		}
	}
	return nil
}

// reconstructPath walks parent links back to the start and reverses them.
func reconstructPath(n *node) []world.Coord {
	var path []world.Coord
	for cur := n; cur != nil; cur = cur.parent {
		path = append(path, cur.c)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
