// Package world provides the chunked tile grid, terrain generation, and grid coordinates.
package world

// Tile is one terrain cell.
type Tile uint8

const (
	TileEmpty    Tile = iota // Never generated; returned for out-of-range lookups
	TileGrass                // Default walkable ground
	TileWater                // Impassable
	TileMountain             // Impassable
)

// Passable reports whether units may stand on this terrain.
// Structures are checked separately by the pathfinder.
func (t Tile) Passable() bool {
	return t != TileWater && t != TileMountain
}

// String returns a human-readable name for a tile type.
func (t Tile) String() string {
	switch t {
	case TileEmpty:
		return "Empty"
	case TileGrass:
		return "Grass"
	case TileWater:
		return "Water"
	case TileMountain:
		return "Mountain"
	default:
		return "Unknown"
	}
}
