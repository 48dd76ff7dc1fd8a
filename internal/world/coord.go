package world

import "math"

// Isometric tile dimensions in screen pixels (2:1 ratio).
const (
	TileWidth  = 32
	TileHeight = 16
)

// Coord is an integer grid cell.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Neighbors4 returns the four orthogonal neighbors in +x, -x, +y, -y order.
func (c Coord) Neighbors4() [4]Coord {
	return [4]Coord{
		{X: c.X + 1, Y: c.Y},
		{X: c.X - 1, Y: c.Y},
		{X: c.X, Y: c.Y + 1},
		{X: c.X, Y: c.Y - 1},
	}
}

// Manhattan returns the 4-connected grid distance between two cells.
func Manhattan(a, b Coord) int {
	return abs(a.X-b.X) + abs(a.Y-b.Y)
}

// ManhattanF returns the Manhattan distance between a continuous position and a cell.
func ManhattanF(x, y float64, c Coord) float64 {
	return math.Abs(float64(c.X)-x) + math.Abs(float64(c.Y)-y)
}

// RoundCoord returns the cell nearest to a continuous position.
// Halves round away from zero.
func RoundCoord(x, y float64) Coord {
	return Coord{X: int(math.Round(x)), Y: int(math.Round(y))}
}

// ToScreen projects a grid position to isometric screen pixels.
func ToScreen(x, y float64) (sx, sy float64) {
	return (x - y) * TileWidth, (x + y) * TileHeight
}

// FromScreen inverts ToScreen and floors to the containing cell.
func FromScreen(sx, sy float64) Coord {
	mx := (sx/TileWidth + sy/TileHeight) / 2
	my := (sy/TileHeight - sx/TileWidth) / 2
	return Coord{X: int(math.Floor(mx)), Y: int(math.Floor(my))}
}

// ChunkOf returns the chunk containing a cell and the cell's local offset in it.
func ChunkOf(c Coord, size int) (ChunkKey, int, int) {
	return ChunkKey{CX: floorDiv(c.X, size), CY: floorDiv(c.Y, size)}, mod(c.X, size), mod(c.Y, size)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
