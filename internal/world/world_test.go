package world

import (
	"math"
	"testing"
)

type noiseFunc func(x, y float64) float64

func (f noiseFunc) Eval2(x, y float64) float64 { return f(x, y) }

func TestChunkDeterministic(t *testing.T) {
	gen := DefaultGenConfig()
	a := NewChunkStore(gen)
	b := NewChunkStore(gen)

	for cx := 0; cx < 4; cx++ {
		for cy := 0; cy < 4; cy++ {
			first := a.Chunk(cx, cy)
			again := a.Chunk(cx, cy)
			if first != again {
				t.Fatalf("chunk (%d,%d) regenerated instead of cached", cx, cy)
			}
			// A fresh store with the same seed stands in for a process restart.
			other := b.Chunk(cx, cy)
			if !first.Equal(other) {
				t.Fatalf("chunk (%d,%d) differs across stores with the same seed", cx, cy)
			}
		}
	}
	if a.Len() != 16 {
		t.Fatalf("resident chunks: got %d want 16", a.Len())
	}
}

func TestChunkSeedMatters(t *testing.T) {
	g1 := DefaultGenConfig()
	g2 := DefaultGenConfig()
	g2.Seed = g1.Seed + 1

	differs := false
	for cx := 0; cx < 4 && !differs; cx++ {
		if !g1.GenerateChunk(cx, 0).Equal(g2.GenerateChunk(cx, 0)) {
			differs = true
		}
	}
	if !differs {
		t.Fatalf("different seeds produced identical terrain")
	}
}

func TestClassifyThresholds(t *testing.T) {
	gen := DefaultGenConfig()
	// Sample value depends only on world x: x*0.1 maps cells 0..15 across the range.
	gen.Noise = noiseFunc(func(x, _ float64) float64 {
		switch {
		case x < 0.45: // cells 0..4
			return -0.5
		case x < 0.95: // cells 5..9
			return 0.0
		default:
			return 0.9
		}
	})
	ch := gen.GenerateChunk(0, 0)

	cases := []struct {
		lx   int
		want Tile
	}{
		{0, TileWater},
		{4, TileWater},
		{5, TileGrass},
		{9, TileGrass},
		{10, TileMountain},
		{15, TileMountain},
	}
	for _, c := range cases {
		if got := ch.Tile(c.lx, 3); got != c.want {
			t.Fatalf("tile x=%d: got %s want %s", c.lx, got, c.want)
		}
	}
}

func TestClassifyBoundariesAreExclusive(t *testing.T) {
	gen := DefaultGenConfig()
	if got := gen.classify(-0.2); got != TileGrass {
		t.Fatalf("-0.2: got %s want Grass", got)
	}
	if got := gen.classify(0.6); got != TileGrass {
		t.Fatalf("0.6: got %s want Grass", got)
	}
	if got := gen.classify(math.Nextafter(-0.2, -1)); got != TileWater {
		t.Fatalf("just below -0.2: got %s want Water", got)
	}
	if got := gen.classify(math.Nextafter(0.6, 1)); got != TileMountain {
		t.Fatalf("just above 0.6: got %s want Mountain", got)
	}
}

func TestStoreTileAbsoluteAddressing(t *testing.T) {
	gen := DefaultGenConfig()
	gen.Noise = noiseFunc(func(x, y float64) float64 {
		// Water exactly at world cell (-1, 17), grass elsewhere.
		if math.Abs(x-(-0.1)) < 1e-9 && math.Abs(y-1.7) < 1e-9 {
			return -1
		}
		return 0
	})
	s := NewChunkStore(gen)

	if got := s.Tile(-1, 17); got != TileWater {
		t.Fatalf("tile (-1,17): got %s want Water", got)
	}
	if got := s.Tile(0, 17); got != TileGrass {
		t.Fatalf("tile (0,17): got %s want Grass", got)
	}
	keys := s.Loaded()
	if len(keys) != 2 || keys[0] != (ChunkKey{CX: -1, CY: 1}) || keys[1] != (ChunkKey{CX: 0, CY: 1}) {
		t.Fatalf("loaded keys: got %v", keys)
	}
}

func TestChunkTileOutOfRange(t *testing.T) {
	ch := DefaultGenConfig().GenerateChunk(0, 0)
	if got := ch.Tile(-1, 0); got != TileEmpty {
		t.Fatalf("got %s want Empty", got)
	}
	if got := ch.Tile(0, 16); got != TileEmpty {
		t.Fatalf("got %s want Empty", got)
	}
}

func TestChunkOf(t *testing.T) {
	cases := []struct {
		c      Coord
		key    ChunkKey
		lx, ly int
	}{
		{Coord{0, 0}, ChunkKey{0, 0}, 0, 0},
		{Coord{15, 16}, ChunkKey{0, 1}, 15, 0},
		{Coord{-1, -16}, ChunkKey{-1, -1}, 15, 0},
		{Coord{-17, 33}, ChunkKey{-2, 2}, 15, 1},
	}
	for _, c := range cases {
		k, lx, ly := ChunkOf(c.c, 16)
		if k != c.key || lx != c.lx || ly != c.ly {
			t.Fatalf("ChunkOf(%v): got %v %d,%d want %v %d,%d", c.c, k, lx, ly, c.key, c.lx, c.ly)
		}
	}
}

func TestIsoRoundTrip(t *testing.T) {
	for x := -5; x <= 5; x++ {
		for y := -5; y <= 5; y++ {
			// Sample the middle of the cell's diamond so flooring is unambiguous.
			sx, sy := ToScreen(float64(x)+0.5, float64(y)+0.5)
			if got := FromScreen(sx, sy); got != (Coord{X: x, Y: y}) {
				t.Fatalf("round trip (%d,%d): got %v", x, y, got)
			}
		}
	}
	sx, sy := ToScreen(2, 1)
	if sx != 32 || sy != 48 {
		t.Fatalf("ToScreen(2,1): got (%g,%g) want (32,48)", sx, sy)
	}
}

func TestManhattan(t *testing.T) {
	if d := Manhattan(Coord{0, 0}, Coord{3, -4}); d != 7 {
		t.Fatalf("got %d want 7", d)
	}
	if d := ManhattanF(0.25, 1, Coord{1, 0}); d != 1.75 {
		t.Fatalf("got %g want 1.75", d)
	}
}
