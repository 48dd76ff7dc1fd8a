// Terrain generation from 2-D simplex noise.
// A chunk's content is a pure function of its coordinates and the seed, so a chunk
// regenerated after a restart matches the one units and structures were placed on.
package world

import (
	opensimplex "github.com/ojrac/opensimplex-go"
)

// DefaultChunkSize is the edge length of a chunk in tiles.
const DefaultChunkSize = 16

// Noise is a coherent 2-D noise source returning values in [-1, 1].
// It must be deterministic: the same input always yields the same output.
type Noise interface {
	Eval2(x, y float64) float64
}

// NewSimplex returns an OpenSimplex noise source for the given seed.
func NewSimplex(seed int64) Noise {
	return opensimplex.New(seed)
}

// GenConfig holds terrain generation parameters.
type GenConfig struct {
	Seed              int64
	ChunkSize         int
	Frequency         float64 // World coordinates are scaled by this before sampling
	WaterThreshold    float64 // Samples below this become water
	MountainThreshold float64 // Samples above this become mountain

	// Noise overrides the seeded simplex source when set (tests use flat fields).
	Noise Noise
}

// DefaultGenConfig returns the reference generation parameters.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Seed:              42,
		ChunkSize:         DefaultChunkSize,
		Frequency:         0.1,
		WaterThreshold:    -0.2,
		MountainThreshold: 0.6,
	}
}

// GenerateChunk builds the chunk at (cx, cy). It does not touch any cache.
func (g GenConfig) GenerateChunk(cx, cy int) *Chunk {
	noise := g.Noise
	if noise == nil {
		noise = NewSimplex(g.Seed)
	}
	size := g.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}

	ch := &Chunk{
		CX:    cx,
		CY:    cy,
		Size:  size,
		Tiles: make([]Tile, size*size),
	}
	for ly := 0; ly < size; ly++ {
		for lx := 0; lx < size; lx++ {
			wx := cx*size + lx
			wy := cy*size + ly
			v := noise.Eval2(float64(wx)*g.Frequency, float64(wy)*g.Frequency)
			ch.Tiles[ly*size+lx] = g.classify(v)
		}
	}
	return ch
}

// classify thresholds a noise sample into a terrain type.
func (g GenConfig) classify(v float64) Tile {
	if v < g.WaterThreshold {
		return TileWater
	}
	if v > g.MountainThreshold {
		return TileMountain
	}
	return TileGrass
}

// TerrainCounts returns the tile distribution of a chunk.
func TerrainCounts(ch *Chunk) map[Tile]int {
	counts := make(map[Tile]int)
	for _, t := range ch.Tiles {
		counts[t]++
	}
	return counts
}
