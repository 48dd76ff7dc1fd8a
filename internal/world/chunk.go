package world

import (
	"fmt"
	"sort"
	"sync"
)

// ChunkKey addresses a chunk in chunk coordinates.
type ChunkKey struct {
	CX int `json:"cx"`
	CY int `json:"cy"`
}

// Chunk is a square block of tiles. Tiles are stored row-major (x fastest).
// A chunk is never modified after generation.
type Chunk struct {
	CX, CY int
	Size   int
	Tiles  []Tile
}

// Tile returns the tile at a local offset, or TileEmpty outside the chunk.
func (c *Chunk) Tile(lx, ly int) Tile {
	if lx < 0 || ly < 0 || lx >= c.Size || ly >= c.Size {
		return TileEmpty
	}
	return c.Tiles[ly*c.Size+lx]
}

// Equal reports whether two chunks hold identical content at the same key.
func (c *Chunk) Equal(o *Chunk) bool {
	if c.CX != o.CX || c.CY != o.CY || c.Size != o.Size || len(c.Tiles) != len(o.Tiles) {
		return false
	}
	for i := range c.Tiles {
		if c.Tiles[i] != o.Tiles[i] {
			return false
		}
	}
	return true
}

// ChunkStore generates chunks on first access and keeps them for the process lifetime.
// The cache is guarded so observers on other goroutines may read chunks while the
// simulation goroutine generates new ones.
type ChunkStore struct {
	gen GenConfig

	mu     sync.RWMutex
	chunks map[ChunkKey]*Chunk
}

// NewChunkStore creates an empty store backed by the given generator settings.
func NewChunkStore(gen GenConfig) *ChunkStore {
	if gen.ChunkSize <= 0 {
		gen.ChunkSize = DefaultChunkSize
	}
	if gen.Noise == nil {
		gen.Noise = NewSimplex(gen.Seed)
	}
	return &ChunkStore{
		gen:    gen,
		chunks: make(map[ChunkKey]*Chunk, 64),
	}
}

// ChunkSize returns the edge length of every chunk in this store.
func (s *ChunkStore) ChunkSize() int {
	return s.gen.ChunkSize
}

// Chunk returns the chunk at the given chunk coordinates, generating it if needed.
func (s *ChunkStore) Chunk(cx, cy int) *Chunk {
	k := ChunkKey{CX: cx, CY: cy}

	s.mu.RLock()
	ch := s.chunks[k]
	s.mu.RUnlock()
	if ch != nil {
		return ch
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-check in case another reader generated it first.
	if ch = s.chunks[k]; ch == nil {
		ch = s.gen.GenerateChunk(cx, cy)
		s.chunks[k] = ch
	}
	return ch
}

// Tile returns the terrain at an absolute cell, generating its chunk if needed.
func (s *ChunkStore) Tile(x, y int) Tile {
	k, lx, ly := ChunkOf(Coord{X: x, Y: y}, s.gen.ChunkSize)
	return s.Chunk(k.CX, k.CY).Tile(lx, ly)
}

// Loaded returns the keys of all resident chunks, sorted by CX then CY.
func (s *ChunkStore) Loaded() []ChunkKey {
	s.mu.RLock()
	keys := make([]ChunkKey, 0, len(s.chunks))
	for k := range s.chunks {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CY < keys[j].CY
	})
	return keys
}

// Len returns the number of resident chunks.
func (s *ChunkStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// String returns a summary of the store.
func (s *ChunkStore) String() string {
	return fmt.Sprintf("ChunkStore(seed=%d, size=%d, chunks=%d)", s.gen.Seed, s.gen.ChunkSize, s.Len())
}
