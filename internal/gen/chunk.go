// Package gen produces the base edge layout of 64x64 world chunks. A chunk
// is a pure function of (generator version, seed, level, chunkX, chunkY):
// byte-identical across runs and hosts. Persistent overrides layered on top
// of the generated base live elsewhere; nothing here is authoritative state.
package gen

import (
	"fmt"
	"sync"

	"github.com/dungeonpunk/crawler-engine/pkg/proto"
)

// ChunkSize is the width of each chunk in cells.
const ChunkSize = 64

const cellCount = ChunkSize * ChunkSize

// Edge encodings inside the generated arrays.
const (
	EncWall byte = 0
	EncOpen byte = 1
	EncDoor byte = 2
)

// Generator version labels. A world records the label it was generated
// with, so future variants can coexist without mixing layouts.
const (
	VersionMaze = "maze"
	VersionBSP  = "bsp_v4"
)

// ChunkEdges holds the generated east-going and south-going edge of every
// local cell. The north and west edges of a cell are the south/east edges
// of its northern/western neighbor.
type ChunkEdges struct {
	Seed  uint32
	Level int
	CX    int
	CY    int
	East  [cellCount]byte
	South [cellCount]byte
}

// Generate produces the chunk at (cx, cy) using the named generator variant.
func Generate(version string, seed uint32, level, cx, cy int) (*ChunkEdges, error) {
	switch version {
	case VersionMaze:
		return generateMaze(seed, level, cx, cy), nil
	case VersionBSP:
		return generateBSP(seed, level, cx, cy), nil
	default:
		return nil, fmt.Errorf("unknown generator version %q", version)
	}
}

// EdgeAt decodes the edge of local cell (lx, ly) in direction d. Edges that
// would leave the chunk to the north or west decode as wall; the caller is
// responsible for cross-chunk resolution.
func (c *ChunkEdges) EdgeAt(lx, ly int, d proto.Dir) byte {
	switch d {
	case proto.DirE:
		return c.East[ly*ChunkSize+lx]
	case proto.DirS:
		return c.South[ly*ChunkSize+lx]
	case proto.DirW:
		if lx == 0 {
			return EncWall
		}
		return c.East[ly*ChunkSize+lx-1]
	case proto.DirN:
		if ly == 0 {
			return EncWall
		}
		return c.South[(ly-1)*ChunkSize+lx]
	}
	return EncWall
}

// Kind maps a generator edge encoding to its wire kind.
func Kind(enc byte) proto.EdgeKind {
	switch enc {
	case EncOpen:
		return proto.EdgeOpen
	case EncDoor:
		return proto.EdgeDoorUnlocked
	default:
		return proto.EdgeWall
	}
}

type cacheKey struct {
	version string
	seed    uint32
	level   int
	cx      int
	cy      int
}

// Cache memoizes generated chunks by their full generation identity. It is
// safe for concurrent use; generation is repeated at most once per key.
type Cache struct {
	mu     sync.RWMutex
	chunks map[cacheKey]*ChunkEdges
}

func NewCache() *Cache {
	return &Cache{chunks: make(map[cacheKey]*ChunkEdges)}
}

// Get returns the cached chunk or generates and caches it.
func (c *Cache) Get(version string, seed uint32, level, cx, cy int) (*ChunkEdges, error) {
	k := cacheKey{version: version, seed: seed, level: level, cx: cx, cy: cy}

	c.mu.RLock()
	chunk, ok := c.chunks[k]
	c.mu.RUnlock()
	if ok {
		return chunk, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check in case another goroutine generated it.
	if chunk, ok = c.chunks[k]; ok {
		return chunk, nil
	}
	chunk, err := Generate(version, seed, level, cx, cy)
	if err != nil {
		return nil, err
	}
	c.chunks[k] = chunk
	return chunk, nil
}
