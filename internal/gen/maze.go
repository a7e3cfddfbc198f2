package gen

import (
	"github.com/dungeonpunk/crawler-engine/internal/rng"
	"github.com/dungeonpunk/crawler-engine/pkg/proto"
)

// Tuning for the maze variant. These shape every maze-version world and
// must never change once worlds exist against them.
const (
	mazeRoomAttempts = 24
	mazeDoorProb     = 0.06
)

// generateMaze carves a recursive-backtracker maze over the whole chunk,
// stamps a handful of open rooms on top, then converts a fraction of open
// edges into unlocked doors.
func generateMaze(seed uint32, level, cx, cy int) *ChunkEdges {
	c := &ChunkEdges{Seed: seed, Level: level, CX: cx, CY: cy}
	r := rng.New(rng.Mix(VersionMaze, seed, uint32(int32(level)), uint32(int32(cx)), uint32(int32(cy))))

	carveMaze(c, r)
	stampRooms(c, r)
	sprinkleDoors(c, r)
	return c
}

var cardinals = [4]proto.Dir{proto.DirN, proto.DirE, proto.DirS, proto.DirW}

func carveMaze(c *ChunkEdges, r *rng.Stream) {
	var visited [cellCount]bool
	stack := make([]int, 0, cellCount)

	start := r.IntN(0, cellCount)
	visited[start] = true
	stack = append(stack, start)

	dirs := cardinals
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		lx, ly := cur%ChunkSize, cur/ChunkSize

		r.Shuffle(len(dirs), func(i, j int) { dirs[i], dirs[j] = dirs[j], dirs[i] })

		advanced := false
		for _, d := range dirs {
			dx, dy := d.Delta()
			nx, ny := lx+dx, ly+dy
			if nx < 0 || nx >= ChunkSize || ny < 0 || ny >= ChunkSize {
				continue
			}
			next := ny*ChunkSize + nx
			if visited[next] {
				continue
			}
			openEdge(c, lx, ly, d)
			visited[next] = true
			stack = append(stack, next)
			advanced = true
			break
		}
		if !advanced {
			stack = stack[:len(stack)-1]
		}
	}
}

func stampRooms(c *ChunkEdges, r *rng.Stream) {
	for attempt := 0; attempt < mazeRoomAttempts; attempt++ {
		w, h := rollRoomSize(r)

		// 1-cell margin against the chunk border.
		x0 := r.IntN(1, ChunkSize-w)
		y0 := r.IntN(1, ChunkSize-h)

		// Open all interior edges.
		for ly := y0; ly < y0+h; ly++ {
			for lx := x0; lx < x0+w; lx++ {
				if lx < x0+w-1 {
					c.East[ly*ChunkSize+lx] = EncOpen
				}
				if ly < y0+h-1 {
					c.South[ly*ChunkSize+lx] = EncOpen
				}
			}
		}

		// Punch 1-3 exits through the perimeter.
		exits := r.IntN(1, 4)
		for e := 0; e < exits; e++ {
			d := cardinals[r.IntN(0, 4)]
			var lx, ly int
			switch d {
			case proto.DirN:
				lx, ly = x0+r.IntN(0, w), y0
			case proto.DirS:
				lx, ly = x0+r.IntN(0, w), y0+h-1
			case proto.DirE:
				lx, ly = x0+w-1, y0+r.IntN(0, h)
			case proto.DirW:
				lx, ly = x0, y0+r.IntN(0, h)
			}
			dx, dy := d.Delta()
			if nx, ny := lx+dx, ly+dy; nx >= 0 && nx < ChunkSize && ny >= 0 && ny < ChunkSize {
				openEdge(c, lx, ly, d)
			}
		}
	}
}

// rollRoomSize returns a weighted room footprint, favoring small rooms.
func rollRoomSize(r *rng.Stream) (w, h int) {
	roll := r.Float01()
	switch {
	case roll < 0.45:
		return 2, 2
	case roll < 0.70:
		return 3, 2
	case roll < 0.90:
		return 3, 3
	default:
		return 4, 3
	}
}

// sprinkleDoors walks every edge in index order and promotes open edges to
// unlocked doors with fixed probability. Index order matters: it is part of
// the deterministic output.
func sprinkleDoors(c *ChunkEdges, r *rng.Stream) {
	for i := 0; i < cellCount; i++ {
		if c.East[i] == EncOpen && r.Float01() < mazeDoorProb {
			c.East[i] = EncDoor
		}
		if c.South[i] == EncOpen && r.Float01() < mazeDoorProb {
			c.South[i] = EncDoor
		}
	}
}

// openEdge opens the edge leaving (lx, ly) in direction d, writing into the
// owning cell's east/south slot.
func openEdge(c *ChunkEdges, lx, ly int, d proto.Dir) {
	switch d {
	case proto.DirE:
		c.East[ly*ChunkSize+lx] = EncOpen
	case proto.DirS:
		c.South[ly*ChunkSize+lx] = EncOpen
	case proto.DirW:
		c.East[ly*ChunkSize+lx-1] = EncOpen
	case proto.DirN:
		c.South[(ly-1)*ChunkSize+lx] = EncOpen
	}
}
