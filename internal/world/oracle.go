// Package world implements the edge oracle: the single authority for what
// any edge of the grid is, for any purpose. Resolution order is overlay
// first, then the chunk-boundary connectivity rule, then the deterministic
// generator. Persistent overrides always win over generated base.
package world

import (
	"context"
	"sync"

	"github.com/dungeonpunk/crawler-engine/internal/gen"
	"github.com/dungeonpunk/crawler-engine/internal/rng"
	"github.com/dungeonpunk/crawler-engine/internal/store"
	"github.com/dungeonpunk/crawler-engine/pkg/proto"
)

// Purpose is the reason an edge is being resolved. Movement queries may
// trigger frontier expansion; visibility and minimap queries never do.
type Purpose int

const (
	PurposeMovement Purpose = iota
	PurposeVisibility
	PurposeMinimap
)

// Interval of forced-open edges along chunk boundaries. Every eighth edge
// crossing a boundary is open, which guarantees inter-chunk connectivity
// without any cross-chunk data.
const boundaryOpenInterval = 8

// Oracle resolves edges for one world.
type Oracle struct {
	world   store.World
	overlay store.OverlayStore
	chunks  *gen.Cache

	mu        sync.Mutex
	hubSeeded map[int]bool
}

func NewOracle(w store.World, overlay store.OverlayStore, chunks *gen.Cache) *Oracle {
	return &Oracle{
		world:     w,
		overlay:   overlay,
		chunks:    chunks,
		hubSeeded: make(map[int]bool),
	}
}

// World returns the world record the oracle was built for.
func (o *Oracle) World() store.World {
	return o.world
}

// EdgeType resolves the edge leaving (x, y) in direction dir on the level.
func (o *Oracle) EdgeType(ctx context.Context, level, x, y int, dir proto.Dir, purpose Purpose) (proto.EdgeKind, error) {
	if purpose != PurposeMinimap {
		if err := o.ensureHub(ctx, level); err != nil {
			return "", err
		}
	}

	ov, err := o.overlay.GetEdgeOverride(ctx, o.world.ID, level, x, y, dir)
	if err != nil {
		return "", err
	}
	if ov != nil {
		if purpose == PurposeMovement && ov.Meta.Frontier && ov.Kind == proto.EdgeDoorUnlocked {
			if err := o.expandFrontier(ctx, level, x, y, dir); err != nil {
				return "", err
			}
			// The edge stays an unlocked, non-frontier door after expansion.
			return proto.EdgeDoorUnlocked, nil
		}
		return ov.Kind, nil
	}

	cx, lx := floorDivMod(x, gen.ChunkSize)
	cy, ly := floorDivMod(y, gen.ChunkSize)

	if crossing, orth := boundaryCrossing(lx, ly, dir); crossing {
		if orth%boundaryOpenInterval == 0 {
			return proto.EdgeOpen, nil
		}
		return proto.EdgeWall, nil
	}

	chunk, err := o.chunks.Get(o.world.GeneratorVersion, o.world.Seed, level, cx, cy)
	if err != nil {
		return "", err
	}
	return gen.Kind(chunk.EdgeAt(lx, ly, dir)), nil
}

// CanTraverse reports whether movement may step from (x, y) in dir.
func (o *Oracle) CanTraverse(ctx context.Context, level, x, y int, dir proto.Dir) (bool, error) {
	kind, err := o.EdgeType(ctx, level, x, y, dir, PurposeMovement)
	if err != nil {
		return false, err
	}
	return kind.Traversable(), nil
}

// boundaryCrossing reports whether the edge at local (lx, ly) in dir leaves
// the chunk, and if so returns the orthogonal local coordinate that decides
// whether the boundary is open there.
func boundaryCrossing(lx, ly int, dir proto.Dir) (bool, int) {
	switch dir {
	case proto.DirE:
		if lx == gen.ChunkSize-1 {
			return true, ly
		}
	case proto.DirW:
		if lx == 0 {
			return true, ly
		}
	case proto.DirS:
		if ly == gen.ChunkSize-1 {
			return true, lx
		}
	case proto.DirN:
		if ly == 0 {
			return true, lx
		}
	}
	return false, 0
}

// floorDivMod returns the floor quotient and Euclidean remainder of v/size.
// The remainder is always in [0, size).
func floorDivMod(v, size int) (div, mod int) {
	div = v / size
	mod = v % size
	if mod < 0 {
		div--
		mod += size
	}
	return div, mod
}

// Perimeter edges of the 2x2 hub room, in fixed order.
var hubPerimeter = [8]struct {
	x, y int
	dir  proto.Dir
}{
	{0, 0, proto.DirN},
	{1, 0, proto.DirN},
	{0, 0, proto.DirW},
	{0, 1, proto.DirW},
	{1, 0, proto.DirE},
	{1, 1, proto.DirE},
	{0, 1, proto.DirS},
	{1, 1, proto.DirS},
}

// ensureHub lazily writes the seed hub for the level: a 2x2 room at the
// origin with open interior, walled perimeter, and one or two
// deterministically chosen frontier doors. Idempotent; the hub is a seeded
// overlay fact, so overlay precedence keeps it absolute.
func (o *Oracle) ensureHub(ctx context.Context, level int) error {
	o.mu.Lock()
	seeded := o.hubSeeded[level]
	o.mu.Unlock()
	if seeded {
		return nil
	}

	err := o.overlay.Apply(ctx, func(tx store.OverlayOps) error {
		wid := o.world.ID
		existing, err := tx.GetCellOverride(ctx, wid, level, 0, 0)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}

		hubMeta := store.CellMeta{Kind: store.CellHubRoom, AreaID: "hub"}
		for _, c := range [4]store.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}} {
			if err := tx.WriteCell(ctx, wid, level, c.X, c.Y, hubMeta); err != nil {
				return err
			}
		}

		// Interior edges of the 2x2 room.
		interior := [4]struct {
			x, y int
			dir  proto.Dir
		}{
			{0, 0, proto.DirE},
			{0, 1, proto.DirE},
			{0, 0, proto.DirS},
			{1, 0, proto.DirS},
		}
		for _, e := range interior {
			if err := tx.WriteEdgeBothWays(ctx, wid, level, e.x, e.y, e.dir, proto.EdgeOpen, store.EdgeMeta{}); err != nil {
				return err
			}
		}

		r := rng.New(rng.Mix("hub_v1", o.world.Seed, uint32(int32(level))))
		doorCount := r.IntN(1, 3)
		order := [8]int{0, 1, 2, 3, 4, 5, 6, 7}
		r.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		for rank, idx := range order {
			e := hubPerimeter[idx]
			kind := proto.EdgeWall
			meta := store.EdgeMeta{}
			if rank < doorCount {
				kind = proto.EdgeDoorUnlocked
				meta.Frontier = true
			}
			if err := tx.WriteEdgeBothWays(ctx, wid, level, e.x, e.y, e.dir, kind, meta); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.hubSeeded[level] = true
	o.mu.Unlock()
	return nil
}
