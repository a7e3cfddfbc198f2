package world

import (
	"context"
	"fmt"

	"github.com/dungeonpunk/crawler-engine/internal/rng"
	"github.com/dungeonpunk/crawler-engine/internal/store"
	"github.com/dungeonpunk/crawler-engine/pkg/proto"
)

// Expansion tuning. The label is part of the world format: worlds expanded
// under expand_v1 must keep producing the same layouts forever.
const (
	expandLabel        = "expand_v1"
	expandCorridorProb = 0.72 // corridor -> corridor continuation
	expandRoomDoorProb = 0.55 // extra frontier door on a new room
)

// Frontier-door count weights for a new corridor cell: 0, 1 or 2 of its
// three forward edges become new frontier doors.
const (
	corridorZeroDoorCut = 0.3
	corridorOneDoorCut  = 0.8
)

// expandFrontier carves the far side of a frontier door. The whole
// operation runs inside one overlay transaction which re-checks the
// destination, so two concurrent resolutions of the same frontier collapse
// to one outcome. Afterwards the original edge is an unlocked non-frontier
// door and the destination cell is fully described.
func (o *Oracle) expandFrontier(ctx context.Context, level, x, y int, dir proto.Dir) error {
	return o.overlay.Apply(ctx, func(tx store.OverlayOps) error {
		wid := o.world.ID

		ov, err := tx.GetEdgeOverride(ctx, wid, level, x, y, dir)
		if err != nil {
			return err
		}
		if ov == nil || !ov.Meta.Frontier {
			// Someone expanded this edge already.
			return nil
		}

		clearFrontier := func() error {
			meta := ov.Meta
			meta.Frontier = false
			return tx.WriteEdgeBothWays(ctx, wid, level, x, y, dir, proto.EdgeDoorUnlocked, meta)
		}

		dx, dy := dir.Delta()
		nx, ny := x+dx, y+dy

		dest, err := tx.GetCellOverride(ctx, wid, level, nx, ny)
		if err != nil {
			return err
		}
		if dest != nil {
			return clearFrontier()
		}

		r := rng.New(rng.Mix(expandLabel,
			o.world.Seed,
			rng.Mix(o.world.ID),
			uint32(int32(level)),
			uint32(int32(x)),
			uint32(int32(y)),
			dir.Code(),
		))

		srcKind := store.CellCorridor
		src, err := tx.GetCellOverride(ctx, wid, level, x, y)
		if err != nil {
			return err
		}
		if src != nil && src.Meta.Kind != "" {
			srcKind = src.Meta.Kind
		}

		// Rooms never open directly into rooms; a corridor continues as
		// corridor most of the time.
		tryRoom := srcKind == store.CellCorridor && r.Float01() >= expandCorridorProb

		if tryRoom {
			placed, err := o.placeRoom(ctx, tx, r, level, nx, ny, dir)
			if err != nil {
				return err
			}
			if placed {
				return clearFrontier()
			}
		}
		if err := o.placeCorridor(ctx, tx, r, level, nx, ny, dir); err != nil {
			return err
		}
		return clearFrontier()
	})
}

// placeCorridor records (nx, ny) as a corridor cell: the back edge stays a
// non-frontier door, and 0-2 of the remaining three edges become new
// frontier doors while the rest become walls.
func (o *Oracle) placeCorridor(ctx context.Context, tx store.OverlayOps, r *rng.Stream, level, nx, ny int, entryDir proto.Dir) error {
	wid := o.world.ID

	won, err := tx.WriteCellIfAbsent(ctx, wid, level, nx, ny, store.CellMeta{Kind: store.CellCorridor})
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	back := entryDir.Opposite()
	if err := tx.WriteEdgeBothWays(ctx, wid, level, nx, ny, back, proto.EdgeDoorUnlocked, store.EdgeMeta{}); err != nil {
		return err
	}

	forward := make([]proto.Dir, 0, 3)
	for _, d := range [4]proto.Dir{proto.DirN, proto.DirE, proto.DirS, proto.DirW} {
		if d != back {
			forward = append(forward, d)
		}
	}

	roll := r.Float01()
	doors := 0
	switch {
	case roll < corridorZeroDoorCut:
		doors = 0
	case roll < corridorOneDoorCut:
		doors = 1
	default:
		doors = 2
	}
	r.Shuffle(len(forward), func(i, j int) { forward[i], forward[j] = forward[j], forward[i] })

	for i, d := range forward {
		kind := proto.EdgeWall
		meta := store.EdgeMeta{}
		if i < doors {
			kind = proto.EdgeDoorUnlocked
			meta.Frontier = true
		}
		if err := tx.WriteEdgeBothWays(ctx, wid, level, nx, ny, d, kind, meta); err != nil {
			return err
		}
	}
	return nil
}

// placeRoom attempts a 2x2 room with (nx, ny) as the entrance corner,
// extending one cell forward and one cell to a chosen lateral side. Returns
// false when no free 2x2 area exists, in which case the caller falls back
// to a corridor.
func (o *Oracle) placeRoom(ctx context.Context, tx store.OverlayOps, r *rng.Stream, level, nx, ny int, entryDir proto.Dir) (bool, error) {
	wid := o.world.ID
	fdx, fdy := entryDir.Delta()

	lateralA, lateralB := perpendicular(entryDir)
	if r.IntN(0, 2) == 1 {
		lateralA, lateralB = lateralB, lateralA
	}

	cells, lateral, ok, err := o.freeRoomCells(ctx, tx, level, nx, ny, fdx, fdy, lateralA)
	if err != nil {
		return false, err
	}
	if !ok {
		cells, lateral, ok, err = o.freeRoomCells(ctx, tx, level, nx, ny, fdx, fdy, lateralB)
		if err != nil {
			return false, err
		}
	}
	if !ok {
		return false, nil
	}

	meta := store.CellMeta{
		Kind:   store.CellRoom,
		AreaID: fmt.Sprintf("room_%d_%d_%d", level, nx, ny),
	}
	won, err := tx.WriteCellIfAbsent(ctx, wid, level, nx, ny, meta)
	if err != nil {
		return false, err
	}
	if !won {
		// A concurrent expansion carved the destination first.
		return true, nil
	}
	for _, c := range cells[1:] {
		if err := tx.WriteCell(ctx, wid, level, c.X, c.Y, meta); err != nil {
			return false, err
		}
	}

	// Open the four interior edges.
	ldx, ldy := lateral.Delta()
	interior := [4]struct {
		x, y int
		dir  proto.Dir
	}{
		{nx, ny, entryDir},
		{nx + ldx, ny + ldy, entryDir},
		{nx, ny, lateral},
		{nx + fdx, ny + fdy, lateral},
	}
	for _, e := range interior {
		if err := tx.WriteEdgeBothWays(ctx, wid, level, e.x, e.y, e.dir, proto.EdgeOpen, store.EdgeMeta{}); err != nil {
			return false, err
		}
	}

	// Perimeter: walls everywhere except the entrance door, plus
	// sometimes one extra frontier door.
	inRoom := func(x, y int) bool {
		for _, c := range cells {
			if c.X == x && c.Y == y {
				return true
			}
		}
		return false
	}
	back := entryDir.Opposite()
	type edgeRef struct {
		x, y int
		dir  proto.Dir
	}
	var perimeter []edgeRef
	for _, c := range cells {
		for _, d := range [4]proto.Dir{proto.DirN, proto.DirE, proto.DirS, proto.DirW} {
			ddx, ddy := d.Delta()
			if inRoom(c.X+ddx, c.Y+ddy) {
				continue
			}
			if c.X == nx && c.Y == ny && d == back {
				// Entrance; already an unlocked door.
				continue
			}
			perimeter = append(perimeter, edgeRef{c.X, c.Y, d})
		}
	}

	extraDoor := -1
	if r.Float01() < expandRoomDoorProb && len(perimeter) > 0 {
		extraDoor = r.IntN(0, len(perimeter))
	}
	for i, e := range perimeter {
		kind := proto.EdgeWall
		meta := store.EdgeMeta{}
		if i == extraDoor {
			kind = proto.EdgeDoorUnlocked
			meta.Frontier = true
		}
		if err := tx.WriteEdgeBothWays(ctx, wid, level, e.x, e.y, e.dir, kind, meta); err != nil {
			return false, err
		}
	}
	return true, nil
}

// freeRoomCells returns the four cells of the candidate 2x2 footprint and
// whether all of them are unclaimed.
func (o *Oracle) freeRoomCells(ctx context.Context, tx store.OverlayOps, level, nx, ny, fdx, fdy int, lateral proto.Dir) ([4]store.Point, proto.Dir, bool, error) {
	ldx, ldy := lateral.Delta()
	cells := [4]store.Point{
		{X: nx, Y: ny},
		{X: nx + fdx, Y: ny + fdy},
		{X: nx + ldx, Y: ny + ldy},
		{X: nx + fdx + ldx, Y: ny + fdy + ldy},
	}
	for _, c := range cells {
		cov, err := tx.GetCellOverride(ctx, o.world.ID, level, c.X, c.Y)
		if err != nil {
			return cells, lateral, false, err
		}
		if cov != nil {
			return cells, lateral, false, nil
		}
	}
	return cells, lateral, true, nil
}

// perpendicular returns the two directions orthogonal to d.
func perpendicular(d proto.Dir) (proto.Dir, proto.Dir) {
	switch d {
	case proto.DirN, proto.DirS:
		return proto.DirE, proto.DirW
	default:
		return proto.DirN, proto.DirS
	}
}
