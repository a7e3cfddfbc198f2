package gen

import (
	"github.com/dungeonpunk/crawler-engine/internal/rng"
)

// Tuning for the bsp_v4 variant. Fixed for the life of every world
// generated against this label.
const (
	bspMinLeaf   = 10 // smallest leaf dimension the splitter will produce
	bspWidenOdds = 12 // roughly 1 in 12 corridors is widened by one cell
)

type bspRect struct {
	x, y, w, h int
}

type bspNode struct {
	bounds bspRect
	a, b   *bspNode
	room   bspRect // set on leaves after room placement
}

func (n *bspNode) leaf() bool { return n.a == nil }

// Cell classification used while building, before door promotion.
const (
	kindNone     byte = 0
	kindRoom     byte = 1
	kindCorridor byte = 2
)

// generateBSP builds a BSP tree over the chunk, places one room per leaf,
// connects sibling subtrees with straight or L-shaped corridors, then
// promotes room/corridor boundary edges to doors.
func generateBSP(seed uint32, level, cx, cy int) *ChunkEdges {
	c := &ChunkEdges{Seed: seed, Level: level, CX: cx, CY: cy}
	r := rng.New(rng.Mix(VersionBSP, seed, uint32(int32(level)), uint32(int32(cx)), uint32(int32(cy))))

	var kinds [cellCount]byte

	root := splitNode(bspRect{0, 0, ChunkSize, ChunkSize}, r)
	placeRooms(c, root, r, &kinds)
	connect(c, root, r)
	deriveCorridors(c, &kinds)
	promoteDoors(c, &kinds)
	guaranteeRoomDoors(c, root, &kinds)
	return c
}

// splitNode recursively cuts the region with axis-aligned cuts until both
// dimensions drop below twice the minimum leaf size.
func splitNode(bounds bspRect, r *rng.Stream) *bspNode {
	n := &bspNode{bounds: bounds}

	canH := bounds.h >= 2*bspMinLeaf
	canV := bounds.w >= 2*bspMinLeaf
	if !canH && !canV {
		return n
	}

	// Cut across the longer axis; coin flip on near-square regions.
	vertical := canV
	if canH && canV {
		if bounds.w == bounds.h {
			vertical = r.IntN(0, 2) == 0
		} else {
			vertical = bounds.w > bounds.h
		}
	}

	if vertical {
		cut := r.IntN(bspMinLeaf, bounds.w-bspMinLeaf+1)
		n.a = splitNode(bspRect{bounds.x, bounds.y, cut, bounds.h}, r)
		n.b = splitNode(bspRect{bounds.x + cut, bounds.y, bounds.w - cut, bounds.h}, r)
	} else {
		cut := r.IntN(bspMinLeaf, bounds.h-bspMinLeaf+1)
		n.a = splitNode(bspRect{bounds.x, bounds.y, bounds.w, cut}, r)
		n.b = splitNode(bspRect{bounds.x, bounds.y + cut, bounds.w, bounds.h - cut}, r)
	}
	return n
}

// placeRooms stamps one small all-open room inside every leaf.
func placeRooms(c *ChunkEdges, n *bspNode, r *rng.Stream, kinds *[cellCount]byte) {
	if !n.leaf() {
		placeRooms(c, n.a, r, kinds)
		placeRooms(c, n.b, r, kinds)
		return
	}

	maxW := n.bounds.w - 2
	maxH := n.bounds.h - 2
	if maxW > 7 {
		maxW = 7
	}
	if maxH > 7 {
		maxH = 7
	}
	w := r.IntN(3, maxW+1)
	h := r.IntN(3, maxH+1)
	x0 := n.bounds.x + r.IntN(1, n.bounds.w-w)
	y0 := n.bounds.y + r.IntN(1, n.bounds.h-h)
	n.room = bspRect{x0, y0, w, h}

	for ly := y0; ly < y0+h; ly++ {
		for lx := x0; lx < x0+w; lx++ {
			kinds[ly*ChunkSize+lx] = kindRoom
			if lx < x0+w-1 {
				c.East[ly*ChunkSize+lx] = EncOpen
			}
			if ly < y0+h-1 {
				c.South[ly*ChunkSize+lx] = EncOpen
			}
		}
	}
}

// reprPoint walks down to a leaf and returns its room center.
func reprPoint(n *bspNode) (int, int) {
	for !n.leaf() {
		n = n.a
	}
	return n.room.x + n.room.w/2, n.room.y + n.room.h/2
}

// connect carves corridors between each internal node's children,
// post-order, so deeper connections are made before shallower ones.
func connect(c *ChunkEdges, n *bspNode, r *rng.Stream) {
	if n.leaf() {
		return
	}
	connect(c, n.a, r)
	connect(c, n.b, r)

	x1, y1 := reprPoint(n.a)
	x2, y2 := reprPoint(n.b)
	wide := r.IntN(0, bspWidenOdds) == 0

	if r.IntN(0, 2) == 0 {
		carveH(c, x1, x2, y1, wide)
		carveV(c, y1, y2, x2, wide)
	} else {
		carveV(c, y1, y2, x1, wide)
		carveH(c, x1, x2, y2, wide)
	}
}

// carveH opens the horizontal run from x1 to x2 at row y. A widened run
// also opens the parallel row below and the rungs between them.
func carveH(c *ChunkEdges, x1, x2, y int, wide bool) {
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	for x := x1; x < x2; x++ {
		c.East[y*ChunkSize+x] = EncOpen
	}
	if wide && y+1 < ChunkSize {
		for x := x1; x < x2; x++ {
			c.East[(y+1)*ChunkSize+x] = EncOpen
		}
		for x := x1; x <= x2; x++ {
			c.South[y*ChunkSize+x] = EncOpen
		}
	}
}

// carveV opens the vertical run from y1 to y2 at column x.
func carveV(c *ChunkEdges, y1, y2, x int, wide bool) {
	if y2 < y1 {
		y1, y2 = y2, y1
	}
	for y := y1; y < y2; y++ {
		c.South[y*ChunkSize+x] = EncOpen
	}
	if wide && x+1 < ChunkSize {
		for y := y1; y < y2; y++ {
			c.South[y*ChunkSize+x+1] = EncOpen
		}
		for y := y1; y <= y2; y++ {
			c.East[y*ChunkSize+x] = EncOpen
		}
	}
}

// deriveCorridors classifies every non-room cell that touches an open edge
// as corridor.
func deriveCorridors(c *ChunkEdges, kinds *[cellCount]byte) {
	mark := func(idx int) {
		if kinds[idx] == kindNone {
			kinds[idx] = kindCorridor
		}
	}
	for ly := 0; ly < ChunkSize; ly++ {
		for lx := 0; lx < ChunkSize; lx++ {
			idx := ly*ChunkSize + lx
			if c.East[idx] != EncWall && lx+1 < ChunkSize {
				mark(idx)
				mark(idx + 1)
			}
			if c.South[idx] != EncWall && ly+1 < ChunkSize {
				mark(idx)
				mark(idx + ChunkSize)
			}
		}
	}
}

// promoteDoors turns every open edge that crosses a room/corridor boundary
// into an unlocked door, and sanitizes any door elsewhere back to open.
func promoteDoors(c *ChunkEdges, kinds *[cellCount]byte) {
	boundary := func(a, b byte) bool {
		return (a == kindRoom && b == kindCorridor) || (a == kindCorridor && b == kindRoom)
	}
	for ly := 0; ly < ChunkSize; ly++ {
		for lx := 0; lx < ChunkSize; lx++ {
			idx := ly*ChunkSize + lx
			if lx+1 < ChunkSize && c.East[idx] != EncWall {
				if boundary(kinds[idx], kinds[idx+1]) {
					c.East[idx] = EncDoor
				} else {
					c.East[idx] = EncOpen
				}
			}
			if ly+1 < ChunkSize && c.South[idx] != EncWall {
				if boundary(kinds[idx], kinds[idx+ChunkSize]) {
					c.South[idx] = EncDoor
				} else {
					c.South[idx] = EncOpen
				}
			}
		}
	}
}

// guaranteeRoomDoors makes sure every leaf room has at least one door on
// its perimeter, synthesizing one when promotion produced none.
func guaranteeRoomDoors(c *ChunkEdges, n *bspNode, kinds *[cellCount]byte) {
	if !n.leaf() {
		guaranteeRoomDoors(c, n.a, kinds)
		guaranteeRoomDoors(c, n.b, kinds)
		return
	}

	room := n.room
	type edgeRef struct {
		idx  int
		east bool
	}
	var perimeter []edgeRef
	for ly := room.y; ly < room.y+room.h; ly++ {
		if room.x > 0 {
			perimeter = append(perimeter, edgeRef{ly*ChunkSize + room.x - 1, true})
		}
		if room.x+room.w < ChunkSize {
			perimeter = append(perimeter, edgeRef{ly*ChunkSize + room.x + room.w - 1, true})
		}
	}
	for lx := room.x; lx < room.x+room.w; lx++ {
		if room.y > 0 {
			perimeter = append(perimeter, edgeRef{(room.y-1)*ChunkSize + lx, false})
		}
		if room.y+room.h < ChunkSize {
			perimeter = append(perimeter, edgeRef{(room.y+room.h-1)*ChunkSize + lx, false})
		}
	}

	for _, e := range perimeter {
		enc := c.East[e.idx]
		if !e.east {
			enc = c.South[e.idx]
		}
		if enc == EncDoor {
			return
		}
	}

	// Prefer synthesizing over an already-open perimeter edge.
	for _, e := range perimeter {
		if e.east && c.East[e.idx] == EncOpen {
			c.East[e.idx] = EncDoor
			return
		}
		if !e.east && c.South[e.idx] == EncOpen {
			c.South[e.idx] = EncDoor
			return
		}
	}
	if len(perimeter) > 0 {
		e := perimeter[0]
		if e.east {
			c.East[e.idx] = EncDoor
		} else {
			c.South[e.idx] = EncDoor
		}
	}
}
