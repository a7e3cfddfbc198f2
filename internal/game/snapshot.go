package game

import (
	"context"
	"math"

	"github.com/dungeonpunk/crawler-engine/internal/digest"
	"github.com/dungeonpunk/crawler-engine/internal/world"
	"github.com/dungeonpunk/crawler-engine/pkg/proto"
)

const (
	visibilityDepth = 3
	minimapRadius   = 12
	cellFootScale   = 5 // UI distance scale: one cell is five feet
)

// buildSnapshot assembles the observable view for the session's current
// state: pose, hub pointer, four-ray visibility, minimap from the discovery
// set, cooldowns, and the replay-identity hash.
func (s *Session) buildSnapshot(ctx context.Context) (*proto.WorldState, error) {
	now := s.deps.Clock()

	you := proto.You{
		Level:  s.level,
		X:      s.x,
		Y:      s.y,
		Face:   s.face,
		HP:     s.hp,
		Status: []string{},
	}
	cooldowns := proto.Cooldowns{MoveReadyAtMs: s.moveReadyAt, TurnReadyAtMs: s.turnReadyAt}

	visible, err := s.visibleCells(ctx)
	if err != nil {
		return nil, err
	}
	minimap, err := s.minimapCells(ctx)
	if err != nil {
		return nil, err
	}

	hash, err := digest.Hash(map[string]any{
		"you":       you,
		"cooldowns": cooldowns,
		"visible":   visible,
	})
	if err != nil {
		return nil, err
	}

	return &proto.WorldState{
		Now:          now,
		You:          you,
		Hub:          hubInfo(s.level, s.x, s.y),
		Cooldowns:    cooldowns,
		WorldHash:    hash,
		VisibleCells: visible,
		MinimapCells: minimap,
	}, nil
}

// visibleCells walks a ray in each cardinal direction from the player's
// cell, advancing up to visibilityDepth cells while the forward edge can be
// seen through. Doors of any kind block vision even when they permit
// traversal. Every visited cell is recorded exactly once.
func (s *Session) visibleCells(ctx context.Context) ([]proto.CellView, error) {
	type pt struct{ x, y int }
	seen := make(map[pt]bool)
	cells := make([]proto.CellView, 0, 1+4*visibilityDepth)

	add := func(x, y int) error {
		if seen[pt{x, y}] {
			return nil
		}
		seen[pt{x, y}] = true
		edges, err := s.edgeSet(ctx, x, y, world.PurposeVisibility)
		if err != nil {
			return err
		}
		cells = append(cells, proto.CellView{X: x, Y: y, Edges: edges})
		return nil
	}

	if err := add(s.x, s.y); err != nil {
		return nil, err
	}
	for _, d := range [4]proto.Dir{proto.DirN, proto.DirE, proto.DirS, proto.DirW} {
		cx, cy := s.x, s.y
		for step := 0; step < visibilityDepth; step++ {
			kind, err := s.oracle.EdgeType(ctx, s.level, cx, cy, d, world.PurposeVisibility)
			if err != nil {
				return nil, err
			}
			if !kind.SeeThrough() {
				break
			}
			dx, dy := d.Delta()
			cx, cy = cx+dx, cy+dy
			if err := add(cx, cy); err != nil {
				return nil, err
			}
		}
	}
	return cells, nil
}

// minimapCells emits every discovered cell within the minimap radius with
// its current edges. Minimap resolution never expands frontiers.
func (s *Session) minimapCells(ctx context.Context) ([]proto.CellView, error) {
	pts, err := s.deps.Discovery.DiscoveredInRadius(ctx, s.worldID, s.level, s.x, s.y, minimapRadius)
	if err != nil {
		return nil, err
	}
	cells := make([]proto.CellView, 0, len(pts))
	for _, p := range pts {
		edges, err := s.edgeSet(ctx, p.X, p.Y, world.PurposeMinimap)
		if err != nil {
			return nil, err
		}
		cells = append(cells, proto.CellView{X: p.X, Y: p.Y, Edges: edges})
	}
	return cells, nil
}

func (s *Session) edgeSet(ctx context.Context, x, y int, purpose world.Purpose) (proto.EdgeSet, error) {
	var es proto.EdgeSet
	for _, d := range [4]proto.Dir{proto.DirN, proto.DirE, proto.DirS, proto.DirW} {
		kind, err := s.oracle.EdgeType(ctx, s.level, x, y, d, purpose)
		if err != nil {
			return es, err
		}
		switch d {
		case proto.DirN:
			es.N = kind
		case proto.DirE:
			es.E = kind
		case proto.DirS:
			es.S = kind
		case proto.DirW:
			es.W = kind
		}
	}
	return es, nil
}

func hubInfo(level, x, y int) proto.Hub {
	dist := int(math.Round(math.Sqrt(float64(x*x+y*y)) * cellFootScale))
	return proto.Hub{Level: level, X: 0, Y: 0, DistFeet: dist, Direction: dirToHub(x, y)}
}

// dirToHub returns the dominant-axis direction pointing back at the level
// origin, breaking ties toward E/W.
func dirToHub(x, y int) proto.Dir {
	ax, ay := x, y
	if ax < 0 {
		ax = -ax
	}
	if ay < 0 {
		ay = -ay
	}
	if ax >= ay {
		if x > 0 {
			return proto.DirW
		}
		if x < 0 {
			return proto.DirE
		}
		return proto.DirN
	}
	if y > 0 {
		return proto.DirN
	}
	return proto.DirS
}
