package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dungeonpunk/crawler-engine/pkg/proto"
)

// Memory is an in-process implementation of every store interface. It backs
// the engine when no database is configured and every test in the repo.
// A single mutex covers all maps; operations are therefore linearizable.
type Memory struct {
	// Now supplies timestamps and expiry checks. Tests replace it with a
	// fake clock.
	Now func() time.Time

	mu           sync.Mutex
	worlds       map[string]World
	users        map[string]User
	sessions     map[string]Session
	characters   map[string]Character
	activeByUser map[string]string
	edges        map[edgeKey]EdgeOverride
	cells        map[cellKey]CellOverride
	discovered   map[cellKey]int64
}

type edgeKey struct {
	world string
	level int
	x     int
	y     int
	dir   proto.Dir
}

type cellKey struct {
	world string
	level int
	x     int
	y     int
}

func NewMemory() *Memory {
	return &Memory{
		Now:          time.Now,
		worlds:       make(map[string]World),
		users:        make(map[string]User),
		sessions:     make(map[string]Session),
		characters:   make(map[string]Character),
		activeByUser: make(map[string]string),
		edges:        make(map[edgeKey]EdgeOverride),
		cells:        make(map[cellKey]CellOverride),
		discovered:   make(map[cellKey]int64),
	}
}

// ─── SessionStore ───────────────────────────────────────────────────

func (m *Memory) LoadSession(ctx context.Context, token string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return nil, ErrNotFound
	}
	now := m.Now()
	if now.After(s.ExpiresAt) {
		return nil, ErrSessionExpired
	}
	s.LastSeenAt = now
	m.sessions[token] = s
	out := s
	return &out, nil
}

// ─── CharacterStore ─────────────────────────────────────────────────

func (m *Memory) LoadActiveCharacter(ctx context.Context, userID string) (*Character, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.activeByUser[userID]
	if !ok {
		return nil, ErrNotFound
	}
	ch := m.characters[id]
	out := ch
	return &out, nil
}

func (m *Memory) SavePosition(ctx context.Context, characterID, worldID string, level, x, y int, face proto.Dir) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.characters[characterID]
	if !ok {
		return ErrNotFound
	}
	ch.WorldID = worldID
	ch.Level, ch.X, ch.Y, ch.Face = level, x, y, face
	ch.LastPlayedAt = m.Now()
	m.characters[characterID] = ch
	return nil
}

// ─── WorldStore ─────────────────────────────────────────────────────

func (m *Memory) GetWorld(ctx context.Context, worldID string) (*World, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.worlds[worldID]
	if !ok {
		return nil, ErrNotFound
	}
	out := w
	return &out, nil
}

// ─── OverlayStore ───────────────────────────────────────────────────

func (m *Memory) GetEdgeOverride(ctx context.Context, worldID string, level, x, y int, dir proto.Dir) (*EdgeOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getEdgeLocked(worldID, level, x, y, dir)
}

func (m *Memory) GetCellOverride(ctx context.Context, worldID string, level, x, y int) (*CellOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCellLocked(worldID, level, x, y)
}

func (m *Memory) WriteEdgeBothWays(ctx context.Context, worldID string, level, x, y int, dir proto.Dir, kind proto.EdgeKind, meta EdgeMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeEdgeLocked(worldID, level, x, y, dir, kind, meta)
	return nil
}

func (m *Memory) WriteCell(ctx context.Context, worldID string, level, x, y int, meta CellMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeCellLocked(worldID, level, x, y, meta)
	return nil
}

func (m *Memory) WriteCellIfAbsent(ctx context.Context, worldID string, level, x, y int, meta CellMeta) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := cellKey{worldID, level, x, y}
	if _, ok := m.cells[k]; ok {
		return false, nil
	}
	m.writeCellLocked(worldID, level, x, y, meta)
	return true, nil
}

// Apply holds the store mutex for the whole batch, which makes the batch
// atomic and serializes concurrent expansions.
func (m *Memory) Apply(ctx context.Context, fn func(tx OverlayOps) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memTx{m: m})
}

func (m *Memory) getEdgeLocked(worldID string, level, x, y int, dir proto.Dir) (*EdgeOverride, error) {
	e, ok := m.edges[edgeKey{worldID, level, x, y, dir}]
	if !ok {
		return nil, nil
	}
	out := e
	return &out, nil
}

func (m *Memory) getCellLocked(worldID string, level, x, y int) (*CellOverride, error) {
	c, ok := m.cells[cellKey{worldID, level, x, y}]
	if !ok {
		return nil, nil
	}
	out := c
	return &out, nil
}

func (m *Memory) writeEdgeLocked(worldID string, level, x, y int, dir proto.Dir, kind proto.EdgeKind, meta EdgeMeta) {
	now := m.Now()
	m.edges[edgeKey{worldID, level, x, y, dir}] = EdgeOverride{
		Level: level, X: x, Y: y, Dir: dir, Kind: kind, Meta: meta, UpdatedAt: now,
	}
	dx, dy := dir.Delta()
	opp := dir.Opposite()
	m.edges[edgeKey{worldID, level, x + dx, y + dy, opp}] = EdgeOverride{
		Level: level, X: x + dx, Y: y + dy, Dir: opp, Kind: kind, Meta: meta, UpdatedAt: now,
	}
}

func (m *Memory) writeCellLocked(worldID string, level, x, y int, meta CellMeta) {
	m.cells[cellKey{worldID, level, x, y}] = CellOverride{
		Level: level, X: x, Y: y, Meta: meta, UpdatedAt: m.Now(),
	}
}

// memTx exposes the overlay ops against an already-locked Memory.
type memTx struct {
	m *Memory
}

func (t *memTx) GetEdgeOverride(ctx context.Context, worldID string, level, x, y int, dir proto.Dir) (*EdgeOverride, error) {
	return t.m.getEdgeLocked(worldID, level, x, y, dir)
}

func (t *memTx) GetCellOverride(ctx context.Context, worldID string, level, x, y int) (*CellOverride, error) {
	return t.m.getCellLocked(worldID, level, x, y)
}

func (t *memTx) WriteEdgeBothWays(ctx context.Context, worldID string, level, x, y int, dir proto.Dir, kind proto.EdgeKind, meta EdgeMeta) error {
	t.m.writeEdgeLocked(worldID, level, x, y, dir, kind, meta)
	return nil
}

func (t *memTx) WriteCell(ctx context.Context, worldID string, level, x, y int, meta CellMeta) error {
	t.m.writeCellLocked(worldID, level, x, y, meta)
	return nil
}

func (t *memTx) WriteCellIfAbsent(ctx context.Context, worldID string, level, x, y int, meta CellMeta) (bool, error) {
	k := cellKey{worldID, level, x, y}
	if _, ok := t.m.cells[k]; ok {
		return false, nil
	}
	t.m.writeCellLocked(worldID, level, x, y, meta)
	return true, nil
}

// ─── DiscoveryStore ─────────────────────────────────────────────────

func (m *Memory) MarkDiscovered(ctx context.Context, worldID string, level, x, y int, atMs int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := cellKey{worldID, level, x, y}
	if prev, ok := m.discovered[k]; !ok || atMs > prev {
		m.discovered[k] = atMs
	}
	return nil
}

func (m *Memory) DiscoveredInRadius(ctx context.Context, worldID string, level, cx, cy, r int) ([]Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pts []Point
	for k := range m.discovered {
		if k.world != worldID || k.level != level {
			continue
		}
		if abs(k.x-cx) <= r && abs(k.y-cy) <= r {
			pts = append(pts, Point{X: k.x, Y: k.y})
		}
	}
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].Y != pts[j].Y {
			return pts[i].Y < pts[j].Y
		}
		return pts[i].X < pts[j].X
	})
	return pts, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// ─── AdminStore ─────────────────────────────────────────────────────

func (m *Memory) CreateWorld(ctx context.Context, seed uint32, generatorVersion string) (*World, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := World{
		ID:               uuid.NewString(),
		Seed:             seed,
		GeneratorVersion: generatorVersion,
		CreatedAt:        m.Now(),
	}
	m.worlds[w.ID] = w
	out := w
	return &out, nil
}

func (m *Memory) CreateUser(ctx context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := User{ID: uuid.NewString(), Email: email, CreatedAt: m.Now()}
	m.users[u.ID] = u
	out := u
	return &out, nil
}

func (m *Memory) CreateSession(ctx context.Context, userID string, ttl time.Duration) (*Session, error) {
	token, err := NewSessionToken()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	s := Session{
		Token:      token,
		UserID:     userID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		LastSeenAt: now,
	}
	m.sessions[token] = s
	out := s
	return &out, nil
}

func (m *Memory) CreateCharacter(ctx context.Context, userID, worldID, name string) (*Character, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := Character{
		ID:           uuid.NewString(),
		UserID:       userID,
		WorldID:      worldID,
		Name:         name,
		HP:           20,
		Level:        1,
		X:            0,
		Y:            0,
		Face:         proto.DirN,
		LastPlayedAt: m.Now(),
	}
	m.characters[ch.ID] = ch
	m.activeByUser[userID] = ch.ID
	out := ch
	return &out, nil
}

// NewSessionToken mints an opaque 256-bit random token.
func NewSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token generation failed: %v", err)
	}
	return hex.EncodeToString(buf), nil
}
