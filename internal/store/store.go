// Package store defines the record types and storage contracts the gameplay
// core consumes. Every operation is a single atomic row-level action; the
// core never assumes transactionality across operations, with the one
// exception of OverlayStore.Apply which runs a batch of overlay mutations
// as a unit for frontier expansion.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dungeonpunk/crawler-engine/pkg/proto"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrSessionExpired = errors.New("session expired")
)

// World is one game world: a seed and the generator label it was built
// with. Never mutated after creation.
type World struct {
	ID               string
	Seed             uint32
	GeneratorVersion string
	CreatedAt        time.Time
}

type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// Session is an opaque token minted by the external identity provider.
type Session struct {
	Token      string
	UserID     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastSeenAt time.Time
}

// Character is a player avatar. The core only ever updates its pose.
type Character struct {
	ID           string
	UserID       string
	WorldID      string
	Name         string
	HP           int
	Level        int
	X            int
	Y            int
	Face         proto.Dir
	LastPlayedAt time.Time
}

// EdgeMeta is the optional metadata carried by an edge override. Frontier
// marks a lazy generation boundary; the lock fields only apply to door
// variants. KeyEntityID is a plain relation, never an owning pointer:
// dangling identifiers resolve to no linked entity.
type EdgeMeta struct {
	Frontier       bool   `json:"frontier,omitempty"`
	LockDifficulty int    `json:"lock_difficulty,omitempty"`
	KeyEntityID    string `json:"key_entity_id,omitempty"`
	DefaultState   string `json:"default_state,omitempty"`
}

// EdgeOverride supersedes the generated base for one edge. Overrides are
// stored symmetrically: writing (x, y, dir) also writes the mirror on the
// neighbor cell.
type EdgeOverride struct {
	Level     int
	X         int
	Y         int
	Dir       proto.Dir
	Kind      proto.EdgeKind
	Meta      EdgeMeta
	UpdatedAt time.Time
}

// Cell kinds recorded in cell overrides.
const (
	CellHubRoom  = "hub_room"
	CellRoom     = "room"
	CellCorridor = "corridor"
)

type CellMeta struct {
	Kind   string `json:"kind"`
	AreaID string `json:"area_id,omitempty"`
}

type CellOverride struct {
	Level     int
	X         int
	Y         int
	Meta      CellMeta
	UpdatedAt time.Time
}

// Point is one discovered cell coordinate.
type Point struct {
	X int
	Y int
}

// SessionStore resolves opaque session tokens. LoadSession checks expiry
// and refreshes the last-seen time; it returns ErrNotFound for unknown
// tokens and ErrSessionExpired for expired ones.
type SessionStore interface {
	LoadSession(ctx context.Context, token string) (*Session, error)
}

// CharacterStore loads the active character for a user and persists pose.
type CharacterStore interface {
	LoadActiveCharacter(ctx context.Context, userID string) (*Character, error)
	SavePosition(ctx context.Context, characterID, worldID string, level, x, y int, face proto.Dir) error
}

type WorldStore interface {
	GetWorld(ctx context.Context, worldID string) (*World, error)
}

// OverlayOps is the overlay read/write surface, available both directly
// (single-row atomic) and inside an Apply transaction. Absent records are
// returned as nil with no error. All operations are scoped by world.
type OverlayOps interface {
	GetEdgeOverride(ctx context.Context, worldID string, level, x, y int, dir proto.Dir) (*EdgeOverride, error)
	GetCellOverride(ctx context.Context, worldID string, level, x, y int) (*CellOverride, error)
	WriteEdgeBothWays(ctx context.Context, worldID string, level, x, y int, dir proto.Dir, kind proto.EdgeKind, meta EdgeMeta) error
	WriteCell(ctx context.Context, worldID string, level, x, y int, meta CellMeta) error

	// WriteCellIfAbsent inserts the cell override only when none exists
	// and reports whether the insert won. Concurrent expansions of the
	// same frontier race on this call and exactly one carves.
	WriteCellIfAbsent(ctx context.Context, worldID string, level, x, y int, meta CellMeta) (bool, error)
}

// OverlayStore adds transactional batching on top of the single-row ops.
type OverlayStore interface {
	OverlayOps

	// Apply runs fn against a transactional view of the overlay. All
	// writes commit together or not at all.
	Apply(ctx context.Context, fn func(tx OverlayOps) error) error
}

// DiscoveryStore is the append-only set of cells players have stepped on.
type DiscoveryStore interface {
	// MarkDiscovered is an idempotent insert; the most recent timestamp
	// wins on collision.
	MarkDiscovered(ctx context.Context, worldID string, level, x, y int, atMs int64) error

	// DiscoveredInRadius returns all stored points with |x-cx| <= r and
	// |y-cy| <= r on the level, ordered by (y asc, x asc).
	DiscoveredInRadius(ctx context.Context, worldID string, level, cx, cy, r int) ([]Point, error)
}

// AdminStore is the record-creation surface used by the admin endpoints
// and the in-memory dev bootstrap. Gameplay never calls it.
type AdminStore interface {
	CreateWorld(ctx context.Context, seed uint32, generatorVersion string) (*World, error)
	CreateUser(ctx context.Context, email string) (*User, error)
	CreateSession(ctx context.Context, userID string, ttl time.Duration) (*Session, error)
	CreateCharacter(ctx context.Context, userID, worldID, name string) (*Character, error)
}
