// Package db is the PostgreSQL implementation of the storage contracts in
// internal/store, built on pgx connection pooling. The in-memory store is
// the reference implementation; this one must match its observable
// semantics exactly, including the WriteCellIfAbsent race winner rule.
package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dungeonpunk/crawler-engine/internal/store"
	"github.com/dungeonpunk/crawler-engine/pkg/proto"
)

// schemaSQL is compiled into the binary at build time.
// This ensures schema init works inside the Docker runtime image which
// does not copy internal/db/schema.sql into the final stage.
//
//go:embed schema.sql
var schemaSQL string

type Postgres struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(connStr string) (*Postgres, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for Crawler Engine")
	return &Postgres{pool: pool}, nil
}

// Close gracefully closes the connection pool
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (p *Postgres) InitSchema() error {
	_, err := p.pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Crawler Engine schema initialized")
	return nil
}

// GetPool exposes the connection pool for subsystems that need raw access
func (p *Postgres) GetPool() *pgxpool.Pool {
	return p.pool
}

// ─── SessionStore ───────────────────────────────────────────────────

func (p *Postgres) LoadSession(ctx context.Context, token string) (*store.Session, error) {
	var s store.Session
	err := p.pool.QueryRow(ctx, `
		SELECT token, user_id, created_at, expires_at, last_seen_at
		FROM sessions WHERE token = $1
	`, token).Scan(&s.Token, &s.UserID, &s.CreatedAt, &s.ExpiresAt, &s.LastSeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %v", err)
	}

	now := time.Now()
	if now.After(s.ExpiresAt) {
		return nil, store.ErrSessionExpired
	}

	_, err = p.pool.Exec(ctx, `UPDATE sessions SET last_seen_at = NOW() WHERE token = $1`, token)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh session: %v", err)
	}
	s.LastSeenAt = now
	return &s, nil
}

// ─── CharacterStore ─────────────────────────────────────────────────

func (p *Postgres) LoadActiveCharacter(ctx context.Context, userID string) (*store.Character, error) {
	var ch store.Character
	var face string
	err := p.pool.QueryRow(ctx, `
		SELECT id, user_id, world_id, name, hp, level, x, y, face, last_played_at
		FROM characters WHERE user_id = $1 AND is_active
	`, userID).Scan(&ch.ID, &ch.UserID, &ch.WorldID, &ch.Name, &ch.HP,
		&ch.Level, &ch.X, &ch.Y, &face, &ch.LastPlayedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load character: %v", err)
	}
	ch.Face = proto.Dir(face)
	return &ch, nil
}

func (p *Postgres) SavePosition(ctx context.Context, characterID, worldID string, level, x, y int, face proto.Dir) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE characters
		SET world_id = $2, level = $3, x = $4, y = $5, face = $6, last_played_at = NOW()
		WHERE id = $1
	`, characterID, worldID, level, x, y, string(face))
	if err != nil {
		return fmt.Errorf("failed to save position: %v", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ─── WorldStore ─────────────────────────────────────────────────────

func (p *Postgres) GetWorld(ctx context.Context, worldID string) (*store.World, error) {
	var w store.World
	var seed int64
	err := p.pool.QueryRow(ctx, `
		SELECT id, seed, generator_version, created_at FROM worlds WHERE id = $1
	`, worldID).Scan(&w.ID, &seed, &w.GeneratorVersion, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load world: %v", err)
	}
	w.Seed = uint32(seed)
	return &w, nil
}

// ─── OverlayStore ───────────────────────────────────────────────────
//
// The single-row ops run against the pool; Apply re-runs the same ops
// against one pgx transaction so a frontier expansion commits atomically.

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type overlayOps struct {
	q querier
}

func (p *Postgres) GetEdgeOverride(ctx context.Context, worldID string, level, x, y int, dir proto.Dir) (*store.EdgeOverride, error) {
	return overlayOps{p.pool}.GetEdgeOverride(ctx, worldID, level, x, y, dir)
}

func (p *Postgres) GetCellOverride(ctx context.Context, worldID string, level, x, y int) (*store.CellOverride, error) {
	return overlayOps{p.pool}.GetCellOverride(ctx, worldID, level, x, y)
}

func (p *Postgres) WriteEdgeBothWays(ctx context.Context, worldID string, level, x, y int, dir proto.Dir, kind proto.EdgeKind, meta store.EdgeMeta) error {
	return overlayOps{p.pool}.WriteEdgeBothWays(ctx, worldID, level, x, y, dir, kind, meta)
}

func (p *Postgres) WriteCell(ctx context.Context, worldID string, level, x, y int, meta store.CellMeta) error {
	return overlayOps{p.pool}.WriteCell(ctx, worldID, level, x, y, meta)
}

func (p *Postgres) WriteCellIfAbsent(ctx context.Context, worldID string, level, x, y int, meta store.CellMeta) (bool, error) {
	return overlayOps{p.pool}.WriteCellIfAbsent(ctx, worldID, level, x, y, meta)
}

// Apply runs fn inside one transaction. All overlay writes in a frontier
// expansion commit together or not at all.
func (p *Postgres) Apply(ctx context.Context, fn func(tx store.OverlayOps) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin overlay transaction: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(overlayOps{tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (o overlayOps) GetEdgeOverride(ctx context.Context, worldID string, level, x, y int, dir proto.Dir) (*store.EdgeOverride, error) {
	var e store.EdgeOverride
	var d, kind string
	var metaRaw []byte
	err := o.q.QueryRow(ctx, `
		SELECT level, x, y, dir, kind, meta, updated_at
		FROM edge_overrides
		WHERE world_id = $1 AND level = $2 AND x = $3 AND y = $4 AND dir = $5
	`, worldID, level, x, y, string(dir)).Scan(&e.Level, &e.X, &e.Y, &d, &kind, &metaRaw, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load edge override: %v", err)
	}
	e.Dir = proto.Dir(d)
	e.Kind = proto.EdgeKind(kind)
	if err := json.Unmarshal(metaRaw, &e.Meta); err != nil {
		// Corrupt metadata is treated as no override at all; the generated
		// base takes over rather than wedging the session.
		log.Printf("Warning: discarding corrupt edge meta at (%d,%d,%s): %v", x, y, dir, err)
		return nil, nil
	}
	return &e, nil
}

func (o overlayOps) GetCellOverride(ctx context.Context, worldID string, level, x, y int) (*store.CellOverride, error) {
	var c store.CellOverride
	var metaRaw []byte
	err := o.q.QueryRow(ctx, `
		SELECT level, x, y, meta, updated_at
		FROM cell_overrides
		WHERE world_id = $1 AND level = $2 AND x = $3 AND y = $4
	`, worldID, level, x, y).Scan(&c.Level, &c.X, &c.Y, &metaRaw, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cell override: %v", err)
	}
	if err := json.Unmarshal(metaRaw, &c.Meta); err != nil {
		log.Printf("Warning: discarding corrupt cell meta at (%d,%d): %v", x, y, err)
		return nil, nil
	}
	return &c, nil
}

const upsertEdgeSQL = `
	INSERT INTO edge_overrides (world_id, level, x, y, dir, kind, meta, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	ON CONFLICT (world_id, level, x, y, dir) DO UPDATE
	SET kind = EXCLUDED.kind, meta = EXCLUDED.meta, updated_at = NOW();
`

func (o overlayOps) WriteEdgeBothWays(ctx context.Context, worldID string, level, x, y int, dir proto.Dir, kind proto.EdgeKind, meta store.EdgeMeta) error {
	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode edge meta: %v", err)
	}

	_, err = o.q.Exec(ctx, upsertEdgeSQL, worldID, level, x, y, string(dir), string(kind), metaRaw)
	if err != nil {
		return fmt.Errorf("failed to write edge override: %v", err)
	}

	// Mirror row on the neighbor cell so reads never canonicalize direction.
	dx, dy := dir.Delta()
	opp := dir.Opposite()
	_, err = o.q.Exec(ctx, upsertEdgeSQL, worldID, level, x+dx, y+dy, string(opp), string(kind), metaRaw)
	if err != nil {
		return fmt.Errorf("failed to write mirror edge override: %v", err)
	}
	return nil
}

func (o overlayOps) WriteCell(ctx context.Context, worldID string, level, x, y int, meta store.CellMeta) error {
	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode cell meta: %v", err)
	}
	_, err = o.q.Exec(ctx, `
		INSERT INTO cell_overrides (world_id, level, x, y, meta, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (world_id, level, x, y) DO UPDATE
		SET meta = EXCLUDED.meta, updated_at = NOW();
	`, worldID, level, x, y, metaRaw)
	if err != nil {
		return fmt.Errorf("failed to write cell override: %v", err)
	}
	return nil
}

func (o overlayOps) WriteCellIfAbsent(ctx context.Context, worldID string, level, x, y int, meta store.CellMeta) (bool, error) {
	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return false, fmt.Errorf("failed to encode cell meta: %v", err)
	}
	tag, err := o.q.Exec(ctx, `
		INSERT INTO cell_overrides (world_id, level, x, y, meta, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (world_id, level, x, y) DO NOTHING;
	`, worldID, level, x, y, metaRaw)
	if err != nil {
		return false, fmt.Errorf("failed to insert cell override: %v", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ─── DiscoveryStore ─────────────────────────────────────────────────

func (p *Postgres) MarkDiscovered(ctx context.Context, worldID string, level, x, y int, atMs int64) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO discovered_cells (world_id, level, x, y, discovered_at_ms)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (world_id, level, x, y) DO UPDATE
		SET discovered_at_ms = GREATEST(discovered_cells.discovered_at_ms, EXCLUDED.discovered_at_ms);
	`, worldID, level, x, y, atMs)
	if err != nil {
		return fmt.Errorf("failed to mark discovered: %v", err)
	}
	return nil
}

func (p *Postgres) DiscoveredInRadius(ctx context.Context, worldID string, level, cx, cy, r int) ([]store.Point, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT x, y FROM discovered_cells
		WHERE world_id = $1 AND level = $2
		  AND x BETWEEN $3 AND $4 AND y BETWEEN $5 AND $6
		ORDER BY y, x;
	`, worldID, level, cx-r, cx+r, cy-r, cy+r)
	if err != nil {
		return nil, fmt.Errorf("failed to query discovered cells: %v", err)
	}
	defer rows.Close()

	var pts []store.Point
	for rows.Next() {
		var pt store.Point
		if err := rows.Scan(&pt.X, &pt.Y); err != nil {
			return nil, err
		}
		pts = append(pts, pt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return pts, nil
}

// ─── AdminStore ─────────────────────────────────────────────────────

func (p *Postgres) CreateWorld(ctx context.Context, seed uint32, generatorVersion string) (*store.World, error) {
	w := store.World{
		ID:               uuid.NewString(),
		Seed:             seed,
		GeneratorVersion: generatorVersion,
		CreatedAt:        time.Now(),
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO worlds (id, seed, generator_version, created_at)
		VALUES ($1, $2, $3, $4);
	`, w.ID, int64(w.Seed), w.GeneratorVersion, w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create world: %v", err)
	}
	return &w, nil
}

func (p *Postgres) CreateUser(ctx context.Context, email string) (*store.User, error) {
	u := store.User{ID: uuid.NewString(), Email: email, CreatedAt: time.Now()}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO users (id, email, created_at) VALUES ($1, $2, $3);
	`, u.ID, u.Email, u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %v", err)
	}
	return &u, nil
}

func (p *Postgres) CreateSession(ctx context.Context, userID string, ttl time.Duration) (*store.Session, error) {
	token, err := store.NewSessionToken()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	s := store.Session{
		Token:      token,
		UserID:     userID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		LastSeenAt: now,
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO sessions (token, user_id, created_at, expires_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5);
	`, s.Token, s.UserID, s.CreatedAt, s.ExpiresAt, s.LastSeenAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %v", err)
	}
	return &s, nil
}

func (p *Postgres) CreateCharacter(ctx context.Context, userID, worldID, name string) (*store.Character, error) {
	ch := store.Character{
		ID:           uuid.NewString(),
		UserID:       userID,
		WorldID:      worldID,
		Name:         name,
		HP:           20,
		Level:        1,
		X:            0,
		Y:            0,
		Face:         proto.DirN,
		LastPlayedAt: time.Now(),
	}

	// Demote any existing active character so the partial unique index on
	// (user_id) WHERE is_active admits the new row.
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `UPDATE characters SET is_active = FALSE WHERE user_id = $1 AND is_active;`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to demote active character: %v", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO characters (id, user_id, world_id, name, hp, level, x, y, face, is_active, last_played_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $10);
	`, ch.ID, ch.UserID, ch.WorldID, ch.Name, ch.HP, ch.Level, ch.X, ch.Y, string(ch.Face), ch.LastPlayedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create character: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit character creation: %v", err)
	}
	return &ch, nil
}
