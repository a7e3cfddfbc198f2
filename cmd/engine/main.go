package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/dungeonpunk/crawler-engine/internal/api"
	"github.com/dungeonpunk/crawler-engine/internal/db"
	"github.com/dungeonpunk/crawler-engine/internal/game"
	"github.com/dungeonpunk/crawler-engine/internal/gen"
	"github.com/dungeonpunk/crawler-engine/internal/store"
)

// backend is the full storage surface the engine needs, satisfied by both
// the Postgres store and the in-memory fallback.
type backend interface {
	store.SessionStore
	store.CharacterStore
	store.WorldStore
	store.OverlayStore
	store.DiscoveryStore
	store.AdminStore
}

func main() {
	log.Println("Starting Dungeonpunk Crawler Engine (server-authoritative gameplay kernel)...")

	// ─── Environment Variables ──────────────────────────────────────────
	// DATABASE_URL is optional: without it the engine runs on the in-memory
	// store and seeds a throwaway world so a client can connect immediately.
	// Use a .env file for local development: cp .env.example .env
	// ────────────────────────────────────────────────────────────────────

	var st backend
	dbConnected := false

	if dbUrl := os.Getenv("DATABASE_URL"); dbUrl != "" {
		pg, err := db.Connect(dbUrl)
		if err != nil {
			log.Fatalf("FATAL: DATABASE_URL is set but the connection failed: %v", err)
		}
		defer pg.Close()
		if err := pg.InitSchema(); err != nil {
			log.Fatalf("FATAL: DB schema init failed: %v", err)
		}
		st = pg
		dbConnected = true
	} else {
		log.Println("DATABASE_URL not set; running on the in-memory store (state is lost on restart)")
		st = store.NewMemory()
	}

	deps := &game.Deps{
		Sessions:   st,
		Characters: st,
		Worlds:     st,
		Overlay:    st,
		Discovery:  st,
		Chunks:     gen.NewCache(),
		Clock:      func() int64 { return time.Now().UnixMilli() },
		Config: game.Config{
			MoveCooldownMs: int64(getEnvInt("MOVE_COOLDOWN_MS", 500)),
			TurnCooldownMs: int64(getEnvInt("TURN_COOLDOWN_MS", 150)),
		},
	}

	if !dbConnected && api.IsDevBootstrapEnabled() {
		devBootstrap(st)
	}

	r := api.SetupRouter(deps, st, api.RouterConfig{
		AllowedOrigins:  os.Getenv("ALLOWED_ORIGINS"),
		WSPath:          getEnvOrDefault("WS_PATH", "/ws"),
		DBConnected:     dbConnected,
		AdminRatePerMin: getEnvInt("ADMIN_RATE_PER_MIN", 60),
		AdminRateBurst:  getEnvInt("ADMIN_RATE_BURST", 10),
	})

	port := getEnvOrDefault("PORT", "5339")
	log.Printf("Engine running on :%s (ws endpoint: %s)\n", port, getEnvOrDefault("WS_PATH", "/ws"))
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// devBootstrap seeds a world, user, session and character so a client can
// connect to a fresh in-memory engine without touching the admin API. The
// minted session token is printed to the log on purpose.
func devBootstrap(admin store.AdminStore) {
	ctx := context.Background()

	seed := uint32(getEnvInt("WORLD_SEED", 1337))
	version := getEnvOrDefault("GENERATOR_VERSION", gen.VersionMaze)
	if version != gen.VersionMaze && version != gen.VersionBSP {
		log.Fatalf("FATAL: unknown GENERATOR_VERSION %q (want %s or %s)", version, gen.VersionMaze, gen.VersionBSP)
	}

	w, err := admin.CreateWorld(ctx, seed, version)
	if err != nil {
		log.Fatalf("FATAL: dev bootstrap world: %v", err)
	}
	u, err := admin.CreateUser(ctx, "dev@localhost")
	if err != nil {
		log.Fatalf("FATAL: dev bootstrap user: %v", err)
	}
	s, err := admin.CreateSession(ctx, u.ID, 24*time.Hour)
	if err != nil {
		log.Fatalf("FATAL: dev bootstrap session: %v", err)
	}
	if _, err := admin.CreateCharacter(ctx, u.ID, w.ID, "Wanderer"); err != nil {
		log.Fatalf("FATAL: dev bootstrap character: %v", err)
	}

	log.Printf("Dev bootstrap: world %s (seed=%d, generator=%s)", w.ID, seed, version)
	log.Printf("Dev bootstrap: session token %s (expires %s)", s.Token, s.ExpiresAt.Format(time.RFC3339))
	log.Println("Set DISABLE_DEV_BOOTSTRAP=true to turn this off")
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvInt parses an integer env var, exiting on malformed values rather
// than silently falling back.
func getEnvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("FATAL: environment variable %s must be an integer, got %q", key, val)
	}
	return n
}
