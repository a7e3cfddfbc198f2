package api

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dungeonpunk/crawler-engine/internal/game"
	"github.com/dungeonpunk/crawler-engine/internal/gen"
	"github.com/dungeonpunk/crawler-engine/internal/store"
	"github.com/dungeonpunk/crawler-engine/pkg/proto"
)

// RouterConfig carries the HTTP-surface settings resolved in main.
type RouterConfig struct {
	AllowedOrigins  string
	WSPath          string
	DBConnected     bool
	AdminRatePerMin int
	AdminRateBurst  int
}

// adminLimits resolves the admin rate-limit settings, falling back to the
// defaults when unset.
func (cfg RouterConfig) adminLimits() (ratePerMin, burst int) {
	ratePerMin, burst = cfg.AdminRatePerMin, cfg.AdminRateBurst
	if ratePerMin <= 0 {
		ratePerMin = 60
	}
	if burst <= 0 {
		burst = 10
	}
	return ratePerMin, burst
}

type apiHandler struct {
	admin   store.AdminStore
	overlay store.OverlayStore
	cfg     RouterConfig
}

// SetupRouter wires the HTTP surface: the game websocket, a health probe,
// and the bearer-token-protected admin endpoints used to mint records and
// write overlay overrides.
func SetupRouter(deps *game.Deps, admin store.AdminStore, cfg RouterConfig) *gin.Engine {
	r := gin.Default()

	// CORS, configurable via ALLOWED_ORIGINS. Empty or "*" allows all.
	allowedOrigins := cfg.AllowedOrigins
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, Origin")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &apiHandler{admin: admin, overlay: deps.Overlay, cfg: cfg}
	gateway := NewGateway(deps, cfg.AllowedOrigins)

	wsPath := cfg.WSPath
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.GET(wsPath, gateway.Serve)

	api := r.Group("/api/v1")
	{
		api.GET("/health", handler.handleHealth)

		ratePerMin, burst := cfg.adminLimits()
		admin := api.Group("/admin", AuthMiddleware(), NewRateLimiter(ratePerMin, burst).Middleware())
		{
			admin.POST("/worlds", handler.handleCreateWorld)
			admin.POST("/users", handler.handleCreateUser)
			admin.POST("/sessions", handler.handleCreateSession)
			admin.POST("/characters", handler.handleCreateCharacter)
			admin.PUT("/worlds/:id/edges", handler.handleWriteEdge)
		}
	}

	return r
}

func (h *apiHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "operational",
		"engine": "Dungeonpunk Crawler Engine v1.0",
		"capabilities": gin.H{
			"generators":         []string{gen.VersionMaze, gen.VersionBSP},
			"frontier_expansion": true,
			"replay_hash":        true,
		},
		"dbConnected": h.cfg.DBConnected,
	})
}

func (h *apiHandler) handleCreateWorld(c *gin.Context) {
	var req struct {
		Seed             uint32 `json:"seed"`
		GeneratorVersion string `json:"generator_version"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.GeneratorVersion == "" {
		req.GeneratorVersion = gen.VersionMaze
	}
	if req.GeneratorVersion != gen.VersionMaze && req.GeneratorVersion != gen.VersionBSP {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown generator version"})
		return
	}
	w, err := h.admin.CreateWorld(c.Request.Context(), req.Seed, req.GeneratorVersion)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create world", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"world_id":          w.ID,
		"seed":              w.Seed,
		"generator_version": w.GeneratorVersion,
	})
}

func (h *apiHandler) handleCreateUser(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {email}"})
		return
	}
	u, err := h.admin.CreateUser(c.Request.Context(), req.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": u.ID, "email": u.Email})
}

func (h *apiHandler) handleCreateSession(c *gin.Context) {
	var req struct {
		UserID   string `json:"user_id"`
		TTLHours int    `json:"ttl_hours"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {user_id, ttl_hours?}"})
		return
	}
	if req.TTLHours <= 0 {
		req.TTLHours = 24
	}
	s, err := h.admin.CreateSession(c.Request.Context(), req.UserID, time.Duration(req.TTLHours)*time.Hour)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_token": s.Token, "expires_at": s.ExpiresAt})
}

func (h *apiHandler) handleCreateCharacter(c *gin.Context) {
	var req struct {
		UserID  string `json:"user_id"`
		WorldID string `json:"world_id"`
		Name    string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" || req.WorldID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {user_id, world_id, name}"})
		return
	}
	ch, err := h.admin.CreateCharacter(c.Request.Context(), req.UserID, req.WorldID, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create character", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"character_id": ch.ID, "world_id": ch.WorldID})
}

var validEdgeKinds = map[proto.EdgeKind]bool{
	proto.EdgeWall:         true,
	proto.EdgeOpen:         true,
	proto.EdgeDoorLocked:   true,
	proto.EdgeDoorUnlocked: true,
	proto.EdgeLeverSecret:  true,
}

// handleWriteEdge is the admin overlay pathway. Writes are symmetric, like
// every other overlay write.
func (h *apiHandler) handleWriteEdge(c *gin.Context) {
	worldID := c.Param("id")

	var req struct {
		Level int            `json:"level"`
		X     int            `json:"x"`
		Y     int            `json:"y"`
		Dir   string         `json:"dir"`
		Kind  string         `json:"kind"`
		Meta  store.EdgeMeta `json:"meta"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	dir := proto.Dir(req.Dir)
	kind := proto.EdgeKind(req.Kind)
	if !dir.Cardinal() || !validEdgeKinds[kind] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid dir or edge kind"})
		return
	}

	err := h.overlay.WriteEdgeBothWays(c.Request.Context(), worldID, req.Level, req.X, req.Y, dir, kind, req.Meta)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to write edge override", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "written"})
}

// IsDevBootstrapEnabled reports whether the engine should seed a throwaway
// world and session at startup when no database is configured.
func IsDevBootstrapEnabled() bool {
	return os.Getenv("DISABLE_DEV_BOOTSTRAP") != "true"
}
