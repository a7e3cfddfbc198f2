package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func authTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/guarded", AuthMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func doGet(r *gin.Engine, header string) int {
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestAuthMiddlewareEnforcesToken(t *testing.T) {
	t.Setenv("API_AUTH_TOKEN", "sekrit")
	r := authTestRouter()

	if code := doGet(r, ""); code != http.StatusUnauthorized {
		t.Errorf("missing header: %d, want 401", code)
	}
	if code := doGet(r, "Basic sekrit"); code != http.StatusForbidden {
		t.Errorf("wrong scheme: %d, want 403", code)
	}
	if code := doGet(r, "Bearer wrong"); code != http.StatusForbidden {
		t.Errorf("wrong token: %d, want 403", code)
	}
	if code := doGet(r, "Bearer sekrit"); code != http.StatusOK {
		t.Errorf("right token: %d, want 200", code)
	}
}

func TestAuthMiddlewareDevMode(t *testing.T) {
	t.Setenv("API_AUTH_TOKEN", "")
	r := authTestRouter()
	if code := doGet(r, ""); code != http.StatusOK {
		t.Errorf("unset token should allow everything, got %d", code)
	}
}
