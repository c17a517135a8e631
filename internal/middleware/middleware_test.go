package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func hash(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

func newServer() *echo.Echo {
	e := echo.New()
	g := e.Group("/api")
	g.Use(RequestLogger(zap.NewNop()))
	g.Use(TenantAuth(map[string]string{hash("key-a"): "tenant-a"}))
	g.Use(TenantRateLimit(1, 2))
	g.GET("/whoami", func(c echo.Context) error {
		return c.String(http.StatusOK, TenantID(c))
	})
	return e
}

func call(e *echo.Echo, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestTenantAuth(t *testing.T) {
	e := newServer()

	rec := call(e, "key-a")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tenant-a", rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, call(e, "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(e, "key-b").Code)
}

func TestTenantRateLimit(t *testing.T) {
	e := newServer()

	assert.Equal(t, http.StatusOK, call(e, "key-a").Code)
	assert.Equal(t, http.StatusOK, call(e, "key-a").Code)
	assert.Equal(t, http.StatusTooManyRequests, call(e, "key-a").Code)
}

func TestCORS(t *testing.T) {
	e := echo.New()
	e.Use(CORS())
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
}
