package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"paygate/internal/models"
)

const tenantKey = "tenant_id"

// TenantID returns the tenant attached by TenantAuth.
func TenantID(c echo.Context) string {
	id, _ := c.Get(tenantKey).(string)
	return id
}

// TenantAuth validates the X-API-Key header against the configured key
// hashes (SHA-256 hex) and attaches the owning tenant to the context.
func TenantAuth(keyHashes map[string]string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := c.Request().Header.Get("X-API-Key")
			if token == "" {
				return c.JSON(http.StatusUnauthorized, models.APIResponse{
					Status: false,
					Msg:    "X-API-Key is required",
				})
			}

			h := sha256.Sum256([]byte(token))
			tenant, ok := keyHashes[hex.EncodeToString(h[:])]
			if !ok {
				return c.JSON(http.StatusUnauthorized, models.APIResponse{
					Status: false,
					Msg:    "Invalid API key",
				})
			}

			c.Set(tenantKey, tenant)
			return next(c)
		}
	}
}

// TenantRateLimit applies a token bucket per tenant. Must run after TenantAuth.
func TenantRateLimit(rps float64, burst int) echo.MiddlewareFunc {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	limiter := func(tenant string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[tenant]
		if !ok {
			l = rate.NewLimiter(rate.Limit(rps), burst)
			limiters[tenant] = l
		}
		return l
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if rps <= 0 {
				return next(c)
			}
			if !limiter(TenantID(c)).Allow() {
				return c.JSON(http.StatusTooManyRequests, models.APIResponse{
					Status: false,
					Msg:    "Rate limit exceeded",
				})
			}
			return next(c)
		}
	}
}

// RequestLogger logs one structured line per request.
func RequestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			// Execute the handler
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("path", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", c.RealIP()),
			}
			if tenant := TenantID(c); tenant != "" {
				fields = append(fields, zap.String("tenant_id", tenant))
			}
			if c.Response().Status >= http.StatusInternalServerError {
				logger.Warn("Request failed", fields...)
			} else {
				logger.Debug("Request served", fields...)
			}
			return nil
		}
	}
}

// CORS configures CORS headers.
func CORS() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("Access-Control-Allow-Origin", "*")
			c.Response().Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			c.Response().Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, Idempotency-Key")
			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusOK)
			}
			return next(c)
		}
	}
}
