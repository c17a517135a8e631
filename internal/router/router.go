package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"paygate/internal/config"
	"paygate/internal/handler"
	"paygate/internal/handler/api"
	"paygate/internal/middleware"
)

// Handlers bundles the HTTP handlers mounted by Setup.
type Handlers struct {
	Payments *api.PaymentHandler
	Gateways *api.GatewayHandler
	Webhooks *handler.PaymentCallbackHandler
}

// Setup configures all routes for the Echo server.
func Setup(e *echo.Echo, h Handlers, apiCfg config.APIConfig, logger *zap.Logger) {
	e.Validator = api.NewValidator()

	// Global middleware
	e.Use(echomw.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger(logger))

	// API group with tenant auth + rate limiting
	apiGroup := e.Group("/api")
	apiGroup.Use(middleware.TenantAuth(apiCfg.TenantKeys))
	apiGroup.Use(middleware.TenantRateLimit(apiCfg.RateLimit, apiCfg.RateBurst))

	apiGroup.POST("/payments", h.Payments.Create)
	apiGroup.GET("/payments/:id", h.Payments.Get)
	apiGroup.PUT("/gateways", h.Gateways.Upsert)

	// Provider webhooks authenticate by signature, not API key
	e.POST("/webhooks/:gateway/:tenant", h.Webhooks.Callback)

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})
}
