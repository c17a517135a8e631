package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"paygate/internal/middleware"
	"paygate/internal/models"
	"paygate/internal/payment"
)

// ConfigWriter persists gateway configs and refreshes cached views.
type ConfigWriter interface {
	Save(ctx context.Context, cfg *models.TenantGatewayConfig) error
}

// GatewayHandler is the admin write feeding the gateway registry.
type GatewayHandler struct {
	configs ConfigWriter
	logger  *zap.Logger
}

func NewGatewayHandler(configs ConfigWriter, logger *zap.Logger) *GatewayHandler {
	return &GatewayHandler{configs: configs, logger: logger}
}

// Upsert handles PUT /api/gateways for the calling tenant. Credentials are
// checked for completeness and never echoed back.
func (h *GatewayHandler) Upsert(c echo.Context) error {
	var req models.GatewayConfigRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid request body", nil)
	}
	if err := c.Validate(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, validationMessage(err), nil)
	}

	gw, ok := models.ParseGatewayType(req.GatewayType)
	if !ok {
		return writeError(c, h.logger, &payment.UnsupportedGatewayError{Gateway: req.GatewayType}, nil)
	}
	if err := payment.NewCredentials(gw, req.Environment, req.Credentials).Validate(); err != nil {
		return writeError(c, h.logger, err, nil)
	}

	cfg := &models.TenantGatewayConfig{
		TenantID:    middleware.TenantID(c),
		GatewayType: gw,
		Environment: req.Environment,
		Credentials: make(datatypes.JSONMap, len(req.Credentials)),
		Priority:    req.Priority,
		IsActive:    req.IsActive == nil || *req.IsActive,
	}
	for k, v := range req.Credentials {
		cfg.Credentials[k] = v
	}
	if len(req.Fees) > 0 {
		cfg.Fees = make(datatypes.JSONMap, len(req.Fees))
		for k, v := range req.Fees {
			cfg.Fees[k] = v
		}
	}
	cfg.SetMethods(req.SupportedMethods)

	if err := h.configs.Save(c.Request().Context(), cfg); err != nil {
		return writeError(c, h.logger.With(zap.String("tenant_id", cfg.TenantID)), err, nil)
	}
	return successResponse(c, "Gateway saved", cfg)
}
