package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"paygate/internal/models"
	"paygate/internal/payment"
	"paygate/internal/webhook"
)

const maxWebhookBody = 1 << 20

// WebhookProcessor applies one provider delivery.
type WebhookProcessor interface {
	Handle(ctx context.Context, tenantID string, gatewayType models.GatewayType, rawPayload []byte, signature string) (*webhook.Result, error)
}

// PaymentCallbackHandler handles gateway webhooks.
type PaymentCallbackHandler struct {
	webhooks WebhookProcessor
	logger   *zap.Logger
}

// NewPaymentCallbackHandler creates a new payment callback handler.
func NewPaymentCallbackHandler(webhooks WebhookProcessor, logger *zap.Logger) *PaymentCallbackHandler {
	return &PaymentCallbackHandler{
		webhooks: webhooks,
		logger:   logger,
	}
}

// Callback handles POST /webhooks/:gateway/:tenant.
// Every delivery that took or needs no effect is acknowledged with 200 so the
// provider stops retrying.
func (h *PaymentCallbackHandler) Callback(c echo.Context) error {
	gw, ok := models.ParseGatewayType(c.Param("gateway"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"status": "unknown gateway"})
	}
	tenant := c.Param("tenant")

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
	if err != nil || len(body) > maxWebhookBody {
		return c.JSON(http.StatusBadRequest, map[string]string{"status": "invalid body"})
	}

	var signature string
	if header := payment.SignatureHeader(gw); header != "" {
		signature = c.Request().Header.Get(header)
	}

	log := h.logger.With(zap.String("gateway", string(gw)), zap.String("tenant_id", tenant))
	res, err := h.webhooks.Handle(c.Request().Context(), tenant, gw, body, signature)
	switch {
	case errors.Is(err, webhook.ErrWebhookVerification):
		return c.JSON(http.StatusUnauthorized, map[string]string{"status": "unauthorized"})
	case errors.Is(err, payment.ErrMalformedPayload):
		log.Warn("Malformed webhook payload", zap.Error(err))
		return c.JSON(http.StatusBadRequest, map[string]string{"status": "malformed payload"})
	case err != nil:
		log.Error("Webhook processing failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"status": "error"})
	}

	out := map[string]string{"status": "ok"}
	if res.Duplicate {
		out["status"] = "duplicate"
	} else if res.Outcome != "" {
		out["outcome"] = string(res.Outcome)
	}
	return c.JSON(http.StatusOK, out)
}
