package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"paygate/internal/middleware"
	"paygate/internal/models"
	"paygate/internal/orchestrator"
)

// PaymentService is the part of the orchestrator the payment API uses.
type PaymentService interface {
	CreatePayment(ctx context.Context, tenantID string, req models.CreatePaymentRequest) (*models.PaymentIntent, error)
	GetPayment(ctx context.Context, tenantID, intentID string) (*models.PaymentIntent, error)
}

// PaymentHandler serves payment create and read.
type PaymentHandler struct {
	payments PaymentService
	logger   *zap.Logger
}

func NewPaymentHandler(payments PaymentService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, logger: logger}
}

// Create handles POST /api/payments. An Idempotency-Key header is used when
// the body carries none.
func (h *PaymentHandler) Create(c echo.Context) error {
	var req models.CreatePaymentRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid request body", nil)
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.Request().Header.Get("Idempotency-Key")
	}
	if err := c.Validate(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, validationMessage(err), nil)
	}
	if !req.Amount.IsPositive() {
		return errorResponse(c, http.StatusBadRequest, "Invalid request: amount must be positive", nil)
	}

	tenant := middleware.TenantID(c)
	intent, err := h.payments.CreatePayment(c.Request().Context(), tenant, req)
	if err != nil {
		var obj interface{}
		var exhausted *orchestrator.AllGatewaysExhaustedError
		if errors.As(err, &exhausted) {
			out := map[string]interface{}{"attempts": exhausted.Attempts}
			if intent != nil {
				out["payment"] = models.NewPaymentView(intent)
			}
			obj = out
		}
		return writeError(c, h.logger.With(zap.String("tenant_id", tenant), zap.String("order_id", req.OrderID)), err, obj)
	}

	return successResponse(c, "Payment "+string(intent.Status), models.NewPaymentView(intent))
}

// Get handles GET /api/payments/:id.
func (h *PaymentHandler) Get(c echo.Context) error {
	tenant := middleware.TenantID(c)
	intent, err := h.payments.GetPayment(c.Request().Context(), tenant, c.Param("id"))
	if err != nil {
		return writeError(c, h.logger.With(zap.String("tenant_id", tenant)), err, nil)
	}
	return successResponse(c, "Successful", models.NewPaymentView(intent))
}
