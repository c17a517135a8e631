package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"paygate/internal/gateway"
	"paygate/internal/models"
	"paygate/internal/orchestrator"
	"paygate/internal/payment"
)

// Validator adapts go-playground/validator to echo.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{v: validator.New()}
}

func (cv *Validator) Validate(i interface{}) error {
	return cv.v.Struct(i)
}

func successResponse(c echo.Context, msg string, obj interface{}) error {
	return c.JSON(http.StatusOK, models.APIResponse{
		Status: true,
		Msg:    msg,
		Obj:    obj,
	})
}

func errorResponse(c echo.Context, code int, msg string, obj interface{}) error {
	return c.JSON(code, models.APIResponse{
		Status: false,
		Msg:    msg,
		Obj:    obj,
	})
}

// validationMessage flattens validator errors into "field: rule" pairs.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Namespace()+": "+fe.Tag())
	}
	return "Invalid request: " + strings.Join(parts, ", ")
}

// writeError maps core errors to HTTP responses.
func writeError(c echo.Context, logger *zap.Logger, err error, obj interface{}) error {
	var (
		unsupported *payment.UnsupportedGatewayError
		incomplete  *payment.IncompleteCredentialsError
		noGateway   *gateway.NoGatewayConfiguredError
		exhausted   *orchestrator.AllGatewaysExhaustedError
		conflict    *orchestrator.IdempotencyConflictError
	)
	switch {
	case errors.As(err, &unsupported), errors.As(err, &incomplete):
		return errorResponse(c, http.StatusBadRequest, err.Error(), nil)
	case errors.As(err, &noGateway):
		return errorResponse(c, http.StatusUnprocessableEntity, err.Error(), nil)
	case errors.As(err, &exhausted):
		return errorResponse(c, http.StatusBadGateway, "All payment gateways failed", obj)
	case errors.As(err, &conflict):
		return errorResponse(c, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		return errorResponse(c, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, orchestrator.ErrPaymentNotFound):
		return errorResponse(c, http.StatusNotFound, "Payment not found", nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errorResponse(c, http.StatusGatewayTimeout, "Request did not complete, retry with the same idempotency key", nil)
	}
	logger.Error("Request failed", zap.Error(err))
	return errorResponse(c, http.StatusInternalServerError, "Internal error", nil)
}
