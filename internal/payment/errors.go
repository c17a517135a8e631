package payment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"paygate/internal/models"
)

var (
	// ErrUnmappedStatus is returned by GetStatus for provider statuses with no
	// canonical meaning (refunds, chargebacks).
	ErrUnmappedStatus = errors.New("provider status has no canonical mapping")
	// ErrMalformedPayload is returned when a webhook body cannot be parsed.
	ErrMalformedPayload = errors.New("malformed provider payload")
)

// UnsupportedGatewayError is returned for gateway types outside the closed set
// or not active for the tenant.
type UnsupportedGatewayError struct {
	Gateway string
}

func (e *UnsupportedGatewayError) Error() string {
	return fmt.Sprintf("unsupported gateway type: %s", e.Gateway)
}

// IncompleteCredentialsError lists credential keys a gateway requires but lacks.
type IncompleteCredentialsError struct {
	Gateway models.GatewayType
	Missing []string
}

func (e *IncompleteCredentialsError) Error() string {
	return fmt.Sprintf("%s credentials missing: %s", e.Gateway, strings.Join(e.Missing, ", "))
}

// ProviderUnavailableError marks infrastructure-level failures that make the
// orchestrator fall back to the next gateway.
type ProviderUnavailableError struct {
	Gateway    models.GatewayType
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *ProviderUnavailableError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s unavailable: timeout: %v", e.Gateway, e.Err)
	case e.StatusCode > 0:
		return fmt.Sprintf("%s unavailable (status %d): %v", e.Gateway, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s unavailable: %v", e.Gateway, e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error {
	return e.Err
}

func unavailable(gateway models.GatewayType, statusCode int, err error) *ProviderUnavailableError {
	return &ProviderUnavailableError{
		Gateway:    gateway,
		StatusCode: statusCode,
		Timeout:    isTimeout(err),
		Err:        err,
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isDecline reports HTTP statuses that mean the provider definitively refused
// the payment rather than failed to process it.
func isDecline(statusCode int) bool {
	switch statusCode {
	case http.StatusBadRequest, http.StatusPaymentRequired, http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
