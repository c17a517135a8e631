package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"paygate/internal/models"
)

var (
	// ErrPaymentNotFound is returned when an intent does not exist for the tenant.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrInvalidRequest is returned for requests the orchestrator cannot accept.
	ErrInvalidRequest = errors.New("invalid payment request")
)

// AttemptFailure is one failed gateway call of an exhausted round.
type AttemptFailure struct {
	Gateway models.GatewayType    `json:"gateway_type"`
	Outcome models.AttemptOutcome `json:"outcome"`
	Reason  string                `json:"reason"`
}

// AllGatewaysExhaustedError is returned when every candidate of a round failed.
type AllGatewaysExhaustedError struct {
	IntentID string
	Attempts []AttemptFailure
}

func (e *AllGatewaysExhaustedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %s (%s)", a.Gateway, a.Outcome, a.Reason)
	}
	return fmt.Sprintf("all gateways exhausted for intent %s: %s", e.IntentID, strings.Join(parts, "; "))
}

// IdempotencyConflictError is returned when a replay differs from the
// request that created the intent.
type IdempotencyConflictError struct {
	Key   string
	Field string
}

func (e *IdempotencyConflictError) Error() string {
	return fmt.Sprintf("idempotency key %s already used with a different %s", e.Key, e.Field)
}
