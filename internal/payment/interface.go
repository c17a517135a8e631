package payment

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"paygate/internal/models"
)

// CanonicalRequest is the provider-agnostic payment request handed to an adapter.
type CanonicalRequest struct {
	IntentID string
	// Reference is the merchant-side id sent to the provider, unique per attempt.
	Reference         string
	OrderID           string
	Amount            decimal.Decimal
	Currency          string
	Method            models.PaymentMethod
	Customer          models.CustomerInfo
	Description       string
	Metadata          map[string]string
	ExpirationMinutes int
	CallbackURL       string
}

// CreateResult is the normalized outcome of a successful provider call.
// Status is approved, pending (awaiting confirmation) or declined.
type CreateResult struct {
	ProviderReference string                 `json:"provider_reference"`
	Status            models.Status          `json:"status"`
	RawStatus         string                 `json:"raw_status,omitempty"`
	DeclineReason     string                 `json:"decline_reason,omitempty"`
	Payload           map[string]interface{} `json:"payload,omitempty"`
	Raw               json.RawMessage        `json:"-"`
}

// WebhookResult is a provider callback reduced to the fields the lifecycle needs.
// Status is empty when the provider status has no canonical meaning.
type WebhookResult struct {
	ProviderReference string
	Status            models.Status
	RawStatus         string
}

// Adapter defines the capability contract every payment provider implements.
type Adapter interface {
	// Type returns the gateway identifier.
	Type() models.GatewayType

	// CreatePayment issues the outbound call. Network failures, timeouts and
	// provider infrastructure errors come back as *ProviderUnavailableError.
	CreatePayment(ctx context.Context, req CanonicalRequest) (*CreateResult, error)

	// GetStatus polls the provider for the canonical status of a reference.
	GetStatus(ctx context.Context, providerReference string) (models.Status, error)

	// VerifyWebhook checks the provider signature. Malformed input is rejected.
	VerifyWebhook(rawPayload []byte, signatureHeader string, creds Credentials) bool

	// NormalizeWebhook maps a provider callback to the canonical vocabulary.
	NormalizeWebhook(rawPayload []byte) (*WebhookResult, error)
}
