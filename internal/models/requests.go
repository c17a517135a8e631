package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// APIResponse is the standard response envelope.
type APIResponse struct {
	Status bool        `json:"status"`
	Msg    string      `json:"msg"`
	Obj    interface{} `json:"obj"`
}

// --- Payment API Request Payloads ---

// CustomerInfo carries payer details forwarded to the provider.
type CustomerInfo struct {
	Name  string `json:"name" validate:"required,max=128"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"omitempty,max=32"`
}

// CreatePaymentRequest is the canonical inbound create-payment payload.
type CreatePaymentRequest struct {
	OrderID           string            `json:"order_id" validate:"required,max=128"`
	Amount            decimal.Decimal   `json:"amount"`
	Currency          string            `json:"currency" validate:"required,len=3"`
	PaymentMethod     PaymentMethod     `json:"payment_method" validate:"required,oneof=card bank_transfer ewallet qris crypto"`
	GatewayType       string            `json:"gateway_type,omitempty" validate:"omitempty,max=32"`
	Customer          CustomerInfo      `json:"customer"`
	Description       string            `json:"description,omitempty" validate:"omitempty,max=255"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	ExpirationMinutes int               `json:"expiration_minutes,omitempty" validate:"omitempty,min=1,max=10080"`
	IdempotencyKey    string            `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
}

// --- Gateway configuration payloads ---

// GatewayConfigRequest is the admin write feeding the gateway registry.
type GatewayConfigRequest struct {
	GatewayType      string             `json:"gateway_type" validate:"required"`
	Environment      Environment        `json:"environment" validate:"required,oneof=sandbox production"`
	Credentials      map[string]string  `json:"credentials" validate:"required"`
	SupportedMethods []PaymentMethod    `json:"supported_methods" validate:"required,min=1,dive,oneof=card bank_transfer ewallet qris crypto"`
	Fees             map[string]float64 `json:"fees,omitempty"`
	Priority         int                `json:"priority" validate:"min=0"`
	IsActive         *bool              `json:"is_active,omitempty"`
}

// --- Responses ---

// PaymentView is what callers see of an intent.
type PaymentView struct {
	ID                string                 `json:"id"`
	OrderID           string                 `json:"order_id"`
	Status            Status                 `json:"status"`
	Amount            decimal.Decimal        `json:"amount"`
	Currency          string                 `json:"currency"`
	Method            PaymentMethod          `json:"method"`
	ChosenGatewayType GatewayType            `json:"chosen_gateway_type,omitempty"`
	ProviderReference string                 `json:"provider_reference,omitempty"`
	ProviderPayload   map[string]interface{} `json:"provider_payload,omitempty"`
	ExpiresAt         string                 `json:"expires_at,omitempty"`
	Attempts          []AttemptView          `json:"attempts"`
}

// AttemptView summarizes one recorded attempt.
type AttemptView struct {
	Sequence          int            `json:"sequence"`
	GatewayType       GatewayType    `json:"gateway_type"`
	Outcome           AttemptOutcome `json:"outcome"`
	Status            Status         `json:"status,omitempty"`
	ProviderReference string         `json:"provider_reference,omitempty"`
	Error             string         `json:"error,omitempty"`
	RequestedAt       string         `json:"requested_at"`
}

// NewPaymentView builds the caller-facing view of an intent.
func NewPaymentView(p *PaymentIntent) PaymentView {
	v := PaymentView{
		ID:                p.ID,
		OrderID:           p.OrderID,
		Status:            p.Status,
		Amount:            p.Amount,
		Currency:          p.Currency,
		Method:            p.Method,
		ChosenGatewayType: p.ChosenGatewayType,
		ProviderReference: p.ProviderReference,
		ProviderPayload:   p.ProviderPayload,
		Attempts:          make([]AttemptView, 0, len(p.Attempts)),
	}
	if p.ExpiresAt != nil {
		v.ExpiresAt = p.ExpiresAt.UTC().Format(time.RFC3339)
	}
	for _, a := range p.Attempts {
		v.Attempts = append(v.Attempts, AttemptView{
			Sequence:          a.Sequence,
			GatewayType:       a.GatewayType,
			Outcome:           a.Outcome,
			Status:            a.Status,
			ProviderReference: a.ProviderReference,
			Error:             a.Error,
			RequestedAt:       a.RequestedAt.UTC().Format(time.RFC3339),
		})
	}
	return v
}
