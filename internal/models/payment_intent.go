package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PaymentIntent maps to the `payment_intents` table.
// One row per idempotency key; mutated only through version-checked saves.
type PaymentIntent struct {
	ID                string            `gorm:"column:id;primaryKey;size:36" json:"id"`
	TenantID          string            `gorm:"column:tenant_id;size:64;not null;index" json:"tenant_id"`
	OrderID           string            `gorm:"column:order_id;size:128;not null" json:"order_id"`
	Amount            decimal.Decimal   `gorm:"column:amount;type:decimal(20,4);not null" json:"amount"`
	Currency          string            `gorm:"column:currency;size:3;not null" json:"currency"`
	Method            PaymentMethod     `gorm:"column:method;size:32;not null" json:"method"`
	Description       string            `gorm:"column:description;size:255" json:"description,omitempty"`
	Status            Status            `gorm:"column:status;size:16;not null;index" json:"status"`
	ChosenGatewayType GatewayType       `gorm:"column:chosen_gateway_type;size:32" json:"chosen_gateway_type,omitempty"`
	ProviderReference string            `gorm:"column:provider_reference;size:128" json:"provider_reference,omitempty"`
	ProviderPayload   datatypes.JSONMap `gorm:"column:provider_payload" json:"provider_payload,omitempty"`
	IdempotencyKey    string            `gorm:"column:idempotency_key;size:255;not null;uniqueIndex" json:"idempotency_key"`
	ExpirationMinutes int               `gorm:"column:expiration_minutes" json:"expiration_minutes"`
	ExpiresAt         *time.Time        `gorm:"column:expires_at;index" json:"expires_at,omitempty"`
	Round             int               `gorm:"column:round;not null;default:1" json:"round"`
	Version           int               `gorm:"column:version;not null;default:0" json:"-"`
	Attempts          []PaymentAttempt  `gorm:"foreignKey:IntentID;references:ID" json:"attempts"`
	CreatedAt         time.Time         `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;index" json:"updated_at"`
}

func (PaymentIntent) TableName() string {
	return "payment_intents"
}

// PaymentAttempt maps to the `payment_attempts` table. Rows are append-only.
type PaymentAttempt struct {
	ID                    uint           `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	IntentID              string         `gorm:"column:intent_id;size:36;not null;index" json:"-"`
	Sequence              int            `gorm:"column:sequence;not null" json:"sequence"`
	Round                 int            `gorm:"column:round;not null" json:"round"`
	GatewayType           GatewayType    `gorm:"column:gateway_type;size:32;not null;index:idx_attempt_reference" json:"gateway_type"`
	ProviderReference     string         `gorm:"column:provider_reference;size:128;index:idx_attempt_reference" json:"provider_reference,omitempty"`
	Outcome               AttemptOutcome `gorm:"column:outcome;size:32;not null" json:"outcome"`
	Status                Status         `gorm:"column:status;size:16" json:"status,omitempty"`
	Error                 string         `gorm:"column:error;size:1000" json:"error,omitempty"`
	RawNormalizedResponse datatypes.JSON `gorm:"column:raw_normalized_response" json:"raw_normalized_response,omitempty"`
	RequestedAt           time.Time      `gorm:"column:requested_at;not null" json:"requested_at"`
}

func (PaymentAttempt) TableName() string {
	return "payment_attempts"
}

// ApplyProviderStatus moves the intent to a provider-reported status,
// rejecting regressions with a StaleTransitionError.
func (p *PaymentIntent) ApplyProviderStatus(next Status, now time.Time) error {
	if !CanApplyProviderStatus(p.Status, next) {
		return &StaleTransitionError{From: p.Status, To: next}
	}
	p.Status = next
	p.UpdatedAt = now
	return nil
}

// RoundAttempts returns the attempts made in the current round.
func (p *PaymentIntent) RoundAttempts() []PaymentAttempt {
	var out []PaymentAttempt
	for _, a := range p.Attempts {
		if a.Round == p.Round {
			out = append(out, a)
		}
	}
	return out
}

// AcceptedAttempt returns the latest attempt of the current round a provider
// accepted, or nil.
func (p *PaymentIntent) AcceptedAttempt() *PaymentAttempt {
	for i := len(p.Attempts) - 1; i >= 0; i-- {
		a := p.Attempts[i]
		if a.Round == p.Round && a.Outcome == OutcomeSuccess && a.ProviderReference != "" {
			return &p.Attempts[i]
		}
	}
	return nil
}

// IsLiveReference reports whether the provider reference belongs to the
// current round, either as the chosen reference or an accepted attempt.
func (p *PaymentIntent) IsLiveReference(gateway GatewayType, reference string) bool {
	if reference == "" {
		return false
	}
	if p.ChosenGatewayType == gateway && p.ProviderReference == reference {
		return true
	}
	for _, a := range p.RoundAttempts() {
		if a.Outcome == OutcomeSuccess && a.GatewayType == gateway && a.ProviderReference == reference {
			return true
		}
	}
	return false
}

// StartRound opens a new round, dropping the previous round's provider
// reference, payload and expiry.
func (p *PaymentIntent) StartRound() {
	p.Round++
	p.ChosenGatewayType = ""
	p.ProviderReference = ""
	p.ProviderPayload = nil
	p.ExpiresAt = nil
}

// NextSequence returns the sequence number for the next attempt.
func (p *PaymentIntent) NextSequence() int {
	next := 1
	for _, a := range p.Attempts {
		if a.Sequence >= next {
			next = a.Sequence + 1
		}
	}
	return next
}

// Clone returns a deep copy of the intent and its attempts.
func (p *PaymentIntent) Clone() *PaymentIntent {
	cp := *p
	if p.ProviderPayload != nil {
		cp.ProviderPayload = make(datatypes.JSONMap, len(p.ProviderPayload))
		for k, v := range p.ProviderPayload {
			cp.ProviderPayload[k] = v
		}
	}
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		cp.ExpiresAt = &t
	}
	if p.Attempts != nil {
		cp.Attempts = make([]PaymentAttempt, len(p.Attempts))
		for i, a := range p.Attempts {
			a.RawNormalizedResponse = append(datatypes.JSON(nil), a.RawNormalizedResponse...)
			cp.Attempts[i] = a
		}
	}
	return &cp
}

// ApplyReportedStatus applies a status a provider reported for the intent,
// mapping confirmation failures through the policy. It reports false when the
// status is unchanged. A pending intent without an expiry gets one.
func (p *PaymentIntent) ApplyReportedStatus(reported Status, policy ConfirmationFailurePolicy, now time.Time) (bool, error) {
	next := reported
	if p.Status.IsOpen() {
		next = policy.Resolve(reported)
	}
	if next == p.Status {
		return false, nil
	}
	if err := p.ApplyProviderStatus(next, now); err != nil {
		return false, err
	}
	if next == StatusPending && p.ExpiresAt == nil && p.ExpirationMinutes > 0 {
		expiresAt := now.Add(time.Duration(p.ExpirationMinutes) * time.Minute)
		p.ExpiresAt = &expiresAt
	}
	return true, nil
}
