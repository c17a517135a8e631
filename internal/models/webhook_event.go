package models

import "time"

// WebhookOutcome records what a verified webhook did to the lifecycle.
type WebhookOutcome string

const (
	WebhookApplied          WebhookOutcome = "applied"
	WebhookStale            WebhookOutcome = "stale"
	WebhookUnknownReference WebhookOutcome = "unknown_reference"
	WebhookIgnored          WebhookOutcome = "ignored"
)

// WebhookEvent maps to the `webhook_events` table.
// Only verified events are stored; unknown references stay here for manual inspection.
type WebhookEvent struct {
	ID                uint           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	TenantID          string         `gorm:"column:tenant_id;size:64;not null" json:"tenant_id"`
	GatewayType       GatewayType    `gorm:"column:gateway_type;size:32;not null;index:idx_webhook_dedup" json:"gateway_type"`
	ProviderReference string         `gorm:"column:provider_reference;size:128;index:idx_webhook_dedup" json:"provider_reference"`
	PayloadHash       string         `gorm:"column:payload_hash;size:64;not null;index:idx_webhook_dedup" json:"payload_hash"`
	IntentID          string         `gorm:"column:intent_id;size:36" json:"intent_id,omitempty"`
	Status            Status         `gorm:"column:status;size:16" json:"status,omitempty"`
	Outcome           WebhookOutcome `gorm:"column:outcome;size:32;not null" json:"outcome"`
	Signature         string         `gorm:"column:signature;size:512" json:"-"`
	RawPayload        string         `gorm:"column:raw_payload;type:text" json:"raw_payload"`
	Verified          bool           `gorm:"column:verified;not null" json:"verified"`
	ReceivedAt        time.Time      `gorm:"column:received_at;not null" json:"received_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}

// DedupKey identifies an event for at-most-once processing.
func (e *WebhookEvent) DedupKey() string {
	return string(e.GatewayType) + ":" + e.ProviderReference + ":" + e.PayloadHash
}

// Counts reports whether the event already had its effect on the intent.
func (o WebhookOutcome) Counts() bool {
	return o == WebhookApplied || o == WebhookStale
}
