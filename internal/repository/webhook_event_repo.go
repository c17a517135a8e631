package repository

import (
	"context"

	"gorm.io/gorm"

	"paygate/internal/models"
)

// WebhookEventRepository stores verified webhook deliveries.
type WebhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

func (r *WebhookEventRepository) Create(ctx context.Context, event *models.WebhookEvent) error {
	return translate(r.db.WithContext(ctx).Create(event).Error)
}

// HasProcessed only counts events that were applied or found stale. Unknown
// references and ignored statuses may be delivered again and take effect.
func (r *WebhookEventRepository) HasProcessed(ctx context.Context, gateway models.GatewayType, reference, payloadHash string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("gateway_type = ? AND provider_reference = ? AND payload_hash = ? AND outcome IN ?",
			gateway, reference, payloadHash, []models.WebhookOutcome{models.WebhookApplied, models.WebhookStale}).
		Count(&count).Error
	return count > 0, err
}
