package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"paygate/internal/models"
)

// PaymentIntentRepository handles payment intent database operations.
type PaymentIntentRepository struct {
	db *gorm.DB
}

func NewPaymentIntentRepository(db *gorm.DB) *PaymentIntentRepository {
	return &PaymentIntentRepository{db: db}
}

// Create inserts the intent row only; attempts are written by Save.
func (r *PaymentIntentRepository) Create(ctx context.Context, intent *models.PaymentIntent) error {
	return translate(r.db.WithContext(ctx).Omit(clause.Associations).Create(intent).Error)
}

func (r *PaymentIntentRepository) Save(ctx context.Context, intent *models.PaymentIntent, newAttempts ...models.PaymentAttempt) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return saveIntent(tx, intent, newAttempts)
	})
	if err != nil {
		return translate(err)
	}
	intent.Version++
	return nil
}

func (r *PaymentIntentRepository) SaveWithEvent(ctx context.Context, intent *models.PaymentIntent, event *models.WebhookEvent) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := saveIntent(tx, intent, nil); err != nil {
			return err
		}
		return tx.Create(event).Error
	})
	if err != nil {
		return translate(err)
	}
	intent.Version++
	return nil
}

// saveIntent performs the version-checked update. The caller bumps
// intent.Version once the transaction commits.
func saveIntent(tx *gorm.DB, intent *models.PaymentIntent, attempts []models.PaymentAttempt) error {
	res := tx.Model(&models.PaymentIntent{}).
		Where("id = ? AND version = ?", intent.ID, intent.Version).
		Updates(map[string]interface{}{
			"status":              intent.Status,
			"chosen_gateway_type": intent.ChosenGatewayType,
			"provider_reference":  intent.ProviderReference,
			"provider_payload":    intent.ProviderPayload,
			"expires_at":          intent.ExpiresAt,
			"round":               intent.Round,
			"version":             intent.Version + 1,
			"updated_at":          intent.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}

	if len(attempts) == 0 {
		return nil
	}
	rows := make([]models.PaymentAttempt, len(attempts))
	for i, a := range attempts {
		a.ID = 0
		a.IntentID = intent.ID
		rows[i] = a
	}
	return tx.Create(&rows).Error
}

func (r *PaymentIntentRepository) FindByID(ctx context.Context, id string) (*models.PaymentIntent, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *PaymentIntentRepository) FindByIdempotencyKey(ctx context.Context, key string) (*models.PaymentIntent, error) {
	return r.findOne(ctx, "idempotency_key = ?", key)
}

func (r *PaymentIntentRepository) FindByProviderReference(ctx context.Context, gateway models.GatewayType, reference string) (*models.PaymentIntent, error) {
	var attempt models.PaymentAttempt
	err := r.db.WithContext(ctx).
		Where("gateway_type = ? AND provider_reference = ?", gateway, reference).
		Order("id DESC").
		First(&attempt).Error
	if err != nil {
		return nil, translate(err)
	}
	return r.FindByID(ctx, attempt.IntentID)
}

func (r *PaymentIntentRepository) findOne(ctx context.Context, query string, args ...interface{}) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).
		Preload("Attempts", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC")
		}).
		Where(query, args...).
		First(&intent).Error
	if err != nil {
		return nil, translate(err)
	}
	return &intent, nil
}

func (r *PaymentIntentRepository) ListExpiredIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	q := r.db.WithContext(ctx).Model(&models.PaymentIntent{}).
		Where("status IN ? AND expires_at IS NOT NULL AND expires_at <= ?", openStatuses, now).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Pluck("id", &ids).Error
	return ids, err
}

func (r *PaymentIntentRepository) ListStaleIDs(ctx context.Context, before time.Time, limit int) ([]string, error) {
	var ids []string
	q := r.db.WithContext(ctx).Model(&models.PaymentIntent{}).
		Where("status IN ? AND updated_at < ?", openStatuses, before).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Pluck("id", &ids).Error
	return ids, err
}
