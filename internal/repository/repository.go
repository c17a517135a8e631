package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"paygate/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict means the intent changed since it was loaded.
	ErrVersionConflict = errors.New("payment intent version conflict")
	ErrDuplicateKey    = errors.New("duplicate key")
)

// PaymentIntentStore persists payment intents and their attempts.
type PaymentIntentStore interface {
	// Create inserts a new intent. A taken idempotency key yields ErrDuplicateKey.
	Create(ctx context.Context, intent *models.PaymentIntent) error
	// Save writes the intent if its version is unchanged and appends the new
	// attempts in the same transaction. On success intent.Version is bumped.
	Save(ctx context.Context, intent *models.PaymentIntent, newAttempts ...models.PaymentAttempt) error
	// SaveWithEvent is Save plus recording the webhook event that caused it.
	SaveWithEvent(ctx context.Context, intent *models.PaymentIntent, event *models.WebhookEvent) error
	FindByID(ctx context.Context, id string) (*models.PaymentIntent, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.PaymentIntent, error)
	// FindByProviderReference locates the intent owning an attempt reference.
	FindByProviderReference(ctx context.Context, gateway models.GatewayType, reference string) (*models.PaymentIntent, error)
	// ListExpiredIDs returns open intents whose expiry has passed.
	ListExpiredIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
	// ListStaleIDs returns open intents not updated since before.
	ListStaleIDs(ctx context.Context, before time.Time, limit int) ([]string, error)
}

// WebhookEventStore records verified provider callbacks.
type WebhookEventStore interface {
	Create(ctx context.Context, event *models.WebhookEvent) error
	// HasProcessed reports whether an identical event already took effect.
	HasProcessed(ctx context.Context, gateway models.GatewayType, reference, payloadHash string) (bool, error)
}

// GatewayConfigStore reads and writes tenant gateway configuration.
type GatewayConfigStore interface {
	ListByTenant(ctx context.Context, tenantID string) ([]models.TenantGatewayConfig, error)
	Upsert(ctx context.Context, cfg *models.TenantGatewayConfig) error
}

var openStatuses = []models.Status{models.StatusPending, models.StatusProcessing}

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), isDuplicateMessage(err):
		return ErrDuplicateKey
	}
	return err
}

func isDuplicateMessage(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "duplicate key value")
}
