// Package webhook applies verified provider callbacks to payment intents.
package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"paygate/internal/gateway"
	"paygate/internal/lock"
	"paygate/internal/models"
	"paygate/internal/notify"
	"paygate/internal/repository"
)

// ErrWebhookVerification is returned for every delivery that fails
// authentication, whatever the reason.
var ErrWebhookVerification = errors.New("webhook verification failed")

// AdapterSource binds a tenant's adapter for one gateway.
type AdapterSource interface {
	Adapter(ctx context.Context, tenantID string, gatewayType models.GatewayType) (gateway.Candidate, error)
}

// Result describes what a delivery did.
type Result struct {
	Outcome   models.WebhookOutcome
	IntentID  string
	Status    models.Status
	Duplicate bool
}

// Reconciler verifies, deduplicates and applies provider webhooks.
type Reconciler struct {
	gateways AdapterSource
	intents  repository.PaymentIntentStore
	events   repository.WebhookEventStore
	locker   lock.Locker
	deduper  Deduper
	notifier notify.Notifier
	policy   models.ConfirmationFailurePolicy
	logger   *zap.Logger
	now      func() time.Time
}

func NewReconciler(
	gateways AdapterSource,
	intents repository.PaymentIntentStore,
	events repository.WebhookEventStore,
	locker lock.Locker,
	deduper Deduper,
	notifier notify.Notifier,
	policy models.ConfirmationFailurePolicy,
	logger *zap.Logger,
) *Reconciler {
	if deduper == nil {
		deduper = NewDeduper(nil, 0)
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if policy == "" {
		policy = models.PolicyReopen
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		gateways: gateways,
		intents:  intents,
		events:   events,
		locker:   locker,
		deduper:  deduper,
		notifier: notifier,
		policy:   policy,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle processes one delivery for the tenant's gateway. Duplicates, stale
// transitions and unknown references are acknowledged without error.
func (r *Reconciler) Handle(ctx context.Context, tenantID string, gatewayType models.GatewayType, rawPayload []byte, signature string) (*Result, error) {
	log := r.logger.With(zap.String("tenant_id", tenantID), zap.String("gateway", string(gatewayType)))

	c, err := r.gateways.Adapter(ctx, tenantID, gatewayType)
	if err != nil {
		log.Warn("Webhook for unbound gateway rejected", zap.Error(err))
		return nil, ErrWebhookVerification
	}
	if !c.Adapter.VerifyWebhook(rawPayload, signature, c.Credentials) {
		log.Warn("Webhook signature rejected")
		return nil, ErrWebhookVerification
	}

	normalized, err := c.Adapter.NormalizeWebhook(rawPayload)
	if err != nil {
		return nil, fmt.Errorf("normalize %s webhook: %w", gatewayType, err)
	}
	log = log.With(zap.String("reference", normalized.ProviderReference), zap.String("raw_status", normalized.RawStatus))

	event := &models.WebhookEvent{
		TenantID:          tenantID,
		GatewayType:       gatewayType,
		ProviderReference: normalized.ProviderReference,
		PayloadHash:       PayloadHash(rawPayload),
		Status:            normalized.Status,
		Signature:         truncate(signature, 512),
		RawPayload:        string(rawPayload),
		Verified:          true,
		ReceivedAt:        r.now(),
	}
	dedupKey := event.DedupKey()

	if seen, err := r.deduper.Seen(ctx, dedupKey); err != nil {
		log.Warn("Webhook dedup lookup failed", zap.Error(err))
	} else if seen {
		log.Debug("Duplicate webhook acknowledged")
		return &Result{Duplicate: true}, nil
	}

	intent, err := r.intents.FindByProviderReference(ctx, gatewayType, normalized.ProviderReference)
	if err == nil && intent.TenantID != tenantID {
		log.Warn("Webhook reference belongs to another tenant")
		err = repository.ErrNotFound
	}
	if errors.Is(err, repository.ErrNotFound) {
		event.Outcome = models.WebhookUnknownReference
		if err := r.events.Create(ctx, event); err != nil {
			return nil, fmt.Errorf("record webhook event: %w", err)
		}
		log.Warn("Webhook for unknown reference recorded")
		return &Result{Outcome: event.Outcome}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find intent: %w", err)
	}

	unlock, err := r.locker.Lock(ctx, intent.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", intent.IdempotencyKey, err)
	}
	defer unlock()

	processed, err := r.events.HasProcessed(ctx, gatewayType, event.ProviderReference, event.PayloadHash)
	if err != nil {
		return nil, fmt.Errorf("check webhook event: %w", err)
	}
	if processed {
		r.mark(ctx, dedupKey, log)
		return &Result{IntentID: intent.ID, Duplicate: true}, nil
	}

	intent, err = r.intents.FindByID(ctx, intent.ID)
	if err != nil {
		return nil, fmt.Errorf("reload intent: %w", err)
	}
	event.IntentID = intent.ID
	log = log.With(zap.String("intent_id", intent.ID))

	if normalized.Status == "" {
		event.Outcome = models.WebhookIgnored
		if err := r.events.Create(ctx, event); err != nil {
			return nil, fmt.Errorf("record webhook event: %w", err)
		}
		log.Info("Webhook status has no canonical mapping, ignored")
		return &Result{Outcome: event.Outcome, IntentID: intent.ID, Status: intent.Status}, nil
	}

	var changed bool
	if intent.IsLiveReference(gatewayType, normalized.ProviderReference) || normalized.Status == models.StatusApproved {
		changed, err = intent.ApplyReportedStatus(normalized.Status, r.policy, r.now())
	} else {
		// A reference from an earlier round may only report captured money.
		err = &models.StaleTransitionError{From: intent.Status, To: normalized.Status}
	}
	var stale *models.StaleTransitionError
	switch {
	case errors.As(err, &stale):
		event.Outcome = models.WebhookStale
		if err := r.events.Create(ctx, event); err != nil {
			return nil, fmt.Errorf("record webhook event: %w", err)
		}
		r.mark(ctx, dedupKey, log)
		log.Warn("Stale webhook acknowledged", zap.String("from", string(stale.From)), zap.String("to", string(stale.To)))
		return &Result{Outcome: event.Outcome, IntentID: intent.ID, Status: intent.Status}, nil
	case err != nil:
		return nil, err
	}

	event.Outcome = models.WebhookApplied
	if !changed {
		if err := r.events.Create(ctx, event); err != nil {
			return nil, fmt.Errorf("record webhook event: %w", err)
		}
	} else {
		intent.ChosenGatewayType = gatewayType
		intent.ProviderReference = normalized.ProviderReference
		if err := r.intents.SaveWithEvent(ctx, intent, event); err != nil {
			return nil, fmt.Errorf("apply webhook: %w", err)
		}
		log.Info("Webhook applied", zap.String("status", string(intent.Status)))
		r.notifier.PaymentUpdated(ctx, intent.Clone())
	}
	r.mark(ctx, dedupKey, log)
	return &Result{Outcome: event.Outcome, IntentID: intent.ID, Status: intent.Status}, nil
}

func (r *Reconciler) mark(ctx context.Context, key string, log *zap.Logger) {
	if err := r.deduper.Mark(ctx, key); err != nil {
		log.Warn("Webhook dedup mark failed", zap.Error(err))
	}
}

// PayloadHash is the hex SHA-256 of a raw webhook body.
func PayloadHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
