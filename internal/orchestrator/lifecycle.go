package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"paygate/internal/models"
	"paygate/internal/repository"
)

// GetPayment returns the durable record of a tenant's intent.
func (o *Orchestrator) GetPayment(ctx context.Context, tenantID, intentID string) (*models.PaymentIntent, error) {
	intent, err := o.intents.FindByID(ctx, intentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load intent: %w", err)
	}
	if intent.TenantID != tenantID {
		return nil, ErrPaymentNotFound
	}
	return intent, nil
}

// Reconcile polls the provider for one open intent and applies the result.
func (o *Orchestrator) Reconcile(ctx context.Context, intentID string) (*models.PaymentIntent, error) {
	var out *models.PaymentIntent
	err := o.withIntentLock(ctx, intentID, func(intent *models.PaymentIntent) error {
		out = intent
		_, err := o.reconcileLocked(ctx, intent)
		return err
	})
	return out, err
}

// ReconcileStale polls every open intent untouched for longer than olderThan.
// It returns how many intents changed status.
func (o *Orchestrator) ReconcileStale(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := o.intents.ListStaleIDs(ctx, o.now().Add(-olderThan), o.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale intents: %w", err)
	}

	changed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		err := o.withIntentLock(ctx, id, func(intent *models.PaymentIntent) error {
			ok, err := o.reconcileLocked(ctx, intent)
			if ok {
				changed++
			}
			return err
		})
		if err != nil {
			o.logger.Warn("Reconcile failed", zap.String("intent_id", id), zap.Error(err))
		}
	}
	return changed, nil
}

// ExpireDue closes open intents whose expiry passed. Each gets one final
// status poll; a payment the provider confirmed meanwhile is approved instead.
// It returns how many intents expired.
func (o *Orchestrator) ExpireDue(ctx context.Context) (int, error) {
	ids, err := o.intents.ListExpiredIDs(ctx, o.now(), o.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired intents: %w", err)
	}

	expired := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		err := o.withIntentLock(ctx, id, func(intent *models.PaymentIntent) error {
			status, err := o.expireLocked(ctx, intent)
			if status == models.StatusExpired {
				expired++
			}
			return err
		})
		if err != nil {
			o.logger.Warn("Expiry failed", zap.String("intent_id", id), zap.Error(err))
		}
	}
	return expired, nil
}

// withIntentLock runs fn on a fresh copy of the intent while holding its key.
func (o *Orchestrator) withIntentLock(ctx context.Context, intentID string, fn func(*models.PaymentIntent) error) error {
	intent, err := o.intents.FindByID(ctx, intentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrPaymentNotFound
		}
		return fmt.Errorf("load intent: %w", err)
	}

	unlock, err := o.locker.Lock(ctx, intent.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("lock %s: %w", intent.IdempotencyKey, err)
	}
	defer unlock()

	intent, err = o.intents.FindByID(ctx, intentID)
	if err != nil {
		return fmt.Errorf("reload intent: %w", err)
	}
	return fn(intent)
}

// pollTarget returns the gateway and reference to poll for an open intent.
func pollTarget(intent *models.PaymentIntent) (models.GatewayType, string) {
	if intent.ProviderReference != "" && intent.ChosenGatewayType != "" {
		return intent.ChosenGatewayType, intent.ProviderReference
	}
	if a := intent.AcceptedAttempt(); a != nil {
		return a.GatewayType, a.ProviderReference
	}
	return "", ""
}

func (o *Orchestrator) reconcileLocked(ctx context.Context, intent *models.PaymentIntent) (bool, error) {
	if !intent.Status.IsOpen() {
		return false, nil
	}
	gw, ref := pollTarget(intent)
	if ref == "" {
		return false, nil
	}
	log := o.logger.With(zap.String("intent_id", intent.ID), zap.String("gateway", string(gw)))

	c, err := o.gateways.Adapter(ctx, intent.TenantID, gw)
	if err != nil {
		return false, err
	}
	status, err := c.Adapter.GetStatus(ctx, ref)
	if err != nil {
		return false, fmt.Errorf("poll %s %s: %w", gw, ref, err)
	}

	intent.ChosenGatewayType = gw
	intent.ProviderReference = ref
	changed, err := o.applyReported(ctx, intent, status, log)
	if err != nil || changed {
		return changed, err
	}

	// Touch the intent so the next sweep starts with others.
	intent.UpdatedAt = o.now()
	return false, o.save(ctx, intent)
}

func (o *Orchestrator) expireLocked(ctx context.Context, intent *models.PaymentIntent) (models.Status, error) {
	now := o.now()
	if !intent.Status.IsOpen() || intent.ExpiresAt == nil || intent.ExpiresAt.After(now) {
		return intent.Status, nil
	}
	log := o.logger.With(zap.String("intent_id", intent.ID))

	if gw, ref := pollTarget(intent); ref != "" {
		c, err := o.gateways.Adapter(ctx, intent.TenantID, gw)
		if err == nil {
			var status models.Status
			status, err = c.Adapter.GetStatus(ctx, ref)
			if err == nil && (status == models.StatusApproved || status == models.StatusDeclined) {
				if _, err := o.applyReported(ctx, intent, status, log); err != nil {
					return intent.Status, err
				}
				return intent.Status, nil
			}
		}
		if err != nil {
			log.Warn("Final status poll failed, expiring anyway", zap.Error(err))
		}
	}

	if err := intent.ApplyProviderStatus(models.StatusExpired, now); err != nil {
		return intent.Status, err
	}
	if err := o.save(ctx, intent); err != nil {
		return intent.Status, err
	}
	log.Info("Payment intent expired")
	o.notifier.PaymentUpdated(ctx, intent.Clone())
	return intent.Status, nil
}

// applyReported applies a polled provider status and persists a change.
// Stale reports are logged and ignored.
func (o *Orchestrator) applyReported(ctx context.Context, intent *models.PaymentIntent, status models.Status, log *zap.Logger) (bool, error) {
	changed, err := intent.ApplyReportedStatus(status, o.cfg.ConfirmationFailurePolicy, o.now())
	if err != nil {
		var stale *models.StaleTransitionError
		if errors.As(err, &stale) {
			log.Warn("Ignoring stale provider status", zap.String("from", string(stale.From)), zap.String("to", string(stale.To)))
			return false, nil
		}
		return false, err
	}
	if !changed {
		return false, nil
	}
	if err := o.save(ctx, intent); err != nil {
		return false, err
	}
	log.Info("Applied provider status", zap.String("status", string(intent.Status)))
	o.notifier.PaymentUpdated(ctx, intent.Clone())
	return true, nil
}
