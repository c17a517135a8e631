// Package orchestrator drives the payment lifecycle: idempotent creation,
// gateway fallback, provider polling and expiry.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"paygate/internal/gateway"
	"paygate/internal/lock"
	"paygate/internal/models"
	"paygate/internal/notify"
	"paygate/internal/payment"
	"paygate/internal/repository"
)

// Resolver is the part of the gateway registry the orchestrator uses.
type Resolver interface {
	Resolve(ctx context.Context, tenantID string, method models.PaymentMethod, requested string) ([]gateway.Candidate, error)
	Adapter(ctx context.Context, tenantID string, gatewayType models.GatewayType) (gateway.Candidate, error)
}

// Config holds lifecycle settings.
type Config struct {
	DefaultExpirationMinutes  int
	ConfirmationFailurePolicy models.ConfirmationFailurePolicy
	// CallbackBaseURL is the public base the provider webhooks are sent to.
	CallbackBaseURL string
	// BatchSize bounds how many intents one sweep touches.
	BatchSize int
}

// Orchestrator owns every write to payment intents outside webhooks.
type Orchestrator struct {
	intents  repository.PaymentIntentStore
	gateways Resolver
	locker   lock.Locker
	notifier notify.Notifier
	cfg      Config
	logger   *zap.Logger

	now   func() time.Time
	newID func() string
}

func New(intents repository.PaymentIntentStore, gateways Resolver, locker lock.Locker, notifier notify.Notifier, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.DefaultExpirationMinutes <= 0 {
		cfg.DefaultExpirationMinutes = 1440
	}
	if cfg.ConfirmationFailurePolicy == "" {
		cfg.ConfirmationFailurePolicy = models.PolicyReopen
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		intents:  intents,
		gateways: gateways,
		locker:   locker,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// IdempotencyKey scopes the caller's key, or the order id, to the tenant.
func IdempotencyKey(tenantID string, req models.CreatePaymentRequest) string {
	if req.IdempotencyKey != "" {
		return tenantID + ":" + req.IdempotencyKey
	}
	return tenantID + ":" + req.OrderID
}

// CreatePayment creates or replays the intent for the request's idempotency
// key. Concurrent duplicates are serialized on the key; once the key is held
// the work runs to completion even if ctx is cancelled, and the caller gets
// ctx.Err(). When every gateway fails the failed intent is returned together
// with an *AllGatewaysExhaustedError.
func (o *Orchestrator) CreatePayment(ctx context.Context, tenantID string, req models.CreatePaymentRequest) (*models.PaymentIntent, error) {
	if tenantID == "" || req.OrderID == "" {
		return nil, fmt.Errorf("%w: tenant and order id are required", ErrInvalidRequest)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	req.Currency = strings.ToUpper(req.Currency)

	key := IdempotencyKey(tenantID, req)
	unlock, err := o.locker.Lock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}

	type result struct {
		intent *models.PaymentIntent
		err    error
	}
	done := make(chan result, 1)
	go func() {
		defer unlock()
		intent, err := o.createLocked(context.WithoutCancel(ctx), tenantID, key, req)
		done <- result{intent, err}
	}()

	select {
	case r := <-done:
		return r.intent, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) createLocked(ctx context.Context, tenantID, key string, req models.CreatePaymentRequest) (*models.PaymentIntent, error) {
	log := o.logger.With(zap.String("tenant_id", tenantID), zap.String("idempotency_key", key))

	existing, err := o.intents.FindByIdempotencyKey(ctx, key)
	switch {
	case err == nil:
		if err := checkReplay(existing, key, req); err != nil {
			return nil, err
		}
		return o.replay(ctx, existing, req, log.With(zap.String("intent_id", existing.ID)))
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("load intent: %w", err)
	}

	candidates, err := o.gateways.Resolve(ctx, tenantID, req.PaymentMethod, req.GatewayType)
	if err != nil {
		return nil, err
	}

	now := o.now()
	expiration := req.ExpirationMinutes
	if expiration <= 0 {
		expiration = o.cfg.DefaultExpirationMinutes
	}
	intent := &models.PaymentIntent{
		ID:                o.newID(),
		TenantID:          tenantID,
		OrderID:           req.OrderID,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Method:            req.PaymentMethod,
		Description:       req.Description,
		Status:            models.StatusPending,
		IdempotencyKey:    key,
		ExpirationMinutes: expiration,
		Round:             1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := o.intents.Create(ctx, intent); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			// Another instance won the insert.
			if winner, ferr := o.intents.FindByIdempotencyKey(ctx, key); ferr == nil {
				return winner, nil
			}
		}
		return nil, fmt.Errorf("create intent: %w", err)
	}
	log = log.With(zap.String("intent_id", intent.ID))
	log.Info("Payment intent created", zap.Int("candidates", len(candidates)))

	intent.Status = models.StatusProcessing
	intent.UpdatedAt = o.now()
	if err := o.save(ctx, intent); err != nil {
		return nil, err
	}

	return o.attempt(ctx, intent, candidates, req, log)
}

func checkReplay(intent *models.PaymentIntent, key string, req models.CreatePaymentRequest) error {
	if !intent.Amount.Equal(req.Amount) {
		return &IdempotencyConflictError{Key: key, Field: "amount"}
	}
	if !strings.EqualFold(intent.Currency, req.Currency) {
		return &IdempotencyConflictError{Key: key, Field: "currency"}
	}
	return nil
}

// replay answers a request whose key already has an intent.
func (o *Orchestrator) replay(ctx context.Context, intent *models.PaymentIntent, req models.CreatePaymentRequest, log *zap.Logger) (*models.PaymentIntent, error) {
	switch intent.Status {
	case models.StatusApproved, models.StatusDeclined, models.StatusExpired:
		return intent, nil

	case models.StatusPending:
		if intent.ProviderReference != "" {
			return intent, nil
		}
		// Created but never started: resume like a crash-left intent.

	case models.StatusProcessing:
		if accepted := intent.AcceptedAttempt(); accepted != nil {
			log.Info("Reconciling crash-left intent", zap.String("reference", accepted.ProviderReference))
			return o.pollAccepted(ctx, intent, accepted, log)
		}

	case models.StatusFailed:
		intent.StartRound()
		log.Info("Starting new round for failed intent", zap.Int("round", intent.Round))
	}

	candidates, err := o.gateways.Resolve(ctx, intent.TenantID, intent.Method, req.GatewayType)
	if err != nil {
		return nil, err
	}
	if intent.Status != models.StatusProcessing {
		intent.Status = models.StatusProcessing
		intent.UpdatedAt = o.now()
		if err := o.save(ctx, intent); err != nil {
			return nil, err
		}
	}
	return o.attempt(ctx, intent, candidates, req, log)
}

// pollAccepted settles a processing intent whose accepted attempt was
// recorded but whose outcome was not.
func (o *Orchestrator) pollAccepted(ctx context.Context, intent *models.PaymentIntent, accepted *models.PaymentAttempt, log *zap.Logger) (*models.PaymentIntent, error) {
	c, err := o.gateways.Adapter(ctx, intent.TenantID, accepted.GatewayType)
	if err != nil {
		return nil, err
	}
	status, err := c.Adapter.GetStatus(ctx, accepted.ProviderReference)
	if err != nil {
		log.Warn("Status poll failed, leaving intent processing", zap.Error(err))
		return intent, nil
	}
	intent.ChosenGatewayType = accepted.GatewayType
	intent.ProviderReference = accepted.ProviderReference
	if _, err := o.applyReported(ctx, intent, status, log); err != nil {
		return nil, err
	}
	return intent, nil
}

// attempt walks the candidates not yet tried in the current round.
func (o *Orchestrator) attempt(ctx context.Context, intent *models.PaymentIntent, candidates []gateway.Candidate, req models.CreatePaymentRequest, log *zap.Logger) (*models.PaymentIntent, error) {
	tried := make(map[models.GatewayType]bool)
	var failures []AttemptFailure
	for _, a := range intent.RoundAttempts() {
		tried[a.GatewayType] = true
		if a.Outcome == models.OutcomeProviderError || a.Outcome == models.OutcomeTimeout {
			failures = append(failures, AttemptFailure{Gateway: a.GatewayType, Outcome: a.Outcome, Reason: a.Error})
		}
	}

	for _, c := range candidates {
		if tried[c.Type] {
			continue
		}
		tried[c.Type] = true

		seq := intent.NextSequence()
		creq := payment.CanonicalRequest{
			IntentID:          intent.ID,
			Reference:         fmt.Sprintf("%s-%d", intent.ID, seq),
			OrderID:           intent.OrderID,
			Amount:            intent.Amount,
			Currency:          intent.Currency,
			Method:            intent.Method,
			Customer:          req.Customer,
			Description:       intent.Description,
			Metadata:          req.Metadata,
			ExpirationMinutes: intent.ExpirationMinutes,
			CallbackURL:       o.callbackURL(c.Type, intent.TenantID),
		}
		attempt := models.PaymentAttempt{
			Sequence:    seq,
			Round:       intent.Round,
			GatewayType: c.Type,
			RequestedAt: o.now(),
		}
		glog := log.With(zap.String("gateway", string(c.Type)), zap.Int("sequence", seq))

		res, err := c.Adapter.CreatePayment(ctx, creq)
		if err == nil && !acceptable(res.Status) {
			err = fmt.Errorf("%s returned unusable status %q", c.Type, res.Status)
		}
		if err != nil {
			attempt.Outcome = classify(err)
			attempt.Error = truncate(err.Error(), 1000)
			intent.Attempts = append(intent.Attempts, attempt)
			intent.UpdatedAt = o.now()
			if err := o.save(ctx, intent, attempt); err != nil {
				return nil, err
			}
			failures = append(failures, AttemptFailure{Gateway: c.Type, Outcome: attempt.Outcome, Reason: attempt.Error})
			glog.Warn("Gateway attempt failed, falling back", zap.String("outcome", string(attempt.Outcome)), zap.Error(err))
			continue
		}

		attempt.ProviderReference = res.ProviderReference
		attempt.Status = res.Status
		attempt.RawNormalizedResponse, _ = json.Marshal(res)
		if res.Status == models.StatusDeclined {
			attempt.Outcome = models.OutcomeDeclined
			attempt.Error = truncate(res.DeclineReason, 1000)
		} else {
			attempt.Outcome = models.OutcomeSuccess
		}

		now := o.now()
		intent.Attempts = append(intent.Attempts, attempt)
		intent.Status = res.Status
		intent.ChosenGatewayType = c.Type
		intent.ProviderReference = res.ProviderReference
		intent.ProviderPayload = res.Payload
		intent.UpdatedAt = now
		if res.Status == models.StatusPending {
			expiresAt := now.Add(time.Duration(intent.ExpirationMinutes) * time.Minute)
			intent.ExpiresAt = &expiresAt
		}
		if err := o.save(ctx, intent, attempt); err != nil {
			return nil, err
		}
		glog.Info("Gateway attempt settled", zap.String("status", string(res.Status)), zap.String("reference", res.ProviderReference))
		o.notifier.PaymentUpdated(ctx, intent.Clone())
		return intent, nil
	}

	intent.Status = models.StatusFailed
	intent.UpdatedAt = o.now()
	if err := o.save(ctx, intent); err != nil {
		return nil, err
	}
	log.Error("All gateways exhausted", zap.Int("round", intent.Round), zap.Int("failures", len(failures)))
	o.notifier.PaymentUpdated(ctx, intent.Clone())
	return intent, &AllGatewaysExhaustedError{IntentID: intent.ID, Attempts: failures}
}

func (o *Orchestrator) save(ctx context.Context, intent *models.PaymentIntent, attempts ...models.PaymentAttempt) error {
	if err := o.intents.Save(ctx, intent, attempts...); err != nil {
		return fmt.Errorf("persist intent %s: %w", intent.ID, err)
	}
	return nil
}

func (o *Orchestrator) callbackURL(gw models.GatewayType, tenantID string) string {
	if o.cfg.CallbackBaseURL == "" {
		return ""
	}
	return strings.TrimRight(o.cfg.CallbackBaseURL, "/") + "/webhooks/" + string(gw) + "/" + tenantID
}

func acceptable(s models.Status) bool {
	return s == models.StatusApproved || s == models.StatusPending || s == models.StatusDeclined
}

func classify(err error) models.AttemptOutcome {
	var unavailable *payment.ProviderUnavailableError
	if errors.As(err, &unavailable) && unavailable.Timeout {
		return models.OutcomeTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.OutcomeTimeout
	}
	return models.OutcomeProviderError
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
