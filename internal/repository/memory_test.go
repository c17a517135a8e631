package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paygate/internal/models"
)

func newIntent(id, key string) *models.PaymentIntent {
	return &models.PaymentIntent{
		ID:             id,
		TenantID:       "tenant-a",
		OrderID:        "ord-" + id,
		Amount:         decimal.NewFromInt(1000),
		Currency:       "IDR",
		Method:         models.MethodQRIS,
		Status:         models.StatusPending,
		IdempotencyKey: key,
		Round:          1,
	}
}

func TestMemoryIntents_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	repo := store.Intents()

	intent := newIntent("i-1", "tenant-a:ord-1")
	require.NoError(t, repo.Create(ctx, intent))
	assert.ErrorIs(t, repo.Create(ctx, newIntent("i-2", "tenant-a:ord-1")), ErrDuplicateKey)

	got, err := repo.FindByIdempotencyKey(ctx, "tenant-a:ord-1")
	require.NoError(t, err)
	assert.Equal(t, "i-1", got.ID)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryIntents_SaveVersionCheck(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore().Intents()

	intent := newIntent("i-1", "k-1")
	require.NoError(t, repo.Create(ctx, intent))

	stale, err := repo.FindByID(ctx, "i-1")
	require.NoError(t, err)

	intent.Status = models.StatusProcessing
	attempt := models.PaymentAttempt{
		Sequence:          1,
		Round:             1,
		GatewayType:       models.GatewayXendit,
		ProviderReference: "pr-1",
		Outcome:           models.OutcomeSuccess,
		RequestedAt:       time.Now(),
	}
	require.NoError(t, repo.Save(ctx, intent, attempt))
	assert.Equal(t, 1, intent.Version)

	stale.Status = models.StatusDeclined
	assert.ErrorIs(t, repo.Save(ctx, stale), ErrVersionConflict)

	got, err := repo.FindByID(ctx, "i-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
	require.Len(t, got.Attempts, 1)
	assert.Equal(t, "i-1", got.Attempts[0].IntentID)

	byRef, err := repo.FindByProviderReference(ctx, models.GatewayXendit, "pr-1")
	require.NoError(t, err)
	assert.Equal(t, "i-1", byRef.ID)

	_, err = repo.FindByProviderReference(ctx, models.GatewayMidtrans, "pr-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryIntents_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore().Intents()

	require.NoError(t, repo.Create(ctx, newIntent("i-1", "k-1")))
	got, err := repo.FindByID(ctx, "i-1")
	require.NoError(t, err)
	got.Status = models.StatusApproved

	again, err := repo.FindByID(ctx, "i-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, again.Status)
}

func TestMemoryIntents_Listings(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore().Intents()
	now := time.Now()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := newIntent("due", "k-due")
	due.ExpiresAt = &past
	notDue := newIntent("later", "k-later")
	notDue.ExpiresAt = &future
	done := newIntent("done", "k-done")
	done.Status = models.StatusApproved
	done.ExpiresAt = &past

	for _, p := range []*models.PaymentIntent{due, notDue, done} {
		require.NoError(t, repo.Create(ctx, p))
	}

	ids, err := repo.ListExpiredIDs(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"due"}, ids)

	ids, err = repo.ListStaleIDs(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"due", "later"}, ids)

	ids, err = repo.ListStaleIDs(ctx, now.Add(time.Second), 1)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestMemoryEvents_HasProcessed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	events := store.Events()

	require.NoError(t, events.Create(ctx, &models.WebhookEvent{
		GatewayType:       models.GatewayMidtrans,
		ProviderReference: "ref-1",
		PayloadHash:       "h1",
		Outcome:           models.WebhookUnknownReference,
	}))
	seen, err := events.HasProcessed(ctx, models.GatewayMidtrans, "ref-1", "h1")
	require.NoError(t, err)
	assert.False(t, seen)

	intents := store.Intents()
	intent := newIntent("i-1", "k-1")
	require.NoError(t, intents.Create(ctx, intent))
	intent.Status = models.StatusApproved
	require.NoError(t, intents.SaveWithEvent(ctx, intent, &models.WebhookEvent{
		GatewayType:       models.GatewayMidtrans,
		ProviderReference: "ref-1",
		PayloadHash:       "h1",
		Outcome:           models.WebhookApplied,
	}))

	seen, err = events.HasProcessed(ctx, models.GatewayMidtrans, "ref-1", "h1")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Len(t, events.List(), 2)
}

func TestMemoryConfigs_Upsert(t *testing.T) {
	ctx := context.Background()
	configs := NewMemoryStore().Configs()

	a := &models.TenantGatewayConfig{TenantID: "t", GatewayType: models.GatewayXendit, Priority: 2, IsActive: true}
	b := &models.TenantGatewayConfig{TenantID: "t", GatewayType: models.GatewayMidtrans, Priority: 2, IsActive: true}
	c := &models.TenantGatewayConfig{TenantID: "t", GatewayType: models.GatewayNOWPayments, Priority: 1, IsActive: true}
	for _, cfg := range []*models.TenantGatewayConfig{a, b, c} {
		require.NoError(t, configs.Upsert(ctx, cfg))
	}

	list, err := configs.ListByTenant(ctx, "t")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, models.GatewayNOWPayments, list[0].GatewayType)
	assert.Equal(t, models.GatewayMidtrans, list[1].GatewayType)
	assert.Equal(t, models.GatewayXendit, list[2].GatewayType)

	id := a.ID
	updated := &models.TenantGatewayConfig{TenantID: "t", GatewayType: models.GatewayXendit, Priority: 0}
	require.NoError(t, configs.Upsert(ctx, updated))
	assert.Equal(t, id, updated.ID)

	list, err = configs.ListByTenant(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, models.GatewayXendit, list[0].GatewayType)
	assert.False(t, list[0].IsActive)
}
