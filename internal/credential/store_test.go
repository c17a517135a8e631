package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"paygate/internal/models"
	"paygate/internal/payment"
	"paygate/internal/repository"
)

type countingRepo struct {
	repository.GatewayConfigStore
	calls int
	err   error
}

func (r *countingRepo) ListByTenant(ctx context.Context, tenantID string) ([]models.TenantGatewayConfig, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.GatewayConfigStore.ListByTenant(ctx, tenantID)
}

func seed(t *testing.T) (*countingRepo, *Store) {
	t.Helper()
	mem := repository.NewMemoryStore().Configs()
	cfg := &models.TenantGatewayConfig{
		TenantID:    "tenant-a",
		GatewayType: models.GatewayMidtrans,
		Environment: models.EnvSandbox,
		Credentials: datatypes.JSONMap{"server_key": "key-v1"},
		Priority:    1,
		IsActive:    true,
	}
	cfg.SetMethods([]models.PaymentMethod{models.MethodQRIS})
	require.NoError(t, mem.Upsert(context.Background(), cfg))

	repo := &countingRepo{GatewayConfigStore: mem}
	return repo, NewStore(repo, 16, time.Minute, nil)
}

func TestStore_CachesConfigs(t *testing.T) {
	repo, store := seed(t)
	ctx := context.Background()

	_, err := store.Configs(ctx, "tenant-a")
	require.NoError(t, err)
	_, err = store.Configs(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.calls)

	store.Invalidate("tenant-a")
	_, err = store.Configs(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls)
}

func midtransCredentials(t *testing.T, store *Store) payment.Credentials {
	t.Helper()
	cfg, err := store.Config(context.Background(), "tenant-a", models.GatewayMidtrans)
	require.NoError(t, err)
	return Snapshot(cfg)
}

func TestStore_SnapshotsAreIsolated(t *testing.T) {
	_, store := seed(t)
	ctx := context.Background()

	creds := midtransCredentials(t, store)

	cfg, err := store.Config(ctx, "tenant-a", models.GatewayMidtrans)
	require.NoError(t, err)
	cfg.Credentials["server_key"] = "mutated"

	again := midtransCredentials(t, store)
	assert.Equal(t, "key-v1", again.Get("server_key"))
	assert.Equal(t, "key-v1", creds.Get("server_key"))
}

func TestStore_SaveRotatesWithoutTouchingSnapshots(t *testing.T) {
	_, store := seed(t)
	ctx := context.Background()

	before := midtransCredentials(t, store)

	require.NoError(t, store.Save(ctx, &models.TenantGatewayConfig{
		TenantID:    "tenant-a",
		GatewayType: models.GatewayMidtrans,
		Environment: models.EnvProduction,
		Credentials: datatypes.JSONMap{"server_key": "key-v2"},
		IsActive:    true,
	}))

	after := midtransCredentials(t, store)
	assert.Equal(t, "key-v1", before.Get("server_key"))
	assert.Equal(t, "key-v2", after.Get("server_key"))
	assert.Equal(t, models.EnvProduction, after.Environment)
}

func TestStore_Errors(t *testing.T) {
	repo, store := seed(t)
	ctx := context.Background()

	_, err := store.Config(ctx, "tenant-a", models.GatewayXendit)
	assert.ErrorIs(t, err, ErrNotConfigured)

	repo.err = errors.New("db down")
	_, err = store.Configs(ctx, "tenant-b")
	assert.Error(t, err)
}
