package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"paygate/internal/credential"
	"paygate/internal/models"
	"paygate/internal/payment"
	"paygate/internal/repository"
)

func config(gw models.GatewayType, priority int, active bool, creds map[string]interface{}, methods ...models.PaymentMethod) *models.TenantGatewayConfig {
	cfg := &models.TenantGatewayConfig{
		TenantID:    "tenant-a",
		GatewayType: gw,
		Environment: models.EnvSandbox,
		Credentials: datatypes.JSONMap(creds),
		Priority:    priority,
		IsActive:    active,
	}
	cfg.SetMethods(methods)
	return cfg
}

var (
	midtransKeys    = map[string]interface{}{"server_key": "sk"}
	xenditKeys      = map[string]interface{}{"secret_key": "xs", "callback_token": "cb"}
	nowPaymentsKeys = map[string]interface{}{"api_key": "ak", "ipn_secret": "is"}
)

func newRegistry(t *testing.T, maxAttempts int, configs ...*models.TenantGatewayConfig) *Registry {
	t.Helper()
	mem := repository.NewMemoryStore().Configs()
	for _, cfg := range configs {
		require.NoError(t, mem.Upsert(context.Background(), cfg))
	}
	store := credential.NewStore(mem, 16, 0, nil)
	return NewRegistry(store, OptionsFactory(nil), maxAttempts, nil)
}

func types(candidates []Candidate) []models.GatewayType {
	out := make([]models.GatewayType, len(candidates))
	for i, c := range candidates {
		out[i] = c.Type
	}
	return out
}

func TestRegistry_ResolveOrdering(t *testing.T) {
	reg := newRegistry(t, 0,
		config(models.GatewayXendit, 2, true, xenditKeys, models.MethodQRIS),
		config(models.GatewayMidtrans, 2, true, midtransKeys, models.MethodQRIS),
		config(models.GatewayNOWPayments, 1, true, nowPaymentsKeys, models.MethodQRIS, models.MethodCrypto),
	)

	candidates, err := reg.Resolve(context.Background(), "tenant-a", models.MethodQRIS, "")
	require.NoError(t, err)
	assert.Equal(t, []models.GatewayType{models.GatewayNOWPayments, models.GatewayMidtrans, models.GatewayXendit}, types(candidates))
	assert.Equal(t, "sk", candidates[1].Credentials.Get("server_key"))
	assert.Equal(t, models.GatewayMidtrans, candidates[1].Adapter.Type())
}

func TestRegistry_ResolveFilters(t *testing.T) {
	reg := newRegistry(t, 0,
		config(models.GatewayXendit, 1, false, xenditKeys, models.MethodQRIS),
		config(models.GatewayMidtrans, 2, true, midtransKeys, models.MethodCard),
		config(models.GatewayNOWPayments, 3, true, map[string]interface{}{"api_key": "ak"}, models.MethodQRIS),
	)

	_, err := reg.Resolve(context.Background(), "tenant-a", models.MethodQRIS, "")
	var none *NoGatewayConfiguredError
	require.ErrorAs(t, err, &none)
	assert.Equal(t, models.MethodQRIS, none.Method)
	assert.True(t, IsClientError(err))

	candidates, err := reg.Resolve(context.Background(), "tenant-a", models.MethodCard, "")
	require.NoError(t, err)
	assert.Equal(t, []models.GatewayType{models.GatewayMidtrans}, types(candidates))
}

func TestRegistry_ResolveRequested(t *testing.T) {
	reg := newRegistry(t, 0,
		config(models.GatewayXendit, 1, false, xenditKeys, models.MethodQRIS),
		config(models.GatewayMidtrans, 2, true, midtransKeys, models.MethodQRIS),
	)
	ctx := context.Background()

	candidates, err := reg.Resolve(ctx, "tenant-a", models.MethodQRIS, "midtrans")
	require.NoError(t, err)
	assert.Equal(t, []models.GatewayType{models.GatewayMidtrans}, types(candidates))

	var unsupported *payment.UnsupportedGatewayError
	_, err = reg.Resolve(ctx, "tenant-a", models.MethodQRIS, "xendit")
	require.ErrorAs(t, err, &unsupported)

	_, err = reg.Resolve(ctx, "tenant-a", models.MethodQRIS, "nowpayments")
	require.ErrorAs(t, err, &unsupported)

	_, err = reg.Resolve(ctx, "tenant-a", models.MethodQRIS, "paypal")
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "paypal", unsupported.Gateway)
}

func TestRegistry_MaxAttempts(t *testing.T) {
	reg := newRegistry(t, 2,
		config(models.GatewayXendit, 1, true, xenditKeys, models.MethodQRIS),
		config(models.GatewayMidtrans, 2, true, midtransKeys, models.MethodQRIS),
		config(models.GatewayNOWPayments, 3, true, nowPaymentsKeys, models.MethodQRIS),
	)

	candidates, err := reg.Resolve(context.Background(), "tenant-a", models.MethodQRIS, "")
	require.NoError(t, err)
	assert.Equal(t, []models.GatewayType{models.GatewayXendit, models.GatewayMidtrans}, types(candidates))
}

func TestRegistry_Adapter(t *testing.T) {
	reg := newRegistry(t, 0,
		config(models.GatewayXendit, 1, false, xenditKeys, models.MethodQRIS),
	)
	ctx := context.Background()

	c, err := reg.Adapter(ctx, "tenant-a", models.GatewayXendit)
	require.NoError(t, err)
	assert.Equal(t, "cb", c.Credentials.Get("callback_token"))

	_, err = reg.Adapter(ctx, "tenant-a", models.GatewayMidtrans)
	assert.ErrorIs(t, err, credential.ErrNotConfigured)

	var unsupported *payment.UnsupportedGatewayError
	_, err = reg.Adapter(ctx, "tenant-a", "stripe")
	assert.ErrorAs(t, err, &unsupported)
}
