// Package gateway resolves which provider adapters may serve a tenant's payment.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"paygate/internal/credential"
	"paygate/internal/models"
	"paygate/internal/payment"
)

// NoGatewayConfiguredError means no active gateway of the tenant supports the method.
type NoGatewayConfiguredError struct {
	TenantID string
	Method   models.PaymentMethod
}

func (e *NoGatewayConfiguredError) Error() string {
	return fmt.Sprintf("no active gateway configured for tenant %s and method %s", e.TenantID, e.Method)
}

// Candidate is an adapter bound to a credentials snapshot.
type Candidate struct {
	Type        models.GatewayType
	Adapter     payment.Adapter
	Credentials payment.Credentials
	Priority    int
}

// AdapterFactory builds an adapter for a credentials snapshot.
type AdapterFactory func(creds payment.Credentials) (payment.Adapter, error)

// ConfigSource is the part of the credential store the registry reads.
type ConfigSource interface {
	Configs(ctx context.Context, tenantID string) ([]models.TenantGatewayConfig, error)
	Config(ctx context.Context, tenantID string, gateway models.GatewayType) (*models.TenantGatewayConfig, error)
}

// Registry hands out tenant-bound adapters.
type Registry struct {
	configs     ConfigSource
	factory     AdapterFactory
	maxAttempts int
	logger      *zap.Logger
}

// NewRegistry creates a registry. maxAttempts caps the fallback list; zero
// means no cap.
func NewRegistry(configs ConfigSource, factory AdapterFactory, maxAttempts int, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		configs:     configs,
		factory:     factory,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// OptionsFactory returns an AdapterFactory that uses payment.NewAdapter with
// per-gateway options.
func OptionsFactory(opts map[models.GatewayType]payment.Options) AdapterFactory {
	return func(creds payment.Credentials) (payment.Adapter, error) {
		return payment.NewAdapter(creds, opts[creds.Gateway])
	}
}

// Resolve returns the ordered candidates for a payment. With a requested
// gateway the list is that gateway alone; otherwise every active gateway that
// supports the method, by ascending priority then name.
func (r *Registry) Resolve(ctx context.Context, tenantID string, method models.PaymentMethod, requested string) ([]Candidate, error) {
	var want models.GatewayType
	if requested != "" {
		gw, ok := models.ParseGatewayType(requested)
		if !ok {
			return nil, &payment.UnsupportedGatewayError{Gateway: requested}
		}
		want = gw
	}

	configs, err := r.configs.Configs(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(configs, func(i, j int) bool {
		if configs[i].Priority == configs[j].Priority {
			return configs[i].GatewayType < configs[j].GatewayType
		}
		return configs[i].Priority < configs[j].Priority
	})

	var candidates []Candidate
	for i := range configs {
		cfg := &configs[i]
		if !cfg.IsActive {
			continue
		}
		if want != "" && cfg.GatewayType != want {
			continue
		}
		if want == "" && !cfg.Supports(method) {
			continue
		}
		c, err := r.bind(cfg)
		if err != nil {
			r.logger.Warn("Skipping unusable gateway config",
				zap.String("tenant_id", tenantID),
				zap.String("gateway", string(cfg.GatewayType)),
				zap.Error(err))
			continue
		}
		candidates = append(candidates, c)
	}

	if want != "" && len(candidates) == 0 {
		return nil, &payment.UnsupportedGatewayError{Gateway: requested}
	}
	if len(candidates) == 0 {
		return nil, &NoGatewayConfiguredError{TenantID: tenantID, Method: method}
	}
	if r.maxAttempts > 0 && len(candidates) > r.maxAttempts {
		candidates = candidates[:r.maxAttempts]
	}
	return candidates, nil
}

// Adapter returns the tenant's bound adapter for one gateway regardless of
// method or active flag, for webhook and polling paths on existing intents.
func (r *Registry) Adapter(ctx context.Context, tenantID string, gatewayType models.GatewayType) (Candidate, error) {
	if _, ok := models.ParseGatewayType(string(gatewayType)); !ok {
		return Candidate{}, &payment.UnsupportedGatewayError{Gateway: string(gatewayType)}
	}
	cfg, err := r.configs.Config(ctx, tenantID, gatewayType)
	if errors.Is(err, credential.ErrNotConfigured) {
		return Candidate{}, fmt.Errorf("%s for tenant %s: %w", gatewayType, tenantID, err)
	}
	if err != nil {
		return Candidate{}, err
	}
	return r.bind(cfg)
}

func (r *Registry) bind(cfg *models.TenantGatewayConfig) (Candidate, error) {
	creds := credential.Snapshot(cfg)
	adapter, err := r.factory(creds)
	if err != nil {
		return Candidate{}, err
	}
	return Candidate{
		Type:        cfg.GatewayType,
		Adapter:     adapter,
		Credentials: creds,
		Priority:    cfg.Priority,
	}, nil
}

// IsClientError reports resolution errors caused by the request itself.
func IsClientError(err error) bool {
	var unsupported *payment.UnsupportedGatewayError
	var none *NoGatewayConfiguredError
	return errors.As(err, &unsupported) || errors.As(err, &none)
}
