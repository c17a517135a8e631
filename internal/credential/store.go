// Package credential serves tenant gateway configuration and credentials
// from a short-lived cache over the gateway config repository.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"paygate/internal/models"
	"paygate/internal/payment"
	"paygate/internal/repository"
)

// ErrNotConfigured is returned when a tenant has no config for a gateway.
var ErrNotConfigured = errors.New("gateway not configured for tenant")

// Store is a read-mostly view of tenant gateway configs. Every value it
// returns is a deep copy, so cache refreshes never reach an in-flight caller.
type Store struct {
	repo   repository.GatewayConfigStore
	cache  *expirable.LRU[string, []models.TenantGatewayConfig]
	logger *zap.Logger
}

func NewStore(repo repository.GatewayConfigStore, size int, ttl time.Duration, logger *zap.Logger) *Store {
	if size <= 0 {
		size = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		repo:   repo,
		cache:  expirable.NewLRU[string, []models.TenantGatewayConfig](size, nil, ttl),
		logger: logger,
	}
}

// Configs returns all configs of a tenant, active or not.
func (s *Store) Configs(ctx context.Context, tenantID string) ([]models.TenantGatewayConfig, error) {
	configs, ok := s.cache.Get(tenantID)
	if !ok {
		loaded, err := s.repo.ListByTenant(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("load gateway configs for %s: %w", tenantID, err)
		}
		s.cache.Add(tenantID, loaded)
		configs = loaded
	}
	return cloneAll(configs), nil
}

// Config returns the tenant's config for one gateway.
func (s *Store) Config(ctx context.Context, tenantID string, gateway models.GatewayType) (*models.TenantGatewayConfig, error) {
	configs, err := s.Configs(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for i := range configs {
		if configs[i].GatewayType == gateway {
			return &configs[i], nil
		}
	}
	return nil, ErrNotConfigured
}

// Save writes a config through to the repository and drops the tenant's
// cached view.
func (s *Store) Save(ctx context.Context, cfg *models.TenantGatewayConfig) error {
	if err := s.repo.Upsert(ctx, cfg); err != nil {
		return fmt.Errorf("save gateway config: %w", err)
	}
	s.Invalidate(cfg.TenantID)
	s.logger.Info("Gateway config updated",
		zap.String("tenant_id", cfg.TenantID),
		zap.String("gateway", string(cfg.GatewayType)),
		zap.Bool("active", cfg.IsActive))
	return nil
}

// Invalidate forces the next read for the tenant to hit the repository.
func (s *Store) Invalidate(tenantID string) {
	s.cache.Remove(tenantID)
}

// Snapshot wraps a config's credential bag for its adapter.
func Snapshot(cfg *models.TenantGatewayConfig) payment.Credentials {
	return payment.NewCredentials(cfg.GatewayType, cfg.Environment, cfg.CredentialValues())
}

func cloneAll(configs []models.TenantGatewayConfig) []models.TenantGatewayConfig {
	out := make([]models.TenantGatewayConfig, len(configs))
	for i := range configs {
		out[i] = configs[i].Clone()
	}
	return out
}
