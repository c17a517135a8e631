package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"paygate/internal/models"
)

// GatewayConfigRepository handles tenant gateway configuration.
type GatewayConfigRepository struct {
	db *gorm.DB
}

func NewGatewayConfigRepository(db *gorm.DB) *GatewayConfigRepository {
	return &GatewayConfigRepository{db: db}
}

// ListByTenant returns every config of a tenant, active or not.
func (r *GatewayConfigRepository) ListByTenant(ctx context.Context, tenantID string) ([]models.TenantGatewayConfig, error) {
	var configs []models.TenantGatewayConfig
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("priority ASC, gateway_type ASC").
		Find(&configs).Error
	return configs, err
}

// Upsert writes the config keyed by (tenant_id, gateway_type).
func (r *GatewayConfigRepository) Upsert(ctx context.Context, cfg *models.TenantGatewayConfig) error {
	now := time.Now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "gateway_type"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"environment", "credentials", "supported_methods", "fees", "priority", "is_active", "updated_at",
		}),
	}).Create(cfg).Error
}
