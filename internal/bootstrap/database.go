package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"paygate/internal/config"
	"paygate/internal/models"
)

// Migrate ensures the gateway tables exist.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	return nil
}

func allModels() []interface{} {
	return []interface{}{
		// Written by the admin operation
		&models.TenantGatewayConfig{},
		// Owned by the orchestrator and reconciler
		&models.PaymentIntent{},
		&models.PaymentAttempt{},
		&models.WebhookEvent{},
	}
}

// NewRedis connects to Redis. A nil client and the ping error are returned
// when the server is unreachable, so callers can fall back to in-process
// locking and dedup.
func NewRedis(cfg config.RedisConfig) (redis.UniversalClient, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is not set")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Pass,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
