package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"paygate/internal/bootstrap"
	"paygate/internal/config"
	"paygate/internal/credential"
	cronpkg "paygate/internal/cron"
	"paygate/internal/gateway"
	"paygate/internal/handler"
	"paygate/internal/handler/api"
	"paygate/internal/lock"
	"paygate/internal/models"
	"paygate/internal/notify"
	"paygate/internal/orchestrator"
	"paygate/internal/payment"
	"paygate/internal/pkg/telegram"
	"paygate/internal/repository"
	"paygate/internal/router"
	"paygate/internal/webhook"
)

type stores struct {
	intents repository.PaymentIntentStore
	events  repository.WebhookEventStore
	configs repository.GatewayConfigStore
}

func main() {
	// --- Logger ---
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if hasArg("--bootstrap-db") {
		if err := runDBBootstrap(logger); err != nil {
			logger.Fatal("Database bootstrap failed", zap.Error(err))
		}
		logger.Info("Database bootstrap completed")
		return
	}

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if cfg.Server.Env == "development" {
		if dev, err := zap.NewDevelopment(); err == nil {
			logger = dev
		}
	}

	// --- Storage ---
	st, err := openStores(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open storage", zap.Error(err))
	}

	// --- Lock + Webhook Deduper (Redis with in-memory fallback) ---
	var locker lock.Locker = lock.NewMemoryLocker()
	deduper := webhook.NewDeduper(nil, cfg.Payment.WebhookDedupTTL)
	if rdb, err := bootstrap.NewRedis(cfg.Redis); err != nil {
		logger.Warn("Redis unavailable, using in-process lock and webhook dedup", zap.Error(err))
	} else {
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, cfg.Payment.LockTTL, logger)
		deduper = webhook.NewDeduper(rdb, cfg.Payment.WebhookDedupTTL)
	}

	// --- Notifications ---
	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		botAPI := telegram.NewBotAPI(cfg.Notify.TelegramToken, cfg.Notify.TelegramBaseURL)
		notifier = notify.NewTelegram(botAPI, cfg.Notify.TelegramChatID, logger)
	}

	// --- Gateways ---
	creds := credential.NewStore(st.configs, cfg.Credentials.CacheSize, cfg.Credentials.CacheTTL, logger)
	registry := gateway.NewRegistry(creds, gateway.OptionsFactory(adapterOptions(cfg, logger)), cfg.Payment.MaxAttempts, logger)

	policy := models.ConfirmationFailurePolicy(cfg.Payment.ConfirmationFailurePolicy)
	orch := orchestrator.New(st.intents, registry, locker, notifier, orchestrator.Config{
		DefaultExpirationMinutes:  cfg.Payment.DefaultExpirationMinutes,
		ConfirmationFailurePolicy: policy,
		CallbackBaseURL:           cfg.Payment.CallbackBaseURL,
		BatchSize:                 cfg.Payment.BatchSize,
	}, logger)
	reconciler := webhook.NewReconciler(registry, st.intents, st.events, locker, deduper, notifier, policy, logger)

	// --- Echo ---
	e := echo.New()
	e.HideBanner = true

	// --- Routes ---
	router.Setup(e, router.Handlers{
		Payments: api.NewPaymentHandler(orch, logger),
		Gateways: api.NewGatewayHandler(creds, logger),
		Webhooks: handler.NewPaymentCallbackHandler(reconciler, logger),
	}, cfg.API, logger)

	// --- Cron Scheduler ---
	scheduler := cronpkg.New(cfg.Cron, orch, logger)
	if err := scheduler.Start(); err != nil {
		logger.Fatal("Failed to start cron scheduler", zap.Error(err))
	}

	// --- Start Server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("Starting paygate server", zap.String("addr", addr), zap.String("db_driver", cfg.Database.Driver))
		if err := e.Start(addr); err != nil {
			logger.Info("Server stopped", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	// Stop HTTP server first so no new work arrives
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Stop cron
	ctx := scheduler.Stop()
	select {
	case <-ctx.Done():
	case <-shutdownCtx.Done():
		logger.Warn("Cron jobs still running at shutdown")
	}

	logger.Info("Server exited")
}

func openStores(cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("DB_DRIVER=memory, payment state is lost on restart")
		mem := repository.NewMemoryStore()
		return &stores{intents: mem.Intents(), events: mem.Events(), configs: mem.Configs()}, nil
	}

	db, err := config.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := bootstrap.Migrate(db); err != nil {
		return nil, err
	}
	return &stores{
		intents: repository.NewPaymentIntentRepository(db),
		events:  repository.NewWebhookEventRepository(db),
		configs: repository.NewGatewayConfigRepository(db),
	}, nil
}

func adapterOptions(cfg *config.Config, logger *zap.Logger) map[models.GatewayType]payment.Options {
	opts := make(map[models.GatewayType]payment.Options, len(models.GatewayTypes))
	for _, gw := range models.GatewayTypes {
		p := cfg.Providers[string(gw)]
		opts[gw] = payment.Options{
			Timeout:    p.Timeout,
			RetryCount: p.RetryCount,
			BaseURL:    p.BaseURL,
			Logger:     logger,
		}
	}
	return opts
}

func hasArg(name string) bool {
	for _, arg := range os.Args[1:] {
		if arg == name {
			return true
		}
	}
	return false
}

func runDBBootstrap(logger *zap.Logger) error {
	dbCfg, err := config.LoadDatabaseOnly()
	if err != nil {
		return err
	}
	db, err := config.NewDatabase(dbCfg)
	if err != nil {
		return err
	}
	if err := bootstrap.Migrate(db); err != nil {
		return err
	}
	logger.Info("Schema migration completed")
	return nil
}
