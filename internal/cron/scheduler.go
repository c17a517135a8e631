package cron

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"paygate/internal/config"
)

// Sweeper runs the periodic lifecycle passes over open payment intents.
type Sweeper interface {
	ExpireDue(ctx context.Context) (int, error)
	ReconcileStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Scheduler manages all cron jobs.
type Scheduler struct {
	cron    *cron.Cron
	cfg     config.CronConfig
	sweeper Sweeper
	logger  *zap.Logger
}

// New creates a new cron scheduler. Schedules use the six-field format with seconds.
func New(cfg config.CronConfig, sweeper Sweeper, logger *zap.Logger) *Scheduler {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	if cfg.ReconcileAfter <= 0 {
		cfg.ReconcileAfter = 10 * time.Minute
	}
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.SkipIfStillRunning(cl)),
		),
		cfg:     cfg,
		sweeper: sweeper,
		logger:  logger,
	}
}

// Start registers and starts all cron jobs.
func (s *Scheduler) Start() error {
	s.logger.Info("Starting cron scheduler...")

	// Expire intents past their deadline
	if _, err := s.cron.AddFunc(s.cfg.ExpirySchedule, func() {
		s.logger.Debug("Running: payment expire")
		s.paymentExpire()
	}); err != nil {
		return err
	}

	// Poll providers for intents without a recent signal
	if _, err := s.cron.AddFunc(s.cfg.ReconcileSchedule, func() {
		s.logger.Debug("Running: payment reconcile")
		s.paymentReconcile()
	}); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("Cron scheduler started")
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) paymentExpire() {
	defer s.recoverFromPanic("paymentExpire")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	n, err := s.sweeper.ExpireDue(ctx)
	if err != nil {
		s.logger.Error("Payment expire failed", zap.Int("processed", n), zap.Error(err))
		return
	}
	s.logger.Debug("Payment expire completed", zap.Int("processed", n))
}

func (s *Scheduler) paymentReconcile() {
	defer s.recoverFromPanic("paymentReconcile")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	n, err := s.sweeper.ReconcileStale(ctx, s.cfg.ReconcileAfter)
	if err != nil {
		s.logger.Error("Payment reconcile failed", zap.Int("changed", n), zap.Error(err))
		return
	}
	s.logger.Debug("Payment reconcile completed", zap.Int("changed", n))
}

func (s *Scheduler) recoverFromPanic(jobName string) {
	if r := recover(); r != nil {
		s.logger.Error("Cron job panicked", zap.String("job", jobName), zap.Any("error", r))
	}
}

// cronLogger routes robfig/cron's internal logging to zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
