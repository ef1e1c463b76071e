// Package scheduler runs the periodic housekeeping jobs: monthly settlement
// and the sweep that expires abandoned sessions.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/coinflip/pkg/game"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	JobSettlement = "settlement"
	JobExpiry     = "expiry"

	defaultSettlementSpec = "15 0 1 * *"
	defaultExpirySpec     = "@every 1m"
	defaultExpiryBatch    = 500
	defaultJobTimeout     = 5 * time.Minute
)

// Config holds cron expressions and job limits.
type Config struct {
	SettlementSpec string
	ExpirySpec     string
	ExpiryBatch    int
	JobTimeout     time.Duration
}

// Validate fills defaults and parses both schedules.
func (cfg *Config) Validate() error {
	if cfg.SettlementSpec == "" {
		cfg.SettlementSpec = defaultSettlementSpec
	}
	if cfg.ExpirySpec == "" {
		cfg.ExpirySpec = defaultExpirySpec
	}
	if cfg.ExpiryBatch <= 0 {
		cfg.ExpiryBatch = defaultExpiryBatch
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	for _, spec := range []string{cfg.SettlementSpec, cfg.ExpirySpec} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", spec, err)
		}
	}
	return nil
}

// Settler generates settlements for every partner.
type Settler interface {
	GenerateAll(ctx context.Context, period game.SettlementPeriod) ([]game.Settlement, error)
}

// Expirer expires stale sessions.
type Expirer interface {
	ExpireStale(ctx context.Context, limit int) (int, error)
}

// Recorder counts job runs.
type Recorder interface {
	RecordJob(job string, success bool)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger *zap.Logger) Option {
	return func(scheduler *Scheduler) {
		if logger != nil {
			scheduler.logger = logger
		}
	}
}

// WithRecorder wires job metrics.
func WithRecorder(recorder Recorder) Option {
	return func(scheduler *Scheduler) {
		scheduler.recorder = recorder
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(scheduler *Scheduler) {
		if now != nil {
			scheduler.now = now
		}
	}
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cfg      Config
	settler  Settler
	expirer  Expirer
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time
}

// New validates cfg and builds a Scheduler.
func New(cfg Config, settler Settler, expirer Expirer, options ...Option) (*Scheduler, error) {
	if settler == nil || expirer == nil {
		return nil, fmt.Errorf("scheduler: settler and expirer are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scheduler := &Scheduler{
		cfg:     cfg,
		settler: settler,
		expirer: expirer,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, option := range options {
		if option != nil {
			option(scheduler)
		}
	}
	return scheduler, nil
}

// Run starts both jobs and blocks until ctx is cancelled, then waits for
// running jobs to finish.
func (scheduler *Scheduler) Run(ctx context.Context) error {
	cronLogger := cronLogAdapter{logger: scheduler.logger.Sugar()}
	runner := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := runner.AddFunc(scheduler.cfg.SettlementSpec, func() { _ = scheduler.SettlePreviousMonth(ctx) }); err != nil {
		return fmt.Errorf("schedule settlement: %w", err)
	}
	if _, err := runner.AddFunc(scheduler.cfg.ExpirySpec, func() { _, _ = scheduler.SweepExpired(ctx) }); err != nil {
		return fmt.Errorf("schedule expiry sweep: %w", err)
	}
	runner.Start()
	scheduler.logger.Info("scheduler started",
		zap.String("settlement", scheduler.cfg.SettlementSpec),
		zap.String("expiry", scheduler.cfg.ExpirySpec))
	<-ctx.Done()
	<-runner.Stop().Done()
	return nil
}

// SettlePreviousMonth generates settlements for the month before now.
func (scheduler *Scheduler) SettlePreviousMonth(ctx context.Context) error {
	jobCtx, cancel := context.WithTimeout(ctx, scheduler.cfg.JobTimeout)
	defer cancel()
	period := game.MonthlyPeriod(scheduler.now().UTC()).Previous()
	settlements, err := scheduler.settler.GenerateAll(jobCtx, period)
	scheduler.record(JobSettlement, err)
	if err != nil {
		scheduler.logger.Error("settlement job failed", zap.String("period", period.Key), zap.Error(err))
		return err
	}
	scheduler.logger.Info("settlement job finished", zap.String("period", period.Key), zap.Int("partners", len(settlements)))
	return nil
}

// SweepExpired expires up to one batch of stale sessions.
func (scheduler *Scheduler) SweepExpired(ctx context.Context) (int, error) {
	jobCtx, cancel := context.WithTimeout(ctx, scheduler.cfg.JobTimeout)
	defer cancel()
	expired, err := scheduler.expirer.ExpireStale(jobCtx, scheduler.cfg.ExpiryBatch)
	scheduler.record(JobExpiry, err)
	if err != nil {
		scheduler.logger.Error("expiry sweep failed", zap.Int("expired", expired), zap.Error(err))
		return expired, err
	}
	if expired > 0 {
		scheduler.logger.Info("expiry sweep finished", zap.Int("expired", expired))
	}
	return expired, nil
}

func (scheduler *Scheduler) record(job string, err error) {
	if scheduler.recorder != nil {
		scheduler.recorder.RecordJob(job, err == nil)
	}
}

// cronLogAdapter satisfies cron.Logger on top of zap.
type cronLogAdapter struct {
	logger *zap.SugaredLogger
}

func (adapter cronLogAdapter) Info(msg string, keysAndValues ...any) {
	adapter.logger.Debugw(msg, keysAndValues...)
}

func (adapter cronLogAdapter) Error(err error, msg string, keysAndValues ...any) {
	adapter.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
