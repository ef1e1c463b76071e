package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/coinflip/internal/httpapi"
	"github.com/MarkoPoloResearchLab/coinflip/internal/metrics"
	"github.com/MarkoPoloResearchLab/coinflip/internal/oplog"
	"github.com/MarkoPoloResearchLab/coinflip/internal/scheduler"
	"github.com/MarkoPoloResearchLab/coinflip/internal/wallet"
	"github.com/MarkoPoloResearchLab/coinflip/internal/webhook"
	"github.com/MarkoPoloResearchLab/coinflip/pkg/game"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	flagListenAddr         = "listen-addr"
	flagAllowedOrigins     = "allowed-origins"
	flagRequestTimeout     = "request-timeout"
	flagSignatureWindow    = "signature-window"
	flagWalletTimeout      = "wallet-timeout"
	flagWalletMaxAttempts  = "wallet-max-attempts"
	flagWebhookWorkers     = "webhook-workers"
	flagWebhookQueueSize   = "webhook-queue-size"
	flagWebhookMaxAttempts = "webhook-max-attempts"
	flagSettlementSchedule = "settlement-schedule"
	flagExpirySchedule     = "expiry-schedule"
	flagExpiryBatch        = "expiry-batch"
)

type serveConfig struct {
	HTTP      httpapi.Config
	Wallet    wallet.Config
	Webhook   webhook.Config
	Scheduler scheduler.Config
}

func newServeCommand(v *viper.Viper) *cobra.Command {
	cfg := &serveConfig{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the partner API, webhook dispatcher and scheduled jobs",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadServeConfig(cmd, v, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, v, cfg)
		},
	}

	cmd.Flags().String(flagListenAddr, ":8080", "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().Duration(flagRequestTimeout, 15*time.Second, "per-request deadline")
	cmd.Flags().Duration(flagSignatureWindow, 5*time.Minute, "accepted X-Timestamp skew")
	cmd.Flags().Duration(flagWalletTimeout, 5*time.Second, "timeout of one wallet callout attempt")
	cmd.Flags().Uint(flagWalletMaxAttempts, 5, "attempts for wallet credit and rollback")
	cmd.Flags().Int(flagWebhookWorkers, 4, "concurrent webhook deliveries")
	cmd.Flags().Int(flagWebhookQueueSize, 1024, "buffered webhook events before dropping")
	cmd.Flags().Uint(flagWebhookMaxAttempts, 4, "attempts per webhook delivery")
	cmd.Flags().String(flagSettlementSchedule, "15 0 1 * *", "cron schedule of the monthly settlement (UTC)")
	cmd.Flags().String(flagExpirySchedule, "@every 1m", "cron schedule of the expiry sweep")
	cmd.Flags().Int(flagExpiryBatch, 500, "sessions expired per sweep")

	return cmd
}

func loadServeConfig(cmd *cobra.Command, v *viper.Viper, cfg *serveConfig) error {
	if err := bindFlags(v, cmd,
		flagListenAddr, flagAllowedOrigins, flagRequestTimeout, flagSignatureWindow,
		flagWalletTimeout, flagWalletMaxAttempts,
		flagWebhookWorkers, flagWebhookQueueSize, flagWebhookMaxAttempts,
		flagSettlementSchedule, flagExpirySchedule, flagExpiryBatch,
	); err != nil {
		return err
	}

	cfg.HTTP = httpapi.Config{
		ListenAddr:      strings.TrimSpace(v.GetString(flagListenAddr)),
		AllowedOrigins:  httpapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins)),
		RequestTimeout:  v.GetDuration(flagRequestTimeout),
		SignatureWindow: v.GetDuration(flagSignatureWindow),
	}
	cfg.Wallet = wallet.Config{
		AttemptTimeout: v.GetDuration(flagWalletTimeout),
		MaxAttempts:    v.GetUint(flagWalletMaxAttempts),
	}
	cfg.Webhook = webhook.Config{
		Workers:     v.GetInt(flagWebhookWorkers),
		QueueSize:   v.GetInt(flagWebhookQueueSize),
		MaxAttempts: v.GetUint(flagWebhookMaxAttempts),
	}
	cfg.Scheduler = scheduler.Config{
		SettlementSpec: strings.TrimSpace(v.GetString(flagSettlementSchedule)),
		ExpirySpec:     strings.TrimSpace(v.GetString(flagExpirySchedule)),
		ExpiryBatch:    v.GetInt(flagExpiryBatch),
	}

	if _, err := databaseURL(v); err != nil {
		return err
	}
	if err := cfg.HTTP.Validate(); err != nil {
		return err
	}
	if err := cfg.Wallet.Validate(); err != nil {
		return err
	}
	if err := cfg.Webhook.Validate(); err != nil {
		return err
	}
	return cfg.Scheduler.Validate()
}

func runServe(ctx context.Context, v *viper.Viper, cfg *serveConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	database, store, err := openStore(ctx, v, logger)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	registry := metrics.New()
	gateway, err := wallet.NewGateway(cfg.Wallet,
		wallet.WithLogger(logger.Named("wallet")),
		wallet.WithRecorder(registry))
	if err != nil {
		return fmt.Errorf("wallet gateway init: %w", err)
	}
	dispatcher, err := webhook.NewDispatcher(cfg.Webhook, store,
		webhook.WithLogger(logger.Named("webhook")),
		webhook.WithRecorder(registry))
	if err != nil {
		return fmt.Errorf("webhook dispatcher init: %w", err)
	}

	operationLogger := oplog.New(logger.Named("game"), registry)
	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := game.NewService(store, gateway, clock,
		game.WithOperationLogger(operationLogger),
		game.WithEventPublisher(dispatcher))
	if err != nil {
		return fmt.Errorf("game service init: %w", err)
	}
	aggregator, err := game.NewSettlementAggregator(store, clock,
		game.WithSettlementLogger(operationLogger),
		game.WithSettlementPublisher(dispatcher))
	if err != nil {
		return fmt.Errorf("settlement init: %w", err)
	}
	jobs, err := scheduler.New(cfg.Scheduler, aggregator, service,
		scheduler.WithLogger(logger.Named("scheduler")),
		scheduler.WithRecorder(registry))
	if err != nil {
		return fmt.Errorf("scheduler init: %w", err)
	}
	router, err := httpapi.NewRouter(cfg.HTTP, httpapi.Dependencies{
		Games:       service,
		Settlements: aggregator,
		Partners:    store,
		Metrics:     registry,
		Logger:      logger.Named("http"),
	})
	if err != nil {
		return fmt.Errorf("router init: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return dispatcher.Run(groupCtx) })
	group.Go(func() error { return jobs.Run(groupCtx) })
	group.Go(func() error { return httpapi.Run(groupCtx, cfg.HTTP, router, logger) })
	err = group.Wait()
	logger.Info("coinflipd stopped", zap.Error(err))
	return err
}
