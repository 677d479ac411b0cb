package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/orrn/printrelease/internal/api"
	"github.com/orrn/printrelease/internal/api/handlers"
	"github.com/orrn/printrelease/internal/api/middleware"
	"github.com/orrn/printrelease/internal/archive"
	"github.com/orrn/printrelease/internal/clock"
	"github.com/orrn/printrelease/internal/config"
	"github.com/orrn/printrelease/internal/core"
	"github.com/orrn/printrelease/internal/db"
	"github.com/orrn/printrelease/internal/logging"
	"github.com/orrn/printrelease/internal/ratelimit"
	"github.com/orrn/printrelease/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "printrelease: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")
	pflag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(db.Config{Path: cfg.Database.Path})
	if err != nil {
		return err
	}
	defer conn.Close()
	versions, err := db.AppliedVersions(conn)
	if err != nil {
		return err
	}
	logger.Info("database ready", zap.String("path", cfg.Database.Path), zap.Strings("schema_versions", versions))
	store := db.NewStore(conn)
	clk := clock.Real()

	sender := webhook.NewWebhookSender(store.Webhooks, webhook.WebhookConfig{
		RetryCount:  cfg.Webhooks.RetryCount,
		RetryDelay:  cfg.Webhooks.RetryDelay,
		Timeout:     cfg.Webhooks.Timeout,
		WorkerCount: cfg.Webhooks.WorkerCount,
		QueueSize:   cfg.Webhooks.QueueSize,
	}, clk, logger.Named("webhook"))
	sender.Start()
	defer sender.Stop()

	svc := core.NewService(store.Jobs, core.ServiceConfig{
		PublicBaseURL:    cfg.Server.PublicBaseURL,
		DefaultTTL:       cfg.Release.DefaultTTL,
		MaxTTL:           cfg.Release.MaxTTL,
		MaxDocumentBytes: cfg.Server.MaxDocumentBytes,
	},
		core.WithClock(clk),
		core.WithNotifier(sender),
		core.WithLogger(logger),
	)

	sweeper := core.NewSweeper(store.Jobs, clk, sender, logger.Named("sweeper"), core.SweeperConfig{
		Interval:  cfg.Release.SweepInterval,
		BatchSize: cfg.Release.SweepBatchSize,
	})
	sweeper.Start()
	defer sweeper.Stop()

	dispatcher := core.NewDispatcher(svc, core.DispatcherConfig{
		CompletionDelay: cfg.Release.CompletionDelay,
		WorkerCount:     cfg.Release.WorkerCount,
	}, logger.Named("dispatcher"))
	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	defer dispatcher.Stop()

	archiveDays := cfg.Database.ArchiveDays
	if days, ok := handlers.StoredArchiveDays(ctx, store.Settings); ok {
		archiveDays = days
	}
	archiver, err := archive.NewArchiver(store, archive.ArchiveConfig{
		ArchivePath: cfg.Database.ArchivePath,
		ArchiveDays: archiveDays,
		Passphrase:  cfg.Database.ArchivePassphrase,
	}, clk, logger)
	if err != nil {
		return err
	}
	if !archiver.HasPassphrase() {
		logger.Warn("no archive passphrase configured, archiving is paused until one is set")
	}
	archiver.Start()
	defer archiver.Stop()

	auth, err := middleware.NewAuthMiddleware(store.Settings, logger.Named("auth"))
	if err != nil {
		return fmt.Errorf("failed to initialize auth: %w", err)
	}

	deps := api.Deps{
		Config:    cfg,
		Service:   svc,
		Store:     store,
		Auth:      auth,
		Sweeper:   sweeper,
		Completer: dispatcher,
		Webhooks:  sender,
		Archiver:  archiver,
		Logger:    logger,
	}
	if cfg.Redis.Addr != "" {
		rdb := ratelimit.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup, attempts fail open until it recovers",
				zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		deps.Limiter = ratelimit.NewTokenBucket(rdb, cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerSecond, time.Hour, clk)
	}

	server := api.NewServer(cfg, api.NewRouter(deps))
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
	return nil
}
