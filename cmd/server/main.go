// Package main is the entrypoint for the scraper orchestration server: it runs
// the HTTP API and the background scheduler in a single binary.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/api"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/api/handler"
	mw "github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/api/middleware"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/cache"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/config"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/guard"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/linkedin"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/logging"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/queue"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/scheduler"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/session"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/store"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/pkg/models"
)

const (
	shutdownTimeout   = 30 * time.Second
	requestsPerMinute = 60
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("config loaded", "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations applied")

	// 4. Connect to Redis; the queue, guard, and cache share one client
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse redis URL: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis connected")

	pgStore := store.NewPostgresStore(pool)
	redisCache := cache.NewRedisCacheFromClient(redisClient)

	jobQueue := queue.New(redisClient, queue.Config{
		BackoffBase: cfg.Queue.BackoffBase,
		Retention:   cfg.Queue.Retention,
	})

	// The guard lease must outlive any stalled job, or a second worker could
	// enter a campaign before the stall pass fails the stuck one.
	campaignGuard := guard.New(redisClient, 2*cfg.Scheduler.StallTimeout)

	// 5. Session pool over the automation boundary
	sessionPool := session.NewPool(
		&linkedin.StubDriverFactory{},
		&linkedin.StubAuthenticator{},
		cfg.Session.IdleMaxAge,
		cfg.Session.SweepInterval,
		logger,
	)
	go sessionPool.Start(ctx)

	// 6. Execution handlers and scheduler
	scraper := &linkedin.StubScraper{}
	handlerCfg := linkedin.HandlerConfig{
		LeadBatchSize:    cfg.Scheduler.LeadBatchSize,
		DisableThreshold: cfg.Session.DisableThreshold,
	}

	sched := scheduler.New(jobQueue, campaignGuard, pgStore, scheduler.Config{
		DrainInterval:     cfg.Scheduler.DrainInterval,
		ReconcileInterval: cfg.Scheduler.ReconcileInterval,
		StallInterval:     cfg.Scheduler.StallInterval,
		PromoteInterval:   cfg.Scheduler.PromoteInterval,
		StallTimeout:      cfg.Scheduler.StallTimeout,
		ConflictRequeue:   cfg.Queue.ConflictRequeue,
		MaxRetries:        cfg.Queue.MaxRetries,
	}, logger)
	sched.Register(models.JobTypeSearch,
		linkedin.NewSearchHandler(sessionPool, pgStore, scraper, handlerCfg, logger))
	sched.Register(models.JobTypeProfileFetch,
		linkedin.NewProfileHandler(sessionPool, pgStore, scraper, handlerCfg, logger))

	schedDone := sched.Start(ctx)
	logger.Info("scheduler started")

	// 7. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, requestsPerMinute),

		HealthHandler: handler.NewHealthHandler(pgStore, jobQueue),

		EnqueueJobHandler:   handler.NewEnqueueJobHandler(jobQueue, pgStore, cfg.Queue.MaxRetries),
		CampaignJobsHandler: handler.NewCampaignJobsHandler(jobQueue, redisCache),
		CancelJobsHandler:   handler.NewCancelJobsHandler(jobQueue, redisCache),

		CreateCampaignHandler: handler.NewCreateCampaignHandler(pgStore),
		GetCampaignHandler:    handler.NewGetCampaignHandler(pgStore),
		ListCampaignsHandler:  handler.NewListCampaignsHandler(pgStore),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// The scheduler loops stop with the signal context; wait for in-flight
	// ticks to finish before exiting.
	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		logger.Warn("scheduler did not stop within shutdown timeout")
	}

	// With the scheduler drained, no job can reach for a session anymore;
	// close every live driver before the process exits.
	sessionPool.Shutdown()

	logger.Info("server stopped gracefully")
	return nil
}
