// Package app wires the price tracker together and manages its lifecycle:
// configuration, storage, the tracking cron, the matching worker and the
// status HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/price-tracker/internal/api"
	"github.com/jonesrussell/price-tracker/internal/budget"
	"github.com/jonesrussell/price-tracker/internal/config"
	"github.com/jonesrussell/price-tracker/internal/database"
	"github.com/jonesrussell/price-tracker/internal/events"
	"github.com/jonesrussell/price-tracker/internal/logger"
	"github.com/jonesrussell/price-tracker/internal/matching"
	"github.com/jonesrussell/price-tracker/internal/plans"
	"github.com/jonesrussell/price-tracker/internal/quota"
	"github.com/jonesrussell/price-tracker/internal/ratelimit"
	redisclient "github.com/jonesrussell/price-tracker/internal/redis"
	"github.com/jonesrussell/price-tracker/internal/scraper"
	"github.com/jonesrussell/price-tracker/internal/telemetry"
	"github.com/jonesrussell/price-tracker/internal/tracking"
	"github.com/jonesrussell/price-tracker/internal/worker"
)

const (
	// DefaultShutdownTimeout is the default timeout for graceful shutdown
	DefaultShutdownTimeout = 30 * time.Second

	// trackingPassTimeout bounds one tracking run across all users. It stays
	// under the default pass cadence so consecutive passes do not overlap.
	trackingPassTimeout = 10 * time.Minute

	// cleanupTimeout bounds the nightly terminal-job sweep.
	cleanupTimeout = time.Minute

	readHeaderTimeout = 10 * time.Second
)

// App represents the price tracker application with all its dependencies
type App struct {
	config      *config.Config
	logger      logger.Logger
	db          *sqlx.DB
	redisClient *redis.Client
	links       *database.LinkRepository
	jobs        *database.JobRepository
	scheduler   *tracking.Scheduler
	matcher     *matching.Matcher
	worker      *worker.Worker
	cron        *cron.Cron
	httpServer  *http.Server
	version     string
}

// Options contains configuration for creating a new App
type Options struct {
	ConfigPath string
	Version    string
}

// New creates a new App instance with all dependencies initialized
func New(opts Options) (*App, error) {
	cfg, appLogger, err := loadConfigAndLogger(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Version != "" {
		cfg.Service.Version = opts.Version
	}

	appLogger = appLogger.With(
		logger.String("service", cfg.Service.Name),
		logger.String("version", cfg.Service.Version),
	)

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		_ = appLogger.Sync()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// The event stream is a best-effort side channel. Without Redis the
	// publisher stays nil and every publish is a no-op.
	redisClient, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		appLogger.Warn("redis unavailable, continuing without event stream",
			logger.Error(err))
		redisClient = nil
	}
	publisher := events.NewPublisher(
		redisClient, cfg.Redis.EventStream, cfg.Redis.EventStreamMaxLen, appLogger)

	metrics := telemetry.NewProvider()

	budgetRepo := database.NewBudgetRepository(db)
	linkRepo := database.NewLinkRepository(db)
	jobRepo := database.NewJobRepository(db)
	catalogRepo := database.NewCatalogRepository(db)
	quotaRepo := database.NewQuotaRepository(db)
	rateRepo := database.NewRateLimitRepository(db)

	entitlements := plans.NewStaticResolver(cfg.Plans)
	budgets := budget.NewService(budgetRepo, cfg.Budget, appLogger)
	fetcher := scraper.NewClient(cfg.Provider, budgets, appLogger)
	extractor := scraper.NewPriceExtractor()
	limiter := ratelimit.NewLimiter(rateRepo, cfg.RateLimit, appLogger)
	quotas := quota.NewService(quotaRepo, entitlements, appLogger)

	scheduler := tracking.NewScheduler(
		cfg, linkRepo, fetcher, extractor, entitlements, budgets,
		publisher, metrics, appLogger)

	matcher := matching.NewMatcher(cfg, matching.MatcherDeps{
		Catalog:    catalogRepo,
		Links:      linkRepo,
		Jobs:       jobRepo,
		Fetcher:    fetcher,
		Parser:     matching.NewListingParser(),
		Structural: limiter,
		Discovery:  quotas,
		Budget:     budgets,
		Publisher:  publisher,
		Metrics:    metrics,
		Logger:     appLogger,
	})

	jobWorker := worker.NewWorker(cfg.Worker, jobRepo, matcher, metrics, appLogger)

	router := api.NewRouter(cfg, api.Deps{
		Budgets:    budgets,
		RateLimits: limiter,
		Quotas:     quotas,
		History:    linkRepo,
		Queue:      jobRepo,
		DB:         db,
		Redis:      redisClient,
		Metrics:    metrics,
		Logger:     appLogger,
	})

	application := &App{
		config:      cfg,
		logger:      appLogger,
		db:          db,
		redisClient: redisClient,
		links:       linkRepo,
		jobs:        jobRepo,
		scheduler:   scheduler,
		matcher:     matcher,
		worker:      jobWorker,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Service.Port),
			Handler:           router.Engine(),
			ReadHeaderTimeout: readHeaderTimeout,
		},
		version: cfg.Service.Version,
	}

	if err := application.scheduleCronJobs(); err != nil {
		_ = appLogger.Sync()
		return nil, err
	}

	return application, nil
}

// loadConfigAndLogger loads configuration and creates the logger
func loadConfigAndLogger(configPath string) (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	return cfg, appLogger, nil
}

// scheduleCronJobs registers the tracking pass and the queue cleanup on the
// configured cron schedules. Invalid expressions fail startup.
func (a *App) scheduleCronJobs() error {
	// Standard 5-field cron parser (minute hour day month weekday).
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	if _, err := c.AddFunc(a.config.Worker.TrackingSchedule, a.runTrackingPasses); err != nil {
		return fmt.Errorf("schedule tracking pass %q: %w", a.config.Worker.TrackingSchedule, err)
	}
	if _, err := c.AddFunc(a.config.Worker.CleanupSchedule, a.runQueueCleanup); err != nil {
		return fmt.Errorf("schedule queue cleanup %q: %w", a.config.Worker.CleanupSchedule, err)
	}

	a.cron = c
	return nil
}

// Run starts the application and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()

	a.worker.Start(workerCtx)
	a.cron.Start()

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", logger.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	a.logger.Info("price tracker started",
		logger.String("tracking_schedule", a.config.Worker.TrackingSchedule),
		logger.String("cleanup_schedule", a.config.Worker.CleanupSchedule),
	)

	return a.waitForShutdown(ctx, serverErr)
}

// waitForShutdown handles graceful shutdown
func (a *App) waitForShutdown(ctx context.Context, serverErr chan error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error

	select {
	case sig := <-sigChan:
		a.logger.Info("shutting down gracefully", logger.String("signal", sig.String()))

	case err := <-serverErr:
		a.logger.Error("http server failed", logger.Error(err))
		runErr = err

	case <-ctx.Done():
		a.logger.Info("run context cancelled")
	}

	a.shutdown()
	a.logger.Info("service stopped")
	return runErr
}

// shutdown stops the cron, the worker and the HTTP server in that order, so
// no new work starts while in-flight work drains.
func (a *App) shutdown() {
	cronCtx := a.cron.Stop()
	a.worker.Stop()
	a.shutdownHTTPServer()

	select {
	case <-cronCtx.Done():
	case <-time.After(DefaultShutdownTimeout):
		a.logger.Warn("cron jobs still running at shutdown deadline")
	}
}

// shutdownHTTPServer gracefully shuts down the HTTP server
func (a *App) shutdownHTTPServer() {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("http server shutdown error", logger.Error(err))
		return
	}
	a.logger.Info("http server stopped")
}

// runTrackingPasses fans one tracking pass out over every user that has
// active links. Per-user failures are logged and do not stop the pass.
func (a *App) runTrackingPasses() {
	ctx, cancel := context.WithTimeout(context.Background(), trackingPassTimeout)
	defer cancel()

	users, err := a.links.DistinctActiveUsers(ctx)
	if err != nil {
		a.logger.Error("list users for tracking pass", logger.Error(err))
		return
	}
	if len(users) == 0 {
		return
	}

	// The scheduler logs each pass outcome itself; only failures are
	// reported here.
	for _, userID := range users {
		if _, err := a.scheduler.RunPass(ctx, userID); err != nil {
			a.logger.Error("tracking pass failed",
				logger.String("user_id", userID),
				logger.Error(err),
			)
		}
	}
}

// runQueueCleanup deletes terminal jobs older than the retention window.
func (a *App) runQueueCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	deleted, err := a.jobs.CleanupTerminal(ctx, a.config.Worker.CleanupAfter)
	if err != nil {
		a.logger.Error("queue cleanup failed", logger.Error(err))
		return
	}
	if deleted > 0 {
		a.logger.Info("queue cleanup removed terminal jobs", logger.Int64("deleted", deleted))
	}
}

// Matcher exposes the matching entry points for callers embedding the app.
func (a *App) Matcher() *matching.Matcher {
	return a.matcher
}

// Scheduler exposes the tracking scheduler for callers embedding the app.
func (a *App) Scheduler() *tracking.Scheduler {
	return a.scheduler
}

// Logger returns the application logger
func (a *App) Logger() logger.Logger {
	return a.logger
}

// Close cleans up resources
func (a *App) Close() error {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close database", logger.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("close redis client", logger.Error(err))
		}
	}
	return a.logger.Sync()
}
