package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reachkit/reachkit/internal/api"
	"github.com/reachkit/reachkit/internal/campaign"
	"github.com/reachkit/reachkit/internal/config"
	"github.com/reachkit/reachkit/internal/db"
	"github.com/reachkit/reachkit/internal/metrics"
	"github.com/reachkit/reachkit/internal/queue"
	"github.com/reachkit/reachkit/internal/repository"
	"github.com/reachkit/reachkit/internal/template"
	"github.com/reachkit/reachkit/internal/webhook"
	"github.com/reachkit/reachkit/internal/worker"
)

// App is the main application
type App struct {
	config    *config.Config
	database  *db.DB
	jobQueue  queue.Queue
	apiServer *api.Server
	worker    *worker.Worker
	logger    *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := SetupLogger(cfg.Logging)

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	jobQueue, err := queue.NewBoltStorage(cfg.Queue.Path)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to open queue storage: %w", err)
	}

	m := metrics.New()
	metrics.SetGlobal(m)

	campaignRepo := repository.NewCampaignRepository(database.DB)
	contactRepo := repository.NewContactRepository(database.DB)
	providerRepo := repository.NewProviderRepository(database.DB)
	templateRepo := repository.NewTemplateRepository(database.DB)
	activityRepo := repository.NewActivityRepository(database.DB)
	historyRepo := repository.NewHistoryRepository(database.DB)

	templateSvc := template.NewService(templateRepo, providerRepo, logger)

	campaignSvc := campaign.NewService(campaign.Repos{
		Campaigns:  campaignRepo,
		Contacts:   contactRepo,
		Providers:  providerRepo,
		Templates:  templateRepo,
		Activities: activityRepo,
		History:    historyRepo,
	}, cfg.Dispatch, nil, logger)

	w := worker.New(jobQueue, campaignSvc, cfg.Dispatch.PollInterval, logger)
	campaignSvc.SetScheduler(w)

	reconciler := webhook.NewReconciler(
		historyRepo, activityRepo, contactRepo, templateSvc,
		cfg.Webhook.VerifyToken, logger)

	apiServer := api.NewServer(
		campaignSvc, templateSvc, reconciler, providerRepo, contactRepo,
		&cfg.Server, m, logger)

	return &App{
		config:    cfg,
		database:  database,
		jobQueue:  jobQueue,
		apiServer: apiServer,
		worker:    w,
		logger:    logger,
	}, nil
}

// Run starts the API server and the dispatch worker, then blocks until a
// shutdown signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting reachkit",
		"api_addr", a.config.Server.ListenAddr,
		"database", a.config.Database.Path,
		"queue", a.config.Queue.Path,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go a.worker.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api shutdown failed", "error", err)
	}

	if err := a.jobQueue.Close(); err != nil {
		a.logger.Error("queue close failed", "error", err)
	}
	if err := a.database.Close(); err != nil {
		a.logger.Error("database close failed", "error", err)
	}

	a.logger.Info("reachkit stopped")
	return nil
}

// SetupLogger builds the process logger from config.
func SetupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
