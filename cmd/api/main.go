package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"server/internal/adapter/repo"
	"server/internal/costs"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/ingest"
	"server/internal/notify"
	"server/internal/orchestrator"
	"server/internal/providers"
	"server/internal/providers/pollimage"
	"server/internal/providers/textimage"
	"server/internal/providers/webhookvideo"
	"server/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: db connection failed")
	}
	defer pool.Close()

	fileStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure storage")
	}

	metrics := infra.NewMetrics(prometheus.DefaultRegisterer)

	jobs := repo.NewJobRepository(pool)
	costRepo := repo.NewCostRepository(pool)

	adapters, err := buildAdapters(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure providers")
	}

	ingestor, err := ingest.NewIngestor(ingest.Options{
		Store:    fileStore,
		BaseURL:  cfg.StorageBaseURL,
		MaxBytes: cfg.MaxIngestBytes,
		Logger:   &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure ingestor")
	}

	ledger := costs.NewLedger(costs.DefaultPricingTable(), costRepo)

	hub := notify.NewHub(cfg.HeartbeatInterval, logger, metrics)
	go hub.Run(ctx)

	reconciler := orchestrator.NewReconciler(jobs, ingestor, ledger, hub, logger, metrics)
	poller := orchestrator.NewPoller(cfg.PollInterval, cfg.PollMaxAttempts, nil, reconciler, logger)
	orch := orchestrator.NewOrchestrator(ctx, jobs, adapters, reconciler, poller, cfg.PublicBaseURL, logger, metrics)

	if err := orch.Resume(ctx); err != nil {
		logger.Warn().Err(err).Msg("api: resume pending poll jobs failed")
	}

	app := &handlers.App{
		Config:       cfg,
		Logger:       logger,
		Orchestrator: orch,
		Hub:          hub,
		Jobs:         jobs,
		Costs:        costRepo,
	}
	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func buildAdapters(cfg *infra.Config, logger *infra.Logger) (providers.Registry, error) {
	textImage, err := textimage.NewClient(textimage.Options{
		APIKey:  cfg.TextImageAPIKey,
		BaseURL: cfg.TextImageBaseURL,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	video, err := webhookvideo.NewClient(webhookvideo.Options{
		APIKey:  cfg.VideoAPIKey,
		BaseURL: cfg.VideoBaseURL,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	pollImage, err := pollimage.NewClient(pollimage.Options{
		APIKey:  cfg.PollImageAPIKey,
		BaseURL: cfg.PollImageBaseURL,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	return providers.Registry{
		textImage.Name(): textImage,
		video.Name():     video,
		pollImage.Name(): pollImage,
	}, nil
}
