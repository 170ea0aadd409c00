package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"server/internal/adapter/repo"
	"server/internal/costs"
	"server/internal/infra"
	"server/internal/ingest"
	"server/internal/notify"
	"server/internal/orchestrator"
	"server/internal/providers"
	"server/internal/providers/pollimage"
	"server/internal/storage"
)

// The worker re-attaches poll loops for poll-driven jobs that were left
// pending, e.g. after a restart dropped the API process's in-memory loops.
// Reconciliation is idempotent, so overlapping with a live API instance is
// harmless: whichever signal lands first wins.
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
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	fileStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	metrics := infra.NewMetrics(prometheus.DefaultRegisterer)

	jobs := repo.NewJobRepository(pool)
	costRepo := repo.NewCostRepository(pool)

	pollImage, err := pollimage.NewClient(pollimage.Options{
		APIKey:  cfg.PollImageAPIKey,
		BaseURL: cfg.PollImageBaseURL,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure poll provider")
	}
	adapters := providers.Registry{pollImage.Name(): pollImage}

	ingestor, err := ingest.NewIngestor(ingest.Options{
		Store:    fileStore,
		BaseURL:  cfg.StorageBaseURL,
		MaxBytes: cfg.MaxIngestBytes,
		Logger:   &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure ingestor")
	}

	ledger := costs.NewLedger(costs.DefaultPricingTable(), costRepo)

	// The bus is process-local; a worker has no live connections, so its
	// broadcasts fan out to nobody. Clients catch up through the status
	// endpoints served by the API instance.
	hub := notify.NewHub(cfg.HeartbeatInterval, logger, metrics)

	reconciler := orchestrator.NewReconciler(jobs, ingestor, ledger, hub, logger, metrics)
	poller := orchestrator.NewPoller(cfg.PollInterval, cfg.PollMaxAttempts, nil, reconciler, logger)
	orch := orchestrator.NewOrchestrator(ctx, jobs, adapters, reconciler, poller, cfg.PublicBaseURL, logger, metrics)

	logger.Info().Msg("worker: started")
	if err := orch.Resume(ctx); err != nil {
		logger.Error().Err(err).Msg("worker: resume failed")
	}

	<-ctx.Done()
	logger.Info().Msg("worker: stopped")
}
