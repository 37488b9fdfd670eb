package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/jobs"
	"github.com/aristath/folio/internal/netmon"
	"github.com/aristath/folio/internal/portfolio"
	"github.com/aristath/folio/internal/reliability"
	"github.com/aristath/folio/internal/remote"
	"github.com/aristath/folio/internal/syncer"
	"github.com/aristath/folio/internal/watchlist"
)

// InitializeServices constructs the network monitor, remote adapter, sync
// coordinator, domain services and background jobs
func InitializeServices(container *Container, log zerolog.Logger) error {
	cfg := container.Config

	container.Monitor = netmon.New(netmon.Config{
		ProbeURL:      cfg.ProbeURL,
		ProbeInterval: cfg.ProbeInterval,
		ProbeTimeout:  cfg.ProbeTimeout,
	}, log)

	container.RemoteClient = remote.NewClient(cfg.RemoteBaseURL, cfg.RemoteTimeout, log)

	container.Coordinator = syncer.New(syncer.Config{
		BackoffBase: cfg.SyncBackoffBase,
		BackoffMax:  cfg.SyncBackoffMax,
	}, container.Queue, container.RemoteClient, container.Monitor,
		container.PortfolioRepo, container.TransactionRepo, container.WatchlistRepo, log)

	container.PortfolioService = portfolio.NewService(
		container.Coordinator, container.Monitor,
		container.PortfolioRepo, container.TransactionRepo, container.QuoteCache, log)
	container.WatchlistService = watchlist.NewService(
		container.Coordinator, container.Monitor, container.WatchlistRepo, log)

	if cfg.QuoteStreamURL != "" {
		container.QuoteStream = remote.NewQuoteStream(cfg.QuoteStreamURL, container.QuoteCache, log)
	}

	if cfg.Backup != nil && cfg.Backup.Enabled {
		store, err := reliability.NewObjectStore(context.Background(), cfg.Backup, log)
		if err != nil {
			return fmt.Errorf("failed to initialize backup store: %w", err)
		}
		container.BackupService = reliability.NewBackupService(
			container.Databases(), store, cfg.DataDir, cfg.Backup.Prefix, cfg.Backup.Keep, log)
	}

	if err := initializeJobs(container, log); err != nil {
		return err
	}

	log.Info().Msg("Services initialized")
	return nil
}

// initializeJobs registers the background jobs on the scheduler
func initializeJobs(container *Container, log zerolog.Logger) error {
	cfg := container.Config
	container.Scheduler = jobs.New(log)

	syncSchedule := "0 */5 * * * *"
	if cfg.SyncInterval > 0 {
		syncSchedule = fmt.Sprintf("@every %s", cfg.SyncInterval)
	}
	if err := container.Scheduler.AddJob(syncSchedule,
		jobs.NewSyncFailsafeJob(container.Coordinator, log)); err != nil {
		return fmt.Errorf("failed to register sync failsafe job: %w", err)
	}

	if err := container.Scheduler.AddJob("0 */15 * * * *", jobs.NewQuoteRefreshJob(
		container.RemoteClient, container.Monitor,
		container.PortfolioRepo, container.WatchlistRepo, container.QuoteCache,
		0, log)); err != nil {
		return fmt.Errorf("failed to register quote refresh job: %w", err)
	}

	// Nightly at 03:30 local time
	if err := container.Scheduler.AddJob("0 30 3 * * *", jobs.NewMaintenanceJob(
		container.Databases(), container.QuoteCache, 0, log)); err != nil {
		return fmt.Errorf("failed to register maintenance job: %w", err)
	}

	if container.BackupService != nil {
		if err := container.Scheduler.AddJob("0 0 4 * * *",
			jobs.NewBackupJob(container.BackupService, 0, log)); err != nil {
			return fmt.Errorf("failed to register backup job: %w", err)
		}
	}

	return nil
}
