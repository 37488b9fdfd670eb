// Package di provides dependency injection for the application's databases,
// repositories and services.
package di

import (
	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/config"
	"github.com/aristath/folio/internal/database"
	"github.com/aristath/folio/internal/jobs"
	"github.com/aristath/folio/internal/mirror"
	"github.com/aristath/folio/internal/netmon"
	"github.com/aristath/folio/internal/portfolio"
	"github.com/aristath/folio/internal/reliability"
	"github.com/aristath/folio/internal/remote"
	"github.com/aristath/folio/internal/syncer"
	"github.com/aristath/folio/internal/syncqueue"
	"github.com/aristath/folio/internal/watchlist"
)

// Container holds every constructed dependency
type Container struct {
	Config *config.Config
	Log    zerolog.Logger

	// Databases
	QueueDB  *database.DB
	MirrorDB *database.DB
	CacheDB  *database.DB

	// Repositories
	Queue           *syncqueue.Queue
	PortfolioRepo   *mirror.PortfolioRepository
	TransactionRepo *mirror.TransactionRepository
	WatchlistRepo   *mirror.WatchlistRepository
	QuoteCache      *mirror.QuoteCache

	// Services
	Monitor          *netmon.Monitor
	RemoteClient     *remote.Client
	QuoteStream      *remote.QuoteStream
	Coordinator      *syncer.Coordinator
	PortfolioService *portfolio.Service
	WatchlistService *watchlist.Service
	Scheduler        *jobs.Scheduler
	BackupService    *reliability.BackupService
}

// Databases returns the open databases keyed by name
func (c *Container) Databases() map[string]*database.DB {
	return map[string]*database.DB{
		"queue":  c.QueueDB,
		"mirror": c.MirrorDB,
		"cache":  c.CacheDB,
	}
}

// Close releases every database connection
func (c *Container) Close() {
	for name, db := range c.Databases() {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil {
			c.Log.Error().Err(err).Str("database", name).Msg("Failed to close database")
		}
	}
}
