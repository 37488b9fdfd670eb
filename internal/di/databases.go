package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/config"
	"github.com/aristath/folio/internal/database"
)

// InitializeDatabases opens the three databases and applies schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{Config: cfg, Log: log}

	// 1. queue.db - Durable sync queue. Maximum safety: a mutation accepted
	// while offline must survive a crash.
	queueDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/queue.db",
		Profile: database.ProfileQueue,
		Name:    "queue",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize queue database: %w", err)
	}
	container.QueueDB = queueDB

	// 2. mirror.db - Local mirror of portfolios, holdings, transactions and
	// watchlists
	mirrorDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/mirror.db",
		Profile: database.ProfileMirror,
		Name:    "mirror",
	})
	if err != nil {
		queueDB.Close()
		return nil, fmt.Errorf("failed to initialize mirror database: %w", err)
	}
	container.MirrorDB = mirrorDB

	// 3. cache.db - Evictable quote data. Maximum speed; losing it costs a
	// refetch.
	cacheDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/cache.db",
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		queueDB.Close()
		mirrorDB.Close()
		return nil, fmt.Errorf("failed to initialize cache database: %w", err)
	}
	container.CacheDB = cacheDB

	for name, db := range container.Databases() {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to migrate %s database: %w", name, err)
		}
	}

	log.Info().Str("data_dir", cfg.DataDir).Msg("Databases initialized")
	return container, nil
}
