package di

import (
	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/mirror"
	"github.com/aristath/folio/internal/syncqueue"
)

// InitializeRepositories constructs the queue and mirror repositories
func InitializeRepositories(container *Container, log zerolog.Logger) {
	container.Queue = syncqueue.NewQueue(container.QueueDB.Conn(), log)
	container.PortfolioRepo = mirror.NewPortfolioRepository(container.MirrorDB.Conn(), log)
	container.TransactionRepo = mirror.NewTransactionRepository(container.MirrorDB.Conn(), log)
	container.WatchlistRepo = mirror.NewWatchlistRepository(container.MirrorDB.Conn(), log)
	container.QuoteCache = mirror.NewQuoteCache(container.CacheDB.Conn(), log)

	log.Info().Msg("Repositories initialized")
}
