// Package remote is the typed client for the backend service. The sync
// coordinator and the service layer depend only on the Adapter interface; the
// HTTP implementation lives in client.go and the quote stream in stream.go.
package remote

import (
	"context"

	"github.com/aristath/folio/internal/domain"
)

// Adapter is the remote service contract. Every call is idempotent by entity
// id (upsert or delete-by-id semantics), so the coordinator can safely retry
// after timeouts where the server-side effect is unknown.
type Adapter interface {
	UpsertPortfolio(ctx context.Context, p domain.Portfolio) (*domain.Portfolio, error)
	DeletePortfolio(ctx context.Context, id string) error

	UpsertHolding(ctx context.Context, h domain.Holding) (*domain.Holding, error)
	DeleteHolding(ctx context.Context, id string) error

	InsertTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)

	UpsertWatchlist(ctx context.Context, w domain.Watchlist) (*domain.Watchlist, error)
	DeleteWatchlist(ctx context.Context, id string) error
	UpsertWatchlistItem(ctx context.Context, item domain.WatchlistItem) (*domain.WatchlistItem, error)
	DeleteWatchlistItem(ctx context.Context, id string) error

	ListPortfolios(ctx context.Context) ([]domain.Portfolio, error)
	ListHoldings(ctx context.Context, portfolioID string) ([]domain.Holding, error)
	ListTransactions(ctx context.Context, portfolioID string) ([]domain.Transaction, error)
	ListWatchlists(ctx context.Context) ([]domain.Watchlist, error)
	ListWatchlistItems(ctx context.Context, watchlistID string) ([]domain.WatchlistItem, error)

	GetQuote(ctx context.Context, ticker string) (*domain.Quote, error)
}
