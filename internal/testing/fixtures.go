package testing

import (
	"github.com/aristath/folio/internal/domain"
)

// NewPortfolioFixture returns a portfolio with two holdings
func NewPortfolioFixture() domain.Portfolio {
	now := domain.NowMillis()
	return domain.Portfolio{
		ID:     "p1",
		Name:   "Main",
		UserID: "u1",
		Holdings: []domain.Holding{
			{ID: "h1", PortfolioID: "p1", Ticker: "AAPL", Shares: 10, AveragePrice: 100, CreatedAt: now, UpdatedAt: now},
			{ID: "h2", PortfolioID: "p1", Ticker: "MSFT", Shares: 2, AveragePrice: 300, CreatedAt: now, UpdatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewLedgerFixture returns the BUY entries behind NewPortfolioFixture
func NewLedgerFixture() []domain.Transaction {
	return []domain.Transaction{
		{ID: "t1", PortfolioID: "p1", Ticker: "AAPL", Shares: 10, Price: 100,
			Type: domain.TransactionBuy, Date: 1700000001000},
		{ID: "t2", PortfolioID: "p1", Ticker: "MSFT", Shares: 2, Price: 300,
			Type: domain.TransactionBuy, Date: 1700000002000},
	}
}

// NewWatchlistFixture returns a watchlist with one item
func NewWatchlistFixture() domain.Watchlist {
	now := domain.NowMillis()
	return domain.Watchlist{
		ID:     "w1",
		Name:   "Tech",
		UserID: "u1",
		Items: []domain.WatchlistItem{
			{ID: "i1", WatchlistID: "w1", Ticker: "NVO", CreatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
