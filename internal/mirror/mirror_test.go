package mirror

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/folio/internal/database"
	"github.com/aristath/folio/internal/domain"
)

func openMirrorDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "mirror.db"),
		Profile: database.ProfileMirror,
		Name:    "mirror",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func openCacheDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLoadAllEmptyMirrorReturnsEmptySlice(t *testing.T) {
	repo := NewPortfolioRepository(openMirrorDB(t).Conn(), zerolog.Nop())

	portfolios, err := repo.LoadAll()

	require.NoError(t, err)
	assert.NotNil(t, portfolios)
	assert.Empty(t, portfolios)
}

func TestSavePortfolioRoundTrip(t *testing.T) {
	repo := NewPortfolioRepository(openMirrorDB(t).Conn(), zerolog.Nop())

	p := domain.Portfolio{
		ID:     "p1",
		Name:   "Main",
		UserID: "u1",
		Holdings: []domain.Holding{
			{ID: "h1", PortfolioID: "p1", Ticker: "AAPL", Shares: 10, AveragePrice: 100},
			{ID: "h2", PortfolioID: "p1", Ticker: "MSFT", Shares: 2, AveragePrice: 300},
		},
	}
	require.NoError(t, repo.SavePortfolio(p, true))

	loaded, err := repo.Get("p1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "Main", loaded.Name)
	assert.True(t, loaded.Synced)
	require.Len(t, loaded.Holdings, 2)
	assert.Equal(t, "AAPL", loaded.Holdings[0].Ticker)
	assert.Equal(t, 10.0, loaded.Holdings[0].Shares)
}

func TestUpsertHoldingIsIdempotentByTicker(t *testing.T) {
	repo := NewPortfolioRepository(openMirrorDB(t).Conn(), zerolog.Nop())
	require.NoError(t, repo.UpsertPortfolio(domain.Portfolio{ID: "p1", Name: "Main", UserID: "u1"}, true))

	h := domain.Holding{ID: "h1", PortfolioID: "p1", Ticker: "AAPL", Shares: 10, AveragePrice: 100}
	require.NoError(t, repo.UpsertHolding(h, false))

	h.Shares = 15
	h.AveragePrice = 110
	require.NoError(t, repo.UpsertHolding(h, false))

	holdings, err := repo.HoldingsByPortfolio("p1")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, 15.0, holdings[0].Shares)
	assert.InDelta(t, 110.0, holdings[0].AveragePrice, 1e-9)
	assert.False(t, holdings[0].Synced)
}

func TestDeletePortfolioCascades(t *testing.T) {
	db := openMirrorDB(t)
	portfolios := NewPortfolioRepository(db.Conn(), zerolog.Nop())
	transactions := NewTransactionRepository(db.Conn(), zerolog.Nop())

	require.NoError(t, portfolios.SavePortfolio(domain.Portfolio{
		ID: "p1", Name: "Main", UserID: "u1",
		Holdings: []domain.Holding{{ID: "h1", PortfolioID: "p1", Ticker: "AAPL", Shares: 10, AveragePrice: 100}},
	}, true))
	require.NoError(t, transactions.Insert(domain.Transaction{
		ID: "t1", PortfolioID: "p1", Ticker: "AAPL", Shares: 10, Price: 100,
		Type: domain.TransactionBuy, Date: 1700000000000,
	}, true))

	require.NoError(t, portfolios.DeletePortfolio("p1"))

	loaded, err := portfolios.Get("p1")
	require.NoError(t, err)
	assert.Nil(t, loaded)

	holdings, err := portfolios.HoldingsByPortfolio("p1")
	require.NoError(t, err)
	assert.Empty(t, holdings)

	txs, err := transactions.ListByPortfolio("p1")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestUnsyncedHoldingsKeyedByPortfolioTicker(t *testing.T) {
	repo := NewPortfolioRepository(openMirrorDB(t).Conn(), zerolog.Nop())
	require.NoError(t, repo.UpsertPortfolio(domain.Portfolio{ID: "p1", Name: "Main", UserID: "u1"}, true))

	require.NoError(t, repo.UpsertHolding(domain.Holding{
		ID: "h1", PortfolioID: "p1", Ticker: "AAPL", Shares: 10, AveragePrice: 100,
	}, false))
	require.NoError(t, repo.UpsertHolding(domain.Holding{
		ID: "h2", PortfolioID: "p1", Ticker: "MSFT", Shares: 2, AveragePrice: 300,
	}, true))

	unsynced, err := repo.UnsyncedHoldings()
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	assert.Contains(t, unsynced, "p1/AAPL")
}

func TestSaveAllPreservesUnsyncedHoldings(t *testing.T) {
	repo := NewPortfolioRepository(openMirrorDB(t).Conn(), zerolog.Nop())

	// Local state: AAPL has a pending local buy the server does not know about
	require.NoError(t, repo.UpsertPortfolio(domain.Portfolio{ID: "p1", Name: "Main", UserID: "u1"}, true))
	require.NoError(t, repo.UpsertHolding(domain.Holding{
		ID: "h1", PortfolioID: "p1", Ticker: "AAPL", Shares: 15, AveragePrice: 110,
	}, false))

	unsynced, err := repo.UnsyncedHoldings()
	require.NoError(t, err)

	// Server still reports the pre-buy position
	server := []domain.Portfolio{{
		ID: "p1", Name: "Main", UserID: "u1",
		Holdings: []domain.Holding{
			{ID: "h1", PortfolioID: "p1", Ticker: "AAPL", Shares: 10, AveragePrice: 100},
			{ID: "h3", PortfolioID: "p1", Ticker: "NVO", Shares: 4, AveragePrice: 50},
		},
	}}
	require.NoError(t, repo.SaveAll(server, unsynced))

	aapl, err := repo.GetHolding("p1", "AAPL")
	require.NoError(t, err)
	require.NotNil(t, aapl)
	assert.Equal(t, 15.0, aapl.Shares)
	assert.False(t, aapl.Synced)

	nvo, err := repo.GetHolding("p1", "NVO")
	require.NoError(t, err)
	require.NotNil(t, nvo)
	assert.True(t, nvo.Synced)
}

func TestSaveAllKeepsUnsyncedHoldingUnknownToServer(t *testing.T) {
	repo := NewPortfolioRepository(openMirrorDB(t).Conn(), zerolog.Nop())

	require.NoError(t, repo.UpsertPortfolio(domain.Portfolio{ID: "p1", Name: "Main", UserID: "u1"}, true))
	require.NoError(t, repo.UpsertHolding(domain.Holding{
		ID: "h9", PortfolioID: "p1", Ticker: "TSLA", Shares: 3, AveragePrice: 200,
	}, false))

	unsynced, err := repo.UnsyncedHoldings()
	require.NoError(t, err)

	server := []domain.Portfolio{{ID: "p1", Name: "Main", UserID: "u1"}}
	require.NoError(t, repo.SaveAll(server, unsynced))

	tsla, err := repo.GetHolding("p1", "TSLA")
	require.NoError(t, err)
	require.NotNil(t, tsla)
	assert.Equal(t, 3.0, tsla.Shares)
}

func TestWatchlistSaveAllKeepsUnsyncedItems(t *testing.T) {
	repo := NewWatchlistRepository(openMirrorDB(t).Conn(), zerolog.Nop())

	// Local state: NVO was added offline and its queued op has not confirmed
	require.NoError(t, repo.Upsert(domain.Watchlist{ID: "w1", Name: "Tech", UserID: "u1"}, true))
	require.NoError(t, repo.UpsertItem(domain.WatchlistItem{ID: "i1", WatchlistID: "w1", Ticker: "NVO"}, false))

	unsynced, err := repo.UnsyncedItems()
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	require.Contains(t, unsynced, "i1")

	// Server snapshot does not know the offline-added item yet
	server := []domain.Watchlist{{
		ID: "w1", Name: "Tech", UserID: "u1",
		Items: []domain.WatchlistItem{{ID: "i2", WatchlistID: "w1", Ticker: "AAPL"}},
	}}
	require.NoError(t, repo.SaveAll(server, unsynced))

	items, err := repo.ItemsByWatchlist("w1")
	require.NoError(t, err)
	require.Len(t, items, 2)

	byID := make(map[string]domain.WatchlistItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	assert.Equal(t, "NVO", byID["i1"].Ticker)
	assert.False(t, byID["i1"].Synced)
	assert.True(t, byID["i2"].Synced)
}

func TestWatchlistSaveAllDropsItemOfDeletedWatchlist(t *testing.T) {
	repo := NewWatchlistRepository(openMirrorDB(t).Conn(), zerolog.Nop())

	require.NoError(t, repo.Upsert(domain.Watchlist{ID: "w1", Name: "Tech", UserID: "u1"}, true))
	require.NoError(t, repo.UpsertItem(domain.WatchlistItem{ID: "i1", WatchlistID: "w1", Ticker: "NVO"}, false))

	unsynced, err := repo.UnsyncedItems()
	require.NoError(t, err)

	// The watchlist is gone server-side, so its pending item goes with it
	require.NoError(t, repo.SaveAll([]domain.Watchlist{}, unsynced))

	items, err := repo.ItemsByWatchlist("w1")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestTransactionLedgerOrder(t *testing.T) {
	db := openMirrorDB(t)
	portfolios := NewPortfolioRepository(db.Conn(), zerolog.Nop())
	transactions := NewTransactionRepository(db.Conn(), zerolog.Nop())
	require.NoError(t, portfolios.UpsertPortfolio(domain.Portfolio{ID: "p1", Name: "Main", UserID: "u1"}, true))

	entries := []domain.Transaction{
		{ID: "t2", PortfolioID: "p1", Ticker: "AAPL", Shares: 5, Price: 130, Type: domain.TransactionBuy, Date: 1700000002000},
		{ID: "t1", PortfolioID: "p1", Ticker: "AAPL", Shares: 10, Price: 100, Type: domain.TransactionBuy, Date: 1700000001000},
	}
	for _, tx := range entries {
		require.NoError(t, transactions.Insert(tx, false))
	}

	txs, err := transactions.ListByPortfolio("p1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "t1", txs[0].ID)
	assert.Equal(t, "t2", txs[1].ID)

	// Replaying the mirrored ledger reproduces the derived position
	holdings := domain.ReplayTransactions(txs)
	require.Len(t, holdings, 1)
	assert.Equal(t, 15.0, holdings[0].Shares)
	assert.InDelta(t, 110.0, holdings[0].AveragePrice, 1e-9)
}

func TestInsertRejectsUnknownType(t *testing.T) {
	transactions := NewTransactionRepository(openMirrorDB(t).Conn(), zerolog.Nop())

	err := transactions.Insert(domain.Transaction{
		ID: "t1", PortfolioID: "p1", Ticker: "AAPL", Shares: 1, Price: 1, Type: "SHORT",
	}, false)

	assert.Error(t, err)
}

func TestReplaceForPortfolioKeepsUnsyncedEntries(t *testing.T) {
	db := openMirrorDB(t)
	portfolios := NewPortfolioRepository(db.Conn(), zerolog.Nop())
	transactions := NewTransactionRepository(db.Conn(), zerolog.Nop())
	require.NoError(t, portfolios.UpsertPortfolio(domain.Portfolio{ID: "p1", Name: "Main", UserID: "u1"}, true))

	require.NoError(t, transactions.Insert(domain.Transaction{
		ID: "t-old", PortfolioID: "p1", Ticker: "AAPL", Shares: 10, Price: 100,
		Type: domain.TransactionBuy, Date: 1700000001000,
	}, true))
	require.NoError(t, transactions.Insert(domain.Transaction{
		ID: "t-pending", PortfolioID: "p1", Ticker: "AAPL", Shares: 5, Price: 130,
		Type: domain.TransactionBuy, Date: 1700000002000,
	}, false))

	server := []domain.Transaction{
		{ID: "t-old", PortfolioID: "p1", Ticker: "AAPL", Shares: 10, Price: 100,
			Type: domain.TransactionBuy, Date: 1700000001000},
	}
	require.NoError(t, transactions.ReplaceForPortfolio("p1", server))

	txs, err := transactions.ListByPortfolio("p1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "t-old", txs[0].ID)
	assert.Equal(t, "t-pending", txs[1].ID)
	assert.False(t, txs[1].Synced)
}

func TestQuoteCachePutAndGetFresh(t *testing.T) {
	cache := NewQuoteCache(openCacheDB(t).Conn(), zerolog.Nop())

	require.NoError(t, cache.Put(domain.Quote{
		Ticker: "AAPL",
		Info:   []byte(`{"regular_market_price":182.5,"regular_market_change":1.2}`),
	}))

	q, err := cache.GetFresh("AAPL", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, q)

	info, ok := q.ParseInfo()
	require.True(t, ok)
	assert.InDelta(t, 182.5, info.Price, 1e-9)

	// Unknown tickers are a cache miss, not an error
	missing, err := cache.GetFresh("ZZZZ", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestQuoteCachePartialUpdateKeepsOtherBlobs(t *testing.T) {
	cache := NewQuoteCache(openCacheDB(t).Conn(), zerolog.Nop())

	require.NoError(t, cache.Put(domain.Quote{
		Ticker:  "AAPL",
		Info:    []byte(`{"regular_market_price":180}`),
		History: []byte(`[{"close":179}]`),
	}))
	// Streamed update carries info only
	require.NoError(t, cache.Put(domain.Quote{
		Ticker: "AAPL",
		Info:   []byte(`{"regular_market_price":182}`),
	}))

	q, err := cache.Get("AAPL")
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.JSONEq(t, `[{"close":179}]`, string(q.History))

	info, ok := q.ParseInfo()
	require.True(t, ok)
	assert.InDelta(t, 182.0, info.Price, 1e-9)
}

func TestQuoteCacheEvictStale(t *testing.T) {
	cache := NewQuoteCache(openCacheDB(t).Conn(), zerolog.Nop())

	require.NoError(t, cache.Put(domain.Quote{
		Ticker:    "OLD",
		Info:      []byte(`{}`),
		UpdatedAt: domain.NowMillis() - (2 * time.Hour).Milliseconds(),
	}))
	require.NoError(t, cache.Put(domain.Quote{Ticker: "NEW", Info: []byte(`{}`)}))

	evicted, err := cache.EvictStale(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), evicted)

	count, err := cache.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWatchlistSaveAndLoad(t *testing.T) {
	repo := NewWatchlistRepository(openMirrorDB(t).Conn(), zerolog.Nop())

	w := domain.Watchlist{
		ID: "w1", Name: "Tech", UserID: "u1",
		Items: []domain.WatchlistItem{
			{ID: "i1", WatchlistID: "w1", Ticker: "AAPL"},
			{ID: "i2", WatchlistID: "w1", Ticker: "MSFT"},
		},
	}
	require.NoError(t, repo.Save(w, true))

	lists, err := repo.LoadAll()
	require.NoError(t, err)
	require.Len(t, lists, 1)
	require.Len(t, lists[0].Items, 2)
	assert.Equal(t, "AAPL", lists[0].Items[0].Ticker)

	require.NoError(t, repo.DeleteItem("i1"))
	loaded, err := repo.Get("w1")
	require.NoError(t, err)
	require.Len(t, loaded.Items, 1)
	assert.Equal(t, "MSFT", loaded.Items[0].Ticker)

	require.NoError(t, repo.Delete("w1"))
	lists, err = repo.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, lists)
}
