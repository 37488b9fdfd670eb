package portfolio

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/mirror"
	"github.com/aristath/folio/internal/syncer"
	"github.com/aristath/folio/internal/syncqueue"
	testhelpers "github.com/aristath/folio/internal/testing"
)

type fixture struct {
	service      *Service
	queue        *syncqueue.Queue
	adapter      *testhelpers.FakeAdapter
	monitor      *testhelpers.FakeMonitor
	portfolios   *mirror.PortfolioRepository
	transactions *mirror.TransactionRepository
	quotes       *mirror.QuoteCache
	coord        *syncer.Coordinator
}

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()

	queueDB := testhelpers.NewTestDB(t, "queue")
	mirrorDB := testhelpers.NewTestDB(t, "mirror")
	cacheDB := testhelpers.NewTestDB(t, "cache")

	f := &fixture{
		queue:        syncqueue.NewQueue(queueDB.Conn(), zerolog.Nop()),
		adapter:      testhelpers.NewFakeAdapter(),
		monitor:      testhelpers.NewFakeMonitor(online),
		portfolios:   mirror.NewPortfolioRepository(mirrorDB.Conn(), zerolog.Nop()),
		transactions: mirror.NewTransactionRepository(mirrorDB.Conn(), zerolog.Nop()),
		quotes:       mirror.NewQuoteCache(cacheDB.Conn(), zerolog.Nop()),
	}
	watchlists := mirror.NewWatchlistRepository(mirrorDB.Conn(), zerolog.Nop())
	f.coord = syncer.New(syncer.Config{}, f.queue, f.adapter, f.monitor,
		f.portfolios, f.transactions, watchlists, zerolog.Nop())
	f.service = NewService(f.coord, f.monitor, f.portfolios, f.transactions, f.quotes, zerolog.Nop())
	return f
}

func TestCreateRejectedOffline(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.service.Create(context.Background(), "Main")

	assert.ErrorIs(t, err, syncer.ErrOfflineCreate)

	// Nothing mirrored, nothing queued
	portfolios, err := f.portfolios.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, portfolios)
	size, err := f.queue.Size()
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestCreateOnlineMirrorsServerRecord(t *testing.T) {
	f := newFixture(t, true)

	created, err := f.service.Create(context.Background(), "Main")

	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	mirrored, err := f.portfolios.Get(created.ID)
	require.NoError(t, err)
	require.NotNil(t, mirrored)
	assert.True(t, mirrored.Synced)
}

func TestAddHoldingOfflineQueuesAndMirrors(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.portfolios.UpsertPortfolio(domain.Portfolio{ID: "p1", Name: "Main", UserID: "u1"}, true))

	holding, err := f.service.AddHolding(context.Background(), "p1", "AAPL", 10, 100)

	require.NoError(t, err)
	assert.NotEmpty(t, holding.ID)
	assert.Equal(t, 10.0, holding.Shares)

	// Mirrored unsynced, holding plus BUY entry queued in order
	mirrored, err := f.portfolios.GetHolding("p1", "AAPL")
	require.NoError(t, err)
	require.NotNil(t, mirrored)
	assert.False(t, mirrored.Synced)

	ops, err := f.queue.PendingScope(syncqueue.ScopePortfolio)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, syncqueue.OpAddHolding, ops[0].Type)
	assert.Equal(t, syncqueue.OpAddTransaction, ops[1].Type)

	// No remote call happened
	assert.Empty(t, f.adapter.Calls())
}

func TestAddHoldingMergesIntoExistingPosition(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.portfolios.UpsertPortfolio(domain.Portfolio{ID: "p1", Name: "Main", UserID: "u1"}, true))

	_, err := f.service.AddHolding(context.Background(), "p1", "AAPL", 10, 100)
	require.NoError(t, err)
	merged, err := f.service.AddHolding(context.Background(), "p1", "AAPL", 5, 130)
	require.NoError(t, err)

	assert.Equal(t, 15.0, merged.Shares)
	assert.InDelta(t, 110.0, merged.AveragePrice, 1e-9)
}

func TestAddTransactionSellUpdatesDerivedHolding(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.portfolios.UpsertPortfolio(domain.Portfolio{ID: "p1", Name: "Main", UserID: "u1"}, true))
	require.NoError(t, f.portfolios.UpsertHolding(domain.Holding{
		ID: "h1", PortfolioID: "p1", Ticker: "AAPL", Shares: 15, AveragePrice: 110,
	}, true))

	_, err := f.service.AddTransaction(context.Background(), domain.Transaction{
		PortfolioID: "p1", Ticker: "AAPL", Shares: 5, Price: 150, Type: domain.TransactionSell,
	})
	require.NoError(t, err)

	holding, err := f.portfolios.GetHolding("p1", "AAPL")
	require.NoError(t, err)
	require.NotNil(t, holding)
	assert.Equal(t, 10.0, holding.Shares)
	assert.InDelta(t, 110.0, holding.AveragePrice, 1e-9)
	assert.False(t, holding.Synced)
}

func TestAddTransactionSellAllRemovesHolding(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.portfolios.UpsertPortfolio(domain.Portfolio{ID: "p1", Name: "Main", UserID: "u1"}, true))
	require.NoError(t, f.portfolios.UpsertHolding(domain.Holding{
		ID: "h1", PortfolioID: "p1", Ticker: "AAPL", Shares: 15, AveragePrice: 110,
	}, true))

	_, err := f.service.AddTransaction(context.Background(), domain.Transaction{
		PortfolioID: "p1", Ticker: "AAPL", Shares: 15, Price: 150, Type: domain.TransactionSell,
	})
	require.NoError(t, err)

	holding, err := f.portfolios.GetHolding("p1", "AAPL")
	require.NoError(t, err)
	assert.Nil(t, holding)

	// The ledger keeps the entry
	txs, err := f.service.Transactions(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TransactionSell, txs[0].Type)
}

func TestAddTransactionSellWithoutPositionRejected(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.portfolios.UpsertPortfolio(domain.Portfolio{ID: "p1", Name: "Main", UserID: "u1"}, true))

	_, err := f.service.AddTransaction(context.Background(), domain.Transaction{
		PortfolioID: "p1", Ticker: "AAPL", Shares: 5, Price: 150, Type: domain.TransactionSell,
	})

	assert.Error(t, err)
}

func TestListRecomputesAggregatesFromCachedQuotes(t *testing.T) {
	f := newFixture(t, false)

	p := testhelpers.NewPortfolioFixture()
	require.NoError(t, f.portfolios.SavePortfolio(p, true))
	require.NoError(t, f.quotes.Put(domain.Quote{
		Ticker: "AAPL",
		Info:   []byte(`{"regular_market_price":120,"regular_market_change":2}`),
	}))
	require.NoError(t, f.quotes.Put(domain.Quote{
		Ticker: "MSFT",
		Info:   []byte(`{"regular_market_price":310,"regular_market_change":-5}`),
	}))

	portfolios, err := f.service.List(context.Background())

	require.NoError(t, err)
	require.Len(t, portfolios, 1)
	totals := portfolios[0].Totals
	assert.InDelta(t, 10*120+2*310.0, totals.TotalValue, 1e-9)
	assert.InDelta(t, 10*100+2*300.0, totals.TotalCost, 1e-9)
	assert.InDelta(t, 10*2-2*5.0, totals.TodayGain, 1e-9)
}

func TestDeleteQueuesRemoteDelete(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.portfolios.SavePortfolio(testhelpers.NewPortfolioFixture(), true))

	require.NoError(t, f.service.Delete(context.Background(), "p1"))

	mirrored, err := f.portfolios.Get("p1")
	require.NoError(t, err)
	assert.Nil(t, mirrored)

	ops, err := f.queue.PendingScope(syncqueue.ScopePortfolio)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, syncqueue.OpDeletePortfolio, ops[0].Type)
}

func TestOfflineEditsConvergeAfterDrain(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.portfolios.UpsertPortfolio(domain.Portfolio{ID: "p1", Name: "Main", UserID: "u1"}, true))

	_, err := f.service.AddHolding(context.Background(), "p1", "AAPL", 10, 100)
	require.NoError(t, err)
	_, err = f.service.AddTransaction(context.Background(), domain.Transaction{
		PortfolioID: "p1", Ticker: "AAPL", Shares: 5, Price: 130, Type: domain.TransactionBuy,
	})
	require.NoError(t, err)

	f.monitor.GoOnline()
	require.NoError(t, f.coord.DrainOnce(context.Background()))

	size, err := f.queue.Size()
	require.NoError(t, err)
	assert.Zero(t, size)

	holding, err := f.portfolios.GetHolding("p1", "AAPL")
	require.NoError(t, err)
	require.NotNil(t, holding)
	assert.True(t, holding.Synced)
	assert.Equal(t, 15.0, holding.Shares)
	assert.InDelta(t, 110.0, holding.AveragePrice, 1e-9)
}
