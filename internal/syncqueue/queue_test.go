package syncqueue

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/folio/internal/database"
)

func openQueueDB(t *testing.T, path string) *database.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    path,
		Profile: database.ProfileQueue,
		Name:    "queue",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	db := openQueueDB(t, filepath.Join(t.TempDir(), "queue.db"))
	return NewQueue(db.Conn(), zerolog.Nop())
}

func TestEnqueueAssignsIncreasingPositions(t *testing.T) {
	q := newTestQueue(t)

	first, err := q.Enqueue(&AddHoldingPayload{
		HoldingID: "h1", PortfolioID: "p1", Ticker: "AAPL", Shares: 10, Price: 100,
	})
	require.NoError(t, err)

	second, err := q.Enqueue(&AddHoldingPayload{
		HoldingID: "h2", PortfolioID: "p1", Ticker: "MSFT", Shares: 2, Price: 300,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, first.ID)
	assert.Greater(t, second.Position, first.Position)
}

func TestEnqueueRejectsInvalidPayload(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Enqueue(&AddHoldingPayload{
		HoldingID: "h1", PortfolioID: "p1", Ticker: "AAPL", Shares: -5, Price: 100,
	})
	require.Error(t, err)

	size, err := q.Size()
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestPendingReturnsInsertionOrder(t *testing.T) {
	q := newTestQueue(t)

	tickers := []string{"AAPL", "MSFT", "NVO"}
	for i, ticker := range tickers {
		_, err := q.Enqueue(&AddHoldingPayload{
			HoldingID:   ticker + "-h",
			PortfolioID: "p1",
			Ticker:      ticker,
			Shares:      float64(i + 1),
			Price:       100,
		})
		require.NoError(t, err)
	}

	ops, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, ops, 3)

	for i, op := range ops {
		payload, ok := op.Payload.(*AddHoldingPayload)
		require.True(t, ok)
		assert.Equal(t, tickers[i], payload.Ticker)
	}
}

func TestPendingScopeSeparatesStreams(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Enqueue(&AddHoldingPayload{
		HoldingID: "h1", PortfolioID: "p1", Ticker: "AAPL", Shares: 1, Price: 100,
	})
	require.NoError(t, err)
	_, err = q.Enqueue(&AddWatchlistItemPayload{ItemID: "i1", WatchlistID: "w1", Ticker: "MSFT"})
	require.NoError(t, err)

	portfolioOps, err := q.PendingScope(ScopePortfolio)
	require.NoError(t, err)
	watchlistOps, err := q.PendingScope(ScopeWatchlist)
	require.NoError(t, err)

	require.Len(t, portfolioOps, 1)
	require.Len(t, watchlistOps, 1)
	assert.Equal(t, OpAddHolding, portfolioOps[0].Type)
	assert.Equal(t, OpAddWatchlistItem, watchlistOps[0].Type)
}

func TestRequeueKeepsPosition(t *testing.T) {
	q := newTestQueue(t)

	first, err := q.Enqueue(&UpdatePortfolioPayload{PortfolioID: "p1", Name: "Retirement"})
	require.NoError(t, err)
	_, err = q.Enqueue(&UpdatePortfolioPayload{PortfolioID: "p2", Name: "Trading"})
	require.NoError(t, err)

	// A failed delivery attempt must not move the operation behind later ones
	require.NoError(t, q.Requeue(first.ID))

	ops, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, first.ID, ops[0].ID)
	assert.Equal(t, 1, ops[0].Attempts)
	assert.Equal(t, 0, ops[1].Attempts)
}

func TestRemoveIsIdempotent(t *testing.T) {
	q := newTestQueue(t)

	op, err := q.Enqueue(&DeleteWatchlistPayload{WatchlistID: "w1"})
	require.NoError(t, err)

	require.NoError(t, q.Remove(op.ID))
	require.NoError(t, q.Remove(op.ID))

	size, err := q.Size()
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestQueueSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")

	db := openQueueDB(t, path)
	q := NewQueue(db.Conn(), zerolog.Nop())

	enqueued, err := q.Enqueue(&AddTransactionPayload{
		TransactionID: "t1",
		PortfolioID:   "p1",
		Ticker:        "AAPL",
		Shares:        5,
		Price:         130,
		Type:          "BUY",
		Date:          1700000000000,
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened := openQueueDB(t, path)
	q2 := NewQueue(reopened.Conn(), zerolog.Nop())

	ops, err := q2.Pending()
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, enqueued.ID, ops[0].ID)

	payload, ok := ops[0].Payload.(*AddTransactionPayload)
	require.True(t, ok)
	assert.Equal(t, "t1", payload.TransactionID)
	assert.Equal(t, 5.0, payload.Shares)
	assert.Equal(t, 130.0, payload.Price)
}

func TestPayloadRoundTripAllTypes(t *testing.T) {
	payloads := []Payload{
		&CreatePortfolioPayload{Name: "Retirement"},
		&UpdatePortfolioPayload{PortfolioID: "p1", Name: "Retirement II"},
		&DeletePortfolioPayload{PortfolioID: "p1"},
		&AddHoldingPayload{HoldingID: "h1", PortfolioID: "p1", Ticker: "AAPL", Shares: 10, Price: 100},
		&RemoveHoldingPayload{HoldingID: "h1", PortfolioID: "p1", Ticker: "AAPL"},
		&AddTransactionPayload{TransactionID: "t1", PortfolioID: "p1", Ticker: "AAPL", Shares: 5, Price: 130, Type: "BUY"},
		&CreateWatchlistPayload{Name: "Tech"},
		&RenameWatchlistPayload{WatchlistID: "w1", Name: "Big Tech"},
		&DeleteWatchlistPayload{WatchlistID: "w1"},
		&AddWatchlistItemPayload{ItemID: "i1", WatchlistID: "w1", Ticker: "NVO"},
		&RemoveWatchlistItemPayload{ItemID: "i1", WatchlistID: "w1"},
	}

	for _, original := range payloads {
		data, err := encodePayload(original)
		require.NoError(t, err, "encode %s", original.OpType())

		decoded, err := decodePayload(original.OpType(), data)
		require.NoError(t, err, "decode %s", original.OpType())
		assert.Equal(t, original, decoded)
		assert.Equal(t, original.EntityKey(), decoded.EntityKey())
	}
}

func TestDecodeUnknownOpType(t *testing.T) {
	_, err := decodePayload(OpType("TELEPORT"), []byte{0x80})
	assert.Error(t, err)
}
