package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyTransaction_BuyIntoExistingHolding(t *testing.T) {
	// 10 shares @ $100 avg, then BUY 5 @ $130
	existing := &Holding{
		ID:           "h1",
		PortfolioID:  "p1",
		Ticker:       "AAPL",
		Shares:       10,
		AveragePrice: 100,
	}

	tx := Transaction{
		PortfolioID: "p1",
		Ticker:      "AAPL",
		Shares:      5,
		Price:       130,
		Type:        TransactionBuy,
	}

	updated, removed := ApplyTransaction(existing, tx)

	require.False(t, removed)
	assert.Equal(t, 15.0, updated.Shares)
	assert.InDelta(t, 110.0, updated.AveragePrice, 1e-9) // (10*100+5*130)/15
	assert.Equal(t, "h1", updated.ID)
}

func TestApplyTransaction_BuyCreatesHolding(t *testing.T) {
	tx := Transaction{
		PortfolioID: "p1",
		Ticker:      "MSFT",
		Shares:      2,
		Price:       300,
		Type:        TransactionBuy,
	}

	created, removed := ApplyTransaction(nil, tx)

	require.False(t, removed)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "p1", created.PortfolioID)
	assert.Equal(t, "MSFT", created.Ticker)
	assert.Equal(t, 2.0, created.Shares)
	assert.Equal(t, 300.0, created.AveragePrice)
}

func TestApplyTransaction_SellKeepsAveragePrice(t *testing.T) {
	existing := &Holding{Ticker: "AAPL", Shares: 15, AveragePrice: 110}

	tx := Transaction{Ticker: "AAPL", Shares: 5, Price: 150, Type: TransactionSell}

	updated, removed := ApplyTransaction(existing, tx)

	require.False(t, removed)
	assert.Equal(t, 10.0, updated.Shares)
	assert.Equal(t, 110.0, updated.AveragePrice)
}

func TestApplyTransaction_SellToZeroRemovesHolding(t *testing.T) {
	existing := &Holding{Ticker: "AAPL", Shares: 15, AveragePrice: 110}

	tx := Transaction{Ticker: "AAPL", Shares: 15, Price: 150, Type: TransactionSell}

	_, removed := ApplyTransaction(existing, tx)

	assert.True(t, removed)
}

func TestApplyTransaction_OversellRemovesHolding(t *testing.T) {
	existing := &Holding{Ticker: "AAPL", Shares: 10, AveragePrice: 100}

	tx := Transaction{Ticker: "AAPL", Shares: 12, Price: 150, Type: TransactionSell}

	_, removed := ApplyTransaction(existing, tx)

	assert.True(t, removed)
}

func TestApplyTransaction_DividendLeavesHoldingUntouched(t *testing.T) {
	existing := &Holding{Ticker: "AAPL", Shares: 10, AveragePrice: 100}

	tx := Transaction{Ticker: "AAPL", Shares: 10, Price: 0.24, Type: TransactionDividend}

	updated, removed := ApplyTransaction(existing, tx)

	require.False(t, removed)
	assert.Equal(t, 10.0, updated.Shares)
	assert.Equal(t, 100.0, updated.AveragePrice)
}

func TestApplyTransaction_SellWithoutPosition(t *testing.T) {
	tx := Transaction{Ticker: "AAPL", Shares: 5, Price: 150, Type: TransactionSell}

	_, removed := ApplyTransaction(nil, tx)

	assert.True(t, removed)
}

func TestReplayTransactions_OrderDependence(t *testing.T) {
	// Two buys must apply in original order for the weighted average to hold
	txs := []Transaction{
		{Ticker: "AAPL", Shares: 10, Price: 100, Type: TransactionBuy},
		{Ticker: "AAPL", Shares: 5, Price: 130, Type: TransactionBuy},
		{Ticker: "MSFT", Shares: 2, Price: 300, Type: TransactionBuy},
	}

	holdings := ReplayTransactions(txs)

	require.Len(t, holdings, 2)
	assert.Equal(t, "AAPL", holdings[0].Ticker)
	assert.Equal(t, 15.0, holdings[0].Shares)
	assert.InDelta(t, 110.0, holdings[0].AveragePrice, 1e-9)
	assert.Equal(t, "MSFT", holdings[1].Ticker)
}

func TestReplayTransactions_SellOutDropsPosition(t *testing.T) {
	txs := []Transaction{
		{Ticker: "AAPL", Shares: 10, Price: 100, Type: TransactionBuy},
		{Ticker: "AAPL", Shares: 5, Price: 130, Type: TransactionBuy},
		{Ticker: "AAPL", Shares: 15, Price: 150, Type: TransactionSell},
	}

	holdings := ReplayTransactions(txs)

	assert.Empty(t, holdings)
}

func TestReplayTransactions_SharesAreSignedSum(t *testing.T) {
	txs := []Transaction{
		{Ticker: "AAPL", Shares: 10, Price: 100, Type: TransactionBuy},
		{Ticker: "AAPL", Shares: 4, Price: 120, Type: TransactionSell},
		{Ticker: "AAPL", Shares: 6, Price: 90, Type: TransactionBuy},
	}

	holdings := ReplayTransactions(txs)

	require.Len(t, holdings, 1)
	assert.Equal(t, 12.0, holdings[0].Shares)
	// Average price is weighted over buys only: sell left it at 100,
	// then (6*100 + 6*90) / 12
	assert.InDelta(t, 95.0, holdings[0].AveragePrice, 1e-9)
}

func TestReplayTransactions_RebuyAfterSellOut(t *testing.T) {
	// Selling out and reopening the position must yield exactly one holding
	// at the new cost basis
	txs := []Transaction{
		{Ticker: "AAPL", Shares: 10, Price: 100, Type: TransactionBuy},
		{Ticker: "AAPL", Shares: 10, Price: 150, Type: TransactionSell},
		{Ticker: "AAPL", Shares: 5, Price: 120, Type: TransactionBuy},
		{Ticker: "MSFT", Shares: 2, Price: 300, Type: TransactionBuy},
	}

	holdings := ReplayTransactions(txs)

	require.Len(t, holdings, 2)
	assert.Equal(t, "AAPL", holdings[0].Ticker)
	assert.Equal(t, 5.0, holdings[0].Shares)
	assert.InDelta(t, 120.0, holdings[0].AveragePrice, 1e-9)
	assert.Equal(t, "MSFT", holdings[1].Ticker)
}
