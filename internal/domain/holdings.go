package domain

import "github.com/google/uuid"

// ApplyTransaction folds one BUY or SELL ledger entry into a holding.
//
// Rules:
//   - BUY with no existing holding creates one at the transaction price.
//   - BUY against an existing holding adds shares and moves the average price
//     to the cost-basis-weighted average of all buys.
//   - SELL reduces shares and leaves the average price unchanged.
//   - A SELL that brings shares to zero (or below) removes the holding; a
//     position is never retained at zero shares.
//   - DIVIDEND entries do not touch the holding.
//
// Returns the resulting holding and whether it should be removed. The input
// holding is not mutated.
func ApplyTransaction(existing *Holding, tx Transaction) (Holding, bool) {
	now := NowMillis()

	if existing == nil {
		if tx.Type != TransactionBuy {
			// SELL/DIVIDEND without a position: nothing to derive
			return Holding{}, true
		}
		return Holding{
			ID:           uuid.NewString(),
			PortfolioID:  tx.PortfolioID,
			Ticker:       tx.Ticker,
			Shares:       tx.Shares,
			AveragePrice: tx.Price,
			CreatedAt:    now,
			UpdatedAt:    now,
		}, false
	}

	updated := *existing
	updated.UpdatedAt = now

	switch tx.Type {
	case TransactionBuy:
		oldCost := existing.Shares * existing.AveragePrice
		newShares := existing.Shares + tx.Shares
		updated.Shares = newShares
		updated.AveragePrice = (oldCost + tx.Shares*tx.Price) / newShares

	case TransactionSell:
		newShares := existing.Shares - tx.Shares
		if newShares <= 0 {
			return updated, true
		}
		updated.Shares = newShares

	case TransactionDividend:
		// Dividends are ledger-only; the position is unaffected
	}

	return updated, false
}

// ReplayTransactions derives the full holding set of a portfolio from its
// ledger, applying entries in order. Used to verify mirror state and to
// rebuild positions after reconciliation.
func ReplayTransactions(txs []Transaction) []Holding {
	byTicker := make(map[string]*Holding)
	seen := make(map[string]struct{})
	var order []string

	for _, tx := range txs {
		existing := byTicker[tx.Ticker]
		updated, removed := ApplyTransaction(existing, tx)
		if removed {
			delete(byTicker, tx.Ticker)
			continue
		}
		if _, ok := seen[tx.Ticker]; !ok {
			// A ticker keeps its first-appearance slot even when the position
			// is sold out and reopened later
			seen[tx.Ticker] = struct{}{}
			order = append(order, tx.Ticker)
		}
		h := updated
		byTicker[tx.Ticker] = &h
	}

	holdings := make([]Holding, 0, len(byTicker))
	for _, ticker := range order {
		if h, ok := byTicker[ticker]; ok {
			holdings = append(holdings, *h)
		}
	}
	return holdings
}
