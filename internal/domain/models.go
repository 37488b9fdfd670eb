// Package domain contains the core entity types and the pure functions that
// derive holding and portfolio state from the transaction ledger. The domain
// layer has no infrastructure dependencies.
package domain

import (
	"encoding/json"
	"time"
)

// TransactionType is the kind of ledger entry
type TransactionType string

const (
	TransactionBuy      TransactionType = "BUY"
	TransactionSell     TransactionType = "SELL"
	TransactionDividend TransactionType = "DIVIDEND"
)

// Valid reports whether t is a known transaction type
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionBuy, TransactionSell, TransactionDividend:
		return true
	}
	return false
}

// Portfolio is a user portfolio with its holdings and derived aggregates.
// Aggregate fields are recomputed from holdings and quotes, never stored as
// source of truth.
type Portfolio struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	UserID    string     `json:"user_id"`
	Holdings  []Holding  `json:"holdings"`
	Totals    Aggregates `json:"totals"`
	Synced    bool       `json:"synced"`
	CreatedAt int64      `json:"created_at"`
	UpdatedAt int64      `json:"updated_at"`
}

// Aggregates are the derived portfolio-level figures
type Aggregates struct {
	TotalValue   float64 `json:"total_value"`
	TotalCost    float64 `json:"total_cost"`
	TotalGain    float64 `json:"total_gain"`
	TotalGainPct float64 `json:"total_gain_pct"`
	TodayGain    float64 `json:"today_gain"`
	TodayGainPct float64 `json:"today_gain_pct"`
}

// Holding is the current position in one ticker within a portfolio.
// Shares and AveragePrice are derived from the BUY/SELL ledger: shares is the
// signed sum of transaction shares, average price the cost-basis-weighted
// average of buys.
type Holding struct {
	ID           string  `json:"id"`
	PortfolioID  string  `json:"portfolio_id"`
	Ticker       string  `json:"ticker"`
	Shares       float64 `json:"shares"`
	AveragePrice float64 `json:"average_price"`
	Synced       bool    `json:"synced"`
	CreatedAt    int64   `json:"created_at"`
	UpdatedAt    int64   `json:"updated_at"`
}

// Transaction is one immutable ledger entry. Shares is always positive;
// direction is carried by Type.
type Transaction struct {
	ID          string          `json:"id"`
	PortfolioID string          `json:"portfolio_id"`
	Ticker      string          `json:"ticker"`
	Shares      float64         `json:"shares"`
	Price       float64         `json:"price"`
	Type        TransactionType `json:"type"`
	Date        int64           `json:"date"`
	Notes       string          `json:"notes,omitempty"`
	Synced      bool            `json:"synced"`
	CreatedAt   int64           `json:"created_at"`
}

// Watchlist is a named list of tickers the user follows
type Watchlist struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	UserID    string          `json:"user_id"`
	Items     []WatchlistItem `json:"items"`
	Synced    bool            `json:"synced"`
	CreatedAt int64           `json:"created_at"`
	UpdatedAt int64           `json:"updated_at"`
}

// WatchlistItem is one ticker on a watchlist
type WatchlistItem struct {
	ID          string `json:"id"`
	WatchlistID string `json:"watchlist_id"`
	Ticker      string `json:"ticker"`
	Synced      bool   `json:"synced"`
	CreatedAt   int64  `json:"created_at"`
}

// Quote is cached market data for one ticker. The blobs are stored as
// received from the remote service; only Info is interpreted locally.
type Quote struct {
	Ticker     string          `json:"ticker"`
	Info       json.RawMessage `json:"info,omitempty"`
	History    json.RawMessage `json:"history,omitempty"`
	Financials json.RawMessage `json:"financials,omitempty"`
	Dividends  json.RawMessage `json:"dividends,omitempty"`
	UpdatedAt  int64           `json:"updated_at"`
}

// QuoteInfo is the slice of the info blob needed for aggregate computation
type QuoteInfo struct {
	Price            float64 `json:"regular_market_price"`
	DayChange        float64 `json:"regular_market_change"`
	DayChangePercent float64 `json:"regular_market_change_percent"`
}

// ParseInfo decodes the info blob. Returns false when the quote carries no
// usable info.
func (q *Quote) ParseInfo() (QuoteInfo, bool) {
	if len(q.Info) == 0 {
		return QuoteInfo{}, false
	}
	var info QuoteInfo
	if err := json.Unmarshal(q.Info, &info); err != nil {
		return QuoteInfo{}, false
	}
	return info, true
}

// NowMillis returns the current time as epoch milliseconds, the timestamp
// representation used throughout local storage.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
