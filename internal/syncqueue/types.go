// Package syncqueue provides the durable, ordered log of pending mutations.
// Operations are validated and encoded at enqueue time, so a malformed
// operation can never enter the durable queue.
package syncqueue

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/folio/internal/domain"
)

// OpType identifies the kind of queued mutation
type OpType string

const (
	OpCreatePortfolio     OpType = "CREATE_PORTFOLIO"
	OpUpdatePortfolio     OpType = "UPDATE_PORTFOLIO"
	OpDeletePortfolio     OpType = "DELETE_PORTFOLIO"
	OpAddHolding          OpType = "ADD_HOLDING"
	OpRemoveHolding       OpType = "REMOVE_HOLDING"
	OpAddTransaction      OpType = "ADD_TRANSACTION"
	OpCreateWatchlist     OpType = "CREATE_WATCHLIST"
	OpRenameWatchlist     OpType = "RENAME_WATCHLIST"
	OpDeleteWatchlist     OpType = "DELETE_WATCHLIST"
	OpAddWatchlistItem    OpType = "ADD_WATCHLIST_ITEM"
	OpRemoveWatchlistItem OpType = "REMOVE_WATCHLIST_ITEM"
)

// Scope separates independent replay streams. Operations in different scopes
// have no ordering relationship and may drain concurrently; within a scope
// replay is strictly FIFO.
type Scope string

const (
	ScopePortfolio Scope = "portfolio"
	ScopeWatchlist Scope = "watchlist"
)

// Payload is the typed data carried by one operation. Each payload knows its
// operation type, its replay scope, and the entity key used to identify
// causally dependent operations.
type Payload interface {
	OpType() OpType
	Scope() Scope
	// EntityKey groups operations that depend on each other: when one is
	// rejected by the remote service, pending operations with the same key
	// are dropped alongside it (their precondition is gone).
	EntityKey() string
	Validate() error
}

// Operation is one queued mutation
type Operation struct {
	ID         string
	Type       OpType
	Payload    Payload
	Attempts   int
	EnqueuedAt int64 // epoch millis
	Position   int64 // monotonically increasing insertion order
}

// CreatePortfolioPayload creates a portfolio. Only applied online; portfolio
// creation requires a server-assigned id and is rejected while offline.
type CreatePortfolioPayload struct {
	Name string `msgpack:"name"`
}

func (p *CreatePortfolioPayload) OpType() OpType    { return OpCreatePortfolio }
func (p *CreatePortfolioPayload) Scope() Scope      { return ScopePortfolio }
func (p *CreatePortfolioPayload) EntityKey() string { return "portfolio:new" }
func (p *CreatePortfolioPayload) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("portfolio name must not be empty")
	}
	return nil
}

// UpdatePortfolioPayload renames a portfolio
type UpdatePortfolioPayload struct {
	PortfolioID string `msgpack:"portfolio_id"`
	Name        string `msgpack:"name"`
}

func (p *UpdatePortfolioPayload) OpType() OpType    { return OpUpdatePortfolio }
func (p *UpdatePortfolioPayload) Scope() Scope      { return ScopePortfolio }
func (p *UpdatePortfolioPayload) EntityKey() string { return "portfolio:" + p.PortfolioID }
func (p *UpdatePortfolioPayload) Validate() error {
	if p.PortfolioID == "" {
		return fmt.Errorf("portfolio id must not be empty")
	}
	if p.Name == "" {
		return fmt.Errorf("portfolio name must not be empty")
	}
	return nil
}

// DeletePortfolioPayload deletes a portfolio and, server-side, its holdings
// and transactions
type DeletePortfolioPayload struct {
	PortfolioID string `msgpack:"portfolio_id"`
}

func (p *DeletePortfolioPayload) OpType() OpType    { return OpDeletePortfolio }
func (p *DeletePortfolioPayload) Scope() Scope      { return ScopePortfolio }
func (p *DeletePortfolioPayload) EntityKey() string { return "portfolio:" + p.PortfolioID }
func (p *DeletePortfolioPayload) Validate() error {
	if p.PortfolioID == "" {
		return fmt.Errorf("portfolio id must not be empty")
	}
	return nil
}

// AddHoldingPayload upserts a holding. HoldingID is client-generated so the
// remote upsert stays idempotent across retries.
type AddHoldingPayload struct {
	HoldingID   string  `msgpack:"holding_id"`
	PortfolioID string  `msgpack:"portfolio_id"`
	Ticker      string  `msgpack:"ticker"`
	Shares      float64 `msgpack:"shares"`
	Price       float64 `msgpack:"price"`
}

func (p *AddHoldingPayload) OpType() OpType { return OpAddHolding }
func (p *AddHoldingPayload) Scope() Scope   { return ScopePortfolio }
func (p *AddHoldingPayload) EntityKey() string {
	return "holding:" + p.PortfolioID + "/" + p.Ticker
}
func (p *AddHoldingPayload) Validate() error {
	if p.HoldingID == "" || p.PortfolioID == "" || p.Ticker == "" {
		return fmt.Errorf("holding id, portfolio id and ticker must not be empty")
	}
	if p.Shares <= 0 {
		return fmt.Errorf("shares must be positive, got %v", p.Shares)
	}
	if p.Price < 0 {
		return fmt.Errorf("price must not be negative, got %v", p.Price)
	}
	return nil
}

// RemoveHoldingPayload deletes a holding
type RemoveHoldingPayload struct {
	HoldingID   string `msgpack:"holding_id"`
	PortfolioID string `msgpack:"portfolio_id"`
	Ticker      string `msgpack:"ticker"`
}

func (p *RemoveHoldingPayload) OpType() OpType { return OpRemoveHolding }
func (p *RemoveHoldingPayload) Scope() Scope   { return ScopePortfolio }
func (p *RemoveHoldingPayload) EntityKey() string {
	return "holding:" + p.PortfolioID + "/" + p.Ticker
}
func (p *RemoveHoldingPayload) Validate() error {
	if p.HoldingID == "" {
		return fmt.Errorf("holding id must not be empty")
	}
	return nil
}

// AddTransactionPayload appends a ledger entry and implies the corresponding
// holding update on replay
type AddTransactionPayload struct {
	TransactionID string                 `msgpack:"transaction_id"`
	PortfolioID   string                 `msgpack:"portfolio_id"`
	Ticker        string                 `msgpack:"ticker"`
	Shares        float64                `msgpack:"shares"`
	Price         float64                `msgpack:"price"`
	Type          domain.TransactionType `msgpack:"type"`
	Date          int64                  `msgpack:"date"`
	Notes         string                 `msgpack:"notes"`
}

func (p *AddTransactionPayload) OpType() OpType { return OpAddTransaction }
func (p *AddTransactionPayload) Scope() Scope   { return ScopePortfolio }
func (p *AddTransactionPayload) EntityKey() string {
	return "holding:" + p.PortfolioID + "/" + p.Ticker
}
func (p *AddTransactionPayload) Validate() error {
	if p.TransactionID == "" || p.PortfolioID == "" || p.Ticker == "" {
		return fmt.Errorf("transaction id, portfolio id and ticker must not be empty")
	}
	if !p.Type.Valid() {
		return fmt.Errorf("unknown transaction type %q", p.Type)
	}
	if p.Shares <= 0 {
		return fmt.Errorf("shares must be positive, got %v", p.Shares)
	}
	if p.Price < 0 {
		return fmt.Errorf("price must not be negative, got %v", p.Price)
	}
	return nil
}

// Transaction converts the payload to its domain ledger entry
func (p *AddTransactionPayload) Transaction() domain.Transaction {
	return domain.Transaction{
		ID:          p.TransactionID,
		PortfolioID: p.PortfolioID,
		Ticker:      p.Ticker,
		Shares:      p.Shares,
		Price:       p.Price,
		Type:        p.Type,
		Date:        p.Date,
		Notes:       p.Notes,
	}
}

// CreateWatchlistPayload creates a watchlist. Online-only, same policy as
// portfolio creation.
type CreateWatchlistPayload struct {
	Name string `msgpack:"name"`
}

func (p *CreateWatchlistPayload) OpType() OpType    { return OpCreateWatchlist }
func (p *CreateWatchlistPayload) Scope() Scope      { return ScopeWatchlist }
func (p *CreateWatchlistPayload) EntityKey() string { return "watchlist:new" }
func (p *CreateWatchlistPayload) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("watchlist name must not be empty")
	}
	return nil
}

// RenameWatchlistPayload renames a watchlist
type RenameWatchlistPayload struct {
	WatchlistID string `msgpack:"watchlist_id"`
	Name        string `msgpack:"name"`
}

func (p *RenameWatchlistPayload) OpType() OpType    { return OpRenameWatchlist }
func (p *RenameWatchlistPayload) Scope() Scope      { return ScopeWatchlist }
func (p *RenameWatchlistPayload) EntityKey() string { return "watchlist:" + p.WatchlistID }
func (p *RenameWatchlistPayload) Validate() error {
	if p.WatchlistID == "" || p.Name == "" {
		return fmt.Errorf("watchlist id and name must not be empty")
	}
	return nil
}

// DeleteWatchlistPayload deletes a watchlist and its items
type DeleteWatchlistPayload struct {
	WatchlistID string `msgpack:"watchlist_id"`
}

func (p *DeleteWatchlistPayload) OpType() OpType    { return OpDeleteWatchlist }
func (p *DeleteWatchlistPayload) Scope() Scope      { return ScopeWatchlist }
func (p *DeleteWatchlistPayload) EntityKey() string { return "watchlist:" + p.WatchlistID }
func (p *DeleteWatchlistPayload) Validate() error {
	if p.WatchlistID == "" {
		return fmt.Errorf("watchlist id must not be empty")
	}
	return nil
}

// AddWatchlistItemPayload adds a ticker to a watchlist
type AddWatchlistItemPayload struct {
	ItemID      string `msgpack:"item_id"`
	WatchlistID string `msgpack:"watchlist_id"`
	Ticker      string `msgpack:"ticker"`
}

func (p *AddWatchlistItemPayload) OpType() OpType    { return OpAddWatchlistItem }
func (p *AddWatchlistItemPayload) Scope() Scope      { return ScopeWatchlist }
func (p *AddWatchlistItemPayload) EntityKey() string { return "watchlist:" + p.WatchlistID }
func (p *AddWatchlistItemPayload) Validate() error {
	if p.ItemID == "" || p.WatchlistID == "" || p.Ticker == "" {
		return fmt.Errorf("item id, watchlist id and ticker must not be empty")
	}
	return nil
}

// RemoveWatchlistItemPayload removes a ticker from a watchlist
type RemoveWatchlistItemPayload struct {
	ItemID      string `msgpack:"item_id"`
	WatchlistID string `msgpack:"watchlist_id"`
}

func (p *RemoveWatchlistItemPayload) OpType() OpType    { return OpRemoveWatchlistItem }
func (p *RemoveWatchlistItemPayload) Scope() Scope      { return ScopeWatchlist }
func (p *RemoveWatchlistItemPayload) EntityKey() string { return "watchlist:" + p.WatchlistID }
func (p *RemoveWatchlistItemPayload) Validate() error {
	if p.ItemID == "" {
		return fmt.Errorf("item id must not be empty")
	}
	return nil
}

// encodePayload serializes a payload for durable storage
func encodePayload(p Payload) ([]byte, error) {
	data, err := msgpack.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", p.OpType(), err)
	}
	return data, nil
}

// decodePayload deserializes a stored payload by operation type
func decodePayload(opType OpType, data []byte) (Payload, error) {
	var payload Payload
	switch opType {
	case OpCreatePortfolio:
		payload = &CreatePortfolioPayload{}
	case OpUpdatePortfolio:
		payload = &UpdatePortfolioPayload{}
	case OpDeletePortfolio:
		payload = &DeletePortfolioPayload{}
	case OpAddHolding:
		payload = &AddHoldingPayload{}
	case OpRemoveHolding:
		payload = &RemoveHoldingPayload{}
	case OpAddTransaction:
		payload = &AddTransactionPayload{}
	case OpCreateWatchlist:
		payload = &CreateWatchlistPayload{}
	case OpRenameWatchlist:
		payload = &RenameWatchlistPayload{}
	case OpDeleteWatchlist:
		payload = &DeleteWatchlistPayload{}
	case OpAddWatchlistItem:
		payload = &AddWatchlistItemPayload{}
	case OpRemoveWatchlistItem:
		payload = &RemoveWatchlistItemPayload{}
	default:
		return nil, fmt.Errorf("unknown operation type %q", opType)
	}

	if err := msgpack.Unmarshal(data, payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", opType, err)
	}
	return payload, nil
}
