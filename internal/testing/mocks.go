package testing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/netmon"
)

// FakeMonitor is a controllable connectivity source for tests
type FakeMonitor struct {
	mu     sync.Mutex
	online bool
	ch     chan netmon.Transition
}

// NewFakeMonitor creates a fake monitor in the given initial state
func NewFakeMonitor(online bool) *FakeMonitor {
	return &FakeMonitor{online: online, ch: make(chan netmon.Transition, 8)}
}

// IsOnline reports the current fake state
func (m *FakeMonitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe returns the transition channel
func (m *FakeMonitor) Subscribe() <-chan netmon.Transition { return m.ch }

// LastChecked returns the current time, the fake never goes stale
func (m *FakeMonitor) LastChecked() time.Time { return time.Now() }

// CheckNow returns the current fake state
func (m *FakeMonitor) CheckNow() bool { return m.IsOnline() }

// MarkOffline flips the fake state to offline without emitting a transition
func (m *FakeMonitor) MarkOffline() {
	m.mu.Lock()
	m.online = false
	m.mu.Unlock()
}

// SetOnline flips the fake state without emitting a transition, simulating
// a missed edge
func (m *FakeMonitor) SetOnline(online bool) {
	m.mu.Lock()
	m.online = online
	m.mu.Unlock()
}

// GoOnline flips the fake state to online and emits a transition
func (m *FakeMonitor) GoOnline() {
	m.mu.Lock()
	m.online = true
	m.mu.Unlock()
	m.ch <- netmon.Transition{Online: true, At: time.Now()}
}

// GoOffline flips the fake state to offline and emits a transition
func (m *FakeMonitor) GoOffline() {
	m.mu.Lock()
	m.online = false
	m.mu.Unlock()
	m.ch <- netmon.Transition{Online: false, At: time.Now()}
}

// FakeAdapter is an in-memory remote service. It records every call and can
// be told to fail specific entities.
type FakeAdapter struct {
	mu    sync.Mutex
	calls []string

	FailHolding     map[string]error // keyed by holding id
	FailTransaction map[string]error // keyed by transaction id
	FailPortfolio   map[string]error // keyed by portfolio id ("" matches creates)

	Portfolios   []domain.Portfolio
	Transactions map[string][]domain.Transaction
	Watchlists   []domain.Watchlist
	Quotes       map[string]domain.Quote
}

// NewFakeAdapter creates an empty fake adapter
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		FailHolding:     make(map[string]error),
		FailTransaction: make(map[string]error),
		FailPortfolio:   make(map[string]error),
		Transactions:    make(map[string][]domain.Transaction),
		Quotes:          make(map[string]domain.Quote),
	}
}

func (a *FakeAdapter) record(call string) {
	a.mu.Lock()
	a.calls = append(a.calls, call)
	a.mu.Unlock()
}

// Calls returns a copy of the recorded call log
func (a *FakeAdapter) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.calls))
	copy(out, a.calls)
	return out
}

// UpsertPortfolio assigns a server id on create and echoes the record back
func (a *FakeAdapter) UpsertPortfolio(_ context.Context, p domain.Portfolio) (*domain.Portfolio, error) {
	a.record("upsert_portfolio:" + p.Name)
	a.mu.Lock()
	err := a.FailPortfolio[p.ID]
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Synced = true
	return &p, nil
}

// DeletePortfolio records the delete
func (a *FakeAdapter) DeletePortfolio(_ context.Context, id string) error {
	a.record("delete_portfolio:" + id)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.FailPortfolio[id]
}

// UpsertHolding echoes the record back unless told to fail
func (a *FakeAdapter) UpsertHolding(_ context.Context, h domain.Holding) (*domain.Holding, error) {
	a.record("upsert_holding:" + h.Ticker)
	a.mu.Lock()
	err := a.FailHolding[h.ID]
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	h.Synced = true
	return &h, nil
}

// DeleteHolding records the delete
func (a *FakeAdapter) DeleteHolding(_ context.Context, id string) error {
	a.record("delete_holding:" + id)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.FailHolding[id]
}

// InsertTransaction echoes the record back unless told to fail
func (a *FakeAdapter) InsertTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	a.record("insert_transaction:" + tx.ID)
	a.mu.Lock()
	err := a.FailTransaction[tx.ID]
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	tx.Synced = true
	return &tx, nil
}

// UpsertWatchlist assigns a server id on create and echoes the record back
func (a *FakeAdapter) UpsertWatchlist(_ context.Context, w domain.Watchlist) (*domain.Watchlist, error) {
	a.record("upsert_watchlist:" + w.Name)
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	w.Synced = true
	return &w, nil
}

// DeleteWatchlist records the delete
func (a *FakeAdapter) DeleteWatchlist(_ context.Context, id string) error {
	a.record("delete_watchlist:" + id)
	return nil
}

// UpsertWatchlistItem echoes the record back
func (a *FakeAdapter) UpsertWatchlistItem(_ context.Context, item domain.WatchlistItem) (*domain.WatchlistItem, error) {
	a.record("upsert_watchlist_item:" + item.Ticker)
	item.Synced = true
	return &item, nil
}

// DeleteWatchlistItem records the delete
func (a *FakeAdapter) DeleteWatchlistItem(_ context.Context, id string) error {
	a.record("delete_watchlist_item:" + id)
	return nil
}

// ListPortfolios returns the configured server state
func (a *FakeAdapter) ListPortfolios(_ context.Context) ([]domain.Portfolio, error) {
	a.record("list_portfolios")
	return a.Portfolios, nil
}

// ListHoldings returns the holdings of the configured portfolio
func (a *FakeAdapter) ListHoldings(_ context.Context, portfolioID string) ([]domain.Holding, error) {
	for _, p := range a.Portfolios {
		if p.ID == portfolioID {
			return p.Holdings, nil
		}
	}
	return nil, nil
}

// ListTransactions returns the configured ledger
func (a *FakeAdapter) ListTransactions(_ context.Context, portfolioID string) ([]domain.Transaction, error) {
	return a.Transactions[portfolioID], nil
}

// ListWatchlists returns the configured server state
func (a *FakeAdapter) ListWatchlists(_ context.Context) ([]domain.Watchlist, error) {
	a.record("list_watchlists")
	return a.Watchlists, nil
}

// ListWatchlistItems returns the items of the configured watchlist
func (a *FakeAdapter) ListWatchlistItems(_ context.Context, watchlistID string) ([]domain.WatchlistItem, error) {
	for _, w := range a.Watchlists {
		if w.ID == watchlistID {
			return w.Items, nil
		}
	}
	return nil, nil
}

// GetQuote returns the configured quote, or an empty one for unknown tickers
func (a *FakeAdapter) GetQuote(_ context.Context, ticker string) (*domain.Quote, error) {
	a.record("get_quote:" + ticker)
	a.mu.Lock()
	q, ok := a.Quotes[ticker]
	a.mu.Unlock()
	if ok {
		q.UpdatedAt = domain.NowMillis()
		return &q, nil
	}
	return &domain.Quote{Ticker: ticker, UpdatedAt: domain.NowMillis()}, nil
}
