// Package portfolio implements the UI-facing portfolio operations.
// Mutations are applied to the local mirror optimistically and routed through
// the sync coordinator for remote application, so every operation works
// offline except portfolio creation.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/mirror"
	"github.com/aristath/folio/internal/syncer"
	"github.com/aristath/folio/internal/syncqueue"
)

// ErrNotFound is returned when the referenced portfolio or holding does not
// exist in the mirror.
var ErrNotFound = errors.New("not found")

// ErrNoPosition is returned when a sell references a ticker with no open
// position.
var ErrNoPosition = errors.New("no open position")

// Service handles portfolio, holding and transaction operations
type Service struct {
	coord        *syncer.Coordinator
	monitor      syncer.ConnectivitySource
	portfolios   *mirror.PortfolioRepository
	transactions *mirror.TransactionRepository
	quotes       *mirror.QuoteCache
	log          zerolog.Logger

	// Per-portfolio locks serialize racing UI actions on the same portfolio
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewService creates a portfolio service
func NewService(
	coord *syncer.Coordinator,
	monitor syncer.ConnectivitySource,
	portfolios *mirror.PortfolioRepository,
	transactions *mirror.TransactionRepository,
	quotes *mirror.QuoteCache,
	log zerolog.Logger,
) *Service {
	return &Service{
		coord:        coord,
		monitor:      monitor,
		portfolios:   portfolios,
		transactions: transactions,
		quotes:       quotes,
		log:          log.With().Str("component", "portfolio_service").Logger(),
		locks:        make(map[string]*sync.Mutex),
	}
}

func (s *Service) lockPortfolio(id string) func() {
	s.locksMu.Lock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	s.locksMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// List returns all portfolios with recomputed aggregates. When online, the
// mirror is refreshed from the server first; a failed refresh falls back to
// the mirror silently, since stale data beats no data.
func (s *Service) List(ctx context.Context) ([]domain.Portfolio, error) {
	if s.monitor.IsOnline() {
		if err := s.coord.RefreshFromRemote(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Refresh failed, serving mirrored state")
		}
	}

	portfolios, err := s.portfolios.LoadAll()
	if err != nil {
		return nil, err
	}

	for i := range portfolios {
		if err := s.recomputeTotals(&portfolios[i]); err != nil {
			return nil, err
		}
	}
	return portfolios, nil
}

// Get returns one portfolio with recomputed aggregates, or nil
func (s *Service) Get(ctx context.Context, id string) (*domain.Portfolio, error) {
	p, err := s.portfolios.Get(id)
	if err != nil || p == nil {
		return nil, err
	}
	if err := s.recomputeTotals(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Create creates a portfolio. Online only: the entity is not mirrored until
// the server has assigned its id.
func (s *Service) Create(ctx context.Context, name string) (*domain.Portfolio, error) {
	result, err := s.coord.Execute(ctx, &syncqueue.CreatePortfolioPayload{Name: name})
	if err != nil {
		return nil, err
	}
	p, ok := result.(*domain.Portfolio)
	if !ok {
		return nil, fmt.Errorf("unexpected create result %T", result)
	}
	return p, nil
}

// Rename updates a portfolio's name, optimistically mirrored and queued
func (s *Service) Rename(ctx context.Context, id, name string) error {
	unlock := s.lockPortfolio(id)
	defer unlock()

	p, err := s.portfolios.Get(id)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("portfolio %s: %w", id, ErrNotFound)
	}

	p.Name = name
	if err := s.portfolios.UpsertPortfolio(*p, false); err != nil {
		return err
	}

	_, err = s.coord.Submit(&syncqueue.UpdatePortfolioPayload{PortfolioID: id, Name: name})
	return err
}

// Delete removes a portfolio everywhere. The mirror delete cascades to
// holdings and transactions immediately; the remote delete follows through
// the queue.
func (s *Service) Delete(ctx context.Context, id string) error {
	unlock := s.lockPortfolio(id)
	defer unlock()

	if err := s.portfolios.DeletePortfolio(id); err != nil {
		return err
	}
	_, err := s.coord.Submit(&syncqueue.DeletePortfolioPayload{PortfolioID: id})
	return err
}

// AddHolding buys into a position. The holding is merged with any existing
// position for the ticker (weighted average), a BUY ledger entry is recorded,
// and both are queued for remote application in that order.
func (s *Service) AddHolding(ctx context.Context, portfolioID, ticker string, shares, price float64) (*domain.Holding, error) {
	unlock := s.lockPortfolio(portfolioID)
	defer unlock()

	tx := domain.Transaction{
		ID:          uuid.NewString(),
		PortfolioID: portfolioID,
		Ticker:      ticker,
		Shares:      shares,
		Price:       price,
		Type:        domain.TransactionBuy,
		Date:        domain.NowMillis(),
	}

	existing, err := s.portfolios.GetHolding(portfolioID, ticker)
	if err != nil {
		return nil, err
	}

	updated, _ := domain.ApplyTransaction(existing, tx)
	if err := s.portfolios.UpsertHolding(updated, false); err != nil {
		return nil, err
	}
	if err := s.transactions.Insert(tx, false); err != nil {
		return nil, err
	}

	_, err = s.coord.Submit(&syncqueue.AddHoldingPayload{
		HoldingID:   updated.ID,
		PortfolioID: portfolioID,
		Ticker:      ticker,
		Shares:      updated.Shares,
		Price:       updated.AveragePrice,
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.coord.Submit(txPayload(tx)); err != nil {
		return nil, err
	}

	return &updated, nil
}

// RemoveHolding drops a position without recording a sale
func (s *Service) RemoveHolding(ctx context.Context, portfolioID, ticker string) error {
	unlock := s.lockPortfolio(portfolioID)
	defer unlock()

	holding, err := s.portfolios.GetHolding(portfolioID, ticker)
	if err != nil {
		return err
	}
	if holding == nil {
		return fmt.Errorf("holding %s in portfolio %s: %w", ticker, portfolioID, ErrNotFound)
	}

	if err := s.portfolios.DeleteHolding(holding.ID); err != nil {
		return err
	}

	_, err = s.coord.Submit(&syncqueue.RemoveHoldingPayload{
		HoldingID:   holding.ID,
		PortfolioID: portfolioID,
		Ticker:      ticker,
	})
	return err
}

// AddTransaction appends a ledger entry and folds it into the derived
// holding. The server derives its own holding state from the ledger, so only
// the transaction is queued.
func (s *Service) AddTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if !tx.Type.Valid() {
		return nil, fmt.Errorf("unknown transaction type %q", tx.Type)
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Date == 0 {
		tx.Date = domain.NowMillis()
	}

	unlock := s.lockPortfolio(tx.PortfolioID)
	defer unlock()

	existing, err := s.portfolios.GetHolding(tx.PortfolioID, tx.Ticker)
	if err != nil {
		return nil, err
	}
	if existing == nil && tx.Type == domain.TransactionSell {
		return nil, fmt.Errorf("cannot sell %s in portfolio %s: %w", tx.Ticker, tx.PortfolioID, ErrNoPosition)
	}

	updated, removed := domain.ApplyTransaction(existing, tx)
	if removed {
		if existing != nil {
			if err := s.portfolios.DeleteHolding(existing.ID); err != nil {
				return nil, err
			}
		}
	} else {
		if err := s.portfolios.UpsertHolding(updated, false); err != nil {
			return nil, err
		}
	}

	if err := s.transactions.Insert(tx, false); err != nil {
		return nil, err
	}

	if _, err := s.coord.Submit(txPayload(tx)); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Transactions returns the mirrored ledger of one portfolio
func (s *Service) Transactions(ctx context.Context, portfolioID string) ([]domain.Transaction, error) {
	return s.transactions.ListByPortfolio(portfolioID)
}

// Quote returns cached market data for a ticker, refreshing when stale and
// online
func (s *Service) Quote(ctx context.Context, ticker string, maxAge time.Duration) (*domain.Quote, error) {
	fresh, err := s.quotes.GetFresh(ticker, maxAge)
	if err != nil {
		return nil, err
	}
	if fresh != nil {
		return fresh, nil
	}
	// Stale or missing: the jobs layer refreshes in the background; serve
	// whatever is cached
	return s.quotes.Get(ticker)
}

func (s *Service) recomputeTotals(p *domain.Portfolio) error {
	tickers := make([]string, len(p.Holdings))
	for i, h := range p.Holdings {
		tickers[i] = h.Ticker
	}
	infos, err := s.quotes.Infos(tickers)
	if err != nil {
		return err
	}
	p.Totals = domain.RecomputeAggregates(p.Holdings, infos)
	return nil
}

func txPayload(tx domain.Transaction) *syncqueue.AddTransactionPayload {
	return &syncqueue.AddTransactionPayload{
		TransactionID: tx.ID,
		PortfolioID:   tx.PortfolioID,
		Ticker:        tx.Ticker,
		Shares:        tx.Shares,
		Price:         tx.Price,
		Type:          tx.Type,
		Date:          tx.Date,
		Notes:         tx.Notes,
	}
}
