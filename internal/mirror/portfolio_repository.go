// Package mirror implements the local store: the durable mirror of
// server-authoritative entities used for offline reads, plus the quote cache.
// Every mutating call is atomic and idempotent by entity id. Reads never fail
// on missing data; they return empty collections.
package mirror

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/database"
	"github.com/aristath/folio/internal/domain"
)

const holdingColumns = `id, portfolio_id, ticker, shares, average_price, synced, created_at, updated_at`

// PortfolioRepository handles the portfolio and holdings tables in mirror.db
type PortfolioRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPortfolioRepository creates a portfolio repository
func NewPortfolioRepository(db *sql.DB, log zerolog.Logger) *PortfolioRepository {
	return &PortfolioRepository{
		db:  db,
		log: log.With().Str("repo", "portfolio").Logger(),
	}
}

// UpsertPortfolio inserts or replaces a portfolio row. Holdings are managed
// separately; use SavePortfolio to write both atomically.
func (r *PortfolioRepository) UpsertPortfolio(p domain.Portfolio, synced bool) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		return upsertPortfolioTx(tx, p, synced)
	})
}

// SavePortfolio writes a portfolio and its full holding set in one
// transaction. Holdings not in the given set are removed, so the mirror ends
// up exactly matching the input.
func (r *PortfolioRepository) SavePortfolio(p domain.Portfolio, synced bool) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if err := upsertPortfolioTx(tx, p, synced); err != nil {
			return err
		}

		if _, err := tx.Exec(`DELETE FROM holdings WHERE portfolio_id = ?`, p.ID); err != nil {
			return fmt.Errorf("failed to clear holdings for portfolio %s: %w", p.ID, err)
		}
		for _, h := range p.Holdings {
			if err := upsertHoldingTx(tx, h, synced); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveAll replaces the whole mirrored portfolio set in one transaction.
// Used by the read path after a successful full fetch from the server.
// Holdings listed in keepUnsynced survive the overwrite: they are backed by
// queued local transactions the server has not confirmed yet.
func (r *PortfolioRepository) SaveAll(portfolios []domain.Portfolio, keepUnsynced map[string]domain.Holding) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM holdings`); err != nil {
			return fmt.Errorf("failed to clear holdings: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM portfolio`); err != nil {
			return fmt.Errorf("failed to clear portfolios: %w", err)
		}

		for _, p := range portfolios {
			if err := upsertPortfolioTx(tx, p, true); err != nil {
				return err
			}
			for _, h := range p.Holdings {
				if local, ok := keepUnsynced[h.PortfolioID+"/"+h.Ticker]; ok {
					// Local pending state wins until its queued ops confirm
					if err := upsertHoldingTx(tx, local, false); err != nil {
						return err
					}
					continue
				}
				if err := upsertHoldingTx(tx, h, true); err != nil {
					return err
				}
			}
		}

		// Unsynced holdings whose portfolio survived but whose ticker the
		// server does not know yet
		seen := make(map[string]struct{})
		for _, p := range portfolios {
			for _, h := range p.Holdings {
				seen[h.PortfolioID+"/"+h.Ticker] = struct{}{}
			}
		}
		for key, h := range keepUnsynced {
			if _, ok := seen[key]; ok {
				continue
			}
			var exists int
			err := tx.QueryRow(`SELECT COUNT(*) FROM portfolio WHERE id = ?`, h.PortfolioID).Scan(&exists)
			if err != nil {
				return fmt.Errorf("failed to check portfolio %s: %w", h.PortfolioID, err)
			}
			if exists == 0 {
				continue
			}
			if err := upsertHoldingTx(tx, h, false); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertHolding inserts or replaces a holding row
func (r *PortfolioRepository) UpsertHolding(h domain.Holding, synced bool) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		return upsertHoldingTx(tx, h, synced)
	})
}

// DeleteHolding removes a holding by id. Deleting an unknown id is a no-op.
func (r *PortfolioRepository) DeleteHolding(id string) error {
	if _, err := r.db.Exec(`DELETE FROM holdings WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete holding %s: %w", id, err)
	}
	return nil
}

// DeleteHoldingByTicker removes the holding of one ticker in a portfolio
func (r *PortfolioRepository) DeleteHoldingByTicker(portfolioID, ticker string) error {
	_, err := r.db.Exec(`DELETE FROM holdings WHERE portfolio_id = ? AND ticker = ?`, portfolioID, ticker)
	if err != nil {
		return fmt.Errorf("failed to delete holding %s/%s: %w", portfolioID, ticker, err)
	}
	return nil
}

// DeletePortfolio removes a portfolio; holdings and transactions cascade
func (r *PortfolioRepository) DeletePortfolio(id string) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		// Explicit cascade keeps behavior identical even when the connection
		// was opened without foreign_keys
		if _, err := tx.Exec(`DELETE FROM transactions WHERE portfolio_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete transactions of portfolio %s: %w", id, err)
		}
		if _, err := tx.Exec(`DELETE FROM holdings WHERE portfolio_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete holdings of portfolio %s: %w", id, err)
		}
		if _, err := tx.Exec(`DELETE FROM portfolio WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete portfolio %s: %w", id, err)
		}
		return nil
	})
}

// LoadAll returns every mirrored portfolio with its holdings.
// An empty mirror returns an empty slice, never an error.
func (r *PortfolioRepository) LoadAll() ([]domain.Portfolio, error) {
	rows, err := r.db.Query(`
		SELECT id, name, user_id, synced, created_at, updated_at
		FROM portfolio ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolios: %w", err)
	}
	defer rows.Close()

	portfolios := []domain.Portfolio{}
	for rows.Next() {
		var p domain.Portfolio
		var synced int
		if err := rows.Scan(&p.ID, &p.Name, &p.UserID, &synced, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio: %w", err)
		}
		p.Synced = synced != 0
		portfolios = append(portfolios, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate portfolios: %w", err)
	}

	for i := range portfolios {
		holdings, err := r.HoldingsByPortfolio(portfolios[i].ID)
		if err != nil {
			return nil, err
		}
		portfolios[i].Holdings = holdings
	}

	return portfolios, nil
}

// Get returns one portfolio with its holdings, or nil when not mirrored
func (r *PortfolioRepository) Get(id string) (*domain.Portfolio, error) {
	var p domain.Portfolio
	var synced int
	err := r.db.QueryRow(`
		SELECT id, name, user_id, synced, created_at, updated_at
		FROM portfolio WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.UserID, &synced, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio %s: %w", id, err)
	}
	p.Synced = synced != 0

	p.Holdings, err = r.HoldingsByPortfolio(id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// HoldingsByPortfolio returns the holdings of one portfolio in ticker order
func (r *PortfolioRepository) HoldingsByPortfolio(portfolioID string) ([]domain.Holding, error) {
	rows, err := r.db.Query(`
		SELECT `+holdingColumns+` FROM holdings WHERE portfolio_id = ? ORDER BY ticker ASC
	`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()
	return scanHoldings(rows)
}

// GetHolding returns the holding of one ticker in a portfolio, or nil
func (r *PortfolioRepository) GetHolding(portfolioID, ticker string) (*domain.Holding, error) {
	row := r.db.QueryRow(`
		SELECT `+holdingColumns+` FROM holdings WHERE portfolio_id = ? AND ticker = ?
	`, portfolioID, ticker)

	h, err := scanHoldingRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load holding %s/%s: %w", portfolioID, ticker, err)
	}
	return h, nil
}

// UnsyncedHoldings returns holdings with unconfirmed local changes, keyed by
// portfolioID/ticker. The read path uses this to protect pending local state
// from server overwrites.
func (r *PortfolioRepository) UnsyncedHoldings() (map[string]domain.Holding, error) {
	rows, err := r.db.Query(`SELECT ` + holdingColumns + ` FROM holdings WHERE synced = 0`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced holdings: %w", err)
	}
	defer rows.Close()

	holdings, err := scanHoldings(rows)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]domain.Holding, len(holdings))
	for _, h := range holdings {
		byKey[h.PortfolioID+"/"+h.Ticker] = h
	}
	return byKey, nil
}

// AllTickers returns the distinct tickers held across all portfolios
func (r *PortfolioRepository) AllTickers() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT ticker FROM holdings ORDER BY ticker ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query held tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var ticker string
		if err := rows.Scan(&ticker); err != nil {
			return nil, fmt.Errorf("failed to scan ticker: %w", err)
		}
		tickers = append(tickers, ticker)
	}
	return tickers, rows.Err()
}

// MarkHoldingSynced flags a holding as confirmed by the remote service
func (r *PortfolioRepository) MarkHoldingSynced(id string) error {
	if _, err := r.db.Exec(`UPDATE holdings SET synced = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to mark holding %s synced: %w", id, err)
	}
	return nil
}

func upsertPortfolioTx(tx *sql.Tx, p domain.Portfolio, synced bool) error {
	now := domain.NowMillis()
	createdAt := p.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}

	_, err := tx.Exec(`
		INSERT INTO portfolio (id, name, user_id, synced, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			user_id = excluded.user_id,
			synced = excluded.synced,
			updated_at = excluded.updated_at
	`, p.ID, p.Name, p.UserID, boolToInt(synced), createdAt, now)
	if err != nil {
		return fmt.Errorf("failed to upsert portfolio %s: %w", p.ID, err)
	}
	return nil
}

func upsertHoldingTx(tx *sql.Tx, h domain.Holding, synced bool) error {
	now := domain.NowMillis()
	createdAt := h.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}

	_, err := tx.Exec(`
		INSERT INTO holdings (id, portfolio_id, ticker, shares, average_price, synced, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(portfolio_id, ticker) DO UPDATE SET
			id = excluded.id,
			shares = excluded.shares,
			average_price = excluded.average_price,
			synced = excluded.synced,
			updated_at = excluded.updated_at
	`, h.ID, h.PortfolioID, h.Ticker, h.Shares, h.AveragePrice, boolToInt(synced), createdAt, now)
	if err != nil {
		return fmt.Errorf("failed to upsert holding %s/%s: %w", h.PortfolioID, h.Ticker, err)
	}
	return nil
}

func scanHoldings(rows *sql.Rows) ([]domain.Holding, error) {
	holdings := []domain.Holding{}
	for rows.Next() {
		var h domain.Holding
		var synced int
		err := rows.Scan(&h.ID, &h.PortfolioID, &h.Ticker, &h.Shares, &h.AveragePrice,
			&synced, &h.CreatedAt, &h.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		h.Synced = synced != 0
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate holdings: %w", err)
	}
	return holdings, nil
}

func scanHoldingRow(row *sql.Row) (*domain.Holding, error) {
	var h domain.Holding
	var synced int
	err := row.Scan(&h.ID, &h.PortfolioID, &h.Ticker, &h.Shares, &h.AveragePrice,
		&synced, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	h.Synced = synced != 0
	return &h, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
