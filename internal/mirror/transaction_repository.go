package mirror

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/database"
	"github.com/aristath/folio/internal/domain"
)

const transactionColumns = `id, portfolio_id, ticker, shares, price, type, date, notes, synced, created_at`

// TransactionRepository handles the append-only transaction ledger in
// mirror.db. Transactions are immutable; there is no update path.
type TransactionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTransactionRepository creates a transaction repository
func NewTransactionRepository(db *sql.DB, log zerolog.Logger) *TransactionRepository {
	return &TransactionRepository{
		db:  db,
		log: log.With().Str("repo", "transaction").Logger(),
	}
}

// Insert appends a ledger entry. Inserting an id that already exists replaces
// the row with identical data, keeping replays idempotent.
func (r *TransactionRepository) Insert(tx domain.Transaction, synced bool) error {
	if !tx.Type.Valid() {
		return fmt.Errorf("unknown transaction type %q", tx.Type)
	}

	now := domain.NowMillis()
	createdAt := tx.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}

	_, err := r.db.Exec(`
		INSERT OR REPLACE INTO transactions (id, portfolio_id, ticker, shares, price, type, date, notes, synced, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tx.ID, tx.PortfolioID, tx.Ticker, tx.Shares, tx.Price, string(tx.Type),
		tx.Date, nullString(tx.Notes), boolToInt(synced), createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction %s: %w", tx.ID, err)
	}
	return nil
}

// ReplaceForPortfolio overwrites the mirrored ledger of one portfolio with
// the server's authoritative list, in one transaction. Unsynced local entries
// are preserved; they are still waiting for remote confirmation.
func (r *TransactionRepository) ReplaceForPortfolio(portfolioID string, txs []domain.Transaction) error {
	return database.WithTransaction(r.db, func(dbTx *sql.Tx) error {
		_, err := dbTx.Exec(`DELETE FROM transactions WHERE portfolio_id = ? AND synced = 1`, portfolioID)
		if err != nil {
			return fmt.Errorf("failed to clear synced transactions of %s: %w", portfolioID, err)
		}

		for _, tx := range txs {
			createdAt := tx.CreatedAt
			if createdAt == 0 {
				createdAt = domain.NowMillis()
			}
			_, err := dbTx.Exec(`
				INSERT OR REPLACE INTO transactions (id, portfolio_id, ticker, shares, price, type, date, notes, synced, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
			`, tx.ID, tx.PortfolioID, tx.Ticker, tx.Shares, tx.Price, string(tx.Type),
				tx.Date, nullString(tx.Notes), createdAt)
			if err != nil {
				return fmt.Errorf("failed to mirror transaction %s: %w", tx.ID, err)
			}
		}
		return nil
	})
}

// ListByPortfolio returns the ledger of one portfolio in date order.
// Entries with equal dates keep insertion order via created_at.
func (r *TransactionRepository) ListByPortfolio(portfolioID string) ([]domain.Transaction, error) {
	rows, err := r.db.Query(`
		SELECT `+transactionColumns+` FROM transactions
		WHERE portfolio_id = ?
		ORDER BY date ASC, created_at ASC
	`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txs := []domain.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txs, nil
}

// MarkSynced flags a ledger entry as confirmed by the remote service
func (r *TransactionRepository) MarkSynced(id string) error {
	if _, err := r.db.Exec(`UPDATE transactions SET synced = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to mark transaction %s synced: %w", id, err)
	}
	return nil
}

// UnsyncedCount returns the number of ledger entries awaiting confirmation
func (r *TransactionRepository) UnsyncedCount() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM transactions WHERE synced = 0`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unsynced transactions: %w", err)
	}
	return count, nil
}

func scanTransaction(rows *sql.Rows) (domain.Transaction, error) {
	var tx domain.Transaction
	var txType string
	var notes sql.NullString
	var synced int

	err := rows.Scan(&tx.ID, &tx.PortfolioID, &tx.Ticker, &tx.Shares, &tx.Price,
		&txType, &tx.Date, &notes, &synced, &tx.CreatedAt)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.Type = domain.TransactionType(txType)
	tx.Notes = notes.String
	tx.Synced = synced != 0
	return tx, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
