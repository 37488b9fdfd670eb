package mirror

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/database"
	"github.com/aristath/folio/internal/domain"
)

// WatchlistRepository handles the watchlist tables in mirror.db
type WatchlistRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewWatchlistRepository creates a watchlist repository
func NewWatchlistRepository(db *sql.DB, log zerolog.Logger) *WatchlistRepository {
	return &WatchlistRepository{
		db:  db,
		log: log.With().Str("repo", "watchlist").Logger(),
	}
}

// Upsert inserts or replaces a watchlist row
func (r *WatchlistRepository) Upsert(w domain.Watchlist, synced bool) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		return upsertWatchlistTx(tx, w, synced)
	})
}

// Save writes a watchlist and its full item set in one transaction
func (r *WatchlistRepository) Save(w domain.Watchlist, synced bool) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if err := upsertWatchlistTx(tx, w, synced); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM watchlist_items WHERE watchlist_id = ?`, w.ID); err != nil {
			return fmt.Errorf("failed to clear items of watchlist %s: %w", w.ID, err)
		}
		for _, item := range w.Items {
			if err := upsertWatchlistItemTx(tx, item, synced); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveAll replaces the whole mirrored watchlist set in one transaction.
// Items in keepUnsynced (keyed by item id) carry unconfirmed local changes
// and survive the server overwrite until their queued operations confirm.
func (r *WatchlistRepository) SaveAll(watchlists []domain.Watchlist, keepUnsynced map[string]domain.WatchlistItem) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM watchlist_items`); err != nil {
			return fmt.Errorf("failed to clear watchlist items: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM watchlist`); err != nil {
			return fmt.Errorf("failed to clear watchlists: %w", err)
		}
		for _, w := range watchlists {
			if err := upsertWatchlistTx(tx, w, true); err != nil {
				return err
			}
			for _, item := range w.Items {
				if local, ok := keepUnsynced[item.ID]; ok {
					if err := upsertWatchlistItemTx(tx, local, false); err != nil {
						return err
					}
					continue
				}
				if err := upsertWatchlistItemTx(tx, item, true); err != nil {
					return err
				}
			}
		}

		// Unsynced items whose watchlist survived but which the server does
		// not know yet
		seen := make(map[string]struct{})
		for _, w := range watchlists {
			for _, item := range w.Items {
				seen[item.ID] = struct{}{}
			}
		}
		for id, item := range keepUnsynced {
			if _, ok := seen[id]; ok {
				continue
			}
			var exists int
			if err := tx.QueryRow(`SELECT COUNT(*) FROM watchlist WHERE id = ?`, item.WatchlistID).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check watchlist %s: %w", item.WatchlistID, err)
			}
			if exists == 0 {
				continue
			}
			if err := upsertWatchlistItemTx(tx, item, false); err != nil {
				return err
			}
		}
		return nil
	})
}

// UnsyncedItems returns watchlist items with unconfirmed local changes,
// keyed by item id
func (r *WatchlistRepository) UnsyncedItems() (map[string]domain.WatchlistItem, error) {
	rows, err := r.db.Query(`
		SELECT id, watchlist_id, ticker, synced, created_at
		FROM watchlist_items WHERE synced = 0
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced watchlist items: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]domain.WatchlistItem)
	for rows.Next() {
		var item domain.WatchlistItem
		var synced int
		if err := rows.Scan(&item.ID, &item.WatchlistID, &item.Ticker, &synced, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist item: %w", err)
		}
		item.Synced = synced != 0
		byID[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate watchlist items: %w", err)
	}
	return byID, nil
}

// UpsertItem inserts or replaces one watchlist item
func (r *WatchlistRepository) UpsertItem(item domain.WatchlistItem, synced bool) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		return upsertWatchlistItemTx(tx, item, synced)
	})
}

// DeleteItem removes a watchlist item by id. Unknown ids are a no-op.
func (r *WatchlistRepository) DeleteItem(id string) error {
	if _, err := r.db.Exec(`DELETE FROM watchlist_items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete watchlist item %s: %w", id, err)
	}
	return nil
}

// Delete removes a watchlist and its items
func (r *WatchlistRepository) Delete(id string) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM watchlist_items WHERE watchlist_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete items of watchlist %s: %w", id, err)
		}
		if _, err := tx.Exec(`DELETE FROM watchlist WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete watchlist %s: %w", id, err)
		}
		return nil
	})
}

// LoadAll returns every mirrored watchlist with its items.
// An empty mirror returns an empty slice, never an error.
func (r *WatchlistRepository) LoadAll() ([]domain.Watchlist, error) {
	rows, err := r.db.Query(`
		SELECT id, name, user_id, synced, created_at, updated_at
		FROM watchlist ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query watchlists: %w", err)
	}
	defer rows.Close()

	watchlists := []domain.Watchlist{}
	for rows.Next() {
		var w domain.Watchlist
		var synced int
		if err := rows.Scan(&w.ID, &w.Name, &w.UserID, &synced, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist: %w", err)
		}
		w.Synced = synced != 0
		watchlists = append(watchlists, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate watchlists: %w", err)
	}

	for i := range watchlists {
		items, err := r.ItemsByWatchlist(watchlists[i].ID)
		if err != nil {
			return nil, err
		}
		watchlists[i].Items = items
	}
	return watchlists, nil
}

// Get returns one watchlist with its items, or nil when not mirrored
func (r *WatchlistRepository) Get(id string) (*domain.Watchlist, error) {
	var w domain.Watchlist
	var synced int
	err := r.db.QueryRow(`
		SELECT id, name, user_id, synced, created_at, updated_at FROM watchlist WHERE id = ?
	`, id).Scan(&w.ID, &w.Name, &w.UserID, &synced, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load watchlist %s: %w", id, err)
	}
	w.Synced = synced != 0

	w.Items, err = r.ItemsByWatchlist(id)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ItemsByWatchlist returns the items of one watchlist in insertion order
func (r *WatchlistRepository) ItemsByWatchlist(watchlistID string) ([]domain.WatchlistItem, error) {
	rows, err := r.db.Query(`
		SELECT id, watchlist_id, ticker, synced, created_at
		FROM watchlist_items WHERE watchlist_id = ? ORDER BY created_at ASC, id ASC
	`, watchlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query watchlist items: %w", err)
	}
	defer rows.Close()

	items := []domain.WatchlistItem{}
	for rows.Next() {
		var item domain.WatchlistItem
		var synced int
		if err := rows.Scan(&item.ID, &item.WatchlistID, &item.Ticker, &synced, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist item: %w", err)
		}
		item.Synced = synced != 0
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate watchlist items: %w", err)
	}
	return items, nil
}

// AllTickers returns the distinct tickers across all watchlists
func (r *WatchlistRepository) AllTickers() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT ticker FROM watchlist_items ORDER BY ticker ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query watchlist tickers: %w", err)
	}
	defer rows.Close()

	tickers := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan ticker: %w", err)
		}
		tickers = append(tickers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tickers: %w", err)
	}
	return tickers, nil
}

func upsertWatchlistTx(tx *sql.Tx, w domain.Watchlist, synced bool) error {
	now := domain.NowMillis()
	createdAt := w.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}

	_, err := tx.Exec(`
		INSERT INTO watchlist (id, name, user_id, synced, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			user_id = excluded.user_id,
			synced = excluded.synced,
			updated_at = excluded.updated_at
	`, w.ID, w.Name, w.UserID, boolToInt(synced), createdAt, now)
	if err != nil {
		return fmt.Errorf("failed to upsert watchlist %s: %w", w.ID, err)
	}
	return nil
}

func upsertWatchlistItemTx(tx *sql.Tx, item domain.WatchlistItem, synced bool) error {
	createdAt := item.CreatedAt
	if createdAt == 0 {
		createdAt = domain.NowMillis()
	}

	_, err := tx.Exec(`
		INSERT OR REPLACE INTO watchlist_items (id, watchlist_id, ticker, synced, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, item.ID, item.WatchlistID, item.Ticker, boolToInt(synced), createdAt)
	if err != nil {
		return fmt.Errorf("failed to upsert watchlist item %s: %w", item.ID, err)
	}
	return nil
}
