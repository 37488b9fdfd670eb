package mirror

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/domain"
)

// QuoteCache stores last-known market data blobs in cache.db.
// It is a pure cache: rows carry no authority, may be evicted at will, and
// freshness policy lives in the caller.
type QuoteCache struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewQuoteCache creates a quote cache
func NewQuoteCache(db *sql.DB, log zerolog.Logger) *QuoteCache {
	return &QuoteCache{
		db:  db,
		log: log.With().Str("repo", "quote_cache").Logger(),
	}
}

// Put replaces the cached data for a ticker. Blobs absent from the input keep
// their previous value, so a streamed info-only update does not wipe cached
// history.
func (c *QuoteCache) Put(quote domain.Quote) error {
	if quote.Ticker == "" {
		return fmt.Errorf("quote ticker must not be empty")
	}

	updatedAt := quote.UpdatedAt
	if updatedAt == 0 {
		updatedAt = domain.NowMillis()
	}

	_, err := c.db.Exec(`
		INSERT INTO stock_data (ticker, info, history, financials, dividends, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			info = COALESCE(excluded.info, stock_data.info),
			history = COALESCE(excluded.history, stock_data.history),
			financials = COALESCE(excluded.financials, stock_data.financials),
			dividends = COALESCE(excluded.dividends, stock_data.dividends),
			updated_at = excluded.updated_at
	`, quote.Ticker, nullBlob(quote.Info), nullBlob(quote.History),
		nullBlob(quote.Financials), nullBlob(quote.Dividends), updatedAt)
	if err != nil {
		return fmt.Errorf("failed to cache quote %s: %w", quote.Ticker, err)
	}
	return nil
}

// Get returns the cached quote for a ticker regardless of age, or nil when
// nothing is cached
func (c *QuoteCache) Get(ticker string) (*domain.Quote, error) {
	var q domain.Quote
	var info, history, financials, dividends sql.NullString

	err := c.db.QueryRow(`
		SELECT ticker, info, history, financials, dividends, updated_at
		FROM stock_data WHERE ticker = ?
	`, ticker).Scan(&q.Ticker, &info, &history, &financials, &dividends, &q.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cached quote %s: %w", ticker, err)
	}

	q.Info = rawMessage(info)
	q.History = rawMessage(history)
	q.Financials = rawMessage(financials)
	q.Dividends = rawMessage(dividends)
	return &q, nil
}

// GetFresh returns the cached quote only when younger than maxAge
func (c *QuoteCache) GetFresh(ticker string, maxAge time.Duration) (*domain.Quote, error) {
	q, err := c.Get(ticker)
	if err != nil || q == nil {
		return nil, err
	}
	cutoff := domain.NowMillis() - maxAge.Milliseconds()
	if q.UpdatedAt < cutoff {
		return nil, nil
	}
	return q, nil
}

// Infos returns parsed quote info for the given tickers, skipping tickers
// with no usable cached info. Used by aggregate recomputation.
func (c *QuoteCache) Infos(tickers []string) (map[string]domain.QuoteInfo, error) {
	infos := make(map[string]domain.QuoteInfo, len(tickers))
	for _, ticker := range tickers {
		q, err := c.Get(ticker)
		if err != nil {
			return nil, err
		}
		if q == nil {
			continue
		}
		if info, ok := q.ParseInfo(); ok {
			infos[ticker] = info
		}
	}
	return infos, nil
}

// EvictStale deletes cached quotes older than maxAge and returns how many
// were removed
func (c *QuoteCache) EvictStale(maxAge time.Duration) (int64, error) {
	cutoff := domain.NowMillis() - maxAge.Milliseconds()
	result, err := c.db.Exec(`DELETE FROM stock_data WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to evict stale quotes: %w", err)
	}
	evicted, _ := result.RowsAffected()
	if evicted > 0 {
		c.log.Debug().Int64("evicted", evicted).Msg("Stale quotes evicted")
	}
	return evicted, nil
}

// Count returns the number of cached tickers
func (c *QuoteCache) Count() (int, error) {
	var count int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM stock_data`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count cached quotes: %w", err)
	}
	return count, nil
}

func nullBlob(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func rawMessage(s sql.NullString) json.RawMessage {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.RawMessage(s.String)
}
