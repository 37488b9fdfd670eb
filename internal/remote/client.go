package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/domain"
)

const defaultRequestTimeout = 15 * time.Second

// Client is the HTTP implementation of Adapter
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a remote client for the given base URL
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "remote_client").Logger(),
	}
}

// UpsertPortfolio creates or replaces a portfolio and returns the confirmed
// server record
func (c *Client) UpsertPortfolio(ctx context.Context, p domain.Portfolio) (*domain.Portfolio, error) {
	var result domain.Portfolio
	if err := c.do(ctx, "upsert portfolio", http.MethodPut, "/portfolios", p, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeletePortfolio deletes a portfolio; the server cascades to holdings and
// transactions. Deleting an unknown id succeeds.
func (c *Client) DeletePortfolio(ctx context.Context, id string) error {
	return c.do(ctx, "delete portfolio", http.MethodDelete, "/portfolios/"+url.PathEscape(id), nil, nil)
}

// UpsertHolding creates or replaces a holding by id
func (c *Client) UpsertHolding(ctx context.Context, h domain.Holding) (*domain.Holding, error) {
	var result domain.Holding
	if err := c.do(ctx, "upsert holding", http.MethodPut, "/holdings", h, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteHolding deletes a holding by id
func (c *Client) DeleteHolding(ctx context.Context, id string) error {
	return c.do(ctx, "delete holding", http.MethodDelete, "/holdings/"+url.PathEscape(id), nil, nil)
}

// InsertTransaction appends a ledger entry. The id is client-generated, so a
// retried insert after a timeout is a no-op on the server.
func (c *Client) InsertTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	var result domain.Transaction
	if err := c.do(ctx, "insert transaction", http.MethodPut, "/transactions", tx, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpsertWatchlist creates or replaces a watchlist by id
func (c *Client) UpsertWatchlist(ctx context.Context, w domain.Watchlist) (*domain.Watchlist, error) {
	var result domain.Watchlist
	if err := c.do(ctx, "upsert watchlist", http.MethodPut, "/watchlists", w, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteWatchlist deletes a watchlist and its items
func (c *Client) DeleteWatchlist(ctx context.Context, id string) error {
	return c.do(ctx, "delete watchlist", http.MethodDelete, "/watchlists/"+url.PathEscape(id), nil, nil)
}

// UpsertWatchlistItem creates or replaces a watchlist item by id
func (c *Client) UpsertWatchlistItem(ctx context.Context, item domain.WatchlistItem) (*domain.WatchlistItem, error) {
	var result domain.WatchlistItem
	if err := c.do(ctx, "upsert watchlist item", http.MethodPut, "/watchlist-items", item, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteWatchlistItem deletes a watchlist item by id
func (c *Client) DeleteWatchlistItem(ctx context.Context, id string) error {
	return c.do(ctx, "delete watchlist item", http.MethodDelete, "/watchlist-items/"+url.PathEscape(id), nil, nil)
}

// ListPortfolios fetches all portfolios with their holdings
func (c *Client) ListPortfolios(ctx context.Context) ([]domain.Portfolio, error) {
	var result []domain.Portfolio
	if err := c.do(ctx, "list portfolios", http.MethodGet, "/portfolios", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListHoldings fetches the holdings of one portfolio
func (c *Client) ListHoldings(ctx context.Context, portfolioID string) ([]domain.Holding, error) {
	var result []domain.Holding
	path := "/portfolios/" + url.PathEscape(portfolioID) + "/holdings"
	if err := c.do(ctx, "list holdings", http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListTransactions fetches the ledger of one portfolio
func (c *Client) ListTransactions(ctx context.Context, portfolioID string) ([]domain.Transaction, error) {
	var result []domain.Transaction
	path := "/portfolios/" + url.PathEscape(portfolioID) + "/transactions"
	if err := c.do(ctx, "list transactions", http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListWatchlists fetches all watchlists with their items
func (c *Client) ListWatchlists(ctx context.Context) ([]domain.Watchlist, error) {
	var result []domain.Watchlist
	if err := c.do(ctx, "list watchlists", http.MethodGet, "/watchlists", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListWatchlistItems fetches the items of one watchlist
func (c *Client) ListWatchlistItems(ctx context.Context, watchlistID string) ([]domain.WatchlistItem, error) {
	var result []domain.WatchlistItem
	path := "/watchlists/" + url.PathEscape(watchlistID) + "/items"
	if err := c.do(ctx, "list watchlist items", http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetQuote fetches current market data for one ticker
func (c *Client) GetQuote(ctx context.Context, ticker string) (*domain.Quote, error) {
	var result domain.Quote
	path := "/quotes/" + url.PathEscape(ticker)
	if err := c.do(ctx, "get quote", http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	if result.Ticker == "" {
		result.Ticker = ticker
	}
	return &result, nil
}

// do executes one JSON request. Non-2xx responses become RequestErrors
// carrying the status code so callers can classify the failure.
func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &RequestError{Op: op, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return &RequestError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RequestError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Bounded read keeps a hostile response from ballooning memory
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		reqErr := &RequestError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
		c.log.Debug().
			Str("op", op).
			Int("status", resp.StatusCode).
			Bool("transient", reqErr.Transient()).
			Msg("Remote request failed")
		return reqErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RequestError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}
