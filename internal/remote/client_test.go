package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/folio/internal/domain"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, time.Second, zerolog.Nop())
}

func TestUpsertHoldingReturnsServerRecord(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/holdings", r.URL.Path)

		var h domain.Holding
		require.NoError(t, json.NewDecoder(r.Body).Decode(&h))
		h.Synced = true
		_ = json.NewEncoder(w).Encode(h)
	}))

	result, err := client.UpsertHolding(context.Background(), domain.Holding{
		ID: "h1", PortfolioID: "p1", Ticker: "AAPL", Shares: 10, AveragePrice: 100,
	})

	require.NoError(t, err)
	assert.Equal(t, "h1", result.ID)
	assert.True(t, result.Synced)
}

func TestValidationErrorIsNotTransient(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "portfolio does not exist", http.StatusUnprocessableEntity)
	}))

	_, err := client.InsertTransaction(context.Background(), domain.Transaction{ID: "t1"})

	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.False(t, IsTransient(err))

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnprocessableEntity, reqErr.StatusCode)
	assert.Contains(t, reqErr.Message, "portfolio does not exist")
}

func TestServerErrorIsTransient(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
	}))

	_, err := client.UpsertPortfolio(context.Background(), domain.Portfolio{ID: "p1", Name: "Main"})

	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.False(t, IsValidation(err))
}

func TestConnectionFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()
	client := NewClient(server.URL, time.Second, zerolog.Nop())

	err := client.DeleteHolding(context.Background(), "h1")

	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestDeleteSendsNoBody(t *testing.T) {
	var method, path string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, client.DeletePortfolio(context.Background(), "p1"))
	assert.Equal(t, http.MethodDelete, method)
	assert.Equal(t, "/portfolios/p1", path)
}

func TestListPortfolios(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]domain.Portfolio{
			{ID: "p1", Name: "Main"},
			{ID: "p2", Name: "Retirement"},
		})
	}))

	portfolios, err := client.ListPortfolios(context.Background())

	require.NoError(t, err)
	require.Len(t, portfolios, 2)
	assert.Equal(t, "Main", portfolios[0].Name)
}

func TestGetQuoteFillsTicker(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quotes/AAPL", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"info": map[string]float64{"regular_market_price": 182.5},
		})
	}))

	quote, err := client.GetQuote(context.Background(), "AAPL")

	require.NoError(t, err)
	assert.Equal(t, "AAPL", quote.Ticker)

	info, ok := quote.ParseInfo()
	require.True(t, ok)
	assert.InDelta(t, 182.5, info.Price, 1e-9)
}

func TestTimeoutIsTransient(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	client.httpClient.Timeout = 20 * time.Millisecond

	_, err := client.ListWatchlists(context.Background())

	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
