package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/portfolio"
	"github.com/aristath/folio/internal/syncer"
	"github.com/aristath/folio/internal/watchlist"
)

type createPortfolioRequest struct {
	Name string `json:"name"`
}

type addHoldingRequest struct {
	Ticker string  `json:"ticker"`
	Shares float64 `json:"shares"`
	Price  float64 `json:"price"`
}

type addTransactionRequest struct {
	Ticker string  `json:"ticker"`
	Shares float64 `json:"shares"`
	Price  float64 `json:"price"`
	Type   string  `json:"type"`
	Date   int64   `json:"date"`
	Notes  string  `json:"notes"`
}

// handleListPortfolios returns all portfolios with recomputed aggregates
func (s *Server) handleListPortfolios(w http.ResponseWriter, r *http.Request) {
	portfolios, err := s.portfolios.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, portfolios)
}

// handleGetPortfolio returns one portfolio by id
func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.portfolios.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if p == nil {
		s.writeError(w, http.StatusNotFound, "portfolio not found")
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

// handleCreatePortfolio creates a portfolio. This is a synchronous remote
// call and fails with 503 while offline.
func (s *Server) handleCreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req createPortfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	p, err := s.portfolios.Create(r.Context(), req.Name)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, p)
}

// handleRenamePortfolio renames a portfolio optimistically
func (s *Server) handleRenamePortfolio(w http.ResponseWriter, r *http.Request) {
	var req createPortfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := s.portfolios.Rename(r.Context(), chi.URLParam(r, "id"), req.Name); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDeletePortfolio removes a portfolio locally and queues the remote
// delete
func (s *Server) handleDeletePortfolio(w http.ResponseWriter, r *http.Request) {
	if err := s.portfolios.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleAddHolding adds shares to a portfolio, merging into any existing
// position
func (s *Server) handleAddHolding(w http.ResponseWriter, r *http.Request) {
	var req addHoldingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Ticker == "" || req.Shares <= 0 || req.Price < 0 {
		s.writeError(w, http.StatusBadRequest, "ticker, positive shares and a non-negative price are required")
		return
	}

	holding, err := s.portfolios.AddHolding(r.Context(), chi.URLParam(r, "id"), req.Ticker, req.Shares, req.Price)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, holding)
}

// handleRemoveHolding removes a position and queues the remote delete
func (s *Server) handleRemoveHolding(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "id")
	ticker := chi.URLParam(r, "ticker")

	if err := s.portfolios.RemoveHolding(r.Context(), portfolioID, ticker); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleListTransactions returns the mirrored ledger for a portfolio
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.portfolios.Transactions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, txs)
}

// handleAddTransaction records a buy, sell or dividend
func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request) {
	var req addTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Ticker == "" || req.Shares <= 0 {
		s.writeError(w, http.StatusBadRequest, "ticker and positive shares are required")
		return
	}
	if !domain.TransactionType(req.Type).Valid() {
		s.writeError(w, http.StatusBadRequest, "type must be BUY, SELL or DIVIDEND")
		return
	}

	tx, err := s.portfolios.AddTransaction(r.Context(), domain.Transaction{
		PortfolioID: chi.URLParam(r, "id"),
		Ticker:      req.Ticker,
		Shares:      req.Shares,
		Price:       req.Price,
		Type:        domain.TransactionType(req.Type),
		Date:        req.Date,
		Notes:       req.Notes,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, tx)
}

// handleGetQuote returns a cached quote, refreshed from remote when stale
func (s *Server) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	quote, err := s.portfolios.Quote(r.Context(), chi.URLParam(r, "ticker"), s.quoteTTL)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if quote == nil {
		s.writeError(w, http.StatusNotFound, "quote not available")
		return
	}
	s.writeJSON(w, http.StatusOK, quote)
}

// writeServiceError maps service errors to HTTP status codes
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, syncer.ErrOfflineCreate):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, portfolio.ErrNotFound), errors.Is(err, watchlist.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, portfolio.ErrNoPosition):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}
