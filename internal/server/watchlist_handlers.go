package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type createWatchlistRequest struct {
	Name string `json:"name"`
}

type addWatchlistItemRequest struct {
	Ticker string `json:"ticker"`
}

// handleListWatchlists returns all watchlists with their items
func (s *Server) handleListWatchlists(w http.ResponseWriter, r *http.Request) {
	watchlists, err := s.watchlists.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, watchlists)
}

// handleGetWatchlist returns one watchlist by id
func (s *Server) handleGetWatchlist(w http.ResponseWriter, r *http.Request) {
	wl, err := s.watchlists.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if wl == nil {
		s.writeError(w, http.StatusNotFound, "watchlist not found")
		return
	}
	s.writeJSON(w, http.StatusOK, wl)
}

// handleCreateWatchlist creates a watchlist, online only
func (s *Server) handleCreateWatchlist(w http.ResponseWriter, r *http.Request) {
	var req createWatchlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	wl, err := s.watchlists.Create(r.Context(), req.Name)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, wl)
}

// handleRenameWatchlist renames a watchlist optimistically
func (s *Server) handleRenameWatchlist(w http.ResponseWriter, r *http.Request) {
	var req createWatchlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := s.watchlists.Rename(r.Context(), chi.URLParam(r, "id"), req.Name); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDeleteWatchlist removes a watchlist locally and queues the remote
// delete
func (s *Server) handleDeleteWatchlist(w http.ResponseWriter, r *http.Request) {
	if err := s.watchlists.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleAddWatchlistItem adds a ticker to a watchlist
func (s *Server) handleAddWatchlistItem(w http.ResponseWriter, r *http.Request) {
	var req addWatchlistItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Ticker == "" {
		s.writeError(w, http.StatusBadRequest, "ticker is required")
		return
	}

	item, err := s.watchlists.AddItem(r.Context(), chi.URLParam(r, "id"), req.Ticker)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, item)
}

// handleRemoveWatchlistItem removes an item and queues the remote delete
func (s *Server) handleRemoveWatchlistItem(w http.ResponseWriter, r *http.Request) {
	watchlistID := chi.URLParam(r, "id")
	itemID := chi.URLParam(r, "itemID")

	if err := s.watchlists.RemoveItem(r.Context(), watchlistID, itemID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
