// Package server provides the HTTP server and routing for Folio.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/database"
	"github.com/aristath/folio/internal/portfolio"
	"github.com/aristath/folio/internal/syncer"
	"github.com/aristath/folio/internal/watchlist"
)

// Connectivity is the slice of the network monitor the server reports on
type Connectivity interface {
	IsOnline() bool
	LastChecked() time.Time
}

// Config holds server configuration
type Config struct {
	Log     zerolog.Logger
	Port    int
	DevMode bool

	Portfolios  *portfolio.Service
	Watchlists  *watchlist.Service
	Coordinator *syncer.Coordinator
	Monitor     Connectivity

	QueueDB  *database.DB
	MirrorDB *database.DB
	CacheDB  *database.DB

	QuoteTTL time.Duration
}

// Server represents the HTTP server
type Server struct {
	router      *chi.Mux
	server      *http.Server
	log         zerolog.Logger
	portfolios  *portfolio.Service
	watchlists  *watchlist.Service
	coordinator *syncer.Coordinator
	monitor     Connectivity
	queueDB     *database.DB
	mirrorDB    *database.DB
	cacheDB     *database.DB
	quoteTTL    time.Duration
	startedAt   time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	quoteTTL := cfg.QuoteTTL
	if quoteTTL <= 0 {
		quoteTTL = 5 * time.Minute
	}

	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
		portfolios:  cfg.Portfolios,
		watchlists:  cfg.Watchlists,
		coordinator: cfg.Coordinator,
		monitor:     cfg.Monitor,
		queueDB:     cfg.QueueDB,
		mirrorDB:    cfg.MirrorDB,
		cacheDB:     cfg.CacheDB,
		quoteTTL:    quoteTTL,
		startedAt:   time.Now(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleSystemStatus)
		r.Post("/sync", s.handleSyncNow)
		r.Get("/sync/status", s.handleSyncStatus)

		r.Route("/portfolios", func(r chi.Router) {
			r.Get("/", s.handleListPortfolios)
			r.Post("/", s.handleCreatePortfolio)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetPortfolio)
				r.Patch("/", s.handleRenamePortfolio)
				r.Delete("/", s.handleDeletePortfolio)
				r.Post("/holdings", s.handleAddHolding)
				r.Delete("/holdings/{ticker}", s.handleRemoveHolding)
				r.Get("/transactions", s.handleListTransactions)
				r.Post("/transactions", s.handleAddTransaction)
			})
		})

		r.Route("/watchlists", func(r chi.Router) {
			r.Get("/", s.handleListWatchlists)
			r.Post("/", s.handleCreateWatchlist)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetWatchlist)
				r.Patch("/", s.handleRenameWatchlist)
				r.Delete("/", s.handleDeleteWatchlist)
				r.Post("/items", s.handleAddWatchlistItem)
				r.Delete("/items/{itemID}", s.handleRemoveWatchlistItem)
			})
		})

		r.Get("/quotes/{ticker}", s.handleGetQuote)
	})
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the mux, mainly for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "folio",
	})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
