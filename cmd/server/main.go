// Package main is the entry point for the Folio sync service. It keeps a
// local SQLite mirror of the user's portfolios and watchlists, queues every
// mutation durably while offline, and reconciles with the remote backend
// whenever connectivity allows.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/folio/internal/config"
	"github.com/aristath/folio/internal/di"
	"github.com/aristath/folio/internal/server"
	"github.com/aristath/folio/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting Folio")

	container, err := di.Initialize(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	// Connectivity probing and the sync loop start first so operations queued
	// during downtime drain as soon as the network is confirmed up
	container.Monitor.Start()
	defer container.Monitor.Stop()

	container.Coordinator.Start()
	defer container.Coordinator.Stop()

	if container.QuoteStream != nil {
		if tickers, err := heldAndWatchedTickers(container); err != nil {
			log.Warn().Err(err).Msg("Failed to collect tickers for quote stream")
		} else if len(tickers) > 0 {
			container.QuoteStream.Watch(tickers...)
		}
		if err := container.QuoteStream.Start(); err != nil {
			log.Warn().Err(err).Msg("Quote stream failed to start, continuing with polled quotes")
		} else {
			defer container.QuoteStream.Stop()
		}
	}

	container.Scheduler.Start()
	defer container.Scheduler.Stop()

	srv := server.New(server.Config{
		Log:         log,
		Port:        cfg.Port,
		DevMode:     cfg.DevMode,
		Portfolios:  container.PortfolioService,
		Watchlists:  container.WatchlistService,
		Coordinator: container.Coordinator,
		Monitor:     container.Monitor,
		QueueDB:     container.QueueDB,
		MirrorDB:    container.MirrorDB,
		CacheDB:     container.CacheDB,
		QuoteTTL:    cfg.QuoteTTL,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
}

// heldAndWatchedTickers collects the tickers the quote stream should follow
func heldAndWatchedTickers(container *di.Container) ([]string, error) {
	held, err := container.PortfolioRepo.AllTickers()
	if err != nil {
		return nil, err
	}
	watched, err := container.WatchlistRepo.AllTickers()
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(held)+len(watched))
	for _, t := range held {
		set[t] = struct{}{}
	}
	for _, t := range watched {
		set[t] = struct{}{}
	}

	tickers := make([]string, 0, len(set))
	for t := range set {
		tickers = append(tickers, t)
	}
	return tickers, nil
}
