// Package watchlist implements the UI-facing watchlist operations.
// Same offline-first shape as the portfolio service: optimistic mirror
// writes, remote application through the sync coordinator, creation online
// only.
package watchlist

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/mirror"
	"github.com/aristath/folio/internal/syncer"
	"github.com/aristath/folio/internal/syncqueue"
)

// ErrNotFound is returned when the referenced watchlist does not exist in
// the mirror.
var ErrNotFound = errors.New("not found")

// Service handles watchlist operations
type Service struct {
	coord      *syncer.Coordinator
	monitor    syncer.ConnectivitySource
	watchlists *mirror.WatchlistRepository
	log        zerolog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewService creates a watchlist service
func NewService(
	coord *syncer.Coordinator,
	monitor syncer.ConnectivitySource,
	watchlists *mirror.WatchlistRepository,
	log zerolog.Logger,
) *Service {
	return &Service{
		coord:      coord,
		monitor:    monitor,
		watchlists: watchlists,
		log:        log.With().Str("component", "watchlist_service").Logger(),
		locks:      make(map[string]*sync.Mutex),
	}
}

func (s *Service) lockWatchlist(id string) func() {
	s.locksMu.Lock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	s.locksMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// List returns all mirrored watchlists
func (s *Service) List(ctx context.Context) ([]domain.Watchlist, error) {
	return s.watchlists.LoadAll()
}

// Get returns one watchlist, or nil
func (s *Service) Get(ctx context.Context, id string) (*domain.Watchlist, error) {
	return s.watchlists.Get(id)
}

// Create creates a watchlist. Online only, same policy as portfolios.
func (s *Service) Create(ctx context.Context, name string) (*domain.Watchlist, error) {
	result, err := s.coord.Execute(ctx, &syncqueue.CreateWatchlistPayload{Name: name})
	if err != nil {
		return nil, err
	}
	w, ok := result.(*domain.Watchlist)
	if !ok {
		return nil, fmt.Errorf("unexpected create result %T", result)
	}
	return w, nil
}

// Rename updates a watchlist's name, optimistically mirrored and queued
func (s *Service) Rename(ctx context.Context, id, name string) error {
	unlock := s.lockWatchlist(id)
	defer unlock()

	w, err := s.watchlists.Get(id)
	if err != nil {
		return err
	}
	if w == nil {
		return fmt.Errorf("watchlist %s: %w", id, ErrNotFound)
	}

	w.Name = name
	if err := s.watchlists.Upsert(*w, false); err != nil {
		return err
	}

	_, err = s.coord.Submit(&syncqueue.RenameWatchlistPayload{WatchlistID: id, Name: name})
	return err
}

// Delete removes a watchlist everywhere
func (s *Service) Delete(ctx context.Context, id string) error {
	unlock := s.lockWatchlist(id)
	defer unlock()

	if err := s.watchlists.Delete(id); err != nil {
		return err
	}
	_, err := s.coord.Submit(&syncqueue.DeleteWatchlistPayload{WatchlistID: id})
	return err
}

// AddItem adds a ticker to a watchlist with a client-generated id
func (s *Service) AddItem(ctx context.Context, watchlistID, ticker string) (*domain.WatchlistItem, error) {
	unlock := s.lockWatchlist(watchlistID)
	defer unlock()

	w, err := s.watchlists.Get(watchlistID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("watchlist %s: %w", watchlistID, ErrNotFound)
	}
	for _, existing := range w.Items {
		if existing.Ticker == ticker {
			return &existing, nil
		}
	}

	item := domain.WatchlistItem{
		ID:          uuid.NewString(),
		WatchlistID: watchlistID,
		Ticker:      ticker,
		CreatedAt:   domain.NowMillis(),
	}
	if err := s.watchlists.UpsertItem(item, false); err != nil {
		return nil, err
	}

	_, err = s.coord.Submit(&syncqueue.AddWatchlistItemPayload{
		ItemID:      item.ID,
		WatchlistID: watchlistID,
		Ticker:      ticker,
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// RemoveItem removes a ticker from a watchlist
func (s *Service) RemoveItem(ctx context.Context, watchlistID, itemID string) error {
	unlock := s.lockWatchlist(watchlistID)
	defer unlock()

	if err := s.watchlists.DeleteItem(itemID); err != nil {
		return err
	}
	_, err := s.coord.Submit(&syncqueue.RemoveWatchlistItemPayload{
		ItemID:      itemID,
		WatchlistID: watchlistID,
	})
	return err
}
