// Package syncer contains the reconciliation state machine that drains the
// durable operation queue against the remote service and keeps the local
// mirror consistent with confirmed server state.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/mirror"
	"github.com/aristath/folio/internal/netmon"
	"github.com/aristath/folio/internal/remote"
	"github.com/aristath/folio/internal/syncqueue"
)

const (
	defaultBackoffBase = 5 * time.Second
	defaultBackoffMax  = 5 * time.Minute
)

// ErrOfflineCreate is returned when a portfolio or watchlist creation is
// attempted while offline. Creation needs a server-assigned id before the
// entity can be mirrored, so it cannot be queued.
var ErrOfflineCreate = errors.New("cannot create while offline: a server-assigned id is required")

// State is the coordinator's current phase
type State string

const (
	StateIdle     State = "IDLE"
	StateDraining State = "DRAINING"
	StateBackoff  State = "BACKOFF"
)

// Status is an observable snapshot of the coordinator
type Status struct {
	State      State     `json:"state"`
	Online     bool      `json:"online"`
	QueueDepth int       `json:"queue_depth"`
	LastSyncAt time.Time `json:"last_sync_at"`
	LastError  string    `json:"last_error,omitempty"`
}

// ConnectivitySource is the slice of the network monitor the coordinator
// needs
type ConnectivitySource interface {
	IsOnline() bool
	Subscribe() <-chan netmon.Transition
	CheckNow() bool
	MarkOffline()
}

// Config holds coordinator tuning
type Config struct {
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Coordinator drains the sync queue against the remote adapter.
// One drain pass is in flight at a time; within a pass the portfolio and
// watchlist scopes drain concurrently, each strictly FIFO. Failures never
// cross the goroutine boundary as panics or errors; they are captured in the
// observable status.
type Coordinator struct {
	cfg          Config
	queue        *syncqueue.Queue
	adapter      remote.Adapter
	monitor      ConnectivitySource
	portfolios   *mirror.PortfolioRepository
	transactions *mirror.TransactionRepository
	watchlists   *mirror.WatchlistRepository
	log          zerolog.Logger

	mu              sync.Mutex
	state           State
	lastSyncAt      time.Time
	lastError       string
	backoffAttempts int

	trigger chan struct{}
	stop    chan struct{}
	stopped bool
	started bool
	wg      sync.WaitGroup
}

// New creates a sync coordinator
func New(
	cfg Config,
	queue *syncqueue.Queue,
	adapter remote.Adapter,
	monitor ConnectivitySource,
	portfolios *mirror.PortfolioRepository,
	transactions *mirror.TransactionRepository,
	watchlists *mirror.WatchlistRepository,
	log zerolog.Logger,
) *Coordinator {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}

	return &Coordinator{
		cfg:          cfg,
		queue:        queue,
		adapter:      adapter,
		monitor:      monitor,
		portfolios:   portfolios,
		transactions: transactions,
		watchlists:   watchlists,
		log:          log.With().Str("component", "sync_coordinator").Logger(),
		state:        StateIdle,
		trigger:      make(chan struct{}, 1),
		stop:         make(chan struct{}),
	}
}

// Start launches the reconciliation loop. If the monitor already reports
// online, an initial drain is triggered so operations queued during downtime
// replay immediately.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.started && !c.stopped {
		c.mu.Unlock()
		c.log.Warn().Msg("Sync coordinator already started, ignoring")
		return
	}
	if c.stopped {
		c.stop = make(chan struct{})
		c.stopped = false
	}
	c.started = true
	c.mu.Unlock()

	transitions := c.monitor.Subscribe()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(transitions)
	}()

	c.log.Info().Msg("Sync coordinator started")

	if c.monitor.IsOnline() {
		c.SyncNow()
	}
}

// Stop halts the loop. An in-flight drain pass finishes its current
// operation and abandons the rest of its snapshot; those operations stay
// queued and replay on next start.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.stop)
	c.mu.Unlock()

	c.wg.Wait()
	c.log.Info().Msg("Sync coordinator stopped")
}

// SyncNow requests a drain pass. Non-blocking; if a pass is already pending
// the request coalesces with it.
func (c *Coordinator) SyncNow() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Status returns an observable snapshot
func (c *Coordinator) Status() Status {
	depth, err := c.queue.Size()
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to read queue depth")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:      c.state,
		Online:     c.monitor.IsOnline(),
		QueueDepth: depth,
		LastSyncAt: c.lastSyncAt,
		LastError:  c.lastError,
	}
}

// Submit durably enqueues a mutation and, when online, triggers an immediate
// drain. Portfolio and watchlist creation cannot be queued; callers use
// Execute for those while online.
func (c *Coordinator) Submit(payload syncqueue.Payload) (*syncqueue.Operation, error) {
	switch payload.OpType() {
	case syncqueue.OpCreatePortfolio, syncqueue.OpCreateWatchlist:
		return nil, ErrOfflineCreate
	}

	op, err := c.queue.Enqueue(payload)
	if err != nil {
		return nil, err
	}

	if c.monitor.IsOnline() {
		c.SyncNow()
	}
	return op, nil
}

// Execute applies a mutation against the remote service immediately and
// mirrors the confirmed state. Used for operations that need a synchronous
// server response, such as creation. Fails when offline.
func (c *Coordinator) Execute(ctx context.Context, payload syncqueue.Payload) (interface{}, error) {
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s operation: %w", payload.OpType(), err)
	}
	if !c.monitor.IsOnline() {
		return nil, ErrOfflineCreate
	}

	result, err := c.apply(ctx, payload)
	if err != nil {
		if remote.IsUnreachable(err) {
			c.monitor.MarkOffline()
		}
		return nil, err
	}
	return result, nil
}

// run is the reconciliation loop
func (c *Coordinator) run(transitions <-chan netmon.Transition) {
	var backoffTimer *time.Timer
	var backoffCh <-chan time.Time

	stopBackoff := func() {
		if backoffTimer != nil {
			backoffTimer.Stop()
			backoffTimer = nil
			backoffCh = nil
		}
	}

	for {
		select {
		case <-c.stop:
			stopBackoff()
			return

		case t := <-transitions:
			if !t.Online {
				continue
			}
			// Connectivity recovered: backoff is over regardless of how many
			// passes failed
			stopBackoff()
			c.mu.Lock()
			c.backoffAttempts = 0
			c.state = StateIdle
			c.mu.Unlock()
			c.drainPass()

		case <-c.trigger:
			c.mu.Lock()
			inBackoff := c.state == StateBackoff
			c.mu.Unlock()
			if inBackoff {
				// Let the backoff timer decide when to retry
				continue
			}
			c.drainPass()

		case <-backoffCh:
			stopBackoff()
			c.mu.Lock()
			c.state = StateIdle
			c.mu.Unlock()
			c.drainPass()
		}

		// Schedule a retry if the pass left us in backoff
		c.mu.Lock()
		if c.state == StateBackoff && backoffTimer == nil {
			delay := c.backoffDelay(c.backoffAttempts)
			backoffTimer = time.NewTimer(delay)
			backoffCh = backoffTimer.C
			c.log.Info().Dur("delay", delay).Int("attempt", c.backoffAttempts).Msg("Sync backoff scheduled")
		}
		c.mu.Unlock()
	}
}

// DrainOnce runs a single drain pass synchronously and returns the first
// failure. The background loop uses the same pass; periodic jobs and tests
// call this directly.
func (c *Coordinator) DrainOnce(ctx context.Context) error {
	return c.drainPassCtx(ctx)
}

// drainPass is the background loop's entry into a pass
func (c *Coordinator) drainPass() {
	_ = c.drainPassCtx(context.Background())
}

// drainPassCtx drains both scopes concurrently and updates the state machine
func (c *Coordinator) drainPassCtx(parent context.Context) error {
	if !c.monitor.IsOnline() {
		return nil
	}

	c.mu.Lock()
	c.state = StateDraining
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	var wg sync.WaitGroup
	results := make([]error, 2)
	drops := make([]int, 2)
	for i, scope := range []syncqueue.Scope{syncqueue.ScopePortfolio, syncqueue.ScopeWatchlist} {
		wg.Add(1)
		go func(i int, scope syncqueue.Scope) {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					results[i] = fmt.Errorf("panic draining %s scope: %v", scope, p)
					c.log.Error().Interface("panic", p).Str("scope", string(scope)).Msg("Drain pass panicked")
				}
			}()
			drops[i], results[i] = c.drainScope(ctx, scope)
		}(i, scope)
	}
	wg.Wait()

	var firstErr error
	for _, err := range results {
		if err != nil {
			firstErr = err
			break
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if firstErr != nil {
		c.lastError = firstErr.Error()
		c.backoffAttempts++
		c.state = StateBackoff
		return firstErr
	}
	if drops[0]+drops[1] == 0 {
		// Validation drops completed the pass but must stay visible in the
		// status until a fully clean pass
		c.lastError = ""
	}
	c.backoffAttempts = 0
	c.lastSyncAt = time.Now()
	c.state = StateIdle
	return nil
}

// drainScope replays one scope's snapshot in FIFO order and returns how many
// operations were dropped on validation failure.
//
// Transient failure stops the pass: later operations may depend on the failed
// one, so they stay queued in order for the next attempt. Validation failure
// drops the operation and every pending operation with the same entity key
// (their precondition is gone), then continues with independent operations.
func (c *Coordinator) drainScope(ctx context.Context, scope syncqueue.Scope) (int, error) {
	ops, err := c.queue.PendingScope(scope)
	if err != nil {
		return 0, fmt.Errorf("failed to snapshot %s queue: %w", scope, err)
	}
	if len(ops) == 0 {
		return 0, nil
	}

	c.log.Info().Str("scope", string(scope)).Int("pending", len(ops)).Msg("Draining sync queue")

	droppedCount := 0
	dropped := make(map[string]struct{})
	for _, op := range ops {
		if ctx.Err() != nil {
			// Shutdown mid-pass: everything not yet confirmed stays queued
			return droppedCount, nil
		}
		if _, ok := dropped[op.Payload.EntityKey()]; ok {
			if err := c.queue.Remove(op.ID); err != nil {
				return droppedCount, err
			}
			droppedCount++
			c.log.Warn().
				Str("op_id", op.ID).
				Str("op_type", string(op.Type)).
				Str("entity_key", op.Payload.EntityKey()).
				Msg("Dropped operation dependent on a rejected one")
			continue
		}

		if _, err := c.apply(ctx, op.Payload); err != nil {
			if remote.IsValidation(err) {
				c.log.Warn().Err(err).
					Str("op_id", op.ID).
					Str("op_type", string(op.Type)).
					Msg("Operation rejected by remote service, dropping with dependents")
				dropped[op.Payload.EntityKey()] = struct{}{}
				if removeErr := c.queue.Remove(op.ID); removeErr != nil {
					return droppedCount, removeErr
				}
				droppedCount++
				c.mu.Lock()
				c.lastError = err.Error()
				c.mu.Unlock()
				continue
			}

			// Transient: requeue in place and stop this scope's pass
			c.log.Warn().Err(err).
				Str("op_id", op.ID).
				Str("op_type", string(op.Type)).
				Int("attempts", op.Attempts+1).
				Msg("Transient sync failure, will retry")
			if requeueErr := c.queue.Requeue(op.ID); requeueErr != nil {
				return droppedCount, requeueErr
			}
			if remote.IsUnreachable(err) {
				c.monitor.MarkOffline()
			}
			return droppedCount, err
		}

		if err := c.queue.Remove(op.ID); err != nil {
			return droppedCount, err
		}
		c.log.Debug().
			Str("op_id", op.ID).
			Str("op_type", string(op.Type)).
			Msg("Operation confirmed by remote service")
	}

	return droppedCount, nil
}

// apply invokes the remote call for one operation and writes the confirmed
// server state into the mirror with synced=true
func (c *Coordinator) apply(ctx context.Context, payload syncqueue.Payload) (interface{}, error) {
	switch p := payload.(type) {
	case *syncqueue.CreatePortfolioPayload:
		server, err := c.adapter.UpsertPortfolio(ctx, domain.Portfolio{Name: p.Name})
		if err != nil {
			return nil, err
		}
		if err := c.portfolios.SavePortfolio(*server, true); err != nil {
			return nil, err
		}
		return server, nil

	case *syncqueue.UpdatePortfolioPayload:
		server, err := c.adapter.UpsertPortfolio(ctx, domain.Portfolio{ID: p.PortfolioID, Name: p.Name})
		if err != nil {
			return nil, err
		}
		return server, c.portfolios.UpsertPortfolio(*server, true)

	case *syncqueue.DeletePortfolioPayload:
		if err := c.adapter.DeletePortfolio(ctx, p.PortfolioID); err != nil {
			return nil, err
		}
		return nil, c.portfolios.DeletePortfolio(p.PortfolioID)

	case *syncqueue.AddHoldingPayload:
		server, err := c.adapter.UpsertHolding(ctx, domain.Holding{
			ID:           p.HoldingID,
			PortfolioID:  p.PortfolioID,
			Ticker:       p.Ticker,
			Shares:       p.Shares,
			AveragePrice: p.Price,
		})
		if err != nil {
			return nil, err
		}
		return server, c.portfolios.UpsertHolding(*server, true)

	case *syncqueue.RemoveHoldingPayload:
		if err := c.adapter.DeleteHolding(ctx, p.HoldingID); err != nil {
			return nil, err
		}
		return nil, c.portfolios.DeleteHolding(p.HoldingID)

	case *syncqueue.AddTransactionPayload:
		server, err := c.adapter.InsertTransaction(ctx, p.Transaction())
		if err != nil {
			return nil, err
		}
		if err := c.transactions.Insert(*server, true); err != nil {
			return nil, err
		}
		// Re-derive the holding from the mirrored ledger. Replay is
		// idempotent, so this converges no matter how ops interleave with
		// optimistic local updates.
		if err := c.reconcileHolding(p.PortfolioID, p.Ticker); err != nil {
			return nil, err
		}
		return server, nil

	case *syncqueue.CreateWatchlistPayload:
		server, err := c.adapter.UpsertWatchlist(ctx, domain.Watchlist{Name: p.Name})
		if err != nil {
			return nil, err
		}
		if err := c.watchlists.Save(*server, true); err != nil {
			return nil, err
		}
		return server, nil

	case *syncqueue.RenameWatchlistPayload:
		server, err := c.adapter.UpsertWatchlist(ctx, domain.Watchlist{ID: p.WatchlistID, Name: p.Name})
		if err != nil {
			return nil, err
		}
		return server, c.watchlists.Upsert(*server, true)

	case *syncqueue.DeleteWatchlistPayload:
		if err := c.adapter.DeleteWatchlist(ctx, p.WatchlistID); err != nil {
			return nil, err
		}
		return nil, c.watchlists.Delete(p.WatchlistID)

	case *syncqueue.AddWatchlistItemPayload:
		server, err := c.adapter.UpsertWatchlistItem(ctx, domain.WatchlistItem{
			ID:          p.ItemID,
			WatchlistID: p.WatchlistID,
			Ticker:      p.Ticker,
		})
		if err != nil {
			return nil, err
		}
		return server, c.watchlists.UpsertItem(*server, true)

	case *syncqueue.RemoveWatchlistItemPayload:
		if err := c.adapter.DeleteWatchlistItem(ctx, p.ItemID); err != nil {
			return nil, err
		}
		return nil, c.watchlists.DeleteItem(p.ItemID)

	default:
		return nil, fmt.Errorf("unknown operation payload %T", payload)
	}
}

// reconcileHolding replays the mirrored ledger of one ticker and writes the
// derived position back. The holding is synced once every ledger entry behind
// it is confirmed.
func (c *Coordinator) reconcileHolding(portfolioID, ticker string) error {
	all, err := c.transactions.ListByPortfolio(portfolioID)
	if err != nil {
		return err
	}

	var ledger []domain.Transaction
	synced := true
	for _, tx := range all {
		if tx.Ticker != ticker {
			continue
		}
		ledger = append(ledger, tx)
		if !tx.Synced {
			synced = false
		}
	}

	derived := domain.ReplayTransactions(ledger)
	if len(derived) == 0 {
		return c.portfolios.DeleteHoldingByTicker(portfolioID, ticker)
	}

	h := derived[0]
	if existing, err := c.portfolios.GetHolding(portfolioID, ticker); err != nil {
		return err
	} else if existing != nil {
		h.ID = existing.ID
	}
	return c.portfolios.UpsertHolding(h, synced)
}

// RefreshFromRemote overwrites the mirror with the server's authoritative
// state. Holdings and watchlist items still backed by unsynced local changes
// are preserved; they converge once their queued operations confirm.
func (c *Coordinator) RefreshFromRemote(ctx context.Context) error {
	if !c.monitor.IsOnline() {
		return fmt.Errorf("cannot refresh while offline")
	}

	portfolios, err := c.adapter.ListPortfolios(ctx)
	if err != nil {
		if remote.IsUnreachable(err) {
			c.monitor.MarkOffline()
		}
		return fmt.Errorf("failed to list portfolios: %w", err)
	}

	unsynced, err := c.portfolios.UnsyncedHoldings()
	if err != nil {
		return err
	}
	if err := c.portfolios.SaveAll(portfolios, unsynced); err != nil {
		return err
	}

	for _, p := range portfolios {
		txs, err := c.adapter.ListTransactions(ctx, p.ID)
		if err != nil {
			if remote.IsUnreachable(err) {
				c.monitor.MarkOffline()
			}
			return fmt.Errorf("failed to list transactions of %s: %w", p.ID, err)
		}
		if err := c.transactions.ReplaceForPortfolio(p.ID, txs); err != nil {
			return err
		}
	}

	watchlists, err := c.adapter.ListWatchlists(ctx)
	if err != nil {
		if remote.IsUnreachable(err) {
			c.monitor.MarkOffline()
		}
		return fmt.Errorf("failed to list watchlists: %w", err)
	}
	unsyncedItems, err := c.watchlists.UnsyncedItems()
	if err != nil {
		return err
	}
	if err := c.watchlists.SaveAll(watchlists, unsyncedItems); err != nil {
		return err
	}

	c.mu.Lock()
	c.lastSyncAt = time.Now()
	c.mu.Unlock()

	c.log.Info().
		Int("portfolios", len(portfolios)).
		Int("watchlists", len(watchlists)).
		Msg("Mirror refreshed from remote")
	return nil
}

// backoffDelay is exponential from BackoffBase, capped at BackoffMax
func (c *Coordinator) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(c.cfg.BackoffBase) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.cfg.BackoffMax) {
		delay = float64(c.cfg.BackoffMax)
	}
	return time.Duration(delay)
}
