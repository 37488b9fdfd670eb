package jobs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/mirror"
	"github.com/aristath/folio/internal/remote"
)

// QuoteRefreshJob pulls fresh market data for every held and watched ticker
// into the quote cache. Skipped entirely while offline; aggregate math keeps
// using whatever is cached.
type QuoteRefreshJob struct {
	adapter    remote.Adapter
	monitor    connectivityProbe
	portfolios *mirror.PortfolioRepository
	watchlists *mirror.WatchlistRepository
	quotes     *mirror.QuoteCache
	timeout    time.Duration
	log        zerolog.Logger
}

type connectivityProbe interface {
	IsOnline() bool
}

// NewQuoteRefreshJob creates the quote refresh job
func NewQuoteRefreshJob(
	adapter remote.Adapter,
	monitor connectivityProbe,
	portfolios *mirror.PortfolioRepository,
	watchlists *mirror.WatchlistRepository,
	quotes *mirror.QuoteCache,
	timeout time.Duration,
	log zerolog.Logger,
) *QuoteRefreshJob {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &QuoteRefreshJob{
		adapter:    adapter,
		monitor:    monitor,
		portfolios: portfolios,
		watchlists: watchlists,
		quotes:     quotes,
		timeout:    timeout,
		log:        log.With().Str("job", "quote_refresh").Logger(),
	}
}

// Run refreshes the cache for the union of held and watched tickers
func (j *QuoteRefreshJob) Run() error {
	if !j.monitor.IsOnline() {
		j.log.Debug().Msg("Offline, skipping quote refresh")
		return nil
	}

	tickers, err := j.collectTickers()
	if err != nil {
		return err
	}
	if len(tickers) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	refreshed := 0
	var lastErr error
	for _, ticker := range tickers {
		quote, err := j.adapter.GetQuote(ctx, ticker)
		if err != nil {
			j.log.Warn().Err(err).Str("ticker", ticker).Msg("Quote fetch failed")
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if err := j.quotes.Put(*quote); err != nil {
			return fmt.Errorf("failed to cache quote for %s: %w", ticker, err)
		}
		refreshed++
	}

	j.log.Info().Int("refreshed", refreshed).Int("total", len(tickers)).Msg("Quote refresh finished")
	if refreshed == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// Name returns the job name
func (j *QuoteRefreshJob) Name() string {
	return "quote_refresh"
}

func (j *QuoteRefreshJob) collectTickers() ([]string, error) {
	held, err := j.portfolios.AllTickers()
	if err != nil {
		return nil, err
	}
	watched, err := j.watchlists.AllTickers()
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
	sort.Strings(tickers)
	return tickers, nil
}
