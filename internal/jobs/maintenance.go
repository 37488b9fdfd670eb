package jobs

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/database"
	"github.com/aristath/folio/internal/mirror"
)

// MaintenanceJob checkpoints WAL files and evicts dead cache entries.
// Scheduled nightly, when the app is most likely idle.
type MaintenanceJob struct {
	databases   map[string]*database.DB
	quotes      *mirror.QuoteCache
	quoteMaxAge time.Duration
	log         zerolog.Logger
}

// NewMaintenanceJob creates the nightly maintenance job
func NewMaintenanceJob(
	databases map[string]*database.DB,
	quotes *mirror.QuoteCache,
	quoteMaxAge time.Duration,
	log zerolog.Logger,
) *MaintenanceJob {
	if quoteMaxAge <= 0 {
		quoteMaxAge = 30 * 24 * time.Hour
	}
	return &MaintenanceJob{
		databases:   databases,
		quotes:      quotes,
		quoteMaxAge: quoteMaxAge,
		log:         log.With().Str("job", "maintenance").Logger(),
	}
}

// Run checkpoints every database and evicts stale quotes
func (j *MaintenanceJob) Run() error {
	for name, db := range j.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Error().Err(err).Str("database", name).Msg("WAL checkpoint failed")
			return err
		}
		j.log.Debug().Str("database", name).Msg("WAL checkpoint complete")
	}

	evicted, err := j.quotes.EvictStale(j.quoteMaxAge)
	if err != nil {
		return err
	}
	if evicted > 0 {
		j.log.Info().Int64("evicted", evicted).Msg("Evicted stale quotes")
	}

	return nil
}

// Name returns the job name
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}
