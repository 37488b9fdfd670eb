package jobs

import (
	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/syncer"
)

// SyncFailsafeJob nudges the coordinator on a schedule. Connectivity
// transitions normally trigger drains on their own; this catches queues left
// behind by missed transitions or drains that exhausted their backoff.
type SyncFailsafeJob struct {
	coord *syncer.Coordinator
	log   zerolog.Logger
}

// NewSyncFailsafeJob creates the drain failsafe job
func NewSyncFailsafeJob(coord *syncer.Coordinator, log zerolog.Logger) *SyncFailsafeJob {
	return &SyncFailsafeJob{
		coord: coord,
		log:   log.With().Str("job", "sync_failsafe").Logger(),
	}
}

// Run triggers a drain when there is queued work and the network is up
func (j *SyncFailsafeJob) Run() error {
	status := j.coord.Status()
	if !status.Online || status.QueueDepth == 0 {
		return nil
	}

	j.log.Info().Int("queue_depth", status.QueueDepth).Msg("Triggering failsafe drain")
	j.coord.SyncNow()
	return nil
}

// Name returns the job name
func (j *SyncFailsafeJob) Name() string {
	return "sync_failsafe"
}
