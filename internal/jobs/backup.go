package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/reliability"
)

// BackupJob runs the off-device backup on a schedule
type BackupJob struct {
	backup  *reliability.BackupService
	timeout time.Duration
	log     zerolog.Logger
}

// NewBackupJob creates the backup job
func NewBackupJob(backup *reliability.BackupService, timeout time.Duration, log zerolog.Logger) *BackupJob {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &BackupJob{
		backup:  backup,
		timeout: timeout,
		log:     log.With().Str("job", "backup").Logger(),
	}
}

// Run snapshots the databases and uploads the archive
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.backup.Run(ctx)
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "backup"
}
