package syncqueue

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/domain"
)

// queueColumns is the list of columns for the sync_queue table.
// Column order must match scanOperation() expectations.
const queueColumns = `id, position, scope, op_type, payload, attempts, enqueued_at`

// Queue is the durable store of pending mutations, backed by queue.db.
// Rows are ordered by an AUTOINCREMENT position column; a row is deleted only
// after the remote service confirms the operation, so a crash at any point
// leaves the operation in the queue for the next drain.
//
// Enqueue, Remove and Requeue serialize on a mutex; the underlying database
// runs with synchronous=FULL so a returned Enqueue is on disk.
type Queue struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
}

// NewQueue creates a sync queue over the given queue database connection
func NewQueue(db *sql.DB, log zerolog.Logger) *Queue {
	return &Queue{
		db:  db,
		log: log.With().Str("component", "sync_queue").Logger(),
	}
}

// Enqueue validates, encodes and durably appends an operation.
// It returns the stored operation with its assigned id and position.
// The write is fsynced before Enqueue returns; callers may treat a nil error
// as a durability guarantee.
func (q *Queue) Enqueue(payload Payload) (*Operation, error) {
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s operation: %w", payload.OpType(), err)
	}

	data, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	op := &Operation{
		ID:         uuid.NewString(),
		Type:       payload.OpType(),
		Payload:    payload,
		EnqueuedAt: domain.NowMillis(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	result, err := q.db.Exec(`
		INSERT INTO sync_queue (id, scope, op_type, payload, attempts, enqueued_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`, op.ID, string(payload.Scope()), string(op.Type), data, op.EnqueuedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s: %w", op.Type, err)
	}

	position, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue position: %w", err)
	}
	op.Position = position

	q.log.Debug().
		Str("op_id", op.ID).
		Str("op_type", string(op.Type)).
		Int64("position", position).
		Msg("Operation enqueued")

	return op, nil
}

// Pending returns all queued operations in insertion order
func (q *Queue) Pending() ([]*Operation, error) {
	return q.pending(`SELECT `+queueColumns+` FROM sync_queue ORDER BY position ASC`, nil)
}

// PendingScope returns the queued operations of one scope in insertion order.
// The result is a snapshot; operations enqueued afterwards are picked up by
// the next drain pass.
func (q *Queue) PendingScope(scope Scope) ([]*Operation, error) {
	return q.pending(
		`SELECT `+queueColumns+` FROM sync_queue WHERE scope = ? ORDER BY position ASC`,
		[]interface{}{string(scope)},
	)
}

func (q *Queue) pending(query string, args []interface{}) ([]*Operation, error) {
	rows, err := q.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync queue: %w", err)
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync queue: %w", err)
	}

	return ops, nil
}

// Remove deletes a confirmed operation. Removing an id that is no longer in
// the queue is not an error, so retries after a crash between confirm and
// remove are harmless.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.db.Exec(`DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove operation %s: %w", id, err)
	}
	return nil
}

// Requeue records a failed delivery attempt. The row is updated in place, so
// the operation keeps its position and will be retried first on the next
// drain of its scope.
func (q *Queue) Requeue(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	result, err := q.db.Exec(`UPDATE sync_queue SET attempts = attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to requeue operation %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		q.log.Warn().Str("op_id", id).Msg("Requeue of unknown operation ignored")
	}
	return nil
}

// Size returns the number of queued operations
func (q *Queue) Size() (int, error) {
	var count int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM sync_queue`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sync queue: %w", err)
	}
	return count, nil
}

// SizeScope returns the number of queued operations in one scope
func (q *Queue) SizeScope(scope Scope) (int, error) {
	var count int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM sync_queue WHERE scope = ?`, string(scope)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sync queue scope %s: %w", scope, err)
	}
	return count, nil
}

// scanOperation scans one queue row, decoding the payload by operation type
func scanOperation(rows *sql.Rows) (*Operation, error) {
	var (
		op      Operation
		scope   string
		opType  string
		payload []byte
	)

	err := rows.Scan(&op.ID, &op.Position, &scope, &opType, &payload, &op.Attempts, &op.EnqueuedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue row: %w", err)
	}

	op.Type = OpType(opType)
	op.Payload, err = decodePayload(op.Type, payload)
	if err != nil {
		return nil, fmt.Errorf("corrupt queue row %s: %w", op.ID, err)
	}

	return &op, nil
}
