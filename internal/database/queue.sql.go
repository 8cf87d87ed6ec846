package database

import (
	"context"
	"sort"
	"time"
)

const queueColumns = `id, message_id, priority, attempts, max_attempts, retry_interval_secs, timeout_secs,
	scheduled_for, last_attempt_at, status, error_log, processing_notes, locked_by, created_at, updated_at`

func scanQueueEntry(row interface{ Scan(...any) error }) (QueueEntry, error) {
	var i QueueEntry
	err := row.Scan(
		&i.ID,
		&i.MessageID,
		&i.Priority,
		&i.Attempts,
		&i.MaxAttempts,
		&i.RetryIntervalSecs,
		&i.TimeoutSecs,
		&i.ScheduledFor,
		&i.LastAttemptAt,
		&i.Status,
		&i.ErrorLog,
		&i.ProcessingNotes,
		&i.LockedBy,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createQueueEntry = `INSERT INTO sms_queue (
	message_id, priority, max_attempts, retry_interval_secs, timeout_secs, scheduled_for, status
) VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + queueColumns

func (q *Queries) CreateQueueEntry(ctx context.Context, arg CreateQueueEntryParams) (QueueEntry, error) {
	row := q.db.QueryRow(ctx, createQueueEntry,
		arg.MessageID,
		arg.Priority,
		arg.MaxAttempts,
		arg.RetryIntervalSecs,
		arg.TimeoutSecs,
		arg.ScheduledFor,
		arg.Status,
	)
	i, err := scanQueueEntry(row)
	if err != nil {
		return i, mapInsertError(err)
	}
	return i, nil
}

const getQueueEntry = `SELECT ` + queueColumns + ` FROM sms_queue WHERE id = $1`

func (q *Queries) GetQueueEntry(ctx context.Context, id int64) (QueueEntry, error) {
	return scanQueueEntry(q.db.QueryRow(ctx, getQueueEntry, id))
}

const getLatestQueueEntryForMessage = `SELECT ` + queueColumns + ` FROM sms_queue
WHERE message_id = $1
ORDER BY created_at DESC, id DESC
LIMIT 1`

func (q *Queries) GetLatestQueueEntryForMessage(ctx context.Context, messageID string) (QueueEntry, error) {
	return scanQueueEntry(q.db.QueryRow(ctx, getLatestQueueEntryForMessage, messageID))
}

// SKIP LOCKED keeps concurrent ticks from claiming the same rows.
const claimDueQueueEntries = `UPDATE sms_queue SET
	status = 'processing',
	locked_by = $2,
	updated_at = now()
WHERE id IN (
	SELECT id FROM sms_queue
	WHERE status IN ('pending', 'retrying')
		AND scheduled_for <= $1
		AND attempts < max_attempts
	ORDER BY priority ASC, created_at ASC, id ASC
	LIMIT $3
	FOR UPDATE SKIP LOCKED
)
RETURNING ` + queueColumns

func (q *Queries) ClaimDueQueueEntries(ctx context.Context, arg ClaimDueQueueEntriesParams) ([]QueueEntry, error) {
	rows, err := q.db.Query(ctx, claimDueQueueEntries, arg.Now, arg.LockedBy, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []QueueEntry
	for rows.Next() {
		i, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING does not preserve the subquery order.
	SortQueueEntries(items)
	return items, nil
}

// SortQueueEntries orders entries the way they are claimed: priority, then age.
func SortQueueEntries(items []QueueEntry) {
	sort.SliceStable(items, func(a, b int) bool {
		if items[a].Priority != items[b].Priority {
			return items[a].Priority < items[b].Priority
		}
		if !items[a].CreatedAt.Equal(items[b].CreatedAt) {
			return items[a].CreatedAt.Before(items[b].CreatedAt)
		}
		return items[a].ID < items[b].ID
	})
}

const updateQueueEntry = `UPDATE sms_queue SET
	status = $2,
	attempts = $3,
	scheduled_for = COALESCE($4, scheduled_for),
	last_attempt_at = COALESCE($5, last_attempt_at),
	error_log = $6,
	processing_notes = $7,
	locked_by = NULL,
	updated_at = now()
WHERE id = $1`

func (q *Queries) UpdateQueueEntry(ctx context.Context, arg UpdateQueueEntryParams) error {
	_, err := q.db.Exec(ctx, updateQueueEntry,
		arg.ID,
		arg.Status,
		arg.Attempts,
		arg.ScheduledFor,
		arg.LastAttemptAt,
		arg.ErrorLog,
		arg.ProcessingNotes,
	)
	return err
}

const releaseStaleClaims = `UPDATE sms_queue SET
	status = 'retrying',
	locked_by = NULL,
	updated_at = now()
WHERE status = 'processing' AND updated_at < $1`

func (q *Queries) ReleaseStaleClaims(ctx context.Context, claimedBefore time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, releaseStaleClaims, claimedBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const countQueueEntriesByStatus = `SELECT status, count(*) FROM sms_queue GROUP BY status ORDER BY status`

func (q *Queries) CountQueueEntriesByStatus(ctx context.Context) ([]StatusCount, error) {
	return q.queryStatusCounts(ctx, countQueueEntriesByStatus)
}

const deleteCompletedQueueEntriesBefore = `DELETE FROM sms_queue WHERE status = 'completed' AND updated_at < $1`

func (q *Queries) DeleteCompletedQueueEntriesBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteCompletedQueueEntriesBefore, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
