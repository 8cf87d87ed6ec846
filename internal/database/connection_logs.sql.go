package database

import (
	"context"
	"time"
)

const createConnectionLog = `INSERT INTO smpp_connection_logs (configuration_name, event_type, details, error_code)
VALUES ($1, $2, $3, $4)`

func (q *Queries) CreateConnectionLog(ctx context.Context, arg CreateConnectionLogParams) error {
	_, err := q.db.Exec(ctx, createConnectionLog,
		arg.ConfigurationName,
		arg.EventType,
		arg.Details,
		arg.ErrorCode,
	)
	return err
}

const listConnectionLogs = `SELECT id, configuration_name, event_type, details, error_code, event_time
FROM smpp_connection_logs
WHERE configuration_name = $1
ORDER BY event_time DESC, id DESC
LIMIT $2`

func (q *Queries) ListConnectionLogs(ctx context.Context, arg ListConnectionLogsParams) ([]ConnectionLog, error) {
	rows, err := q.db.Query(ctx, listConnectionLogs, arg.ConfigurationName, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ConnectionLog
	for rows.Next() {
		var i ConnectionLog
		if err := rows.Scan(
			&i.ID,
			&i.ConfigurationName,
			&i.EventType,
			&i.Details,
			&i.ErrorCode,
			&i.EventTime,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// Keeps the newest Keep rows for a configuration.
const trimConnectionLogs = `DELETE FROM smpp_connection_logs
WHERE configuration_name = $1
	AND id NOT IN (
		SELECT id FROM smpp_connection_logs
		WHERE configuration_name = $1
		ORDER BY event_time DESC, id DESC
		LIMIT $2
	)`

func (q *Queries) TrimConnectionLogs(ctx context.Context, arg TrimConnectionLogsParams) (int64, error) {
	tag, err := q.db.Exec(ctx, trimConnectionLogs, arg.ConfigurationName, arg.Keep)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const deleteConnectionLogsBefore = `DELETE FROM smpp_connection_logs WHERE event_time < $1`

func (q *Queries) DeleteConnectionLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteConnectionLogsBefore, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
