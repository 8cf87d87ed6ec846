package database

import (
	"context"
)

const messageColumns = `id, configuration_name, recipient, body, data_coding, priority, sender_id,
	service_type, message_type, registered_delivery, replace_if_present, scheduled_time,
	validity_period, status, smsc_status, smsc_message_id, error_code, error_message,
	retry_count, parts, reference_type, reference_name, created_at, sent_at, delivered_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var i Message
	err := row.Scan(
		&i.ID,
		&i.ConfigurationName,
		&i.Recipient,
		&i.Body,
		&i.DataCoding,
		&i.Priority,
		&i.SenderID,
		&i.ServiceType,
		&i.MessageType,
		&i.RegisteredDelivery,
		&i.ReplaceIfPresent,
		&i.ScheduledTime,
		&i.ValidityPeriod,
		&i.Status,
		&i.SmscStatus,
		&i.SmscMessageID,
		&i.ErrorCode,
		&i.ErrorMessage,
		&i.RetryCount,
		&i.Parts,
		&i.ReferenceType,
		&i.ReferenceName,
		&i.CreatedAt,
		&i.SentAt,
		&i.DeliveredAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createMessage = `INSERT INTO sms_messages (
	id, configuration_name, recipient, body, data_coding, priority, sender_id, service_type,
	message_type, registered_delivery, replace_if_present, scheduled_time, validity_period,
	status, parts, reference_type, reference_name
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
RETURNING ` + messageColumns

func (q *Queries) CreateMessage(ctx context.Context, arg CreateMessageParams) (Message, error) {
	row := q.db.QueryRow(ctx, createMessage,
		arg.ID,
		arg.ConfigurationName,
		arg.Recipient,
		arg.Body,
		arg.DataCoding,
		arg.Priority,
		arg.SenderID,
		arg.ServiceType,
		arg.MessageType,
		arg.RegisteredDelivery,
		arg.ReplaceIfPresent,
		arg.ScheduledTime,
		arg.ValidityPeriod,
		arg.Status,
		arg.Parts,
		arg.ReferenceType,
		arg.ReferenceName,
	)
	i, err := scanMessage(row)
	if err != nil {
		return i, mapInsertError(err)
	}
	return i, nil
}

const getMessage = `SELECT ` + messageColumns + ` FROM sms_messages WHERE id = $1`

func (q *Queries) GetMessage(ctx context.Context, id string) (Message, error) {
	return scanMessage(q.db.QueryRow(ctx, getMessage, id))
}

const listMessages = `SELECT ` + messageColumns + ` FROM sms_messages
WHERE ($1::text IS NULL OR status = $1)
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`

func (q *Queries) ListMessages(ctx context.Context, arg ListMessagesParams) ([]Message, error) {
	rows, err := q.db.Query(ctx, listMessages, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Message
	for rows.Next() {
		i, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countMessagesByStatus = `SELECT status, count(*) FROM sms_messages GROUP BY status ORDER BY status`

func (q *Queries) CountMessagesByStatus(ctx context.Context) ([]StatusCount, error) {
	return q.queryStatusCounts(ctx, countMessagesByStatus)
}

func (q *Queries) queryStatusCounts(ctx context.Context, sql string) ([]StatusCount, error) {
	rows, err := q.db.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []StatusCount
	for rows.Next() {
		var i StatusCount
		if err := rows.Scan(&i.Status, &i.Count); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const findMessageBySmscID = `SELECT ` + messageColumns + ` FROM sms_messages WHERE smsc_message_id = $1`

func (q *Queries) FindMessageBySmscID(ctx context.Context, smscMessageID string) (Message, error) {
	return scanMessage(q.db.QueryRow(ctx, findMessageBySmscID, smscMessageID))
}

const updateMessageStatus = `UPDATE sms_messages SET
	status = $3,
	smsc_message_id = COALESCE($4, smsc_message_id),
	smsc_status = COALESCE($5, smsc_status),
	error_code = COALESCE($6, error_code),
	error_message = COALESCE($7, error_message),
	sent_at = COALESCE($8, sent_at),
	delivered_at = COALESCE($9, delivered_at),
	updated_at = now()
WHERE id = $1 AND status = $2`

func (q *Queries) UpdateMessageStatus(ctx context.Context, arg UpdateMessageStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updateMessageStatus,
		arg.ID,
		arg.FromStatus,
		arg.Status,
		arg.SmscMessageID,
		arg.SmscStatus,
		arg.ErrorCode,
		arg.ErrorMessage,
		arg.SentAt,
		arg.DeliveredAt,
	)
	if err != nil {
		return 0, mapInsertError(err)
	}
	return tag.RowsAffected(), nil
}

const recordMessageAttempt = `UPDATE sms_messages SET
	retry_count = retry_count + 1,
	error_code = $2,
	error_message = $3,
	updated_at = now()
WHERE id = $1`

func (q *Queries) RecordMessageAttempt(ctx context.Context, arg RecordMessageAttemptParams) error {
	_, err := q.db.Exec(ctx, recordMessageAttempt, arg.ID, arg.ErrorCode, arg.ErrorMessage)
	return err
}
