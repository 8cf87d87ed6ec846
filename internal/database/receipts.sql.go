package database

import (
	"context"
	"sort"
	"time"
)

const receiptColumns = `id, message_id, smsc_message_id, recipient, final_status, stat_raw, submit_date,
	done_date, error_code, raw_payload, payload_hash, processed_at`

func scanReceipt(row interface{ Scan(...any) error }) (DeliveryReceipt, error) {
	var i DeliveryReceipt
	err := row.Scan(
		&i.ID,
		&i.MessageID,
		&i.SmscMessageID,
		&i.Recipient,
		&i.FinalStatus,
		&i.StatRaw,
		&i.SubmitDate,
		&i.DoneDate,
		&i.ErrorCode,
		&i.RawPayload,
		&i.PayloadHash,
		&i.ProcessedAt,
	)
	return i, err
}

// The unique index on (smsc_message_id, payload_hash) makes redelivered
// receipts fail with ErrDuplicate.
const createDeliveryReceipt = `INSERT INTO delivery_receipts (
	message_id, smsc_message_id, recipient, final_status, stat_raw, submit_date, done_date,
	error_code, raw_payload, payload_hash
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + receiptColumns

func (q *Queries) CreateDeliveryReceipt(ctx context.Context, arg CreateDeliveryReceiptParams) (DeliveryReceipt, error) {
	row := q.db.QueryRow(ctx, createDeliveryReceipt,
		arg.MessageID,
		arg.SmscMessageID,
		arg.Recipient,
		arg.FinalStatus,
		arg.StatRaw,
		arg.SubmitDate,
		arg.DoneDate,
		arg.ErrorCode,
		arg.RawPayload,
		arg.PayloadHash,
	)
	i, err := scanReceipt(row)
	if err != nil {
		return i, mapInsertError(err)
	}
	return i, nil
}

const listReceiptsForMessage = `SELECT ` + receiptColumns + ` FROM delivery_receipts
WHERE message_id = $1
ORDER BY processed_at, id`

func (q *Queries) ListReceiptsForMessage(ctx context.Context, messageID string) ([]DeliveryReceipt, error) {
	rows, err := q.db.Query(ctx, listReceiptsForMessage, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DeliveryReceipt
	for rows.Next() {
		i, err := scanReceipt(rows)
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

const linkReceipts = `UPDATE delivery_receipts
SET message_id = $2, recipient = $3
WHERE smsc_message_id = $1 AND message_id IS NULL
RETURNING ` + receiptColumns

func (q *Queries) LinkReceipts(ctx context.Context, arg LinkReceiptsParams) ([]DeliveryReceipt, error) {
	rows, err := q.db.Query(ctx, linkReceipts, arg.SmscMessageID, arg.MessageID, arg.Recipient)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DeliveryReceipt
	for rows.Next() {
		i, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING has no ORDER BY.
	sort.Slice(items, func(a, b int) bool { return items[a].ID < items[b].ID })
	return items, nil
}

const deleteReceiptsBefore = `DELETE FROM delivery_receipts WHERE processed_at < $1`

func (q *Queries) DeleteReceiptsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteReceiptsBefore, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
