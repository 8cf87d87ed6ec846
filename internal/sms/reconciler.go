package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/thrillee/smppgateway/internal/database"
	"github.com/thrillee/smppgateway/internal/dlr"
	"github.com/thrillee/smppgateway/internal/logging"
	"github.com/thrillee/smppgateway/internal/metrics"
	"github.com/thrillee/smppgateway/internal/mno"
	"github.com/thrillee/smppgateway/pkg/codes"
	"github.com/thrillee/smppgateway/pkg/pdu"
	"github.com/thrillee/smppgateway/pkg/segmenter"
)

var errDuplicateReceipt = errors.New("receipt already recorded")

// Reconciler turns delivery receipts into message status changes. Each
// distinct receipt payload is recorded once; replays change nothing.
type Reconciler struct {
	store   database.Store
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewReconciler(store database.Store, m *metrics.Metrics) *Reconciler {
	return &Reconciler{store: store, metrics: m, now: time.Now}
}

var _ mno.DeliverHandlerFunc = (*Reconciler)(nil).HandleDeliver

// HandleDeliver receives every deliver_sm the session pool reads. Receipts
// are applied; mobile-originated messages are logged and dropped. It never
// fails the session's dispatch.
func (r *Reconciler) HandleDeliver(ctx context.Context, configName string, d *pdu.DeliverSM) {
	ctx = logging.ContextWithConfigName(ctx, configName)
	if !d.IsDeliveryReceipt() {
		slog.InfoContext(ctx, "Ignoring mobile-originated deliver_sm",
			slog.String("source_addr", d.SourceAddr),
			slog.Int("esm_class", int(d.ESMClass)),
		)
		return
	}
	if _, err := r.ApplyReceipt(ctx, configName, d); err != nil {
		slog.ErrorContext(ctx, "Failed to apply delivery receipt", slog.Any("error", err))
	}
}

// ReceiptResult describes what ApplyReceipt did.
type ReceiptResult struct {
	SmscMessageID string
	MessageID     string // empty when no message carries the SMSC id
	Stat          string
	Status        string
	Recorded      bool // a new receipt row was written
	Duplicate     bool
	Updated       bool // the message status changed
}

// ApplyReceipt parses a receipt deliver_sm, stores it and moves the
// matching message to its final status. Receipts without a message id or a
// state are discarded with a log line and no error.
func (r *Reconciler) ApplyReceipt(ctx context.Context, configName string, d *pdu.DeliverSM) (ReceiptResult, error) {
	raw := segmenter.Decode(d.Text(), d.DataCoding)
	rec := dlr.Parse(raw)

	smscID := rec.ID
	if smscID == "" {
		if v, ok := pdu.FindTLV(d.TLVs, pdu.TagReceiptedMessageID); ok {
			smscID = strings.TrimRight(string(v), "\x00")
		}
	}

	stat, status := rec.Stat, ""
	if stat != "" {
		status = dlr.MapStatus(stat)
	} else if v, ok := pdu.FindTLV(d.TLVs, pdu.TagMessageState); ok && len(v) == 1 {
		state := pdu.MessageState(v[0])
		if s, final := dlr.MapMessageState(state); final {
			stat, status = state.String(), s
		}
	}

	if smscID == "" || status == "" {
		slog.WarnContext(ctx, "Discarding unusable delivery receipt", slog.String("payload", raw))
		r.metrics.ReceiptApplied("discarded")
		return ReceiptResult{}, nil
	}
	ctx = logging.ContextWithSmscMsgID(ctx, smscID)
	result := ReceiptResult{SmscMessageID: smscID, Stat: stat, Status: status}

	var msg *database.Message
	found, err := r.store.FindMessageBySmscID(ctx, smscID)
	switch {
	case err == nil:
		msg = &found
		result.MessageID = found.ID
		ctx = logging.ContextWithMessageID(ctx, found.ID)
	case errors.Is(err, database.ErrNotFound):
		slog.WarnContext(ctx, "Receipt does not match any message, storing unlinked")
	default:
		return result, fmt.Errorf("finding message by smsc id: %w", err)
	}

	var errCode *string
	if rec.Err != "" {
		errCode = &rec.Err
	}

	err = r.store.ExecTx(ctx, func(q database.Querier) error {
		arg := database.CreateDeliveryReceiptParams{
			SmscMessageID: smscID,
			FinalStatus:   status,
			StatRaw:       stat,
			SubmitDate:    rec.SubmitDate,
			DoneDate:      rec.DoneDate,
			ErrorCode:     errCode,
			RawPayload:    raw,
			PayloadHash:   dlr.PayloadHash(raw),
		}
		if msg != nil {
			arg.MessageID = &msg.ID
			arg.Recipient = &msg.Recipient
		}
		if _, err := q.CreateDeliveryReceipt(ctx, arg); err != nil {
			if errors.Is(err, database.ErrDuplicate) {
				return errDuplicateReceipt
			}
			return fmt.Errorf("storing delivery receipt: %w", err)
		}
		result.Recorded = true

		if msg == nil {
			return nil
		}
		updated, err := r.applyStatus(ctx, q, *msg, statusUpdate{
			Status:     status,
			SmscStatus: stat,
			ErrorCode:  errCode,
			DoneDate:   rec.DoneDate,
		})
		result.Updated = updated
		return err
	})
	if errors.Is(err, errDuplicateReceipt) {
		slog.DebugContext(ctx, "Receipt already recorded, ignoring")
		r.metrics.ReceiptApplied("duplicate")
		return ReceiptResult{SmscMessageID: smscID, MessageID: result.MessageID, Stat: stat, Status: status, Duplicate: true}, nil
	}
	if err != nil {
		return ReceiptResult{}, err
	}

	r.metrics.ReceiptApplied(status)
	logConnectionEvent(ctx, r.store, configName, codes.EventReceiveReceipt,
		fmt.Sprintf("receipt for %s: %s", smscID, stat), nil)
	slog.InfoContext(ctx, "Delivery receipt recorded",
		slog.String("stat", stat),
		slog.String("status", status),
		slog.Bool("updated", result.Updated),
	)
	return result, nil
}

// linkEarlyReceipts attaches receipts that arrived before msg's SMSC id was
// stored and applies the first one the lifecycle allows. msg must already
// carry its SMSC id and sent status.
func (r *Reconciler) linkEarlyReceipts(ctx context.Context, q database.Querier, msg database.Message) error {
	receipts, err := q.LinkReceipts(ctx, database.LinkReceiptsParams{
		SmscMessageID: *msg.SmscMessageID,
		MessageID:     msg.ID,
		Recipient:     msg.Recipient,
	})
	if err != nil {
		return fmt.Errorf("linking early receipts: %w", err)
	}
	for _, rec := range receipts {
		updated, err := r.applyStatus(ctx, q, msg, statusUpdate{
			Status:     rec.FinalStatus,
			SmscStatus: rec.StatRaw,
			ErrorCode:  rec.ErrorCode,
			DoneDate:   rec.DoneDate,
		})
		if err != nil {
			return err
		}
		if updated {
			slog.InfoContext(ctx, "Applied receipt that arrived before the submit response",
				slog.Int64("receipt_id", rec.ID),
				slog.String("status", rec.FinalStatus),
			)
			break
		}
	}
	return nil
}

type statusUpdate struct {
	Status     string
	SmscStatus string
	ErrorCode  *string
	DoneDate   *time.Time
}

// applyStatus moves msg to upd.Status if the lifecycle allows it. It
// reports false when the message is already there, has moved past it, or
// changed since it was read.
func (r *Reconciler) applyStatus(ctx context.Context, q database.Querier, msg database.Message, upd statusUpdate) (bool, error) {
	if msg.Status == upd.Status {
		return false, nil
	}
	if !codes.CanTransition(msg.Status, upd.Status) {
		slog.InfoContext(ctx, "Ignoring status change not allowed by lifecycle",
			slog.String("from", msg.Status),
			slog.String("to", upd.Status),
		)
		return false, nil
	}

	arg := database.UpdateMessageStatusParams{
		ID:         msg.ID,
		FromStatus: msg.Status,
		Status:     upd.Status,
		SmscStatus: &upd.SmscStatus,
		ErrorCode:  upd.ErrorCode,
	}
	if upd.Status == codes.MsgStatusDelivered {
		at := r.now()
		if upd.DoneDate != nil {
			at = *upd.DoneDate
		}
		arg.DeliveredAt = &at
	} else {
		reason := "SMSC reported " + upd.SmscStatus
		if upd.ErrorCode != nil {
			reason += " (err " + *upd.ErrorCode + ")"
		}
		arg.ErrorMessage = &reason
	}

	n, err := q.UpdateMessageStatus(ctx, arg)
	if err != nil {
		return false, fmt.Errorf("updating message status: %w", err)
	}
	if n == 0 {
		slog.InfoContext(ctx, "Message status changed concurrently, receipt not applied")
		return false, nil
	}
	return true, nil
}

func mapQueryState(resp *pdu.QuerySMResp) (string, bool) {
	return dlr.MapMessageState(resp.MessageState)
}

func queryErrorCode(resp *pdu.QuerySMResp) *string {
	if resp.ErrorCode == 0 {
		return nil
	}
	code := fmt.Sprintf("%03d", resp.ErrorCode)
	return &code
}

// parseFinalDate reads the YYMMDDhhmmss prefix of an SMPP absolute time.
func parseFinalDate(s string) *time.Time {
	if len(s) < 12 {
		return nil
	}
	t, ok := dlr.ParseSMPPTime(s[:12])
	if !ok {
		return nil
	}
	return &t
}
