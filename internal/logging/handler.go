package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	ConfigNameKey   contextKey = "config_name"
	MessageIDKey    contextKey = "msg_id"
	QueueEntryIDKey contextKey = "queue_entry_id"
	SmscMsgIDKey    contextKey = "smsc_msg_id"
	MSISDNKey       contextKey = "msisdn"
	WorkerIDKey     contextKey = "worker_id"
	CommandIDKey    contextKey = "cmd_id"
	SeqNumberKey    contextKey = "seq_num"
	RequestIDKey    contextKey = "request_id"
)

// ContextHandler wraps another slog.Handler and adds attributes from context.
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler creates a handler that extracts values from context.
func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

// Handle adds context attributes before calling the wrapped handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx == nil {
		return h.Handler.Handle(ctx, r)
	}
	for _, key := range []contextKey{ConfigNameKey, MessageIDKey, SmscMsgIDKey, MSISDNKey, WorkerIDKey, CommandIDKey, RequestIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			r.AddAttrs(slog.String(string(key), v))
		}
	}
	if id, ok := ctx.Value(QueueEntryIDKey).(int64); ok {
		r.AddAttrs(slog.Int64(string(QueueEntryIDKey), id))
	}
	if seq, ok := ctx.Value(SeqNumberKey).(uint32); ok {
		r.AddAttrs(slog.Any(string(SeqNumberKey), seq))
	}

	return h.Handler.Handle(ctx, r)
}

// WithAttrs keeps the context extraction on derived handlers.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup keeps the context extraction on derived handlers.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// Helper functions to add values to context
func ContextWithConfigName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ConfigNameKey, name)
}

func ContextWithMessageID(ctx context.Context, msgID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, msgID)
}

func ContextWithQueueEntryID(ctx context.Context, entryID int64) context.Context {
	return context.WithValue(ctx, QueueEntryIDKey, entryID)
}

func ContextWithSmscMsgID(ctx context.Context, smscMsgID string) context.Context {
	return context.WithValue(ctx, SmscMsgIDKey, smscMsgID)
}

func ContextWithMSISDN(ctx context.Context, msisdn string) context.Context {
	return context.WithValue(ctx, MSISDNKey, msisdn)
}

func ContextWithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, WorkerIDKey, workerID)
}

func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func ContextWithPDUInfo(ctx context.Context, commandID string, seqNumber uint32) context.Context {
	ctx = context.WithValue(ctx, CommandIDKey, commandID)
	return context.WithValue(ctx, SeqNumberKey, seqNumber)
}
