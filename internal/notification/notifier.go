package notification

import (
	"context"
	"log/slog"
)

// Notifier defines the interface for sending operator notifications.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// LogNotifier writes notifications to the structured log. It stands in for
// a mail or chat integration.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send logs the notification details.
func (n *LogNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	if err := ctx.Err(); err != nil {
		n.logger.WarnContext(ctx, "Notification sending cancelled", slog.String("recipient", recipient))
		return err
	}
	n.logger.WarnContext(ctx, "NOTIFICATION",
		slog.String("recipient", recipient),
		slog.String("subject", subject),
		slog.String("body", body),
	)
	return nil
}

// Compile-time check to ensure LogNotifier implements Notifier
var _ Notifier = (*LogNotifier)(nil)
