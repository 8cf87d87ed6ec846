package workers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// DefaultRunTimeout bounds a single run when the caller passes no timeout.
const DefaultRunTimeout = 1 * time.Minute

// WorkerFunc defines the function signature for work performed by a worker loop.
// It returns the number of items processed and any critical error encountered.
type WorkerFunc func(ctx context.Context, batchSize int) (int, error)

// RunWorkerLoop runs a generic worker function periodically until ctx is done.
func RunWorkerLoop(ctx context.Context, name string, interval time.Duration, batchSize int, runTimeout time.Duration, workerFunc WorkerFunc) {
	slog.InfoContext(ctx, "Worker starting",
		slog.String("worker", name),
		slog.Duration("interval", interval),
		slog.Int("batch_size", batchSize),
	)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Worker stopping", slog.String("worker", name))
			return
		case <-ticker.C:
			RunOnce(ctx, name, batchSize, runTimeout, workerFunc)
		}
	}
}

// RunOnce executes a single batch of work with a timeout.
func RunOnce(ctx context.Context, name string, batchSize int, runTimeout time.Duration, workerFunc WorkerFunc) (int, error) {
	if runTimeout <= 0 {
		runTimeout = DefaultRunTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	processedCount, err := workerFunc(runCtx, batchSize)

	if err != nil {
		// Don't log expected "no rows" error unless debugging
		if errors.Is(err, pgx.ErrNoRows) {
			return processedCount, nil
		}
		slog.ErrorContext(ctx, "Error in worker run", slog.String("worker", name), slog.Any("error", err))
	} else if processedCount > 0 {
		slog.DebugContext(ctx, "Worker run processed items", slog.String("worker", name), slog.Int("count", processedCount))
	}
	return processedCount, err
}
