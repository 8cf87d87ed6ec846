package sms

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thrillee/smppgateway/internal/config"
	"github.com/thrillee/smppgateway/internal/database"
	"github.com/thrillee/smppgateway/internal/metrics"
	"github.com/thrillee/smppgateway/internal/workers"
	"github.com/thrillee/smppgateway/pkg/codes"
)

// Manager orchestrates the background worker loops.
type Manager struct {
	store       database.Querier
	processor   *Processor
	healthCheck workers.WorkerFunc
	metrics     *metrics.Metrics
	workerCfg   config.WorkerConfig
	retention   config.RetentionConfig
	now         func() time.Time

	wg sync.WaitGroup
}

// NewManager wires the loops. healthCheck is the session pool's tick.
func NewManager(store database.Querier, processor *Processor, healthCheck workers.WorkerFunc, m *metrics.Metrics, wc config.WorkerConfig, rc config.RetentionConfig) *Manager {
	return &Manager{
		store:       store,
		processor:   processor,
		healthCheck: healthCheck,
		metrics:     m,
		workerCfg:   wc,
		retention:   rc,
		now:         time.Now,
	}
}

// Start launches every loop. They stop when ctx is cancelled; Wait blocks
// until they have.
func (m *Manager) Start(ctx context.Context) {
	slog.InfoContext(ctx, "Starting background workers...")
	m.run(ctx, "SMS-Queue", m.workerCfg.QueueInterval, m.workerCfg.QueueBatchSize, m.processor.ProcessQueueStep)
	if m.healthCheck != nil {
		m.run(ctx, "SMPP-Health", m.workerCfg.HealthInterval, 0, m.healthCheck)
	}
	if m.workerCfg.StaleClaimAfter > 0 {
		// Claims left by a previous process go back before the first tick.
		workers.RunOnce(ctx, "Stale-Claims", 0, m.workerCfg.RunTimeout, m.ReleaseStaleClaims)
		m.run(ctx, "Stale-Claims", m.workerCfg.StaleClaimInterval, 0, m.ReleaseStaleClaims)
	}
	m.run(ctx, "Housekeeping", m.workerCfg.CleanupInterval, 0, m.Cleanup)
	if m.metrics != nil {
		m.run(ctx, "Queue-Metrics", m.workerCfg.MetricsInterval, 0, m.RecordQueueDepth)
	}
}

func (m *Manager) run(ctx context.Context, name string, interval time.Duration, batchSize int, fn workers.WorkerFunc) {
	if interval <= 0 {
		slog.WarnContext(ctx, "Worker disabled, no interval configured", slog.String("worker", name))
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		workers.RunWorkerLoop(ctx, name, interval, batchSize, m.workerCfg.RunTimeout, fn)
	}()
}

// Wait blocks until every loop started by Start has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// ReleaseStaleClaims hands back entries that have sat in processing longer
// than StaleClaimAfter, as left by a crashed worker. It has the WorkerFunc
// signature.
func (m *Manager) ReleaseStaleClaims(ctx context.Context, _ int) (int, error) {
	if m.workerCfg.StaleClaimAfter <= 0 {
		return 0, nil
	}
	n, err := m.store.ReleaseStaleClaims(ctx, m.now().Add(-m.workerCfg.StaleClaimAfter))
	if err != nil {
		return 0, fmt.Errorf("releasing stale claims: %w", err)
	}
	if n > 0 {
		slog.WarnContext(ctx, "Released stale queue claims", slog.Int64("count", n))
	}
	return int(n), nil
}

// Cleanup deletes rows older than the retention windows. It has the
// WorkerFunc signature.
func (m *Manager) Cleanup(ctx context.Context, _ int) (int, error) {
	now := m.now()
	total := 0

	purges := []struct {
		name  string
		keep  time.Duration
		purge func(context.Context, time.Time) (int64, error)
	}{
		{"connection logs", m.retention.ConnectionLogs, m.store.DeleteConnectionLogsBefore},
		{"delivery receipts", m.retention.Receipts, m.store.DeleteReceiptsBefore},
		{"completed queue entries", m.retention.CompletedQueue, m.store.DeleteCompletedQueueEntriesBefore},
	}
	for _, p := range purges {
		if p.keep <= 0 {
			continue
		}
		n, err := p.purge(ctx, now.Add(-p.keep))
		if err != nil {
			return total, fmt.Errorf("deleting old %s: %w", p.name, err)
		}
		if n > 0 {
			slog.InfoContext(ctx, "Deleted expired rows", slog.String("table", p.name), slog.Int64("count", n))
		}
		total += int(n)
	}
	return total, nil
}

// RecordQueueDepth publishes the queue entry count per status.
func (m *Manager) RecordQueueDepth(ctx context.Context, _ int) (int, error) {
	counts, err := m.store.CountQueueEntriesByStatus(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting queue entries: %w", err)
	}
	seen := make(map[string]bool, len(counts))
	for _, c := range counts {
		m.metrics.SetQueueDepth(c.Status, c.Count)
		seen[c.Status] = true
	}
	// Statuses with no rows drop to zero instead of keeping a stale value.
	for _, status := range []string{
		codes.QueueStatusPending,
		codes.QueueStatusProcessing,
		codes.QueueStatusRetrying,
		codes.QueueStatusCompleted,
		codes.QueueStatusFailed,
	} {
		if !seen[status] {
			m.metrics.SetQueueDepth(status, 0)
		}
	}
	return len(counts), nil
}
