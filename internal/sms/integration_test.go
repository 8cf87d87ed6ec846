package sms

import (
	"context"
	"testing"
	"time"

	"github.com/thrillee/smppgateway/internal/config"
	"github.com/thrillee/smppgateway/internal/database"
	"github.com/thrillee/smppgateway/internal/database/memstore"
	"github.com/thrillee/smppgateway/internal/mno"
	"github.com/thrillee/smppgateway/internal/smsctest"
	"github.com/thrillee/smppgateway/pkg/codes"
	"github.com/thrillee/smppgateway/pkg/pdu"
)

type gateway struct {
	srv   *smsctest.Server
	store *memstore.Store
	pool  *mno.Pool
	proc  *Processor
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	srv := smsctest.New(t)
	store := memstore.New()
	c := srv.Configuration("primary")
	if _, err := store.UpsertConfiguration(context.Background(), database.UpsertConfigurationParams{
		Name:                    c.Name,
		Host:                    c.Host,
		Port:                    c.Port,
		SystemID:                c.SystemID,
		Password:                c.Password,
		BindType:                c.BindType,
		ConnectionTimeoutSecs:   c.ConnectionTimeoutSecs,
		EnquireLinkIntervalSecs: c.EnquireLinkIntervalSecs,
		IsActive:                true,
		IsDefault:               true,
	}); err != nil {
		t.Fatalf("UpsertConfiguration: %v", err)
	}

	reconciler := NewReconciler(store, nil)
	pool := mno.NewPool(store, mno.PoolConfig{
		Session:          config.SessionConfig{UnbindTimeout: time.Second},
		ConnectionLogCap: 100,
	}, reconciler.HandleDeliver)
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })

	proc := NewProcessor(ProcessorDependencies{
		Store:      store,
		Sessions:   pool,
		Reconciler: reconciler,
		Queue:      testQueueConfig,
		WorkerID:   "it-worker",
	})
	return &gateway{srv: srv, store: store, pool: pool, proc: proc}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestGatewaySubmitAndReceipt(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()

	res, err := g.proc.EnqueueSend(ctx, SendRequest{Recipient: "+2348031234567", Body: "hello over the wire", SenderID: "ACME"})
	if err != nil {
		t.Fatalf("EnqueueSend: %v", err)
	}
	if n, err := g.proc.ProcessQueueStep(ctx, 10); err != nil || n != 1 {
		t.Fatalf("ProcessQueueStep = %d, %v", n, err)
	}

	submitted := g.srv.Submitted()
	if len(submitted) != 1 {
		t.Fatalf("Expected one submit_sm at the SMSC, got %d", len(submitted))
	}
	if submitted[0].DestinationAddr != "2348031234567" || submitted[0].SourceAddr != "ACME" {
		t.Errorf("Unexpected addressing: %+v", submitted[0])
	}

	msg, err := g.store.GetMessage(ctx, res.MessageID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if msg.Status != codes.MsgStatusSent || msg.SmscMessageID == nil {
		t.Fatalf("Expected sent with an SMSC id, got %+v", msg)
	}

	if err := g.srv.Deliver(smsctest.Receipt(*msg.SmscMessageID, "DELIVRD")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	eventually(t, "delivered status", func() bool {
		m, err := g.store.GetMessage(ctx, res.MessageID)
		return err == nil && m.Status == codes.MsgStatusDelivered
	})
	eventually(t, "deliver_sm_resp", func() bool { return g.srv.DeliverAcks() == 1 })

	receipts, err := g.store.ListReceiptsForMessage(ctx, res.MessageID)
	if err != nil || len(receipts) != 1 {
		t.Errorf("Expected one linked receipt, got %d (%v)", len(receipts), err)
	}

	entry, err := g.store.GetQueueEntry(ctx, res.QueueEntryID)
	if err != nil {
		t.Fatalf("GetQueueEntry: %v", err)
	}
	if entry.Status != codes.QueueStatusCompleted || entry.Attempts != 1 {
		t.Errorf("Expected completed after one attempt, got %s/%d", entry.Status, entry.Attempts)
	}
}

func TestGatewayRejectedSubmitIsRetried(t *testing.T) {
	g := newGateway(t)
	g.srv.QueueSubmitStatus(pdu.StatusSystemError)
	ctx := context.Background()

	res, err := g.proc.EnqueueSend(ctx, SendRequest{Recipient: "+2348031234567", Body: "retry me"})
	if err != nil {
		t.Fatalf("EnqueueSend: %v", err)
	}
	if _, err := g.proc.ProcessQueueStep(ctx, 10); err != nil {
		t.Fatalf("ProcessQueueStep: %v", err)
	}

	entry, err := g.store.GetQueueEntry(ctx, res.QueueEntryID)
	if err != nil {
		t.Fatalf("GetQueueEntry: %v", err)
	}
	if entry.Status != codes.QueueStatusRetrying || entry.Attempts != 1 {
		t.Errorf("Expected retrying after one attempt, got %s/%d", entry.Status, entry.Attempts)
	}
	msg, _ := g.store.GetMessage(ctx, res.MessageID)
	if msg.Status != codes.MsgStatusQueued || msg.RetryCount != 1 {
		t.Errorf("Expected queued with one retry recorded, got %s/%d", msg.Status, msg.RetryCount)
	}
}

func TestGatewayQueryStatus(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()

	res, err := g.proc.EnqueueSend(ctx, SendRequest{Recipient: "+2348031234567", Body: "query me"})
	if err != nil {
		t.Fatalf("EnqueueSend: %v", err)
	}
	if _, err := g.proc.ProcessQueueStep(ctx, 10); err != nil {
		t.Fatalf("ProcessQueueStep: %v", err)
	}

	pending, err := g.proc.QueryStatus(ctx, res.MessageID)
	if err != nil {
		t.Fatalf("QueryStatus: %v", err)
	}
	if pending.Updated || pending.Status != codes.MsgStatusSent {
		t.Errorf("An enroute answer must not move the status: %+v", pending)
	}

	g.srv.SetQueryState(pdu.StateDelivered)
	done, err := g.proc.QueryStatus(ctx, res.MessageID)
	if err != nil {
		t.Fatalf("QueryStatus: %v", err)
	}
	if !done.Updated || done.Status != codes.MsgStatusDelivered {
		t.Errorf("Expected delivered from query_sm, got %+v", done)
	}
}
