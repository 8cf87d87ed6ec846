package mno

import (
	"context"

	"github.com/thrillee/smppgateway/pkg/pdu"
)

// DeliverHandlerFunc receives every deliver_sm a session reads, receipts and
// mobile-originated messages alike. The session answers deliver_sm_resp once
// the handler returns.
type DeliverHandlerFunc func(ctx context.Context, configName string, d *pdu.DeliverSM)

// Submitter is the subset of a bound session the queue engine needs.
type Submitter interface {
	Name() string
	State() string
	Submit(ctx context.Context, sm *pdu.SubmitSM) (string, error)
	Query(ctx context.Context, q *pdu.QuerySM) (*pdu.QuerySMResp, error)
}

// SessionProvider hands out bound sessions by configuration name.
type SessionProvider interface {
	// Get returns the live session for name, binding a new one if needed.
	Get(ctx context.Context, name string) (Submitter, error)
	// Invalidate tears the session down so the next Get rebinds.
	Invalidate(ctx context.Context, name string, cause error)
	// Report feeds the outcome of a request into the circuit breaker.
	Report(name string, err error)
}

var _ Submitter = (*Session)(nil)
var _ SessionProvider = (*Pool)(nil)
