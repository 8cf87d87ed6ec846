package mno

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thrillee/smppgateway/internal/config"
	"github.com/thrillee/smppgateway/internal/database"
	"github.com/thrillee/smppgateway/internal/logging"
	"github.com/thrillee/smppgateway/internal/metrics"
	"github.com/thrillee/smppgateway/pkg/codes"
	"github.com/thrillee/smppgateway/pkg/errormapper"
)

// PoolConfig tunes the session pool.
type PoolConfig struct {
	Session          config.SessionConfig
	ConnectionLogCap int
	Metrics          *metrics.Metrics
}

// poolEntry guards one configuration. Its mutex serializes create and
// invalidate for that name only, so slow binds never block other SMSCs.
type poolEntry struct {
	mu      sync.Mutex
	session *Session
	breaker *CircuitBreaker
}

// Pool keeps at most one live Session per configuration name, binding
// lazily on Get and rebinding after failures.
type Pool struct {
	store     database.Querier
	cfg       PoolConfig
	onDeliver DeliverHandlerFunc

	entries sync.Map // map[string]*poolEntry
	closed  atomic.Bool
}

func NewPool(store database.Querier, cfg PoolConfig, onDeliver DeliverHandlerFunc) *Pool {
	return &Pool{
		store:     store,
		cfg:       cfg,
		onDeliver: onDeliver,
	}
}

func (p *Pool) entry(name string) *poolEntry {
	if e, ok := p.entries.Load(name); ok {
		return e.(*poolEntry)
	}
	e := &poolEntry{
		breaker: NewCircuitBreaker(CircuitBreakerConfig{
			Name:             name,
			FailureThreshold: p.cfg.Session.CircuitFailureThreshold,
			Timeout:          p.cfg.Session.CircuitOpenTimeout,
		}),
	}
	actual, _ := p.entries.LoadOrStore(name, e)
	return actual.(*poolEntry)
}

// Get returns the bound session for name, binding one if none is live.
func (p *Pool) Get(ctx context.Context, name string) (Submitter, error) {
	s, err := p.get(ctx, name)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p *Pool) get(ctx context.Context, name string) (*Session, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	ctx = logging.ContextWithConfigName(ctx, name)
	e := p.entry(name)

	e.mu.Lock()
	defer e.mu.Unlock()

	if s := e.session; s != nil {
		if s.State() == codes.SessionBound {
			return s, nil
		}
		// A session that failed on its own is replaced below.
		e.session = nil
		s.Close()
	}

	if !e.breaker.Allow() {
		slog.DebugContext(ctx, "Circuit open, not dialling SMSC")
		return nil, ErrCircuitOpen
	}

	dbCfg, err := p.store.GetConfiguration(ctx, name)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownConfiguration, name)
		}
		return nil, fmt.Errorf("loading configuration %s: %w", name, err)
	}
	if !dbCfg.IsActive {
		return nil, &ConfigurationError{Name: name, Reason: "configuration is inactive"}
	}
	sessCfg, err := NewSessionConfig(dbCfg, p.cfg.Session)
	if err != nil {
		return nil, err
	}

	s := NewSession(sessCfg, SessionHandlers{
		OnDeliver: p.onDeliver,
		OnClosed:  p.sessionClosed,
	})
	if err := s.Bind(ctx); err != nil {
		e.breaker.RecordFailure()
		p.cfg.Metrics.BindResult(name, false)
		p.logEvent(ctx, name, codes.EventBindFailed, err.Error(), err)
		return nil, err
	}

	e.breaker.RecordSuccess()
	e.session = s
	p.cfg.Metrics.BindResult(name, true)
	p.cfg.Metrics.SessionBound(name, true)
	p.logEvent(ctx, name, codes.EventBindSuccess, fmt.Sprintf("bound %s to %s", sessCfg.BindType, sessCfg.Address()), nil)
	return s, nil
}

// sessionClosed drops a session from its entry once its transport is gone.
func (p *Pool) sessionClosed(s *Session, cause error) {
	name := s.Name()
	ctx := logging.ContextWithConfigName(context.Background(), name)
	e := p.entry(name)

	e.mu.Lock()
	if e.session == s {
		e.session = nil
	}
	e.mu.Unlock()

	p.cfg.Metrics.SessionBound(name, false)
	if cause == nil {
		p.cfg.Metrics.SessionClosed(name, "closed")
		return
	}
	p.cfg.Metrics.SessionClosed(name, errormapper.CodeOf(cause))

	// Bind failures are logged by get; only count losses of a bound link.
	if s.wasBound() {
		e.breaker.RecordFailure()
		event := codes.EventDisconnect
		var terr *TransportError
		if errors.As(cause, &terr) && terr.Op == "enquire_link" {
			event = codes.EventEnquireLinkFailed
		}
		p.logEvent(ctx, name, event, cause.Error(), cause)
	}
}

// Invalidate closes the session for name so the next Get rebinds.
func (p *Pool) Invalidate(ctx context.Context, name string, cause error) {
	ctx = logging.ContextWithConfigName(ctx, name)
	e := p.entry(name)

	e.mu.Lock()
	s := e.session
	e.session = nil
	e.mu.Unlock()

	if IsAuthentication(cause) {
		e.breaker.RecordFailure()
	}
	if s == nil {
		return
	}

	slog.WarnContext(ctx, "Invalidating SMPP session", slog.Any("cause", cause))
	s.Close()
	details := "session invalidated"
	if cause != nil {
		details = cause.Error()
	}
	p.logEvent(ctx, name, codes.EventDisconnect, details, cause)
}

// Report feeds a request outcome into the breaker. SMSC rejections of a
// single message leave it alone; the link itself worked.
func (p *Pool) Report(name string, err error) {
	e := p.entry(name)
	var terr *TransportError
	switch {
	case err == nil:
		e.breaker.RecordSuccess()
	case errors.As(err, &terr), errors.Is(err, ErrTimeout):
		e.breaker.RecordFailure()
	}
}

// HealthCheck probes every active configuration once: bound sessions get an
// enquire_link, missing or failed ones are rebound, and each configuration's
// connection log is trimmed. It has the workers.WorkerFunc signature.
func (p *Pool) HealthCheck(ctx context.Context, _ int) (int, error) {
	configs, err := p.store.ListActiveConfigurations(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing active configurations: %w", err)
	}

	active := make(map[string]bool, len(configs))
	checked := 0
	for _, c := range configs {
		if ctx.Err() != nil {
			return checked, ctx.Err()
		}
		active[c.Name] = true
		p.checkOne(ctx, c.Name)
		checked++

		if p.cfg.ConnectionLogCap > 0 {
			if _, err := p.store.TrimConnectionLogs(ctx, database.TrimConnectionLogsParams{
				ConfigurationName: c.Name,
				Keep:              int32(p.cfg.ConnectionLogCap),
			}); err != nil {
				slog.WarnContext(ctx, "Failed to trim connection logs", slog.String("config_name", c.Name), slog.Any("error", err))
			}
		}
	}

	// Sessions whose configuration was deactivated or removed are unbound.
	p.entries.Range(func(key, value any) bool {
		name := key.(string)
		if active[name] {
			return true
		}
		e := value.(*poolEntry)
		e.mu.Lock()
		s := e.session
		e.session = nil
		e.mu.Unlock()
		if s != nil {
			slog.InfoContext(ctx, "Unbinding session for inactive configuration", slog.String("config_name", name))
			_ = s.Unbind(ctx)
		}
		return true
	})

	return checked, nil
}

func (p *Pool) checkOne(ctx context.Context, name string) {
	ctx = logging.ContextWithConfigName(ctx, name)
	e := p.entry(name)

	e.mu.Lock()
	s := e.session
	e.mu.Unlock()

	if s != nil && s.State() == codes.SessionBound {
		if err := s.EnquireLink(ctx); err != nil {
			slog.WarnContext(ctx, "Health check failed", slog.Any("error", err))
			p.logEvent(ctx, name, codes.EventHealthCheckFailed, err.Error(), err)
			p.Invalidate(ctx, name, err)
			return
		}
		p.logEvent(ctx, name, codes.EventHealthCheckSuccess, "enquire_link ok", nil)
		return
	}

	if _, err := p.get(ctx, name); err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return
		}
		slog.WarnContext(ctx, "Health check could not bind session", slog.Any("error", err))
		return
	}
	p.logEvent(ctx, name, codes.EventHealthCheckSuccess, "session rebound", nil)
}

// SessionStatus is a snapshot of one pool entry.
type SessionStatus struct {
	Name         string       `json:"name"`
	State        string       `json:"state"`
	LastActivity *time.Time   `json:"last_activity,omitempty"`
	Circuit      CircuitStats `json:"circuit"`
}

// Status lists every configuration the pool has seen, sorted by name.
func (p *Pool) Status() []SessionStatus {
	var out []SessionStatus
	p.entries.Range(func(key, value any) bool {
		e := value.(*poolEntry)
		st := SessionStatus{Name: key.(string), State: codes.SessionUnbound, Circuit: e.breaker.Stats()}
		e.mu.Lock()
		if s := e.session; s != nil {
			st.State = s.State()
			last := s.LastActivity()
			st.LastActivity = &last
		}
		e.mu.Unlock()
		out = append(out, st)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Shutdown unbinds every session and refuses further Gets.
func (p *Pool) Shutdown(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	slog.InfoContext(ctx, "Shutting down SMPP session pool...")

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	p.entries.Range(func(key, value any) bool {
		e := value.(*poolEntry)
		e.mu.Lock()
		s := e.session
		e.session = nil
		e.mu.Unlock()
		if s == nil {
			return true
		}
		wg.Add(1)
		go func(name string, s *Session) {
			defer wg.Done()
			logCtx := logging.ContextWithConfigName(ctx, name)
			if err := s.Unbind(logCtx); err != nil {
				slog.WarnContext(logCtx, "Error unbinding session", slog.Any("error", err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
		}(key.(string), s)
		return true
	})
	wg.Wait()

	slog.InfoContext(ctx, "SMPP session pool shutdown complete.")
	return errors.Join(errs...)
}

func (p *Pool) logEvent(ctx context.Context, name, event, details string, cause error) {
	arg := database.CreateConnectionLogParams{
		ConfigurationName: name,
		EventType:         event,
		Details:           details,
	}
	if cause != nil {
		code := errormapper.CodeOf(cause)
		arg.ErrorCode = &code
	}
	if err := p.store.CreateConnectionLog(context.WithoutCancel(ctx), arg); err != nil {
		slog.WarnContext(ctx, "Failed to write connection log", slog.String("event", event), slog.Any("error", err))
	}
}
