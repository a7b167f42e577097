package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/jobkit/pkg/audit"
	"github.com/dmitrymomot/jobkit/pkg/broadcast"
	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// pruneInterval is how often the performance window drops expired samples.
const pruneInterval = time.Minute

// Engine is the part of the job engine the monitor reads and mutates.
type Engine interface {
	Queue(name string) (*queue.Queue, error)
	Queues() []*queue.Queue
	Ping(ctx context.Context) error
	Subscribe(ctx context.Context) (broadcast.Subscriber[queue.Event], error)
}

// TriggerLister exposes scheduler state.
type TriggerLister interface {
	Triggers() []queue.TriggerStatus
}

// Auditor records admin mutations.
type Auditor interface {
	Log(ctx context.Context, action string, opts ...audit.EventOption) error
	LogError(ctx context.Context, action string, err error, opts ...audit.EventOption) error
}

// AuditReader serves the audit trail to operators.
type AuditReader interface {
	Find(ctx context.Context, criteria audit.Criteria) ([]audit.Event, error)
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the monitor logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithScheduler exposes the scheduler's triggers through ScheduledTriggers.
func WithScheduler(s TriggerLister) Option {
	return func(m *Monitor) {
		m.scheduler = s
	}
}

// WithAuditor records every admin mutation.
func WithAuditor(a Auditor) Option {
	return func(m *Monitor) {
		m.auditor = a
	}
}

// WithAuditReader enables AuditLog.
func WithAuditReader(r AuditReader) Option {
	return func(m *Monitor) {
		m.auditReader = r
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// Monitor aggregates queue state for operators and performs audited admin
// mutations. Performance figures come from lifecycle events fed by Run.
type Monitor struct {
	engine      Engine
	cfg         Config
	logger      *slog.Logger
	scheduler   TriggerLister
	auditor     Auditor
	auditReader AuditReader
	now         func() time.Time
	started     time.Time
	running     atomic.Bool

	mu  sync.Mutex
	win *window
}

// New creates a monitor over the engine.
func New(engine Engine, cfg Config, opts ...Option) (*Monitor, error) {
	if engine == nil {
		return nil, ErrEngineNil
	}

	cfg = cfg.withDefaults()
	m := &Monitor{
		engine: engine,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
		win:    newWindow(cfg.Window, maxSamplesPerQueue),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(logger.Component("monitor"))
	m.started = m.now()

	return m, nil
}

// Config returns the effective configuration.
func (m *Monitor) Config() Config { return m.cfg }

// Record feeds one lifecycle event into the performance window.
func (m *Monitor) Record(ev queue.Event) {
	if ev.At.IsZero() {
		ev.At = m.now()
	}
	m.mu.Lock()
	m.win.add(ev)
	m.mu.Unlock()
}

// Run consumes engine events until ctx is cancelled.
// The returned function is suitable for errgroup.
func (m *Monitor) Run(ctx context.Context) func() error {
	return func() error {
		if !m.running.CompareAndSwap(false, true) {
			return ErrAlreadyRunning
		}
		defer m.running.Store(false)

		sub, err := m.engine.Subscribe(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = sub.Close() }()

		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()

		events := sub.Receive(ctx)
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-events:
				if !ok {
					return nil
				}
				m.Record(msg.Data)
			case <-ticker.C:
				m.mu.Lock()
				m.win.prune(m.now())
				m.mu.Unlock()
				if dropped := sub.Dropped(); dropped > 0 {
					m.logger.WarnContext(ctx, "monitor is dropping events", slog.Uint64("dropped", dropped))
				}
			}
		}
	}
}

// elapsed is the span samples could have been collected over.
func (m *Monitor) elapsed(now time.Time) time.Duration {
	return min(m.cfg.Window, now.Sub(m.started))
}
