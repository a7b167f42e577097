package monitor

import (
	"context"
	"fmt"

	"github.com/dmitrymomot/jobkit/pkg/logger"
)

// HealthCheck evaluates every queue against the configured thresholds.
// The overall status is the worst queue status, or critical when the broker
// cannot be reached.
func (m *Monitor) HealthCheck(ctx context.Context) Health {
	h := Health{Status: StatusHealthy, CheckedAt: m.now(), Queues: []QueueHealth{}}

	if err := m.engine.Ping(ctx); err != nil {
		m.logger.ErrorContext(ctx, "health check: broker unreachable", logger.Error(err))
		h.Status = StatusCritical
		h.BrokerError = err.Error()
		return h
	}
	h.BrokerConnected = true

	m.mu.Lock()
	m.win.prune(h.CheckedAt)
	stalled := make(map[string]int64)
	for _, q := range m.engine.Queues() {
		stalled[q.Name()] = m.win.stalled(q.Name())
	}
	m.mu.Unlock()

	for _, q := range m.engine.Queues() {
		qh := QueueHealth{Queue: q.Name(), Status: StatusHealthy, Stalled: stalled[q.Name()]}

		summary, err := m.summarize(ctx, q)
		if err != nil {
			qh.Status = StatusCritical
			qh.Issues = append(qh.Issues, err.Error())
		} else {
			qh.Counts = summary.Counts
			qh.Paused = summary.Paused
			m.evaluate(&qh)
		}

		h.Status = worst(h.Status, qh.Status)
		h.Queues = append(h.Queues, qh)
	}
	return h
}

func (m *Monitor) evaluate(qh *QueueHealth) {
	flag := func(s HealthStatus, format string, args ...any) {
		qh.Status = worst(qh.Status, s)
		qh.Issues = append(qh.Issues, fmt.Sprintf(format, args...))
	}

	c := qh.Counts
	switch {
	case c.Failed > m.cfg.FailedCritical:
		flag(StatusCritical, "%d failed jobs exceed critical threshold %d", c.Failed, m.cfg.FailedCritical)
	case c.Failed > m.cfg.FailedWarning:
		flag(StatusWarning, "%d failed jobs exceed warning threshold %d", c.Failed, m.cfg.FailedWarning)
	}
	if qh.Paused {
		flag(StatusWarning, "queue is paused")
	}
	if !qh.Paused && c.Active == 0 && c.Waiting > m.cfg.WaitingStall {
		flag(StatusWarning, "%d jobs waiting with no active workers", c.Waiting)
	}
	if qh.Stalled > int64(m.cfg.StalledWarning) {
		flag(StatusWarning, "%d stalled jobs in the last %s", qh.Stalled, m.cfg.Window)
	}
}
