package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/jobkit/pkg/logger"
)

// ReportKind classifies an error report.
type ReportKind string

const (
	ReportJobFailed    ReportKind = "job_failed"
	ReportJobStalled   ReportKind = "job_stalled"
	ReportTriggerError ReportKind = "trigger_error"
)

// ErrorReport describes a terminal failure, a stall, or a scheduler error.
type ErrorReport struct {
	Kind        ReportKind `json:"kind"`
	Queue       string     `json:"queue,omitempty"`
	JobID       string     `json:"job_id,omitempty"`
	JobName     string     `json:"job_name,omitempty"`
	Trigger     string     `json:"trigger,omitempty"`
	Attempts    int        `json:"attempts,omitempty"`
	MaxAttempts int        `json:"max_attempts,omitempty"`
	Error       string     `json:"error"`
	Permanent   bool       `json:"permanent,omitempty"`
	At          time.Time  `json:"at"`
}

// ErrorReporter forwards error reports to an external tracker.
type ErrorReporter interface {
	Report(ctx context.Context, r ErrorReport) error
}

// ErrorReporterFunc adapts a function to the ErrorReporter interface.
type ErrorReporterFunc func(ctx context.Context, r ErrorReport) error

// Report implements ErrorReporter.
func (f ErrorReporterFunc) Report(ctx context.Context, r ErrorReport) error { return f(ctx, r) }

// asyncReporter delivers reports in the background so a slow or broken
// tracker never holds up job processing.
type asyncReporter struct {
	reporter ErrorReporter
	logger   *slog.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

func newAsyncReporter(r ErrorReporter, log *slog.Logger, timeout time.Duration) *asyncReporter {
	return &asyncReporter{reporter: r, logger: log, timeout: timeout}
}

func (a *asyncReporter) report(r ErrorReport) {
	if a == nil || a.reporter == nil {
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				a.logger.Error("error reporter panicked",
					logger.Component("reporter"),
					logger.Error(fmt.Errorf("panic: %v", rec)))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		if err := a.reporter.Report(ctx, r); err != nil {
			a.logger.Warn("failed to deliver error report",
				logger.Component("reporter"),
				logger.Queue(r.Queue),
				logger.JobID(r.JobID),
				logger.Error(err))
		}
	}()
}

// wait blocks until in-flight reports finish.
func (a *asyncReporter) wait() {
	if a != nil {
		a.wg.Wait()
	}
}
