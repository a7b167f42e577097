package errtrack

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// LogReporter writes every report as an error record.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a LogReporter. A nil logger means slog.Default().
func NewLogReporter(log *slog.Logger) *LogReporter {
	if log == nil {
		log = slog.Default()
	}
	return &LogReporter{logger: log.With(logger.Component("errtrack"))}
}

func (r *LogReporter) Report(ctx context.Context, rep queue.ErrorReport) error {
	attrs := []slog.Attr{
		slog.String("kind", string(rep.Kind)),
		slog.String("error", rep.Error),
	}
	if rep.Queue != "" {
		attrs = append(attrs, logger.Queue(rep.Queue))
	}
	if rep.JobID != "" {
		attrs = append(attrs, logger.JobID(rep.JobID), logger.JobName(rep.JobName))
	}
	if rep.Trigger != "" {
		attrs = append(attrs, logger.Trigger(rep.Trigger))
	}
	if rep.Attempts > 0 {
		attrs = append(attrs, logger.Attempt(rep.Attempts), slog.Int("max_attempts", rep.MaxAttempts))
	}
	if rep.Permanent {
		attrs = append(attrs, slog.Bool("permanent", true))
	}

	r.logger.LogAttrs(ctx, slog.LevelError, "job error reported", attrs...)
	return nil
}

// DocumentIndexer stores a JSON document; *opensearch.Indexer implements it.
type DocumentIndexer interface {
	Index(ctx context.Context, at time.Time, id string, doc any) error
}

// IndexReporter keeps a searchable history of reports in OpenSearch.
type IndexReporter struct {
	indexer DocumentIndexer
}

// NewIndexReporter creates an IndexReporter.
func NewIndexReporter(indexer DocumentIndexer) (*IndexReporter, error) {
	if indexer == nil {
		return nil, ErrIndexerNil
	}
	return &IndexReporter{indexer: indexer}, nil
}

// Report indexes the report. The document ID is derived from the report so
// a redelivered report overwrites instead of duplicating.
func (r *IndexReporter) Report(ctx context.Context, rep queue.ErrorReport) error {
	return r.indexer.Index(ctx, rep.At, documentID(rep), rep)
}

func documentID(rep queue.ErrorReport) string {
	subject := rep.JobID
	if subject == "" {
		subject = rep.Trigger
	}
	return string(rep.Kind) + ":" + rep.Queue + ":" + subject + ":" + strconv.FormatInt(rep.At.UnixMilli(), 10)
}

// MultiReporter fans a report out to every reporter. Delivery is best
// effort: failures are logged and do not stop the remaining reporters.
type MultiReporter struct {
	reporters []queue.ErrorReporter
	logger    *slog.Logger
}

// MultiReporterOption configures a MultiReporter.
type MultiReporterOption func(*MultiReporter)

// WithMultiReporterLogger sets the logger for delivery failures.
func WithMultiReporterLogger(log *slog.Logger) MultiReporterOption {
	return func(m *MultiReporter) {
		if log != nil {
			m.logger = log
		}
	}
}

// NewMultiReporter creates a MultiReporter. Nil reporters are skipped.
func NewMultiReporter(reporters []queue.ErrorReporter, opts ...MultiReporterOption) *MultiReporter {
	m := &MultiReporter{logger: slog.Default()}
	for _, r := range reporters {
		if r != nil {
			m.reporters = append(m.reporters, r)
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MultiReporter) Report(ctx context.Context, rep queue.ErrorReport) error {
	for i, r := range m.reporters {
		if err := r.Report(ctx, rep); err != nil {
			m.logger.LogAttrs(ctx, slog.LevelError, "failed to deliver error report",
				slog.String("kind", string(rep.Kind)),
				logger.JobID(rep.JobID),
				slog.Int("reporter_index", i),
				logger.Error(err),
			)
		}
	}
	return nil
}

// NoopReporter discards reports.
type NoopReporter struct{}

func (NoopReporter) Report(context.Context, queue.ErrorReport) error { return nil }
