package jobs

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/dmitrymomot/jobkit/pkg/file"
	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// QueueLister exposes the engine's queues; *queue.Engine implements it.
type QueueLister interface {
	Queues() []*queue.Queue
}

// AuditPurger removes audit events created before cutoff;
// *audit.PostgresStorage implements it.
type AuditPurger interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupResult summarizes a maintenance run.
type CleanupResult struct {
	Jobs    int
	Backups int
	Audit   int64
}

// CleanupProcessor removes expired jobs, backups and audit events.
type CleanupProcessor struct {
	queues          QueueLister
	storage         file.Storage
	audit           AuditPurger
	backupRetention time.Duration
	auditRetention  time.Duration
	now             func() time.Time
	logger          *slog.Logger
}

// CleanupOption configures a CleanupProcessor.
type CleanupOption func(*CleanupProcessor)

// WithBackupRetention enables pruning of stored backups older than d.
func WithBackupRetention(storage file.Storage, d time.Duration) CleanupOption {
	return func(p *CleanupProcessor) {
		p.storage = storage
		p.backupRetention = d
	}
}

// WithAuditRetention enables pruning of audit events older than d.
func WithAuditRetention(purger AuditPurger, d time.Duration) CleanupOption {
	return func(p *CleanupProcessor) {
		p.audit = purger
		p.auditRetention = d
	}
}

// WithCleanupClock sets the clock used for cutoffs.
func WithCleanupClock(now func() time.Time) CleanupOption {
	return func(p *CleanupProcessor) {
		if now != nil {
			p.now = now
		}
	}
}

// WithCleanupLogger sets the logger.
func WithCleanupLogger(log *slog.Logger) CleanupOption {
	return func(p *CleanupProcessor) {
		if log != nil {
			p.logger = log
		}
	}
}

// NewCleanupProcessor creates a CleanupProcessor.
func NewCleanupProcessor(queues QueueLister, opts ...CleanupOption) *CleanupProcessor {
	p := &CleanupProcessor{queues: queues, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs every cleanup step and reports the combined error. A failing
// step does not stop the others.
func (p *CleanupProcessor) Process(ctx context.Context, payload CleanupExpired, progress queue.Progress) error {
	res, err := p.Run(ctx, payload.OlderThan)
	_ = progress.Update(ctx, 100)
	p.logger.InfoContext(ctx, "cleanup finished",
		slog.Int("jobs", res.Jobs),
		slog.Int("backups", res.Backups),
		slog.Int64("audit_events", res.Audit),
	)
	return err
}

// Run performs the cleanup. Finished jobs older than olderThan are removed
// from every queue.
func (p *CleanupProcessor) Run(ctx context.Context, olderThan time.Duration) (CleanupResult, error) {
	var (
		res  CleanupResult
		errs []error
	)

	for _, q := range p.queues.Queues() {
		for _, state := range []queue.JobState{queue.StateCompleted, queue.StateFailed} {
			n, err := q.Clean(ctx, state, olderThan, 0)
			res.Jobs += n
			if err != nil {
				errs = append(errs, err)
				p.logger.ErrorContext(ctx, "failed to clean queue",
					logger.Queue(q.Name()), slog.String("state", string(state)), logger.Error(err))
			}
		}
	}

	if p.storage != nil && p.backupRetention > 0 {
		n, err := p.pruneBackups(ctx)
		res.Backups = n
		if err != nil {
			errs = append(errs, err)
		}
	}

	if p.audit != nil && p.auditRetention > 0 {
		n, err := p.audit.DeleteBefore(ctx, p.now().Add(-p.auditRetention))
		res.Audit = n
		if err != nil {
			errs = append(errs, err)
		}
	}

	return res, errors.Join(errs...)
}

func (p *CleanupProcessor) pruneBackups(ctx context.Context) (int, error) {
	objects, err := p.storage.List(ctx, BackupPrefix)
	if err != nil {
		return 0, err
	}

	cutoff := p.now().Add(-p.backupRetention)
	var (
		deleted int
		errs    []error
	)
	for _, obj := range objects {
		if !strings.HasPrefix(obj.Key, BackupPrefix) || !obj.ModifiedAt.Before(cutoff) {
			continue
		}
		if err := p.storage.Delete(ctx, obj.Key); err != nil && !errors.Is(err, file.ErrFileNotFound) {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}
