package jobs

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/jobkit/pkg/email"
	"github.com/dmitrymomot/jobkit/pkg/file"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// Deps are the collaborators of the job processors.
type Deps struct {
	Sender  email.EmailSender
	Storage file.Storage
	Guard   queue.Guard
	Dumper  Dumper
	// HTTPClient is used for integration calls; defaults to a client
	// with Config.IntegrationTimeout.
	HTTPClient *http.Client
	// AuditPurger is optional. Without it audit events are not pruned.
	AuditPurger AuditPurger
	Logger      *slog.Logger
	// Renderer defaults to HTMLInvoiceRenderer.
	Renderer InvoiceRenderer
}

func (d Deps) validate() error {
	var errs []error
	if d.Sender == nil {
		errs = append(errs, fmt.Errorf("%w: email sender", ErrMissingDependency))
	}
	if d.Storage == nil {
		errs = append(errs, fmt.Errorf("%w: file storage", ErrMissingDependency))
	}
	if d.Guard == nil {
		errs = append(errs, fmt.Errorf("%w: guard", ErrMissingDependency))
	}
	if d.Dumper == nil {
		errs = append(errs, fmt.Errorf("%w: backup dumper", ErrMissingDependency))
	}
	return errors.Join(errs...)
}

// Register attaches a processor for every payload type to its queue. The
// queues must already be registered, see RegisterQueues.
func Register(e *queue.Engine, cfg Config, deps Deps) error {
	if err := deps.validate(); err != nil {
		return err
	}

	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = HTMLInvoiceRenderer{}
	}

	emailProc := NewEmailProcessor(deps.Sender, deps.Guard, log.With(slog.String("processor", QueueEmail)))
	invoiceProc := NewInvoiceProcessor(renderer, deps.Storage, deps.Sender, deps.Guard, log.With(slog.String("processor", QueueInvoices)))
	syncProc := NewIntegrationProcessor(cfg.IntegrationEndpoints, cfg.IntegrationToken, deps.HTTPClient, cfg.IntegrationTimeout,
		log.With(slog.String("processor", QueueIntegrations)))
	backupProc := NewBackupProcessor(deps.Dumper, deps.Storage, log.With(slog.String("processor", QueueBackups)))

	cleanupOpts := []CleanupOption{
		WithBackupRetention(deps.Storage, cfg.BackupRetention),
		WithCleanupLogger(log.With(slog.String("processor", QueueMaintenance))),
	}
	if deps.AuditPurger != nil {
		cleanupOpts = append(cleanupOpts, WithAuditRetention(deps.AuditPurger, cfg.AuditRetention))
	}
	cleanupProc := NewCleanupProcessor(e, cleanupOpts...)

	return errors.Join(
		queue.RegisterProcessor(e, emailProc.Process),
		queue.RegisterProcessor(e, invoiceProc.Process),
		queue.RegisterProcessor(e, syncProc.Process),
		queue.RegisterProcessor(e, backupProc.Process),
		queue.RegisterProcessor(e, cleanupProc.Process),
	)
}
