package jobs

import (
	"time"

	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// Config holds the job service settings.
type Config struct {
	// Integration API base URLs by provider, e.g. "hubspot=https://sync.internal/hubspot".
	IntegrationEndpoints map[string]string `env:"JOBS_INTEGRATION_ENDPOINTS" envKeyValSeparator:"="`
	IntegrationToken     string            `env:"JOBS_INTEGRATION_TOKEN"`
	IntegrationTimeout   time.Duration     `env:"JOBS_INTEGRATION_TIMEOUT" envDefault:"30s"`

	BackupTables    []string      `env:"JOBS_BACKUP_TABLES" envSeparator:"," envDefault:"audit_events"`
	BackupRetention time.Duration `env:"JOBS_BACKUP_RETENTION" envDefault:"720h"`
	AuditRetention  time.Duration `env:"JOBS_AUDIT_RETENTION" envDefault:"2160h"`
	JobRetention    time.Duration `env:"JOBS_JOB_RETENTION" envDefault:"168h"`

	// Default triggers
	TriggersEnabled bool   `env:"JOBS_TRIGGERS_ENABLED" envDefault:"true"`
	BillingEmail    string `env:"JOBS_BILLING_EMAIL" envDefault:"billing@example.com"`
	BillingURL      string `env:"JOBS_BILLING_URL"`
	SyncProvider    string `env:"JOBS_SYNC_PROVIDER"`
	SyncAccountID   string `env:"JOBS_SYNC_ACCOUNT_ID"`
}

// QueueSpec describes one queue of the service.
type QueueSpec struct {
	Name        string
	Concurrency int
	MaxAttempts int
	JobTimeout  time.Duration
}

// Queues is the queue table. Backups and maintenance run one at a time.
var Queues = []QueueSpec{
	{Name: QueueEmail, Concurrency: 10, MaxAttempts: 5, JobTimeout: 30 * time.Second},
	{Name: QueueInvoices, Concurrency: 3, MaxAttempts: 3, JobTimeout: 2 * time.Minute},
	{Name: QueueIntegrations, Concurrency: 5, MaxAttempts: 5, JobTimeout: 5 * time.Minute},
	{Name: QueueBackups, Concurrency: 1, MaxAttempts: 2, JobTimeout: time.Hour},
	{Name: QueueMaintenance, Concurrency: 1, MaxAttempts: 3, JobTimeout: 15 * time.Minute},
}

// RegisterQueues registers every queue of the table on the engine, seeding
// each from the process defaults in cfg.
func RegisterQueues(e *queue.Engine, cfg queue.Config) error {
	for _, spec := range Queues {
		qc := cfg.QueueConfig(spec.Name)
		qc.Concurrency = spec.Concurrency
		qc.MaxAttempts = spec.MaxAttempts
		qc.JobTimeout = spec.JobTimeout
		qc.RemoveOnComplete = queue.Retention{Count: 1000}
		if _, err := e.RegisterQueue(qc); err != nil {
			return err
		}
	}
	return nil
}
