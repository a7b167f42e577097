package jobs

import (
	"time"

	"github.com/dmitrymomot/jobkit/pkg/queue"
	"github.com/dmitrymomot/jobkit/pkg/validator"
)

// Queue names.
const (
	QueueEmail        = "email"
	QueueInvoices     = "invoices"
	QueueIntegrations = "integrations"
	QueueBackups      = "backups"
	QueueMaintenance  = "maintenance"
)

// Payload is implemented only by the job types in this package.
type Payload interface {
	queue.Payload
	queue.Validatable
	jobPayload()
}

var (
	_ Payload = SendEmail{}
	_ Payload = GenerateInvoice{}
	_ Payload = SyncIntegration{}
	_ Payload = DatabaseBackup{}
	_ Payload = CleanupExpired{}
)

// SendEmail renders a named template and sends it to one recipient.
type SendEmail struct {
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data,omitempty"`
}

func (SendEmail) QueueName() string { return QueueEmail }
func (SendEmail) jobPayload()       {}

func (p SendEmail) Validate() error {
	return validator.Apply(
		validator.Required("to", p.To),
		validator.ValidEmail("to", p.To),
		validator.Required("subject", p.Subject),
		validator.MaxLen("subject", p.Subject, 255),
		validator.OneOf("template", p.Template, TemplateNames()),
	)
}

// GenerateInvoice renders an invoice, stores it and emails the customer.
// Amount is in minor units (cents).
type GenerateInvoice struct {
	InvoiceID  string `json:"invoice_id"`
	CustomerID string `json:"customer_id"`
	Email      string `json:"email"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
}

func (GenerateInvoice) QueueName() string { return QueueInvoices }
func (GenerateInvoice) jobPayload()       {}

func (p GenerateInvoice) Validate() error {
	return validator.Apply(
		validator.Required("invoice_id", p.InvoiceID),
		validator.MaxLen("invoice_id", p.InvoiceID, 64),
		validator.ValidUUID("customer_id", p.CustomerID),
		validator.ValidEmail("email", p.Email),
		validator.PositiveAmount("amount", p.Amount),
		validator.ValidCurrencyCode("currency", p.Currency),
	)
}

// Supported integration providers.
var Providers = []string{"hubspot", "salesforce", "stripe"}

// SyncIntegration pulls changes for one connected account.
// A zero Since requests a full sync.
type SyncIntegration struct {
	Provider  string    `json:"provider"`
	AccountID string    `json:"account_id"`
	Since     time.Time `json:"since,omitzero"`
}

func (SyncIntegration) QueueName() string { return QueueIntegrations }
func (SyncIntegration) jobPayload()       {}

func (p SyncIntegration) Validate() error {
	return validator.Apply(
		validator.OneOf("provider", p.Provider, Providers),
		validator.Required("account_id", p.AccountID),
		validator.When(!p.Since.IsZero(), validator.NotFuture("since", p.Since, time.Now().Add(time.Minute))),
	)
}

// DatabaseBackup dumps the configured tables to blob storage.
type DatabaseBackup struct {
	Reason string `json:"reason,omitempty"`
}

func (DatabaseBackup) QueueName() string { return QueueBackups }
func (DatabaseBackup) jobPayload()       {}

func (p DatabaseBackup) Validate() error {
	return validator.Apply(validator.MaxLen("reason", p.Reason, 200))
}

// CleanupExpired removes finished jobs, old backups and audit events older
// than OlderThan.
type CleanupExpired struct {
	OlderThan time.Duration `json:"older_than"`
}

func (CleanupExpired) QueueName() string { return QueueMaintenance }
func (CleanupExpired) jobPayload()       {}

func (p CleanupExpired) Validate() error {
	return validator.Apply(validator.MinDuration("older_than", p.OlderThan, time.Hour))
}
