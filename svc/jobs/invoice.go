package jobs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/a-h/templ"

	"github.com/dmitrymomot/jobkit/pkg/email"
	"github.com/dmitrymomot/jobkit/pkg/email/templates"
	"github.com/dmitrymomot/jobkit/pkg/file"
	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// StepInvoiceEmail is the guard step that protects the invoice email.
const StepInvoiceEmail = "invoice-email"

// InvoiceRenderer produces the invoice document.
type InvoiceRenderer interface {
	Render(ctx context.Context, inv GenerateInvoice) (body []byte, contentType string, err error)
}

// HTMLInvoiceRenderer renders invoices as standalone HTML documents.
type HTMLInvoiceRenderer struct{}

func (HTMLInvoiceRenderer) Render(ctx context.Context, inv GenerateInvoice) ([]byte, string, error) {
	html, err := templates.Render(ctx, invoiceDocument(inv))
	if err != nil {
		return nil, "", err
	}
	return []byte(html), "text/html; charset=utf-8", nil
}

func invoiceDocument(inv GenerateInvoice) templ.Component {
	return templates.Layout("Invoice "+inv.InvoiceID,
		templates.Heading("Invoice "+inv.InvoiceID),
		templates.Details(
			templates.Row{Label: "Customer", Value: inv.CustomerID},
			templates.Row{Label: "Total", Value: FormatAmount(inv.Amount, inv.Currency)},
		),
	)
}

// FormatAmount renders minor units as a decimal amount with its currency.
func FormatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign, minor = "-", -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, strings.ToUpper(currency))
}

// InvoiceKey is the storage key of an invoice document.
func InvoiceKey(invoiceID string) string {
	return "invoices/" + invoiceID + ".html"
}

// InvoiceProcessor renders an invoice, uploads it and emails the customer.
type InvoiceProcessor struct {
	renderer InvoiceRenderer
	storage  file.Storage
	sender   email.EmailSender
	guard    queue.Guard
	logger   *slog.Logger
}

// NewInvoiceProcessor creates an InvoiceProcessor. A nil renderer means HTMLInvoiceRenderer.
func NewInvoiceProcessor(renderer InvoiceRenderer, storage file.Storage, sender email.EmailSender, guard queue.Guard, log *slog.Logger) *InvoiceProcessor {
	if renderer == nil {
		renderer = HTMLInvoiceRenderer{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &InvoiceProcessor{renderer: renderer, storage: storage, sender: sender, guard: guard, logger: log}
}

// Process is safe to repeat: the upload overwrites the same key and the
// email is guarded per job.
func (p *InvoiceProcessor) Process(ctx context.Context, inv GenerateInvoice, progress queue.Progress) error {
	job, ok := queue.JobFromContext(ctx)
	if !ok {
		return queue.Permanent(ErrNoJobContext)
	}

	body, contentType, err := p.renderer.Render(ctx, inv)
	if err != nil {
		return fmt.Errorf("render invoice %s: %w", inv.InvoiceID, err)
	}
	_ = progress.Update(ctx, 30)

	obj, err := p.storage.Put(ctx, InvoiceKey(inv.InvoiceID), bytes.NewReader(body), contentType)
	if err != nil {
		return fmt.Errorf("upload invoice %s: %w", inv.InvoiceID, err)
	}
	_ = progress.Update(ctx, 60)

	url := p.storage.URL(obj.Key)
	message, err := templates.Render(ctx, emailTemplates["invoice"]("Your invoice "+inv.InvoiceID, map[string]string{
		"invoice_id":  inv.InvoiceID,
		"customer_id": inv.CustomerID,
		"amount":      FormatAmount(inv.Amount, inv.Currency),
		"url":         url,
	}))
	if err != nil {
		return queue.Permanent(err)
	}

	executed, err := p.guard.Once(ctx, job.ID, StepInvoiceEmail, func(ctx context.Context) error {
		return p.sender.SendEmail(ctx, email.SendEmailParams{
			SendTo:   inv.Email,
			Subject:  "Your invoice " + inv.InvoiceID,
			BodyHTML: message,
			Tag:      "invoice",
			Ref:      job.ID,
		})
	})
	if err != nil {
		return classifySendError(err)
	}

	p.logger.InfoContext(ctx, "invoice generated",
		logger.JobID(job.ID),
		slog.String("invoice_id", inv.InvoiceID),
		slog.String("key", obj.Key),
		slog.Bool("emailed", executed),
	)
	return nil
}
