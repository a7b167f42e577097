package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/jobkit/pkg/email"
	"github.com/dmitrymomot/jobkit/pkg/email/templates"
	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// StepSendEmail is the guard step that protects email delivery.
const StepSendEmail = "send-email"

// EmailProcessor renders and delivers SendEmail jobs.
type EmailProcessor struct {
	sender email.EmailSender
	guard  queue.Guard
	logger *slog.Logger
}

// NewEmailProcessor creates an EmailProcessor.
func NewEmailProcessor(sender email.EmailSender, guard queue.Guard, log *slog.Logger) *EmailProcessor {
	if log == nil {
		log = slog.Default()
	}
	return &EmailProcessor{sender: sender, guard: guard, logger: log}
}

// Process sends the email at most once per job, even when the job is
// delivered again after a crash.
func (p *EmailProcessor) Process(ctx context.Context, payload SendEmail, progress queue.Progress) error {
	job, ok := queue.JobFromContext(ctx)
	if !ok {
		return queue.Permanent(ErrNoJobContext)
	}

	tpl, ok := lookupTemplate(payload.Template)
	if !ok {
		return queue.Permanent(fmt.Errorf("%w: %s", ErrUnknownTemplate, payload.Template))
	}
	body, err := templates.Render(ctx, tpl(payload.Subject, payload.Data))
	if err != nil {
		return queue.Permanent(fmt.Errorf("render %s: %w", payload.Template, err))
	}
	_ = progress.Update(ctx, 50)

	executed, err := p.guard.Once(ctx, job.ID, StepSendEmail, func(ctx context.Context) error {
		return p.sender.SendEmail(ctx, email.SendEmailParams{
			SendTo:   payload.To,
			Subject:  payload.Subject,
			BodyHTML: body,
			Tag:      payload.Template,
			Ref:      job.ID,
		})
	})
	if err != nil {
		return classifySendError(err)
	}
	if !executed {
		p.logger.InfoContext(ctx, "email already sent, skipping", logger.JobID(job.ID))
	}
	return nil
}

// classifySendError marks failures a retry cannot fix as permanent.
func classifySendError(err error) error {
	if errors.Is(err, email.ErrInvalidParams) {
		return queue.Permanent(err)
	}
	var de *email.DeliveryError
	if errors.As(err, &de) && de.Rejected() {
		return queue.Permanent(err)
	}
	return err
}
