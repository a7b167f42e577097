package jobs

import (
	"fmt"
	"time"

	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// Default trigger names.
const (
	TriggerNightlyBackup    = "nightly-backup"
	TriggerInvoiceReminders = "invoice-reminders"
	TriggerIntegrationSync  = "integration-sync"
	TriggerMaintenance      = "nightly-maintenance"
)

// BillingLocation is where invoice reminders are sent from.
const BillingLocation = "America/Sao_Paulo"

// DefaultTriggers returns the recurring jobs of the service. The hourly
// integration sync is included only when a provider and account are set.
func DefaultTriggers(cfg Config) ([]queue.Trigger, error) {
	billing, err := time.LoadLocation(BillingLocation)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", BillingLocation, err)
	}

	triggers := []queue.Trigger{
		{
			Name:     TriggerNightlyBackup,
			Schedule: queue.DailyAt(2, 0),
			Location: time.UTC,
			Payload:  queue.StaticPayload(DatabaseBackup{Reason: "scheduled"}),
		},
		{
			Name:     TriggerInvoiceReminders,
			Schedule: queue.DailyAt(9, 0),
			Location: billing,
			Payload: func(at time.Time) (queue.Payload, error) {
				return SendEmail{
					To:       cfg.BillingEmail,
					Subject:  "Invoice reminders for " + at.Format(time.DateOnly),
					Template: "invoice_reminders",
					Data: map[string]string{
						"date": at.Format(time.DateOnly),
						"url":  cfg.BillingURL,
					},
				}, nil
			},
			Options: []queue.EnqueueOption{queue.WithPriority(queue.PriorityHigh)},
		},
		{
			Name:     TriggerMaintenance,
			Schedule: queue.DailyAt(3, 30),
			Location: time.UTC,
			Payload:  queue.StaticPayload(CleanupExpired{OlderThan: cfg.JobRetention}),
			Options:  []queue.EnqueueOption{queue.WithPriority(queue.PriorityLow)},
		},
	}

	if cfg.SyncProvider != "" && cfg.SyncAccountID != "" {
		triggers = append(triggers, queue.Trigger{
			Name:     TriggerIntegrationSync,
			Schedule: queue.HourlyAt(0),
			Location: time.UTC,
			Payload: func(at time.Time) (queue.Payload, error) {
				return SyncIntegration{
					Provider:  cfg.SyncProvider,
					AccountID: cfg.SyncAccountID,
					Since:     at.Add(-time.Hour).UTC(),
				}, nil
			},
		})
	}

	return triggers, nil
}

// AddTriggers adds the default triggers to s. It is a no-op when triggers
// are disabled.
func AddTriggers(s *queue.Scheduler, cfg Config) error {
	if !cfg.TriggersEnabled {
		return nil
	}
	triggers, err := DefaultTriggers(cfg)
	if err != nil {
		return err
	}
	for _, t := range triggers {
		if err := s.Add(t); err != nil {
			return fmt.Errorf("add trigger %s: %w", t.Name, err)
		}
	}
	return nil
}
