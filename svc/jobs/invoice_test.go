package jobs_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/email"
	"github.com/dmitrymomot/jobkit/pkg/queue"
	"github.com/dmitrymomot/jobkit/svc/jobs"
)

type failingRenderer struct{ err error }

func (r failingRenderer) Render(context.Context, jobs.GenerateInvoice) ([]byte, string, error) {
	return nil, "", r.err
}

func TestFormatAmount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		minor    int64
		currency string
		want     string
	}{
		{1250, "EUR", "12.50 EUR"},
		{5, "usd", "0.05 USD"},
		{100000, "BRL", "1000.00 BRL"},
		{-199, "GBP", "-1.99 GBP"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, jobs.FormatAmount(tt.minor, tt.currency))
	}
}

func TestInvoiceProcessor(t *testing.T) {
	t.Parallel()

	inv := jobs.GenerateInvoice{
		InvoiceID:  "INV-1001",
		CustomerID: "0b6f6d43-4bd1-4a5c-9f64-3b5a5b0c1f7e",
		Email:      "billing@acme.test",
		Amount:     1250,
		Currency:   "EUR",
	}

	t.Run("stores the document and emails a link", func(t *testing.T) {
		t.Parallel()
		storage := newLocalStorage(t)

		sender := &MockEmailSender{}
		sender.On("SendEmail", mock.Anything, mock.MatchedBy(func(p email.SendEmailParams) bool {
			return p.SendTo == "billing@acme.test" &&
				p.Tag == "invoice" &&
				strings.Contains(p.BodyHTML, "12.50 EUR") &&
				strings.Contains(p.BodyHTML, "https://files.example.com/invoices/INV-1001.html")
		})).Return(nil).Once()

		proc := jobs.NewInvoiceProcessor(nil, storage, sender, queue.NewMemoryGuard(), discardLogger())
		ctx := jobContext("job-inv", jobs.QueueInvoices)
		progress := &recordingProgress{}

		require.NoError(t, proc.Process(ctx, inv, progress))
		require.NoError(t, proc.Process(ctx, inv, progress))
		sender.AssertExpectations(t)
		assert.Equal(t, []int{30, 60, 30, 60}, progress.Updates())

		rc, err := storage.Get(context.Background(), jobs.InvoiceKey(inv.InvoiceID))
		require.NoError(t, err)
		defer rc.Close()
		doc, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Contains(t, string(doc), "Invoice INV-1001")
		assert.Contains(t, string(doc), inv.CustomerID)
	})

	t.Run("render failure is retried", func(t *testing.T) {
		t.Parallel()

		proc := jobs.NewInvoiceProcessor(failingRenderer{err: errors.New("font missing")}, newLocalStorage(t),
			&MockEmailSender{}, queue.NewMemoryGuard(), discardLogger())
		err := proc.Process(jobContext("job-inv-2", jobs.QueueInvoices), inv, &recordingProgress{})

		require.Error(t, err)
		assert.False(t, queue.IsPermanent(err))
	})
}
