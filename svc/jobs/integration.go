package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// IntegrationProcessor triggers a sync on the provider's sync endpoint.
//
// The endpoint receives POST {base}/accounts/{account}/sync with an optional
// since query parameter. 5xx, 429 and transport failures are retried; other
// 4xx responses are permanent.
type IntegrationProcessor struct {
	endpoints map[string]string
	token     string
	client    *http.Client
	logger    *slog.Logger
}

// NewIntegrationProcessor creates an IntegrationProcessor. A nil client gets
// a default client with the given timeout.
func NewIntegrationProcessor(endpoints map[string]string, token string, client *http.Client, timeout time.Duration, log *slog.Logger) *IntegrationProcessor {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if log == nil {
		log = slog.Default()
	}
	return &IntegrationProcessor{endpoints: endpoints, token: token, client: client, logger: log}
}

func (p *IntegrationProcessor) Process(ctx context.Context, payload SyncIntegration, progress queue.Progress) error {
	base, ok := p.endpoints[payload.Provider]
	if !ok || base == "" {
		return queue.Permanent(fmt.Errorf("%w: %s", ErrUnknownProvider, payload.Provider))
	}

	u, err := url.Parse(strings.TrimSuffix(base, "/") + "/accounts/" + url.PathEscape(payload.AccountID) + "/sync")
	if err != nil {
		return queue.Permanent(fmt.Errorf("%w: bad endpoint: %v", ErrIntegrationFailed, err))
	}
	if !payload.Since.IsZero() {
		q := u.Query()
		q.Set("since", payload.Since.UTC().Format(time.RFC3339))
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return queue.Permanent(errors.Join(ErrIntegrationFailed, err))
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	if job, ok := queue.JobFromContext(ctx); ok {
		req.Header.Set("Idempotency-Key", job.ID)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.Join(ErrIntegrationFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		_ = progress.Update(ctx, 100)
		p.logger.InfoContext(ctx, "integration synced",
			slog.String("provider", payload.Provider),
			slog.String("account_id", payload.AccountID),
		)
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s returned %d: %s", ErrIntegrationFailed, payload.Provider, resp.StatusCode, strings.TrimSpace(string(snippet)))
	default:
		p.logger.WarnContext(ctx, "integration rejected sync",
			slog.String("provider", payload.Provider),
			slog.Int("status", resp.StatusCode),
			logger.Error(errors.New(strings.TrimSpace(string(snippet)))),
		)
		return queue.Permanent(fmt.Errorf("%w: %s returned %d", ErrIntegrationFailed, payload.Provider, resp.StatusCode))
	}
}
