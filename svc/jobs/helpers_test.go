package jobs_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/email"
	"github.com/dmitrymomot/jobkit/pkg/file"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// MockEmailSender is a mock implementation of email.EmailSender
type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) SendEmail(ctx context.Context, params email.SendEmailParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}

// recordingProgress remembers every reported percentage.
type recordingProgress struct {
	mu      sync.Mutex
	updates []int
}

func (p *recordingProgress) Update(_ context.Context, percent int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, percent)
	return nil
}

func (p *recordingProgress) Updates() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.updates...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func jobContext(id, queueName string) context.Context {
	return queue.ContextWithJob(context.Background(), &queue.Job{
		ID:        id,
		Queue:     queueName,
		CreatedAt: time.Date(2025, 3, 14, 2, 0, 0, 0, time.UTC),
	})
}

func newLocalStorage(t *testing.T) *file.LocalStorage {
	t.Helper()

	s, err := file.NewLocalStorage(t.TempDir(), "https://files.example.com/")
	require.NoError(t, err)
	return s
}
