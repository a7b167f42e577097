package ratelimiter_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/ratelimiter"
)

// MockRateLimiter is a mock implementation of RateLimiter
type MockRateLimiter struct {
	mock.Mock
}

func (m *MockRateLimiter) Allow(ctx context.Context, key string) (*ratelimiter.Result, error) {
	args := m.Called(ctx, key)
	res, _ := args.Get(0).(*ratelimiter.Result)
	return res, args.Error(1)
}

func (m *MockRateLimiter) AllowN(ctx context.Context, key string, n int) (*ratelimiter.Result, error) {
	args := m.Called(ctx, key, n)
	res, _ := args.Get(0).(*ratelimiter.Result)
	return res, args.Error(1)
}

func byRemoteAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func byAuthorization(r *http.Request) string {
	return r.Header.Get("Authorization")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("limits per key", func(t *testing.T) {
		t.Parallel()

		limiter, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), ratelimiter.Config{Capacity: 2, RefillRate: 1, RefillInterval: time.Minute})
		require.NoError(t, err)

		handler := ratelimiter.Middleware(limiter, byRemoteAddr)(okHandler())

		send := func(addr string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodGet, "/jobs/stats", nil)
			req.RemoteAddr = addr
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			return rec
		}

		rec := send("10.0.0.1:1234")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

		assert.Equal(t, http.StatusOK, send("10.0.0.1:5678").Code)

		rec = send("10.0.0.1:1234")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))

		assert.Equal(t, http.StatusOK, send("10.0.0.2:1234").Code)
	})

	t.Run("empty key is not limited", func(t *testing.T) {
		t.Parallel()

		limiter := &MockRateLimiter{}
		handler := ratelimiter.Middleware(limiter, byAuthorization)(okHandler())

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		limiter.AssertNotCalled(t, "Allow", mock.Anything, mock.Anything)
	})

	t.Run("store errors use the responder", func(t *testing.T) {
		t.Parallel()

		limiter := &MockRateLimiter{}
		limiter.On("Allow", mock.Anything, "Bearer secret").Return(nil, ratelimiter.ErrStoreUnavailable)

		var gotErr error
		handler := ratelimiter.Middleware(limiter, byAuthorization,
			ratelimiter.WithErrorResponder(func(w http.ResponseWriter, _ *http.Request, _ *ratelimiter.Result, err error) {
				gotErr = err
				w.WriteHeader(http.StatusServiceUnavailable)
			}),
		)(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer secret")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.True(t, errors.Is(gotErr, ratelimiter.ErrStoreUnavailable))
		limiter.AssertExpectations(t)
	})
}
