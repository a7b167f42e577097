package ratelimiter

import (
	"net/http"
	"strconv"
)

// KeyFunc picks the bucket key for a request. An empty key skips limiting.
type KeyFunc func(r *http.Request) string

// ErrorResponder writes the response when a request is denied (err is nil)
// or the limiter failed (result is nil).
type ErrorResponder func(w http.ResponseWriter, r *http.Request, result *Result, err error)

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareOptions)

type middlewareOptions struct {
	respond ErrorResponder
}

// WithErrorResponder replaces the plain text 429 and 500 responses.
func WithErrorResponder(fn ErrorResponder) MiddlewareOption {
	return func(o *middlewareOptions) {
		if fn != nil {
			o.respond = fn
		}
	}
}

func plainResponder(w http.ResponseWriter, _ *http.Request, _ *Result, err error) {
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
}

// Middleware spends one token per request and reports the bucket in
// X-RateLimit-* headers. Denied requests also get Retry-After.
func Middleware(limiter RateLimiter, key KeyFunc, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	o := middlewareOptions{respond: plainResponder}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			res, err := limiter.Allow(r.Context(), k)
			if err != nil {
				o.respond(w, r, nil, err)
				return
			}

			writeHeaders(w.Header(), res)
			if !res.Allowed() {
				o.respond(w, r, res, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeHeaders(h http.Header, res *Result) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(0, res.Remaining)))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if wait := int(res.RetryAfter().Seconds()); wait > 0 {
		h.Set("Retry-After", strconv.Itoa(wait))
	}
}
