package clientip

import "net/http"

// Option configures the middleware.
type Option func(*options)

type options struct {
	trustProxy bool
}

// TrustProxyHeaders makes the middleware resolve the address with GetForwardedIP.
func TrustProxyHeaders(trust bool) Option {
	return func(o *options) {
		o.trustProxy = trust
	}
}

// Middleware stores the resolved client IP in the request context.
func Middleware(opts ...Option) func(http.Handler) http.Handler {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	resolve := GetIP
	if o.trustProxy {
		resolve = GetForwardedIP
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), resolve(r))))
		})
	}
}
