package clientip

import "context"

type clientIPContextKey struct{}

// WithContext stores client IP in context
func WithContext(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// FromContext retrieves client IP from context
func FromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

// Extractor adapts FromContext to the (value, found) extractor shape used by audit.
func Extractor(ctx context.Context) (string, bool) {
	ip := FromContext(ctx)
	return ip, ip != ""
}
