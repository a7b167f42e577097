package monitor

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

type actorKey struct{}

// ActorExtractor returns the admin identity stored by the auth middleware.
// It plugs into audit.WithActorExtractor.
func ActorExtractor(ctx context.Context) (string, bool) {
	actor, ok := ctx.Value(actorKey{}).(string)
	return actor, ok && actor != ""
}

// tokenActor is the audit identity for a token holder. The token itself
// never reaches the audit trail.
func tokenActor(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "admin:" + hex.EncodeToString(sum[:4])
}

// requireToken rejects requests that do not carry the bearer token.
func requireToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	actor := tokenActor(token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), expected) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="jobs"`)
				writeJSON(w, http.StatusUnauthorized, Response{Error: &ErrorDetail{
					Code:    "unauthorized",
					Message: "missing or invalid admin token",
				}})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
		})
	}
}
