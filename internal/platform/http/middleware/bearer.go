package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/calrelay/calrelay/internal/components/api"
	"github.com/calrelay/calrelay/internal/platform/appctx"
)

// RequireBearer rejects requests whose Authorization header does not carry
// the given bearer token. An empty token disables the check, matching
// deployments where the scheduler endpoint is left open.
func RequireBearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				appctx.GetLogger(r.Context()).Warn("admin request rejected", "reason", "bad_bearer_token")
				api.WriteUnauthorized(w, api.ReasonUnauthorized, "missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
