// Package middleware provides always-on transport middleware for HTTP servers.
package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/calrelay/calrelay/internal/platform/appctx"
)

// RequestLogger attaches a request-scoped logger to the request context.
//
// Must run after chimw.RequestID so the request id is populated. Fields
// attached here are inherited by AccessLog and by handlers that call
// appctx.GetLogger.
func RequestLogger(base *slog.Logger, trustForwarded bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLogger := base.With(requestFields(r, trustForwarded)...)
			ctx := appctx.WithLogger(r.Context(), reqLogger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestFields(r *http.Request, trustForwarded bool) []any {
	return []any{
		"request_id", chimw.GetReqID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path, // path only, no query string
		"client_ip", ClientIP(r, trustForwarded),
	}
}

// ClientIP returns the caller address. With trustForwarded the first
// X-Forwarded-For entry wins; hosted deployments sit behind the platform's
// edge proxy and never see the real peer.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "unknown"
	}
	return host
}
