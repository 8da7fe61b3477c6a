package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/calrelay/calrelay/internal/platform/appctx"
)

// AccessLog writes one "request" line per request with status, bytes and
// duration. It reuses the context logger set by RequestLogger and falls back
// to recomputing the base fields when that logger is missing.
func AccessLog(log *slog.Logger, trustForwarded bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger, ok := appctx.LoggerFromContext(r.Context())
				if !ok {
					logger = log.With(requestFields(r, trustForwarded)...)
				}

				// Base fields are already on the context logger; adding them
				// again would duplicate keys.
				logger.Info("request",
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
