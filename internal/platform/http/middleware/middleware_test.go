package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// recordingHandler captures records together with attrs attached via With.
type recordingHandler struct {
	mu      *sync.Mutex
	records *[]capturedRecord
	attrs   []slog.Attr
	level   slog.Level
}

type capturedRecord struct {
	message string
	level   slog.Level
	attrs   map[string]any
}

func newRecordingHandler(level slog.Level) *recordingHandler {
	return &recordingHandler{mu: &sync.Mutex{}, records: &[]capturedRecord{}, level: level}
}

func (h *recordingHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *recordingHandler) Handle(_ context.Context, rec slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	attrs := make(map[string]any, len(h.attrs))
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	rec.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})
	*h.records = append(*h.records, capturedRecord{message: rec.Message, level: rec.Level, attrs: attrs})
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &recordingHandler{mu: h.mu, records: h.records, attrs: merged, level: h.level}
}

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

func (h *recordingHandler) find(message string) *capturedRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range *h.records {
		if (*h.records)[i].message == message {
			rec := (*h.records)[i]
			return &rec
		}
	}
	return nil
}

func newTestRouter(logger *slog.Logger, withRequestLogger bool) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if withRequestLogger {
		r.Use(RequestLogger(logger, false))
	}
	r.Use(AccessLog(logger, false))
	r.Use(chimw.Recoverer)
	return r
}

func TestAccessLog_RequiredFields(t *testing.T) {
	rec := newRecordingHandler(slog.LevelInfo)
	r := newTestRouter(slog.New(rec), true)
	r.Post("/api/calendar", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})

	req := httptest.NewRequest(http.MethodPost, "/api/calendar?x=1", nil)
	req.RemoteAddr = "10.1.2.3:4567"
	r.ServeHTTP(httptest.NewRecorder(), req)

	line := rec.find("request")
	if line == nil {
		t.Fatal("expected access log line")
	}
	for _, field := range []string{"request_id", "method", "path", "client_ip", "status", "bytes", "duration_ms"} {
		if _, ok := line.attrs[field]; !ok {
			t.Errorf("missing access log field %q", field)
		}
	}
	if line.attrs["path"] != "/api/calendar" {
		t.Errorf("path must exclude the query, got %v", line.attrs["path"])
	}
	if line.attrs["client_ip"] != "10.1.2.3" {
		t.Errorf("unexpected client_ip %v", line.attrs["client_ip"])
	}
	if status, ok := line.attrs["status"].(int64); !ok || status != 200 {
		t.Errorf("expected status 200, got %v", line.attrs["status"])
	}
}

func TestAccessLog_FallbackWithoutContextLogger(t *testing.T) {
	rec := newRecordingHandler(slog.LevelInfo)
	r := newTestRouter(slog.New(rec), false)
	r.Get("/api/cron", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/cron", nil))

	line := rec.find("request")
	if line == nil {
		t.Fatal("expected access log line")
	}
	if line.attrs["method"] != "GET" {
		t.Errorf("fallback: unexpected method %v", line.attrs["method"])
	}
	if _, ok := line.attrs["request_id"]; !ok {
		t.Error("fallback: missing request_id")
	}
}

func TestAccessLog_PanicLogsStatus500(t *testing.T) {
	rec := newRecordingHandler(slog.LevelInfo)
	r := newTestRouter(slog.New(rec), true)
	r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	line := rec.find("request")
	if line == nil {
		t.Fatal("expected access log line after panic")
	}
	if status, _ := line.attrs["status"].(int64); status != 500 {
		t.Errorf("expected status 500, got %v", line.attrs["status"])
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name           string
		remote         string
		xff            string
		trustForwarded bool
		want           string
	}{
		{"remote addr", "192.0.2.1:1234", "", false, "192.0.2.1"},
		{"xff ignored when untrusted", "192.0.2.1:1234", "203.0.113.9", false, "192.0.2.1"},
		{"xff first entry when trusted", "192.0.2.1:1234", "203.0.113.9, 10.0.0.1", true, "203.0.113.9"},
		{"garbage xff falls back", "192.0.2.1:1234", "not-an-ip", true, "192.0.2.1"},
		{"no port", "192.0.2.7", "", false, "192.0.2.7"},
		{"empty", "", "", false, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := ClientIP(req, tt.trustForwarded); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequireBearer(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{"disabled", "", "", http.StatusNoContent},
		{"match", "s3cret", "Bearer s3cret", http.StatusNoContent},
		{"missing", "s3cret", "", http.StatusUnauthorized},
		{"wrong", "s3cret", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "s3cret", "Basic s3cret", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/cron", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			RequireBearer(tt.token)(ok).ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
