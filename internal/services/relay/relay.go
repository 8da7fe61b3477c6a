// Package relay is the HTTP surface of the calendar relay: the provider
// callback, the renewal and cleanup jobs, and a greeting route.
package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/calrelay/calrelay/internal/components/api"
	"github.com/calrelay/calrelay/internal/components/calendar"
	"github.com/calrelay/calrelay/internal/components/delivery"
	"github.com/calrelay/calrelay/internal/components/notification"
	"github.com/calrelay/calrelay/internal/components/watch"
	"github.com/calrelay/calrelay/internal/frameworks/service"
	"github.com/calrelay/calrelay/internal/platform/appctx"
	httpmw "github.com/calrelay/calrelay/internal/platform/http/middleware"
	"github.com/calrelay/calrelay/internal/platform/logutil"
)

// Lifecycle manages watch channels. *watch.Manager implements it.
type Lifecycle interface {
	Renew(ctx context.Context) (*calendar.Channel, error)
	Reconcile(ctx context.Context, ev notification.SyncEvent) (*watch.ReconcileResult, error)
	Cleanup(ctx context.Context, force bool) (*watch.CleanupReport, error)
}

// Deliverer runs one change batch. *delivery.Pipeline implements it.
type Deliverer interface {
	Run(ctx context.Context) (*delivery.BatchResult, error)
}

var (
	_ Lifecycle = (*watch.Manager)(nil)
	_ Deliverer = (*delivery.Pipeline)(nil)
)

// Config holds the secrets the routes check.
type Config struct {
	// ChannelToken is the shared secret echoed on every callback.
	ChannelToken string
	// AdminToken, when set, guards /cron and /cleanup.
	AdminToken string
	// Ready probes the store for /readyz. Nil reports always ready.
	Ready api.Probe
}

// Service mounts the relay routes at the base path.
type Service struct {
	router    chi.Router
	cfg       Config
	lifecycle Lifecycle
	pipeline  Deliverer
	log       *slog.Logger
}

var _ service.Service = (*Service)(nil)

// New creates the relay service.
func New(cfg Config, lifecycle Lifecycle, pipeline Deliverer, log *slog.Logger) *Service {
	s := &Service{
		cfg:       cfg,
		lifecycle: lifecycle,
		pipeline:  pipeline,
		log:       logutil.NoopIfNil(log),
	}

	r := chi.NewRouter()
	r.Get("/", s.handleHello)
	r.Get("/readyz", api.ReadinessHandler(cfg.Ready))
	r.Post("/calendar", s.handleCalendar)
	r.Group(func(r chi.Router) {
		r.Use(httpmw.RequireBearer(cfg.AdminToken))
		r.Get("/cron", s.handleCron)
		r.Get("/cleanup", s.handleCleanup)
	})
	s.router = r
	return s
}

// Handler implements service.Service.
func (s *Service) Handler() http.Handler { return s.router }

// Prefix implements service.Service.
func (s *Service) Prefix() string { return "" }

// Close implements service.Service.
func (s *Service) Close() error { return nil }

func (s *Service) handleHello(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "Hello")
}

// handleCalendar receives provider push callbacks.
//
// Validation failures are answered before any store or provider access.
// Errors before the diff is fetched return 500 so the provider retries;
// once deliveries were attempted the callback is acknowledged.
func (s *Service) handleCalendar(w http.ResponseWriter, r *http.Request) {
	log := appctx.GetLogger(r.Context())

	ev, err := notification.Validate(notification.HeadersFromRequest(r), s.cfg.ChannelToken)
	if err != nil {
		writeValidationError(w, log, err)
		return
	}

	switch ev := ev.(type) {
	case notification.SyncEvent:
		ctx := appctx.WithLogAttrs(r.Context(), "resource_id", ev.ResourceID, "channel_id", ev.ChannelID)
		log = appctx.GetLogger(ctx)
		res, err := s.lifecycle.Reconcile(ctx, ev)
		switch {
		case errors.Is(err, watch.ErrSubscriptionExpired):
			log.Warn("sync callback for expired channel ignored", "expiration", ev.ChannelExpiration)
		case err != nil:
			log.Error("reconcile failed", "error", err)
			api.WriteInternalError(w, api.ReasonStoreError, "failed to record channel")
			return
		default:
			log.Info("channel reconciled", "replaced", len(res.Replaced), "failed", len(res.Failed))
		}

	case notification.ChangedEvent:
		ctx := appctx.WithLogAttrs(r.Context(), "resource_id", ev.ResourceID, "channel_id", ev.ChannelID)
		log = appctx.GetLogger(ctx)
		res, err := s.pipeline.Run(ctx)
		if errors.Is(err, delivery.ErrCursorNotStored) && res != nil {
			// Items were already sent; a retry from the old cursor would
			// send them again.
			log.Error("change batch delivered but cursor not stored",
				"delivered", res.Delivered, "failed", res.Failed, "error", err)
			break
		}
		if err != nil {
			log.Error("change batch failed", "error", err)
			api.WriteInternalError(w, reasonFor(err), "failed to process change batch")
			return
		}
		if res.Failed > 0 {
			log.Warn("change batch partially delivered", "delivered", res.Delivered, "failed", res.Failed)
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "ok")
}

func writeValidationError(w http.ResponseWriter, log *slog.Logger, err error) {
	var verr *notification.ValidationError
	if !errors.As(err, &verr) {
		api.WriteBadRequest(w, api.ReasonBadRequest, err.Error())
		return
	}
	log.Warn("callback rejected", "header", verr.Field, "reason", verr.Reason)
	switch {
	case verr.BadToken():
		api.WriteUnauthorized(w, api.ReasonInvalidToken, verr.Error())
	case strings.HasSuffix(verr.Reason, "missing"):
		api.WriteBadRequest(w, api.ReasonMissingField, verr.Error())
	default:
		api.WriteBadRequest(w, api.ReasonInvalidField, verr.Error())
	}
}

func reasonFor(err error) string {
	var upErr *calendar.UpstreamError
	if errors.As(err, &upErr) {
		return api.ReasonUpstreamError
	}
	return api.ReasonStoreError
}

// handleCron opens a new channel. The provider's sync callback completes
// the rotation.
func (s *Service) handleCron(w http.ResponseWriter, r *http.Request) {
	log := appctx.GetLogger(r.Context())

	ch, err := s.lifecycle.Renew(r.Context())
	if err != nil {
		log.Error("renew failed", "error", err)
		api.WriteBadGateway(w, "failed to open watch channel")
		return
	}
	api.WriteJSON(w, http.StatusOK, ch)
}

func (s *Service) handleCleanup(w http.ResponseWriter, r *http.Request) {
	log := appctx.GetLogger(r.Context())

	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			api.WriteBadRequest(w, api.ReasonInvalidField, "force must be true or false")
			return
		}
		force = b
	}

	report, err := s.lifecycle.Cleanup(r.Context(), force)
	if err != nil {
		log.Error("cleanup failed", "error", err)
		api.WriteInternalError(w, api.ReasonStoreError, "failed to list channels")
		return
	}
	api.WriteJSON(w, http.StatusOK, report)
}
