package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/calrelay/calrelay/internal/components/api"
	"github.com/calrelay/calrelay/internal/frameworks/service"
	httpmw "github.com/calrelay/calrelay/internal/platform/http/middleware"
)

// mountService mounts a service and tracks it for lifecycle management.
func (s *Server) mountService(r chi.Router, svc service.Service) {
	if svc == nil {
		return
	}

	if prefix := svc.Prefix(); prefix == "" {
		r.Mount("/", svc.Handler())
	} else {
		r.Mount("/"+prefix, svc.Handler())
	}

	s.mountedServices = append(s.mountedServices, svc)
}

// setupRoutes creates the chi router with all services mounted.
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()

	// Always-on transport middleware (order is invariant):
	// RequestID -> request-scoped logger -> access log -> recoverer
	r.Use(chimw.RequestID)
	r.Use(httpmw.RequestLogger(s.logger, s.cfg.TrustForwardedFor))
	r.Use(httpmw.AccessLog(s.logger, s.cfg.TrustForwardedFor))
	r.Use(chimw.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		api.WriteNotFound(w, "no route for "+r.URL.Path)
	})

	mount := func(r chi.Router) {
		r.Get("/healthz", api.HealthHandler)
		for _, svc := range s.services {
			s.mountService(r, svc)
		}
	}

	if s.cfg.BasePath != "" {
		r.Route(s.cfg.BasePath, mount)
	} else {
		mount(r)
	}

	return r
}
