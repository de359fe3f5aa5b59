// Package httpapi exposes a container over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoCodeAlone/modwire"
	"github.com/GoCodeAlone/modwire/report"
)

// Option configures a Server.
type Option func(*Server)

// WithGatherer serves the gatherer's metrics at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogger sets the request logger. Defaults to the container's.
func WithLogger(logger modwire.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Server serves the container API.
type Server struct {
	container *modwire.Container
	logger    modwire.Logger
	gatherer  prometheus.Gatherer
	router    chi.Router
}

// New creates the API for c.
func New(c *modwire.Container, opts ...Option) *Server {
	s := &Server{container: c, logger: c.Logger()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = modwire.WithLogFields(s.logger, "component", "httpapi")
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Route("/modules", func(r chi.Router) {
		r.Get("/", s.handleListModules)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetModule)
			r.Delete("/", s.handleUninstall)
			r.Get("/wiring", s.handleGetWiring)
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
		})
	})
	r.Post("/resolve", s.handleResolve)
	r.Post("/refresh", s.handleRefresh)
	r.Get("/removal-pending", s.handleRemovalPending)
	r.Get("/startlevel", s.handleGetStartLevel)
	r.Put("/startlevel", s.handleSetStartLevel)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("Request", "method", r.Method, "path", r.URL.Path, "requestId", middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps container errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var resErr *modwire.ResolutionError
	switch {
	case errors.Is(err, modwire.ErrUnknownModule):
		status = http.StatusNotFound
	case errors.As(err, &resErr):
		status = http.StatusConflict
	case errors.Is(err, modwire.ErrJobQueueFull), errors.Is(err, modwire.ErrContainerClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, modwire.ErrSystemModule), errors.Is(err, modwire.ErrFragmentLifecycle):
		status = http.StatusForbidden
	case errors.Is(err, modwire.ErrModuleUninstalled):
		status = http.StatusGone
	case modwire.IsInvalid(err), errors.Is(err, modwire.ErrConfigValidationFailed):
		status = http.StatusBadRequest
	case modwire.IsTransient(err):
		status = http.StatusConflict
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// module looks up the {id} path parameter, writing 404 when absent.
func (s *Server) module(w http.ResponseWriter, r *http.Request) (*modwire.Module, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid module id"})
		return nil, false
	}
	m, ok := s.container.Module(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "module not found"})
		return nil, false
	}
	return m, true
}

// modules resolves a list of ids to modules.
func (s *Server) modules(ids []uint64) ([]*modwire.Module, error) {
	out := make([]*modwire.Module, 0, len(ids))
	for _, id := range ids {
		m, ok := s.container.Module(id)
		if !ok {
			return nil, modwire.ErrUnknownModule
		}
		out = append(out, m)
	}
	return out, nil
}

// decodeBody decodes an optional JSON body into v.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// Router returns the chi router, for mounting under another router.
func (s *Server) Router() chi.Router { return s.router }

var _ http.Handler = (*Server)(nil)

func moduleIDs(mods []*modwire.Module) []uint64 {
	ids := make([]uint64, len(mods))
	for i, m := range mods {
		ids[i] = m.ID()
	}
	return ids
}

func views(c *modwire.Container, mods []*modwire.Module) []report.Module {
	out := make([]report.Module, 0, len(mods))
	for _, m := range mods {
		out = append(out, report.ModuleOf(c, m, false))
	}
	return out
}
