// Package server wires the gateway's HTTP surface (spec §6.1): route
// table, middleware chain, and the status/docs endpoints that sit
// beside the request plane.
//
// Grounded on the teacher's internal/server/server.go (route setup,
// middleware chaining, responseWriter status-capturing wrapper,
// writeErrorResponse), with the retry/fallback completion handlers
// removed (see DESIGN.md's internal/routing entry) and the five
// request-plane handlers rebuilt against this gateway's registry,
// router, admission, health, upstream, streamproxy, images, and
// toolbus packages instead of the teacher's provider abstraction.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/local-gateway/internal/admission"
	"github.com/tributary-ai/local-gateway/internal/health"
	"github.com/tributary-ai/local-gateway/internal/images"
	"github.com/tributary-ai/local-gateway/internal/metrics"
	"github.com/tributary-ai/local-gateway/internal/middleware"
	"github.com/tributary-ai/local-gateway/internal/registry"
	"github.com/tributary-ai/local-gateway/internal/routing"
	"github.com/tributary-ai/local-gateway/internal/security"
	"github.com/tributary-ai/local-gateway/internal/toolbus"
	"github.com/tributary-ai/local-gateway/internal/upstream"
)

// Config holds the HTTP-facing settings the server needs directly
// (everything else arrives pre-built through Deps).
type Config struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxHeaderBytes int
	CORSOrigins    []string
	BuildVersion   string
	OpenAPIPath    string // path to docs/openapi.yaml; empty disables /docs
}

// Deps are the already-constructed components the server routes
// requests through. Server owns none of their lifecycles except its
// own http.Server.
type Deps struct {
	Registry   *registry.Registry
	Router     *routing.Router
	Admission  *admission.Controller
	Health     *health.Checker
	Pool       *upstream.Pool
	Tools      *toolbus.Registry
	ToolLogger *toolbus.Logger
	ImageStore   *images.Store
	Metrics      *metrics.Metrics
	PromRegistry *prometheus.Registry
	Auth         *security.Authenticator
	UIAllow    *security.AllowList
}

// Server is the gateway's HTTP front end.
type Server struct {
	cfg  Config
	deps Deps
	log  *logrus.Logger

	httpServer *http.Server
}

// New builds a Server. Call Start to begin serving.
func New(cfg Config, deps Deps, log *logrus.Logger) *Server {
	return &Server{cfg: cfg, deps: deps, log: log}
}

// Start builds the route table and begins serving. It blocks until
// the server stops (by error or by Stop's Shutdown completing).
func (s *Server) Start() error {
	r := s.routes()
	s.httpServer = &http.Server{
		Addr:           ":" + s.cfg.Port,
		Handler:        r,
		ReadTimeout:    s.cfg.ReadTimeout,
		WriteTimeout:   s.cfg.WriteTimeout,
		MaxHeaderBytes: s.cfg.MaxHeaderBytes,
	}
	s.log.WithField("port", s.cfg.Port).Info("gateway HTTP server starting")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("gateway HTTP server stopping")
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// routes builds the full route table of spec §6.1: a public health
// check, a bearer-protected /v1 subtree, an IP-allowlisted /ui
// subtree, and the ambient /metrics and /docs endpoints.
func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: s.cfg.CORSOrigins}))

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler(s.deps.PromRegistry)).Methods(http.MethodGet)
	if s.cfg.OpenAPIPath != "" {
		s.setupDocsRoutes(r)
	}

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(s.deps.Auth.Middleware)
	api.HandleFunc("/models", s.handleModels).Methods(http.MethodGet)
	api.HandleFunc("/chat/completions", s.handleChatCompletions).Methods(http.MethodPost)
	api.HandleFunc("/embeddings", s.handleEmbeddings).Methods(http.MethodPost)
	api.HandleFunc("/images/generations", s.handleImagesGenerations).Methods(http.MethodPost)
	api.HandleFunc("/tools", s.handleToolsList).Methods(http.MethodGet)
	api.HandleFunc("/tools/{name}", s.handleToolInvoke).Methods(http.MethodPost)
	api.HandleFunc("/gateway/status", s.handleGatewayStatus).Methods(http.MethodGet)

	ui := r.PathPrefix("/ui").Subrouter()
	ui.Use(s.deps.UIAllow.Middleware)
	ui.PathPrefix("/images/").Handler(http.StripPrefix("/ui/images/", http.FileServer(http.Dir(s.deps.ImageStore.Dir()))))

	return r
}

// loggingMiddleware wraps every request with structured access
// logging and request-duration metrics, mirroring the teacher's
// loggingMiddleware/responseWriter status-capturing pattern.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		s.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": duration.Milliseconds(),
			"remote_addr": security.ClientIP(r),
		}).Info("http request")

		if s.deps.Metrics != nil {
			route := r.Method + " " + r.URL.Path
			s.deps.Metrics.RequestsTotal.WithLabelValues(route, statusClass(wrapped.statusCode)).Inc()
			s.deps.Metrics.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
		}
	})
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// responseWriter captures the status code a handler wrote, the same
// shape as the teacher's internal/server/server.go responseWriter,
// plus a Flush passthrough for the SSE handlers.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
