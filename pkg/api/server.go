package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fabworks/embedgate/pkg/audit"
	"github.com/fabworks/embedgate/pkg/broker"
	"github.com/fabworks/embedgate/pkg/httputil"
	"github.com/fabworks/embedgate/pkg/identity"
	"github.com/fabworks/embedgate/pkg/middleware"
	"github.com/fabworks/embedgate/pkg/observability"
	"github.com/fabworks/embedgate/pkg/roles"
)

// Config holds everything the API server needs. Broker, Verifier and
// Authenticator are required; the rest degrade gracefully when nil.
type Config struct {
	Broker        *broker.Broker
	Verifier      identity.Verifier
	Authenticator *middleware.Authenticator

	// Audit receives handler-level events; Store backs the admin query
	// endpoint and may be nil to disable it.
	Audit audit.Recorder
	Store *audit.MemoryStore

	// RateLimit is an optional middleware applied per route, after
	// authentication, so authenticated callers draw from the per-user
	// budget instead of the anonymous per-IP one.
	RateLimit func(http.Handler) http.Handler

	AllowedOrigins []string

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Server represents our API server
type Server struct {
	router    *mux.Router
	broker    *broker.Broker
	verifier  identity.Verifier
	auth      *middleware.Authenticator
	audit     audit.Recorder
	store     *audit.MemoryStore
	logger    *observability.Logger
	metrics   *observability.Metrics
	rateLimit func(http.Handler) http.Handler

	handler http.Handler
}

// NewServer creates a new API server
func NewServer(cfg Config) *Server {
	if cfg.Audit == nil {
		cfg.Audit = audit.NopRecorder()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	s := &Server{
		router:    mux.NewRouter(),
		broker:    cfg.Broker,
		verifier:  cfg.Verifier,
		auth:      cfg.Authenticator,
		audit:     cfg.Audit,
		store:     cfg.Store,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		rateLimit: cfg.RateLimit,
	}

	s.setupRoutes()

	chain := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.RequestLogger(cfg.Logger),
	}
	if cfg.Metrics != nil {
		chain = append(chain, observability.HTTPMetricsMiddleware(cfg.Metrics))
	}
	if len(cfg.AllowedOrigins) > 0 {
		chain = append(chain, httputil.CORSMiddleware(cfg.AllowedOrigins))
	}
	s.handler = httputil.Chain(chain...)(s.router)

	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	// Embed access routes
	s.protected("/api/v1/access/{reportId}", s.getEmbedAccess, roles.PermViewReports).Methods("GET")
	s.protected("/api/v1/access/invalidate/{reportId}", s.invalidateReport, roles.PermManageSystem).Methods("POST")
	s.protected("/api/v1/access/invalidate", s.invalidateAll, roles.PermManageSystem).Methods("POST")

	// Workspace catalog routes
	s.protected("/api/v1/reports", s.listReports, roles.PermViewReports).Methods("GET")
	s.protected("/api/v1/datasets", s.listDatasets, roles.PermViewReports).Methods("GET")

	// Caller identity routes
	s.protected("/auth/me", s.getMe).Methods("GET")
	s.protected("/auth/roles", s.getRoles).Methods("GET")
	s.protected("/auth/permissions", s.getPermissions).Methods("GET")

	// Unauthenticated, so it draws from the anonymous rate limit budget
	var status http.Handler = http.HandlerFunc(s.getStatus)
	if s.rateLimit != nil {
		status = s.rateLimit(status)
	}
	s.router.Handle("/auth/status", status).Methods("GET")

	// Admin routes
	if s.store != nil {
		s.protected("/admin/audit/events", s.queryAuditEvents, roles.PermManageSystem).Methods("GET")
	}
}

// protected registers a route behind authentication and, when given,
// permission checks. The rate limiter sits inside the authentication
// wrapper: it reads the claim from the request context to pick the
// per-user budget.
func (s *Server) protected(path string, handler http.HandlerFunc, required ...roles.Permission) *mux.Route {
	var h http.Handler = handler
	if len(required) > 0 {
		h = s.auth.RequirePermissions(required...)(h)
	}
	if s.rateLimit != nil {
		h = s.rateLimit(h)
	}
	return s.router.Handle(path, s.auth.Authenticate(h))
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the underlying router so callers can attach extra routes
// before serving.
func (s *Server) Router() *mux.Router {
	return s.router
}
