package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/turnstile/pkg/accounts"
	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/middleware"
	"github.com/platinummonkey/turnstile/pkg/observability"
	"github.com/platinummonkey/turnstile/pkg/usage"
)

// Dependencies are the services the API is built from. Throttle, Federated,
// Health and Metrics are optional.
type Dependencies struct {
	Accounts  *accounts.Service
	Issuer    *auth.Issuer
	Finder    auth.AccountFinder
	Limiter   *usage.Limiter
	Gate      *middleware.AuthMiddleware
	Quota     *middleware.QuotaMiddleware
	Throttle  *middleware.LoginThrottle
	Federated RouteRegistrar
	Health    *observability.HealthChecker
	Metrics   *observability.Metrics
	Logger    *observability.Logger
	Cookies   httputil.CookieConfig

	MaxBodyBytes int64
}

// Server represents our API server
type Server struct {
	router  *mux.Router
	handler http.Handler
	deps    Dependencies
}

// NewServer creates a new API server
func NewServer(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.Default()
	}
	if deps.Quota == nil {
		deps.Quota = middleware.NewQuotaMiddleware(deps.Limiter, deps.Metrics)
	}

	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
	}
	s.setupRoutes()
	s.handler = otelhttp.NewHandler(s.router, "turnstile",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(observability.RecoverMiddleware)
	s.router.Use(middleware.RequestLogger(s.deps.Logger))
	if s.deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.deps.Metrics))
	}
	if s.deps.MaxBodyBytes > 0 {
		s.router.Use(httputil.MaxBytesMiddleware(s.deps.MaxBodyBytes))
	}
	s.router.Use(httputil.ContentTypeMiddleware)
	s.router.Use(s.deps.Gate.Handler)

	if s.deps.Health != nil {
		s.router.HandleFunc("/healthz", s.deps.Health.Liveness).Methods(http.MethodGet)
		s.router.HandleFunc("/readyz", s.deps.Health.Readiness).Methods(http.MethodGet)
	}
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	s.RegisterRoutes(NewAuthHandlers(s.deps.Accounts, s.deps.Issuer, s.deps.Cookies, s.deps.Throttle, s.deps.Metrics))
	s.RegisterRoutes(NewUsageHandlers(s.deps.Finder, s.deps.Limiter, s.deps.Quota))
	s.RegisterRoutes(NewAdminHandlers(s.deps.Accounts))
	if s.deps.Federated != nil {
		s.RegisterRoutes(s.deps.Federated)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the underlying router for additional routes
func (s *Server) Router() *mux.Router {
	return s.router
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}
