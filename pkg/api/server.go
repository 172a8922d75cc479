package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/usersync/pkg/httputil"
	"github.com/platinummonkey/usersync/pkg/identity"
	"github.com/platinummonkey/usersync/pkg/middleware"
	"github.com/platinummonkey/usersync/pkg/observability"
	"github.com/platinummonkey/usersync/pkg/reconcile"
	"github.com/platinummonkey/usersync/pkg/session"
)

// DefaultMaxBodyBytes bounds JSON request bodies
const DefaultMaxBodyBytes = 1 << 20

// UserService is the administrative user service
type UserService interface {
	CreateUser(ctx context.Context, req reconcile.CreateUserRequest) (*reconcile.CreatedUser, error)
	UpdateProfile(ctx context.Context, id string, update reconcile.ProfileUpdate) (*identity.User, error)
	DeleteUser(ctx context.Context, id string) error
	GetUser(ctx context.Context, id string) (*identity.User, error)
	ListUsers(ctx context.Context, search string) ([]*identity.User, error)
	SetLoggedIn(ctx context.Context, user *identity.User, loggedIn bool) (*identity.User, error)
}

// SyncService is the identity provider synchronisation surface
type SyncService interface {
	TestConnection(ctx context.Context) bool
	PushAll(ctx context.Context) (*reconcile.SweepResult, error)
	SyncStatus(ctx context.Context) (*reconcile.SyncStatus, error)
	EnsureRoles(ctx context.Context) error
	PushUser(ctx context.Context, username string) error
	AssignRole(ctx context.Context, username, role string) (*reconcile.UserRoles, error)
	UserRoles(ctx context.Context, username string) (*reconcile.UserRoles, error)
}

// SessionManager issues and revokes session tokens
type SessionManager interface {
	Create(ctx context.Context, user *identity.User) (*session.Session, error)
	Delete(ctx context.Context, token string) error
	DeleteByUser(ctx context.Context, userID string) error
}

// PublicConfig is what a browser client needs to start a login
type PublicConfig struct {
	Realm         string `json:"realm"`
	AuthServerURL string `json:"auth_server_url"`
	ClientID      string `json:"client_id"`
}

// Config configures the API server
type Config struct {
	Public         PublicConfig
	AllowedOrigins []string
	MaxBodyBytes   int64
}

// Dependencies are the collaborators the handlers call
type Dependencies struct {
	Auth     *middleware.AuthMiddleware
	Users    UserService
	Sync     SyncService
	Sessions SessionManager // nil disables the session endpoints

	// SessionLimiter throttles session creation; nil means unlimited
	SessionLimiter middleware.Limiter
	// AdminLimiter throttles admin calls per user; nil means unlimited
	AdminLimiter   middleware.Limiter

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Server represents our API server
type Server struct {
	router   *mux.Router
	config   Config
	auth     *middleware.AuthMiddleware
	users    UserService
	sync     SyncService
	sessions SessionManager
	limiter  middleware.Limiter
	adminRL  middleware.Limiter
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewServer creates a new API server and registers its routes
func NewServer(config Config, deps Dependencies) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}
	logger := deps.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	s := &Server{
		router:   mux.NewRouter(),
		config:   config,
		auth:     deps.Auth,
		users:    deps.Users,
		sync:     deps.Sync,
		sessions: deps.Sessions,
		limiter:  deps.SessionLimiter,
		adminRL:  deps.AdminLimiter,
		logger:   logger.WithField("component", "api"),
		metrics:  deps.Metrics,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics, routeTemplate))
	}

	s.router.HandleFunc("/api/auth/public/config", s.publicConfig).Methods("GET")

	authed := s.router.PathPrefix("/api").Subrouter()
	authed.Use(s.auth.Handler)

	authed.HandleFunc("/auth/profile", s.getProfile).Methods("GET")
	authed.HandleFunc("/auth/profile", s.updateProfile).Methods("PUT")
	if s.sessions != nil {
		var create http.Handler = http.HandlerFunc(s.createSession)
		if s.limiter != nil {
			create = middleware.NewRateLimitMiddleware(s.limiter, s.logger).Handler(create)
		}
		authed.Handle("/auth/session", create).Methods("POST")
		authed.HandleFunc("/auth/session", s.deleteSession).Methods("DELETE")
	}

	admin := authed.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireAdmin)
	if s.adminRL != nil {
		// Limiter errors reject admin calls
		adminLimit := middleware.NewRateLimitMiddleware(s.adminRL, s.logger)
		adminLimit.SetFailOpen(false)
		admin.Use(adminLimit.Handler)
	}

	admin.HandleFunc("/users", s.listUsers).Methods("GET")
	admin.HandleFunc("/users", s.createUser).Methods("POST")
	admin.HandleFunc("/users/{id}", s.getUser).Methods("GET")
	admin.HandleFunc("/users/{id}", s.updateUser).Methods("PUT")
	admin.HandleFunc("/users/{id}", s.deleteUser).Methods("DELETE")

	admin.HandleFunc("/sync/test-idp", s.testIdP).Methods("GET")
	admin.HandleFunc("/sync/push-all", s.pushAll).Methods("POST")
	admin.HandleFunc("/sync/status", s.syncStatus).Methods("GET")
	admin.HandleFunc("/sync/roles/ensure", s.ensureRoles).Methods("POST")
	admin.HandleFunc("/sync/user/{username}/push", s.pushUser).Methods("POST")
	admin.HandleFunc("/sync/user/{username}/assign-role/{role}", s.assignRole).Methods("POST")
	admin.HandleFunc("/sync/user/{username}/roles", s.userRoles).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the router wrapped with request ids, panic recovery,
// access logging, CORS, body limits and tracing
func (s *Server) Handler() http.Handler {
	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(s.logger),
		httputil.LoggingMiddleware(s.logger),
		httputil.CORSMiddleware(s.config.AllowedOrigins),
		httputil.MaxBytesMiddleware(s.config.MaxBodyBytes),
	)
	return otelhttp.NewHandler(chain(s.router), "usersync-api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// log returns the request-scoped logger, carrying the request and user ids
func (s *Server) log(r *http.Request) *observability.Logger {
	ctx := r.Context()
	if _, ok := ctx.Value(observability.LoggerKey).(*observability.Logger); !ok {
		ctx = observability.WithLogger(ctx, s.logger)
	}
	return observability.FromContext(ctx)
}

// OpsHandler serves health checks and Prometheus metrics
func OpsHandler(checker *observability.HealthChecker, registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	observability.RegisterHealthRoutes(mux, checker)
	if registry != nil {
		observability.RegisterMetricsEndpoint(mux, registry)
	}
	return mux
}

// routeTemplate labels metrics by route so path parameters do not
// multiply series
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

func (s *Server) publicConfig(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, s.config.Public)
}
