package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/gatehouse/pkg/apiclient"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/orgselect"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/storage"
	"github.com/platinummonkey/gatehouse/pkg/tenant"
)

// Paths the server redirects between.
const (
	LoginPath     = "/login"
	CallbackPath  = "/auth/callback"
	SelectOrgPath = "/orgs/select"
	LandingPath   = "/app/me"
)

// ReturnToKey is the durable key holding where a hosted login should land.
const ReturnToKey = "auth_return_to"

const maxRequestBody = 1 << 20

// OrganizationFetcher loads a single organization from the admin API.
type OrganizationFetcher interface {
	GetOrganization(ctx context.Context, id string) (*apiclient.Organization, error)
}

// Deps is what the server is assembled from. Facade, Selection, KV and Organizations are
// required.
type Deps struct {
	Config        *config.Config
	Facade        *auth.Facade
	Selection     *tenant.Selection
	KV            storage.KV
	Organizations apiclient.OrganizationLister
	Fetcher       OrganizationFetcher
	Limiter       middleware.Limiter
	Logger        *observability.Logger
	Metrics       *observability.Metrics
	Gatherer      prometheus.Gatherer
	Version       string
}

// Server serves the login flow, organization selection and the protected dashboard API.
type Server struct {
	cfg       *config.Config
	router    *mux.Router
	handler   http.Handler
	facade    *auth.Facade
	selection *tenant.Selection
	kv        storage.KV
	orgs      apiclient.OrganizationLister
	fetcher   OrganizationFetcher
	overlay   *orgselect.Overlay
	limiter   middleware.Limiter
	health    *observability.HealthChecker
	logger    *observability.Logger
	metrics   *observability.Metrics
	gatherer  prometheus.Gatherer

	mu       sync.Mutex
	notice   string
	lastUser string

	unsubscribe []func()
}

// New creates a server and registers its routes.
func New(deps Deps) (*Server, error) {
	if deps.Facade == nil || deps.Selection == nil || deps.KV == nil || deps.Organizations == nil {
		return nil, errors.New("server requires a facade, a selection, storage and an organization lister")
	}
	if deps.Config == nil {
		deps.Config = config.Default()
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:       deps.Config,
		router:    mux.NewRouter(),
		facade:    deps.Facade,
		selection: deps.Selection,
		kv:        deps.KV,
		orgs:      deps.Organizations,
		fetcher:   deps.Fetcher,
		limiter:   deps.Limiter,
		health:    observability.NewHealthChecker(deps.Version),
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		gatherer:  deps.Gatherer,
	}
	if f, ok := deps.Organizations.(OrganizationFetcher); ok && s.fetcher == nil {
		s.fetcher = f
	}
	s.overlay = orgselect.New(s.orgs, s.selection,
		orgselect.WithLogout(s.overlayLogout),
		orgselect.WithLogger(s.logger.Entry()),
	)

	if u := s.facade.State().User; u != nil {
		s.lastUser = u.ID
	}
	s.unsubscribe = append(s.unsubscribe,
		s.facade.Subscribe(s.onSession),
		s.selection.Subscribe(s.onSelection),
	)

	s.health.AddCheck("session", true, s.checkSession)
	s.health.AddCheck("storage", true, s.checkStorage)

	s.setupRoutes()
	s.handler = otelhttp.NewHandler(httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware,
		httputil.CORSMiddleware(s.cfg.Server.AllowedOrigins),
		httputil.MaxBytesMiddleware(maxRequestBody),
		s.facade.Middleware,
	)(s.router), "gatehouse")
	return s, nil
}

// setupRoutes configures all the routes
func (s *Server) setupRoutes() {
	s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "not found")
	})

	// Login flow
	s.router.HandleFunc(LoginPath, s.loginPage).Methods("GET")
	s.router.Handle(LoginPath, s.limited(http.HandlerFunc(s.login))).Methods("POST")
	s.router.Handle(CallbackPath, s.limited(http.HandlerFunc(s.callback))).Methods("GET")
	s.router.HandleFunc("/logout", s.logout).Methods("POST")
	s.router.HandleFunc("/auth/session", s.sessionState).Methods("GET")

	// Organization selection, signed-in users only
	requireSession := middleware.RequireSession(s.facade, LoginPath)
	orgs := s.router.PathPrefix(SelectOrgPath).Subrouter()
	orgs.Use(requireSession)
	orgs.HandleFunc("", s.selectView).Methods("GET")
	orgs.HandleFunc("", s.selectOrganization).Methods("POST")
	orgs.HandleFunc("/retry", s.retrySelect).Methods("POST")
	orgs.HandleFunc("/dismiss", s.dismissSelect).Methods("POST")

	// Dashboard API
	app := s.router.PathPrefix("/app").Subrouter()
	app.Use(requireSession)
	app.Use(middleware.RequireOrganization(s.selection, SelectOrgPath, s.logger.Entry()))
	app.HandleFunc("/me", s.me).Methods("GET")
	app.HandleFunc("/organizations", s.listOrganizations).Methods("GET")
	app.HandleFunc("/organizations/current", s.currentOrganization).Methods("GET")
	app.HandleFunc("/organizations/current", s.switchOrganization).Methods("POST")

	s.router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, LandingPath, http.StatusFound)
	}).Methods("GET")

	// Operational endpoints
	s.router.HandleFunc("/healthz", s.health.Liveness).Methods("GET")
	s.router.HandleFunc("/readyz", s.health.Readiness).Methods("GET")
	s.router.Handle("/metrics", observability.MetricsHandler(s.gatherer)).Methods("GET")
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Overlay exposes the organization selection overlay.
func (s *Server) Overlay() *orgselect.Overlay {
	return s.overlay
}

// Close stops listening to session and selection changes.
func (s *Server) Close() {
	for _, fn := range s.unsubscribe {
		fn()
	}
}

func (s *Server) limited(h http.Handler) http.Handler {
	if s.limiter == nil {
		return h
	}
	return middleware.RateLimit(s.limiter, s.logger.Entry())(h)
}

// onSession drops per-user state whenever the signed-in user changes.
func (s *Server) onSession(st session.State) {
	var id string
	if st.User != nil {
		id = st.User.ID
	}

	s.mu.Lock()
	changed := id != s.lastUser
	s.lastUser = id
	s.mu.Unlock()

	if !changed {
		return
	}
	if p, ok := s.orgs.(interface{ Purge() }); ok {
		p.Purge()
	}
	s.overlay.Reset()
}

// onSelection keeps a one-shot notice for selections the user did not clear themselves.
// Every clear also resets the overlay so the next visit starts over, including the
// automatic pick of a single organization.
func (s *Server) onSelection(e tenant.Event) {
	if e.Type != tenant.EventCleared {
		return
	}
	s.overlay.Reset()

	var notice string
	switch e.Reason {
	case tenant.ReasonAccessDenied:
		notice = "You no longer have access to the selected organization. Please choose another one."
	case tenant.ReasonInvalid:
		notice = "The stored organization was invalid and has been cleared."
	case tenant.ReasonExternal:
		notice = "The organization selection was cleared in another session."
	default:
		return
	}
	s.mu.Lock()
	s.notice = notice
	s.mu.Unlock()
}

func (s *Server) takeNotice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.notice
	s.notice = ""
	return n
}

func (s *Server) checkSession(context.Context) error {
	select {
	case <-s.facade.Ready():
		return nil
	default:
		return fmt.Errorf("%s session check pending", s.facade.Type())
	}
}

func (s *Server) checkStorage(ctx context.Context) error {
	_, err := s.kv.Get(ctx, ReturnToKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}
