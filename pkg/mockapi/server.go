package mockapi

import (
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatehouse/pkg/apiclient"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/tenant"
)

const (
	maxPageSize = 100

	notMemberDetail = "User is not a member of the selected organization"
)

var seedTime = time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC)

// SeedOrganizations are the organizations every mock server starts with.
var SeedOrganizations = []apiclient.Organization{
	{ID: "3f0e8a52-6c1d-4b7e-9a35-2d4c8f1b6e70", Name: "Acme Corporation", CreatedAt: seedTime, UpdatedAt: seedTime},
	{ID: "7b1d2c3e-4f5a-4b6c-8d7e-9f0a1b2c3d4e", Name: "Globex Industries", CreatedAt: seedTime, UpdatedAt: seedTime},
	{ID: "c4a9e1f2-8b3d-4e5f-a6b7-c8d9e0f1a2b3", Name: "Initech", CreatedAt: seedTime, UpdatedAt: seedTime},
}

// ValidationIssue is one entry of a 422 detail list.
type ValidationIssue struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

type validationError struct {
	Detail []ValidationIssue `json:"detail"`
}

type loginRequest struct {
	Email string `json:"email"`
}

// Server is the mock admin API. The zero value is not usable; call New.
type Server struct {
	router *mux.Router
	logger logrus.FieldLogger

	mu   sync.RWMutex
	user *session.User
	orgs []apiclient.Organization
}

// Option configures a Server.
type Option func(*Server)

// WithOrganizations replaces the seed organizations.
func WithOrganizations(orgs []apiclient.Organization) Option {
	return func(s *Server) {
		s.orgs = append([]apiclient.Organization(nil), orgs...)
	}
}

// WithLogger sets the server logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a mock API server seeded with SeedOrganizations.
func New(opts ...Option) *Server {
	s := &Server{
		router: mux.NewRouter(),
		logger: logrus.StandardLogger(),
		orgs:   append([]apiclient.Organization(nil), SeedOrganizations...),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/auth/session", s.getSession).Methods("GET")
	s.router.HandleFunc("/auth/login", s.login).Methods("POST")
	s.router.HandleFunc("/auth/logout", s.logout).Methods("POST")

	orgs := s.router.PathPrefix("/organizations").Subrouter()
	orgs.Use(s.requireMembership)
	orgs.HandleFunc("", s.listOrganizations).Methods("GET")
	orgs.HandleFunc("/{id}", s.getOrganization).Methods("GET")
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// getSession handles GET /auth/session
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	u := s.user
	s.mu.RUnlock()

	if u == nil {
		httputil.WriteDetail(w, http.StatusUnauthorized, "Not authenticated", "")
		return
	}
	_ = httputil.WriteSuccess(w, u)
}

// login handles POST /auth/login
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		writeValidation(w, ValidationIssue{Loc: []string{"body"}, Msg: "Invalid JSON body", Type: "value_error.jsondecode"})
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		writeValidation(w, ValidationIssue{Loc: []string{"body", "email"}, Msg: "Field required", Type: "missing"})
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		writeValidation(w, ValidationIssue{
			Loc:  []string{"body", "email"},
			Msg:  "value is not a valid email address",
			Type: "value_error",
		})
		return
	}

	u := &session.User{
		ID:    uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+email)).String(),
		Email: email,
		Name:  nameFromEmail(email),
	}
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()

	s.logger.WithField("email", email).Info("Mock API login")
	_ = httputil.WriteSuccess(w, u)
}

// logout handles POST /auth/logout
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.user = nil
	s.mu.Unlock()
	httputil.WriteNoContent(w)
}

// listOrganizations handles GET /organizations
func (s *Server) listOrganizations(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParseQueryInt(r, "page", apiclient.DefaultPage)
	if err != nil || page < 1 {
		writeValidation(w, ValidationIssue{Loc: []string{"query", "page"}, Msg: "Input should be greater than or equal to 1", Type: "greater_than_equal"})
		return
	}
	size, err := httputil.ParseQueryInt(r, "size", apiclient.DefaultPageSize)
	if err != nil || size < 1 || size > maxPageSize {
		writeValidation(w, ValidationIssue{Loc: []string{"query", "size"}, Msg: "Input should be between 1 and 100", Type: "value_error"})
		return
	}

	s.mu.RLock()
	total := len(s.orgs)
	start := (page - 1) * size
	end := start + size
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	items := append([]apiclient.Organization{}, s.orgs[start:end]...)
	s.mu.RUnlock()

	_ = httputil.WriteSuccess(w, apiclient.Page[apiclient.Organization]{
		Items: items,
		Total: total,
		Page:  page,
		Size:  size,
		Pages: (total + size - 1) / size,
	})
}

// getOrganization handles GET /organizations/{id}
func (s *Server) getOrganization(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	org, ok := s.find(id)
	if !ok {
		httputil.WriteDetail(w, http.StatusNotFound, "Organization not found", "")
		return
	}
	_ = httputil.WriteSuccess(w, org)
}

// requireMembership rejects requests whose selected organization is not one of ours.
func (s *Server) requireMembership(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(tenant.HeaderName); id != "" {
			if _, ok := s.find(id); !ok {
				s.logger.WithField("organization_id", id).Info("Rejecting request for foreign organization")
				httputil.WriteDetail(w, http.StatusForbidden, notMemberDetail, apiclient.CodeOrganizationAccessDenied)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) find(id string) (apiclient.Organization, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, org := range s.orgs {
		if org.ID == id {
			return org, true
		}
	}
	return apiclient.Organization{}, false
}

func writeValidation(w http.ResponseWriter, issues ...ValidationIssue) {
	_ = httputil.WriteJSON(w, http.StatusUnprocessableEntity, validationError{Detail: issues})
}

// nameFromEmail turns "ada.lovelace@example.com" into "Ada Lovelace".
func nameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	if len(parts) == 0 {
		return "User"
	}
	return strings.Join(parts, " ")
}
