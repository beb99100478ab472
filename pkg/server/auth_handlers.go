package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/orgselect"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/storage"
	"github.com/platinummonkey/gatehouse/pkg/tenant"
)

// Login page modes.
const (
	ModeForm = "form"
	ModeSSO  = "sso"
)

const sessionValidationFailed = "Failed to validate session"

// LoginDescriptor is everything a client needs to render the login page.
type LoginDescriptor struct {
	Provider    auth.ProviderType `json:"provider"`
	Label       string            `json:"label"`
	Mode        string            `json:"mode"`
	Description string            `json:"description"`
	Loading     bool              `json:"loading"`
	Error       string            `json:"error,omitempty"`
	From        string            `json:"from"`
}

// SessionResponse is the body of GET /auth/session.
type SessionResponse struct {
	Provider               auth.ProviderType `json:"provider"`
	User                   *session.User     `json:"user"`
	IsAuthenticated        bool              `json:"is_authenticated"`
	IsLoading              bool              `json:"is_loading"`
	Error                  string            `json:"error,omitempty"`
	SelectedOrganizationID string            `json:"selected_organization_id,omitempty"`
	Notice                 string            `json:"notice,omitempty"`
}

// loginPage handles GET /login
func (s *Server) loginPage(w http.ResponseWriter, r *http.Request) {
	from := localPath(r.URL.Query().Get("from"))
	state := s.facade.State()

	if state.IsAuthenticated() && !state.IsLoading {
		http.Redirect(w, r, orDefault(from), http.StatusFound)
		return
	}

	typ := s.facade.Type()
	desc := LoginDescriptor{
		Provider:    typ,
		Label:       typ.Label(),
		Mode:        ModeSSO,
		Description: "Sign in with " + typ.Label() + " to continue",
		Loading:     state.IsLoading,
		Error:       r.URL.Query().Get("error"),
		From:        orDefault(from),
	}
	if !typ.Hosted() {
		desc.Mode = ModeForm
		desc.Description = "Development mode - automatic login"
	}
	if desc.Error == "" {
		desc.Error = state.Error
	}
	_ = httputil.WriteJSON(w, http.StatusOK, desc)
}

// login handles POST /login
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)
	from := orDefault(localPath(r.FormValue("from")))

	if s.facade.Type().Hosted() {
		if err := s.kv.Set(ctx, ReturnToKey, from); err != nil {
			logger.WithError(err).Warn("Failed to remember login destination")
		}
	}

	effect := s.facade.Login(ctx, auth.LoginOptions{ReturnTo: from})
	if !effect.None() {
		http.Redirect(w, r, effect.Navigate, http.StatusSeeOther)
		return
	}

	state := s.facade.State()
	if !state.IsAuthenticated() {
		msg := state.Error
		if msg == "" {
			msg = "Login failed"
		}
		http.Redirect(w, r, loginWithError(msg, from), http.StatusSeeOther)
		return
	}

	logger.WithField("user_id", state.User.ID).Info("User signed in")
	http.Redirect(w, r, s.afterLogin(ctx, from), http.StatusSeeOther)
}

// callback handles GET /auth/callback
func (s *Server) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)
	q := r.URL.Query()

	stored := s.consumeReturnTo(ctx)
	returnTo := localPath(q.Get("return_to"))
	if returnTo == "" {
		returnTo = localPath(stored)
	}
	returnTo = orDefault(returnTo)

	if e := q.Get("error"); e != "" {
		msg := q.Get("error_description")
		if msg == "" {
			msg = e
		}
		logger.WithFields(map[string]interface{}{
			"error":             e,
			"error_description": q.Get("error_description"),
		}).Warn("Identity provider returned an error")
		http.Redirect(w, r, loginWithError(msg, returnTo), http.StatusFound)
		return
	}

	if auth.CallbackCompleted(ctx) {
		if !s.facade.State().IsAuthenticated() {
			http.Redirect(w, r, loginWithError(sessionValidationFailed, returnTo), http.StatusFound)
			return
		}
		http.Redirect(w, r, s.afterLogin(ctx, returnTo), http.StatusFound)
		return
	}

	if q.Get("code") == "" && q.Get("aal") == "" && q.Get("session_token") == "" {
		http.Redirect(w, r, returnTo, http.StatusFound)
		return
	}

	if err := s.facade.Complete(ctx, r); err != nil {
		logger.WithError(err).Warn("Session validation failed")
		http.Redirect(w, r, loginWithError(sessionValidationFailed, returnTo), http.StatusFound)
		return
	}
	if !s.facade.State().IsAuthenticated() {
		http.Redirect(w, r, loginWithError(sessionValidationFailed, returnTo), http.StatusFound)
		return
	}

	http.Redirect(w, r, s.afterLogin(ctx, returnTo), http.StatusFound)
}

// logout handles POST /logout
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	effect := s.signOut(r.Context())
	if !effect.None() {
		http.Redirect(w, r, effect.Navigate, http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, LoginPath, http.StatusSeeOther)
}

// sessionState handles GET /auth/session
func (s *Server) sessionState(w http.ResponseWriter, r *http.Request) {
	state := s.facade.State()
	resp := SessionResponse{
		Provider:        s.facade.Type(),
		User:            state.User,
		IsAuthenticated: state.IsAuthenticated(),
		IsLoading:       state.IsLoading,
		Error:           state.Error,
		Notice:          s.takeNotice(),
	}
	if resp.IsAuthenticated {
		id, err := s.selection.Get(r.Context())
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Warn("Failed to read selected organization")
		}
		resp.SelectedOrganizationID = id
		// Get may have just cleared an invalid value
		if n := s.takeNotice(); n != "" {
			resp.Notice = n
		}
	}
	_ = httputil.WriteJSON(w, http.StatusOK, resp)
}

// afterLogin decides where a freshly signed-in user goes: the organization picker when
// nothing is selected yet, else from.
func (s *Server) afterLogin(ctx context.Context, from string) string {
	needed, err := orgselect.Needed(ctx, s.selection)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("Failed to read selected organization")
		needed = true
	}
	if needed {
		return SelectOrgPath + "?" + url.Values{"from": {from}}.Encode()
	}
	return from
}

// signOut ends the session and drops everything tied to the user.
func (s *Server) signOut(ctx context.Context) auth.Effect {
	logger := observability.FromContext(ctx)
	effect := s.facade.Logout(ctx)

	id, err := s.selection.Get(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to read selected organization on logout")
	}
	if id != "" {
		if err := s.selection.Clear(ctx, tenant.ReasonExplicit); err != nil {
			logger.WithError(err).Warn("Failed to clear selected organization on logout")
		}
	}
	if err := s.kv.Delete(ctx, ReturnToKey); err != nil {
		logger.WithError(err).Debug("Failed to drop login destination")
	}
	s.overlay.Reset()
	logger.Info("User signed out")
	return effect
}

// overlayLogout is the sign-out the organization overlay performs on dismiss. The effect is
// handed back through the request context.
func (s *Server) overlayLogout(ctx context.Context) error {
	effect := s.signOut(ctx)
	if sink, ok := ctx.Value(contextkeys.LogoutEffectKey).(*auth.Effect); ok {
		*sink = effect
	}
	if state := s.facade.State(); state.HasError() {
		return errors.New(state.Error)
	}
	return nil
}

func (s *Server) consumeReturnTo(ctx context.Context) string {
	v, err := s.kv.Get(ctx, ReturnToKey)
	if errors.Is(err, storage.ErrNotFound) {
		return ""
	}
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("Failed to read login destination")
		return ""
	}
	if err := s.kv.Delete(ctx, ReturnToKey); err != nil {
		observability.FromContext(ctx).WithError(err).Debug("Failed to drop login destination")
	}
	return v
}

// localPath returns p when it is a path on this site, else "". Absolute and
// protocol-relative URLs are rejected so redirects cannot leave the dashboard.
func localPath(p string) string {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return ""
	}
	u, err := url.Parse(p)
	if err != nil || u.IsAbs() || u.Host != "" {
		return ""
	}
	if u.Path == LoginPath || u.Path == CallbackPath {
		return ""
	}
	return p
}

func orDefault(p string) string {
	if p == "" {
		return LandingPath
	}
	return p
}

func loginWithError(msg, from string) string {
	q := url.Values{"error": {msg}}
	if from != "" {
		q.Set("from", from)
	}
	return LoginPath + "?" + q.Encode()
}
