//go:build !gatehouse_no_auth0

package providers

import (
	"context"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

func init() {
	Register(auth.ProviderAuth0, func(_ context.Context, deps Deps) (auth.Provider, error) {
		return NewAuth0(deps)
	})
}

// Auth0 signs users in through the Auth0 universal login. Its Wrap middleware performs the
// code exchange on the callback route, so the application only sees the outcome.
type Auth0 struct {
	*hosted
	sess         *oidcSession
	origin       string
	clientID     string
	callbackPath string
	publicURL    string
}

// NewAuth0 creates the Auth0 provider. Domain and client ID are required.
func NewAuth0(deps Deps) (*Auth0, error) {
	deps = deps.withDefaults()
	cfg := deps.Config.Auth.Auth0
	if err := auth.Require(auth.ProviderAuth0,
		auth.Param{Name: "GATEHOUSE_AUTH0_DOMAIN", Value: cfg.Domain},
		auth.Param{Name: "GATEHOUSE_AUTH0_CLIENT_ID", Value: cfg.ClientID},
	); err != nil {
		return nil, err
	}

	h := newHosted(auth.ProviderAuth0, deps)
	origin := hostURL(cfg.Domain)
	callback := deps.Config.CallbackURL()

	var params []oauth2.AuthCodeOption
	if cfg.Audience != "" {
		params = append(params, oauth2.SetAuthURLParam("audience", cfg.Audience))
	}

	a := &Auth0{
		hosted:   h,
		origin:   origin,
		clientID: cfg.ClientID,
		sess: &oidcSession{
			provider:     auth.ProviderAuth0,
			issuer:       origin + "/",
			clientID:     cfg.ClientID,
			clientSecret: cfg.ClientSecret,
			redirectURL:  callback,
			authParams:   params,
			toUser:       auth0User,
			kv:           deps.KV,
			client:       deps.HTTPClient,
			logger:       h.logger,
		},
		callbackPath: "/auth/callback",
		publicURL:    deps.Config.Server.PublicURL,
	}
	if u, err := url.Parse(callback); err == nil && u.Path != "" {
		a.callbackPath = u.Path
	}
	return a, nil
}

func auth0User(c idClaims) *session.User {
	return &session.User{
		ID:    c.Subject,
		Email: c.Email,
		Name:  displayName(c.Email, c.Name, c.Nickname),
	}
}

// Init restores the stored session once.
func (a *Auth0) Init(ctx context.Context) {
	a.once.Do(func() {
		a.runCheck(ctx, a.sess.restore)
	})
}

// Login redirects to the discovered authorize endpoint, or to /authorize on the tenant
// domain when discovery is unavailable.
func (a *Auth0) Login(ctx context.Context, _ auth.LoginOptions) (auth.Effect, error) {
	u, err := a.sess.authURL(ctx, func(state string) string {
		return a.sess.manualAuthorizeURL(a.origin+"/authorize", state)
	})
	if err != nil {
		return auth.Effect{}, err
	}
	return auth.Navigate(u), nil
}

// Logout forgets the tokens and redirects to the tenant logout endpoint.
func (a *Auth0) Logout(ctx context.Context) (auth.Effect, error) {
	target := a.sess.endSessionURL(ctx, a.publicURL)
	if target == "" {
		q := url.Values{}
		q.Set("client_id", a.clientID)
		q.Set("returnTo", a.publicURL)
		target = a.origin + "/v2/logout?" + q.Encode()
	}
	if err := a.sess.forget(ctx); err != nil {
		a.logger.WithError(err).Warn("Failed to delete stored tokens")
	}
	a.store.SetUser(nil)
	return auth.Navigate(target), nil
}

// Wrap exchanges the authorization code on callback requests before next runs. On success
// the code and state are stripped from the URL and the request is marked completed; on
// failure they are replaced by error parameters so the callback handler reports the
// problem.
func (a *Auth0) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != a.callbackPath || q.Get("code") == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		user, err := a.sess.exchange(ctx, r)
		q.Del("code")
		q.Del("state")
		if err != nil {
			a.logger.WithError(err).Warn("Code exchange failed")
			a.store.Fail(err.Error())
			q.Set("error", "access_denied")
			q.Set("error_description", err.Error())
		} else {
			a.store.SetUser(user)
			ctx = auth.MarkCallbackCompleted(ctx)
		}

		r2 := r.Clone(ctx)
		r2.URL.RawQuery = q.Encode()
		r2.RequestURI = r2.URL.RequestURI()
		next.ServeHTTP(w, r2)
	})
}

var _ auth.Wrapper = (*Auth0)(nil)
