package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/storage"
)

var defaultScopes = []string{oidc.ScopeOpenID, "profile", "email"}

// idClaims are the ID token claims the hosted providers map to a session.User.
type idClaims struct {
	Subject           string `json:"sub"`
	Email             string `json:"email"`
	Name              string `json:"name"`
	Nickname          string `json:"nickname"`
	PreferredUsername string `json:"preferred_username"`
	CognitoUsername   string `json:"cognito:username"`
}

// oidcSession is the authorization code flow shared by Auth0, Keycloak and Cognito. The
// discovery document is fetched lazily and cached once it succeeds.
type oidcSession struct {
	provider     auth.ProviderType
	issuer       string
	clientID     string
	clientSecret string
	redirectURL  string
	authParams   []oauth2.AuthCodeOption
	toUser       func(idClaims) *session.User

	kv     storage.KV
	client *http.Client
	logger logrus.FieldLogger

	mu         sync.Mutex
	op         *oidc.Provider
	verifier   *oidc.IDTokenVerifier
	oauth      *oauth2.Config
	endSession string
}

func (s *oidcSession) clientContext(ctx context.Context) context.Context {
	ctx = oidc.ClientContext(ctx, s.client)
	return context.WithValue(ctx, oauth2.HTTPClient, s.client)
}

// discover returns the cached discovery result or fetches it.
func (s *oidcSession) discover(ctx context.Context) (*oauth2.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.oauth != nil {
		return s.oauth, nil
	}

	op, err := oidc.NewProvider(s.clientContext(ctx), s.issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover %s issuer %s: %w", s.provider, s.issuer, err)
	}

	var extra struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := op.Claims(&extra); err != nil {
		s.logger.WithError(err).Debug("Discovery document has no readable extras")
	}

	s.op = op
	// expiry is governed by the access token; the ID token only proves identity
	s.verifier = op.Verifier(&oidc.Config{ClientID: s.clientID, SkipExpiryCheck: true})
	s.endSession = extra.EndSessionEndpoint
	s.oauth = &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		Endpoint:     op.Endpoint(),
		RedirectURL:  s.redirectURL,
		Scopes:       defaultScopes,
	}
	return s.oauth, nil
}

// newState stores a fresh OAuth state value for the callback to check.
func (s *oidcSession) newState(ctx context.Context) (string, error) {
	state := uuid.NewString()
	if err := s.kv.Set(ctx, OAuthStateKey, state); err != nil {
		return "", fmt.Errorf("failed to store oauth state: %w", err)
	}
	return state, nil
}

// authURL builds the authorization redirect. When discovery fails, manual is called with
// the state to build the provider's well-known fallback URL.
func (s *oidcSession) authURL(ctx context.Context, manual func(state string) string) (string, error) {
	state, err := s.newState(ctx)
	if err != nil {
		return "", err
	}
	cfg, err := s.discover(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Discovery failed, using manual authorize URL")
		return manual(state), nil
	}
	opts := append([]oauth2.AuthCodeOption{oauth2.AccessTypeOffline}, s.authParams...)
	return cfg.AuthCodeURL(state, opts...), nil
}

// manualAuthorizeURL is the authorization request for endpoint without discovery.
func (s *oidcSession) manualAuthorizeURL(endpoint, state string) string {
	q := url.Values{}
	q.Set("client_id", s.clientID)
	q.Set("redirect_uri", s.redirectURL)
	q.Set("response_type", "code")
	q.Set("scope", "openid profile email")
	q.Set("state", state)
	return endpoint + "?" + q.Encode()
}

// exchange completes the authorization code flow for a callback request and persists the
// resulting tokens.
func (s *oidcSession) exchange(ctx context.Context, r *http.Request) (*session.User, error) {
	q := r.URL.Query()
	code := q.Get("code")
	if code == "" {
		return nil, errors.New("missing authorization code")
	}

	want, err := s.kv.Get(ctx, OAuthStateKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to read oauth state: %w", err)
	}
	if want == "" || q.Get("state") != want {
		return nil, errors.New("invalid OAuth state")
	}
	if err := s.kv.Delete(ctx, OAuthStateKey); err != nil {
		s.logger.WithError(err).Warn("Failed to delete used oauth state")
	}

	cfg, err := s.discover(ctx)
	if err != nil {
		return nil, err
	}

	token, err := cfg.Exchange(s.clientContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return nil, errors.New("missing id_token in response")
	}
	user, err := s.verify(ctx, rawIDToken)
	if err != nil {
		return nil, err
	}

	if err := saveToken(ctx, s.kv, s.provider, &tokenRecord{Token: token, IDToken: rawIDToken}); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *oidcSession) verify(ctx context.Context, rawIDToken string) (*session.User, error) {
	s.mu.Lock()
	verifier := s.verifier
	s.mu.Unlock()

	idToken, err := verifier.Verify(s.clientContext(ctx), rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}
	var claims idClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}
	if claims.Subject == "" {
		claims.Subject = idToken.Subject
	}
	return s.toUser(claims), nil
}

// restore resolves the stored tokens to a user. It returns (nil, nil) when there is no
// usable session: nothing stored, or an expired token that cannot be refreshed.
func (s *oidcSession) restore(ctx context.Context) (*session.User, error) {
	rec, err := loadToken(ctx, s.kv, s.provider)
	if err != nil || rec == nil {
		return nil, err
	}

	if !rec.Token.Valid() {
		if rec.Token.RefreshToken == "" {
			return nil, s.forget(ctx)
		}
		rec, err = s.refresh(ctx, rec)
		if errors.Is(err, errSessionExpired) {
			return nil, s.forget(ctx)
		}
		if err != nil {
			return nil, err
		}
	}

	if _, err := s.discover(ctx); err != nil {
		return nil, err
	}
	return s.verify(ctx, rec.IDToken)
}

var errSessionExpired = errors.New("session expired")

// refresh trades the refresh token for new tokens regardless of the current expiry. A
// rejected refresh token yields errSessionExpired.
func (s *oidcSession) refresh(ctx context.Context, rec *tokenRecord) (*tokenRecord, error) {
	cfg, err := s.discover(ctx)
	if err != nil {
		return nil, err
	}

	stale := *rec.Token
	stale.AccessToken = ""
	token, err := cfg.TokenSource(s.clientContext(ctx), &stale).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: %v", errSessionExpired, err)
		}
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	next := &tokenRecord{Token: token, IDToken: rec.IDToken}
	if raw, ok := token.Extra("id_token").(string); ok && raw != "" {
		next.IDToken = raw
	}
	if err := saveToken(ctx, s.kv, s.provider, next); err != nil {
		return nil, err
	}
	return next, nil
}

// forget removes stored tokens.
func (s *oidcSession) forget(ctx context.Context) error {
	return deleteToken(ctx, s.kv, s.provider)
}

// endSessionURL returns the discovered RP-initiated logout URL, or "" when the issuer has
// none or cannot be reached.
func (s *oidcSession) endSessionURL(ctx context.Context, postLogout string) string {
	if _, err := s.discover(ctx); err != nil {
		return ""
	}
	s.mu.Lock()
	endpoint := s.endSession
	s.mu.Unlock()
	if endpoint == "" {
		return ""
	}

	q := url.Values{}
	q.Set("client_id", s.clientID)
	q.Set("post_logout_redirect_uri", postLogout)
	if rec, err := loadToken(ctx, s.kv, s.provider); err == nil && rec != nil && rec.IDToken != "" {
		q.Set("id_token_hint", rec.IDToken)
	}
	return endpoint + "?" + q.Encode()
}
