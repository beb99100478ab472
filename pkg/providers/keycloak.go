//go:build !gatehouse_no_keycloak

package providers

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

func init() {
	Register(auth.ProviderKeycloak, func(_ context.Context, deps Deps) (auth.Provider, error) {
		return NewKeycloak(deps)
	})
}

// Keycloak signs users in through a Keycloak realm and keeps the access token fresh with a
// fixed-interval background refresher while a user is signed in.
type Keycloak struct {
	*hosted
	sess      *oidcSession
	realmURL  string
	clientID  string
	publicURL string

	interval    time.Duration
	minValidity time.Duration

	mu        sync.Mutex
	scheduler *cron.Cron
}

// NewKeycloak creates the Keycloak provider. URL, realm and client ID are required.
func NewKeycloak(deps Deps) (*Keycloak, error) {
	deps = deps.withDefaults()
	cfg := deps.Config.Auth.Keycloak
	if err := auth.Require(auth.ProviderKeycloak,
		auth.Param{Name: "GATEHOUSE_KEYCLOAK_URL", Value: cfg.URL},
		auth.Param{Name: "GATEHOUSE_KEYCLOAK_REALM", Value: cfg.Realm},
		auth.Param{Name: "GATEHOUSE_KEYCLOAK_CLIENT_ID", Value: cfg.ClientID},
	); err != nil {
		return nil, err
	}

	h := newHosted(auth.ProviderKeycloak, deps)
	realmURL := strings.TrimRight(cfg.URL, "/") + "/realms/" + url.PathEscape(cfg.Realm)

	k := &Keycloak{
		hosted:   h,
		realmURL: realmURL,
		clientID: cfg.ClientID,
		sess: &oidcSession{
			provider:     auth.ProviderKeycloak,
			issuer:       realmURL,
			clientID:     cfg.ClientID,
			clientSecret: cfg.ClientSecret,
			redirectURL:  deps.Config.CallbackURL(),
			toUser:       keycloakUser,
			kv:           deps.KV,
			client:       deps.HTTPClient,
			logger:       h.logger,
		},
		publicURL:   deps.Config.Server.PublicURL,
		interval:    cfg.RefreshInterval,
		minValidity: cfg.MinValidity,
	}
	if k.interval <= 0 {
		k.interval = time.Minute
	}
	if k.minValidity <= 0 {
		k.minValidity = 60 * time.Second
	}
	return k, nil
}

func keycloakUser(c idClaims) *session.User {
	return &session.User{
		ID:    c.Subject,
		Email: c.Email,
		Name:  displayName(c.Email, c.Name, c.PreferredUsername),
	}
}

// Init restores the stored session once and starts the refresher when it is valid.
func (k *Keycloak) Init(ctx context.Context) {
	k.once.Do(func() {
		if k.runCheck(ctx, k.sess.restore) != nil {
			k.startRefresher()
		}
	})
}

// Login redirects to the realm's authorization endpoint.
func (k *Keycloak) Login(ctx context.Context, _ auth.LoginOptions) (auth.Effect, error) {
	u, err := k.sess.authURL(ctx, func(state string) string {
		return k.sess.manualAuthorizeURL(k.realmURL+"/protocol/openid-connect/auth", state)
	})
	if err != nil {
		return auth.Effect{}, err
	}
	return auth.Navigate(u), nil
}

// Logout stops the refresher, forgets the tokens and redirects to the realm logout.
func (k *Keycloak) Logout(ctx context.Context) (auth.Effect, error) {
	k.stopRefresher()

	target := k.sess.endSessionURL(ctx, k.publicURL)
	if target == "" {
		q := url.Values{}
		q.Set("client_id", k.clientID)
		q.Set("redirect_uri", k.publicURL)
		target = k.realmURL + "/protocol/openid-connect/logout?" + q.Encode()
	}
	if err := k.sess.forget(ctx); err != nil {
		k.logger.WithError(err).Warn("Failed to delete stored tokens")
	}
	k.store.SetUser(nil)
	return auth.Navigate(target), nil
}

// Complete exchanges the authorization code from the callback.
func (k *Keycloak) Complete(ctx context.Context, r *http.Request) error {
	user, err := k.sess.exchange(ctx, r)
	if err != nil {
		return err
	}
	k.store.SetUser(user)
	k.startRefresher()
	return nil
}

// Close stops the refresher.
func (k *Keycloak) Close() error {
	k.stopRefresher()
	return nil
}

var (
	_ auth.Completer = (*Keycloak)(nil)
	_ auth.Provider  = (*Keycloak)(nil)
)
