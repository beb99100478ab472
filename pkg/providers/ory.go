//go:build !gatehouse_no_ory

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/storage"
)

func init() {
	Register(auth.ProviderOry, func(_ context.Context, deps Deps) (auth.Provider, error) {
		return NewOry(deps)
	})
}

// oryCredential is the browser credential captured on the callback. Exactly one field is
// set: the ory_* cookies for browser flows, or a session token for native flows.
type oryCredential struct {
	Cookie string `json:"cookie,omitempty"`
	Token  string `json:"token,omitempty"`
}

type orySession struct {
	Identity struct {
		ID     string `json:"id"`
		Traits struct {
			Email string `json:"email"`
			Name  struct {
				First string `json:"first"`
				Last  string `json:"last"`
			} `json:"name"`
		} `json:"traits"`
	} `json:"identity"`
}

// Ory talks to the Ory Kratos frontend API.
type Ory struct {
	*hosted
	sdkURL      string
	callbackURL string
	kv          storage.KV
	client      *http.Client
}

// NewOry creates the Ory provider. GATEHOUSE_ORY_SDK_URL is required.
func NewOry(deps Deps) (*Ory, error) {
	deps = deps.withDefaults()
	cfg := deps.Config.Auth.Ory
	if err := auth.Require(auth.ProviderOry, auth.Param{Name: "GATEHOUSE_ORY_SDK_URL", Value: cfg.SDKURL}); err != nil {
		return nil, err
	}
	return &Ory{
		hosted:      newHosted(auth.ProviderOry, deps),
		sdkURL:      strings.TrimRight(cfg.SDKURL, "/"),
		callbackURL: deps.Config.CallbackURL(),
		kv:          deps.KV,
		client:      deps.HTTPClient,
	}, nil
}

// Init performs the session check once.
func (o *Ory) Init(ctx context.Context) {
	o.once.Do(func() {
		o.runCheck(ctx, o.whoami)
	})
}

func (o *Ory) whoami(ctx context.Context) (*session.User, error) {
	var cred oryCredential
	ok, err := loadJSON(ctx, o.kv, OryCredentialKey, &cred)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.sdkURL+"/sessions/whoami", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	cred.apply(req)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ory session check failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		// no active session; the credential is stale
		return nil, o.kv.Delete(ctx, OryCredentialKey)
	default:
		return nil, fmt.Errorf("ory session check failed: %s", resp.Status)
	}

	var s orySession
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode ory session: %w", err)
	}
	traits := s.Identity.Traits
	return &session.User{
		ID:    s.Identity.ID,
		Email: traits.Email,
		Name:  displayName(traits.Email, joinNonEmpty(traits.Name.First, traits.Name.Last)),
	}, nil
}

// Login sends the browser to the Ory login UI, which returns to the callback route.
func (o *Ory) Login(_ context.Context, opts auth.LoginOptions) (auth.Effect, error) {
	returnTo := o.callbackURL
	if opts.ReturnTo != "" {
		returnTo += "?return_to=" + url.QueryEscape(opts.ReturnTo)
	}
	return auth.Navigate(o.sdkURL + "/self-service/login/browser?return_to=" + url.QueryEscape(returnTo)), nil
}

// Logout creates a browser logout flow. When that fails the browser is sent to the manual
// logout endpoint and the local user is cleared either way.
func (o *Ory) Logout(ctx context.Context) (auth.Effect, error) {
	manual := auth.Navigate(o.sdkURL + "/self-service/logout/browser")

	var cred oryCredential
	ok, err := loadJSON(ctx, o.kv, OryCredentialKey, &cred)
	if err != nil {
		o.logger.WithError(err).Warn("Failed to read ory credential")
	}
	defer func() {
		if err := o.kv.Delete(ctx, OryCredentialKey); err != nil {
			o.logger.WithError(err).Warn("Failed to delete ory credential")
		}
		o.store.SetUser(nil)
	}()
	if !ok {
		return manual, nil
	}

	logoutURL, err := o.createLogoutFlow(ctx, cred)
	if err != nil {
		o.logger.WithError(err).Warn("Logout flow failed, using manual logout URL")
		return manual, nil
	}
	return auth.Navigate(logoutURL), nil
}

func (o *Ory) createLogoutFlow(ctx context.Context, cred oryCredential) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.sdkURL+"/self-service/logout/browser", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	cred.apply(req)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	var flow struct {
		LogoutURL string `json:"logout_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&flow); err != nil {
		return "", err
	}
	if flow.LogoutURL == "" {
		return "", errors.New("logout flow has no logout_url")
	}
	return flow.LogoutURL, nil
}

// Complete captures the session credential from the callback request and re-checks the
// session with it.
func (o *Ory) Complete(ctx context.Context, r *http.Request) error {
	cred := credentialFromRequest(r)
	if cred.Cookie == "" && cred.Token == "" {
		return errors.New("no Ory session found on callback")
	}
	if err := saveJSON(ctx, o.kv, OryCredentialKey, cred); err != nil {
		return err
	}

	if o.runCheck(ctx, o.whoami) == nil {
		if msg := o.store.Snapshot().Error; msg != "" {
			return errors.New(msg)
		}
		return errors.New("ory session is not active")
	}
	return nil
}

func credentialFromRequest(r *http.Request) oryCredential {
	if token := r.URL.Query().Get("session_token"); token != "" {
		return oryCredential{Token: token}
	}
	var parts []string
	for _, c := range r.Cookies() {
		if strings.HasPrefix(c.Name, "ory_") {
			parts = append(parts, c.Name+"="+c.Value)
		}
	}
	return oryCredential{Cookie: strings.Join(parts, "; ")}
}

func (c oryCredential) apply(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("X-Session-Token", c.Token)
		return
	}
	req.Header.Set("Cookie", c.Cookie)
}

var _ auth.Completer = (*Ory)(nil)
