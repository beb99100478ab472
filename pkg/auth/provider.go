package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/session"
)

// ProviderType names an identity backend.
type ProviderType string

const (
	ProviderMock     ProviderType = "mock"
	ProviderOry      ProviderType = "ory"
	ProviderAuth0    ProviderType = "auth0"
	ProviderKeycloak ProviderType = "keycloak"
	ProviderCognito  ProviderType = "cognito"
)

// ProviderTypes lists every supported provider in a stable order.
var ProviderTypes = []ProviderType{ProviderMock, ProviderOry, ProviderAuth0, ProviderKeycloak, ProviderCognito}

var providerLabels = map[ProviderType]string{
	ProviderMock:     "Development Mode",
	ProviderOry:      "Ory",
	ProviderAuth0:    "Auth0",
	ProviderKeycloak: "Keycloak",
	ProviderCognito:  "AWS Cognito",
}

// ParseProviderType resolves a configured provider name. The second result is false when
// the name is not one of ProviderTypes; an empty name resolves to mock.
func ParseProviderType(name string) (ProviderType, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ProviderMock, true
	}
	for _, t := range ProviderTypes {
		if string(t) == name {
			return t, true
		}
	}
	return ProviderMock, false
}

// Label is the human-readable provider name shown on the login page.
func (t ProviderType) Label() string {
	if l, ok := providerLabels[t]; ok {
		return l
	}
	return string(t)
}

// Hosted reports whether login happens on a vendor-hosted page rather than a local form.
func (t ProviderType) Hosted() bool {
	return t != ProviderMock
}

// LoginOptions carries what the HTTP layer knows about a login attempt.
type LoginOptions struct {
	// ReturnTo is the local path to land on after a hosted login completes.
	ReturnTo string
}

// Effect is what a login or logout asks the caller to do next. Providers never navigate
// themselves; the HTTP layer turns Navigate into a redirect.
type Effect struct {
	Navigate string `json:"navigate,omitempty"`
}

// None reports whether the effect asks for nothing.
func (e Effect) None() bool {
	return e.Navigate == ""
}

// Navigate returns an effect that sends the browser to url.
func Navigate(url string) Effect {
	return Effect{Navigate: url}
}

// Provider is the capability contract every identity backend implements.
//
// Store exposes the provider's authoritative state. Reads never trigger network activity.
// Init performs the one-time session check; calling it again is a no-op.
type Provider interface {
	Type() ProviderType
	Store() *session.Store
	Init(ctx context.Context)
	Login(ctx context.Context, opts LoginOptions) (Effect, error)
	Logout(ctx context.Context) (Effect, error)
}

// Wrapper is implemented by providers that must see every request before the application
// does.
type Wrapper interface {
	Wrap(next http.Handler) http.Handler
}

// Completer is implemented by providers that finish login on the OAuth callback route.
type Completer interface {
	Complete(ctx context.Context, r *http.Request) error
}
