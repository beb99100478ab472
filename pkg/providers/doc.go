// Package providers implements the identity backends behind auth.Provider and the factory
// that picks one at startup.
//
// # Providers
//
//	mock     - deterministic development user, persisted under MockUserKey
//	ory      - Ory Kratos frontend API (/sessions/whoami)
//	auth0    - OIDC against https://{domain}/, code exchange in Wrap
//	keycloak - OIDC against {url}/realms/{realm}, cron-driven token refresh
//	cognito  - hosted UI login, GetUser/GlobalSignOut through the AWS SDK
//
// Each hosted provider registers itself from init and can be compiled out with a build tag:
//
//	go build -tags gatehouse_no_cognito ./cmd/gatehouse
//
// # Fallback
//
// Factory.Negotiate returns Available(provider) or Unavailable(reason). Factory.Create turns
// every Unavailable into the mock provider with a warning, except a *auth.ConfigError, which
// is returned because the deployment is misconfigured.
//
//	factory := providers.NewFactory(providers.Deps{Config: cfg, KV: kv, Selection: sel})
//	provider, err := factory.Create(ctx, auth.ProviderType(cfg.Auth.Provider))
//	if err != nil {
//		log.Fatal(err)
//	}
package providers
