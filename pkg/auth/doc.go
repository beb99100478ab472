// Package auth defines the identity provider contract and the facade the application uses
// to talk to the one configured provider.
//
// # Overview
//
// A Provider owns a session.Store and implements Init, Login and Logout. Login and Logout
// return an Effect instead of redirecting; the HTTP layer follows Effect.Navigate. Two
// optional capabilities are discovered by type assertion:
//
//	Wrapper   - sees every request before the application (Auth0 code exchange)
//	Completer - finishes login on the OAuth callback route (Ory, Keycloak, Cognito)
//
// # Errors
//
// A *ConfigError means required provider parameters are missing and is fatal at startup.
// ErrUnavailable means the provider cannot run in this build and the factory falls back to
// mock. Everything else is recorded in State().Error by the Facade.
//
// # Usage
//
//	facade := auth.NewFacade(ctx, provider, auth.WithLogger(logger.Entry()))
//	router.Use(facade.Middleware)
//
//	func handler(w http.ResponseWriter, r *http.Request) {
//		f := auth.FromContext(r.Context())
//		if effect := f.Login(r.Context(), auth.LoginOptions{}); !effect.None() {
//			http.Redirect(w, r, effect.Navigate, http.StatusFound)
//		}
//	}
package auth
