// Package server is the gatehouse HTTP surface. It turns provider effects into redirects,
// drives the organization selection overlay and fronts the admin API for signed-in users.
//
// # Routes
//
//	GET  /login                 login descriptor (provider, label, mode form|sso, error, from)
//	POST /login                 start a login; follows provider redirects
//	GET  /auth/callback         finish a hosted login
//	POST /logout                end the session
//	GET  /auth/session          session state plus a one-shot notice
//	GET  /orgs/select           organization overlay view
//	POST /orgs/select           pick an organization
//	POST /orgs/select/retry     reload after a failed load
//	POST /orgs/select/dismiss   decline to pick, which signs out
//	GET  /app/me                protected
//	GET  /app/organizations     protected
//	GET  /app/organizations/current
//	POST /app/organizations/current  switch organization
//	GET  /healthz /readyz /metrics
//
// Redirect targets taken from requests (from, return_to) must be local paths.
package server
