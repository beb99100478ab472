// Package mockapi is an in-memory stand-in for the admin REST API. It serves the session
// endpoints the mock provider talks to and a paginated organization list, and enforces the
// X-Selected-Org membership check so the organization clearing flow can run locally.
//
//	srv := mockapi.New()
//	http.ListenAndServe(":8000", srv)
package mockapi
