package middleware

import (
	"net/http"
	"net/url"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

// GuardState is the routing decision for a protected request.
type GuardState string

const (
	// GuardChecking means the session check has not settled; nothing is rendered and no
	// redirect happens.
	GuardChecking GuardState = "checking"
	// GuardAuthenticated lets the request through.
	GuardAuthenticated GuardState = "authenticated"
	// GuardUnauthenticated redirects to the login page.
	GuardUnauthenticated GuardState = "unauthenticated"
)

// checkingRetryAfter is the Retry-After value, in seconds, sent while a session check runs.
const checkingRetryAfter = "1"

// StateSource is anything that can report the current session state. *auth.Facade
// satisfies it.
type StateSource interface {
	State() session.State
}

// Evaluate maps a session state to a guard decision. Loading always wins over the user
// field so a stale user is never let through mid-check.
func Evaluate(s session.State) GuardState {
	switch {
	case s.IsLoading:
		return GuardChecking
	case s.IsAuthenticated():
		return GuardAuthenticated
	default:
		return GuardUnauthenticated
	}
}

// RequireSession protects next. Unauthenticated requests are redirected to loginPath with
// the original request URI in the "from" query parameter.
func RequireSession(source StateSource, loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := source.State()
			switch Evaluate(state) {
			case GuardChecking:
				w.Header().Set("Retry-After", checkingRetryAfter)
				_ = httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": string(GuardChecking)})
			case GuardUnauthenticated:
				http.Redirect(w, r, LoginRedirect(loginPath, r.URL.RequestURI()), http.StatusFound)
			default:
				ctx := contextkeys.WithUserID(r.Context(), state.User.ID)
				next.ServeHTTP(w, r.WithContext(ctx))
			}
		})
	}
}

// LoginRedirect builds loginPath?from=<from>.
func LoginRedirect(loginPath, from string) string {
	if from == "" {
		return loginPath
	}
	return loginPath + "?" + url.Values{"from": {from}}.Encode()
}
