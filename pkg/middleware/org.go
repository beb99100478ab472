package middleware

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
)

// OrganizationSource reports the selected organization. *tenant.Selection satisfies it;
// an empty ID means nothing is selected.
type OrganizationSource interface {
	Get(ctx context.Context) (string, error)
}

// RequireOrganization sends requests without a selected organization to selectPath and
// puts the selected ID into the request context otherwise. It must run after
// RequireSession.
func RequireOrganization(source OrganizationSource, selectPath string, logger logrus.FieldLogger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			orgID, err := source.Get(r.Context())
			if err != nil {
				logger.WithError(err).Warn("Failed to read selected organization")
			}
			if orgID == "" {
				http.Redirect(w, r, LoginRedirect(selectPath, r.URL.RequestURI()), http.StatusFound)
				return
			}

			ctx := contextkeys.WithOrganizationID(r.Context(), orgID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
