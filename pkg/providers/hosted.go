package providers

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

// hosted holds what every vendor-hosted provider shares: the store, the one-shot
// initialization guard and session-check bookkeeping.
type hosted struct {
	typ     auth.ProviderType
	store   *session.Store
	logger  logrus.FieldLogger
	metrics *observability.Metrics
	once    sync.Once
}

func newHosted(t auth.ProviderType, deps Deps) *hosted {
	return &hosted{
		typ:     t,
		store:   session.NewStore(session.LoadingState()),
		logger:  deps.Logger.WithField("provider", t),
		metrics: deps.Metrics,
	}
}

func (h *hosted) Type() auth.ProviderType { return h.typ }
func (h *hosted) Store() *session.Store   { return h.store }

// runCheck publishes the outcome of resolve. A nil user with a nil error is the normal
// unauthenticated state; an error clears the user and is shown to the user.
func (h *hosted) runCheck(ctx context.Context, resolve func(context.Context) (*session.User, error)) *session.User {
	h.store.BeginCheck()
	start := time.Now()

	user, err := resolve(ctx)
	switch {
	case err != nil:
		h.metrics.RecordSessionCheck(string(h.typ), "error", time.Since(start))
		h.logger.WithError(err).Warn("Session check failed")
		h.store.Fail(err.Error())
		return nil
	case user == nil:
		h.metrics.RecordSessionCheck(string(h.typ), "absent", time.Since(start))
		h.store.SetUser(nil)
		return nil
	default:
		h.metrics.RecordSessionCheck(string(h.typ), "authenticated", time.Since(start))
		h.store.SetUser(user)
		return user
	}
}
