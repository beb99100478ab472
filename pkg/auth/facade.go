package auth

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatehouse/pkg/async"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

// Facade is the single entry point the rest of the application uses for authentication.
// It wraps exactly one Provider for the life of the process.
//
// Provider failures never cross the facade: they are recorded in the session state and the
// caller reads them from State().Error.
type Facade struct {
	provider    Provider
	store       *session.Store
	logger      logrus.FieldLogger
	metrics     *observability.Metrics
	initTimeout time.Duration

	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once
}

// FacadeOption configures a Facade.
type FacadeOption func(*Facade)

// WithLogger sets the facade logger.
func WithLogger(l logrus.FieldLogger) FacadeOption {
	return func(f *Facade) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithMetrics records login and logout outcomes.
func WithMetrics(m *observability.Metrics) FacadeOption {
	return func(f *Facade) { f.metrics = m }
}

// WithInitTimeout bounds the asynchronous session check. Zero means no bound.
func WithInitTimeout(d time.Duration) FacadeOption {
	return func(f *Facade) { f.initTimeout = d }
}

// NewFacade wraps p and starts its session check. The mock provider is initialized before
// NewFacade returns so development runs never show a loading state. Every other provider
// is checked in the background and reports loading until the check resolves.
func NewFacade(ctx context.Context, p Provider, opts ...FacadeOption) *Facade {
	f := &Facade{
		provider:    p,
		store:       p.Store(),
		logger:      logrus.StandardLogger(),
		initTimeout: 30 * time.Second,
		ready:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}

	if p.Type() == ProviderMock {
		p.Init(ctx)
		f.markReady()
		return f
	}

	f.store.SetLoading(true)
	async.SafeGoNoError(ctx, f.initTimeout, string(p.Type())+" session check", func(ctx context.Context) {
		defer f.markReady()
		defer func() {
			// a panicking check must not leave the UI loading forever
			if f.store.Snapshot().IsLoading {
				f.store.Fail("session check did not complete")
			}
		}()
		p.Init(ctx)
	})
	return f
}

// Provider returns the wrapped provider.
func (f *Facade) Provider() Provider {
	return f.provider
}

// Type is shorthand for Provider().Type().
func (f *Facade) Type() ProviderType {
	return f.provider.Type()
}

// State returns the live authentication state.
func (f *Facade) State() session.State {
	return f.store.Snapshot()
}

// Subscribe registers fn for every state transition.
func (f *Facade) Subscribe(fn session.Listener) func() {
	return f.store.Subscribe(fn)
}

// Ready is closed once the first session check has resolved.
func (f *Facade) Ready() <-chan struct{} {
	return f.ready
}

// WaitReady blocks until the first session check resolves or ctx is done.
func (f *Facade) WaitReady(ctx context.Context) error {
	select {
	case <-f.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Login starts session establishment. A returned Effect with a Navigate URL must be
// followed by the caller; failures are recorded in the state and yield an empty effect.
func (f *Facade) Login(ctx context.Context, opts LoginOptions) Effect {
	effect, err := f.provider.Login(ctx, opts)
	f.metrics.RecordLogin(string(f.Type()), err)
	if err != nil {
		f.logger.WithError(err).WithField("provider", f.Type()).Warn("Login failed")
		f.store.Fail(err.Error())
		return Effect{}
	}
	return effect
}

// Logout tears down the session. The user is always cleared, even when the provider fails.
func (f *Facade) Logout(ctx context.Context) Effect {
	effect, err := f.provider.Logout(ctx)
	f.metrics.RecordLogout(string(f.Type()), err)
	if err != nil {
		f.logger.WithError(err).WithField("provider", f.Type()).Warn("Logout failed")
		f.store.Fail(err.Error())
		return effect
	}
	if f.store.Snapshot().User != nil {
		f.store.SetUser(nil)
	}
	return effect
}

// Complete finishes a hosted login on the callback route. Providers without a callback step
// succeed trivially. The error is also recorded in the state.
func (f *Facade) Complete(ctx context.Context, r *http.Request) error {
	c, ok := f.provider.(Completer)
	if !ok {
		return nil
	}
	if err := c.Complete(ctx, r); err != nil {
		f.logger.WithError(err).WithField("provider", f.Type()).Warn("Login callback failed")
		f.store.Fail(err.Error())
		return err
	}
	return nil
}

// Middleware makes the facade available to handlers through FromContext. When the provider
// is a Wrapper, its wrapper sees the request first.
func (f *Facade) Middleware(next http.Handler) http.Handler {
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithFacade(r.Context(), f)))
	})
	if w, ok := f.provider.(Wrapper); ok {
		h = w.Wrap(h)
	}
	return h
}

// Close drops every listener and releases provider resources such as refresh timers.
// Results that resolve afterwards are ignored.
func (f *Facade) Close() error {
	var err error
	f.closeOnce.Do(func() {
		f.store.Close()
		if c, ok := f.provider.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

func (f *Facade) markReady() {
	f.readyOnce.Do(func() { close(f.ready) })
}
