package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/storage"
	"github.com/platinummonkey/gatehouse/pkg/tenant"
)

// Deps is everything a provider may need at construction.
type Deps struct {
	Config     *config.Config
	KV         storage.KV
	Selection  *tenant.Selection
	Logger     logrus.FieldLogger
	Metrics    *observability.Metrics
	HTTPClient *http.Client
}

func (d Deps) withDefaults() Deps {
	if d.Config == nil {
		d.Config = config.Default()
	}
	if d.KV == nil {
		d.KV = storage.NewMemoryStore()
	}
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	if d.HTTPClient == nil {
		d.HTTPClient = http.DefaultClient
	}
	return d
}

// Loader constructs a provider. It returns a *auth.ConfigError when required parameters are
// missing and an error wrapping auth.ErrUnavailable when the backend cannot be used.
type Loader func(ctx context.Context, deps Deps) (auth.Provider, error)

var (
	registryMu sync.RWMutex
	registry   = map[auth.ProviderType]Loader{}
)

// Register makes a provider available to every Factory created afterwards. Providers
// register themselves from init so a build that excludes one simply has no entry.
func Register(t auth.ProviderType, l Loader) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = l
}

// Registered lists the provider types compiled into this binary, mock included.
func Registered() []auth.ProviderType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := []auth.ProviderType{auth.ProviderMock}
	for _, t := range auth.ProviderTypes {
		if _, ok := registry[t]; ok && t != auth.ProviderMock {
			out = append(out, t)
		}
	}
	return out
}

// Availability is the tagged result of negotiating a provider.
type Availability struct {
	Provider auth.Provider
	Reason   error
}

// Available wraps a usable provider.
func Available(p auth.Provider) Availability {
	return Availability{Provider: p}
}

// Unavailable records why a provider cannot be used.
func Unavailable(reason error) Availability {
	return Availability{Reason: reason}
}

// OK reports whether a provider was produced.
func (a Availability) OK() bool {
	return a.Provider != nil && a.Reason == nil
}

// Factory resolves a configured provider type to an implementation.
type Factory struct {
	deps    Deps
	loaders map[auth.ProviderType]Loader
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithLoader replaces the loader for t.
func WithLoader(t auth.ProviderType, l Loader) FactoryOption {
	return func(f *Factory) { f.loaders[t] = l }
}

// WithoutLoader removes t as if it had not been compiled in.
func WithoutLoader(t auth.ProviderType) FactoryOption {
	return func(f *Factory) { delete(f.loaders, t) }
}

// NewFactory snapshots the registry.
func NewFactory(deps Deps, opts ...FactoryOption) *Factory {
	f := &Factory{
		deps:    deps.withDefaults(),
		loaders: make(map[auth.ProviderType]Loader),
	}
	registryMu.RLock()
	for t, l := range registry {
		f.loaders[t] = l
	}
	registryMu.RUnlock()

	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Negotiate runs the loader for t once. A loader that is missing, fails or panics yields
// Unavailable; the caller decides what to do about it.
func (f *Factory) Negotiate(ctx context.Context, t auth.ProviderType) (a Availability) {
	loader, ok := f.loaders[t]
	if !ok {
		return Unavailable(fmt.Errorf("%w: %s support not compiled in (built with gatehouse_no_%s)", auth.ErrUnavailable, t, t))
	}

	defer func() {
		if err := observability.MustRecover(recover()); err != nil {
			a = Unavailable(fmt.Errorf("%w: %s loader: %v", auth.ErrUnavailable, t, err))
		}
	}()

	p, err := loader(ctx, f.deps)
	switch {
	case err != nil && auth.IsConfigError(err):
		return Unavailable(err)
	case err != nil && !errors.Is(err, auth.ErrUnavailable):
		return Unavailable(fmt.Errorf("%w: %v", auth.ErrUnavailable, err))
	case err != nil:
		return Unavailable(err)
	case p == nil:
		return Unavailable(fmt.Errorf("%w: %s loader returned no provider", auth.ErrUnavailable, t))
	}
	return Available(p)
}

// Create returns the provider for t. Unknown types and unavailable providers fall back to
// mock with a warning; only a *auth.ConfigError is returned, because a half-configured
// provider is a deployment mistake.
func (f *Factory) Create(ctx context.Context, t auth.ProviderType) (auth.Provider, error) {
	logger := f.deps.Logger.WithField("provider", t)

	typ, known := auth.ParseProviderType(string(t))
	if !known {
		logger.Warn("Unknown auth provider, falling back to mock")
		f.deps.Metrics.RecordFallback(string(t))
		return NewMock(f.deps), nil
	}
	if typ == auth.ProviderMock {
		return NewMock(f.deps), nil
	}

	a := f.Negotiate(ctx, typ)
	if a.OK() {
		return a.Provider, nil
	}
	if auth.IsConfigError(a.Reason) {
		return nil, a.Reason
	}

	logger.WithError(a.Reason).Warn("Auth provider unavailable, falling back to mock")
	f.deps.Metrics.RecordFallback(string(typ))
	return NewMock(f.deps), nil
}
