package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

var testUser = &session.User{ID: "u-1", Email: "ada@example.com", Name: "Ada"}

type fakeProvider struct {
	typ   ProviderType
	store *session.Store

	initCalls int32
	release   chan struct{}
	initUser  *session.User
	initPanic bool

	loginEffect Effect
	loginErr    error
	logoutErr   error
	completeErr error
	closed      bool
}

func newFakeProvider(typ ProviderType) *fakeProvider {
	initial := session.LoadingState()
	return &fakeProvider{typ: typ, store: session.NewStore(initial)}
}

func (p *fakeProvider) Type() ProviderType    { return p.typ }
func (p *fakeProvider) Store() *session.Store { return p.store }

func (p *fakeProvider) Init(ctx context.Context) {
	atomic.AddInt32(&p.initCalls, 1)
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
		}
	}
	if p.initPanic {
		panic("sdk exploded")
	}
	p.store.SetUser(p.initUser)
}

func (p *fakeProvider) Login(context.Context, LoginOptions) (Effect, error) {
	if p.loginErr != nil {
		return Effect{}, p.loginErr
	}
	if p.loginEffect.None() {
		p.store.SetUser(testUser)
	}
	return p.loginEffect, nil
}

func (p *fakeProvider) Logout(context.Context) (Effect, error) {
	return Navigate("https://idp.example.com/logout"), p.logoutErr
}

func (p *fakeProvider) Close() error {
	p.closed = true
	return nil
}

type completingProvider struct{ *fakeProvider }

func (p completingProvider) Complete(context.Context, *http.Request) error {
	if p.completeErr != nil {
		return p.completeErr
	}
	p.store.SetUser(testUser)
	return nil
}

type wrappingProvider struct {
	*fakeProvider
	wrapped int32
}

func (p *wrappingProvider) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&p.wrapped, 1)
		next.ServeHTTP(w, r)
	})
}

func waitReady(t *testing.T, f *Facade) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.WaitReady(ctx))
}

func TestFacade_MockInitializesSynchronously(t *testing.T) {
	p := newFakeProvider(ProviderMock)
	p.initUser = testUser

	f := NewFacade(context.Background(), p)

	select {
	case <-f.Ready():
	default:
		t.Fatal("mock facade must be ready on return")
	}
	st := f.State()
	assert.False(t, st.IsLoading)
	assert.True(t, st.IsAuthenticated())
	assert.Equal(t, int32(1), p.initCalls)
}

func TestFacade_HostedProviderLoadsAsynchronously(t *testing.T) {
	p := newFakeProvider(ProviderOry)
	p.release = make(chan struct{})
	p.initUser = testUser

	f := NewFacade(context.Background(), p)

	st := f.State()
	assert.True(t, st.IsLoading, "hosted providers show loading until the check resolves")
	assert.False(t, st.IsAuthenticated())

	close(p.release)
	waitReady(t, f)

	st = f.State()
	assert.False(t, st.IsLoading)
	assert.Equal(t, testUser, st.User)
}

func TestFacade_PanickingInitEndsLoading(t *testing.T) {
	p := newFakeProvider(ProviderKeycloak)
	p.initPanic = true

	f := NewFacade(context.Background(), p)
	waitReady(t, f)

	st := f.State()
	assert.False(t, st.IsLoading)
	assert.Nil(t, st.User)
	assert.NotEmpty(t, st.Error)
}

func TestFacade_InitTimeout(t *testing.T) {
	p := newFakeProvider(ProviderCognito)
	p.release = make(chan struct{})

	f := NewFacade(context.Background(), p, WithInitTimeout(20*time.Millisecond))
	waitReady(t, f)

	assert.False(t, f.State().IsLoading)
}

func TestFacade_SubscribersSeeDerivedFlag(t *testing.T) {
	p := newFakeProvider(ProviderMock)
	f := NewFacade(context.Background(), p)

	var mu sync.Mutex
	var seen []session.State
	unsubscribe := f.Subscribe(func(st session.State) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})
	defer unsubscribe()

	f.Login(context.Background(), LoginOptions{})
	f.Logout(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	for _, st := range seen {
		assert.Equal(t, st.User != nil, st.IsAuthenticated())
	}
	assert.Nil(t, seen[len(seen)-1].User)
}

func TestFacade_LoginErrorIsRecordedNotReturned(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)

	p := newFakeProvider(ProviderMock)
	p.loginErr = errors.New("hosted UI domain not configured")
	f := NewFacade(context.Background(), p, WithMetrics(m))

	effect := f.Login(context.Background(), LoginOptions{})
	assert.True(t, effect.None())

	st := f.State()
	assert.Equal(t, "hosted UI domain not configured", st.Error)
	assert.Nil(t, st.User)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoginsTotal.WithLabelValues("mock", "error")))
}

func TestFacade_LoginEffect(t *testing.T) {
	p := newFakeProvider(ProviderMock)
	p.loginEffect = Navigate("https://idp.example.com/authorize")
	f := NewFacade(context.Background(), p)

	effect := f.Login(context.Background(), LoginOptions{ReturnTo: "/app"})
	assert.Equal(t, "https://idp.example.com/authorize", effect.Navigate)
}

func TestFacade_LogoutAlwaysClearsUser(t *testing.T) {
	p := newFakeProvider(ProviderMock)
	p.initUser = testUser
	p.logoutErr = errors.New("sign out failed")
	f := NewFacade(context.Background(), p)

	effect := f.Logout(context.Background())
	assert.Equal(t, "https://idp.example.com/logout", effect.Navigate, "fallback effect still returned")
	assert.Nil(t, f.State().User)
	assert.Equal(t, "sign out failed", f.State().Error)
}

func TestFacade_Complete(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc", nil)

	t.Run("provider without completer", func(t *testing.T) {
		f := NewFacade(context.Background(), newFakeProvider(ProviderMock))
		assert.NoError(t, f.Complete(context.Background(), req))
	})

	t.Run("completer success", func(t *testing.T) {
		p := completingProvider{newFakeProvider(ProviderMock)}
		f := NewFacade(context.Background(), p)
		require.NoError(t, f.Complete(context.Background(), req))
		assert.True(t, f.State().IsAuthenticated())
	})

	t.Run("completer failure", func(t *testing.T) {
		p := completingProvider{newFakeProvider(ProviderMock)}
		p.completeErr = errors.New("state mismatch")
		f := NewFacade(context.Background(), p)
		assert.EqualError(t, f.Complete(context.Background(), req), "state mismatch")
		assert.Equal(t, "state mismatch", f.State().Error)
	})
}

func TestFacade_MiddlewareProvidesFacadeAndWrapper(t *testing.T) {
	p := &wrappingProvider{fakeProvider: newFakeProvider(ProviderMock)}
	f := NewFacade(context.Background(), p)

	var got *Facade
	h := f.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Same(t, f, got)
	assert.Equal(t, int32(1), p.wrapped)
}

func TestFacade_CloseDropsListenersAndClosesProvider(t *testing.T) {
	p := newFakeProvider(ProviderMock)
	f := NewFacade(context.Background(), p)

	calls := 0
	f.Subscribe(func(session.State) { calls++ })
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	p.store.SetUser(testUser)
	assert.Zero(t, calls)
	assert.True(t, p.closed)
}

func TestFromContext(t *testing.T) {
	assert.PanicsWithValue(t,
		"auth.FromContext called outside the auth facade scope: wrap the handler with Facade.Middleware",
		func() { FromContext(context.Background()) })

	_, ok := Lookup(context.Background())
	assert.False(t, ok)

	f := NewFacade(context.Background(), newFakeProvider(ProviderMock))
	got, ok := Lookup(WithFacade(context.Background(), f))
	assert.True(t, ok)
	assert.Same(t, f, got)
}
