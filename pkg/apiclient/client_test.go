package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/storage"
	"github.com/platinummonkey/gatehouse/pkg/tenant"
)

const orgID = "9b2f6d14-3c8e-4a51-b7d0-5e1a2c4f8b36"

func fastRetry() *RetryPolicy {
	return NewRetryPolicy(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond})
}

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *tenant.Selection, *observability.Metrics) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	m := observability.NewMetrics(prometheus.NewRegistry())
	sel := tenant.New(storage.NewMemoryStore(), tenant.WithMetrics(m))
	c := New(config.APIConfig{BaseURL: srv.URL + "/", Timeout: 5 * time.Second}, sel,
		WithMetrics(m), WithRetryPolicy(fastRetry()))
	return c, sel, m
}

func TestClient_SelectedOrganizationHeader(t *testing.T) {
	var seen atomic.Value
	c, sel, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Values(tenant.HeaderName))
		_ = httputil.WriteJSON(w, http.StatusOK, map[string]string{})
	})
	ctx := context.Background()

	require.NoError(t, c.Do(ctx, http.MethodGet, "/users", nil, nil))
	assert.Empty(t, seen.Load(), "no header without a selection")

	require.NoError(t, sel.Set(ctx, orgID))
	require.NoError(t, c.Do(ctx, http.MethodGet, "/users", nil, nil))
	assert.Equal(t, []string{orgID}, seen.Load())
}

func TestClient_InvalidStoredOrganizationIsOmitted(t *testing.T) {
	var seen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get(tenant.HeaderName))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	kv := storage.NewMemoryStore()
	require.NoError(t, kv.Set(context.Background(), tenant.StorageKey, "not-a-uuid"))
	sel := tenant.New(kv)
	var events []tenant.Event
	sel.Subscribe(func(e tenant.Event) { events = append(events, e) })

	c := New(config.APIConfig{BaseURL: srv.URL}, sel)
	require.NoError(t, c.Do(context.Background(), http.MethodDelete, "/users/1", nil, nil))

	assert.Equal(t, "", seen.Load())
	require.Len(t, events, 1)
	assert.Equal(t, tenant.ReasonInvalid, events[0].Reason)
}

func TestClient_ForbiddenOrganizationClearsSelection(t *testing.T) {
	tests := []struct {
		name  string
		write func(w http.ResponseWriter)
		clear bool
	}{
		{"structured code", func(w http.ResponseWriter) {
			httputil.WriteDetail(w, http.StatusForbidden, "Forbidden", CodeOrganizationAccessDenied)
		}, true},
		{"detail mentions organization", func(w http.ResponseWriter) {
			httputil.WriteDetail(w, http.StatusForbidden, "User is not a member of the selected ORGANIZATION", "")
		}, true},
		{"message mentions organization", func(w http.ResponseWriter) {
			_ = httputil.WriteJSON(w, http.StatusForbidden, map[string]string{"message": "organization suspended"})
		}, true},
		{"unrelated forbidden", func(w http.ResponseWriter) {
			httputil.WriteDetail(w, http.StatusForbidden, "Admin role required", "")
		}, false},
		{"not found mentioning organization", func(w http.ResponseWriter) {
			httputil.WriteDetail(w, http.StatusNotFound, "organization not found", "")
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, sel, m := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { tt.write(w) })
			ctx := context.Background()
			require.NoError(t, sel.Set(ctx, orgID))
			var cleared int
			sel.Subscribe(func(e tenant.Event) {
				if e.Type == tenant.EventCleared {
					cleared++
				}
			})

			err := c.Do(ctx, http.MethodGet, "/users", nil, nil)
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))

			id, gerr := sel.Get(ctx)
			require.NoError(t, gerr)
			if tt.clear {
				assert.Empty(t, id)
				assert.Equal(t, 1, cleared, "exactly one cleared event per response")
				assert.Equal(t, 1.0, testutil.ToFloat64(m.OrganizationClearedTotal.WithLabelValues("access_denied")))
			} else {
				assert.Equal(t, orgID, id)
				assert.Zero(t, cleared)
			}
		})
	}
}

func TestClient_APIError(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    APIError
		msg     string
	}{
		{
			name: "detail string",
			handler: func(w http.ResponseWriter, r *http.Request) {
				httputil.WriteDetail(w, http.StatusConflict, "Email already exists", "duplicate")
			},
			want: APIError{Status: 409, StatusText: "Conflict", Message: "Email already exists", Code: "duplicate"},
			msg:  "Email already exists",
		},
		{
			name: "validation issues",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = httputil.WriteJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
					"detail": []map[string]interface{}{{"loc": []string{"email"}, "msg": "Invalid email address"}},
				})
			},
			want: APIError{Status: 422, StatusText: "Unprocessable Entity", Message: "Invalid email address"},
			msg:  "Invalid email address",
		},
		{
			name: "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			want: APIError{Status: 401, StatusText: "Unauthorized"},
			msg:  "401 Unauthorized",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newTestClient(t, tt.handler)
			err := c.Do(context.Background(), http.MethodGet, "/x", nil, nil)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.want, *apiErr)
			assert.EqualError(t, err, tt.msg)
		})
	}
}

func TestClient_RetriesIdempotentRequests(t *testing.T) {
	var calls atomic.Int32
	c, _, m := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = httputil.WriteJSON(w, http.StatusOK, map[string]string{"ok": "yes"})
	})

	var out map[string]string
	require.NoError(t, c.Do(context.Background(), http.MethodGet, "/x", nil, &out))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "yes", out["ok"])
	assert.Equal(t, 2.0, testutil.ToFloat64(m.UpstreamRequestsTotal.WithLabelValues("GET", "502")))
}

func TestClient_DoesNotRetryWrites(t *testing.T) {
	var calls atomic.Int32
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := c.Do(context.Background(), http.MethodPost, "/users", map[string]string{"email": "a@b.c"}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_SendsJSONBody(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in map[string]string
		assert.NoError(t, httputil.ParseJSON(r, &in))
		_ = httputil.WriteJSON(w, http.StatusCreated, map[string]string{"echo": in["name"]})
	})

	var out map[string]string
	require.NoError(t, c.Do(context.Background(), http.MethodPost, "/organizations", map[string]string{"name": "Acme"}, &out))
	assert.Equal(t, "Acme", out["echo"])
}

func TestRetryPolicy(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond})

	assert.False(t, p.ShouldRetry(1, nil))
	assert.True(t, p.ShouldRetry(1, errors.New("connection reset")))
	assert.False(t, p.ShouldRetry(3, errors.New("connection reset")))
	assert.False(t, p.ShouldRetry(1, context.Canceled))
	assert.True(t, p.ShouldRetry(1, &APIError{Status: 503}))
	assert.True(t, p.ShouldRetry(1, &APIError{Status: 429}))
	assert.False(t, p.ShouldRetry(1, &APIError{Status: 403}))

	assert.Equal(t, 100*time.Millisecond, p.NextRetryDelay(1))
	assert.Equal(t, 200*time.Millisecond, p.NextRetryDelay(2))
	assert.Equal(t, 300*time.Millisecond, p.NextRetryDelay(3), "capped at max delay")
	assert.False(t, NoRetry().ShouldRetry(1, errors.New("boom")))
}
