package apiclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

type stubLister struct {
	calls   atomic.Int32
	orgs    []Organization
	err     error
	release chan struct{}
}

func (s *stubLister) ListOrganizations(_ context.Context, page, size int) (*Page[Organization], error) {
	s.calls.Add(1)
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return nil, s.err
	}
	start := (page - 1) * size
	end := start + size
	if start > len(s.orgs) {
		start = len(s.orgs)
	}
	if end > len(s.orgs) {
		end = len(s.orgs)
	}
	pages := (len(s.orgs) + size - 1) / size
	return &Page[Organization]{Items: s.orgs[start:end], Total: len(s.orgs), Page: page, Size: size, Pages: pages}, nil
}

func orgs(n int) []Organization {
	out := make([]Organization, n)
	for i := range out {
		out[i] = Organization{ID: string(rune('a' + i)), Name: "Org " + string(rune('A'+i))}
	}
	return out
}

func TestCachedOrganizations_HitAndMiss(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	next := &stubLister{orgs: orgs(3)}
	c := NewCachedOrganizations(next, time.Minute, m)
	ctx := context.Background()

	first, err := c.ListOrganizations(ctx, 1, 10)
	require.NoError(t, err)
	second, err := c.ListOrganizations(ctx, 1, 10)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), next.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrganizationCacheTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrganizationCacheTotal.WithLabelValues("miss")))

	_, err = c.ListOrganizations(ctx, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load(), "pages are cached separately")
}

func TestCachedOrganizations_Expires(t *testing.T) {
	next := &stubLister{orgs: orgs(1)}
	c := NewCachedOrganizations(next, 20*time.Millisecond, nil)
	ctx := context.Background()

	_, err := c.ListOrganizations(ctx, 1, 10)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		_, err := c.ListOrganizations(ctx, 1, 10)
		return err == nil && next.calls.Load() == 2
	}, time.Second, 10*time.Millisecond)
}

func TestCachedOrganizations_FailuresAreNotCached(t *testing.T) {
	next := &stubLister{err: errors.New("upstream down")}
	c := NewCachedOrganizations(next, time.Minute, nil)
	ctx := context.Background()

	_, err := c.ListOrganizations(ctx, 1, 10)
	require.Error(t, err)

	next.err = nil
	next.orgs = orgs(2)
	p, err := c.ListOrganizations(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, p.Items, 2)
}

func TestCachedOrganizations_CollapsesConcurrentFetches(t *testing.T) {
	next := &stubLister{orgs: orgs(2), release: make(chan struct{})}
	c := NewCachedOrganizations(next, time.Minute, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.ListOrganizations(context.Background(), 1, 10)
		}()
	}
	assert.Eventually(t, func() bool { return next.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(next.release)
	wg.Wait()

	assert.Equal(t, int32(1), next.calls.Load())
}

func TestCachedOrganizations_Purge(t *testing.T) {
	next := &stubLister{orgs: orgs(1)}
	c := NewCachedOrganizations(next, time.Minute, nil)
	ctx := context.Background()

	_, _ = c.ListOrganizations(ctx, 1, 10)
	c.Purge()
	_, _ = c.ListOrganizations(ctx, 1, 10)
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestListAllOrganizations(t *testing.T) {
	next := &stubLister{orgs: orgs(7)}

	all, err := ListAllOrganizations(context.Background(), next, 3)
	require.NoError(t, err)
	assert.Len(t, all, 7)
	assert.Equal(t, int32(3), next.calls.Load())

	empty, err := ListAllOrganizations(context.Background(), &stubLister{}, 3)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
