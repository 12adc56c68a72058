package attrcache_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-authz/sentinel/internal/attrcache"
	"github.com/sentinel-authz/sentinel/internal/directory"
	"github.com/sentinel-authz/sentinel/internal/shared"
)

type mockResolver struct {
	mu      sync.Mutex
	calls   int
	failing map[uuid.UUID]bool
	gate    chan struct{} // when non-nil, Resolve blocks until closed
	ready   chan struct{} // signalled once on first Resolve entry
}

func (m *mockResolver) Resolve(_ context.Context, id uuid.UUID, service string) (*directory.ResolvedAttributeSet, error) {
	m.mu.Lock()
	m.calls++
	first := m.calls == 1
	m.mu.Unlock()
	if first && m.ready != nil {
		close(m.ready)
	}
	if m.gate != nil {
		<-m.gate
	}
	if m.failing[id] {
		return nil, shared.ErrUpstreamUnavailable
	}
	return sampleSet(id, service), nil
}

func (m *mockResolver) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockPrincipals struct {
	ids []uuid.UUID
}

func (m *mockPrincipals) ListPrincipalIDs(context.Context) ([]uuid.UUID, error) {
	return m.ids, nil
}

func TestLoadResolvesOnceThenMemoizes(t *testing.T) {
	cache, _, _ := newTestCache(t)
	res := &mockResolver{}
	loader := attrcache.NewLoader(cache, res, &mockPrincipals{}, slog.Default())
	ctx := context.Background()
	alice := uuid.New()

	first, err := loader.Load(ctx, alice, "billing")
	require.NoError(t, err)
	assert.Equal(t, []string{"billing_admin"}, first.Roles)

	second, err := loader.Load(ctx, alice, "billing")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, res.callCount())

	// The resolve also populated the shared cache.
	cached, err := cache.Get(ctx, alice, "billing")
	require.NoError(t, err)
	assert.Equal(t, first, cached)
}

func TestLoadConcurrentMissesResolveOnce(t *testing.T) {
	cache, _, _ := newTestCache(t)
	res := &mockResolver{gate: make(chan struct{}), ready: make(chan struct{})}
	loader := attrcache.NewLoader(cache, res, &mockPrincipals{}, slog.Default())
	ctx := context.Background()
	alice := uuid.New()

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*directory.ResolvedAttributeSet, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			set, err := loader.Load(ctx, alice, "billing")
			require.NoError(t, err)
			results[i] = set
		}(i)
	}

	<-res.ready
	// Give the remaining workers time to join the in-flight resolve.
	time.Sleep(100 * time.Millisecond)
	close(res.gate)
	wg.Wait()

	assert.Equal(t, 1, res.callCount())
	for i := 1; i < workers; i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestLoadDropsMemoOnInvalidation(t *testing.T) {
	cache, _, _ := newTestCache(t)
	res := &mockResolver{}
	loader := attrcache.NewLoader(cache, res, &mockPrincipals{}, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	alice := uuid.New()

	loader.Start(ctx)

	_, err := loader.Load(ctx, alice, "billing")
	require.NoError(t, err)
	require.Equal(t, 1, res.callCount())

	// Invalidation must reach the subscriber before the memo forgets, so
	// keep publishing until the next Load goes back to the resolver.
	require.Eventually(t, func() bool {
		require.NoError(t, cache.Invalidate(ctx, alice, "billing"))
		time.Sleep(20 * time.Millisecond)
		_, err := loader.Load(ctx, alice, "billing")
		require.NoError(t, err)
		return res.callCount() >= 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestLoadResolvesDirectlyWhenCacheDown(t *testing.T) {
	cache, mr, _ := newTestCache(t)
	res := &mockResolver{}
	loader := attrcache.NewLoader(cache, res, &mockPrincipals{}, slog.Default())
	alice := uuid.New()

	mr.Close()

	set, err := loader.Load(context.Background(), alice, "billing")
	require.NoError(t, err)
	assert.Equal(t, []string{"billing_admin"}, set.Roles)
	assert.Equal(t, 1, res.callCount())
}

func TestPopulateAllSkipsFailures(t *testing.T) {
	cache, _, _ := newTestCache(t)
	alice := uuid.New()
	bob := uuid.New()
	broken := uuid.New()
	res := &mockResolver{failing: map[uuid.UUID]bool{broken: true}}
	loader := attrcache.NewLoader(cache, res, &mockPrincipals{ids: []uuid.UUID{alice, bob, broken}}, slog.Default())
	ctx := context.Background()

	require.NoError(t, loader.PopulateAll(ctx, "billing"))

	for _, id := range []uuid.UUID{alice, bob} {
		got, err := cache.Get(ctx, id, "billing")
		require.NoError(t, err)
		assert.Equal(t, sampleSet(id, "billing"), got)
	}
	_, err := cache.Get(ctx, broken, "billing")
	assert.ErrorIs(t, err, shared.ErrCacheMiss)
}
