package rerank

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampax-dev/pampax/internal/store"
)

// countingProvider wraps MockReranker and counts Rerank invocations so
// cache short-circuiting is observable.
type countingProvider struct {
	*MockReranker
	name      string
	available bool
	fail      bool
	calls     int
}

func (p *countingProvider) Name() string                         { return p.name }
func (p *countingProvider) IsAvailable(ctx context.Context) bool { return p.available }

func (p *countingProvider) Rerank(ctx context.Context, query string, docs []Document) ([]Item, error) {
	p.calls++
	if p.fail {
		return nil, errors.New("provider down")
	}
	return p.MockReranker.Rerank(ctx, query, docs)
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestCacheKey_OrderInsensitive(t *testing.T) {
	a := CacheKey("mock", "m1", "query", []string{"c1", "c2", "c3"})
	b := CacheKey("mock", "m1", "query", []string{"c3", "c1", "c2"})
	assert.Equal(t, a, b)
}

func TestCacheKey_DistinctPerProviderModelQuery(t *testing.T) {
	base := CacheKey("mock", "m1", "query", []string{"c1"})
	assert.NotEqual(t, base, CacheKey("cohere", "m1", "query", []string{"c1"}))
	assert.NotEqual(t, base, CacheKey("mock", "m2", "query", []string{"c1"}))
	assert.NotEqual(t, base, CacheKey("mock", "m1", "other", []string{"c1"}))
	assert.NotEqual(t, base, CacheKey("mock", "m1", "query", []string{"c2"}))
}

func TestBus_Execute_PrimaryFirst(t *testing.T) {
	primary := &countingProvider{MockReranker: NewMockReranker(map[string]float64{"c2": 2, "c1": 1}), name: "primary", available: true}
	fallback := &countingProvider{MockReranker: NewMockReranker(nil), name: "fallback", available: true}

	bus := NewBus(nil)
	bus.Register(fallback)
	bus.Register(primary)

	items, err := bus.Execute(context.Background(), "primary", "q", []Document{{DocRef: "c1"}, {DocRef: "c2"}}, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "c2", items[0].DocRef)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 0, fallback.calls)
}

func TestBus_Execute_FallsThroughOnFailure(t *testing.T) {
	broken := &countingProvider{MockReranker: NewMockReranker(nil), name: "broken", available: true, fail: true}
	working := &countingProvider{MockReranker: NewMockReranker(nil), name: "working", available: true}

	bus := NewBus(nil)
	bus.Register(broken)
	bus.Register(working)

	items, err := bus.Execute(context.Background(), "broken", "q", []Document{{DocRef: "c1"}}, 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.GreaterOrEqual(t, broken.calls, 1)
	assert.Equal(t, 1, working.calls)
}

func TestBus_Execute_SkipsUnavailable(t *testing.T) {
	offline := &countingProvider{MockReranker: NewMockReranker(nil), name: "offline", available: false}
	online := &countingProvider{MockReranker: NewMockReranker(nil), name: "online", available: true}

	bus := NewBus(nil)
	bus.Register(offline)
	bus.Register(online)

	_, err := bus.Execute(context.Background(), "offline", "q", []Document{{DocRef: "c1"}}, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, offline.calls)
	assert.Equal(t, 1, online.calls)
}

func TestBus_Execute_AllProvidersFailed(t *testing.T) {
	bus := NewBus(nil)
	_, err := bus.Execute(context.Background(), "nobody", "q", []Document{{DocRef: "c1"}}, 10)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
}

func TestBus_Execute_CacheShortCircuits(t *testing.T) {
	st := newTestStore(t)
	provider := &countingProvider{MockReranker: NewMockReranker(map[string]float64{"c1": 3, "c2": 1}), name: "mock", available: true}

	bus := NewBus(st)
	bus.Register(provider)

	docs := []Document{{DocRef: "c1", Content: "alpha"}, {DocRef: "c2", Content: "beta"}}
	first, err := bus.Execute(context.Background(), "mock", "q", docs, 10)
	require.NoError(t, err)
	second, err := bus.Execute(context.Background(), "mock", "q", docs, 10)
	require.NoError(t, err)

	assert.Equal(t, 1, provider.calls, "second call should be served from rerank_cache")
	assert.Equal(t, first, second)
}

func TestBus_Execute_TruncatesToTopN(t *testing.T) {
	var seen int
	probe := &countingProvider{MockReranker: NewMockReranker(nil), name: "probe", available: true}
	bus := NewBus(nil)
	bus.Register(probe)

	docs := make([]Document, 10)
	for i := range docs {
		docs[i] = Document{DocRef: string(rune('a' + i))}
	}
	items, err := bus.Execute(context.Background(), "probe", "q", docs, 3)
	require.NoError(t, err)
	seen = len(items)
	assert.Equal(t, 3, seen)
}

func TestRRFFusionReranker_BoostsLexicalMatches(t *testing.T) {
	p := NewRRFFusionReranker()
	docs := []Document{
		{DocRef: "miss", Content: "completely unrelated text"},
		{DocRef: "hit", Content: "func getUserByID(id string) loads a user"},
	}

	items, err := p.Rerank(context.Background(), "getUserByID user", docs)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "hit", items[0].DocRef)
}

func TestRRFFusionReranker_EmptyDocs(t *testing.T) {
	p := NewRRFFusionReranker()
	items, err := p.Rerank(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestMockReranker_ScoreMapOrder(t *testing.T) {
	p := NewMockReranker(map[string]float64{"low": 0.1, "high": 0.9})
	items, err := p.Rerank(context.Background(), "q", []Document{{DocRef: "low"}, {DocRef: "high"}})
	require.NoError(t, err)
	assert.Equal(t, "high", items[0].DocRef)
	assert.Equal(t, "low", items[1].DocRef)
}

func TestEncodeDecodeItems_RoundTrip(t *testing.T) {
	in := []Item{{DocRef: "c1", Score: 0.75}, {DocRef: "c2", Score: 0.5}}
	out, err := decodeItems(encodeItems(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestAPIRerankers_UnavailableWithoutKey(t *testing.T) {
	t.Setenv("PAMPAX_COHERE_API_KEY", "")
	t.Setenv("PAMPAX_VOYAGE_API_KEY", "")

	assert.False(t, NewCohereReranker("", "").IsAvailable(context.Background()))
	assert.False(t, NewVoyageReranker("", "").IsAvailable(context.Background()))
	assert.True(t, NewCohereReranker("key", "").IsAvailable(context.Background()))
}
