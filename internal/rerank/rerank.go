// Package rerank dispatches top-N packed candidates to one of several
// reranking providers and caches their verdicts. The cross-encoder
// provider talks to a local MLX HTTP bridge; the API providers share
// one timeout-bound http.Client shape; rrf_fusion reorders without any
// external call.
package rerank

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/pampax-dev/pampax/internal/reliability"
	"github.com/pampax-dev/pampax/internal/store"
)

// Item is one scored, ordered document coming out of a rerank call.
type Item struct {
	DocRef string
	Score  float64
}

// Provider is the uniform interface every rerank backend implements.
type Provider interface {
	Name() string
	Rerank(ctx context.Context, query string, documents []Document) ([]Item, error)
	IsAvailable(ctx context.Context) bool
	Models() []string
}

// Document is one candidate passed into a rerank call.
type Document struct {
	DocRef  string
	Content string
}

// DefaultTopN and DefaultTimeout bound a rerank call.
const (
	DefaultTopN    = 50
	DefaultTimeout = 10 * time.Second
	CacheTTL       = 24 * time.Hour
)

// Bus tries providers in a declared fallback order, each call guarded by
// a reliability.Dependency (timeout, circuit breaker, retry, bulkhead).
type Bus struct {
	providers map[string]Provider
	order     []string
	deps      map[string]*reliability.Dependency
	cache     *store.SQLiteStore
}

// NewBus creates an empty provider bus.
func NewBus(cache *store.SQLiteStore) *Bus {
	return &Bus{
		providers: make(map[string]Provider),
		deps:      make(map[string]*reliability.Dependency),
		cache:     cache,
	}
}

// Register adds a provider and appends it to the fallback order.
func (b *Bus) Register(p Provider) {
	b.providers[p.Name()] = p
	b.order = append(b.order, p.Name())
	cfg := reliability.DefaultDependencyConfig()
	cfg.FallbackLevel = reliability.LevelNoRerank
	b.deps[p.Name()] = reliability.NewDependency("rerank:"+p.Name(), cfg)
}

// Execute tries the primary provider first, then falls through the
// declared order on failure or unavailability. A cache hit short-circuits
// provider invocation entirely, so a repeated call is bit-identical
// within the cache TTL.
func (b *Bus) Execute(ctx context.Context, primary, query string, docs []Document, topN int) ([]Item, error) {
	if topN <= 0 {
		topN = DefaultTopN
	}
	if topN < len(docs) {
		docs = docs[:topN]
	}

	tried := map[string]bool{}
	candidatesOrder := append([]string{primary}, b.order...)

	for _, name := range candidatesOrder {
		if name == "" || tried[name] {
			continue
		}
		tried[name] = true

		provider, ok := b.providers[name]
		if !ok {
			continue
		}

		key := CacheKey(name, modelOf(provider), query, docRefs(docs))
		if b.cache != nil {
			if cached, hit, err := b.cache.GetCachedValue(ctx, store.RerankCacheTable, key); err == nil && hit {
				items, decodeErr := decodeItems(cached)
				if decodeErr == nil {
					return items, nil
				}
			}
		}

		if !provider.IsAvailable(ctx) {
			continue
		}

		dep := b.deps[name]
		var items []Item
		err := dep.Call(ctx, func(ctx context.Context) error {
			var callErr error
			items, callErr = provider.Rerank(ctx, query, docs)
			return callErr
		})
		if err != nil {
			continue
		}

		if b.cache != nil {
			_ = b.cache.SetCachedValue(ctx, store.RerankCacheTable, key, encodeItems(items), CacheTTL)
		}
		return items, nil
	}

	return nil, ErrAllProvidersFailed
}

// ProviderStatus reports each registered provider's current
// IsAvailable result, keyed by provider name, for health endpoints.
func (b *Bus) ProviderStatus(ctx context.Context) map[string]bool {
	status := make(map[string]bool, len(b.providers))
	for name, p := range b.providers {
		status[name] = p.IsAvailable(ctx)
	}
	return status
}

func modelOf(p Provider) string {
	models := p.Models()
	if len(models) == 0 {
		return ""
	}
	return models[0]
}

func docRefs(docs []Document) []string {
	refs := make([]string, len(docs))
	for i, d := range docs {
		refs[i] = d.DocRef
	}
	return refs
}

// ProviderConfig names which provider to instantiate and its connection
// details, keeping the Bus builder decoupled from internal/config so
// this package doesn't import the whole config tree.
type ProviderConfig struct {
	Name     string
	Endpoint string
	Model    string
	APIKey   string
}

// NewConfiguredBus builds a Bus and registers the providers named in
// order (typically DefaultProvider followed by FallbackOrder), skipping
// unknown names. Every provider variant is instantiated with its
// zero-value config falling back to its own defaults/env vars, so a bare
// name like "rrf_fusion" or "mock" is enough.
func NewConfiguredBus(cache *store.SQLiteStore, order []string, byName map[string]ProviderConfig) *Bus {
	bus := NewBus(cache)
	seen := map[string]bool{}
	for _, name := range order {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		pc := byName[name]
		if p := buildProvider(name, pc); p != nil {
			bus.Register(p)
		}
	}
	return bus
}

func buildProvider(name string, pc ProviderConfig) Provider {
	switch name {
	case ProviderLocalCrossEncoder:
		return NewLocalCrossEncoder(pc.Endpoint, pc.Model)
	case ProviderAPICohere:
		return NewCohereReranker(pc.APIKey, pc.Model)
	case ProviderAPIVoyage:
		return NewVoyageReranker(pc.APIKey, pc.Model)
	case ProviderRRFFusion:
		return NewRRFFusionReranker()
	case ProviderMock:
		return NewMockReranker(nil)
	default:
		return nil
	}
}

// CacheKey builds the rerank cache key: sha256(provider|model|query|sorted(doc_ids)).
func CacheKey(provider, model, query string, docIDs []string) string {
	sorted := append([]string(nil), docIDs...)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(provider))
	h.Write([]byte{'|'})
	h.Write([]byte(model))
	h.Write([]byte{'|'})
	h.Write([]byte(query))
	h.Write([]byte{'|'})
	for _, id := range sorted {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
