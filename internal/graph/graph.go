// Package graph expands a seed set of spans outward along reference
// edges (calls, imports) to pull in related context a pure ranked-list
// search would miss. Sibling nodes within one BFS wave are processed
// concurrently with an errgroup fan-out, the same shape
// internal/candidates uses for its generator fan-out.
package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/pampax-dev/pampax/internal/store"
	"github.com/pampax-dev/pampax/internal/tokenizer"
)

// DefaultMaxDepth caps BFS expansion at two hops (the Policy Gate may
// request up to its own max_depth, but the expander never exceeds this).
const DefaultMaxDepth = 2

// DefaultWorkers bounds per-wave concurrency.
const DefaultWorkers = 8

// Edge is one traversed reference, carried in the result for the
// packing engine to cite.
type Edge struct {
	SrcSpanID string
	DstSpanID string
	Kind      string
	Depth     int
}

// Result is the Graph Expander's full output for one query.
type Result struct {
	VisitedNodes          []string
	Edges                 []Edge
	ExpansionDepthReached int
	TokensUsed            int
	Truncated             bool
	PerformanceMS         int64
	CacheHit              bool
}

// expandStore is the subset of SQLiteStore the expander needs, kept
// narrow so tests can fake it without standing up a real database.
type expandStore interface {
	GetOutgoingReferences(ctx context.Context, srcSpanID string) ([]*store.Reference, error)
	GetIncomingReferences(ctx context.Context, dstSpanID string) ([]*store.Reference, error)
	GetSpan(ctx context.Context, id string) (*store.Span, error)
}

// Expander performs token-guarded BFS from a seed set.
type Expander struct {
	store      expandStore
	tokenizer  *tokenizer.Factory
	modelID    string
	maxWorkers int
	cache      *lru.Cache[string, Result]
	cacheTTL   time.Duration
	expiresAt  map[string]time.Time
	mu         sync.Mutex
}

// NewExpander creates an Expander bounded by DefaultWorkers, caching
// results for 5 minutes over up to 1000 entries.
func NewExpander(s expandStore, tf *tokenizer.Factory, modelID string) *Expander {
	e := &Expander{
		store:      s,
		tokenizer:  tf,
		modelID:    modelID,
		maxWorkers: DefaultWorkers,
		cacheTTL:   5 * time.Minute,
		expiresAt:  make(map[string]time.Time),
	}
	// The evict callback keeps expiresAt from outliving its LRU entry.
	e.cache, _ = lru.NewWithEvict[string, Result](1000, func(key string, _ Result) {
		delete(e.expiresAt, key)
	})
	return e
}

// Options configures one expansion call.
type Options struct {
	MaxDepth     int
	AllowedKinds []string // empty means all edge kinds allowed
	TokenBudget  int
	Now          time.Time
}

// CacheKey builds the expander's cache key: sorted seed ids, depth,
// allowed kinds, and a coarse token-budget bucket.
func CacheKey(seedIDs []string, depth int, allowedKinds []string, budget int) string {
	sorted := append([]string(nil), seedIDs...)
	sort.Strings(sorted)
	kinds := append([]string(nil), allowedKinds...)
	sort.Strings(kinds)

	h := sha256.New()
	for _, id := range sorted {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	h.Write([]byte{'|'})
	for _, k := range kinds {
		h.Write([]byte(k))
		h.Write([]byte{0})
	}
	h.Write([]byte{'|'})
	bucket := budget / 500 // coarse bucketing so near-identical budgets share a cache line
	binWrite(h, bucket)
	binWrite(h, depth)
	return hex.EncodeToString(h.Sum(nil))
}

func binWrite(h interface{ Write([]byte) (int, error) }, n int) {
	buf := make([]byte, 0, 8)
	for n > 0 {
		buf = append(buf, byte(n&0xff))
		n >>= 8
	}
	_, _ = h.Write(buf)
}

// Expand performs a BFS from seedIDs out to opts.MaxDepth (capped at
// DefaultMaxDepth), processing each wave's siblings concurrently, and
// guarding the token budget as nodes are discovered.
func (e *Expander) Expand(ctx context.Context, seedIDs []string, opts Options) (Result, error) {
	start := time.Now()
	if opts.MaxDepth <= 0 || opts.MaxDepth > DefaultMaxDepth {
		opts.MaxDepth = DefaultMaxDepth
	}

	key := CacheKey(seedIDs, opts.MaxDepth, opts.AllowedKinds, opts.TokenBudget)
	if cached, ok := e.getCached(key, opts.Now); ok {
		cached.CacheHit = true
		return cached, nil
	}

	allowed := make(map[string]bool, len(opts.AllowedKinds))
	for _, k := range opts.AllowedKinds {
		allowed[k] = true
	}

	visited := make(map[string]bool, len(seedIDs))
	for _, id := range seedIDs {
		visited[id] = true
	}

	var (
		mu           sync.Mutex
		edges        []Edge
		tokensUsed   int
		truncated    bool
		depthReached int
	)

	frontier := append([]string(nil), seedIDs...)
	for depth := 1; depth <= opts.MaxDepth && len(frontier) > 0; depth++ {
		depth := depth
		g, gctx := errgroup.WithContext(ctx)
		sem := make(chan struct{}, e.maxWorkers)
		var nextMu sync.Mutex
		var next []string

		for _, nodeID := range frontier {
			nodeID := nodeID
			g.Go(func() error {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-gctx.Done():
					return gctx.Err()
				}

				outRefs, err := e.store.GetOutgoingReferences(gctx, nodeID)
				if err != nil {
					return err
				}
				inRefs, err := e.store.GetIncomingReferences(gctx, nodeID)
				if err != nil {
					return err
				}

				// Outgoing edges point to DstSpanID; incoming edges point
				// back to SrcSpanID. Both directions get walked.
				type directed struct {
					other string
					kind  string
				}
				neighbors := make([]directed, 0, len(outRefs)+len(inRefs))
				for _, ref := range outRefs {
					neighbors = append(neighbors, directed{other: ref.DstSpanID, kind: ref.Kind})
				}
				for _, ref := range inRefs {
					neighbors = append(neighbors, directed{other: ref.SrcSpanID, kind: ref.Kind})
				}

				for _, nb := range neighbors {
					if len(allowed) > 0 && !allowed[nb.kind] {
						continue
					}
					dst := nb.other
					if dst == "" {
						continue
					}

					mu.Lock()
					if visited[dst] {
						mu.Unlock()
						continue
					}
					mu.Unlock()

					span, err := e.store.GetSpan(gctx, dst)
					if err != nil || span == nil {
						continue
					}

					estimate := e.tokenizer.Count(e.modelID, span.Signature+span.Doc)

					mu.Lock()
					if opts.TokenBudget > 0 && tokensUsed+estimate > opts.TokenBudget {
						truncated = true
						mu.Unlock()
						continue
					}
					if visited[dst] {
						mu.Unlock()
						continue
					}
					visited[dst] = true
					tokensUsed += estimate
					edges = append(edges, Edge{SrcSpanID: nodeID, DstSpanID: dst, Kind: nb.kind, Depth: depth})
					mu.Unlock()

					nextMu.Lock()
					next = append(next, dst)
					nextMu.Unlock()
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return Result{}, err
		}

		if len(next) > 0 {
			depthReached = depth
		}
		frontier = next
	}

	nodes := make([]string, 0, len(visited))
	for id := range visited {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Depth != edges[j].Depth {
			return edges[i].Depth < edges[j].Depth
		}
		if edges[i].SrcSpanID != edges[j].SrcSpanID {
			return edges[i].SrcSpanID < edges[j].SrcSpanID
		}
		return edges[i].DstSpanID < edges[j].DstSpanID
	})

	result := Result{
		VisitedNodes:          nodes,
		Edges:                 edges,
		ExpansionDepthReached: depthReached,
		TokensUsed:            tokensUsed,
		Truncated:             truncated,
		PerformanceMS:         time.Since(start).Milliseconds(),
	}
	e.setCached(key, result, opts.Now)
	return result, nil
}

func (e *Expander) getCached(key string, now time.Time) (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.cache.Get(key)
	if !ok {
		return Result{}, false
	}
	if expiry, ok := e.expiresAt[key]; ok && now.After(expiry) {
		e.cache.Remove(key)
		delete(e.expiresAt, key)
		return Result{}, false
	}
	return r, true
}

func (e *Expander) setCached(key string, r Result, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.Add(key, r)
	e.expiresAt[key] = now.Add(e.cacheTTL)
}

// Invalidate drops a cache entry, used when the Store reindexes any
// node that participated in that key.
func (e *Expander) Invalidate(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.Remove(key)
	delete(e.expiresAt, key)
}
