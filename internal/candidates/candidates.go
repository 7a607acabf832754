// Package candidates runs the four seed generators (full-text, vector,
// memory, symbol) concurrently per query with an errgroup fan-out. Each
// generator is independently timebound: a slow generator degrades to an
// empty result list rather than blocking the others, so one failing
// source never fails the query.
package candidates

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pampax-dev/pampax/internal/embed"
	"github.com/pampax-dev/pampax/internal/policy"
	"github.com/pampax-dev/pampax/internal/store"
)

// Source names a candidate generator, used as the RRF fusion's source key.
type Source string

const (
	SourceFTS    Source = "fts"
	SourceVector Source = "vector"
	SourceMemory Source = "memory"
	SourceSymbol Source = "symbol"
)

// DefaultGenTimeout is the per-generator latency budget.
const DefaultGenTimeout = 300 * time.Millisecond

// Ref is one candidate returned by a generator.
type Ref struct {
	ChunkID      string
	Source       Source
	RawScore     float64
	RankInSource int
}

// Generator produces candidate refs for a query under a policy-decided
// budget k.
type Generator interface {
	Source() Source
	Generate(ctx context.Context, query string, k int) ([]Ref, error)
}

// Result is one generator's output plus whether it timed out.
type Result struct {
	Source   Source
	Refs     []Ref
	TimedOut bool
	Err      error
}

// Runner fans a query out to every registered generator concurrently,
// enforcing GenTimeout per generator.
type Runner struct {
	generators []Generator
	genTimeout time.Duration
}

// NewRunner creates a Runner over the given generators using
// DefaultGenTimeout.
func NewRunner(generators ...Generator) *Runner {
	return &Runner{generators: generators, genTimeout: DefaultGenTimeout}
}

// WithTimeout overrides the per-generator timeout.
func (r *Runner) WithTimeout(d time.Duration) *Runner {
	r.genTimeout = d
	return r
}

// StoppingReason is emitted into a bundle when a generator times out or
// errors.
type StoppingReason struct {
	Category string // "resource" | "quality" | "performance" | "error"
	Severity string
	Source   Source
	Message  string
}

// Run executes every generator concurrently with an independent
// deadline; a slow or failing generator contributes an empty list and a
// StoppingReason instead of failing the whole fan-out.
func (r *Runner) Run(ctx context.Context, query string, k int) ([]Result, []StoppingReason) {
	results := make([]Result, len(r.generators))
	var reasons []StoppingReason

	g, gctx := errgroup.WithContext(ctx)
	for i, gen := range r.generators {
		i, gen := i, gen
		g.Go(func() error {
			genCtx, cancel := context.WithTimeout(gctx, r.genTimeout)
			defer cancel()

			refs, err := gen.Generate(genCtx, query, k)
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				results[i] = Result{Source: gen.Source(), TimedOut: true, Err: err}
			case err != nil:
				results[i] = Result{Source: gen.Source(), Err: err}
			default:
				results[i] = Result{Source: gen.Source(), Refs: refs}
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res.TimedOut {
			reasons = append(reasons, StoppingReason{
				Category: "performance", Severity: "warning", Source: res.Source,
				Message: "generator exceeded timeout, continuing with partial candidates",
			})
		} else if res.Err != nil {
			reasons = append(reasons, StoppingReason{
				Category: "error", Severity: "warning", Source: res.Source,
				Message: res.Err.Error(),
			})
		}
	}

	return results, reasons
}

// FTSGenerator wraps the store's full-text index, optionally expanding
// the query with code-aware synonym/casing variants first.
type FTSGenerator struct {
	index    store.BM25Index
	expander *QueryExpander
}

func NewFTSGenerator(index store.BM25Index) *FTSGenerator {
	return &FTSGenerator{index: index}
}

// WithExpander enables query expansion before the FTS search.
func (g *FTSGenerator) WithExpander(exp *QueryExpander) *FTSGenerator {
	g.expander = exp
	return g
}

func (g *FTSGenerator) Source() Source { return SourceFTS }

func (g *FTSGenerator) Generate(ctx context.Context, query string, k int) ([]Ref, error) {
	if g.expander != nil {
		query = g.expander.Expand(query)
	}
	results, err := g.index.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	refs := make([]Ref, len(results))
	for i, r := range results {
		refs[i] = Ref{ChunkID: r.DocID, Source: SourceFTS, RawScore: r.Score, RankInSource: i + 1}
	}
	return refs, nil
}

// VectorGenerator embeds the query and searches the ANN index.
type VectorGenerator struct {
	index    store.VectorStore
	embedder embed.Embedder
}

func NewVectorGenerator(index store.VectorStore, embedder embed.Embedder) *VectorGenerator {
	return &VectorGenerator{index: index, embedder: embedder}
}

func (g *VectorGenerator) Source() Source { return SourceVector }

func (g *VectorGenerator) Generate(ctx context.Context, query string, k int) ([]Ref, error) {
	vec, err := g.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	results, err := g.index.Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	refs := make([]Ref, len(results))
	for i, r := range results {
		refs[i] = Ref{ChunkID: r.ID, Source: SourceVector, RawScore: float64(r.Score), RankInSource: i + 1}
	}
	return refs, nil
}

// MemoryGenerator searches pinned/remembered items for the project.
type MemoryGenerator struct {
	store     *store.SQLiteStore
	projectID string
}

func NewMemoryGenerator(s *store.SQLiteStore, projectID string) *MemoryGenerator {
	return &MemoryGenerator{store: s, projectID: projectID}
}

func (g *MemoryGenerator) Source() Source { return SourceMemory }

func (g *MemoryGenerator) Generate(ctx context.Context, query string, k int) ([]Ref, error) {
	items, err := g.store.SearchMemory(ctx, g.projectID, query, k)
	if err != nil {
		return nil, err
	}
	refs := make([]Ref, len(items))
	for i, item := range items {
		refs[i] = Ref{ChunkID: item.ID, Source: SourceMemory, RawScore: 1.0 / float64(i+1), RankInSource: i + 1}
	}
	return refs, nil
}

// SymbolGenerator resolves exact and fuzzy symbol-name matches using the
// extracted entities from the intent classifier (function/type names
// recognized in the query), falling back to the raw query for a
// plain-name lookup.
type SymbolGenerator struct {
	store    *store.SQLiteStore
	entities []string
}

func NewSymbolGenerator(s *store.SQLiteStore, entities []string) *SymbolGenerator {
	return &SymbolGenerator{store: s, entities: entities}
}

func (g *SymbolGenerator) Source() Source { return SourceSymbol }

func (g *SymbolGenerator) Generate(ctx context.Context, query string, k int) ([]Ref, error) {
	names := g.entities
	if len(names) == 0 {
		names = []string{query}
	}

	var refs []Ref
	rank := 1
	for _, name := range names {
		spans, err := g.store.FindSpansByName(ctx, name, k)
		if err != nil {
			return nil, err
		}
		for _, span := range spans {
			refs = append(refs, Ref{ChunkID: span.ID, Source: SourceSymbol, RawScore: 1.0 / float64(rank), RankInSource: rank})
			rank++
		}
		if len(refs) >= k {
			break
		}
	}
	return refs, nil
}

// SeedWeightFor maps a candidate Source to the policy's closest seed
// weight key. Candidate sources and Seed-Mix weight kinds are distinct
// taxonomies (source-of-candidate vs. kind-of-match); this bridges them
// with a conservative default so every source contributes to RRF fusion.
func SeedWeightFor(source Source, d policy.Decision) float64 {
	switch source {
	case SourceSymbol:
		return d.SeedWeights[policy.SourceDefinition]
	case SourceFTS:
		return d.SeedWeights[policy.SourceImplementation]
	case SourceVector:
		return d.SeedWeights[policy.SourceUsage]
	case SourceMemory:
		return d.SeedWeights[policy.SourceReference]
	default:
		return 1.0
	}
}
