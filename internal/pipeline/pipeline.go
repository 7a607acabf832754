// Package pipeline wires the fourteen retrieval components into the
// operations a caller actually invokes: Search (the end-to-end query
// path), Assemble/Rerank (its two halves, exposed separately so a
// caller can rerank an already-assembled bundle), the Remember/Forget
// memory operations, the offline Learn pass, and Health. One query
// flows intent -> policy -> candidates -> seedmix -> graph -> packing ->
// rerank, with signature-cache short-circuiting and interaction
// recording around the whole chain.
package pipeline

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pampax-dev/pampax/internal/candidates"
	"github.com/pampax-dev/pampax/internal/config"
	"github.com/pampax-dev/pampax/internal/embed"
	pxerrors "github.com/pampax-dev/pampax/internal/errors"
	"github.com/pampax-dev/pampax/internal/graph"
	"github.com/pampax-dev/pampax/internal/intent"
	"github.com/pampax-dev/pampax/internal/outcome"
	"github.com/pampax-dev/pampax/internal/packing"
	"github.com/pampax-dev/pampax/internal/policy"
	"github.com/pampax-dev/pampax/internal/reliability"
	"github.com/pampax-dev/pampax/internal/rerank"
	"github.com/pampax-dev/pampax/internal/sigcache"
	"github.com/pampax-dev/pampax/internal/store"
	"github.com/pampax-dev/pampax/internal/tokenizer"
	"github.com/pampax-dev/pampax/internal/tuner"
)

// DefaultModelID is the token-budget model family used when a request
// doesn't name one, matching the tokenizer factory's best-populated row.
const DefaultModelID = "claude-3.5"

// bundleCacheSize bounds the pipeline's own signature-hit cache: sigcache
// maps a query signature to a bundle id, not the bundle itself, so
// something has to hold the id -> Bundle mapping for the short-circuit
// to actually save work.
const bundleCacheSize = 2000

// Dependencies bundles every component Search/Assemble/Rerank/Learn
// drive. All fields are required except Reranker providers, which a
// caller registers after construction via Pipeline.Rerank's Bus.
type Dependencies struct {
	Store       *store.SQLiteStore
	BM25        store.BM25Index
	Vector      store.VectorStore
	Embedder    embed.Embedder
	Classifier  *intent.Classifier
	Gate        *policy.Gate
	Tokenizer   *tokenizer.Factory
	Expander    *graph.Expander
	Packer      *packing.Engine
	RerankBus   *rerank.Bus
	Reliability *reliability.Registry
	SigCache    *sigcache.Cache
	Analyzer    *outcome.Analyzer
	Tuner       *tuner.Tuner
	ModelID     string
	Pipeline    config.PipelineConfig
}

// Pipeline is the assembled retrieval engine for one project/store pair.
type Pipeline struct {
	deps        Dependencies
	bundles     *lru.Cache[string, *packing.Bundle]
	modelID     string
	ftsExpander *candidates.QueryExpander
}

// New builds a Pipeline from its dependencies, defaulting ModelID to
// DefaultModelID when unset.
func New(deps Dependencies) *Pipeline {
	modelID := deps.ModelID
	if modelID == "" {
		modelID = DefaultModelID
	}
	bundles, _ := lru.New[string, *packing.Bundle](bundleCacheSize)
	return &Pipeline{
		deps:        deps,
		bundles:     bundles,
		modelID:     modelID,
		ftsExpander: candidates.NewQueryExpander(),
	}
}

// SearchRequest is one end-user query.
type SearchRequest struct {
	ProjectID   string
	Repo        string
	Query       string
	TokenBudget int
	Language    string
	Reranker    string // provider name, "" uses the configured default
}

// SearchResponse is Search's full result: the packed bundle, the
// decisions that produced it, and whether it was served from cache.
type SearchResponse struct {
	Bundle           packing.Bundle
	Intent           intent.Result
	Decision         policy.Decision
	GraphResult      graph.Result
	DegradationLevel reliability.DegradationLevel
	CacheHit         bool
	BundleSignature  string
	LatencyMS        int64
}

// Search runs the full pipeline: classify, check the signature cache,
// assemble candidates into a bundle, rerank, then record the
// interaction the Outcome Analyzer will later read. It is the
// top-level query entry point; Assemble and
// Rerank exist as separately callable halves for tools that only need
// one side (a caller re-ranking an already-packed bundle, for example).
func (p *Pipeline) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, pxerrors.NewKind(pxerrors.KindCancelled, "search cancelled before it started", err)
	}
	if req.TokenBudget <= 0 {
		req.TokenBudget = p.deps.Pipeline.Policy.DefaultTokenBudget
	}

	in, err := p.deps.Classifier.Classify(req.Query)
	if err != nil {
		return nil, fmt.Errorf("classify query: %w", err)
	}

	contextBucket := bucketTokens(req.TokenBudget)
	signature := sigcache.Signature(req.Query, string(in.Intent), contextBucket)

	if entry, ok := p.deps.SigCache.Get(signature, time.Now()); ok {
		if bundle, ok := p.bundles.Get(entry.BundleID); ok {
			resp := &SearchResponse{
				Bundle:           *bundle,
				Intent:           in,
				CacheHit:         true,
				BundleSignature:  signature,
				DegradationLevel: p.deps.Reliability.CurrentLevel(),
				LatencyMS:        time.Since(start).Milliseconds(),
			}
			p.recordInteraction(ctx, req, in, resp, nil)
			return resp, nil
		}
	}

	asm, err := p.Assemble(ctx, req, in)
	if err != nil {
		return nil, err
	}

	bundle := asm.Bundle
	if p.deps.Reliability.CurrentLevel() < reliability.LevelNoRerank {
		reranked, err := p.Rerank(ctx, &bundle, req.Query, req.Reranker)
		if err == nil {
			bundle = *reranked
		}
	}

	sourceCounts := sourceCountsOf(bundle)
	bundleSig := outcome.BundleSignature(sourceCounts, string(in.Intent), bundle.TokenReport.Actual, req.TokenBudget)
	bundleID := bundleSig
	p.bundles.Add(bundleID, &bundle)

	resp := &SearchResponse{
		Bundle:           bundle,
		Intent:           in,
		Decision:         asm.Decision,
		GraphResult:      asm.GraphResult,
		DegradationLevel: p.deps.Reliability.CurrentLevel(),
		BundleSignature:  bundleSig,
		LatencyMS:        time.Since(start).Milliseconds(),
	}
	p.recordInteraction(ctx, req, in, resp, &bundleID)
	return resp, nil
}

func bucketTokens(budget int) string {
	switch {
	case budget <= 2000:
		return "small"
	case budget <= 8000:
		return "medium"
	default:
		return "large"
	}
}

func sourceCountsOf(b packing.Bundle) map[string]int {
	counts := make(map[string]int)
	for _, item := range b.Items {
		if item.Strategy == packing.StrategySkipped {
			continue
		}
		counts[string(item.Candidate.Kind)]++
	}
	return counts
}

func (p *Pipeline) recordInteraction(ctx context.Context, req SearchRequest, in intent.Result, resp *SearchResponse, bundleID *string) {
	var resultIDs string
	for i, item := range resp.Bundle.Items {
		if i > 0 {
			resultIDs += ","
		}
		resultIDs += item.Candidate.ChunkID
	}

	weightsJSON, _ := marshalSeedWeights(resp.Decision.SeedWeights)
	it := &store.Interaction{
		ID:              signatureID(req.Query, resp.BundleSignature),
		ProjectID:       req.ProjectID,
		Query:           req.Query,
		Intent:          string(in.Intent),
		ResultIDs:       resultIDs,
		OccurredAt:      time.Now(),
		BundleSignature: resp.BundleSignature,
		TokenUsage:      resp.Bundle.TokenReport.Actual,
		SeedWeightsJSON: weightsJSON,
		LatencyMS:       int(resp.LatencyMS),
	}
	_ = p.deps.Store.RecordInteraction(ctx, it)

	if bundleID != nil {
		// Provisional satisfaction: a non-empty bundle that packed without
		// degradation is assumed good enough to replay until outcome
		// feedback says otherwise. Degraded or empty bundles never enter
		// the signature cache.
		if packedCount(resp.Bundle) > 0 && resp.Bundle.TokenReport.DegradationLevel == 0 {
			sig := sigcache.Signature(req.Query, string(in.Intent), bucketTokens(req.TokenBudget))
			p.deps.SigCache.Put(sig, *bundleID, provisionalSatisfaction, time.Now())
		}
	}
}

// provisionalSatisfaction is written for clean, undegraded bundles; it
// clears sigcache.MinSatisfaction so repeats short-circuit, while real
// outcome feedback can later overwrite it in either direction.
const provisionalSatisfaction = 0.9

func packedCount(b packing.Bundle) int {
	n := 0
	for _, item := range b.Items {
		if item.Strategy != packing.StrategySkipped {
			n++
		}
	}
	return n
}
