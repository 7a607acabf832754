package pipeline

import (
	"context"
	"sort"

	"github.com/pampax-dev/pampax/internal/packing"
	"github.com/pampax-dev/pampax/internal/rerank"
)

// RerankBus exposes the provider bus for callers that rerank arbitrary
// candidate lists (the MCP rerank tool) rather than a packed Bundle.
func (p *Pipeline) RerankBus() *rerank.Bus {
	return p.deps.RerankBus
}

// Rerank re-orders an already-packed Bundle's items by relevance to
// query, dispatching through the Reranker Provider Bus. provider selects
// a specific registered provider; "" uses the configured default. A
// provider error, or every packed item being skipped, returns the
// bundle unchanged rather than failing the whole request — reranking is
// an optimization, not a correctness requirement.
func (p *Pipeline) Rerank(ctx context.Context, bundle *packing.Bundle, query, provider string) (*packing.Bundle, error) {
	if provider == "" {
		provider = p.deps.Pipeline.Reranker.DefaultProvider
	}

	docs := make([]rerank.Document, 0, len(bundle.Items))
	for _, item := range bundle.Items {
		if item.Strategy == packing.StrategySkipped {
			continue
		}
		docs = append(docs, rerank.Document{DocRef: item.Candidate.ChunkID, Content: item.Content})
	}
	if len(docs) == 0 {
		return bundle, nil
	}

	topN := p.deps.Pipeline.Reranker.TopN
	if topN <= 0 {
		topN = rerank.DefaultTopN
	}

	items, err := p.deps.RerankBus.Execute(ctx, provider, query, docs, topN)
	if err != nil {
		return bundle, nil
	}

	rank := make(map[string]int, len(items))
	for i, it := range items {
		rank[it.DocRef] = i
	}

	reordered := append([]packing.PackedItem(nil), bundle.Items...)
	sort.SliceStable(reordered, func(i, j int) bool {
		ri, iok := rank[reordered[i].Candidate.ChunkID]
		rj, jok := rank[reordered[j].Candidate.ChunkID]
		if !iok && !jok {
			return false
		}
		if !iok {
			return false
		}
		if !jok {
			return true
		}
		return ri < rj
	})

	out := *bundle
	out.Items = reordered
	return &out, nil
}
