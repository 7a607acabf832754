package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pampax-dev/pampax/internal/candidates"
	"github.com/pampax-dev/pampax/internal/graph"
	"github.com/pampax-dev/pampax/internal/intent"
	"github.com/pampax-dev/pampax/internal/packing"
	"github.com/pampax-dev/pampax/internal/policy"
	"github.com/pampax-dev/pampax/internal/reliability"
	"github.com/pampax-dev/pampax/internal/seedmix"
	"github.com/pampax-dev/pampax/internal/store"
)

// AssembleResult is the output of Assemble: a packed Bundle plus the
// intermediate decisions a caller (or Search) may want to inspect or log.
type AssembleResult struct {
	Bundle      packing.Bundle
	Decision    policy.Decision
	GraphResult graph.Result
	Fused       []*seedmix.Fused
}

// Assemble runs candidate generation, fusion, graph expansion and
// packing for one query, stopping short of reranking so a caller can
// rerank separately (or skip it under degradation). in is the already
// classified intent so Search doesn't classify twice.
func (p *Pipeline) Assemble(ctx context.Context, req SearchRequest, in intent.Result) (*AssembleResult, error) {
	decision := p.deps.Gate.Decide(policy.Input{
		Intent:          in.Intent,
		Confidence:      in.Confidence,
		QueryLength:     len(req.Query),
		TokenBudget:     req.TokenBudget,
		Language:        req.Language,
		LanguageWeights: p.deps.Pipeline.Policy.LanguageWeights,
	})

	entities := make([]string, 0, len(in.Entities))
	for _, e := range in.Entities {
		if e.Kind == "identifier" {
			entities = append(entities, e.Value)
		}
	}

	generators := []candidates.Generator{
		candidates.NewFTSGenerator(p.deps.BM25).WithExpander(p.ftsExpander),
		candidates.NewVectorGenerator(p.deps.Vector, p.deps.Embedder),
		candidates.NewMemoryGenerator(p.deps.Store, req.ProjectID),
	}
	if len(entities) > 0 {
		generators = append(generators, candidates.NewSymbolGenerator(p.deps.Store, entities))
	}

	runner := candidates.NewRunner(generators...)
	level := p.deps.Reliability.CurrentLevel()
	results, _ := runner.Run(ctx, req.Query, seedK(decision))
	results = filterBySources(results, level)

	weights := make(map[candidates.Source]float64, len(results))
	for _, r := range results {
		weights[r.Source] = candidates.SeedWeightFor(r.Source, decision)
	}

	mixer := seedmix.NewMixer()
	fused := mixer.Fuse(results, weights)
	fused = seedmix.ApplyEarlyStop(fused, decision.EarlyStopThreshold)

	sourceOf := sourceIndexOf(results)

	candList := make([]packing.Candidate, 0, len(fused))
	seedSpanIDs := make([]string, 0)
	for _, f := range fused {
		c, spanID, err := p.hydrate(ctx, f, sourceOf)
		if err != nil || c == nil {
			continue
		}
		candList = append(candList, *c)
		if spanID != "" {
			seedSpanIDs = append(seedSpanIDs, spanID)
		}
	}

	var graphResult graph.Result
	if decision.MaxDepth > 0 && len(seedSpanIDs) > 0 && level < reliability.LevelUnavailable {
		gr, err := p.deps.Expander.Expand(ctx, seedSpanIDs, graph.Options{
			MaxDepth:    decision.MaxDepth,
			TokenBudget: req.TokenBudget / 4,
			Now:         time.Now(),
		})
		if err == nil {
			graphResult = gr
			candList = append(candList, p.hydrateExpandedSpans(ctx, gr, candList)...)
		}
	}

	profile := packing.DefaultProfile()
	profile.CapsuleMaxTokens = p.deps.Pipeline.Packing.CapsuleMaxTokens
	profile.TruncateStrategy = p.deps.Pipeline.Packing.TruncateStrategy
	if share := p.deps.Pipeline.Packing.MustHaveShare; share > 0 {
		profile.TierShare[packing.TierMustHave] = share
	}

	bundle := p.deps.Packer.Pack(candList, in.Intent, profile, p.modelID, req.TokenBudget)

	return &AssembleResult{Bundle: bundle, Decision: decision, GraphResult: graphResult, Fused: fused}, nil
}

// seedK is the per-generator candidate budget, scaled off the policy's
// early-stop threshold so a tight threshold still leaves fusion enough
// per-source depth to pick from.
func seedK(d policy.Decision) int {
	k := d.EarlyStopThreshold * 4
	if k < 20 {
		k = 20
	}
	return k
}

// filterBySources drops the vector source when reliability has demoted
// the pipeline to LevelReducedSources or worse, and drops everything but
// FTS at LevelFTSOnly.
func filterBySources(results []candidates.Result, level reliability.DegradationLevel) []candidates.Result {
	if level < reliability.LevelReducedSources {
		return results
	}
	out := make([]candidates.Result, 0, len(results))
	for _, r := range results {
		if level >= reliability.LevelFTSOnly && r.Source != candidates.SourceFTS {
			continue
		}
		if level == reliability.LevelReducedSources && r.Source == candidates.SourceVector {
			continue
		}
		out = append(out, r)
	}
	return out
}

func sourceIndexOf(results []candidates.Result) map[string]candidates.Source {
	idx := make(map[string]candidates.Source)
	for _, r := range results {
		for _, ref := range r.Refs {
			if _, exists := idx[ref.ChunkID]; !exists {
				idx[ref.ChunkID] = r.Source
			}
		}
	}
	return idx
}

// hydrate resolves one fused candidate's opaque id into a packing
// Candidate. A symbol-sourced id is a span id; a memory-sourced id is a
// memory item id; everything else is a chunk id. It returns the span id
// backing the candidate (when known) so the caller can seed graph
// expansion from it.
func (p *Pipeline) hydrate(ctx context.Context, f *seedmix.Fused, sourceOf map[string]candidates.Source) (*packing.Candidate, string, error) {
	src, known := sourceOf[f.ChunkID]
	if known && src == candidates.SourceSymbol {
		span, err := p.deps.Store.GetSpan(ctx, f.ChunkID)
		if err != nil || span == nil {
			return nil, "", err
		}
		return spanCandidate(span, f.RRFScore), span.ID, nil
	}
	if known && src == candidates.SourceMemory {
		item, err := p.deps.Store.GetMemoryItem(ctx, f.ChunkID)
		if err != nil || item == nil {
			return nil, "", err
		}
		return memoryCandidate(item, f.RRFScore), "", nil
	}

	chunk, err := p.deps.Store.GetChunk(ctx, f.ChunkID)
	if err != nil {
		return nil, "", err
	}
	if chunk == nil {
		return nil, "", nil
	}
	spanID := chunk.Metadata["span_id"]
	return chunkCandidate(chunk, f.RRFScore), spanID, nil
}

func chunkCandidate(c *store.Chunk, score float64) *packing.Candidate {
	var sig, doc, kind string
	if len(c.Symbols) > 0 {
		sig = c.Symbols[0].Signature
		doc = c.Symbols[0].DocComment
		kind = string(c.Symbols[0].Type)
	}
	return &packing.Candidate{
		ChunkID:    c.ID,
		Score:      score,
		Kind:       packing.ClassifyKind(c.FilePath, kind),
		FilePath:   c.FilePath,
		StartLine:  c.StartLine,
		EndLine:    c.EndLine,
		Content:    c.Content,
		Signature:  sig,
		DocComment: doc,
	}
}

func spanCandidate(s *store.Span, score float64) *packing.Candidate {
	return &packing.Candidate{
		ChunkID:    s.ID,
		Score:      score,
		Kind:       packing.ClassifyKind(s.Path, s.Kind),
		FilePath:   s.Path,
		StartLine:  s.StartLine,
		EndLine:    s.EndLine,
		Content:    strings.TrimSpace(s.Signature + "\n" + s.Doc),
		Signature:  s.Signature,
		DocComment: s.Doc,
	}
}

func memoryCandidate(m *store.MemoryItem, score float64) *packing.Candidate {
	return &packing.Candidate{
		ChunkID:  m.ID,
		Score:    score,
		Kind:     packing.KindDocs,
		FilePath: "memory:" + m.Kind,
		Content:  m.Content,
	}
}

// hydrateExpandedSpans resolves the Graph Expander's newly visited nodes
// into packing Candidates, skipping any span already present from
// candidate generation.
func (p *Pipeline) hydrateExpandedSpans(ctx context.Context, gr graph.Result, existing []packing.Candidate) []packing.Candidate {
	present := make(map[string]bool, len(existing))
	for _, c := range existing {
		present[c.ChunkID] = true
	}

	added := make([]packing.Candidate, 0)
	for _, id := range gr.VisitedNodes {
		if present[id] {
			continue
		}
		span, err := p.deps.Store.GetSpan(ctx, id)
		if err != nil || span == nil {
			continue
		}
		added = append(added, *spanCandidate(span, 0))
		present[id] = true
	}
	return added
}

func marshalSeedWeights(w map[policy.SeedSource]float64) (string, error) {
	if len(w) == 0 {
		return "{}", nil
	}
	plain := make(map[string]float64, len(w))
	for k, v := range w {
		plain[string(k)] = v
	}
	b, err := json.Marshal(plain)
	if err != nil {
		return "{}", fmt.Errorf("marshal seed weights: %w", err)
	}
	return string(b), nil
}

func signatureID(query, bundleSignature string) string {
	h := sha256.New()
	h.Write([]byte(query))
	h.Write([]byte{'|'})
	h.Write([]byte(bundleSignature))
	return hex.EncodeToString(h.Sum(nil))
}
