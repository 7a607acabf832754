package pipeline

import (
	"github.com/pampax-dev/pampax/internal/config"
	"github.com/pampax-dev/pampax/internal/embed"
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

// sigCacheSize bounds the Signature Cache's entry count, matching
// internal/sigcache's own documented default.
const sigCacheSize = 5000

// Build assembles a Pipeline from a project's warm stores and embedder,
// wiring every one of the fourteen components (tokenizer, intent,
// policy, graph, packing, rerank bus, reliability, sigcache, outcome,
// tuner) the way cmd/pampax/cmd and internal/mcp need to construct it,
// so Search/Assemble/Rerank/Learn have exactly one build path instead of
// each caller hand-assembling Dependencies itself.
func Build(st *store.SQLiteStore, bm25 store.BM25Index, vector store.VectorStore, embedder embed.Embedder, cfg config.PipelineConfig, modelID string) *Pipeline {
	tf := tokenizer.NewFactory()
	classifier := intent.NewClassifier()
	gate := policy.NewGate()
	expander := graph.NewExpander(st, tf, modelID)
	packer := packing.NewEngine(tf)
	analyzer := outcome.NewAnalyzer(st)
	weightTuner := tuner.New(st)
	sigCache := sigcache.New(sigCacheSize)

	registry := reliability.NewRegistry()
	for _, name := range []string{"candidates:fts", "candidates:vector", "candidates:memory", "candidates:symbol", "graph:expand"} {
		registry.Register(reliability.NewDependency(name, reliability.DefaultDependencyConfig()))
	}

	order := append([]string{cfg.Reranker.DefaultProvider}, cfg.Reranker.FallbackOrder...)
	bus := rerank.NewConfiguredBus(st, order, nil)

	return New(Dependencies{
		Store:       st,
		BM25:        bm25,
		Vector:      vector,
		Embedder:    embedder,
		Classifier:  classifier,
		Gate:        gate,
		Tokenizer:   tf,
		Expander:    expander,
		Packer:      packer,
		RerankBus:   bus,
		Reliability: registry,
		SigCache:    sigCache,
		Analyzer:    analyzer,
		Tuner:       weightTuner,
		ModelID:     modelID,
		Pipeline:    cfg,
	})
}
