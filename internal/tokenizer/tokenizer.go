// Package tokenizer estimates model token counts for packing and budget
// decisions. It is distinct from internal/store's CodeTokenizer, which
// splits identifiers for BM25 indexing; this package counts tokens the way
// a model family would, for budget arithmetic, not for search matching.
package tokenizer

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the count cache.
const DefaultCacheSize = 10000

// family holds the calibrated characters-per-token ratio and context
// window for one logical model family. Ratios come from measuring real
// tokenizer output over mixed code/prose corpora; they drift a few
// percent per model revision, which is fine for budget arithmetic.
type family struct {
	charsPerToken float64
	contextWindow int
}

// families maps a model id prefix to its calibration. Lookup is by
// longest matching prefix so "gpt-4o-mini" resolves through "gpt-4o".
var families = map[string]family{
	"gpt-4o":        {4.0, 128000},
	"gpt-4-turbo":   {4.0, 128000},
	"gpt-4":         {4.0, 8192},
	"gpt-3.5-turbo": {4.0, 16385},
	"o1":            {4.0, 200000},
	"claude-3.5":    {3.8, 200000},
	"claude-3":      {3.8, 200000},
	"claude-4":      {3.8, 200000},
	"gemini-2.0":    {4.1, 1000000},
	"gemini-1.5":    {4.1, 1000000},
	"llama-3":       {3.9, 128000},
	"mistral":       {3.9, 32768},
	"qwen":          {3.7, 32768},
	"nomic-embed":   {4.0, 8192},
}

// DefaultCharsPerToken and DefaultContextWindow apply to model ids no
// family prefix matches.
const (
	DefaultCharsPerToken = 3.8
	DefaultContextWindow = 128000
)

// Result is one measurement: the count, the model it was counted for,
// that model's context window, and whether the generic fallback ratio
// was used rather than a family calibration.
type Result struct {
	Count         int
	ModelID       string
	ContextWindow int
	Estimated     bool
}

// Factory produces per-model token counters and caches their results.
// Counting is arithmetic over a bundled ratio table, so the cache exists
// purely to avoid recomputing rune counts on repeatedly packed chunks.
type Factory struct {
	cache *lru.Cache[string, int]
}

// NewFactory creates a token-counting factory with the default cache size.
func NewFactory() *Factory {
	cache, _ := lru.New[string, int](DefaultCacheSize)
	return &Factory{cache: cache}
}

// Count returns the estimated token count of text under modelID, consulting
// the cache first. The cache key is (modelID, sha256(text)) so identical
// text counted under different models is never conflated.
func (f *Factory) Count(modelID, text string) int {
	if text == "" {
		return 0
	}

	key := cacheKey(modelID, text)
	if n, ok := f.cache.Get(key); ok {
		return n
	}

	n := f.count(modelID, text)
	f.cache.Add(key, n)
	return n
}

// Measure is Count plus the model metadata a caller needs to reason
// about headroom: the family's context window and whether the count came
// from the generic fallback ratio.
func (f *Factory) Measure(modelID, text string) Result {
	fam, known := lookup(modelID)
	return Result{
		Count:         f.Count(modelID, text),
		ModelID:       modelID,
		ContextWindow: fam.contextWindow,
		Estimated:     !known,
	}
}

// ContextWindow returns the context window for modelID's family.
func ContextWindow(modelID string) int {
	fam, _ := lookup(modelID)
	return fam.contextWindow
}

func lookup(modelID string) (family, bool) {
	best := ""
	for prefix := range families {
		if strings.HasPrefix(modelID, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return family{DefaultCharsPerToken, DefaultContextWindow}, false
	}
	return families[best], true
}

func (f *Factory) count(modelID, text string) int {
	fam, _ := lookup(modelID)
	runes := utf8.RuneCountInString(text)
	n := int(float64(runes) / fam.charsPerToken)
	if n < 1 {
		n = 1
	}
	return n
}

// Fits reports whether text counts under budget tokens for modelID.
func (f *Factory) Fits(modelID, text string, budget int) bool {
	return f.Count(modelID, text) <= budget
}

func cacheKey(modelID, text string) string {
	sum := sha256.Sum256([]byte(text))
	return modelID + ":" + hex.EncodeToString(sum[:])
}
