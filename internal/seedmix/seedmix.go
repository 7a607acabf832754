// Package seedmix fuses candidate lists from every generator into one
// ranked seed list with weighted reciprocal rank fusion over an
// arbitrary number of sources, with a deterministic tie-break
// chain, and normalization step.
package seedmix

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pampax-dev/pampax/internal/candidates"
)

// DefaultK is the RRF smoothing constant.
const DefaultK = 60

// EarlyStopRatio is the score-decay ratio below which the mixed list is
// truncated: if score[threshold-1]/score[0] falls under this, everything
// past the threshold is dropped as noise.
const EarlyStopRatio = 0.30

// Fused is one chunk's fused score plus provenance across sources.
type Fused struct {
	ChunkID     string
	RRFScore    float64
	SourceCount int
	MaxScore    float64
	PerSource   map[candidates.Source]float64
}

// Mixer fuses per-source candidate lists with per-source weights.
type Mixer struct {
	K int
}

// NewMixer creates a Mixer using DefaultK.
func NewMixer() *Mixer {
	return &Mixer{K: DefaultK}
}

// NewMixerWithK creates a Mixer with a custom smoothing constant.
func NewMixerWithK(k int) *Mixer {
	if k <= 0 {
		k = DefaultK
	}
	return &Mixer{K: k}
}

// Fuse combines N sources' candidate lists into one ranked, deduplicated
// list. weights maps each source to its policy-derived seed weight;
// sources absent from weights contribute with weight 1.0.
func (m *Mixer) Fuse(sources []candidates.Result, weights map[candidates.Source]float64) []*Fused {
	scores := make(map[string]*Fused)

	maxLen := 0
	for _, s := range sources {
		if len(s.Refs) > maxLen {
			maxLen = len(s.Refs)
		}
	}
	missingRank := maxLen + 1

	present := make(map[string]map[candidates.Source]bool)
	for _, s := range sources {
		weight := weights[s.Source]
		if weight == 0 {
			weight = 1.0
		}
		for _, ref := range s.Refs {
			f := m.getOrCreate(scores, ref.ChunkID)
			f.RRFScore += weight / float64(m.K+ref.RankInSource)
			if ref.RawScore > f.MaxScore {
				f.MaxScore = ref.RawScore
			}
			f.PerSource[s.Source] = ref.RawScore

			if present[ref.ChunkID] == nil {
				present[ref.ChunkID] = make(map[candidates.Source]bool)
			}
			present[ref.ChunkID][s.Source] = true
		}
	}

	// Missing-source contribution: every chunk gets each absent source's
	// weight applied at missingRank, the two-source fusion rule
	// generalized to N.
	for chunkID, seenSources := range present {
		f := scores[chunkID]
		for _, s := range sources {
			if seenSources[s.Source] {
				continue
			}
			weight := weights[s.Source]
			if weight == 0 {
				weight = 1.0
			}
			f.RRFScore += weight / float64(m.K+missingRank)
		}
		f.SourceCount = len(seenSources)
	}

	results := m.toSortedSlice(scores)
	m.normalize(results)
	return results
}

func (m *Mixer) getOrCreate(scores map[string]*Fused, chunkID string) *Fused {
	if f, ok := scores[chunkID]; ok {
		return f
	}
	f := &Fused{ChunkID: chunkID, PerSource: make(map[candidates.Source]float64)}
	scores[chunkID] = f
	return f
}

func (m *Mixer) toSortedSlice(scores map[string]*Fused) []*Fused {
	results := make([]*Fused, 0, len(scores))
	for _, f := range scores {
		results = append(results, f)
	}
	sort.Slice(results, func(i, j int) bool {
		return m.compare(results[i], results[j])
	})
	return results
}

// compare implements the tie-break chain: RRF score desc, then source
// count desc (more corroborating sources beats fewer, generalizing
// InBothLists), then max per-source score desc, then ChunkID asc.
func (m *Mixer) compare(a, b *Fused) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}
	if a.SourceCount != b.SourceCount {
		return a.SourceCount > b.SourceCount
	}
	if a.MaxScore != b.MaxScore {
		return a.MaxScore > b.MaxScore
	}
	return a.ChunkID < b.ChunkID
}

func (m *Mixer) normalize(results []*Fused) {
	if len(results) == 0 {
		return
	}
	maxScore := results[0].RRFScore
	if maxScore == 0 {
		return
	}
	for _, r := range results {
		r.RRFScore /= maxScore
	}
}

// ApplyEarlyStop truncates the fused list at threshold if the score has
// already decayed past EarlyStopRatio.
func ApplyEarlyStop(results []*Fused, threshold int) []*Fused {
	if threshold <= 0 || threshold >= len(results) || len(results) == 0 {
		return results
	}
	top := results[0].RRFScore
	if top == 0 {
		return results
	}
	if results[threshold-1].RRFScore/top < EarlyStopRatio {
		return results[:threshold]
	}
	return results
}

// CacheEntry is a stored fused result set, reused across identical
// (intent, confidence bucket, policy) queries.
type CacheEntry struct {
	Results   []*Fused
	ExpiresAt time.Time
}

// DefaultCacheSize and DefaultCacheTTL bound the weight-profile cache.
const (
	DefaultCacheSize = 1000
	DefaultCacheTTL  = 5 * time.Minute
)

// Cache memoizes fused results keyed by (intent, confidence bucket,
// policy hash), the same hashicorp/golang-lru/v2 idiom the other
// pipeline caches use.
type Cache struct {
	mu    sync.Mutex
	inner *lru.Cache[string, CacheEntry]
	ttl   time.Duration
}

// NewCache creates a Cache with DefaultCacheSize and DefaultCacheTTL.
func NewCache() *Cache {
	inner, _ := lru.New[string, CacheEntry](DefaultCacheSize)
	return &Cache{inner: inner, ttl: DefaultCacheTTL}
}

// Key builds the cache key from an intent string, a confidence bucket
// (already pre-bucketed by the caller), and a policy hash.
func Key(intentName, confidenceBucket, policyHash string) string {
	return intentName + "|" + confidenceBucket + "|" + policyHash
}

// Get returns the cached fused results if present and unexpired.
func (c *Cache) Get(key string, now time.Time) ([]*Fused, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.inner.Get(key)
	if !ok {
		return nil, false
	}
	if now.After(entry.ExpiresAt) {
		c.inner.Remove(key)
		return nil, false
	}
	return entry.Results, true
}

// Set stores fused results under key with the cache's configured TTL.
func (c *Cache) Set(key string, results []*Fused, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(key, CacheEntry{Results: results, ExpiresAt: now.Add(c.ttl)})
}

// ConfidenceBucket rounds a confidence value to one decimal place for
// use as part of a cache key, so near-identical confidences share a
// cache entry instead of each missing independently.
func ConfidenceBucket(confidence float64) string {
	return strconv.Itoa(int(confidence*10)) + "/10"
}

// PolicyHash derives a stable cache-key component from a policy
// decision's tunable fields.
func PolicyHash(maxDepth, earlyStop int, weights map[string]float64) string {
	keys := make([]string, 0, len(weights))
	for k := range weights {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	fmt.Fprintf(h, "%d|%d", maxDepth, earlyStop)
	for _, k := range keys {
		fmt.Fprintf(h, "|%s=%.3f", k, weights[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}
