// Package sigcache maps a query signature to a previously served bundle
// so a high-satisfaction repeat skips candidate generation entirely: a
// hashicorp/golang-lru/v2 cache keyed by a sha256 digest with an
// explicit TTL check on read, the same idiom internal/graph and
// internal/seedmix use for their own caches.
package sigcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultTTL is how long a signature cache entry survives.
const DefaultTTL = 7 * 24 * time.Hour

// MinSatisfaction is the write gate: only high-satisfaction bundles are
// remembered, so a replayed signature never serves a bundle the caller
// was unhappy with.
const MinSatisfaction = 0.8

// DefaultMaxSizeDev and DefaultMaxSizeProd are the LRU caps for the two
// deployment modes.
const (
	DefaultMaxSizeDev  = 1000
	DefaultMaxSizeProd = 5000
)

// Entry is one cached query-signature to bundle mapping.
type Entry struct {
	QuerySignature string
	BundleID       string
	Satisfaction   float64
	UsageCount     int
	CreatedAt      time.Time
	LastUsed       time.Time
	TTL            time.Duration
}

func (e Entry) expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(e.TTL))
}

// Cache is the Signature Cache: an LRU of Entry keyed by query signature,
// with hit/miss/error counters surfaced for health reporting.
type Cache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, Entry]
	hits    int64
	misses  int64
	errors  int64
}

// New creates a Cache with the given LRU capacity (use DefaultMaxSizeDev
// or DefaultMaxSizeProd unless a config overrides it).
func New(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSizeDev
	}
	entries, _ := lru.New[string, Entry](maxSize)
	return &Cache{entries: entries}
}

// Signature computes
// sha256(normalized_query|intent|context_bucket). Normalization lowercases
// and collapses whitespace so cosmetically different queries that mean
// the same thing still hit the cache.
func Signature(query, intentName, contextBucket string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	h := sha256.New()
	h.Write([]byte(normalized))
	h.Write([]byte{'|'})
	h.Write([]byte(intentName))
	h.Write([]byte{'|'})
	h.Write([]byte(contextBucket))
	return hex.EncodeToString(h.Sum(nil))
}

// Get looks up a signature, returning ok=false if absent or expired.
// An expired entry is evicted so a stale bundle id never resurfaces.
func (c *Cache) Get(signature string, now time.Time) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Get(signature)
	if !ok {
		c.misses++
		return Entry{}, false
	}
	if e.expired(now) {
		c.entries.Remove(signature)
		c.misses++
		return Entry{}, false
	}
	e.UsageCount++
	e.LastUsed = now
	c.entries.Add(signature, e)
	c.hits++
	return e, true
}

// Put writes a signature to bundle-id mapping, but only when satisfaction
// clears MinSatisfaction. A lower satisfaction is silently dropped, not
// an error.
func (c *Cache) Put(signature, bundleID string, satisfaction float64, now time.Time) {
	if satisfaction <= MinSatisfaction {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(signature, Entry{
		QuerySignature: signature,
		BundleID:       bundleID,
		Satisfaction:   satisfaction,
		UsageCount:     0,
		CreatedAt:      now,
		LastUsed:       now,
		TTL:            DefaultTTL,
	})
}

// RecordError notes a lookup/write failure for the health metric.
func (c *Cache) RecordError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors++
}

// HealthMetrics is the snapshot the health surface reports when hit
// rate is low or error rate is high.
type HealthMetrics struct {
	Hits      int64
	Misses    int64
	Errors    int64
	HitRate   float64
	ErrorRate float64
	Size      int
}

// Health computes the current hit/error rates.
func (c *Cache) Health() HealthMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	m := HealthMetrics{Hits: c.hits, Misses: c.misses, Errors: c.errors, Size: c.entries.Len()}
	if total > 0 {
		m.HitRate = float64(c.hits) / float64(total)
	}
	if total+c.errors > 0 {
		m.ErrorRate = float64(c.errors) / float64(total+c.errors)
	}
	return m
}
