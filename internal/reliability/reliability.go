// Package reliability composes internal/errors' circuit breaker and retry
// primitives (internal/errors) with two additions the pipeline needs: a
// Bulkhead that bounds in-flight concurrency per dependency, and a
// GracefulDegradation level that downstream components (packing, rerank)
// consult to decide how much to skip when the system is under stress.
package reliability

import (
	"context"
	"fmt"
	"sync"
	"time"

	pxerrors "github.com/pampax-dev/pampax/internal/errors"
)

// DegradationLevel orders the responses available when a dependency is
// unhealthy, from full service to bare minimum.
type DegradationLevel int

const (
	// LevelFull serves the request with every candidate source and the
	// configured reranker.
	LevelFull DegradationLevel = iota
	// LevelReducedSources skips the slowest/least reliable candidate
	// generator (typically vector search) and serves from the rest.
	LevelReducedSources
	// LevelNoRerank skips the reranker and returns seed-mix order.
	LevelNoRerank
	// LevelFTSOnly serves from the full-text index alone.
	LevelFTSOnly
	// LevelUnavailable indicates no source can currently serve the request.
	LevelUnavailable
)

func (l DegradationLevel) String() string {
	switch l {
	case LevelFull:
		return "full"
	case LevelReducedSources:
		return "reduced_sources"
	case LevelNoRerank:
		return "no_rerank"
	case LevelFTSOnly:
		return "fts_only"
	case LevelUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Bulkhead bounds the number of in-flight calls to a dependency so a slow
// downstream (e.g. a reranker HTTP provider) cannot exhaust the whole
// worker pool. Implemented as a buffered-channel semaphore, the same
// pattern internal/index/coordinator.go's worker pool uses with a sized
// channel of tokens.
type Bulkhead struct {
	tokens chan struct{}
}

// NewBulkhead creates a bulkhead allowing at most maxConcurrent calls
// in flight at once.
func NewBulkhead(maxConcurrent int) *Bulkhead {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Bulkhead{tokens: make(chan struct{}, maxConcurrent)}
}

// ErrBulkheadFull is returned when Try cannot acquire a slot immediately.
var ErrBulkheadFull = fmt.Errorf("bulkhead is full")

// Do runs fn after acquiring a slot, blocking until one is free or ctx
// is cancelled.
func (b *Bulkhead) Do(ctx context.Context, fn func() error) error {
	select {
	case b.tokens <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-b.tokens }()
	return fn()
}

// Try runs fn only if a slot is immediately available, returning
// ErrBulkheadFull otherwise.
func (b *Bulkhead) Try(fn func() error) error {
	select {
	case b.tokens <- struct{}{}:
	default:
		return ErrBulkheadFull
	}
	defer func() { <-b.tokens }()
	return fn()
}

// InFlight returns the number of calls currently holding a slot.
func (b *Bulkhead) InFlight() int {
	return len(b.tokens)
}

// Dependency wraps one external or internal dependency (a candidate
// generator, reranker provider, or embedder) with a circuit breaker,
// retry policy and bulkhead, and tracks the degradation level callers
// should fall back to when this dependency is unavailable.
type Dependency struct {
	Name     string
	Fallback DegradationLevel

	breaker  *pxerrors.CircuitBreaker
	retry    pxerrors.RetryConfig
	bulkhead *Bulkhead
}

// DependencyConfig configures a Dependency's reliability primitives.
type DependencyConfig struct {
	MaxFailures   int
	ResetTimeout  time.Duration
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	MaxConcurrent int
	FallbackLevel DegradationLevel
}

// DefaultDependencyConfig mirrors errors.DefaultRetryConfig's values with a
// circuit breaker tuned for request-path latency (shorter reset than
// errors.DefaultResetTimeout, since a stuck candidate source should
// recover fast or be routed around within one query's budget).
func DefaultDependencyConfig() DependencyConfig {
	return DependencyConfig{
		MaxFailures:   5,
		ResetTimeout:  10 * time.Second,
		MaxRetries:    2,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      500 * time.Millisecond,
		MaxConcurrent: 8,
		FallbackLevel: LevelReducedSources,
	}
}

// NewDependency creates a reliability-wrapped dependency handle.
func NewDependency(name string, cfg DependencyConfig) *Dependency {
	return &Dependency{
		Name:     name,
		Fallback: cfg.FallbackLevel,
		breaker: pxerrors.NewCircuitBreaker(name,
			pxerrors.WithMaxFailures(cfg.MaxFailures),
			pxerrors.WithResetTimeout(cfg.ResetTimeout)),
		retry: pxerrors.RetryConfig{
			MaxRetries:   cfg.MaxRetries,
			InitialDelay: cfg.InitialDelay,
			MaxDelay:     cfg.MaxDelay,
			Multiplier:   2.0,
			Jitter:       true,
		},
		bulkhead: NewBulkhead(cfg.MaxConcurrent),
	}
}

// Call runs fn under the bulkhead, circuit breaker, and retry policy in
// that order: the bulkhead bounds concurrency first, the breaker fails
// fast on a known-bad dependency, and retry absorbs transient failures
// within the breaker's closed state.
func (d *Dependency) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if !d.breaker.Allow() {
		return pxerrors.ErrCircuitOpen
	}

	return d.bulkhead.Do(ctx, func() error {
		err := pxerrors.Retry(ctx, d.retry, func() error {
			return fn(ctx)
		})
		if err != nil {
			d.breaker.RecordFailure()
			return err
		}
		d.breaker.RecordSuccess()
		return nil
	})
}

// Healthy reports whether the dependency's circuit breaker currently
// allows requests.
func (d *Dependency) Healthy() bool {
	return d.breaker.State() != pxerrors.StateOpen
}

// Registry tracks a fixed set of named dependencies and derives the
// overall DegradationLevel the pipeline should operate at.
type Registry struct {
	mu   sync.RWMutex
	deps map[string]*Dependency
}

// NewRegistry creates an empty dependency registry.
func NewRegistry() *Registry {
	return &Registry{deps: make(map[string]*Dependency)}
}

// Register adds a dependency to the registry, replacing any existing
// entry with the same name.
func (r *Registry) Register(d *Dependency) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deps[d.Name] = d
}

// Get returns the named dependency, or nil if it was never registered.
func (r *Registry) Get(name string) *Dependency {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.deps[name]
}

// CurrentLevel returns the worst (highest) fallback level among unhealthy
// dependencies, or LevelFull if every registered dependency is healthy.
func (r *Registry) CurrentLevel() DegradationLevel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	level := LevelFull
	for _, d := range r.deps {
		if !d.Healthy() && d.Fallback > level {
			level = d.Fallback
		}
	}
	return level
}
