package pipeline

import (
	"context"

	"github.com/pampax-dev/pampax/internal/reliability"
	"github.com/pampax-dev/pampax/internal/sigcache"
)

// HealthReport aggregates the pipeline's operational signals: the
// current graceful-degradation level, the Signature Cache's hit/miss/
// error counters, rerank provider availability, and whether the store
// itself is reachable.
type HealthReport struct {
	DegradationLevel reliability.DegradationLevel
	SigCache         sigcache.HealthMetrics
	RerankProviders  map[string]bool
	StoreReachable   bool
}

// Health reports the pipeline's current operating state for the health
// surface.
func (p *Pipeline) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		DegradationLevel: p.deps.Reliability.CurrentLevel(),
		SigCache:         p.deps.SigCache.Health(),
		RerankProviders:  make(map[string]bool),
	}

	if _, err := p.deps.Store.GetProject(ctx, "__health_check__"); err == nil {
		report.StoreReachable = true
	}

	report.RerankProviders = p.deps.RerankBus.ProviderStatus(ctx)

	return report
}
