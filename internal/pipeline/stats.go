package pipeline

import "github.com/pampax-dev/pampax/internal/store"

// IndexStats reports the size of the underlying BM25 and vector
// indices, so the index_status tool doesn't need a second code path
// into the store.
type IndexStats struct {
	BM25Stats   *store.IndexStats
	VectorCount int
}

// Stats returns the pipeline's current index statistics.
func (p *Pipeline) Stats() IndexStats {
	return IndexStats{
		BM25Stats:   p.deps.BM25.Stats(),
		VectorCount: p.deps.Vector.Count(),
	}
}
