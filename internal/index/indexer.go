package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pampax-dev/pampax/internal/embed"
	"github.com/pampax-dev/pampax/internal/store"
)

// Indexer is the write side the Coordinator drives on file events: it
// takes chunked content into the BM25, vector, and metadata stores, and
// removes it again when files disappear. The full-reindex path
// (Runner.buildIndices) batches the same work with progress reporting;
// this is the incremental single-file variant.
type Indexer struct {
	metadata store.MetadataStore
	bm25     store.BM25Index
	vector   store.VectorStore
	embedder embed.Embedder
}

// NewIndexer creates an Indexer over a project's open stores.
func NewIndexer(metadata store.MetadataStore, bm25 store.BM25Index, vector store.VectorStore, embedder embed.Embedder) *Indexer {
	return &Indexer{metadata: metadata, bm25: bm25, vector: vector, embedder: embedder}
}

// Index writes chunks to every store: BM25 documents, batch embeddings
// into the vector store, and the chunk rows themselves. Embeddings are
// also persisted to SQLite so compaction can rebuild the vector index
// without re-embedding.
func (ix *Indexer) Index(ctx context.Context, chunks []*store.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]*store.Document, len(chunks))
	texts := make([]string, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		docs[i] = &store.Document{ID: c.ID, Content: c.Content}
		texts[i] = c.Content
		ids[i] = c.ID
	}

	embeddings, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("generate embeddings: %w", err)
	}

	if err := ix.bm25.Index(ctx, docs); err != nil {
		return fmt.Errorf("index in BM25: %w", err)
	}
	if err := ix.vector.Add(ctx, ids, embeddings); err != nil {
		return fmt.Errorf("add vectors: %w", err)
	}
	if err := ix.metadata.SaveChunks(ctx, chunks); err != nil {
		return fmt.Errorf("save chunks metadata: %w", err)
	}

	if err := ix.metadata.SaveChunkEmbeddings(ctx, ids, embeddings, ix.embedder.ModelName()); err != nil {
		slog.Warn("failed to persist embeddings, compaction will require re-embedding",
			slog.String("error", err.Error()),
			slog.Int("count", len(ids)))
	}

	if err := ix.storeEmbeddingInfo(ctx); err != nil {
		slog.Warn("failed to store index embedding info",
			slog.String("error", err.Error()))
	}

	return nil
}

// storeEmbeddingInfo records the active embedder's dimension and model
// so a later open can detect a dimension mismatch before searching.
func (ix *Indexer) storeEmbeddingInfo(ctx context.Context) error {
	dim := fmt.Sprintf("%d", ix.embedder.Dimensions())
	if err := ix.metadata.SetState(ctx, store.StateKeyIndexDimension, dim); err != nil {
		return fmt.Errorf("store index dimension: %w", err)
	}
	if err := ix.metadata.SetState(ctx, store.StateKeyIndexModel, ix.embedder.ModelName()); err != nil {
		return fmt.Errorf("store index model: %w", err)
	}
	return nil
}

// Delete removes chunks from every store. Metadata is the source of
// truth and must succeed; BM25/vector deletes are best-effort since
// orphans there are filtered at query time and swept by compaction.
func (ix *Indexer) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	if err := ix.bm25.Delete(ctx, chunkIDs); err != nil {
		slog.Warn("BM25 delete failed, orphans will remain until compaction",
			slog.String("error", err.Error()),
			slog.Int("count", len(chunkIDs)))
	}
	if err := ix.vector.Delete(ctx, chunkIDs); err != nil {
		slog.Warn("vector delete failed, orphans will remain until compaction",
			slog.String("error", err.Error()),
			slog.Int("count", len(chunkIDs)))
	}

	if err := ix.metadata.DeleteChunks(ctx, chunkIDs); err != nil {
		return fmt.Errorf("delete chunks metadata: %w", err)
	}
	return nil
}
