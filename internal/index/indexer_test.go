package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampax-dev/pampax/internal/embed"
	"github.com/pampax-dev/pampax/internal/store"
)

func setupTestIndexer(t *testing.T) *Indexer {
	t.Helper()
	dir := t.TempDir()

	metadata, err := store.NewSQLiteStore(filepath.Join(dir, "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = metadata.Close() })

	bm25, err := store.NewBleveBM25Index("", store.BM25Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bm25.Close() })

	vector, err := store.NewHNSWStore(store.VectorStoreConfig{Dimensions: embed.StaticDimensions})
	require.NoError(t, err)
	t.Cleanup(func() { _ = vector.Close() })

	return NewIndexer(metadata, bm25, vector, embed.NewStaticEmbedder())
}

func TestIndexer_IndexMakesChunksSearchable(t *testing.T) {
	ix := setupTestIndexer(t)
	ctx := context.Background()

	chunks := []*store.Chunk{
		{ID: "c1", FilePath: "auth.go", Content: "func Authenticate(token string) error"},
		{ID: "c2", FilePath: "db.go", Content: "func OpenDatabase(dsn string) (*DB, error)"},
	}
	require.NoError(t, ix.Index(ctx, chunks))

	results, err := ix.bm25.Search(ctx, "Authenticate", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "c1", results[0].DocID)

	saved, err := ix.metadata.GetChunk(ctx, "c2")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "db.go", saved.FilePath)

	assert.Equal(t, 2, ix.vector.Count())
}

func TestIndexer_IndexRecordsEmbeddingInfo(t *testing.T) {
	ix := setupTestIndexer(t)
	ctx := context.Background()

	require.NoError(t, ix.Index(ctx, []*store.Chunk{
		{ID: "c1", FilePath: "a.go", Content: "package a"},
	}))

	dim, err := ix.metadata.GetState(ctx, store.StateKeyIndexDimension)
	require.NoError(t, err)
	assert.NotEmpty(t, dim)
}

func TestIndexer_DeleteRemovesEverywhere(t *testing.T) {
	ix := setupTestIndexer(t)
	ctx := context.Background()

	require.NoError(t, ix.Index(ctx, []*store.Chunk{
		{ID: "c1", FilePath: "gone.go", Content: "func RemoveMe() {}"},
	}))
	require.NoError(t, ix.Delete(ctx, []string{"c1"}))

	results, err := ix.bm25.Search(ctx, "RemoveMe", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	saved, err := ix.metadata.GetChunk(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestIndexer_EmptyInputsAreNoOps(t *testing.T) {
	ix := setupTestIndexer(t)
	ctx := context.Background()

	assert.NoError(t, ix.Index(ctx, nil))
	assert.NoError(t, ix.Delete(ctx, nil))
}
