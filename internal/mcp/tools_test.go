package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampax-dev/pampax/internal/config"
)

// newSeededServer builds a server over a pipeline with a few indexed
// chunks, enough for the search tools to return real results.
func newSeededServer(t *testing.T) *Server {
	t.Helper()

	tp := newTestPipeline(t)
	tp.seedChunk(t, "chunk-auth", "internal/auth/handler.go",
		"func AuthMiddleware(next http.Handler) http.Handler {\n\treturn next\n}")
	tp.seedChunk(t, "chunk-doc", "docs/installation.md",
		"## Installation\n\nRun `go install` to install the binary.")

	srv, err := NewServer(tp.pl, &MockMetadataStore{}, &MockEmbedder{}, config.NewConfig(), "")
	require.NoError(t, err)
	return srv
}

// ============================================================================
// TS01: Search Tool Basic - Returns Markdown
// ============================================================================

func TestSearchTool_Basic_ReturnsMarkdown(t *testing.T) {
	srv := newSeededServer(t)

	// When: calling search tool
	result, err := srv.CallTool(context.Background(), "search", map[string]any{
		"query": "AuthMiddleware handler",
	})

	// Then: markdown format returned (not struct)
	require.NoError(t, err)
	text, ok := result.(string)
	require.True(t, ok, "expected string result, got %T", result)
	assert.Contains(t, text, "## Search Results")
	assert.Contains(t, text, "internal/auth/handler.go")
}

// ============================================================================
// TS02: Search Code with Language Heading
// ============================================================================

func TestSearchCodeTool_WithLanguage_AnnotatesHeading(t *testing.T) {
	srv := newSeededServer(t)

	// When: calling search_code with language=go
	result, err := srv.CallTool(context.Background(), "search_code", map[string]any{
		"query":    "AuthMiddleware handler",
		"language": "go",
	})

	// Then: heading carries the language filter
	require.NoError(t, err)
	text, ok := result.(string)
	require.True(t, ok)
	assert.Contains(t, text, "Code Search Results (go)")
}

// ============================================================================
// TS03: Search Docs Preserves Section Hierarchy
// ============================================================================

func TestSearchDocsTool_PreservesSectionHierarchy(t *testing.T) {
	srv := newSeededServer(t)

	// When: calling search_docs
	result, err := srv.CallTool(context.Background(), "search_docs", map[string]any{
		"query": "installation install binary",
	})

	// Then: markdown content preserved, section heading intact
	require.NoError(t, err)
	text, ok := result.(string)
	require.True(t, ok)
	assert.Contains(t, text, "docs/installation.md")
	assert.Contains(t, text, "## Installation")
}

// ============================================================================
// TS04: Index Status Returns Struct
// ============================================================================

func TestIndexStatusTool_ReturnsStats(t *testing.T) {
	srv := newSeededServer(t)

	// When: calling index_status
	result, err := srv.CallTool(context.Background(), "index_status", map[string]any{})

	// Then: returns IndexStatusOutput struct with the seeded documents
	require.NoError(t, err)
	output, ok := result.(*IndexStatusOutput)
	require.True(t, ok, "expected *IndexStatusOutput, got %T", result)
	assert.Equal(t, 2, output.Stats.FileCount)
	assert.NotEmpty(t, output.Project.Name)
}

// ============================================================================
// TS04B: Capability Signaling - Hugot Embedder
// ============================================================================

func TestIndexStatusTool_HugotEmbedder_HighSemanticQuality(t *testing.T) {
	// Given: server with Hugot embedder (768 dimensions)
	tp := newTestPipeline(t)
	embedder := &MockEmbedder{
		DimensionsFn: func() int { return 768 },
		ModelNameFn:  func() string { return "embeddinggemma-300m" },
		AvailableFn:  func(_ context.Context) bool { return true },
	}

	srv, err := NewServer(tp.pl, &MockMetadataStore{}, embedder, config.NewConfig(), "")
	require.NoError(t, err)

	// When: calling index_status
	result, err := srv.CallTool(context.Background(), "index_status", map[string]any{})

	// Then: returns high semantic quality indicators
	require.NoError(t, err)
	output, ok := result.(*IndexStatusOutput)
	require.True(t, ok)

	assert.Equal(t, "hugot", output.Embeddings.ActualProvider)
	assert.Equal(t, "embeddinggemma-300m", output.Embeddings.ActualModel)
	assert.Equal(t, 768, output.Embeddings.Dimensions)
	assert.False(t, output.Embeddings.IsFallbackActive)
	assert.Equal(t, "high", output.Embeddings.SemanticQuality)
	assert.Equal(t, "ready", output.Embeddings.Status)
}

// ============================================================================
// TS04C: Capability Signaling - Static Fallback
// ============================================================================

func TestIndexStatusTool_StaticEmbedder_LowSemanticQuality(t *testing.T) {
	// Given: server with static embedder (256 dimensions)
	tp := newTestPipeline(t)
	embedder := &MockEmbedder{
		DimensionsFn: func() int { return 256 },
		ModelNameFn:  func() string { return "static" },
		AvailableFn:  func(_ context.Context) bool { return true },
	}

	srv, err := NewServer(tp.pl, &MockMetadataStore{}, embedder, config.NewConfig(), "")
	require.NoError(t, err)

	// When: calling index_status
	result, err := srv.CallTool(context.Background(), "index_status", map[string]any{})

	// Then: returns low semantic quality indicators
	require.NoError(t, err)
	output, ok := result.(*IndexStatusOutput)
	require.True(t, ok)

	assert.Equal(t, "static", output.Embeddings.ActualProvider)
	assert.Equal(t, "static", output.Embeddings.ActualModel)
	assert.Equal(t, 256, output.Embeddings.Dimensions)
	assert.True(t, output.Embeddings.IsFallbackActive)
	assert.Equal(t, "low", output.Embeddings.SemanticQuality)
	assert.Equal(t, "ready", output.Embeddings.Status)
}

// ============================================================================
// TS04D: Capability Signaling - No Embedder
// ============================================================================

func TestIndexStatusTool_NilEmbedder_Unavailable(t *testing.T) {
	// Given: server without embedder
	tp := newTestPipeline(t)

	srv, err := NewServer(tp.pl, &MockMetadataStore{}, nil, config.NewConfig(), "")
	require.NoError(t, err)

	// When: calling index_status
	result, err := srv.CallTool(context.Background(), "index_status", map[string]any{})

	// Then: returns unavailable status
	require.NoError(t, err)
	output, ok := result.(*IndexStatusOutput)
	require.True(t, ok)

	assert.Equal(t, "none", output.Embeddings.ActualProvider)
	assert.Equal(t, "none", output.Embeddings.ActualModel)
	assert.Equal(t, 0, output.Embeddings.Dimensions)
	assert.True(t, output.Embeddings.IsFallbackActive)
	assert.Equal(t, "none", output.Embeddings.SemanticQuality)
	assert.Equal(t, "unavailable", output.Embeddings.Status)
}

// ============================================================================
// TS05: Empty Results Handling
// ============================================================================

func TestSearchTool_EmptyResults_GracefulMessage(t *testing.T) {
	srv := newTestServer(t)

	// When: search over an empty index returns no results
	result, err := srv.CallTool(context.Background(), "search", map[string]any{
		"query": "xyznonexistent123",
	})

	// Then: friendly message, no error
	require.NoError(t, err)
	text, ok := result.(string)
	require.True(t, ok)
	assert.Contains(t, text, "No results found")
	assert.Contains(t, text, "xyznonexistent123")
}

// ============================================================================
// TS06: Missing Required Parameter
// ============================================================================

func TestSearchTool_MissingQuery_ReturnsError(t *testing.T) {
	srv := newTestServer(t)

	// When: calling search without query
	_, err := srv.CallTool(context.Background(), "search", map[string]any{})

	// Then: invalid params error
	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestSearchCodeTool_MissingQuery_ReturnsError(t *testing.T) {
	srv := newTestServer(t)

	// When: calling search_code without query
	_, err := srv.CallTool(context.Background(), "search_code", map[string]any{
		"language": "go",
	})

	// Then: invalid params error
	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestSearchDocsTool_MissingQuery_ReturnsError(t *testing.T) {
	srv := newTestServer(t)

	// When: calling search_docs without query
	_, err := srv.CallTool(context.Background(), "search_docs", map[string]any{})

	// Then: invalid params error
	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

// ============================================================================
// TS07: Limit Parameter Clamping
// ============================================================================

func TestClampLimit_ToolsTable(t *testing.T) {
	tests := []struct {
		name     string
		limit    int
		expected int
	}{
		{"above max", 100, 50},
		{"zero uses default", 0, 10},
		{"negative uses default", -5, 10},
		{"valid", 25, 25},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, clampLimit(tc.limit, 10, 1, 50))
		})
	}
}

// ============================================================================
// ListTools Tests
// ============================================================================

func TestListTools_ReturnsAllTools(t *testing.T) {
	srv := newTestServer(t)

	tools := srv.ListTools()

	// Four search tools plus eight pipeline tools
	assert.Len(t, tools, 12)

	names := make(map[string]bool)
	for _, tool := range tools {
		names[tool.Name] = true
	}

	assert.True(t, names["search"], "missing search tool")
	assert.True(t, names["search_code"], "missing search_code tool")
	assert.True(t, names["search_docs"], "missing search_docs tool")
	assert.True(t, names["index_status"], "missing index_status tool")
	assert.True(t, names["assemble"], "missing assemble tool")
	assert.True(t, names["learn"], "missing learn tool")
}
