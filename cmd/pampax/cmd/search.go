package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pampax-dev/pampax/internal/config"
	"github.com/pampax-dev/pampax/internal/daemon"
	"github.com/pampax-dev/pampax/internal/embed"
	"github.com/pampax-dev/pampax/internal/logging"
	"github.com/pampax-dev/pampax/internal/output"
	"github.com/pampax-dev/pampax/internal/packing"
	"github.com/pampax-dev/pampax/internal/pipeline"
	"github.com/pampax-dev/pampax/internal/store"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit    int
	filter   string // "all", "code", "docs"
	language string
	format   string   // "text", "json"
	scopes   []string // path prefixes for filtering
	budget   int      // token budget for the assembled bundle
	local    bool     // Force local search (bypass daemon)
	explain  bool     // show the pipeline's decision process
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed codebase",
		Long: `Search the indexed codebase through the retrieval pipeline.

Classifies the query's intent, fans out lexical/semantic/memory/symbol
candidates, expands the code graph, and packs the best evidence into a
token-budgeted result set.

Examples:
  pampax search "authentication middleware"
  pampax search "handleRequest" --type code --limit 5
  pampax search "setup instructions" --type docs
  pampax search "error handling" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.filter, "type", "t", "all", "Filter by type: all, code, docs")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Filter by language (e.g., go, python)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().StringSliceVarP(&opts.scopes, "scope", "s", nil, "Filter by path scope (repeatable, e.g., --scope services/api)")
	cmd.Flags().IntVar(&opts.budget, "budget", 0, "Token budget for the result bundle (0 uses the configured default)")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Force local search (bypass daemon)")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Show the search decision process (intent, policy, graph, degradation)")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	// Initialize logging for CLI observability (BUG-039)
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if _, cleanup, err := logging.Setup(logCfg); err == nil {
		defer cleanup()
	}

	slog.Info("search_started", slog.String("query", query), slog.Int("limit", opts.limit))
	out := output.New(cmd.OutOrStdout())

	// Find project root
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	// Check for index
	dataDir := filepath.Join(root, ".pampax")
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
		return fmt.Errorf("no index found. Run 'pampax index' first")
	}

	// Try daemon-based search first (fast, keeps embedder loaded)
	// Skip daemon if --local flag is set
	daemonCfg := daemon.DefaultConfig()
	client := daemon.NewClient(daemonCfg)
	if !opts.local && client.IsRunning() {
		slog.Info("search_using_daemon")
		results, err := client.Search(ctx, daemon.SearchParams{
			Query:       query,
			RootPath:    root,
			Limit:       opts.limit,
			Filter:      opts.filter,
			Language:    opts.language,
			Scopes:      opts.scopes,
			TokenBudget: opts.budget,
			Explain:     opts.explain,
		})
		if err != nil {
			// Daemon error - log warning and fall through to local search
			slog.Warn("Daemon search failed, falling back to local",
				slog.String("error", err.Error()))
		} else {
			slog.Info("search_complete", slog.String("mode", "daemon"), slog.Int("results", len(results)))
			return formatDaemonResults(cmd, out, query, results, opts.format)
		}
	}

	// Fallback: Local search over a freshly opened pipeline
	slog.Info("search_using_local")
	return runLocalSearch(ctx, cmd, root, query, opts)
}

// runLocalSearch opens the project's stores and runs the query through
// the retrieval pipeline without the daemon's warm caches.
func runLocalSearch(ctx context.Context, cmd *cobra.Command, root, query string, opts searchOptions) error {
	out := output.New(cmd.OutOrStdout())
	dataDir := filepath.Join(root, ".pampax")

	// Load configuration
	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	// Initialize stores
	metadataPath := filepath.Join(dataDir, "metadata.db")
	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return fmt.Errorf("failed to open metadata: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	// Use factory for BM25 backend selection (SQLite default for concurrent access)
	bm25BasePath := filepath.Join(dataDir, "bm25")
	bm25Config := store.DefaultBM25Config()
	bm25, err := store.NewBM25IndexWithBackend(bm25BasePath, bm25Config, cfg.Search.BM25Backend)
	if err != nil {
		return fmt.Errorf("failed to open BM25 index: %w", err)
	}
	defer func() { _ = bm25.Close() }()

	// Wire MLX config from config.yaml to embedder factory
	embed.SetMLXConfig(embed.MLXServerConfig{
		Endpoint: cfg.Embeddings.MLXEndpoint,
		Model:    cfg.Embeddings.MLXModel,
	})

	// Use config-based embedder selection (same as index command) - fixes BUG-039
	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	embedder, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	vectorConfig := store.DefaultVectorStoreConfig(embedder.Dimensions())
	vector, err := store.NewHNSWStore(vectorConfig)
	if err != nil {
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	defer func() { _ = vector.Close() }()

	// Try to load vectors
	if _, err := os.Stat(vectorPath); err == nil {
		if loadErr := vector.Load(vectorPath); loadErr != nil {
			slog.Debug("vector_load_failed", slog.String("error", loadErr.Error()))
		}
	}

	pl := pipeline.Build(metadata, bm25, vector, embedder, cfg.Pipeline, pipeline.DefaultModelID)

	resp, err := pl.Search(ctx, pipeline.SearchRequest{
		ProjectID:   root,
		Query:       query,
		TokenBudget: opts.budget,
		Language:    opts.language,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	items := selectItems(resp.Bundle, opts)
	slog.Info("search_complete", slog.String("mode", "local"), slog.Int("results", len(items)))

	// Format and output results
	if len(items) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", query))
		return nil
	}

	switch opts.format {
	case "json":
		return formatJSON(cmd, items)
	default:
		return formatText(out, query, resp, items, opts.explain)
	}
}

// selectItems applies the CLI's type/scope/limit filters over the
// packed bundle, in bundle order.
func selectItems(bundle packing.Bundle, opts searchOptions) []packing.PackedItem {
	items := make([]packing.PackedItem, 0, opts.limit)
	for _, item := range bundle.Items {
		if item.Strategy == packing.StrategySkipped {
			continue
		}
		if !matchesTypeFilter(item.Candidate.Kind, opts.filter) {
			continue
		}
		if !matchesScope(item.Candidate.FilePath, opts.scopes) {
			continue
		}
		items = append(items, item)
		if opts.limit > 0 && len(items) >= opts.limit {
			break
		}
	}
	return items
}

func matchesTypeFilter(kind packing.Kind, filter string) bool {
	switch filter {
	case "", "all":
		return true
	case "code":
		return kind == packing.KindCode || kind == packing.KindTests || kind == packing.KindExamples
	case "docs":
		return kind == packing.KindDocs || kind == packing.KindComments
	default:
		return true
	}
}

func matchesScope(path string, scopes []string) bool {
	if len(scopes) == 0 {
		return true
	}
	for _, scope := range scopes {
		if strings.HasPrefix(path, strings.TrimSuffix(scope, "/")) {
			return true
		}
	}
	return false
}

// formatDaemonResults formats search results from daemon.
func formatDaemonResults(cmd *cobra.Command, out *output.Writer, query string, results []daemon.SearchResult, format string) error {
	if len(results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", query))
		return nil
	}

	switch format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	default:
		// Show explain header if first result has explain data
		if results[0].Explain != nil {
			formatDaemonExplainHeader(out, results[0].Explain)
		}

		out.Statusf("🔍", "Found %d results for %q:", len(results), query)
		out.Newline()

		hasExplain := results[0].Explain != nil
		for i, r := range results {
			location := r.FilePath
			if r.StartLine > 0 {
				location = fmt.Sprintf("%s:%d", r.FilePath, r.StartLine)
			}

			out.Statusf("", "%d. %s (score: %.2f)", i+1, location, r.Score)
			if hasExplain && r.Tier != "" {
				out.Status("", fmt.Sprintf("      tier: %s | packed: %s", r.Tier, r.Strategy))
			}

			// Show snippet (first 3 lines)
			snippet := getSnippet(r.Content, 3)
			for _, line := range snippet {
				out.Status("", "   "+line)
			}
			out.Newline()
		}
		return nil
	}
}

// formatDaemonExplainHeader outputs the explain summary for daemon results.
func formatDaemonExplainHeader(out *output.Writer, explain *daemon.ExplainData) {
	out.Status("", "════════════════════════════════════════")
	out.Status("", "SEARCH EXPLANATION")
	out.Status("", "════════════════════════════════════════")
	out.Status("", fmt.Sprintf("Query: %q", explain.Query))
	out.Newline()

	out.Status("", fmt.Sprintf("Intent: %s (confidence: %.2f)", explain.Intent, explain.Confidence))
	out.Status("", fmt.Sprintf("Policy: max_depth=%d early_stop=%d", explain.MaxDepth, explain.EarlyStopThreshold))
	out.Status("", fmt.Sprintf("Graph: %d nodes, %d edges", explain.GraphNodes, explain.GraphEdges))
	out.Status("", fmt.Sprintf("Tokens: %d of %d used", explain.TokensUsed, explain.TokenBudget))
	if explain.DegradationLevel > 0 {
		out.Status("", fmt.Sprintf("Degradation: level %d", explain.DegradationLevel))
	}
	if explain.CacheHit {
		out.Status("", "Served from signature cache")
	}
	if explain.StoppingReason != "" {
		out.Status("", "Stopping reason: "+explain.StoppingReason)
	}
	out.Status("", "════════════════════════════════════════")
	out.Newline()
}

// formatText outputs results in human-readable format.
func formatText(out *output.Writer, query string, resp *pipeline.SearchResponse, items []packing.PackedItem, explain bool) error {
	if explain {
		formatExplainHeader(out, query, resp)
	}

	out.Statusf("🔍", "Found %d results for %q:", len(items), query)
	out.Newline()

	for i, item := range items {
		// Format: 1. path/to/file.go:42 (score: 0.89)
		location := item.Candidate.FilePath
		if item.Candidate.StartLine > 0 {
			location = fmt.Sprintf("%s:%d", item.Candidate.FilePath, item.Candidate.StartLine)
		}

		out.Statusf("", "%d. %s (score: %.2f)", i+1, location, item.Candidate.Score)
		if explain {
			out.Status("", fmt.Sprintf("      tier: %s | packed: %s", item.Tier, item.Strategy))
		}

		// Show snippet (first 3 lines)
		snippet := getSnippet(item.Content, 3)
		for _, line := range snippet {
			out.Status("", "   "+line)
		}
		out.Newline()
	}

	return nil
}

// formatExplainHeader outputs the pipeline's decision summary for a
// search: intent, policy, graph expansion, and budget pressure.
func formatExplainHeader(out *output.Writer, query string, resp *pipeline.SearchResponse) {
	out.Status("", "════════════════════════════════════════")
	out.Status("", "SEARCH EXPLANATION")
	out.Status("", "════════════════════════════════════════")
	out.Status("", fmt.Sprintf("Query: %q", query))
	out.Newline()

	out.Status("", fmt.Sprintf("Intent: %s (confidence: %.2f)", resp.Intent.Intent, resp.Intent.Confidence))
	out.Status("", fmt.Sprintf("Policy: max_depth=%d early_stop=%d", resp.Decision.MaxDepth, resp.Decision.EarlyStopThreshold))
	out.Status("", fmt.Sprintf("Graph: %d nodes, %d edges", len(resp.GraphResult.VisitedNodes), len(resp.GraphResult.Edges)))
	out.Status("", fmt.Sprintf("Tokens: %d of %d used", resp.Bundle.TokenReport.Actual, resp.Bundle.TokenReport.Budget))
	if resp.Bundle.TokenReport.DegradationLevel > 0 {
		out.Status("", fmt.Sprintf("Degradation: level %d", resp.Bundle.TokenReport.DegradationLevel))
	}
	if resp.CacheHit {
		out.Status("", "Served from signature cache")
	}
	if resp.Bundle.StoppingReason != "" {
		out.Status("", "Stopping reason: "+resp.Bundle.StoppingReason)
	}
	out.Status("", "════════════════════════════════════════")
	out.Newline()
}

// formatJSON outputs results in JSON format.
func formatJSON(cmd *cobra.Command, items []packing.PackedItem) error {
	type jsonResult struct {
		FilePath  string  `json:"file_path"`
		StartLine int     `json:"start_line"`
		EndLine   int     `json:"end_line"`
		Score     float64 `json:"score"`
		Content   string  `json:"content"`
		Tier      string  `json:"tier"`
		Strategy  string  `json:"strategy"`
	}

	var output []jsonResult
	for _, item := range items {
		output = append(output, jsonResult{
			FilePath:  item.Candidate.FilePath,
			StartLine: item.Candidate.StartLine,
			EndLine:   item.Candidate.EndLine,
			Score:     item.Candidate.Score,
			Content:   item.Content,
			Tier:      string(item.Tier),
			Strategy:  string(item.Strategy),
		})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

// getSnippet returns the first n lines of content.
func getSnippet(content string, n int) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	// Trim trailing empty lines
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
