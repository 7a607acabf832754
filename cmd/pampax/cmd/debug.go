package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pampax-dev/pampax/internal/config"
	"github.com/pampax-dev/pampax/internal/embed"
	"github.com/pampax-dev/pampax/internal/store"
)

// DebugInfo is the full diagnostic snapshot printed by 'pampax debug'.
type DebugInfo struct {
	ProjectRoot string `json:"project_root"`
	IndexPath   string `json:"index_path"`

	FileCount  int `json:"file_count"`
	ChunkCount int `json:"chunk_count"`

	IndexedAt time.Time `json:"indexed_at"`

	Languages map[string]float64 `json:"languages"`

	EmbedderProvider string `json:"embedder_provider"`
	EmbedderModel    string `json:"embedder_model"`
	EmbedderReady    bool   `json:"embedder_ready"`

	BM25DocumentCount int    `json:"bm25_document_count"`
	BM25Backend       string `json:"bm25_backend"`

	VectorCount      int `json:"vector_count"`
	VectorDimensions int `json:"vector_dimensions"`

	MetadataBytes int64 `json:"metadata_bytes"`
	BM25Bytes     int64 `json:"bm25_bytes"`
	VectorBytes   int64 `json:"vector_bytes"`
}

func newDebugCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Print detailed diagnostic information about the current index",
		Long: `Print a detailed snapshot of the current project's index: file and
chunk counts, language distribution, embedder configuration, and the size
of each storage backend (metadata, BM25, vectors).

Intended for troubleshooting - 'pampax doctor' is the health-check
equivalent that reports pass/fail, this reports raw numbers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDebug(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runDebug(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	dataDir := filepath.Join(root, ".pampax")
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if !fileExists(metadataPath) {
		return fmt.Errorf("no index found in %s\nRun 'pampax index' to create one", root)
	}

	info, err := collectDebugInfo(ctx, root, dataDir)
	if err != nil {
		return fmt.Errorf("failed to collect debug info: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	return renderDebugInfo(cmd, info)
}

// collectDebugInfo opens every storage backend under dataDir read-only
// and assembles the full diagnostic snapshot.
func collectDebugInfo(ctx context.Context, root, dataDir string) (DebugInfo, error) {
	info := DebugInfo{
		ProjectRoot: root,
		IndexPath:   dataDir,
	}

	metadataPath := filepath.Join(dataDir, "metadata.db")
	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return info, fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	info.MetadataBytes = getFileSize(metadataPath)

	projectID := hashString(root)
	project, err := metadata.GetProject(ctx, projectID)
	if err == nil && project != nil {
		info.FileCount = project.FileCount
		info.ChunkCount = project.ChunkCount
		info.IndexedAt = project.IndexedAt
	}

	info.Languages = computeLanguageDistribution(ctx, metadata, projectID)

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	info.EmbedderProvider = cfg.Embeddings.Provider
	if info.EmbedderProvider == "" {
		info.EmbedderProvider = "hugot"
	}
	info.EmbedderModel = cfg.Embeddings.Model
	if info.EmbedderModel == "" {
		info.EmbedderModel = "embeddinggemma"
	}
	// Readiness is reported from the static fallback only; probing a real
	// network-backed provider here would make 'debug' as slow as 'index'.
	info.EmbedderReady = embed.NewStaticEmbedder768().Available(ctx)

	info.BM25Backend = string(store.DetectBM25Backend(filepath.Join(dataDir, "bm25")))
	if info.BM25Backend == "" {
		info.BM25Backend = cfg.Search.BM25Backend
	}

	bm25BasePath := filepath.Join(dataDir, "bm25")
	if bm25, err := store.NewBM25IndexWithBackend(bm25BasePath, store.DefaultBM25Config(), cfg.Search.BM25Backend); err == nil {
		info.BM25DocumentCount = bm25.Stats().DocumentCount
		_ = bm25.Close()
	}

	bm25SQLitePath := filepath.Join(dataDir, "bm25.db")
	bm25BlevePath := filepath.Join(dataDir, "bm25.bleve")
	if size := getFileSize(bm25SQLitePath); size > 0 {
		info.BM25Bytes = size
	} else {
		info.BM25Bytes = getDirSize(bm25BlevePath)
	}

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	if dims, err := store.ReadHNSWStoreDimensions(vectorPath); err == nil && dims > 0 {
		info.VectorDimensions = dims
		vectorConfig := store.DefaultVectorStoreConfig(dims)
		if vector, err := store.NewHNSWStore(vectorConfig); err == nil {
			if loadErr := vector.Load(vectorPath); loadErr == nil {
				info.VectorCount = vector.Count()
			}
			_ = vector.Close()
		}
	}
	info.VectorBytes = getFileSize(vectorPath)

	return info, nil
}

// computeLanguageDistribution pages through the project's indexed files
// and returns the fraction of files attributed to each normalized
// language/extension.
func computeLanguageDistribution(ctx context.Context, metadata store.MetadataStore, projectID string) map[string]float64 {
	counts := make(map[string]int)
	total := 0
	cursor := ""

	for {
		files, next, err := metadata.ListFiles(ctx, projectID, cursor, 500)
		if err != nil {
			break
		}
		for _, f := range files {
			lang := f.Language
			if lang == "" {
				lang = normalizeExtension(strings.TrimPrefix(filepath.Ext(f.Path), "."))
			}
			if lang == "" {
				continue
			}
			counts[lang]++
			total++
		}
		if next == "" || len(files) == 0 {
			break
		}
		cursor = next
	}

	if total == 0 {
		return map[string]float64{}
	}

	dist := make(map[string]float64, len(counts))
	for lang, c := range counts {
		dist[lang] = float64(c) / float64(total)
	}
	return dist
}

func renderDebugInfo(cmd *cobra.Command, info DebugInfo) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, "Pampax Debug Info")
	fmt.Fprintln(w, "==================")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Project Root: %s\n", info.ProjectRoot)
	fmt.Fprintf(w, "Index Path:   %s\n", info.IndexPath)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "FILES & CHUNKS")
	fmt.Fprintf(w, "  Files:     %s\n", formatNumber(info.FileCount))
	fmt.Fprintf(w, "  Chunks:    %s\n", formatNumber(info.ChunkCount))
	fmt.Fprintf(w, "  Indexed:   %s\n", formatAge(info.IndexedAt))
	fmt.Fprintf(w, "  Languages: %s\n", formatLanguages(info.Languages))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "EMBEDDER")
	fmt.Fprintf(w, "  Provider: %s\n", info.EmbedderProvider)
	fmt.Fprintf(w, "  Model:    %s\n", info.EmbedderModel)
	fmt.Fprintf(w, "  Ready:    %v\n", info.EmbedderReady)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "BM25 INDEX")
	fmt.Fprintf(w, "  Backend:   %s\n", info.BM25Backend)
	fmt.Fprintf(w, "  Documents: %s\n", formatNumber(info.BM25DocumentCount))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "VECTOR STORE")
	fmt.Fprintf(w, "  Vectors:    %s\n", formatNumber(info.VectorCount))
	fmt.Fprintf(w, "  Dimensions: %d\n", info.VectorDimensions)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "STORAGE")
	fmt.Fprintf(w, "  Metadata: %s\n", formatBytes(info.MetadataBytes))
	fmt.Fprintf(w, "  BM25:     %s\n", formatBytes(info.BM25Bytes))
	fmt.Fprintf(w, "  Vectors:  %s\n", formatBytes(info.VectorBytes))
	fmt.Fprintf(w, "  Total:    %s\n", formatBytes(info.MetadataBytes+info.BM25Bytes+info.VectorBytes))

	return nil
}

// formatAge renders a timestamp as a coarse human-readable age string.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}

	d := time.Since(t)
	switch {
	case d < 10*time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%d seconds ago", int(d.Seconds()))
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case d < 24*time.Hour:
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

// formatNumber renders an integer with thousands separators.
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	var groups []string
	for len(s) > 3 {
		groups = append([]string{s[len(s)-3:]}, groups...)
		s = s[:len(s)-3]
	}
	groups = append([]string{s}, groups...)

	out := strings.Join(groups, ",")
	if neg {
		out = "-" + out
	}
	return out
}

// formatLanguages renders a language-fraction map as a sorted,
// percentage-annotated summary, e.g. "go (50%), ts (30%), md (20%)".
func formatLanguages(langs map[string]float64) string {
	if len(langs) == 0 {
		return "none"
	}

	type entry struct {
		name string
		frac float64
	}
	entries := make([]entry, 0, len(langs))
	for name, frac := range langs {
		entries = append(entries, entry{name, frac})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].frac != entries[j].frac {
			return entries[i].frac > entries[j].frac
		}
		return entries[i].name < entries[j].name
	})

	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("%s (%d%%)", e.name, int(e.frac*100+0.5)))
	}
	return strings.Join(parts, ", ")
}

// normalizeExtension maps file extension aliases onto one canonical
// language label (tsx -> ts, jsx/mjs -> js, yml -> yaml, htm -> html).
func normalizeExtension(ext string) string {
	switch strings.ToLower(ext) {
	case "tsx":
		return "ts"
	case "jsx", "mjs":
		return "js"
	case "yml":
		return "yaml"
	case "htm":
		return "html"
	default:
		return strings.ToLower(ext)
	}
}

// formatBytes renders a byte count in human-readable units.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
