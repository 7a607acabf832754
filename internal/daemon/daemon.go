package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pampax-dev/pampax/internal/config"
	"github.com/pampax-dev/pampax/internal/embed"
	"github.com/pampax-dev/pampax/internal/packing"
	"github.com/pampax-dev/pampax/internal/pipeline"
	"github.com/pampax-dev/pampax/internal/store"
)

// fileExists reports whether path exists and is accessible, mirroring
// the CLI's own helper in cmd/pampax/cmd without importing the cmd
// package (which would create an import cycle with the daemon server).
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// projectState holds the warm stores for one project root, kept alive
// across CLI invocations so repeated searches skip reopening SQLite,
// the BM25 index, and the HNSW graph from disk.
type projectState struct {
	rootPath string
	loadedAt time.Time
	lastUsed time.Time

	metadata store.MetadataStore
	bm25     store.BM25Index
	vector   store.VectorStore
	pipeline *pipeline.Pipeline
}

// Close releases a project's stores. Fields may be nil when a
// projectState was constructed for bookkeeping only (tests, eviction),
// so every close is nil-guarded.
func (p *projectState) Close() error {
	var errs []error
	if p.bm25 != nil {
		if err := p.bm25.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.vector != nil {
		if err := p.vector.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c, ok := p.metadata.(interface{ Close() error }); ok && c != nil {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing project state: %v", errs)
	}
	return nil
}

// Daemon keeps an embedder and a bounded set of project stores warm in
// memory, and serves search/status requests over a Unix socket so the
// CLI can skip paying embedder/index load cost on every invocation.
type Daemon struct {
	cfg     Config
	server  *Server
	pidFile *PIDFile
	started time.Time

	embedder embed.Embedder

	mu       sync.RWMutex
	projects map[string]*projectState

	wg sync.WaitGroup
}

// Option configures a Daemon at construction time.
type Option func(*Daemon)

// WithEmbedder overrides the embedder the daemon loads at startup,
// primarily so tests can avoid starting a real Ollama/MLX-backed one.
func WithEmbedder(e embed.Embedder) Option {
	return func(d *Daemon) {
		d.embedder = e
	}
}

// NewDaemon validates cfg and constructs a Daemon ready for Start.
func NewDaemon(cfg Config, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Daemon{
		cfg:      cfg,
		pidFile:  NewPIDFile(cfg.PIDPath),
		projects: make(map[string]*projectState),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// Start acquires the PID file and socket, loads the default embedder if
// none was supplied, and serves requests until ctx is cancelled. It
// always returns a non-nil error: ctx.Err() on a clean shutdown, or the
// error that prevented startup or serving.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.cfg.EnsureDir(); err != nil {
		return err
	}

	// A stale PID file from a crashed daemon must not block startup;
	// writing our own PID below overwrites it unconditionally.
	if err := d.pidFile.Write(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer func() { _ = d.pidFile.Remove() }()

	d.started = time.Now()

	if d.embedder == nil {
		embedder, err := embed.NewEmbedder(ctx, embed.ProviderStatic, "")
		if err != nil {
			return fmt.Errorf("failed to load default embedder: %w", err)
		}
		d.embedder = embedder
	}

	d.server, _ = NewServer(d.cfg.SocketPath)
	d.server.SetHandler(d)
	d.server.started = d.started

	defer d.cleanup()

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	evictTicker := time.NewTicker(time.Minute)
	defer evictTicker.Stop()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-serveCtx.Done():
				return
			case <-evictTicker.C:
				d.mu.Lock()
				d.evictLRU()
				d.mu.Unlock()
			}
		}
	}()

	slog.Info("daemon starting", slog.String("socket", d.cfg.SocketPath), slog.Int("max_projects", d.cfg.MaxProjects))

	err := d.server.ListenAndServe(serveCtx)
	d.wg.Wait()
	if err != nil {
		return err
	}
	return ctx.Err()
}

// GetStatus reports the daemon's current health for the status RPC and
// the 'pampax daemon status' CLI command.
func (d *Daemon) GetStatus() StatusResult {
	d.mu.Lock()
	projectCount := len(d.projects)
	d.mu.Unlock()

	status := StatusResult{
		Running:        true,
		PID:            os.Getpid(),
		Uptime:         time.Since(d.started).Round(time.Second).String(),
		EmbedderType:   "unavailable",
		EmbedderStatus: "unavailable",
		ProjectsLoaded: projectCount,
	}

	if d.embedder != nil {
		status.EmbedderType = d.embedder.ModelName()
		status.EmbedderStatus = "ready"
	}

	return status
}

// HandleSearch loads (or reuses) the project at params.RootPath and
// runs the query through the retrieval pipeline, evicting the least
// recently used project first when the warm set is full.
func (d *Daemon) HandleSearch(ctx context.Context, params SearchParams) ([]SearchResult, error) {
	state, err := d.loadProject(ctx, params.RootPath)
	if err != nil {
		return nil, err
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}

	resp, err := state.pipeline.Search(ctx, pipeline.SearchRequest{
		ProjectID:   params.RootPath,
		Query:       params.Query,
		TokenBudget: params.TokenBudget,
		Language:    params.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := make([]SearchResult, 0, limit)
	for _, item := range resp.Bundle.Items {
		if item.Strategy == packing.StrategySkipped {
			continue
		}
		if !matchesFilter(item, params.Filter) || !matchesScopes(item.Candidate.FilePath, params.Scopes) {
			continue
		}
		result := SearchResult{
			FilePath:  item.Candidate.FilePath,
			StartLine: item.Candidate.StartLine,
			EndLine:   item.Candidate.EndLine,
			Score:     item.Candidate.Score,
			Content:   item.Content,
		}
		if params.Explain {
			result.Tier = string(item.Tier)
			result.Strategy = string(item.Strategy)
		}
		out = append(out, result)
		if len(out) >= limit {
			break
		}
	}

	if params.Explain && len(out) > 0 {
		out[0].Explain = &ExplainData{
			Query:              params.Query,
			Intent:             string(resp.Intent.Intent),
			Confidence:         resp.Intent.Confidence,
			MaxDepth:           resp.Decision.MaxDepth,
			EarlyStopThreshold: resp.Decision.EarlyStopThreshold,
			GraphNodes:         len(resp.GraphResult.VisitedNodes),
			GraphEdges:         len(resp.GraphResult.Edges),
			TokensUsed:         resp.Bundle.TokenReport.Actual,
			TokenBudget:        resp.Bundle.TokenReport.Budget,
			DegradationLevel:   resp.Bundle.TokenReport.DegradationLevel,
			CacheHit:           resp.CacheHit,
			StoppingReason:     resp.Bundle.StoppingReason,
		}
	}
	return out, nil
}

// matchesFilter applies the protocol's coarse content-type filter over
// a packed item's classified kind.
func matchesFilter(item packing.PackedItem, filter string) bool {
	switch filter {
	case "", "all":
		return true
	case "code":
		return item.Candidate.Kind == packing.KindCode || item.Candidate.Kind == packing.KindTests ||
			item.Candidate.Kind == packing.KindExamples
	case "docs":
		return item.Candidate.Kind == packing.KindDocs || item.Candidate.Kind == packing.KindComments
	default:
		return true
	}
}

// matchesScopes reports whether path falls under any of the requested
// path-prefix scopes (empty scopes match everything).
func matchesScopes(path string, scopes []string) bool {
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

// loadProject returns the warm projectState for root, opening it from
// disk on first use. The project map is guarded for the whole lookup so
// two concurrent requests for a cold project cannot race to open it
// twice.
func (d *Daemon) loadProject(ctx context.Context, root string) (*projectState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if state, ok := d.projects[root]; ok {
		state.lastUsed = time.Now()
		return state, nil
	}

	dataDir := filepath.Join(root, ".pampax")
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if !fileExists(metadataPath) {
		return nil, fmt.Errorf("no index found in %s: run 'pampax index' first", root)
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	bm25BasePath := filepath.Join(dataDir, "bm25")
	bm25, err := store.NewBM25IndexWithBackend(bm25BasePath, store.DefaultBM25Config(), cfg.Search.BM25Backend)
	if err != nil {
		_ = metadata.Close()
		return nil, fmt.Errorf("failed to open BM25 index: %w", err)
	}

	vectorConfig := store.DefaultVectorStoreConfig(d.embedder.Dimensions())
	vector, err := store.NewHNSWStore(vectorConfig)
	if err != nil {
		_ = bm25.Close()
		_ = metadata.Close()
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}
	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	if err := vector.Load(vectorPath); err != nil {
		slog.Debug("vector_load_failed", slog.String("root", root), slog.String("error", err.Error()))
	}

	pl := pipeline.Build(metadata, bm25, vector, d.embedder, cfg.Pipeline, pipeline.DefaultModelID)

	state := &projectState{
		rootPath: root,
		loadedAt: time.Now(),
		lastUsed: time.Now(),
		metadata: metadata,
		bm25:     bm25,
		vector:   vector,
		pipeline: pl,
	}

	d.evictLRU()
	d.projects[root] = state
	return state, nil
}

// evictLRU closes and drops the least recently used project once the
// warm set exceeds MaxProjects. Caller must hold d.mu.
func (d *Daemon) evictLRU() {
	for len(d.projects) >= d.cfg.MaxProjects && len(d.projects) > 0 {
		var oldestRoot string
		var oldest time.Time
		for root, state := range d.projects {
			if oldestRoot == "" || state.lastUsed.Before(oldest) {
				oldestRoot = root
				oldest = state.lastUsed
			}
		}
		if oldestRoot == "" {
			return
		}
		if err := d.projects[oldestRoot].Close(); err != nil {
			slog.Warn("project_close_failed", slog.String("root", oldestRoot), slog.String("error", err.Error()))
		}
		delete(d.projects, oldestRoot)
	}
}

// cleanup closes every warm project and the embedder on shutdown.
func (d *Daemon) cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for root, state := range d.projects {
		if err := state.Close(); err != nil {
			slog.Warn("project_close_failed", slog.String("root", root), slog.String("error", err.Error()))
		}
	}
	d.projects = make(map[string]*projectState)

	if d.embedder != nil {
		_ = d.embedder.Close()
		d.embedder = nil
	}
}
