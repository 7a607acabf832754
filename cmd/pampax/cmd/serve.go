package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/pampax-dev/pampax/internal/config"
	"github.com/pampax-dev/pampax/internal/embed"
	"github.com/pampax-dev/pampax/internal/logging"
	"github.com/pampax-dev/pampax/internal/mcp"
	"github.com/pampax-dev/pampax/internal/pipeline"
	"github.com/pampax-dev/pampax/internal/session"
	"github.com/pampax-dev/pampax/internal/store"
	"github.com/pampax-dev/pampax/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var debugFlag bool
	var transport string
	var sessionName string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol server, exposing the search,
search_code, search_docs, and index_status tools to AI coding assistants
such as Claude Code and Cursor.

The MCP protocol requires stdout to carry JSON-RPC messages exclusively;
all status output goes to the log file instead of stdout (see
'pampax status' or ~/.pampax/logs for diagnostics).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debugFlag {
				if logger, cleanup, err := logging.Setup(logging.DebugConfig()); err == nil {
					slog.SetDefault(logger)
					defer cleanup()
				}
			}

			if sessionName != "" {
				root, err := config.FindProjectRoot(".")
				if err != nil {
					root, _ = os.Getwd()
				}
				return runServeWithSession(cmd.Context(), sessionName, root, transport, 0)
			}

			return runServe(cmd.Context(), transport, 0)
		},
	}

	cmd.Flags().BoolVar(&debugFlag, "debug", false, "Enable verbose debug logging to ~/.pampax/logs/")
	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport type: stdio or sse")
	cmd.Flags().StringVar(&sessionName, "session", "", "Serve a named session's index instead of the current project's default")

	return cmd
}

// runServe starts the MCP server for the project rooted at the current
// directory (or the nearest ancestor carrying a .pampax index).
func runServe(ctx context.Context, transport string, port int) error {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}
	dataDir := filepath.Join(root, ".pampax")
	return runServeForProject(ctx, root, dataDir, transport, port)
}

// runServeWithSession starts the MCP server against a named session's
// copy of the index rather than the project's own .pampax directory,
// so a caller can switch between sessions without reindexing.
func runServeWithSession(ctx context.Context, sessionName, projectPath, transport string, port int) error {
	cfg := config.NewConfig()

	mgr, err := session.NewManager(session.ManagerConfig{
		StoragePath: cfg.Sessions.StoragePath,
		MaxSessions: cfg.Sessions.MaxSessions,
	})
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	sess, err := mgr.Open(sessionName, projectPath)
	if err != nil {
		return fmt.Errorf("failed to open session %q: %w", sessionName, err)
	}

	return runServeForProject(ctx, sess.ProjectPath, sess.SessionDir, transport, port)
}

// runServeForProject wires the stores, embedder, search engine, file
// watcher, and MCP server for one project/data-directory pair and blocks
// until ctx is cancelled or the transport loop exits.
func runServeForProject(ctx context.Context, root, dataDir, transport string, port int) error {
	// BUG-034: the MCP protocol requires stdout to carry JSON-RPC
	// messages exclusively. All status and diagnostic logging goes to
	// the log file, never stdout, for the lifetime of this call.
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	if transport == "stdio" {
		if err := verifyStdinForMCP(); err != nil {
			slog.Warn("stdin is not a pipe; MCP clients connect over stdin/stdout",
				slog.String("error", err.Error()))
		}
	}

	metadataPath := filepath.Join(dataDir, "metadata.db")
	if !fileExists(metadataPath) {
		return fmt.Errorf("no index found in %s\nRun 'pampax index' to create one", root)
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	bm25BasePath := filepath.Join(dataDir, "bm25")
	bm25, err := store.NewBM25IndexWithBackend(bm25BasePath, store.DefaultBM25Config(), cfg.Search.BM25Backend)
	if err != nil {
		return fmt.Errorf("failed to open BM25 index: %w", err)
	}
	defer func() { _ = bm25.Close() }()

	embed.SetMLXConfig(embed.MLXServerConfig{
		Endpoint: cfg.Embeddings.MLXEndpoint,
		Model:    cfg.Embeddings.MLXModel,
	})
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
	if _, err := os.Stat(vectorPath); err == nil {
		if loadErr := vector.Load(vectorPath); loadErr != nil {
			slog.Debug("vector_load_failed", slog.String("error", loadErr.Error()))
		}
	}

	pl := pipeline.Build(metadata, bm25, vector, embedder, cfg.Pipeline, pipeline.DefaultModelID)

	server, err := mcp.NewServer(pl, metadata, embedder, cfg, root)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer func() { _ = server.Close() }()

	// BUG-035: the watcher starts in the background so a slow
	// filesystem never delays the MCP handshake; it only feeds
	// incremental reindexing, so losing its first few seconds costs
	// freshness, not correctness or protocol compliance.
	startBackgroundWatcher(ctx, root, dataDir)

	addr := ""
	if port > 0 {
		addr = fmt.Sprintf(":%d", port)
	}
	return server.Serve(ctx, transport, addr)
}

// startBackgroundWatcher starts the file watcher on its own goroutine,
// bounded by PAMPAX_WATCHER_STARTUP_TIMEOUT (default 5s) so a watcher
// that never finishes its initial directory walk cannot hold the
// background goroutine past the life of the request that started it.
func startBackgroundWatcher(ctx context.Context, root, dataDir string) {
	timeout := 5 * time.Second
	if v := os.Getenv("PAMPAX_WATCHER_STARTUP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			timeout = d
		}
	}

	go func() {
		w, err := watcher.NewHybridWatcher(watcher.DefaultOptions())
		if err != nil {
			slog.Warn("watcher_init_failed", slog.String("error", err.Error()))
			return
		}

		startCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := w.Start(startCtx, root); err != nil {
			slog.Warn("watcher_start_failed", slog.String("error", err.Error()))
			return
		}
		slog.Debug("watcher_started", slog.String("root", root), slog.String("data_dir", dataDir))

		<-ctx.Done()
		_ = w.Stop()
	}()
}

// verifyStdinForMCP checks that stdin looks like a pipe from an MCP
// client rather than an interactive terminal, so a user running 'pampax
// serve' directly gets a hint instead of a silent hang.
func verifyStdinForMCP() error {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		return errors.New("stdin is a terminal, not a pipe: the MCP protocol expects a JSON-RPC client on the other end (run this from an MCP client such as Claude Code, not interactively)")
	}
	return nil
}
