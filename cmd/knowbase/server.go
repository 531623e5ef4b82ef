package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openkb/knowbase/internal/api"
	"github.com/openkb/knowbase/internal/chunk"
	"github.com/openkb/knowbase/internal/config"
	"github.com/openkb/knowbase/internal/crawl"
	"github.com/openkb/knowbase/internal/graph"
	"github.com/openkb/knowbase/internal/ingest"
	"github.com/openkb/knowbase/internal/jobstatus"
	"github.com/openkb/knowbase/internal/kv"
	"github.com/openkb/knowbase/internal/library"
	"github.com/openkb/knowbase/internal/llm"
	"github.com/openkb/knowbase/internal/memory"
	"github.com/openkb/knowbase/internal/pool"
	"github.com/openkb/knowbase/internal/query"
	"github.com/openkb/knowbase/internal/storage"
	"github.com/openkb/knowbase/internal/vector"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the knowbase server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running knowbase server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show knowbase system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "knowbase.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "knowbase version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("knowbase is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("knowbase is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Connect to Redis for job status tracking.
	kvClient, err := kv.New(ctx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer kvClient.Close()

	// Model handles.
	chatModel, err := llm.NewChatModel(cfg.Models.BaseURL, cfg.Models.APIKey, cfg.Models.ChatModel)
	if err != nil {
		return err
	}
	embedder, err := llm.NewEmbedder(cfg.Models.BaseURL, cfg.Models.APIKey, cfg.Models.EmbedModel)
	if err != nil {
		return err
	}

	// Assemble the ingestion and retrieval stack.
	vectorStore := vector.NewSQLiteStore(store.DB(), embedder)
	chunker := chunk.New(embedder.EmbedBatch, cfg.Chunk.MaxChunkSize)

	var graphStore ingest.GraphStore
	if cfg.Graph.BaseURL != "" {
		graphStore = graph.New(cfg.Graph.BaseURL, cfg.Graph.APIKey)
	}

	ingestSvc := ingest.New(store, vectorStore, graphStore, chunker, logger)
	tracker := jobstatus.New(kvClient)
	memoryMgr := memory.New(store, chatModel, logger)

	runtimePool := pool.New(
		query.Factory(vectorStore, memoryMgr, chatModel, logger),
		cfg.Pool.MaxIdle,
		cfg.Pool.SweepInterval,
	)
	defer runtimePool.ClearAll()

	querySvc := query.NewService(runtimePool)
	librarySvc := library.New(store, ingestSvc, runtimePool, tracker, logger)
	crawler := crawl.NewWorker(crawl.NewHTTPFetcher(), ingestSvc, tracker, logger)

	handler := api.NewHandler(api.Deps{
		Libraries:     librarySvc,
		Ingest:        ingestSvc,
		Documents:     store,
		Conversations: store,
		Query:         querySvc,
		Jobs:          tracker,
		Crawler:       crawler,
		Pool:          runtimePool,
		Token:         cfg.Server.APIToken,
		Logger:        logger,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "knowbase listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("knowbase is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop knowbase (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to knowbase (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Chat model", "%s", cfg.Models.ChatModel)
	printStatus("Embed model", "%s", cfg.Models.EmbedModel)
	if cfg.Graph.BaseURL != "" {
		printStatus("Graph service", "%s", cfg.Graph.BaseURL)
	} else {
		printStatus("Graph service", "disabled")
	}

	// Show library count and pool size if server is running.
	if running {
		apiClient, clientErr := newAPIClient()
		if clientErr == nil {
			if libsResp, err := apiClient.get(context.Background(), "/api/v1/libraries"); err == nil {
				var libs []json.RawMessage
				if decodeJSON(libsResp, &libs) == nil {
					printStatus("Libraries", "%d", len(libs))
				}
			}
			if poolResp, err := apiClient.get(context.Background(), "/api/v1/monitor/pool"); err == nil {
				var stats struct {
					Size int `json:"size"`
				}
				if decodeJSON(poolResp, &stats) == nil {
					printStatus("Cached runtimes", "%d", stats.Size)
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
