// Topicd is a topic-scoped document ingestion and retrieval daemon.
//
// Documents uploaded to a topic are split into overlapping chunks, embedded,
// and stored in a per-topic vector collection. Queries are embedded the same
// way and answered with the nearest chunks.
//
// Usage:
//
//	# Start with defaults (Qdrant on localhost:6334, MongoDB on localhost:27017)
//	topicd
//
//	# Load a config file, override pieces via environment
//	TOPICD_SERVER_PORT=9090 topicd -config topicd.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/corpusworks/topicd/internal/chunker"
	"github.com/corpusworks/topicd/internal/config"
	"github.com/corpusworks/topicd/internal/embeddings"
	"github.com/corpusworks/topicd/internal/httpapi"
	"github.com/corpusworks/topicd/internal/ingest"
	"github.com/corpusworks/topicd/internal/logging"
	"github.com/corpusworks/topicd/internal/registry"
	"github.com/corpusworks/topicd/internal/search"
	"github.com/corpusworks/topicd/internal/vectorindex"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  topicd [-config FILE]   Start the topicd daemon\n")
			fmt.Fprintf(os.Stderr, "  topicd version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("topicd\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the topicd server and blocks until the context is cancelled.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Initialize the logger
//  3. Connect infrastructure (vector index, metadata registry)
//  4. Create the embedding provider
//  5. Wire the ingestion and retrieval pipelines
//  6. Start the HTTP server
//  7. Shut down gracefully on context cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Fields: map[string]string{"service": "topicd"},
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("Starting topicd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("index_backend", cfg.Index.Backend),
		zap.String("registry_backend", cfg.Registry.Backend),
		zap.String("embedding_provider", cfg.Embedding.Provider))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer deps.Close()

	splitter, err := chunker.NewSplitter(chunker.Config{
		ChunkSize:         cfg.Chunking.ChunkSize,
		ChunkOverlap:      cfg.Chunking.ChunkOverlap,
		BoundaryTolerance: cfg.Chunking.BoundaryTolerance,
	})
	if err != nil {
		return fmt.Errorf("initialize splitter: %w", err)
	}

	metric, err := vectorindex.ParseMetric(cfg.Index.Distance)
	if err != nil {
		return fmt.Errorf("initialize index: %w", err)
	}

	ingester, err := ingest.NewService(splitter, deps.embedder, deps.index, deps.registry, metric, logger)
	if err != nil {
		return fmt.Errorf("initialize ingestion pipeline: %w", err)
	}

	searcher, err := search.NewService(deps.embedder, deps.index, deps.registry, logger)
	if err != nil {
		return fmt.Errorf("initialize retrieval pipeline: %w", err)
	}

	srv, err := httpapi.NewServer(ingester, searcher, deps.index, deps.registry, logger, &httpapi.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})
	if err != nil {
		return fmt.Errorf("initialize http server: %w", err)
	}

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout))
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	index    vectorindex.Index
	registry registry.Registry
	embedder embeddings.Provider
	logger   *zap.Logger
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.embedder != nil {
		_ = d.embedder.Close()
	}
	if d.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.registry.Close(ctx)
	}
	if d.index != nil {
		_ = d.index.Close()
	}
}

// initDependencies connects the vector index and the metadata registry and
// creates the embedding provider.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	index, err := vectorindex.New(cfg.Index)
	if err != nil {
		return nil, fmt.Errorf("create vector index: %w", err)
	}

	logger.Info("Vector index initialized",
		zap.String("backend", cfg.Index.Backend),
		zap.String("distance", cfg.Index.Distance))

	reg, err := registry.New(ctx, cfg.Registry)
	if err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("create metadata registry: %w", err)
	}

	logger.Info("Metadata registry initialized",
		zap.String("backend", cfg.Registry.Backend),
		zap.String("database", cfg.Registry.Database))

	embedder, err := embeddings.NewProvider(cfg.Embedding, logger)
	if err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Close(closeCtx)
		_ = index.Close()
		return nil, fmt.Errorf("create embedding provider: %w", err)
	}

	logger.Info("Embedding provider initialized",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimension", embedder.Dimension()))

	return &dependencies{
		index:    index,
		registry: reg,
		embedder: embedder,
		logger:   logger,
	}, nil
}
