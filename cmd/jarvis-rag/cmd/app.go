package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bg073/jarvis-rag/internal/config"
	"github.com/bg073/jarvis-rag/internal/embed"
	"github.com/bg073/jarvis-rag/internal/index"
	"github.com/bg073/jarvis-rag/internal/logging"
	"github.com/bg073/jarvis-rag/internal/search"
	"github.com/bg073/jarvis-rag/internal/store"
	"github.com/bg073/jarvis-rag/internal/telemetry"
)

// loadConfig resolves the configuration and applies flag overrides.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	cfg, err := config.Load(cwd, o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.logLevel != "" {
		cfg.Server.LogLevel = o.logLevel
	}
	return cfg, nil
}

// setupLogging installs the default logger. In MCP mode stdout carries
// JSON-RPC, so logs go to file only.
func (o *globalOptions) setupLogging(cfg *config.Config, mcpMode bool) (func(), error) {
	lc := logging.DefaultConfig()
	lc.Level = cfg.Server.LogLevel
	lc.Format = cfg.Server.LogFormat
	if mcpMode {
		lc = logging.MCPConfig(cfg.Server.LogLevel)
	}
	if o.debug {
		lc.Level = "debug"
		lc.FilePath = logging.DefaultLogPath()
	}
	return logging.SetupDefault(lc)
}

// engine is the fully wired retrieval stack over one data directory.
type engine struct {
	cfg *config.Config

	lock        *store.DirLock
	vectors     store.VectorStore
	keywords    store.KeywordStore
	model       *embed.Model
	journal     *telemetry.Journal
	metrics     *telemetry.QueryMetrics
	coordinator *index.Coordinator
	retriever   *search.Retriever
	checker     *index.ConsistencyChecker
}

// openEngine locks the data directory and opens every component. On
// error, whatever was opened is closed again.
func openEngine(ctx context.Context, cfg *config.Config) (e *engine, err error) {
	e = &engine{cfg: cfg}
	defer func() {
		if err != nil {
			_ = e.Close()
			e = nil
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	lock := store.NewDirLock(cfg.DataDir)
	if err := lock.TryLock(); err != nil {
		return nil, err
	}
	e.lock = lock

	if e.vectors, err = store.NewVectorStore(cfg.Stores, cfg.DataDir); err != nil {
		return nil, err
	}
	if e.keywords, err = store.NewKeywordStore(cfg.Stores, cfg.DataDir); err != nil {
		return nil, err
	}

	p := cfg.Provision
	if err := store.WaitReady(ctx, "vector store", e.vectors, p.VectorReadyAttempts,
		config.Duration(p.VectorReadyInterval, 2*time.Second)); err != nil {
		return nil, err
	}
	if err := store.WaitReady(ctx, "keyword store", e.keywords, p.KeywordReadyAttempts,
		config.Duration(p.KeywordReadyInterval, time.Second)); err != nil {
		return nil, err
	}

	if e.journal, err = telemetry.OpenJournal(cfg.DataDir); err != nil {
		return nil, err
	}
	e.model = embed.NewModelFromConfig(cfg.Embeddings)

	e.coordinator, err = index.NewCoordinator(index.CoordinatorConfig{
		Model:         e.model,
		Vectors:       e.vectors,
		Keywords:      e.keywords,
		Provisioner:   store.NewProvisioner(p.Attempts, config.Duration(p.Backoff, 2*time.Second)),
		Journal:       e.journal,
		ChunkSize:     cfg.Chunk.Size,
		ChunkOverlap:  cfg.Chunk.Overlap,
		DefaultTenant: cfg.DefaultTenant,
	})
	if err != nil {
		return nil, err
	}

	e.metrics = telemetry.NewQueryMetrics(e.journal, telemetry.DefaultQueryMetricsConfig())
	e.retriever, err = search.NewRetriever(search.RetrieverConfig{
		Model:             e.model,
		Vectors:           e.vectors,
		Keywords:          e.keywords,
		Reranker:          newReranker(ctx, cfg.Search.Reranker),
		Metrics:           e.metrics,
		SourceTimeout:     config.Duration(cfg.Search.SourceTimeout, search.DefaultSourceTimeout),
		DefaultTenant:     cfg.DefaultTenant,
		DefaultTopK:       cfg.Search.TopK,
		DefaultPerSourceK: cfg.Search.PerSourceK,
	})
	if err != nil {
		return nil, err
	}

	e.checker = index.NewConsistencyChecker(e.vectors, e.keywords, e.journal, cfg.Chunk.Size, cfg.Chunk.Overlap)
	return e, nil
}

// newReranker builds the configured reranker. An unreachable HTTP
// cross-encoder degrades to the lexical reranker.
func newReranker(ctx context.Context, cfg config.RerankerConfig) search.Reranker {
	switch cfg.Provider {
	case "http":
		r, err := search.NewHTTPReranker(ctx, search.HTTPRerankerConfig{
			Endpoint: cfg.URL,
			Model:    cfg.Model,
			Timeout:  config.Duration(cfg.Timeout, search.DefaultRerankerTimeout),
		})
		if err == nil {
			return r
		}
		slog.Warn("reranker_unavailable",
			slog.String("url", cfg.URL),
			slog.String("fallback", "lexical"),
			slog.String("error", err.Error()))
		return &search.LexicalReranker{}
	case "none":
		return &search.NoOpReranker{}
	default:
		return &search.LexicalReranker{}
	}
}

// Close releases every opened component in reverse order.
func (e *engine) Close() error {
	var errs []error
	if e.retriever != nil {
		errs = append(errs, e.retriever.Close())
	}
	if e.metrics != nil {
		errs = append(errs, e.metrics.Close())
	}
	if e.model != nil {
		errs = append(errs, e.model.Close())
	}
	if e.journal != nil {
		errs = append(errs, e.journal.Close())
	}
	if e.keywords != nil {
		errs = append(errs, e.keywords.Close())
	}
	if e.vectors != nil {
		errs = append(errs, e.vectors.Close())
	}
	if e.lock != nil {
		errs = append(errs, e.lock.Unlock())
	}
	return errors.Join(errs...)
}
