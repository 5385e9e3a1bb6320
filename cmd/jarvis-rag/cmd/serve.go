package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bg073/jarvis-rag/internal/api"
	"github.com/bg073/jarvis-rag/internal/async"
	"github.com/bg073/jarvis-rag/internal/config"
	"github.com/bg073/jarvis-rag/internal/watcher"
	"github.com/bg073/jarvis-rag/pkg/version"
)

// drainTimeout bounds how long shutdown waits for running ingestions.
const drainTimeout = 30 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	var addr string
	var watchDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API: /upload, /upload_sync, /query, /ready, /health and
/tasks/{id}. Default spaces are provisioned at startup. With watch.enabled
(or --watch), files dropped into the inbox directory are ingested too.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.HTTPAddr = addr
			}
			if watchDir != "" {
				cfg.Watch.Enabled = true
				cfg.Watch.Dir = watchDir
			}
			cleanup, err := opts.setupLogging(cfg, false)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default from server.http_addr)")
	cmd.Flags().StringVar(&watchDir, "watch", "", "Inbox directory to watch for new files")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if err := runPreflight(ctx, cfg); err != nil {
		return err
	}

	eng, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			slog.Warn("engine_close_failed", slog.String("error", err.Error()))
		}
	}()

	eng.coordinator.EnsureDefaults(ctx, cfg.Provision.DefaultSpaces)

	queue, err := async.NewQueue(eng.coordinator, async.QueueConfig{
		Workers:        cfg.Ingest.Workers,
		StatusCapacity: cfg.Ingest.StatusCapacity,
		Journal:        eng.journal,
	})
	if err != nil {
		return fmt.Errorf("start ingestion queue: %w", err)
	}
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := queue.Close(drainCtx); err != nil {
			slog.Warn("queue_drain_incomplete", slog.String("error", err.Error()))
		}
	}()

	server, err := api.NewServer(api.Config{
		Indexer:          eng.coordinator,
		Queue:            queue,
		Searcher:         eng.retriever,
		DefaultTenant:    cfg.DefaultTenant,
		MaxUploadBytes:   int64(cfg.Ingest.MaxUploadMB) << 20,
		UploadsPerSecond: cfg.Ingest.UploadsPerSecond,
		UploadBurst:      cfg.Ingest.UploadBurst,
		QueryTimeout:     config.Duration(cfg.Search.QueryTimeout, 0),
		Version:          version.Version,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx, cfg.Server.HTTPAddr)
	})

	if cfg.Watch.Enabled {
		inbox, err := watcher.NewInbox(queue, watcher.Options{
			Dir:          cfg.Watch.Dir,
			Space:        cfg.Watch.Space,
			TenantID:     cfg.Watch.TenantID,
			UploaderID:   cfg.Watch.UploaderID,
			Tags:         cfg.Watch.Tags,
			Debounce:     config.Duration(cfg.Watch.Debounce, watcher.DefaultDebounce),
			MaxFileBytes: int64(cfg.Ingest.MaxUploadMB) << 20,
			ScanExisting: true,
		})
		if err != nil {
			return fmt.Errorf("start inbox watcher: %w", err)
		}
		g.Go(func() error {
			return inbox.Run(gctx)
		})
	}

	return g.Wait()
}
