package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bg073/jarvis-rag/internal/async"
	"github.com/bg073/jarvis-rag/internal/config"
	"github.com/bg073/jarvis-rag/internal/mcp"
)

func newMCPCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools over stdio",
		Long: `Serve ingest, query, partition_ready and task_status as Model Context
Protocol tools over stdio. Stdout is reserved for JSON-RPC; logs go to
~/.jarvis-rag/logs/server.log.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			cleanup, err := opts.setupLogging(cfg, true)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMCP(ctx, cfg)
		},
	}
}

func runMCP(ctx context.Context, cfg *config.Config) error {
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
		_ = queue.Close(drainCtx)
	}()

	server, err := mcp.NewServer(mcp.Config{
		Readier:       eng.coordinator,
		Queue:         queue,
		Searcher:      eng.retriever,
		DefaultTenant: cfg.DefaultTenant,
		MaxFileBytes:  int64(cfg.Ingest.MaxUploadMB) << 20,
	})
	if err != nil {
		return err
	}
	return server.Run(ctx)
}
