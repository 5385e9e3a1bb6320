package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bg073/jarvis-rag/internal/config"
	"github.com/bg073/jarvis-rag/internal/embed"
	"github.com/bg073/jarvis-rag/internal/output"
	"github.com/bg073/jarvis-rag/internal/preflight"
	"github.com/bg073/jarvis-rag/internal/search"
	"github.com/bg073/jarvis-rag/internal/store"
)

func newDoctorCmd(opts *globalOptions) *cobra.Command {
	var jsonOut bool
	var verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the host and the configured services",
		Long: `Check free disk space and write access in the data directory, the open
file limit, and reachability of the embedding server, the reranker and
Qdrant when they are configured. Exits non-zero on a critical failure.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			checker := preflight.New(
				preflight.WithOutput(cmd.OutOrStdout()),
				preflight.WithVerbose(verbose),
				preflight.WithServices(preflightServices(cfg)...),
			)
			results := checker.RunAll(cmd.Context(), cfg.DataDir)

			if jsonOut {
				err = output.New(cmd.OutOrStdout()).JSON(map[string]any{
					"status": checker.SummaryStatus(results),
					"checks": results,
				})
				if err != nil {
					return err
				}
			} else {
				checker.PrintResults(results)
			}

			if checker.HasCriticalFailures(results) {
				return errors.New("preflight checks failed")
			}
			return preflight.MarkPassed(cfg.DataDir)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show check details")
	return cmd
}

// preflightServices lists the remote dependencies cfg selects.
func preflightServices(cfg *config.Config) []preflight.Service {
	var services []preflight.Service

	if cfg.Embeddings.Provider != string(embed.ProviderStatic) {
		services = append(services, preflight.Service{
			Name:     "embedder",
			Target:   cfg.Embeddings.OllamaHost,
			Required: true,
			Ping: func(ctx context.Context) error {
				e, err := embed.NewEmbedder(ctx, cfg.Embeddings)
				if err != nil {
					return err
				}
				return e.Close()
			},
		})
	}

	if cfg.Search.Reranker.Provider == "http" {
		services = append(services, preflight.Service{
			Name:   "reranker",
			Target: cfg.Search.Reranker.URL,
			Ping: func(ctx context.Context) error {
				r, err := search.NewHTTPReranker(ctx, search.HTTPRerankerConfig{
					Endpoint: cfg.Search.Reranker.URL,
					Model:    cfg.Search.Reranker.Model,
				})
				if err != nil {
					return err
				}
				return r.Close()
			},
		})
	}

	if cfg.Stores.VectorBackend == store.VectorBackendQdrant {
		services = append(services, preflight.Service{
			Name:     "vector_store",
			Target:   cfg.Stores.QdrantURL,
			Required: true,
			Ping: func(ctx context.Context) error {
				s, err := store.NewVectorStore(cfg.Stores, "")
				if err != nil {
					return err
				}
				defer func() { _ = s.Close() }()
				return s.Ping(ctx)
			},
		})
	}

	return services
}

// runPreflight checks the host once per data directory. Later starts
// skip it until the marker is removed.
func runPreflight(ctx context.Context, cfg *config.Config) error {
	if !preflight.NeedsCheck(cfg.DataDir) {
		return nil
	}
	checker := preflight.New()
	results := checker.RunAll(ctx, cfg.DataDir)
	for _, r := range results {
		if r.Status != preflight.StatusPass {
			slog.Warn("preflight_check",
				slog.String("check", r.Name),
				slog.String("status", r.Status.String()),
				slog.String("message", r.Message),
				slog.String("details", r.Details))
		}
	}
	if checker.HasCriticalFailures(results) {
		return errors.New("preflight checks failed, run 'jarvis-rag doctor' for details")
	}
	return preflight.MarkPassed(cfg.DataDir)
}
