package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bg073/jarvis-rag/internal/config"
	"github.com/bg073/jarvis-rag/internal/output"
	"github.com/bg073/jarvis-rag/internal/search"
)

func newQueryCmd(opts *globalOptions) *cobra.Command {
	var q search.Query
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Run a hybrid query against the local index",
		Long: `Run a hybrid query. Each space is searched by vector similarity and by
BM25; the lists are fused with Reciprocal Rank Fusion (k=60) and the
head of the fused list is reranked.

Spaces are partition keys: a space name or projects/{project_id}/{subdb}.`,
		Example: `  jarvis-rag query "travel reimbursement" --roles hr --spaces documents,projects/apollo/documents`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			cleanup, err := opts.setupLogging(cfg, false)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			if timeout := config.Duration(cfg.Search.QueryTimeout, 0); timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			eng, err := openEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			q.Text = strings.Join(args, " ")
			results, err := eng.retriever.Retrieve(ctx, q)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if jsonOut {
				if results == nil {
					results = []search.Result{}
				}
				return out.JSON(map[string]any{"results": results})
			}
			out.Results(q.Text, results)
			return nil
		},
	}

	cmd.Flags().StringVar(&q.TenantID, "tenant", "", "Tenant id (default from default_tenant)")
	cmd.Flags().StringSliceVar(&q.Roles, "roles", nil, "Caller roles (default: employee)")
	cmd.Flags().StringSliceVar(&q.Spaces, "spaces", nil, "Partition keys to search (default: documents)")
	cmd.Flags().StringSliceVar(&q.Tags, "tags", nil, "Only return chunks with one of these tags")
	cmd.Flags().IntVarP(&q.TopK, "top-k", "k", 0, "Maximum results (default from search.top_k)")
	cmd.Flags().IntVar(&q.PerSourceK, "per-source-k", 0, "Candidates per store (default from search.per_source_k)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output results as JSON")
	return cmd
}
