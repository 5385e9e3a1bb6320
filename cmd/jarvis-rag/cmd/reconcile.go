package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bg073/jarvis-rag/internal/index"
	"github.com/bg073/jarvis-rag/internal/output"
	"github.com/bg073/jarvis-rag/internal/partition"
)

func newReconcileCmd(opts *globalOptions) *cobra.Command {
	var checkKeys []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair documents whose keyword write failed",
		Long: `Rebuild keyword records for every document journaled as partially
indexed, using the payloads already in the vector store. Nothing is deleted.

With --check, also diff the vector and keyword ids of the given partitions.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
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
			eng, err := openEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			res, err := eng.checker.Reconcile(ctx)
			if err != nil {
				return err
			}

			checks := make([]*index.CheckResult, 0, len(checkKeys))
			inconsistent := 0
			for _, key := range checkKeys {
				p, err := partition.ParseKey(key)
				if err != nil {
					return err
				}
				check, err := eng.checker.Check(ctx, p)
				if err != nil {
					return err
				}
				checks = append(checks, check)
				inconsistent += len(check.Inconsistencies)
			}

			out := output.New(cmd.OutOrStdout())
			if jsonOut {
				if err := out.JSON(map[string]any{"reconcile": res, "checks": checks}); err != nil {
					return err
				}
			} else {
				out.Successf("Repaired %d of %d partial documents", len(res.Repaired), res.Pending)
				for _, id := range res.Failed {
					out.Warningf("repair failed: %s", id)
				}
				for _, c := range checks {
					if c.Consistent() {
						out.Successf("%s consistent: %d vector points, %d keyword chunks", c.Partition, c.VectorPoints, c.KeywordChunks)
						continue
					}
					out.Warningf("%s has %d inconsistencies", c.Partition, len(c.Inconsistencies))
					for _, inc := range c.Inconsistencies {
						out.Status("", fmt.Sprintf("%s %s (document %s)", inc.Type, inc.ChunkID, inc.DocumentID))
					}
				}
			}

			if len(res.Failed) > 0 || inconsistent > 0 {
				return fmt.Errorf("%d repairs failed, %d inconsistencies", len(res.Failed), inconsistent)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&checkKeys, "check", nil, "Partition keys to diff after repair")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
