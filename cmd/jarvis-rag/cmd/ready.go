package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bg073/jarvis-rag/internal/index"
	"github.com/bg073/jarvis-rag/internal/output"
	"github.com/bg073/jarvis-rag/internal/partition"
)

func newReadyCmd(opts *globalOptions) *cobra.Command {
	var route partition.Route
	var all bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "ready",
		Short: "Provision a partition and report its readiness",
		Long: `Provision a partition if needed and report whether its vector and
keyword structures exist. With --all, every default space is checked.
Exits non-zero when any partition is not ready.`,
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

			var results []index.Readiness
			if all {
				results = eng.coordinator.EnsureDefaults(ctx, cfg.Provision.DefaultSpaces)
			} else {
				r, err := eng.coordinator.Ready(ctx, route)
				if err != nil {
					return err
				}
				results = []index.Readiness{r}
			}

			out := output.New(cmd.OutOrStdout())
			if jsonOut {
				if err := out.JSON(results); err != nil {
					return err
				}
			} else {
				out.Readiness(results)
			}

			for _, r := range results {
				if !r.Ready() {
					return fmt.Errorf("partition %s is not ready", r.Partition)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&route.Space, "space", "", "Space (default: documents)")
	cmd.Flags().StringVar(&route.ProjectID, "project", "", "Project id (with --space projects)")
	cmd.Flags().StringVar(&route.SubDB, "subdb", "", "Project sub-database: "+strings.Join(partition.SubDBs, ", "))
	cmd.Flags().BoolVar(&all, "all", false, "Check every default space")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
