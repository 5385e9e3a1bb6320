package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bg073/jarvis-rag/internal/index"
	"github.com/bg073/jarvis-rag/internal/output"
	"github.com/bg073/jarvis-rag/internal/partition"
)

type ingestOptions struct {
	tenant    string
	uploader  string
	space     string
	projectID string
	subdb     string
	tags      []string
	jsonOut   bool
}

func newIngestCmd(opts *globalOptions) *cobra.Command {
	var in ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest <file-or-dir>",
		Short: "Index a file or every file under a directory",
		Long: `Index documents synchronously. A directory is walked recursively;
hidden files and directories are skipped. Each file is extracted, chunked,
embedded and written to both stores of the target partition.`,
		Args: cobra.ExactArgs(1),
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

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := openEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			runner, err := index.NewRunner(eng.coordinator)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			root, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			rc := index.RunnerConfig{
				Root: root,
				Template: index.IngestRequest{
					TenantID:   orDefault(in.tenant, cfg.DefaultTenant),
					UploaderID: in.uploader,
					Space:      in.space,
					ProjectID:  in.projectID,
					SubDB:      in.subdb,
					Tags:       in.tags,
				},
				MaxFileSize: int64(cfg.Ingest.MaxUploadMB) << 20,
			}
			if !in.jsonOut {
				rc.Progress = func(p index.RunnerProgress) {
					out.Progress(p.Current, p.Total, filepath.Base(p.Path))
				}
			}

			res, err := runner.Run(ctx, rc)
			if err != nil {
				return err
			}
			if in.jsonOut {
				return out.JSON(res)
			}
			out.RunSummary(res)
			if res.Failed > 0 {
				return fmt.Errorf("%d of %d files failed", res.Failed, res.Files)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&in.tenant, "tenant", "", "Tenant id (default from default_tenant)")
	cmd.Flags().StringVar(&in.uploader, "uploader", "cli", "Uploader id recorded on every chunk")
	cmd.Flags().StringVar(&in.space, "space", "documents", "Target space")
	cmd.Flags().StringVar(&in.projectID, "project", "", "Project id (with --space projects)")
	cmd.Flags().StringVar(&in.subdb, "subdb", "", "Project sub-database: "+strings.Join(partition.SubDBs, ", "))
	cmd.Flags().StringSliceVar(&in.tags, "tags", nil, "Comma-separated tags")
	cmd.Flags().BoolVar(&in.jsonOut, "json", false, "Output the result as JSON")
	return cmd
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}
