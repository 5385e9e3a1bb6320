// Package cmd provides the CLI commands for jarvis-rag.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bg073/jarvis-rag/pkg/version"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	dataDir    string
	logLevel   string
	debug      bool
}

// NewRootCmd creates the root command for the jarvis-rag CLI.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "jarvis-rag",
		Short: "Hybrid retrieval engine for the Jarvis assistant",
		Long: `jarvis-rag indexes documents into per-space vector and keyword stores
and answers queries with hybrid search: semantic and BM25 retrieval fused
with Reciprocal Rank Fusion, then reranked.

Access is filtered by tenant, caller roles and tags.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("jarvis-rag version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to jarvis-rag.yaml (default: ./jarvis-rag.yaml if present)")
	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Override data_dir from the config")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override server.log_level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging to ~/.jarvis-rag/logs/")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newMCPCmd(opts))
	cmd.AddCommand(newIngestCmd(opts))
	cmd.AddCommand(newQueryCmd(opts))
	cmd.AddCommand(newReadyCmd(opts))
	cmd.AddCommand(newReconcileCmd(opts))
	cmd.AddCommand(newDoctorCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
