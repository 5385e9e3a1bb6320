package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bg073/jarvis-rag/configs"
	"github.com/bg073/jarvis-rag/internal/config"
	"github.com/bg073/jarvis-rag/internal/output"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a commented jarvis-rag.yaml",
		Long: `Write jarvis-rag.yaml with every setting at its default value. An
existing jarvis-rag.yaml or jarvis-rag.yml is kept unless --force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			out := output.New(cmd.OutOrStdout())

			if !force {
				for _, name := range config.ConfigFileNames {
					if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
						out.Status("ℹ️ ", fmt.Sprintf("Existing %s preserved", name))
						return nil
					}
				}
			}

			path := filepath.Join(dir, config.ConfigFileNames[0])
			if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
			out.Successf("Created %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")
	return cmd
}
