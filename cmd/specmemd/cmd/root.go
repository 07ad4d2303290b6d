// Package cmd provides the CLI commands for specmemd. The commands are
// thin wrappers: every operation they expose is a core component behind
// the same composition the MCP tool surface uses.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/specmem/specmem/internal/config"
	memerrors "github.com/specmem/specmem/internal/errors"
	"github.com/specmem/specmem/pkg/version"
)

var projectFlag string

// NewRootCmd creates the root command for the specmemd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "specmemd",
		Short: "Per-project code and conversation memory server",
		Long: `Specmemd augments a coding assistant with persistent, semantically
searchable memory over a project: raw memories, an indexed mirror of the
source tree, and prior-session notes, served through hybrid
(vector + lexical) search.

Run 'specmemd serve' in a project directory to start the MCP server.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("specmemd version {{.Version}}\n")
	cmd.PersistentFlags().StringVar(&projectFlag, "project", "", "Project root (default: SPECMEM_PROJECT_PATH, else detected from cwd)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		cmd.PrintErrln(memerrors.FormatForCLI(err))
		return err
	}
	return nil
}

// resolveProjectPath resolves the project scope: the --project flag wins,
// then SPECMEM_PROJECT_PATH, then project-root detection walking up from
// the working directory.
func resolveProjectPath() (string, error) {
	if projectFlag != "" {
		return projectFlag, nil
	}
	if v := os.Getenv("SPECMEM_PROJECT_PATH"); v != "" {
		return v, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	root, err := config.FindProjectRoot(cwd)
	if err != nil {
		return cwd, nil
	}
	return root, nil
}
