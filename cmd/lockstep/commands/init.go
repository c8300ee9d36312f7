package commands

import (
	"github.com/dyluth/lockstep/internal/printer"
	"github.com/dyluth/lockstep/internal/scaffold"
	"github.com/spf13/cobra"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Initialize a new Lockstep project",
	Long: `Initialize a new Lockstep project with default configuration and the
starter escape room.

Creates:
  • lockstep.yml        - Server configuration
  • content/escape.yml  - Anna's escape, a complete puzzle graph to play or adapt
  • .env.example        - Environment variables for secrets

Use --force to reinitialize an existing project (WARNING: overwrites existing files).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite existing lockstep.yml and content")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) == 1 {
		root = args[0]
	}

	if !forceInit {
		if err := scaffold.CheckExisting(root); err != nil {
			return printer.Error("project already initialized", err.Error(), nil)
		}
	}

	if err := scaffold.Initialize(root, forceInit); err != nil {
		return printer.Error("initialization failed", err.Error(), nil)
	}

	scaffold.PrintSuccess(cmd.OutOrStdout())
	return nil
}
