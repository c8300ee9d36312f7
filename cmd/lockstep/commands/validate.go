package commands

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/dyluth/lockstep/internal/printer"
	"github.com/dyluth/lockstep/internal/puzzle"
	"github.com/dyluth/lockstep/internal/report"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [graph.yml...]",
	Short: "Check puzzle graphs for content errors",
	Long: `Load puzzle graph files and report every content problem in them:
dangling references, unreachable nodes, items that cannot be obtained, and
an escape that can never be reached.

With no arguments every graph in the configured puzzles directory is checked.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	paths := args
	if len(paths) == 0 {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		paths, err = graphFiles(cfg.Puzzles.Dir)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return printer.Error(
				"no puzzle graphs found",
				fmt.Sprintf("No .yml or .yaml files in %s.", cfg.Puzzles.Dir),
				[]string{"Set puzzles.dir in lockstep.yml or pass files:\n  lockstep validate content/escape.yml"},
			)
		}
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range paths {
		g, err := puzzle.LoadGraph(path)
		if err != nil {
			failed++
			fmt.Fprintf(out, "✗ %s\n", path)
			if !report.FormatContentError(out, err) {
				fmt.Fprintf(out, "  %v\n", err)
			}
			continue
		}
		fmt.Fprintf(out, "✓ %s\n  ", path)
		report.FormatGraphSummary(out, g)
	}

	if failed > 0 {
		return printer.Error(
			"content validation failed",
			fmt.Sprintf("%d of %d puzzle graphs have problems.", failed, len(paths)),
			nil,
		)
	}
	printer.Success("All %d puzzle graphs are valid\n", len(paths))
	return nil
}

func graphFiles(dir string) ([]string, error) {
	var paths []string
	for _, pattern := range []string{"*.yml", "*.yaml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)
	return paths, nil
}
