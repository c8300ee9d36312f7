package commands

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/dyluth/lockstep/internal/printer"
	"github.com/dyluth/lockstep/internal/resolver"
	"github.com/dyluth/lockstep/internal/watch"
	"github.com/spf13/cobra"
)

var (
	watchOutputFormat string
	watchAfter        uint64
)

var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Follow a session's world events live",
	Long: `Follow one session as it is played: state changes, Anna's narration,
clarifications, pauses and the final outcome.

Past events are replayed first, then new ones stream as they are published.
The command exits when the session ends.

Output Formats:
  default - Human-readable transcript with timestamps and emojis
  json    - Line-delimited JSON event envelopes

Examples:
  lockstep watch 3f2a9c
  lockstep watch 3f2a9c --after 12
  lockstep watch 3f2a9c --output=json > events.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	watchCmd.Flags().Uint64Var(&watchAfter, "after", 0, "Only events after this sequence number")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	format := watch.OutputFormat(watchOutputFormat)
	if format != watch.OutputFormatDefault && format != watch.OutputFormatJSON {
		return printer.Error(
			"invalid output format",
			"Unknown format: "+watchOutputFormat,
			[]string{"Valid formats: default, json"},
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	client, err := connectBlackboard(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	sessionID, err := resolver.ResolveSessionID(ctx, client, args[0])
	if err != nil {
		return resolveError(args[0], err)
	}

	if format == watch.OutputFormatDefault {
		printer.Info("Watching session %s (Ctrl+C to stop)\n", sessionID)
	}

	err = watch.Stream(ctx, client, sessionID, watchAfter, format, cmd.OutOrStdout())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
