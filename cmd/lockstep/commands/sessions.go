package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dyluth/lockstep/internal/filter"
	"github.com/dyluth/lockstep/internal/printer"
	"github.com/dyluth/lockstep/internal/report"
	"github.com/dyluth/lockstep/internal/resolver"
	"github.com/dyluth/lockstep/internal/timespec"
	"github.com/dyluth/lockstep/pkg/blackboard"
	"github.com/spf13/cobra"
)

var (
	sessionsOutput      string
	sessionsStatuses    []string
	sessionsSince       string
	sessionsUntil       string
	sessionsGraph       string
	sessionsParticipant string
	sessionsActive      bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions [session-id]",
	Short: "List sessions or show one session's transcript",
	Long: `Inspect sessions stored on the blackboard.

With no argument, lists sessions oldest first. Filters combine:
  --status active --status paused     any of these statuses
  --since 2h --until 30m              created in this window
  --graph 'escape*'                   graph ID glob
  --participant p1                    sessions that include p1
  --active                            non-terminal sessions only

With a session ID (or a unique prefix of at least 6 characters), shows the
session record and its full command transcript.

Examples:
  lockstep sessions --active
  lockstep sessions --since 1d --output jsonl
  lockstep sessions 3f2a9c`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSessions,
}

func init() {
	sessionsCmd.Flags().StringVarP(&sessionsOutput, "output", "o", "table", "Output format: table or jsonl")
	sessionsCmd.Flags().StringSliceVar(&sessionsStatuses, "status", nil, "Only sessions with this status (repeatable)")
	sessionsCmd.Flags().StringVar(&sessionsSince, "since", "", "Only sessions created after this time (duration like 2h or RFC3339)")
	sessionsCmd.Flags().StringVar(&sessionsUntil, "until", "", "Only sessions created before this time")
	sessionsCmd.Flags().StringVar(&sessionsGraph, "graph", "", "Only sessions of graphs matching this glob")
	sessionsCmd.Flags().StringVar(&sessionsParticipant, "participant", "", "Only sessions including this participant")
	sessionsCmd.Flags().BoolVar(&sessionsActive, "active", false, "Only sessions that have not ended")
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	format, err := report.ParseOutputFormat(sessionsOutput)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Valid formats: table, jsonl"})
	}

	var criteria *filter.SessionCriteria
	if len(args) == 0 {
		criteria, err = buildSessionCriteria(time.Now())
		if err != nil {
			return printer.Error("invalid filter", err.Error(), nil)
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	client, err := connectBlackboard(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	out := cmd.OutOrStdout()
	if len(args) == 0 {
		return report.ListSessions(ctx, client, cfg.Instance, format, criteria, time.Now(), out)
	}

	sessionID, err := resolver.ResolveSessionID(ctx, client, args[0])
	if err != nil {
		return resolveError(args[0], err)
	}
	return report.ShowSession(ctx, client, sessionID, format, out)
}

// buildSessionCriteria turns the list flags into a filter.
func buildSessionCriteria(now time.Time) (*filter.SessionCriteria, error) {
	since, until, err := timespec.ParseRangeAt(sessionsSince, sessionsUntil, now)
	if err != nil {
		return nil, err
	}

	criteria := &filter.SessionCriteria{
		SinceTimestampMs: since,
		UntilTimestampMs: until,
		GraphGlob:        sessionsGraph,
		Participant:      sessionsParticipant,
		ActiveOnly:       sessionsActive,
	}
	for _, s := range sessionsStatuses {
		status := blackboard.SessionStatus(strings.ToLower(strings.TrimSpace(s)))
		if err := status.Validate(); err != nil {
			return nil, fmt.Errorf("--status: %w", err)
		}
		criteria.Statuses = append(criteria.Statuses, status)
	}
	return criteria, nil
}

func resolveError(shortID string, err error) error {
	var amb *resolver.AmbiguousError
	switch {
	case resolver.IsNotFoundError(err):
		return printer.Error(
			"session not found",
			err.Error(),
			[]string{"List sessions:\n  lockstep sessions"},
		)
	case errors.As(err, &amb):
		return printer.Error("ambiguous session ID", resolver.FormatAmbiguousError(amb), nil)
	default:
		return printer.ErrorWithContext("failed to resolve session", err.Error(), map[string]string{"id": shortID}, nil)
	}
}
