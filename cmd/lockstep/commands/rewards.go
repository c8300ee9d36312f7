package commands

import (
	"context"
	"time"

	"github.com/dyluth/lockstep/internal/filter"
	"github.com/dyluth/lockstep/internal/printer"
	"github.com/dyluth/lockstep/internal/report"
	"github.com/dyluth/lockstep/internal/resolver"
	"github.com/dyluth/lockstep/pkg/blackboard"
	"github.com/spf13/cobra"
)

var (
	rewardsOutput  string
	rewardsSession string
	rewardsStatus  string
	rewardsStuck   bool
)

var rewardsCmd = &cobra.Command{
	Use:   "rewards",
	Short: "List reward records and stuck-reward alerts",
	Long: `List the reward records created when sessions succeed.

Each participant of a succeeded session gets exactly one record. A record
that exhausted its retries is marked STUCK and raises an alert; --stuck
lists only those, followed by the alerts.

Examples:
  lockstep rewards
  lockstep rewards --stuck
  lockstep rewards --session 3f2a9c --output jsonl`,
	Args: cobra.NoArgs,
	RunE: runRewards,
}

func init() {
	rewardsCmd.Flags().StringVarP(&rewardsOutput, "output", "o", "table", "Output format: table or jsonl")
	rewardsCmd.Flags().StringVar(&rewardsSession, "session", "", "Only rewards for this session (ID or prefix)")
	rewardsCmd.Flags().StringVar(&rewardsStatus, "status", "", "Only rewards with this status: pending, issued or failed")
	rewardsCmd.Flags().BoolVar(&rewardsStuck, "stuck", false, "Only rewards that exhausted their retries")
	rootCmd.AddCommand(rewardsCmd)
}

func runRewards(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	format, err := report.ParseOutputFormat(rewardsOutput)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Valid formats: table, jsonl"})
	}

	criteria := &filter.RewardCriteria{StuckOnly: rewardsStuck}
	switch status := blackboard.RewardStatus(rewardsStatus); status {
	case "", blackboard.RewardStatusPending, blackboard.RewardStatusIssued, blackboard.RewardStatusFailed:
		criteria.Status = status
	default:
		return printer.Error("invalid filter", "Unknown reward status: "+rewardsStatus, []string{"Valid statuses: pending, issued, failed"})
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

	if rewardsSession != "" {
		if criteria.SessionID, err = resolver.ResolveSessionID(ctx, client, rewardsSession); err != nil {
			return resolveError(rewardsSession, err)
		}
	}

	return report.ListRewards(ctx, client, format, criteria, time.Now(), cmd.OutOrStdout())
}
