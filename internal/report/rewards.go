package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/lockstep/internal/filter"
	"github.com/dyluth/lockstep/pkg/blackboard"
)

// RewardStore is the blackboard access needed for reward reports.
type RewardStore interface {
	ListRewardRecords(ctx context.Context) ([]*blackboard.RewardRecord, error)
	ListAlerts(ctx context.Context) ([]*blackboard.Alert, error)
}

// ListRewards writes matching reward records. With criteria.StuckOnly the
// persistent alerts are listed after the records.
func ListRewards(ctx context.Context, store RewardStore, format OutputFormat, criteria *filter.RewardCriteria, now time.Time, w io.Writer) error {
	records, err := store.ListRewardRecords(ctx)
	if err != nil {
		return fmt.Errorf("failed to list reward records: %w", err)
	}
	records = filter.Rewards(records, criteria)

	var alerts []*blackboard.Alert
	if criteria != nil && criteria.StuckOnly {
		if alerts, err = store.ListAlerts(ctx); err != nil {
			return fmt.Errorf("failed to list alerts: %w", err)
		}
	}

	switch format {
	case OutputFormatTable:
		FormatRewardTable(w, records, now)
		if len(alerts) > 0 {
			fmt.Fprintln(w)
			FormatAlerts(w, alerts, now)
		}
	case OutputFormatJSONL:
		return FormatJSONL(w, records)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
	return nil
}

// FormatRewardTable writes reward records as a table and returns how many were written.
func FormatRewardTable(w io.Writer, records []*blackboard.RewardRecord, now time.Time) int {
	if len(records) == 0 {
		fmt.Fprintln(w, "No reward records found")
		return 0
	}

	row := "%-10s %-14s %-8s %-7s %-8s %-9s %s\n"
	fmt.Fprintf(w, row, "SESSION", "PARTICIPANT", "STATUS", "AMOUNT", "ATTEMPTS", "UPDATED", "LAST ERROR")
	fmt.Fprintf(w, row, "----------", "--------------", "--------", "-------", "--------", "---------", "----------------------------------------")

	stuck := 0
	for _, r := range records {
		status := string(r.Status)
		if r.Stuck {
			status = "STUCK"
			stuck++
		}
		fmt.Fprintf(w, row,
			shortID(r.SessionID),
			truncate(r.ParticipantID, 14),
			status,
			fmt.Sprint(r.Amount),
			fmt.Sprint(r.Attempts),
			age(r.UpdatedAtMs, now),
			truncate(r.LastError, 40),
		)
	}

	fmt.Fprintf(w, "\n%s found", counted(len(records), "reward record"))
	if stuck > 0 {
		fmt.Fprintf(w, ", %d stuck", stuck)
	}
	fmt.Fprintln(w)
	return len(records)
}

// FormatAlerts writes operator alerts, newest last.
func FormatAlerts(w io.Writer, alerts []*blackboard.Alert, now time.Time) {
	fmt.Fprintf(w, "%s:\n", counted(len(alerts), "alert"))
	for _, a := range alerts {
		fmt.Fprintf(w, "  [%s] %s session=%s participant=%s: %s\n",
			age(a.RaisedAtMs, now), a.Kind, shortID(orDash(a.SessionID)), orDash(a.ParticipantID), a.Message)
	}
}
