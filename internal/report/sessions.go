package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dyluth/lockstep/internal/filter"
	"github.com/dyluth/lockstep/pkg/blackboard"
)

// SessionStore is the blackboard access needed for session reports.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*blackboard.SessionRecord, error)
	ListSessions(ctx context.Context) ([]*blackboard.SessionRecord, error)
	GetCommandLog(ctx context.Context, sessionID string) ([]*blackboard.CommandEntry, error)
}

// ListSessions writes every stored session that matches criteria, oldest first.
func ListSessions(ctx context.Context, store SessionStore, instanceName string, format OutputFormat, criteria *filter.SessionCriteria, now time.Time, w io.Writer) error {
	sessions, err := store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	sessions = filter.Sessions(sessions, criteria)

	switch format {
	case OutputFormatTable:
		FormatSessionTable(w, sessions, instanceName, now)
	case OutputFormatJSONL:
		return FormatJSONL(w, sessions)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
	return nil
}

// FormatSessionTable writes sessions as a table and returns how many were written.
func FormatSessionTable(w io.Writer, sessions []*blackboard.SessionRecord, instanceName string, now time.Time) int {
	if len(sessions) == 0 {
		fmt.Fprintf(w, "No sessions found for instance '%s'\n", instanceName)
		return 0
	}

	fmt.Fprintf(w, "Sessions for instance '%s':\n\n", instanceName)

	row := "%-10s %-10s %-10s %-5s %-10s %-10s %s\n"
	fmt.Fprintf(w, row, "ID", "STATUS", "GRAPH", "CMDS", "CREATED", "ACTIVE", "PARTICIPANTS")
	fmt.Fprintf(w, row, "----------", "----------", "----------", "-----", "----------", "----------", "------------------------------")

	for _, s := range sessions {
		fmt.Fprintf(w, row,
			shortID(s.ID),
			s.Status,
			truncate(fmt.Sprintf("%s@v%d", s.GraphID, s.GraphVersion), 10),
			fmt.Sprint(s.LogLength),
			age(s.CreatedAtMs, now),
			age(s.LastActivityMs, now),
			truncate(strings.Join(s.Participants, ", "), 30),
		)
	}

	fmt.Fprintf(w, "\n%s found\n", counted(len(sessions), "session"))
	return len(sessions)
}

// SessionDetail is the JSON shape of ShowSession.
type SessionDetail struct {
	Session *blackboard.SessionRecord  `json:"session"`
	Log     []*blackboard.CommandEntry `json:"log"`
}

// ShowSession writes one session with its full command log.
func ShowSession(ctx context.Context, store SessionStore, sessionID string, format OutputFormat, w io.Writer) error {
	s, err := store.GetSession(ctx, sessionID)
	if err != nil {
		if blackboard.IsNotFound(err) {
			return fmt.Errorf("session with ID '%s' not found", sessionID)
		}
		return fmt.Errorf("failed to fetch session: %w", err)
	}
	entries, err := store.GetCommandLog(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to fetch command log: %w", err)
	}

	if format == OutputFormatJSONL {
		return FormatSingleJSON(w, SessionDetail{Session: s, Log: entries})
	}

	fmt.Fprintf(w, "Session %s\n", s.ID)
	fmt.Fprintf(w, "  Graph:        %s v%d\n", s.GraphID, s.GraphVersion)
	fmt.Fprintf(w, "  Status:       %s\n", s.Status)
	if s.EndReason != "" {
		fmt.Fprintf(w, "  Ended:        %s\n", s.EndReason)
	}
	fmt.Fprintf(w, "  Participants: %s\n\n", strings.Join(s.Participants, ", "))
	FormatTranscript(w, entries)
	return nil
}

// FormatTranscript writes a command log as a readable chat transcript.
func FormatTranscript(w io.Writer, entries []*blackboard.CommandEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No commands yet")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(w, "#%-3d %s: %s\n", e.Position, e.ParticipantID, e.RawText)
		detail := string(e.Kind)
		if e.Intent != "" {
			detail += " " + e.Intent
		}
		fmt.Fprintf(w, "     [%s]\n", detail)
		if e.Narration != "" {
			fmt.Fprintf(w, "     Anna: %s\n", e.Narration)
		}
		if e.Reason != "" && e.Reason != e.Narration {
			fmt.Fprintf(w, "     (%s)\n", e.Reason)
		}
	}
	fmt.Fprintf(w, "\n%s\n", counted(len(entries), "command"))
}
