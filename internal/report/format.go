package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gertd/go-pluralize"
	json "github.com/goccy/go-json"
)

// OutputFormat specifies how listings are written.
type OutputFormat string

const (
	// OutputFormatTable is a compact human-readable table
	OutputFormatTable OutputFormat = "table"

	// OutputFormatJSONL writes complete records as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseOutputFormat accepts "table" (or "default"/"") and "jsonl".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(s) {
	case "", "default", string(OutputFormatTable):
		return OutputFormatTable, nil
	case string(OutputFormatJSONL), "json":
		return OutputFormatJSONL, nil
	}
	return "", fmt.Errorf("unknown output format: %s (expected table or jsonl)", s)
}

var plural = pluralize.NewClient()

// counted renders "1 session", "3 sessions".
func counted(n int, noun string) string {
	return plural.Pluralize(noun, n, true)
}

// FormatJSONL writes each item as a single JSON object on its own line.
func FormatJSONL[T any](w io.Writer, items []T) error {
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes v as pretty-printed JSON.
func FormatSingleJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// shortID truncates a UUID to its first 8 characters.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncate shortens s to its first non-empty line of at most n characters.
// Empty values return "-".
func truncate(s string, n int) string {
	var line string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	if line == "" {
		return "-"
	}
	if len(line) > n {
		return line[:n-3] + "..."
	}
	return line
}

// age formats a Unix millisecond timestamp relative to now, e.g. "2m ago".
func age(timestampMs int64, now time.Time) string {
	if timestampMs == 0 {
		return "-"
	}
	diff := now.Sub(time.UnixMilli(timestampMs))
	if diff < 0 {
		diff = 0
	}
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
