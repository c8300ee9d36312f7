package watch

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/dyluth/lockstep/internal/eventbus"
	"github.com/dyluth/lockstep/internal/puzzle"
	"github.com/dyluth/lockstep/pkg/blackboard"
	"github.com/goccy/go-json"
)

// OutputFormat selects how events are written.
type OutputFormat string

const (
	// OutputFormatDefault is a readable transcript with timestamps and emojis
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON writes each event envelope as one line of JSON
	OutputFormatJSON OutputFormat = "json"
)

// Source is the blackboard access a watcher needs.
type Source interface {
	eventbus.Store
	eventbus.Subscriber
}

type formatter interface {
	Format(ev *blackboard.WorldEvent) error
}

// Stream follows one session's world events from afterSeq and writes each to w.
// Returns nil once the session_ended event has been written, or ctx.Err() if
// ctx ends first.
func Stream(ctx context.Context, src Source, sessionID string, afterSeq uint64, format OutputFormat, w io.Writer) error {
	var f formatter
	switch format {
	case OutputFormatDefault, "":
		f = &defaultFormatter{writer: w}
	case OutputFormatJSON:
		f = &jsonFormatter{writer: w}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}

	events, err := eventbus.Follow(ctx, src, src, sessionID, afterSeq)
	if err != nil {
		return err
	}

	for ev := range events {
		if err := f.Format(ev); err != nil {
			return err
		}
		if eventbus.Kind(ev.Kind) == eventbus.KindSessionEnded {
			return nil
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("event subscription closed")
}

type jsonFormatter struct {
	writer io.Writer
}

func (f *jsonFormatter) Format(ev *blackboard.WorldEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintln(f.writer, string(data))
	return err
}

type defaultFormatter struct {
	writer io.Writer
}

func (f *defaultFormatter) Format(ev *blackboard.WorldEvent) error {
	line, err := describe(ev)
	if err != nil {
		return err
	}
	ts := time.UnixMilli(ev.EmittedAtMs).Format("15:04:05")
	_, err = fmt.Fprintf(f.writer, "[%s] #%-3d %s\n", ts, ev.Seq, line)
	return err
}

// describe renders one event as a single line.
func describe(ev *blackboard.WorldEvent) (string, error) {
	switch eventbus.Kind(ev.Kind) {
	case eventbus.KindSessionStarted:
		var p eventbus.SessionStarted
		if err := decode(ev, &p); err != nil {
			return "", err
		}
		return fmt.Sprintf("▶️  Session started: %s v%d at %s with %s\n      Anna: %s",
			p.GraphID, p.GraphVersion, p.Location, strings.Join(p.Participants, ", "), p.Narration), nil

	case eventbus.KindStateChanged:
		var p eventbus.StateChanged
		if err := decode(ev, &p); err != nil {
			return "", err
		}
		line := fmt.Sprintf("🔄 %s: %s", p.Participant, p.Intent)
		if changes := deltaSummary(p.Delta); changes != "" {
			line += " (" + changes + ")"
		}
		if p.Succeeded {
			line += " 🏁"
		}
		return line, nil

	case eventbus.KindNarration:
		var p eventbus.Narration
		if err := decode(ev, &p); err != nil {
			return "", err
		}
		line := fmt.Sprintf("💬 Anna to %s: %s", p.Participant, p.Text)
		if p.Degraded {
			line += " [scripted]"
		}
		return line, nil

	case eventbus.KindClarification:
		var p eventbus.Clarification
		if err := decode(ev, &p); err != nil {
			return "", err
		}
		return fmt.Sprintf("❓ Anna to %s: %s", p.Participant, p.Text), nil

	case eventbus.KindSessionPaused, eventbus.KindSessionResumed:
		var p eventbus.StatusChanged
		if err := decode(ev, &p); err != nil {
			return "", err
		}
		return fmt.Sprintf("⏸️  Session %s", p.Status), nil

	case eventbus.KindSessionEnded:
		var p eventbus.SessionEnded
		if err := decode(ev, &p); err != nil {
			return "", err
		}
		if p.Reason == "" {
			return fmt.Sprintf("⏹️  Session %s", p.Status), nil
		}
		return fmt.Sprintf("⏹️  Session %s: %s", p.Status, p.Reason), nil

	case eventbus.KindRewardStuck:
		var p eventbus.RewardStuck
		if err := decode(ev, &p); err != nil {
			return "", err
		}
		return fmt.Sprintf("⚠️  Reward for %s stuck after %d attempts: %s", p.Participant, p.Attempts, p.Error), nil
	}

	return fmt.Sprintf("%s %s", ev.Kind, string(ev.Payload)), nil
}

func decode(ev *blackboard.WorldEvent, v interface{}) error {
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s event %d: %w", ev.Kind, ev.Seq, err)
	}
	return nil
}

func deltaSummary(d puzzle.Delta) string {
	var parts []string
	if d.Location != "" {
		parts = append(parts, "now at "+d.Location)
	}
	if len(d.Unlocked) > 0 {
		parts = append(parts, "unlocked "+strings.Join(d.Unlocked, ", "))
	}
	if len(d.Solved) > 0 {
		parts = append(parts, "solved "+strings.Join(d.Solved, ", "))
	}
	for _, who := range slices.Sorted(maps.Keys(d.Granted)) {
		parts = append(parts, fmt.Sprintf("%s got %s", who, strings.Join(d.Granted[who], ", ")))
	}
	for _, who := range slices.Sorted(maps.Keys(d.Consumed)) {
		parts = append(parts, fmt.Sprintf("%s used %s", who, strings.Join(d.Consumed[who], ", ")))
	}
	return strings.Join(parts, "; ")
}
