package blackboard

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// SessionRecord is the persisted form of one play-through.
// World and Persona hold JSON snapshots owned by the session engine.
type SessionRecord struct {
	ID             string        `json:"id"`               // UUID
	GraphID        string        `json:"graph_id"`         // Puzzle graph identifier
	GraphVersion   int           `json:"graph_version"`    // Version of the graph the session was started with
	Participants   []string      `json:"participants"`     // Roster, in join order
	Status         SessionStatus `json:"status"`           // Lifecycle state
	World          string        `json:"world"`            // JSON world-state snapshot
	Persona        string        `json:"persona"`          // JSON persona snapshot
	LogLength      int           `json:"log_length"`       // Number of command log entries
	EndReason      string        `json:"end_reason"`       // Set when the session reaches a terminal status
	CreatedAtMs    int64         `json:"created_at_ms"`    // Unix milliseconds
	LastActivityMs int64         `json:"last_activity_ms"` // Unix milliseconds of the last admitted command
}

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	// SessionStatusForming is the state between creation and the first persisted snapshot.
	SessionStatusForming SessionStatus = "forming"

	// SessionStatusActive accepts commands.
	SessionStatusActive SessionStatus = "active"

	// SessionStatusPaused rejects commands until resumed.
	SessionStatusPaused SessionStatus = "paused"

	// SessionStatusSucceeded is terminal: the success predicate held.
	SessionStatusSucceeded SessionStatus = "succeeded"

	// SessionStatusFailed is terminal: explicit failure or an internal invariant violation.
	SessionStatusFailed SessionStatus = "failed"

	// SessionStatusAbandoned is terminal: ended by the operator or the idle reaper.
	SessionStatusAbandoned SessionStatus = "abandoned"
)

// CommandKind classifies how a command log entry was resolved.
type CommandKind string

const (
	// CommandKindApplied means the intent changed world state.
	CommandKindApplied CommandKind = "applied"

	// CommandKindNoOp means the intent was valid but its preconditions were not met.
	CommandKindNoOp CommandKind = "noop"

	// CommandKindRefused means the character declined to attempt the intent.
	CommandKindRefused CommandKind = "refused"

	// CommandKindUnrecognized means the text did not map to an intent.
	CommandKindUnrecognized CommandKind = "unrecognized"

	// CommandKindDiscarded means the session ended before the command could commit.
	CommandKindDiscarded CommandKind = "discarded"
)

// CommandEntry is one element of a session's ordered command log.
type CommandEntry struct {
	Position      int         `json:"position"`        // Admission order, starting at 1
	ParticipantID string      `json:"participant_id"`  // Sender
	RawText       string      `json:"raw_text"`        // Chat text as received
	SubmittedAtMs int64       `json:"submitted_at_ms"` // Client timestamp
	Kind          CommandKind `json:"kind"`            // Resolution
	Intent        string      `json:"intent,omitempty"`
	Narration     string      `json:"narration,omitempty"`
	Reason        string      `json:"reason,omitempty"`
}

// RewardStatus is the issuance state of a reward record.
type RewardStatus string

const (
	// RewardStatusPending means the record exists and no transfer has completed yet.
	RewardStatusPending RewardStatus = "pending"

	// RewardStatusIssued means the transfer was accepted.
	RewardStatusIssued RewardStatus = "issued"

	// RewardStatusFailed means the last transfer attempt failed.
	RewardStatusFailed RewardStatus = "failed"
)

// RewardRecord tracks the single reward owed to one participant of a succeeded session.
type RewardRecord struct {
	SessionID        string       `json:"session_id"`
	ParticipantID    string       `json:"participant_id"`
	IdempotencyToken string       `json:"idempotency_token"`
	Amount           int64        `json:"amount"`
	Status           RewardStatus `json:"status"`
	Attempts         int          `json:"attempts"`
	LastError        string       `json:"last_error,omitempty"`
	Stuck            bool         `json:"stuck,omitempty"` // Retries exhausted, operator attention needed
	CreatedAtMs      int64        `json:"created_at_ms"`
	UpdatedAtMs      int64        `json:"updated_at_ms"`
}

// WorldEvent is a sequenced state-change notification for one session.
type WorldEvent struct {
	SessionID   string          `json:"session_id"`
	Seq         uint64          `json:"seq"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	EmittedAtMs int64           `json:"emitted_at_ms"`
}

// Alert is a persistent operator-visible problem report.
type Alert struct {
	Kind          string `json:"kind"` // e.g. "reward_stuck"
	SessionID     string `json:"session_id,omitempty"`
	ParticipantID string `json:"participant_id,omitempty"`
	Message       string `json:"message"`
	RaisedAtMs    int64  `json:"raised_at_ms"`
}

// Validate checks if the SessionRecord has valid field values.
func (s *SessionRecord) Validate() error {
	if !isValidUUID(s.ID) {
		return fmt.Errorf("invalid session ID: not a valid UUID")
	}

	if s.GraphID == "" {
		return fmt.Errorf("graph_id cannot be empty")
	}

	if len(s.Participants) == 0 {
		return fmt.Errorf("session must have at least one participant")
	}

	seen := make(map[string]bool, len(s.Participants))
	for i, p := range s.Participants {
		if p == "" {
			return fmt.Errorf("participant at index %d is empty", i)
		}
		if seen[p] {
			return fmt.Errorf("duplicate participant %q", p)
		}
		seen[p] = true
	}

	if err := s.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}

	if s.LogLength < 0 {
		return fmt.Errorf("invalid log length: %d", s.LogLength)
	}

	return nil
}

// Validate checks if the SessionStatus is a valid enum value.
func (st SessionStatus) Validate() error {
	switch st {
	case SessionStatusForming, SessionStatusActive, SessionStatusPaused,
		SessionStatusSucceeded, SessionStatusFailed, SessionStatusAbandoned:
		return nil
	default:
		return fmt.Errorf("unknown session status: %q", st)
	}
}

// IsTerminal reports whether no further commands can be processed in this status.
func (st SessionStatus) IsTerminal() bool {
	return st == SessionStatusSucceeded || st == SessionStatusFailed || st == SessionStatusAbandoned
}

// Validate checks if the CommandKind is a valid enum value.
func (k CommandKind) Validate() error {
	switch k {
	case CommandKindApplied, CommandKindNoOp, CommandKindRefused,
		CommandKindUnrecognized, CommandKindDiscarded:
		return nil
	default:
		return fmt.Errorf("unknown command kind: %q", k)
	}
}

// Validate checks if the CommandEntry has valid field values.
func (c *CommandEntry) Validate() error {
	if c.Position < 1 {
		return fmt.Errorf("invalid position: must be >= 1, got %d", c.Position)
	}
	if c.ParticipantID == "" {
		return fmt.Errorf("participant_id cannot be empty")
	}
	if err := c.Kind.Validate(); err != nil {
		return fmt.Errorf("invalid kind: %w", err)
	}
	return nil
}

// Validate checks if the RewardStatus is a valid enum value.
func (rs RewardStatus) Validate() error {
	switch rs {
	case RewardStatusPending, RewardStatusIssued, RewardStatusFailed:
		return nil
	default:
		return fmt.Errorf("unknown reward status: %q", rs)
	}
}

// Validate checks if the RewardRecord has valid field values.
func (r *RewardRecord) Validate() error {
	if !isValidUUID(r.SessionID) {
		return fmt.Errorf("invalid session ID: not a valid UUID")
	}
	if r.ParticipantID == "" {
		return fmt.Errorf("participant_id cannot be empty")
	}
	if r.IdempotencyToken == "" {
		return fmt.Errorf("idempotency_token cannot be empty")
	}
	if r.Amount <= 0 {
		return fmt.Errorf("invalid amount: must be > 0, got %d", r.Amount)
	}
	if err := r.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}
	return nil
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
