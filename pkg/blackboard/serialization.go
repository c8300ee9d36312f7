package blackboard

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). The roster is JSON-encoded
// into a single field; snapshots are already JSON strings and are stored verbatim.

// SessionToHash converts a SessionRecord to a Redis hash format.
func SessionToHash(s *SessionRecord) (map[string]interface{}, error) {
	participantsJSON, err := json.Marshal(s.Participants)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal participants: %w", err)
	}

	hash := map[string]interface{}{
		"id":               s.ID,
		"graph_id":         s.GraphID,
		"graph_version":    s.GraphVersion,
		"participants":     string(participantsJSON),
		"status":           string(s.Status),
		"world":            s.World,
		"persona":          s.Persona,
		"log_length":       s.LogLength,
		"end_reason":       s.EndReason,
		"created_at_ms":    s.CreatedAtMs,
		"last_activity_ms": s.LastActivityMs,
	}

	return hash, nil
}

// HashToSession converts a Redis hash to a SessionRecord.
func HashToSession(hash map[string]string) (*SessionRecord, error) {
	var participants []string
	if participantsJSON := hash["participants"]; participantsJSON != "" {
		if err := json.Unmarshal([]byte(participantsJSON), &participants); err != nil {
			return nil, fmt.Errorf("failed to unmarshal participants: %w", err)
		}
	}
	if participants == nil {
		participants = []string{}
	}

	graphVersion, err := parseOptionalInt(hash["graph_version"])
	if err != nil {
		return nil, fmt.Errorf("invalid graph_version field: %w", err)
	}

	logLength, err := parseOptionalInt(hash["log_length"])
	if err != nil {
		return nil, fmt.Errorf("invalid log_length field: %w", err)
	}

	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	lastActivityMs, _ := strconv.ParseInt(hash["last_activity_ms"], 10, 64)

	return &SessionRecord{
		ID:             hash["id"],
		GraphID:        hash["graph_id"],
		GraphVersion:   graphVersion,
		Participants:   participants,
		Status:         SessionStatus(hash["status"]),
		World:          hash["world"],
		Persona:        hash["persona"],
		LogLength:      logLength,
		EndReason:      hash["end_reason"],
		CreatedAtMs:    createdAtMs,
		LastActivityMs: lastActivityMs,
	}, nil
}

func parseOptionalInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
