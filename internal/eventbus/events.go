package eventbus

import (
	"github.com/dyluth/lockstep/internal/puzzle"
)

// Kind names a world event.
type Kind string

const (
	KindSessionStarted Kind = "session_started"
	KindStateChanged   Kind = "state_changed"
	KindNarration      Kind = "narration"
	KindClarification  Kind = "clarification"
	KindSessionPaused  Kind = "session_paused"
	KindSessionResumed Kind = "session_resumed"
	KindSessionEnded   Kind = "session_ended"
	KindRewardStuck    Kind = "reward_stuck"
)

// SessionStarted carries the opening scene.
type SessionStarted struct {
	GraphID      string   `json:"graph_id"`
	GraphVersion int      `json:"graph_version"`
	Participants []string `json:"participants"`
	Location     string   `json:"location"`
	Disposition  string   `json:"disposition"`
	Unlocked     []string `json:"unlocked"`
	Narration    string   `json:"narration"`
}

// StateChanged describes one applied transition, enough for a renderer to
// update the scene without re-reading the world state.
type StateChanged struct {
	Position    int                 `json:"position"`
	Participant string              `json:"participant"`
	Intent      string              `json:"intent"`
	Delta       puzzle.Delta        `json:"delta"`
	Location    string              `json:"location"`
	Disposition string              `json:"disposition"`
	Inventory   map[string][]string `json:"inventory"`
	Succeeded   bool                `json:"succeeded,omitempty"`
}

// Narration is the character's reply to a command, whatever its outcome.
type Narration struct {
	Position    int    `json:"position"`
	Participant string `json:"participant"`
	Intent      string `json:"intent,omitempty"`
	Kind        string `json:"kind"` // command log kind: applied, noop, refused
	Text        string `json:"text"`
	Degraded    bool   `json:"degraded,omitempty"`
}

// Clarification answers text that did not map to an intent.
type Clarification struct {
	Position    int    `json:"position"`
	Participant string `json:"participant"`
	Text        string `json:"text"`
}

// StatusChanged reports a pause or resume.
type StatusChanged struct {
	Status string `json:"status"`
}

// SessionEnded is the last event of a session.
type SessionEnded struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// RewardStuck reports a reward whose retries are exhausted.
type RewardStuck struct {
	Participant string `json:"participant"`
	Attempts    int    `json:"attempts"`
	Error       string `json:"error"`
}
