package blackboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyPatterns(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"session", SessionKey("prod", "s1"), "lockstep:prod:session:s1"},
		{"session index", SessionIndexKey("prod"), "lockstep:prod:sessions"},
		{"command log", CommandLogKey("prod", "s1"), "lockstep:prod:session:s1:log"},
		{"event seq", EventSeqKey("prod", "s1"), "lockstep:prod:session:s1:seq"},
		{"event log", EventLogKey("prod", "s1"), "lockstep:prod:session:s1:events"},
		{"reward", RewardKey("prod", "s1", "alice"), "lockstep:prod:reward:s1:alice"},
		{"reward index", RewardIndexKey("prod"), "lockstep:prod:rewards"},
		{"alerts", AlertsKey("prod"), "lockstep:prod:alerts"},
		{"world channel", WorldEventsChannel("prod"), "lockstep:prod:world_events"},
		{"alert channel", AlertEventsChannel("prod"), "lockstep:prod:alert_events"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.got)
		})
	}
}

// Keys for different instances must never collide
func TestKeyNamespacing(t *testing.T) {
	assert.NotEqual(t, SessionKey("a", "s1"), SessionKey("b", "s1"))
	assert.NotEqual(t, RewardKey("a", "s1", "p"), RewardKey("b", "s1", "p"))
	assert.NotEqual(t, WorldEventsChannel("a"), WorldEventsChannel("b"))
}
