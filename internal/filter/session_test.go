package filter

import (
	"testing"

	"github.com/dyluth/lockstep/pkg/blackboard"
	"github.com/stretchr/testify/assert"
)

func TestSessionCriteria_Matches(t *testing.T) {
	s := &blackboard.SessionRecord{
		ID:           "3f1c2a90-1111-4a4a-9b9b-000000000001",
		GraphID:      "escape",
		Participants: []string{"alice", "bob"},
		Status:       blackboard.SessionStatusActive,
		CreatedAtMs:  5_000,
	}

	tests := []struct {
		name     string
		criteria *SessionCriteria
		want     bool
	}{
		{"nil criteria", nil, true},
		{"empty criteria", &SessionCriteria{}, true},
		{"since before", &SessionCriteria{SinceTimestampMs: 4_000}, true},
		{"since after", &SessionCriteria{SinceTimestampMs: 6_000}, false},
		{"until after", &SessionCriteria{UntilTimestampMs: 6_000}, true},
		{"until before", &SessionCriteria{UntilTimestampMs: 4_000}, false},
		{"status listed", &SessionCriteria{Statuses: []blackboard.SessionStatus{blackboard.SessionStatusPaused, blackboard.SessionStatusActive}}, true},
		{"status not listed", &SessionCriteria{Statuses: []blackboard.SessionStatus{blackboard.SessionStatusSucceeded}}, false},
		{"active only", &SessionCriteria{ActiveOnly: true}, true},
		{"graph glob", &SessionCriteria{GraphGlob: "esc*"}, true},
		{"graph glob miss", &SessionCriteria{GraphGlob: "heist*"}, false},
		{"bad glob", &SessionCriteria{GraphGlob: "[x"}, false},
		{"participant", &SessionCriteria{Participant: "bob"}, true},
		{"participant miss", &SessionCriteria{Participant: "carol"}, false},
		{"combined", &SessionCriteria{SinceTimestampMs: 1, GraphGlob: "escape", Participant: "alice"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.criteria.Matches(s))
		})
	}

	ended := *s
	ended.Status = blackboard.SessionStatusAbandoned
	assert.False(t, (&SessionCriteria{ActiveOnly: true}).Matches(&ended))
}

func TestSessions(t *testing.T) {
	all := []*blackboard.SessionRecord{
		{ID: "a", GraphID: "escape", Status: blackboard.SessionStatusActive},
		{ID: "b", GraphID: "escape", Status: blackboard.SessionStatusSucceeded},
		{ID: "c", GraphID: "heist", Status: blackboard.SessionStatusActive},
	}

	assert.Len(t, Sessions(all, nil), 3)
	assert.False(t, (&SessionCriteria{}).HasFilters())

	got := Sessions(all, &SessionCriteria{GraphGlob: "escape", ActiveOnly: true})
	if assert.Len(t, got, 1) {
		assert.Equal(t, "a", got[0].ID)
	}
}

func TestRewards(t *testing.T) {
	all := []*blackboard.RewardRecord{
		{SessionID: "s1", ParticipantID: "alice", Status: blackboard.RewardStatusIssued},
		{SessionID: "s1", ParticipantID: "bob", Status: blackboard.RewardStatusFailed, Stuck: true},
		{SessionID: "s2", ParticipantID: "carol", Status: blackboard.RewardStatusPending},
	}

	assert.Len(t, Rewards(all, nil), 3)
	assert.Len(t, Rewards(all, &RewardCriteria{SessionID: "s1"}), 2)
	assert.Len(t, Rewards(all, &RewardCriteria{Status: blackboard.RewardStatusPending}), 1)

	stuck := Rewards(all, &RewardCriteria{StuckOnly: true})
	if assert.Len(t, stuck, 1) {
		assert.Equal(t, "bob", stuck[0].ParticipantID)
	}
}
