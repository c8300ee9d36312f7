package filter

import (
	"path/filepath"
	"slices"

	"github.com/dyluth/lockstep/pkg/blackboard"
)

// SessionCriteria selects sessions for listing.
// All filters are ANDed together; zero values match everything.
type SessionCriteria struct {
	SinceTimestampMs int64                      // created at or after, Unix ms
	UntilTimestampMs int64                      // created at or before, Unix ms
	Statuses         []blackboard.SessionStatus // any of
	GraphGlob        string                     // glob on graph_id
	Participant      string                     // exact roster member
	ActiveOnly       bool                       // non-terminal sessions only
}

// Matches returns true if the session passes every criterion.
func (c *SessionCriteria) Matches(s *blackboard.SessionRecord) bool {
	if c == nil {
		return true
	}
	if c.SinceTimestampMs > 0 && s.CreatedAtMs < c.SinceTimestampMs {
		return false
	}
	if c.UntilTimestampMs > 0 && s.CreatedAtMs > c.UntilTimestampMs {
		return false
	}
	if len(c.Statuses) > 0 && !slices.Contains(c.Statuses, s.Status) {
		return false
	}
	if c.ActiveOnly && s.Status.IsTerminal() {
		return false
	}
	if c.GraphGlob != "" {
		matched, err := filepath.Match(c.GraphGlob, s.GraphID)
		if err != nil || !matched {
			return false
		}
	}
	if c.Participant != "" && !slices.Contains(s.Participants, c.Participant) {
		return false
	}
	return true
}

// HasFilters returns true if any filters are active.
func (c *SessionCriteria) HasFilters() bool {
	return c != nil && (c.SinceTimestampMs > 0 ||
		c.UntilTimestampMs > 0 ||
		len(c.Statuses) > 0 ||
		c.GraphGlob != "" ||
		c.Participant != "" ||
		c.ActiveOnly)
}

// Sessions returns the sessions that match c, keeping their order.
func Sessions(sessions []*blackboard.SessionRecord, c *SessionCriteria) []*blackboard.SessionRecord {
	if !c.HasFilters() {
		return sessions
	}
	out := make([]*blackboard.SessionRecord, 0, len(sessions))
	for _, s := range sessions {
		if c.Matches(s) {
			out = append(out, s)
		}
	}
	return out
}

// RewardCriteria selects reward records for listing.
type RewardCriteria struct {
	SessionID string
	Status    blackboard.RewardStatus
	StuckOnly bool
}

// Matches returns true if the record passes every criterion.
func (c *RewardCriteria) Matches(r *blackboard.RewardRecord) bool {
	if c == nil {
		return true
	}
	if c.SessionID != "" && r.SessionID != c.SessionID {
		return false
	}
	if c.Status != "" && r.Status != c.Status {
		return false
	}
	if c.StuckOnly && !r.Stuck {
		return false
	}
	return true
}

// Rewards returns the records that match c, keeping their order.
func Rewards(records []*blackboard.RewardRecord, c *RewardCriteria) []*blackboard.RewardRecord {
	out := make([]*blackboard.RewardRecord, 0, len(records))
	for _, r := range records {
		if c.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}
