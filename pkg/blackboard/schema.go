package blackboard

import "fmt"

// Redis key pattern helpers
//
// Key pattern: lockstep:{instance_name}:{entity}:{id}
// Channel pattern: lockstep:{instance_name}:{event_type}_events

// SessionKey returns the Redis key for a session hash.
// Pattern: lockstep:{instance_name}:session:{session_id}
func SessionKey(instanceName, sessionID string) string {
	return fmt.Sprintf("lockstep:%s:session:%s", instanceName, sessionID)
}

// SessionIndexKey returns the Redis key for the set of known session IDs.
// Pattern: lockstep:{instance_name}:sessions
func SessionIndexKey(instanceName string) string {
	return fmt.Sprintf("lockstep:%s:sessions", instanceName)
}

// CommandLogKey returns the Redis key for a session's command log list.
// Pattern: lockstep:{instance_name}:session:{session_id}:log
func CommandLogKey(instanceName, sessionID string) string {
	return fmt.Sprintf("lockstep:%s:session:%s:log", instanceName, sessionID)
}

// EventSeqKey returns the Redis key for a session's world-event sequence counter.
// Pattern: lockstep:{instance_name}:session:{session_id}:seq
func EventSeqKey(instanceName, sessionID string) string {
	return fmt.Sprintf("lockstep:%s:session:%s:seq", instanceName, sessionID)
}

// EventLogKey returns the Redis key for a session's world-event replay list.
// Pattern: lockstep:{instance_name}:session:{session_id}:events
func EventLogKey(instanceName, sessionID string) string {
	return fmt.Sprintf("lockstep:%s:session:%s:events", instanceName, sessionID)
}

// RewardKey returns the Redis key for the reward record of one participant in one session.
// Pattern: lockstep:{instance_name}:reward:{session_id}:{participant_id}
func RewardKey(instanceName, sessionID, participantID string) string {
	return fmt.Sprintf("lockstep:%s:reward:%s:%s", instanceName, sessionID, participantID)
}

// RewardIndexKey returns the Redis key for the set of reward record keys.
// Pattern: lockstep:{instance_name}:rewards
func RewardIndexKey(instanceName string) string {
	return fmt.Sprintf("lockstep:%s:rewards", instanceName)
}

// AlertsKey returns the Redis key for the persistent alert list.
// Pattern: lockstep:{instance_name}:alerts
func AlertsKey(instanceName string) string {
	return fmt.Sprintf("lockstep:%s:alerts", instanceName)
}

// WorldEventsChannel returns the Pub/Sub channel name for world events of all sessions.
// Pattern: lockstep:{instance_name}:world_events
func WorldEventsChannel(instanceName string) string {
	return fmt.Sprintf("lockstep:%s:world_events", instanceName)
}

// AlertEventsChannel returns the Pub/Sub channel name for operator alerts.
// Pattern: lockstep:{instance_name}:alert_events
func AlertEventsChannel(instanceName string) string {
	return fmt.Sprintf("lockstep:%s:alert_events", instanceName)
}
