// Package blackboard provides type-safe Go definitions and Redis schema patterns
// for the Lockstep session store.
//
// # Overview
//
// The blackboard is the shared state system that every Lockstep component
// (session manager, reward issuer, gateway, CLI) reads and writes through
// well-defined records stored in Redis. The session manager is the only writer
// of session records; other components observe them.
//
// # Core Concepts
//
// Session records hold one play-through: roster, lifecycle status and the latest
// committed world-state and persona snapshots (stored as opaque JSON so this
// package does not depend on the puzzle engine).
//
// Command entries form the append-only, ordered log of every admitted command,
// including unrecognised ones kept for audit.
//
// Reward records are created at most once per (session, participant) pair. The
// write uses SETNX so duplicate triggers can never produce a second record.
//
// World events are sequenced per session with INCR, appended to a per-session
// replay log and published on a Pub/Sub channel. Consumers use the sequence
// number to discard duplicates and reorderings.
//
// # Multi-Instance Support
//
// All Redis keys and Pub/Sub channels are namespaced by instance name so several
// Lockstep deployments can share one Redis server.
//
// # Redis Schema
//
// Sessions:        lockstep:{instance}:session:{session_id}       (hash)
// Session index:   lockstep:{instance}:sessions                   (set)
// Command log:     lockstep:{instance}:session:{session_id}:log   (list of JSON)
// Event sequence:  lockstep:{instance}:session:{session_id}:seq   (counter)
// Event log:       lockstep:{instance}:session:{session_id}:events (list of JSON)
// Rewards:         lockstep:{instance}:reward:{session_id}:{participant_id} (JSON string)
// Reward index:    lockstep:{instance}:rewards                    (set)
// Alerts:          lockstep:{instance}:alerts                     (list of JSON)
//
// Pub/Sub channels: lockstep:{instance}:world_events, lockstep:{instance}:alert_events
package blackboard
