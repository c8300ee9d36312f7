package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dyluth/lockstep/internal/broker"
	"github.com/dyluth/lockstep/internal/eventbus"
	"github.com/dyluth/lockstep/internal/puzzle"
	"github.com/dyluth/lockstep/pkg/blackboard"
)

type command struct {
	position    int
	participant string
	text        string
	submittedAt time.Time
	result      chan CommandResult
}

// actor is one session. The world state and persona are written only by the
// actor goroutine, under mu, so readers holding mu see committed values.
type actor struct {
	id           string
	machine      *puzzle.Machine
	participants []string
	createdAt    time.Time
	queue        chan *command
	stop         chan struct{}
	stopOnce     sync.Once

	mu           sync.Mutex
	status       blackboard.SessionStatus
	endReason    string
	endedAt      time.Time
	closing      bool
	world        *puzzle.WorldState
	persona      broker.Persona
	admitted     int
	logLength    int
	lastActivity time.Time
}

func newActor(id string, machine *puzzle.Machine, participants []string, world *puzzle.WorldState, persona broker.Persona, now time.Time, depth int) *actor {
	return &actor{
		id:           id,
		machine:      machine,
		participants: participants,
		createdAt:    now,
		queue:        make(chan *command, depth),
		stop:         make(chan struct{}),
		status:       blackboard.SessionStatusForming,
		world:        world,
		persona:      persona,
		lastActivity: now,
	}
}

func (a *actor) signalStop() {
	a.stopOnce.Do(func() { close(a.stop) })
}

func (a *actor) isParticipant(id string) bool {
	for _, p := range a.participants {
		if p == id {
			return true
		}
	}
	return false
}

// record builds the persisted form. Caller holds mu.
func (a *actor) record() (*blackboard.SessionRecord, error) {
	world, err := a.world.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to encode world state: %w", err)
	}
	persona, err := a.persona.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to encode persona: %w", err)
	}
	graph := a.machine.Graph()
	return &blackboard.SessionRecord{
		ID:             a.id,
		GraphID:        graph.ID,
		GraphVersion:   graph.Version,
		Participants:   a.participants,
		Status:         a.status,
		World:          world,
		Persona:        persona,
		LogLength:      a.logLength,
		EndReason:      a.endReason,
		CreatedAtMs:    a.createdAt.UnixMilli(),
		LastActivityMs: a.lastActivity.UnixMilli(),
	}, nil
}

// snapshot copies the committed state. Caller holds mu.
func (a *actor) snapshot() *Snapshot {
	graph := a.machine.Graph()
	return &Snapshot{
		ID:           a.id,
		GraphID:      graph.ID,
		GraphVersion: graph.Version,
		Participants: append([]string(nil), a.participants...),
		Status:       a.status,
		EndReason:    a.endReason,
		World:        a.world.Clone(),
		Persona:      a.persona,
		LogLength:    a.logLength,
		CreatedAt:    a.createdAt,
		LastActivity: a.lastActivity,
	}
}

func decodeSnapshot(rec *blackboard.SessionRecord) (*Snapshot, error) {
	world, err := puzzle.UnmarshalWorldState(rec.World)
	if err != nil {
		return nil, fmt.Errorf("session %s has a corrupt world state: %w", rec.ID, err)
	}
	persona, err := broker.UnmarshalPersona(rec.Persona)
	if err != nil {
		return nil, fmt.Errorf("session %s has a corrupt persona: %w", rec.ID, err)
	}
	return &Snapshot{
		ID:           rec.ID,
		GraphID:      rec.GraphID,
		GraphVersion: rec.GraphVersion,
		Participants: rec.Participants,
		Status:       rec.Status,
		EndReason:    rec.EndReason,
		World:        world,
		Persona:      persona,
		LogLength:    rec.LogLength,
		CreatedAt:    time.UnixMilli(rec.CreatedAtMs),
		LastActivity: time.UnixMilli(rec.LastActivityMs),
	}, nil
}

// runActor processes a's queue one command at a time until the session stops,
// then discards whatever is still queued.
func (m *Manager) runActor(a *actor) {
	log.Printf("[Session] Actor started for %s", a.id)
	for {
		select {
		case <-a.stop:
			m.drain(a)
			log.Printf("[Session] Actor stopped for %s", a.id)
			return
		case cmd := <-a.queue:
			cmd.result <- m.process(m.ctx, a, cmd)
		}
	}
}

func (m *Manager) drain(a *actor) {
	for {
		select {
		case cmd := <-a.queue:
			cmd.result <- m.discard(m.ctx, a, cmd)
		default:
			return
		}
	}
}

// outcome is what the pipeline decided for one command before it commits.
type outcome struct {
	entry      blackboard.CommandEntry
	world      *puzzle.WorldState
	persona    broker.Persona
	transition *puzzle.Transition
	degraded   bool
	violation  error
}

// process runs the pipeline for one command: interpret, preview the
// transition, ask the character, then commit. Only the commit holds the lock.
func (m *Manager) process(ctx context.Context, a *actor, cmd *command) CommandResult {
	world, persona := a.world, a.persona
	o := outcome{
		entry: blackboard.CommandEntry{
			Position:      cmd.position,
			ParticipantID: cmd.participant,
			RawText:       cmd.text,
			SubmittedAtMs: cmd.submittedAt.UnixMilli(),
		},
		world:   world,
		persona: persona,
	}

	res := m.deps.Interpreter.Interpret(ctx, cmd.text, cmd.participant, a.machine.View(world))
	if res.Intent == nil {
		o.entry.Kind = blackboard.CommandKindUnrecognized
		o.entry.Reason = res.Unrecognized.Clarification
		return m.commit(ctx, a, cmd, o)
	}

	intent := *res.Intent
	o.entry.Intent = intent.String()

	preview, err := a.machine.Apply(world, intent)
	if err != nil {
		o.entry.Kind = blackboard.CommandKindNoOp
		o.entry.Reason = err.Error()
		o.violation = err
		return m.commit(ctx, a, cmd, o)
	}

	resp := m.deps.Broker.Respond(ctx, broker.Request{
		Intent:  intent,
		State:   world,
		Persona: persona,
		Preview: preview,
		Graph:   a.machine.Graph(),
	})
	o.entry.Narration = resp.Narration
	o.degraded = resp.Degraded
	o.persona = resp.Persona

	switch {
	case resp.Decision == broker.DecisionRefuse:
		o.entry.Kind = blackboard.CommandKindRefused
		o.entry.Reason = "the character refused"
	case preview.Applied():
		o.entry.Kind = blackboard.CommandKindApplied
		o.persona = resp.Persona.Sway(preview.Sway)
		o.world = a.machine.WithDisposition(preview.State, o.persona.Tag())
		o.transition = &preview
	default:
		o.entry.Kind = blackboard.CommandKindNoOp
		o.entry.Reason = preview.NoOp.Reason
	}

	return m.commit(ctx, a, cmd, o)
}

func (m *Manager) commit(ctx context.Context, a *actor, cmd *command, o outcome) CommandResult {
	a.mu.Lock()

	if a.status.IsTerminal() || a.closing {
		a.mu.Unlock()
		return m.discard(ctx, a, cmd)
	}

	result := CommandResult{
		Position:  cmd.position,
		Kind:      o.entry.Kind,
		Intent:    o.entry.Intent,
		Narration: o.entry.Narration,
		Reason:    o.entry.Reason,
		Degraded:  o.degraded,
	}
	if o.entry.Kind == blackboard.CommandKindUnrecognized {
		result.Clarification = o.entry.Reason
	}

	if o.violation != nil {
		var iv *puzzle.InvariantViolation
		if !errors.As(o.violation, &iv) {
			iv = &puzzle.InvariantViolation{Detail: o.violation.Error()}
		}
		log.Printf("[Session] Invariant violation in %s at position %d, failing session: %v", a.id, cmd.position, iv)
		m.appendLocked(ctx, a, &o.entry)
		m.endLocked(ctx, a, blackboard.SessionStatusFailed, iv.Error())
		result.Kind = o.entry.Kind
		result.Status = a.status
		result.Err = iv
		a.mu.Unlock()
		return result
	}

	m.appendLocked(ctx, a, &o.entry)
	if o.entry.Kind != blackboard.CommandKindUnrecognized {
		a.persona = o.persona
	}
	a.world = o.world
	if err := m.saveLocked(ctx, a); err != nil {
		log.Printf("[Session] %v", err)
	}

	switch o.entry.Kind {
	case blackboard.CommandKindUnrecognized:
		m.publish(ctx, a.id, eventbus.KindClarification, eventbus.Clarification{
			Position:    cmd.position,
			Participant: cmd.participant,
			Text:        o.entry.Reason,
		})
	default:
		if o.transition != nil {
			m.publish(ctx, a.id, eventbus.KindStateChanged, eventbus.StateChanged{
				Position:    cmd.position,
				Participant: cmd.participant,
				Intent:      o.entry.Intent,
				Delta:       o.transition.Delta,
				Location:    a.world.Location,
				Disposition: a.world.Disposition,
				Inventory:   inventory(a.world),
				Succeeded:   o.transition.Outcome == puzzle.OutcomeSucceeded,
			})
		}
		m.publish(ctx, a.id, eventbus.KindNarration, eventbus.Narration{
			Position:    cmd.position,
			Participant: cmd.participant,
			Intent:      o.entry.Intent,
			Kind:        string(o.entry.Kind),
			Text:        o.entry.Narration,
			Degraded:    o.degraded,
		})
	}

	m.logEvent("command_processed", map[string]interface{}{
		"session_id":  a.id,
		"position":    cmd.position,
		"participant": cmd.participant,
		"kind":        string(o.entry.Kind),
		"intent":      o.entry.Intent,
		"degraded":    o.degraded,
	})

	ended := false
	if o.transition != nil && o.transition.Outcome == puzzle.OutcomeSucceeded {
		ended = m.endLocked(ctx, a, blackboard.SessionStatusSucceeded, "success predicate met")
	}
	result.Status = a.status
	a.mu.Unlock()

	if ended {
		m.afterEnd(ctx, a, blackboard.SessionStatusSucceeded)
	}
	return result
}

// discard logs a command that arrived after the session stopped.
// It still runs during shutdown, so it ignores ctx cancellation.
func (m *Manager) discard(ctx context.Context, a *actor, cmd *command) CommandResult {
	ctx = context.WithoutCancel(ctx)
	a.mu.Lock()
	defer a.mu.Unlock()

	entry := &blackboard.CommandEntry{
		Position:      cmd.position,
		ParticipantID: cmd.participant,
		RawText:       cmd.text,
		SubmittedAtMs: cmd.submittedAt.UnixMilli(),
		Kind:          blackboard.CommandKindDiscarded,
		Reason:        fmt.Sprintf("session %s", a.status),
	}
	m.appendLocked(ctx, a, entry)
	if err := m.saveLocked(ctx, a); err != nil {
		log.Printf("[Session] %v", err)
	}

	return CommandResult{
		Position: cmd.position,
		Kind:     blackboard.CommandKindDiscarded,
		Reason:   entry.Reason,
		Status:   a.status,
		Err:      reject(a.id, ErrSessionNotActive, "status is %s", a.status),
	}
}

func (m *Manager) appendLocked(ctx context.Context, a *actor, entry *blackboard.CommandEntry) {
	n, err := m.deps.Store.AppendCommand(ctx, a.id, entry)
	if err != nil {
		log.Printf("[Session] Failed to log command %d of %s: %v", entry.Position, a.id, err)
		a.logLength++
		return
	}
	a.logLength = n
}

func inventory(ws *puzzle.WorldState) map[string][]string {
	out := make(map[string][]string, len(ws.Inventory))
	for p, items := range ws.Inventory {
		out[p] = items.Sorted()
	}
	return out
}
