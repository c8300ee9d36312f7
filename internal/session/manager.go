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
	"github.com/dyluth/lockstep/internal/interpreter"
	"github.com/dyluth/lockstep/internal/puzzle"
	"github.com/dyluth/lockstep/pkg/blackboard"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Store persists sessions and their command logs.
type Store interface {
	SaveSession(ctx context.Context, s *blackboard.SessionRecord) error
	GetSession(ctx context.Context, sessionID string) (*blackboard.SessionRecord, error)
	ListSessions(ctx context.Context) ([]*blackboard.SessionRecord, error)
	AppendCommand(ctx context.Context, sessionID string, entry *blackboard.CommandEntry) (int, error)
	ArchiveSession(ctx context.Context, sessionID string, ttl time.Duration) error
}

// Graphs resolves puzzle graph references.
type Graphs interface {
	Machine(id string) (*puzzle.Machine, error)
}

// Interpreter maps chat text to intents.
type Interpreter interface {
	Interpret(ctx context.Context, raw, participant string, view puzzle.View) interpreter.Result
}

// Responder voices the character.
type Responder interface {
	Respond(ctx context.Context, req broker.Request) broker.Response
}

// Publisher sends world events.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, kind eventbus.Kind, payload interface{}) (*blackboard.WorldEvent, error)
}

// Rewarder is told once about every succeeded session.
type Rewarder interface {
	Trigger(ctx context.Context, sessionID string, participants []string) (int, error)
}

// Config bounds the manager.
type Config struct {
	Instance        string
	MaxParticipants int
	IdleTimeout     time.Duration
	ArchiveGrace    time.Duration
	QueueDepth      int
	HistoryLimit    int
	ReapInterval    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxParticipants <= 0 {
		c.MaxParticipants = 4
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 15 * time.Minute
	}
	if c.ArchiveGrace <= 0 {
		c.ArchiveGrace = 5 * time.Minute
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 64
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = broker.DefaultHistoryLimit
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = 30 * time.Second
	}
	return c
}

// Deps are the manager's collaborators. Rewards may be nil.
type Deps struct {
	Store       Store
	Graphs      Graphs
	Interpreter Interpreter
	Broker      Responder
	Bus         Publisher
	Rewards     Rewarder
}

// Manager owns every live session on this instance. Each session runs as an
// actor goroutine draining its own FIFO queue; sessions proceed in parallel.
type Manager struct {
	deps Deps
	cfg  Config
	now  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*actor
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for activity tracking and reaping.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager. Call Close to stop its actors.
func NewManager(deps Deps, cfg Config, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		deps:     deps,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*actor),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession starts a session of graphID for participants and returns its ID.
// The session is active on return and its opening event has been published.
// Content problems surface as *puzzle.ContentError or puzzle.ErrGraphNotFound.
func (m *Manager) CreateSession(ctx context.Context, participants []string, graphID string) (string, error) {
	if len(participants) == 0 {
		return "", fmt.Errorf("a session needs at least one participant")
	}
	if len(participants) > m.cfg.MaxParticipants {
		return "", reject("", ErrCapacityExceeded, "%d participants, at most %d allowed", len(participants), m.cfg.MaxParticipants)
	}
	seen := make(map[string]bool, len(participants))
	for _, p := range participants {
		if p == "" || seen[p] {
			return "", fmt.Errorf("participant ids must be unique and non-empty, got %q", participants)
		}
		seen[p] = true
	}

	machine, err := m.deps.Graphs.Machine(graphID)
	if err != nil {
		return "", err
	}
	graph := machine.Graph()

	persona := broker.NewPersona(graph.Persona, m.cfg.HistoryLimit)
	world := machine.WithDisposition(machine.Start(participants), persona.Tag())

	now := m.now()
	a := newActor(uuid.New().String(), machine, append([]string(nil), participants...), world, persona, now, m.cfg.QueueDepth)

	a.mu.Lock()
	if err := m.saveLocked(ctx, a); err != nil {
		a.mu.Unlock()
		return "", err
	}

	opening, _ := machine.Apply(world, puzzle.Intent{Verb: puzzle.VerbExamine, Target: "room", Participant: participants[0]})
	narration := opening.Narration
	if opening.NoOp != nil {
		narration = opening.NoOp.Reason
	}
	m.publish(ctx, a.id, eventbus.KindSessionStarted, eventbus.SessionStarted{
		GraphID:      graph.ID,
		GraphVersion: graph.Version,
		Participants: a.participants,
		Location:     world.Location,
		Disposition:  world.Disposition,
		Unlocked:     world.Unlocked.Sorted(),
		Narration:    narration,
	})

	a.status = blackboard.SessionStatusActive
	err = m.saveLocked(ctx, a)
	a.mu.Unlock()
	if err != nil {
		return "", err
	}

	m.start(a)

	m.logEvent("session_created", map[string]interface{}{
		"session_id":   a.id,
		"graph_id":     graph.ID,
		"participants": participants,
	})
	return a.id, nil
}

// CommandAck confirms admission. Result receives exactly one value once the
// command has been processed or discarded.
type CommandAck struct {
	SessionID string
	Position  int
	Result    <-chan CommandResult
}

// CommandResult is what one command did.
type CommandResult struct {
	Position      int
	Kind          blackboard.CommandKind
	Intent        string
	Narration     string
	Clarification string
	Reason        string
	Degraded      bool
	Status        blackboard.SessionStatus // session status after the command
	Err           error                    // set when the command was discarded or hit an invariant violation
}

// SubmitCommand admits one chat message. Commands of a session are processed
// strictly in admission order, each fully before the next begins.
func (m *Manager) SubmitCommand(ctx context.Context, sessionID, participantID, text string, submittedAt time.Time) (*CommandAck, error) {
	a, err := m.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status != blackboard.SessionStatusActive {
		return nil, reject(sessionID, ErrSessionNotActive, "status is %s", a.status)
	}
	if !a.isParticipant(participantID) {
		return nil, reject(sessionID, ErrUnknownParticipant, "%q is not in the roster", participantID)
	}

	cmd := &command{
		position:    a.admitted + 1,
		participant: participantID,
		text:        text,
		submittedAt: submittedAt,
		result:      make(chan CommandResult, 1),
	}
	select {
	case a.queue <- cmd:
	default:
		return nil, reject(sessionID, ErrQueueFull, "%d commands waiting", cap(a.queue))
	}
	a.admitted++
	a.lastActivity = m.now()

	return &CommandAck{SessionID: sessionID, Position: cmd.position, Result: cmd.result}, nil
}

// EndSession moves a session to a terminal status. Ending a session that is
// already terminal is a no-op. Queued commands are discarded.
func (m *Manager) EndSession(ctx context.Context, sessionID string, status blackboard.SessionStatus, reason string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("cannot end session with non-terminal status %q", status)
	}

	a, err := m.lookup(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotActive) {
			return nil
		}
		return err
	}

	a.mu.Lock()
	ended := m.endLocked(ctx, a, status, reason)
	a.mu.Unlock()

	if ended {
		m.afterEnd(ctx, a, status)
	}
	return nil
}

// Pause stops admission until Resume. Idle reaping still applies.
func (m *Manager) Pause(ctx context.Context, sessionID string) error {
	return m.setPaused(ctx, sessionID, true)
}

// Resume re-opens a paused session.
func (m *Manager) Resume(ctx context.Context, sessionID string) error {
	return m.setPaused(ctx, sessionID, false)
}

func (m *Manager) setPaused(ctx context.Context, sessionID string, pause bool) error {
	a, err := m.lookup(ctx, sessionID)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	from, to, kind := blackboard.SessionStatusActive, blackboard.SessionStatusPaused, eventbus.KindSessionPaused
	if !pause {
		from, to, kind = blackboard.SessionStatusPaused, blackboard.SessionStatusActive, eventbus.KindSessionResumed
	}
	if a.status == to {
		return nil
	}
	if a.status != from {
		return reject(sessionID, ErrSessionNotActive, "cannot move from %s to %s", a.status, to)
	}

	a.status = to
	a.lastActivity = m.now()
	if err := m.saveLocked(ctx, a); err != nil {
		log.Printf("[Session] Failed to persist %s for %s: %v", to, sessionID, err)
	}
	m.publish(ctx, sessionID, kind, eventbus.StatusChanged{Status: string(to)})
	return nil
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID           string
	GraphID      string
	GraphVersion int
	Participants []string
	Status       blackboard.SessionStatus
	EndReason    string
	World        *puzzle.WorldState
	Persona      broker.Persona
	LogLength    int
	CreatedAt    time.Time
	LastActivity time.Time
}

// Snapshot returns the committed state of a session, from memory when the
// session is live and from the store otherwise.
func (m *Manager) Snapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	m.mu.Lock()
	a, ok := m.sessions[sessionID]
	m.mu.Unlock()

	if ok {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.snapshot(), nil
	}

	rec, err := m.deps.Store.GetSession(ctx, sessionID)
	if blackboard.IsNotFound(err) {
		return nil, reject(sessionID, ErrSessionNotFound, "no such session")
	}
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(rec)
}

// ActiveCount returns how many live sessions are not yet terminal.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	actors := make([]*actor, 0, len(m.sessions))
	for _, a := range m.sessions {
		actors = append(actors, a)
	}
	m.mu.Unlock()

	n := 0
	for _, a := range actors {
		a.mu.Lock()
		if !a.status.IsTerminal() {
			n++
		}
		a.mu.Unlock()
	}
	return n
}

// Run reaps idle sessions and forgets archived ones until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	log.Printf("[Session] Reaper started: idle timeout %s, archive grace %s", m.cfg.IdleTimeout, m.cfg.ArchiveGrace)

	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Session] Reaper stopped")
			return nil
		case <-ticker.C:
			m.Reap(ctx)
		}
	}
}

// Reap abandons sessions idle past the timeout and drops sessions whose
// archive grace has elapsed. Returns how many sessions it abandoned.
func (m *Manager) Reap(ctx context.Context) int {
	now := m.now()

	m.mu.Lock()
	actors := make([]*actor, 0, len(m.sessions))
	for _, a := range m.sessions {
		actors = append(actors, a)
	}
	m.mu.Unlock()

	abandoned := 0
	var expired []string
	for _, a := range actors {
		a.mu.Lock()
		switch {
		case a.status.IsTerminal():
			if now.Sub(a.endedAt) >= m.cfg.ArchiveGrace {
				expired = append(expired, a.id)
			}
		case now.Sub(a.lastActivity) >= m.cfg.IdleTimeout:
			if m.endLocked(ctx, a, blackboard.SessionStatusAbandoned, "idle timeout") {
				abandoned++
			}
		}
		a.mu.Unlock()
	}

	if len(expired) > 0 {
		m.mu.Lock()
		for _, id := range expired {
			delete(m.sessions, id)
		}
		m.mu.Unlock()
	}
	return abandoned
}

// Close stops every actor. Sessions keep their persisted status so Recover
// can resume them; queued commands are discarded.
func (m *Manager) Close() {
	m.mu.Lock()
	for _, a := range m.sessions {
		a.mu.Lock()
		a.closing = true
		a.signalStop()
		a.mu.Unlock()
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

// Recover restarts actors for every non-terminal session in the store.
// A session whose graph has changed version since it started is failed.
func (m *Manager) Recover(ctx context.Context) error {
	records, err := m.deps.Store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to scan sessions: %w", err)
	}

	recovered, failed := 0, 0
	for _, rec := range records {
		if rec.Status.IsTerminal() {
			continue
		}
		m.mu.Lock()
		_, live := m.sessions[rec.ID]
		m.mu.Unlock()
		if live {
			continue
		}

		a, err := m.restore(rec)
		if err != nil {
			log.Printf("[Session] Cannot recover %s: %v", rec.ID, err)
			rec.Status = blackboard.SessionStatusFailed
			rec.EndReason = fmt.Sprintf("recovery failed: %v", err)
			if err := m.deps.Store.SaveSession(ctx, rec); err != nil {
				log.Printf("[Session] Failed to mark %s failed: %v", rec.ID, err)
			}
			m.publish(ctx, rec.ID, eventbus.KindSessionEnded, eventbus.SessionEnded{Status: string(rec.Status), Reason: rec.EndReason})
			failed++
			continue
		}
		if a.status == blackboard.SessionStatusForming {
			a.status = blackboard.SessionStatusActive
		}
		a.lastActivity = m.now()
		m.start(a)
		recovered++
	}

	m.logEvent("recovery_complete", map[string]interface{}{
		"sessions_recovered": recovered,
		"sessions_failed":    failed,
	})
	return nil
}

func (m *Manager) restore(rec *blackboard.SessionRecord) (*actor, error) {
	machine, err := m.deps.Graphs.Machine(rec.GraphID)
	if err != nil {
		return nil, err
	}
	if v := machine.Graph().Version; v != rec.GraphVersion {
		return nil, fmt.Errorf("graph %s is now version %d, session started on %d", rec.GraphID, v, rec.GraphVersion)
	}

	snap, err := decodeSnapshot(rec)
	if err != nil {
		return nil, err
	}

	a := newActor(rec.ID, machine, rec.Participants, snap.World, snap.Persona, snap.CreatedAt, m.cfg.QueueDepth)
	a.status = rec.Status
	a.logLength = rec.LogLength
	a.admitted = rec.LogLength
	return a, nil
}

func (m *Manager) start(a *actor) {
	m.mu.Lock()
	m.sessions[a.id] = a
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runActor(a)
	}()
}

// lookup finds a live session. Sessions only known to the store are reported
// as not active; unknown IDs as not found.
func (m *Manager) lookup(ctx context.Context, sessionID string) (*actor, error) {
	m.mu.Lock()
	a, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if ok {
		return a, nil
	}

	rec, err := m.deps.Store.GetSession(ctx, sessionID)
	if blackboard.IsNotFound(err) {
		return nil, reject(sessionID, ErrSessionNotFound, "no such session")
	}
	if err != nil {
		return nil, err
	}
	return nil, reject(sessionID, ErrSessionNotActive, "status is %s", rec.Status)
}

// endLocked moves a to a terminal status. Caller holds a.mu.
// Returns false when the session had already ended.
func (m *Manager) endLocked(ctx context.Context, a *actor, status blackboard.SessionStatus, reason string) bool {
	if a.status.IsTerminal() {
		return false
	}

	a.status = status
	a.endReason = reason
	a.endedAt = m.now()
	a.persona = broker.NewPersona(a.machine.Graph().Persona, m.cfg.HistoryLimit)
	a.signalStop()

	if err := m.saveLocked(ctx, a); err != nil {
		log.Printf("[Session] Failed to persist end of %s: %v", a.id, err)
	}
	m.publish(ctx, a.id, eventbus.KindSessionEnded, eventbus.SessionEnded{Status: string(status), Reason: reason})
	if err := m.deps.Store.ArchiveSession(ctx, a.id, m.cfg.ArchiveGrace); err != nil {
		log.Printf("[Session] Failed to archive %s: %v", a.id, err)
	}

	m.logEvent("session_ended", map[string]interface{}{
		"session_id": a.id,
		"status":     string(status),
		"reason":     reason,
		"log_length": a.logLength,
	})
	return true
}

// afterEnd runs the work that follows a terminal transition outside the actor lock.
func (m *Manager) afterEnd(ctx context.Context, a *actor, status blackboard.SessionStatus) {
	if status != blackboard.SessionStatusSucceeded || m.deps.Rewards == nil {
		return
	}
	n, err := m.deps.Rewards.Trigger(ctx, a.id, a.participants)
	if err != nil {
		log.Printf("[Session] Reward trigger for %s failed, left to the reward rescan: %v", a.id, err)
		return
	}
	log.Printf("[Session] Session %s succeeded, %d reward records created", a.id, n)
}

func (m *Manager) saveLocked(ctx context.Context, a *actor) error {
	rec, err := a.record()
	if err != nil {
		return err
	}
	if err := m.deps.Store.SaveSession(ctx, rec); err != nil {
		return fmt.Errorf("failed to save session %s: %w", a.id, err)
	}
	return nil
}

func (m *Manager) publish(ctx context.Context, sessionID string, kind eventbus.Kind, payload interface{}) {
	if m.deps.Bus == nil {
		return
	}
	if _, err := m.deps.Bus.Publish(ctx, sessionID, kind, payload); err != nil {
		log.Printf("[Session] Failed to publish %s for %s: %v", kind, sessionID, err)
	}
}

// logEvent logs a structured event in JSON format.
func (m *Manager) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "session"
	data["event_type"] = eventType
	data["instance"] = m.cfg.Instance

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Session] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
