package reward

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dyluth/lockstep/internal/eventbus"
	"github.com/dyluth/lockstep/pkg/blackboard"
	json "github.com/goccy/go-json"
)

// ErrIssuanceStuck is recorded when a reward exhausts its retries.
var ErrIssuanceStuck = errors.New("reward issuance stuck")

// AlertTriggerFailed is the alert kind raised when a succeeded session's
// reward records still cannot be created after MaxRetries rescans.
const AlertTriggerFailed = "reward_trigger_failed"

// Store is the subset of the blackboard the issuer needs.
type Store interface {
	CreateRewardRecord(ctx context.Context, r *blackboard.RewardRecord) (bool, error)
	GetRewardRecord(ctx context.Context, sessionID, participantID string) (*blackboard.RewardRecord, error)
	UpdateRewardRecord(ctx context.Context, r *blackboard.RewardRecord) error
	ListRewardRecords(ctx context.Context) ([]*blackboard.RewardRecord, error)
	ListSessions(ctx context.Context) ([]*blackboard.SessionRecord, error)
	RaiseAlert(ctx context.Context, a *blackboard.Alert) error
}

// Publisher announces stuck rewards on the world event bus.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, kind eventbus.Kind, payload interface{}) (*blackboard.WorldEvent, error)
}

// Config bounds issuance.
type Config struct {
	Instance       string
	Amount         int64
	MaxRetries     int // retries after the first attempt, across restarts
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RescanInterval time.Duration
	Workers        int
}

func (c Config) withDefaults() Config {
	if c.Amount <= 0 {
		c.Amount = 10
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.RescanInterval <= 0 {
		c.RescanInterval = time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	return c
}

type recordKey struct {
	session     string
	participant string
}

// pendingTrigger is a succeeded session whose records could not all be created.
type pendingTrigger struct {
	participants []string
	failures     int
	alerted      bool
}

// Issuer emits each session's rewards exactly once.
// Trigger is safe to call any number of times for the same session; only the
// first call creates records. Transfers run on Run's workers, decoupled from
// the command pipeline.
type Issuer struct {
	store    Store
	transfer Transferer
	publish  Publisher
	cfg      Config
	now      func() time.Time

	queue    chan recordKey
	mu       sync.Mutex
	inflight map[recordKey]bool
	pending  map[string]*pendingTrigger
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// New creates an Issuer. publish may be nil.
func New(store Store, transfer Transferer, publish Publisher, cfg Config, opts ...Option) *Issuer {
	i := &Issuer{
		store:    store,
		transfer: transfer,
		publish:  publish,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		queue:    make(chan recordKey, 256),
		inflight: make(map[recordKey]bool),
		pending:  make(map[string]*pendingTrigger),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Trigger creates a pending reward record for every participant of a
// succeeded session and queues the new ones for transfer.
// Returns how many records this call created. On failure the session is kept
// and retried by every Rescan until its records exist.
func (i *Issuer) Trigger(ctx context.Context, sessionID string, participants []string) (int, error) {
	created, err := i.createRecords(ctx, sessionID, participants)
	if err != nil {
		i.triggerFailed(ctx, sessionID, participants, err)
		return created, err
	}

	i.mu.Lock()
	delete(i.pending, sessionID)
	i.mu.Unlock()
	return created, nil
}

func (i *Issuer) createRecords(ctx context.Context, sessionID string, participants []string) (int, error) {
	created := 0
	for _, p := range participants {
		now := i.now().UnixMilli()
		rec := &blackboard.RewardRecord{
			SessionID:        sessionID,
			ParticipantID:    p,
			IdempotencyToken: Token(sessionID, p),
			Amount:           i.cfg.Amount,
			Status:           blackboard.RewardStatusPending,
			CreatedAtMs:      now,
			UpdatedAtMs:      now,
		}

		ok, err := i.store.CreateRewardRecord(ctx, rec)
		if err != nil {
			return created, fmt.Errorf("failed to create reward for %s in session %s: %w", p, sessionID, err)
		}
		if !ok {
			log.Printf("[Reward] Record for %s in session %s already exists, not re-triggering", p, sessionID)
			continue
		}

		created++
		i.enqueue(recordKey{sessionID, p})
	}
	return created, nil
}

// triggerFailed remembers the session for the next rescan and raises an
// alert once the failures exceed the retry budget.
func (i *Issuer) triggerFailed(ctx context.Context, sessionID string, participants []string, cause error) {
	i.mu.Lock()
	pt, ok := i.pending[sessionID]
	if !ok {
		pt = &pendingTrigger{participants: append([]string(nil), participants...)}
		i.pending[sessionID] = pt
	}
	pt.failures++
	failures := pt.failures
	raise := failures > i.cfg.MaxRetries && !pt.alerted
	i.mu.Unlock()

	log.Printf("[Reward] Trigger for session %s failed (%d times), retrying on next rescan: %v", sessionID, failures, cause)
	if !raise {
		return
	}

	alert := &blackboard.Alert{
		Kind:       AlertTriggerFailed,
		SessionID:  sessionID,
		Message:    fmt.Sprintf("reward records not created after %d attempts: %v", failures, cause),
		RaisedAtMs: i.now().UnixMilli(),
	}
	if err := i.store.RaiseAlert(ctx, alert); err != nil {
		log.Printf("[Reward] Failed to raise trigger alert for session %s: %v", sessionID, err)
		return
	}

	i.mu.Lock()
	pt.alerted = true
	i.mu.Unlock()
	i.logEvent("reward_trigger_failed", map[string]interface{}{
		"session_id": sessionID,
		"failures":   failures,
		"error":      cause.Error(),
	})
}

// Run processes queued rewards and periodically rescans for unfinished ones,
// so retries resume after a restart. Blocks until ctx is cancelled.
func (i *Issuer) Run(ctx context.Context) error {
	log.Printf("[Reward] Starting %d workers, rescanning every %s", i.cfg.Workers, i.cfg.RescanInterval)

	var wg sync.WaitGroup
	for w := 0; w < i.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case key := <-i.queue:
					i.process(ctx, key)
					i.release(key)
				}
			}
		}()
	}

	i.Rescan(ctx)
	ticker := time.NewTicker(i.cfg.RescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			log.Printf("[Reward] Stopped")
			return nil
		case <-ticker.C:
			i.Rescan(ctx)
		}
	}
}

// Rescan retries failed triggers, queues every record that is neither issued
// nor stuck, and triggers any succeeded session that has no records yet.
func (i *Issuer) Rescan(ctx context.Context) {
	i.retryTriggers(ctx)

	records, err := i.store.ListRewardRecords(ctx)
	if err != nil {
		log.Printf("[Reward] Rescan failed: %v", err)
		return
	}
	have := make(map[recordKey]bool, len(records))
	for _, r := range records {
		have[recordKey{r.SessionID, r.ParticipantID}] = true
		if r.Status != blackboard.RewardStatusIssued && !r.Stuck {
			i.enqueue(recordKey{r.SessionID, r.ParticipantID})
		}
	}

	i.sweepSucceeded(ctx, have)
}

func (i *Issuer) retryTriggers(ctx context.Context) {
	i.mu.Lock()
	retry := make(map[string][]string, len(i.pending))
	for id, pt := range i.pending {
		retry[id] = pt.participants
	}
	i.mu.Unlock()

	for id, participants := range retry {
		if n, err := i.Trigger(ctx, id, participants); err == nil {
			log.Printf("[Reward] Retried trigger for session %s, %d records created", id, n)
		}
	}
}

// sweepSucceeded covers sessions that succeeded while no trigger could be
// remembered, such as a crash between the final snapshot and Trigger.
func (i *Issuer) sweepSucceeded(ctx context.Context, have map[recordKey]bool) {
	sessions, err := i.store.ListSessions(ctx)
	if err != nil {
		log.Printf("[Reward] Session sweep failed: %v", err)
		return
	}
	for _, s := range sessions {
		if s.Status != blackboard.SessionStatusSucceeded || i.isPending(s.ID) {
			continue
		}
		for _, p := range s.Participants {
			if have[recordKey{s.ID, p}] {
				continue
			}
			log.Printf("[Reward] Session %s succeeded without reward for %s, triggering", s.ID, p)
			i.Trigger(ctx, s.ID, s.Participants)
			break
		}
	}
}

func (i *Issuer) isPending(sessionID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.pending[sessionID]
	return ok
}

func (i *Issuer) enqueue(key recordKey) {
	i.mu.Lock()
	if i.inflight[key] {
		i.mu.Unlock()
		return
	}
	i.inflight[key] = true
	i.mu.Unlock()

	select {
	case i.queue <- key:
	default:
		log.Printf("[Reward] Queue full, %s/%s left for the next rescan", key.session, key.participant)
		i.release(key)
	}
}

func (i *Issuer) release(key recordKey) {
	i.mu.Lock()
	delete(i.inflight, key)
	i.mu.Unlock()
}

func (i *Issuer) process(ctx context.Context, key recordKey) {
	rec, err := i.store.GetRewardRecord(ctx, key.session, key.participant)
	if err != nil {
		log.Printf("[Reward] Failed to load %s/%s: %v", key.session, key.participant, err)
		return
	}
	if err := i.Issue(ctx, rec); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[Reward] %v", err)
	}
}

// Issue transfers one reward, retrying with exponential backoff.
// The record is updated after every attempt. When retries run out the record
// is marked stuck and an alert is raised; it is never dropped.
func (i *Issuer) Issue(ctx context.Context, rec *blackboard.RewardRecord) error {
	if rec.Status == blackboard.RewardStatusIssued || rec.Stuck {
		return nil
	}

	remaining := i.cfg.MaxRetries + 1 - rec.Attempts
	if remaining <= 0 {
		return i.markStuck(ctx, rec)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = i.cfg.InitialBackoff
	policy.MaxInterval = i.cfg.MaxBackoff
	policy.MaxElapsedTime = 0
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(remaining-1)), ctx)

	err := backoff.RetryNotify(func() error {
		err := i.transfer.Issue(ctx, rec.ParticipantID, rec.IdempotencyToken, rec.Amount)
		rec.Attempts++
		rec.UpdatedAtMs = i.now().UnixMilli()
		if err != nil {
			rec.Status = blackboard.RewardStatusFailed
			rec.LastError = err.Error()
		} else {
			rec.Status = blackboard.RewardStatusIssued
			rec.LastError = ""
		}
		if uerr := i.store.UpdateRewardRecord(ctx, rec); uerr != nil {
			log.Printf("[Reward] Failed to record attempt %d for %s/%s: %v", rec.Attempts, rec.SessionID, rec.ParticipantID, uerr)
		}
		if errors.Is(err, ErrRejected) {
			return backoff.Permanent(err)
		}
		return err
	}, retry, func(err error, wait time.Duration) {
		log.Printf("[Reward] Transfer for %s/%s failed (attempt %d), retrying in %s: %v",
			rec.SessionID, rec.ParticipantID, rec.Attempts, wait, err)
	})

	if err == nil {
		i.logEvent("reward_issued", map[string]interface{}{
			"session_id":     rec.SessionID,
			"participant_id": rec.ParticipantID,
			"token":          rec.IdempotencyToken,
			"attempts":       rec.Attempts,
		})
		return nil
	}
	if ctx.Err() != nil {
		// Shutting down: the record stays failed and the next rescan resumes it.
		return ctx.Err()
	}
	return i.markStuck(ctx, rec)
}

func (i *Issuer) markStuck(ctx context.Context, rec *blackboard.RewardRecord) error {
	rec.Stuck = true
	rec.Status = blackboard.RewardStatusFailed
	rec.UpdatedAtMs = i.now().UnixMilli()
	if err := i.store.UpdateRewardRecord(ctx, rec); err != nil {
		return fmt.Errorf("failed to mark reward %s/%s stuck: %w", rec.SessionID, rec.ParticipantID, err)
	}

	alert := &blackboard.Alert{
		Kind:          string(eventbus.KindRewardStuck),
		SessionID:     rec.SessionID,
		ParticipantID: rec.ParticipantID,
		Message:       fmt.Sprintf("reward not issued after %d attempts: %s", rec.Attempts, rec.LastError),
		RaisedAtMs:    rec.UpdatedAtMs,
	}
	if err := i.store.RaiseAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to raise stuck alert for %s/%s: %w", rec.SessionID, rec.ParticipantID, err)
	}

	if i.publish != nil {
		if _, err := i.publish.Publish(ctx, rec.SessionID, eventbus.KindRewardStuck, eventbus.RewardStuck{
			Participant: rec.ParticipantID,
			Attempts:    rec.Attempts,
			Error:       rec.LastError,
		}); err != nil {
			log.Printf("[Reward] Failed to publish stuck event for %s/%s: %v", rec.SessionID, rec.ParticipantID, err)
		}
	}

	return fmt.Errorf("%w: %s/%s after %d attempts", ErrIssuanceStuck, rec.SessionID, rec.ParticipantID, rec.Attempts)
}

func (i *Issuer) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "reward"
	data["event_type"] = eventType
	data["instance"] = i.cfg.Instance

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Reward] Failed to marshal log event: %v", err)
		return
	}
	log.Println(string(jsonData))
}
