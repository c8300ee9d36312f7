package eventbus

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dyluth/lockstep/pkg/blackboard"
	json "github.com/goccy/go-json"
)

// Store is the subset of the blackboard the bus needs.
type Store interface {
	NextEventSeq(ctx context.Context, sessionID string) (uint64, error)
	AppendWorldEvent(ctx context.Context, ev *blackboard.WorldEvent) error
	ReplayWorldEvents(ctx context.Context, sessionID string, afterSeq uint64) ([]*blackboard.WorldEvent, error)
}

// Bus publishes sequenced world events. Delivery is at-least-once: an append
// that is retried after an ambiguous failure may be stored twice under the
// same sequence number, and consumers discard the repeat with a Deduper.
type Bus struct {
	store      Store
	maxRetries uint64
	interval   time.Duration
	now        func() time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithRetry overrides how often a failed append is retried and the initial interval between attempts.
func WithRetry(maxRetries uint64, interval time.Duration) Option {
	return func(b *Bus) {
		b.maxRetries = maxRetries
		b.interval = interval
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// New creates a Bus on store.
func New(store Store, opts ...Option) *Bus {
	b := &Bus{
		store:      store,
		maxRetries: 3,
		interval:   50 * time.Millisecond,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish allocates the next sequence number for sessionID and appends the event.
// The returned event carries the allocated sequence number.
func (b *Bus) Publish(ctx context.Context, sessionID string, kind Kind, payload interface{}) (*blackboard.WorldEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}

	seq, err := b.store.NextEventSeq(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	ev := &blackboard.WorldEvent{
		SessionID:   sessionID,
		Seq:         seq,
		Kind:        string(kind),
		Payload:     data,
		EmittedAtMs: b.now().UnixMilli(),
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.interval
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, b.maxRetries), ctx)

	err = backoff.RetryNotify(func() error {
		return b.store.AppendWorldEvent(ctx, ev)
	}, retry, func(err error, wait time.Duration) {
		log.Printf("[EventBus] Append of %s seq=%d for session %s failed, retrying in %s: %v", kind, seq, sessionID, wait, err)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to publish %s for session %s: %w", kind, sessionID, err)
	}

	return ev, nil
}

// Replay returns the stored events of sessionID after afterSeq, in order.
func (b *Bus) Replay(ctx context.Context, sessionID string, afterSeq uint64) ([]*blackboard.WorldEvent, error) {
	return b.store.ReplayWorldEvents(ctx, sessionID, afterSeq)
}

// Decode unmarshals an event payload into v.
func Decode(ev *blackboard.WorldEvent, v interface{}) error {
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", ev.Kind, err)
	}
	return nil
}
