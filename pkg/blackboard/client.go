package blackboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client provides instance-scoped Redis operations for the session store.
// All keys and channels are automatically namespaced with the instance name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a new blackboard client for the specified instance.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: Lockstep instance identifier (must not be empty)
//
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// InstanceName returns the namespace this client writes under.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// SaveSession writes the full session record (HSET replacement) and indexes it.
// Validates the record before writing.
func (c *Client) SaveSession(ctx context.Context, s *SessionRecord) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	hash, err := SessionToHash(s)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, SessionKey(c.instanceName, s.ID), hash)
	pipe.SAdd(ctx, SessionIndexKey(c.instanceName), s.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write session to Redis: %w", err)
	}

	return nil
}

// GetSession retrieves a session by ID.
// Returns (nil, redis.Nil) if the session doesn't exist or has been archived away.
// Use IsNotFound() to check for not-found errors.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	hashData, err := c.rdb.HGetAll(ctx, SessionKey(c.instanceName, sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session from Redis: %w", err)
	}

	// HGetAll returns an empty map for non-existent keys
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	session, err := HashToSession(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize session: %w", err)
	}

	return session, nil
}

// ListSessions returns every indexed session, oldest first.
// Index entries whose hash has expired are pruned as a side effect.
func (c *Client) ListSessions(ctx context.Context) ([]*SessionRecord, error) {
	ids, err := c.rdb.SMembers(ctx, SessionIndexKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session index: %w", err)
	}

	sessions := make([]*SessionRecord, 0, len(ids))
	for _, id := range ids {
		s, err := c.GetSession(ctx, id)
		if IsNotFound(err) {
			c.rdb.SRem(ctx, SessionIndexKey(c.instanceName), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAtMs != sessions[j].CreatedAtMs {
			return sessions[i].CreatedAtMs < sessions[j].CreatedAtMs
		}
		return sessions[i].ID < sessions[j].ID
	})

	return sessions, nil
}

// AppendCommand appends an entry to the session's command log.
// Returns the new log length.
func (c *Client) AppendCommand(ctx context.Context, sessionID string, entry *CommandEntry) (int, error) {
	if err := entry.Validate(); err != nil {
		return 0, fmt.Errorf("invalid command entry: %w", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal command entry: %w", err)
	}

	n, err := c.rdb.RPush(ctx, CommandLogKey(c.instanceName, sessionID), data).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to append command entry: %w", err)
	}

	return int(n), nil
}

// GetCommandLog returns the full command log of a session in admission order.
// Returns an empty slice if nothing has been logged.
func (c *Client) GetCommandLog(ctx context.Context, sessionID string) ([]*CommandEntry, error) {
	raw, err := c.rdb.LRange(ctx, CommandLogKey(c.instanceName, sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read command log: %w", err)
	}

	entries := make([]*CommandEntry, 0, len(raw))
	for i, r := range raw {
		var entry CommandEntry
		if err := json.Unmarshal([]byte(r), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal command entry %d: %w", i, err)
		}
		entries = append(entries, &entry)
	}

	return entries, nil
}

// ArchiveSession sets an expiry on the session's record, command log and
// event log. The session stays readable until the TTL elapses.
// The event sequence counter is not expired: events published after the
// archive (a late reward_stuck, say) must still get increasing numbers.
func (c *Client) ArchiveSession(ctx context.Context, sessionID string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("archive ttl must be positive, got %s", ttl)
	}

	pipe := c.rdb.TxPipeline()
	for _, key := range []string{
		SessionKey(c.instanceName, sessionID),
		CommandLogKey(c.instanceName, sessionID),
		EventLogKey(c.instanceName, sessionID),
	} {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}

	return nil
}

// CreateRewardRecord writes a reward record only if none exists for the
// (session, participant) pair. Returns false when a record was already present.
func (c *Client) CreateRewardRecord(ctx context.Context, r *RewardRecord) (bool, error) {
	if err := r.Validate(); err != nil {
		return false, fmt.Errorf("invalid reward record: %w", err)
	}

	data, err := json.Marshal(r)
	if err != nil {
		return false, fmt.Errorf("failed to marshal reward record: %w", err)
	}

	key := RewardKey(c.instanceName, r.SessionID, r.ParticipantID)
	created, err := createRewardScript.Run(ctx, c.rdb, []string{key, RewardIndexKey(c.instanceName)}, data).Int()
	if err != nil {
		return false, fmt.Errorf("failed to create reward record: %w", err)
	}

	return created == 1, nil
}

// createRewardScript writes the record if absent and always indexes the key,
// so a record can never exist without being visible to ListRewardRecords.
var createRewardScript = redis.NewScript(`
local created = redis.call('SETNX', KEYS[1], ARGV[1])
redis.call('SADD', KEYS[2], KEYS[1])
return created
`)

// GetRewardRecord retrieves the reward record for a (session, participant) pair.
// Returns (nil, redis.Nil) if it doesn't exist.
func (c *Client) GetRewardRecord(ctx context.Context, sessionID, participantID string) (*RewardRecord, error) {
	raw, err := c.rdb.Get(ctx, RewardKey(c.instanceName, sessionID, participantID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to read reward record: %w", err)
	}

	var r RewardRecord
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reward record: %w", err)
	}
	return &r, nil
}

// UpdateRewardRecord replaces an existing reward record.
// Returns redis.Nil if the record does not exist; updates never create records.
func (c *Client) UpdateRewardRecord(ctx context.Context, r *RewardRecord) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid reward record: %w", err)
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal reward record: %w", err)
	}

	key := RewardKey(c.instanceName, r.SessionID, r.ParticipantID)
	ok, err := c.rdb.SetXX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to update reward record: %w", err)
	}
	if !ok {
		return redis.Nil
	}

	return nil
}

// ListRewardRecords returns every reward record, ordered by creation time.
func (c *Client) ListRewardRecords(ctx context.Context) ([]*RewardRecord, error) {
	keys, err := c.rdb.SMembers(ctx, RewardIndexKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read reward index: %w", err)
	}
	if len(keys) == 0 {
		return []*RewardRecord{}, nil
	}

	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read reward records: %w", err)
	}

	records := make([]*RewardRecord, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var r RewardRecord
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reward record %s: %w", keys[i], err)
		}
		records = append(records, &r)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAtMs != records[j].CreatedAtMs {
			return records[i].CreatedAtMs < records[j].CreatedAtMs
		}
		return records[i].ParticipantID < records[j].ParticipantID
	})

	return records, nil
}

// RaiseAlert persists an alert and publishes it on the alert channel.
func (c *Client) RaiseAlert(ctx context.Context, a *Alert) error {
	if a.Kind == "" {
		return fmt.Errorf("alert kind cannot be empty")
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, AlertsKey(c.instanceName), data)
	pipe.Publish(ctx, AlertEventsChannel(c.instanceName), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to raise alert: %w", err)
	}

	return nil
}

// ListAlerts returns all persisted alerts, oldest first.
func (c *Client) ListAlerts(ctx context.Context) ([]*Alert, error) {
	raw, err := c.rdb.LRange(ctx, AlertsKey(c.instanceName), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read alerts: %w", err)
	}

	alerts := make([]*Alert, 0, len(raw))
	for _, r := range raw {
		var a Alert
		if err := json.Unmarshal([]byte(r), &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal alert: %w", err)
		}
		alerts = append(alerts, &a)
	}
	return alerts, nil
}

// NextEventSeq atomically allocates the next world-event sequence number for a session.
// The first allocated number is 1.
func (c *Client) NextEventSeq(ctx context.Context, sessionID string) (uint64, error) {
	n, err := c.rdb.Incr(ctx, EventSeqKey(c.instanceName, sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate event sequence: %w", err)
	}
	return uint64(n), nil
}

// AppendWorldEvent stores a sequenced event in the session replay log and
// publishes it on the world events channel.
func (c *Client) AppendWorldEvent(ctx context.Context, ev *WorldEvent) error {
	if ev.SessionID == "" {
		return fmt.Errorf("world event session_id cannot be empty")
	}
	if ev.Seq == 0 {
		return fmt.Errorf("world event seq must be allocated before append")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal world event: %w", err)
	}

	keys := []string{EventLogKey(c.instanceName, ev.SessionID), SessionKey(c.instanceName, ev.SessionID)}
	pipe := c.rdb.TxPipeline()
	appendEventScript.Eval(ctx, pipe, keys, data, OrphanEventRetention.Milliseconds())
	pipe.Publish(ctx, WorldEventsChannel(c.instanceName), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish world event: %w", err)
	}

	return nil
}

// OrphanEventRetention is how long events appended for a session whose record
// no longer exists are kept.
const OrphanEventRetention = 24 * time.Hour

// appendEventScript pushes an event and keeps the log's lifetime in step with
// the session record: an archived session's log expires with it, and a log
// recreated after the record expired gets OrphanEventRetention.
var appendEventScript = redis.NewScript(`
redis.call('RPUSH', KEYS[1], ARGV[1])
local ttl = redis.call('PTTL', KEYS[2])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
elseif ttl == -2 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 1
`)

// ReplayWorldEvents returns stored events for a session with Seq > afterSeq, in sequence order.
func (c *Client) ReplayWorldEvents(ctx context.Context, sessionID string, afterSeq uint64) ([]*WorldEvent, error) {
	raw, err := c.rdb.LRange(ctx, EventLogKey(c.instanceName, sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read world events: %w", err)
	}

	events := make([]*WorldEvent, 0, len(raw))
	for _, r := range raw {
		var ev WorldEvent
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal world event: %w", err)
		}
		if ev.Seq > afterSeq {
			events = append(events, &ev)
		}
	}

	// Publish retries can race with a concurrent append; order by seq, not list position.
	sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })

	return events, nil
}

// Subscription represents an active Pub/Sub subscription.
// Caller must call Close() when done to clean up resources.
type Subscription[T any] struct {
	events <-chan *T
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of decoded messages.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *Subscription[T]) Events() <-chan *T {
	return s.events
}

// Errors returns the channel of subscription errors.
// The subscription continues after errors - messages are skipped.
func (s *Subscription[T]) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription[T]) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeWorldEvents subscribes to world events of every session on this instance.
// Delivery is at-most-once; consumers that need gap-free streams combine this
// with ReplayWorldEvents.
func (c *Client) SubscribeWorldEvents(ctx context.Context) (*Subscription[WorldEvent], error) {
	return subscribe[WorldEvent](ctx, c.rdb, WorldEventsChannel(c.instanceName), "world event")
}

// SubscribeAlerts subscribes to operator alerts raised on this instance.
func (c *Client) SubscribeAlerts(ctx context.Context) (*Subscription[Alert], error) {
	return subscribe[Alert](ctx, c.rdb, AlertEventsChannel(c.instanceName), "alert")
}

func subscribe[T any](ctx context.Context, rdb *redis.Client, channel, label string) (*Subscription[T], error) {
	pubsub := rdb.Subscribe(ctx, channel)

	// Wait for confirmation so no message published after return is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	eventsChan := make(chan *T, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var v T
				if err := json.Unmarshal([]byte(msg.Payload), &v); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal %s: %w", label, err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &v:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription[T]{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
