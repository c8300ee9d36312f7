package eventbus

import (
	"context"
	"fmt"
	"log"

	"github.com/dyluth/lockstep/pkg/blackboard"
)

// Subscriber is a live feed of every session's world events.
type Subscriber interface {
	SubscribeWorldEvents(ctx context.Context) (*blackboard.Subscription[blackboard.WorldEvent], error)
}

// Follow streams the events of one session, starting after afterSeq.
// It subscribes before replaying so nothing published in between is lost,
// and filters the merged feed through a Deduper so each sequence number is
// delivered once, in increasing order. The channel closes when ctx is done
// or the subscription ends.
func Follow(ctx context.Context, store Store, sub Subscriber, sessionID string, afterSeq uint64) (<-chan *blackboard.WorldEvent, error) {
	live, err := sub.SubscribeWorldEvents(ctx)
	if err != nil {
		return nil, err
	}

	backlog, err := store.ReplayWorldEvents(ctx, sessionID, afterSeq)
	if err != nil {
		live.Close()
		return nil, fmt.Errorf("failed to replay session %s: %w", sessionID, err)
	}

	dedupe := NewDeduper(0, 1)
	if afterSeq > 0 {
		dedupe.Accept(&blackboard.WorldEvent{SessionID: sessionID, Seq: afterSeq})
	}

	out := make(chan *blackboard.WorldEvent, 16)
	go func() {
		defer close(out)
		defer live.Close()

		send := func(ev *blackboard.WorldEvent) bool {
			if ev.SessionID != sessionID || !dedupe.Accept(ev) {
				return true
			}
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for _, ev := range backlog {
			if !send(ev) {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-live.Events():
				if !ok {
					return
				}
				if !send(ev) {
					return
				}
			case err, ok := <-live.Errors():
				if !ok {
					return
				}
				log.Printf("[EventBus] Subscription error while following %s: %v", sessionID, err)
			}
		}
	}()

	return out, nil
}
