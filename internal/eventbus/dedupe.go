package eventbus

import (
	"sync"
	"time"

	"github.com/dyluth/lockstep/pkg/blackboard"
	cache "github.com/go-pkgz/expirable-cache/v3"
)

// Deduper tracks the highest sequence number seen per session and rejects
// anything at or below it. Sessions idle for longer than the TTL are forgotten.
type Deduper struct {
	mu   sync.Mutex
	last cache.Cache[string, uint64]
}

// NewDeduper creates a Deduper remembering up to maxSessions sessions for ttl each.
// Zero values leave the corresponding bound off.
func NewDeduper(ttl time.Duration, maxSessions int) *Deduper {
	c := cache.NewCache[string, uint64]().WithLRU()
	if ttl > 0 {
		c = c.WithTTL(ttl)
	}
	if maxSessions > 0 {
		c = c.WithMaxKeys(maxSessions)
	}
	return &Deduper{last: c}
}

// Accept reports whether ev is new, recording it if so.
// Duplicates and events older than one already accepted are rejected.
func (d *Deduper) Accept(ev *blackboard.WorldEvent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.last.Get(ev.SessionID); ok && ev.Seq <= last {
		return false
	}
	d.last.Set(ev.SessionID, ev.Seq, 0)
	return true
}

// Last returns the highest sequence number accepted for sessionID, or 0.
func (d *Deduper) Last(sessionID string) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	last, _ := d.last.Peek(sessionID)
	return last
}
