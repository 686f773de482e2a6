package discord

import (
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// InboundDedupTTL covers the window in which a resume can replay events.
const InboundDedupTTL = 10 * time.Minute

// Deduper remembers recently seen event keys.
type Deduper struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	ttl   time.Duration
	clock clockwork.Clock
}

func NewDeduper(ttl time.Duration, clock clockwork.Clock) *Deduper {
	if ttl <= 0 {
		ttl = InboundDedupTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Deduper{seen: make(map[string]time.Time), ttl: ttl, clock: clock}
}

// IsDuplicate records key and reports whether it was already seen within
// the TTL. Empty keys are never duplicates.
func (d *Deduper) IsDuplicate(key string) bool {
	if strings.TrimSpace(key) == "" {
		return false
	}
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	if seenAt, ok := d.seen[key]; ok && now.Sub(seenAt) < d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

// Sweep drops expired keys and returns how many were removed.
func (d *Deduper) Sweep() int {
	expireBefore := d.clock.Now().Add(-d.ttl)

	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for key, seenAt := range d.seen {
		if seenAt.Before(expireBefore) {
			delete(d.seen, key)
			removed++
		}
	}
	return removed
}

func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
