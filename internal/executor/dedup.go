package executor

import (
	"sync"
	"time"
)

// Dedup enforces a cooldown per key: once a key is marked, Seen reports true
// until ttl has elapsed. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // key -> last marked time
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup with the given cooldown.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Seen reports whether key was marked within the cooldown.
func (d *Dedup) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	last, ok := d.seen[key]
	return ok && d.now().Sub(last) < d.ttl
}

// Mark starts the cooldown for key.
func (d *Dedup) Mark(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[key] = d.now()
}

// Cleanup removes entries whose cooldown has passed. Call it periodically to
// bound memory.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}
