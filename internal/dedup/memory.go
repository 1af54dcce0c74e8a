package dedup

import (
	"sync"
	"time"
)

// Memory is an in-process cooldown map with lazy expiry.
type Memory struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{expires: make(map[string]time.Time), now: time.Now}
}

func (d *Memory) Seen(key string, ttl time.Duration) bool {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()

	if exp, ok := d.expires[key]; ok && exp.After(now) {
		return true
	}
	d.expires[key] = now.Add(ttl)

	// Occasional sweep so long-dead keys do not accumulate.
	if len(d.expires) > 1<<14 {
		for k, exp := range d.expires {
			if !exp.After(now) {
				delete(d.expires, k)
			}
		}
	}
	return false
}
