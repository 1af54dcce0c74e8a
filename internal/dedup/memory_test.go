package dedup

import (
	"testing"
	"time"
)

func TestMemory_SuppressesWithinTTL(t *testing.T) {
	d := NewMemory()
	if d.Seen("r1|1.2.3.4|5.6.7.8", time.Minute) {
		t.Error("first sighting should not be suppressed")
	}
	if !d.Seen("r1|1.2.3.4|5.6.7.8", time.Minute) {
		t.Error("second sighting within TTL should be suppressed")
	}
	if d.Seen("r1|1.2.3.4|9.9.9.9", time.Minute) {
		t.Error("different key should not be suppressed")
	}
}

func TestMemory_ExpiresAfterTTL(t *testing.T) {
	d := NewMemory()
	current := time.Now()
	d.now = func() time.Time { return current }

	d.Seen("k", 10*time.Second)
	current = current.Add(11 * time.Second)
	if d.Seen("k", 10*time.Second) {
		t.Error("key should have expired after TTL")
	}
}
