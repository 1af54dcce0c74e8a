// Package window maintains an append-only per-flow event-time index used to
// answer trailing-window packet counts for the signature rule engine. The
// lifetime aggregate cannot answer "how many packets in the last N seconds",
// so rule evaluation reads this index instead of the mutable flow table.
package window

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

const defaultShardCount = 64

type shard struct {
	mu     sync.RWMutex
	events map[string][]time.Time
}

// Index is a sharded map from flow key to an ordered slice of observation
// times. Entries older than maxAge are pruned as new observations arrive.
type Index struct {
	shards     []*shard
	shardCount uint32
	maxAge     time.Duration
}

// New creates an index that retains events for at most maxAge. maxAge must
// cover the largest rule time window in use.
func New(maxAge time.Duration) *Index {
	ix := &Index{
		shards:     make([]*shard, defaultShardCount),
		shardCount: defaultShardCount,
		maxAge:     maxAge,
	}
	for i := range ix.shards {
		ix.shards[i] = &shard{events: make(map[string][]time.Time)}
	}
	return ix
}

// Observe records one event for key at time t. Callers append in
// non-decreasing time order per key; the aggregator's single writer
// guarantees that.
func (ix *Index) Observe(key string, t time.Time) {
	s := ix.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.events[key]
	cutoff := t.Add(-ix.maxAge)
	if n := len(events); n > 0 && events[0].Before(cutoff) {
		keep := sort.Search(n, func(i int) bool { return !events[i].Before(cutoff) })
		events = append(events[:0], events[keep:]...)
	}
	s.events[key] = append(events, t)
}

// Count returns the number of events for key within the trailing window
// ending at now.
func (ix *Index) Count(key string, window time.Duration, now time.Time) int {
	s := ix.getShard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[key]
	cutoff := now.Add(-window)
	first := sort.Search(len(events), func(i int) bool { return events[i].After(cutoff) })
	return len(events) - first
}

// Keys returns the number of distinct keys currently indexed.
func (ix *Index) Keys() int {
	total := 0
	for _, s := range ix.shards {
		s.mu.RLock()
		total += len(s.events)
		s.mu.RUnlock()
	}
	return total
}

func (ix *Index) getShard(key string) *shard {
	hasher := fnv.New32a()
	hasher.Write([]byte(key))
	return ix.shards[hasher.Sum32()%ix.shardCount]
}
