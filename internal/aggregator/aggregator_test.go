package aggregator

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"FlowSentry/internal/logging"
	"FlowSentry/internal/model"
	"FlowSentry/internal/window"
)

type fakeStore struct {
	mu       sync.Mutex
	flows    []model.FlowRecord
	failures int // fail this many InsertFlow calls before succeeding
	calls    int
}

func (s *fakeStore) InsertFlow(_ context.Context, rec *model.FlowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("database is locked")
	}
	s.flows = append(s.flows, *rec)
	return nil
}

func (s *fakeStore) InsertAlert(context.Context, *model.Alert) error     { return nil }
func (s *fakeStore) InsertMLAlert(context.Context, *model.MLAlert) error { return nil }

func packet(src, dst string, proto uint8, size int, ts time.Time) *model.PacketInfo {
	return &model.PacketInfo{
		Timestamp: ts,
		SrcIP:     net.ParseIP(src),
		DstIP:     net.ParseIP(dst),
		Protocol:  proto,
		Length:    size,
	}
}

func TestAggregator_UpsertTotals(t *testing.T) {
	store := &fakeStore{}
	agg := New(store, window.New(time.Minute), 100, 3, time.Millisecond, logging.NewNop())
	agg.Start()

	now := time.Now()
	for _, size := range []int{100, 200, 300} {
		agg.Ingest(packet("1.2.3.4", "5.6.7.8", 6, size, now))
	}
	agg.Stop()

	key := model.FlowKey{SrcIP: "1.2.3.4", DstIP: "5.6.7.8", Protocol: "TCP"}
	rec, ok := agg.Flow(key)
	if !ok {
		t.Fatal("expected a flow record for the key")
	}
	if rec.PacketCount != 3 {
		t.Errorf("packet_count = %d, want 3", rec.PacketCount)
	}
	if rec.TotalSize != 600 {
		t.Errorf("total_size = %d, want 600", rec.TotalSize)
	}
	if !rec.FirstSeen.Equal(now) || !rec.LastSeen.Equal(now) {
		t.Errorf("timestamps not taken from packets: first=%v last=%v", rec.FirstSeen, rec.LastSeen)
	}
}

func TestAggregator_InterleavedKeys(t *testing.T) {
	agg := New(nil, window.New(time.Minute), 1000, 0, time.Millisecond, logging.NewNop())
	agg.Start()

	now := time.Now()
	for i := 0; i < 50; i++ {
		agg.Ingest(packet("10.0.0.1", "10.0.0.2", 6, 10, now))
		agg.Ingest(packet("10.0.0.3", "10.0.0.4", 17, 20, now))
	}
	agg.Stop()

	a, _ := agg.Flow(model.FlowKey{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", Protocol: "TCP"})
	b, _ := agg.Flow(model.FlowKey{SrcIP: "10.0.0.3", DstIP: "10.0.0.4", Protocol: "UDP"})

	if a.PacketCount != 50 || a.TotalSize != 500 {
		t.Errorf("flow a: count=%d size=%d, want 50/500", a.PacketCount, a.TotalSize)
	}
	if b.PacketCount != 50 || b.TotalSize != 1000 {
		t.Errorf("flow b: count=%d size=%d, want 50/1000", b.PacketCount, b.TotalSize)
	}
}

func TestAggregator_RetriesTransientFailures(t *testing.T) {
	store := &fakeStore{failures: 2}
	agg := New(store, window.New(time.Minute), 10, 5, time.Millisecond, logging.NewNop())
	agg.Start()

	agg.Ingest(packet("1.1.1.1", "2.2.2.2", 6, 64, time.Now()))
	agg.Stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.flows) != 1 {
		t.Fatalf("expected the commit to succeed after retries, got %d rows", len(store.flows))
	}
	if store.calls != 3 {
		t.Errorf("expected 3 attempts (2 failures + 1 success), got %d", store.calls)
	}
}

func TestAggregator_RetryExhaustionDoesNotKillWorker(t *testing.T) {
	store := &fakeStore{failures: 100}
	agg := New(store, window.New(time.Minute), 10, 2, time.Millisecond, logging.NewNop())
	agg.Start()

	agg.Ingest(packet("1.1.1.1", "2.2.2.2", 6, 64, time.Now()))
	agg.Ingest(packet("3.3.3.3", "4.4.4.4", 6, 64, time.Now()))
	agg.Stop()

	// Both packets were processed despite every commit failing: the in-memory
	// aggregate must still reflect them.
	if _, ok := agg.Flow(model.FlowKey{SrcIP: "3.3.3.3", DstIP: "4.4.4.4", Protocol: "TCP"}); !ok {
		t.Error("worker stopped processing after a storage failure")
	}
}

func TestAggregator_DrainsQueueOnStop(t *testing.T) {
	store := &fakeStore{}
	agg := New(store, window.New(time.Minute), 1000, 0, time.Millisecond, logging.NewNop())
	agg.Start()

	now := time.Now()
	for i := 0; i < 500; i++ {
		agg.Ingest(packet("9.9.9.9", "8.8.8.8", 17, 1, now))
	}
	agg.Stop()

	rec, ok := agg.Flow(model.FlowKey{SrcIP: "9.9.9.9", DstIP: "8.8.8.8", Protocol: "UDP"})
	if !ok || rec.PacketCount != 500 {
		t.Errorf("expected all 500 queued packets processed before Stop returned, got %d", rec.PacketCount)
	}
}

func TestAggregator_ForwardHooks(t *testing.T) {
	var mu sync.Mutex
	var syncEvents, asyncEvents []*model.FlowEvent

	agg := New(nil, window.New(time.Minute), 10, 0, time.Millisecond, logging.NewNop(),
		WithForward(func(ev *model.FlowEvent) {
			mu.Lock()
			syncEvents = append(syncEvents, ev)
			mu.Unlock()
		}),
		WithAsyncForward(func(ev *model.FlowEvent) {
			mu.Lock()
			asyncEvents = append(asyncEvents, ev)
			mu.Unlock()
		}),
	)
	agg.Start()
	agg.Ingest(packet("1.2.3.4", "5.6.7.8", 6, 100, time.Now()))
	agg.Ingest(packet("1.2.3.4", "5.6.7.8", 6, 200, time.Now()))
	agg.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(syncEvents) != 2 || len(asyncEvents) != 2 {
		t.Fatalf("expected 2 events on each hook, got %d/%d", len(syncEvents), len(asyncEvents))
	}
	if syncEvents[1].PacketCount != 2 || syncEvents[1].TotalSize != 300 {
		t.Errorf("second event should carry merged state, got count=%d size=%d",
			syncEvents[1].PacketCount, syncEvents[1].TotalSize)
	}
}
