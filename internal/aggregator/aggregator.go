// Package aggregator maintains per-flow running state. Packets enter
// through a bounded ingress queue; a single worker performs all upserts and
// durable appends, giving every FlowKey a total write order without per-key
// locking. The capture path never blocks on storage.
package aggregator

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"FlowSentry/internal/metrics"
	"FlowSentry/internal/model"
	"FlowSentry/internal/window"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const shardCount = 256

type flowShard struct {
	mu    sync.RWMutex
	flows map[string]*model.FlowRecord
}

// Aggregator owns the FlowRecord table and the windowed event index.
type Aggregator struct {
	in           chan *model.PacketInfo
	store        model.EventStore
	windows      *window.Index
	shards       []*flowShard
	maxRetries   uint64
	retryBackoff time.Duration
	log          *zap.SugaredLogger

	// onFlow runs synchronously on the worker after each upsert; asyncFlow
	// must hand the event off without blocking (it is called on the same
	// worker goroutine).
	onFlow    func(ev *model.FlowEvent)
	asyncFlow func(ev *model.FlowEvent)

	wg sync.WaitGroup
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithForward sets the synchronous flow-completion hook (rule evaluation).
func WithForward(fn func(ev *model.FlowEvent)) Option {
	return func(a *Aggregator) { a.onFlow = fn }
}

// WithAsyncForward sets the fire-and-forget hook (anomaly scoring).
func WithAsyncForward(fn func(ev *model.FlowEvent)) Option {
	return func(a *Aggregator) { a.asyncFlow = fn }
}

// New creates an Aggregator. store may be nil, in which case updates are
// kept in memory only (used by tests and dry runs).
func New(store model.EventStore, windows *window.Index, queueSize int, maxRetries uint64, retryBackoff time.Duration, log *zap.SugaredLogger, opts ...Option) *Aggregator {
	a := &Aggregator{
		in:           make(chan *model.PacketInfo, queueSize),
		store:        store,
		windows:      windows,
		shards:       make([]*flowShard, shardCount),
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
		log:          log,
	}
	for i := range a.shards {
		a.shards[i] = &flowShard{flows: make(map[string]*model.FlowRecord)}
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start launches the single persistence worker.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go a.worker()
}

// Stop closes the ingress queue and drains every already-queued packet
// before returning. No in-flight flow update is silently dropped.
func (a *Aggregator) Stop() {
	close(a.in)
	a.wg.Wait()
}

// Ingest places a packet on the ingress queue. It never blocks the caller:
// when the queue is full the packet is counted and dropped.
func (a *Aggregator) Ingest(pkt *model.PacketInfo) {
	select {
	case a.in <- pkt:
		metrics.PacketsTotal.Inc()
	default:
		metrics.IngressDrops.Inc()
		a.log.Warnw("ingress queue full, dropping packet", "src", pkt.SrcIP.String())
	}
}

// Flow returns a copy of the current record for key, if one exists.
func (a *Aggregator) Flow(key model.FlowKey) (model.FlowRecord, bool) {
	s := a.getShard(key.String())
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.flows[key.String()]
	if !ok {
		return model.FlowRecord{}, false
	}
	return *rec, true
}

func (a *Aggregator) worker() {
	defer a.wg.Done()
	for pkt := range a.in {
		ev := a.upsert(pkt)
		a.windows.Observe(ev.Key.String(), pkt.Timestamp)

		if a.store != nil {
			a.persist(ev)
		}
		if a.onFlow != nil {
			a.onFlow(ev)
		}
		if a.asyncFlow != nil {
			a.asyncFlow(ev)
		}
	}
}

// upsert creates or updates the FlowRecord for the packet's key and returns
// the merged state as a value copy.
func (a *Aggregator) upsert(pkt *model.PacketInfo) *model.FlowEvent {
	key := pkt.Key()
	mapKey := key.String()

	s := a.getShard(mapKey)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.flows[mapKey]
	if ok {
		rec.PacketCount++
		rec.TotalSize += uint64(pkt.Length)
		rec.LastSeen = pkt.Timestamp
	} else {
		rec = &model.FlowRecord{
			Key:         key,
			PacketCount: 1,
			TotalSize:   uint64(pkt.Length),
			FirstSeen:   pkt.Timestamp,
			LastSeen:    pkt.Timestamp,
		}
		s.flows[mapKey] = rec
		metrics.ActiveFlows.Inc()
	}

	return &model.FlowEvent{
		Key:         rec.Key,
		PacketCount: rec.PacketCount,
		TotalSize:   rec.TotalSize,
		FirstSeen:   rec.FirstSeen,
		LastSeen:    rec.LastSeen,
	}
}

// persist commits the updated record, retrying transient storage errors with
// a fixed backoff. Retry exhaustion drops this one record and keeps the
// worker alive.
func (a *Aggregator) persist(ev *model.FlowEvent) {
	rec := &model.FlowRecord{
		Key:         ev.Key,
		PacketCount: ev.PacketCount,
		TotalSize:   ev.TotalSize,
		FirstSeen:   ev.FirstSeen,
		LastSeen:    ev.LastSeen,
	}

	op := func() error {
		err := a.store.InsertFlow(context.Background(), rec)
		if err != nil {
			metrics.StorageRetries.Inc()
		}
		return err
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(a.retryBackoff), a.maxRetries)
	if err := backoff.Retry(op, policy); err != nil {
		metrics.StorageDrops.Inc()
		a.log.Errorw("flow commit failed after retries, dropping record",
			"key", ev.Key.String(), "err", err)
	}
}

func (a *Aggregator) getShard(key string) *flowShard {
	hasher := fnv.New32a()
	hasher.Write([]byte(key))
	return a.shards[hasher.Sum32()%shardCount]
}
