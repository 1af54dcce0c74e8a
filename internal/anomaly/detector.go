package anomaly

import (
	"context"
	"sync"
	"time"

	"FlowSentry/internal/metrics"
	"FlowSentry/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Detector scores flow-completion events off the capture path. Every scored
// flow is persisted as an ml_alert record regardless of outcome; only
// anomalous flows are forwarded as alerts.
type Detector struct {
	scorer    model.Scorer
	store     model.EventStore
	onAnomaly func(a model.Alert)
	log       *zap.SugaredLogger

	in      chan *model.FlowEvent
	workers int
	wg      sync.WaitGroup

	// writeMu serializes ml_alert writes independently of the flow
	// aggregator's own writer.
	writeMu sync.Mutex
	now     func() time.Time
}

// NewDetector creates a detector with the given scorer. onAnomaly may be
// nil; store may be nil in tests.
func NewDetector(scorer model.Scorer, store model.EventStore, workers, queueSize int, onAnomaly func(a model.Alert), log *zap.SugaredLogger) *Detector {
	return &Detector{
		scorer:    scorer,
		store:     store,
		onAnomaly: onAnomaly,
		log:       log,
		in:        make(chan *model.FlowEvent, queueSize),
		workers:   workers,
		now:       time.Now,
	}
}

// Start launches the scoring workers.
func (d *Detector) Start() {
	d.wg.Add(d.workers)
	for i := 0; i < d.workers; i++ {
		go d.worker()
	}
}

// Stop drains queued events and waits for the workers.
func (d *Detector) Stop() {
	close(d.in)
	d.wg.Wait()
}

// Submit hands a flow event to the scoring pool without blocking the
// caller. Scoring is best-effort: when the queue is full the event is
// skipped.
func (d *Detector) Submit(ev *model.FlowEvent) {
	select {
	case d.in <- ev:
	default:
		metrics.ScoredFlows.WithLabelValues("dropped").Inc()
	}
}

func (d *Detector) worker() {
	defer d.wg.Done()
	for ev := range d.in {
		d.score(ev)
	}
}

func (d *Detector) score(ev *model.FlowEvent) {
	now := d.now()

	features, err := ExtractFeatures(ev, now)
	if err != nil {
		// A malformed vector is skipped, never scored as anomalous.
		metrics.ScoredFlows.WithLabelValues("skipped").Inc()
		d.log.Warnw("skipping flow with malformed features", "key", ev.Key.String(), "err", err)
		return
	}

	score, isAnomaly := d.scorer.Score(features)

	if d.store != nil {
		rec := &model.MLAlert{
			SrcIP:     ev.Key.SrcIP,
			DstIP:     ev.Key.DstIP,
			Protocol:  ev.Key.Protocol,
			Score:     score,
			Anomaly:   isAnomaly,
			Timestamp: now,
		}
		d.writeMu.Lock()
		err := d.store.InsertMLAlert(context.Background(), rec)
		d.writeMu.Unlock()
		if err != nil {
			d.log.Errorw("failed to persist ml alert", "key", ev.Key.String(), "err", err)
		}
	}

	if !isAnomaly {
		metrics.ScoredFlows.WithLabelValues("normal").Inc()
		return
	}
	metrics.ScoredFlows.WithLabelValues("anomaly").Inc()
	metrics.AlertsTotal.WithLabelValues("anomaly").Inc()
	d.log.Infow("anomalous flow", "src", ev.Key.SrcIP, "dst", ev.Key.DstIP, "score", score)

	if d.onAnomaly != nil {
		d.onAnomaly(model.Alert{
			ID:            uuid.NewString(),
			Type:          "ANOMALOUS_TRAFFIC",
			Description:   "Flow flagged by the anomaly model",
			SourceIP:      ev.Key.SrcIP,
			DestinationIP: ev.Key.DstIP,
			Protocol:      ev.Key.Protocol,
			Timestamp:     now,
			Severity:      "medium",
			Score:         score,
		})
	}
}
