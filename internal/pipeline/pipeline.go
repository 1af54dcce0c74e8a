// Package pipeline assembles the capture-to-alert processing chain from
// configuration and owns the startup and shutdown ordering.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"FlowSentry/internal/aggregator"
	"FlowSentry/internal/ai"
	"FlowSentry/internal/alerter"
	"FlowSentry/internal/anomaly"
	"FlowSentry/internal/config"
	"FlowSentry/internal/dedup"
	"FlowSentry/internal/enrich"
	"FlowSentry/internal/logging"
	"FlowSentry/internal/model"
	"FlowSentry/internal/notification"
	"FlowSentry/internal/rules"
	"FlowSentry/internal/sink"
	"FlowSentry/internal/storage"
	"FlowSentry/internal/window"
)

// Pipeline wires the aggregator, both detectors, enrichment, and alert
// delivery. Storage and the anomaly model are hard startup dependencies;
// everything downstream of detection degrades gracefully instead.
type Pipeline struct {
	cfg      *config.Config
	log      *logging.Logger
	store    *storage.Store
	agg      *aggregator.Aggregator
	engine   *rules.Engine
	detector *anomaly.Detector
	enricher *enrich.Coordinator
	sinks    model.AlertSink
	alerter  *alerter.Alerter
	natsSink *sink.NATSSink

	// dispatchWG tracks in-flight alert dispatches so Stop can wait for
	// their delivery attempts before closing the sinks.
	dispatchWG sync.WaitGroup
}

// New builds the pipeline from config. It connects to ClickHouse and loads
// the anomaly model; failure of either is returned as a fatal error.
func New(cfg *config.Config, log *logging.Logger) (*Pipeline, error) {
	store, err := storage.New(storage.Config{
		Host:     cfg.ClickHouse.Host,
		Port:     cfg.ClickHouse.Port,
		Database: cfg.ClickHouse.Database,
		Username: cfg.ClickHouse.Username,
		Password: cfg.ClickHouse.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	forest, err := anomaly.LoadForest(cfg.Anomaly.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("anomaly model: %w", err)
	}

	p := &Pipeline{cfg: cfg, log: log, store: store}

	var cooldown dedup.Interface
	if cfg.Dedup.Backend == "redis" {
		cooldown, err = dedup.NewRedis(cfg.Dedup.RedisAddr, log)
		if err != nil {
			log.Warnw("redis dedup unavailable, falling back to memory", "err", err)
			cooldown = dedup.NewMemory()
		}
	} else {
		cooldown = dedup.NewMemory()
	}

	windows := window.New(config.Duration(cfg.Aggregator.MaxWindowAge))
	p.engine = rules.NewEngine(cfg.Rules.Path, config.Duration(cfg.Rules.ReloadInterval),
		windows, store, cooldown, log)

	p.enricher = enrich.New(
		ipProviders(cfg.Enrich), domainProviders(cfg.Enrich),
		config.Duration(cfg.Enrich.ProviderTimeout),
		config.Duration(cfg.Enrich.OverallTimeout),
		cfg.Enrich.CacheSize, cfg.Enrich.RatePerSecond, log)

	sinks := []model.AlertSink{sink.NewLogSink(log)}
	if cfg.NATS.URL != "" {
		natsSink, err := sink.NewNATSSink(cfg.NATS.URL, cfg.NATS.AlertSubject)
		if err != nil {
			log.Warnw("nats alert sink unavailable", "err", err)
		} else {
			p.natsSink = natsSink
			sinks = append(sinks, natsSink)
		}
	}
	p.sinks = sink.NewFanout(log, sinks...)

	if cfg.Alerter.Enabled {
		var analyzer model.Analyzer
		if cfg.Alerter.AIAnalysis.Enabled {
			analyzer, err = ai.NewAnalyzer(cfg.Alerter.AIAnalysis)
			if err != nil {
				log.Warnw("AI analysis unavailable", "err", err)
				analyzer = nil
			}
		}
		p.alerter = alerter.New(notification.NewEmailNotifier(cfg.SMTP), analyzer,
			config.Duration(cfg.Alerter.CheckInterval), log)
	}

	p.detector = anomaly.NewDetector(forest, store, cfg.Anomaly.Workers,
		cfg.Anomaly.QueueSize, p.dispatch, log)

	p.agg = aggregator.New(store, windows, cfg.Aggregator.QueueSize,
		cfg.Aggregator.MaxRetries, config.Duration(cfg.Aggregator.RetryBackoff), log,
		aggregator.WithForward(func(ev *model.FlowEvent) {
			for _, a := range p.engine.Evaluate(ev) {
				p.dispatchAsync(a)
			}
		}),
		aggregator.WithAsyncForward(p.detector.Submit),
	)

	return p, nil
}

// HandlePacket is the pipeline's ingress; it never blocks the caller.
func (p *Pipeline) HandlePacket(pkt *model.PacketInfo) {
	p.agg.Ingest(pkt)
}

// Store exposes the durable store for the query API.
func (p *Pipeline) Store() *storage.Store {
	return p.store
}

// Start brings the components up. Detection must be running before
// ingress starts feeding it.
func (p *Pipeline) Start() {
	p.engine.Start()
	p.detector.Start()
	if p.alerter != nil {
		p.alerter.Start()
	}
	p.agg.Start()
	p.log.Info("pipeline started")
}

// Stop drains the pipeline front to back: ingress first so queued packets
// are aggregated and evaluated, then the detectors, then delivery. Every
// alert raised during the drain gets its delivery attempt before the sinks
// close.
func (p *Pipeline) Stop() {
	p.agg.Stop()
	p.detector.Stop()
	p.engine.Stop()
	p.dispatchWG.Wait()
	if p.alerter != nil {
		p.alerter.Stop()
	}
	if p.natsSink != nil {
		p.natsSink.Close()
	}
	p.store.Close()
	p.log.Info("pipeline stopped")
}

// dispatchAsync runs dispatch off the caller's goroutine. The aggregator
// worker calls this per signature alert; enrichment latency must not stall
// flow processing.
func (p *Pipeline) dispatchAsync(alert model.Alert) {
	p.dispatchWG.Add(1)
	go func() {
		defer p.dispatchWG.Done()
		p.dispatch(alert)
	}()
}

// dispatch enriches an alert with threat intelligence and hands it to the
// delivery sinks. Enrichment failing entirely still delivers the alert
// with its detection-time fields.
func (p *Pipeline) dispatch(alert model.Alert) {
	ctx := context.Background()

	merged := make(map[string]struct{})
	for _, t := range alert.Tags {
		merged[t] = struct{}{}
	}
	score := alert.Score

	for _, ip := range []string{alert.SourceIP, alert.DestinationIP} {
		res := p.enricher.EnrichIP(ctx, ip)
		for _, t := range res.Tags {
			merged[t] = struct{}{}
		}
		score += res.Score
	}

	alert.Tags = alert.Tags[:0]
	for t := range merged {
		alert.Tags = append(alert.Tags, t)
	}
	sort.Strings(alert.Tags)
	if score > 100 {
		score = 100
	}
	alert.Score = score

	if err := p.sinks.Deliver(ctx, &alert); err != nil {
		p.log.Errorw("alert delivery incomplete", "alert", alert.ID, "err", err)
	}
	if p.alerter != nil {
		p.alerter.Record(&alert)
	}
}

func ipProviders(cfg config.EnrichConfig) []model.Provider {
	var out []model.Provider
	if cfg.AbuseIPDB.Enabled {
		out = append(out, &enrich.AbuseIPDB{APIKey: cfg.AbuseIPDB.APIKey, BaseURL: cfg.AbuseIPDB.BaseURL})
	}
	if cfg.OTX.Enabled {
		out = append(out, &enrich.OTX{APIKey: cfg.OTX.APIKey, BaseURL: cfg.OTX.BaseURL})
	}
	if cfg.MISP.Enabled {
		out = append(out, &enrich.MISP{APIKey: cfg.MISP.APIKey, BaseURL: cfg.MISP.BaseURL})
	}
	if cfg.GeoIP.Enabled {
		out = append(out, &enrich.GeoIP{BaseURL: cfg.GeoIP.BaseURL})
	}
	return out
}

func domainProviders(cfg config.EnrichConfig) []model.Provider {
	var out []model.Provider
	if cfg.Whois.Enabled {
		out = append(out, &enrich.Whois{BaseURL: cfg.Whois.BaseURL})
	}
	if cfg.VirusTotal.Enabled {
		out = append(out, &enrich.VirusTotal{APIKey: cfg.VirusTotal.APIKey, BaseURL: cfg.VirusTotal.BaseURL})
	}
	return out
}
