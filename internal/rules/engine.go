package rules

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"FlowSentry/internal/dedup"
	"FlowSentry/internal/metrics"
	"FlowSentry/internal/model"
	"FlowSentry/internal/window"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ruleSet struct {
	rules []Rule
}

// Engine evaluates flows against the active rule set. The set is swapped
// wholesale under an atomic pointer: concurrent evaluations see either the
// fully-old or fully-new set, never a mix.
type Engine struct {
	active   atomic.Pointer[ruleSet]
	path     string
	interval time.Duration
	windows  *window.Index
	store    model.EventStore
	cooldown dedup.Interface
	log      *zap.SugaredLogger

	stopChan chan struct{}
	wg       sync.WaitGroup
	now      func() time.Time
}

// NewEngine loads the initial rule set from path. An unreadable or
// malformed file at startup is not fatal: the engine starts with an empty
// set and picks rules up on the next successful reload.
func NewEngine(path string, interval time.Duration, windows *window.Index, store model.EventStore, cooldown dedup.Interface, log *zap.SugaredLogger) *Engine {
	e := &Engine{
		path:     path,
		interval: interval,
		windows:  windows,
		store:    store,
		cooldown: cooldown,
		log:      log,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
	e.active.Store(&ruleSet{})

	if loaded, err := Load(path); err != nil {
		log.Warnw("initial rule load failed, starting with empty set", "path", path, "err", err)
	} else {
		e.active.Store(&ruleSet{rules: loaded})
		log.Infow("rules loaded", "path", path, "count", len(loaded))
	}
	return e
}

// Start launches the reload loop: a periodic re-read plus a file watch so
// edits apply without waiting for the next tick.
func (e *Engine) Start() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		e.log.Warnw("rule file watcher unavailable, relying on interval reload", "err", err)
	} else if err := watcher.Add(e.path); err != nil {
		e.log.Warnw("cannot watch rule file", "path", e.path, "err", err)
		watcher.Close()
		watcher = nil
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if watcher != nil {
			defer watcher.Close()
		}

		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.Reload()
			case ev, ok := <-watchEvents(watcher):
				if !ok {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					e.Reload()
				}
			case <-e.stopChan:
				return
			}
		}
	}()
}

func watchEvents(w *fsnotify.Watcher) chan fsnotify.Event {
	if w == nil {
		return nil // nil channel: select case never fires
	}
	return w.Events
}

// Stop terminates the reload loop.
func (e *Engine) Stop() {
	close(e.stopChan)
	e.wg.Wait()
}

// Reload re-reads the rule source and atomically replaces the active set.
// On parse failure the previous set stays active; the engine never runs
// with a partially-parsed set.
func (e *Engine) Reload() {
	loaded, err := Load(e.path)
	if err != nil {
		metrics.RuleReloads.WithLabelValues("error").Inc()
		e.log.Errorw("rule reload failed, keeping previous set", "path", e.path, "err", err)
		return
	}
	e.active.Store(&ruleSet{rules: loaded})
	metrics.RuleReloads.WithLabelValues("ok").Inc()
	e.log.Infow("rules reloaded", "count", len(loaded))
}

// Rules returns the active rule set (read-only).
func (e *Engine) Rules() []Rule {
	return e.active.Load().rules
}

// Evaluate runs every active rule against the flow and returns the alerts
// it produced. Alerts are persisted before being returned; a persist
// failure for one rule does not abort evaluation of the rest.
func (e *Engine) Evaluate(ev *model.FlowEvent) []model.Alert {
	rs := e.active.Load()
	if len(rs.rules) == 0 {
		return nil
	}

	now := e.now()
	var alerts []model.Alert

	for i := range rs.rules {
		rule := &rs.rules[i]

		if p := rule.Conditions.Protocol; p != "" && p != ev.Key.Protocol {
			continue
		}

		count := e.windows.Count(ev.Key.String(), rule.Window(), now)
		if uint64(count) < rule.Conditions.PacketThreshold {
			continue
		}

		if e.cooldown != nil {
			cdKey := rule.ID + "|" + ev.Key.SrcIP + "|" + ev.Key.DstIP
			if e.cooldown.Seen(cdKey, rule.Window()) {
				continue
			}
		}

		alert := model.Alert{
			ID:            uuid.NewString(),
			Type:          rule.Name,
			Description:   rule.Description,
			SourceIP:      ev.Key.SrcIP,
			DestinationIP: ev.Key.DstIP,
			Protocol:      ev.Key.Protocol,
			Timestamp:     now,
			Severity:      rule.Severity,
		}

		if e.store != nil {
			if err := e.store.InsertAlert(context.Background(), &alert); err != nil {
				e.log.Errorw("failed to persist signature alert", "rule", rule.Name, "err", err)
			}
		}
		metrics.AlertsTotal.WithLabelValues("signature").Inc()
		e.log.Infow("signature alert", "rule", rule.Name, "src", ev.Key.SrcIP,
			"dst", ev.Key.DstIP, "count", count)

		alerts = append(alerts, alert)
	}
	return alerts
}
