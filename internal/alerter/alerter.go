// Package alerter batches delivered alerts into periodic email digests,
// optionally annotated with an AI analysis.
package alerter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"FlowSentry/internal/logging"
	"FlowSentry/internal/model"

	"github.com/gomarkdown/markdown"
)

// Alerter buffers alerts between ticks and mails a consolidated summary
// whenever the buffer is non-empty at a tick.
type Alerter struct {
	notifier model.Notifier
	analyzer model.Analyzer
	interval time.Duration
	log      *logging.Logger

	mu      sync.Mutex
	pending []*model.Alert

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates an Alerter. analyzer may be nil to disable AI analysis.
func New(notifier model.Notifier, analyzer model.Analyzer, interval time.Duration, log *logging.Logger) *Alerter {
	return &Alerter{
		notifier: notifier,
		analyzer: analyzer,
		interval: interval,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

// Record buffers an alert for the next digest.
func (a *Alerter) Record(alert *model.Alert) {
	a.mu.Lock()
	a.pending = append(a.pending, alert)
	a.mu.Unlock()
}

// Start begins the periodic digest loop.
func (a *Alerter) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				a.flush()
			case <-a.stopChan:
				return
			}
		}
	}()
	a.log.Info("alerter started")
}

// Stop ends the loop and sends a final digest for anything still buffered.
func (a *Alerter) Stop() {
	close(a.stopChan)
	a.wg.Wait()
	a.flush()
	a.log.Info("alerter stopped")
}

func (a *Alerter) flush() {
	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	var sections []string
	for _, al := range batch {
		sections = append(sections, renderAlert(al))
	}

	body := "<h1>FlowSentry Alert Summary</h1>" +
		"<p>The following alerts were raised during the last interval:</p><hr>" +
		strings.Join(sections, "<hr>")

	if analysis := a.analyze(batch); analysis != "" {
		html := markdown.ToHTML([]byte(analysis), nil, nil)
		body += "<hr><h2>AI-Powered Analysis</h2>" + string(html)
	}

	subject := fmt.Sprintf("FlowSentry Alert Summary (%d Triggered)", len(batch))
	if err := a.notifier.Send(subject, body); err != nil {
		a.log.Errorw("failed to send alert digest", "err", err)
		return
	}
	a.log.Infow("alert digest sent", "alerts", len(batch))
}

func (a *Alerter) analyze(batch []*model.Alert) string {
	if a.analyzer == nil {
		return ""
	}

	var lines []string
	for _, al := range batch {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s -> %s (%s) score=%.0f tags=%s",
			al.Severity, al.Type, al.SourceIP, al.DestinationIP, al.Protocol,
			al.Score, strings.Join(al.Tags, ",")))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	analysis, err := a.analyzer.AnalyzeAlerts(ctx, strings.Join(lines, "\n"))
	if err != nil {
		a.log.Warnw("AI analysis failed", "err", err)
		return ""
	}
	return analysis
}

func renderAlert(al *model.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h3>%s (%s)</h3>", al.Type, al.Severity)
	fmt.Fprintf(&b, "<p>%s</p>", al.Description)
	fmt.Fprintf(&b, "<ul><li>Source: %s</li><li>Destination: %s</li><li>Protocol: %s</li>",
		al.SourceIP, al.DestinationIP, al.Protocol)
	fmt.Fprintf(&b, "<li>Time: %s</li>", al.Timestamp.Format(time.RFC3339))
	if al.Score > 0 {
		fmt.Fprintf(&b, "<li>Threat score: %.0f</li>", al.Score)
	}
	if len(al.Tags) > 0 {
		fmt.Fprintf(&b, "<li>Tags: %s</li>", strings.Join(al.Tags, ", "))
	}
	b.WriteString("</ul>")
	return b.String()
}
