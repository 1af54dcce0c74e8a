package alerter

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"FlowSentry/internal/logging"
	"FlowSentry/internal/model"
)

type captureNotifier struct {
	mu       sync.Mutex
	subjects []string
	bodies   []string
}

func (n *captureNotifier) Send(subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects = append(n.subjects, subject)
	n.bodies = append(n.bodies, body)
	return nil
}

func (n *captureNotifier) sent() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subjects)
}

type stubAnalyzer struct{ out string }

func (s *stubAnalyzer) AnalyzeAlerts(context.Context, string) (string, error) {
	return s.out, nil
}

func TestFlush_SendsDigestWithAllAlerts(t *testing.T) {
	n := &captureNotifier{}
	a := New(n, nil, time.Hour, logging.NewNop())

	a.Record(&model.Alert{Type: "SSH Brute Force", Severity: "high", SourceIP: "1.2.3.4"})
	a.Record(&model.Alert{Type: "Port Scan", Severity: "medium", SourceIP: "5.6.7.8"})
	a.flush()

	if n.sent() != 1 {
		t.Fatalf("digests sent = %d, want 1", n.sent())
	}
	if !strings.Contains(n.subjects[0], "2 Triggered") {
		t.Errorf("subject = %q, want alert count", n.subjects[0])
	}
	for _, want := range []string{"SSH Brute Force", "Port Scan", "1.2.3.4"} {
		if !strings.Contains(n.bodies[0], want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestFlush_EmptyBufferSendsNothing(t *testing.T) {
	n := &captureNotifier{}
	a := New(n, nil, time.Hour, logging.NewNop())

	a.flush()
	if n.sent() != 0 {
		t.Errorf("digests sent = %d, want 0", n.sent())
	}
}

func TestFlush_ClearsBuffer(t *testing.T) {
	n := &captureNotifier{}
	a := New(n, nil, time.Hour, logging.NewNop())

	a.Record(&model.Alert{Type: "Port Scan"})
	a.flush()
	a.flush()

	if n.sent() != 1 {
		t.Errorf("digests sent = %d, want 1 (buffer must clear after flush)", n.sent())
	}
}

func TestFlush_IncludesAIAnalysis(t *testing.T) {
	n := &captureNotifier{}
	a := New(n, &stubAnalyzer{out: "**likely brute force**"}, time.Hour, logging.NewNop())

	a.Record(&model.Alert{Type: "SSH Brute Force"})
	a.flush()

	if n.sent() != 1 {
		t.Fatalf("digests sent = %d, want 1", n.sent())
	}
	if !strings.Contains(n.bodies[0], "AI-Powered Analysis") {
		t.Error("body missing the analysis section")
	}
	if !strings.Contains(n.bodies[0], "<strong>likely brute force</strong>") {
		t.Error("markdown analysis not rendered to HTML")
	}
}

func TestStop_FlushesPendingAlerts(t *testing.T) {
	n := &captureNotifier{}
	a := New(n, nil, time.Hour, logging.NewNop())
	a.Start()

	a.Record(&model.Alert{Type: "Port Scan"})
	a.Stop()

	if n.sent() != 1 {
		t.Errorf("digests sent = %d, want final digest on stop", n.sent())
	}
}
