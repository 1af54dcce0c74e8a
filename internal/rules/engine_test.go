package rules

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"FlowSentry/internal/dedup"
	"FlowSentry/internal/logging"
	"FlowSentry/internal/model"
	"FlowSentry/internal/window"
)

const tcpFloodRules = `
- id: R-001
  name: TCP Flood
  description: More than 2 TCP packets in 60 seconds
  severity: high
  conditions:
    protocol: TCP
    packet_threshold: 2
    time_window: 60
`

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func flowEvent(src, dst, proto string, count uint64) *model.FlowEvent {
	now := time.Now()
	return &model.FlowEvent{
		Key:         model.FlowKey{SrcIP: src, DstIP: dst, Protocol: proto},
		PacketCount: count,
		TotalSize:   count * 100,
		FirstSeen:   now,
		LastSeen:    now,
	}
}

func TestEngine_TriggersAtThreshold(t *testing.T) {
	path := writeRules(t, tcpFloodRules)
	ix := window.New(10 * time.Minute)
	e := NewEngine(path, time.Hour, ix, nil, nil, logging.NewNop())

	key := model.FlowKey{SrcIP: "1.2.3.4", DstIP: "5.6.7.8", Protocol: "TCP"}
	now := time.Now()

	ix.Observe(key.String(), now)
	if alerts := e.Evaluate(flowEvent("1.2.3.4", "5.6.7.8", "TCP", 1)); len(alerts) != 0 {
		t.Fatalf("one packet in window must not trigger, got %d alerts", len(alerts))
	}

	ix.Observe(key.String(), now)
	alerts := e.Evaluate(flowEvent("1.2.3.4", "5.6.7.8", "TCP", 2))
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert at the 2nd matching packet, got %d", len(alerts))
	}
	a := alerts[0]
	if a.Type != "TCP Flood" || a.Severity != "high" || a.SourceIP != "1.2.3.4" || a.Protocol != "TCP" {
		t.Errorf("alert fields wrong: %+v", a)
	}
}

func TestEngine_ProtocolFilter(t *testing.T) {
	path := writeRules(t, tcpFloodRules)
	ix := window.New(10 * time.Minute)
	e := NewEngine(path, time.Hour, ix, nil, nil, logging.NewNop())

	key := model.FlowKey{SrcIP: "1.2.3.4", DstIP: "5.6.7.8", Protocol: "UDP"}
	now := time.Now()
	for i := 0; i < 10; i++ {
		ix.Observe(key.String(), now)
	}

	if alerts := e.Evaluate(flowEvent("1.2.3.4", "5.6.7.8", "UDP", 10)); len(alerts) != 0 {
		t.Errorf("UDP flow must not match a TCP-only rule, got %d alerts", len(alerts))
	}
}

func TestEngine_WindowExcludesOldPackets(t *testing.T) {
	path := writeRules(t, tcpFloodRules)
	ix := window.New(10 * time.Minute)
	e := NewEngine(path, time.Hour, ix, nil, nil, logging.NewNop())

	key := model.FlowKey{SrcIP: "1.2.3.4", DstIP: "5.6.7.8", Protocol: "TCP"}
	now := time.Now()

	// Two packets, but the first is outside the 60s window: no alert even
	// though the lifetime count reaches the threshold.
	ix.Observe(key.String(), now.Add(-2*time.Minute))
	ix.Observe(key.String(), now)
	e.now = func() time.Time { return now }

	if alerts := e.Evaluate(flowEvent("1.2.3.4", "5.6.7.8", "TCP", 2)); len(alerts) != 0 {
		t.Errorf("expected no alert when only 1 packet is inside the window, got %d", len(alerts))
	}
}

func TestEngine_CooldownSuppressesRefire(t *testing.T) {
	path := writeRules(t, tcpFloodRules)
	ix := window.New(10 * time.Minute)
	e := NewEngine(path, time.Hour, ix, nil, dedup.NewMemory(), logging.NewNop())

	key := model.FlowKey{SrcIP: "1.2.3.4", DstIP: "5.6.7.8", Protocol: "TCP"}
	now := time.Now()
	for i := 0; i < 5; i++ {
		ix.Observe(key.String(), now)
	}

	first := e.Evaluate(flowEvent("1.2.3.4", "5.6.7.8", "TCP", 5))
	second := e.Evaluate(flowEvent("1.2.3.4", "5.6.7.8", "TCP", 6))
	if len(first) != 1 {
		t.Fatalf("expected the first evaluation to alert, got %d", len(first))
	}
	if len(second) != 0 {
		t.Errorf("expected the re-fire to be suppressed by cooldown, got %d alerts", len(second))
	}
}

func TestEngine_MalformedReloadKeepsPreviousSet(t *testing.T) {
	path := writeRules(t, tcpFloodRules)
	e := NewEngine(path, time.Hour, window.New(time.Minute), nil, nil, logging.NewNop())
	if len(e.Rules()) != 1 {
		t.Fatalf("expected 1 rule loaded, got %d", len(e.Rules()))
	}

	if err := os.WriteFile(path, []byte("{not yaml: ["), 0644); err != nil {
		t.Fatal(err)
	}
	e.Reload()

	if len(e.Rules()) != 1 {
		t.Errorf("malformed reload must keep the previous set, got %d rules", len(e.Rules()))
	}
}

func TestEngine_ReloadIsAtomic(t *testing.T) {
	small := tcpFloodRules
	var large string
	for i := 0; i < 5; i++ {
		large += tcpFloodRules
	}

	path := writeRules(t, small)
	e := NewEngine(path, time.Hour, window.New(time.Minute), nil, nil, logging.NewNop())

	done := make(chan struct{})
	var bad int
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			if n := len(e.Rules()); n != 1 && n != 5 {
				bad++
			}
		}
	}()

	for i := 0; i < 50; i++ {
		content := small
		if i%2 == 0 {
			content = large
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		e.Reload()
	}
	close(done)
	wg.Wait()

	if bad != 0 {
		t.Errorf("observed %d rule sets with a length between old and new", bad)
	}
}

type alertRecorder struct {
	mu     sync.Mutex
	alerts []model.Alert
	err    error
}

func (r *alertRecorder) InsertFlow(context.Context, *model.FlowRecord) error { return nil }
func (r *alertRecorder) InsertMLAlert(context.Context, *model.MLAlert) error { return nil }
func (r *alertRecorder) InsertAlert(_ context.Context, a *model.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.alerts = append(r.alerts, *a)
	return nil
}

func TestEngine_PersistsAlerts(t *testing.T) {
	path := writeRules(t, tcpFloodRules)
	ix := window.New(10 * time.Minute)
	store := &alertRecorder{}
	e := NewEngine(path, time.Hour, ix, store, nil, logging.NewNop())

	key := model.FlowKey{SrcIP: "1.2.3.4", DstIP: "5.6.7.8", Protocol: "TCP"}
	now := time.Now()
	ix.Observe(key.String(), now)
	ix.Observe(key.String(), now)

	e.Evaluate(flowEvent("1.2.3.4", "5.6.7.8", "TCP", 2))

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.alerts) != 1 {
		t.Fatalf("expected 1 persisted alert, got %d", len(store.alerts))
	}
	if store.alerts[0].ID == "" {
		t.Error("persisted alert must carry an ID")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeRules(t, `
- id: R-002
  name: Minimal Rule
  conditions:
    packet_threshold: 10
`)
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(loaded))
	}
	r := loaded[0]
	if r.Severity != "medium" {
		t.Errorf("severity default = %q, want medium", r.Severity)
	}
	if r.Conditions.TimeWindow != 60 {
		t.Errorf("time_window default = %d, want 60", r.Conditions.TimeWindow)
	}
	if r.Conditions.Protocol != "" {
		t.Errorf("protocol should default to match-all, got %q", r.Conditions.Protocol)
	}
}

func TestLoad_RejectsMissingThreshold(t *testing.T) {
	path := writeRules(t, `
- id: R-003
  name: Broken Rule
  conditions:
    protocol: TCP
`)
	if _, err := Load(path); err == nil {
		t.Error("expected an error for a rule without packet_threshold")
	}
}
