package sink

import (
	"context"
	"errors"
	"testing"

	"FlowSentry/internal/logging"
	"FlowSentry/internal/model"
)

type recordingSink struct {
	delivered int
	err       error
}

func (s *recordingSink) Deliver(context.Context, *model.Alert) error {
	s.delivered++
	return s.err
}

func TestFanout_DeliversToAllDespiteFailure(t *testing.T) {
	broken := &recordingSink{err: errors.New("consumer down")}
	healthy := &recordingSink{}
	f := NewFanout(logging.NewNop(), broken, healthy)

	err := f.Deliver(context.Background(), &model.Alert{ID: "a1"})
	if err == nil {
		t.Error("expected the first failure to be reported")
	}
	if broken.delivered != 1 || healthy.delivered != 1 {
		t.Errorf("deliveries = %d/%d, want 1/1", broken.delivered, healthy.delivered)
	}
}
