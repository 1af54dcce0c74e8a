// Package sink delivers composed alerts to their consumers.
package sink

import (
	"context"
	"encoding/json"

	"FlowSentry/internal/logging"
	"FlowSentry/internal/model"

	"github.com/nats-io/nats.go"
)

// LogSink writes every alert to the structured log. It is always wired so
// alerts remain visible even with no downstream consumers configured.
type LogSink struct {
	log *logging.Logger
}

func NewLogSink(log *logging.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Deliver(_ context.Context, a *model.Alert) error {
	s.log.Warnw("ALERT",
		"id", a.ID,
		"type", a.Type,
		"severity", a.Severity,
		"src", a.SourceIP,
		"dst", a.DestinationIP,
		"protocol", a.Protocol,
		"score", a.Score,
		"tags", a.Tags,
		"description", a.Description,
	)
	return nil
}

// NATSSink publishes alerts as JSON on a NATS subject for external
// consumers (dashboards, SOAR hooks).
type NATSSink struct {
	nc      *nats.Conn
	subject string
}

func NewNATSSink(url, subject string) (*NATSSink, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &NATSSink{nc: nc, subject: subject}, nil
}

func (s *NATSSink) Deliver(_ context.Context, a *model.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.nc.Publish(s.subject, data)
}

func (s *NATSSink) Close() {
	if s.nc != nil {
		s.nc.Drain()
	}
}

// Fanout delivers to every sink, collecting the first error after trying
// them all. One broken consumer must not starve the rest.
type Fanout struct {
	sinks []model.AlertSink
	log   *logging.Logger
}

func NewFanout(log *logging.Logger, sinks ...model.AlertSink) *Fanout {
	return &Fanout{sinks: sinks, log: log}
}

func (f *Fanout) Deliver(ctx context.Context, a *model.Alert) error {
	var firstErr error
	for _, s := range f.sinks {
		if err := s.Deliver(ctx, a); err != nil {
			f.log.Errorw("alert delivery failed", "alert", a.ID, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
