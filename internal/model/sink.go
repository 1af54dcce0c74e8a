package model

import "context"

// AlertSink receives composed alerts for delivery or display. The core
// guarantees at-least-once delivery attempts, not exactly-once.
type AlertSink interface {
	Deliver(ctx context.Context, a *Alert) error
}
