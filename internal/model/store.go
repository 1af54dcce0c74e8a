package model

import "context"

// EventStore is the durable store shared by the aggregator and both
// detectors. Each component writes to its own table; implementations must
// tolerate write contention from the others.
type EventStore interface {
	// InsertFlow records the current state of a flow aggregate. Replaying
	// the same key must not produce duplicate flow rows.
	InsertFlow(ctx context.Context, rec *FlowRecord) error

	// InsertAlert persists a signature or anomaly alert.
	InsertAlert(ctx context.Context, a *Alert) error

	// InsertMLAlert persists the audit record of a scored flow.
	InsertMLAlert(ctx context.Context, m *MLAlert) error
}
