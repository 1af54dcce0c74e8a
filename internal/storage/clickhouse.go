// Package storage provides the ClickHouse-backed durable store shared by
// the flow aggregator and both detectors. Each component writes to its own
// table, so there are no cross-component write conflicts; contention is
// still tolerated by the callers' bounded retries.
package storage

import (
	"context"
	"fmt"
	"time"

	"FlowSentry/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Config holds the connection details.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

// The flows table collapses replayed upserts: ReplacingMergeTree keyed by
// the 3-tuple keeps one row per flow with the latest counters.
const createFlowsTable = `
CREATE TABLE IF NOT EXISTS flows (
    SrcIP       String,
    DstIP       String,
    Protocol    String,
    PacketCount UInt64,
    TotalSize   UInt64,
    FirstSeen   DateTime64(3),
    Timestamp   DateTime64(3)
) ENGINE = ReplacingMergeTree(Timestamp)
ORDER BY (SrcIP, DstIP, Protocol);
`

const createAlertsTable = `
CREATE TABLE IF NOT EXISTS alerts (
    ID            String,
    Type          String,
    Description   String,
    SourceIP      String,
    DestinationIP String,
    Protocol      String,
    Timestamp     DateTime64(3),
    Severity      String,
    Tags          Array(String),
    Score         Float64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY Timestamp;
`

const createMLAlertsTable = `
CREATE TABLE IF NOT EXISTS ml_alerts (
    SrcIP     String,
    DstIP     String,
    Protocol  String,
    Score     Float64,
    Anomaly   UInt8,
    Timestamp DateTime64(3)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY Timestamp;
`

// Store implements model.EventStore on ClickHouse.
type Store struct {
	conn driver.Conn
}

// New connects to ClickHouse and ensures the three tables exist. Failure
// here is a fatal startup error for the caller.
func New(cfg Config) (*Store, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	for _, stmt := range []string{createFlowsTable, createAlertsTable, createMLAlertsTable} {
		if err := conn.Exec(context.Background(), stmt); err != nil {
			return nil, fmt.Errorf("failed to create table: %w", err)
		}
	}
	return &Store{conn: conn}, nil
}

func connect(cfg Config) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.conn.Close()
}

// InsertFlow records the current flow state. The async insert keeps the
// aggregator's worker from stalling on merge pressure.
func (s *Store) InsertFlow(ctx context.Context, rec *model.FlowRecord) error {
	return s.conn.AsyncInsert(ctx, `
		INSERT INTO flows (SrcIP, DstIP, Protocol, PacketCount, TotalSize, FirstSeen, Timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, false,
		rec.Key.SrcIP, rec.Key.DstIP, rec.Key.Protocol,
		rec.PacketCount, rec.TotalSize, rec.FirstSeen, rec.LastSeen)
}

// InsertAlert persists a composed alert.
func (s *Store) InsertAlert(ctx context.Context, a *model.Alert) error {
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	return s.conn.Exec(ctx, `
		INSERT INTO alerts (ID, Type, Description, SourceIP, DestinationIP, Protocol, Timestamp, Severity, Tags, Score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Type, a.Description, a.SourceIP, a.DestinationIP,
		a.Protocol, a.Timestamp, a.Severity, tags, a.Score)
}

// InsertMLAlert persists the audit record of a scored flow.
func (s *Store) InsertMLAlert(ctx context.Context, m *model.MLAlert) error {
	anomaly := uint8(0)
	if m.Anomaly {
		anomaly = 1
	}
	return s.conn.Exec(ctx, `
		INSERT INTO ml_alerts (SrcIP, DstIP, Protocol, Score, Anomaly, Timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.SrcIP, m.DstIP, m.Protocol, m.Score, anomaly, m.Timestamp)
}

// RecentFlows returns the latest state of up to limit flows, most recently
// updated first. FINAL collapses ReplacingMergeTree duplicates that have
// not merged yet.
func (s *Store) RecentFlows(ctx context.Context, limit int) ([]model.FlowRecord, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT SrcIP, DstIP, Protocol, PacketCount, TotalSize, FirstSeen, Timestamp
		FROM flows FINAL
		ORDER BY Timestamp DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer rows.Close()

	var out []model.FlowRecord
	for rows.Next() {
		var rec model.FlowRecord
		var first, last time.Time
		if err := rows.Scan(&rec.Key.SrcIP, &rec.Key.DstIP, &rec.Key.Protocol,
			&rec.PacketCount, &rec.TotalSize, &first, &last); err != nil {
			return nil, fmt.Errorf("failed to scan flow row: %w", err)
		}
		rec.FirstSeen, rec.LastSeen = first, last
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecentAlerts returns up to limit alerts, newest first.
func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT ID, Type, Description, SourceIP, DestinationIP, Protocol, Timestamp, Severity, Tags, Score
		FROM alerts
		ORDER BY Timestamp DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		if err := rows.Scan(&a.ID, &a.Type, &a.Description, &a.SourceIP, &a.DestinationIP,
			&a.Protocol, &a.Timestamp, &a.Severity, &a.Tags, &a.Score); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecentMLAlerts returns up to limit scored-flow records, newest first.
func (s *Store) RecentMLAlerts(ctx context.Context, limit int) ([]model.MLAlert, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT SrcIP, DstIP, Protocol, Score, Anomaly, Timestamp
		FROM ml_alerts
		ORDER BY Timestamp DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ml_alerts: %w", err)
	}
	defer rows.Close()

	var out []model.MLAlert
	for rows.Next() {
		var m model.MLAlert
		var anomaly uint8
		if err := rows.Scan(&m.SrcIP, &m.DstIP, &m.Protocol, &m.Score, &anomaly, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan ml_alert row: %w", err)
		}
		m.Anomaly = anomaly == 1
		out = append(out, m)
	}
	return out, rows.Err()
}
