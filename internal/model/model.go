package model

import (
	"net"
	"strconv"
	"time"
)

// PacketInfo holds the metadata extracted from a single captured packet.
type PacketInfo struct {
	Timestamp time.Time
	SrcIP     net.IP
	DstIP     net.IP
	SrcPort   uint16
	DstPort   uint16
	Protocol  uint8
	Length    int
}

// FlowKey identifies a directional flow aggregate. It is stable for the
// lifetime of the process for a given (src, dst, protocol) 3-tuple.
type FlowKey struct {
	SrcIP    string
	DstIP    string
	Protocol string
}

// String returns the canonical map/index key for the flow.
func (k FlowKey) String() string {
	return k.SrcIP + "-" + k.DstIP + "-" + k.Protocol
}

// Key derives the FlowKey of a packet.
func (p *PacketInfo) Key() FlowKey {
	return FlowKey{
		SrcIP:    p.SrcIP.String(),
		DstIP:    p.DstIP.String(),
		Protocol: ProtocolName(p.Protocol),
	}
}

// ProtocolName maps an IP protocol number to the name used in flow keys
// and rule conditions.
func ProtocolName(proto uint8) string {
	switch proto {
	case 6:
		return "TCP"
	case 17:
		return "UDP"
	case 1:
		return "ICMP"
	default:
		return strconv.Itoa(int(proto))
	}
}

// FlowRecord is the running aggregate for a single FlowKey. PacketCount and
// TotalSize only ever grow; FirstSeen is immutable once set.
type FlowRecord struct {
	Key         FlowKey
	PacketCount uint64
	TotalSize   uint64
	FirstSeen   time.Time
	LastSeen    time.Time
}

// FlowEvent is the merged view of a flow after an upsert, forwarded to the
// detection engines. It is a value copy; detectors never share state with
// the aggregator's own record.
type FlowEvent struct {
	Key         FlowKey
	PacketCount uint64
	TotalSize   uint64
	FirstSeen   time.Time
	LastSeen    time.Time
}

// Duration returns the age of the flow at time now, never less than floor.
func (e *FlowEvent) Duration(now time.Time, floor time.Duration) time.Duration {
	d := now.Sub(e.FirstSeen)
	if d < floor {
		return floor
	}
	return d
}

// Alert is the normalized detection event handed to sinks. Both signature
// and anomaly detections are shaped into this before leaving the core.
type Alert struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Description   string    `json:"description"`
	SourceIP      string    `json:"source_ip"`
	DestinationIP string    `json:"destination_ip"`
	Protocol      string    `json:"protocol"`
	Timestamp     time.Time `json:"timestamp"`
	Severity      string    `json:"severity"`
	Tags          []string  `json:"tags,omitempty"`
	Score         float64   `json:"score,omitempty"`
}

// MLAlert is the audit record written for every scored flow, anomalous or not.
type MLAlert struct {
	SrcIP     string
	DstIP     string
	Protocol  string
	Score     float64
	Anomaly   bool
	Timestamp time.Time
}

// GeoInfo is geolocation data attached verbatim to an enrichment result.
type GeoInfo struct {
	City    string  `json:"city,omitempty"`
	Country string  `json:"country,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Lon     float64 `json:"lon,omitempty"`
}

// EnrichmentResult is the merged output of a threat-intelligence lookup.
// It is ephemeral: produced per lookup and optionally cached by the caller.
type EnrichmentResult struct {
	Identifier string   `json:"identifier"`
	Score      float64  `json:"score"`
	Tags       []string `json:"tags"`
	Geo        *GeoInfo `json:"geo,omitempty"`
}
