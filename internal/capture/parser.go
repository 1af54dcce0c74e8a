// Package capture decodes raw packets into the internal packet model and
// provides live-interface and pcap-file sources that feed them downstream.
package capture

import (
	"fmt"
	"time"

	"FlowSentry/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ParsePacket decodes a raw Ethernet frame and extracts the fields the
// pipeline cares about. Non-IPv4 traffic is rejected; the caller decides
// whether that is worth logging.
func ParsePacket(data []byte) (*model.PacketInfo, error) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)

	info := &model.PacketInfo{
		Timestamp: time.Now(),
		Length:    len(data),
	}
	if meta := packet.Metadata(); meta != nil && !meta.Timestamp.IsZero() {
		info.Timestamp = meta.Timestamp
	}

	l := packet.Layer(layers.LayerTypeIPv4)
	if l == nil {
		return nil, fmt.Errorf("not an IPv4 packet")
	}
	ip := l.(*layers.IPv4)
	info.SrcIP = ip.SrcIP
	info.DstIP = ip.DstIP
	info.Protocol = uint8(ip.Protocol)

	// Ports exist only for TCP/UDP; other IP protocols (ICMP among them)
	// still form valid flows keyed by addresses and protocol.
	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		info.SrcPort = uint16(tcp.SrcPort)
		info.DstPort = uint16(tcp.DstPort)
	} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		info.SrcPort = uint16(udp.SrcPort)
		info.DstPort = uint16(udp.DstPort)
	}

	return info, nil
}
