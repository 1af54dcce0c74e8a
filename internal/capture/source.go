package capture

import (
	"time"

	"FlowSentry/internal/logging"
	"FlowSentry/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

// Handler receives each successfully parsed packet.
type Handler func(info *model.PacketInfo)

// Source streams parsed packets from a pcap handle, either a live
// interface or a capture file.
type Source struct {
	handle *pcap.Handle
	log    *logging.Logger
}

// OpenLive attaches to a network interface. An empty bpf skips filtering.
func OpenLive(iface string, snaplen int32, promiscuous bool, bpf string, log *logging.Logger) (*Source, error) {
	handle, err := pcap.OpenLive(iface, snaplen, promiscuous, pcap.BlockForever)
	if err != nil {
		return nil, err
	}
	if bpf != "" {
		if err := handle.SetBPFFilter(bpf); err != nil {
			handle.Close()
			return nil, err
		}
	}
	return &Source{handle: handle, log: log}, nil
}

// OpenFile reads packets from a recorded capture.
func OpenFile(path string, log *logging.Logger) (*Source, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, err
	}
	return &Source{handle: handle, log: log}, nil
}

// Run parses every packet from the handle and hands it to the handler.
// It returns when the handle is exhausted (file sources) or closed.
// Parse failures are counted, not fatal; captures routinely contain
// traffic the decoder does not handle.
func (s *Source) Run(handler Handler) {
	src := gopacket.NewPacketSource(s.handle, s.handle.LinkType())
	var skipped int
	for packet := range src.Packets() {
		info, err := ParsePacket(packet.Data())
		if err != nil {
			skipped++
			continue
		}
		if meta := packet.Metadata(); meta != nil && !meta.Timestamp.IsZero() {
			info.Timestamp = meta.Timestamp
		} else {
			info.Timestamp = time.Now()
		}
		handler(info)
	}
	if skipped > 0 {
		s.log.Infow("capture finished with unparsed packets", "skipped", skipped)
	}
}

// Close stops the underlying handle; a running Run loop then drains
// whatever the handle already buffered and returns.
func (s *Source) Close() {
	s.handle.Close()
}
