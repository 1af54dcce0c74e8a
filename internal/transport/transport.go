// Package transport moves packet metadata and alerts between the probe and
// the engine over NATS, encoded as JSON.
package transport

import (
	"encoding/json"
	"net"
	"time"

	"FlowSentry/internal/logging"
	"FlowSentry/internal/model"

	"github.com/nats-io/nats.go"
)

// wirePacket is the on-the-wire shape of a captured packet. IPs travel as
// strings so the payload stays readable in nats-sub during debugging.
type wirePacket struct {
	Timestamp time.Time `json:"ts"`
	SrcIP     string    `json:"src_ip"`
	DstIP     string    `json:"dst_ip"`
	SrcPort   uint16    `json:"src_port"`
	DstPort   uint16    `json:"dst_port"`
	Protocol  uint8     `json:"protocol"`
	Length    int       `json:"length"`
}

// Publisher sends captured packets to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
	log     *logging.Logger
}

// NewPublisher connects to the NATS server.
func NewPublisher(url, subject string, log *logging.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	log.Infow("connected to nats", "url", url, "subject", subject)
	return &Publisher{nc: nc, subject: subject, log: log}, nil
}

// Publish serializes a packet and sends it on the configured subject.
func (p *Publisher) Publish(info *model.PacketInfo) error {
	data, err := json.Marshal(wirePacket{
		Timestamp: info.Timestamp,
		SrcIP:     info.SrcIP.String(),
		DstIP:     info.DstIP.String(),
		SrcPort:   info.SrcPort,
		DstPort:   info.DstPort,
		Protocol:  info.Protocol,
		Length:    info.Length,
	})
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}

// Close drains in-flight messages and closes the connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.log.Info("nats connection drained and closed")
	}
}

// PacketHandler processes a packet received from the wire.
type PacketHandler func(info *model.PacketInfo)

// Subscriber consumes packets from a NATS subject.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	log     *logging.Logger
}

// NewSubscriber connects to the NATS server.
func NewSubscriber(url, subject string, log *logging.Logger) (*Subscriber, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	log.Infow("connected to nats", "url", url, "subject", subject)
	return &Subscriber{nc: nc, subject: subject, log: log}, nil
}

// Start subscribes and dispatches each decoded packet to the handler.
// Undecodable messages are logged and skipped.
func (s *Subscriber) Start(handler PacketHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		var wp wirePacket
		if err := json.Unmarshal(msg.Data, &wp); err != nil {
			s.log.Warnw("dropping undecodable packet message", "err", err)
			return
		}
		handler(&model.PacketInfo{
			Timestamp: wp.Timestamp,
			SrcIP:     net.ParseIP(wp.SrcIP),
			DstIP:     net.ParseIP(wp.DstIP),
			SrcPort:   wp.SrcPort,
			DstPort:   wp.DstPort,
			Protocol:  wp.Protocol,
			Length:    wp.Length,
		})
	})
	if err != nil {
		return err
	}
	s.sub = sub
	s.log.Infow("subscribed", "subject", s.subject)
	return nil
}

// Close unsubscribes and closes the connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
	}
}
