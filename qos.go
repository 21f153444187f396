package mqtt

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-io/mqtt/packet"
)

// ackTimeout and maxRetries bound every QoS>0 acknowledgement wait: a
// PUBACK/PUBREC that doesn't arrive within ackTimeout triggers a dup=true
// retransmission of the PUBLISH, and a PUBCOMP that doesn't arrive triggers
// a resend of the PUBREL, up to maxRetries times, before the handshake
// fails.
const (
	ackTimeout = 3 * time.Second
	maxRetries = 3
)

// ErrPubAckTimeout is returned when no PUBACK (QoS 1) or PUBREC (QoS 2)
// arrives after the final PUBLISH retry.
var ErrPubAckTimeout = errors.New("mqtt: PUBACK error")

// ErrPubCompTimeout is returned when no PUBCOMP arrives after the final QoS 2 retry.
var ErrPubCompTimeout = errors.New("mqtt: PUBCOMP error")

// ErrUnexpectedPacket is returned when an awaited ack's packet identifier
// doesn't match the one this handshake is waiting on. Out-of-order acks are
// not buffered for later pairing — only one publish per identifier may be
// in flight at a time.
var ErrUnexpectedPacket = errors.New("mqtt: unexpected packet")

// PublishAtMostOnce sends a PUBLISH with QoS 0 and no packet identifier.
// There is no acknowledgement: success is returning from the write.
func (c *Client) PublishAtMostOnce(message *packet.Message, opts ...PublishOption) error {
	options := c.newPublishOptions(opts...)
	pub := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBLISH, QoS: 0},
		Message:     message,
	}
	options.apply(pub)
	if err := c.send(pub); err != nil {
		log.Printf("client publish qos0 failed: client_id=%s, topic=%s, error=%v", c.options.ClientID, message.TopicName, err)
		return err
	}
	return nil
}

// PublishAtLeastOnce drives the QoS 1 handshake: allocate a packet
// identifier, send PUBLISH, and await a matching PUBACK within ackTimeout,
// retransmitting with dup=true up to maxRetries times. The identifier is
// released on every exit path, including the terminal-timeout failure.
func (c *Client) PublishAtLeastOnce(message *packet.Message, opts ...PublishOption) (packet.ReasonCode, error) {
	options := c.newPublishOptions(opts...)
	id, ok := c.conn.ident.Next()
	if !ok {
		return packet.ReasonCode{}, fmt.Errorf("mqtt: no packet identifier available")
	}
	defer c.conn.ident.Release(id)

	pub := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBLISH, QoS: 1},
		PacketID:    id,
		Message:     message,
	}
	options.apply(pub)

	retries := maxRetries
	for {
		if err := c.send(pub); err != nil {
			return packet.ReasonCode{}, err
		}
		select {
		case pkt, open := <-c.recv[PUBACK]:
			if !open {
				return packet.ReasonCode{}, ErrUnexpectedPacket
			}
			ack, ok := pkt.(*packet.PUBACK)
			if !ok || ack.PacketID != id {
				return packet.ReasonCode{}, ErrUnexpectedPacket
			}
			return ack.ReasonCode, nil
		case <-time.After(ackTimeout):
			if retries == 0 {
				log.Printf("client puback timeout, giving up: client_id=%s, packet_id=%d", c.options.ClientID, id)
				return packet.ReasonCode{}, ErrPubAckTimeout
			}
			retries--
			pub.Dup = 1
			log.Printf("client puback timeout, retransmitting: client_id=%s, packet_id=%d, retries_left=%d", c.options.ClientID, id, retries)
		}
	}
}

// PublishExactlyOnce drives the QoS 2 handshake in two phases: PUBLISH/
// PUBREC, then PUBREL/PUBCOMP, each independently timed out and retried.
// If PUBREC carries a non-Success reason the server has rejected the
// publish; the identifier is released and no PUBREL is sent.
func (c *Client) PublishExactlyOnce(message *packet.Message, opts ...PublishOption) (packet.ReasonCode, error) {
	options := c.newPublishOptions(opts...)
	id, ok := c.conn.ident.Next()
	if !ok {
		return packet.ReasonCode{}, fmt.Errorf("mqtt: no packet identifier available")
	}
	defer c.conn.ident.Release(id)

	pub := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBLISH, QoS: 2},
		PacketID:    id,
		Message:     message,
	}
	options.apply(pub)

	var rec *packet.PUBREC
	retries := maxRetries
	for rec == nil {
		if err := c.send(pub); err != nil {
			return packet.ReasonCode{}, err
		}
		select {
		case pkt, open := <-c.recv[PUBREC]:
			if !open {
				return packet.ReasonCode{}, ErrUnexpectedPacket
			}
			r, ok := pkt.(*packet.PUBREC)
			if !ok || r.PacketID != id {
				return packet.ReasonCode{}, ErrUnexpectedPacket
			}
			rec = r
		case <-time.After(ackTimeout):
			if retries == 0 {
				log.Printf("client pubrec timeout, giving up: client_id=%s, packet_id=%d", c.options.ClientID, id)
				return packet.ReasonCode{}, ErrPubAckTimeout
			}
			retries--
			pub.Dup = 1
			log.Printf("client pubrec timeout, retransmitting: client_id=%s, packet_id=%d, retries_left=%d", c.options.ClientID, id, retries)
		}
	}

	if rec.ReasonCode.Code != packet.CodeSuccess.Code {
		// Server rejected the publish: no PUBREL follows.
		return rec.ReasonCode, nil
	}

	rel := &packet.PUBREL{
		FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBREL, QoS: 1},
		PacketID:    id,
		ReasonCode:  packet.CodeSuccess,
	}

	retries = maxRetries
	for {
		if err := c.send(rel); err != nil {
			return packet.ReasonCode{}, err
		}
		select {
		case pkt, open := <-c.recv[PUBCOMP]:
			if !open {
				return packet.ReasonCode{}, ErrUnexpectedPacket
			}
			comp, ok := pkt.(*packet.PUBCOMP)
			if !ok || comp.PacketID != id {
				return packet.ReasonCode{}, ErrUnexpectedPacket
			}
			return comp.ReasonCode, nil
		case <-time.After(ackTimeout):
			if retries == 0 {
				log.Printf("client pubcomp timeout, giving up: client_id=%s, packet_id=%d", c.options.ClientID, id)
				return packet.ReasonCode{}, ErrPubCompTimeout
			}
			retries--
			log.Printf("client pubcomp timeout, retransmitting pubrel: client_id=%s, packet_id=%d, retries_left=%d", c.options.ClientID, id, retries)
		}
	}
}
