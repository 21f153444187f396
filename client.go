package mqtt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/golang-io/mqtt/packet"
	"golang.org/x/sync/errgroup"
)

// A Client is an MQTT client. Construct one with [New]: the zero value has
// no connection state or receive channels and is not usable.
//
// Writes to the connection are serialized by an internal mutex and packet
// identifiers come from a mutex-guarded allocator.
type Client struct {
	// URL is parsed from the URL option. Its Host names the broker to
	// connect to and its Scheme is passed to dial.
	URL *url.URL

	conn *conn

	// DialContext specifies the dial function this client uses to open the
	// underlying TCP connection when the URL scheme is "tcp" or "mqtt". If
	// nil, or for any other scheme, the client dials using package net.
	// TLS and WebSocket transports are not wired here: this module's
	// transport surface is plain TCP only.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)

	options Options
	recv    [0xF + 1]chan packet.Packet
	version byte
	metrics *clientMetrics
	// cancel  context.CancelFunc

	// sendMu serializes writes to the framed stream: the QoS engine, the
	// keep-alive ticker, and the inbound-publish ack path all share one
	// socket, and interleaving two half-written frames corrupts it.
	sendMu sync.Mutex

	onMessage func(*packet.Message)
}

func (c *Client) ID() string {
	return c.conn.ID
}

// RoundTrip sends req, dialing the broker first if the client has no
// connection. It does not wait for a response: on success it returns a nil
// packet and a nil error.
func (c *Client) RoundTrip(req packet.Packet) (packet.Packet, error) {
	return c.roundTrip(req)
}

// roundTrip dials when needed and writes req; see RoundTrip.
func (c *Client) roundTrip(req packet.Packet) (packet.Packet, error) {
	ctx := context.Background()

	if c.conn == nil {
		con, err := c.dial(ctx, c.URL.Scheme, c.URL.Host)
		if err != nil {
			return nil, err
		}
		c.conn = &conn{rwc: con, remoteAddr: con.RemoteAddr().String(), inFight: newInFight(), ident: newIdentAllocator()}
	}
	if err := c.send(req); err != nil {
		return nil, err
	}
	log.Printf("todo: t.roundTrip need handle and recv response\n")
	return nil, nil
}

func (c *Client) dial(ctx context.Context, scheme, addr string) (net.Conn, error) {
	// 用户自定义拨号优先
	if c.DialContext != nil && (scheme == "tcp" || scheme == "mqtt") {
		con, err := c.DialContext(ctx, "tcp", addr)
		if con == nil && err == nil {
			err = errors.New("mqtt: Transport.DialContext hook returned (nil, nil)")
		}
		return con, err
	}
	// This module's transport surface is plain TCP; mqtt/tcp, mqtts/tls/ws/wss
	// all fall back to a bare TCP dial rather than silently dropping the scheme.
	return (&net.Dialer{}).DialContext(ctx, "tcp", addr)
}

func New(opts ...Option) *Client {
	options := newOptions(opts...)
	var err error
	client := &Client{
		options: options,
		conn:    &conn{inFight: newInFight(), ident: newIdentAllocator()},
		recv:    [0xF + 1]chan packet.Packet{},
		version: options.Version,
		metrics: options.metrics,
	}

	for i := 1; i <= 0xF; i++ {
		client.recv[i] = make(chan packet.Packet, 1)
	}

	client.recv[PUBLISH] = make(chan packet.Packet, 10000)

	if client.URL, err = url.Parse(options.URL); err != nil {
		panic(err)
	}

	// 记录客户端创建日志
	log.Printf("[CLIENT_CREATED] MQTT client created - ClientID: %s, Server: %s",
		options.ClientID, options.URL)

	return client
}

func (c *Client) Close() error {
	// 记录客户端关闭日志
	log.Printf("[CLIENT_CLOSED] MQTT client closed - ClientID: %s", c.conn.ID)

	for i := 1; i <= 0xF; i++ {
		close(c.recv[i])
	}
	return nil
}

// unpack drives packet.Decoder's explicit two-state machine off c.conn.rwc:
// each socket Read feeds whatever bytes arrived, and Decode is retried
// until it either yields a packet or reports ErrNeedMoreBytes, at which
// point another Read is issued. Unlike a single blocking packet.Unpack
// call, the decoder never holds a partially-read frame across a dropped
// connection in an inconsistent state, and a caller could in principle
// feed it from something other than a live socket (e.g. buffered test
// fixtures) without reworking this loop.
func (c *Client) unpack(ctx context.Context) error {
	dec := packet.NewDecoder(c.version, c.options.MaximumPacketSize)
	readBuf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		pkt, err := dec.Decode()
		if err == packet.ErrNeedMoreBytes {
			n, rerr := c.conn.rwc.Read(readBuf)
			if n > 0 {
				dec.Feed(readBuf[:n])
				if c.metrics != nil {
					c.metrics.observeBytesReceived(n)
				}
			}
			if rerr != nil {
				log.Printf("[UNPACK_ERROR] Client socket read error - ClientID: %s, Error: %v", c.conn.ID, rerr)
				return rerr
			}
			continue
		}
		if err != nil {
			log.Printf("[UNPACK_ERROR] Client packet unpack error - ClientID: %s, Error: %v", c.conn.ID, err)
			// 流已经不可恢复: 带原因码发送DISCONNECT后关闭连接
			reason := packet.ErrMalformedPacket
			var rc packet.ReasonCode
			if errors.As(err, &rc) {
				reason = rc
			}
			disconnect := packet.DISCONNECT{
				FixedHeader: &packet.FixedHeader{Version: c.version, Kind: DISCONNECT},
				ReasonCode:  reason,
			}
			_ = c.send(&disconnect)
			_ = c.conn.rwc.Close()
			return err
		}
		if c.metrics != nil {
			c.metrics.observeReceived(pkt.Kind())
		}
		c.recv[pkt.Kind()] <- pkt
	}
}

func (c *Client) Connect(ctx context.Context) error {
	// 记录连接尝试日志
	log.Printf("client attempting to connect: client_id=%s, server=%s", c.options.ClientID, c.URL.Host)

	var flags packet.ConnectFlags
	if c.options.CleanStart {
		flags |= 1 << 1
	}
	if c.options.Will != nil {
		flags |= 1 << 2
		flags |= packet.ConnectFlags(c.options.Will.QoS) << 3
		if c.options.Will.Retain {
			flags |= 1 << 5
		}
	}
	if c.options.Username != "" {
		flags |= 1 << 7
	}
	if len(c.options.Password) > 0 {
		flags |= 1 << 6
	}

	connect := packet.CONNECT{
		FixedHeader: &packet.FixedHeader{
			Version: c.version,
			Kind:    CONNECT,
		},
		ConnectFlags: flags,
		KeepAlive:    c.options.KeepAlive,
		ClientID:     c.options.ClientID,
		Username:     c.options.Username,
		Password:     string(c.options.Password),
	}
	if c.version == packet.VERSION500 {
		connect.Props = &packet.ConnectProperties{
			SessionExpiryInterval: c.options.SessionExpiryInterval,
			ReceiveMaximum:        c.options.ReceiveMaximum,
			MaximumPacketSize:     c.options.MaximumPacketSize,
			UserProperties:        c.options.UserProperties,
		}
	}
	if c.options.Will != nil {
		connect.WillTopic = c.options.Will.Topic
		connect.WillPayload = c.options.Will.Payload
		if c.version == packet.VERSION500 {
			connect.WillProperties = &packet.WillProperties{ContentType: c.options.ContentType}
		}
	}

	if err := c.send(&connect); err != nil {
		log.Printf("client connect packet send failed: client_id=%s, error=%v", c.options.ClientID, err)
		return err
	}
	c.conn.ID = connect.ClientID

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	select {
	case <-ctx.Done():
		log.Printf("client connect timeout: client_id=%s", c.options.ClientID)
		return ctx.Err()
	case pkt, ok := <-c.recv[CONNACK]:
		if !ok {
			return ctx.Err()
		}
		connack, ok := pkt.(*packet.CONNACK)
		if !ok || connack.Kind() != CONNACK {
			log.Printf("client received invalid CONNACK packet: client_id=%s", c.options.ClientID)
			return errors.New("mqtt: invalid packet received")
		}

		if connack.ReturnCode.Code != 0 {
			log.Printf("client connect failed: client_id=%s, return_code=%v", c.options.ClientID, connack.ReturnCode)
			return errors.New("mqtt: connect returned non-zero return code")
		}
		log.Printf("client connected successfully: client_id=%s, server=%s", c.options.ClientID, c.URL.Host)
	}
	return nil
}

// send packs pkt into a buffer, writes it to the connection, and — when
// WithMetrics was set — records the packet and byte counts. Buffering first
// keeps metrics accurate without requiring every packet.Packet.Pack to
// support a byte-counting io.Writer.
func (c *Client) send(pkt packet.Packet) error {
	var buf bytes.Buffer
	if err := pkt.Pack(&buf); err != nil {
		return err
	}
	c.sendMu.Lock()
	n, err := c.conn.rwc.Write(buf.Bytes())
	c.sendMu.Unlock()
	if c.metrics != nil {
		c.metrics.observeSent(pkt.Kind())
		c.metrics.observeBytesSent(n)
	}
	return err
}

// withTimeout applies the client's configured Timeout option to ctx, if one
// was set via the Timeout Option. A zero Timeout leaves ctx unchanged.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.options.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.options.Timeout)
}

func (c *Client) Subscribe(ctx context.Context) error {
	// 记录订阅尝试日志
	var topics []string
	for _, sub := range c.options.Subscriptions {
		topics = append(topics, sub.TopicFilter)
	}
	log.Printf("client attempting to subscribe: client_id=%s, topics=%v", c.options.ClientID, topics)

	id, ok := c.conn.ident.Next()
	if !ok {
		return fmt.Errorf("mqtt: no packet identifier available")
	}
	defer c.conn.ident.Release(id)

	sub := packet.SUBSCRIBE{
		FixedHeader:   &packet.FixedHeader{Version: c.version, Kind: SUBSCRIBE, QoS: 1},
		PacketID:      id,
		Subscriptions: c.options.Subscriptions,
	}
	if err := c.send(&sub); err != nil {
		log.Printf("client subscribe packet send failed: client_id=%s, error=%v", c.options.ClientID, err)
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	select {
	case <-ctx.Done():
		log.Printf("client subscribe timeout: client_id=%s", c.options.ClientID)
		return ctx.Err()
	case pkt, ok := <-c.recv[SUBACK]:
		if !ok {
			return ctx.Err()
		}
		suback, ok := pkt.(*packet.SUBACK)
		if !ok || suback.Kind() != SUBACK {
			log.Printf("client received invalid SUBACK packet: client_id=%s", c.options.ClientID)
			return errors.New("mqtt: invalid packet received")
		}
		if suback.PacketID != id {
			return ErrUnexpectedPacket
		}
		for _, reason := range suback.ReasonCode {
			// 返回码0x00-0x02表示授予的最大QoS，其余为订阅失败
			if reason.Code > 0x02 {
				log.Printf("client subscribe failed: client_id=%s, reason_code=%v", c.options.ClientID, reason)
				return errors.New("mqtt: subscribe rejected by server")
			}
		}
		log.Printf("client subscribed successfully: client_id=%s, topics=%v", c.options.ClientID, topics)
	}
	return nil
}

// UnSubscribe is the symmetric counterpart to Subscribe: it allocates a
// packet identifier, sends UNSUBSCRIBE, and awaits the matching UNSUBACK.
func (c *Client) UnSubscribe(ctx context.Context, filters ...string) error {
	subs := make([]packet.Subscription, 0, len(filters))
	for _, f := range filters {
		subs = append(subs, packet.Subscription{TopicFilter: f})
	}
	log.Printf("client attempting to unsubscribe: client_id=%s, topics=%v", c.options.ClientID, filters)

	id, ok := c.conn.ident.Next()
	if !ok {
		return fmt.Errorf("mqtt: no packet identifier available")
	}
	defer c.conn.ident.Release(id)

	unsub := packet.UNSUBSCRIBE{
		FixedHeader:   &packet.FixedHeader{Version: c.version, Kind: UNSUBSCRIBE, QoS: 1},
		PacketID:      id,
		Subscriptions: subs,
	}
	if err := c.send(&unsub); err != nil {
		log.Printf("client unsubscribe packet send failed: client_id=%s, error=%v", c.options.ClientID, err)
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	select {
	case <-ctx.Done():
		log.Printf("client unsubscribe timeout: client_id=%s", c.options.ClientID)
		return ctx.Err()
	case pkt, open := <-c.recv[UNSUBACK]:
		if !open {
			return ctx.Err()
		}
		unsuback, ok := pkt.(*packet.UNSUBACK)
		if !ok || unsuback.Kind() != UNSUBACK {
			log.Printf("client received invalid UNSUBACK packet: client_id=%s", c.options.ClientID)
			return errors.New("mqtt: invalid packet received")
		}
		if unsuback.PacketID != id {
			return ErrUnexpectedPacket
		}
		log.Printf("client unsubscribed successfully: client_id=%s, topics=%v", c.options.ClientID, filters)
	}
	return nil
}

// Ping sends a PINGREQ and waits for the matching PINGRESP. The per-receive
// Timeout option bounds the wait when set.
func (c *Client) Ping(ctx context.Context) error {
	ping := packet.PINGREQ{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PINGREQ}}
	if err := c.send(&ping); err != nil {
		log.Printf("client pingreq send failed: client_id=%s, error=%v", c.options.ClientID, err)
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	select {
	case <-ctx.Done():
		log.Printf("client ping timeout: client_id=%s", c.options.ClientID)
		return ctx.Err()
	case pkt, ok := <-c.recv[PINGRESP]:
		if !ok {
			return ctx.Err()
		}
		if _, ok := pkt.(*packet.PINGRESP); !ok {
			return errors.New("mqtt: invalid packet received")
		}
	}
	return nil
}

// keepAlive drives the PINGREQ/PINGRESP heartbeat at the configured
// KeepAlive interval. A zero KeepAlive disables the heartbeat.
func (c *Client) keepAlive(ctx context.Context) error {
	if c.options.KeepAlive == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(time.Duration(c.options.KeepAlive) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.Ping(ctx); err != nil {
				return err
			}
		}
	}
}

func (c *Client) ServeMessageLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := c.ServeMessage(ctx); err != nil {
			return err
		}
	}
}

func (c *Client) OnMessage(fn func(*packet.Message)) {
	c.onMessage = fn
}

// SubmitMessage publishes message at the given QoS, dispatching to the
// matching handshake in qos.go. QoS 0 returns as soon as the write
// completes; QoS 1 and QoS 2 block on the full acknowledgement handshake
// (with retries) and return the server's terminal reason code.
func (c *Client) SubmitMessage(message *packet.Message, qos uint8, opts ...PublishOption) error {
	if c.conn.rwc == nil {
		log.Printf("client publish: client_id=%s, error=connect is nil", c.options.ClientID)
		return errors.New("mqtt: connect is nil")
	}

	log.Printf("client publish: client_id=%s, topic=%s, qos=%d, size=%d", c.options.ClientID, message.TopicName, qos, len(message.Content))

	switch qos {
	case 0:
		if err := c.PublishAtMostOnce(message, opts...); err != nil {
			log.Printf("client publish: client_id=%s, topic=%s, error=%v", c.options.ClientID, message.TopicName, err)
			return err
		}
	case 1:
		reason, err := c.PublishAtLeastOnce(message, opts...)
		if err != nil {
			log.Printf("client publish: client_id=%s, topic=%s, error=%v", c.options.ClientID, message.TopicName, err)
			return err
		}
		if reason.Code != packet.CodeSuccess.Code {
			return reason
		}
	case 2:
		reason, err := c.PublishExactlyOnce(message, opts...)
		if err != nil {
			log.Printf("client publish: client_id=%s, topic=%s, error=%v", c.options.ClientID, message.TopicName, err)
			return err
		}
		if reason.Code != packet.CodeSuccess.Code {
			return reason
		}
	default:
		return fmt.Errorf("mqtt: invalid qos %d", qos)
	}

	log.Printf("client publish: client_id=%s, topic=%s, success", c.options.ClientID, message.TopicName)
	return nil
}

func (c *Client) ServeMessage(ctx context.Context) error {
	var pub *packet.PUBLISH
	select {
	case <-ctx.Done():
		return ctx.Err()
	case pkt, ok := <-c.recv[PUBLISH]:
		if !ok {
			return fmt.Errorf("mqtt: invalid packet received")
		}
		pub, ok = pkt.(*packet.PUBLISH)
		if !ok {
			return errors.New("mqtt: invalid packet received")
		}

		// 记录接收消息日志
		log.Printf("client received: client_id=%s, topic=%s, qos=%d, size=%d", c.options.ClientID, pub.Message.TopicName, pub.QoS, len(pub.Message.Content))

		switch pub.QoS {
		case 0:
		case 1:
			puback := packet.PUBACK{
				FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBACK},
				PacketID:    pub.PacketID,
			}
			if err := c.send(&puback); err != nil {
				log.Printf("client puback send failed: client_id=%s, packet_id=%d, error=%v", c.options.ClientID, pub.PacketID, err)
				return err
			}
			log.Printf("client puback sent: client_id=%s, packet_id=%d", c.options.ClientID, pub.PacketID)
		case 2:
			pubrec := packet.PUBREC{
				FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBREC},
				PacketID:    pub.PacketID,
			}
			if err := c.send(&pubrec); err != nil {
				log.Printf("client pubrec send failed: client_id=%s, packet_id=%d, error=%v", c.options.ClientID, pub.PacketID, err)
				return err
			}
			log.Printf("client pubrec sent: client_id=%s, packet_id=%d", c.options.ClientID, pub.PacketID)
			c.conn.inFight.Put(pub)
			return nil
		}

	case pkt, ok := <-c.recv[PUBREL]:
		if !ok {
			return fmt.Errorf("mqtt: invalid packet received")
		}
		pubrel, ok := pkt.(*packet.PUBREL)
		if !ok {
			return errors.New("mqtt: invalid packet received")
		}
		pub, ok = c.conn.inFight.Get(pubrel.PacketID)
		if !ok {
			return errors.New("mqtt: invalid packet received")
		}
		pubcomp := packet.PUBCOMP{
			FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBCOMP},
			PacketID:    pubrel.PacketID,
		}
		if err := c.send(&pubcomp); err != nil {
			log.Printf("client pubcomp send failed: client_id=%s, packet_id=%d, error=%v", c.options.ClientID, pubrel.PacketID, err)
			return err
		}
		log.Printf("client pubcomp sent: client_id=%s, packet_id=%d", c.options.ClientID, pubrel.PacketID)
	}
	if c.onMessage != nil {
		go c.onMessage(pub.Message)
	}
	return nil
}

func (c *Client) ConnectAndSubscribe(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	count := 0
	for {
		select {
		case <-ctx.Done():
			log.Printf("client context done: client_id=%s", c.options.ClientID)
			return ctx.Err()
		case <-timer.C:
			timer.Reset(3 * time.Second)
		}
		if err := c.connectAndSubscribe(ctx); err != nil {
			count++
			if count == 1 || count%10 == 0 {
				log.Printf("client connect and subscribe error[%d]: client_id=%s, error=%v", count, c.options.ClientID, err)
			}
		} else {
			count = 0
		}
	}
}

func (c *Client) connectAndSubscribe(ctx context.Context) error {
	var err error

	// 记录网络连接尝试日志
	log.Printf("client attempting to dial: client_id=%s, server=%s", c.options.ClientID, c.URL.Host)

	if c.conn.rwc, err = c.dial(ctx, c.URL.Scheme, c.URL.Host); err != nil {
		log.Printf("client dial failed: client_id=%s, server=%s, error=%v", c.options.ClientID, c.URL.Host, err)
		return err
	}

	log.Printf("client dialed successfully: client_id=%s, server=%s", c.options.ClientID, c.URL.Host)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return c.unpack(ctx)
	})
	group.Go(func() error {
		<-ctx.Done()
		return c.Disconnect()
	})

	group.Go(func() error {
		if err := c.Connect(ctx); err != nil {
			return err
		}
		if err := c.Subscribe(ctx); err != nil {
			return err
		}
		group.Go(func() error {
			return c.keepAlive(ctx)
		})
		return c.ServeMessageLoop(ctx)
	})

	return group.Wait()
}

func (c *Client) Disconnect() error {
	// 记录断开连接日志
	log.Printf("client attempting to disconnect: client_id=%s", c.options.ClientID)

	disconnect := packet.DISCONNECT{
		FixedHeader: &packet.FixedHeader{Version: c.version, Kind: DISCONNECT},
	}
	if err := c.send(&disconnect); err != nil {
		log.Printf("client disconnect packet send failed: client_id=%s, error=%v", c.options.ClientID, err)
		return err
	}

	log.Printf("client disconnected successfully: client_id=%s", c.options.ClientID)
	return nil
}
