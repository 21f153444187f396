package packet

import (
	"bytes"
	"testing"
)

// TestWireDecode_KnownFrames 用抓包得到的字面报文字节验证解码结果，
// 覆盖最小CONNECT、成功CONNACK、QoS0/QoS1 PUBLISH、短格式PUBACK和
// 空DISCONNECT这几类最常见的线上帧。
func TestWireDecode_KnownFrames(t *testing.T) {
	t.Run("ConnectMinimal", func(t *testing.T) {
		// CONNECT: clean_start=1, keep_alive=60, 无属性, 客户端ID为空
		wire := []byte{
			0x10, 0x0D,
			0x00, 0x04, 'M', 'Q', 'T', 'T',
			0x05,       // 协议级别5
			0x02,       // 连接标志: CleanStart
			0x00, 0x3C, // 保持连接: 60秒
			0x00,       // 属性长度: 0
			0x00, 0x00, // 客户端ID: 空
		}
		pkt, err := Unpack(VERSION500, bytes.NewReader(wire))
		if err != nil {
			t.Fatalf("Unpack: %v", err)
		}
		connect, ok := pkt.(*CONNECT)
		if !ok {
			t.Fatalf("expected CONNECT, got %T", pkt)
		}
		if !connect.ConnectFlags.CleanStart() {
			t.Error("CleanStart flag should be set")
		}
		if connect.ConnectFlags.WillFlag() || connect.ConnectFlags.UserNameFlag() || connect.ConnectFlags.PasswordFlag() {
			t.Error("no optional payload flags should be set")
		}
		if connect.KeepAlive != 60 {
			t.Errorf("KeepAlive = %d, want 60", connect.KeepAlive)
		}
	})

	t.Run("ConnAckSuccess", func(t *testing.T) {
		wire := []byte{0x20, 0x03, 0x00, 0x00, 0x00}
		pkt, err := Unpack(VERSION500, bytes.NewReader(wire))
		if err != nil {
			t.Fatalf("Unpack: %v", err)
		}
		connack, ok := pkt.(*CONNACK)
		if !ok {
			t.Fatalf("expected CONNACK, got %T", pkt)
		}
		if connack.SessionPresent != 0 {
			t.Error("session present should be 0")
		}
		if connack.ReturnCode.Code != 0x00 {
			t.Errorf("return code = 0x%02X, want 0x00", connack.ReturnCode.Code)
		}
	})

	t.Run("PublishQoS0Retain", func(t *testing.T) {
		wire := []byte{
			0x31, 0x0A, // PUBLISH, retain=1
			0x00, 0x05, 'a', '/', 'b', '/', 'c',
			0x00,     // 属性长度: 0
			'h', 'i', // 载荷
		}
		pkt, err := Unpack(VERSION500, bytes.NewReader(wire))
		if err != nil {
			t.Fatalf("Unpack: %v", err)
		}
		pub, ok := pkt.(*PUBLISH)
		if !ok {
			t.Fatalf("expected PUBLISH, got %T", pkt)
		}
		if pub.Dup != 0 || pub.QoS != 0 || pub.Retain != 1 {
			t.Errorf("flags dup=%d qos=%d retain=%d, want 0/0/1", pub.Dup, pub.QoS, pub.Retain)
		}
		if pub.Message.TopicName != "a/b/c" {
			t.Errorf("topic = %q, want a/b/c", pub.Message.TopicName)
		}
		if pub.PacketID != 0 {
			t.Errorf("QoS0 publish must not carry a packet id, got %d", pub.PacketID)
		}
		if !bytes.Equal(pub.Message.Content, []byte("hi")) {
			t.Errorf("payload = %q, want hi", pub.Message.Content)
		}
	})

	t.Run("PublishQoS1WithPacketID", func(t *testing.T) {
		wire := []byte{
			0x32, 0x0C, // PUBLISH, qos=1
			0x00, 0x05, 'a', '/', 'b', '/', 'c',
			0x00, 0x2A, // 报文标识符: 42
			0x00,     // 属性长度: 0
			'h', 'i', // 载荷
		}
		pkt, err := Unpack(VERSION500, bytes.NewReader(wire))
		if err != nil {
			t.Fatalf("Unpack: %v", err)
		}
		pub, ok := pkt.(*PUBLISH)
		if !ok {
			t.Fatalf("expected PUBLISH, got %T", pkt)
		}
		if pub.QoS != 1 {
			t.Errorf("qos = %d, want 1", pub.QoS)
		}
		if pub.PacketID != 42 {
			t.Errorf("packet id = %d, want 42", pub.PacketID)
		}
		if !bytes.Equal(pub.Message.Content, []byte("hi")) {
			t.Errorf("payload = %q, want hi", pub.Message.Content)
		}
	})

	t.Run("PubAckShortForm", func(t *testing.T) {
		// 剩余长度2: 原因码和属性整体省略，等同于成功
		wire := []byte{0x40, 0x02, 0x00, 0x2A}
		pkt, err := Unpack(VERSION500, bytes.NewReader(wire))
		if err != nil {
			t.Fatalf("Unpack: %v", err)
		}
		puback, ok := pkt.(*PUBACK)
		if !ok {
			t.Fatalf("expected PUBACK, got %T", pkt)
		}
		if puback.PacketID != 42 {
			t.Errorf("packet id = %d, want 42", puback.PacketID)
		}
		if puback.ReasonCode.Code != CodeSuccess.Code {
			t.Errorf("reason = 0x%02X, want success", puback.ReasonCode.Code)
		}
	})

	t.Run("DisconnectEmpty", func(t *testing.T) {
		wire := []byte{0xE0, 0x00}
		pkt, err := Unpack(VERSION500, bytes.NewReader(wire))
		if err != nil {
			t.Fatalf("Unpack: %v", err)
		}
		disconnect, ok := pkt.(*DISCONNECT)
		if !ok {
			t.Fatalf("expected DISCONNECT, got %T", pkt)
		}
		if disconnect.ReasonCode.Code != 0x00 {
			t.Errorf("reason = 0x%02X, want normal disconnection", disconnect.ReasonCode.Code)
		}
	})
}

// TestWireDecode_FiveByteVarintRejected 验证第五个延续字节被拒绝:
// 剩余长度最多4字节编码。
func TestWireDecode_FiveByteVarintRejected(t *testing.T) {
	wire := []byte{0x30, 0xFF, 0xFF, 0xFF, 0xFF, 0x01}
	buf := bytes.NewBuffer(wire[1:])
	if _, err := decodeLength(buf); err == nil {
		t.Fatal("a varint with four continuation bytes must be rejected")
	}
}
