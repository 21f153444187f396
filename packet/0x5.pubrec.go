package packet

import (
	"bytes"
	"encoding/binary"
	"io"
)

// PUBREC 发布收到报文 (QoS 2第一步)
//
// MQTT v3.1.1: 参考章节 3.5 PUBREC - Publish received (QoS 2 publish received, part 1)
// MQTT v5.0: 参考章节 3.5 PUBREC - Publish received (QoS 2 publish received, part 1)
//
// 报文结构:
// 固定报头: 报文类型0x05，标志位必须为0
// 可变报头: 报文标识符、原因码(v5.0)、发布收到属性(v5.0)
// 载荷: 无载荷
//
// QoS 2流程:
// 1. 客户端发送PUBLISH (QoS=2)
// 2. 服务端响应PUBREC ← 当前报文
// 3. 客户端发送PUBREL
// 4. 服务端响应PUBCOMP
type PUBREC struct {
	*FixedHeader `json:"FixedHeader,omitempty"`

	// PacketID 报文标识符
	// 参考章节: 2.3.1 Packet Identifier
	PacketID uint16 `json:"PacketID,omitempty"`

	// ReasonCode 原因码 (v5.0新增)
	// 参考章节: 3.5.2.2 PUBREC Reason Code
	// 常见值:
	// - 0x00: 成功
	// - 0x10: 无匹配订阅者
	// - 0x91: 报文标识符已被使用
	ReasonCode ReasonCode

	// Props 发布收到属性 (v5.0新增)
	// 参考章节: 3.5.2.3 PUBREC Properties
	Props *PubResProperties
}

func (pkt *PUBREC) Kind() byte {
	return 0x5
}

func (pkt *PUBREC) Pack(w io.Writer) error {
	// 确保标志位正确设置
	pkt.Dup = 0
	pkt.QoS = 0
	pkt.Retain = 0

	buf := GetBuffer()
	defer PutBuffer(buf)
	buf.Write(i2b(pkt.PacketID))
	if pkt.Version == VERSION500 {
		buf.WriteByte(pkt.ReasonCode.Code)

		if pkt.Props == nil {
			pkt.Props = &PubResProperties{}
		}
		b, err := pkt.Props.Pack(kindPUBREC)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *PUBREC) Unpack(buf *bytes.Buffer) error {
	pkt.PacketID = binary.BigEndian.Uint16(buf.Next(2))
	if pkt.Version == VERSION500 {
		if buf.Len() == 0 {
			// reason code and properties omitted entirely when the result
			// is success and there are no properties to convey [MQTT-3.5.2-1].
			pkt.ReasonCode = CodeSuccess
			return nil
		}
		pkt.ReasonCode.Code = buf.Next(1)[0]
		if buf.Len() == 0 {
			return nil
		}
		pkt.Props = &PubResProperties{}
		if err := pkt.Props.Unpack(buf, kindPUBREC); err != nil {
			return err
		}
	}
	return nil
}
