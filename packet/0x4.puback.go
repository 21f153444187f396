package packet

import (
	"bytes"
	"encoding/binary"
	"io"
)

// PUBACK 发布确认报文 (QoS 1)
//
// MQTT v3.1.1: 参考章节 3.4 PUBACK - Publish acknowledgement
// MQTT v5.0: 参考章节 3.4 PUBACK - Publish acknowledgement
//
// 报文结构:
// 固定报头: 报文类型0x04，标志位必须为0
// 可变报头: 报文标识符、原因码(v5.0)、发布确认属性(v5.0)
// 载荷: 无载荷
//
// 版本差异:
// - v3.1.1: 基本的发布确认功能，只包含报文标识符
// - v5.0: 在v3.1.1基础上增加了原因码和属性系统，提供更详细的确认信息
//
// 用途:
// - 用于确认QoS 1的PUBLISH报文
// - 确保消息至少一次传递
// - 提供消息传递状态的反馈
//
// 标志位规则:
// - DUP: 必须为0
// - QoS: 必须为0
// - RETAIN: 必须为0
type PUBACK struct {
	*FixedHeader

	// 可变报头部分
	// 参考章节: 3.4.2 Variable header

	// PacketID 报文标识符
	// 参考章节: 2.3.1 Packet Identifier
	// 位置: 可变报头第1个字段
	// 要求: 必须包含，范围1-65535
	// 用途: 用于标识对应的PUBLISH报文，确保确认的可靠性
	PacketID uint16

	// ReasonCode 原因码 (v5.0新增)
	// 参考章节: 3.4.2.2 PUBACK Reason Code
	// 位置: 可变报头，在报文标识符之后
	// 类型: 单字节
	// 含义: 表示发布确认的结果
	// 常见值:
	// - 0x00: 成功 - 消息已确认
	// - 0x10: 无匹配订阅者 - 没有订阅者接收此消息
	// - 0x80: 未指定错误 - 未指定的错误
	// - 0x83: 实现特定错误 - 实现特定的错误
	// 注意: v3.1.1不支持原因码
	ReasonCode ReasonCode

	// Props 发布确认属性 (v5.0新增)
	// 参考章节: 3.4.2.3 PUBACK Properties
	// 位置: 可变报头，在原因码之后
	// 包含原因字符串、用户属性等
	Props *PubResProperties
}

func (pkt *PUBACK) Kind() byte {
	return 0x4
}

func (pkt *PUBACK) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)
	buf.Write(i2b(pkt.PacketID))
	if pkt.Version == VERSION500 {
		buf.WriteByte(pkt.ReasonCode.Code)

		if pkt.Props == nil {
			pkt.Props = &PubResProperties{}
		}
		b, err := pkt.Props.Pack(kindPUBACK)
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

func (pkt *PUBACK) Unpack(buf *bytes.Buffer) error {
	pkt.PacketID = binary.BigEndian.Uint16(buf.Next(2))
	if pkt.Version == VERSION500 {
		if buf.Len() == 0 {
			// 原因码和属性整体省略，等同于成功 [MQTT-3.4.2-1]
			pkt.ReasonCode = CodeSuccess
			return nil
		}
		pkt.ReasonCode.Code = buf.Next(1)[0]
		if buf.Len() == 0 {
			return nil
		}
		pkt.Props = &PubResProperties{}
		if err := pkt.Props.Unpack(buf, kindPUBACK); err != nil {
			return err
		}
	}
	return nil
}
