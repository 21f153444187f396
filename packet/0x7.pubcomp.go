package packet

import (
	"bytes"
	"encoding/binary"
	"io"
)

// PUBCOMP 发布完成报文 (QoS 2第三步)
//
// MQTT v3.1.1: 参考章节 3.7 PUBCOMP - Publish complete (QoS 2 publish received, part 3)
// MQTT v5.0: 参考章节 3.7 PUBCOMP - Publish complete (QoS 2 publish received, part 3)
//
// 报文结构:
// 固定报头: 报文类型0x07，标志位必须为0
// 可变报头: 报文标识符、原因码(v5.0)、发布完成属性(v5.0)
// 载荷: 无载荷
//
// 版本差异:
// - v3.1.1: 基本的发布完成功能，只包含报文标识符
// - v5.0: 在v3.1.1基础上增加了原因码和属性系统，提供更详细的完成信息
//
// 用途:
// - 用于QoS 2消息传递流程的最后一步
// - 服务端确认收到PUBREL后，发送PUBCOMP完成消息
// - 完成QoS 2的可靠消息传递机制
//
// QoS 2流程:
// 1. 客户端发送PUBLISH (QoS=2)
// 2. 服务端响应PUBREC
// 3. 客户端发送PUBREL
// 4. 服务端响应PUBCOMP ← 当前报文
//
// 标志位规则:
// - DUP: 必须为0
// - QoS: 必须为0
// - RETAIN: 必须为0
type PUBCOMP struct {
	*FixedHeader `json:"FixedHeader,omitempty"`

	// PacketID 报文标识符
	// 参考章节: 2.3.1 Packet Identifier
	// 位置: 可变报头第1个字段
	// 要求: 必须包含，范围1-65535
	// 用途: 用于标识对应的PUBLISH报文，确保QoS 2流程的可靠性
	PacketID uint16 `json:"PacketID,omitempty"`

	// ReasonCode 原因码 (v5.0新增)
	// 参考章节: 3.7.2.2 PUBCOMP Reason Code
	// 位置: 可变报头，在报文标识符之后
	// 类型: 单字节
	// 含义: 表示发布完成的结果
	// 常见值:
	// - 0x00: 成功 - 消息已完成
	// - 0x92: 报文标识符未找到 - 找不到对应的PUBLISH报文
	// 注意: v3.1.1不支持原因码
	ReasonCode ReasonCode

	// Props 发布完成属性 (v5.0新增)
	// 参考章节: 3.7.2.3 PUBCOMP Properties
	// 位置: 可变报头，在原因码之后
	// 包含原因字符串、用户属性等
	Props *PubResProperties
}

func (pkt *PUBCOMP) Kind() byte {
	return 0x7
}

func (pkt *PUBCOMP) Pack(w io.Writer) error {
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
		b, err := pkt.Props.Pack(kindPUBCOMP)
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

func (pkt *PUBCOMP) Unpack(buf *bytes.Buffer) error {
	pkt.PacketID = binary.BigEndian.Uint16(buf.Next(2))
	if pkt.Version == VERSION500 {
		if buf.Len() == 0 {
			pkt.ReasonCode = CodeSuccess
			return nil
		}
		pkt.ReasonCode.Code = buf.Next(1)[0]
		if buf.Len() == 0 {
			return nil
		}
		pkt.Props = &PubResProperties{}
		if err := pkt.Props.Unpack(buf, kindPUBCOMP); err != nil {
			return err
		}
	}
	return nil
}
