package packet

import (
	"bytes"
	"encoding/binary"
	"io"
)

// UNSUBSCRIBE 取消订阅请求报文
//
// MQTT v3.1.1: 参考章节 3.10 UNSUBSCRIBE - Unsubscribe from topics
// MQTT v5.0: 参考章节 3.10 UNSUBSCRIBE - Unsubscribe from topics
//
// 报文结构:
// 固定报头: 报文类型0x0A，标志位必须为DUP=0, QoS=1, RETAIN=0
// 可变报头: 报文标识符、取消订阅属性(v5.0)
// 载荷: 主题过滤器列表，每个主题过滤器对应一个要取消的订阅
//
// 版本差异:
// - v3.1.1: 基本的取消订阅功能，包含报文标识符和主题过滤器列表
// - v5.0: 在v3.1.1基础上增加了属性系统，支持用户属性等
//
// 用途:
// - 用于客户端取消之前建立的订阅
// - 停止接收特定主题的消息
// - 管理客户端的订阅状态
//
// 标志位规则:
// - DUP: 必须为0
// - QoS: 必须为1
// - RETAIN: 必须为0
type UNSUBSCRIBE struct {
	*FixedHeader

	// PacketID 报文标识符
	// 参考章节: 2.3.1 Packet Identifier
	// 位置: 可变报头第1个字段
	// 要求: 必须包含，范围1-65535
	// 用途: 用于标识取消订阅请求，确保确认的可靠性
	PacketID uint16

	// Subscriptions 主题过滤器列表
	// 参考章节: 3.10.3 UNSUBSCRIBE Payload
	// 位置: 载荷部分
	// 要求: 至少包含一个主题过滤器
	// 每个主题过滤器对应一个要取消的订阅
	// 注意: 主题过滤器必须与之前SUBSCRIBE报文中的完全匹配
	Subscriptions []Subscription

	// Props 取消订阅属性 (v5.0新增)
	// 参考章节: 3.10.2.2 UNSUBSCRIBE Properties
	// 位置: 可变报头，在报文标识符之后
	// 包含用户属性等
	Props *UnsubscribeProperties
}

func (pkt *UNSUBSCRIBE) Kind() byte {
	return 0xA
}

func (pkt *UNSUBSCRIBE) Pack(w io.Writer) error {
	// 固定报头的第 3,2,1,0 位必须为 0,0,1,0 [MQTT-3.10.1-1]
	pkt.Dup, pkt.QoS, pkt.Retain = 0, 1, 0

	// 检查是否至少包含一个主题过滤器
	if len(pkt.Subscriptions) == 0 {
		return ErrMalformedTopic
	}

	buf := GetBuffer()
	defer PutBuffer(buf)
	buf.Write(i2b(pkt.PacketID))

	// 属性在可变报头中，位于主题过滤器载荷之前 [MQTT 3.10.2.1]
	if pkt.Version == VERSION500 {
		if pkt.Props == nil {
			pkt.Props = &UnsubscribeProperties{}
		}
		b, err := pkt.Props.Pack()
		if err != nil {
			return err
		}
		buf.Write(b)
	}

	// 写入主题过滤器
	for _, subscription := range pkt.Subscriptions {
		buf.Write(s2b(subscription.TopicFilter))
	}
	pkt.FixedHeader.RemainingLength = uint32(buf.Len())

	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *UNSUBSCRIBE) Unpack(buf *bytes.Buffer) error {
	// 检查是否有足够的数据读取报文标识符
	if buf.Len() < 2 {
		return ErrMalformedPacketID
	}

	pkt.PacketID = binary.BigEndian.Uint16(buf.Next(2))

	// 处理MQTT v5.0属性
	if pkt.Version == VERSION500 {
		pkt.Props = &UnsubscribeProperties{}
		if err := pkt.Props.Unpack(buf); err != nil {
			return err
		}
	}

	for buf.Len() != 0 {
		topicFilter, _, err := decodeUTF8[string](buf)
		if err != nil {
			return err
		}
		pkt.Subscriptions = append(pkt.Subscriptions, Subscription{TopicFilter: topicFilter})
	}

	// 检查是否至少有一个主题过滤器
	if len(pkt.Subscriptions) == 0 {
		return ErrMalformedTopic
	}

	return nil
}

// UnsubscribeProperties 取消订阅属性 (v5.0新增)
// 参考章节: 3.10.2.2 UNSUBSCRIBE Properties
// 包含各种取消订阅选项，用于扩展取消订阅功能
//
// 版本差异:
// - v3.1.1: 不支持属性系统
// - v5.0: 完整的属性系统，支持用户属性等
type UnsubscribeProperties struct {
	// UserProperties 用户属性
	// 属性标识符: 38 (0x26)
	// 参考章节: 3.10.2.2.2 User Property
	// 用户定义的名称/值对，可以出现多次
	UserProperties []UserProperty
}

func (props *UnsubscribeProperties) Pack() ([]byte, error) {
	p := &Properties{UserProperties: props.UserProperties}
	return encodeProperties(p, allowedProps[kindUNSUBSCRIBE])
}

func (props *UnsubscribeProperties) Unpack(buf *bytes.Buffer) error {
	p, err := decodeProperties(buf, allowedProps[kindUNSUBSCRIBE])
	if err != nil {
		return err
	}
	props.UserProperties = p.UserProperties
	return nil
}
