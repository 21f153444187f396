package packet

import (
	"bytes"
	"fmt"
	"io"
)

// CONNACK 连接确认报文
//
// MQTT v3.1.1: 参考章节 3.2 CONNACK - Acknowledge connection request
// MQTT v5.0: 参考章节 3.2 CONNACK - Acknowledge connection request
//
// 报文结构:
// 固定报头: 报文类型0x02，标志位必须为0
// 可变报头: 连接确认标志、连接返回码
// 载荷: 无载荷
//
// 版本差异:
// - v3.1.1: 基本的连接确认功能，包含连接返回码
// - v5.0: 在v3.1.1基础上增加了属性系统，支持更详细的连接状态反馈
type CONNACK struct {
	*FixedHeader

	// 可变报头部分
	// 参考章节: 3.2.2 Variable header

	// SessionPresent 会话存在标志
	// 位置: 可变报头第1字节的bit 0
	// 参考章节: 3.2.2.1 Session Present
	// 值:
	// - 0: 服务端没有客户端的会话状态
	// - 1: 服务端有客户端的会话状态
	// 注意:
	// - 只有在CleanSession=0时才有意义
	// - bits 7-6为保留位，必须为0
	SessionPresent uint8

	// ReturnCode 连接返回码
	// 位置: 可变报头第2字节
	// 参考章节: 3.2.2.2 Connect Return code
	// 含义: 表示连接请求的处理结果
	// 值:
	// - 0x00: 连接已接受 - 连接已被服务端接受
	// - 0x01: 连接已拒绝，不支持的协议版本 - 服务端不支持客户端请求的MQTT协议级别
	// - 0x02: 连接已拒绝，不合格的客户端标识符 - 客户端标识符是正确的UTF-8编码，但服务端不允许使用
	// - 0x03: 连接已拒绝，服务端不可用 - 网络连接已建立，但MQTT服务不可用
	// - 0x04: 连接已拒绝，无效的用户名或密码 - 用户名或密码的数据格式无效
	// - 0x05: 连接已拒绝，未授权 - 客户端未被授权连接到此服务端
	// 注意:
	// - 如果服务端发送了一个包含非零返回码的CONNACK报文，那么它必须关闭网络连接 [MQTT-3.2.2-5]
	// - 如果认为上表中的所有连接返回码都不太合适，那么服务端必须关闭网络连接，不需要发送CONNACK报文 [MQTT-3.2.2-6]
	ReturnCode ReasonCode `json:"ReturnCode,omitempty"`

	// Props 连接确认属性 (v5.0新增)
	// 位置: 可变报头，在连接返回码之后
	// 参考章节: 3.2.2.3 CONNACK Properties
	// 包含各种连接确认信息，如会话过期间隔、接收最大值等
	Props *ConnackProps
}

func (pkt *CONNACK) Kind() byte {
	return 0x2
}

func (pkt *CONNACK) String() string {
	return fmt.Sprintf("[0x2]ConnectReturnCode=%d", pkt.ReturnCode.Code)
}

// Pack 将CONNACK报文序列化到写入器
// 参考章节: 3.2 CONNACK - Acknowledge connection request
// 序列化顺序:
// 1. 固定报头
// 2. 可变报头: 会话存在标志、连接返回码
// 3. 属性(v5.0): 连接确认属性
func (pkt *CONNACK) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	// 写入会话存在标志
	// 参考章节: 3.2.2.1 Session Present
	buf.WriteByte(pkt.SessionPresent)

	// 写入连接返回码
	// 参考章节: 3.2.2.2 Connect Return code
	buf.WriteByte(pkt.ReturnCode.Code)

	// v5.0: 写入连接确认属性
	if pkt.Version == VERSION500 {
		if pkt.Props == nil {
			pkt.Props = &ConnackProps{}
		}
		b, err := pkt.Props.Pack()
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

// Unpack 从缓冲区解析CONNACK报文
// 参考章节: 3.2 CONNACK - Acknowledge connection request
// 解析顺序:
// 1. 会话存在标志
// 2. 连接返回码
// 3. 属性(v5.0): 连接确认属性
func (pkt *CONNACK) Unpack(buf *bytes.Buffer) error {
	// 解析会话存在标志
	// 参考章节: 3.2.2.1 Session Present
	pkt.SessionPresent = buf.Next(1)[0]

	// 解析连接返回码
	// 参考章节: 3.2.2.2 Connect Return code
	pkt.ReturnCode = ReasonCode{Code: buf.Next(1)[0]}

	// v5.0: 解析连接确认属性
	if pkt.Version == VERSION500 {
		pkt.Props = &ConnackProps{}
		if err := pkt.Props.Unpack(buf); err != nil {
			return err
		}
	}
	return nil
}

// ConnackProps CONNACK报文可变报头中的属性
// MQTT v5.0新增，参考章节: 3.2.2.3 CONNACK Properties
// 位置: 可变报头，在连接返回码之后
// 编码: 属性长度 + 属性标识符 + 属性值
// 注意: 包含多个相同属性将造成协议错误
// ConnackProps carries CONNACK's v5.0 property block (section 3.2.2.3).
type ConnackProps struct {
	SessionExpiryInterval           uint32
	ReceiveMaximum                  uint16
	MaximumQoS                      uint8
	RetainAvailable                 uint8
	MaximumPacketSize               uint32
	AssignedClientID                string
	TopicAliasMaximum               uint16
	ReasonString                    string
	WildcardSubscriptionAvailable   uint8
	SubscriptionIdentifierAvailable uint8
	SharedSubscriptionAvailable     uint8
	ServerKeepAlive                 uint16
	ResponseInformation             string
	ServerReference                 string
	AuthenticationMethod            string
	AuthenticationData              []byte
	UserProperties                  []UserProperty
}

func (props *ConnackProps) Pack() ([]byte, error) {
	p := &Properties{UserProperties: props.UserProperties}
	if props.SessionExpiryInterval != 0 {
		p.SessionExpiryInterval = u32(props.SessionExpiryInterval)
	}
	if props.ReceiveMaximum != 0 {
		p.ReceiveMaximum = u16(props.ReceiveMaximum)
	}
	if props.MaximumQoS != 0 {
		p.MaximumQoS = u8(props.MaximumQoS)
	}
	if props.RetainAvailable != 0 {
		p.RetainAvailable = u8(props.RetainAvailable)
	}
	if props.MaximumPacketSize != 0 {
		p.MaximumPacketSize = u32(props.MaximumPacketSize)
	}
	if props.AssignedClientID != "" {
		p.AssignedClientIdentifier = str(props.AssignedClientID)
	}
	if props.TopicAliasMaximum != 0 {
		p.TopicAliasMaximum = u16(props.TopicAliasMaximum)
	}
	if props.ReasonString != "" {
		p.ReasonString = str(props.ReasonString)
	}
	if props.WildcardSubscriptionAvailable != 0 {
		p.WildcardSubscriptionAvailable = u8(props.WildcardSubscriptionAvailable)
	}
	if props.SubscriptionIdentifierAvailable != 0 {
		p.SubscriptionIDsAvailable = u8(props.SubscriptionIdentifierAvailable)
	}
	if props.SharedSubscriptionAvailable != 0 {
		p.SharedSubscriptionAvailable = u8(props.SharedSubscriptionAvailable)
	}
	if props.ServerKeepAlive != 0 {
		p.ServerKeepAlive = u16(props.ServerKeepAlive)
	}
	if props.ResponseInformation != "" {
		p.ResponseInformation = str(props.ResponseInformation)
	}
	if props.ServerReference != "" {
		p.ServerReference = str(props.ServerReference)
	}
	if props.AuthenticationMethod != "" {
		p.AuthenticationMethod = str(props.AuthenticationMethod)
	}
	if props.AuthenticationData != nil {
		p.AuthenticationData = props.AuthenticationData
	}
	return encodeProperties(p, allowedProps[kindCONNACK])
}

func (props *ConnackProps) Unpack(b *bytes.Buffer) error {
	p, err := decodeProperties(b, allowedProps[kindCONNACK])
	if err != nil {
		return err
	}
	if v := p.MaximumQoS; v != nil && *v > 1 {
		return ErrProtocolErr
	}
	if p.SessionExpiryInterval != nil {
		props.SessionExpiryInterval = *p.SessionExpiryInterval
	}
	if p.ReceiveMaximum != nil {
		props.ReceiveMaximum = *p.ReceiveMaximum
	}
	if p.MaximumQoS != nil {
		props.MaximumQoS = *p.MaximumQoS
	}
	if p.RetainAvailable != nil {
		props.RetainAvailable = *p.RetainAvailable
	}
	if p.MaximumPacketSize != nil {
		props.MaximumPacketSize = *p.MaximumPacketSize
	}
	if p.AssignedClientIdentifier != nil {
		props.AssignedClientID = *p.AssignedClientIdentifier
	}
	if p.TopicAliasMaximum != nil {
		props.TopicAliasMaximum = *p.TopicAliasMaximum
	}
	if p.ReasonString != nil {
		props.ReasonString = *p.ReasonString
	}
	if p.WildcardSubscriptionAvailable != nil {
		props.WildcardSubscriptionAvailable = *p.WildcardSubscriptionAvailable
	}
	if p.SubscriptionIDsAvailable != nil {
		props.SubscriptionIdentifierAvailable = *p.SubscriptionIDsAvailable
	}
	if p.SharedSubscriptionAvailable != nil {
		props.SharedSubscriptionAvailable = *p.SharedSubscriptionAvailable
	}
	if p.ServerKeepAlive != nil {
		props.ServerKeepAlive = *p.ServerKeepAlive
	}
	if p.ResponseInformation != nil {
		props.ResponseInformation = *p.ResponseInformation
	}
	if p.ServerReference != nil {
		props.ServerReference = *p.ServerReference
	}
	if p.AuthenticationMethod != nil {
		props.AuthenticationMethod = *p.AuthenticationMethod
	}
	props.AuthenticationData = p.AuthenticationData
	props.UserProperties = p.UserProperties
	return nil
}
