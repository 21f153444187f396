package packet

import (
	"bytes"
	"encoding/binary"
)

// Control packet type codes, mirrored here so this package doesn't
// depend on the root mqtt package for its own switch statements.
const (
	kindCONNECT     = 0x1
	kindCONNACK     = 0x2
	kindPUBLISH     = 0x3
	kindPUBACK      = 0x4
	kindPUBREC      = 0x5
	kindPUBREL      = 0x6
	kindPUBCOMP     = 0x7
	kindSUBSCRIBE   = 0x8
	kindSUBACK      = 0x9
	kindUNSUBSCRIBE = 0xA
	kindUNSUBACK    = 0xB
	kindDISCONNECT  = 0xE
	kindAUTH        = 0xF
)

// MQTT v5.0 property identifiers, section 2.2.2.2.
const (
	propPayloadFormatIndicator        = 0x01
	propMessageExpiryInterval         = 0x02
	propContentType                   = 0x03
	propResponseTopic                 = 0x08
	propCorrelationData               = 0x09
	propSubscriptionIdentifier        = 0x0B
	propSessionExpiryInterval         = 0x11
	propAssignedClientIdentifier      = 0x12
	propServerKeepAlive               = 0x13
	propAuthenticationMethod          = 0x15
	propAuthenticationData            = 0x16
	propRequestProblemInformation     = 0x17
	propWillDelayInterval             = 0x18
	propRequestResponseInformation    = 0x19
	propResponseInformation           = 0x1A
	propServerReference               = 0x1C
	propReasonString                  = 0x1F
	propReceiveMaximum                = 0x21
	propTopicAliasMaximum             = 0x22
	propTopicAlias                    = 0x23
	propMaximumQoS                    = 0x24
	propRetainAvailable                = 0x25
	propUserProperty                  = 0x26
	propMaximumPacketSize              = 0x27
	propWildcardSubscriptionAvailable = 0x28
	propSubscriptionIDsAvailable       = 0x29
	propSharedSubscriptionAvailable    = 0x2A
)

// Properties is the single decode target for every packet's property
// block. Every packet kind sees the same struct; a whitelist passed to
// decodeProperties rejects identifiers the packet kind isn't allowed to
// carry, and the projection methods below pick out the fields that
// belong to a particular packet.
//
// Pointer fields distinguish "absent" from "present with zero value",
// which is what lets decodeProperties enforce MQTT's single-occurrence
// rule for everything except UserProperty and SubscriptionIdentifier.
type Properties struct {
	PayloadFormatIndicator     *uint8
	MessageExpiryInterval      *uint32
	ContentType                *string
	ResponseTopic              *string
	CorrelationData            []byte
	SubscriptionIdentifiers    []uint32
	SessionExpiryInterval      *uint32
	AssignedClientIdentifier   *string
	ServerKeepAlive            *uint16
	AuthenticationMethod       *string
	AuthenticationData         []byte
	RequestProblemInformation  *uint8
	WillDelayInterval          *uint32
	RequestResponseInformation *uint8
	ResponseInformation        *string
	ServerReference            *string
	ReasonString               *string
	ReceiveMaximum              *uint16
	TopicAliasMaximum           *uint16
	TopicAlias                  *uint16
	MaximumQoS                  *uint8
	RetainAvailable              *uint8
	MaximumPacketSize            *uint32
	WildcardSubscriptionAvailable *uint8
	SubscriptionIDsAvailable      *uint8
	SharedSubscriptionAvailable   *uint8
	UserProperties                []UserProperty
}

func u8(v uint8) *uint8     { return &v }
func u16(v uint16) *uint16  { return &v }
func u32(v uint32) *uint32  { return &v }
func str(v string) *string  { return &v }

// allowedProps maps a packet kind byte to the set of property
// identifiers it may carry. Will-message properties share the
// PUBLISH-like payload set and are decoded with decodeWillProperties.
var allowedProps = map[byte]map[uint8]bool{
	kindCONNECT: set(propSessionExpiryInterval, propAuthenticationMethod, propAuthenticationData,
		propRequestProblemInformation, propRequestResponseInformation, propReceiveMaximum,
		propTopicAliasMaximum, propMaximumPacketSize, propUserProperty),
	kindCONNACK: set(propSessionExpiryInterval, propAssignedClientIdentifier, propServerKeepAlive,
		propAuthenticationMethod, propAuthenticationData, propResponseInformation,
		propServerReference, propReasonString, propReceiveMaximum, propTopicAliasMaximum,
		propMaximumQoS, propRetainAvailable, propMaximumPacketSize,
		propWildcardSubscriptionAvailable, propSubscriptionIDsAvailable,
		propSharedSubscriptionAvailable, propUserProperty),
	kindPUBLISH: set(propPayloadFormatIndicator, propMessageExpiryInterval, propContentType,
		propResponseTopic, propCorrelationData, propSubscriptionIdentifier, propTopicAlias,
		propUserProperty),
	kindPUBACK:  set(propReasonString, propUserProperty),
	kindPUBREC:  set(propReasonString, propUserProperty),
	kindPUBREL:  set(propReasonString, propUserProperty),
	kindPUBCOMP: set(propReasonString, propUserProperty),
	kindSUBSCRIBE: set(propSubscriptionIdentifier, propUserProperty),
	kindSUBACK:    set(propReasonString, propUserProperty),
	kindUNSUBSCRIBE: set(propUserProperty),
	kindUNSUBACK:    set(propReasonString, propUserProperty),
	kindDISCONNECT: set(propSessionExpiryInterval, propServerReference, propReasonString, propUserProperty),
	kindAUTH: set(propAuthenticationMethod, propAuthenticationData, propReasonString, propUserProperty),
}

// willProps is the allowed set for the WILL message's own property
// block, embedded inside CONNECT (section 3.1.3.2).
var willProps = set(propPayloadFormatIndicator, propMessageExpiryInterval, propContentType,
	propResponseTopic, propCorrelationData, propWillDelayInterval, propUserProperty)

func set(ids ...uint8) map[uint8]bool {
	m := make(map[uint8]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// decodeProperties reads a length-prefixed MQTT v5 property block and
// returns the populated Properties value. allowed is nil for kinds that
// never carry properties under v3.1.1 framing (callers should not invoke
// this for those); for v5 packets it enforces the per-kind whitelist.
func decodeProperties(buf *bytes.Buffer, allowed map[uint8]bool) (*Properties, error) {
	propsLen, err := decodeLength(buf)
	if err != nil {
		return nil, err
	}
	p := &Properties{}
	var consumed uint32
	for consumed < propsLen {
		id := buf.Next(1)
		if len(id) == 0 {
			return nil, ErrEndOfStream
		}
		consumed++
		code := id[0]
		if !allowed[code] {
			return nil, ErrUnacceptableProperty
		}
		var n uint32
		switch code {
		case propPayloadFormatIndicator:
			if p.PayloadFormatIndicator != nil {
				return nil, ErrMoreThanOnceProperty
			}
			v := buf.Next(1)[0]
			p.PayloadFormatIndicator, n = u8(v), 1
		case propMessageExpiryInterval:
			if p.MessageExpiryInterval != nil {
				return nil, ErrMoreThanOnceProperty
			}
			v := binary.BigEndian.Uint32(buf.Next(4))
			p.MessageExpiryInterval, n = u32(v), 4
		case propContentType:
			if p.ContentType != nil {
				return nil, ErrMoreThanOnceProperty
			}
			v, m, err := decodeUTF8[string](buf)
			if err != nil {
				return nil, err
			}
			p.ContentType, n = str(v), m
		case propResponseTopic:
			if p.ResponseTopic != nil {
				return nil, ErrMoreThanOnceProperty
			}
			v, m, err := decodeUTF8[string](buf)
			if err != nil {
				return nil, err
			}
			p.ResponseTopic, n = str(v), m
		case propCorrelationData:
			if p.CorrelationData != nil {
				return nil, ErrMoreThanOnceProperty
			}
			v, m, err := decodeUTF8[[]byte](buf)
			if err != nil {
				return nil, err
			}
			p.CorrelationData, n = v, m
		case propSubscriptionIdentifier:
			start := buf.Len()
			v, err := decodeLength(buf)
			if err != nil {
				return nil, err
			}
			if v == 0 {
				return nil, ErrProtocolViolation
			}
			p.SubscriptionIdentifiers = append(p.SubscriptionIdentifiers, v)
			n = uint32(start - buf.Len())
		case propSessionExpiryInterval:
			if p.SessionExpiryInterval != nil {
				return nil, ErrMoreThanOnceProperty
			}
			v := binary.BigEndian.Uint32(buf.Next(4))
			p.SessionExpiryInterval, n = u32(v), 4
		case propAssignedClientIdentifier:
			if p.AssignedClientIdentifier != nil {
				return nil, ErrMoreThanOnceProperty
			}
			v, m, err := decodeUTF8[string](buf)
			if err != nil {
				return nil, err
			}
			p.AssignedClientIdentifier, n = str(v), m
		case propServerKeepAlive:
			if p.ServerKeepAlive != nil {
				return nil, ErrMoreThanOnceProperty
			}
			v := binary.BigEndian.Uint16(buf.Next(2))
			p.ServerKeepAlive, n = u16(v), 2
		case propAuthenticationMethod:
			if p.AuthenticationMethod != nil {
				return nil, ErrMoreThanOnceProperty
			}
			v, m, err := decodeUTF8[string](buf)
			if err != nil {
				return nil, err
			}
			if v == "" {
				return nil, ErrEmptyPropertyValue
			}
			p.AuthenticationMethod, n = str(v), m
		case propAuthenticationData:
			if p.AuthenticationData != nil {
				return nil, ErrMoreThanOnceProperty
			}
			v, m, err := decodeUTF8[[]byte](buf)
			if err != nil {
				return nil, err
			}
			p.AuthenticationData, n = v, m
		case propRequestProblemInformation:
			if p.RequestProblemInformation != nil {
				return nil, ErrMoreThanOnceProperty
			}
			v := buf.Next(1)[0]
			p.RequestProblemInformation, n = u8(v), 1
		case propWillDelayInterval:
			if p.WillDelayInterval != nil {
				return nil, ErrMoreThanOnceProperty
			}
			v := binary.BigEndian.Uint32(buf.Next(4))
			p.WillDelayInterval, n = u32(v), 4
		case propRequestResponseInformation:
			if p.RequestResponseInformation != nil {
				return nil, ErrMoreThanOnceProperty
			}
			v := buf.Next(1)[0]
			p.RequestResponseInformation, n = u8(v), 1
		case propResponseInformation:
			if p.ResponseInformation != nil {
				return nil, ErrMoreThanOnceProperty
			}
			v, m, err := decodeUTF8[string](buf)
			if err != nil {
				return nil, err
			}
			p.ResponseInformation, n = str(v), m
		case propServerReference:
			if p.ServerReference != nil {
				return nil, ErrMoreThanOnceProperty
			}
			v, m, err := decodeUTF8[string](buf)
			if err != nil {
				return nil, err
			}
			p.ServerReference, n = str(v), m
		case propReasonString:
			if p.ReasonString != nil {
				return nil, ErrMoreThanOnceProperty
			}
			v, m, err := decodeUTF8[string](buf)
			if err != nil {
				return nil, err
			}
			p.ReasonString, n = str(v), m
		case propReceiveMaximum:
			if p.ReceiveMaximum != nil {
				return nil, ErrMoreThanOnceProperty
			}
			v := binary.BigEndian.Uint16(buf.Next(2))
			p.ReceiveMaximum, n = u16(v), 2
		case propTopicAliasMaximum:
			if p.TopicAliasMaximum != nil {
				return nil, ErrMoreThanOnceProperty
			}
			v := binary.BigEndian.Uint16(buf.Next(2))
			p.TopicAliasMaximum, n = u16(v), 2
		case propTopicAlias:
			if p.TopicAlias != nil {
				return nil, ErrMoreThanOnceProperty
			}
			v := binary.BigEndian.Uint16(buf.Next(2))
			p.TopicAlias, n = u16(v), 2
		case propMaximumQoS:
			if p.MaximumQoS != nil {
				return nil, ErrMoreThanOnceProperty
			}
			v := buf.Next(1)[0]
			p.MaximumQoS, n = u8(v), 1
		case propRetainAvailable:
			if p.RetainAvailable != nil {
				return nil, ErrMoreThanOnceProperty
			}
			v := buf.Next(1)[0]
			p.RetainAvailable, n = u8(v), 1
		case propMaximumPacketSize:
			if p.MaximumPacketSize != nil {
				return nil, ErrMoreThanOnceProperty
			}
			v := binary.BigEndian.Uint32(buf.Next(4))
			p.MaximumPacketSize, n = u32(v), 4
		case propWildcardSubscriptionAvailable:
			if p.WildcardSubscriptionAvailable != nil {
				return nil, ErrMoreThanOnceProperty
			}
			v := buf.Next(1)[0]
			p.WildcardSubscriptionAvailable, n = u8(v), 1
		case propSubscriptionIDsAvailable:
			if p.SubscriptionIDsAvailable != nil {
				return nil, ErrMoreThanOnceProperty
			}
			v := buf.Next(1)[0]
			p.SubscriptionIDsAvailable, n = u8(v), 1
		case propSharedSubscriptionAvailable:
			if p.SharedSubscriptionAvailable != nil {
				return nil, ErrMoreThanOnceProperty
			}
			v := buf.Next(1)[0]
			p.SharedSubscriptionAvailable, n = u8(v), 1
		case propUserProperty:
			key, m1, err := decodeUTF8[string](buf)
			if err != nil {
				return nil, err
			}
			val, m2, err := decodeUTF8[string](buf)
			if err != nil {
				return nil, err
			}
			p.UserProperties = append(p.UserProperties, UserProperty{Name: key, Value: val})
			n = m1 + m2
		default:
			return nil, ErrMalformedPropertyType
		}
		consumed += n
	}
	return p, nil
}

// decodeWillProperties decodes the WILL message's own property block,
// which uses a distinct (narrower) allowed set than the enclosing
// CONNECT packet's properties.
func decodeWillProperties(buf *bytes.Buffer) (*Properties, error) {
	return decodeProperties(buf, willProps)
}

// encodeProperties serializes p against the given whitelist, skipping
// absent fields, and returns the length-prefixed property block.
func encodeProperties(p *Properties, allowed map[uint8]bool) ([]byte, error) {
	buf := GetBuffer()
	defer PutBuffer(buf)
	if p == nil {
		p = &Properties{}
	}
	writeU8 := func(id uint8, v *uint8) {
		if v == nil || !allowed[id] {
			return
		}
		buf.WriteByte(id)
		buf.WriteByte(*v)
	}
	writeU16 := func(id uint8, v *uint16) {
		if v == nil || !allowed[id] {
			return
		}
		buf.WriteByte(id)
		buf.Write(i2b(*v))
	}
	writeU32 := func(id uint8, v *uint32) {
		if v == nil || !allowed[id] {
			return
		}
		buf.WriteByte(id)
		buf.Write(i4b(*v))
	}
	writeStr := func(id uint8, v *string) {
		if v == nil || !allowed[id] {
			return
		}
		buf.WriteByte(id)
		buf.Write(encodeUTF8(*v))
	}
	writeBytes := func(id uint8, v []byte) {
		if v == nil || !allowed[id] {
			return
		}
		buf.WriteByte(id)
		buf.Write(encodeUTF8(v))
	}

	writeU8(propPayloadFormatIndicator, p.PayloadFormatIndicator)
	writeU32(propMessageExpiryInterval, p.MessageExpiryInterval)
	writeStr(propContentType, p.ContentType)
	writeStr(propResponseTopic, p.ResponseTopic)
	writeBytes(propCorrelationData, p.CorrelationData)
	if allowed[propSubscriptionIdentifier] {
		for _, sid := range p.SubscriptionIdentifiers {
			buf.WriteByte(propSubscriptionIdentifier)
			vb, err := encodeLength(sid)
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
	}
	writeU32(propSessionExpiryInterval, p.SessionExpiryInterval)
	writeStr(propAssignedClientIdentifier, p.AssignedClientIdentifier)
	writeU16(propServerKeepAlive, p.ServerKeepAlive)
	writeStr(propAuthenticationMethod, p.AuthenticationMethod)
	writeBytes(propAuthenticationData, p.AuthenticationData)
	writeU8(propRequestProblemInformation, p.RequestProblemInformation)
	writeU32(propWillDelayInterval, p.WillDelayInterval)
	writeU8(propRequestResponseInformation, p.RequestResponseInformation)
	writeStr(propResponseInformation, p.ResponseInformation)
	writeStr(propServerReference, p.ServerReference)
	writeStr(propReasonString, p.ReasonString)
	writeU16(propReceiveMaximum, p.ReceiveMaximum)
	writeU16(propTopicAliasMaximum, p.TopicAliasMaximum)
	writeU16(propTopicAlias, p.TopicAlias)
	writeU8(propMaximumQoS, p.MaximumQoS)
	writeU8(propRetainAvailable, p.RetainAvailable)
	writeU32(propMaximumPacketSize, p.MaximumPacketSize)
	writeU8(propWildcardSubscriptionAvailable, p.WildcardSubscriptionAvailable)
	writeU8(propSubscriptionIDsAvailable, p.SubscriptionIDsAvailable)
	writeU8(propSharedSubscriptionAvailable, p.SharedSubscriptionAvailable)
	if allowed[propUserProperty] {
		for _, up := range p.UserProperties {
			buf.WriteByte(propUserProperty)
			buf.Write(encodeUTF8(up.Name))
			buf.Write(encodeUTF8(up.Value))
		}
	}

	propsLen, err := encodeLength(buf.Len())
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(propsLen)+buf.Len())
	out = append(out, propsLen...)
	out = append(out, buf.Bytes()...)
	return out, nil
}

func encodeWillProperties(p *Properties) ([]byte, error) {
	return encodeProperties(p, willProps)
}

// PubResProperties is the property block shared by PUBACK, PUBREC,
// PUBREL and PUBCOMP (sections 3.4.2.3, 3.5.2.3, 3.6.2.3, 3.7.2.3) -
// all four carry nothing but a reason string and user properties.
type PubResProperties struct {
	ReasonString   string
	UserProperties []UserProperty
}

func (props *PubResProperties) Pack(kind byte) ([]byte, error) {
	p := &Properties{UserProperties: props.UserProperties}
	if props.ReasonString != "" {
		p.ReasonString = str(props.ReasonString)
	}
	return encodeProperties(p, allowedProps[kind])
}

func (props *PubResProperties) Unpack(buf *bytes.Buffer, kind byte) error {
	p, err := decodeProperties(buf, allowedProps[kind])
	if err != nil {
		return err
	}
	if p.ReasonString != nil {
		props.ReasonString = *p.ReasonString
	}
	props.UserProperties = p.UserProperties
	return nil
}
