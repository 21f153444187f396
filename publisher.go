package mqtt

import (
	"github.com/golang-io/mqtt/packet"
)

// PublishOptions collects the per-publish knobs that ride on a single
// PUBLISH packet: the retain flag and the v5.0 publish properties. The
// QoS level and dup flag are owned by the QoS engine (dup is only ever
// set on retransmission), so they are not exposed here.
type PublishOptions struct {
	Retain uint8
	Props  packet.PublishProperties
}

type PublishOption func(*PublishOptions)

func (c *Client) newPublishOptions(opts ...PublishOption) PublishOptions {
	options := PublishOptions{}
	// ContentType set on the shared Options is the default for every
	// publish from this client; a per-publish ContentType overrides it.
	options.Props.ContentType = c.options.ContentType
	// UserProperty pairs set on the shared Options ride on every publish.
	options.Props.UserProperties = c.options.UserProperties
	for _, o := range opts {
		o(&options)
	}
	return options
}

func (o *PublishOptions) apply(pub *packet.PUBLISH) {
	pub.Retain = o.Retain
	if pub.Version == packet.VERSION500 {
		props := o.Props
		pub.Props = &props
	}
}

// Retain marks the message to be retained by the server for future
// subscribers of its topic.
func Retain(retain bool) PublishOption {
	return func(o *PublishOptions) {
		if retain {
			o.Retain = 1
		} else {
			o.Retain = 0
		}
	}
}

// PayloadFormatIndicator sets publish property 0x01: 0 for opaque bytes,
// 1 for UTF-8 text.
func PayloadFormatIndicator(indicator uint8) PublishOption {
	return func(o *PublishOptions) {
		o.Props.PayloadFormatIndicator = indicator
	}
}

// MessageExpiryInterval sets publish property 0x02, in seconds.
func MessageExpiryInterval(seconds uint32) PublishOption {
	return func(o *PublishOptions) {
		o.Props.MessageExpiryInterval = seconds
	}
}

// PublishContentType sets publish property 0x03, overriding the
// client-wide ContentType option for this message.
func PublishContentType(contentType string) PublishOption {
	return func(o *PublishOptions) {
		o.Props.ContentType = contentType
	}
}

// ResponseTopic sets publish property 0x08 for request/response flows.
func ResponseTopic(topic string) PublishOption {
	return func(o *PublishOptions) {
		o.Props.ResponseTopic = topic
	}
}

// CorrelationData sets publish property 0x09, echoed back by the
// responder in request/response flows.
func CorrelationData(data []byte) PublishOption {
	return func(o *PublishOptions) {
		o.Props.CorrelationData = data
	}
}

// TopicAlias sets publish property 0x23.
func TopicAlias(alias uint16) PublishOption {
	return func(o *PublishOptions) {
		o.Props.TopicAlias = alias
	}
}

// SubscriptionIdentifier appends publish property 0x0B. May be called
// multiple times; each identifier is carried in order.
func SubscriptionIdentifier(id uint32) PublishOption {
	return func(o *PublishOptions) {
		o.Props.SubscriptionIdentifiers = append(o.Props.SubscriptionIdentifiers, id)
	}
}
