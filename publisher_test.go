package mqtt

import (
	"bytes"
	"testing"

	"github.com/golang-io/mqtt/packet"
)

func TestPublishOptionsApply(t *testing.T) {
	c := New(ContentType("application/json"))

	options := c.newPublishOptions(
		Retain(true),
		MessageExpiryInterval(30),
		ResponseTopic("reply/here"),
		CorrelationData([]byte{0x01, 0x02}),
		TopicAlias(7),
		PayloadFormatIndicator(1),
		SubscriptionIdentifier(9),
	)
	pub := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Version: packet.VERSION500, Kind: PUBLISH, QoS: 0},
		Message:     &packet.Message{TopicName: "a/b/c", Content: []byte("hi")},
	}
	options.apply(pub)

	if pub.Retain != 1 {
		t.Error("Retain(true) should set the retain flag")
	}
	if pub.Props == nil {
		t.Fatal("v5.0 publish should carry a properties block")
	}
	if pub.Props.ContentType != "application/json" {
		t.Errorf("ContentType = %q, want the client-wide default", pub.Props.ContentType)
	}
	if pub.Props.MessageExpiryInterval != 30 {
		t.Errorf("MessageExpiryInterval = %d, want 30", pub.Props.MessageExpiryInterval)
	}
	if pub.Props.ResponseTopic != "reply/here" {
		t.Errorf("ResponseTopic = %q, want reply/here", pub.Props.ResponseTopic)
	}
	if !bytes.Equal(pub.Props.CorrelationData, []byte{0x01, 0x02}) {
		t.Errorf("CorrelationData = %v", pub.Props.CorrelationData)
	}
	if pub.Props.TopicAlias != 7 {
		t.Errorf("TopicAlias = %d, want 7", pub.Props.TopicAlias)
	}
	if pub.Props.PayloadFormatIndicator != 1 {
		t.Errorf("PayloadFormatIndicator = %d, want 1", pub.Props.PayloadFormatIndicator)
	}
	if len(pub.Props.SubscriptionIdentifiers) != 1 || pub.Props.SubscriptionIdentifiers[0] != 9 {
		t.Errorf("SubscriptionIdentifiers = %v, want [9]", pub.Props.SubscriptionIdentifiers)
	}
}

func TestPublishContentTypeOverridesClientDefault(t *testing.T) {
	c := New(ContentType("application/json"))
	options := c.newPublishOptions(PublishContentType("text/plain"))
	if options.Props.ContentType != "text/plain" {
		t.Errorf("ContentType = %q, want the per-publish override", options.Props.ContentType)
	}
}

func TestClientIDOption(t *testing.T) {
	c := New(ClientID("fixed-id"))
	if c.options.ClientID != "fixed-id" {
		t.Errorf("ClientID = %q, want fixed-id", c.options.ClientID)
	}
}

func TestPublishOptionsV311SkipProperties(t *testing.T) {
	c := New(Version("3.1.1"))
	options := c.newPublishOptions(Retain(true))
	pub := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Version: packet.VERSION311, Kind: PUBLISH, QoS: 0},
		Message:     &packet.Message{TopicName: "a/b/c"},
	}
	options.apply(pub)
	if pub.Props != nil {
		t.Error("v3.1.1 publish must not carry a properties block")
	}
	if pub.Retain != 1 {
		t.Error("retain flag applies regardless of version")
	}
}
