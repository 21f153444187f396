package mqtt

import (
	"fmt"
	"time"

	"github.com/golang-io/mqtt/packet"
	"github.com/golang-io/requests"
	"github.com/prometheus/client_golang/prometheus"
)

type Listen struct {
	URL      string `yaml:"url"`
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}

type config struct {
	HTTP       Listen            `json:"HTTP"`
	MQTT       Listen            `json:"MQTT"`
	MQTTs      Listen            `json:"MQTTs"`
	WebSocket  Listen            `json:"Websocket"`
	WebSockets Listen            `json:"Websockets"`
	Auth       map[string]string `json:"Auth"`
}

func (c *config) GetAuth(username string) (string, bool) {
	password, ok := c.Auth[username]
	return password, ok
}

var CONFIG = &config{
	Auth: map[string]string{
		"":     "",
		"root": "admin",
	},
}

// Will holds the optional CONNECT will message: the message the server
// publishes on this client's behalf if the network connection is lost
// without a clean DISCONNECT.
type Will struct {
	Topic   string
	Payload []byte
	QoS     uint8
	Retain  bool
}

// Options collects every client-construction knob: transport target,
// identity, protocol version, subscriptions, and the CONNECT-time session
// parameters (keep-alive, clean-start, session expiry, ...).
type Options struct {
	URL           string // client used
	ClientID      string
	Version       byte
	Subscriptions []packet.Subscription

	KeepAlive             uint16
	CleanStart            bool
	SessionExpiryInterval uint32
	ReceiveMaximum        uint16
	MaximumPacketSize     uint32
	ContentType           string
	UserProperties        []packet.UserProperty
	Will                  *Will
	Timeout               time.Duration
	Username              string
	Password              []byte

	metrics *clientMetrics
}

type Option func(*Options)

func newOptions(opts ...Option) Options {
	options := Options{
		URL:        "mqtt://127.0.0.1:1883",
		ClientID:   "mqtt-" + requests.GenId(),
		Version:    packet.VERSION500,
		KeepAlive:  60,
		CleanStart: true,
	}
	for _, o := range opts {
		o(&options)
	}
	return options
}

func URL(url string) Option {
	return func(o *Options) {
		o.URL = url
	}
}

func Subscription(subscription ...packet.Subscription) Option {
	return func(o *Options) {
		o.Subscriptions = append(o.Subscriptions, subscription...)
	}
}

func Version[T ~string | ~byte](version T) Option {
	return func(o *Options) {
		switch v := any(version).(type) {
		case byte:
			o.Version = v
		case string:
			switch v {
			case "5.0.0":
				o.Version = packet.VERSION500
			case "3.1.1":
				o.Version = packet.VERSION311
			default:
				panic(fmt.Errorf("version = %s not support", v))
			}
		}
	}
}

// ClientID sets the CONNECT client identifier. When unset, a generated
// "mqtt-"-prefixed id is used.
func ClientID(id string) Option {
	return func(o *Options) {
		o.ClientID = id
	}
}

// KeepAlive sets the CONNECT keep-alive interval in seconds; 0 disables
// the PINGREQ/PINGRESP heartbeat.
func KeepAlive(seconds uint16) Option {
	return func(o *Options) {
		o.KeepAlive = seconds
	}
}

// CleanStart sets the CONNECT clean-start flag (v3.1.1: clean session).
func CleanStart(clean bool) Option {
	return func(o *Options) {
		o.CleanStart = clean
	}
}

// SessionExpireInterval sets the v5.0 CONNECT property of the same name,
// in seconds.
func SessionExpireInterval(seconds uint32) Option {
	return func(o *Options) {
		o.SessionExpiryInterval = seconds
	}
}

// ReceiveMaximum sets the v5.0 CONNECT property bounding the number of
// QoS>0 publishes the server may have in flight toward this client.
func ReceiveMaximum(max uint16) Option {
	return func(o *Options) {
		o.ReceiveMaximum = max
	}
}

// MaximumPacketSize caps the size (fixed header + remaining length) of any
// inbound frame the client's Decoder will accept; 0 means no cap.
func MaximumPacketSize(max uint32) Option {
	return func(o *Options) {
		o.MaximumPacketSize = max
	}
}

// ContentType sets the content type carried on the will message's
// WillProperties, when a Will is configured, and the default ContentType
// property of every publish from this client (PublishContentType overrides
// it for one message).
func ContentType(contentType string) Option {
	return func(o *Options) {
		o.ContentType = contentType
	}
}

// UserProperty appends one name/value pair to the properties shared by
// CONNECT and subsequent publishes. May be called multiple times.
func UserProperty(name, value string) Option {
	return func(o *Options) {
		o.UserProperties = append(o.UserProperties, packet.UserProperty{Name: name, Value: value})
	}
}

// WillMessage sets the CONNECT will record published by the server if this
// client disconnects uncleanly.
func WillMessage(topic string, payload []byte, qos uint8, retain bool) Option {
	return func(o *Options) {
		o.Will = &Will{Topic: topic, Payload: payload, QoS: qos, Retain: retain}
	}
}

// Timeout sets the per-receive wall-clock timeout applied to Connect,
// Subscribe, UnSubscribe, and Ping's ack waits. Zero means no timeout (wait on
// ctx alone).
func Timeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// Username sets the CONNECT username and its presence flag.
func Username(username string) Option {
	return func(o *Options) {
		o.Username = username
	}
}

// Password sets the CONNECT password and its presence flag.
func Password(password []byte) Option {
	return func(o *Options) {
		o.Password = password
	}
}

// WithMetrics opts this client into per-client Prometheus counters
// (mqtt_client_packets_sent_total, mqtt_client_packets_received_total,
// mqtt_client_bytes_sent_total, mqtt_client_bytes_received_total),
// registered against reg instead of stat.go's broker-wide global registry.
// Without this option, a client collects no metrics.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *Options) {
		o.metrics = newClientMetrics(reg)
	}
}
