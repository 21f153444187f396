package mqtt

import (
	"github.com/golang-io/mqtt/packet"
	"github.com/prometheus/client_golang/prometheus"
)

// clientMetrics is the per-client counterpart to stat.go's broker-wide Stat
// singleton: instead of a package-level prometheus.MustRegister against the
// default registry, a client opts in by passing its own Registerer to
// WithMetrics, so two Clients in the same process never collide over metric
// names or registration.
type clientMetrics struct {
	packetsSent     *prometheus.CounterVec
	packetsReceived *prometheus.CounterVec
	bytesSent       prometheus.Counter
	bytesReceived   prometheus.Counter
}

func newClientMetrics(reg prometheus.Registerer) *clientMetrics {
	m := &clientMetrics{
		packetsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqtt_client_packets_sent_total",
			Help: "Total MQTT packets sent by this client, by packet kind.",
		}, []string{"kind"}),
		packetsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqtt_client_packets_received_total",
			Help: "Total MQTT packets received by this client, by packet kind.",
		}, []string{"kind"}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_client_bytes_sent_total",
			Help: "Total bytes written to the broker connection by this client.",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_client_bytes_received_total",
			Help: "Total bytes read from the broker connection by this client.",
		}),
	}
	reg.MustRegister(m.packetsSent, m.packetsReceived, m.bytesSent, m.bytesReceived)
	return m
}

func (m *clientMetrics) observeSent(kind byte) {
	m.packetsSent.WithLabelValues(kindLabel(kind)).Inc()
}

func (m *clientMetrics) observeReceived(kind byte) {
	m.packetsReceived.WithLabelValues(kindLabel(kind)).Inc()
}

func (m *clientMetrics) observeBytesReceived(n int) {
	m.bytesReceived.Add(float64(n))
}

func (m *clientMetrics) observeBytesSent(n int) {
	m.bytesSent.Add(float64(n))
}

func kindLabel(kind byte) string {
	if name, ok := packet.Kind[kind]; ok {
		return name
	}
	return "unknown"
}
