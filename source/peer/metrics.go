package peer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ravelnet/ravel/source/protocol"
)

// Collector exports per-connection wire statistics as a live
// prometheus.Collector, grounded on the teacher pack's
// TCPInfoCollector pattern: rather than snapshotting once at
// registration, Collect walks the peer's live connection set on every
// scrape so gauges always reflect the connection that exists right
// now, and a connection that has disconnected simply stops appearing.
type Collector struct {
	peer *Peer

	packetsSent          *prometheus.Desc
	packetsReceived      *prometheus.Desc
	bytesSent            *prometheus.Desc
	bytesReceived        *prometheus.Desc
	messagesResent       *prometheus.Desc
	duplicatesDropped    *prometheus.Desc
	fragmentsReassembled *prometheus.Desc
	rttSeconds           *prometheus.Desc
	throttleDebt         *prometheus.Desc
	droppedInboundEvents *prometheus.Desc
}

func newCollector(p *Peer) *Collector {
	labels := []string{"remote", "tag"}
	return &Collector{
		peer:                 p,
		packetsSent:          prometheus.NewDesc("ravel_connection_packets_sent_total", "Datagrams sent on this connection.", labels, nil),
		packetsReceived:      prometheus.NewDesc("ravel_connection_packets_received_total", "Datagrams received on this connection.", labels, nil),
		bytesSent:            prometheus.NewDesc("ravel_connection_bytes_sent_total", "Bytes sent on this connection.", labels, nil),
		bytesReceived:        prometheus.NewDesc("ravel_connection_bytes_received_total", "Bytes received on this connection.", labels, nil),
		messagesResent:       prometheus.NewDesc("ravel_connection_messages_resent_total", "Reliable messages retransmitted on this connection.", labels, nil),
		duplicatesDropped:    prometheus.NewDesc("ravel_connection_duplicates_dropped_total", "Duplicate reliable messages dropped on this connection.", labels, nil),
		fragmentsReassembled: prometheus.NewDesc("ravel_connection_fragments_reassembled_total", "Fragmented messages fully reassembled on this connection.", labels, nil),
		rttSeconds:           prometheus.NewDesc("ravel_connection_rtt_seconds", "Current smoothed round-trip estimate.", labels, nil),
		throttleDebt:         prometheus.NewDesc("ravel_connection_throttle_debt_bytes", "Outstanding throttle debt for this connection.", labels, nil),
		droppedInboundEvents: prometheus.NewDesc("ravel_peer_dropped_inbound_events_total", "Inbound events discarded because the application queue was full.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.packetsSent
	descs <- c.packetsReceived
	descs <- c.bytesSent
	descs <- c.bytesReceived
	descs <- c.messagesResent
	descs <- c.duplicatesDropped
	descs <- c.fragmentsReassembled
	descs <- c.rttSeconds
	descs <- c.throttleDebt
	descs <- c.droppedInboundEvents
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	for _, conn := range c.peer.Connections() {
		c.collectConn(conn, metrics)
	}
	metrics <- prometheus.MustNewConstMetric(c.droppedInboundEvents, prometheus.CounterValue, float64(c.peer.Inbound().DroppedEvents()))
}

func (c *Collector) collectConn(conn *protocol.Connection, metrics chan<- prometheus.Metric) {
	snap := conn.Stats()
	labels := []string{conn.RemoteAddr.String(), conn.Tag.String()}

	metrics <- prometheus.MustNewConstMetric(c.packetsSent, prometheus.CounterValue, float64(snap.PacketsSent), labels...)
	metrics <- prometheus.MustNewConstMetric(c.packetsReceived, prometheus.CounterValue, float64(snap.PacketsReceived), labels...)
	metrics <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(snap.BytesSent), labels...)
	metrics <- prometheus.MustNewConstMetric(c.bytesReceived, prometheus.CounterValue, float64(snap.BytesReceived), labels...)
	metrics <- prometheus.MustNewConstMetric(c.messagesResent, prometheus.CounterValue, float64(snap.MessagesResent), labels...)
	metrics <- prometheus.MustNewConstMetric(c.duplicatesDropped, prometheus.CounterValue, float64(snap.DuplicatesDropped), labels...)
	metrics <- prometheus.MustNewConstMetric(c.fragmentsReassembled, prometheus.CounterValue, float64(snap.FragmentsReassembled), labels...)
	metrics <- prometheus.MustNewConstMetric(c.rttSeconds, prometheus.GaugeValue, snap.RTT.Seconds(), labels...)
	metrics <- prometheus.MustNewConstMetric(c.throttleDebt, prometheus.GaugeValue, snap.ThrottleDebt, labels...)
}
