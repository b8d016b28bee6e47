package peer

import (
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravelnet/ravel/source/protocol"
)

func TestCollectorDescribesAllMetrics(t *testing.T) {
	p := New(protocol.DefaultConfig(), 1)
	descs := make(chan *prometheus.Desc, 16)
	p.Metrics().Describe(descs)
	close(descs)

	count := 0
	for range descs {
		count++
	}
	assert.Equal(t, 10, count)
}

func TestCollectorWalksLiveConnectionsOnEveryScrape(t *testing.T) {
	p := New(protocol.DefaultConfig(), 1)
	conn := p.getOrCreate(&net.UDPAddr{Port: 1})
	conn.Stats() // connection exists, has a zero-value stats snapshot

	metrics := make(chan prometheus.Metric, 64)
	p.Metrics().Collect(metrics)
	close(metrics)

	count := 0
	for range metrics {
		count++
	}
	// 9 per-connection gauges/counters plus the peer-wide dropped-events counter.
	require.Equal(t, 10, count)
}
