package peer

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravelnet/ravel/source/protocol"
)

func TestGetOrCreateIsIdempotentPerAddress(t *testing.T) {
	p := New(protocol.DefaultConfig(), 42)
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}

	first := p.getOrCreate(addr)
	second := p.getOrCreate(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000})
	assert.Same(t, first, second, "same remote address should reuse one Connection")

	other := p.getOrCreate(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9001})
	assert.NotSame(t, first, other)

	assert.Len(t, p.Connections(), 2)
}

func TestDialCreatesInitiatingConnection(t *testing.T) {
	p := New(protocol.DefaultConfig(), 7)
	conn, err := p.Dial("127.0.0.1:9500")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusConnecting, conn.Status())
	assert.Len(t, p.Connections(), 1)
}

type noopSender struct{}

func (noopSender) SendPacket(payload []byte, remote net.Addr) (bool, error) { return false, nil }

func TestPruneDeadRemovesOnlyDisconnectedConnections(t *testing.T) {
	p := New(protocol.DefaultConfig(), 1)
	live := p.getOrCreate(&net.UDPAddr{Port: 1})
	dead := p.getOrCreate(&net.UDPAddr{Port: 2})

	dead.Disconnect("bye")
	dead.Heartbeat(time.Now(), noopSender{}) // drains the Disconnect and finalizes the status

	require.Equal(t, protocol.StatusDisconnected, dead.Status())

	p.pruneDead()
	remaining := p.Connections()
	require.Len(t, remaining, 1)
	assert.Same(t, live, remaining[0])
}

func TestShutdownIsIdempotent(t *testing.T) {
	p := New(protocol.DefaultConfig(), 1)
	p.running = true
	p.stopCh = make(chan struct{})
	p.Shutdown()
	assert.NotPanics(t, func() { p.Shutdown() })
}
