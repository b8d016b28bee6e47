package protocol

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dropOnceSender drops the first N packets handed to it, then forwards
// every packet after that to peer, modeling a lossy link for
// retransmission tests.
type dropOnceSender struct {
	peer    *Connection
	drop    int
	dropped int
	sent    int
}

func (d *dropOnceSender) SendPacket(payload []byte, remote net.Addr) (bool, error) {
	d.sent++
	if d.dropped < d.drop {
		d.dropped++
		return false, nil
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	d.peer.HandleInboundPacket(cp, d.peer.RemoteAddr)
	return false, nil
}

func TestReliableMessageRetransmittedAfterLoss(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HandshakeAttemptDelay = time.Hour
	cfg.MaxAckDelayTime = time.Nanosecond
	pool := NewMessagePool(128)

	clientAddr := &net.UDPAddr{Port: 1}
	serverAddr := &net.UDPAddr{Port: 2}
	serverSink := &recordingSink{}
	server := NewConnection(cfg, clientAddr, pool, serverSink)
	client := NewConnection(cfg, serverAddr, pool, &recordingSink{})

	client.internalStatus = StatusConnected
	server.internalStatus = StatusConnected

	m := client.CreateMessage(8)
	m.Payload = append(m.Payload, 'z')
	require.NoError(t, client.SendMessage(m, ReliableUnordered, 0))

	lossy := &dropOnceSender{peer: server, drop: 1}
	now := time.Now()
	client.Heartbeat(now, lossy)
	assert.Empty(t, serverSink.messages, "first send was dropped, server should see nothing yet")
	require.Len(t, client.unacked, 1)

	rec := firstUnacked(client)
	rec.NextResend = now.Add(-time.Millisecond) // force it due immediately

	// requeueDueResends only runs every third tick (§4.6's "greater
	// work" priority), so drive enough ticks to reach one.
	for i := 0; i < 3 && len(serverSink.messages) == 0; i++ {
		client.Heartbeat(time.Now(), lossy)
	}
	require.Len(t, serverSink.messages, 1, "resend should have gotten through")
	assert.Equal(t, byte('z'), serverSink.messages[0].Payload[0])
}

func firstUnacked(c *Connection) *SendingRecord {
	for _, r := range c.unacked {
		return r
	}
	return nil
}

func TestThrottleBlocksSendUntilDebtDecays(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ThrottlePeakBytes = 10
	cfg.ThrottleBytesPerSecond = 1000
	pool := NewMessagePool(64)
	addr := &net.UDPAddr{Port: 1}
	c := NewConnection(cfg, addr, pool, &recordingSink{})
	c.internalStatus = StatusConnected

	assert.True(t, c.canSend(5))
	c.chargeThrottle(10)
	assert.False(t, c.canSend(5), "10 bytes of debt at a 10-byte peak should block any further send")

	c.lastThrottleUpdate = time.Now().Add(-time.Second)
	c.decayThrottle(time.Now())
	assert.True(t, c.canSend(5), "a second of decay at 1000 B/s should have forgiven the debt")
}

func TestThrottleDisabledWhenRatePerSecondIsZero(t *testing.T) {
	cfg := DefaultConfig() // ThrottleBytesPerSecond defaults to 0
	pool := NewMessagePool(64)
	addr := &net.UDPAddr{Port: 1}
	c := NewConnection(cfg, addr, pool, &recordingSink{})
	c.chargeThrottle(1 << 30)
	assert.True(t, c.canSend(1<<20), "a zero rate means throttling never blocks sends")
}

func TestThrottleDisabledWhenRateIsZeroEvenWithNonzeroPeak(t *testing.T) {
	// §4.6(3): throttle_bytes_per_second == 0 means unlimited,
	// regardless of whatever throttle_peak_bytes is configured to.
	cfg := DefaultConfig()
	cfg.ThrottleBytesPerSecond = 0
	cfg.ThrottlePeakBytes = 10
	pool := NewMessagePool(64)
	addr := &net.UDPAddr{Port: 1}
	c := NewConnection(cfg, addr, pool, &recordingSink{})

	c.chargeThrottle(1000)
	assert.True(t, c.canSend(1<<20), "rate 0 must stay unlimited even with a nonzero peak")

	c.decayThrottle(time.Now())
	assert.Equal(t, float64(0), c.throttleDebt, "decayThrottle should force debt to 0 when rate is 0")
}

func TestHandshakeRetryBackoffGrowsBetweenAttempts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HandshakeAttemptDelay = 10 * time.Millisecond
	cfg.HandshakeMaxAttempts = 10
	pool := NewMessagePool(64)
	addr := &net.UDPAddr{Port: 1}
	c := NewConnection(cfg, addr, pool, &recordingSink{})
	c.Connect(1)

	sender := &dropOnceSender{peer: c, drop: 1000} // never actually delivers
	first := c.handshakeBackoff.Current()

	// force the next attempt due immediately and drive one retry.
	c.lastHandshakeSent = time.Now().Add(-time.Hour)
	c.Heartbeat(time.Now(), sender)
	second := c.handshakeBackoff.Current()

	assert.Greater(t, second, first, "each missed handshake attempt should widen the retry delay")
}

func TestSetNextResendUsedByHeartbeatProducesIncreasingDelay(t *testing.T) {
	rec := NewSendingRecord(nil, MessageType(3), 1)
	now := time.Now()
	var prev time.Duration
	for i := 1; i <= 4; i++ {
		rec.Sends = i
		rec.SetNextResend(now, 10*time.Millisecond)
		d := rec.NextResend.Sub(now)
		if i > 1 {
			assert.Greater(t, d, prev)
		}
		prev = d
	}
}
