package peer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravelnet/ravel/source/protocol"
)

func TestInboundQueuePushAndDispatch(t *testing.T) {
	q := newInboundQueue(4)
	var got []InboundEvent
	q.On(EventMessage, func(ev InboundEvent) { got = append(got, ev) })

	q.OnMessage(nil, &protocol.IncomingMessage{Payload: []byte("hi")})
	require.True(t, q.Dispatch())
	require.Len(t, got, 1)
	assert.Equal(t, EventMessage, got[0].Type)
	assert.Equal(t, []byte("hi"), got[0].Msg.Payload)
}

func TestInboundQueueStatusChange(t *testing.T) {
	q := newInboundQueue(4)
	var got []InboundEvent
	q.On(EventStatusChange, func(ev InboundEvent) { got = append(got, ev) })

	q.OnStatusChange(nil, protocol.StatusConnected, "")
	require.True(t, q.Dispatch())
	require.Len(t, got, 1)
	assert.Equal(t, protocol.StatusConnected, got[0].Status)
}

func TestInboundQueueDropsWhenFull(t *testing.T) {
	q := newInboundQueue(2)
	for i := 0; i < 2; i++ {
		q.OnMessage(nil, &protocol.IncomingMessage{})
	}
	assert.Equal(t, uint64(0), q.DroppedEvents())

	// queue is now full; the next push should be dropped, not block.
	q.OnMessage(nil, &protocol.IncomingMessage{})
	assert.Equal(t, uint64(1), q.DroppedEvents())

	// draining the two buffered events should still work fine.
	require.True(t, q.Dispatch())
	require.True(t, q.Dispatch())
}
