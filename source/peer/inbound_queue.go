package peer

import (
	"sync/atomic"

	"github.com/ravelnet/ravel/source/protocol"
)

// InboundEventType discriminates an InboundEvent, adapted from the
// teacher's core/events.EventType: a closed enum dispatched to
// registered handlers rather than a free-form event name.
type InboundEventType int

const (
	EventMessage InboundEventType = iota
	EventStatusChange
)

// InboundEvent is one item handed from the network thread to the
// application: either a fully accepted message or a connection status
// transition (§4.5, §6).
type InboundEvent struct {
	Type   InboundEventType
	Conn   *protocol.Connection
	Msg    *protocol.IncomingMessage
	Status protocol.ConnectionStatus
	Reason protocol.DisconnectReason
}

// InboundHandler processes one InboundEvent.
type InboundHandler func(InboundEvent)

// InboundQueue is the peer's application-facing delivery point: it
// implements protocol.InboundSink, buffering events from the network
// thread into a bounded channel that application goroutines drain (or
// subscribe to via handlers), generalizing the teacher's
// core/events.EventManager from a synchronous fan-out to a buffered
// producer/consumer queue so a slow application handler cannot stall
// the network thread.
type InboundQueue struct {
	events   chan InboundEvent
	handlers map[InboundEventType][]InboundHandler
	dropped  atomic.Uint64
}

func newInboundQueue(capacity int) *InboundQueue {
	return &InboundQueue{
		events:   make(chan InboundEvent, capacity),
		handlers: make(map[InboundEventType][]InboundHandler),
	}
}

// On registers a handler invoked by Dispatch for every event of the
// given type drained from Events.
func (q *InboundQueue) On(t InboundEventType, handler InboundHandler) {
	q.handlers[t] = append(q.handlers[t], handler)
}

// Events exposes the channel directly for callers that prefer a
// select loop over the handler-registration style.
func (q *InboundQueue) Events() <-chan InboundEvent {
	return q.events
}

// Dispatch drains one event from Events and runs its registered
// handlers, returning false if the queue is closed and empty.
func (q *InboundQueue) Dispatch() bool {
	ev, ok := <-q.events
	if !ok {
		return false
	}
	for _, h := range q.handlers[ev.Type] {
		h(ev)
	}
	return true
}

// OnMessage implements protocol.InboundSink.
func (q *InboundQueue) OnMessage(conn *protocol.Connection, msg *protocol.IncomingMessage) {
	q.push(InboundEvent{Type: EventMessage, Conn: conn, Msg: msg})
}

// OnStatusChange implements protocol.InboundSink.
func (q *InboundQueue) OnStatusChange(conn *protocol.Connection, status protocol.ConnectionStatus, reason protocol.DisconnectReason) {
	q.push(InboundEvent{Type: EventStatusChange, Conn: conn, Status: status, Reason: reason})
}

func (q *InboundQueue) push(ev InboundEvent) {
	select {
	case q.events <- ev:
	default:
		// Queue is full: drop rather than block the network thread.
		// A sustained full queue means the application isn't keeping
		// up; that shows up in the peer's dropped-event metric.
		q.dropped.Add(1)
	}
}

// DroppedEvents returns the number of inbound events discarded because
// the queue was full when they arrived.
func (q *InboundQueue) DroppedEvents() uint64 {
	return q.dropped.Load()
}
