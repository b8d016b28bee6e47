package protocol

import (
	"net"
	"sync/atomic"
)

// DeliveryMethod is one of the five delivery semantics a message can be
// sent with. Each value except Unreliable owns its own bank of
// NetChannelsPerDeliveryMethod sequence channels.
type DeliveryMethod uint8

const (
	Unreliable DeliveryMethod = iota
	UnreliableSequenced
	ReliableUnordered
	ReliableSequenced
	ReliableOrdered
	numDeliveryMethods
)

func (d DeliveryMethod) String() string {
	switch d {
	case Unreliable:
		return "Unreliable"
	case UnreliableSequenced:
		return "UnreliableSequenced"
	case ReliableUnordered:
		return "ReliableUnordered"
	case ReliableSequenced:
		return "ReliableSequenced"
	case ReliableOrdered:
		return "ReliableOrdered"
	default:
		return "Unknown"
	}
}

// IsReliable reports whether the delivery method is subject to
// acknowledgement and retransmission.
func (d DeliveryMethod) IsReliable() bool {
	return d == ReliableUnordered || d == ReliableSequenced || d == ReliableOrdered
}

// IsSequenced reports whether only the most-advanced sequence number is
// ever accepted (older/duplicate messages silently dropped).
func (d DeliveryMethod) IsSequenced() bool {
	return d == UnreliableSequenced || d == ReliableSequenced
}

// IsOrdered reports whether messages must be released to the
// application in strictly ascending sequence order, withholding
// early arrivals until the gap fills.
func (d DeliveryMethod) IsOrdered() bool {
	return d == ReliableOrdered
}

// MessageType is the wire message-type byte: it encodes (delivery
// method, channel) into a single byte-range enum value, or the
// sentinel Library value for internal protocol messages.
type MessageType byte

// MsgLibrary is the message-type byte used for every library (Connect,
// Ack, Ping, ...) message, regardless of channel.
const MsgLibrary MessageType = 0

// msgUnreliableBase is the single message-type value for Unreliable
// sends (no channel).
const msgUnreliableBase MessageType = 1

// TypeTable computes and decodes wire message-type bytes for a given
// channel count. Two peers must agree on NetChannelsPerDeliveryMethod
// for this layout to interoperate.
type TypeTable struct {
	channels int
	bases    [numDeliveryMethods]MessageType
}

// NewTypeTable builds the base-offset table for channelsPerMethod
// sequence channels per reliable/sequenced delivery method.
func NewTypeTable(channelsPerMethod int) TypeTable {
	t := TypeTable{channels: channelsPerMethod}
	t.bases[Unreliable] = msgUnreliableBase
	next := msgUnreliableBase + 1
	for _, m := range []DeliveryMethod{UnreliableSequenced, ReliableUnordered, ReliableSequenced, ReliableOrdered} {
		t.bases[m] = next
		next += MessageType(channelsPerMethod)
	}
	return t
}

// Encode returns the wire message-type byte for (method, channel).
// channel is ignored for Unreliable.
func (t TypeTable) Encode(method DeliveryMethod, channel int) MessageType {
	if method == Unreliable {
		return t.bases[Unreliable]
	}
	return t.bases[method] + MessageType(channel)
}

// Decode recovers (method, channel) from a wire message-type byte.
// ok is false for MsgLibrary or an out-of-range byte.
func (t TypeTable) Decode(mt MessageType) (method DeliveryMethod, channel int, ok bool) {
	if mt == MsgLibrary {
		return 0, 0, false
	}
	if mt == t.bases[Unreliable] {
		return Unreliable, 0, true
	}
	methods := []DeliveryMethod{UnreliableSequenced, ReliableUnordered, ReliableSequenced, ReliableOrdered}
	for _, m := range methods {
		base := t.bases[m]
		top := base + MessageType(t.channels)
		if mt >= base && mt < top {
			return m, int(mt - base), true
		}
	}
	return 0, 0, false
}

// LibrarySubtype discriminates the payload of a Library message.
type LibrarySubtype byte

const (
	LibConnect LibrarySubtype = iota
	LibConnectResponse
	LibConnectionEstablished
	LibDisconnect
	LibPing
	LibPong
	LibAcknowledge
	LibKeepAlive
)

// NoLibrary marks an OutgoingMessage as an ordinary application
// message rather than a library message.
const NoLibrary LibrarySubtype = 255

// OutgoingMessage is a pooled payload buffer shared by every Sending
// Record produced for it (e.g. one per fragment). unfinished is an
// atomic refcount: it reaches zero exactly once, at which point the
// message is returned to its pool.
type OutgoingMessage struct {
	Payload     []byte
	BitLength   int
	Library     LibrarySubtype
	wasSent     bool
	unfinished  int32
	pool        *MessagePool
}

func newOutgoingMessage(capacity int) *OutgoingMessage {
	return &OutgoingMessage{
		Payload: make([]byte, 0, capacity),
		Library: NoLibrary,
	}
}

// reset clears an outgoing message for reuse from the pool.
func (m *OutgoingMessage) reset() {
	m.Payload = m.Payload[:0]
	m.BitLength = 0
	m.Library = NoLibrary
	m.wasSent = false
	atomic.StoreInt32(&m.unfinished, 0)
}

// IsLibrary reports whether this message carries an internal protocol
// subtype rather than application payload.
func (m *OutgoingMessage) IsLibrary() bool {
	return m.Library != NoLibrary
}

// WasSent reports whether SendMessage has already been called for this
// message; a message may only be sent once (§7 programmer errors).
func (m *OutgoingMessage) WasSent() bool {
	return m.wasSent
}

// retain adds n to the unfinished-sendings refcount, e.g. n=3 when a
// message is split into 3 fragment Sending Records.
func (m *OutgoingMessage) retain(n int32) {
	atomic.AddInt32(&m.unfinished, n)
}

// release drops the unfinished-sendings refcount by one, returning the
// message to its pool when it reaches zero.
func (m *OutgoingMessage) release() {
	if atomic.AddInt32(&m.unfinished, -1) == 0 && m.pool != nil {
		m.pool.put(m)
	}
}

// IncomingMessage is an in-flight inbound message: either complete on
// arrival, or the growing reassembly buffer for a fragmented message.
type IncomingMessage struct {
	Payload   []byte
	BitLength int
	Type      MessageType
	SeqNr     uint16
	Sender    net.Addr

	fragment *fragmentState
}

// fragmentState holds reassembly bookkeeping for a fragmented incoming
// message. It is a discriminant on IncomingMessage (nil = not a
// fragment) rather than a global singleton flag.
type fragmentState struct {
	group         uint16
	total         int
	fragSize      int
	receivedBits  []bool
	receivedCount int
}
