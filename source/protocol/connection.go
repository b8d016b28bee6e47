package protocol

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/ravelnet/ravel/internal/backoff"
	"github.com/ravelnet/ravel/pkg/logger"
)

// ConnectionStatus is one state of the handshake/established/teardown
// state machine from §4.5.
type ConnectionStatus int

const (
	StatusNone ConnectionStatus = iota
	StatusInitiatedConnect
	StatusRespondedConnect
	StatusConnecting // umbrella visible status for any in-progress handshake
	StatusConnected
	StatusDisconnecting
	StatusDisconnected
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusNone:
		return "None"
	case StatusInitiatedConnect:
		return "InitiatedConnect"
	case StatusRespondedConnect:
		return "RespondedConnect"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusDisconnecting:
		return "Disconnecting"
	case StatusDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// PacketSender is the out-of-scope socket collaborator (§1, §6): one
// non-blocking (or briefly kernel-blocking) UDP send per call.
// resetByRemote reports a connection-reset indication from the OS.
type PacketSender interface {
	SendPacket(payload []byte, remote net.Addr) (resetByRemote bool, err error)
}

// InboundSink is the out-of-scope application-facing inbound queue
// collaborator (§2, §6): every fully accepted message and every
// status change is handed to it from the network thread.
type InboundSink interface {
	OnMessage(conn *Connection, msg *IncomingMessage)
	OnStatusChange(conn *Connection, status ConnectionStatus, reason DisconnectReason)
}

// sendKey identifies one outstanding unacked Sending Record. Plain
// (non-fragment) sends are unique by (Type, SeqNr) alone; a
// fragmented message reuses one SeqNr across every fragment, so
// FragmentIndex disambiguates storage — acks still arrive keyed only
// by (Type, SeqNr) and are applied to every fragment that shares it.
type sendKey struct {
	Type          MessageType
	SeqNr         uint16
	FragmentIndex uint16
}

// Connection is the central aggregate of §3: the per-peer protocol
// engine. All fields below the network-thread-exclusive line are
// touched only by the network thread (§5); the unsent queue is the
// concurrency boundary application goroutines may also use via
// SendMessage/SendLibrary/Disconnect/Approve/Deny.
type Connection struct {
	cfg       Config
	types     TypeTable
	pool      *MessagePool
	sink      InboundSink

	RemoteAddr     net.Addr
	RemoteUniqueID uint64
	Tag            xid.ID

	initiator bool

	stats Statistics

	// --- network-thread-exclusive state below ---
	internalStatus   ConnectionStatus
	pendingApproval  bool
	lastHeardFrom    time.Time
	handshakeAttempts int
	handshakeBackoff  backoff.Backoff
	connectInitiatedAt time.Time
	lastHandshakeSent time.Time
	localConnectID    uint64

	channels  *ChannelState
	fragments *FragmentAssembler

	unacked map[sendKey]*SendingRecord

	pendingAcks      []AckEntry
	nextForcedAckDue time.Time

	throttleDebt        float64
	lastThrottleUpdate  time.Time
	rttEstimate         time.Duration
	nextPingDue         time.Time
	lastSendActivity    time.Time
	pingSeq             byte
	pingsSent           map[byte]time.Time

	nextFragmentGroup uint16
	sendBuf           []byte
	tickCount         uint64

	// mu guards only the unsent queue (the MPSC boundary, §5); every
	// other field is network-thread-exclusive and needs no lock.
	mu     sync.Mutex
	unsent []*SendingRecord
}

// NewConnection creates a connection in state None, ready for either
// Connect() (outbound) or an inbound Connect to drive it forward.
func NewConnection(cfg Config, remote net.Addr, pool *MessagePool, sink InboundSink) *Connection {
	now := time.Now()
	return &Connection{
		cfg:                cfg,
		types:              NewTypeTable(cfg.NetChannelsPerDeliveryMethod),
		pool:               pool,
		sink:               sink,
		RemoteAddr:         remote,
		Tag:                xid.New(),
		internalStatus:     StatusNone,
		lastHeardFrom:      now,
		lastThrottleUpdate: now,
		channels:           NewChannelState(cfg.NetChannelsPerDeliveryMethod),
		fragments:          NewFragmentAssembler(),
		unacked:            make(map[sendKey]*SendingRecord),
		pingsSent:          make(map[byte]time.Time),
		sendBuf:            make([]byte, 0, cfg.MaximumTransmissionUnit),
		nextPingDue:        now.Add(cfg.PingInterval),
		handshakeBackoff:   backoff.New(cfg.HandshakeAttemptDelay, cfg.HandshakeAttemptDelay*time.Duration(cfg.HandshakeMaxAttempts)),
	}
}

// Status is the visible status: any in-progress handshake sub-state,
// and approval-pending, collapse to StatusConnecting for the
// application (§4.5).
func (c *Connection) Status() ConnectionStatus {
	if c.pendingApproval {
		return StatusConnecting
	}
	switch c.internalStatus {
	case StatusInitiatedConnect, StatusRespondedConnect:
		return StatusConnecting
	default:
		return c.internalStatus
	}
}

// Stats returns an immutable snapshot of this connection's counters.
func (c *Connection) Stats() StatsSnapshot {
	return c.stats.Snapshot()
}

// UnsentBytes is the read-only "unsent-bytes-count" API property.
func (c *Connection) UnsentBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, r := range c.unsent {
		total += len(r.Msg.Payload)
	}
	return total
}

func (c *Connection) log() *logger.Entry {
	return logger.With(logger.Fields{"remote": c.RemoteAddr.String(), "tag": c.Tag.String()})
}

func (c *Connection) setStatus(status ConnectionStatus, reason DisconnectReason) {
	prev := c.internalStatus
	c.internalStatus = status
	if prev != status {
		c.log().Info("connection status changed: " + prev.String() + " -> " + status.String())
		if c.sink != nil {
			c.sink.OnStatusChange(c, c.Status(), reason)
		}
	}
}

// ---- Outbound application API (§6) ----

// CreateMessage allocates a pooled OutgoingMessage with initialCapacity
// bytes of backing array.
func (c *Connection) CreateMessage(initialCapacity int) *OutgoingMessage {
	m := c.pool.Get()
	if cap(m.Payload) < initialCapacity {
		m.Payload = make([]byte, 0, initialCapacity)
	}
	return m
}

// SendMessage enqueues msg for delivery over (method, channel),
// stamping its sequence number and splitting it into fragments if it
// exceeds FragmentPayloadSize. Fails fast (a *ProgrammerError) for an
// invalid delivery method, an invalid channel or a message that was
// already sent.
func (c *Connection) SendMessage(msg *OutgoingMessage, method DeliveryMethod, channel int) error {
	if method >= numDeliveryMethods {
		return &ProgrammerError{Op: "SendMessage", Reason: "invalid delivery method"}
	}
	if method != Unreliable && (channel < 0 || channel >= c.cfg.NetChannelsPerDeliveryMethod) {
		return &ProgrammerError{Op: "SendMessage", Reason: "channel out of range"}
	}
	if msg.WasSent() {
		return &ProgrammerError{Op: "SendMessage", Reason: "message already sent"}
	}
	msg.wasSent = true

	msgType := c.types.Encode(method, channel)
	seqNr := c.channels.StampOutgoing(method, channel)

	fragSize := c.cfg.FragmentPayloadSize()
	if len(msg.Payload) > fragSize {
		c.enqueueFragmented(msg, msgType, seqNr, fragSize)
	} else {
		msg.retain(1)
		rec := NewSendingRecord(msg, msgType, seqNr)
		c.enqueueBack(rec)
	}
	return nil
}

func (c *Connection) enqueueFragmented(msg *OutgoingMessage, msgType MessageType, seqNr uint16, fragSize int) {
	total := (len(msg.Payload) + fragSize - 1) / fragSize
	group := c.nextFragmentGroup
	c.nextFragmentGroup++
	msg.retain(int32(total))
	for i := 0; i < total; i++ {
		rec := NewSendingRecord(msg, msgType, seqNr)
		rec.FragmentGroup = group
		rec.FragmentIndex = uint16(i)
		rec.FragmentTotal = uint16(total)
		c.enqueueBack(rec)
	}
}

func (c *Connection) enqueueBack(rec *SendingRecord) {
	c.mu.Lock()
	c.unsent = append(c.unsent, rec)
	c.mu.Unlock()
}

func (c *Connection) enqueueFront(recs ...*SendingRecord) {
	c.mu.Lock()
	c.unsent = append(recs, c.unsent...)
	c.mu.Unlock()
}

func (c *Connection) dequeueFront() *SendingRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.unsent) == 0 {
		return nil
	}
	rec := c.unsent[0]
	c.unsent = c.unsent[1:]
	return rec
}

func (c *Connection) peekFrontLen() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.unsent) == 0 {
		return 0, false
	}
	return len(c.unsent[0].Msg.Payload), true
}

// sendLibrary queues a library message of the given subtype directly,
// bypassing channel sequencing (library messages carry SeqNr 0 and are
// never acked themselves, aside from the Library Ack message).
func (c *Connection) sendLibrary(sub LibrarySubtype, payload []byte) *SendingRecord {
	m := c.pool.Get()
	m.Library = sub
	m.Payload = append(m.Payload, payload...)
	m.wasSent = true
	m.retain(1)
	rec := NewSendingRecord(m, MsgLibrary, 0)
	c.enqueueBack(rec)
	return rec
}

// Connect initiates an outbound handshake (§4.5).
func (c *Connection) Connect(localUniqueID uint64) {
	c.initiator = true
	c.localConnectID = localUniqueID
	c.connectInitiatedAt = time.Now()
	c.handshakeAttempts = 1
	c.handshakeBackoff.Hit()
	c.lastHandshakeSent = time.Now()
	c.setStatus(StatusInitiatedConnect, "")
	c.sendLibrary(LibConnect, encodeUint64(localUniqueID))
}

// Disconnect is a user-requested, idempotent teardown (§4.5): it zeros
// throttle debt so the bye goes out immediately, reschedules every
// currently-unacked send for immediate resend, and enqueues a library
// Disconnect. The transition to Disconnected finalizes only once that
// Disconnect is actually drained and written to the wire (finishDisconnect).
func (c *Connection) Disconnect(reason string) {
	if c.internalStatus == StatusDisconnecting || c.internalStatus == StatusDisconnected {
		return
	}
	c.throttleDebt = 0
	now := time.Now()
	var immediate []*SendingRecord
	for key, rec := range c.unacked {
		rec.NextResend = now
		immediate = append(immediate, rec)
		delete(c.unacked, key)
	}
	if len(immediate) > 0 {
		c.enqueueFront(immediate...)
	}
	c.setStatus(StatusDisconnecting, DisconnectReason(reason))
	c.sendLibrary(LibDisconnect, EncodeDisconnect(reason))
}

// Approve accepts a pending inbound Connect, sending ConnectResponse.
func (c *Connection) Approve() {
	if !c.pendingApproval {
		return
	}
	c.pendingApproval = false
	c.respondToConnect()
}

// Deny rejects a pending inbound Connect, sending a library Disconnect
// with the given reason instead of a ConnectResponse.
func (c *Connection) Deny(reason string) {
	if !c.pendingApproval {
		return
	}
	c.pendingApproval = false
	// Disconnecting, not Disconnected: Heartbeat skips a Disconnected
	// connection, so the Disconnect would never reach the wire.
	// finishDisconnect completes the transition once it has been sent.
	c.setStatus(StatusDisconnecting, DisconnectReason(reason))
	c.sendLibrary(LibDisconnect, EncodeDisconnect(reason))
}

func (c *Connection) respondToConnect() {
	c.lastHandshakeSent = time.Now()
	c.handshakeAttempts = 1
	c.handshakeBackoff.Hit()
	c.setStatus(StatusRespondedConnect, "")
	c.sendLibrary(LibConnectResponse, encodeUint64(c.localConnectID))
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func decodeUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// ---- Inbound receive pipeline (§4.2-§4.5) ----

// HandleInboundPacket is the network thread's entry point for one
// datagram from this connection's remote address: it walks the
// concatenated messages inside, reassembles fragments, applies
// per-channel acceptance, and hands accepted messages to sink.
func (c *Connection) HandleInboundPacket(payload []byte, sender net.Addr) {
	c.lastHeardFrom = time.Now()
	c.stats.AddPacketReceived(len(payload))

	buf := payload
	for len(buf) > 0 {
		msgType, seqNr, bitLength, isFragment, n, err := DecodeMessageHeader(buf)
		if err != nil {
			c.log().Warn("dropping malformed packet tail: " + err.Error())
			return
		}
		buf = buf[n:]
		byteLen := (bitLength + 7) / 8

		if isFragment {
			group, total, index, fn, err := DecodeFragmentHeader(buf)
			if err != nil {
				c.log().Warn("dropping malformed fragment header: " + err.Error())
				return
			}
			buf = buf[fn:]
			if byteLen > len(buf) {
				c.log().Warn("dropping truncated fragment payload")
				return
			}
			fragPayload := buf[:byteLen]
			buf = buf[byteLen:]

			outcome, msg := c.fragments.Insert(group, int(total), int(index), c.cfg.FragmentPayloadSize(), fragPayload, msgType, seqNr, sender)
			switch outcome {
			case FragmentInvalid:
				c.log().Warn("dropping invalid fragment")
			case FragmentDuplicate:
				// still part of a reliable send, so a duplicate fragment
				// is acked like any other reliable message, by the
				// message's (type, seqNr), which every fragment of it
				// shares.
				c.ackIfReliable(msgType, seqNr)
			case FragmentCompleted:
				c.stats.AddFragmentReassembled()
				c.safeDispatch(func() { c.dispatchMessage(msg) })
			case FragmentPartial:
				c.ackIfReliable(msgType, seqNr)
			}
			continue
		}

		if byteLen > len(buf) {
			c.log().Warn("dropping truncated message payload")
			return
		}
		msgPayload := buf[:byteLen]
		buf = buf[byteLen:]

		if msgType == MsgLibrary {
			c.safeDispatch(func() { c.handleLibrary(msgPayload, sender) })
			continue
		}

		msg := &IncomingMessage{
			Payload:   msgPayload,
			BitLength: bitLength,
			Type:      msgType,
			SeqNr:     seqNr,
			Sender:    sender,
		}
		c.safeDispatch(func() { c.dispatchMessage(msg) })
	}
}

// safeDispatch guards one unit of per-message dispatch (§7): in debug
// it re-panics so a bug surfaces immediately during development; in
// release it logs and lets the network thread keep serving every other
// connection, rather than letting a single malformed or mishandled
// message take down the whole peer.
func (c *Connection) safeDispatch(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if c.cfg.Debug {
				panic(r)
			}
			c.log().Error("recovered from panic in message dispatch: " + fmt.Sprint(r))
		}
	}()
	fn()
}

// ackIfReliable queues an ack for a reliable message's wire type even
// when no IncomingMessage exists yet to dispatch (fragment not yet
// complete) — §4.5's "every received reliable message causes an ack to
// be queued, regardless of Accept/Reject" applies per-fragment too.
func (c *Connection) ackIfReliable(msgType MessageType, seqNr uint16) {
	method, _, ok := c.types.Decode(msgType)
	if !ok || !method.IsReliable() {
		return
	}
	c.queueAck(msgType, seqNr)
}

func (c *Connection) queueAck(msgType MessageType, seqNr uint16) {
	c.pendingAcks = append(c.pendingAcks, AckEntry{Type: msgType, SeqNr: seqNr})
	if c.nextForcedAckDue.IsZero() {
		c.nextForcedAckDue = time.Now().Add(c.cfg.MaxAckDelayTime)
	}
}

// dispatchMessage runs one complete (possibly just-reassembled)
// message through per-channel acceptance and releases whatever comes
// out the other side to sink.
func (c *Connection) dispatchMessage(msg *IncomingMessage) {
	method, channel, ok := c.types.Decode(msg.Type)
	if !ok {
		c.log().Warn("dropping message with unroutable type byte")
		return
	}

	switch {
	case method == Unreliable:
		c.deliver(msg)

	case method.IsSequenced() && !method.IsReliable():
		// UnreliableSequenced: accept/reject only, never acked.
		if c.channels.OnReceiveSequenced(method, channel, msg.SeqNr) == ReceiveAccept {
			c.deliver(msg)
		}

	case method == ReliableSequenced:
		outcome := c.channels.OnReceiveSequenced(method, channel, msg.SeqNr)
		c.queueAck(msg.Type, msg.SeqNr)
		if outcome == ReceiveAccept {
			c.deliver(msg)
		}

	case method == ReliableUnordered:
		outcome, _ := c.channels.OnReceiveReliable(method, channel, msg.SeqNr)
		c.queueAck(msg.Type, msg.SeqNr)
		if outcome == ReceiveAccept || outcome == ReceiveAcceptEarly {
			c.deliver(msg)
		} else {
			c.stats.AddDuplicateDropped()
		}

	case method == ReliableOrdered:
		outcome, released := c.channels.OnReceiveReliable(method, channel, msg.SeqNr)
		c.queueAck(msg.Type, msg.SeqNr)
		switch outcome {
		case ReceiveAccept:
			c.deliver(msg)
			for _, m := range released {
				c.deliver(m)
			}
		case ReceiveAcceptEarly:
			c.channels.Withhold(channel, msg)
		default:
			c.stats.AddDuplicateDropped()
		}
	}
}

func (c *Connection) deliver(msg *IncomingMessage) {
	if c.sink != nil {
		c.sink.OnMessage(c, msg)
	}
}

// handleLibrary dispatches one library payload by subtype (§4.5/§4.6).
func (c *Connection) handleLibrary(payload []byte, sender net.Addr) {
	if len(payload) < 1 {
		return
	}
	sub := LibrarySubtype(payload[0])
	body := payload[1:]

	switch sub {
	case LibConnect:
		c.onConnect(body)
	case LibConnectResponse:
		c.onConnectResponse(body)
	case LibConnectionEstablished:
		c.onConnectionEstablished()
	case LibDisconnect:
		reason, _ := DecodeDisconnect(body)
		c.onRemoteDisconnect(reason)
	case LibPing:
		c.onPing(body)
	case LibPong:
		c.onPong(body)
	case LibAcknowledge:
		c.onAcknowledge(body)
	case LibKeepAlive:
		// no payload, arrival alone already refreshed lastHeardFrom
	default:
		c.log().Warn("dropping unknown library subtype")
	}
}

func (c *Connection) onConnect(body []byte) {
	if c.internalStatus == StatusConnected || c.internalStatus == StatusRespondedConnect {
		// retransmitted Connect after we already answered; resend the
		// same response rather than restarting the handshake.
		c.sendLibrary(LibConnectResponse, encodeUint64(c.localConnectID))
		return
	}
	c.RemoteUniqueID = decodeUint64(body)
	if c.cfg.ApprovalRequired {
		c.pendingApproval = true
		return
	}
	c.respondToConnect()
}

func (c *Connection) onConnectResponse(body []byte) {
	if c.internalStatus != StatusInitiatedConnect {
		return
	}
	c.RemoteUniqueID = decodeUint64(body)
	c.setStatus(StatusConnected, "")
	c.sendLibrary(LibConnectionEstablished, nil)
}

func (c *Connection) onConnectionEstablished() {
	if c.internalStatus == StatusRespondedConnect {
		c.setStatus(StatusConnected, "")
	}
}

func (c *Connection) onRemoteDisconnect(reason string) {
	if c.internalStatus == StatusDisconnected {
		return
	}
	if reason == "" {
		reason = string(ReasonRemoteDisconnected)
	}
	c.setStatus(StatusDisconnected, DisconnectReason(reason))
}

func (c *Connection) onPing(body []byte) {
	pingID, err := DecodePing(body)
	if err != nil {
		return
	}
	c.sendLibrary(LibPong, EncodePong(pingID, float64(time.Now().UnixNano())/1e9))
}

func (c *Connection) onPong(body []byte) {
	pingID, _, err := DecodePong(body)
	if err != nil {
		return
	}
	sentAt, ok := c.pingsSent[pingID]
	if !ok {
		return
	}
	delete(c.pingsSent, pingID)
	sample := time.Since(sentAt)
	if c.rttEstimate == 0 {
		c.rttEstimate = sample
	} else {
		// simple exponential moving average with a weight of 1/8 on
		// the new sample.
		c.rttEstimate = c.rttEstimate + (sample-c.rttEstimate)/8
	}
	c.stats.SetRTT(c.rttEstimate)
}

func (c *Connection) onAcknowledge(body []byte) {
	for _, entry := range DecodeAck(body) {
		for key, rec := range c.unacked {
			if key.Type == entry.Type && key.SeqNr == entry.SeqNr {
				delete(c.unacked, key)
				rec.Msg.release()
			}
		}
	}
}

// finishDisconnect completes a user-requested teardown once its
// library Disconnect message has actually been dequeued and written to
// the wire (§4.5: the status only flips to Disconnected after that,
// not the instant Disconnect() is called).
func (c *Connection) finishDisconnect() {
	if c.internalStatus != StatusDisconnecting {
		return
	}
	c.setStatus(StatusDisconnected, ReasonUserRequested)
}

// CheckTimeout reports whether this connection has gone silent for
// longer than ConnectionTimeout, and if so drives it to Disconnected.
func (c *Connection) CheckTimeout(now time.Time) bool {
	if c.internalStatus == StatusDisconnected {
		return true
	}
	if now.Sub(c.lastHeardFrom) > c.cfg.ConnectionTimeout {
		c.setStatus(StatusDisconnected, ReasonTimeout)
		return true
	}
	return false
}
