package protocol

import "time"

// minAckPiggybackSpace is the smallest number of free bytes in a
// datagram worth spending on a piggybacked ack entry (§4.6): below
// this it is cheaper to let the ack ride alone or wait for the next
// tick than to truncate a payload message to fit one.
const minAckPiggybackSpace = AckEntrySize

// Heartbeat runs one tick of the per-connection engine described in
// §4.6: handshake retry, ping scheduling, throttle accounting, the
// send pipeline (dequeue/coalesce/flush, with piggybacked acks), and
// forced-ack/timeout housekeeping. It is invoked at HeartbeatPeriod
// cadence by the single network thread that owns every connection.
func (c *Connection) Heartbeat(now time.Time, sender PacketSender) {
	c.tickCount++

	if c.CheckTimeout(now) {
		return
	}

	c.stepHandshake(now, sender)
	c.stepPing(now)
	c.decayThrottle(now)

	// "Greater work" — the resend scan — runs every third tick and puts
	// due resends at the front of the queue so a busy send pipeline
	// can't starve overdue retransmissions indefinitely. Forced acks are
	// flushed on every tick by runSendPipeline.
	if c.tickCount%3 == 0 {
		c.requeueDueResends(now)
	}

	c.runSendPipeline(now, sender)

	if c.internalStatus == StatusDisconnected {
		return
	}
	c.maybeSendKeepAlive(now, sender)
}

func (c *Connection) stepHandshake(now time.Time, sender PacketSender) {
	switch c.internalStatus {
	case StatusInitiatedConnect, StatusRespondedConnect:
	default:
		return
	}
	if now.Sub(c.lastHandshakeSent) < c.handshakeBackoff.Current() {
		return
	}
	if c.handshakeAttempts >= c.cfg.HandshakeMaxAttempts {
		c.setStatus(StatusDisconnected, ReasonHandshakeFailed)
		return
	}
	c.handshakeAttempts++
	c.lastHandshakeSent = now
	c.handshakeBackoff.Next()
	if c.internalStatus == StatusInitiatedConnect {
		c.sendLibrary(LibConnect, encodeUint64(c.localConnectID))
	} else {
		c.sendLibrary(LibConnectResponse, encodeUint64(c.localConnectID))
	}
}

func (c *Connection) stepPing(now time.Time) {
	if c.internalStatus != StatusConnected {
		return
	}
	if now.Before(c.nextPingDue) {
		return
	}
	c.nextPingDue = now.Add(c.cfg.PingInterval)
	c.pingSeq++
	c.pingsSent[c.pingSeq] = now
	c.sendLibrary(LibPing, EncodePing(c.pingSeq))
}

// maybeSendKeepAlive sends a bare library KeepAlive when nothing else
// (ping, ack, or application data) has gone out in roughly one ping
// interval, so a connection with no application traffic still
// refreshes the remote's lastHeardFrom. lastSendActivity is stamped by
// afterSend for every record actually handed to the send pipeline, so
// an idle connection's own periodic Ping already satisfies this and a
// redundant KeepAlive right behind it is skipped.
func (c *Connection) maybeSendKeepAlive(now time.Time, sender PacketSender) {
	if c.internalStatus != StatusConnected {
		return
	}
	if now.Sub(c.lastSendActivity) < c.cfg.PingInterval {
		return
	}
	c.sendLibrary(LibKeepAlive, nil)
}

// decayThrottle implements the token-bucket replenishment from §4.6(3):
// debt drops at ThrottleBytesPerSecond per second of elapsed time,
// floored at zero. Debt itself is not capped; ThrottlePeakBytes only
// gates new sends through canSend. A rate of 0 means throttling is disabled outright: debt is forced to 0
// every tick regardless of ThrottlePeakBytes, rather than decayed
// toward it.
func (c *Connection) decayThrottle(now time.Time) {
	elapsed := now.Sub(c.lastThrottleUpdate).Seconds()
	c.lastThrottleUpdate = now

	if c.cfg.ThrottleBytesPerSecond <= 0 {
		c.throttleDebt = 0
		c.stats.SetThrottleDebt(c.throttleDebt)
		return
	}
	if elapsed <= 0 {
		return
	}
	c.throttleDebt -= c.cfg.ThrottleBytesPerSecond * elapsed
	if c.throttleDebt < 0 {
		c.throttleDebt = 0
	}
	c.stats.SetThrottleDebt(c.throttleDebt)
}

// canSend reports whether nBytes more may go out right now without
// exceeding ThrottlePeakBytes of outstanding debt. ThrottleBytesPerSecond
// == 0 means throttling is disabled outright (§4.6(3)), independent of
// whatever ThrottlePeakBytes is set to.
func (c *Connection) canSend(nBytes int) bool {
	if c.cfg.ThrottleBytesPerSecond <= 0 {
		return true
	}
	return c.throttleDebt+float64(nBytes) <= c.cfg.ThrottlePeakBytes
}

func (c *Connection) chargeThrottle(nBytes int) {
	c.throttleDebt += float64(nBytes)
	c.stats.SetThrottleDebt(c.throttleDebt)
}

// requeueDueResends scans unacked Sending Records and pushes any past
// their NextResend deadline back onto the front of the unsent queue
// (§4.3's retransmission scheduling).
func (c *Connection) requeueDueResends(now time.Time) {
	var due []*SendingRecord
	for key, rec := range c.unacked {
		if !now.Before(rec.NextResend) {
			due = append(due, rec)
			delete(c.unacked, key)
		}
	}
	if len(due) == 0 {
		return
	}
	for _, rec := range due {
		c.stats.AddResend()
	}
	c.enqueueFront(due...)
}

// runSendPipeline drains the unsent queue onto the wire, subject to
// throttling, coalescing multiple small sends into one datagram up to
// the MTU, and piggybacking any pending acks onto each datagram when
// room allows (§4.6).
func (c *Connection) runSendPipeline(now time.Time, sender PacketSender) {
	for {
		n, ok := c.peekFrontLen()
		if !ok {
			break
		}
		if !c.canSend(n) {
			break
		}

		c.sendBuf = c.sendBuf[:0]
		sawDisconnect := false

		for {
			rec := c.dequeueFront()
			if rec == nil {
				break
			}
			encoded := c.encodeRecord(rec)
			if len(c.sendBuf)+len(encoded) > c.cfg.MaximumTransmissionUnit && len(c.sendBuf) > 0 {
				c.enqueueFront(rec)
				break
			}
			c.sendBuf = append(c.sendBuf, encoded...)
			c.afterSend(rec, now)
			if rec.Msg.IsLibrary() && rec.Msg.Library == LibDisconnect {
				sawDisconnect = true
			}
			if !c.cfg.UseMessageCoalescing {
				break
			}
			if _, ok := c.peekFrontLen(); !ok {
				break
			}
		}

		if len(c.sendBuf) == 0 {
			break
		}

		c.maybePiggybackAck(now)

		resetByRemote, err := sender.SendPacket(c.sendBuf, c.RemoteAddr)
		if err != nil {
			c.log().Warn("send failed: " + err.Error())
			break
		}
		if resetByRemote {
			c.setStatus(StatusDisconnected, ReasonConnectionReset)
			return
		}
		c.stats.AddPacketSent(len(c.sendBuf))
		c.chargeThrottle(len(c.sendBuf))

		if sawDisconnect {
			c.finishDisconnect()
			return
		}
	}

	c.flushForcedAck(now, sender)
}

func (c *Connection) encodeRecord(rec *SendingRecord) []byte {
	bitLen := len(rec.Msg.Payload) * 8
	if rec.IsFragment() {
		offset := int(rec.FragmentIndex) * c.cfg.FragmentPayloadSize()
		end := offset + c.cfg.FragmentPayloadSize()
		if end > len(rec.Msg.Payload) {
			end = len(rec.Msg.Payload)
		}
		piece := rec.Msg.Payload[offset:end]
		out := EncodeMessageHeader(nil, rec.Type, rec.SeqNr, len(piece)*8, true)
		out = EncodeFragmentHeader(out, rec.FragmentGroup, rec.FragmentTotal, rec.FragmentIndex)
		out = append(out, piece...)
		return out
	}
	isLibrary := rec.Type == MsgLibrary
	var out []byte
	if isLibrary {
		out = EncodeMessageHeader(nil, rec.Type, rec.SeqNr, bitLen+8, false)
		out = append(out, byte(rec.Msg.Library))
		out = append(out, rec.Msg.Payload...)
		return out
	}
	out = EncodeMessageHeader(nil, rec.Type, rec.SeqNr, bitLen, false)
	out = append(out, rec.Msg.Payload...)
	return out
}

// afterSend bookkeeps a record that was just written to the wire: an
// unreliable send is finished immediately, a reliable send moves to
// the unacked map awaiting its ack, scheduled for its first resend.
func (c *Connection) afterSend(rec *SendingRecord, now time.Time) {
	rec.Sends++
	c.lastSendActivity = now

	if rec.Type == MsgLibrary {
		rec.Msg.release()
		return
	}

	method, _, ok := c.types.Decode(rec.Type)
	if !ok || !method.IsReliable() {
		rec.Msg.release()
		return
	}

	rec.SetNextResend(now, c.rttEstimate)
	key := sendKey{Type: rec.Type, SeqNr: rec.SeqNr, FragmentIndex: rec.FragmentIndex}
	c.unacked[key] = rec
}

// maybePiggybackAck appends as many pending AckEntry records as fit in
// the remaining MTU budget onto the current send buffer. It piggybacks
// only when the ack's message header, its subtype byte and at least one
// AckEntrySize entry fit (9 bytes). Any ack entries that don't fit wait
// for the next tick or the forced-ack deadline.
func (c *Connection) maybePiggybackAck(now time.Time) {
	if len(c.pendingAcks) == 0 {
		return
	}
	room := c.cfg.MaximumTransmissionUnit - len(c.sendBuf) - MessageHeaderSize - 1 // 1 = LibAcknowledge subtype byte
	if room < minAckPiggybackSpace {
		return
	}
	maxEntries := room / AckEntrySize
	if maxEntries > len(c.pendingAcks) {
		maxEntries = len(c.pendingAcks)
	}
	entries := c.pendingAcks[:maxEntries]
	payload := EncodeAck(entries)
	c.sendBuf = EncodeMessageHeader(c.sendBuf, MsgLibrary, 0, (len(payload)+1)*8, false)
	c.sendBuf = append(c.sendBuf, byte(LibAcknowledge))
	c.sendBuf = append(c.sendBuf, payload...)

	c.pendingAcks = c.pendingAcks[maxEntries:]
	if len(c.pendingAcks) == 0 {
		c.nextForcedAckDue = time.Time{}
	}
}

// flushForcedAck sends a standalone Library Ack datagram when acks
// have been pending past MaxAckDelayTime and no outgoing traffic gave
// them a free ride this tick (§4.6).
func (c *Connection) flushForcedAck(now time.Time, sender PacketSender) {
	if len(c.pendingAcks) == 0 {
		return
	}
	if c.nextForcedAckDue.IsZero() || now.Before(c.nextForcedAckDue) {
		return
	}

	payload := EncodeAck(c.pendingAcks)
	buf := EncodeMessageHeader(nil, MsgLibrary, 0, (len(payload)+1)*8, false)
	buf = append(buf, byte(LibAcknowledge))
	buf = append(buf, payload...)

	resetByRemote, err := sender.SendPacket(buf, c.RemoteAddr)
	if err != nil {
		c.log().Warn("forced ack send failed: " + err.Error())
		return
	}
	if resetByRemote {
		c.setStatus(StatusDisconnected, ReasonConnectionReset)
		return
	}
	c.stats.AddPacketSent(len(buf))
	c.chargeThrottle(len(buf))
	c.lastSendActivity = now
	c.pendingAcks = nil
	c.nextForcedAckDue = time.Time{}
}
