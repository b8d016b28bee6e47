package protocol

import (
	"math"
	"sync/atomic"
	"time"
)

// Statistics accumulates the counters named in §3 (a Connection's
// "statistics" attribute). Every field is updated from the network
// thread and read from arbitrary goroutines via Snapshot, so it is
// kept as a set of atomics rather than a mutex-guarded struct — the
// same "explicit atomic integer" approach §9 calls for on the
// outgoing-message refcount, applied here to the hotter counters.
type Statistics struct {
	packetsSent          atomic.Uint64
	packetsReceived      atomic.Uint64
	bytesSent            atomic.Uint64
	bytesReceived        atomic.Uint64
	messagesResent       atomic.Uint64
	duplicatesDropped    atomic.Uint64
	fragmentsReassembled atomic.Uint64
	rttNanos             atomic.Int64
	throttleDebtBits     atomic.Uint64
}

// StatsSnapshot is an immutable copy of Statistics at one instant,
// safe to hand to the application as the read-only "statistics"
// property from §6's API surface.
type StatsSnapshot struct {
	PacketsSent          uint64
	PacketsReceived      uint64
	BytesSent            uint64
	BytesReceived        uint64
	MessagesResent       uint64
	DuplicatesDropped    uint64
	FragmentsReassembled uint64
	RTT                  time.Duration
	ThrottleDebt         float64
}

func (s *Statistics) AddPacketSent(bytes int) {
	s.packetsSent.Add(1)
	s.bytesSent.Add(uint64(bytes))
}

func (s *Statistics) AddPacketReceived(bytes int) {
	s.packetsReceived.Add(1)
	s.bytesReceived.Add(uint64(bytes))
}

func (s *Statistics) AddResend()               { s.messagesResent.Add(1) }
func (s *Statistics) AddDuplicateDropped()      { s.duplicatesDropped.Add(1) }
func (s *Statistics) AddFragmentReassembled()   { s.fragmentsReassembled.Add(1) }

func (s *Statistics) SetRTT(d time.Duration) {
	s.rttNanos.Store(int64(d))
}

func (s *Statistics) RTT() time.Duration {
	return time.Duration(s.rttNanos.Load())
}

func (s *Statistics) SetThrottleDebt(debt float64) {
	s.throttleDebtBits.Store(math.Float64bits(debt))
}

func (s *Statistics) ThrottleDebt() float64 {
	return math.Float64frombits(s.throttleDebtBits.Load())
}

// Snapshot copies every counter into a plain value safe to read
// without further synchronization.
func (s *Statistics) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		PacketsSent:          s.packetsSent.Load(),
		PacketsReceived:      s.packetsReceived.Load(),
		BytesSent:            s.bytesSent.Load(),
		BytesReceived:        s.bytesReceived.Load(),
		MessagesResent:       s.messagesResent.Load(),
		DuplicatesDropped:    s.duplicatesDropped.Load(),
		FragmentsReassembled: s.fragmentsReassembled.Load(),
		RTT:                  s.RTT(),
		ThrottleDebt:         s.ThrottleDebt(),
	}
}
