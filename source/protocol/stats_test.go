package protocol

import (
	"testing"
	"time"
)

func TestStatisticsSnapshot(t *testing.T) {
	var s Statistics
	s.AddPacketSent(100)
	s.AddPacketSent(50)
	s.AddPacketReceived(20)
	s.AddResend()
	s.AddDuplicateDropped()
	s.AddFragmentReassembled()
	s.SetRTT(15 * time.Millisecond)
	s.SetThrottleDebt(123.5)

	snap := s.Snapshot()
	if snap.PacketsSent != 2 || snap.BytesSent != 150 {
		t.Errorf("sent: %d packets, %d bytes", snap.PacketsSent, snap.BytesSent)
	}
	if snap.PacketsReceived != 1 || snap.BytesReceived != 20 {
		t.Errorf("received: %d packets, %d bytes", snap.PacketsReceived, snap.BytesReceived)
	}
	if snap.MessagesResent != 1 || snap.DuplicatesDropped != 1 || snap.FragmentsReassembled != 1 {
		t.Errorf("counters = %+v", snap)
	}
	if snap.RTT != 15*time.Millisecond {
		t.Errorf("RTT = %v", snap.RTT)
	}
	if snap.ThrottleDebt != 123.5 {
		t.Errorf("ThrottleDebt = %v", snap.ThrottleDebt)
	}
}
