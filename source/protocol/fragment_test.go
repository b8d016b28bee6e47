package protocol

import (
	"net"
	"testing"
)

func TestFragmentAssemblerReassembly(t *testing.T) {
	a := NewFragmentAssembler()
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1234}

	fragSize := 4
	parts := [][]byte{
		[]byte("abcd"),
		[]byte("efgh"),
		[]byte("ij"),
	}

	var last *IncomingMessage
	for i, p := range parts {
		outcome, msg := a.Insert(1, len(parts), i, fragSize, p, msgUnreliableBase, 7, addr)
		if i < len(parts)-1 {
			if outcome != FragmentPartial {
				t.Fatalf("fragment %d: outcome = %v, want Partial", i, outcome)
			}
		} else {
			if outcome != FragmentCompleted {
				t.Fatalf("final fragment: outcome = %v, want Completed", outcome)
			}
			last = msg
		}
	}

	want := "abcdefghij"
	if got := string(last.Payload); got != want {
		t.Errorf("reassembled payload = %q, want %q", got, want)
	}
}

func TestFragmentAssemblerDuplicate(t *testing.T) {
	a := NewFragmentAssembler()
	addr := &net.UDPAddr{}

	if outcome, _ := a.Insert(1, 2, 0, 4, []byte("abcd"), msgUnreliableBase, 0, addr); outcome != FragmentPartial {
		t.Fatalf("first insert: outcome = %v, want Partial", outcome)
	}
	if outcome, _ := a.Insert(1, 2, 0, 4, []byte("abcd"), msgUnreliableBase, 0, addr); outcome != FragmentDuplicate {
		t.Fatalf("repeat insert: outcome = %v, want Duplicate", outcome)
	}
}

func TestFragmentAssemblerInvalidIndex(t *testing.T) {
	a := NewFragmentAssembler()
	addr := &net.UDPAddr{}
	if outcome, _ := a.Insert(1, 2, 2, 4, []byte("abcd"), msgUnreliableBase, 0, addr); outcome != FragmentInvalid {
		t.Errorf("index >= total: outcome = %v, want Invalid", outcome)
	}
}

func TestFragmentAssemblerOutOfOrderArrival(t *testing.T) {
	a := NewFragmentAssembler()
	addr := &net.UDPAddr{}

	if outcome, _ := a.Insert(5, 3, 2, 4, []byte("ij"), msgUnreliableBase, 0, addr); outcome != FragmentPartial {
		t.Fatalf("out-of-order fragment 2: outcome = %v", outcome)
	}
	if outcome, _ := a.Insert(5, 3, 0, 4, []byte("abcd"), msgUnreliableBase, 0, addr); outcome != FragmentPartial {
		t.Fatalf("fragment 0: outcome = %v", outcome)
	}
	outcome, msg := a.Insert(5, 3, 1, 4, []byte("efgh"), msgUnreliableBase, 0, addr)
	if outcome != FragmentCompleted {
		t.Fatalf("final fragment: outcome = %v, want Completed", outcome)
	}
	if string(msg.Payload) != "abcdefghij" {
		t.Errorf("reassembled payload = %q", string(msg.Payload))
	}
}
