package protocol

import "testing"

func TestMessageHeaderRoundTrip(t *testing.T) {
	buf := EncodeMessageHeader(nil, MessageType(7), 1234, 800, false)
	mt, seq, bits, frag, n, err := DecodeMessageHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != MessageHeaderSize {
		t.Errorf("consumed %d bytes, want %d", n, MessageHeaderSize)
	}
	if mt != 7 || seq != 1234 || bits != 800 || frag {
		t.Errorf("got (%d, %d, %d, %v)", mt, seq, bits, frag)
	}
}

func TestMessageHeaderFragmentFlag(t *testing.T) {
	buf := EncodeMessageHeader(nil, MessageType(2), 1, 500, true)
	_, _, bits, frag, _, err := DecodeMessageHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !frag {
		t.Error("fragment flag lost on round trip")
	}
	if bits != 500 {
		t.Errorf("bit length = %d, want 500", bits)
	}
}

func TestFragmentHeaderRoundTrip(t *testing.T) {
	buf := EncodeFragmentHeader(nil, 42, 3, 1)
	group, total, index, n, err := DecodeFragmentHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != FragmentHeaderSize || group != 42 || total != 3 || index != 1 {
		t.Errorf("got (%d, %d, %d, %d)", group, total, index, n)
	}
}

func TestPingPongRoundTrip(t *testing.T) {
	buf := EncodePing(9)
	id, err := DecodePing(buf)
	if err != nil || id != 9 {
		t.Fatalf("ping round trip: id=%d err=%v", id, err)
	}

	pbuf := EncodePong(9, 123.456)
	id, remote, err := DecodePong(pbuf)
	if err != nil || id != 9 {
		t.Fatalf("pong round trip: id=%d err=%v", id, err)
	}
	if remote != 123.456 {
		t.Errorf("pong remote time = %v, want 123.456", remote)
	}
}

func TestAckRoundTrip(t *testing.T) {
	entries := []AckEntry{
		{Type: 2, SeqNr: 10},
		{Type: 2, SeqNr: 11},
		{Type: 5, SeqNr: 3},
	}
	buf := EncodeAck(entries)
	if len(buf) != len(entries)*AckEntrySize {
		t.Fatalf("encoded length = %d, want %d", len(buf), len(entries)*AckEntrySize)
	}
	got := DecodeAck(buf)
	if len(got) != len(entries) {
		t.Fatalf("decoded %d entries, want %d", len(got), len(entries))
	}
	for i, e := range entries {
		if got[i] != e {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], e)
		}
	}
}

func TestDisconnectRoundTrip(t *testing.T) {
	buf := EncodeDisconnect("server shutting down")
	reason, err := DecodeDisconnect(buf)
	if err != nil {
		t.Fatal(err)
	}
	if reason != "server shutting down" {
		t.Errorf("reason = %q", reason)
	}
}

func TestDecodeMessageHeaderShort(t *testing.T) {
	if _, _, _, _, _, err := DecodeMessageHeader([]byte{1, 2}); err == nil {
		t.Error("expected error decoding a short buffer")
	}
}
