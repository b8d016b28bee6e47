package protocol

import "testing"

func TestSeqAheadWraparound(t *testing.T) {
	cases := []struct {
		a, b  uint16
		ahead bool
	}{
		{1, 0, true},
		{0, 1, false},
		{0, 65535, true},
		{65535, 0, false},
		{100, 100, false},
		{32768, 0, true},
		{32769, 0, false},
	}
	for _, c := range cases {
		if got := SeqAhead(c.a, c.b); got != c.ahead {
			t.Errorf("SeqAhead(%d, %d) = %v, want %v", c.a, c.b, got, c.ahead)
		}
	}
}

func TestSeqWithinWindow(t *testing.T) {
	if !SeqWithinWindow(100, 100) {
		t.Error("expected seq == expected to be within window")
	}
	if !SeqWithinWindow(100+SeqWindow, 100) {
		t.Error("expected seq at exactly SeqWindow ahead to be within window")
	}
	if SeqWithinWindow(100+SeqWindow+1, 100) {
		t.Error("expected seq one past SeqWindow to be outside window")
	}
}
