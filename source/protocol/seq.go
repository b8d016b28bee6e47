package protocol

// SeqWindow is half the 16-bit sequence space (2^15). It is both the
// width of a reliable channel's acceptance window and the boundary
// between "ahead" and "behind" in Relate's result.
const SeqWindow uint16 = 1 << 15

// Relate returns (a - b) mod 2^16. Callers interpret the result
// themselves: 0 means equal, 1..SeqWindow means a is ahead of b by
// that many, SeqWindow+1..65535 means a is behind b (modular past).
// No sequence number comparison anywhere in this package uses raw <.
func Relate(a, b uint16) uint16 {
	return a - b
}

// SeqAhead reports whether a is strictly ahead of b, modularly.
func SeqAhead(a, b uint16) bool {
	d := Relate(a, b)
	return d != 0 && d <= SeqWindow
}

// SeqWithinWindow reports whether seq falls within the reliable
// acceptance window anchored at expected: seq == expected, or seq is
// ahead of expected by at most SeqWindow.
func SeqWithinWindow(seq, expected uint16) bool {
	d := Relate(seq, expected)
	return d <= SeqWindow
}
