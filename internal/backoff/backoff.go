// Package backoff implements a small capped-doubling backoff. The
// protocol engine uses one instance per connection to space out
// handshake retries (Connect/ConnectResponse resends) so a peer that
// never answers doesn't get hammered at a fixed interval. Reliable
// message resend deadlines use a different, RTT-scaled formula
// (SendingRecord.SetNextResend) since that delay needs to be
// recomputed from the live RTT estimate on every attempt rather than
// tracked as accumulating state.
package backoff

import "time"

// Backoff tracks a doubling delay clamped to a ceiling. Hit resets it
// to the starting delay; Next returns it and doubles it (capped).
type Backoff struct {
	start   time.Duration
	ceiling time.Duration
	current time.Duration
}

// New returns a Backoff starting at `start` and never exceeding `ceiling`.
func New(start, ceiling time.Duration) Backoff {
	return Backoff{start: start, ceiling: ceiling, current: start}
}

// Hit resets the backoff to its starting delay (the protocol engine
// calls it when a handshake starts, in Connect and respondToConnect).
func (b *Backoff) Hit() {
	b.current = b.start
}

// Next returns the current delay and doubles it for the following call,
// clamped to the ceiling.
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > b.ceiling {
		b.current = b.ceiling
	}
	return d
}

// Current returns the delay that the next call to Next would return,
// without advancing state.
func (b *Backoff) Current() time.Duration {
	return b.current
}
