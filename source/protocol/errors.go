package protocol

import "fmt"

// ProgrammerError marks an API misuse that fails fast rather than
// degrading: an invalid delivery method, an invalid channel, or
// sending a message that was already sent (§7).
type ProgrammerError struct {
	Op     string
	Reason string
}

func (e *ProgrammerError) Error() string {
	return fmt.Sprintf("protocol: programmer error in %s: %s", e.Op, e.Reason)
}

// ProtocolWarning marks a transient remote error (duplicate message,
// malformed ping/pong, unknown library type): logged, the offending
// message dropped, the connection otherwise unaffected (§7).
type ProtocolWarning struct {
	Op     string
	Reason string
}

func (e *ProtocolWarning) Error() string {
	return fmt.Sprintf("protocol: dropped message in %s: %s", e.Op, e.Reason)
}

// DisconnectReason is a fixed, user-visible string carried on every
// Disconnected transition (§4.5, §7 connection-fatal errors).
type DisconnectReason string

const (
	ReasonUserRequested      DisconnectReason = "user requested disconnect"
	ReasonRemoteDisconnected DisconnectReason = "remote disconnected"
	ReasonTimeout            DisconnectReason = "timed out"
	ReasonHandshakeFailed    DisconnectReason = "failed to complete handshake"
	ReasonConnectionReset    DisconnectReason = "connection reset by remote host"
	ReasonDenied             DisconnectReason = "connection denied by local application"
)
