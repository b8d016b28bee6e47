//go:build !linux

package peer

import "net"

// tuneSocketBuffers is a no-op outside Linux: the SO_RCVBUF/SO_SNDBUF
// tuning in sockopt_linux.go uses golang.org/x/sys/unix, which has no
// portable equivalent worth chasing for every platform.
func tuneSocketBuffers(conn *net.UDPConn) {}

func isConnRefused(err error) bool { return false }
