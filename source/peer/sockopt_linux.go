//go:build linux

package peer

import (
	"errors"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/ravelnet/ravel/pkg/logger"
)

// socketBufferBytes is the SO_RCVBUF/SO_SNDBUF size requested on the
// peer's UDP socket. A busy peer fanning out to many connections
// benefits from a deeper kernel buffer than Go's net package asks for
// by default, trading memory for fewer dropped datagrams under burst.
const socketBufferBytes = 4 << 20

// tuneSocketBuffers raises the kernel socket buffers on conn via
// SO_RCVBUF/SO_SNDBUF. Best-effort: a failure here only means the
// default (usually much smaller) kernel buffer stays in place.
func tuneSocketBuffers(conn *net.UDPConn) {
	raw, err := conn.SyscallConn()
	if err != nil {
		logger.Warn("peer: could not obtain raw socket conn for buffer tuning: %v", err)
		return
	}
	ctrlErr := raw.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, socketBufferBytes); err != nil {
			logger.Warn("peer: SO_RCVBUF failed: %v", err)
		}
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, socketBufferBytes); err != nil {
			logger.Warn("peer: SO_SNDBUF failed: %v", err)
		}
	})
	if ctrlErr != nil {
		logger.Warn("peer: socket control failed: %v", ctrlErr)
	}
}

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
