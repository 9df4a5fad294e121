//go:build unix

package server

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reusePortControl enables SO_REUSEADDR and SO_REUSEPORT before bind, so
// multiple server processes (and the cluster accept loops) can share a
// port with kernel-level load distribution.
func reusePortControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			sockErr = err
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
