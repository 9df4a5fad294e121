//go:build !unix

package server

import "syscall"

// reusePortControl is a no-op where SO_REUSEPORT is unavailable.
func reusePortControl(network, address string, c syscall.RawConn) error {
	return nil
}
