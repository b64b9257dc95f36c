//go:build unix

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func reuseControl(reuseAddr, reusePort bool) func(network, address string, c syscall.RawConn) error {
	if !reuseAddr && !reusePort {
		return nil
	}
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			if reuseAddr {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}
			if sockErr == nil && reusePort {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			}
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
