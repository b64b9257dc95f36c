//go:build !unix

package transport

import "syscall"

// Address reuse is not configured on non-unix platforms.
func reuseControl(reuseAddr, reusePort bool) func(network, address string, c syscall.RawConn) error {
	return nil
}
