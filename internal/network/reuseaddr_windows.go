//go:build windows

package network

import (
	"net"
	"syscall"
)

// reuseAddrListenConfig sets SO_REUSEADDR before binding so a restarted
// bridge can take its port back while the old socket sits in TIME_WAIT.
func reuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
		},
	}
}

// ListenConfig returns the listen configuration shared by every server socket
// of the bridge.
func ListenConfig() net.ListenConfig {
	return reuseAddrListenConfig()
}
