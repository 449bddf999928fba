//go:build !linux && !windows

package network

import "net"

// ReuseAddrListenConfig returns a plain listen config on platforms where
// the socket option is not wired up.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
