package network

import (
	"context"
	"fmt"
	"net"
)

// Listen opens a TCP listener with address reuse enabled.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, nil
}
