//go:build !windows

package main

import (
	"net"
	"time"
)

const dialTimeout = 5 * time.Second

// dialSocket connects to the daemon's Unix domain socket
func dialSocket(socketPath string) (net.Conn, error) {
	return net.DialTimeout("unix", socketPath, dialTimeout)
}
