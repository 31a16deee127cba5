//go:build windows

package main

import (
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

const dialTimeout = 5 * time.Second

// dialSocket connects to the daemon's named pipe
func dialSocket(socketPath string) (net.Conn, error) {
	timeout := dialTimeout
	return winio.DialPipe(socketPath, &timeout)
}
