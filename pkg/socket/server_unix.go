//go:build !windows

package socket

import (
	"fmt"
	"net"
	"os"
)

// createListener creates a Unix domain socket listener
func (s *Server) createListener() (net.Listener, error) {
	// A stale socket from a previous run blocks the bind
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create unix socket: %w", err)
	}

	// oorctl runs unprivileged
	if err := os.Chmod(s.socketPath, 0666); err != nil {
		s.logger.Error(err, "Failed to set socket permissions")
	}

	return listener, nil
}

func (s *Server) removeSocket() {
	os.Remove(s.socketPath)
}
