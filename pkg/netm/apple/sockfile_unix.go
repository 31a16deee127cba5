//go:build unix

package apple

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// socketFile wraps a raw socket in an *os.File registered with the runtime
// poller, so Close interrupts a pending Read
func socketFile(fd int, name string) (*os.File, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set %s socket non-blocking: %w", name, err)
	}
	return os.NewFile(uintptr(fd), name), nil
}
