//go:build !linux

package kernel

import (
	"fmt"
	"runtime"

	"github.com/openoverlayrouter/oord/pkg/netm"
)

// New is only available on Linux
func New(cfg Config) (netm.Backend, error) {
	return nil, netm.InitError("kernel backend", fmt.Errorf("netlink is not available on %s: %w", runtime.GOOS, netm.ErrUnsupported))
}
