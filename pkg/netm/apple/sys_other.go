//go:build !darwin

package apple

import (
	"fmt"
	"runtime"

	"github.com/openoverlayrouter/oord/pkg/netm"
	"github.com/openoverlayrouter/oord/pkg/netm/rtmsg"
)

func newSystem() (System, error) {
	return nil, fmt.Errorf("routing socket backend is not available on %s: %w", runtime.GOOS, netm.ErrUnsupported)
}

func defaultLayout() rtmsg.Layout {
	return rtmsg.Darwin
}
