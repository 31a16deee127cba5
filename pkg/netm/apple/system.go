package apple

import (
	"io"
	"net"

	"github.com/openoverlayrouter/oord/pkg/lispaddr"
	"github.com/openoverlayrouter/oord/pkg/netm"
)

// IfAddr is one entry of the OS interface address list (getifaddrs).
// Interfaces without any address appear once with a zero Addr.
type IfAddr struct {
	Name    string
	Index   int
	Up      bool
	Running bool
	Addr    lispaddr.Address
}

// System is the OS facility the backend is built on
type System interface {
	// IfAddrs enumerates every interface address
	IfAddrs() ([]IfAddr, error)
	// NameToIndex returns the kernel index of name, 0 if unknown
	NameToIndex(name string) int
	// IndexToName resolves a kernel index
	IndexToName(index int) (string, error)
	// GatewayDump returns the IPv4 routes flagged RTF_GATEWAY as a raw routing dump
	GatewayDump() ([]byte, error)
	// HardwareAddr returns the link-layer address of name
	HardwareAddr(name string) (net.HardwareAddr, error)
	// SourceFor returns the local address selected to reach dst
	SourceFor(dst lispaddr.Address) (lispaddr.Address, error)
	// RouteSocket opens a PF_ROUTE socket delivering one message per read
	RouteSocket() (io.ReadCloser, error)
	// DecodeRouteMessage turns one routing socket message into change events
	DecodeRouteMessage(b []byte) ([]netm.Event, error)
}
