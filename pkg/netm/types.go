package netm

import (
	"fmt"

	"github.com/openoverlayrouter/oord/pkg/lispaddr"
)

// Status is the link status of an interface
type Status uint8

const (
	// StatusUnknown means no assertion has been made yet
	StatusUnknown Status = iota
	StatusDown
	StatusUp
	// StatusNoExist means the interface is not currently known to the OS
	StatusNoExist
)

func (s Status) String() string {
	switch s {
	case StatusDown:
		return "down"
	case StatusUp:
		return "up"
	case StatusNoExist:
		return "no-exist"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "down":
		*s = StatusDown
	case "up":
		*s = StatusUp
	case "no-exist":
		*s = StatusNoExist
	case "unknown", "":
		*s = StatusUnknown
	default:
		return fmt.Errorf("unknown interface status %q", b)
	}
	return nil
}

// Interface is a snapshot of a network interface
type Interface struct {
	Name   string             `json:"name"`
	Index  int                `json:"index"`
	Status Status             `json:"status"`
	IPv4   []lispaddr.Address `json:"ipv4,omitempty"`
	IPv6   []lispaddr.Address `json:"ipv6,omitempty"`
	GW4    lispaddr.Address   `json:"gateway4,omitempty"`
	GW6    lispaddr.Address   `json:"gateway6,omitempty"`
	MAC    string             `json:"mac,omitempty"`
}

// Clone returns a deep copy of i
func (i Interface) Clone() Interface {
	c := i
	c.IPv4 = append([]lispaddr.Address(nil), i.IPv4...)
	c.IPv6 = append([]lispaddr.Address(nil), i.IPv6...)
	return c
}

// Addresses returns the address list of family
func (i *Interface) Addresses(family lispaddr.Family) []lispaddr.Address {
	if family == lispaddr.FamilyIPv6 {
		return i.IPv6
	}
	return i.IPv4
}

// Op is the operation carried by address and route events
type Op uint8

const (
	OpAdd Op = iota + 1
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpDelete:
		return "delete"
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Event is one of LinkChanged, AddressChanged or RouteChanged
type Event interface {
	// Kind returns "link", "address" or "route"
	Kind() string
	fmt.Stringer
}

// LinkChanged reports a link state transition. NewIndex differs from Index
// when the kernel renumbered the interface.
type LinkChanged struct {
	Index    int
	NewIndex int
	State    Status
}

func (LinkChanged) Kind() string { return "link" }

func (e LinkChanged) String() string {
	return fmt.Sprintf("link(%d->%d, %s)", e.Index, e.NewIndex, e.State)
}

// AddressChanged reports an address added to or removed from an interface
type AddressChanged struct {
	Op      Op
	Index   int
	Address lispaddr.Address
}

func (AddressChanged) Kind() string { return "address" }

func (e AddressChanged) String() string {
	return fmt.Sprintf("address(%s, %d, %s)", e.Op, e.Index, e.Address)
}

// RouteChanged reports a route added or removed
type RouteChanged struct {
	Op          Op
	Index       int
	Destination lispaddr.Address
	Gateway     lispaddr.Address
	Source      lispaddr.Address
}

func (RouteChanged) Kind() string { return "route" }

func (e RouteChanged) String() string {
	return fmt.Sprintf("route(%s, %d, %s, %s, %s)", e.Op, e.Index, e.Destination, e.Gateway, e.Source)
}

// Handler is the upstream consumer of change events
type Handler interface {
	LinkChanged(index, newIndex int, state Status)
	AddressChanged(op Op, index int, addr lispaddr.Address)
	RouteChanged(op Op, index int, dst, gw, src lispaddr.Address)
}

// Deliver invokes the Handler method matching ev
func Deliver(h Handler, ev Event) {
	switch e := ev.(type) {
	case LinkChanged:
		h.LinkChanged(e.Index, e.NewIndex, e.State)
	case AddressChanged:
		h.AddressChanged(e.Op, e.Index, e.Address)
	case RouteChanged:
		h.RouteChanged(e.Op, e.Index, e.Destination, e.Gateway, e.Source)
	}
}
