// Package netm is the network manager of the overlay router. It tracks the host's
// interfaces, addresses, link state and default gateways through a platform
// Backend and turns the platform's notifications into Link, Address and Route
// change events.
package netm

import (
	"context"
	"net"
	"net/netip"
	"strings"

	"github.com/openoverlayrouter/oord/pkg/lispaddr"
)

// Backend is the capability set every platform implementation provides.
// A Backend is not safe for concurrent use; Manager serializes every call.
type Backend interface {
	// Name identifies the backend in logs ("kernel", "apple", "ios", "vpp")
	Name() string

	// Init acquires the OS resources of the backend and starts its event
	// sources. Raw notifications are posted on notify until ctx is done or
	// Uninit is called. Fails with a KindInit error.
	Init(ctx context.Context, notify chan<- Notification) error

	// Uninit releases the resources acquired by Init. It is idempotent.
	Uninit() error

	// InterfaceNames lists the configured, administratively up interfaces.
	// It returns an empty list when enumeration is impossible.
	InterfaceNames() []string

	// Addresses lists the non link-local addresses of family on name
	Addresses(name string, family lispaddr.Family) []lispaddr.Address

	// BestSourceAddress returns the address the OS would use to reach dst.
	// ok is false when the backend cannot tell.
	BestSourceAddress(dst lispaddr.Address) (src lispaddr.Address, ok bool)

	// Gateway returns the default gateway of name for family.
	// ok is false when no default route is programmed.
	Gateway(name string, family lispaddr.Family) (gw lispaddr.Address, ok bool)

	// Status computes the current status of name
	Status(name string) Status

	// Index returns the kernel index of name, or 0 when it is not found
	Index(name string) int

	// MACAddress returns the hardware address of name, or ErrUnsupported
	MACAddress(name string) (net.HardwareAddr, error)

	// InterfaceForPrefix returns the interface holding an address inside prefix
	InterfaceForPrefix(prefix netip.Prefix) (name string, ok bool)

	// ReloadRoutes forces a re-read of the routing table for family
	ReloadRoutes(table uint32, family lispaddr.Family) error

	// ReverseAddressTable walks every interface address once and maps the
	// numeric address text to the interface name
	ReverseAddressTable() (AddressTable, error)

	// Translate decodes a raw notification into normalized change events.
	// It is only called from the Manager's event loop and may query the
	// backend itself.
	Translate(n Notification) ([]Event, error)
}

// PolicySetter is implemented by backends whose status policy can be
// replaced at runtime
type PolicySetter interface {
	SetPolicy(p StatusPolicy)
}

// Notification is a raw, backend specific change hint
type Notification struct {
	// Source names the event source, e.g. "link", "addr", "route", "tunnel-provider"
	Source string

	// Payload is the undecoded message of the source
	Payload any
}

// AddressTable maps the numeric form of an address to the interface owning it.
// IPv6 link-local addresses are only unique per link and carry the
// interface as scope ("fe80::1%en0").
type AddressTable map[string]string

// Add records that name holds a
func (t AddressTable) Add(a lispaddr.Address, name string) {
	t[tableKey(a, name)] = name
}

func tableKey(a lispaddr.Address, name string) string {
	if a.Family() == lispaddr.FamilyIPv6 && a.IsLinkLocal() {
		return a.String() + "%" + name
	}
	return a.String()
}

// Lookup returns the interface owning a. An unscoped link-local address
// only resolves when exactly one interface holds it.
func (t AddressTable) Lookup(a lispaddr.Address) (string, bool) {
	if name, ok := t[a.String()]; ok {
		return name, true
	}
	if a.Family() != lispaddr.FamilyIPv6 || !a.IsLinkLocal() {
		return "", false
	}

	prefix := a.String() + "%"
	var found string
	matches := 0
	for key, name := range t {
		if strings.HasPrefix(key, prefix) {
			found = name
			matches++
		}
	}
	return found, matches == 1
}
