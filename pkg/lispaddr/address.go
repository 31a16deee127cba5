package lispaddr

import (
	"fmt"
	"net"
	"net/netip"
)

// Family identifies the address family of an Address
type Family uint8

const (
	// FamilyNone is the family of the zero Address
	FamilyNone Family = iota
	// FamilyIPv4 is an IPv4 address
	FamilyIPv4
	// FamilyIPv6 is an IPv6 address
	FamilyIPv6
)

// String returns "ipv4", "ipv6" or "none"
func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "none"
	}
}

// ParseFamily accepts "4", "6", "ipv4", "ipv6", "inet" and "inet6"
func ParseFamily(s string) (Family, error) {
	switch s {
	case "4", "ipv4", "inet":
		return FamilyIPv4, nil
	case "6", "ipv6", "inet6":
		return FamilyIPv6, nil
	}
	return FamilyNone, fmt.Errorf("unknown address family %q", s)
}

// Address is an IPv4 or IPv6 address. The zero value is the "no address" value.
// Address is comparable and safe to copy.
type Address struct {
	ip netip.Addr
}

// FromNetIP builds an Address from a netip.Addr, unmapping IPv4-in-IPv6 forms
func FromNetIP(ip netip.Addr) Address {
	if ip.Is4In6() {
		ip = ip.Unmap()
	}
	return Address{ip: ip.WithZone("")}
}

// FromIP builds an Address from a net.IP. A nil or malformed IP yields the zero Address.
func FromIP(ip net.IP) Address {
	a, ok := netip.AddrFromSlice(ip)
	if !ok {
		return Address{}
	}
	return FromNetIP(a)
}

// FromBytes builds an Address from a raw payload of the given family
func FromBytes(family Family, b []byte) (Address, error) {
	switch family {
	case FamilyIPv4:
		if len(b) != 4 {
			return Address{}, fmt.Errorf("ipv4 address needs 4 bytes, got %d", len(b))
		}
		return Address{ip: netip.AddrFrom4([4]byte(b))}, nil
	case FamilyIPv6:
		if len(b) != 16 {
			return Address{}, fmt.Errorf("ipv6 address needs 16 bytes, got %d", len(b))
		}
		return Address{ip: netip.AddrFrom16([16]byte(b))}, nil
	}
	return Address{}, fmt.Errorf("unsupported address family %s", family)
}

// Parse parses a textual numeric address
func Parse(s string) (Address, error) {
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return FromNetIP(ip), nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Any returns the unspecified address of the family (0.0.0.0 or ::)
func Any(family Family) Address {
	switch family {
	case FamilyIPv4:
		return Address{ip: netip.IPv4Unspecified()}
	case FamilyIPv6:
		return Address{ip: netip.IPv6Unspecified()}
	}
	return Address{}
}

// IsValid reports whether a is not the zero Address
func (a Address) IsValid() bool {
	return a.ip.IsValid()
}

// Family returns the family tag of a
func (a Address) Family() Family {
	switch {
	case a.ip.Is4():
		return FamilyIPv4
	case a.ip.Is6():
		return FamilyIPv6
	}
	return FamilyNone
}

// Bytes returns a fresh copy of the raw address payload (4 or 16 bytes)
func (a Address) Bytes() []byte {
	if !a.ip.IsValid() {
		return nil
	}
	return a.ip.AsSlice()
}

// Clone returns an independent copy of a
func (a Address) Clone() Address {
	return Address{ip: a.ip}
}

// Equal reports whether both addresses have the same family and payload
func (a Address) Equal(b Address) bool {
	return a.ip == b.ip
}

// IsLinkLocal reports whether a is a link-local unicast address
// (169.254.0.0/16 or fe80::/10)
func (a Address) IsLinkLocal() bool {
	return a.ip.IsLinkLocalUnicast()
}

// IsUnspecified reports whether a is 0.0.0.0 or ::
func (a Address) IsUnspecified() bool {
	return a.ip.IsUnspecified()
}

// NetIP returns the underlying netip.Addr
func (a Address) NetIP() netip.Addr {
	return a.ip
}

// IP returns a as a net.IP, or nil for the zero Address
func (a Address) IP() net.IP {
	if !a.ip.IsValid() {
		return nil
	}
	return net.IP(a.ip.AsSlice())
}

// String returns the numeric textual form, or "" for the zero Address
func (a Address) String() string {
	if !a.ip.IsValid() {
		return ""
	}
	return a.ip.String()
}

// MarshalText implements encoding.TextMarshaler
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *Address) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*a = Address{}
		return nil
	}
	p, err := Parse(string(b))
	if err != nil {
		return err
	}
	*a = p
	return nil
}
