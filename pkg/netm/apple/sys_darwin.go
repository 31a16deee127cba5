//go:build darwin

package apple

import (
	"fmt"
	"io"
	"net"

	"golang.org/x/net/route"
	"golang.org/x/sys/unix"

	"github.com/openoverlayrouter/oord/pkg/lispaddr"
	"github.com/openoverlayrouter/oord/pkg/netm"
	"github.com/openoverlayrouter/oord/pkg/netm/rtmsg"
)

type darwinSystem struct{}

func newSystem() (System, error) {
	return darwinSystem{}, nil
}

func defaultLayout() rtmsg.Layout {
	return rtmsg.Darwin
}

func fromRouteAddr(a route.Addr) (lispaddr.Address, bool) {
	var (
		out lispaddr.Address
		err error
	)
	switch v := a.(type) {
	case *route.Inet4Addr:
		out, err = lispaddr.FromBytes(lispaddr.FamilyIPv4, v.IP[:])
	case *route.Inet6Addr:
		out, err = lispaddr.FromBytes(lispaddr.FamilyIPv6, v.IP[:])
	default:
		return lispaddr.Address{}, false
	}
	return out, err == nil
}

// IfAddrs walks a NET_RT_IFLIST dump, the data getifaddrs is built from
func (darwinSystem) IfAddrs() ([]IfAddr, error) {
	rib, err := route.FetchRIB(unix.AF_UNSPEC, route.RIBTypeInterface, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch interface list: %w", err)
	}
	msgs, err := route.ParseRIB(route.RIBTypeInterface, rib)
	if err != nil {
		return nil, fmt.Errorf("failed to parse interface list: %w", err)
	}

	links := make(map[int]IfAddr)
	var out []IfAddr
	for _, m := range msgs {
		switch v := m.(type) {
		case *route.InterfaceMessage:
			links[v.Index] = IfAddr{
				Name:    v.Name,
				Index:   v.Index,
				Up:      v.Flags&unix.IFF_UP != 0,
				Running: v.Flags&unix.IFF_RUNNING != 0,
			}
		case *route.InterfaceAddrMessage:
			link, ok := links[v.Index]
			if !ok || len(v.Addrs) <= unix.RTAX_IFA {
				continue
			}
			if a, ok := fromRouteAddr(v.Addrs[unix.RTAX_IFA]); ok {
				entry := link
				entry.Addr = a
				out = append(out, entry)
				link.Addr = a
				links[v.Index] = link
			}
		}
	}
	for _, link := range links {
		if !link.Addr.IsValid() {
			out = append(out, link)
		}
	}
	return out, nil
}

func (darwinSystem) NameToIndex(name string) int {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return 0
	}
	return ifi.Index
}

func (darwinSystem) IndexToName(index int) (string, error) {
	ifi, err := net.InterfaceByIndex(index)
	if err != nil {
		return "", err
	}
	return ifi.Name, nil
}

// GatewayDump performs the size-then-fetch sysctl {CTL_NET, PF_ROUTE, 0, AF_INET, NET_RT_FLAGS, RTF_GATEWAY}
func (darwinSystem) GatewayDump() ([]byte, error) {
	return route.FetchRIB(unix.AF_INET, route.RIBType(unix.NET_RT_FLAGS), unix.RTF_GATEWAY)
}

func (darwinSystem) HardwareAddr(name string) (net.HardwareAddr, error) {
	rib, err := route.FetchRIB(unix.AF_UNSPEC, route.RIBTypeInterface, 0)
	if err != nil {
		return nil, err
	}
	msgs, err := route.ParseRIB(route.RIBTypeInterface, rib)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		im, ok := m.(*route.InterfaceMessage)
		if !ok || im.Name != name {
			continue
		}
		for _, a := range im.Addrs {
			if la, ok := a.(*route.LinkAddr); ok && len(la.Addr) == 6 {
				return net.HardwareAddr(la.Addr), nil
			}
		}
		return nil, netm.ErrUnsupported
	}
	return nil, netm.ErrNoExist
}

func (darwinSystem) SourceFor(dst lispaddr.Address) (lispaddr.Address, error) {
	// connecting a UDP socket selects the route without sending anything
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: dst.IP(), Port: 4342})
	if err != nil {
		return lispaddr.Address{}, err
	}
	defer conn.Close()
	return lispaddr.FromIP(conn.LocalAddr().(*net.UDPAddr).IP), nil
}

func (darwinSystem) RouteSocket() (io.ReadCloser, error) {
	fd, err := unix.Socket(unix.AF_ROUTE, unix.SOCK_RAW, unix.AF_UNSPEC)
	if err != nil {
		return nil, fmt.Errorf("failed to open routing socket: %w", err)
	}
	return socketFile(fd, "route")
}

func (darwinSystem) DecodeRouteMessage(b []byte) ([]netm.Event, error) {
	msgs, err := route.ParseRIB(route.RIBTypeRoute, b)
	if err != nil {
		return nil, err
	}

	var events []netm.Event
	for _, m := range msgs {
		switch v := m.(type) {
		case *route.InterfaceMessage:
			state := netm.StatusDown
			if v.Flags&unix.IFF_UP != 0 && v.Flags&unix.IFF_RUNNING != 0 {
				state = netm.StatusUp
			}
			events = append(events, netm.LinkChanged{Index: v.Index, NewIndex: v.Index, State: state})
		case *route.InterfaceAddrMessage:
			op := netm.OpAdd
			if v.Type == unix.RTM_DELADDR {
				op = netm.OpDelete
			}
			if len(v.Addrs) <= unix.RTAX_IFA {
				continue
			}
			if a, ok := fromRouteAddr(v.Addrs[unix.RTAX_IFA]); ok && !a.IsLinkLocal() {
				events = append(events, netm.AddressChanged{Op: op, Index: v.Index, Address: a})
			}
		case *route.RouteMessage:
			var op netm.Op
			switch v.Type {
			case unix.RTM_ADD:
				op = netm.OpAdd
			case unix.RTM_DELETE:
				op = netm.OpDelete
			default:
				continue
			}
			ev := netm.RouteChanged{Op: op, Index: v.Index}
			if len(v.Addrs) > unix.RTAX_GATEWAY {
				ev.Destination, _ = fromRouteAddr(v.Addrs[unix.RTAX_DST])
				ev.Gateway, _ = fromRouteAddr(v.Addrs[unix.RTAX_GATEWAY])
			}
			if len(v.Addrs) > unix.RTAX_IFA {
				ev.Source, _ = fromRouteAddr(v.Addrs[unix.RTAX_IFA])
			}
			events = append(events, ev)
		}
	}
	return events, nil
}
