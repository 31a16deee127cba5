package vpp

import (
	"fmt"
	"net"
	"net/netip"
	"sort"

	"github.com/openoverlayrouter/oord/pkg/lispaddr"
	"github.com/openoverlayrouter/oord/pkg/netm"
)

type iface struct {
	name    string
	index   int
	up      bool
	running bool
	mac     net.HardwareAddr
	addrs   []netip.Prefix
}

func (i *iface) state() netm.Status {
	if i.up && i.running {
		return netm.StatusUp
	}
	return netm.StatusDown
}

type route struct {
	vrf uint32
	dst netip.Prefix
	gw  lispaddr.Address
	out string
}

func (r route) isDefault() bool {
	return r.dst.Bits() == 0
}

// snapshot is the decoded state of the agent at one point in time
type snapshot struct {
	ifaces map[string]*iface
	routes []route
}

func (s *snapshot) byIndex(index int) *iface {
	for _, i := range s.ifaces {
		if i.index == index {
			return i
		}
	}
	return nil
}

func (s *snapshot) index(name string) int {
	if i, ok := s.ifaces[name]; ok {
		return i.index
	}
	return 0
}

// sorted returns the interfaces by ascending index
func (s *snapshot) sorted() []*iface {
	out := make([]*iface, 0, len(s.ifaces))
	for _, i := range s.ifaces {
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].index < out[b].index })
	return out
}

// decode builds a snapshot. sw_if_index 0 is VPP's local0 and is never
// reported, since 0 is the "unknown interface" index. Malformed entries are
// skipped and returned as errors alongside the usable snapshot.
func decode(ifs []InterfaceDump, rs []RouteDump) (*snapshot, []error) {
	s := &snapshot{ifaces: make(map[string]*iface)}
	var errs []error

	for _, d := range ifs {
		if d.Meta.SwIfIndex == 0 || d.Interface.Name == "" {
			continue
		}
		i := &iface{
			name:    d.Interface.Name,
			index:   d.Meta.SwIfIndex,
			up:      d.Interface.Enabled,
			running: d.Meta.IsLinkUp,
		}
		if d.Interface.PhysAddress != "" {
			mac, err := net.ParseMAC(d.Interface.PhysAddress)
			if err != nil {
				errs = append(errs, fmt.Errorf("interface %s: %w", i.name, err))
			} else {
				i.mac = mac
			}
		}
		for _, a := range d.Interface.IPAddresses {
			p, err := netip.ParsePrefix(a)
			if err != nil {
				errs = append(errs, fmt.Errorf("interface %s: %w", i.name, err))
				continue
			}
			i.addrs = append(i.addrs, p)
		}
		s.ifaces[i.name] = i
	}

	for _, d := range rs {
		dst, err := netip.ParsePrefix(d.Route.DstNetwork)
		if err != nil {
			errs = append(errs, fmt.Errorf("route %q: %w", d.Route.DstNetwork, err))
			continue
		}
		r := route{vrf: d.Route.VrfID, dst: dst.Masked(), out: d.Route.OutgoingInterface}
		if d.Route.NextHopAddr != "" {
			gw, err := lispaddr.Parse(d.Route.NextHopAddr)
			if err != nil {
				errs = append(errs, fmt.Errorf("route %s: %w", dst, err))
				continue
			}
			if !gw.IsUnspecified() {
				r.gw = gw
			}
		}
		s.routes = append(s.routes, r)
	}
	return s, errs
}

func addrOf(p netip.Prefix) lispaddr.Address {
	return lispaddr.FromNetIP(p.Addr())
}

// diff returns the events turning prev into next: per interface in index
// order the link change then its address changes, then the route changes.
func diff(prev, next *snapshot) []netm.Event {
	var events []netm.Event

	for _, ni := range next.sorted() {
		pi, existed := prev.ifaces[ni.name]
		if !existed || pi.index != ni.index || pi.state() != ni.state() {
			events = append(events, netm.LinkChanged{Index: ni.index, NewIndex: ni.index, State: ni.state()})
		}

		var before []netip.Prefix
		if existed {
			before = pi.addrs
		}
		for _, p := range before {
			if !containsPrefix(ni.addrs, p) && !addrOf(p).IsLinkLocal() {
				events = append(events, netm.AddressChanged{Op: netm.OpDelete, Index: ni.index, Address: addrOf(p)})
			}
		}
		for _, p := range ni.addrs {
			if !containsPrefix(before, p) && !addrOf(p).IsLinkLocal() {
				events = append(events, netm.AddressChanged{Op: netm.OpAdd, Index: ni.index, Address: addrOf(p)})
			}
		}
	}

	for _, pi := range prev.sorted() {
		if _, ok := next.ifaces[pi.name]; !ok {
			events = append(events, netm.LinkChanged{Index: pi.index, NewIndex: pi.index, State: netm.StatusNoExist})
		}
	}

	for _, r := range prev.routes {
		if !containsRoute(next.routes, r) {
			events = append(events, routeEvent(netm.OpDelete, r, prev))
		}
	}
	for _, r := range next.routes {
		if !containsRoute(prev.routes, r) {
			events = append(events, routeEvent(netm.OpAdd, r, next))
		}
	}
	return events
}

func routeEvent(op netm.Op, r route, s *snapshot) netm.Event {
	return netm.RouteChanged{
		Op:          op,
		Index:       s.index(r.out),
		Destination: addrOf(r.dst),
		Gateway:     r.gw,
	}
}

func containsPrefix(list []netip.Prefix, p netip.Prefix) bool {
	for _, q := range list {
		if q == p {
			return true
		}
	}
	return false
}

func containsRoute(list []route, r route) bool {
	for _, q := range list {
		if q == r {
			return true
		}
	}
	return false
}
