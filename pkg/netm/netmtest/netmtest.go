// Package netmtest provides an in-memory Backend and a recording Handler for tests.
package netmtest

import (
	"context"
	"net"
	"net/netip"
	"sort"
	"sync"

	"github.com/openoverlayrouter/oord/pkg/lispaddr"
	"github.com/openoverlayrouter/oord/pkg/netm"
)

// Link is the simulated state of one interface
type Link struct {
	Index   int
	Up      bool
	Running bool
	Addrs   []lispaddr.Address
	GW4     lispaddr.Address
	GW6     lispaddr.Address
	MAC     net.HardwareAddr
}

// Backend is a netm.Backend over a map of simulated links
type Backend struct {
	Links  map[string]*Link
	Policy netm.StatusPolicy

	// TranslateFunc decodes notifications; nil returns the payload if it is []netm.Event
	TranslateFunc func(netm.Notification) ([]netm.Event, error)
	// TableErr makes ReverseAddressTable fail
	TableErr error

	Reloaded []uint32

	mu     sync.Mutex
	notify chan<- netm.Notification
	inited bool
}

// NewBackend returns an empty Backend requiring a gateway for Up status
func NewBackend() *Backend {
	return &Backend{
		Links:  make(map[string]*Link),
		Policy: netm.StatusPolicy{RequireGateway: true},
	}
}

// Post delivers n as if it came from an OS event source
func (b *Backend) Post(n netm.Notification) {
	b.mu.Lock()
	ch := b.notify
	b.mu.Unlock()
	ch <- n
}

func (b *Backend) Name() string { return "test" }

func (b *Backend) SetPolicy(p netm.StatusPolicy) { b.Policy = p }

func (b *Backend) Init(_ context.Context, notify chan<- netm.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notify = notify
	b.inited = true
	return nil
}

func (b *Backend) Uninit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inited = false
	return nil
}

// Inited reports whether Init was called and Uninit was not
func (b *Backend) Inited() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inited
}

func (b *Backend) InterfaceNames() []string {
	var names []string
	for name, l := range b.Links {
		if l.Up {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (b *Backend) Addresses(name string, family lispaddr.Family) []lispaddr.Address {
	var out []lispaddr.Address
	l, ok := b.Links[name]
	if !ok {
		return out
	}
	for _, a := range l.Addrs {
		if a.Family() == family && !a.IsLinkLocal() {
			out = append(out, a.Clone())
		}
	}
	return out
}

func (b *Backend) BestSourceAddress(lispaddr.Address) (lispaddr.Address, bool) {
	return lispaddr.Address{}, false
}

func (b *Backend) Gateway(name string, family lispaddr.Family) (lispaddr.Address, bool) {
	l, ok := b.Links[name]
	if !ok {
		return lispaddr.Address{}, false
	}
	gw := l.GW4
	if family == lispaddr.FamilyIPv6 {
		gw = l.GW6
	}
	return gw, gw.IsValid()
}

func (b *Backend) Status(name string) netm.Status {
	return b.Policy.Resolve(name, func(n string) netm.LinkProbe {
		l, ok := b.Links[n]
		if !ok {
			return netm.LinkProbe{}
		}
		return netm.LinkProbe{Exists: true, Running: l.Running, HasGateway: l.GW4.IsValid() || l.GW6.IsValid()}
	})
}

func (b *Backend) Index(name string) int {
	if l, ok := b.Links[name]; ok {
		return l.Index
	}
	return 0
}

func (b *Backend) MACAddress(name string) (net.HardwareAddr, error) {
	l, ok := b.Links[name]
	if !ok {
		return nil, netm.ErrNoExist
	}
	if l.MAC == nil {
		return nil, netm.ErrUnsupported
	}
	return l.MAC, nil
}

func (b *Backend) InterfaceForPrefix(prefix netip.Prefix) (string, bool) {
	for name, l := range b.Links {
		for _, a := range l.Addrs {
			if prefix.Contains(a.NetIP()) {
				return name, true
			}
		}
	}
	return "", false
}

func (b *Backend) ReloadRoutes(table uint32, _ lispaddr.Family) error {
	b.Reloaded = append(b.Reloaded, table)
	return nil
}

func (b *Backend) ReverseAddressTable() (netm.AddressTable, error) {
	if b.TableErr != nil {
		return netm.AddressTable{}, b.TableErr
	}
	t := netm.AddressTable{}
	for name, l := range b.Links {
		for _, a := range l.Addrs {
			t.Add(a, name)
		}
	}
	return t, nil
}

func (b *Backend) Translate(n netm.Notification) ([]netm.Event, error) {
	if b.TranslateFunc != nil {
		return b.TranslateFunc(n)
	}
	events, _ := n.Payload.([]netm.Event)
	return events, nil
}

// Recorder is a netm.Handler that records every event in order
type Recorder struct {
	mu     sync.Mutex
	events []netm.Event
}

func (r *Recorder) LinkChanged(index, newIndex int, state netm.Status) {
	r.add(netm.LinkChanged{Index: index, NewIndex: newIndex, State: state})
}

func (r *Recorder) AddressChanged(op netm.Op, index int, addr lispaddr.Address) {
	r.add(netm.AddressChanged{Op: op, Index: index, Address: addr})
}

func (r *Recorder) RouteChanged(op netm.Op, index int, dst, gw, src lispaddr.Address) {
	r.add(netm.RouteChanged{Op: op, Index: index, Destination: dst, Gateway: gw, Source: src})
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []netm.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]netm.Event(nil), r.events...)
}

func (r *Recorder) add(ev netm.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}
