// Package ifstate keeps the live set of network interfaces up to date from
// network manager change events.
package ifstate

import (
	"errors"
	"sort"
	"sync"

	"github.com/go-logr/logr"

	"github.com/openoverlayrouter/oord/pkg/lispaddr"
	"github.com/openoverlayrouter/oord/pkg/metrics"
	"github.com/openoverlayrouter/oord/pkg/netm"
)

// Source resolves interfaces the registry has not seen yet
type Source interface {
	InterfaceNames() []string
	Index(name string) int
	Snapshot(name string) (netm.Interface, error)
}

// Registry is a netm.Handler holding one Interface per kernel index.
// An interface is created the first time it is observed, mutated in place
// afterwards and only removed on an explicit no-exist link event.
type Registry struct {
	src    Source
	logger logr.Logger

	mu     sync.RWMutex
	ifaces map[int]*netm.Interface
}

// New creates an empty registry
func New(src Source, logger logr.Logger) *Registry {
	return &Registry{
		src:    src,
		logger: logger.WithName("ifstate"),
		ifaces: make(map[int]*netm.Interface),
	}
}

// Load seeds the registry with every interface currently up
func (r *Registry) Load() {
	names := r.src.InterfaceNames()
	loaded := make([]netm.Interface, 0, len(names))
	for _, name := range names {
		iface, err := r.src.Snapshot(name)
		if err != nil {
			if !errors.Is(err, netm.ErrNoExist) {
				r.logger.Error(err, "Failed to read interface", "interface", name)
			}
			continue
		}
		loaded = append(loaded, iface)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range loaded {
		iface := loaded[i]
		r.ifaces[iface.Index] = &iface
	}
	r.updateGauge()
	r.logger.Info("Loaded interfaces", "count", len(loaded))
}

// List returns a copy of every tracked interface, ordered by name
func (r *Registry) List() []netm.Interface {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]netm.Interface, 0, len(r.ifaces))
	for _, iface := range r.ifaces {
		out = append(out, iface.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a copy of the interface called name
func (r *Registry) Get(name string) (netm.Interface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, iface := range r.ifaces {
		if iface.Name == name {
			return iface.Clone(), true
		}
	}
	return netm.Interface{}, false
}

// resolve finds the name of index through the source. It runs without the
// registry lock held.
func (r *Registry) resolve(index int) (netm.Interface, bool) {
	for _, name := range r.src.InterfaceNames() {
		if r.src.Index(name) != index {
			continue
		}
		iface, err := r.src.Snapshot(name)
		if err != nil {
			return netm.Interface{}, false
		}
		return iface, true
	}
	return netm.Interface{}, false
}

// lookup returns the tracked interface of index, creating it on first sight
func (r *Registry) lookup(index int) *netm.Interface {
	r.mu.RLock()
	iface, ok := r.ifaces[index]
	r.mu.RUnlock()
	if ok {
		return iface
	}

	fresh, ok := r.resolve(index)
	if !ok {
		r.logger.V(1).Info("Event for unknown interface", "index", index)
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if iface, ok := r.ifaces[index]; ok {
		return iface
	}
	r.ifaces[index] = &fresh
	r.logger.Info("Tracking new interface", "interface", fresh.Name, "index", index)
	return &fresh
}

func (r *Registry) LinkChanged(index, newIndex int, state netm.Status) {
	if state == netm.StatusNoExist {
		r.mu.Lock()
		if iface, ok := r.ifaces[index]; ok {
			delete(r.ifaces, index)
			r.logger.Info("Interface removed", "interface", iface.Name, "index", index)
		}
		r.updateGauge()
		r.mu.Unlock()
		return
	}

	iface := r.lookup(index)
	if iface == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if newIndex != 0 && newIndex != index {
		delete(r.ifaces, index)
		iface.Index = newIndex
		r.ifaces[newIndex] = iface
	}
	if iface.Status != state {
		r.logger.Info("Interface status changed", "interface", iface.Name, "from", iface.Status.String(), "to", state.String())
		iface.Status = state
	}
	r.updateGauge()
}

func (r *Registry) AddressChanged(op netm.Op, index int, addr lispaddr.Address) {
	iface := r.lookup(index)
	if iface == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := iface.Addresses(addr.Family())
	switch op {
	case netm.OpAdd:
		for _, a := range list {
			if a.Equal(addr) {
				return
			}
		}
		list = append(list, addr)
	case netm.OpDelete:
		kept := list[:0]
		for _, a := range list {
			if !a.Equal(addr) {
				kept = append(kept, a)
			}
		}
		list = kept
	}

	if addr.Family() == lispaddr.FamilyIPv6 {
		iface.IPv6 = list
	} else {
		iface.IPv4 = list
	}
	r.logger.V(1).Info("Interface address changed", "interface", iface.Name, "op", op.String(), "address", addr.String())
}

// RouteChanged tracks default gateways; other routes do not change the
// interface view.
func (r *Registry) RouteChanged(op netm.Op, index int, dst, gw, _ lispaddr.Address) {
	if !dst.IsUnspecified() {
		return
	}
	iface := r.lookup(index)
	if iface == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := &iface.GW4
	if dst.Family() == lispaddr.FamilyIPv6 {
		current = &iface.GW6
	}
	switch op {
	case netm.OpAdd:
		*current = gw
	case netm.OpDelete:
		if current.Equal(gw) || !gw.IsValid() {
			*current = lispaddr.Address{}
		}
	}
	r.logger.V(1).Info("Default gateway changed", "interface", iface.Name, "op", op.String(), "gateway", gw.String())
}

// updateGauge must be called with mu held
func (r *Registry) updateGauge() {
	counts := map[netm.Status]float64{
		netm.StatusUnknown: 0,
		netm.StatusDown:    0,
		netm.StatusUp:      0,
	}
	for _, iface := range r.ifaces {
		counts[iface.Status]++
	}
	for st, n := range counts {
		metrics.Interfaces.WithLabelValues(st.String()).Set(n)
	}
}
