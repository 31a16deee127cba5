package netm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/go-logr/logr"
	"github.com/openoverlayrouter/oord/pkg/lispaddr"
	"github.com/openoverlayrouter/oord/pkg/metrics"
)

const notifyBuffer = 64

// Manager owns the selected Backend. It serializes every call into the
// backend, so at most one is in flight, and runs the event loop that turns
// raw notifications into events delivered to the registered handlers.
type Manager struct {
	backend Backend
	logger  logr.Logger

	mu       sync.Mutex // one in-flight backend call
	notify   chan Notification
	handlers []Handler
	started  bool
	closed   bool
}

// NewManager wraps backend. The backend is fixed for the lifetime of the Manager.
func NewManager(backend Backend, logger logr.Logger) *Manager {
	return &Manager{
		backend: backend,
		logger:  logger.WithName("netm"),
		notify:  make(chan Notification, notifyBuffer),
	}
}

// BackendName returns the name of the selected backend
func (m *Manager) BackendName() string {
	return m.backend.Name()
}

// AddHandler registers an upstream consumer. Handlers must be added before Start.
func (m *Manager) AddHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Start initializes the backend and its event sources
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("network manager already started")
	}

	m.logger.Info("Initializing network manager backend", "backend", m.backend.Name())
	if err := m.backend.Init(ctx, m.notify); err != nil {
		return err
	}
	m.started = true
	return nil
}

// Run processes notifications until ctx is done. Each notification is
// translated and its events delivered to completion before the next one is
// read.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-m.notify:
			if err := m.Process(n); err != nil {
				return err
			}
		}
	}
}

// Process translates n and delivers the resulting events in order. It only
// returns an error when the backend reports a lost event source.
func (m *Manager) Process(n Notification) error {
	m.mu.Lock()
	events, err := m.backend.Translate(n)
	handlers := m.handlers
	m.mu.Unlock()

	if err != nil {
		if IsKind(err, KindParse) {
			metrics.ParseErrors.Inc()
		}
		if IsKind(err, KindSource) {
			m.logger.Error(err, "Event source lost", "source", n.Source)
			return err
		}
		m.logger.Error(err, "Failed to decode notification", "source", n.Source)
	}

	for _, ev := range events {
		m.logger.V(1).Info("Dispatching change event", "event", ev.String())
		metrics.Events.WithLabelValues(ev.Kind()).Inc()
		for _, h := range handlers {
			Deliver(h, ev)
		}
	}
	return nil
}

// Close releases the backend resources. It is safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || !m.started {
		m.closed = true
		return nil
	}
	m.closed = true
	m.logger.Info("Releasing network manager backend", "backend", m.backend.Name())
	return m.backend.Uninit()
}

// InterfaceNames lists the interfaces currently configured and up
func (m *Manager) InterfaceNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend.InterfaceNames()
}

// Addresses lists the addresses of family on name, link-local excluded
func (m *Manager) Addresses(name string, family lispaddr.Family) []lispaddr.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend.Addresses(name, family)
}

// BestSourceAddress returns the source address the OS would use towards dst
func (m *Manager) BestSourceAddress(dst lispaddr.Address) (lispaddr.Address, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend.BestSourceAddress(dst)
}

// Gateway returns the default gateway of name for family
func (m *Manager) Gateway(name string, family lispaddr.Family) (lispaddr.Address, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend.Gateway(name, family)
}

// Status recomputes the status of name
func (m *Manager) Status(name string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend.Status(name)
}

// Index returns the kernel index of name, 0 if unknown
func (m *Manager) Index(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend.Index(name)
}

// MACAddress returns the hardware address of name
func (m *Manager) MACAddress(name string) (net.HardwareAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend.MACAddress(name)
}

// InterfaceForPrefix returns the interface holding an address inside prefix
func (m *Manager) InterfaceForPrefix(prefix netip.Prefix) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend.InterfaceForPrefix(prefix)
}

// ReloadRoutes forces the backend to re-read table for family
func (m *Manager) ReloadRoutes(table uint32, family lispaddr.Family) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend.ReloadRoutes(table, family)
}

// SetPolicy replaces the status policy of the backend. It reports false
// when the backend fixes its policy at construction.
func (m *Manager) SetPolicy(p StatusPolicy) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps, ok := m.backend.(PolicySetter)
	if ok {
		ps.SetPolicy(p)
	}
	return ok
}

// ReverseAddressTable builds the address to interface name table
func (m *Manager) ReverseAddressTable() (AddressTable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend.ReverseAddressTable()
}

// Snapshot assembles the current view of name from individual queries.
// It returns ErrNoExist when the interface is unknown.
func (m *Manager) Snapshot(name string) (Interface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return snapshot(m.backend, name)
}

func snapshot(b Backend, name string) (Interface, error) {
	index := b.Index(name)
	status := b.Status(name)
	if index == 0 || status == StatusNoExist {
		return Interface{}, ErrNoExist
	}

	iface := Interface{
		Name:   name,
		Index:  index,
		Status: status,
		IPv4:   b.Addresses(name, lispaddr.FamilyIPv4),
		IPv6:   b.Addresses(name, lispaddr.FamilyIPv6),
	}
	if gw, ok := b.Gateway(name, lispaddr.FamilyIPv4); ok {
		iface.GW4 = gw
	}
	if gw, ok := b.Gateway(name, lispaddr.FamilyIPv6); ok {
		iface.GW6 = gw
	}
	mac, err := b.MACAddress(name)
	switch {
	case err == nil && len(mac) > 0:
		iface.MAC = mac.String()
	case err != nil && !errors.Is(err, ErrUnsupported):
		metrics.QueryErrors.WithLabelValues("mac_address").Inc()
	}
	return iface, nil
}
