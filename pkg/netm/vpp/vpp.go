// Package vpp implements the network manager backend for hosts whose
// interfaces are owned by the VPP forwarding plane. Interface and route
// state is read from a VPP agent's REST API; changes are detected by
// polling the agent and diffing consecutive dumps.
package vpp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/openoverlayrouter/oord/pkg/lispaddr"
	"github.com/openoverlayrouter/oord/pkg/metrics"
	"github.com/openoverlayrouter/oord/pkg/netm"
)

// Name of the backend
const Name = "vpp"

const (
	// DefaultPollInterval is the agent polling period
	DefaultPollInterval = 5 * time.Second

	sourcePoll   = "poll"
	sourceReload = "reload"

	requestTimeout = 3 * time.Second
)

// Config holds backend configuration
type Config struct {
	URL          string
	PollInterval time.Duration
	Policy       netm.StatusPolicy
	Logger       logr.Logger
}

// Backend is the VPP netm.Backend
type Backend struct {
	client   *Client
	interval time.Duration
	policy   netm.StatusPolicy
	logger   logr.Logger

	// last is the snapshot events were last computed against; only touched
	// from Init and Translate, which the manager serializes
	last *snapshot

	mu     sync.Mutex
	notify chan<- netm.Notification
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the backend. No request is made before Init.
func New(cfg Config) *Backend {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Backend{
		client:   NewClient(cfg.URL, requestTimeout),
		interval: interval,
		policy:   cfg.Policy,
		logger:   cfg.Logger.WithName(Name),
		last:     &snapshot{ifaces: map[string]*iface{}},
	}
}

func (b *Backend) Name() string {
	return Name
}

// SetPolicy replaces the status policy
func (b *Backend) SetPolicy(p netm.StatusPolicy) {
	b.policy = p
}

func (b *Backend) fetch(ctx context.Context) (*snapshot, error) {
	ifs, err := b.client.Interfaces(ctx)
	if err != nil {
		return nil, err
	}
	rs, err := b.client.Routes(ctx)
	if err != nil {
		return nil, err
	}
	s, errs := decode(ifs, rs)
	for _, err := range errs {
		metrics.ParseErrors.Inc()
		b.logger.Error(netm.ParseError("dump", err), "Skipping malformed agent entry")
	}
	return s, nil
}

func (b *Backend) query(op string) (*snapshot, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	s, err := b.fetch(ctx)
	if err != nil {
		metrics.QueryErrors.WithLabelValues(op).Inc()
		b.logger.Error(netm.QueryError(op, err), "VPP agent query failed")
		return nil, false
	}
	return s, true
}

func (b *Backend) Init(ctx context.Context, notify chan<- netm.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancel != nil {
		return netm.InitError("init", errors.New("backend already initialized"))
	}

	first, err := b.fetch(ctx)
	if err != nil {
		return netm.InitError("init", fmt.Errorf("failed to reach VPP agent: %w", err))
	}
	b.last = first
	b.notify = notify

	pollCtx, cancel := context.WithCancel(ctx)
	b.runCtx = pollCtx
	b.cancel = cancel
	b.wg.Add(1)
	go b.poll(pollCtx)

	b.logger.Info("Polling VPP agent", "url", b.client.baseURL, "interval", b.interval.String(), "interfaces", len(first.ifaces))
	return nil
}

func (b *Backend) poll(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s, err := b.fetch(ctx)
		if err != nil {
			if ctx.Err() == nil {
				metrics.QueryErrors.WithLabelValues("poll").Inc()
				b.logger.Error(err, "Failed to poll VPP agent")
			}
			continue
		}
		select {
		case b.notify <- netm.Notification{Source: sourcePoll, Payload: s}:
		case <-ctx.Done():
			return
		}
	}
}

func (b *Backend) Uninit() error {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		b.wg.Wait()
	}
	return nil
}

func (b *Backend) InterfaceNames() []string {
	names := []string{}
	s, ok := b.query("interface_names")
	if !ok {
		return names
	}
	for name, i := range s.ifaces {
		if i.up {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (b *Backend) Addresses(name string, family lispaddr.Family) []lispaddr.Address {
	out := []lispaddr.Address{}
	s, ok := b.query("addresses")
	if !ok {
		return out
	}
	i, ok := s.ifaces[name]
	if !ok {
		return out
	}
	for _, p := range i.addrs {
		a := addrOf(p)
		if a.Family() != family {
			continue
		}
		if a.IsLinkLocal() {
			b.logger.V(2).Info("Skipping link-local address", "interface", name, "address", a.String())
			continue
		}
		out = append(out, a)
	}
	return out
}

// BestSourceAddress picks the first address, of dst's family, of the
// interface the longest matching route leaves through.
func (b *Backend) BestSourceAddress(dst lispaddr.Address) (lispaddr.Address, bool) {
	if !dst.IsValid() {
		return lispaddr.Address{}, false
	}
	s, ok := b.query("best_source")
	if !ok {
		return lispaddr.Address{}, false
	}

	best := -1
	var out string
	for _, r := range s.routes {
		if r.vrf != 0 || r.out == "" || !r.dst.Contains(dst.NetIP()) {
			continue
		}
		if r.dst.Bits() > best {
			best, out = r.dst.Bits(), r.out
		}
	}
	i, ok := s.ifaces[out]
	if !ok {
		return lispaddr.Address{}, false
	}
	for _, p := range i.addrs {
		if a := addrOf(p); a.Family() == dst.Family() && !a.IsLinkLocal() {
			return a, true
		}
	}
	return lispaddr.Address{}, false
}

func gatewayOf(s *snapshot, name string, family lispaddr.Family) (lispaddr.Address, bool) {
	var gw lispaddr.Address
	for _, r := range s.routes {
		if r.vrf == 0 && r.out == name && r.isDefault() && r.gw.Family() == family {
			gw = r.gw
		}
	}
	return gw, gw.IsValid()
}

func (b *Backend) Gateway(name string, family lispaddr.Family) (lispaddr.Address, bool) {
	s, ok := b.query("gateway")
	if !ok {
		return lispaddr.Address{}, false
	}
	return gatewayOf(s, name, family)
}

func (b *Backend) Status(name string) netm.Status {
	s, ok := b.query("status")
	if !ok {
		return netm.StatusUnknown
	}
	return b.policy.Resolve(name, func(n string) netm.LinkProbe {
		i, ok := s.ifaces[n]
		if !ok {
			return netm.LinkProbe{}
		}
		_, v4 := gatewayOf(s, n, lispaddr.FamilyIPv4)
		_, v6 := gatewayOf(s, n, lispaddr.FamilyIPv6)
		return netm.LinkProbe{Exists: true, Running: i.up && i.running, HasGateway: v4 || v6}
	})
}

func (b *Backend) Index(name string) int {
	s, ok := b.query("index")
	if !ok {
		return 0
	}
	return s.index(name)
}

func (b *Backend) MACAddress(name string) (net.HardwareAddr, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	s, err := b.fetch(ctx)
	if err != nil {
		return nil, netm.QueryError("mac_address", err)
	}
	i, ok := s.ifaces[name]
	if !ok {
		return nil, netm.ErrNoExist
	}
	if len(i.mac) == 0 {
		return nil, netm.ErrUnsupported
	}
	return i.mac, nil
}

func (b *Backend) InterfaceForPrefix(prefix netip.Prefix) (string, bool) {
	s, ok := b.query("interface_for_prefix")
	if !ok {
		return "", false
	}
	for _, i := range s.sorted() {
		for _, p := range i.addrs {
			if prefix.Contains(p.Addr()) {
				return i.name, true
			}
		}
	}
	return "", false
}

// ReloadRoutes replays the routes of VRF table as add notifications
func (b *Backend) ReloadRoutes(table uint32, family lispaddr.Family) error {
	b.mu.Lock()
	notify, runCtx := b.notify, b.runCtx
	running := b.cancel != nil
	b.mu.Unlock()
	if !running {
		return netm.QueryError("reload_routes", errors.New("backend not initialized"))
	}

	s, ok := b.query("reload_routes")
	if !ok {
		return netm.QueryError("reload_routes", errors.New("VPP agent unreachable"))
	}

	var events []netm.Event
	for _, r := range s.routes {
		if r.vrf != table {
			continue
		}
		if addrOf(r.dst).Family() != family {
			continue
		}
		events = append(events, routeEvent(netm.OpAdd, r, s))
	}
	b.logger.Info("Reloading routes", "table", table, "family", family.String(), "count", len(events))

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		select {
		case notify <- netm.Notification{Source: sourceReload, Payload: events}:
		case <-runCtx.Done():
		}
	}()
	return nil
}

func (b *Backend) ReverseAddressTable() (netm.AddressTable, error) {
	table := netm.AddressTable{}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	s, err := b.fetch(ctx)
	if err != nil {
		return table, netm.QueryError("reverse_address_table", err)
	}
	for _, i := range s.ifaces {
		for _, p := range i.addrs {
			table.Add(addrOf(p), i.name)
		}
	}
	return table, nil
}

func (b *Backend) Translate(n netm.Notification) ([]netm.Event, error) {
	switch payload := n.Payload.(type) {
	case *snapshot:
		events := diff(b.last, payload)
		b.last = payload
		return events, nil
	case []netm.Event:
		return payload, nil
	default:
		return nil, netm.ParseError("translate", fmt.Errorf("unexpected payload %T from %s", n.Payload, n.Source))
	}
}
