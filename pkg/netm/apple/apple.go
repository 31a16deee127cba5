// Package apple implements the routing socket backend used on macOS and iOS.
//
// Queries are answered from the interface address list and from a gateway
// routing dump decoded by rtmsg. Change notifications come from a PF_ROUTE
// socket on macOS. On iOS the sandbox hides routing events, so the tunnel
// provider reports network transitions as short datagrams on a loopback port.
package apple

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sort"
	"sync"

	"github.com/go-logr/logr"

	"github.com/openoverlayrouter/oord/pkg/lispaddr"
	"github.com/openoverlayrouter/oord/pkg/metrics"
	"github.com/openoverlayrouter/oord/pkg/netm"
	"github.com/openoverlayrouter/oord/pkg/netm/rtmsg"
)

// Variant selects the event source of the backend
type Variant int

const (
	// MacOS listens on a routing socket
	MacOS Variant = iota
	// IOS listens for tunnel provider transition datagrams
	IOS
)

func (v Variant) String() string {
	if v == IOS {
		return "ios"
	}
	return "apple"
}

const (
	// DefaultPort is the loopback port the iOS tunnel provider reports to
	DefaultPort = 10002

	sourceRouteSocket    = "route-socket"
	sourceTunnelProvider = "tunnel-provider"

	readBuffer = 2048
)

// DefaultPriority is the iOS Wi-Fi / cellular pair
var DefaultPriority = netm.Priority{Primary: "en0", Cellular: "pdp_ip0"}

// Config holds backend configuration
type Config struct {
	Variant Variant
	Policy  netm.StatusPolicy
	// Port of the iOS transition channel. 0 selects DefaultPort, a negative
	// value an ephemeral port.
	Port   int
	Logger logr.Logger
	// System overrides the OS facility, mainly for tests
	System System
	// Layout overrides the routing dump layout
	Layout *rtmsg.Layout
}

// Backend is the macOS / iOS netm.Backend
type Backend struct {
	variant Variant
	policy  netm.StatusPolicy
	port    int
	logger  logr.Logger
	sys     System
	layout  rtmsg.Layout

	mu     sync.Mutex
	source io.Closer
	conn   *net.UDPConn
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates the backend. It fails with an init error when the OS facility
// is unavailable on this platform.
func New(cfg Config) (*Backend, error) {
	sys := cfg.System
	if sys == nil {
		var err error
		if sys, err = newSystem(); err != nil {
			return nil, netm.InitError("apple backend", err)
		}
	}

	layout := defaultLayout()
	if cfg.Layout != nil {
		layout = *cfg.Layout
	}
	port := cfg.Port
	switch {
	case port == 0:
		port = DefaultPort
	case port < 0:
		port = 0
	}
	return &Backend{
		variant: cfg.Variant,
		policy:  effectivePolicy(cfg.Variant, cfg.Policy),
		port:    port,
		logger:  cfg.Logger.WithName(cfg.Variant.String()),
		sys:     sys,
		layout:  layout,
	}, nil
}

// the iOS variant always arbitrates between Wi-Fi and cellular
func effectivePolicy(v Variant, p netm.StatusPolicy) netm.StatusPolicy {
	if v == IOS && !p.Priority.Enabled() {
		p.Priority = DefaultPriority
	}
	return p
}

func (b *Backend) Name() string {
	return b.variant.String()
}

// SetPolicy replaces the status policy
func (b *Backend) SetPolicy(p netm.StatusPolicy) {
	b.policy = effectivePolicy(b.variant, p)
}

// Addr returns the bound address of the iOS transition channel, nil before Init
func (b *Backend) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	return b.conn.LocalAddr()
}

func (b *Backend) Init(ctx context.Context, notify chan<- netm.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done != nil {
		return netm.InitError("init", errors.New("backend already initialized"))
	}
	b.done = make(chan struct{})

	switch b.variant {
	case IOS:
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: b.port})
		if err != nil {
			b.done = nil
			return netm.InitError("init", fmt.Errorf("failed to bind transition channel on port %d: %w", b.port, err))
		}
		b.conn = conn
		b.source = conn
		b.logger.Info("Listening for tunnel provider transitions", "address", conn.LocalAddr().String())
		b.wg.Add(1)
		go b.readLoop(ctx, b.done, conn, sourceTunnelProvider, notify)
	default:
		rs, err := b.sys.RouteSocket()
		if err != nil {
			b.done = nil
			return netm.InitError("init", err)
		}
		b.source = rs
		b.logger.Info("Listening on routing socket")
		b.wg.Add(1)
		go b.readLoop(ctx, b.done, rs, sourceRouteSocket, notify)
	}
	return nil
}

func (b *Backend) readLoop(ctx context.Context, done <-chan struct{}, r io.Reader, source string, notify chan<- netm.Notification) {
	defer b.wg.Done()

	buf := make([]byte, readBuffer)
	for {
		n, err := r.Read(buf)
		if err != nil {
			select {
			case <-done:
			default:
				b.logger.Error(err, "Event source read failed", "source", source)
			}
			return
		}
		if n == 0 {
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		select {
		case notify <- netm.Notification{Source: source, Payload: payload}:
		case <-ctx.Done():
			return
		case <-done:
			return
		}
	}
}

func (b *Backend) Uninit() error {
	b.mu.Lock()
	if b.done == nil {
		b.mu.Unlock()
		return nil
	}
	close(b.done)
	b.done = nil
	src := b.source
	b.source = nil
	b.conn = nil
	b.mu.Unlock()

	var err error
	if src != nil {
		err = src.Close()
	}
	b.wg.Wait()
	return err
}

func (b *Backend) ifaddrs(op string) ([]IfAddr, bool) {
	list, err := b.sys.IfAddrs()
	if err != nil {
		metrics.QueryErrors.WithLabelValues(op).Inc()
		b.logger.Error(netm.QueryError(op, err), "Failed to enumerate interface addresses")
		return nil, false
	}
	return list, true
}

func (b *Backend) InterfaceNames() []string {
	list, ok := b.ifaddrs("interface_names")
	if !ok {
		return []string{}
	}

	seen := make(map[string]bool)
	names := []string{}
	for _, ia := range list {
		if !ia.Up || seen[ia.Name] || !ia.Addr.IsValid() {
			continue
		}
		// iOS only reports interfaces carrying an IPv4 address
		if b.variant == IOS && ia.Addr.Family() != lispaddr.FamilyIPv4 {
			continue
		}
		seen[ia.Name] = true
		names = append(names, ia.Name)
	}
	sort.Strings(names)
	return names
}

func (b *Backend) Addresses(name string, family lispaddr.Family) []lispaddr.Address {
	list, ok := b.ifaddrs("addresses")
	if !ok {
		return []lispaddr.Address{}
	}

	out := []lispaddr.Address{}
	for _, ia := range list {
		if ia.Name != name || !ia.Up || ia.Addr.Family() != family {
			continue
		}
		if ia.Addr.IsLinkLocal() {
			b.logger.V(2).Info("Skipping link-local address", "interface", name, "address", ia.Addr.String())
			continue
		}
		out = append(out, ia.Addr.Clone())
	}
	if len(out) == 0 {
		b.logger.V(2).Info("No address configured", "interface", name, "family", family.String())
	}
	return out
}

func (b *Backend) BestSourceAddress(dst lispaddr.Address) (lispaddr.Address, bool) {
	if b.variant == IOS || !dst.IsValid() {
		return lispaddr.Address{}, false
	}
	src, err := b.sys.SourceFor(dst)
	if err != nil {
		metrics.QueryErrors.WithLabelValues("best_source").Inc()
		b.logger.V(1).Info("No source address towards destination", "destination", dst.String(), "error", err.Error())
		return lispaddr.Address{}, false
	}
	return src, src.IsValid()
}

// Gateway decodes the RTF_GATEWAY routing dump. Only IPv4 default routes are
// dumped, so IPv6 never has a gateway here.
func (b *Backend) Gateway(name string, family lispaddr.Family) (lispaddr.Address, bool) {
	if family != lispaddr.FamilyIPv4 {
		return lispaddr.Address{}, false
	}

	buf, err := b.sys.GatewayDump()
	if err != nil {
		metrics.QueryErrors.WithLabelValues("gateway").Inc()
		b.logger.Error(netm.QueryError("gateway", err), "Failed to dump routing table", "interface", name)
		return lispaddr.Address{}, false
	}

	gw, ok, err := b.layout.DefaultGateway(buf, name, b.sys.IndexToName)
	if err != nil {
		metrics.ParseErrors.Inc()
		b.logger.Error(netm.ParseError("gateway", err), "Malformed routing dump", "interface", name, "size", len(buf))
		return lispaddr.Address{}, false
	}
	if ok {
		b.logger.V(2).Info("Found default gateway", "interface", name, "gateway", gw.String())
	}
	return gw, ok
}

func (b *Backend) Status(name string) netm.Status {
	st := b.policy.Resolve(name, b.probe)
	if b.policy.Priority.Enabled() && name == b.policy.Priority.Cellular && st == netm.StatusDown {
		b.logger.V(1).Info("Reporting cellular interface down", "interface", name, "primary", b.policy.Priority.Primary)
	}
	if st == netm.StatusNoExist {
		b.logger.V(1).Info("Interface does not exist", "interface", name)
	}
	return st
}

func (b *Backend) probe(name string) netm.LinkProbe {
	if b.sys.NameToIndex(name) == 0 {
		return netm.LinkProbe{}
	}

	lp := netm.LinkProbe{Exists: true}
	if list, ok := b.ifaddrs("status"); ok {
		for _, ia := range list {
			if ia.Name == name {
				lp.Running = ia.Up && ia.Running
				break
			}
		}
	}
	if lp.Running && b.policy.RequireGateway {
		_, lp.HasGateway = b.Gateway(name, lispaddr.FamilyIPv4)
	}
	return lp
}

func (b *Backend) Index(name string) int {
	return b.sys.NameToIndex(name)
}

func (b *Backend) MACAddress(name string) (net.HardwareAddr, error) {
	if b.variant == IOS {
		return nil, netm.ErrUnsupported
	}
	mac, err := b.sys.HardwareAddr(name)
	if err != nil {
		if errors.Is(err, netm.ErrNoExist) || errors.Is(err, netm.ErrUnsupported) {
			return nil, err
		}
		return nil, netm.QueryError("mac_address", err)
	}
	return mac, nil
}

func (b *Backend) InterfaceForPrefix(prefix netip.Prefix) (string, bool) {
	if b.variant == IOS {
		return "", false
	}
	list, ok := b.ifaddrs("interface_for_prefix")
	if !ok {
		return "", false
	}
	for _, ia := range list {
		if ia.Up && ia.Addr.IsValid() && prefix.Contains(ia.Addr.NetIP()) {
			return ia.Name, true
		}
	}
	return "", false
}

// ReloadRoutes is a no-op: the gateway dump is re-read on every query
func (b *Backend) ReloadRoutes(uint32, lispaddr.Family) error {
	return nil
}

func (b *Backend) ReverseAddressTable() (netm.AddressTable, error) {
	table := netm.AddressTable{}
	list, err := b.sys.IfAddrs()
	if err != nil {
		return table, netm.QueryError("reverse_address_table", err)
	}
	for _, ia := range list {
		if !ia.Addr.IsValid() {
			continue
		}
		table.Add(ia.Addr, ia.Name)
	}
	return table, nil
}

func (b *Backend) Translate(n netm.Notification) ([]netm.Event, error) {
	payload, ok := n.Payload.([]byte)
	if !ok {
		return nil, netm.ParseError("translate", fmt.Errorf("unexpected payload %T from %s", n.Payload, n.Source))
	}

	switch n.Source {
	case sourceTunnelProvider:
		return b.translateTransition(payload)
	case sourceRouteSocket:
		events, err := b.sys.DecodeRouteMessage(payload)
		if err != nil {
			return events, netm.ParseError("route_message", err)
		}
		return events, nil
	default:
		return nil, fmt.Errorf("unknown notification source %q", n.Source)
	}
}
