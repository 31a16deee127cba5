//go:build linux

package kernel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"

	"github.com/openoverlayrouter/oord/pkg/lispaddr"
	"github.com/openoverlayrouter/oord/pkg/metrics"
	"github.com/openoverlayrouter/oord/pkg/netm"
)

// Backend answers queries over a netlink handle and subscribes to the
// RTMGRP_LINK, RTMGRP_IPV4_IFADDR and RTMGRP_IPV4_ROUTE groups.
type Backend struct {
	handle *netlink.Handle
	ns     *netns.NsHandle
	policy netm.StatusPolicy
	table  int
	logger logr.Logger

	mu     sync.Mutex
	notify chan<- netm.Notification
	done   chan struct{}
	wg     sync.WaitGroup
}

// New opens a netlink handle, inside cfg.Namespace when set
func New(cfg Config) (netm.Backend, error) {
	b := &Backend{
		policy: cfg.Policy,
		table:  cfg.table(),
		logger: cfg.Logger.WithName(Name),
	}

	var err error
	if cfg.Namespace != "" {
		ns, nerr := netns.GetFromName(cfg.Namespace)
		if nerr != nil {
			return nil, netm.InitError("kernel backend", fmt.Errorf("failed to open namespace %s: %w", cfg.Namespace, nerr))
		}
		b.ns = &ns
		b.handle, err = netlink.NewHandleAt(ns, unix.NETLINK_ROUTE)
	} else {
		b.handle, err = netlink.NewHandle(unix.NETLINK_ROUTE)
	}
	if err != nil {
		if b.ns != nil {
			b.ns.Close()
		}
		return nil, netm.InitError("kernel backend", fmt.Errorf("failed to open netlink handle: %w", err))
	}
	return b, nil
}

func (b *Backend) Name() string {
	return Name
}

// SetPolicy replaces the status policy
func (b *Backend) SetPolicy(p netm.StatusPolicy) {
	b.policy = p
}

func (b *Backend) Init(ctx context.Context, notify chan<- netm.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done != nil {
		return netm.InitError("init", errors.New("backend already initialized"))
	}
	done := make(chan struct{})
	sub := b.subscriber(done)

	var f feeds
	var err error
	if f.links, err = sub.links(); err != nil {
		close(done)
		return netm.InitError("init", err)
	}
	if f.addrs, err = sub.addrs(); err != nil {
		close(done)
		return netm.InitError("init", err)
	}
	if f.routes, err = sub.routes(); err != nil {
		close(done)
		return netm.InitError("init", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = resubscribeTimeout

	b.done = done
	b.notify = notify
	b.wg.Add(1)
	go b.forward(ctx, done, f, sub, bo)

	b.logger.Info("Subscribed to netlink groups", "table", b.table)
	return nil
}

// resubscribeTimeout bounds the attempts to restore a closed subscription
const resubscribeTimeout = time.Minute

// feeds are the live subscription channels. A nil channel is waiting to be
// resubscribed.
type feeds struct {
	links  <-chan netlink.LinkUpdate
	addrs  <-chan netlink.AddrUpdate
	routes <-chan netlink.RouteUpdate
}

func (f feeds) lost() []string {
	var groups []string
	if f.links == nil {
		groups = append(groups, "link")
	}
	if f.addrs == nil {
		groups = append(groups, "address")
	}
	if f.routes == nil {
		groups = append(groups, "route")
	}
	return groups
}

// subscriber opens one netlink subscription per group
type subscriber struct {
	links  func() (<-chan netlink.LinkUpdate, error)
	addrs  func() (<-chan netlink.AddrUpdate, error)
	routes func() (<-chan netlink.RouteUpdate, error)
}

// subscriber subscribes until done is closed. netlink closes a channel
// after a receive error; forward then asks for a fresh one.
func (b *Backend) subscriber(done chan struct{}) subscriber {
	onError := func(err error) {
		b.logger.Error(err, "Netlink subscription error")
	}
	return subscriber{
		links: func() (<-chan netlink.LinkUpdate, error) {
			ch := make(chan netlink.LinkUpdate)
			if err := netlink.LinkSubscribeWithOptions(ch, done, netlink.LinkSubscribeOptions{
				Namespace:     b.ns,
				ErrorCallback: onError,
			}); err != nil {
				return nil, fmt.Errorf("failed to subscribe to link updates: %w", err)
			}
			return ch, nil
		},
		addrs: func() (<-chan netlink.AddrUpdate, error) {
			ch := make(chan netlink.AddrUpdate)
			if err := netlink.AddrSubscribeWithOptions(ch, done, netlink.AddrSubscribeOptions{
				Namespace:     b.ns,
				ErrorCallback: onError,
			}); err != nil {
				return nil, fmt.Errorf("failed to subscribe to address updates: %w", err)
			}
			return ch, nil
		},
		routes: func() (<-chan netlink.RouteUpdate, error) {
			ch := make(chan netlink.RouteUpdate)
			if err := netlink.RouteSubscribeWithOptions(ch, done, netlink.RouteSubscribeOptions{
				Namespace:     b.ns,
				ErrorCallback: onError,
			}); err != nil {
				return nil, fmt.Errorf("failed to subscribe to route updates: %w", err)
			}
			return ch, nil
		},
	}
}

// forward merges the subscriptions into notify in arrival order. A closed
// subscription is resubscribed on the bo schedule while the others keep
// flowing; when bo gives up, a KindSource error is posted instead.
func (b *Backend) forward(ctx context.Context, done <-chan struct{}, f feeds, sub subscriber, bo backoff.BackOff) {
	defer b.wg.Done()

	var timer *time.Timer
	var retry <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	post := func(n netm.Notification) bool {
		select {
		case b.notify <- n:
			return true
		case <-ctx.Done():
			return false
		case <-done:
			return false
		}
	}

	// schedule arms the retry timer, or reports the loss when bo is spent
	schedule := func() bool {
		d := bo.NextBackOff()
		if d == backoff.Stop {
			err := fmt.Errorf("netlink %s subscription lost", strings.Join(f.lost(), ", "))
			post(netm.Notification{Source: sourceNetlink, Payload: netm.SourceError("subscribe", err)})
			return false
		}
		timer = time.NewTimer(d)
		retry = timer.C
		return true
	}

	closed := func(group string) bool {
		b.logger.Info("Netlink subscription closed, resubscribing", "group", group)
		if retry != nil {
			return true
		}
		return schedule()
	}

	for {
		var payload any
		select {
		case <-ctx.Done():
			return
		case <-done:
			return

		case <-retry:
			retry = nil
			if err := b.resubscribe(&f, sub); err != nil {
				b.logger.Error(err, "Failed to restore netlink subscription")
				if !schedule() {
					return
				}
				continue
			}
			bo.Reset()
			b.logger.Info("Netlink subscriptions restored")
			continue

		case u, ok := <-f.links:
			if !ok {
				f.links = nil
				if !closed("link") {
					return
				}
				continue
			}
			payload = u
		case u, ok := <-f.addrs:
			if !ok {
				f.addrs = nil
				if !closed("address") {
					return
				}
				continue
			}
			payload = u
		case u, ok := <-f.routes:
			if !ok {
				f.routes = nil
				if !closed("route") {
					return
				}
				continue
			}
			payload = u
		}

		if !post(netm.Notification{Source: sourceNetlink, Payload: payload}) {
			return
		}
	}
}

// resubscribe reopens every nil feed of f
func (b *Backend) resubscribe(f *feeds, sub subscriber) error {
	var errs []error
	if f.links == nil {
		ch, err := sub.links()
		errs = append(errs, err)
		f.links = ch
	}
	if f.addrs == nil {
		ch, err := sub.addrs()
		errs = append(errs, err)
		f.addrs = ch
	}
	if f.routes == nil {
		ch, err := sub.routes()
		errs = append(errs, err)
		f.routes = ch
	}
	return errors.Join(errs...)
}

func (b *Backend) Uninit() error {
	b.mu.Lock()
	done := b.done
	b.done = nil
	b.mu.Unlock()

	if done != nil {
		close(done)
		b.wg.Wait()
	}
	if b.handle != nil {
		b.handle.Delete()
		b.handle = nil
	}
	if b.ns != nil {
		err := b.ns.Close()
		b.ns = nil
		return err
	}
	return nil
}

func nlFamily(family lispaddr.Family) int {
	if family == lispaddr.FamilyIPv6 {
		return netlink.FAMILY_V6
	}
	return netlink.FAMILY_V4
}

func isUp(attrs *netlink.LinkAttrs) bool {
	return attrs.RawFlags&unix.IFF_UP != 0
}

func isRunning(attrs *netlink.LinkAttrs) bool {
	return attrs.RawFlags&unix.IFF_UP != 0 && attrs.RawFlags&unix.IFF_RUNNING != 0
}

func (b *Backend) queryFailed(op string, err error, kv ...any) {
	metrics.QueryErrors.WithLabelValues(op).Inc()
	b.logger.Error(netm.QueryError(op, err), "Netlink query failed", kv...)
}

func (b *Backend) link(name string) (netlink.Link, bool) {
	link, err := b.handle.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if !errors.As(err, &notFound) {
			b.queryFailed("link", err, "interface", name)
		}
		return nil, false
	}
	return link, true
}

func (b *Backend) InterfaceNames() []string {
	links, err := b.handle.LinkList()
	if err != nil {
		b.queryFailed("interface_names", err)
		return []string{}
	}

	names := []string{}
	for _, l := range links {
		if isUp(l.Attrs()) {
			names = append(names, l.Attrs().Name)
		}
	}
	sort.Strings(names)
	return names
}

func (b *Backend) Addresses(name string, family lispaddr.Family) []lispaddr.Address {
	out := []lispaddr.Address{}
	link, ok := b.link(name)
	if !ok {
		return out
	}

	addrs, err := b.handle.AddrList(link, nlFamily(family))
	if err != nil {
		b.queryFailed("addresses", err, "interface", name)
		return out
	}
	for _, a := range addrs {
		addr := lispaddr.FromIP(a.IP)
		if !addr.IsValid() || addr.Family() != family {
			continue
		}
		if addr.IsLinkLocal() {
			b.logger.V(2).Info("Skipping link-local address", "interface", name, "address", addr.String())
			continue
		}
		out = append(out, addr)
	}
	return out
}

func (b *Backend) BestSourceAddress(dst lispaddr.Address) (lispaddr.Address, bool) {
	if !dst.IsValid() {
		return lispaddr.Address{}, false
	}
	routes, err := b.handle.RouteGet(dst.IP())
	if err != nil {
		b.queryFailed("best_source", err, "destination", dst.String())
		return lispaddr.Address{}, false
	}
	for _, r := range routes {
		if src := lispaddr.FromIP(r.Src); src.IsValid() {
			return src, true
		}
	}
	return lispaddr.Address{}, false
}

func isDefault(dst *net.IPNet) bool {
	if dst == nil {
		return true
	}
	ones, _ := dst.Mask.Size()
	return ones == 0 && dst.IP.IsUnspecified()
}

func (b *Backend) Gateway(name string, family lispaddr.Family) (lispaddr.Address, bool) {
	link, ok := b.link(name)
	if !ok {
		return lispaddr.Address{}, false
	}

	filter := &netlink.Route{LinkIndex: link.Attrs().Index, Table: b.table}
	routes, err := b.handle.RouteListFiltered(nlFamily(family), filter, netlink.RT_FILTER_OIF|netlink.RT_FILTER_TABLE)
	if err != nil {
		b.queryFailed("gateway", err, "interface", name)
		return lispaddr.Address{}, false
	}

	var gw lispaddr.Address
	for _, r := range routes {
		if !isDefault(r.Dst) {
			continue
		}
		if g := lispaddr.FromIP(r.Gw); g.IsValid() && g.Family() == family {
			gw = g
		}
	}
	return gw, gw.IsValid()
}

func (b *Backend) Status(name string) netm.Status {
	return b.policy.Resolve(name, func(n string) netm.LinkProbe {
		link, ok := b.link(n)
		if !ok {
			return netm.LinkProbe{}
		}
		lp := netm.LinkProbe{Exists: true, Running: isRunning(link.Attrs())}
		if lp.Running && b.policy.RequireGateway {
			_, v4 := b.Gateway(n, lispaddr.FamilyIPv4)
			_, v6 := b.Gateway(n, lispaddr.FamilyIPv6)
			lp.HasGateway = v4 || v6
		}
		return lp
	})
}

func (b *Backend) Index(name string) int {
	link, ok := b.link(name)
	if !ok {
		return 0
	}
	return link.Attrs().Index
}

func (b *Backend) MACAddress(name string) (net.HardwareAddr, error) {
	link, ok := b.link(name)
	if !ok {
		return nil, netm.ErrNoExist
	}
	if len(link.Attrs().HardwareAddr) == 0 {
		return nil, netm.ErrUnsupported
	}
	return link.Attrs().HardwareAddr, nil
}

func (b *Backend) InterfaceForPrefix(prefix netip.Prefix) (string, bool) {
	addrs, err := b.handle.AddrList(nil, netlink.FAMILY_ALL)
	if err != nil {
		b.queryFailed("interface_for_prefix", err, "prefix", prefix.String())
		return "", false
	}
	for _, a := range addrs {
		if !prefix.Contains(lispaddr.FromIP(a.IP).NetIP()) {
			continue
		}
		link, err := b.handle.LinkByIndex(a.LinkIndex)
		if err != nil {
			continue
		}
		return link.Attrs().Name, true
	}
	return "", false
}

// ReloadRoutes lists table and replays every route as an add notification.
// Replaying runs in the background so the event loop is never blocked by
// the caller holding the manager lock.
func (b *Backend) ReloadRoutes(table uint32, family lispaddr.Family) error {
	b.mu.Lock()
	notify, done := b.notify, b.done
	b.mu.Unlock()
	if done == nil {
		return netm.QueryError("reload_routes", errors.New("backend not initialized"))
	}

	filter := &netlink.Route{Table: int(table)}
	routes, err := b.handle.RouteListFiltered(nlFamily(family), filter, netlink.RT_FILTER_TABLE)
	if err != nil {
		metrics.QueryErrors.WithLabelValues("reload_routes").Inc()
		return netm.QueryError("reload_routes", err)
	}
	b.logger.Info("Reloading routes", "table", table, "family", family.String(), "count", len(routes))

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for _, r := range routes {
			u := netlink.RouteUpdate{Type: unix.RTM_NEWROUTE, Route: r}
			select {
			case notify <- netm.Notification{Source: sourceReload, Payload: u}:
			case <-done:
				return
			}
		}
	}()
	return nil
}

func (b *Backend) ReverseAddressTable() (netm.AddressTable, error) {
	table := netm.AddressTable{}
	addrs, err := b.handle.AddrList(nil, netlink.FAMILY_ALL)
	if err != nil {
		return table, netm.QueryError("reverse_address_table", err)
	}

	names := make(map[int]string)
	for _, a := range addrs {
		addr := lispaddr.FromIP(a.IP)
		if !addr.IsValid() {
			b.logger.Info("Skipping unresolvable address", "index", a.LinkIndex)
			continue
		}
		name, ok := names[a.LinkIndex]
		if !ok {
			link, err := b.handle.LinkByIndex(a.LinkIndex)
			if err != nil {
				b.logger.Info("Skipping address of vanished interface", "index", a.LinkIndex, "address", addr.String())
				continue
			}
			name = link.Attrs().Name
			names[a.LinkIndex] = name
		}
		table.Add(addr, name)
	}
	return table, nil
}

func (b *Backend) Translate(n netm.Notification) ([]netm.Event, error) {
	switch u := n.Payload.(type) {
	case netlink.LinkUpdate:
		return translateLink(u), nil
	case netlink.AddrUpdate:
		return b.translateAddr(u), nil
	case netlink.RouteUpdate:
		return translateRoute(u), nil
	case error:
		return nil, u
	default:
		return nil, netm.ParseError("translate", fmt.Errorf("unexpected payload %T from %s", n.Payload, n.Source))
	}
}

func translateLink(u netlink.LinkUpdate) []netm.Event {
	if u.Link == nil {
		return nil
	}
	attrs := u.Link.Attrs()
	state := netm.StatusDown
	switch {
	case u.Header.Type == unix.RTM_DELLINK:
		state = netm.StatusNoExist
	case isRunning(attrs):
		state = netm.StatusUp
	}
	return []netm.Event{netm.LinkChanged{Index: attrs.Index, NewIndex: attrs.Index, State: state}}
}

func (b *Backend) translateAddr(u netlink.AddrUpdate) []netm.Event {
	addr := lispaddr.FromIP(u.LinkAddress.IP)
	if !addr.IsValid() {
		return nil
	}
	if addr.IsLinkLocal() {
		b.logger.V(2).Info("Ignoring link-local address change", "index", u.LinkIndex, "address", addr.String())
		return nil
	}
	op := netm.OpDelete
	if u.NewAddr {
		op = netm.OpAdd
	}
	return []netm.Event{netm.AddressChanged{Op: op, Index: u.LinkIndex, Address: addr}}
}

func translateRoute(u netlink.RouteUpdate) []netm.Event {
	var op netm.Op
	switch u.Type {
	case unix.RTM_NEWROUTE:
		op = netm.OpAdd
	case unix.RTM_DELROUTE:
		op = netm.OpDelete
	default:
		return nil
	}
	if u.Table == unix.RT_TABLE_LOCAL {
		return nil
	}

	gw := lispaddr.FromIP(u.Gw)
	src := lispaddr.FromIP(u.Src)

	var dst lispaddr.Address
	if u.Dst != nil {
		dst = lispaddr.FromIP(u.Dst.IP)
	} else {
		family := gw.Family()
		if family == lispaddr.FamilyNone {
			family = src.Family()
		}
		if family == lispaddr.FamilyNone {
			family = lispaddr.FamilyIPv4
		}
		dst = lispaddr.Any(family)
	}
	return []netm.Event{netm.RouteChanged{Op: op, Index: u.LinkIndex, Destination: dst, Gateway: gw, Source: src}}
}
