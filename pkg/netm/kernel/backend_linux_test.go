//go:build linux

package kernel

import (
	"net"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/openoverlayrouter/oord/pkg/lispaddr"
	"github.com/openoverlayrouter/oord/pkg/netm"
)

func testBackend() *Backend {
	return &Backend{logger: logr.Discard(), table: mainTable}
}

func dummy(index int, flags uint32) netlink.Link {
	return &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Index: index, Name: "eth1", RawFlags: flags}}
}

func notification(payload any) netm.Notification {
	return netm.Notification{Source: sourceNetlink, Payload: payload}
}

func TestTranslateLink(t *testing.T) {
	b := testBackend()

	tests := []struct {
		name   string
		update netlink.LinkUpdate
		want   netm.Status
	}{
		{
			name:   "running",
			update: netlink.LinkUpdate{Header: unix.NlMsghdr{Type: unix.RTM_NEWLINK}, Link: dummy(3, unix.IFF_UP|unix.IFF_RUNNING)},
			want:   netm.StatusUp,
		},
		{
			name:   "admin up without carrier",
			update: netlink.LinkUpdate{Header: unix.NlMsghdr{Type: unix.RTM_NEWLINK}, Link: dummy(3, unix.IFF_UP)},
			want:   netm.StatusDown,
		},
		{
			name:   "removed",
			update: netlink.LinkUpdate{Header: unix.NlMsghdr{Type: unix.RTM_DELLINK}, Link: dummy(3, unix.IFF_UP|unix.IFF_RUNNING)},
			want:   netm.StatusNoExist,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := b.Translate(notification(tt.update))
			require.NoError(t, err)
			assert.Equal(t, []netm.Event{netm.LinkChanged{Index: 3, NewIndex: 3, State: tt.want}}, events)
		})
	}
}

func TestTranslateAddress(t *testing.T) {
	b := testBackend()

	events, err := b.Translate(notification(netlink.AddrUpdate{
		LinkAddress: net.IPNet{IP: net.ParseIP("192.0.2.10"), Mask: net.CIDRMask(24, 32)},
		LinkIndex:   2,
		NewAddr:     true,
	}))
	require.NoError(t, err)
	assert.Equal(t, []netm.Event{
		netm.AddressChanged{Op: netm.OpAdd, Index: 2, Address: lispaddr.MustParse("192.0.2.10")},
	}, events)

	events, err = b.Translate(notification(netlink.AddrUpdate{
		LinkAddress: net.IPNet{IP: net.ParseIP("2001:db8::10"), Mask: net.CIDRMask(64, 128)},
		LinkIndex:   2,
	}))
	require.NoError(t, err)
	assert.Equal(t, []netm.Event{
		netm.AddressChanged{Op: netm.OpDelete, Index: 2, Address: lispaddr.MustParse("2001:db8::10")},
	}, events)

	events, err = b.Translate(notification(netlink.AddrUpdate{
		LinkAddress: net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
		LinkIndex:   2,
		NewAddr:     true,
	}))
	require.NoError(t, err)
	assert.Empty(t, events, "link-local changes are not reported")
}

func TestTranslateRoute(t *testing.T) {
	b := testBackend()

	events, err := b.Translate(notification(netlink.RouteUpdate{
		Type:  unix.RTM_NEWROUTE,
		Route: netlink.Route{LinkIndex: 2, Gw: net.ParseIP("192.0.2.1"), Table: mainTable},
	}))
	require.NoError(t, err)
	assert.Equal(t, []netm.Event{netm.RouteChanged{
		Op:          netm.OpAdd,
		Index:       2,
		Destination: lispaddr.MustParse("0.0.0.0"),
		Gateway:     lispaddr.MustParse("192.0.2.1"),
	}}, events)

	_, dst, _ := net.ParseCIDR("2001:db8:1::/48")
	events, err = b.Translate(notification(netlink.RouteUpdate{
		Type:  unix.RTM_DELROUTE,
		Route: netlink.Route{LinkIndex: 2, Dst: dst, Gw: net.ParseIP("2001:db8::1"), Table: mainTable},
	}))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, netm.OpDelete, events[0].(netm.RouteChanged).Op)
	assert.Equal(t, "2001:db8:1::", events[0].(netm.RouteChanged).Destination.String())

	events, err = b.Translate(notification(netlink.RouteUpdate{
		Type:  unix.RTM_NEWROUTE,
		Route: netlink.Route{LinkIndex: 1, Table: unix.RT_TABLE_LOCAL},
	}))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestTranslateUnknownPayload(t *testing.T) {
	_, err := testBackend().Translate(notification("garbage"))
	assert.True(t, netm.IsKind(err, netm.KindParse))
}

func TestIsDefault(t *testing.T) {
	assert.True(t, isDefault(nil))
	_, all4, _ := net.ParseCIDR("0.0.0.0/0")
	assert.True(t, isDefault(all4))
	_, net10, _ := net.ParseCIDR("10.0.0.0/8")
	assert.False(t, isDefault(net10))
}

func TestConfigTable(t *testing.T) {
	assert.Equal(t, mainTable, Config{}.table())
	assert.Equal(t, 100, Config{Table: 100}.table())
}

func TestReloadBeforeInit(t *testing.T) {
	err := testBackend().ReloadRoutes(mainTable, lispaddr.FamilyIPv4)
	assert.True(t, netm.IsKind(err, netm.KindQuery))
}
