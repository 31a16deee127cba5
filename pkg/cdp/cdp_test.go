package cdp

import (
	"testing"

	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openoverlayrouter/oord/pkg/lispaddr"
	"github.com/openoverlayrouter/oord/pkg/netm"
	"github.com/openoverlayrouter/oord/pkg/netm/platform"
)

func TestParse(t *testing.T) {
	d, err := ParseDevice("")
	require.NoError(t, err)
	assert.Equal(t, XTR, d)
	d, err = ParseDevice("ddt")
	require.NoError(t, err)
	assert.Equal(t, DDT, d)
	_, err = ParseDevice("pitr")
	assert.Error(t, err)

	p, err := ParseDataPlane("")
	require.NoError(t, err)
	assert.Equal(t, AutoPlane, p)
	p, err = ParseDataPlane("vpnapi")
	require.NoError(t, err)
	assert.Equal(t, VPNAPI, p)
	_, err = ParseDataPlane("xdp")
	assert.Error(t, err)
}

func TestSelectDataPlane(t *testing.T) {
	tests := []struct {
		requested DataPlane
		backend   platform.Kind
		want      DataPlane
	}{
		{AutoPlane, platform.IOS, VPNAPI},
		{AutoPlane, platform.VPP, VPP},
		{AutoPlane, platform.Apple, Apple},
		{AutoPlane, platform.Kernel, TUN},
		{"", platform.Kernel, TUN},
		{TUN, platform.VPP, TUN},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SelectDataPlane(tt.requested, tt.backend), "%s on %s", tt.requested, tt.backend)
	}
}

func TestSelect(t *testing.T) {
	sel := Select("", AutoPlane, platform.Kernel)
	assert.Equal(t, Selection{Device: XTR, DataPlane: TUN}, sel)
	assert.Equal(t, "xtr/tun", sel.String())
}

func TestTracksInterfaces(t *testing.T) {
	for _, d := range []Device{XTR, RTR, MN} {
		assert.True(t, d.TracksInterfaces(), d)
	}
	for _, d := range []Device{MS, MR, DDT} {
		assert.False(t, d.TracksInterfaces(), d)
	}
}

func TestNotifierFiltersByDevice(t *testing.T) {
	var lines []string
	logger := funcr.New(func(prefix, args string) {
		lines = append(lines, args)
	}, funcr.Options{Verbosity: 1})

	gw := lispaddr.MustParse("192.0.2.1")
	any4 := lispaddr.Any(lispaddr.FamilyIPv4)

	n := NewNotifier(Selection{Device: MS, DataPlane: TUN}, logger)
	n.LinkChanged(2, 2, netm.StatusUp)
	n.RouteChanged(netm.OpAdd, 2, any4, gw, gw)
	assert.Empty(t, lines)

	n = NewNotifier(Selection{Device: XTR, DataPlane: TUN}, logger)
	n.LinkChanged(2, 2, netm.StatusUp)
	n.AddressChanged(netm.OpAdd, 2, lispaddr.MustParse("192.0.2.10"))
	n.RouteChanged(netm.OpAdd, 2, lispaddr.MustParse("203.0.113.0"), gw, gw)
	n.RouteChanged(netm.OpAdd, 2, any4, gw, gw)
	assert.Len(t, lines, 3)
}
