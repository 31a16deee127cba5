//go:build !windows

package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openoverlayrouter/oord/pkg/lispaddr"
	"github.com/openoverlayrouter/oord/pkg/netm"
	"github.com/openoverlayrouter/oord/pkg/socket"
)

type stubDaemon struct{}

func (stubDaemon) GetStatus() socket.StatusResponse {
	return socket.StatusResponse{Backend: "kernel", Device: "xtr", DataPlane: "tun", Interfaces: 2, Up: 1, Uptime: "1m0s"}
}

func (stubDaemon) Interfaces() []netm.Interface {
	return []netm.Interface{
		{Name: "eth0", Index: 2, Status: netm.StatusUp,
			IPv4: []lispaddr.Address{lispaddr.MustParse("192.0.2.10")}, GW4: lispaddr.MustParse("192.0.2.1")},
		{Name: "wlan0", Index: 3, Status: netm.StatusDown},
	}
}

func (stubDaemon) Addresses(name string, _ lispaddr.Family) []lispaddr.Address {
	if name == "eth0" {
		return []lispaddr.Address{lispaddr.MustParse("192.0.2.10")}
	}
	return nil
}

func (stubDaemon) Gateway(name string, _ lispaddr.Family) (lispaddr.Address, bool) {
	return lispaddr.MustParse("192.0.2.1"), name == "eth0"
}

func (stubDaemon) BestSourceAddress(lispaddr.Address) (lispaddr.Address, bool) {
	return lispaddr.MustParse("192.0.2.10"), true
}

func (stubDaemon) ReverseAddressTable() (netm.AddressTable, error) {
	return netm.AddressTable{"192.0.2.10": "eth0", "2001:db8::10": "eth0"}, nil
}

func (stubDaemon) ReloadRoutes(uint32, lispaddr.Family) error { return nil }

func newCLI(t *testing.T) (*cli, *bytes.Buffer) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oord.sock")
	srv := socket.NewServer(path, stubDaemon{}, logr.Discard())
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	var out bytes.Buffer
	return &cli{socketPath: path, out: &out}, &out
}

func TestCommands(t *testing.T) {
	tests := []struct {
		args []string
		want []string
	}{
		{[]string{"status"}, []string{"Backend:      kernel", "Interfaces:   2 (1 up)", "Uptime:       1m0s"}},
		{[]string{"interfaces"}, []string{"eth0", "192.0.2.10", "192.0.2.1", "wlan0", "down"}},
		{[]string{"addresses", "eth0"}, []string{"192.0.2.10"}},
		{[]string{"addresses", "wlan0"}, []string{"No addresses."}},
		{[]string{"gateway", "eth0"}, []string{"eth0 ipv4 via 192.0.2.1"}},
		{[]string{"lookup", "192.0.2.10"}, []string{"192.0.2.10 is on eth0"}},
		{[]string{"addrtable"}, []string{"192.0.2.10", "2001:db8::10"}},
		{[]string{"route-source", "203.0.113.1"}, []string{"203.0.113.1 from 192.0.2.10"}},
		{[]string{"reload-routes", "254"}, []string{"reloading table 254 (ipv4)"}},
	}
	for _, tt := range tests {
		t.Run(tt.args[0], func(t *testing.T) {
			c, out := newCLI(t)
			require.NoError(t, c.run(tt.args))
			for _, w := range tt.want {
				assert.Contains(t, out.String(), w)
			}
		})
	}
}

func TestCommandErrors(t *testing.T) {
	c, _ := newCLI(t)

	assert.ErrorContains(t, c.run(nil), "command required")
	assert.ErrorContains(t, c.run([]string{"bogus"}), "unknown command")
	assert.ErrorContains(t, c.run([]string{"addresses"}), "usage")
	assert.ErrorContains(t, c.run([]string{"gateway", "wlan0"}), "no ipv4 default gateway on wlan0")
	assert.ErrorContains(t, c.run([]string{"lookup", "198.51.100.1"}), "no interface holds")
	assert.ErrorContains(t, c.run([]string{"reload-routes", "main"}), "invalid route table")

	c.socketPath = filepath.Join(t.TempDir(), "absent.sock")
	assert.ErrorContains(t, c.run([]string{"status"}), "failed to connect to daemon")
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		w.Write([]byte(`{"healthy":true,"backend":"kernel"}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	c := &cli{healthURL: srv.URL, out: &out}
	require.NoError(t, c.run([]string{"health"}))
	assert.Contains(t, out.String(), `"healthy": true`)
}
