package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openoverlayrouter/oord/pkg/lispaddr"
	"github.com/openoverlayrouter/oord/pkg/netm"
	"github.com/openoverlayrouter/oord/pkg/netm/platform"
)

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, "auto", cfg.Net.Backend)
	assert.True(t, *cfg.Net.RequireGateway)
	assert.Equal(t, 10002, cfg.Net.IOSPort)
	assert.Equal(t, "http://127.0.0.1:9191", cfg.Net.VPP.URL)
	assert.Equal(t, 5, cfg.Net.VPP.PollInterval)
	assert.Equal(t, "xtr", cfg.Control.Mode)
	assert.Equal(t, "auto", cfg.Control.DataPlane)
	assert.NotEmpty(t, cfg.Server.SocketPath)
	assert.True(t, cfg.HealthEnabled())
	assert.Equal(t, 8082, cfg.Health.Port)
	assert.Equal(t, "127.0.0.1", cfg.Health.Address)
	assert.Equal(t, lispaddr.FamilyIPv4, cfg.Family())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oord.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
net:
  backend: ios
  require_gateway: false
  priority:
    primary: en0
    cellular: pdp_ip0
  route_table: 100
  route_family: "6"
  vpp:
    poll_interval: 2
control:
  mode: mn
  data_plane: vpnapi
health:
  enabled: false
logging:
  verbosity: 2
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.False(t, cfg.HealthEnabled())
	assert.Equal(t, 2, cfg.Logging.Verbosity)
	assert.Equal(t, lispaddr.FamilyIPv6, cfg.Family())
	assert.Equal(t, netm.StatusPolicy{
		Priority:       netm.Priority{Primary: "en0", Cellular: "pdp_ip0"},
		RequireGateway: false,
	}, cfg.StatusPolicy())

	pc := cfg.Platform()
	assert.Equal(t, platform.IOS, pc.Backend)
	assert.Equal(t, uint32(100), pc.Table)
	assert.Equal(t, 2*time.Second, pc.VPPPollInterval)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"backend", "net: {backend: dpdk}"},
		{"ios port", "net: {ios_port: 70000}"},
		{"route family", "net: {route_family: ipx}"},
		{"half priority", "net: {priority: {primary: en0}}"},
		{"same priority", "net: {priority: {primary: en0, cellular: en0}}"},
		{"mode", "control: {mode: pitr}"},
		{"data plane", "control: {data_plane: xdp}"},
		{"health port", "health: {port: -1}"},
		{"verbosity", "logging: {verbosity: -3}"},
		{"syntax", "net: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestChanges(t *testing.T) {
	old := Default()
	next := Default()
	next.Logging.Verbosity = 1
	next.Net.Priority = netm.Priority{Primary: "en0", Cellular: "pdp_ip0"}
	next.Net.RouteTable = 254
	next.Net.Backend = "vpp"
	off := false
	next.Health.Enabled = &off

	applied, restart := old.Changes(next)
	assert.Equal(t, []string{"logging.verbosity", "net.priority", "net.route_table"}, applied)
	assert.Equal(t, []string{"net.backend", "health"}, restart)

	applied, restart = old.Changes(Default())
	assert.Empty(t, applied)
	assert.Empty(t, restart)
}

func TestMergeWithFlags(t *testing.T) {
	cfg := Default()
	cfg.MergeWithFlags(map[string]interface{}{
		"backend": "kernel",
		"socket":  "/tmp/oord.sock",
		"v":       3,
	})
	assert.Equal(t, "kernel", cfg.Net.Backend)
	assert.Equal(t, "/tmp/oord.sock", cfg.Server.SocketPath)
	assert.Equal(t, 3, cfg.Logging.Verbosity)
}
