//go:build !windows

package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openoverlayrouter/oord/pkg/lispaddr"
	"github.com/openoverlayrouter/oord/pkg/netm"
	"github.com/openoverlayrouter/oord/pkg/netm/netmtest"
	"github.com/openoverlayrouter/oord/pkg/socket"
)

type fixture struct {
	dir       string
	cfgPath   string
	sockPath  string
	backend   *netmtest.Backend
	verbosity atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:      dir,
		cfgPath:  filepath.Join(dir, "oord.yml"),
		sockPath: filepath.Join(dir, "oord.sock"),
		backend:  netmtest.NewBackend(),
	}
	f.backend.Links["eth0"] = &netmtest.Link{
		Index:   2,
		Up:      true,
		Running: true,
		Addrs:   []lispaddr.Address{lispaddr.MustParse("192.0.2.10")},
		GW4:     lispaddr.MustParse("192.0.2.1"),
	}
	f.backend.Links["wwan0"] = &netmtest.Link{
		Index:   3,
		Up:      true,
		Running: true,
		Addrs:   []lispaddr.Address{lispaddr.MustParse("100.64.0.7")},
		GW4:     lispaddr.MustParse("100.64.0.1"),
	}
	f.writeConfig(t, 0, "")
	return f
}

func (f *fixture) writeConfig(t *testing.T, verbosity int, extra string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.cfgPath, f.render(verbosity, extra), 0o644))
}

func (f *fixture) render(verbosity int, extra string) []byte {
	return []byte(fmt.Sprintf(`
net:
  namespace: ""
%s
control:
  data_plane: tun
server:
  socket_path: %s
health:
  enabled: false
logging:
  verbosity: %d
`, extra, f.sockPath, verbosity))
}

func (f *fixture) newDaemon(t *testing.T) *Daemon {
	t.Helper()
	d, err := New(Options{
		ConfigPath:   f.cfgPath,
		Backend:      f.backend,
		TableRetry:   100 * time.Millisecond,
		SetVerbosity: func(v int) { f.verbosity.Store(int32(v)) },
		Logger:       logr.Discard(),
	})
	require.NoError(t, err)
	return d
}

func command(t *testing.T, path string, cmd socket.Command) (json.RawMessage, string) {
	t.Helper()
	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, json.NewEncoder(conn).Encode(cmd))
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	return resp.Data, resp.Error
}

func TestNewWithoutConfigFile(t *testing.T) {
	d, err := New(Options{
		ConfigPath: filepath.Join(t.TempDir(), "absent.yml"),
		Backend:    netmtest.NewBackend(),
		Logger:     logr.Discard(),
	})
	require.NoError(t, err)
	assert.Equal(t, "auto", d.config().Net.Backend)
	assert.Equal(t, "test", d.GetStatus().Backend)
	assert.Equal(t, "xtr", d.GetStatus().Device)
}

func TestNewRejectsBadFlags(t *testing.T) {
	_, err := New(Options{
		Flags:   map[string]interface{}{"backend": "dpdk"},
		Backend: netmtest.NewBackend(),
		Logger:  logr.Discard(),
	})
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	f := newFixture(t)
	d := f.newDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("unix", f.sockPath)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, f.backend.Inited())

	data, errMsg := command(t, f.sockPath, socket.Command{Command: "status"})
	require.Empty(t, errMsg)
	var status socket.StatusResponse
	require.NoError(t, json.Unmarshal(data, &status))
	assert.Equal(t, "test", status.Backend)
	assert.Equal(t, "tun", status.DataPlane)
	assert.Equal(t, 2, status.Interfaces)
	assert.Equal(t, 2, status.Up)

	data, errMsg = command(t, f.sockPath, socket.Command{Command: "lookup", Args: []string{"100.64.0.7"}})
	require.Empty(t, errMsg)
	assert.JSONEq(t, `{"address":"100.64.0.7","interface":"wwan0"}`, string(data))

	// events posted by the backend reach the interface registry
	f.backend.Post(netm.Notification{Source: "test", Payload: []netm.Event{
		netm.LinkChanged{Index: 3, NewIndex: 3, State: netm.StatusDown},
	}})
	require.Eventually(t, func() bool {
		return d.GetStatus().Up == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	assert.False(t, f.backend.Inited())
	_, err := os.Stat(f.sockPath)
	assert.True(t, errors.Is(err, os.ErrNotExist), "socket removed on shutdown")
}

func TestRunFailsWithoutAddressTable(t *testing.T) {
	f := newFixture(t)
	f.backend.TableErr = errors.New("getifaddrs failed")
	d := f.newDaemon(t)

	err := d.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to build address table")
	assert.False(t, f.backend.Inited())
}

func TestApply(t *testing.T) {
	f := newFixture(t)
	d := f.newDaemon(t)
	d.registry.Load()

	f.writeConfig(t, 2, `  priority: {primary: eth0, cellular: wwan0}
  route_table: 100
  route_family: "6"
  backend: vpp`)
	d.reloadConfig()

	cfg := d.config()
	assert.Equal(t, int32(2), f.verbosity.Load())
	assert.Equal(t, uint32(100), cfg.Net.RouteTable)
	assert.Equal(t, "auto", cfg.Net.Backend, "backend needs a restart")
	assert.Equal(t, []uint32{100}, f.backend.Reloaded)

	assert.Equal(t, "wwan0", f.backend.Policy.Priority.Cellular)
	iface, ok := d.registry.Get("wwan0")
	require.True(t, ok)
	assert.Equal(t, netm.StatusDown, iface.Status)
}

func TestReloadKeepsConfigOnError(t *testing.T) {
	f := newFixture(t)
	d := f.newDaemon(t)

	require.NoError(t, os.WriteFile(f.cfgPath, []byte("logging: {verbosity: -1}"), 0o644))
	d.reloadConfig()
	assert.Equal(t, 0, d.config().Logging.Verbosity)
	assert.Empty(t, f.backend.Reloaded)
}

func TestReloadValidatesMergedFlags(t *testing.T) {
	f := newFixture(t)
	d := f.newDaemon(t)

	// the file is valid on its own; the flag merged over it is not
	d.opts.Flags = map[string]interface{}{"backend": "dpdk"}
	f.writeConfig(t, 2, "")
	d.reloadConfig()

	assert.Equal(t, 0, d.config().Logging.Verbosity)
	assert.Equal(t, int32(0), f.verbosity.Load())
}

func TestWatchConfig(t *testing.T) {
	f := newFixture(t)
	d := f.newDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.watchConfig(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// rewrite until the watcher is registered and picks a write up
	require.Eventually(t, func() bool {
		_ = os.WriteFile(f.cfgPath, f.render(3, ""), 0o644)
		return f.verbosity.Load() == 3
	}, 3*time.Second, 200*time.Millisecond)
}
