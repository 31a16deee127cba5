package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openoverlayrouter/oord/pkg/lispaddr"
	"github.com/openoverlayrouter/oord/pkg/netm"
)

type staticList []netm.Interface

func (l staticList) List() []netm.Interface { return l }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	down := staticList{{Name: "eth0", Index: 2, Status: netm.StatusDown}}
	s := NewServer(Config{Interfaces: down, Logger: logr.Discard()})
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s.Handler(), "/health").Code)

	up := append(down, netm.Interface{Name: "wlan0", Index: 3, Status: netm.StatusUp})
	s = NewServer(Config{Interfaces: up, Logger: logr.Discard()})
	rec := get(t, s.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy\n", rec.Body.String())

	s = NewServer(Config{Logger: logr.Discard()})
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s.Handler(), "/health").Code)
}

func TestReady(t *testing.T) {
	s := NewServer(Config{Logger: logr.Discard()})
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s.Handler(), "/ready").Code)

	s.SetReady(true)
	assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/readyz").Code)
}

func TestStatus(t *testing.T) {
	list := staticList{{
		Name:   "eth0",
		Index:  2,
		Status: netm.StatusUp,
		IPv4:   []lispaddr.Address{lispaddr.MustParse("192.0.2.10")},
		GW4:    lispaddr.MustParse("192.0.2.1"),
	}}
	s := NewServer(Config{Backend: "kernel", Interfaces: list, Logger: logr.Discard()})
	s.SetReady(true)

	rec := get(t, s.Handler(), "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Healthy)
	assert.True(t, status.Ready)
	assert.Equal(t, "kernel", status.Backend)
	require.Contains(t, status.Interfaces, "eth0")
	assert.Equal(t, "192.0.2.1", status.Interfaces["eth0"].GW4.String())
	assert.Equal(t, "192.0.2.10", status.Interfaces["eth0"].IPv4[0].String())
}

func TestMetrics(t *testing.T) {
	s := NewServer(Config{Logger: logr.Discard()})

	rec := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "oor_netm_parse_errors_total")
}
