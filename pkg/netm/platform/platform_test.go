package platform

import (
	"runtime"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openoverlayrouter/oord/pkg/netm"
)

func TestParse(t *testing.T) {
	for _, k := range Kinds {
		got, err := Parse(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	got, err := Parse("")
	require.NoError(t, err)
	assert.Equal(t, Auto, got)

	_, err = Parse("dpdk")
	assert.Error(t, err)
}

func TestDetect(t *testing.T) {
	assert.Equal(t, IOS, Detect("ios"))
	assert.Equal(t, Apple, Detect("darwin"))
	assert.Equal(t, Kernel, Detect("linux"))
	assert.Equal(t, Kernel, Detect("android"))
}

func TestResolve(t *testing.T) {
	assert.Equal(t, Detect(runtime.GOOS), Config{}.Resolve())
	assert.Equal(t, Detect(runtime.GOOS), Config{Backend: Auto}.Resolve())
	assert.Equal(t, VPP, Config{Backend: VPP}.Resolve())
}

func TestNewVPPDoesNotContactAgent(t *testing.T) {
	b, err := New(Config{Backend: VPP, VPPURL: "http://127.0.0.1:1", Logger: logr.Discard()})
	require.NoError(t, err)
	assert.Equal(t, "vpp", b.Name())
}

func TestNewUnknown(t *testing.T) {
	b, err := New(Config{Backend: "dpdk", Logger: logr.Discard()})
	assert.Nil(t, b)
	assert.True(t, netm.IsKind(err, netm.KindInit))
}

func TestNewAppleOffDarwin(t *testing.T) {
	if runtime.GOOS == "darwin" || runtime.GOOS == "ios" {
		t.Skip("routing socket available")
	}
	b, err := New(Config{Backend: IOS, Logger: logr.Discard()})
	assert.Nil(t, b)
	assert.True(t, netm.IsKind(err, netm.KindInit))
}
