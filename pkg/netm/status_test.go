package netm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func probeTable(t map[string]LinkProbe) func(string) LinkProbe {
	return func(name string) LinkProbe {
		return t[name]
	}
}

func TestStatusPolicyDerive(t *testing.T) {
	p := StatusPolicy{RequireGateway: true}

	probes := probeTable(map[string]LinkProbe{
		"eth0": {Exists: true, Running: true, HasGateway: true},
		"eth1": {Exists: true, Running: true},
		"eth2": {Exists: true},
	})

	assert.Equal(t, StatusUp, p.Resolve("eth0", probes))
	assert.Equal(t, StatusDown, p.Resolve("eth1", probes), "running without gateway")
	assert.Equal(t, StatusDown, p.Resolve("eth2", probes))
	assert.Equal(t, StatusNoExist, p.Resolve("eth9", probes))

	p.RequireGateway = false
	assert.Equal(t, StatusUp, p.Resolve("eth1", probes))
}

func TestCellularForcedDownWhilePrimaryUp(t *testing.T) {
	p := StatusPolicy{
		Priority:       Priority{Primary: "en0", Cellular: "pdp_ip0"},
		RequireGateway: true,
	}

	cases := []struct {
		name     string
		primary  LinkProbe
		cellular LinkProbe
		want     Status
	}{
		{"primary up, cellular up", LinkProbe{true, true, true}, LinkProbe{true, true, true}, StatusDown},
		{"primary up, cellular down", LinkProbe{true, true, true}, LinkProbe{true, false, false}, StatusDown},
		{"primary no gateway", LinkProbe{true, true, false}, LinkProbe{true, true, true}, StatusUp},
		{"primary not running", LinkProbe{true, false, true}, LinkProbe{true, true, true}, StatusUp},
		{"primary missing", LinkProbe{}, LinkProbe{true, true, true}, StatusUp},
		{"both down", LinkProbe{true, false, false}, LinkProbe{true, false, false}, StatusDown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			probes := probeTable(map[string]LinkProbe{"en0": tc.primary, "pdp_ip0": tc.cellular})

			primary := p.Resolve("en0", probes)
			cellular := p.Resolve("pdp_ip0", probes)
			assert.Equal(t, tc.want, cellular)
			if primary == StatusUp {
				assert.Equal(t, StatusDown, cellular)
			}
		})
	}
}

func TestPriorityEnabled(t *testing.T) {
	assert.False(t, Priority{}.Enabled())
	assert.False(t, Priority{Primary: "en0"}.Enabled())
	assert.False(t, Priority{Primary: "en0", Cellular: "en0"}.Enabled())
	assert.True(t, Priority{Primary: "en0", Cellular: "pdp_ip0"}.Enabled())
}
