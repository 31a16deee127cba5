package lispaddr

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneRoundTrip(t *testing.T) {
	for _, s := range []string{"192.0.2.7", "2001:db8::1", "0.0.0.0", "fe80::1"} {
		orig := MustParse(s)
		clone := orig.Clone()

		assert.True(t, orig.Equal(clone), s)
		assert.Equal(t, orig.Family(), clone.Family(), s)
		assert.Equal(t, orig.Bytes(), clone.Bytes(), s)
	}
}

func TestBytesAreCopied(t *testing.T) {
	a := MustParse("10.0.0.1")
	b := a.Bytes()
	b[0] = 99

	assert.Equal(t, "10.0.0.1", a.String())
}

func TestFamily(t *testing.T) {
	assert.Equal(t, FamilyIPv4, MustParse("10.1.2.3").Family())
	assert.Equal(t, FamilyIPv6, MustParse("2001:db8::2").Family())
	assert.Equal(t, FamilyNone, Address{}.Family())

	// v4-mapped addresses coming from net.IP are stored as plain IPv4
	assert.Equal(t, FamilyIPv4, FromIP(net.ParseIP("10.1.2.3")).Family())
	assert.Len(t, FromIP(net.ParseIP("10.1.2.3")).Bytes(), 4)
}

func TestFromBytes(t *testing.T) {
	a, err := FromBytes(FamilyIPv4, []byte{192, 0, 2, 1})
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", a.String())

	_, err = FromBytes(FamilyIPv4, []byte{1, 2, 3})
	assert.Error(t, err)

	_, err = FromBytes(FamilyIPv6, make([]byte, 4))
	assert.Error(t, err)
}

func TestIsLinkLocal(t *testing.T) {
	assert.True(t, MustParse("169.254.10.1").IsLinkLocal())
	assert.True(t, MustParse("fe80::1234").IsLinkLocal())
	assert.False(t, MustParse("192.168.1.1").IsLinkLocal())
	assert.False(t, MustParse("2001:db8::1").IsLinkLocal())
}

func TestEqualAcrossFamilies(t *testing.T) {
	assert.False(t, MustParse("0.0.0.0").Equal(MustParse("::")))
	assert.True(t, Any(FamilyIPv4).Equal(MustParse("0.0.0.0")))
	assert.True(t, Any(FamilyIPv6).IsUnspecified())
}

func TestZeroAddress(t *testing.T) {
	var a Address
	assert.False(t, a.IsValid())
	assert.Equal(t, "", a.String())
	assert.Nil(t, a.IP())
	assert.Nil(t, a.Bytes())
}

func TestJSON(t *testing.T) {
	type wrapper struct {
		Gateway Address `json:"gateway"`
	}

	data, err := json.Marshal(wrapper{Gateway: MustParse("192.0.2.254")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"gateway":"192.0.2.254"}`, string(data))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"gateway":"2001:db8::fe"}`), &w))
	assert.Equal(t, FamilyIPv6, w.Gateway.Family())
}

func TestParseFamily(t *testing.T) {
	f, err := ParseFamily("4")
	require.NoError(t, err)
	assert.Equal(t, FamilyIPv4, f)

	f, err = ParseFamily("inet6")
	require.NoError(t, err)
	assert.Equal(t, FamilyIPv6, f)

	_, err = ParseFamily("x")
	assert.Error(t, err)
}
