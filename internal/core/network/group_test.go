package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGroup(t *testing.T) {
	g, err := ParseGroup("/ip4/224.0.0.3/udp/8888")
	require.NoError(t, err)
	assert.Equal(t, "/ip4/224.0.0.3/udp/8888", g.String())
	assert.Equal(t, "224.0.0.3:8888", g.UDPAddr().String())
	assert.False(t, g.IsZero())
}

func TestNewGroup(t *testing.T) {
	g, err := NewGroup("239.1.2.3", 9000)
	require.NoError(t, err)
	assert.Equal(t, "/ip4/239.1.2.3/udp/9000", g.String())
}

func TestParseGroupRejects(t *testing.T) {
	for _, s := range []string{
		"",
		"not-a-multiaddr",
		"/ip4/10.0.0.1/udp/8888",
		"/ip4/224.0.0.3/tcp/8888",
		"/ip6/ff02::1/udp/8888",
		"/ip4/224.0.0.3/udp/0",
	} {
		_, err := ParseGroup(s)
		assert.ErrorIs(t, err, ErrInvalidGroup, "input %q", s)
	}
}

func TestNewGroupRejects(t *testing.T) {
	_, err := NewGroup("nope", 8888)
	assert.ErrorIs(t, err, ErrInvalidGroup)
	_, err = NewGroup("224.0.0.3", 70000)
	assert.ErrorIs(t, err, ErrInvalidGroup)
}

func TestGroupUDPAddrIsCopy(t *testing.T) {
	g, err := ParseGroup("/ip4/224.0.0.3/udp/8888")
	require.NoError(t, err)
	a := g.UDPAddr()
	a.Port = 1
	a.IP[0] = 10
	assert.Equal(t, "224.0.0.3:8888", g.UDPAddr().String())
}

func TestZeroGroup(t *testing.T) {
	var g Group
	assert.True(t, g.IsZero())
	assert.Empty(t, g.String())
	assert.Nil(t, g.UDPAddr())
}
