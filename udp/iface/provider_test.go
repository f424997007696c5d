package iface

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetProvider_AllInterfaces(t *testing.T) {
	p := New()
	all, err := p.AllInterfaces(false)
	require.NoError(t, err)
	assert.NotEmpty(t, all, "expected at least one interface on the test host")
}

func TestNetProvider_CachesWithinTTL(t *testing.T) {
	p := New().(*netProvider)
	first, err := p.AllInterfaces(true)
	require.NoError(t, err)

	cachedAt := p.cachedAt
	second, err := p.AllInterfaces(true)
	require.NoError(t, err)

	assert.Equal(t, cachedAt, p.cachedAt, "second call within TTL should not re-query")
	assert.Equal(t, len(first), len(second))
}

func TestNetProvider_BypassesCacheWhenStale(t *testing.T) {
	p := New().(*netProvider)
	_, err := p.AllInterfaces(true)
	require.NoError(t, err)

	p.cachedAt = time.Now().Add(-2 * CacheTTL)
	before := p.cachedAt
	_, err = p.AllInterfaces(true)
	require.NoError(t, err)
	assert.True(t, p.cachedAt.After(before))
}

func TestNetProvider_InterfaceByName_Unknown(t *testing.T) {
	p := New()
	_, ok, err := p.InterfaceByName("definitely-not-a-real-iface-0", false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCapable(t *testing.T) {
	tests := []struct {
		name              string
		it                Interface
		multicastLoopback bool
		want              bool
	}{
		{"invalid", Interface{Valid: false}, false, false},
		{"down", Interface{Valid: true, Up: false}, false, false},
		{"multicast capable", Interface{Valid: true, Up: true, Running: true, CanMulticast: true}, false, true},
		{"loopback without flag", Interface{Valid: true, Up: true, Running: true, Loopback: true}, false, false},
		{"loopback with flag", Interface{Valid: true, Up: true, Running: true, Loopback: true}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Capable(tt.it, tt.multicastLoopback))
		})
	}
}
