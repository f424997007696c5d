package datagrampool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_GetSizesExactly(t *testing.T) {
	p := New(0)
	buf := p.Get(10)
	assert.Len(t, buf.Bytes(), 10)
}

func TestPool_GetGrowsBeyondMinCap(t *testing.T) {
	p := New(4)
	buf := p.Get(4096)
	require.Len(t, buf.Bytes(), 4096)
}

func TestPool_ResizeReusesCapacity(t *testing.T) {
	p := New(0)
	buf := p.Get(100)
	b1 := buf.Bytes()
	b1[0] = 0xAB

	grown := buf.Resize(50)
	assert.Len(t, grown, 50)
	assert.Equal(t, byte(0xAB), grown[0], "resize within capacity must keep the same storage")
}

func TestPool_ReleaseThenGetReusesStorage(t *testing.T) {
	p := New(16)
	buf := p.Get(16)
	buf.Release()

	buf2 := p.Get(16)
	assert.Len(t, buf2.Bytes(), 16)
}
