package udp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounters_ApplyTickAccumulates(t *testing.T) {
	c := &Counters{}
	c.applyTick(CounterSample{RxBytes: 10, RxPackets: 1})
	c.applyTick(CounterSample{RxBytes: 5, RxPackets: 1, TxBytes: 20, TxPackets: 1})

	totals, perSecond := c.Snapshot()
	assert.Equal(t, uint64(15), totals.RxBytes)
	assert.Equal(t, uint64(2), totals.RxPackets)
	assert.Equal(t, uint64(20), totals.TxBytes)
	assert.Equal(t, CounterSample{RxBytes: 5, RxPackets: 1, TxBytes: 20, TxPackets: 1}, perSecond)
}

func TestCounters_ResetZeroesBoth(t *testing.T) {
	c := &Counters{}
	c.applyTick(CounterSample{RxBytes: 100})
	c.Reset()

	totals, perSecond := c.Snapshot()
	assert.Zero(t, totals)
	assert.Zero(t, perSecond)
}

func TestCounterAccumulator_SampleThenReset(t *testing.T) {
	var acc counterAccumulator
	acc.rxBytes = 7
	acc.rxPackets = 1
	acc.rxInvalid = 2

	sample := acc.sample()
	assert.Equal(t, uint64(7), sample.RxBytes)
	assert.Equal(t, uint64(2), sample.RxInvalid)

	acc.reset()
	assert.Zero(t, acc.sample())
}
