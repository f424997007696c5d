package udp

import "sync"

// CounterSample is a point-in-time delta or snapshot of traffic counters:
// bytes and packets sent/received, plus invalid-packet count.
type CounterSample struct {
	RxBytes   uint64
	TxBytes   uint64
	RxPackets uint64
	TxPackets uint64
	RxInvalid uint64
}

// Counters aggregates per-second deltas into running totals, and remembers
// the most recent per-second sample. Safe for concurrent reads via
// Snapshot while the worker loop goroutine is the only writer.
type Counters struct {
	mu sync.Mutex

	totals    CounterSample
	perSecond CounterSample
}

// Snapshot returns the current totals and most recent per-second sample.
func (c *Counters) Snapshot() (totals, perSecond CounterSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totals, c.perSecond
}

// Reset zeros every counter. Totals do not survive a Reset, but do survive
// a Worker restart (§3 lifecycle) unless Reset is called explicitly.
func (c *Counters) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals = CounterSample{}
	c.perSecond = CounterSample{}
}

// applyTick folds a per-second delta into the running totals and records it
// as the latest per-second sample. Called only from the worker loop
// goroutine's 1000ms counter timer.
func (c *Counters) applyTick(delta CounterSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals.RxBytes += delta.RxBytes
	c.totals.TxBytes += delta.TxBytes
	c.totals.RxPackets += delta.RxPackets
	c.totals.TxPackets += delta.TxPackets
	c.totals.RxInvalid += delta.RxInvalid
	c.perSecond = delta
}

// counterAccumulator tracks counts since the last 1000ms tick; it lives on
// the worker and is reset every time applyTick is called.
type counterAccumulator struct {
	rxBytes, txBytes, rxPackets, txPackets, rxInvalid uint64
}

func (a *counterAccumulator) sample() CounterSample {
	return CounterSample{
		RxBytes:   a.rxBytes,
		TxBytes:   a.txBytes,
		RxPackets: a.rxPackets,
		TxPackets: a.txPackets,
		RxInvalid: a.rxInvalid,
	}
}

func (a *counterAccumulator) reset() {
	*a = counterAccumulator{}
}
