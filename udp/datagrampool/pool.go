// Package datagrampool defines the Datagram Pool contract external to the
// core library (§6) and a default sync.Pool-backed implementation.
//
// Grounded on jroosing-HydraDNS/internal/pool's generic Pool[T any]
// wrapper around sync.Pool, generalized from a pool of fixed-size DNS
// message buffers to a pool of variable-length datagram buffers, and on
// original_source/include/Net/Udp/RecycledDatagram.hpp's fixed-size
// recycler::Circular<RecycledDatagram> ring, whose role this package's
// Buffer/Pool interfaces take over without the original's bounded-ring
// sizing knob (see SPEC_FULL.md §9).
package datagrampool

import "sync"

// Buffer is one fixed-owner byte buffer drawn from a Pool. It carries no
// addressing metadata itself — that lives on udp.Datagram, which wraps a
// Buffer's Bytes.
type Buffer interface {
	// Bytes returns the buffer's storage, at least the requested length.
	Bytes() []byte

	// Resize grows or shrinks the valid region, reusing capacity when
	// possible instead of reallocating.
	Resize(n int) []byte

	// Release returns the buffer to its pool. The caller must not use
	// Bytes' result after calling Release.
	Release()
}

// Pool allocates and recycles Buffers. Implementations must be safe for
// concurrent use: per §5, "The Datagram Pool is owned per Endpoint; buffers
// acquired from it must be released by drop before reuse," and the Worker's
// receive loop and an application's received-datagram callback may run on
// different goroutines when UseWorkerThread is enabled.
type Pool interface {
	Get(n int) Buffer
}

type syncPool struct {
	p sync.Pool
}

type pooledBuffer struct {
	pool *syncPool
	buf  []byte
}

// New returns the default sync.Pool-backed Pool. minCap sizes the
// underlying allocations new buffers start at; 0 selects a sensible
// default (2048 bytes, large enough for most non-jumbo datagrams without
// over-allocating for small control traffic).
func New(minCap int) Pool {
	if minCap <= 0 {
		minCap = 2048
	}
	sp := &syncPool{}
	sp.p.New = func() any {
		b := make([]byte, minCap)
		return &b
	}
	return sp
}

func (sp *syncPool) Get(n int) Buffer {
	bp := sp.p.Get().(*[]byte)
	b := *bp
	if cap(b) < n {
		b = make([]byte, n)
	} else {
		b = b[:n]
	}
	return &pooledBuffer{pool: sp, buf: b}
}

func (b *pooledBuffer) Bytes() []byte {
	return b.buf
}

func (b *pooledBuffer) Resize(n int) []byte {
	if cap(b.buf) < n {
		b.buf = make([]byte, n)
	} else {
		b.buf = b.buf[:n]
	}
	return b.buf
}

func (b *pooledBuffer) Release() {
	if b.buf == nil {
		return
	}
	buf := b.buf
	b.buf = nil
	b.pool.p.Put(&buf)
}
