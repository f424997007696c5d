// Package udp implements a unicast/multicast UDP datagram endpoint: a
// single-owner worker goroutine drives one or two OS sockets, a cooperating
// reader goroutine performs blocking reads, and an Endpoint façade exposes a
// synchronous, restart-transparent API to application code.
//
// Grounded throughout on rcarmo-codebits-tv's multicast sender/receiver
// (internal/mcast.go) for socket setup idiom, and on
// jroosing-HydraDNS/internal/server/udp_server.go for the worker-loop /
// reader-goroutine split that makes a connectionless, callback-driven
// protocol endpoint safe without a giant mutex.
package udp

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"netudp/udp/datagrampool"
	"netudp/udp/iface"
	"netudp/udp/udplog"
)

// Endpoint is a unicast/multicast UDP datagram endpoint. The zero value is
// not usable; construct with NewEndpoint. An Endpoint is safe for
// concurrent use by multiple goroutines.
type Endpoint struct {
	log    udplog.Logger
	ifaces iface.Provider
	pool   datagrampool.Pool

	mu              sync.Mutex
	running         bool
	useWorkerThread bool
	cfg             Config
	worker          *worker
	events          chan Event
	counters        *Counters

	group   *errgroup.Group
	runDone chan struct{}
	cancel  context.CancelFunc

	handler   EventHandler
	handlerWG sync.WaitGroup
}

// Option configures an Endpoint at construction.
type Option func(*Endpoint)

// WithLogger injects a Logger. The default is udplog.Nop().
func WithLogger(l udplog.Logger) Option {
	return func(e *Endpoint) { e.log = l }
}

// WithInterfaceProvider injects an Interface Provider. The default is
// iface.New(), backed by net.Interfaces with a 3s cache.
func WithInterfaceProvider(p iface.Provider) Option {
	return func(e *Endpoint) { e.ifaces = p }
}

// WithDatagramPool injects a Datagram Pool. The default is
// datagrampool.New(0).
func WithDatagramPool(p datagrampool.Pool) Option {
	return func(e *Endpoint) { e.pool = p }
}

// NewEndpoint constructs an Endpoint from cfg and options. The endpoint is
// not started; call Start to bind its socket(s).
func NewEndpoint(cfg Config, opts ...Option) *Endpoint {
	e := &Endpoint{
		cfg:             cfg.clone(),
		counters:        &Counters{},
		useWorkerThread: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = udplog.Nop()
	}
	if e.ifaces == nil {
		e.ifaces = iface.New()
	}
	if e.pool == nil {
		e.pool = datagrampool.New(0)
	}
	return e
}

// Handle registers the callback invoked for every asynchronous Event. It
// must be set before Start to observe startup-time events reliably, and
// must not block (§5's "must not block" contract on EventHandler).
func (e *Endpoint) Handle(h EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

// UseWorkerThread selects whether the worker loop runs on a dedicated
// goroutine spawned by Start (on, the default) or inline on the caller's own
// goroutine via Run (off), per §4.2's set_use_worker_thread. Toggling while
// running triggers a restart: switching on restarts automatically; switching
// off stops the endpoint and leaves it to the caller to resume with Run,
// since an inline worker loop cannot be spawned without blocking some
// goroutine.
func (e *Endpoint) UseWorkerThread(on bool) error {
	e.mu.Lock()
	if e.useWorkerThread == on {
		e.mu.Unlock()
		return nil
	}
	e.useWorkerThread = on
	running := e.running
	e.mu.Unlock()

	if !running {
		return nil
	}
	if err := e.Stop(context.Background()); err != nil {
		return err
	}
	if on {
		return e.Start(context.Background())
	}
	return nil
}

// Start binds the endpoint's socket(s) and begins its worker loop. It
// returns ErrAlreadyRunning if already started; a bind failure is not
// returned synchronously (per §7) but surfaces as an EventSocketError
// followed by watchdog-driven retries.
func (e *Endpoint) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}

	e.events = make(chan Event, 256)
	e.worker = newWorker(e.ifaces, e.pool, e.log, e.events, e.counters)

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.runDone = nil
	g, gctx := errgroup.WithContext(runCtx)
	e.group = g

	g.Go(func() error {
		e.worker.run(gctx)
		return nil
	})

	e.handlerWG.Add(1)
	go e.dispatchEvents()

	e.running = true
	cfg := e.cfg.clone()
	e.mu.Unlock()

	return e.worker.submit(ctx, func(w *worker) error {
		return w.doStart(cfg)
	})
}

// Run starts the endpoint and drives its worker loop inline on the calling
// goroutine instead of a dedicated one, blocking until ctx is done or
// another goroutine calls Stop. Used instead of Start when
// UseWorkerThread(false) is set, mirroring §4.2's worker-thread-affinity
// choice without a Qt-style event loop.
func (e *Endpoint) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}

	e.events = make(chan Event, 256)
	e.worker = newWorker(e.ifaces, e.pool, e.log, e.events, e.counters)

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.group = nil
	runDone := make(chan struct{})
	e.runDone = runDone

	e.handlerWG.Add(1)
	go e.dispatchEvents()

	e.running = true
	cfg := e.cfg.clone()
	e.mu.Unlock()

	// No other goroutine can touch worker state until run's select loop
	// starts below, so doStart runs directly here rather than through the
	// command channel, which has no reader yet.
	err := e.worker.doStart(cfg)
	if err == nil {
		e.worker.run(runCtx)
	}

	close(e.events)
	e.handlerWG.Wait()
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	close(runDone)

	if err != nil {
		return err
	}
	return ctx.Err()
}

// dispatchEvents drains the event channel and invokes the registered
// handler, running on its own goroutine so a slow or misbehaving handler
// cannot stall the worker loop (which only ever does a non-blocking send
// into this channel, per worker.emit).
func (e *Endpoint) dispatchEvents() {
	defer e.handlerWG.Done()
	for ev := range e.events {
		e.mu.Lock()
		h := e.handler
		e.mu.Unlock()
		if h != nil {
			h(ev)
		}
	}
}

// Stop tears down the worker loop and closes its socket(s). Returns
// ErrNotRunning if not started.
func (e *Endpoint) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotRunning
	}
	cancel := e.cancel
	group := e.group
	runDone := e.runDone
	events := e.events
	e.mu.Unlock()

	cancel()

	if group == nil {
		// Run-mode: the worker loop executes on whichever goroutine called
		// Run; wait for it to observe cancellation and finish its own
		// teardown (it closes events and clears running itself).
		<-runDone
		return nil
	}

	err := group.Wait()
	close(events)
	e.handlerWG.Wait()
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	return err
}

// Restart stops and restarts the endpoint with its current configuration,
// equivalent to the watchdog's own recovery path but triggerable on demand.
func (e *Endpoint) Restart(ctx context.Context) error {
	if err := e.Stop(ctx); err != nil && err != ErrNotRunning {
		return err
	}
	return e.Start(ctx)
}

// IsBounded reports whether the endpoint currently has a live, bound
// socket. It reflects the same condition that drives EventBoundChanged.
func (e *Endpoint) IsBounded(ctx context.Context) (bool, error) {
	var bounded bool
	err := e.withWorker(ctx, func(w *worker) error {
		bounded = w.isBounded
		return nil
	})
	return bounded, err
}

func (e *Endpoint) withWorker(ctx context.Context, fn func(*worker) error) error {
	e.mu.Lock()
	w := e.worker
	running := e.running
	e.mu.Unlock()
	if !running || w == nil {
		return ErrNotRunning
	}
	return w.submit(ctx, fn)
}

// ──────── Send (§4.2 Endpoint operations) ────────

// Send transmits d, dispatching to unicast or multicast based on its
// DestinationAddress.
func (e *Endpoint) Send(ctx context.Context, d *Datagram) (int, error) {
	var n int
	err := e.withWorker(ctx, func(w *worker) error {
		var sendErr error
		n, sendErr = w.send(d)
		return sendErr
	})
	return n, err
}

// SendTo is a convenience wrapper building a Datagram from a byte slice and
// an address/port pair.
func (e *Endpoint) SendTo(ctx context.Context, payload []byte, address string, port uint16) (int, error) {
	d := &Datagram{
		Buffer:             payload,
		Length:             len(payload),
		DestinationAddress: address,
		DestinationPort:    port,
	}
	return e.Send(ctx, d)
}

// MakeDatagram returns a Datagram with a Buffer drawn from the endpoint's
// Datagram Pool, sized for n bytes of payload.
func (e *Endpoint) MakeDatagram(n int) *Datagram {
	buf := e.pool.Get(n)
	return &Datagram{Buffer: buf.Bytes(), Length: n}
}

// ──────── Multicast group membership (§4.2) ────────

// JoinGroup adds group to the listening set, performing the OS-level join
// immediately on every applicable interface if already bound.
func (e *Endpoint) JoinGroup(ctx context.Context, group string) error {
	return e.withWorker(ctx, func(w *worker) error {
		return w.joinGroup(group)
	})
}

// LeaveGroup removes group from the listening set and leaves it on every
// interface currently holding it.
func (e *Endpoint) LeaveGroup(ctx context.Context, group string) error {
	return e.withWorker(ctx, func(w *worker) error {
		w.leaveGroup(group)
		return nil
	})
}

// LeaveAllGroups leaves every currently listened-to multicast group.
func (e *Endpoint) LeaveAllGroups(ctx context.Context) error {
	return e.withWorker(ctx, func(w *worker) error {
		w.leaveAllGroups()
		return nil
	})
}

// JoinedGroups returns the deduplicated set of multicast groups currently
// joined on at least one interface, for observability (SPEC_FULL.md §4.7's
// netudp_joined_groups gauge).
func (e *Endpoint) JoinedGroups() []string {
	var groups []string
	_ = e.withWorker(context.Background(), func(w *worker) error {
		groups = w.joinedGroupsList()
		return nil
	})
	return groups
}

// IsGroupPresent reports whether group is currently joined on at least one
// interface.
func (e *Endpoint) IsGroupPresent(ctx context.Context, group string) (bool, error) {
	var present bool
	err := e.withWorker(ctx, func(w *worker) error {
		for _, groups := range w.joinedGroups {
			if _, ok := groups[group]; ok {
				present = true
				return nil
			}
		}
		return nil
	})
	return present, err
}

// ──────── Listening interface pinning (§4.2) ────────

// JoinInterface pins ifaceName into the listening interface set, switching
// the endpoint out of auto-discovery mode for receive-side membership.
func (e *Endpoint) JoinInterface(ctx context.Context, ifaceName string) error {
	return e.withWorker(ctx, func(w *worker) error {
		w.joinInterface(ifaceName)
		return nil
	})
}

// LeaveInterface unpins ifaceName, leaving every group currently joined on
// it.
func (e *Endpoint) LeaveInterface(ctx context.Context, ifaceName string) error {
	return e.withWorker(ctx, func(w *worker) error {
		w.leaveInterface(ifaceName)
		return nil
	})
}

// LeaveAllInterfaces clears the pinned listening interface set, returning
// the endpoint to auto-discovery mode.
func (e *Endpoint) LeaveAllInterfaces(ctx context.Context) error {
	return e.withWorker(ctx, func(w *worker) error {
		w.leaveAllInterfaces()
		return nil
	})
}

// IsInterfacePresent reports whether ifaceName is in the pinned listening
// interface set.
func (e *Endpoint) IsInterfacePresent(ctx context.Context, ifaceName string) (bool, error) {
	var present bool
	err := e.withWorker(ctx, func(w *worker) error {
		_, present = w.cfg.MulticastListeningInterfaces[ifaceName]
		return nil
	})
	return present, err
}

// ──────── Counters (§4.2) ────────

// Counters returns the running totals and the most recent per-second
// sample.
func (e *Endpoint) Counters() (totals, perSecond CounterSample) {
	return e.counters.Snapshot()
}

// ResetCounters zeros every counter.
func (e *Endpoint) ResetCounters() {
	e.counters.Reset()
}

// ──────── Configuration (§4.2, §9 restart-on-binding-change) ────────

// SetConfig applies a new Config. Fields affecting socket binding
// (RxAddress, RxPort, TxPort, SeparateRxTx, InputEnabled) trigger a
// Stop+Start if changed while running; other fields (multicast groups,
// loopback, TTL, timers) are stored on the running worker in place, without
// a restart. A changed MulticastListeningGroups set given this way is not
// joined or left at the OS level until the next start.
// EventConfigChanged fires once, after the restart caused by a changed
// binding field.
func (e *Endpoint) SetConfig(ctx context.Context, cfg Config) error {
	e.mu.Lock()
	old := e.cfg
	running := e.running
	e.cfg = cfg.clone()
	e.mu.Unlock()

	if !running {
		return nil
	}
	if bindingEqual(old, cfg) {
		return e.withWorker(ctx, func(w *worker) error {
			w.cfg = cfg.clone()
			return nil
		})
	}

	if err := e.Stop(ctx); err != nil {
		return fmt.Errorf("stop for reconfiguration: %w", err)
	}
	if err := e.Start(ctx); err != nil {
		return err
	}
	return e.withWorker(ctx, func(w *worker) error {
		w.emit(Event{Kind: EventConfigChanged})
		return nil
	})
}

// Config returns the endpoint's current configuration.
func (e *Endpoint) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.clone()
}
