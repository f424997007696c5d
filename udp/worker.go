package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"netudp/udp/datagrampool"
	"netudp/udp/iface"
	"netudp/udp/udplog"
)

// workerState is the Worker FSM from §4.1 "States": Idle -> Binding ->
// Bound -> Failing -> Idle (via watchdog back to Binding), and back to Idle
// on stop.
type workerState int

const (
	stateIdle workerState = iota
	stateBinding
	stateBound
	stateFailing
)

// worker is the single-owner component that owns the OS socket(s) and
// drives every OS-level mutation from its own run loop goroutine (§5). It
// is never accessed directly by application code; udp.Endpoint is its only
// caller, via the command channel.
type worker struct {
	log      udplog.Logger
	ifaces   iface.Provider
	pool     datagrampool.Pool
	events   chan<- Event
	counters *Counters

	cmd chan func(*worker)

	state     workerState
	isBounded bool
	cfg       Config

	txSock   *boundSocket
	rxSock   *boundSocket // nil => aliases txSock
	separate bool

	// multicast listening state (§3 Worker private state)
	allMulticastInterfaces map[string]struct{}
	joinedGroups           map[string]map[string]struct{}
	failedGroups           map[string]map[string]struct{}
	listeningTimer         *time.Timer

	// multicast transmission state
	multicastTxSockets       map[string]*txIfaceSocket
	failedTxInterfaces       map[string]struct{}
	allMulticastTxInterfaces map[string]struct{}
	lastMulticastTx          time.Time
	txWatcherTimer           *time.Timer

	wd watchdog

	counterTimer *time.Timer
	acc          counterAccumulator

	received     chan rxPacket
	readerCancel context.CancelFunc
	readerWG     sync.WaitGroup
}

type txIfaceSocket struct {
	sock *boundSocket
}

// rxPacket is handed from a reader goroutine (I/O only) to the worker loop
// goroutine (sole state mutator), per SPEC_FULL.md §4.1's concurrency
// realization.
type rxPacket struct {
	payload  []byte
	src      *net.UDPAddr
	hopLimit int
	fatal    error // non-nil for structural runtime errors; reader exits after sending this
}

func newWorker(ifaces iface.Provider, pool datagrampool.Pool, log udplog.Logger, events chan<- Event, counters *Counters) *worker {
	if log == nil {
		log = udplog.Nop()
	}
	return &worker{
		log:      log,
		ifaces:   ifaces,
		pool:     pool,
		events:   events,
		counters: counters,
		cmd:      make(chan func(*worker), 16),
		received: make(chan rxPacket, 64),
	}
}

// run is the worker loop goroutine. It returns when ctx is done, tearing
// down any live sockets/timers first.
func (w *worker) run(ctx context.Context) {
	defer w.doStop()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-w.cmd:
			fn(w)
		case <-w.wd.fireChan():
			w.wd.disarm()
			w.log.Warnf("watchdog fired, restarting")
			w.doRestart()
		case <-w.listeningTimerChan():
			w.tickListeningWatcher()
		case <-w.txWatcherChan():
			w.tickTxWatcher()
		case <-w.counterChan():
			w.tickCounters()
		case pkt := <-w.received:
			w.handleReceived(pkt)
		}
	}
}

// submit enqueues fn to run on the worker loop goroutine and blocks for its
// completion. Used by Endpoint for every command that must observe or
// mutate worker state.
func (w *worker) submit(ctx context.Context, fn func(*worker) error) error {
	reply := make(chan error, 1)
	select {
	case w.cmd <- func(w *worker) { reply <- fn(w) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *worker) setBounded(b bool) {
	if w.isBounded == b {
		return
	}
	w.isBounded = b
	w.emit(Event{Kind: EventBoundChanged, Bounded: b})
}

func (w *worker) emit(e Event) {
	select {
	case w.events <- e:
	default:
		w.log.Warnf("event channel full, dropping %s event", e.Kind)
	}
}

func (w *worker) emitSocketError(err error) {
	code := 0
	var errno syscall.Errno
	if errors.As(err, &errno) {
		code = int(errno)
	}
	w.emit(Event{Kind: EventSocketError, ErrCode: code, ErrText: err.Error()})
}

// ──────── startup / shutdown (§4.1 "Startup algorithm" / "Shutdown algorithm") ────────

func (w *worker) doStart(cfg Config) error {
	if w.txSock != nil {
		return ErrAlreadyRunning
	}

	w.cfg = cfg.clone()
	w.joinedGroups = map[string]map[string]struct{}{}
	w.failedGroups = map[string]map[string]struct{}{}
	w.allMulticastInterfaces = map[string]struct{}{}
	w.failedTxInterfaces = map[string]struct{}{}
	w.allMulticastTxInterfaces = map[string]struct{}{}
	w.multicastTxSockets = map[string]*txIfaceSocket{}
	w.acc.reset()
	w.setBounded(false)
	w.state = stateBinding

	if err := w.bind(); err != nil {
		w.state = stateFailing
		w.scheduleWatchdog()
		w.emitSocketError(fmt.Errorf("bind: %w", err))
		return nil
	}

	w.state = stateBound
	w.setBounded(true)
	w.armCounterTimer()

	// "if input enabled and listening-groups non-empty, perform multicast
	// join, set loopback option on the receive socket (and tx socket when
	// distinct)" — §4.1 startup algorithm step 5.
	if w.cfg.InputEnabled && len(w.cfg.MulticastListeningGroups) > 0 {
		eff := w.effectiveRxSocket()
		if err := eff.setMulticastLoopback(w.cfg.MulticastLoopback); err != nil {
			w.log.Warnf("set multicast loopback: %v", err)
		}
		if w.rxSock != nil {
			if err := w.txSock.setMulticastLoopback(w.cfg.MulticastLoopback); err != nil {
				w.log.Warnf("set multicast loopback on tx socket: %v", err)
			}
		}
		w.autoJoinOrSeed()
		w.ensureListeningWatcher()
	}

	w.startReader()
	return nil
}

func (w *worker) bind() error {
	cfg := w.cfg
	needRxSocket := cfg.InputEnabled && (cfg.SeparateRxTx || cfg.TxPort != 0)

	var txAddr, rxAddr string
	switch {
	case needRxSocket:
		rxAddr = hostPort(cfg.RxAddress, cfg.RxPort)
		txAddr = anyAddr(cfg.TxPort)
	case cfg.InputEnabled:
		txAddr = hostPort(cfg.RxAddress, cfg.RxPort)
	default:
		txAddr = anyAddr(cfg.TxPort)
	}

	tx, err := listenUDP(context.Background(), txAddr)
	if err != nil {
		return err
	}

	if needRxSocket {
		rx, err := listenUDP(context.Background(), rxAddr)
		if err != nil {
			_ = tx.close()
			return err
		}
		w.rxSock = rx
	} else {
		w.rxSock = nil
	}

	w.txSock = tx
	w.separate = needRxSocket
	return nil
}

func (w *worker) effectiveRxSocket() *boundSocket {
	if w.rxSock != nil {
		return w.rxSock
	}
	return w.txSock
}

func (w *worker) doStop() {
	w.wd.disarm()
	w.stopListeningWatcher()
	w.stopTxWatcher()
	w.stopCounterTimer()
	w.teardownMulticastTxSockets()

	if w.rxSock != nil {
		_ = w.rxSock.close()
		w.rxSock = nil
	}
	if w.txSock != nil {
		_ = w.txSock.close()
		w.txSock = nil
	}
	// Closing the sockets is what unblocks the reader's ReadFromUDP, so the
	// reader can only be waited for afterwards.
	w.stopReader()

	w.joinedGroups = nil
	w.failedGroups = nil
	w.allMulticastInterfaces = nil
	w.failedTxInterfaces = nil
	w.allMulticastTxInterfaces = nil

	w.setBounded(false)
	w.state = stateIdle
}

func (w *worker) doRestart() {
	cfg := w.cfg
	w.doStop()
	_ = w.doStart(cfg)
}

func (w *worker) scheduleWatchdog() {
	period := w.cfg.WatchdogPeriod
	if period <= 0 {
		period = DefaultWatchdogPeriod
	}
	w.wd.arm(period)
}

func (w *worker) listeningTimerChan() <-chan time.Time {
	if w.listeningTimer == nil {
		return nil
	}
	return w.listeningTimer.C
}

func (w *worker) txWatcherChan() <-chan time.Time {
	if w.txWatcherTimer == nil {
		return nil
	}
	return w.txWatcherTimer.C
}

func (w *worker) counterChan() <-chan time.Time {
	if w.counterTimer == nil {
		return nil
	}
	return w.counterTimer.C
}

func (w *worker) armCounterTimer() {
	w.counterTimer = time.NewTimer(counterTickInterval)
}

func (w *worker) stopCounterTimer() {
	if w.counterTimer != nil {
		w.counterTimer.Stop()
		w.counterTimer = nil
	}
}

func (w *worker) tickCounters() {
	sample := w.acc.sample()
	w.acc.reset()
	w.counters.applyTick(sample)
	w.emit(Event{Kind: EventCounterTick, Counters: sample})
	if w.state == stateBound {
		w.counterTimer.Reset(counterTickInterval)
	} else {
		w.counterTimer = nil
	}
}

// ──────── send (§4.1 "Multicast transmission" / unicast TTL) ────────

func (w *worker) send(d *Datagram) (int, error) {
	if w.txSock == nil {
		return 0, ErrNotBounded
	}
	if d.Length <= 0 {
		return 0, fmt.Errorf("%w: empty datagram", ErrInvalidArgument)
	}
	if d.Length > maxDatagramSize {
		return 0, ErrDatagramTooLarge
	}
	if d.DestinationAddress == "" {
		return 0, fmt.Errorf("%w: empty destination address", ErrInvalidArgument)
	}

	ip := net.ParseIP(d.DestinationAddress)
	if ip == nil {
		return 0, fmt.Errorf("%w: invalid destination address %q", ErrInvalidArgument, d.DestinationAddress)
	}

	if ip.IsMulticast() {
		return w.sendMulticast(d, ip)
	}
	return w.sendUnicast(d, ip)
}

func (w *worker) sendUnicast(d *Datagram, ip net.IP) (int, error) {
	addr := &net.UDPAddr{IP: ip, Port: int(d.DestinationPort)}
	if d.HopLimit != 0 {
		if err := w.txSock.setUnicastTTL(int(d.HopLimit)); err != nil {
			w.log.Warnf("set unicast ttl: %v", err)
		}
	}
	n, err := w.txSock.conn.WriteToUDP(d.Payload(), addr)
	if err != nil {
		w.handleWriteError(err)
		return 0, err
	}
	w.acc.txBytes += uint64(n)
	w.acc.txPackets++
	return n, nil
}

func (w *worker) handleWriteError(err error) {
	if isICMPUnreachable(err) {
		w.log.Warnf("icmp unreachable on send, ignoring: %v", err)
		return
	}
	w.emitSocketError(fmt.Errorf("write: %w", err))
	w.scheduleWatchdog()
}
