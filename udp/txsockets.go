package udp

import (
	"context"
	"net"
	"time"

	"netudp/udp/iface"
)

// Multicast transmission (§4.1 "Multicast transmission"): one OS socket per
// outgoing interface, each pinned via IP_MULTICAST_IF/IPV6_MULTICAST_IF so
// the kernel routes that interface's copy correctly regardless of the
// default route. Grounded on rcarmo-codebits-tv/internal/mcast.go's
// NewSender, which does the single-interface case of the same pin; this
// generalizes it to a socket-per-interface family with idle teardown, per
// SPEC_FULL.md §4.1's elaboration of the Open Question in spec.md §9.

func (w *worker) txAutoMode() bool {
	return len(w.cfg.MulticastOutgoingInterfaces) == 0
}

// outgoingInterfaces returns the pinned interface set if configured, else
// every currently capable interface (auto-fanout).
func (w *worker) outgoingInterfaces() ([]string, error) {
	if len(w.cfg.MulticastOutgoingInterfaces) > 0 {
		names := make([]string, 0, len(w.cfg.MulticastOutgoingInterfaces))
		for name := range w.cfg.MulticastOutgoingInterfaces {
			names = append(names, name)
		}
		return names, nil
	}

	all, err := w.ifaces.AllInterfaces(true)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(all))
	for _, it := range all {
		if iface.Capable(it, w.cfg.MulticastLoopback) {
			names = append(names, it.Name)
		}
	}
	return names, nil
}

// sendMulticast writes d on every outgoing interface's tx socket, creating
// sockets lazily and marking interfaces that fail as failed (retried by the
// tx watcher, mirroring the listening watcher's retry behavior).
func (w *worker) sendMulticast(d *Datagram, ip net.IP) (int, error) {
	names, err := w.outgoingInterfaces()
	if err != nil {
		return 0, err
	}
	ttl := int(d.HopLimit)
	if ttl == 0 {
		ttl = int(w.cfg.MulticastTTL)
	}

	addr := &net.UDPAddr{IP: ip, Port: int(d.DestinationPort)}
	payload := d.Payload()

	if len(names) == 0 {
		// No outgoing interface qualified: fall back to the primary tx socket.
		if err := w.txSock.setMulticastTTL(ttl); err != nil {
			w.log.Warnf("set multicast ttl: %v", err)
		}
		n, err := w.txSock.conn.WriteToUDP(payload, addr)
		if err != nil {
			w.handleWriteError(err)
			return 0, err
		}
		w.acc.txBytes += uint64(n)
		w.acc.txPackets++
		return n, nil
	}

	var lastErr error
	sent := 0
	for _, name := range names {
		sock, err := w.ensureTxSocket(name)
		if err != nil {
			w.failedTxInterfaces[name] = struct{}{}
			lastErr = err
			continue
		}
		delete(w.failedTxInterfaces, name)

		if err := sock.sock.setMulticastTTL(ttl); err != nil {
			w.log.Warnf("set multicast ttl on %s: %v", name, err)
		}

		n, err := sock.sock.conn.WriteToUDP(payload, addr)
		if err != nil {
			if isICMPUnreachable(err) {
				w.log.Warnf("icmp unreachable sending on %s, ignoring: %v", name, err)
				continue
			}
			w.log.Warnf("multicast send on %s failed, tearing down: %v", name, err)
			w.teardownTxSocket(name)
			w.failedTxInterfaces[name] = struct{}{}
			lastErr = err
			continue
		}
		sent = n
		w.acc.txBytes += uint64(n)
		w.acc.txPackets++
	}

	w.lastMulticastTx = time.Now()
	w.ensureTxWatcher()

	if sent == 0 && lastErr != nil {
		return 0, lastErr
	}
	return sent, nil
}

func (w *worker) ensureTxSocket(name string) (*txIfaceSocket, error) {
	if sock, ok := w.multicastTxSockets[name]; ok {
		return sock, nil
	}

	ifi, err := iface.ToNetInterface(name)
	if err != nil {
		return nil, err
	}

	sock, err := listenUDP(context.Background(), anyAddr(w.cfg.TxPort))
	if err != nil {
		return nil, err
	}
	if err := sock.setMulticastInterface(ifi); err != nil {
		_ = sock.close()
		return nil, err
	}
	if err := sock.setMulticastLoopback(w.cfg.MulticastLoopback); err != nil {
		w.log.Warnf("set multicast loopback on %s tx socket: %v", name, err)
	}

	txSock := &txIfaceSocket{sock: sock}
	w.multicastTxSockets[name] = txSock
	return txSock, nil
}

func (w *worker) teardownTxSocket(name string) {
	if sock, ok := w.multicastTxSockets[name]; ok {
		_ = sock.sock.close()
		delete(w.multicastTxSockets, name)
	}
}

func (w *worker) teardownMulticastTxSockets() {
	for name := range w.multicastTxSockets {
		w.teardownTxSocket(name)
	}
	w.stopTxWatcher()
}

// ──────── Tx watcher (§4.1 "Tx watcher (periodic, 2500 ms)") ────────
//
// Idle multicast tx sockets are torn down after MulticastTxIdleTeardown
// (default 10s) of no multicast send, so an endpoint that only occasionally
// transmits multicast does not hold one OS socket per interface forever.

func (w *worker) ensureTxWatcher() {
	if w.txWatcherTimer != nil {
		return
	}
	w.txWatcherTimer = time.NewTimer(txWatcherInterval)
}

func (w *worker) stopTxWatcher() {
	if w.txWatcherTimer != nil {
		w.txWatcherTimer.Stop()
		w.txWatcherTimer = nil
	}
}

func (w *worker) tickTxWatcher() {
	if len(w.multicastTxSockets) == 0 && len(w.failedTxInterfaces) == 0 {
		w.txWatcherTimer = nil
		return
	}

	if w.txAutoMode() {
		all, err := w.ifaces.AllInterfaces(true)
		if err != nil {
			w.log.Warnf("tx watcher: enumerate interfaces: %v", err)
		} else {
			byName := make(map[string]struct{}, len(all))
			for _, it := range all {
				byName[it.Name] = struct{}{}
			}

			// Step 2: seed newly appeared interfaces as pending, so the
			// retry pass below (or the next send) picks them up.
			for name := range byName {
				if _, known := w.allMulticastTxInterfaces[name]; known {
					continue
				}
				w.allMulticastTxInterfaces[name] = struct{}{}
				if _, live := w.multicastTxSockets[name]; !live {
					w.failedTxInterfaces[name] = struct{}{}
				}
			}

			// Step 3: release sockets (and bookkeeping) for interfaces
			// that have disappeared, independent of idle teardown.
			for name := range w.allMulticastTxInterfaces {
				if _, present := byName[name]; present {
					continue
				}
				w.teardownTxSocket(name)
				delete(w.failedTxInterfaces, name)
				delete(w.allMulticastTxInterfaces, name)
			}
		}
	}

	idleFor := w.cfg.MulticastTxIdleTeardown
	if idleFor <= 0 {
		idleFor = DefaultMulticastTxIdleTeardown
	}
	if time.Since(w.lastMulticastTx) >= idleFor {
		for name := range w.multicastTxSockets {
			w.teardownTxSocket(name)
		}
	}

	// Step 4: retry interfaces that previously failed to acquire a tx
	// socket, in case they've since become available (renamed, re-plugged,
	// etc).
	for name := range cloneFailedSet(w.failedTxInterfaces) {
		if _, err := w.ensureTxSocket(name); err == nil {
			delete(w.failedTxInterfaces, name)
		}
	}

	if len(w.multicastTxSockets) == 0 && len(w.failedTxInterfaces) == 0 {
		w.txWatcherTimer = nil
		return
	}
	w.txWatcherTimer.Reset(txWatcherInterval)
}

func cloneFailedSet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
