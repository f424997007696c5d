package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// startReader launches the reader goroutine for the current effective rx
// socket, if the endpoint accepts input. It is the realization of §4.1's
// "Receive loop," split per SPEC_FULL.md §4.1 into an I/O-only reader
// goroutine and worker-loop-side handling (handleReceived).
//
// Grounded on jroosing-HydraDNS/internal/server/udp_server.go's recvLoop:
// a single goroutine blocked in ReadFromUDP, forwarding to a channel that
// the owning goroutine drains. HydraDNS fans out to a worker pool after the
// channel; here the single worker loop goroutine is the only consumer,
// since Worker state has exactly one owner (§5).
func (w *worker) startReader() {
	if !w.cfg.InputEnabled {
		return
	}
	sock := w.effectiveRxSocket()
	ctx, cancel := context.WithCancel(context.Background())
	w.readerCancel = cancel
	w.readerWG.Add(1)
	go w.readLoop(ctx, sock)
}

func (w *worker) stopReader() {
	if w.readerCancel != nil {
		w.readerCancel()
		w.readerCancel = nil
	}
	w.readerWG.Wait()
}

func (w *worker) readLoop(ctx context.Context, sock *boundSocket) {
	defer w.readerWG.Done()

	buf := make([]byte, maxDatagramSize+1)
	for {
		n, src, err := sock.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			if isICMPUnreachable(err) {
				// Transient: reflects an inbound ICMP, not a socket
				// fault (§4.1 "Watchdog"). Keep reading.
				continue
			}
			w.deliver(rxPacket{fatal: err})
			return
		}

		if n == 0 {
			// "If the pending datagram size is 0, increment rx-invalid,
			// consume one zero-length datagram ... return" (§4.1 Receive
			// loop step 1): surfaced as a payload-less packet so the
			// worker loop can count it without touching socket state.
			w.deliver(rxPacket{payload: nil, src: src})
			continue
		}

		if n > maxDatagramSize {
			w.deliver(rxPacket{payload: nil, src: src, hopLimit: -1})
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		w.deliver(rxPacket{payload: payload, src: src})
	}
}

func (w *worker) deliver(pkt rxPacket) {
	select {
	case w.received <- pkt:
	default:
		// Backpressure: the worker loop is busy. Block briefly rather than
		// drop, since unlike the EventDatagramReceived channel this is the
		// only path data reaches the application.
		w.received <- pkt
	}
}

// handleReceived runs on the worker loop goroutine and realizes §4.1's
// "Receive loop" steps 2-3.
func (w *worker) handleReceived(pkt rxPacket) {
	if pkt.fatal != nil {
		w.emitSocketError(fmt.Errorf("read: %w", pkt.fatal))
		w.scheduleWatchdog()
		return
	}

	if pkt.payload == nil {
		w.acc.rxInvalid++
		if pkt.hopLimit == -1 {
			// Datagram exceeded 65535 bytes: a structural runtime error
			// (§7), matching the original's handling of an oversized
			// read by restarting the socket rather than merely counting
			// it (original_source Worker.cpp's rx-invalid-then-restart).
			w.emitSocketError(fmt.Errorf("%w: datagram exceeds %d bytes", ErrDatagramTooLarge, maxDatagramSize))
			w.scheduleWatchdog()
		}
		return
	}

	hopLimit := pkt.hopLimit
	if hopLimit < 0 {
		hopLimit = 0
	}

	buf := w.pool.Get(len(pkt.payload))
	copy(buf.Bytes(), pkt.payload)

	d := &Datagram{
		Buffer:   buf.Bytes(),
		Length:   len(pkt.payload),
		HopLimit: uint8(hopLimit),
	}
	if pkt.src != nil {
		d.SourceAddress = pkt.src.IP.String()
		d.SourcePort = uint16(pkt.src.Port)
	}
	if rxAddr, ok := w.effectiveRxSocket().conn.LocalAddr().(*net.UDPAddr); ok {
		d.DestinationAddress = rxAddr.IP.String()
		d.DestinationPort = uint16(rxAddr.Port)
	}

	w.acc.rxBytes += uint64(pkt.len())
	w.acc.rxPackets++
	w.emit(Event{Kind: EventDatagramReceived, Datagram: d})
}

func (p rxPacket) len() int { return len(p.payload) }

// isICMPUnreachable reports whether err reflects an inbound
// ICMP-port-unreachable surfacing as ECONNREFUSED on a UDP socket — a
// transient condition explicitly not treated as a socket fault (§4.1
// "Watchdog", §7 "Transient runtime").
func isICMPUnreachable(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
