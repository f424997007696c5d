package udp

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"
)

// boundSocket wraps one *net.UDPConn together with whichever of the
// golang.org/x/net/ipv4 or ipv6 PacketConn wrappers applies to its address
// family, so multicast and hop-limit control calls can be dispatched
// without the caller needing to know the family.
//
// Grounded on rcarmo-codebits-tv/internal/mcast.go, which wraps a
// *net.UDPConn in a single ipv4.PacketConn; generalized here to also cover
// IPv6, which the teacher's UDP4-only sender/receiver never needed.
type boundSocket struct {
	conn *net.UDPConn
	v6   bool
	pc4  *ipv4.PacketConn
	pc6  *ipv6.PacketConn
}

func wrapSocket(conn *net.UDPConn) *boundSocket {
	bs := &boundSocket{conn: conn}
	if isV6Addr(conn.LocalAddr()) {
		bs.v6 = true
		bs.pc6 = ipv6.NewPacketConn(conn)
	} else {
		bs.pc4 = ipv4.NewPacketConn(conn)
	}
	return bs
}

func isV6Addr(a net.Addr) bool {
	udpAddr, ok := a.(*net.UDPAddr)
	if !ok || udpAddr.IP == nil {
		return false
	}
	return udpAddr.IP.To4() == nil
}

func (bs *boundSocket) close() error {
	return bs.conn.Close()
}

func (bs *boundSocket) setMulticastLoopback(on bool) error {
	if bs.v6 {
		return bs.pc6.SetMulticastLoopback(on)
	}
	return bs.pc4.SetMulticastLoopback(on)
}

func (bs *boundSocket) setMulticastInterface(ifi *net.Interface) error {
	if bs.v6 {
		return bs.pc6.SetMulticastInterface(ifi)
	}
	return bs.pc4.SetMulticastInterface(ifi)
}

// setMulticastTTL sets the TTL/hop-limit applied to subsequently written
// multicast datagrams on this socket. Since the worker is the single owner
// of every OS socket (§5), it is safe to set this immediately before each
// multicast WriteTo to realize a per-datagram TTL without a dedicated
// control-message path.
func (bs *boundSocket) setMulticastTTL(ttl int) error {
	if bs.v6 {
		return bs.pc6.SetMulticastHopLimit(ttl)
	}
	return bs.pc4.SetMulticastTTL(ttl)
}

// setUnicastTTL is the unicast analogue of setMulticastTTL.
func (bs *boundSocket) setUnicastTTL(ttl int) error {
	if bs.v6 {
		return bs.pc6.SetHopLimit(ttl)
	}
	return bs.pc4.SetTTL(ttl)
}

func (bs *boundSocket) joinGroup(ifi *net.Interface, group net.IP) error {
	addr := &net.UDPAddr{IP: group}
	if bs.v6 {
		return bs.pc6.JoinGroup(ifi, addr)
	}
	return bs.pc4.JoinGroup(ifi, addr)
}

func (bs *boundSocket) leaveGroup(ifi *net.Interface, group net.IP) error {
	addr := &net.UDPAddr{IP: group}
	if bs.v6 {
		return bs.pc6.LeaveGroup(ifi, addr)
	}
	return bs.pc4.LeaveGroup(ifi, addr)
}

// reuseControl sets SO_REUSEADDR and, where available, SO_REUSEPORT on the
// socket before bind, realizing §4.1's "SHARE + REUSE" bind option.
//
// Grounded on jroosing-HydraDNS/internal/server/udp_server.go's
// listenReusePort, generalized to also set SO_REUSEADDR (that server only
// needed SO_REUSEPORT since it never shares a port with a differently
// configured peer), and on rcarmo-codebits-tv/internal/mcast.go's
// NewReceiver, which sets both options via raw syscall numbers; here the
// portable golang.org/x/sys/unix constants replace the raw syscall ones.
func reuseControl(network, address string, c syscall.RawConn) error {
	var ctrlErr error
	err := c.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
			ctrlErr = e
			return
		}
		// SO_REUSEPORT is best-effort: not every platform has it, and a
		// failure here must not fail the bind.
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return ctrlErr
}

// listenUDP binds a UDP socket to addr with SHARE+REUSE semantics and
// returns it wrapped for multicast control.
func listenUDP(ctx context.Context, addr string) (*boundSocket, error) {
	lc := net.ListenConfig{Control: reuseControl}
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, err
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, fmt.Errorf("udp: unexpected PacketConn type %T", pc)
	}
	return wrapSocket(conn), nil
}

// anyAddr formats the OS "any address" bind target for the given port,
// required instead of an unbound socket so multicast TTL can be set
// (§4.1 startup algorithm, "Output only" case).
func anyAddr(port uint16) string {
	return fmt.Sprintf(":%d", port)
}

func hostPort(host string, port uint16) string {
	if host == "" {
		return anyAddr(port)
	}
	return net.JoinHostPort(host, fmt.Sprintf("%d", port))
}
