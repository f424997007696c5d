package udp

import "time"

// Config holds the mutable, runtime-reconfigurable settings of an Endpoint,
// per §3's data model.
type Config struct {
	// RxAddress is the optional bind address for receiving; empty means any.
	RxAddress string

	// RxPort/TxPort are the receive/send ports. TxPort zero means
	// OS-assigned.
	RxPort uint16
	TxPort uint16

	// SeparateRxTx forces two OS sockets even when one would suffice.
	SeparateRxTx bool

	// InputEnabled, when false, makes the endpoint send-only.
	InputEnabled bool

	// WatchdogPeriod is the delay between a bind/runtime failure and the
	// next restart attempt.
	WatchdogPeriod time.Duration

	// MulticastLoopback requests local delivery of transmitted multicast
	// and is also applied to the receive socket.
	MulticastLoopback bool

	// MulticastListeningGroups is the set of multicast groups to join for
	// receiving.
	MulticastListeningGroups map[string]struct{}

	// MulticastListeningInterfaces is the set of interface names to join
	// groups on; empty means "all capable interfaces" (auto-discovery).
	MulticastListeningInterfaces map[string]struct{}

	// MulticastOutgoingInterfaces is the set of interface names to
	// transmit each multicast datagram on; empty means "all enumerated
	// capable interfaces".
	MulticastOutgoingInterfaces map[string]struct{}

	// MulticastTxIdleTeardown bounds how long a multicast tx socket family
	// survives without a send before being torn down. Exposed as a
	// configuration knob per the Open Question in spec.md §9; default
	// 10s.
	MulticastTxIdleTeardown time.Duration

	// MulticastTTL is the fallback multicast TTL used when a datagram's
	// own HopLimit is zero.
	MulticastTTL uint8
}

// Default timing constants, per §6 "Configuration defaults".
const (
	DefaultWatchdogPeriod          = 5000 * time.Millisecond
	DefaultMulticastTxIdleTeardown = 10000 * time.Millisecond
	listeningWatcherInterval       = 2500 * time.Millisecond
	txWatcherInterval              = 2500 * time.Millisecond
	counterTickInterval            = 1000 * time.Millisecond
	defaultMulticastTTL            = 8
	maxDatagramSize                = 65535
)

// DefaultConfig returns a Config populated with the defaults from §6.
func DefaultConfig() Config {
	return Config{
		InputEnabled:                 true,
		WatchdogPeriod:               DefaultWatchdogPeriod,
		MulticastLoopback:            false,
		MulticastListeningGroups:     map[string]struct{}{},
		MulticastListeningInterfaces: map[string]struct{}{},
		MulticastOutgoingInterfaces:  map[string]struct{}{},
		MulticastTxIdleTeardown:      DefaultMulticastTxIdleTeardown,
		MulticastTTL:                 defaultMulticastTTL,
	}
}

// clone returns a deep copy so the Endpoint and the worker never share
// mutable set fields across the message-queue boundary (§5: no Worker field
// shared between contexts).
func (c Config) clone() Config {
	out := c
	out.MulticastListeningGroups = cloneSet(c.MulticastListeningGroups)
	out.MulticastListeningInterfaces = cloneSet(c.MulticastListeningInterfaces)
	out.MulticastOutgoingInterfaces = cloneSet(c.MulticastOutgoingInterfaces)
	return out
}

func cloneSet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

// bindingEqual reports whether two configs would produce the same bind
// decision (address/ports/socket topology/input-enabled), i.e. whether a
// change from one to the other requires a restart per §5.
func bindingEqual(a, b Config) bool {
	return a.RxAddress == b.RxAddress &&
		a.RxPort == b.RxPort &&
		a.TxPort == b.TxPort &&
		a.SeparateRxTx == b.SeparateRxTx &&
		a.InputEnabled == b.InputEnabled
}
