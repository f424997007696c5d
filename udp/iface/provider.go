// Package iface defines the Interface Provider contract external to the
// core library (§6) and a default net-backed implementation.
//
// Grounded on original_source/include/Net/Udp/InterfacesProvider.hpp's
// IInterface/IProvider pair (isValid/name/isUp/isRunning/canBroadcast/
// isLoopBack/isPointToPoint/canMulticast, allInterfaces(allowCache)/
// interfaceFromName(name, allowCache)) and on its implementation in
// src/NetUdp/InterfacesProvider.cpp, which refreshes a cached interface
// list only when the cache is older than a threshold.
package iface

import (
	"net"
	"sync"
	"time"
)

// CacheTTL is how long a cached enumeration remains acceptable, per §6
// "Cached lookups ≤ 3 seconds old are acceptable."
const CacheTTL = 3 * time.Second

// Interface is a read-only snapshot of one network interface's identity and
// capability flags, as consumed by the Worker's capability test in
// SPEC_FULL.md §4.1.3.
type Interface struct {
	Name          string
	Valid         bool
	Up            bool
	Running       bool
	CanBroadcast  bool
	CanMulticast  bool
	Loopback      bool
	PointToPoint  bool
}

// Provider enumerates interfaces and looks them up by name. Implementations
// must be safe for concurrent use: per §5, the Interface Provider "may be
// shared process-wide and must be internally synchronized."
type Provider interface {
	// AllInterfaces returns every interface known to the provider. When
	// allowCache is true and a previous enumeration is no older than
	// CacheTTL, that enumeration may be returned instead of re-querying
	// the OS.
	AllInterfaces(allowCache bool) ([]Interface, error)

	// InterfaceByName looks up one interface. Returns (Interface{}, false,
	// nil) if no interface by that name exists.
	InterfaceByName(name string, allowCache bool) (Interface, bool, error)
}

// netProvider is the default OS-backed Provider, wrapping the standard
// library's net.Interfaces with a small TTL cache.
type netProvider struct {
	mu       sync.Mutex
	cached   []Interface
	cachedAt time.Time
}

// New returns the default net-backed Provider.
func New() Provider {
	return &netProvider{}
}

func (p *netProvider) AllInterfaces(allowCache bool) ([]Interface, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if allowCache && p.cached != nil && time.Since(p.cachedAt) < CacheTTL {
		out := make([]Interface, len(p.cached))
		copy(out, p.cached)
		return out, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]Interface, 0, len(ifaces))
	for _, it := range ifaces {
		out = append(out, toInterface(it))
	}

	p.cached = out
	p.cachedAt = time.Now()

	ret := make([]Interface, len(out))
	copy(ret, out)
	return ret, nil
}

func (p *netProvider) InterfaceByName(name string, allowCache bool) (Interface, bool, error) {
	all, err := p.AllInterfaces(allowCache)
	if err != nil {
		return Interface{}, false, err
	}
	for _, it := range all {
		if it.Name == name {
			return it, true, nil
		}
	}
	return Interface{}, false, nil
}

func toInterface(it net.Interface) Interface {
	return Interface{
		Name:         it.Name,
		Valid:        true,
		Up:           it.Flags&net.FlagUp != 0,
		Running:      it.Flags&net.FlagRunning != 0,
		CanBroadcast: it.Flags&net.FlagBroadcast != 0,
		CanMulticast: it.Flags&net.FlagMulticast != 0,
		Loopback:     it.Flags&net.FlagLoopback != 0,
		PointToPoint: it.Flags&net.FlagPointToPoint != 0,
	}
}

// Capable reports whether an interface satisfies SPEC_FULL.md §4.1.3's
// capability test for the given multicast-loopback mode: valid, up,
// running, and either multicast-capable or (loopback-mode enabled and the
// interface is the loopback).
func Capable(it Interface, multicastLoopback bool) bool {
	if !it.Valid || !it.Up || !it.Running {
		return false
	}
	if it.CanMulticast {
		return true
	}
	return multicastLoopback && it.Loopback
}

// ToNetInterface resolves an Interface back to a *net.Interface for use
// with golang.org/x/net/ipv4 / ipv6 group-membership calls, which require
// the stdlib type.
func ToNetInterface(name string) (*net.Interface, error) {
	return net.InterfaceByName(name)
}
