package udp

import (
	"fmt"
	"net"
	"time"

	"netudp/udp/iface"
)

// currentMulticastInterfaces returns the configured listening interfaces if
// the user pinned any, else the auto-discovered set, per §3's
// "all_multicast_interfaces" / §4.1.3's "target_interfaces".
func (w *worker) currentMulticastInterfaces() map[string]struct{} {
	if len(w.cfg.MulticastListeningInterfaces) > 0 {
		return w.cfg.MulticastListeningInterfaces
	}
	return w.allMulticastInterfaces
}

func (w *worker) autoMode() bool {
	return len(w.cfg.MulticastListeningInterfaces) == 0
}

// autoJoinOrSeed performs the startup-time membership pass: in pinned mode
// it joins every listening group on every pinned interface directly; in
// auto mode it enumerates interfaces and joins on each (§4.1.3 "Auto-join
// all interfaces").
func (w *worker) autoJoinOrSeed() {
	if w.autoMode() {
		w.autoJoinAllInterfaces()
		return
	}
	for name := range w.cfg.MulticastListeningInterfaces {
		for group := range w.cfg.MulticastListeningGroups {
			w.joinGroupOnInterface(group, name)
		}
	}
}

// autoJoinAllInterfaces enumerates all interfaces, seeds
// allMulticastInterfaces with any previously-unknown name, and joins the
// full listening set on each newly discovered interface.
func (w *worker) autoJoinAllInterfaces() {
	all, err := w.ifaces.AllInterfaces(true)
	if err != nil {
		w.log.Warnf("enumerate interfaces: %v", err)
		return
	}
	for _, it := range all {
		if _, known := w.allMulticastInterfaces[it.Name]; known {
			continue
		}
		w.allMulticastInterfaces[it.Name] = struct{}{}
		for group := range w.cfg.MulticastListeningGroups {
			w.joinGroupOnInterface(group, it.Name)
		}
	}
}

// joinGroupOnInterface attempts the OS-level join for (group, iface) and
// records the outcome, per §4.1.3 "Join group g on interface i."
func (w *worker) joinGroupOnInterface(group, ifaceName string) {
	ip := net.ParseIP(group)
	if ip == nil {
		return
	}
	ifi, err := iface.ToNetInterface(ifaceName)
	if err != nil {
		w.addFailedGroup(ifaceName, group)
		w.ensureListeningWatcher()
		return
	}

	sock := w.effectiveRxSocket()
	if sock == nil {
		// Not bound yet (e.g. mid-watchdog-retry). Fail softly; the
		// listening watcher or the next doStart will retry.
		w.addFailedGroup(ifaceName, group)
		w.ensureListeningWatcher()
		return
	}
	if err := sock.joinGroup(ifi, ip); err != nil {
		w.addFailedGroup(ifaceName, group)
		w.ensureListeningWatcher()
		return
	}

	w.removeFailedGroup(ifaceName, group)
	w.addJoinedGroup(ifaceName, group)
	w.emit(Event{Kind: EventGroupJoined, Group: group, Interface: ifaceName})
	w.ensureListeningWatcher()
}

func (w *worker) addJoinedGroup(ifaceName, group string) {
	set, ok := w.joinedGroups[ifaceName]
	if !ok {
		set = map[string]struct{}{}
		w.joinedGroups[ifaceName] = set
	}
	set[group] = struct{}{}
}

func (w *worker) addFailedGroup(ifaceName, group string) {
	set, ok := w.failedGroups[ifaceName]
	if !ok {
		set = map[string]struct{}{}
		w.failedGroups[ifaceName] = set
	}
	set[group] = struct{}{}
}

func (w *worker) removeFailedGroup(ifaceName, group string) {
	if set, ok := w.failedGroups[ifaceName]; ok {
		delete(set, group)
		if len(set) == 0 {
			delete(w.failedGroups, ifaceName)
		}
	}
}

func (w *worker) removeJoinedGroup(ifaceName, group string) {
	if set, ok := w.joinedGroups[ifaceName]; ok {
		delete(set, group)
		if len(set) == 0 {
			delete(w.joinedGroups, ifaceName)
		}
	}
}

// joinGroup validates group is a multicast address and adds it to the
// listening set, performing the OS-level join on every applicable interface
// if already bound (§4.1 Worker operation "join_group", §4.2 "Join validates
// the address is a multicast address", §7 non-multicast address => Invalid
// argument, no state change).
func (w *worker) joinGroup(group string) error {
	ip := net.ParseIP(group)
	if ip == nil || !ip.IsMulticast() {
		return fmt.Errorf("%w: %q is not a multicast address", ErrInvalidArgument, group)
	}
	if _, ok := w.cfg.MulticastListeningGroups[group]; ok {
		return nil
	}
	w.cfg.MulticastListeningGroups[group] = struct{}{}
	if w.state != stateBound || !w.cfg.InputEnabled {
		return nil
	}
	for name := range w.currentMulticastInterfaces() {
		w.joinGroupOnInterface(group, name)
	}
	if len(w.currentMulticastInterfaces()) == 0 && w.autoMode() {
		w.autoJoinAllInterfaces()
	}
	return nil
}

// leaveGroup performs OS-level leave on every interface currently holding
// (or failing to hold) the group, per §4.1.3 "Leave group g."
func (w *worker) leaveGroup(group string) {
	delete(w.cfg.MulticastListeningGroups, group)

	ip := net.ParseIP(group)
	for ifaceName, set := range w.joinedGroups {
		if _, ok := set[group]; !ok {
			continue
		}
		if ip != nil {
			if sock := w.effectiveRxSocket(); sock != nil {
				if ifi, err := iface.ToNetInterface(ifaceName); err == nil {
					_ = sock.leaveGroup(ifi, ip)
				}
			}
		}
		w.removeJoinedGroup(ifaceName, group)
		w.emit(Event{Kind: EventGroupLeft, Group: group, Interface: ifaceName})
	}
	for ifaceName := range w.failedGroups {
		w.removeFailedGroup(ifaceName, group)
	}

	if len(w.cfg.MulticastListeningGroups) == 0 {
		w.stopListeningWatcher()
	}
}

func (w *worker) leaveAllGroups() {
	for group := range cloneGroupSet(w.cfg.MulticastListeningGroups) {
		w.leaveGroup(group)
	}
}

// joinInterface pins ifaceName into the listening interface set and, if
// bound, performs the OS-level join for every currently listened-to group on
// it (mirrors joinGroup's bound-state guard, per §4.2 "Listening interface
// pinning").
func (w *worker) joinInterface(ifaceName string) {
	w.cfg.MulticastListeningInterfaces[ifaceName] = struct{}{}
	if w.state != stateBound || !w.cfg.InputEnabled {
		return
	}
	for group := range w.cfg.MulticastListeningGroups {
		w.joinGroupOnInterface(group, ifaceName)
	}
}

// leaveInterface unpins ifaceName, leaving every group currently joined (or
// failing to join) on it.
func (w *worker) leaveInterface(ifaceName string) {
	delete(w.cfg.MulticastListeningInterfaces, ifaceName)
	w.leaveAllOnInterface(ifaceName)
}

// leaveAllInterfaces clears the pinned listening interface set, returning
// the endpoint to auto-discovery mode.
func (w *worker) leaveAllInterfaces() {
	for name := range w.cfg.MulticastListeningInterfaces {
		w.leaveAllOnInterface(name)
	}
	w.cfg.MulticastListeningInterfaces = map[string]struct{}{}
}

func cloneGroupSet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

// ──────── Listening watcher (§4.1 "Listening watcher (periodic, 2500 ms)") ────────

func (w *worker) ensureListeningWatcher() {
	if w.listeningTimer != nil {
		return
	}
	if len(w.cfg.MulticastListeningGroups) == 0 {
		return
	}
	w.listeningTimer = time.NewTimer(listeningWatcherInterval)
}

func (w *worker) stopListeningWatcher() {
	if w.listeningTimer != nil {
		w.listeningTimer.Stop()
		w.listeningTimer = nil
	}
}

func (w *worker) tickListeningWatcher() {
	if len(w.cfg.MulticastListeningGroups) == 0 {
		w.listeningTimer = nil
		return
	}

	all, err := w.ifaces.AllInterfaces(true)
	if err != nil {
		w.log.Warnf("listening watcher: enumerate interfaces: %v", err)
		w.listeningTimer.Reset(listeningWatcherInterval)
		return
	}
	byName := make(map[string]iface.Interface, len(all))
	for _, it := range all {
		byName[it.Name] = it
	}

	if w.autoMode() {
		// Seed newly appeared interfaces with the full listening set as
		// pending, and drop ones that have disappeared.
		for name := range byName {
			if _, known := w.allMulticastInterfaces[name]; known {
				continue
			}
			w.allMulticastInterfaces[name] = struct{}{}
			for group := range w.cfg.MulticastListeningGroups {
				w.addFailedGroup(name, group)
			}
		}
		for name := range w.allMulticastInterfaces {
			if _, present := byName[name]; present {
				continue
			}
			w.leaveAllOnInterface(name)
			delete(w.allMulticastInterfaces, name)
		}
	}

	// Demote groups on interfaces that became incapable.
	for name, groups := range cloneGroupMap(w.joinedGroups) {
		it, known := byName[name]
		if known && iface.Capable(it, w.cfg.MulticastLoopback) {
			continue
		}
		for group := range groups {
			w.addFailedGroup(name, group)
			w.removeJoinedGroup(name, group)
			w.emit(Event{Kind: EventGroupLeft, Group: group, Interface: name})
		}
	}

	// Retry groups on interfaces that are (now) capable.
	for name, groups := range cloneGroupMap(w.failedGroups) {
		it, known := byName[name]
		if !known || !iface.Capable(it, w.cfg.MulticastLoopback) {
			continue
		}
		for group := range groups {
			w.joinGroupOnInterface(group, name)
		}
	}

	if len(w.joinedGroups) == 0 && len(w.failedGroups) == 0 {
		w.listeningTimer = nil
		return
	}
	w.listeningTimer.Reset(listeningWatcherInterval)
}

func (w *worker) leaveAllOnInterface(name string) {
	groups, ok := w.joinedGroups[name]
	if !ok {
		return
	}
	ip4 := net.ParseIP
	ifi, err := iface.ToNetInterface(name)
	sock := w.effectiveRxSocket()
	for group := range groups {
		if err == nil && sock != nil {
			if gip := ip4(group); gip != nil {
				_ = sock.leaveGroup(ifi, gip)
			}
		}
		w.emit(Event{Kind: EventGroupLeft, Group: group, Interface: name})
	}
	delete(w.joinedGroups, name)
	delete(w.failedGroups, name)
}

// joinedGroupsList returns the deduplicated set of groups currently joined
// on at least one interface, for Endpoint.JoinedGroups and the
// netudp_joined_groups metric.
func (w *worker) joinedGroupsList() []string {
	seen := map[string]struct{}{}
	for _, groups := range w.joinedGroups {
		for group := range groups {
			seen[group] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for group := range seen {
		out = append(out, group)
	}
	return out
}

func cloneGroupMap(in map[string]map[string]struct{}) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{}, len(in))
	for k, v := range in {
		out[k] = cloneGroupSet(v)
	}
	return out
}
