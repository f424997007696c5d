package udp

// EventKind identifies the kind of asynchronous event an Endpoint delivers
// to its application callback. Per §5, Worker→Endpoint communication is a
// queued event; no error is ever silently dropped, so every failure
// surfaces as one of these.
type EventKind int

const (
	// EventBoundChanged fires whenever IsBounded's value changes.
	EventBoundChanged EventKind = iota

	// EventSocketError fires on bind failure and on structural runtime
	// errors (§7). ErrCode/ErrText describe the failure; the watchdog has
	// already been scheduled by the time this is delivered.
	EventSocketError

	// EventGroupJoined fires each time a (group, interface) pair is
	// successfully joined at the OS level.
	EventGroupJoined

	// EventGroupLeft fires each time a (group, interface) pair is left,
	// whether by explicit LeaveGroup or because the interface disappeared.
	EventGroupLeft

	// EventDatagramReceived fires once per datagram delivered to the
	// application. Datagram is non-nil.
	EventDatagramReceived

	// EventCounterTick fires every 1000ms with the deltas observed since
	// the previous tick.
	EventCounterTick

	// EventConfigChanged fires when a restart-triggering configuration
	// field is actually changed to a new value (see SPEC_FULL.md §9).
	EventConfigChanged
)

func (k EventKind) String() string {
	switch k {
	case EventBoundChanged:
		return "bound_changed"
	case EventSocketError:
		return "socket_error"
	case EventGroupJoined:
		return "group_joined"
	case EventGroupLeft:
		return "group_left"
	case EventDatagramReceived:
		return "datagram_received"
	case EventCounterTick:
		return "counter_tick"
	case EventConfigChanged:
		return "config_changed"
	default:
		return "unknown"
	}
}

// Event is the envelope delivered to an application's event callback.
// Only the fields relevant to Kind are populated.
type Event struct {
	Kind EventKind

	// Bounded is valid for EventBoundChanged.
	Bounded bool

	// ErrCode/ErrText are valid for EventSocketError. ErrCode is the
	// underlying syscall.Errno value when the platform exposes one, else 0.
	ErrCode int
	ErrText string

	// Group/Interface are valid for EventGroupJoined/EventGroupLeft.
	Group     string
	Interface string

	// Datagram is valid for EventDatagramReceived.
	Datagram *Datagram

	// Counters is valid for EventCounterTick: the deltas since the
	// previous tick, already folded into the Endpoint's totals.
	Counters CounterSample
}

// EventHandler receives Worker→Endpoint events. It must not block: the
// Endpoint invokes it one event at a time, in queue order, from a dedicated
// dispatch goroutine started by Start or Run (in both UseWorkerThread
// modes), and events that arrive while the queue is full are dropped.
type EventHandler func(Event)
