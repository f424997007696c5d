package udp

import "time"

// watchdog is a single-shot restart timer. It is armed on bind failure or a
// structural runtime error and fires exactly once into the worker loop's
// select via its channel, per §4.1 "Watchdog".
type watchdog struct {
	timer *time.Timer
	ch    <-chan time.Time
}

// arm (re-)schedules the watchdog to fire after d. Any previously scheduled
// fire is cancelled.
func (w *watchdog) arm(d time.Duration) {
	w.disarm()
	w.timer = time.NewTimer(d)
	w.ch = w.timer.C
}

// disarm cancels a pending fire, if any. Safe to call when not armed.
func (w *watchdog) disarm() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.ch = nil
}

// fireChan returns the channel to select on; it is nil (blocks forever in a
// select) when the watchdog is not armed, so a disarmed watchdog never
// spuriously fires.
func (w *watchdog) fireChan() <-chan time.Time {
	return w.ch
}
