package idle

import (
	"sync"
	"time"
)

// Inactivity defaults. The warning fires this long before the sign-out so the
// user has a chance to keep the session alive.
const (
	DefaultTimeout = 5 * time.Minute
	WarningLead    = 10 * time.Second
)

// Watchdog signs the user out after a stretch of inactivity. Every user
// action calls Touch, which pushes both the warning and the sign-out back to
// a full timeout from now.
type Watchdog struct {
	timeout time.Duration

	onWarn   func(remaining time.Duration)
	onExpire func()

	mu      sync.Mutex
	warn    *time.Timer
	expire  *time.Timer
	stopped bool
}

// New creates a stopped watchdog; call Touch to arm it. A timeout at or below
// the warning lead disables the warning callback.
func New(timeout time.Duration, onWarn func(time.Duration), onExpire func()) *Watchdog {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Watchdog{timeout: timeout, onWarn: onWarn, onExpire: onExpire}
}

// Touch records user activity, rearming both timers.
func (w *Watchdog) Touch() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.disarm()

	if w.onWarn != nil && w.timeout > WarningLead {
		w.warn = time.AfterFunc(w.timeout-WarningLead, func() {
			w.onWarn(WarningLead)
		})
	}
	w.expire = time.AfterFunc(w.timeout, func() {
		w.mu.Lock()
		stopped := w.stopped
		w.mu.Unlock()
		if !stopped && w.onExpire != nil {
			w.onExpire()
		}
	})
}

// Stop disarms the watchdog permanently, as on explicit sign-out.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	w.disarm()
}

// disarm cancels pending timers. Callers must hold w.mu.
func (w *Watchdog) disarm() {
	if w.warn != nil {
		w.warn.Stop()
		w.warn = nil
	}
	if w.expire != nil {
		w.expire.Stop()
		w.expire = nil
	}
}
