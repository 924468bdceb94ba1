package machine

import "sync"

// Abort holds the process-wide stop state consulted before every dispatch.
//
// It is either disarmed or armed with a reason. Arming while armed replaces the reason.
type Abort struct {
	mx     sync.RWMutex
	armed  bool
	reason string
}

// NewAbort returns a disarmed Abort.
func NewAbort() *Abort { return &Abort{} }

// Arm stops all further mechanical commands until Disarm is called.
func (a *Abort) Arm(reason string) {
	a.mx.Lock()
	a.armed = true
	a.reason = reason
	a.mx.Unlock()
}

// Disarm allows mechanical commands again. The reason is kept and reported
// by any batch that is cut short by an error afterwards.
func (a *Abort) Disarm(reason string) {
	a.mx.Lock()
	a.armed = false
	a.reason = reason
	a.mx.Unlock()
}

// Set arms or disarms according to armed.
func (a *Abort) Set(armed bool, reason string) {
	if armed {
		a.Arm(reason)
		return
	}
	a.Disarm(reason)
}

// State returns the current state and reason.
func (a *Abort) State() (armed bool, reason string) {
	a.mx.RLock()
	defer a.mx.RUnlock()
	return a.armed, a.reason
}

// Armed reports if the mechanism is stopped.
func (a *Abort) Armed() bool {
	armed, _ := a.State()
	return armed
}

// Reason returns the last reason set.
func (a *Abort) Reason() string {
	_, reason := a.State()
	return reason
}
