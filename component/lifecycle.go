package component

import (
	"context"
	"time"
)

// State is a component's position in its lifecycle. The numeric values are
// exported as the service status gauge.
type State int

// Lifecycle states. Stopped and Failed components may be started again.
const (
	StateCreated State = iota
	StateInitialized
	StateStarted
	StateStopped
	StateFailed
)

var stateNames = [...]string{"created", "initialized", "started", "stopped", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// LifecycleComponent is a component the process starts and stops.
// Initialize does no I/O. Stop returns once work is drained or timeout
// passes, whichever comes first.
type LifecycleComponent interface {
	Discoverable
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	State() State
}
