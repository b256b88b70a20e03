// Package registry implements the component lifecycle registry: the state
// machine governing each component's health, the heartbeat processor that
// proves liveness, the health monitor that drives degrade/fail/recover
// transitions, and the facade that composes them behind a single
// concurrency-safe API.
package registry

// ComponentState represents the lifecycle state of a registered component.
// Valid transitions:
//
//	Starting -> Ready, Active, Degraded, Stopping
//	Ready    -> Active, Degraded, Stopping
//	Active   -> Degraded, Stopping
//	Degraded -> Active, Failed, Stopping
//	Stopping -> Stopped
//	Failed   -> (terminal; cleared only by re-register)
//	Stopped  -> (terminal)
//
// Ready is optional: a component that has no distinct warm-up phase may
// report active directly from starting.
type ComponentState string

const (
	// StateStarting indicates the component registered but has not reported ready.
	StateStarting ComponentState = "starting"
	// StateReady indicates the component finished initialization.
	StateReady ComponentState = "ready"
	// StateActive indicates the component is serving and heartbeating normally.
	StateActive ComponentState = "active"
	// StateDegraded indicates the component missed a monitoring interval of
	// heartbeats, or self-reported reduced health, but is not yet failed.
	StateDegraded ComponentState = "degraded"
	// StateFailed indicates the component stopped proving liveness. Terminal
	// until an explicit re-register creates a fresh instance.
	StateFailed ComponentState = "failed"
	// StateStopping indicates an explicit deregistration is in progress.
	StateStopping ComponentState = "stopping"
	// StateStopped indicates the component shut down deliberately.
	StateStopped ComponentState = "stopped"
)

// validTransitions defines the allowed state transitions for components.
// The key is the current state, the value is a set of valid target states.
var validTransitions = map[ComponentState]map[ComponentState]bool{
	StateStarting: {
		StateReady:    true,
		StateActive:   true, // ready is optional
		StateDegraded: true,
		StateStopping: true,
	},
	StateReady: {
		StateActive:   true,
		StateDegraded: true,
		StateStopping: true,
	},
	StateActive: {
		StateDegraded: true,
		StateStopping: true,
	},
	StateDegraded: {
		StateActive:   true, // recovery edge
		StateFailed:   true,
		StateStopping: true,
	},
	StateStopping: {
		StateStopped: true,
	},
	// Terminal states have no valid transitions
	StateFailed:  {},
	StateStopped: {},
}

// String returns the string representation of the ComponentState.
func (s ComponentState) String() string {
	return string(s)
}

// IsValid returns true if this is a recognized ComponentState value.
func (s ComponentState) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal returns true if this state cannot transition anywhere
// (Failed or Stopped).
func (s ComponentState) IsTerminal() bool {
	return s == StateFailed || s == StateStopped
}

// Monitorable returns true if components in this state are subject to
// heartbeat monitoring. Failed, Stopping, and Stopped components are
// intentionally down and the health monitor skips them.
func (s ComponentState) Monitorable() bool {
	switch s {
	case StateStarting, StateReady, StateActive, StateDegraded:
		return true
	default:
		return false
	}
}

// CanTransitionTo returns true if transitioning from the current state to
// the target state is valid according to the component state machine.
func (s ComponentState) CanTransitionTo(target ComponentState) bool {
	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}
	return allowed[target]
}

// ValidTargets returns all states reachable from the current state.
func (s ComponentState) ValidTargets() []ComponentState {
	allowed, ok := validTransitions[s]
	if !ok {
		return nil
	}
	targets := make([]ComponentState, 0, len(allowed))
	for target := range allowed {
		targets = append(targets, target)
	}
	return targets
}
