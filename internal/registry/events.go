package registry

import "time"

// EventType categorizes registry lifecycle events.
type EventType string

const (
	// Component lifecycle events
	EventComponentRegistered   EventType = "component.registered"
	EventComponentDeregistered EventType = "component.deregistered"
	EventComponentStateChanged EventType = "component.state_changed"

	// Health monitor events
	EventComponentDegraded  EventType = "component.degraded"
	EventComponentFailed    EventType = "component.failed"
	EventComponentRecovered EventType = "component.recovered"

	// Rejection events
	EventHeartbeatRejected EventType = "heartbeat.rejected"

	// Durability events
	EventSnapshotFailed EventType = "snapshot.failed"
)

// String returns the string representation of the EventType.
func (t EventType) String() string {
	return string(t)
}

// IsHealthEvent returns true if the event type is emitted by the health
// monitor's sweep.
func (t EventType) IsHealthEvent() bool {
	switch t {
	case EventComponentDegraded,
		EventComponentFailed,
		EventComponentRecovered:
		return true
	default:
		return false
	}
}

// IsLifecycleEvent returns true if the event type marks a component
// entering or leaving the registry.
func (t EventType) IsLifecycleEvent() bool {
	switch t {
	case EventComponentRegistered,
		EventComponentDeregistered:
		return true
	default:
		return false
	}
}

// Event is the envelope for all registry events. Events are published
// post-commit: subscribers observe a store that already reflects them.
type Event struct {
	// Type identifies the kind of event.
	Type EventType
	// Timestamp when the event occurred.
	Timestamp time.Time

	// Component context. Empty for snapshot.failed, which concerns the
	// store as a whole.
	ComponentID ComponentID
	InstanceID  InstanceID
	State       ComponentState

	// Reason accompanying the transition or rejection, if any.
	Reason string

	// Event-specific payload (depends on Type).
	Payload any
}

// NewEvent creates an event of the given type stamped at now.
func NewEvent(eventType EventType, now time.Time) Event {
	return Event{
		Type:      eventType,
		Timestamp: now,
	}
}

// WithComponent adds component context to the event.
func (e Event) WithComponent(reg *Registration) Event {
	e.ComponentID = reg.ComponentID
	e.InstanceID = reg.InstanceID
	e.State = reg.State
	return e
}

// WithReason sets the reason accompanying the event.
func (e Event) WithReason(reason string) Event {
	e.Reason = reason
	return e
}

// WithPayload attaches an event-specific payload.
func (e Event) WithPayload(payload any) Event {
	e.Payload = payload
	return e
}

// StateChangedPayload carries the edge of a state transition.
type StateChangedPayload struct {
	From ComponentState
	To   ComponentState
}

// HeartbeatRejectedPayload carries the cause of a dropped heartbeat.
type HeartbeatRejectedPayload struct {
	Sequence int64
	Cause    string
}

// SnapshotFailedPayload carries the persistence error for a failed save
// or load. The in-memory store stays authoritative.
type SnapshotFailedPayload struct {
	Op    string
	Error string
}
