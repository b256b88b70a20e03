package tracing

// Span attribute keys for registry tracing.
// These constants define the semantic conventions for span attributes
// across the facade, heartbeat processor, and health monitor.
const (
	// Component attributes
	AttrComponentID    = "component.id"
	AttrComponentType  = "component.type"
	AttrComponentState = "component.state"
	AttrInstanceID     = "component.instance"

	// Heartbeat attributes
	AttrSequence = "heartbeat.sequence"
	AttrAccepted = "heartbeat.accepted"

	// Sweep attributes
	AttrSweepDegraded  = "sweep.degraded"
	AttrSweepFailed    = "sweep.failed"
	AttrSweepRecovered = "sweep.recovered"

	// Error attributes
	AttrErrorMessage = "error.message"
)

// Span names for registry operations.
const (
	SpanRegister   = "registry.register"
	SpanHeartbeat  = "registry.heartbeat"
	SpanDeregister = "registry.deregister"
	SpanSweep      = "monitor.sweep"
)
