package testutil

import (
	"time"

	"github.com/vigil-dev/vigil/internal/registry"
)

// ComponentOption configures one component in a Fleet.
type ComponentOption func(*componentData)

// WithState sets the lifecycle state.
func WithState(state registry.ComponentState) ComponentOption {
	return func(c *componentData) { c.state = state }
}

// WithName sets the display name.
func WithName(name string) ComponentOption {
	return func(c *componentData) { c.name = name }
}

// WithType sets the component type.
func WithType(ctype string) ComponentOption {
	return func(c *componentData) { c.ctype = ctype }
}

// WithVersion sets the version string.
func WithVersion(version string) ComponentOption {
	return func(c *componentData) { c.version = version }
}

// WithCapabilities sets the capability list.
func WithCapabilities(caps ...string) ComponentOption {
	return func(c *componentData) { c.caps = caps }
}

// WithDependencies sets the declared dependencies.
func WithDependencies(ids ...string) ComponentOption {
	return func(c *componentData) {
		c.deps = make([]registry.ComponentID, 0, len(ids))
		for _, id := range ids {
			c.deps = append(c.deps, registry.ComponentID(id))
		}
	}
}

// WithMetadata sets one metadata entry.
func WithMetadata(key string, value registry.Value) ComponentOption {
	return func(c *componentData) {
		if c.metadata == nil {
			c.metadata = registry.Metadata{}
		}
		c.metadata[key] = value
	}
}

// WithHeartbeatAge backdates the last heartbeat by the given duration
// relative to the fleet's reference time. Zero means fresh.
func WithHeartbeatAge(age time.Duration) ComponentOption {
	return func(c *componentData) { c.heartbeatAge = age }
}

// WithSequence sets the last-accepted heartbeat sequence.
func WithSequence(seq int64) ComponentOption {
	return func(c *componentData) { c.sequence = seq }
}

// WithRecoveryAttempts sets the consumed auto-recovery budget.
func WithRecoveryAttempts(n int) ComponentOption {
	return func(c *componentData) { c.attempts = n }
}

// WithStatus sets the instance status line.
func WithStatus(status string) ComponentOption {
	return func(c *componentData) { c.status = status }
}
