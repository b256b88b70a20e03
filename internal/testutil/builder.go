package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vigil-dev/vigil/internal/registry"
)

// componentData holds one component under construction.
type componentData struct {
	id           registry.ComponentID
	name         string
	ctype        string
	version      string
	instance     registry.InstanceID
	caps         []string
	deps         []registry.ComponentID
	metadata     registry.Metadata
	state        registry.ComponentState
	attempts     int
	sequence     int64
	heartbeatAge time.Duration
	status       string
}

// Fleet accumulates components and materializes them as a snapshot or
// directly into a store. Heartbeat ages are relative to the fleet's
// reference time so staleness is deterministic under a mock clock.
type Fleet struct {
	t          *testing.T
	now        time.Time
	components []componentData
}

// NewFleet creates a builder anchored at the given reference time.
func NewFleet(t *testing.T, now time.Time) *Fleet {
	t.Helper()
	return &Fleet{t: t, now: now}
}

// WithComponent adds a component with optional configuration. Defaults:
// active state, fresh heartbeat, type "service", version "1.0.0".
func (f *Fleet) WithComponent(id string, opts ...ComponentOption) *Fleet {
	c := componentData{
		id:       registry.ComponentID(id),
		name:     id,
		ctype:    "service",
		version:  "1.0.0",
		instance: registry.NewInstanceID(),
		state:    registry.StateActive,
	}
	for _, opt := range opts {
		opt(&c)
	}
	f.components = append(f.components, c)
	return f
}

// Instance returns the instance uuid assigned to a component, for tests
// exercising instance-bound operations against seeded stores.
func (f *Fleet) Instance(id string) registry.InstanceID {
	f.t.Helper()
	for _, c := range f.components {
		if c.id == registry.ComponentID(id) {
			return c.instance
		}
	}
	f.t.Fatalf("fleet has no component %q", id)
	return ""
}

// BuildSnapshot materializes the fleet as a registry snapshot.
func (f *Fleet) BuildSnapshot() registry.Snapshot {
	f.t.Helper()
	snap := registry.Snapshot{
		Instances: make(map[registry.ComponentID]registry.Instance, len(f.components)),
	}
	for _, c := range f.components {
		reg, inst := f.materialize(c)
		snap.Components = append(snap.Components, reg)
		snap.Instances[reg.ComponentID] = inst
	}
	return snap
}

// Seed inserts the fleet into a store.
func (f *Fleet) Seed(store registry.Store) {
	f.t.Helper()
	for _, c := range f.components {
		reg, inst := f.materialize(c)
		require.NoError(f.t, store.Put(&reg, &inst))
	}
}

func (f *Fleet) materialize(c componentData) (registry.Registration, registry.Instance) {
	reg := registry.Registration{
		ComponentID:      c.id,
		ComponentName:    c.name,
		ComponentType:    c.ctype,
		Version:          c.version,
		InstanceID:       c.instance,
		Capabilities:     c.caps,
		Dependencies:     c.deps,
		Metadata:         c.metadata.Clone(),
		State:            c.state,
		RecoveryAttempts: c.attempts,
	}
	beat := f.now.Add(-c.heartbeatAge)
	inst := registry.Instance{
		RegistrationTime: f.now.Add(-c.heartbeatAge - time.Hour),
		LastUpdate:       beat,
		LastHeartbeat:    beat,
		Sequence:         c.sequence,
		Status:           c.status,
	}
	return reg, inst
}
