package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComponentState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    ComponentState
		to      ComponentState
		allowed bool
	}{
		{"starting to ready", StateStarting, StateReady, true},
		{"starting to active skips optional ready", StateStarting, StateActive, true},
		{"starting to degraded", StateStarting, StateDegraded, true},
		{"starting to stopping", StateStarting, StateStopping, true},
		{"starting to failed", StateStarting, StateFailed, false},
		{"ready to active", StateReady, StateActive, true},
		{"ready to degraded", StateReady, StateDegraded, true},
		{"ready to stopping", StateReady, StateStopping, true},
		{"ready back to starting", StateReady, StateStarting, false},
		{"active to degraded", StateActive, StateDegraded, true},
		{"active to stopping", StateActive, StateStopping, true},
		{"active to failed skips degraded", StateActive, StateFailed, false},
		{"active to ready", StateActive, StateReady, false},
		{"degraded to active recovery", StateDegraded, StateActive, true},
		{"degraded to failed", StateDegraded, StateFailed, true},
		{"degraded to stopping", StateDegraded, StateStopping, true},
		{"degraded to ready", StateDegraded, StateReady, false},
		{"stopping to stopped", StateStopping, StateStopped, true},
		{"stopping to active", StateStopping, StateActive, false},
		{"failed is terminal", StateFailed, StateActive, false},
		{"failed cannot stop", StateFailed, StateStopping, false},
		{"stopped is terminal", StateStopped, StateStarting, false},
		{"unknown state", ComponentState("bogus"), StateActive, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestComponentState_IsTerminal(t *testing.T) {
	require.True(t, StateFailed.IsTerminal())
	require.True(t, StateStopped.IsTerminal())

	for _, s := range []ComponentState{StateStarting, StateReady, StateActive, StateDegraded, StateStopping} {
		require.False(t, s.IsTerminal(), "state %s", s)
	}
}

func TestComponentState_Monitorable(t *testing.T) {
	for _, s := range []ComponentState{StateStarting, StateReady, StateActive, StateDegraded} {
		require.True(t, s.Monitorable(), "state %s", s)
	}
	for _, s := range []ComponentState{StateFailed, StateStopping, StateStopped} {
		require.False(t, s.Monitorable(), "state %s", s)
	}
}

func TestComponentState_IsValid(t *testing.T) {
	for _, s := range []ComponentState{StateStarting, StateReady, StateActive, StateDegraded, StateFailed, StateStopping, StateStopped} {
		require.True(t, s.IsValid(), "state %s", s)
	}
	require.False(t, ComponentState("").IsValid())
	require.False(t, ComponentState("running").IsValid())
}

func TestComponentState_ValidTargets(t *testing.T) {
	targets := StateDegraded.ValidTargets()
	require.ElementsMatch(t, []ComponentState{StateActive, StateFailed, StateStopping}, targets)

	require.Empty(t, StateFailed.ValidTargets())
	require.Empty(t, StateStopped.ValidTargets())
	require.Nil(t, ComponentState("bogus").ValidTargets())
}

// TestComponentState_NoPathOutOfTerminal walks every state pair and verifies
// the machine never leaves a terminal state.
func TestComponentState_NoPathOutOfTerminal(t *testing.T) {
	all := []ComponentState{StateStarting, StateReady, StateActive, StateDegraded, StateFailed, StateStopping, StateStopped}
	for _, from := range []ComponentState{StateFailed, StateStopped} {
		for _, to := range all {
			require.False(t, from.CanTransitionTo(to), "%s -> %s must be rejected", from, to)
		}
	}
}
