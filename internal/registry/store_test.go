package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// mustRegister builds a registration for tests, failing on invalid input.
func mustRegister(t *testing.T, id string, now time.Time) (*Registration, *Instance) {
	t.Helper()
	reg, inst, err := NewRegistration(&Descriptor{ComponentID: ComponentID(id)}, now)
	require.NoError(t, err)
	return reg, inst
}

func TestMemoryStore_PutAndGet(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 1, 17, 12, 0, 0, 0, time.UTC)

	reg, inst := mustRegister(t, "athena", now)
	require.NoError(t, store.Put(reg, inst))

	got, gotInst, ok := store.Get("athena")
	require.True(t, ok)
	require.Equal(t, ComponentID("athena"), got.ComponentID)
	require.Equal(t, StateStarting, got.State)
	require.Equal(t, now, gotInst.RegistrationTime)

	_, _, ok = store.Get("unknown")
	require.False(t, ok)
}

func TestMemoryStore_PutRejectsDuplicate(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()

	reg, inst := mustRegister(t, "athena", now)
	require.NoError(t, store.Put(reg, inst))

	again, againInst := mustRegister(t, "athena", now)
	err := store.Put(again, againInst)
	require.Error(t, err)
	require.Contains(t, err.Error(), "already registered")
}

func TestMemoryStore_PutValidation(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()

	reg, inst := mustRegister(t, "athena", now)

	require.Error(t, store.Put(nil, inst))
	require.Error(t, store.Put(reg, nil))

	bad := &Registration{ComponentID: "has space"}
	require.Error(t, store.Put(bad, inst))
}

func TestMemoryStore_SwapReplaces(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()

	first, firstInst := mustRegister(t, "athena", now)
	require.NoError(t, store.Put(first, firstInst))

	second, secondInst := mustRegister(t, "athena", now.Add(time.Minute))
	require.NoError(t, store.Swap(second, secondInst))

	got, gotInst, ok := store.Get("athena")
	require.True(t, ok)
	require.Equal(t, second.InstanceID, got.InstanceID, "swap installs the new instance")
	require.NotEqual(t, first.InstanceID, got.InstanceID)
	require.Equal(t, now.Add(time.Minute), gotInst.RegistrationTime)
}

func TestMemoryStore_GetReturnsClones(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()

	reg, inst, err := NewRegistration(&Descriptor{
		ComponentID: "athena",
		Metadata:    Metadata{"region": StringValue("us-east")},
	}, now)
	require.NoError(t, err)
	require.NoError(t, store.Put(reg, inst))

	got, _, _ := store.Get("athena")
	got.Metadata["region"] = StringValue("mutated")
	got.State = StateFailed

	fresh, _, _ := store.Get("athena")
	region, _ := fresh.Metadata["region"].AsString()
	require.Equal(t, "us-east", region)
	require.Equal(t, StateStarting, fresh.State)
}

func TestMemoryStore_Update(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()

	reg, inst := mustRegister(t, "athena", now)
	require.NoError(t, store.Put(reg, inst))

	err := store.Update("athena", func(r *Registration, i *Instance) error {
		i.Sequence = 42
		return r.TransitionTo(StateReady, "initialized", nil, now)
	})
	require.NoError(t, err)

	got, gotInst, _ := store.Get("athena")
	require.Equal(t, StateReady, got.State)
	require.Equal(t, int64(42), gotInst.Sequence)
}

func TestMemoryStore_UpdateUnknown(t *testing.T) {
	store := NewMemoryStore()

	err := store.Update("ghost", func(*Registration, *Instance) error { return nil })
	require.ErrorIs(t, err, ErrUnknownComponent)
}

func TestMemoryStore_UpdatePropagatesError(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()

	reg, inst := mustRegister(t, "athena", now)
	require.NoError(t, store.Put(reg, inst))

	sentinel := errors.New("validation rejected")
	err := store.Update("athena", func(*Registration, *Instance) error { return sentinel })
	require.ErrorIs(t, err, sentinel)

	require.Error(t, store.Update("athena", nil))
}

func TestMemoryStore_List(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 1, 17, 12, 0, 0, 0, time.UTC)

	seed := []struct {
		id    string
		ctype string
		caps  []string
		state ComponentState
		at    time.Time
	}{
		{"athena", "inference", []string{"chat"}, StateActive, base},
		{"hermes", "gateway", []string{"routing"}, StateActive, base.Add(time.Minute)},
		{"demeter", "storage", []string{"chat", "archive"}, StateDegraded, base.Add(2 * time.Minute)},
		{"apollo", "inference", nil, StateFailed, base.Add(3 * time.Minute)},
	}
	for _, s := range seed {
		reg, inst, err := NewRegistration(&Descriptor{
			ComponentID:   ComponentID(s.id),
			ComponentType: s.ctype,
			Capabilities:  s.caps,
		}, s.at)
		require.NoError(t, err)
		reg.State = s.state
		require.NoError(t, store.Put(reg, inst))
	}

	t.Run("all newest first", func(t *testing.T) {
		all := store.List(Query{})
		require.Len(t, all, 4)
		require.Equal(t, ComponentID("apollo"), all[0].ComponentID)
		require.Equal(t, ComponentID("athena"), all[3].ComponentID)
	})

	t.Run("filter by state", func(t *testing.T) {
		active := store.List(Query{States: []ComponentState{StateActive}})
		require.Len(t, active, 2)
		for _, r := range active {
			require.Equal(t, StateActive, r.State)
		}
	})

	t.Run("filter by multiple states", func(t *testing.T) {
		unhealthy := store.List(Query{States: []ComponentState{StateDegraded, StateFailed}})
		require.Len(t, unhealthy, 2)
	})

	t.Run("filter by type", func(t *testing.T) {
		inference := store.List(Query{Types: []string{"inference"}})
		require.Len(t, inference, 2)
	})

	t.Run("filter by capability", func(t *testing.T) {
		chat := store.List(Query{Capability: "chat"})
		require.Len(t, chat, 2)
		for _, r := range chat {
			require.True(t, r.HasCapability("chat"))
		}
	})

	t.Run("combined filters", func(t *testing.T) {
		got := store.List(Query{States: []ComponentState{StateActive}, Types: []string{"inference"}})
		require.Len(t, got, 1)
		require.Equal(t, ComponentID("athena"), got[0].ComponentID)
	})

	t.Run("limit and offset", func(t *testing.T) {
		page := store.List(Query{Limit: 2})
		require.Len(t, page, 2)
		require.Equal(t, ComponentID("apollo"), page[0].ComponentID)

		next := store.List(Query{Limit: 2, Offset: 2})
		require.Len(t, next, 2)
		require.Equal(t, ComponentID("hermes"), next[0].ComponentID)

		require.Empty(t, store.List(Query{Offset: 10}))
	})

	t.Run("no match", func(t *testing.T) {
		require.Empty(t, store.List(Query{Types: []string{"nonexistent"}}))
	})
}

func TestMemoryStore_ListTieBreaksOnID(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 1, 17, 12, 0, 0, 0, time.UTC)

	for _, id := range []string{"zeta", "alpha", "mid"} {
		reg, inst := mustRegister(t, id, now)
		require.NoError(t, store.Put(reg, inst))
	}

	all := store.List(Query{})
	require.Len(t, all, 3)
	require.Equal(t, ComponentID("alpha"), all[0].ComponentID)
	require.Equal(t, ComponentID("mid"), all[1].ComponentID)
	require.Equal(t, ComponentID("zeta"), all[2].ComponentID)
}

func TestMemoryStore_Remove(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()

	reg, inst := mustRegister(t, "athena", now)
	require.NoError(t, store.Put(reg, inst))

	require.NoError(t, store.Remove("athena"))
	_, _, ok := store.Get("athena")
	require.False(t, ok)

	err := store.Remove("athena")
	require.ErrorIs(t, err, ErrUnknownComponent)
}

func TestMemoryStore_Count(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()

	states := []ComponentState{StateActive, StateActive, StateDegraded, StateStarting}
	for i, s := range states {
		reg, inst := mustRegister(t, fmt.Sprintf("comp-%d", i), now)
		reg.State = s
		require.NoError(t, store.Put(reg, inst))
	}

	counts := store.Count()
	require.Equal(t, 2, counts[StateActive])
	require.Equal(t, 1, counts[StateDegraded])
	require.Equal(t, 1, counts[StateStarting])
	require.Zero(t, counts[StateFailed])
}

func TestMemoryStore_ExportSortedAndDetached(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()

	for _, id := range []string{"zeta", "alpha"} {
		reg, inst, err := NewRegistration(&Descriptor{
			ComponentID: ComponentID(id),
			Metadata:    Metadata{"k": StringValue("v")},
		}, now)
		require.NoError(t, err)
		require.NoError(t, store.Put(reg, inst))
	}

	snap := store.Export()
	require.Len(t, snap.Components, 2)
	require.Equal(t, ComponentID("alpha"), snap.Components[0].ComponentID)
	require.Equal(t, ComponentID("zeta"), snap.Components[1].ComponentID)
	require.Len(t, snap.Instances, 2)

	// Mutating the export must not leak back into the store.
	snap.Components[0].Metadata["k"] = StringValue("mutated")
	fresh, _, _ := store.Get("alpha")
	v, _ := fresh.Metadata["k"].AsString()
	require.Equal(t, "v", v)
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()

	for i := 0; i < 10; i++ {
		reg, inst := mustRegister(t, fmt.Sprintf("comp-%d", i), now)
		require.NoError(t, store.Put(reg, inst))
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := ComponentID(fmt.Sprintf("comp-%d", n))
			for j := 0; j < 100; j++ {
				_ = store.Update(id, func(_ *Registration, inst *Instance) error {
					inst.Sequence++
					return nil
				})
				store.Get(id)
				store.List(Query{})
				store.Count()
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		_, inst, ok := store.Get(ComponentID(fmt.Sprintf("comp-%d", i)))
		require.True(t, ok)
		require.Equal(t, int64(100), inst.Sequence)
	}
}

// TestProperty_StoreListFiltersAreConsistent verifies filtering never invents
// or loses entries: every listed registration matches the query, and every
// stored registration matching the query is listed.
func TestProperty_StoreListFiltersAreConsistent(t *testing.T) {
	allStates := []ComponentState{StateStarting, StateReady, StateActive, StateDegraded, StateFailed}

	rapid.Check(t, func(rt *rapid.T) {
		store := NewMemoryStore()
		now := time.Date(2026, 1, 17, 12, 0, 0, 0, time.UTC)

		n := rapid.IntRange(0, 20).Draw(rt, "n")
		expected := make(map[ComponentID]ComponentState)
		for i := 0; i < n; i++ {
			id := ComponentID(fmt.Sprintf("comp-%d", i))
			state := allStates[rapid.IntRange(0, len(allStates)-1).Draw(rt, "state")]

			reg, inst, err := NewRegistration(&Descriptor{ComponentID: id}, now.Add(time.Duration(i)*time.Second))
			require.NoError(t, err)
			reg.State = state
			require.NoError(t, store.Put(reg, inst))
			expected[id] = state
		}

		filter := allStates[rapid.IntRange(0, len(allStates)-1).Draw(rt, "filter")]
		listed := store.List(Query{States: []ComponentState{filter}})

		seen := make(map[ComponentID]bool)
		for _, r := range listed {
			require.Equal(t, filter, r.State)
			seen[r.ComponentID] = true
		}
		for id, state := range expected {
			if state == filter {
				require.True(t, seen[id], "component %s in state %s missing from listing", id, state)
			}
		}
	})
}
