package registry

import (
	"fmt"
	"slices"
	"sort"
	"sync"
)

// Query filters registrations for listing.
type Query struct {
	// States filters by component state(s). If empty, all states are included.
	States []ComponentState

	// Types filters by component type(s). If empty, all types are included.
	Types []string

	// Capability filters to components claiming the given capability.
	// If empty, no capability filtering is applied.
	Capability string

	// Limit is the maximum number of results to return. 0 means no limit.
	Limit int

	// Offset is the number of results to skip. Used for pagination.
	Offset int
}

// Store holds registrations and their instance runtimes.
// Implementations must be thread-safe for concurrent access.
type Store interface {
	// Put stores a new registration and its instance runtime. Returns an
	// error if a registration with the same component id already exists.
	Put(reg *Registration, inst *Instance) error

	// Swap stores a registration and instance runtime, replacing any prior
	// entry for the same component id. Used by re-registration, which
	// discards the superseded instance entirely.
	Swap(reg *Registration, inst *Instance) error

	// Get retrieves copies of a registration and its instance runtime.
	// Returns false if the component id is not registered.
	Get(id ComponentID) (Registration, Instance, bool)

	// Update atomically modifies a registration and its instance runtime.
	// The update function is called while holding an exclusive lock; its
	// error is returned unchanged, letting callers run validation inside
	// the critical section. Returns UnknownComponentError if the id is
	// not registered.
	Update(id ComponentID, fn func(*Registration, *Instance) error) error

	// List returns copies of registrations matching the query, sorted by
	// registration time (newest first).
	List(q Query) []Registration

	// Remove deletes a registration and its instance runtime. Returns
	// UnknownComponentError if the id is not registered.
	Remove(id ComponentID) error

	// Count returns the number of registrations in each state.
	Count() map[ComponentState]int

	// Export returns a deep copy of the full store for persistence.
	Export() Snapshot
}

// entry pairs a registration with its instance runtime. Both share the
// store's lock; they are created and removed together.
type entry struct {
	reg  *Registration
	inst *Instance
}

// memoryStore is a thread-safe in-memory implementation of Store.
type memoryStore struct {
	mu      sync.RWMutex
	entries map[ComponentID]*entry
}

// NewMemoryStore creates a new in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{
		entries: make(map[ComponentID]*entry),
	}
}

// Put stores a new registration and instance runtime.
func (s *memoryStore) Put(reg *Registration, inst *Instance) error {
	if err := validateEntry(reg, inst); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[reg.ComponentID]; exists {
		return fmt.Errorf("component %q already registered", reg.ComponentID)
	}

	s.entries[reg.ComponentID] = &entry{reg: reg, inst: inst}
	return nil
}

// Swap stores a registration and instance runtime, replacing any prior entry.
func (s *memoryStore) Swap(reg *Registration, inst *Instance) error {
	if err := validateEntry(reg, inst); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[reg.ComponentID] = &entry{reg: reg, inst: inst}
	return nil
}

// Get retrieves copies of a registration and its instance runtime.
func (s *memoryStore) Get(id ComponentID) (Registration, Instance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return Registration{}, Instance{}, false
	}
	return e.reg.Clone(), e.inst.Clone(), true
}

// Update atomically modifies a registration and its instance runtime.
func (s *memoryStore) Update(id ComponentID, fn func(*Registration, *Instance) error) error {
	if fn == nil {
		return fmt.Errorf("update function cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return &UnknownComponentError{ComponentID: id}
	}

	return fn(e.reg, e.inst)
}

// List returns copies of registrations matching the query.
func (s *memoryStore) List(q Query) []Registration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*entry
	for _, e := range s.entries {
		if matchesQuery(e, &q) {
			matched = append(matched, e)
		}
	}

	// Newest first, so recently registered components appear at the top.
	// Ties break on component id for stable ordering.
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.inst.RegistrationTime.Equal(b.inst.RegistrationTime) {
			return a.inst.RegistrationTime.After(b.inst.RegistrationTime)
		}
		return a.reg.ComponentID < b.reg.ComponentID
	})

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	results := make([]Registration, 0, len(matched))
	for _, e := range matched {
		results = append(results, e.reg.Clone())
	}
	return results
}

// Remove deletes a registration and its instance runtime.
func (s *memoryStore) Remove(id ComponentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return &UnknownComponentError{ComponentID: id}
	}

	delete(s.entries, id)
	return nil
}

// Count returns the number of registrations in each state.
func (s *memoryStore) Count() map[ComponentState]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[ComponentState]int)
	for _, e := range s.entries {
		counts[e.reg.State]++
	}
	return counts
}

// Export returns a deep copy of the full store for persistence.
func (s *memoryStore) Export() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Components: make([]Registration, 0, len(s.entries)),
		Instances:  make(map[ComponentID]Instance, len(s.entries)),
	}
	for id, e := range s.entries {
		snap.Components = append(snap.Components, e.reg.Clone())
		snap.Instances[id] = e.inst.Clone()
	}

	// Stable output order keeps persisted snapshots diffable.
	sort.Slice(snap.Components, func(i, j int) bool {
		return snap.Components[i].ComponentID < snap.Components[j].ComponentID
	})
	return snap
}

// validateEntry rejects nil or invalid registrations before they reach the map.
func validateEntry(reg *Registration, inst *Instance) error {
	if reg == nil {
		return fmt.Errorf("registration cannot be nil")
	}
	if inst == nil {
		return fmt.Errorf("instance runtime cannot be nil")
	}
	if !reg.ComponentID.IsValid() {
		return fmt.Errorf("registration has invalid component id")
	}
	return nil
}

// matchesQuery checks if an entry matches the given query filters.
func matchesQuery(e *entry, q *Query) bool {
	if len(q.States) > 0 && !slices.Contains(q.States, e.reg.State) {
		return false
	}
	if len(q.Types) > 0 && !slices.Contains(q.Types, e.reg.ComponentType) {
		return false
	}
	if q.Capability != "" && !e.reg.HasCapability(q.Capability) {
		return false
	}
	return true
}
