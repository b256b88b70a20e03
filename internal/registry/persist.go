package registry

// Snapshot is a complete copy of the store: every registration plus its
// instance runtime, keyed by component id. It is built under the store
// lock and written after release so disk latency never stalls callers.
type Snapshot struct {
	Components []Registration           `json:"components"`
	Instances  map[ComponentID]Instance `json:"instances"`
}

// IsEmpty reports whether the snapshot carries no registrations.
func (s Snapshot) IsEmpty() bool {
	return len(s.Components) == 0
}

// Snapshotter persists and restores registry snapshots. The file-backed
// implementation lives in internal/snapshot; tests substitute in-memory
// fakes.
type Snapshotter interface {
	// Load reads the last persisted snapshot. A missing directory or file
	// yields an empty snapshot and nil error. A corrupt file yields an
	// empty snapshot and the parse error so the caller can log a warning
	// and continue with a fresh store.
	Load() (Snapshot, error)

	// Save atomically replaces the persisted snapshot. The target file is
	// always either the previous complete document or the new one.
	Save(Snapshot) error
}
