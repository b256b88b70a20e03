// Package snapshot persists registry snapshots as a single JSON document
// with replace-on-rename atomicity: the on-disk file is always either the
// previous complete snapshot or the new one, never a partial write.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vigil-dev/vigil/internal/registry"
)

// DefaultFileName is the snapshot file name inside the data directory.
const DefaultFileName = "registry.json"

// FileStore implements registry.Snapshotter against a single JSON file.
type FileStore struct {
	path string

	// mu serializes saves so two post-commit writers never interleave
	// their temp-write-rename sequences.
	mu sync.Mutex
}

// NewFileStore creates a store writing to the given path. The parent
// directory does not need to exist yet; Save creates it.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot path cannot be empty")
	}
	return &FileStore{path: path}, nil
}

// Path returns the snapshot file path, for the watcher and status tooling.
func (f *FileStore) Path() string {
	return f.path
}

// Load reads the persisted snapshot. A missing directory or file yields an
// empty snapshot and nil error; a corrupt file yields an empty snapshot and
// the parse error so the caller can log a warning and continue fresh.
func (f *FileStore) Load() (registry.Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return registry.Snapshot{}, nil
		}
		return registry.Snapshot{}, fmt.Errorf("reading snapshot: %w", err)
	}
	if len(data) == 0 {
		return registry.Snapshot{}, nil
	}

	var snap registry.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return registry.Snapshot{}, fmt.Errorf("parsing snapshot: %w", err)
	}
	return snap, nil
}

// Save atomically replaces the persisted snapshot: the full document is
// written to a temp file in the target directory, synced, closed, and then
// renamed over the target.
func (f *FileStore) Save(snap registry.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Sync(); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, f.path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
