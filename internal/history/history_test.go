package history

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vigil-dev/vigil/internal/registry"
	"github.com/vigil-dev/vigil/internal/testutil"
)

var _ registry.TransitionRecorder = (*Store)(nil)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(testutil.NewTestDB(t))
	require.NoError(t, err)
	return store
}

func transition(id string, from, to registry.ComponentState, reason string, at time.Time) registry.Transition {
	return registry.Transition{
		ComponentID: registry.ComponentID(id),
		InstanceID:  registry.NewInstanceID(),
		From:        from,
		To:          to,
		Reason:      reason,
		At:          at,
	}
}

func TestStore_RecordAndList(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 1, 17, 12, 0, 0, 0, time.UTC)

	first := transition("athena", "", registry.StateStarting, "registered", now)
	store.Record(first)
	store.Record(transition("athena", registry.StateStarting, registry.StateActive, "reported active", now.Add(time.Second)))
	store.Record(transition("athena", registry.StateActive, registry.StateDegraded, "missed heartbeats", now.Add(2*time.Second)))

	rows, err := store.List(Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Newest first.
	require.Equal(t, registry.StateDegraded, rows[0].To)
	require.Equal(t, registry.StateActive, rows[1].To)
	require.Equal(t, registry.StateStarting, rows[2].To)

	oldest := rows[2]
	require.Equal(t, first.ComponentID, oldest.ComponentID)
	require.Equal(t, first.InstanceID, oldest.InstanceID)
	require.Equal(t, first.From, oldest.From)
	require.Equal(t, first.To, oldest.To)
	require.Equal(t, "registered", oldest.Reason)
	require.Empty(t, oldest.Detail)
	require.WithinDuration(t, now, oldest.OccurredAt, time.Second)
}

func TestStore_ListFilterByComponent(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 1, 17, 12, 0, 0, 0, time.UTC)

	store.Record(transition("athena", "", registry.StateStarting, "registered", now))
	store.Record(transition("hermes", "", registry.StateStarting, "registered", now))
	store.Record(transition("athena", registry.StateStarting, registry.StateActive, "reported active", now))

	rows, err := store.List(Filter{ComponentID: "athena"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		require.Equal(t, registry.ComponentID("athena"), row.ComponentID)
	}
}

func TestStore_ListFilterByStates(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 1, 17, 12, 0, 0, 0, time.UTC)

	store.Record(transition("athena", "", registry.StateStarting, "registered", now))
	store.Record(transition("athena", registry.StateStarting, registry.StateActive, "reported active", now))
	store.Record(transition("athena", registry.StateActive, registry.StateDegraded, "missed heartbeats", now))
	store.Record(transition("hermes", registry.StateDegraded, registry.StateFailed, "recovery limit exceeded", now))

	rows, err := store.List(Filter{States: []registry.ComponentState{
		registry.StateDegraded, registry.StateFailed,
	}})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, registry.StateFailed, rows[0].To)
	require.Equal(t, registry.StateDegraded, rows[1].To)
}

func TestStore_ListLimit(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 1, 17, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		store.Record(transition("athena", registry.StateActive, registry.StateDegraded, "flap", now.Add(time.Duration(i)*time.Second)))
	}

	rows, err := store.List(Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Greater(t, rows[0].ID, rows[1].ID, "newest first")
}

func TestStore_ListCombinedFilter(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 1, 17, 12, 0, 0, 0, time.UTC)

	store.Record(transition("athena", registry.StateActive, registry.StateDegraded, "one", now))
	store.Record(transition("athena", registry.StateDegraded, registry.StateActive, "two", now))
	store.Record(transition("athena", registry.StateActive, registry.StateDegraded, "three", now))
	store.Record(transition("hermes", registry.StateActive, registry.StateDegraded, "four", now))

	rows, err := store.List(Filter{
		ComponentID: "athena",
		States:      []registry.ComponentState{registry.StateDegraded},
		Limit:       1,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "three", rows[0].Reason)
}

func TestStore_ListEmpty(t *testing.T) {
	store := newTestStore(t)

	rows, err := store.List(Filter{})
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestStore_RecordDetail(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 1, 17, 12, 0, 0, 0, time.UTC)

	tr := transition("athena", registry.StateActive, registry.StateDegraded, "downstream latency", now)
	tr.Detail = registry.Metadata{
		"p99_ms": registry.NumberValue(850),
		"cause":  registry.StringValue("queue backlog"),
	}
	store.Record(tr)

	rows, err := store.List(Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	var detail registry.Metadata
	require.NoError(t, json.Unmarshal([]byte(rows[0].Detail), &detail))
	p99, ok := detail["p99_ms"].AsNumber()
	require.True(t, ok)
	require.Equal(t, float64(850), p99)
}

func TestStore_RecordAfterCloseDoesNotPanic(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())

	// Recording is best-effort: a dead connection logs, never panics or
	// propagates.
	store.Record(transition("athena", "", registry.StateStarting, "registered", time.Now()))
}

func TestStore_CountByComponent(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 1, 17, 12, 0, 0, 0, time.UTC)

	store.Record(transition("athena", "", registry.StateStarting, "registered", now))
	store.Record(transition("athena", registry.StateStarting, registry.StateActive, "reported active", now))
	store.Record(transition("hermes", "", registry.StateStarting, "registered", now))

	counts, err := store.CountByComponent()
	require.NoError(t, err)
	require.Equal(t, map[registry.ComponentID]int{
		"athena": 2,
		"hermes": 1,
	}, counts)
}

func TestOpen_CreatesFileAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	now := time.Date(2026, 1, 17, 12, 0, 0, 0, time.UTC)

	store, err := Open(path)
	require.NoError(t, err)
	store.Record(transition("athena", "", registry.StateStarting, "registered", now))
	require.NoError(t, store.Close())

	// Reopen: schema creation is idempotent and rows survive.
	reopened, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	rows, err := reopened.List(Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, registry.ComponentID("athena"), rows[0].ComponentID)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}
