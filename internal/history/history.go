// Package history persists applied state transitions to SQLite so operators
// can audit how a component reached its current state. Recording is strictly
// post-commit and best-effort: a failed insert is logged and never fails the
// operation that produced the transition.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/vigil-dev/vigil/internal/log"
	"github.com/vigil-dev/vigil/internal/registry"
)

// DefaultFileName is the history database file name inside the data directory.
const DefaultFileName = "history.db"

// Schema creates the transition log table. Idempotent so reopening an
// existing database is safe.
const Schema = `
CREATE TABLE IF NOT EXISTS transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	component_id TEXT NOT NULL,
	instance_uuid TEXT NOT NULL,
	from_state TEXT NOT NULL DEFAULT '',
	to_state TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT '',
	occurred_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transitions_component ON transitions(component_id);
CREATE INDEX IF NOT EXISTS idx_transitions_to_state ON transitions(to_state);
`

// Row is one recorded transition as read back from the log.
type Row struct {
	ID          int64                   `json:"id"`
	ComponentID registry.ComponentID    `json:"component_id"`
	InstanceID  registry.InstanceID     `json:"instance_uuid"`
	From        registry.ComponentState `json:"from"`
	To          registry.ComponentState `json:"to"`
	Reason      string                  `json:"reason"`

	// Detail is the JSON-encoded transition annotations, empty when the
	// transition carried none.
	Detail string `json:"detail,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// Filter narrows List results.
type Filter struct {
	// ComponentID restricts rows to one component. Empty matches all.
	ComponentID registry.ComponentID

	// States restricts rows to transitions into any of these states.
	States []registry.ComponentState

	// Limit caps the number of rows returned. Zero means no cap.
	Limit int
}

// Store is the SQLite-backed transition log. It implements
// registry.TransitionRecorder and io.Closer.
type Store struct {
	db *sql.DB
}

// Open opens the transition log at path, creating the file and schema as
// needed.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	store, err := NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info(log.CatHistory, "transition log opened", "path", path)
	return store, nil
}

// NewStore wraps an existing connection, verifying it and creating the
// schema. Tests use this with in-memory databases.
func NewStore(db *sql.DB) (*Store, error) {
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging history database: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts one transition. Errors are logged, never returned: history
// is an audit trail, not a participant in the operation.
func (s *Store) Record(tr registry.Transition) {
	detail := ""
	if len(tr.Detail) > 0 {
		data, err := json.Marshal(tr.Detail)
		if err != nil {
			log.ErrorErr(log.CatHistory, "encoding transition detail", err,
				"component", tr.ComponentID)
		} else {
			detail = string(data)
		}
	}

	_, err := s.db.Exec(
		`INSERT INTO transitions (component_id, instance_uuid, from_state, to_state, reason, detail, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tr.ComponentID.String(), tr.InstanceID.String(),
		string(tr.From), string(tr.To), tr.Reason, detail, tr.At.UTC(),
	)
	if err != nil {
		log.ErrorErr(log.CatHistory, "recording transition failed", err,
			"component", tr.ComponentID, "to", tr.To)
	}
}

// List returns recorded transitions newest first, narrowed by the filter.
func (s *Store) List(f Filter) ([]Row, error) {
	var (
		where []string
		args  []any
	)
	if f.ComponentID != "" {
		where = append(where, "component_id = ?")
		args = append(args, f.ComponentID.String())
	}
	if len(f.States) > 0 {
		placeholders := make([]string, len(f.States))
		for i, state := range f.States {
			placeholders[i] = "?"
			args = append(args, string(state))
		}
		where = append(where, "to_state IN ("+strings.Join(placeholders, ",")+")")
	}

	query := `SELECT id, component_id, instance_uuid, from_state, to_state, reason, detail, occurred_at
		FROM transitions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Row
	for rows.Next() {
		var (
			row      Row
			id       string
			instance string
			from     string
			to       string
		)
		if err := rows.Scan(&row.ID, &id, &instance, &from, &to, &row.Reason, &row.Detail, &row.OccurredAt); err != nil {
			return nil, fmt.Errorf("scanning transition row: %w", err)
		}
		row.ComponentID = registry.ComponentID(id)
		row.InstanceID = registry.InstanceID(instance)
		row.From = registry.ComponentState(from)
		row.To = registry.ComponentState(to)
		out = append(out, row)
	}
	return out, rows.Err()
}

// CountByComponent returns the number of recorded transitions per component.
func (s *Store) CountByComponent() (map[registry.ComponentID]int, error) {
	rows, err := s.db.Query(`SELECT component_id, COUNT(*) FROM transitions GROUP BY component_id`)
	if err != nil {
		return nil, fmt.Errorf("counting transitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[registry.ComponentID]int)
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		counts[registry.ComponentID(id)] = n
	}
	return counts, rows.Err()
}
