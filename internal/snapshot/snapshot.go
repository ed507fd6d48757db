// Package snapshot exports the simulator's full in-memory state (clock,
// every modality's snapshot, the event queue, and the undo/redo stacks)
// as a single JSON document (spec §6.3), and optionally persists that
// document to a local sqlite file so it survives a process restart for
// local development. The sqlite store is explicitly best-effort: the
// in-memory simulation never depends on it, matching the Non-goals'
// "no persistence required for correct operation."
package snapshot

import (
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	_ "modernc.org/sqlite"
)

// Snapshot is the exported shape of the simulator's complete state.
type Snapshot struct {
	SimulationID string                    `json:"simulation_id"`
	CurrentTime  time.Time                 `json:"current_time"`
	TakenAt      time.Time                 `json:"taken_at"`
	Modalities   map[string]map[string]any `json:"modalities"`
	Events       []map[string]any          `json:"events"`
	QueueSummary map[string]any            `json:"queue_summary"`
	UndoStack    map[string]any            `json:"undo_stack"`
	RedoStack    map[string]any            `json:"redo_stack"`
}

// Checksum returns the blake2b-256 digest of the snapshot's canonical
// JSON encoding, used to detect corruption on later retrieval.
func (s *Snapshot) Checksum() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("snapshot: marshal for checksum: %w", err)
	}
	sum := blake2b.Sum256(data)
	return fmt.Sprintf("%x", sum), nil
}

// id derives a short, stable identifier for a stored snapshot from its
// simulation id and the instant it was taken, avoiding a dependency on
// any randomness source (snapshot storage never affects simulation
// determinism, but its own keys should still be reproducible for tests).
func id(s *Snapshot) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s", s.SimulationID, s.TakenAt.Format(time.RFC3339Nano))))
	return fmt.Sprintf("%x", h[:8])
}

// Store is an optional sqlite-backed archive of exported snapshots,
// keyed by simulation_id and taken_at. A nil *Store is valid: Save and
// Close are no-ops on it and Get returns an error, so callers don't need
// to branch on whether persistence is configured.
type Store struct {
	db *sql.DB
}

// Open creates (or reopens) a sqlite-backed snapshot store at path,
// running migrations on first use.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("snapshot: open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			id            TEXT PRIMARY KEY,
			simulation_id TEXT NOT NULL,
			taken_at      TIMESTAMP NOT NULL,
			checksum      TEXT NOT NULL,
			payload       BLOB NOT NULL
		)
	`)
	return err
}

// Save writes s to the store, returning the snapshot's generated id. A
// write failure is returned to the caller, who per §4.O is expected to
// log it and otherwise ignore it — the in-memory export that triggered
// the save has already succeeded regardless.
func (s *Store) Save(snap *Snapshot) (string, error) {
	if s == nil {
		return "", nil
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("snapshot: marshal: %w", err)
	}
	checksum, err := snap.Checksum()
	if err != nil {
		return "", err
	}
	snapID := id(snap)
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO snapshots (id, simulation_id, taken_at, checksum, payload) VALUES (?, ?, ?, ?, ?)`,
		snapID, snap.SimulationID, snap.TakenAt, checksum, payload,
	)
	if err != nil {
		return "", fmt.Errorf("snapshot: save: %w", err)
	}
	return snapID, nil
}

// Get retrieves a previously saved snapshot by id, verifying its stored
// checksum against the retrieved payload before returning it.
func (s *Store) Get(snapID string) (*Snapshot, error) {
	if s == nil {
		return nil, fmt.Errorf("snapshot: store not configured")
	}
	var checksum string
	var payload []byte
	row := s.db.QueryRow(`SELECT checksum, payload FROM snapshots WHERE id = ?`, snapID)
	if err := row.Scan(&checksum, &payload); err != nil {
		return nil, fmt.Errorf("snapshot: get %q: %w", snapID, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal %q: %w", snapID, err)
	}
	gotChecksum, err := snap.Checksum()
	if err != nil {
		return nil, err
	}
	if gotChecksum != checksum {
		return nil, fmt.Errorf("snapshot: checksum mismatch for %q, stored data may be corrupt", snapID)
	}
	return &snap, nil
}

// Close releases the store's database handle. Safe to call on a nil
// *Store.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
