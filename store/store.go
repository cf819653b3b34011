// Package store persists completed tracks in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pthm-cable/tracker/particle"
)

// BatchSize is how many tracks are inserted per transaction.
const BatchSize = 4096

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	seed       INTEGER NOT NULL,
	particles  INTEGER NOT NULL,
	started_at INTEGER NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	emitted    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tracks (
	run_id  TEXT NOT NULL REFERENCES runs(id),
	id      INTEGER NOT NULL,
	dir     INTEGER NOT NULL,
	origin  INTEGER NOT NULL,
	start_x INTEGER NOT NULL,
	start_y INTEGER NOT NULL,
	start_z INTEGER NOT NULL,
	end_x   INTEGER NOT NULL,
	end_y   INTEGER NOT NULL,
	end_z   INTEGER NOT NULL,
	steps   INTEGER NOT NULL,
	visited INTEGER NOT NULL,
	PRIMARY KEY (run_id, id, dir)
);
`

// Run identifies the run whose tracks are stored.
type Run struct {
	ID        string
	Seed      int64
	Particles int
}

// Store is a pipeline sink writing tracks to SQLite in batches. It is safe
// for concurrent Emit. A duplicate track is an error.
type Store struct {
	db    *sql.DB
	runID string

	mu      sync.Mutex
	pending []particle.Record
	emitted int64
	closed  bool
}

// Open opens or creates the database at path and registers run. Reusing a
// run id replaces that run's tracks.
func Open(path string, run Run) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	// One writer; SQLite serialises anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: creating schema: %w", err)
	}
	if _, err := db.Exec(`DELETE FROM tracks WHERE run_id = ?`, run.ID); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: clearing run %s: %w", run.ID, err)
	}
	_, err = db.Exec(`
		INSERT INTO runs (id, seed, particles, started_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			seed = excluded.seed,
			particles = excluded.particles,
			started_at = excluded.started_at,
			status = 'running',
			emitted = 0`,
		run.ID, run.Seed, run.Particles, time.Now().Unix())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: registering run %s: %w", run.ID, err)
	}

	return &Store{
		db:      db,
		runID:   run.ID,
		pending: make([]particle.Record, 0, BatchSize),
	}, nil
}

// Emit implements pipeline.Sink.
func (s *Store) Emit(r particle.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store: emit after close")
	}
	s.pending = append(s.pending, r)
	if len(s.pending) >= BatchSize {
		return s.flush()
	}
	return nil
}

// Flush commits buffered tracks.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

// flush inserts pending tracks in one transaction. Callers hold s.mu.
func (s *Store) flush() error {
	if len(s.pending) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO tracks
		(run_id, id, dir, origin, start_x, start_y, start_z, end_x, end_y, end_z, steps, visited)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("store: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range s.pending {
		_, err := stmt.Exec(s.runID, r.ID, r.Dir, r.Offset,
			r.Start[0], r.Start[1], r.Start[2],
			r.Pos[0], r.Pos[1], r.Pos[2],
			r.Steps, r.Visited)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("store: inserting track %d/%d: %w", r.ID, r.Dir, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	s.emitted += int64(len(s.pending))
	s.pending = s.pending[:0]
	return nil
}

// Count returns the number of tracks stored for the run.
func (s *Store) Count() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM tracks WHERE run_id = ?`, s.runID).Scan(&n)
	return n, err
}

// Close flushes pending tracks, records the run's final status and closes
// the database.
func (s *Store) Close(status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.flush()
	if _, uerr := s.db.Exec(`UPDATE runs SET status = ?, emitted = ? WHERE id = ?`,
		status, s.emitted, s.runID); uerr != nil && err == nil {
		err = fmt.Errorf("store: updating run: %w", uerr)
	}
	if cerr := s.db.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
