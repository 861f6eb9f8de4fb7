package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Outcome classifies a finished sync cycle.
type Outcome string

const (
	OutcomeUpToDate Outcome = "up_to_date"
	OutcomeUpdated  Outcome = "updated"
	OutcomeFailed   Outcome = "failed"
)

// Entry is one journaled sync cycle.
type Entry struct {
	ID            string    `json:"id"`
	Started       time.Time `json:"started"`
	Finished      time.Time `json:"finished"`
	Outcome       Outcome   `json:"outcome"`
	LocalVersion  string    `json:"local_version,omitempty"`
	RemoteVersion string    `json:"remote_version,omitempty"`
	Stage         Stage     `json:"failed_stage,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Journal persists cycle history.
type Journal interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

const journalSchema = `
CREATE TABLE IF NOT EXISTS sync_cycles (
    id             TEXT PRIMARY KEY,
    started_ns     INTEGER NOT NULL,
    finished_ns    INTEGER NOT NULL,
    outcome        TEXT NOT NULL,
    local_version  TEXT NOT NULL DEFAULT '',
    remote_version TEXT NOT NULL DEFAULT '',
    stage          TEXT NOT NULL DEFAULT '',
    error          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS sync_cycles_started ON sync_cycles(started_ns);
`

// SQLiteJournal stores entries in a local SQLite database.
type SQLiteJournal struct {
	db *sql.DB
}

// OpenJournal opens (or creates) the journal database at path.
func OpenJournal(ctx context.Context, path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	// One writer; the coordinator is the only producer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

// Record inserts e.
func (j *SQLiteJournal) Record(ctx context.Context, e Entry) error {
	const q = `
		INSERT INTO sync_cycles (id, started_ns, finished_ns, outcome, local_version, remote_version, stage, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := j.db.ExecContext(ctx, q,
		e.ID, e.Started.UnixNano(), e.Finished.UnixNano(), string(e.Outcome),
		e.LocalVersion, e.RemoteVersion, string(e.Stage), e.Error)
	if err != nil {
		return fmt.Errorf("journal: record %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *SQLiteJournal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT id, started_ns, finished_ns, outcome, local_version, remote_version, stage, error
		FROM sync_cycles ORDER BY started_ns DESC, rowid DESC LIMIT ?`
	rows, err := j.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                 Entry
			started, finished int64
			outcome, stage    string
		)
		if err := rows.Scan(&e.ID, &started, &finished, &outcome, &e.LocalVersion, &e.RemoteVersion, &stage, &e.Error); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Started = time.Unix(0, started).UTC()
		e.Finished = time.Unix(0, finished).UTC()
		e.Outcome = Outcome(outcome)
		e.Stage = Stage(stage)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
