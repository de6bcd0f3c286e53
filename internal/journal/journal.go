// Package journal records every reconciliation run to SQLite.
package journal

import (
	"context"
	cryptorand "crypto/rand"
	"database/sql"
	"encoding/json"
	"io"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"neoexcelsync/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	mode        TEXT NOT NULL,
	username    TEXT NOT NULL,
	inputs      TEXT NOT NULL,
	counts      TEXT NOT NULL,
	started_at  TIMESTAMP NOT NULL,
	duration_ms INTEGER NOT NULL,
	status      TEXT NOT NULL,
	message     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at);`

// Run modes.
const (
	ModeCompare             = "compare"
	ModeDuplicates          = "duplicates"
	ModeInstrumentDirection = "instrument_direction"
	ModeAmountPaper         = "amount_paper"
	ModeCheckSplits         = "check_splits"
)

// Run statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Run is one journal entry.
type Run struct {
	ID        string         `json:"id"`
	Mode      string         `json:"mode"`
	User      string         `json:"user"`
	Inputs    []string       `json:"inputs"`
	Counts    map[string]int `json:"counts"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration_ms"`
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
}

// MarshalJSON writes the duration in milliseconds.
func (r Run) MarshalJSON() ([]byte, error) {
	type plain Run
	return json.Marshal(struct {
		plain
		Duration int64 `json:"duration_ms"`
	}{plain(r), r.Duration.Milliseconds()})
}

// SQLite is a run journal backed by a SQLite file.
type SQLite struct {
	db *sql.DB

	mu      sync.Mutex
	entropy io.Reader
}

// NewSQLite opens path and creates the schema.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "open_journal", err).WithContext("path", path)
	}
	// One writer keeps SQLite from returning "database is locked".
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.StorageError(errors.CodeQueryFailed, "journal_schema", err).WithContext("path", path)
	}
	return &SQLite{
		db:      db,
		entropy: ulid.Monotonic(cryptorand.Reader, 0),
	}, nil
}

// NewID returns a time-sortable run id.
func (j *SQLite) NewID(at time.Time) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), j.entropy).String()
}

// Record stores r, assigning an id when it has none, and returns the id.
func (j *SQLite) Record(ctx context.Context, r Run) (string, error) {
	if r.Mode == "" {
		return "", errors.ValidationError(errors.CodeMissingField, "mode", r.Mode, nil)
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	if r.ID == "" {
		r.ID = j.NewID(r.StartedAt)
	}
	if r.Status == "" {
		r.Status = StatusSuccess
	}
	if r.Inputs == nil {
		r.Inputs = []string{}
	}
	if r.Counts == nil {
		r.Counts = map[string]int{}
	}

	inputs, err := json.Marshal(r.Inputs)
	if err != nil {
		return "", errors.InternalError(errors.CodeUnexpectedError, "encode_run", err)
	}
	counts, err := json.Marshal(r.Counts)
	if err != nil {
		return "", errors.InternalError(errors.CodeUnexpectedError, "encode_run", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO runs
		(run_id, mode, username, inputs, counts, started_at, duration_ms, status, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Mode, r.User, string(inputs), string(counts),
		r.StartedAt.UTC(), r.Duration.Milliseconds(), r.Status, r.Message,
	)
	if err != nil {
		return "", errors.StorageError(errors.CodeQueryFailed, "record_run", err).WithContext("run_id", r.ID)
	}
	return r.ID, nil
}

// Recent returns at most limit runs, newest first.
func (j *SQLite) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		return nil, errors.ValidationError(errors.CodeOutOfRange, "limit", limit, nil)
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, mode, username, inputs, counts, started_at, duration_ms, status, message
		FROM runs ORDER BY run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "recent_runs", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			r              Run
			inputs, counts string
			durationMS     int64
		)
		if err := rows.Scan(&r.ID, &r.Mode, &r.User, &inputs, &counts,
			&r.StartedAt, &durationMS, &r.Status, &r.Message); err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, "recent_runs", err)
		}
		if err := json.Unmarshal([]byte(inputs), &r.Inputs); err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, "recent_runs", err).WithContext("run_id", r.ID)
		}
		if err := json.Unmarshal([]byte(counts), &r.Counts); err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, "recent_runs", err).WithContext("run_id", r.ID)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "recent_runs", err)
	}
	return runs, nil
}

// Close closes the database.
func (j *SQLite) Close() error {
	return j.db.Close()
}
