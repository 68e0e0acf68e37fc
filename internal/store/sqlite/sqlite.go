// Package sqlite implements the store.Store contract on SQLite via
// database/sql. There is no bulk-load API; batched INSERT OR IGNORE inside a
// transaction keeps throughput acceptable for moderate volumes and gives the
// conflict-skip semantics for free. Timestamps are stored as UTC RFC 3339
// text so lexical order equals temporal order.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"traceimport/internal/job"
	"traceimport/internal/store"
	"traceimport/internal/trace"
)

func init() {
	store.Register("sqlite", func(ctx context.Context, cfg store.Config) (store.Store, error) {
		return Open(ctx, cfg.DSN)
	})
}

// Store is a SQLite-backed store.Store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dsn. Typical DSNs:
//
//	"traces.db"
//	"file:traces.db?cache=shared"
//	"file::memory:?cache=shared" (tests)
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent file imports.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	_, _ = db.ExecContext(ctx, "PRAGMA foreign_keys = ON;")

	return &Store{db: db}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

// Bootstrap creates the schema if missing.
func (s *Store) Bootstrap(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS gps_points (
	dataset_id       TEXT NOT NULL,
	entity_id        TEXT NOT NULL,
	recorded_at      TEXT NOT NULL,
	longitude        REAL NOT NULL,
	latitude         REAL NOT NULL,
	speed            REAL,
	heading          REAL,
	altitude         REAL,
	accuracy         REAL,
	extra            TEXT NOT NULL DEFAULT '{}',
	is_valid         INTEGER NOT NULL DEFAULT 1,
	validation_flags TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (dataset_id, entity_id, recorded_at)
);
CREATE TABLE IF NOT EXISTS import_jobs (
	id                 TEXT PRIMARY KEY,
	filename           TEXT NOT NULL,
	dataset_id         TEXT NOT NULL,
	status             TEXT NOT NULL,
	total_records      INTEGER NOT NULL DEFAULT 0,
	processed_records  INTEGER NOT NULL DEFAULT 0,
	successful_records INTEGER NOT NULL DEFAULT 0,
	failed_records     INTEGER NOT NULL DEFAULT 0,
	error_message      TEXT NOT NULL DEFAULT '',
	created_at         TEXT NOT NULL,
	started_at         TEXT,
	completed_at       TEXT
);
CREATE TABLE IF NOT EXISTS validation_errors (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id        TEXT NOT NULL,
	record_number INTEGER NOT NULL,
	raw_data      TEXT NOT NULL,
	error_type    TEXT NOT NULL,
	error_message TEXT NOT NULL,
	field_name    TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_validation_errors_job ON validation_errors (job_id);`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sqlite: bootstrap: %w", err)
	}
	return nil
}

// InsertPoints writes pts with INSERT OR IGNORE in one transaction. Rows
// already present (same dataset, entity, timestamp) are counted as conflicts.
func (s *Store) InsertPoints(ctx context.Context, pts []trace.GPSPoint) (int64, int64, error) {
	if len(pts) == 0 {
		return 0, 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("sqlite: begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT OR IGNORE INTO gps_points
	(dataset_id, entity_id, recorded_at, longitude, latitude,
	 speed, heading, altitude, accuracy, extra, is_valid, validation_flags)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return 0, 0, fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, p := range pts {
		extra, err := p.Extra.EncodeJSON()
		if err != nil {
			_ = tx.Rollback()
			return 0, 0, fmt.Errorf("sqlite: encode extra: %w", err)
		}
		res, err := stmt.ExecContext(ctx,
			p.DatasetID, p.EntityID, formatTime(p.Timestamp),
			p.Longitude, p.Latitude,
			p.Speed, p.Heading, p.Altitude, p.Accuracy,
			extra, boolInt(p.IsValid), encodeFlags(p.ValidationFlags),
		)
		if err != nil {
			_ = tx.Rollback()
			return 0, 0, fmt.Errorf("sqlite: insert point: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return inserted, int64(len(pts)) - inserted, nil
}

// SaveJob upserts the job checkpoint.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO import_jobs
	(id, filename, dataset_id, status, total_records, processed_records,
	 successful_records, failed_records, error_message, created_at,
	 started_at, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	status             = excluded.status,
	total_records      = excluded.total_records,
	processed_records  = excluded.processed_records,
	successful_records = excluded.successful_records,
	failed_records     = excluded.failed_records,
	error_message      = excluded.error_message,
	started_at         = excluded.started_at,
	completed_at       = excluded.completed_at`,
		j.ID, j.Filename, j.DatasetID, string(j.Status),
		j.Total, j.Processed, j.Successful, j.Failed,
		j.ErrorMessage, formatTime(j.CreatedAt),
		formatTimePtr(j.StartedAt), formatTimePtr(j.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save job: %w", err)
	}
	return nil
}

// GetJob reads a job checkpoint; sql.ErrNoRows bubbles up for unknown ids.
func (s *Store) GetJob(ctx context.Context, id string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, filename, dataset_id, status, total_records, processed_records,
       successful_records, failed_records, error_message, created_at,
       started_at, completed_at
FROM import_jobs WHERE id = ?`, id)

	var (
		j                  job.Job
		status             string
		created            string
		started, completed sql.NullString
	)
	if err := row.Scan(&j.ID, &j.Filename, &j.DatasetID, &status,
		&j.Total, &j.Processed, &j.Successful, &j.Failed,
		&j.ErrorMessage, &created, &started, &completed); err != nil {
		return nil, fmt.Errorf("sqlite: get job %s: %w", id, err)
	}
	j.Status = job.Status(status)

	var err error
	if j.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("sqlite: job %s created_at: %w", id, err)
	}
	if j.StartedAt, err = parseTimePtr(started); err != nil {
		return nil, fmt.Errorf("sqlite: job %s started_at: %w", id, err)
	}
	if j.CompletedAt, err = parseTimePtr(completed); err != nil {
		return nil, fmt.Errorf("sqlite: job %s completed_at: %w", id, err)
	}
	return &j, nil
}

// AppendValidationErrors appends error-log rows in one transaction.
func (s *Store) AppendValidationErrors(ctx context.Context, errs []trace.ValidationError) error {
	if len(errs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO validation_errors
	(job_id, record_number, raw_data, error_type, error_message, field_name, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("sqlite: prepare error insert: %w", err)
	}
	defer stmt.Close()

	now := formatTime(time.Now())
	for _, e := range errs {
		if _, err := stmt.ExecContext(ctx, e.JobID, e.RecordNumber, e.RawData,
			string(e.Type), e.Message, e.FieldName, now); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: insert error row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// CountErrors returns the number of logged validation errors for a job,
// optionally filtered by error type.
func (s *Store) CountErrors(ctx context.Context, jobID string, errType trace.ErrorType) (int64, error) {
	q := `SELECT COUNT(*) FROM validation_errors WHERE job_id = ?`
	args := []any{jobID}
	if errType != "" {
		q += ` AND error_type = ?`
		args = append(args, string(errType))
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count errors: %w", err)
	}
	return n, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeFlags(flags []string) string {
	if len(flags) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(flags)
	return string(b)
}
