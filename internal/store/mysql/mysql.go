// Package mysql implements the store.Store contract on MySQL/MariaDB via
// database/sql and go-sql-driver. INSERT IGNORE gives the skip-duplicates
// semantics; timestamps are stored as DATETIME(6) in UTC since the column
// type carries no zone.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"traceimport/internal/job"
	"traceimport/internal/store"
	"traceimport/internal/trace"
)

func init() {
	store.Register("mysql", func(ctx context.Context, cfg store.Config) (store.Store, error) {
		return Open(ctx, cfg.DSN)
	})
}

// Store is a MySQL-backed store.Store.
type Store struct {
	db *sql.DB
}

// Open connects to dsn (go-sql-driver format, parseTime=true recommended)
// and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("mysql: DSN must not be empty")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(8)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

// Bootstrap creates the schema if missing. Statements run one at a time; the
// driver does not accept multi-statement DDL by default.
func (s *Store) Bootstrap(ctx context.Context) error {
	stmts := []string{`
CREATE TABLE IF NOT EXISTS gps_points (
	dataset_id       VARCHAR(128) NOT NULL,
	entity_id        VARCHAR(128) NOT NULL,
	recorded_at      DATETIME(6) NOT NULL,
	longitude        DOUBLE NOT NULL,
	latitude         DOUBLE NOT NULL,
	speed            DOUBLE NULL,
	heading          DOUBLE NULL,
	altitude         DOUBLE NULL,
	accuracy         DOUBLE NULL,
	extra            JSON NOT NULL,
	is_valid         TINYINT(1) NOT NULL DEFAULT 1,
	validation_flags JSON NOT NULL,
	PRIMARY KEY (dataset_id, entity_id, recorded_at)
)`, `
CREATE TABLE IF NOT EXISTS import_jobs (
	id                 VARCHAR(36) PRIMARY KEY,
	filename           VARCHAR(512) NOT NULL,
	dataset_id         VARCHAR(128) NOT NULL,
	status             VARCHAR(16) NOT NULL,
	total_records      BIGINT NOT NULL DEFAULT 0,
	processed_records  BIGINT NOT NULL DEFAULT 0,
	successful_records BIGINT NOT NULL DEFAULT 0,
	failed_records     BIGINT NOT NULL DEFAULT 0,
	error_message      TEXT NOT NULL,
	created_at         DATETIME(6) NOT NULL,
	started_at         DATETIME(6) NULL,
	completed_at       DATETIME(6) NULL
)`, `
CREATE TABLE IF NOT EXISTS validation_errors (
	id            BIGINT AUTO_INCREMENT PRIMARY KEY,
	job_id        VARCHAR(36) NOT NULL,
	record_number BIGINT NOT NULL,
	raw_data      TEXT NOT NULL,
	error_type    VARCHAR(32) NOT NULL,
	error_message TEXT NOT NULL,
	field_name    VARCHAR(64) NOT NULL DEFAULT '',
	created_at    DATETIME(6) NOT NULL,
	KEY idx_validation_errors_job (job_id)
)`}
	for _, ddl := range stmts {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("mysql: bootstrap: %w", err)
		}
	}
	return nil
}

// InsertPoints writes pts with INSERT IGNORE in one transaction; ignored rows
// (duplicate key) are counted as conflicts.
func (s *Store) InsertPoints(ctx context.Context, pts []trace.GPSPoint) (int64, int64, error) {
	if len(pts) == 0 {
		return 0, 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("mysql: begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT IGNORE INTO gps_points
	(dataset_id, entity_id, recorded_at, longitude, latitude,
	 speed, heading, altitude, accuracy, extra, is_valid, validation_flags)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return 0, 0, fmt.Errorf("mysql: prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, p := range pts {
		extra, err := p.Extra.EncodeJSON()
		if err != nil {
			_ = tx.Rollback()
			return 0, 0, fmt.Errorf("mysql: encode extra: %w", err)
		}
		res, err := stmt.ExecContext(ctx,
			p.DatasetID, p.EntityID, p.Timestamp.UTC(),
			p.Longitude, p.Latitude,
			p.Speed, p.Heading, p.Altitude, p.Accuracy,
			extra, p.IsValid, encodeFlags(p.ValidationFlags),
		)
		if err != nil {
			_ = tx.Rollback()
			return 0, 0, fmt.Errorf("mysql: insert point: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("mysql: commit: %w", err)
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
ON DUPLICATE KEY UPDATE
	status             = VALUES(status),
	total_records      = VALUES(total_records),
	processed_records  = VALUES(processed_records),
	successful_records = VALUES(successful_records),
	failed_records     = VALUES(failed_records),
	error_message      = VALUES(error_message),
	started_at         = VALUES(started_at),
	completed_at       = VALUES(completed_at)`,
		j.ID, j.Filename, j.DatasetID, string(j.Status),
		j.Total, j.Processed, j.Successful, j.Failed,
		j.ErrorMessage, j.CreatedAt.UTC(), utcPtr(j.StartedAt), utcPtr(j.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("mysql: save job: %w", err)
	}
	return nil
}

// GetJob reads a job checkpoint. Requires parseTime=true in the DSN.
func (s *Store) GetJob(ctx context.Context, id string) (*job.Job, error) {
	var (
		j      job.Job
		status string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, filename, dataset_id, status, total_records, processed_records,
       successful_records, failed_records, error_message, created_at,
       started_at, completed_at
FROM import_jobs WHERE id = ?`, id).Scan(
		&j.ID, &j.Filename, &j.DatasetID, &status,
		&j.Total, &j.Processed, &j.Successful, &j.Failed,
		&j.ErrorMessage, &j.CreatedAt, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("mysql: get job %s: %w", id, err)
	}
	j.Status = job.Status(status)
	return &j, nil
}

// AppendValidationErrors appends error-log rows in one transaction.
func (s *Store) AppendValidationErrors(ctx context.Context, errs []trace.ValidationError) error {
	if len(errs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mysql: begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO validation_errors
	(job_id, record_number, raw_data, error_type, error_message, field_name, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("mysql: prepare error insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, e := range errs {
		if _, err := stmt.ExecContext(ctx, e.JobID, e.RecordNumber, e.RawData,
			string(e.Type), e.Message, e.FieldName, now); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("mysql: insert error row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mysql: commit: %w", err)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func encodeFlags(flags []string) string {
	if len(flags) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(flags)
	return string(b)
}
