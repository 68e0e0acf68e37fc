// Package postgres implements the store.Store contract on Postgres using pgx
// v5. Point inserts take the COPY fast path first; when COPY aborts on a
// unique violation (SQLSTATE 23505) the batch is replayed row-by-row with
// ON CONFLICT DO NOTHING, which preserves the skip-duplicates semantics at
// the cost of one round trip per batch in the degenerate case.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"traceimport/internal/job"
	"traceimport/internal/store"
	"traceimport/internal/trace"
)

func init() {
	store.Register("postgres", func(ctx context.Context, cfg store.Config) (store.Store, error) {
		return Open(ctx, cfg.DSN)
	})
}

// pointColumns is the COPY/INSERT column order for gps_points.
var pointColumns = []string{
	"dataset_id", "entity_id", "recorded_at", "longitude", "latitude",
	"speed", "heading", "altitude", "accuracy",
	"extra", "is_valid", "validation_flags",
}

// Store is a Postgres-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects a pool to dsn and verifies it with a ping.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Bootstrap creates the schema if missing.
func (s *Store) Bootstrap(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS gps_points (
	dataset_id       TEXT NOT NULL,
	entity_id        TEXT NOT NULL,
	recorded_at      TIMESTAMPTZ NOT NULL,
	longitude        DOUBLE PRECISION NOT NULL,
	latitude         DOUBLE PRECISION NOT NULL,
	speed            DOUBLE PRECISION,
	heading          DOUBLE PRECISION,
	altitude         DOUBLE PRECISION,
	accuracy         DOUBLE PRECISION,
	extra            JSONB NOT NULL DEFAULT '{}',
	is_valid         BOOLEAN NOT NULL DEFAULT TRUE,
	validation_flags JSONB NOT NULL DEFAULT '[]',
	PRIMARY KEY (dataset_id, entity_id, recorded_at)
);
CREATE TABLE IF NOT EXISTS import_jobs (
	id                 TEXT PRIMARY KEY,
	filename           TEXT NOT NULL,
	dataset_id         TEXT NOT NULL,
	status             TEXT NOT NULL,
	total_records      BIGINT NOT NULL DEFAULT 0,
	processed_records  BIGINT NOT NULL DEFAULT 0,
	successful_records BIGINT NOT NULL DEFAULT 0,
	failed_records     BIGINT NOT NULL DEFAULT 0,
	error_message      TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL,
	started_at         TIMESTAMPTZ,
	completed_at       TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS validation_errors (
	id            BIGSERIAL PRIMARY KEY,
	job_id        TEXT NOT NULL,
	record_number BIGINT NOT NULL,
	raw_data      TEXT NOT NULL,
	error_type    TEXT NOT NULL,
	error_message TEXT NOT NULL,
	field_name    TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_validation_errors_job ON validation_errors (job_id);`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres: bootstrap: %w", err)
	}
	return nil
}

// InsertPoints bulk-loads pts. The COPY path assumes a clean batch; a unique
// violation triggers the slow conflict-tolerant path for the whole batch.
func (s *Store) InsertPoints(ctx context.Context, pts []trace.GPSPoint) (int64, int64, error) {
	if len(pts) == 0 {
		return 0, 0, nil
	}
	rows := make([][]any, 0, len(pts))
	for _, p := range pts {
		row, err := pointRow(p)
		if err != nil {
			return 0, 0, err
		}
		rows = append(rows, row)
	}

	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{"gps_points"}, pointColumns, pgx.CopyFromRows(rows))
	if err == nil {
		return n, 0, nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.SQLState() != "23505" {
		return 0, 0, fmt.Errorf("postgres: copy points: %w", err)
	}
	return s.insertSkippingConflicts(ctx, rows)
}

// insertSkippingConflicts replays a batch row-by-row with ON CONFLICT DO
// NOTHING, pipelined through a pgx batch.
func (s *Store) insertSkippingConflicts(ctx context.Context, rows [][]any) (int64, int64, error) {
	const q = `
INSERT INTO gps_points
	(dataset_id, entity_id, recorded_at, longitude, latitude,
	 speed, heading, altitude, accuracy, extra, is_valid, validation_flags)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (dataset_id, entity_id, recorded_at) DO NOTHING`

	var b pgx.Batch
	for _, row := range rows {
		b.Queue(q, row...)
	}
	br := s.pool.SendBatch(ctx, &b)
	defer br.Close()

	var inserted int64
	for range rows {
		tag, err := br.Exec()
		if err != nil {
			return inserted, 0, fmt.Errorf("postgres: insert point: %w", err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, int64(len(rows)) - inserted, nil
}

func pointRow(p trace.GPSPoint) ([]any, error) {
	extra, err := p.Extra.EncodeJSON()
	if err != nil {
		return nil, fmt.Errorf("postgres: encode extra: %w", err)
	}
	flags := "[]"
	if len(p.ValidationFlags) > 0 {
		b, _ := json.Marshal(p.ValidationFlags)
		flags = string(b)
	}
	return []any{
		p.DatasetID, p.EntityID, p.Timestamp.UTC(),
		p.Longitude, p.Latitude,
		p.Speed, p.Heading, p.Altitude, p.Accuracy,
		extra, p.IsValid, flags,
	}, nil
}

// SaveJob upserts the job checkpoint.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO import_jobs
	(id, filename, dataset_id, status, total_records, processed_records,
	 successful_records, failed_records, error_message, created_at,
	 started_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
	status             = EXCLUDED.status,
	total_records      = EXCLUDED.total_records,
	processed_records  = EXCLUDED.processed_records,
	successful_records = EXCLUDED.successful_records,
	failed_records     = EXCLUDED.failed_records,
	error_message      = EXCLUDED.error_message,
	started_at         = EXCLUDED.started_at,
	completed_at       = EXCLUDED.completed_at`,
		j.ID, j.Filename, j.DatasetID, string(j.Status),
		j.Total, j.Processed, j.Successful, j.Failed,
		j.ErrorMessage, j.CreatedAt.UTC(), utcPtr(j.StartedAt), utcPtr(j.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: save job: %w", err)
	}
	return nil
}

// GetJob reads a job checkpoint.
func (s *Store) GetJob(ctx context.Context, id string) (*job.Job, error) {
	var (
		j      job.Job
		status string
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, filename, dataset_id, status, total_records, processed_records,
       successful_records, failed_records, error_message, created_at,
       started_at, completed_at
FROM import_jobs WHERE id = $1`, id).Scan(
		&j.ID, &j.Filename, &j.DatasetID, &status,
		&j.Total, &j.Processed, &j.Successful, &j.Failed,
		&j.ErrorMessage, &j.CreatedAt, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: get job %s: %w", id, err)
	}
	j.Status = job.Status(status)
	return &j, nil
}

// AppendValidationErrors appends error-log rows via a pipelined batch.
func (s *Store) AppendValidationErrors(ctx context.Context, errs []trace.ValidationError) error {
	if len(errs) == 0 {
		return nil
	}
	const q = `
INSERT INTO validation_errors
	(job_id, record_number, raw_data, error_type, error_message, field_name)
VALUES ($1, $2, $3, $4, $5, $6)`

	var b pgx.Batch
	for _, e := range errs {
		b.Queue(q, e.JobID, e.RecordNumber, e.RawData, string(e.Type), e.Message, e.FieldName)
	}
	br := s.pool.SendBatch(ctx, &b)
	defer br.Close()
	for range errs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert error row: %w", err)
		}
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
