package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MimeLyc/faceless-pipeline/internal/checkpoint"
	"github.com/MimeLyc/faceless-pipeline/internal/jobs"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id VARCHAR(64) PRIMARY KEY,
	source VARCHAR(32) NOT NULL,
	dedupe_key TEXT NOT NULL DEFAULT '',
	payload_json JSONB NOT NULL,
	status VARCHAR(32) NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	result_json JSONB,
	started_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_dedupe_key ON jobs (dedupe_key);

CREATE TABLE IF NOT EXISTS checkpoints (
	script_key TEXT PRIMARY KEY,
	job_id VARCHAR(64) NOT NULL,
	script_path TEXT NOT NULL DEFAULT '',
	status VARCHAR(32) NOT NULL,
	payload_json JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_updated_at ON checkpoints (updated_at);
`

// PostgresStore keeps queue jobs and checkpoints in PostgreSQL for
// deployments where several pipeline hosts share state.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var (
	_ jobs.Store       = (*PostgresStore)(nil)
	_ checkpoint.Store = (*PostgresStore)(nil)
)

// NewPostgresStore connects to dsn and creates the tables if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := &PostgresStore{pool: pool}
	if err := store.CreateTables(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreFromPool wraps an existing pool. Tables are not created.
func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateTables(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStore) LoadJobs(ctx context.Context) ([]*jobs.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source, dedupe_key, payload_json::text, status, error,
			COALESCE(result_json::text, ''), started_at, created_at, updated_at
		FROM jobs
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	defer rows.Close()

	ret := make([]*jobs.Job, 0)
	for rows.Next() {
		var item jobs.Job
		var status string
		var row jobRow
		if err := rows.Scan(
			&item.ID,
			&item.Source,
			&item.DedupeKey,
			&row.payloadJSON,
			&status,
			&item.Error,
			&row.resultJSON,
			&item.StartedAt,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		item.Status = jobs.Status(status)
		if err := decodeJob(&item, row); err != nil {
			return nil, err
		}
		ret = append(ret, &item)
	}
	return ret, rows.Err()
}

func (s *PostgresStore) UpsertJob(ctx context.Context, job *jobs.Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	row, err := encodeJob(job)
	if err != nil {
		return err
	}
	var result *string
	if row.resultJSON != "" {
		result = &row.resultJSON
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, source, dedupe_key, payload_json, status, error, result_json, started_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7::jsonb, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			source = EXCLUDED.source,
			dedupe_key = EXCLUDED.dedupe_key,
			payload_json = EXCLUDED.payload_json,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			result_json = EXCLUDED.result_json,
			started_at = EXCLUDED.started_at,
			updated_at = EXCLUDED.updated_at`,
		job.ID, job.Source, job.DedupeKey, row.payloadJSON, string(job.Status), job.Error,
		result, job.StartedAt, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteJob(ctx context.Context, jobID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, jobID); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, key string) (*checkpoint.Checkpoint, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload_json::text FROM checkpoints WHERE script_key = $1`, key).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, checkpoint.ErrNotFound
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return decodeCheckpoint(payload)
}

func (s *PostgresStore) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	payload, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}
	updatedAt := cp.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO checkpoints (script_key, job_id, script_path, status, payload_json, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		ON CONFLICT (script_key) DO UPDATE SET
			job_id = EXCLUDED.job_id,
			script_path = EXCLUDED.script_path,
			status = EXCLUDED.status,
			payload_json = EXCLUDED.payload_json,
			updated_at = EXCLUDED.updated_at`,
		cp.ScriptKey, cp.JobID, cp.ScriptPath, string(cp.Status), payload, updatedAt)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM checkpoints WHERE script_key = $1`, key); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCheckpoints(ctx context.Context, limit int) ([]*checkpoint.Checkpoint, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `SELECT payload_json::text FROM checkpoints ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	ret := make([]*checkpoint.Checkpoint, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		cp, err := decodeCheckpoint(payload)
		if err != nil {
			return nil, err
		}
		ret = append(ret, cp)
	}
	return ret, rows.Err()
}
