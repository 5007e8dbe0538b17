package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresJobStore persists export jobs and their rendered files to
// PostgreSQL. It implements the JobStore interface.
type PostgresJobStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresJobStore creates a PostgresJobStore backed by the given
// connection pool.
func NewPostgresJobStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresJobStore {
	return &PostgresJobStore{pool: pool, logger: logger}
}

// Create implements JobStore.
func (s *PostgresJobStore) Create(ctx context.Context, job *Job) error {
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO export_jobs (
			id, tenant_id, config, status, record_count, file_size, checksum,
			download_ref, created_at, completed_at, expires_at,
			signed_by, certificate, failure_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		job.ID, job.TenantID, cfg, job.Status,
		job.RecordCount, job.FileSize, job.Checksum,
		job.DownloadRef, job.CreatedAt, job.CompletedAt, job.ExpiresAt,
		job.SignedBy, job.Certificate, job.FailureReason,
	); err != nil {
		return fmt.Errorf("insert export job: %w", err)
	}
	return nil
}

// Update implements JobStore.
func (s *PostgresJobStore) Update(ctx context.Context, job *Job) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE export_jobs SET
			status = $2, record_count = $3, file_size = $4, checksum = $5,
			download_ref = $6, completed_at = $7, expires_at = $8,
			signed_by = $9, certificate = $10, failure_reason = $11
		WHERE id = $1`,
		job.ID, job.Status, job.RecordCount, job.FileSize, job.Checksum,
		job.DownloadRef, job.CompletedAt, job.ExpiresAt,
		job.SignedBy, job.Certificate, job.FailureReason,
	)
	if err != nil {
		return fmt.Errorf("update export job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get implements JobStore.
func (s *PostgresJobStore) Get(ctx context.Context, id string) (*Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, jobColumns+" WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

// ListByTenant implements JobStore.
func (s *PostgresJobStore) ListByTenant(ctx context.Context, tenantID string) ([]*Job, error) {
	rows, err := s.pool.Query(ctx,
		jobColumns+" WHERE tenant_id = $1 ORDER BY created_at DESC", tenantID)
	if err != nil {
		return nil, fmt.Errorf("query export jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate export jobs: %w", err)
	}
	return out, nil
}

// SaveContent implements JobStore. The rendered bytes live in their
// own table so job listings never drag file content across the wire.
func (s *PostgresJobStore) SaveContent(ctx context.Context, jobID string, content []byte) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO export_contents (job_id, content) VALUES ($1, $2)
		 ON CONFLICT (job_id) DO UPDATE SET content = EXCLUDED.content`,
		jobID, content,
	); err != nil {
		return fmt.Errorf("save export content: %w", err)
	}
	s.logger.Debug("export content stored",
		zap.String("job_id", jobID),
		zap.Int("bytes", len(content)),
	)
	return nil
}

// Content implements JobStore.
func (s *PostgresJobStore) Content(ctx context.Context, jobID string) ([]byte, error) {
	var content []byte
	err := s.pool.QueryRow(ctx,
		"SELECT content FROM export_contents WHERE job_id = $1", jobID,
	).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read export content: %w", err)
	}
	return content, nil
}

const jobColumns = `SELECT id, tenant_id, config, status, record_count, file_size,
	checksum, download_ref, created_at, completed_at, expires_at,
	signed_by, certificate, failure_reason
	FROM export_jobs`

func scanJob(row pgx.Row) (*Job, error) {
	job := &Job{}
	var cfg []byte
	if err := row.Scan(
		&job.ID, &job.TenantID, &cfg, &job.Status,
		&job.RecordCount, &job.FileSize, &job.Checksum,
		&job.DownloadRef, &job.CreatedAt, &job.CompletedAt, &job.ExpiresAt,
		&job.SignedBy, &job.Certificate, &job.FailureReason,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cfg, &job.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	job.CreatedAt = job.CreatedAt.UTC()
	return job, nil
}
