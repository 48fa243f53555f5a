// Package catalog persists backup job and DR test history in PostgreSQL.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/FairForge/failsafe/internal/backup"
	"github.com/FairForge/failsafe/internal/drtest"
)

// Store records backup jobs and DR test results for audit and reporting.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore opens a PostgreSQL-backed catalog at dsn.
func NewStore(dsn string, logger *zap.Logger) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("catalog dsn required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateTables creates the catalog tables
func (s *Store) CreateTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS backup_jobs (
			id VARCHAR(255) PRIMARY KEY,
			type VARCHAR(32) NOT NULL,
			source VARCHAR(255) NOT NULL,
			destination VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			size_bytes BIGINT NOT NULL DEFAULT 0,
			object_count INT NOT NULL DEFAULT 0,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS drtest_results (
			id SERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			category VARCHAR(64) NOT NULL,
			status VARCHAR(32) NOT NULL,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP NOT NULL,
			duration_ms BIGINT NOT NULL,
			error TEXT
		)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	return nil
}

// SaveJob upserts a backup job record
func (s *Store) SaveJob(ctx context.Context, job *backup.Job) error {
	query := `INSERT INTO backup_jobs
		(id, type, source, destination, status, size_bytes, object_count, started_at, completed_at, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			size_bytes = EXCLUDED.size_bytes,
			object_count = EXCLUDED.object_count,
			completed_at = EXCLUDED.completed_at,
			error = EXCLUDED.error`

	var completedAt sql.NullTime
	if job.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *job.CompletedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		job.ID, string(job.Type), job.Source, job.Destination, string(job.Status),
		job.SizeBytes, job.ObjectCount, job.StartedAt, completedAt, job.Error)
	if err != nil {
		return fmt.Errorf("save backup job: %w", err)
	}
	return nil
}

// GetJob retrieves a backup job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*backup.Job, error) {
	query := `SELECT id, type, source, destination, status, size_bytes, object_count, started_at, completed_at, error
		FROM backup_jobs WHERE id = $1`

	var job backup.Job
	var jobType, status string
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&job.ID, &jobType, &job.Source, &job.Destination, &status,
		&job.SizeBytes, &job.ObjectCount, &job.StartedAt, &completedAt, &job.Error)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("backup job not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query backup job: %w", err)
	}

	job.Type = backup.JobType(jobType)
	job.Status = backup.Status(status)
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}

	return &job, nil
}

// ListJobs returns backup jobs, most recent first
func (s *Store) ListJobs(ctx context.Context, limit int) ([]*backup.Job, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, type, source, destination, status, size_bytes, object_count, started_at, completed_at, error
		FROM backup_jobs ORDER BY started_at DESC LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list backup jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*backup.Job
	for rows.Next() {
		var job backup.Job
		var jobType, status string
		var completedAt sql.NullTime
		if err := rows.Scan(&job.ID, &jobType, &job.Source, &job.Destination, &status,
			&job.SizeBytes, &job.ObjectCount, &job.StartedAt, &completedAt, &job.Error); err != nil {
			return nil, fmt.Errorf("scan backup job: %w", err)
		}
		job.Type = backup.JobType(jobType)
		job.Status = backup.Status(status)
		if completedAt.Valid {
			t := completedAt.Time
			job.CompletedAt = &t
		}
		jobs = append(jobs, &job)
	}

	return jobs, rows.Err()
}

// SaveResult records a DR test result
func (s *Store) SaveResult(ctx context.Context, res drtest.Result) error {
	query := `INSERT INTO drtest_results (name, category, status, started_at, ended_at, duration_ms, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		res.Name, string(res.Category), string(res.Status),
		res.StartedAt, res.EndedAt, res.Duration.Milliseconds(), res.Error)
	if err != nil {
		return fmt.Errorf("save drtest result: %w", err)
	}
	return nil
}

// ListResults returns DR test results, most recent first
func (s *Store) ListResults(ctx context.Context, limit int) ([]drtest.Result, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT name, category, status, started_at, ended_at, duration_ms, error
		FROM drtest_results ORDER BY started_at DESC LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list drtest results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []drtest.Result
	for rows.Next() {
		var res drtest.Result
		var category, status string
		var durationMs int64
		if err := rows.Scan(&res.Name, &category, &status,
			&res.StartedAt, &res.EndedAt, &durationMs, &res.Error); err != nil {
			return nil, fmt.Errorf("scan drtest result: %w", err)
		}
		res.Category = drtest.Category(category)
		res.Status = drtest.ResultStatus(status)
		res.Duration = time.Duration(durationMs) * time.Millisecond
		results = append(results, res)
	}

	return results, rows.Err()
}
