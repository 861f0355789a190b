package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"linkhoard/internal/models"
)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateJobParams collects inputs required to insert a job with its items.
type CreateJobParams struct {
	Type        string
	SourceName  string
	TargetURLs  []string
	ParentJobID string
}

// CreateJob inserts a job row plus one item per target URL in a single
// transaction, so a crash can never leave a job without its items.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (models.Job, error) {
	if len(p.TargetURLs) == 0 {
		return models.Job{}, errors.New("job requires at least one target url")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Job{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	id := uuid.New().String()
	now := time.Now().UTC()

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, type, status, source_name, total_items, parent_job_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, id, p.Type, models.JobPending, p.SourceName, len(p.TargetURLs), emptyToNil(p.ParentJobID), now)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}

	batch := &pgx.Batch{}
	for _, url := range p.TargetURLs {
		batch.Queue(`
			INSERT INTO job_items (id, job_id, target_url, status, retry_count, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 0, $5, $5)
		`, uuid.New().String(), id, url, models.ItemPending, now)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return models.Job{}, fmt.Errorf("insert job items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, fmt.Errorf("commit: %w", err)
	}

	return models.Job{
		ID:          id,
		Type:        p.Type,
		Status:      models.JobPending,
		SourceName:  p.SourceName,
		TotalItems:  len(p.TargetURLs),
		ParentJobID: emptyToNil(p.ParentJobID),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// JobFilter narrows RecentJobs by type and/or status. Zero values match all.
type JobFilter struct {
	Type   string
	Status string
}

// RecentJobs lists jobs newest-first.
func (s *Store) RecentJobs(ctx context.Context, filter JobFilter, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, status, source_name, total_items, parent_job_id, created_at, updated_at
		FROM jobs
		WHERE ($1 = '' OR type = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, filter.Type, filter.Status, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		var job models.Job
		var parent pgtype.Text
		if err := rows.Scan(&job.ID, &job.Type, &job.Status, &job.SourceName, &job.TotalItems, &parent, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job.ParentJobID = textPtr(parent)
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, type, status, source_name, total_items, parent_job_id, created_at, updated_at
		FROM jobs WHERE id = $1
	`, id)

	var job models.Job
	var parent pgtype.Text
	if err := row.Scan(&job.ID, &job.Type, &job.Status, &job.SourceName, &job.TotalItems, &parent, &job.CreatedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, fmt.Errorf("job not found: %w", err)
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	job.ParentJobID = textPtr(parent)
	return job, nil
}

// DeleteJob removes a job; its items go with it via ON DELETE CASCADE.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// BatchJobStats returns per-item status counts for every requested job
// in one round trip. Jobs with zero items still get a row, so callers
// can rely on pending+in_progress+complete+error == total per job.
func (s *Store) BatchJobStats(ctx context.Context, jobIDs []string) ([]models.JobStats, error) {
	if len(jobIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT j.id,
			COUNT(i.id) FILTER (WHERE i.status = 'pending'),
			COUNT(i.id) FILTER (WHERE i.status = 'in_progress'),
			COUNT(i.id) FILTER (WHERE i.status = 'complete'),
			COUNT(i.id) FILTER (WHERE i.status = 'error'),
			COUNT(i.id)
		FROM jobs j
		LEFT JOIN job_items i ON i.job_id = j.id
		WHERE j.id = ANY($1)
		GROUP BY j.id
	`, jobIDs)
	if err != nil {
		return nil, fmt.Errorf("query job stats: %w", err)
	}
	defer rows.Close()

	var stats []models.JobStats
	for rows.Next() {
		var st models.JobStats
		if err := rows.Scan(&st.JobID, &st.Pending, &st.InProgress, &st.Complete, &st.Error, &st.Total); err != nil {
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// BatchJobItems returns all items for the requested jobs in one query.
func (s *Store) BatchJobItems(ctx context.Context, jobIDs []string) ([]models.JobItem, error) {
	if len(jobIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, target_url, status, error_message, retry_count, not_before, started_at, created_at, updated_at
		FROM job_items
		WHERE job_id = ANY($1)
		ORDER BY created_at
	`, jobIDs)
	if err != nil {
		return nil, fmt.Errorf("query job items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func scanItems(rows pgx.Rows) ([]models.JobItem, error) {
	var items []models.JobItem
	for rows.Next() {
		var it models.JobItem
		var msg pgtype.Text
		var notBefore, startedAt pgtype.Timestamptz
		if err := rows.Scan(&it.ID, &it.JobID, &it.TargetURL, &it.Status, &msg, &it.RetryCount, &notBefore, &startedAt, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job item: %w", err)
		}
		it.ErrorMessage = textPtr(msg)
		it.NotBefore = timePtr(notBefore)
		it.StartedAt = timePtr(startedAt)
		items = append(items, it)
	}
	return items, rows.Err()
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
