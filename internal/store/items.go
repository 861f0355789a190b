package store

import (
	"context"
	"fmt"
	"time"

	"linkhoard/internal/models"
)

// ClaimPendingItems atomically flips up to limit claimable pending
// items to in_progress and returns them. Items parked for a retry stay
// invisible until their not_before passes. FOR UPDATE SKIP LOCKED
// keeps overlapping invocations from double-claiming a row.
func (s *Store) ClaimPendingItems(ctx context.Context, limit int) ([]models.JobItem, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE job_items SET status = 'in_progress', started_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM job_items
			WHERE status = 'pending' AND (not_before IS NULL OR not_before <= NOW())
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, job_id, target_url, status, error_message, retry_count, not_before, started_at, created_at, updated_at
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// RecoverStuckItems resets in_progress items started before cutoff
// back to pending. A stuck item means the previous holder died
// mid-flight; the retry count is untouched because the item itself
// never failed.
func (s *Store) RecoverStuckItems(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_items SET status = 'pending', started_at = NULL, updated_at = NOW()
		WHERE status = 'in_progress' AND started_at <= $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("recover stuck items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// MarkItemComplete records a successful pipeline run.
func (s *Store) MarkItemComplete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_items
		SET status = 'complete', error_message = NULL, not_before = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

// ScheduleItemRetry parks a failed item as pending again with its new
// retry count and a not-before timestamp the claim pass filters on.
func (s *Store) ScheduleItemRetry(ctx context.Context, id string, retryCount int, notBefore time.Time, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_items
		SET status = 'pending', retry_count = $2, not_before = $3, error_message = $4, started_at = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, retryCount, notBefore, errMsg)
	return err
}

// MarkItemError terminally fails an item after retries are exhausted.
func (s *Store) MarkItemError(ctx context.Context, id string, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_items
		SET status = 'error', error_message = $2, not_before = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, errMsg)
	return err
}

// RetryFailedItems resets every error item of one job to pending with
// a zeroed retry count. It only rewrites rows; processing starts on
// the next drain trigger.
func (s *Store) RetryFailedItems(ctx context.Context, jobID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_items
		SET status = 'pending', retry_count = 0, error_message = NULL, not_before = NULL, updated_at = NOW()
		WHERE job_id = $1 AND status = 'error'
	`, jobID)
	if err != nil {
		return 0, fmt.Errorf("retry failed items: %w", err)
	}
	if tag.RowsAffected() > 0 {
		if err := s.RefreshJobStatus(ctx, jobID); err != nil {
			return int(tag.RowsAffected()), err
		}
	}
	return int(tag.RowsAffected()), nil
}

// RefreshJobStatus recomputes a job's aggregate status from its items
// in a single statement: complete when every item completed, failed
// when all items are terminal and at least one errored, pending while
// nothing has started, processing otherwise.
func (s *Store) RefreshJobStatus(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = sub.next, updated_at = NOW()
		FROM (
			SELECT CASE
				WHEN COUNT(*) = 0 THEN 'complete'
				WHEN COUNT(*) FILTER (WHERE status = 'complete') = COUNT(*) THEN 'complete'
				WHEN COUNT(*) FILTER (WHERE status IN ('complete', 'error')) = COUNT(*) THEN 'failed'
				WHEN COUNT(*) FILTER (WHERE status = 'pending' AND retry_count = 0 AND error_message IS NULL) = COUNT(*) THEN 'pending'
				ELSE 'processing'
			END AS next
			FROM job_items WHERE job_id = $1
		) sub
		WHERE jobs.id = $1
	`, jobID)
	if err != nil {
		return fmt.Errorf("refresh job status: %w", err)
	}
	return nil
}
