package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/quangdm/finsync-be/internal/sync/domain"
)

// JobStore is the durable record of sync jobs.
type JobStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

const jobColumns = `
	job_id, user_id, job_type, status, progress, total_items, processed_items,
	payload, results, error_message, created_at, updated_at, started_at, completed_at
`

// CreateJob inserts a new job in pending state.
func (s *JobStore) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, user_id, job_type, status, progress, total_items,
			processed_items, payload, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.UserID,
		job.JobType,
		job.Status,
		job.Progress,
		job.TotalItems,
		job.ProcessedItems,
		nullableJSON(job.Payload),
		job.CreatedAt,
		job.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJobByID retrieves a job by id, scoped to its owner when userID is
// non-empty.
func (s *JobStore) GetJobByID(ctx context.Context, jobID, userID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`
	args := []interface{}{jobID}

	if userID != "" {
		query += ` AND user_id = $2`
		args = append(args, userID)
	}

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// GetLatestJobForUser returns the most recently created job of an owner.
func (s *JobStore) GetLatestJobForUser(ctx context.Context, userID string) (*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE user_id = $1
		ORDER BY created_at DESC, job_id DESC
		LIMIT 1
	`

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get latest job: %w", err)
	}

	return &job, nil
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	UserID   string
	JobType  string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is a (created_at, job_id) pagination position.
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs returns jobs newest-first with cursor pagination. One extra row
// beyond PageSize is fetched so the caller can tell whether more exist.
func (s *JobStore) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}

	if filter.JobType != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, filter.JobType)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	err := s.db.SelectContext(ctx, &jobs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// ClaimOldestPending atomically flips the single oldest pending job to
// processing (global FIFO, not per-owner) and records started_at. Returns
// domain.ErrJobNotFound when nothing is pending.
func (s *JobStore) ClaimOldestPending(ctx context.Context) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    started_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = (
			SELECT job_id FROM jobs
			WHERE status = $2
			ORDER BY created_at ASC, job_id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, domain.JobStatusProcessing, domain.JobStatusPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("job claimed",
		slog.String("job_id", job.JobID),
		slog.String("user_id", job.UserID),
		slog.String("job_type", job.JobType),
	)

	return &job, nil
}

// UpdateProgress records running counters for a processing job.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, progress, totalItems, processedItems int) error {
	query := `
		UPDATE jobs
		SET progress = $1,
		    total_items = $2,
		    processed_items = $3,
		    updated_at = NOW()
		WHERE job_id = $4 AND status = $5
	`

	_, err := s.db.ExecContext(ctx, query, progress, totalItems, processedItems, jobID, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}

	return nil
}

// CompleteJob finalizes a job as completed: progress forced to 100 and
// processed_items forced to at least total_items.
func (s *JobStore) CompleteJob(ctx context.Context, jobID string, results *domain.JobResults) error {
	raw, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal job results: %w", err)
	}

	query := `
		UPDATE jobs
		SET status = $1,
		    progress = 100,
		    processed_items = GREATEST(processed_items, total_items),
		    results = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
	`

	if _, err := s.db.ExecContext(ctx, query, domain.JobStatusCompleted, raw, jobID); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	s.logger.Info("job completed", slog.String("job_id", jobID))
	return nil
}

// FailJob finalizes a job as failed. Progress is reset to 0: a half-finished
// job is not reported as partially successful.
func (s *JobStore) FailJob(ctx context.Context, jobID, errorMessage string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    progress = 0,
		    error_message = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
	`

	if _, err := s.db.ExecContext(ctx, query, domain.JobStatusFailed, errorMessage, jobID); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	s.logger.Warn("job failed",
		slog.String("job_id", jobID),
		slog.String("error_message", errorMessage),
	)
	return nil
}

// CancelJob cancels a pending job by marking it failed with a cancellation
// message. Once processing, a job runs to completion or timeout.
func (s *JobStore) CancelJob(ctx context.Context, jobID, userID string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    progress = 0,
		    error_message = 'cancelled by user',
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $2 AND user_id = $3 AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query, domain.JobStatusFailed, jobID, userID, domain.JobStatusPending)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		if _, getErr := s.GetJobByID(ctx, jobID, userID); getErr != nil {
			return getErr
		}
		return domain.ErrJobNotCancelable
	}

	return nil
}

// DeleteJob removes a terminal job.
func (s *JobStore) DeleteJob(ctx context.Context, jobID, userID string) error {
	query := `
		DELETE FROM jobs
		WHERE job_id = $1 AND user_id = $2 AND status IN ($3, $4)
	`

	result, err := s.db.ExecContext(ctx, query, jobID, userID, domain.JobStatusCompleted, domain.JobStatusFailed)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		if _, getErr := s.GetJobByID(ctx, jobID, userID); getErr != nil {
			return getErr
		}
		return domain.ErrJobNotTerminal
	}

	return nil
}

// PurgeTerminalJobs deletes completed and failed jobs older than the
// retention window. Returns the number of rows removed.
func (s *JobStore) PurgeTerminalJobs(ctx context.Context, retention time.Duration) (int64, error) {
	query := `
		DELETE FROM jobs
		WHERE status IN ($1, $2) AND completed_at < $3
	`

	cutoff := time.Now().UTC().Add(-retention)
	result, err := s.db.ExecContext(ctx, query, domain.JobStatusCompleted, domain.JobStatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// nullableJSON stores empty JSON blobs as NULL.
func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
