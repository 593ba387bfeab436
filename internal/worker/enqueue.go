package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quangdm/finsync-be/internal/sync/domain"
)

// EnqueueStore is the job store surface the enqueue path needs.
type EnqueueStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
}

// WakeNotifier nudges the worker process that a job was enqueued. Publish
// failures are tolerated: the poll loop picks the job up on the next tick.
type WakeNotifier interface {
	NotifyJob(ctx context.Context, jobID string) error
}

// Enqueuer creates pending jobs. The API service owns one; the worker never
// creates jobs itself.
type Enqueuer struct {
	logger   *slog.Logger
	jobs     EnqueueStore
	notifier WakeNotifier
}

// NewEnqueuer creates an enqueuer. notifier may be nil.
func NewEnqueuer(logger *slog.Logger, jobs EnqueueStore, notifier WakeNotifier) *Enqueuer {
	return &Enqueuer{logger: logger, jobs: jobs, notifier: notifier}
}

// Enqueue creates a job in pending state for the verified owner. The job is
// mutated only by the worker from here on; retrying a failed job means
// calling Enqueue again.
func (e *Enqueuer) Enqueue(ctx context.Context, userID, jobType string, payload *domain.SyncPayload) (*domain.Job, error) {
	if !domain.ValidJobType(jobType) {
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}

	var raw json.RawMessage
	if payload != nil && payload.ItemCount() > 0 {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		raw = encoded
	}

	now := time.Now().UTC()
	job := &domain.Job{
		JobID:      uuid.New().String(),
		UserID:     userID,
		JobType:    jobType,
		Status:     domain.JobStatusPending,
		TotalItems: payload.ItemCount(),
		Payload:    raw,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := e.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	e.logger.Info("job enqueued",
		slog.String("job_id", job.JobID),
		slog.String("user_id", userID),
		slog.String("job_type", jobType),
		slog.Int("total_items", job.TotalItems),
	)

	if e.notifier != nil {
		if err := e.notifier.NotifyJob(ctx, job.JobID); err != nil {
			e.logger.Warn("failed to publish job wake-up",
				slog.String("job_id", job.JobID),
				slog.String("error", err.Error()),
			)
		}
	}

	return job, nil
}
