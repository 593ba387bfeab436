package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/quangdm/finsync-be/internal/sync/domain"
	"github.com/quangdm/finsync-be/internal/sync/resilience"
)

// PollOnce selects the single oldest pending job (global FIFO) and executes
// it. A no-op when nothing is pending or when a job is already in flight.
// Returns true when a job was processed.
func (w *Worker) PollOnce(ctx context.Context) bool {
	if !w.tryAcquire() {
		return false
	}
	defer w.release()

	job, err := w.jobs.ClaimOldestPending(ctx)
	if err != nil {
		if err != domain.ErrJobNotFound {
			w.logger.Error("failed to claim pending job", slog.String("error", err.Error()))
		}
		return false
	}

	w.runJob(ctx, job)
	return true
}

// runJob races job execution against the job timeout, then finalizes the
// status. A job that leaves this function is always terminal.
func (w *Worker) runJob(ctx context.Context, job *domain.Job) {
	start := time.Now()
	w.logger.Info("processing job",
		slog.String("job_id", job.JobID),
		slog.String("user_id", job.UserID),
		slog.String("job_type", job.JobType),
	)

	var results *domain.JobResults
	err := resilience.WithTimeout(ctx, w.jobTimeout, func(ctx context.Context) error {
		var execErr error
		results, execErr = w.execute(ctx, job)
		return execErr
	})

	if err != nil {
		classified := resilience.Classify(err)
		w.logger.Error("job execution failed",
			slog.String("job_id", job.JobID),
			slog.String("job_type", job.JobType),
			slog.String("error_type", string(classified.Type)),
			slog.String("error", classified.Error()),
			slog.Duration("duration", time.Since(start)),
		)
		if failErr := w.jobs.FailJob(ctx, job.JobID, classified.UserMessage); failErr != nil {
			w.logger.Error("failed to mark job failed",
				slog.String("job_id", job.JobID),
				slog.String("error", failErr.Error()),
			)
		}
		return
	}

	if completeErr := w.jobs.CompleteJob(ctx, job.JobID, results); completeErr != nil {
		w.logger.Error("failed to mark job completed",
			slog.String("job_id", job.JobID),
			slog.String("error", completeErr.Error()),
		)
		return
	}

	w.logger.Info("job completed",
		slog.String("job_id", job.JobID),
		slog.String("job_type", job.JobType),
		slog.Duration("duration", time.Since(start)),
	)
}

// execute dispatches by job type through the reconciliation engine.
func (w *Worker) execute(ctx context.Context, job *domain.Job) (*domain.JobResults, error) {
	payload, err := decodePayload(job)
	if err != nil {
		return nil, err
	}

	onProgress := w.progressReporter(ctx, job.JobID)

	switch job.JobType {
	case domain.JobTypeUpload:
		upload, err := w.engine.Upload(ctx, job.UserID, payload, onProgress)
		if err != nil {
			return nil, err
		}
		return &domain.JobResults{Upload: upload}, nil

	case domain.JobTypeDownload:
		download, err := w.engine.GetUserData(ctx, job.UserID)
		if err != nil {
			return nil, err
		}
		return &domain.JobResults{Download: download.Counts()}, nil

	case domain.JobTypeFullSync:
		full, err := w.engine.FullSync(ctx, job.UserID, payload, onProgress)
		if err != nil {
			return nil, err
		}
		return &domain.JobResults{Upload: full.Upload, Download: full.Download.Counts()}, nil

	default:
		return nil, resilience.NewError(resilience.TypeValidation,
			fmt.Errorf("unknown job type %q", job.JobType))
	}
}

// decodePayload parses the stored payload blob. Download jobs carry none;
// upload and full_sync tolerate an absent payload as empty.
func decodePayload(job *domain.Job) (*domain.SyncPayload, error) {
	if len(job.Payload) == 0 {
		return &domain.SyncPayload{}, nil
	}
	var payload domain.SyncPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, resilience.NewError(resilience.TypeValidation,
			fmt.Errorf("invalid job payload: %w", err))
	}
	return &payload, nil
}

// progressReporter emits progress after each major sub-batch. An empty
// payload is immediately 100% complete rather than a divide-by-zero.
func (w *Worker) progressReporter(ctx context.Context, jobID string) func(processed, total int) {
	return func(processed, total int) {
		progress := Progress(processed, total)
		if err := w.jobs.UpdateProgress(ctx, jobID, progress, total, processed); err != nil {
			w.logger.Warn("failed to update job progress",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Progress computes round(processed/total*100), clamped to [0, 100]. A zero
// total reports 100.
func Progress(processed, total int) int {
	if total <= 0 {
		return 100
	}
	progress := int(math.Round(float64(processed) / float64(total) * 100))
	if progress > 100 {
		progress = 100
	}
	if progress < 0 {
		progress = 0
	}
	return progress
}
