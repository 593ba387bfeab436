package handler

import (
	"log/slog"
	"time"

	"github.com/quangdm/finsync-be/internal/api/dto"
	"github.com/quangdm/finsync-be/internal/store"
	"github.com/quangdm/finsync-be/internal/sync/domain"
	"github.com/quangdm/finsync-be/internal/sync/validate"
	"github.com/quangdm/finsync-be/internal/worker"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Jobs     *store.JobStore
	Enqueuer *worker.Enqueuer
	Limits   validate.Limits
}

// SyncHandler handles sync and job HTTP requests
type SyncHandler struct {
	logger   *slog.Logger
	jobs     *store.JobStore
	enqueuer *worker.Enqueuer
	limits   validate.Limits
}

// NewSyncHandler creates a new SyncHandler instance
func NewSyncHandler(deps *Dependencies) *SyncHandler {
	return &SyncHandler{
		logger:   deps.Logger,
		jobs:     deps.Jobs,
		enqueuer: deps.Enqueuer,
		limits:   deps.Limits,
	}
}

func jobToDTO(job *domain.Job) dto.JobDTO {
	out := dto.JobDTO{
		JobID:          job.JobID,
		UserID:         job.UserID,
		JobType:        job.JobType,
		Status:         job.Status,
		Progress:       job.Progress,
		TotalItems:     job.TotalItems,
		ProcessedItems: job.ProcessedItems,
		Payload:        job.Payload,
		Results:        job.Results,
		ErrorMessage:   job.ErrorMessage,
		CreatedAt:      job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      job.UpdatedAt.Format(time.RFC3339),
	}
	if job.StartedAt.Valid {
		out.StartedAt = job.StartedAt.Time.Format(time.RFC3339)
	}
	if job.CompletedAt.Valid {
		out.CompletedAt = job.CompletedAt.Time.Format(time.RFC3339)
	}
	return out
}
