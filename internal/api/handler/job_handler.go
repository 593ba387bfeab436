package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/quangdm/finsync-be/internal/api/dto"
	"github.com/quangdm/finsync-be/internal/api/identity"
	"github.com/quangdm/finsync-be/internal/store"
	"github.com/quangdm/finsync-be/internal/sync/domain"
	"github.com/quangdm/finsync-be/internal/sync/validate"
)

// EnqueueJob handles POST /api/v1/jobs/sync
// Generic enqueue for any job type.
func (h *SyncHandler) EnqueueJob(c *gin.Context) {
	userID := identity.UserID(c)

	var req dto.EnqueueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if !domain.ValidJobType(req.JobType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_type must be upload, download or full_sync"})
		return
	}

	var warnings []validate.Issue
	if req.JobType != domain.JobTypeDownload {
		result := validate.Payload(req.Payload, h.limits)
		if !result.IsValid {
			c.JSON(http.StatusBadRequest, dto.ValidationErrorResponse{
				Error:      "invalid sync payload",
				Validation: result,
			})
			return
		}
		warnings = result.Warnings
	}

	job, err := h.enqueuer.Enqueue(c.Request.Context(), userID, req.JobType, req.Payload)
	if err != nil {
		h.logger.Error("failed to enqueue job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
		return
	}

	c.JSON(http.StatusAccepted, dto.EnqueueResponse{
		Job:      jobToDTO(job),
		Warnings: warnings,
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *SyncHandler) GetJob(c *gin.Context) {
	userID := identity.UserID(c)

	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.jobs.GetJobByID(c.Request.Context(), jobID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		h.logger.Error("failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}

	c.JSON(http.StatusOK, jobToDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists the caller's jobs with optional filtering and cursor pagination.
func (h *SyncHandler) ListJobs(c *gin.Context) {
	userID := identity.UserID(c)

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
		return
	}

	filter := store.JobFilter{
		UserID:   userID,
		JobType:  req.JobType,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	jobs, err := h.jobs.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	response := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(jobs))}
	for i := range jobs {
		response.Jobs[i] = jobToDTO(&jobs[i])
	}

	if hasMore {
		last := jobs[len(jobs)-1]
		response.NextCursor = EncodeJobCursor(&store.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.JobID,
		})
	}

	c.JSON(http.StatusOK, response)
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Only pending jobs can be cancelled; a processing job runs to completion
// or timeout.
func (h *SyncHandler) CancelJob(c *gin.Context) {
	userID := identity.UserID(c)

	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	err := h.jobs.CancelJob(c.Request.Context(), jobID, userID)
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, domain.ErrJobNotCancelable):
		c.JSON(http.StatusConflict, gin.H{"error": "only pending jobs can be cancelled"})
	case err != nil:
		h.logger.Error("failed to cancel job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel job"})
	default:
		c.JSON(http.StatusOK, gin.H{"job_id": jobID, "status": domain.JobStatusFailed})
	}
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id
// Only terminal jobs can be deleted.
func (h *SyncHandler) DeleteJob(c *gin.Context) {
	userID := identity.UserID(c)

	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	err := h.jobs.DeleteJob(c.Request.Context(), jobID, userID)
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, domain.ErrJobNotTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": "only completed or failed jobs can be deleted"})
	case err != nil:
		h.logger.Error("failed to delete job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete job"})
	default:
		c.Status(http.StatusNoContent)
	}
}

func (h *SyncHandler) jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id must be a valid UUID"})
		return "", false
	}
	return jobID, true
}
