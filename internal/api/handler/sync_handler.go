package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quangdm/finsync-be/internal/api/dto"
	"github.com/quangdm/finsync-be/internal/api/identity"
	"github.com/quangdm/finsync-be/internal/sync/domain"
	"github.com/quangdm/finsync-be/internal/sync/validate"
)

// Upload handles POST /api/v1/sync/upload
// Validates the payload and enqueues an upload job. Nothing is written for
// a structurally invalid payload.
func (h *SyncHandler) Upload(c *gin.Context) {
	h.enqueueWithPayload(c, domain.JobTypeUpload)
}

// Full handles POST /api/v1/sync/full
// Validates the payload and enqueues a full_sync job.
func (h *SyncHandler) Full(c *gin.Context) {
	h.enqueueWithPayload(c, domain.JobTypeFullSync)
}

func (h *SyncHandler) enqueueWithPayload(c *gin.Context, jobType string) {
	userID := identity.UserID(c)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	payload, decodeResult := validate.DecodePayload(body)
	if decodeResult != nil {
		c.JSON(http.StatusBadRequest, dto.ValidationErrorResponse{
			Error:      "invalid sync payload",
			Validation: decodeResult,
		})
		return
	}

	result := validate.Payload(payload, h.limits)
	if !result.IsValid {
		h.logger.Warn("sync payload rejected",
			slog.String("user_id", userID),
			slog.Int("errors", len(result.Errors)),
		)
		c.JSON(http.StatusBadRequest, dto.ValidationErrorResponse{
			Error:      "invalid sync payload",
			Validation: result,
		})
		return
	}

	job, err := h.enqueuer.Enqueue(c.Request.Context(), userID, jobType, payload)
	if err != nil {
		h.logger.Error("failed to enqueue sync job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue sync job"})
		return
	}

	c.JSON(http.StatusAccepted, dto.EnqueueResponse{
		Job:      jobToDTO(job),
		Warnings: result.Warnings,
	})
}

// Download handles GET /api/v1/sync/download
// Enqueues a download job; the worker will fetch the authoritative remote
// snapshot into the job's results.
func (h *SyncHandler) Download(c *gin.Context) {
	userID := identity.UserID(c)

	job, err := h.enqueuer.Enqueue(c.Request.Context(), userID, domain.JobTypeDownload, nil)
	if err != nil {
		h.logger.Error("failed to enqueue download job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue download job"})
		return
	}

	c.JSON(http.StatusAccepted, dto.EnqueueResponse{Job: jobToDTO(job)})
}

// Status handles GET /api/v1/sync/status
// Returns the caller's most recent job.
func (h *SyncHandler) Status(c *gin.Context) {
	userID := identity.UserID(c)

	job, err := h.jobs.GetLatestJobForUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusOK, gin.H{"status": "idle"})
			return
		}
		h.logger.Error("failed to get sync status", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get sync status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": job.Status,
		"job":    jobToDTO(job),
	})
}
