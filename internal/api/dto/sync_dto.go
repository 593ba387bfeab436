package dto

import (
	"encoding/json"

	"github.com/quangdm/finsync-be/internal/sync/domain"
	"github.com/quangdm/finsync-be/internal/sync/validate"
)

// EnqueueJobRequest is the body of POST /api/v1/jobs/sync.
type EnqueueJobRequest struct {
	JobType string              `json:"job_type" binding:"required"`
	Payload *domain.SyncPayload `json:"payload"`
}

// ListJobsRequest are the query parameters of GET /api/v1/jobs.
type ListJobsRequest struct {
	JobType  string `form:"job_type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

// ListJobsResponse is a page of jobs.
type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// JobDTO is the wire shape of a job.
type JobDTO struct {
	JobID          string          `json:"id"`
	UserID         string          `json:"user_id"`
	JobType        string          `json:"job_type"`
	Status         string          `json:"status"`
	Progress       int             `json:"progress"`
	TotalItems     int             `json:"total_items"`
	ProcessedItems int             `json:"processed_items"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Results        json.RawMessage `json:"results,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
	StartedAt      string          `json:"started_at,omitempty"`
	CompletedAt    string          `json:"completed_at,omitempty"`
}

// EnqueueResponse pairs the created job with any validation warnings the
// caller should surface.
type EnqueueResponse struct {
	Job      JobDTO           `json:"job"`
	Warnings []validate.Issue `json:"warnings,omitempty"`
}

// ValidationErrorResponse is the 400 body for a rejected payload.
type ValidationErrorResponse struct {
	Error      string           `json:"error"`
	Validation *validate.Result `json:"validation"`
}
