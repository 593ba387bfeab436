package domain

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Job status constants
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Job type constants
const (
	JobTypeUpload   = "upload"
	JobTypeDownload = "download"
	JobTypeFullSync = "full_sync"
)

// ValidJobType reports whether s is a recognized job type.
func ValidJobType(s string) bool {
	switch s {
	case JobTypeUpload, JobTypeDownload, JobTypeFullSync:
		return true
	}
	return false
}

// TerminalStatus reports whether a status can never transition again.
func TerminalStatus(s string) bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job represents a sync job row. Payload and Results are stored as JSON and
// typed per JobType: upload and full_sync carry a SyncPayload, download
// carries none.
type Job struct {
	JobID          string          `db:"job_id" json:"id"`
	UserID         string          `db:"user_id" json:"user_id"`
	JobType        string          `db:"job_type" json:"job_type"`
	Status         string          `db:"status" json:"status"`
	Progress       int             `db:"progress" json:"progress"`
	TotalItems     int             `db:"total_items" json:"total_items"`
	ProcessedItems int             `db:"processed_items" json:"processed_items"`
	Payload        json.RawMessage `db:"payload" json:"payload,omitempty"`
	Results        json.RawMessage `db:"results" json:"results,omitempty"`
	ErrorMessage   string          `db:"error_message" json:"error_message,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
	StartedAt      sql.NullTime    `db:"started_at" json:"started_at,omitempty"`
	CompletedAt    sql.NullTime    `db:"completed_at" json:"completed_at,omitempty"`
}

// SyncPayload is the body of an upload or full_sync job.
type SyncPayload struct {
	Categories   []PayloadCategory    `json:"categories,omitempty"`
	Transactions []PayloadTransaction `json:"transactions,omitempty"`
}

// ItemCount returns the total number of items across both kinds.
func (p *SyncPayload) ItemCount() int {
	if p == nil {
		return 0
	}
	return len(p.Categories) + len(p.Transactions)
}

// PayloadCategory is a category as sent by a client device. UpdatedAt falls
// back to CreatedAt for last-write-wins comparison; absent both, the item is
// treated as oldest and loses ties.
type PayloadCategory struct {
	Name      string     `json:"name"`
	Color     string     `json:"color,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// ModTime returns the timestamp used for last-write-wins.
func (c *PayloadCategory) ModTime() time.Time {
	if c.UpdatedAt != nil {
		return *c.UpdatedAt
	}
	if c.CreatedAt != nil {
		return *c.CreatedAt
	}
	return time.Time{}
}

// PayloadTransaction is a transaction as sent by a client device. Amount and
// Date arrive as strings and are checked by the validator before the engine
// parses them.
type PayloadTransaction struct {
	Amount      json.Number `json:"amount"`
	Type        string      `json:"type"`
	Date        string      `json:"date"`
	Description string      `json:"description,omitempty"`
	Categories  []string    `json:"categories,omitempty"`
}
