package domain

// ItemError records a single failed item within a batch, by its position in
// the incoming payload.
type ItemError struct {
	Index int    `json:"index"`
	Item  string `json:"item"`
	Error string `json:"error"`
}

// SyncResult tallies the outcome of syncing one entity kind.
type SyncResult struct {
	Created int         `json:"created"`
	Updated int         `json:"updated"`
	Errors  []ItemError `json:"errors"`
}

// NewSyncResult returns a result with a non-nil Errors slice so it
// serializes as [] rather than null.
func NewSyncResult() *SyncResult {
	return &SyncResult{Errors: []ItemError{}}
}

// UploadResult groups per-kind results of an upload.
type UploadResult struct {
	Categories   *SyncResult `json:"categories"`
	Transactions *SyncResult `json:"transactions"`
}

// DownloadResult is the authoritative remote snapshot for an owner.
type DownloadResult struct {
	Categories   []Category    `json:"categories"`
	Transactions []Transaction `json:"transactions"`
}

// Counts returns the snapshot sizes for job results.
func (d *DownloadResult) Counts() map[string]int {
	return map[string]int{
		"categories":   len(d.Categories),
		"transactions": len(d.Transactions),
	}
}

// FullSyncResult composes upload-then-download.
type FullSyncResult struct {
	Upload   *UploadResult   `json:"upload"`
	Download *DownloadResult `json:"download"`
}

// JobResults is the persisted results blob of a terminal job, keyed by what
// the job type produced.
type JobResults struct {
	Upload   *UploadResult  `json:"upload,omitempty"`
	Download map[string]int `json:"download,omitempty"`
}
