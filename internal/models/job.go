package models

import (
	"time"
)

// Job types accepted by the import API.
const (
	JobTypeFileImport    = "file_import"
	JobTypeBulkURLImport = "bulk_url_import"
	JobTypeURLFetch      = "url_fetch"
)

// JobStatus enumerates aggregate job states persisted in Postgres.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobComplete   = "complete"
	JobFailed     = "failed"
)

// ItemStatus enumerates per-item states.
const (
	ItemPending    = "pending"
	ItemInProgress = "in_progress"
	ItemComplete   = "complete"
	ItemError      = "error"
)

// Job is a user- or system-initiated unit of work composed of items.
// Its status is a deterministic function of its items' statuses and is
// mutated only by the queue engine.
type Job struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	SourceName  string    `json:"source_name,omitempty"`
	TotalItems  int       `json:"total_items"`
	ParentJobID *string   `json:"parent_job_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// JobItem is the smallest schedulable unit of processing and the
// target of retry/backoff bookkeeping.
type JobItem struct {
	ID           string     `json:"id"`
	JobID        string     `json:"job_id"`
	TargetURL    string     `json:"target_url"`
	Status       string     `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	RetryCount   int        `json:"retry_count"`
	NotBefore    *time.Time `json:"not_before,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// JobStats is a per-job item status breakdown from a bulk query.
type JobStats struct {
	JobID      string `json:"job_id"`
	Pending    int    `json:"pending"`
	InProgress int    `json:"in_progress"`
	Complete   int    `json:"complete"`
	Error      int    `json:"error"`
	Total      int    `json:"total"`
}

// Bookmark is a captured page after pipeline processing. It is the
// persistence target of the pipeline and the export source for sync.
type Bookmark struct {
	ID            string    `json:"id"`
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	Excerpt       string    `json:"excerpt"`
	QA            []QAPair  `json:"qa,omitempty"`
	Embedding     []float64 `json:"embedding,omitempty"`
	ThumbnailPath string    `json:"thumbnail_path,omitempty"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// QAPair is one generated question/answer for a bookmark.
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// SnapshotVersion is the current wire version of Snapshot.
const SnapshotVersion = 1

// Snapshot is the versioned payload exchanged with the remote store.
type Snapshot struct {
	Version    int        `json:"version"`
	ExportedAt time.Time  `json:"exported_at"`
	ItemCount  int        `json:"item_count"`
	Items      []Bookmark `json:"items"`
}

// SyncState is the single persisted row anchoring debounce and the
// last sync outcome. Whether a sync is running is derived from the
// "remote-sync" lock, not stored here.
type SyncState struct {
	LastSyncTime    *time.Time `json:"last_sync_time,omitempty"`
	LastSyncError   *string    `json:"last_sync_error,omitempty"`
	LastAttemptTime *time.Time `json:"last_attempt_time,omitempty"`
}
