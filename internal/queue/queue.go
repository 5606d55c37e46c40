package queue

import (
	"context"
	"time"
)

// JobStatus represents the status of a dispatch job in the queue
type JobStatus string

const (
	StatusScheduled JobStatus = "scheduled"
	StatusRunning   JobStatus = "running"
	StatusDone      JobStatus = "done"
	StatusFailed    JobStatus = "failed"
)

// Job is one scheduled campaign dispatch run.
type Job struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaign_id"`
	OrgID      string    `json:"org_id"`
	RunAt      time.Time `json:"run_at"`
	Status     JobStatus `json:"status"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Stats represents queue statistics
type Stats struct {
	Scheduled int64 `json:"scheduled"`
	Running   int64 `json:"running"`
	Done      int64 `json:"done"`
	Failed    int64 `json:"failed"`
	Total     int64 `json:"total"`
}

// Queue defines the interface for dispatch job queue operations
type Queue interface {
	// Enqueue adds a job to the queue
	Enqueue(ctx context.Context, job *Job) error

	// Dequeue gets the next due job, marking it running.
	// Returns nil, nil when nothing is due.
	Dequeue(ctx context.Context) (*Job, error)

	// Update updates the job status
	Update(ctx context.Context, job *Job) error

	// Get retrieves a job by ID
	Get(ctx context.Context, id string) (*Job, error)

	// DeleteByCampaign removes any queued jobs for a campaign
	DeleteByCampaign(ctx context.Context, campaignID string) error

	// Stats returns queue statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close closes the storage connection
	Close() error
}
