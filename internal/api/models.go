package api

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Common request/response structures

// EnqueueJobRequest defines the payload for enqueuing a background job.
type EnqueueJobRequest struct {
	Kind    string          `json:"kind"     validate:"required"`
	Payload json.RawMessage `json:"payload,omitempty"`
	BatchID string          `json:"batch_id,omitempty" validate:"omitempty,max=255"`
}

// EnqueueJobResponse is returned after a job is enqueued. For a batch-keyed
// enqueue that matched an existing job, JobID is the existing job's ID.
type EnqueueJobResponse struct {
	JobID   uuid.UUID `json:"job_id"`
	Kind    string    `json:"kind"`
	Status  string    `json:"status"`
	BatchID string    `json:"batch_id,omitempty"`
}

// RunJobsRequest triggers a processing cycle over the caller's queued jobs.
type RunJobsRequest struct {
	Kinds           []string `json:"kinds,omitempty"    validate:"omitempty,dive,required"`
	BatchID         string   `json:"batch_id,omitempty" validate:"omitempty,max=255"`
	MaxJobs         int      `json:"max_jobs,omitempty" validate:"omitempty,gt=0,lte=500"`
	IncludeRetrying bool     `json:"include_retrying,omitempty"`
	ResetStuck      bool     `json:"reset_stuck,omitempty"`
}

// RetryErrorsRequest requeues failed jobs selected through their error
// records. Either error_ids or retry_all must be provided.
type RetryErrorsRequest struct {
	ErrorIDs           []uuid.UUID `json:"error_ids,omitempty"`
	RetryAll           bool        `json:"retry_all,omitempty"`
	Provider           string      `json:"provider,omitempty"      validate:"omitempty,max=64"`
	Category           string      `json:"category,omitempty"      validate:"omitempty,max=64"`
	Strategy           string      `json:"strategy,omitempty"      validate:"omitempty,oneof=immediate delayed smart"`
	MaxRetries         int         `json:"max_retries,omitempty"   validate:"omitempty,gt=0,lte=100"`
	DelayMinutes       int         `json:"delay_minutes,omitempty" validate:"omitempty,gt=0,lte=10080"`
	IncludeAuthRefresh bool        `json:"include_auth_refresh,omitempty"`
}

// ResolveErrorResponse confirms that an error record was marked resolved.
type ResolveErrorResponse struct {
	ErrorID  uuid.UUID `json:"error_id"`
	Resolved bool      `json:"resolved"`
}
