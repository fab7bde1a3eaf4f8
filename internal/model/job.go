package model

import "time"

// Job status
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusError      JobStatus = "error"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// Job represents one tracked transcription request. The ID and RequestID are
// set at creation and never change; all other fields are written only by the
// job's own worker.
type Job struct {
	ID        string            `json:"jobId"`
	Status    JobStatus         `json:"status"`
	StartedAt *time.Time        `json:"startedAt,omitempty"`
	EndedAt   *time.Time        `json:"endedAt,omitempty"`
	Progress  float64           `json:"progress"`
	Message   string            `json:"message"`
	Result    *TranscriptResult `json:"result,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
}
