package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openscribe/api/internal/model"
	"github.com/openscribe/api/internal/store"
)

// Task types
const (
	TaskTypeTranscribe = "transcribe:process"
)

// QueueTranscribe is the asynq queue transcription tasks go to.
const QueueTranscribe = "transcribe"

// Enqueuer is the slice of *asynq.Client the service needs.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TranscribePayload is the task payload handed to the worker. InputPath is a
// server-local temp file owned by the worker once the task is enqueued.
type TranscribePayload struct {
	JobID     string                  `json:"jobId"`
	InputPath string                  `json:"inputPath"`
	Options   model.TranscribeOptions `json:"options"`
}

// TranscribeService creates jobs and schedules them for background
// processing. Job state lives in the in-memory store; asynq only carries the
// task payload, so a task is never retried into a store that no longer knows
// the job.
type TranscribeService struct {
	store  *store.Store
	client Enqueuer
}

func NewTranscribeService(jobs *store.Store, client Enqueuer) *TranscribeService {
	return &TranscribeService{
		store:  jobs,
		client: client,
	}
}

// Submit registers a new job and enqueues its processing task. The returned
// job is already visible to status polling before Submit returns.
func (s *TranscribeService) Submit(ctx context.Context, inputPath string, opts model.TranscribeOptions) (*model.Job, error) {
	job := s.store.Create(opts.RequestID)

	payload, err := json.Marshal(TranscribePayload{
		JobID:     job.ID,
		InputPath: inputPath,
		Options:   opts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	task := asynq.NewTask(TaskTypeTranscribe, payload)
	_, err = s.client.Enqueue(task,
		asynq.Queue(QueueTranscribe),
		asynq.MaxRetry(0),
	)
	if err != nil {
		// The job exists already; record the failure so polls see it.
		now := time.Now()
		status := model.JobStatusError
		msg := "failed to schedule job"
		s.store.Apply(job.ID, store.Update{
			Status:  &status,
			EndedAt: &now,
			Message: &msg,
		})
		log.Printf("Failed to enqueue transcribe task for job %s: %v", job.ID, err)
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return job, nil
}

// Status returns the current snapshot of a job.
func (s *TranscribeService) Status(jobID string) (*model.Job, error) {
	return s.store.Get(jobID)
}
