package store

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openscribe/api/internal/model"
)

// ErrJobNotFound is returned when a job identifier is unknown.
var ErrJobNotFound = errors.New("job not found")

// Store is an in-memory registry of jobs keyed by job ID. All operations are
// safe under concurrent use from the submission path, workers, and poll
// reads. Construct one at the composition root and inject it; there is no
// package-level instance.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

func New() *Store {
	return &Store{jobs: make(map[string]*model.Job)}
}

// Update describes a partial field assignment. Nil fields are left untouched
// so two interleaved updates to different fields both land.
type Update struct {
	Status    *model.JobStatus
	StartedAt *time.Time
	EndedAt   *time.Time
	Progress  *float64
	Message   *string
	Result    *model.TranscriptResult
}

// Create registers a new job in queued state with a fresh identifier.
func (s *Store) Create(requestID string) *model.Job {
	job := &model.Job{
		ID:        uuid.New().String(),
		Status:    model.JobStatusQueued,
		RequestID: requestID,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	snapshot := *job
	return &snapshot
}

// Get returns a snapshot of the job, or ErrJobNotFound.
func (s *Store) Get(id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	snapshot := *job
	return &snapshot, nil
}

// Apply applies the given field assignments to the job. Unknown identifiers
// are a no-op.
func (s *Store) Apply(id string, upd Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return
	}
	if upd.Status != nil {
		job.Status = *upd.Status
	}
	if upd.StartedAt != nil {
		job.StartedAt = upd.StartedAt
	}
	if upd.EndedAt != nil {
		job.EndedAt = upd.EndedAt
	}
	if upd.Progress != nil {
		job.Progress = *upd.Progress
	}
	if upd.Message != nil {
		job.Message = *upd.Message
	}
	if upd.Result != nil {
		job.Result = upd.Result
	}
}

// Len returns the number of jobs currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Sweep evicts terminal jobs that ended more than retention ago and returns
// how many were removed. In-flight jobs are never touched.
func (s *Store) Sweep(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if !job.Status.Terminal() {
			continue
		}
		if job.EndedAt != nil && job.EndedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}
