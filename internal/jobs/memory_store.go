package jobs

import (
	"context"
	"sync"
	"time"
)

// MemoryJobStore is an in-process job ledger for local development, pairing
// with MemoryQueue the way JobStore pairs with SQS.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*JobRecord
}

// NewMemoryJobStore creates an empty in-memory job store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*JobRecord)}
}

// PutPending registers a new job as pending.
func (s *MemoryJobStore) PutPending(_ context.Context, job *JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.JobID] = &cp
	return nil
}

// GetJob returns a job record or ErrJobNotFound.
func (s *MemoryJobStore) GetJob(_ context.Context, jobID string) (*JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

// MarkCompleted records a successful run.
func (s *MemoryJobStore) MarkCompleted(_ context.Context, jobID string, attempts int) error {
	return s.update(jobID, JobStatusCompleted, attempts, "")
}

// MarkFailed records a permanent failure.
func (s *MemoryJobStore) MarkFailed(_ context.Context, jobID string, attempts int, errMsg string) error {
	return s.update(jobID, JobStatusFailed, attempts, errMsg)
}

func (s *MemoryJobStore) update(jobID string, status JobStatus, attempts int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = status
	job.Attempts = attempts
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return nil
}
