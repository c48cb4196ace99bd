// Package memory keeps jobs, checkpoints, entities and blobs in process
// memory. It backs tests and dry runs.
package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
)

// Store implements crawler.Store.
type Store struct {
	mu          sync.RWMutex
	jobs        map[string]crawler.Job
	checkpoints map[string]crawler.Checkpoint
	entities    map[string]crawler.Entity
	upserts     int
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		jobs:        make(map[string]crawler.Job),
		checkpoints: make(map[string]crawler.Checkpoint),
		entities:    make(map[string]crawler.Entity),
	}
}

// CreateJob stores a new job.
func (s *Store) CreateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus updates the status, error text and counters for a job.
func (s *Store) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	now := time.Now().UTC()
	switch {
	case status == crawler.JobStatusRunning:
		if job.StartedAt == nil {
			job.StartedAt = pointerTime(now)
		}
		job.FinishedAt = nil
	case status.Finished():
		job.FinishedAt = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	return job, nil
}

// ListJobs returns up to limit jobs, newest first.
func (s *Store) ListJobs(_ context.Context, limit int) ([]crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	slices.SortFunc(out, func(a, b crawler.Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LoadCheckpoint returns a copy of the stored checkpoint.
func (s *Store) LoadCheckpoint(_ context.Context, jobID string) (crawler.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[jobID]
	if !ok {
		return crawler.Checkpoint{}, false, nil
	}
	return cp.Clone(), true, nil
}

// SaveCheckpoint replaces the stored checkpoint.
func (s *Store) SaveCheckpoint(_ context.Context, jobID string, cp crawler.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[jobID] = cp.Clone()
	return nil
}

// UpsertEntity inserts or replaces an entity.
func (s *Store) UpsertEntity(_ context.Context, entity crawler.Entity) error {
	if entity.ID == "" {
		return errors.New("entity id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[entity.ID] = entity
	s.upserts++
	return nil
}

// GetEntity fetches an entity by ID.
func (s *Store) GetEntity(_ context.Context, id string) (crawler.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entity, ok := s.entities[id]
	if !ok {
		return crawler.Entity{}, fmt.Errorf("entity %s: %w", id, crawler.ErrNotFound)
	}
	return entity, nil
}

// FindEntities matches a case-insensitive substring of the name, ordered by name.
func (s *Store) FindEntities(_ context.Context, name string) ([]crawler.Entity, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Entity
	for _, entity := range s.entities {
		if strings.Contains(strings.ToLower(entity.Name), needle) {
			out = append(out, entity)
		}
	}
	slices.SortFunc(out, func(a, b crawler.Entity) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// Upserts returns the number of entity writes seen so far.
func (s *Store) Upserts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upserts
}

// Close implements crawler.Store.
func (s *Store) Close() error {
	return nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
