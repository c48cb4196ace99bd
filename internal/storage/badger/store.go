// Package badger provides the embedded default crawler.Store, backed by
// badgerhold on top of Badger.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/winerank-crawler/internal/checkpoint"
	"github.com/JakeFAU/winerank-crawler/internal/crawler"
)

// Config controls where the database lives.
type Config struct {
	Dir string
}

// checkpointRecord keeps the checkpoint in its JSON envelope so the stored
// layout matches every other backend.
type checkpointRecord struct {
	JobID     string
	Payload   []byte
	UpdatedAt time.Time
}

// Store implements crawler.Store.
type Store struct {
	store  *badgerhold.Store
	logger *zap.Logger
}

// Open creates the directory if needed and opens the database.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("storage.badger_dir is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create badger directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = cfg.Dir
	options.ValueDir = cfg.Dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	logger.Debug("badger store opened", zap.String("dir", cfg.Dir))
	return &Store{store: store, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close badger database: %w", err)
	}
	return nil
}

// CreateJob inserts a new job; an existing ID is an error.
func (s *Store) CreateJob(_ context.Context, job crawler.Job) error {
	if err := s.store.Insert(job.ID, job); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus rewrites status, error text and counters in one transaction.
func (s *Store) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	err := s.store.Badger().Update(func(tx *badger.Txn) error {
		var job crawler.Job
		if err := s.store.TxGet(tx, jobID, &job); err != nil {
			return err
		}
		job.Status = status
		job.ErrorText = errText
		job.Counters = counters
		now := time.Now().UTC()
		switch {
		case status == crawler.JobStatusRunning:
			if job.StartedAt == nil {
				job.StartedAt = &now
			}
			job.FinishedAt = nil
		case status.Finished():
			job.FinishedAt = &now
		}
		return s.store.TxUpdate(tx, jobID, job)
	})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	var job crawler.Job
	if err := s.store.Get(jobID, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return crawler.Job{}, fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
		}
		return crawler.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns up to limit jobs, newest first.
func (s *Store) ListJobs(_ context.Context, limit int) ([]crawler.Job, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	var jobs []crawler.Job
	if err := s.store.Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// LoadCheckpoint reads the checkpoint for a job.
func (s *Store) LoadCheckpoint(_ context.Context, jobID string) (crawler.Checkpoint, bool, error) {
	var rec checkpointRecord
	if err := s.store.Get(jobID, &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return crawler.Checkpoint{}, false, nil
		}
		return crawler.Checkpoint{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	cp, err := checkpoint.Decode(rec.Payload)
	if err != nil {
		return crawler.Checkpoint{}, false, err
	}
	return cp, true, nil
}

// SaveCheckpoint replaces the checkpoint in a single write.
func (s *Store) SaveCheckpoint(_ context.Context, jobID string, cp crawler.Checkpoint) error {
	payload, err := checkpoint.Encode(cp)
	if err != nil {
		return err
	}
	rec := checkpointRecord{JobID: jobID, Payload: payload, UpdatedAt: time.Now().UTC()}
	if err := s.store.Upsert(jobID, rec); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// UpsertEntity inserts or replaces an entity.
func (s *Store) UpsertEntity(_ context.Context, entity crawler.Entity) error {
	if entity.ID == "" {
		return fmt.Errorf("entity id is required")
	}
	if entity.UpdatedAt.IsZero() {
		entity.UpdatedAt = time.Now().UTC()
	}
	if err := s.store.Upsert(entity.ID, entity); err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}
	return nil
}

// GetEntity fetches an entity by ID.
func (s *Store) GetEntity(_ context.Context, id string) (crawler.Entity, error) {
	var entity crawler.Entity
	if err := s.store.Get(id, &entity); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return crawler.Entity{}, fmt.Errorf("entity %s: %w", id, crawler.ErrNotFound)
		}
		return crawler.Entity{}, fmt.Errorf("get entity: %w", err)
	}
	return entity, nil
}

// FindEntities matches a case-insensitive substring of the name, ordered by name.
func (s *Store) FindEntities(_ context.Context, name string) ([]crawler.Entity, error) {
	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(name))
	if err != nil {
		return nil, fmt.Errorf("compile name pattern: %w", err)
	}
	var entities []crawler.Entity
	if err := s.store.Find(&entities, badgerhold.Where("Name").RegExp(re).SortBy("Name", "ID")); err != nil {
		return nil, fmt.Errorf("find entities: %w", err)
	}
	return entities, nil
}
