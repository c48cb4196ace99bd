// Package checkpoint serializes every write of a job's Checkpoint through a
// single-writer Ledger.
package checkpoint

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
)

// Ledger owns the in-memory Checkpoint of one running job. Each mutation
// builds a new value, saves it synchronously, and only then replaces the
// current value, so a failed save leaves the persisted and in-memory views
// equal.
type Ledger struct {
	mu     sync.Mutex
	store  crawler.CheckpointStore
	jobID  string
	cp     crawler.Checkpoint
	logger *zap.Logger
}

// NewLedger wraps a starting checkpoint.
func NewLedger(store crawler.CheckpointStore, cp crawler.Checkpoint, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, jobID: cp.JobID, cp: cp.Clone(), logger: logger}
}

// Snapshot returns a copy of the current checkpoint.
func (l *Ledger) Snapshot() crawler.Checkpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cp.Clone()
}

// Persist replaces the checkpoint wholesale. The listing walker uses it when a
// new page is loaded.
func (l *Ledger) Persist(ctx context.Context, cp crawler.Checkpoint) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commit(ctx, cp)
}

// RecordStage saves the workflow position of the entity at index.
func (l *Ledger) RecordStage(ctx context.Context, index int, state crawler.StageState) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cp.IsCompleted(index) {
		return nil
	}
	return l.commit(ctx, l.cp.WithStage(index, state))
}

// Complete marks index finished and folds its result into the counters.
// Completing an index twice is a no-op.
func (l *Ledger) Complete(ctx context.Context, index int, result crawler.EntityResult) (crawler.Checkpoint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cp.IsCompleted(index) {
		return l.cp.Clone(), nil
	}
	if err := l.commit(ctx, l.cp.WithCompleted(index, result)); err != nil {
		return l.cp.Clone(), err
	}
	l.logger.Debug("entity completed",
		zap.String("job_id", l.jobID),
		zap.Int("page", l.cp.Page),
		zap.Int("index", index),
		zap.Int("next_index", l.cp.NextIndex),
	)
	return l.cp.Clone(), nil
}

func (l *Ledger) commit(ctx context.Context, next crawler.Checkpoint) error {
	next.JobID = l.jobID
	if err := l.store.SaveCheckpoint(ctx, l.jobID, next); err != nil {
		return fmt.Errorf("%w: save checkpoint for job %s: %w", crawler.ErrCheckpointPersist, l.jobID, err)
	}
	l.cp = next.Clone()
	return nil
}
