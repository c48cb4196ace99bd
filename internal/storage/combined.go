// Package storage composes persistence backends into one crawler.Store.
package storage

import (
	"context"
	"errors"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
)

// CheckpointBackend is a CheckpointStore that owns a connection.
type CheckpointBackend interface {
	crawler.CheckpointStore
	Close() error
}

// Combined serves jobs and entities from one Store and checkpoints from
// another backend.
type Combined struct {
	crawler.Store
	checkpoints CheckpointBackend
}

// Combine overrides the checkpoint methods of base. A nil override returns
// base unchanged.
func Combine(base crawler.Store, checkpoints CheckpointBackend) crawler.Store {
	if checkpoints == nil {
		return base
	}
	return &Combined{Store: base, checkpoints: checkpoints}
}

// LoadCheckpoint delegates to the checkpoint backend.
func (c *Combined) LoadCheckpoint(ctx context.Context, jobID string) (crawler.Checkpoint, bool, error) {
	return c.checkpoints.LoadCheckpoint(ctx, jobID)
}

// SaveCheckpoint delegates to the checkpoint backend.
func (c *Combined) SaveCheckpoint(ctx context.Context, jobID string, cp crawler.Checkpoint) error {
	return c.checkpoints.SaveCheckpoint(ctx, jobID, cp)
}

// Close closes both backends.
func (c *Combined) Close() error {
	return errors.Join(c.checkpoints.Close(), c.Store.Close())
}
