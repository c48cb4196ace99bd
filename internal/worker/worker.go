// Package worker runs one entity through the workflow and reports every
// transition to the job's checkpoint ledger.
package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
	"github.com/JakeFAU/winerank-crawler/internal/metrics"
	"github.com/JakeFAU/winerank-crawler/internal/workflow"
)

// Runner drives a single entity. *workflow.Engine implements it.
type Runner interface {
	Run(ctx context.Context, task crawler.EntityTask, record workflow.Recorder) (crawler.EntityResult, error)
}

// Ledger is the subset of checkpoint.Ledger a worker writes to.
type Ledger interface {
	RecordStage(ctx context.Context, index int, state crawler.StageState) error
	Complete(ctx context.Context, index int, result crawler.EntityResult) (crawler.Checkpoint, error)
}

// Worker executes entity tasks.
type Worker struct {
	runner Runner
	logger *zap.Logger
}

// New constructs a Worker.
func New(runner Runner, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{runner: runner, logger: logger}
}

// Process runs task to completion and marks its index complete. The returned
// error is fatal to the job: a checkpoint write failed or ctx was canceled
// mid-entity.
func (w *Worker) Process(ctx context.Context, ledger Ledger, task crawler.EntityTask) (crawler.EntityResult, error) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	w.logger.Debug("entity started",
		zap.String("job_id", task.JobID),
		zap.String("entity_id", task.Ref.ID),
		zap.Int("index", task.Index),
		zap.Bool("resumed", task.Resume != nil),
	)

	record := func(ctx context.Context, state crawler.StageState) error {
		return ledger.RecordStage(ctx, task.Index, state)
	}
	result, err := w.runner.Run(ctx, task, record)
	if err != nil {
		return crawler.EntityResult{}, fmt.Errorf("run entity %s: %w", task.Ref.ID, err)
	}
	if result.EntityID == "" {
		result.EntityID = task.Ref.ID
	}
	if _, err := ledger.Complete(ctx, task.Index, result); err != nil {
		return result, fmt.Errorf("complete entity %s: %w", task.Ref.ID, err)
	}
	return result, nil
}
