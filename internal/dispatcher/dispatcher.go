// Package dispatcher fans the pending entities of one listing page out to a
// bounded pool of workers.
package dispatcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
	"github.com/JakeFAU/winerank-crawler/internal/worker"
)

// Processor runs one task. *worker.Worker implements it.
type Processor interface {
	Process(ctx context.Context, ledger worker.Ledger, task crawler.EntityTask) (crawler.EntityResult, error)
}

// Dispatcher bounds the number of entities processed concurrently.
type Dispatcher struct {
	processor   Processor
	concurrency int
	logger      *zap.Logger
}

// New creates a Dispatcher. Concurrency below one is treated as one.
func New(processor Processor, concurrency int, logger *zap.Logger) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{processor: processor, concurrency: concurrency, logger: logger}
}

// Concurrency returns the pool size.
func (d *Dispatcher) Concurrency() int {
	return d.concurrency
}

// Run dispatches tasks in order and waits for every started task. Once stop
// is done no further task is started, while started tasks run on a context
// detached from stop so they can finish. The first fatal task error cancels
// the remaining tasks and is returned. dispatched counts started tasks.
func (d *Dispatcher) Run(
	stop context.Context,
	ledger worker.Ledger,
	tasks []crawler.EntityTask,
) (dispatched int, err error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(stop))
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	slots := make(chan struct{}, d.concurrency)

dispatch:
	for _, task := range tasks {
		if stop.Err() != nil || gctx.Err() != nil {
			break
		}
		select {
		case slots <- struct{}{}:
		case <-stop.Done():
			break dispatch
		case <-gctx.Done():
			break dispatch
		}
		if stop.Err() != nil || gctx.Err() != nil {
			<-slots
			break
		}
		dispatched++
		g.Go(func() error {
			defer func() { <-slots }()
			if _, err := d.processor.Process(gctx, ledger, task); err != nil {
				cancel()
				return fmt.Errorf("entity index %d: %w", task.Index, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		d.logger.Error("worker pool halted", zap.Int("dispatched", dispatched), zap.Error(err))
		return dispatched, err
	}
	if dispatched < len(tasks) {
		d.logger.Info("dispatch stopped early",
			zap.Int("dispatched", dispatched),
			zap.Int("remaining", len(tasks)-dispatched),
		)
	}
	return dispatched, nil
}
