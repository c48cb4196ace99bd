// Package jobs starts, resumes and reports crawl jobs. A Controller owns the
// loop that walks listing pages and hands each page to the worker pool.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/winerank-crawler/internal/breaker"
	"github.com/JakeFAU/winerank-crawler/internal/checkpoint"
	"github.com/JakeFAU/winerank-crawler/internal/crawler"
	"github.com/JakeFAU/winerank-crawler/internal/dispatcher"
	"github.com/JakeFAU/winerank-crawler/internal/listing"
	"github.com/JakeFAU/winerank-crawler/internal/metrics"
	"github.com/JakeFAU/winerank-crawler/internal/worker"
)

// ErrAmbiguousEntity is returned when a name query matches several entities
// and none of them exactly.
var ErrAmbiguousEntity = errors.New("entity query is ambiguous")

// Deps groups the collaborators a Controller consumes.
type Deps struct {
	Store  crawler.Store
	Source crawler.ListingSource
	Runner worker.Runner
	IDs    crawler.IDGenerator
	Clock  crawler.Clock
}

// Config controls how jobs run.
type Config struct {
	Concurrency       int
	BreakerThreshold  int
	PauseBetweenPages time.Duration
	Retry             crawler.RetryPolicy
}

// Options are per-run parameters that are not persisted with the job.
type Options struct {
	// Force recrawls entities that already have an artifact.
	Force bool
}

// Report is a job together with its latest checkpoint.
type Report struct {
	Job        crawler.Job
	Checkpoint *crawler.Checkpoint
}

// Controller coordinates the listing walker, the checkpoint ledger and the
// worker pool for one job at a time.
type Controller struct {
	store      crawler.Store
	source     crawler.ListingSource
	dispatcher *dispatcher.Dispatcher
	ids        crawler.IDGenerator
	clock      crawler.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Controller.
func New(deps Deps, cfg Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = breaker.DefaultThreshold
	}
	if cfg.Retry == nil {
		cfg.Retry = crawler.NewExponentialRetryPolicy()
	}
	return &Controller{
		store:      deps.Store,
		source:     deps.Source,
		dispatcher: dispatcher.New(worker.New(deps.Runner, logger), cfg.Concurrency, logger),
		ids:        deps.IDs,
		clock:      deps.Clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// Start creates a job for scope and runs it until the listing is exhausted,
// ctx is canceled or the job fails. A single-entity scope must name an entity
// already in the store.
func (c *Controller) Start(ctx context.Context, scope crawler.Scope, opts Options) (crawler.Job, error) {
	id, err := c.ids.NewID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	cp := crawler.NewCheckpoint(id)
	if scope.SingleEntity() {
		entity, err := c.store.GetEntity(ctx, scope.EntityID)
		if err != nil {
			return crawler.Job{}, fmt.Errorf("load entity %s: %w", scope.EntityID, err)
		}
		cp = listing.SeedSingle(cp, crawler.EntityRef{ID: entity.ID, SourceURL: entity.SourceURL})
	}

	job := crawler.Job{
		ID:        id,
		Status:    crawler.JobStatusPending,
		CreatedAt: c.clock.Now(),
		Scope:     scope,
	}
	if err := c.store.CreateJob(ctx, job); err != nil {
		return crawler.Job{}, fmt.Errorf("create job: %w", err)
	}
	if err := c.store.SaveCheckpoint(ctx, id, cp); err != nil {
		return job, fmt.Errorf("%w: seed checkpoint for job %s: %w", crawler.ErrCheckpointPersist, id, err)
	}
	c.logger.Info("job created", zap.String("job_id", id), zap.String("scope", scope.String()))
	return c.run(ctx, job, cp, opts)
}

// Resume continues a job from its persisted checkpoint. Completed jobs are
// not resumable. A job without a checkpoint starts from the first page.
func (c *Controller) Resume(ctx context.Context, jobID string, opts Options) (crawler.Job, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status == crawler.JobStatusCompleted {
		return job, fmt.Errorf("%w: job %s is %s", crawler.ErrNotResumable, jobID, job.Status)
	}
	cp, ok, err := c.store.LoadCheckpoint(ctx, jobID)
	if err != nil {
		return job, fmt.Errorf("load checkpoint for job %s: %w", jobID, err)
	}
	if !ok {
		cp = crawler.NewCheckpoint(jobID)
		if job.Scope.SingleEntity() {
			entity, err := c.store.GetEntity(ctx, job.Scope.EntityID)
			if err != nil {
				return job, fmt.Errorf("load entity %s: %w", job.Scope.EntityID, err)
			}
			cp = listing.SeedSingle(cp, crawler.EntityRef{ID: entity.ID, SourceURL: entity.SourceURL})
		}
	}
	c.logger.Info("job resumed",
		zap.String("job_id", jobID),
		zap.String("previous_status", string(job.Status)),
		zap.Int("page", cp.Page),
		zap.Int("next_index", cp.NextIndex),
	)
	return c.run(ctx, job, cp, opts)
}

// Status returns a job and its checkpoint, if one was saved.
func (c *Controller) Status(ctx context.Context, jobID string) (Report, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return Report{}, fmt.Errorf("load job %s: %w", jobID, err)
	}
	return c.report(ctx, job)
}

// Recent lists the newest jobs first, each with its checkpoint.
func (c *Controller) Recent(ctx context.Context, limit int) ([]Report, error) {
	list, err := c.store.ListJobs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := make([]Report, 0, len(list))
	for _, job := range list {
		report, err := c.report(ctx, job)
		if err != nil {
			return nil, err
		}
		out = append(out, report)
	}
	return out, nil
}

// report attaches the job's checkpoint. The checkpoint is saved after every
// entity while the job record is only written at run boundaries, so its
// counters replace the job's.
func (c *Controller) report(ctx context.Context, job crawler.Job) (Report, error) {
	report := Report{Job: job}
	cp, ok, err := c.store.LoadCheckpoint(ctx, job.ID)
	if err != nil {
		return report, fmt.Errorf("load checkpoint for job %s: %w", job.ID, err)
	}
	if ok {
		report.Checkpoint = &cp
		report.Job.Counters = cp.Counters
	}
	return report, nil
}

// FindEntity resolves query as an entity ID, then as a name. An exact
// case-insensitive name match wins over partial matches.
func (c *Controller) FindEntity(ctx context.Context, query string) (crawler.Entity, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return crawler.Entity{}, fmt.Errorf("%w: empty entity query", crawler.ErrNotFound)
	}
	entity, err := c.store.GetEntity(ctx, query)
	if err == nil {
		return entity, nil
	}
	if !errors.Is(err, crawler.ErrNotFound) {
		return crawler.Entity{}, fmt.Errorf("get entity %s: %w", query, err)
	}

	matches, err := c.store.FindEntities(ctx, query)
	if err != nil {
		return crawler.Entity{}, fmt.Errorf("find entities %q: %w", query, err)
	}
	switch len(matches) {
	case 0:
		return crawler.Entity{}, fmt.Errorf("%w: no entity matches %q", crawler.ErrNotFound, query)
	case 1:
		return matches[0], nil
	}
	for _, m := range matches {
		if strings.EqualFold(m.Name, query) {
			return m, nil
		}
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m.Name)
	}
	return crawler.Entity{}, fmt.Errorf("%w: %q matches %s", ErrAmbiguousEntity, query, strings.Join(names, ", "))
}

// run drives job from cp and records its final status. The final status is
// written on a context detached from ctx so an interrupt still lands as
// PAUSED. FAILED jobs return the cause alongside the stored job.
func (c *Controller) run(ctx context.Context, job crawler.Job, cp crawler.Checkpoint, opts Options) (crawler.Job, error) {
	logger := c.logger.With(zap.String("job_id", job.ID))
	if err := c.store.UpdateJobStatus(ctx, job.ID, crawler.JobStatusRunning, "", cp.Counters); err != nil {
		return job, fmt.Errorf("mark job %s running: %w", job.ID, err)
	}
	metrics.ObserveJob(string(crawler.JobStatusRunning))

	ledger := checkpoint.NewLedger(c.store, cp, logger)
	walker := listing.NewWalker(
		c.source,
		job.Scope,
		breaker.New(c.cfg.BreakerThreshold),
		c.cfg.Retry,
		listing.Config{PauseBetweenPages: c.cfg.PauseBetweenPages},
		logger,
	)
	runErr := c.loop(ctx, job.ID, ledger, walker, opts)

	final := context.WithoutCancel(ctx)
	snapshot := ledger.Snapshot()
	status, errText := classify(ctx, runErr)
	if err := c.store.UpdateJobStatus(final, job.ID, status, errText, snapshot.Counters); err != nil {
		return job, errors.Join(runErr, fmt.Errorf("mark job %s %s: %w", job.ID, status, err))
	}
	metrics.ObserveJob(string(status))

	stored, err := c.store.GetJob(final, job.ID)
	if err != nil {
		return job, errors.Join(runErr, fmt.Errorf("reload job %s: %w", job.ID, err))
	}
	logger.Info("job finished",
		zap.String("status", string(status)),
		zap.Int("page", snapshot.Page),
		zap.Int("next_index", snapshot.NextIndex),
		zap.Int("seen", snapshot.Counters.Seen),
		zap.Int("succeeded", snapshot.Counters.Succeeded),
		zap.Int("failed", snapshot.Counters.Failed),
		zap.Int("not_found", snapshot.Counters.NotFound),
		zap.Int("skipped", snapshot.Counters.Skipped),
	)
	if status == crawler.JobStatusFailed {
		logger.Error("job failed", zap.Error(runErr))
		return stored, runErr
	}
	return stored, nil
}

func (c *Controller) loop(
	ctx context.Context,
	jobID string,
	ledger *checkpoint.Ledger,
	walker *listing.Walker,
	opts Options,
) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		cp, more, err := walker.NextPage(ctx, ledger.Snapshot(), ledger)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		tasks := buildTasks(jobID, cp, opts)
		if _, err := c.dispatcher.Run(ctx, ledger, tasks); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if after := ledger.Snapshot(); !after.Exhausted() {
			return fmt.Errorf("page %d left %d entities pending", after.Page, len(after.Pending()))
		}
	}
}

func buildTasks(jobID string, cp crawler.Checkpoint, opts Options) []crawler.EntityTask {
	pending := cp.Pending()
	tasks := make([]crawler.EntityTask, 0, len(pending))
	for _, idx := range pending {
		task := crawler.EntityTask{
			JobID: jobID,
			Index: idx,
			Ref:   cp.Entities[idx],
			Force: opts.Force,
		}
		if st, ok := cp.InFlight[idx]; ok {
			resume := st.Clone()
			task.Resume = &resume
		}
		tasks = append(tasks, task)
	}
	return tasks
}

// classify maps the loop result to the job's final status.
func classify(ctx context.Context, err error) (crawler.JobStatus, string) {
	switch {
	case err == nil:
		return crawler.JobStatusCompleted, ""
	case errors.Is(err, crawler.ErrCircuitOpen), errors.Is(err, crawler.ErrCheckpointPersist):
		return crawler.JobStatusFailed, err.Error()
	case ctx.Err() != nil:
		return crawler.JobStatusPaused, ""
	default:
		return crawler.JobStatusFailed, err.Error()
	}
}
