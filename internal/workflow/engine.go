package workflow

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
	"github.com/JakeFAU/winerank-crawler/internal/metrics"
)

// SiteFinder runs tiered in-site discovery for an entity.
type SiteFinder interface {
	Find(ctx context.Context, entity crawler.Entity) (*crawler.Candidate, int, error)
}

// FallbackFinder searches the external index for an entity.
type FallbackFinder interface {
	Find(ctx context.Context, entity crawler.Entity) (*crawler.Candidate, error)
}

// Recorder persists a state transition before the engine continues.
type Recorder func(ctx context.Context, state crawler.StageState) error

// Config controls Engine behavior.
type Config struct {
	BlobPrefix string
	Topic      string
}

// Engine runs the per-entity state machine.
type Engine struct {
	entities   crawler.EntityStore
	source     crawler.ListingSource
	site       SiteFinder
	fallback   FallbackFinder
	downloader crawler.Downloader
	extractor  crawler.Extractor
	blobs      crawler.BlobStore
	publisher  crawler.Publisher
	clock      crawler.Clock
	cfg        Config
	logger     *zap.Logger
}

// Deps groups the collaborators an Engine consumes.
type Deps struct {
	Entities   crawler.EntityStore
	Source     crawler.ListingSource
	Site       SiteFinder
	Fallback   FallbackFinder
	Downloader crawler.Downloader
	Extractor  crawler.Extractor
	Blobs      crawler.BlobStore
	Publisher  crawler.Publisher
	Clock      crawler.Clock
}

// New constructs an Engine.
func New(deps Deps, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		entities:   deps.Entities,
		source:     deps.Source,
		site:       deps.Site,
		fallback:   deps.Fallback,
		downloader: deps.Downloader,
		extractor:  deps.Extractor,
		blobs:      deps.Blobs,
		publisher:  deps.Publisher,
		clock:      deps.Clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// run holds values that live only for one Run call.
type run struct {
	task   crawler.EntityTask
	entity crawler.Entity
	loaded bool
	data   []byte
}

// Run drives one entity from its start (or resumed) stage to DONE. Every
// transition is handed to record before the next stage starts. Entity-level
// failures are reported in the result; the returned error is reserved for
// conditions that must stop the job, such as a failed checkpoint write.
func (e *Engine) Run(ctx context.Context, task crawler.EntityTask, record Recorder) (crawler.EntityResult, error) {
	state := Start(task.Ref.ID)
	if task.Resume != nil && task.Resume.Stage != "" {
		state = task.Resume.Clone()
	}
	r := &run{task: task}
	logger := e.logger.With(zap.String("job_id", task.JobID), zap.String("entity_id", task.Ref.ID))

	for state.Stage != crawler.StageDone {
		outcome, scratch, err := e.step(ctx, r, state, logger)
		if err != nil {
			if ctx.Err() != nil {
				return crawler.EntityResult{}, fmt.Errorf("entity %s canceled at %s: %w", task.Ref.ID, state.Stage, ctx.Err())
			}
			logger.Warn("entity failed", zap.String("stage", string(state.Stage)), zap.Error(err))
			metrics.ObserveEntity("failed")
			return crawler.EntityResult{EntityID: task.Ref.ID, Err: err}, nil
		}
		state.Scratch = scratch
		next, err := Next(state, outcome)
		if err != nil {
			return crawler.EntityResult{}, err
		}
		if err := record(ctx, next); err != nil {
			return crawler.EntityResult{}, fmt.Errorf("%w: record %s: %w", crawler.ErrCheckpointPersist, next.Stage, err)
		}
		metrics.ObserveStageTransition(string(state.Stage), string(next.Stage))
		logger.Debug("stage transition",
			zap.String("from", string(state.Stage)),
			zap.String("to", string(next.Stage)),
			zap.String("outcome", string(outcome)),
		)
		state = next
	}

	result := crawler.EntityResult{
		EntityID: task.Ref.ID,
		Status:   state.Scratch.Status,
		Skipped:  state.Scratch.Skipped,
	}
	metrics.ObserveEntity(resultLabel(result))
	return result, nil
}

func (e *Engine) step(
	ctx context.Context,
	r *run,
	state crawler.StageState,
	logger *zap.Logger,
) (Outcome, crawler.Scratch, error) {
	scratch := state.Clone().Scratch
	if state.Stage != crawler.StageProcessEntity && !r.loaded {
		if err := e.loadEntity(ctx, r); err != nil {
			return "", scratch, err
		}
	}

	switch state.Stage {
	case crawler.StageProcessEntity:
		outcome, err := e.processEntity(ctx, r)
		return outcome, scratch, err
	case crawler.StageCrawlSite:
		return e.crawlSite(ctx, r, scratch)
	case crawler.StageSearchFallback:
		return e.searchFallback(ctx, r, scratch, logger)
	case crawler.StageDownload:
		return e.download(ctx, r, scratch, logger)
	case crawler.StageExtract:
		return e.extract(ctx, r, scratch, logger)
	case crawler.StageSave:
		return e.save(ctx, r, scratch, logger)
	default:
		return "", scratch, fmt.Errorf("%w: unknown stage %q", ErrInvalidTransition, state.Stage)
	}
}

func (e *Engine) loadEntity(ctx context.Context, r *run) error {
	entity, err := e.entities.GetEntity(ctx, r.task.Ref.ID)
	if err != nil {
		return fmt.Errorf("load entity: %w", err)
	}
	r.entity = entity
	r.loaded = true
	return nil
}

func (e *Engine) processEntity(ctx context.Context, r *run) (Outcome, error) {
	entity, err := e.entities.GetEntity(ctx, r.task.Ref.ID)
	switch {
	case err == nil:
	case errors.Is(err, crawler.ErrNotFound):
		entity, err = e.source.Resolve(ctx, r.task.Ref)
		if err != nil {
			return "", fmt.Errorf("resolve entity: %w", err)
		}
		entity.ID = r.task.Ref.ID
		if entity.CrawlStatus == "" {
			entity.CrawlStatus = crawler.CrawlStatusNotStarted
		}
		entity.UpdatedAt = e.clock.Now()
		if err := e.entities.UpsertEntity(ctx, entity); err != nil {
			return "", fmt.Errorf("upsert entity: %w", err)
		}
	default:
		return "", fmt.Errorf("get entity: %w", err)
	}
	r.entity = entity
	r.loaded = true

	if entity.CrawlStatus == crawler.CrawlStatusArtifactFound && !r.task.Force {
		return OutcomeSkip, nil
	}
	if strings.TrimSpace(entity.SiteURL) == "" {
		return OutcomeNoSite, nil
	}
	return OutcomeHasSite, nil
}

func (e *Engine) crawlSite(ctx context.Context, r *run, scratch crawler.Scratch) (Outcome, crawler.Scratch, error) {
	candidate, pages, err := e.site.Find(ctx, r.entity)
	scratch.PagesVisited += pages
	if err != nil {
		if ctx.Err() != nil {
			return "", scratch, err
		}
		// A site that cannot be crawled is a discovery miss.
		e.logger.Debug("site discovery failed", zap.String("entity_id", r.entity.ID), zap.Error(err))
		return OutcomeNotFound, scratch, nil
	}
	if candidate == nil {
		return OutcomeNotFound, scratch, nil
	}
	scratch.Candidate = candidate
	return OutcomeFound, scratch, nil
}

func (e *Engine) searchFallback(
	ctx context.Context,
	r *run,
	scratch crawler.Scratch,
	logger *zap.Logger,
) (Outcome, crawler.Scratch, error) {
	if scratch.FallbackAttempted || e.fallback == nil {
		return OutcomeNotFound, scratch, nil
	}
	candidate, err := e.fallback.Find(ctx, r.entity)
	if err != nil {
		if ctx.Err() != nil {
			return "", scratch, err
		}
		logger.Warn("fallback search failed", zap.Error(err))
		return OutcomeNotFound, scratch, nil
	}
	if candidate == nil {
		return OutcomeNotFound, scratch, nil
	}
	scratch.Candidate = candidate
	return OutcomeFound, scratch, nil
}

func (e *Engine) download(
	ctx context.Context,
	r *run,
	scratch crawler.Scratch,
	logger *zap.Logger,
) (Outcome, crawler.Scratch, error) {
	if scratch.Candidate == nil {
		return "", scratch, fmt.Errorf("download: no candidate recorded")
	}
	dl, err := e.downloader.Download(ctx, scratch.Candidate.URL)
	if err != nil {
		if ctx.Err() != nil {
			return "", scratch, err
		}
		logger.Warn("download failed", zap.String("url", scratch.Candidate.URL), zap.Error(err))
		return OutcomeFailure, scratch, nil
	}
	artifactPath := e.blobPath(r.entity.ID, dl.ContentHash, extensionFor(dl.MimeType, dl.URL))
	uri, err := e.blobs.PutObject(ctx, artifactPath, dl.MimeType, dl.Data)
	if err != nil {
		logger.Warn("store artifact failed", zap.String("path", artifactPath), zap.Error(err))
		return OutcomeFailure, scratch, nil
	}
	r.data = dl.Data
	scratch.ArtifactPath = artifactPath
	scratch.ArtifactURI = uri
	scratch.ContentHash = dl.ContentHash
	scratch.MimeType = dl.MimeType
	return OutcomeSuccess, scratch, nil
}

func (e *Engine) extract(
	ctx context.Context,
	r *run,
	scratch crawler.Scratch,
	logger *zap.Logger,
) (Outcome, crawler.Scratch, error) {
	data := r.data
	if data == nil {
		stored, err := e.blobs.GetObject(ctx, scratch.ArtifactPath)
		if err != nil {
			logger.Warn("reload artifact failed", zap.String("path", scratch.ArtifactPath), zap.Error(err))
			return OutcomeFailure, scratch, nil
		}
		data = stored
	}
	text, err := e.extractor.Extract(ctx, data, scratch.MimeType)
	if err != nil {
		if ctx.Err() != nil {
			return "", scratch, err
		}
		logger.Warn("extraction failed", zap.String("mime_type", scratch.MimeType), zap.Error(err))
		return OutcomeFailure, scratch, nil
	}
	textPath := e.blobPath(r.entity.ID, scratch.ContentHash, ".txt")
	uri, err := e.blobs.PutObject(ctx, textPath, "text/plain; charset=utf-8", []byte(text))
	if err != nil {
		logger.Warn("store text failed", zap.String("path", textPath), zap.Error(err))
		return OutcomeFailure, scratch, nil
	}
	scratch.TextURI = uri
	return OutcomeSuccess, scratch, nil
}

func (e *Engine) save(
	ctx context.Context,
	r *run,
	scratch crawler.Scratch,
	logger *zap.Logger,
) (Outcome, crawler.Scratch, error) {
	if scratch.Skipped {
		return OutcomeSaved, scratch, nil
	}
	now := e.clock.Now()
	entity := r.entity
	entity.CrawlStatus = scratch.Status
	entity.PagesVisited = scratch.PagesVisited
	entity.LastCrawledAt = &now
	entity.UpdatedAt = now

	// The artifact is retained when extraction fails after a successful download.
	if scratch.Candidate != nil && scratch.ArtifactURI != "" {
		entity.ArtifactURL = scratch.Candidate.URL
		entity.ArtifactHash = scratch.ContentHash
		entity.ArtifactURI = scratch.ArtifactURI
		entity.MimeType = scratch.MimeType
		entity.TextURI = scratch.TextURI
	}
	if err := e.entities.UpsertEntity(ctx, entity); err != nil {
		return "", scratch, fmt.Errorf("save entity: %w", err)
	}
	r.entity = entity

	if scratch.Status == crawler.CrawlStatusArtifactFound {
		e.publish(ctx, r, scratch, logger)
	}
	logger.Info("entity saved",
		zap.String("name", entity.Name),
		zap.String("status", string(entity.CrawlStatus)),
		zap.String("artifact_url", entity.ArtifactURL),
	)
	return OutcomeSaved, scratch, nil
}

func (e *Engine) publish(ctx context.Context, r *run, scratch crawler.Scratch, logger *zap.Logger) {
	if e.publisher == nil {
		return
	}
	event := crawler.ArtifactEvent{
		JobID:       r.task.JobID,
		EntityID:    r.entity.ID,
		Name:        r.entity.Name,
		ArtifactURL: scratch.Candidate.URL,
		ContentHash: scratch.ContentHash,
		ArtifactURI: scratch.ArtifactURI,
		TextURI:     scratch.TextURI,
		Tier:        scratch.Candidate.Tier,
	}
	if _, err := e.publisher.Publish(ctx, e.cfg.Topic, event); err != nil {
		logger.Warn("publish artifact event failed", zap.Error(err))
	}
}

func (e *Engine) blobPath(entityID, hash, ext string) string {
	name := hash + ext
	prefix := strings.Trim(e.cfg.BlobPrefix, "/")
	if prefix == "" {
		return path.Join(entityID, name)
	}
	return path.Join(prefix, entityID, name)
}

func extensionFor(mimeType, rawURL string) string {
	mt := strings.ToLower(mimeType)
	switch {
	case strings.Contains(mt, "pdf"):
		return ".pdf"
	case strings.Contains(mt, "html"):
		return ".html"
	case strings.HasPrefix(mt, "text/"):
		return ".txt"
	}
	if ext := path.Ext(crawler.StripQuery(rawURL)); ext != "" && len(ext) <= 5 {
		return strings.ToLower(ext)
	}
	return ".bin"
}

func resultLabel(result crawler.EntityResult) string {
	switch {
	case result.Skipped:
		return "skipped"
	case result.Err != nil:
		return "failed"
	case result.Status == "":
		return "unknown"
	default:
		return strings.ToLower(string(result.Status))
	}
}
