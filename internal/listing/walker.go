// Package listing walks the source-of-record listing one page at a time. The
// Walker is the only code that moves a checkpoint to a new page.
package listing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/winerank-crawler/internal/breaker"
	"github.com/JakeFAU/winerank-crawler/internal/crawler"
	"github.com/JakeFAU/winerank-crawler/internal/metrics"
)

// Persister durably replaces a job's checkpoint.
type Persister interface {
	Persist(ctx context.Context, cp crawler.Checkpoint) error
}

// Config controls Walker pacing.
type Config struct {
	// PauseBetweenPages is slept before fetching any page after the first.
	PauseBetweenPages time.Duration
}

// Walker fetches listing pages for one scope.
type Walker struct {
	source  crawler.ListingSource
	scope   crawler.Scope
	breaker *breaker.Breaker
	retry   crawler.RetryPolicy
	cfg     Config
	logger  *zap.Logger
}

// NewWalker constructs a Walker.
func NewWalker(
	source crawler.ListingSource,
	scope crawler.Scope,
	br *breaker.Breaker,
	retry crawler.RetryPolicy,
	cfg Config,
	logger *zap.Logger,
) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if br == nil {
		br = breaker.New(breaker.DefaultThreshold)
	}
	if retry == nil {
		retry = crawler.NewExponentialRetryPolicy()
	}
	return &Walker{source: source, scope: scope, breaker: br, retry: retry, cfg: cfg, logger: logger}
}

// SeedSingle positions a fresh checkpoint on a one-entity list. Single-entity
// jobs never paginate.
func SeedSingle(cp crawler.Checkpoint, ref crawler.EntityRef) crawler.Checkpoint {
	return cp.WithPage(1, []crawler.EntityRef{ref}, 1)
}

// NextPage returns a checkpoint positioned on a page with pending work. It
// returns false when the listing is exhausted. When the recorded page still
// has pending entities it is returned unchanged; otherwise the next page is
// fetched and persisted before it is returned. The page number only grows.
func (w *Walker) NextPage(ctx context.Context, cp crawler.Checkpoint, p Persister) (crawler.Checkpoint, bool, error) {
	if cp.PageLoaded && !cp.Exhausted() {
		return cp, true, nil
	}

	page := cp.Page
	if page < 1 {
		page = 1
	}
	if cp.PageLoaded {
		if w.scope.SingleEntity() || (cp.TotalPages > 0 && cp.Page >= cp.TotalPages) {
			return cp, false, nil
		}
		page = cp.Page + 1
		if err := crawler.Sleep(ctx, w.cfg.PauseBetweenPages); err != nil {
			return cp, false, fmt.Errorf("wait before page %d: %w", page, err)
		}
	}

	listing, err := w.fetch(ctx, page)
	if err != nil {
		return cp, false, err
	}
	if len(listing.Entities) == 0 {
		w.logger.Info("listing exhausted", zap.String("job_id", cp.JobID), zap.Int("page", page))
		return cp, false, nil
	}

	total := listing.TotalPages
	if total == 0 {
		total = cp.TotalPages
	}
	next := cp.WithPage(page, listing.Entities, total)
	if err := p.Persist(ctx, next); err != nil {
		return cp, false, fmt.Errorf("persist page %d: %w", page, err)
	}
	w.logger.Info("listing page loaded",
		zap.String("job_id", cp.JobID),
		zap.Int("page", page),
		zap.Int("total_pages", total),
		zap.Int("entities", len(listing.Entities)),
	)
	return next, true, nil
}

// fetch retries the listing fetch until it succeeds or the breaker opens.
func (w *Walker) fetch(ctx context.Context, page int) (crawler.ListingPage, error) {
	for attempt := 1; ; attempt++ {
		listing, err := w.source.ListingPage(ctx, w.scope, page)
		if err == nil {
			metrics.ObserveListingFetch("ok")
			w.breaker.RecordSuccess()
			return listing, nil
		}
		if ctx.Err() != nil {
			return crawler.ListingPage{}, fmt.Errorf("fetch listing page %d: %w", page, ctx.Err())
		}
		metrics.ObserveListingFetch("error")
		if w.breaker.RecordFailure() {
			return crawler.ListingPage{}, fmt.Errorf("%w: page %d failed %d times: %w",
				crawler.ErrCircuitOpen, page, w.breaker.Failures(), err)
		}
		w.logger.Warn("listing fetch failed",
			zap.Int("page", page),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if err := crawler.Sleep(ctx, w.retry.Backoff(attempt)); err != nil {
			return crawler.ListingPage{}, fmt.Errorf("fetch listing page %d: %w", page, err)
		}
	}
}
