// Package fetcher composes PageFetchers: retries with backoff and headless
// promotion.
package fetcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
)

// Retrying retries transient fetch errors using a RetryPolicy.
type Retrying struct {
	next   crawler.PageFetcher
	policy crawler.RetryPolicy
	logger *zap.Logger
}

// NewRetrying wraps next.
func NewRetrying(next crawler.PageFetcher, policy crawler.RetryPolicy, logger *zap.Logger) *Retrying {
	if policy == nil {
		policy = crawler.NewExponentialRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{next: next, policy: policy, logger: logger}
}

// Fetch calls the wrapped fetcher until it succeeds or the policy gives up.
func (r *Retrying) Fetch(ctx context.Context, url string) (crawler.Page, error) {
	for attempt := 1; ; attempt++ {
		page, err := r.next.Fetch(ctx, url)
		if err == nil {
			return page, nil
		}
		if !r.policy.ShouldRetry(err, attempt) {
			return crawler.Page{}, err
		}
		delay := r.policy.Backoff(attempt)
		r.logger.Debug("retrying fetch",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := crawler.Sleep(ctx, delay); err != nil {
			return crawler.Page{}, fmt.Errorf("fetch %s: %w", url, err)
		}
	}
}

// Promoting probes with a plain fetcher and re-fetches with a headless one
// when the detector flags the probe.
type Promoting struct {
	probe    crawler.PageFetcher
	headless crawler.PageFetcher
	detector crawler.HeadlessDetector
	logger   *zap.Logger
}

// NewPromoting builds a promoting fetcher. With a nil headless fetcher or
// detector it behaves like probe.
func NewPromoting(
	probe crawler.PageFetcher,
	headless crawler.PageFetcher,
	detector crawler.HeadlessDetector,
	logger *zap.Logger,
) *Promoting {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{probe: probe, headless: headless, detector: detector, logger: logger}
}

// Fetch returns the headless render when promotion applies and succeeds,
// otherwise the probe result.
func (p *Promoting) Fetch(ctx context.Context, url string) (crawler.Page, error) {
	page, err := p.probe.Fetch(ctx, url)
	if err != nil {
		return crawler.Page{}, err
	}
	if p.headless == nil || p.detector == nil || !p.detector.ShouldPromote(page) {
		return page, nil
	}
	rendered, err := p.headless.Fetch(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.Page{}, fmt.Errorf("headless fetch %s: %w", url, ctx.Err())
		}
		p.logger.Warn("headless promotion failed", zap.String("url", url), zap.Error(err))
		return page, nil
	}
	p.logger.Debug("headless promotion applied", zap.String("url", url))
	return rendered, nil
}
