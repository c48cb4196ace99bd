// Package fallback looks for an entity's wine list on a third-party host
// through an external search index.
package fallback

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
	"github.com/JakeFAU/winerank-crawler/internal/metrics"
)

// DefaultDomain is the wine list host searched when none is configured.
const DefaultDomain = "hub.binwise.com"

// Config controls the search passes.
type Config struct {
	Domain    string
	PassDelay time.Duration
}

// Finder runs a file-type biased pass and then a broad pass. It implements
// workflow.FallbackFinder.
type Finder struct {
	searcher crawler.Searcher
	fetcher  crawler.PageFetcher
	cfg      Config
	logger   *zap.Logger
}

// New builds a Finder.
func New(searcher crawler.Searcher, fetcher crawler.PageFetcher, cfg Config, logger *zap.Logger) *Finder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Domain == "" {
		cfg.Domain = DefaultDomain
	}
	cfg.Domain = strings.ToLower(cfg.Domain)
	return &Finder{searcher: searcher, fetcher: fetcher, cfg: cfg, logger: logger}
}

// Queries returns the ordered search queries for name.
func (f *Finder) Queries(name string) []string {
	base := fmt.Sprintf(`site:%s "%s"`, f.cfg.Domain, name)
	return []string{base + " pdf", base}
}

// Find returns the first validated result, or nil when both passes miss.
func (f *Finder) Find(ctx context.Context, entity crawler.Entity) (*crawler.Candidate, error) {
	name := strings.TrimSpace(entity.Name)
	if name == "" {
		return nil, nil
	}
	logger := f.logger.With(zap.String("entity_id", entity.ID), zap.String("name", name))

	for i, query := range f.Queries(name) {
		if i > 0 {
			if err := crawler.Sleep(ctx, f.cfg.PassDelay); err != nil {
				return nil, fmt.Errorf("fallback pause: %w", err)
			}
		}
		logger.Debug("fallback search", zap.Int("pass", i+1), zap.String("query", query))
		candidate, err := f.pass(ctx, name, query, logger)
		if err != nil {
			metrics.ObserveFallbackPass(i+1, "error")
			return nil, err
		}
		if candidate != nil {
			metrics.ObserveFallbackPass(i+1, "hit")
			logger.Info("fallback result validated", zap.Int("pass", i+1), zap.String("url", candidate.URL))
			return candidate, nil
		}
		metrics.ObserveFallbackPass(i+1, "miss")
	}
	return nil, nil
}

// pass consumes one search sequence top-down. Only context errors are
// returned; a failing search ends the pass as a miss.
func (f *Finder) pass(ctx context.Context, name, query string, logger *zap.Logger) (*crawler.Candidate, error) {
	seen := make(map[string]bool)
	for raw, err := range f.searcher.Search(ctx, query, f.cfg.Domain) {
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Debug("search failed", zap.String("query", query), zap.Error(err))
			return nil, nil
		}
		result := crawler.StripQuery(strings.TrimSpace(raw))
		if !f.onDomain(result) || seen[result] {
			continue
		}
		seen[result] = true

		ok, err := f.validate(ctx, name, result)
		if err != nil {
			return nil, err
		}
		if ok {
			return &crawler.Candidate{URL: result, Tier: crawler.TierExternal, Score: 1, Validated: true}, nil
		}
		logger.Debug("fallback result rejected", zap.String("url", result))
	}
	return nil, nil
}

func (f *Finder) validate(ctx context.Context, name, rawURL string) (bool, error) {
	page, err := f.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	text := page.Title + " " + strings.Join(page.Headings, " ")
	return Validate(name, text), nil
}

// onDomain accepts http(s) URLs with a path on the configured host or one of
// its subdomains.
func (f *Finder) onDomain(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host != f.cfg.Domain && !strings.HasSuffix(host, "."+f.cfg.Domain) {
		return false
	}
	return strings.Trim(u.Path, "/") != ""
}
