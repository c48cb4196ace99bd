package discovery

import (
	"bytes"
	"context"
	"errors"
	"math"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
	"github.com/JakeFAU/winerank-crawler/internal/metrics"
)

// MaxScore is assigned to a cached artifact URL that is still live.
const MaxScore = math.MaxFloat64

var errBudget = errors.New("discovery page budget exhausted")

// Config bounds the work of one Find call.
type Config struct {
	// MaxDepth limits link hops from the site root in the keyword tier.
	MaxDepth int
	// MaxPages is the fetch budget shared by every tier.
	MaxPages int
	// MenuDepth limits link hops in the menu tier.
	MenuDepth int
	// MinScore is the lowest score a non-PDF link needs to become a candidate.
	MinScore float64
}

func (c Config) withDefaults() Config {
	if c.MaxDepth <= 0 {
		c.MaxDepth = 4
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 20
	}
	if c.MenuDepth <= 0 {
		c.MenuDepth = 2
	}
	if c.MinScore <= 0 {
		c.MinScore = 1
	}
	return c
}

// Finder runs tiered in-site discovery. It implements workflow.SiteFinder.
type Finder struct {
	fetcher  crawler.PageFetcher
	scorer   LinkScorer
	keywords *KeywordScorer
	cfg      Config
	logger   *zap.Logger
}

// New builds a Finder. A nil scorer uses keyword scoring.
func New(fetcher crawler.PageFetcher, scorer LinkScorer, cfg Config, logger *zap.Logger) *Finder {
	if logger == nil {
		logger = zap.NewNop()
	}
	keywords := NewKeywordScorer()
	if scorer == nil {
		scorer = keywords
	}
	return &Finder{
		fetcher:  fetcher,
		scorer:   scorer,
		keywords: keywords,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// session is the state of one Find call. Pages fetched in an earlier tier are
// served from cache and do not count against the budget again.
type session struct {
	entity crawler.Entity
	pages  int
	cache  map[string]crawler.Page
	failed map[string]error
	logger *zap.Logger
}

type tier struct {
	name  crawler.Tier
	vocab Vocabulary
	depth int
}

// tierRun is the state one tier accumulates while walking the site.
type tierRun struct {
	tier
	visited map[string]bool
	dead    map[string]bool
	found   *crawler.Candidate
	scored  []Scored
}

func (r *tierRun) result(minScore float64) *crawler.Candidate {
	if r.found != nil {
		return r.found
	}
	var best *Scored
	for i := range r.scored {
		sc := &r.scored[i]
		key, err := crawler.NormalizeURL(sc.Link.URL)
		if err != nil || r.dead[key] || sc.Score < minScore {
			continue
		}
		if best == nil || sc.Score > best.Score {
			best = sc
		}
	}
	if best == nil {
		return nil
	}
	return &crawler.Candidate{URL: best.Link.URL, Tier: r.name, Score: best.Score, Validated: true}
}

// Find returns the best candidate on the entity's site, or nil when none is
// found or the page budget runs out first, together with the number of pages
// fetched. In-site candidates are validated by a direct PDF match or by a
// score of at least MinScore.
func (f *Finder) Find(ctx context.Context, entity crawler.Entity) (*crawler.Candidate, int, error) {
	s := &session{
		entity: entity,
		cache:  make(map[string]crawler.Page),
		failed: make(map[string]error),
		logger: f.logger.With(zap.String("entity_id", entity.ID)),
	}
	candidate, err := f.find(ctx, s)
	metrics.ObserveDiscoveryPages(s.pages)
	if candidate != nil {
		s.logger.Debug("discovery candidate",
			zap.String("url", candidate.URL),
			zap.String("tier", string(candidate.Tier)),
			zap.Float64("score", candidate.Score),
			zap.Int("pages", s.pages),
		)
	}
	return candidate, s.pages, err
}

func (f *Finder) find(ctx context.Context, s *session) (*crawler.Candidate, error) {
	if cached := s.entity.ArtifactURL; cached != "" {
		live, err := f.verify(ctx, s, cached)
		if err != nil {
			return nil, err
		}
		if live {
			return &crawler.Candidate{URL: cached, Tier: crawler.TierCached, Score: MaxScore, Validated: true}, nil
		}
		s.logger.Debug("cached artifact url is stale", zap.String("url", cached))
	}

	site := strings.TrimSpace(s.entity.SiteURL)
	if site == "" {
		return nil, nil
	}
	tiers := []tier{
		{name: crawler.TierKeyword, vocab: WineVocabulary, depth: f.cfg.MaxDepth},
		{name: crawler.TierMenu, vocab: MenuVocabulary, depth: f.cfg.MenuDepth},
	}
	for _, t := range tiers {
		run := &tierRun{tier: t, visited: make(map[string]bool), dead: make(map[string]bool)}
		err := f.walk(ctx, s, run, site, 0, 0)
		// An exhausted budget is a miss even when links were scored.
		if errors.Is(err, errBudget) {
			s.logger.Debug("discovery budget exhausted",
				zap.String("tier", string(t.name)),
				zap.Int("pages", s.pages),
			)
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if c := run.result(f.cfg.MinScore); c != nil {
			return c, nil
		}
	}
	return nil, nil
}

// verify reports whether url still answers with a 2xx status.
func (f *Finder) verify(ctx context.Context, s *session, url string) (bool, error) {
	page, err := f.page(ctx, s, url)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return page.StatusCode >= http.StatusOK && page.StatusCode < http.StatusMultipleChoices, nil
}

// walk visits rawURL and follows its scored links depth first. via is the
// score of the link that led here.
func (f *Finder) walk(ctx context.Context, s *session, run *tierRun, rawURL string, depth int, via float64) error {
	if depth >= run.depth {
		return nil
	}
	key, err := crawler.NormalizeURL(rawURL)
	if err != nil || run.visited[key] {
		return nil
	}
	run.visited[key] = true

	page, err := f.page(ctx, s, rawURL)
	if err != nil {
		if errors.Is(err, errBudget) || ctx.Err() != nil {
			return err
		}
		run.dead[key] = true
		s.logger.Debug("discovery fetch failed", zap.String("url", rawURL), zap.Error(err))
		return nil
	}
	if depth > 0 && isPDFContent(page) {
		run.found = &crawler.Candidate{URL: rawURL, Tier: run.name, Score: via, Validated: true}
		return nil
	}

	links := f.eligible(page, rawURL, run)
	for _, link := range links {
		if !IsPDF(link.URL) {
			continue
		}
		if f.keywords.Matches(WineVocabulary, link) || f.keywords.Matches(run.vocab, link) {
			score := max(f.keywords.Score(WineVocabulary, link), f.keywords.Score(run.vocab, link))
			run.found = &crawler.Candidate{URL: link.URL, Tier: run.name, Score: score, Validated: true}
			return nil
		}
	}

	ranked, err := f.scorer.Rank(ctx, s.entity, run.vocab, links)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Debug("link scorer failed, using keywords", zap.Error(err))
		ranked, _ = f.keywords.Rank(ctx, s.entity, run.vocab, links)
	}
	for _, sc := range ranked {
		if !IsPDF(sc.Link.URL) {
			run.scored = append(run.scored, sc)
		}
	}
	for _, sc := range ranked {
		if err := f.walk(ctx, s, run, sc.Link.URL, depth+1, sc.Score); err != nil {
			return err
		}
		if run.found != nil {
			return nil
		}
	}
	return nil
}

// eligible keeps same-host, non-denylisted links not yet visited in this tier.
func (f *Finder) eligible(page crawler.Page, requested string, run *tierRun) []crawler.Link {
	origin := page.URL
	if origin == "" {
		origin = requested
	}
	out := make([]crawler.Link, 0, len(page.Links))
	for _, link := range page.Links {
		if !crawler.SameHost(link.URL, origin) || Denied(link) {
			continue
		}
		key, err := crawler.NormalizeURL(link.URL)
		if err != nil || run.visited[key] {
			continue
		}
		out = append(out, link)
	}
	return out
}

// page fetches through the session cache, charging the budget on a miss.
func (f *Finder) page(ctx context.Context, s *session, rawURL string) (crawler.Page, error) {
	key, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return crawler.Page{}, err
	}
	if page, ok := s.cache[key]; ok {
		return page, nil
	}
	if err, ok := s.failed[key]; ok {
		return crawler.Page{}, err
	}
	if s.pages >= f.cfg.MaxPages {
		return crawler.Page{}, errBudget
	}
	s.pages++
	page, err := f.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		if ctx.Err() == nil {
			s.failed[key] = err
		}
		return crawler.Page{}, err
	}
	s.cache[key] = page
	return page, nil
}

func isPDFContent(page crawler.Page) bool {
	if strings.Contains(strings.ToLower(page.ContentType), "application/pdf") {
		return true
	}
	return bytes.HasPrefix(page.Content, []byte("%PDF-"))
}
