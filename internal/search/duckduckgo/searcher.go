// Package duckduckgo implements crawler.Searcher over the DuckDuckGo HTML
// endpoint.
package duckduckgo

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
	"github.com/JakeFAU/winerank-crawler/internal/fetcher/htmlpage"
)

// DefaultBaseURL is the no-JavaScript results endpoint.
const DefaultBaseURL = "https://html.duckduckgo.com/html/"

// ErrConsumed is yielded when a result sequence is ranged over twice.
var ErrConsumed = errors.New("search results already consumed")

// Config controls the searcher.
type Config struct {
	BaseURL    string
	MaxResults int
}

// Searcher fetches one results page per query through a PageFetcher.
type Searcher struct {
	fetcher crawler.PageFetcher
	cfg     Config
	logger  *zap.Logger
}

// New builds a Searcher.
func New(fetcher crawler.PageFetcher, cfg Config, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	return &Searcher{fetcher: fetcher, cfg: cfg, logger: logger}
}

// Search returns result URLs in rank order. Nothing is fetched until the
// sequence is ranged over, and it may be ranged over only once. When domain
// is set, results on other hosts are dropped.
func (s *Searcher) Search(ctx context.Context, query string, domain string) iter.Seq2[string, error] {
	var used atomic.Bool
	return func(yield func(string, error) bool) {
		if used.Swap(true) {
			yield("", ErrConsumed)
			return
		}
		target, err := s.queryURL(query)
		if err != nil {
			yield("", err)
			return
		}
		page, err := s.fetcher.Fetch(ctx, target)
		if err != nil {
			yield("", fmt.Errorf("duckduckgo search: %w", err))
			return
		}
		results, err := ParseResults(page.Content)
		if err != nil {
			yield("", fmt.Errorf("duckduckgo results: %w", err))
			return
		}
		s.logger.Debug("search results", zap.String("query", query), zap.Int("results", len(results)))

		sent := 0
		for _, result := range results {
			if domain != "" && !onDomain(result, domain) {
				continue
			}
			if !yield(result, nil) {
				return
			}
			sent++
			if sent >= s.cfg.MaxResults {
				return
			}
		}
	}
}

func (s *Searcher) queryURL(query string) (string, error) {
	u, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse search base url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseResults extracts organic result URLs from a results page, decoding
// the redirect wrapper DuckDuckGo puts around each link.
func ParseResults(body []byte) ([]string, error) {
	doc, err := htmlpage.Document(body)
	if err != nil {
		return nil, err
	}
	var out []string
	seen := make(map[string]bool)
	doc.Find("a.result__a").Each(func(_ int, a *goquery.Selection) {
		if a.Closest(".result--ad").Length() > 0 {
			return
		}
		target, ok := decode(a.AttrOr("href", ""))
		if !ok || seen[target] {
			return
		}
		seen[target] = true
		out = append(out, target)
	})
	return out, nil
}

func decode(href string) (string, bool) {
	base, _ := url.Parse("https://duckduckgo.com/")
	u, err := base.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	if strings.HasSuffix(u.Hostname(), "duckduckgo.com") {
		wrapped := u.Query().Get("uddg")
		if wrapped == "" {
			return "", false
		}
		if u, err = url.Parse(wrapped); err != nil {
			return "", false
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return u.String(), true
}

func onDomain(rawURL, domain string) bool {
	host := crawler.Hostname(rawURL)
	domain = strings.ToLower(domain)
	return host == domain || strings.HasSuffix(host, "."+domain)
}
