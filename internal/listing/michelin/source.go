// Package michelin reads restaurant listings and detail pages from the
// Michelin Guide website.
package michelin

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
	"github.com/JakeFAU/winerank-crawler/internal/fetcher/htmlpage"
	"github.com/JakeFAU/winerank-crawler/internal/id/uuid"
)

// DefaultBaseURL is the United States restaurant selection.
const DefaultBaseURL = "https://guide.michelin.com/us/en/selection/united-states/restaurants"

// SourceName identifies this source in job scopes.
const SourceName = "michelin"

const perPage = 48

var distinctionSlugs = map[string]string{
	"3":        "3-stars-michelin",
	"2":        "2-stars-michelin",
	"1":        "1-star-michelin",
	"gourmand": "bib-gourmand",
	"selected": "the-plate-michelin",
	"all":      "",
}

var (
	totalPattern  = regexp.MustCompile(`(?i)of\s+([\d,]+)\s+restaurants?`)
	numericSuffix = regexp.MustCompile(`[_-]\d+$`)
)

var stateNames = map[string]string{
	"district-of-columbia": "DC",
	"new-york":             "New York",
	"new-jersey":           "New Jersey",
	"north-carolina":       "North Carolina",
	"south-carolina":       "South Carolina",
}

// DefaultSiteBlocklist names hosts that detail pages link to but that are
// never a restaurant's own website.
var DefaultSiteBlocklist = []string{
	"*.instagram.com",
	"*.facebook.com",
	"*.twitter.com",
	"x.com",
	"*.tiktok.com",
	"*.yelp.com",
	"*.opentable.com",
	"*.resy.com",
	"*.exploretock.com",
	"*.sevenrooms.com",
}

// Config controls the source. An empty SiteBlocklist uses DefaultSiteBlocklist.
type Config struct {
	BaseURL       string
	SiteBlocklist []string
}

// Source implements crawler.ListingSource.
type Source struct {
	fetcher crawler.PageFetcher
	cfg     Config
	blocked *crawler.DomainBlocklist
	logger  *zap.Logger
}

// New builds a Source.
func New(fetcher crawler.PageFetcher, cfg Config, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if len(cfg.SiteBlocklist) == 0 {
		cfg.SiteBlocklist = DefaultSiteBlocklist
	}
	return &Source{
		fetcher: fetcher,
		cfg:     cfg,
		blocked: crawler.NewDomainBlocklist(cfg.SiteBlocklist),
		logger:  logger,
	}
}

// ValidDistinction reports whether d names a known listing.
func ValidDistinction(d string) bool {
	_, ok := distinctionSlugs[strings.ToLower(d)]
	return ok
}

// ListingURL builds the URL of one listing page. Unknown distinctions fall
// back to three stars.
func ListingURL(base, distinction string, page int) string {
	slug, ok := distinctionSlugs[strings.ToLower(distinction)]
	if !ok {
		slug = distinctionSlugs["3"]
	}
	target := strings.TrimRight(base, "/")
	if slug != "" {
		target += "/" + slug
	}
	if page > 1 {
		target += "/page/" + strconv.Itoa(page)
	}
	return target
}

// ListingPage fetches and parses one listing page.
func (s *Source) ListingPage(ctx context.Context, scope crawler.Scope, page int) (crawler.ListingPage, error) {
	target := ListingURL(s.cfg.BaseURL, scope.Distinction, page)
	fetched, err := s.fetcher.Fetch(ctx, target)
	if err != nil {
		return crawler.ListingPage{}, fmt.Errorf("fetch listing page %d: %w", page, err)
	}
	doc, err := htmlpage.Document(fetched.Content)
	if err != nil {
		return crawler.ListingPage{}, fmt.Errorf("parse listing page %d: %w", page, err)
	}
	base, err := url.Parse(target)
	if err != nil {
		return crawler.ListingPage{}, fmt.Errorf("parse listing url: %w", err)
	}

	out := crawler.ListingPage{Number: page, TotalPages: TotalPages(doc.Text())}
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := a.AttrOr("href", "")
		if !strings.Contains(href, "/restaurant/") {
			return
		}
		abs, err := base.Parse(href)
		if err != nil {
			return
		}
		abs.RawQuery = ""
		abs.Fragment = ""
		detail := abs.String()
		if seen[detail] {
			return
		}
		seen[detail] = true
		out.Entities = append(out.Entities, crawler.EntityRef{ID: uuid.EntityID(detail), SourceURL: detail})
	})
	s.logger.Info("listing page parsed",
		zap.String("url", target),
		zap.Int("page", page),
		zap.Int("entities", len(out.Entities)),
		zap.Int("total_pages", out.TotalPages),
	)
	return out, nil
}

// TotalPages reads the "of N restaurants" counter; it is at least 1.
func TotalPages(text string) int {
	m := totalPattern.FindStringSubmatch(text)
	if m == nil {
		return 1
	}
	total, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil || total <= 0 {
		return 1
	}
	return (total + perPage - 1) / perPage
}

// Resolve fetches a detail page and returns the entity it describes.
func (s *Source) Resolve(ctx context.Context, ref crawler.EntityRef) (crawler.Entity, error) {
	fetched, err := s.fetcher.Fetch(ctx, ref.SourceURL)
	if err != nil {
		return crawler.Entity{}, fmt.Errorf("fetch detail page: %w", err)
	}
	doc, err := htmlpage.Document(fetched.Content)
	if err != nil {
		return crawler.Entity{}, fmt.Errorf("parse detail page: %w", err)
	}

	id := ref.ID
	if id == "" {
		id = uuid.EntityID(ref.SourceURL)
	}
	name := htmlpage.CleanText(doc.Find("h1").First().Text())
	if name == "" {
		name = "Unknown"
	}
	city, state := Location(ref.SourceURL)
	return crawler.Entity{
		ID:          id,
		Name:        name,
		SourceURL:   ref.SourceURL,
		SiteURL:     s.websiteURL(doc),
		Distinction: distinction(doc.Text()),
		City:        city,
		State:       state,
		Country:     "USA",
		CrawlStatus: crawler.CrawlStatusNotStarted,
	}, nil
}

func (s *Source) websiteURL(doc *goquery.Document) string {
	var site string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := a.AttrOr("href", "")
		if s.isBlocked(href) {
			return true
		}
		if strings.Contains(a.Text(), "Visit Website") && strings.HasPrefix(href, "http") {
			site = href
			return false
		}
		return true
	})
	if site != "" {
		return site
	}
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := a.AttrOr("href", "")
		if !strings.HasPrefix(href, "http") || strings.Contains(href, "guide.michelin.com") || s.isBlocked(href) {
			return true
		}
		text := strings.ToLower(a.Text())
		for _, hint := range []string{"website", "visit", "www", "home"} {
			if strings.Contains(text, hint) {
				site = href
				return false
			}
		}
		return true
	})
	return site
}

func (s *Source) isBlocked(href string) bool {
	parsed, err := url.Parse(href)
	if err != nil {
		return true
	}
	return s.blocked.Matches(parsed.Hostname())
}

func distinction(text string) string {
	text = strings.ToLower(text)
	has := func(phrases ...string) bool {
		for _, p := range phrases {
			if strings.Contains(text, p) {
				return true
			}
		}
		return false
	}
	switch {
	case has("three michelin stars", "3 stars", "three stars"):
		return "3-stars"
	case has("two michelin stars", "2 stars", "two stars"):
		return "2-stars"
	case has("one michelin star", "1 star", "one star"):
		return "1-star"
	case has("bib gourmand"):
		return "bib-gourmand"
	default:
		return "selected"
	}
}

// Location derives city and state from the path segments before
// "restaurant" in a detail URL such as .../us/en/new-york-state/new-york/restaurant/per-se.
func Location(detailURL string) (city, state string) {
	u, err := url.Parse(detailURL)
	if err != nil {
		return "", ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	ri := -1
	for i, p := range parts {
		if p == "restaurant" {
			ri = i
			break
		}
	}
	if ri < 1 {
		return "", ""
	}
	city = titleCase(numericSuffix.ReplaceAllString(parts[ri-1], ""))
	if ri >= 2 {
		raw := parts[ri-2]
		if name, ok := stateNames[raw]; ok {
			state = name
		} else {
			state = titleCase(raw)
		}
	}
	return city, state
}

func titleCase(slug string) string {
	words := strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
