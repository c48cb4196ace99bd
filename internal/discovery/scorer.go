// Package discovery finds a wine list on a restaurant's own website by
// walking its links in tiers that share one page budget.
package discovery

import (
	"context"
	"net/url"
	"slices"
	"strings"
	"unicode"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
)

// Vocabulary is an ordered term list; earlier terms weigh more.
type Vocabulary struct {
	Name  string
	Terms []string
}

// WineVocabulary matches links that lead to a wine list.
var WineVocabulary = Vocabulary{
	Name: "wine",
	Terms: []string{
		"wine list",
		"wine program",
		"wine menu",
		"wine",
		"cellar",
		"sommelier",
		"by the glass",
		"beverage",
		"drink",
	},
}

// MenuVocabulary matches generic menu pages that may host the wine list.
var MenuVocabulary = Vocabulary{
	Name: "menu",
	Terms: []string{
		"menu",
		"dine",
		"dining",
		"food & drink",
		"food and drink",
	},
}

// Denylist names link targets that never lead to a wine list.
var Denylist = []string{
	"careers",
	"jobs",
	"reservation",
	"opentable",
	"resy",
	"instagram",
	"facebook",
	"twitter",
	"tiktok",
	"gift card",
	"privacy",
	"press",
}

// Scored is a link with its relevance score.
type Scored struct {
	Link  crawler.Link
	Score float64
}

// LinkScorer ranks the links of one page against a vocabulary. Results hold
// only links with a positive score, best first.
type LinkScorer interface {
	Rank(ctx context.Context, entity crawler.Entity, vocab Vocabulary, links []crawler.Link) ([]Scored, error)
}

// KeywordScorer scores links by weighted term matches.
type KeywordScorer struct{}

// NewKeywordScorer returns the default scorer.
func NewKeywordScorer() *KeywordScorer {
	return &KeywordScorer{}
}

// Rank implements LinkScorer.
func (s *KeywordScorer) Rank(_ context.Context, _ crawler.Entity, vocab Vocabulary, links []crawler.Link) ([]Scored, error) {
	out := make([]Scored, 0, len(links))
	for _, link := range links {
		if score := s.Score(vocab, link); score > 0 {
			out = append(out, Scored{Link: link, Score: score})
		}
	}
	SortScored(out)
	return out, nil
}

// Score rates one link. A term at rank r of n terms has weight n-r and adds
// 10x weight for an exact text match, 5x for a partial text match, 3x when
// its slug appears in the URL path and 1x when it appears in the
// surrounding paragraph.
func (s *KeywordScorer) Score(vocab Vocabulary, link crawler.Link) float64 {
	text := strings.ToLower(strings.TrimSpace(link.Text))
	para := strings.ToLower(link.Context)
	path := strings.ToLower(urlPath(link.URL))

	score := 0
	for rank, term := range vocab.Terms {
		weight := len(vocab.Terms) - rank
		switch {
		case text == term:
			score += weight * 10
		case strings.Contains(text, term):
			score += weight * 5
		}
		if strings.Contains(path, strings.ReplaceAll(term, " ", "-")) {
			score += weight * 3
		}
		if para != "" && strings.Contains(para, term) {
			score += weight
		}
	}
	return float64(score)
}

// Matches reports whether any term of vocab appears in the link text or path.
func (s *KeywordScorer) Matches(vocab Vocabulary, link crawler.Link) bool {
	return s.Score(vocab, crawler.Link{URL: link.URL, Text: link.Text}) > 0
}

// SortScored orders by descending score, keeping page order for ties.
func SortScored(scored []Scored) {
	slices.SortStableFunc(scored, func(a, b Scored) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
}

// Denied reports whether the link text or path contains a denylisted phrase.
// Phrases match on word boundaries so "press" does not reject "espresso".
func Denied(link crawler.Link) bool {
	text := words(link.Text)
	path := words(urlPath(link.URL))
	for _, phrase := range Denylist {
		needle := words(phrase)
		if containsRun(text, needle) || containsRun(path, needle) {
			return true
		}
	}
	return false
}

// IsPDF reports whether the URL path ends in .pdf.
func IsPDF(rawURL string) bool {
	return strings.HasSuffix(strings.ToLower(urlPath(rawURL)), ".pdf")
}

func urlPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Path
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsRun(haystack, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if runMatches(haystack[i:i+len(needle)], needle) {
			return true
		}
	}
	return false
}

// runMatches compares words, accepting a plural "s" on the haystack side.
func runMatches(run, needle []string) bool {
	for i, w := range needle {
		if run[i] != w && run[i] != w+"s" {
			return false
		}
	}
	return true
}
