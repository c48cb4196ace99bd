package fallback

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
)

func TestValidateShortName(t *testing.T) {
	t.Parallel()

	require.True(t, Validate("Per Se", "Per Se Restaurant - Wine List"))
	require.False(t, Validate("Per Se", "Per"))
	require.False(t, Validate("Per Se", "Supper Sessions"))
	require.True(t, Validate("Le Bernardin", "Wine list | le bernardin"))
}

func TestValidateLongName(t *testing.T) {
	t.Parallel()

	name := "The Inn at Little Washington"
	require.Equal(t, []string{"inn", "little", "washington"}, SignificantWords(name))
	require.True(t, Validate(name, "Little Inn, Washington VA"))
	require.False(t, Validate(name, "The Inn at Little Rock"))
}

func TestValidateStopWordsOnly(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"the", "bar"}, SignificantWords("The Bar"))
	require.True(t, Validate("The Bar", "the bar wine list"))
	require.False(t, Validate("", "anything"))
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	require.Equal(t, "l atelier de joël robuchon", Normalize("  L'Atelier   de Joël Robuchon! "))
}

type fakeSearcher struct {
	results map[string][]string
	err     error
	queries []string
}

func (s *fakeSearcher) Search(_ context.Context, query string, _ string) iter.Seq2[string, error] {
	s.queries = append(s.queries, query)
	return func(yield func(string, error) bool) {
		if s.err != nil {
			yield("", s.err)
			return
		}
		for _, r := range s.results[query] {
			if !yield(r, nil) {
				return
			}
		}
	}
}

type fakeFetcher struct {
	pages   map[string]crawler.Page
	fetched []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (crawler.Page, error) {
	f.fetched = append(f.fetched, url)
	page, ok := f.pages[url]
	if !ok {
		return crawler.Page{}, errors.New("unreachable")
	}
	return page, nil
}

func TestFinderFirstPassWins(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{results: map[string][]string{
		`site:hub.binwise.com "Per Se" pdf`: {
			"https://example.com/per-se.pdf",
			"https://hub.binwise.com/other?ref=google",
			"https://hub.binwise.com/per-se-wine?utm=1",
		},
	}}
	fetcher := &fakeFetcher{pages: map[string]crawler.Page{
		"https://hub.binwise.com/other":       {Title: "Other Place"},
		"https://hub.binwise.com/per-se-wine": {Title: "Wine List", Headings: []string{"Per Se"}},
	}}
	f := New(searcher, fetcher, Config{}, nil)

	c, err := f.Find(context.Background(), crawler.Entity{ID: "e1", Name: "Per Se"})
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, "https://hub.binwise.com/per-se-wine", c.URL)
	require.Equal(t, crawler.TierExternal, c.Tier)
	require.True(t, c.Validated)
	require.Len(t, searcher.queries, 1)
	require.NotContains(t, fetcher.fetched, "https://example.com/per-se.pdf")
}

func TestFinderSecondPass(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{results: map[string][]string{
		`site:hub.binwise.com "Per Se"`: {"https://menus.hub.binwise.com/per-se"},
	}}
	fetcher := &fakeFetcher{pages: map[string]crawler.Page{
		"https://menus.hub.binwise.com/per-se": {Title: "Per Se | Digital Wine List"},
	}}
	f := New(searcher, fetcher, Config{PassDelay: time.Millisecond}, nil)

	c, err := f.Find(context.Background(), crawler.Entity{Name: "Per Se"})
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, "https://menus.hub.binwise.com/per-se", c.URL)
	require.Equal(t, []string{
		`site:hub.binwise.com "Per Se" pdf`,
		`site:hub.binwise.com "Per Se"`,
	}, searcher.queries)
}

func TestFinderBothPassesMiss(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{results: map[string][]string{
		`site:hub.binwise.com "Per Se" pdf`: {"https://hub.binwise.com/per"},
		`site:hub.binwise.com "Per Se"`:     {"https://hub.binwise.com/per", "https://hub.binwise.com/"},
	}}
	fetcher := &fakeFetcher{pages: map[string]crawler.Page{
		"https://hub.binwise.com/per": {Title: "Per"},
	}}
	f := New(searcher, fetcher, Config{}, nil)

	c, err := f.Find(context.Background(), crawler.Entity{Name: "Per Se"})
	require.NoError(t, err)
	require.Nil(t, c)
	require.Len(t, searcher.queries, 2)
}

func TestFinderSearchErrorIsAMiss(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{err: errors.New("rate limited")}
	f := New(searcher, &fakeFetcher{}, Config{}, nil)

	c, err := f.Find(context.Background(), crawler.Entity{Name: "Per Se"})
	require.NoError(t, err)
	require.Nil(t, c)
}

func TestFinderCanceledDuringPause(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := New(&fakeSearcher{}, &fakeFetcher{}, Config{PassDelay: time.Hour}, nil)

	_, err := f.Find(ctx, crawler.Entity{Name: "Per Se"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestFinderNoName(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{}
	c, err := New(searcher, &fakeFetcher{}, Config{}, nil).Find(context.Background(), crawler.Entity{})
	require.NoError(t, err)
	require.Nil(t, c)
	require.Empty(t, searcher.queries)
}
