package michelin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
	"github.com/JakeFAU/winerank-crawler/internal/id/uuid"
)

type htmlFetcher map[string]string

func (f htmlFetcher) Fetch(_ context.Context, url string) (crawler.Page, error) {
	body, ok := f[url]
	if !ok {
		return crawler.Page{}, &crawler.FetchError{URL: url, StatusCode: 404, Err: errors.New("missing")}
	}
	return crawler.Page{URL: url, StatusCode: 200, Content: []byte(body)}, nil
}

func TestListingURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		distinction string
		page        int
		want        string
	}{
		{"3", 1, DefaultBaseURL + "/3-stars-michelin"},
		{"1", 2, DefaultBaseURL + "/1-star-michelin/page/2"},
		{"gourmand", 1, DefaultBaseURL + "/bib-gourmand"},
		{"all", 3, DefaultBaseURL + "/page/3"},
		{"bogus", 1, DefaultBaseURL + "/3-stars-michelin"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, ListingURL(DefaultBaseURL, tt.distinction, tt.page))
	}
}

func TestTotalPages(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, TotalPages("1-20 of 14 restaurants"))
	require.Equal(t, 21, TotalPages("Showing 1-48 of 1,000 RESTAURANTS"))
	require.Equal(t, 2, TotalPages("of 49 restaurants"))
	require.Equal(t, 1, TotalPages("no counter here"))
}

const listingHTML = `<html><body>
<p>1-48 of 96 Restaurants</p>
<a href="/us/en/california/san-francisco/restaurant/atelier-crenn">Atelier Crenn</a>
<a href="/us/en/new-york-state/new-york/restaurant/per-se?tab=menu">Per Se</a>
<a href="/us/en/new-york-state/new-york/restaurant/per-se">Per Se again</a>
<a href="/us/en/about">About</a>
</body></html>`

func TestListingPage(t *testing.T) {
	t.Parallel()

	fetcher := htmlFetcher{DefaultBaseURL + "/3-stars-michelin/page/2": listingHTML}
	src := New(fetcher, Config{}, nil)

	page, err := src.ListingPage(context.Background(), crawler.Scope{Source: SourceName, Distinction: "3"}, 2)
	require.NoError(t, err)
	require.Equal(t, 2, page.Number)
	require.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Entities, 2)

	crenn := "https://guide.michelin.com/us/en/california/san-francisco/restaurant/atelier-crenn"
	require.Equal(t, crenn, page.Entities[0].SourceURL)
	require.Equal(t, uuid.EntityID(crenn), page.Entities[0].ID)
	require.Equal(t, "https://guide.michelin.com/us/en/new-york-state/new-york/restaurant/per-se", page.Entities[1].SourceURL)
}

func TestListingPageFetchError(t *testing.T) {
	t.Parallel()

	_, err := New(htmlFetcher{}, Config{}, nil).ListingPage(context.Background(), crawler.Scope{}, 1)
	require.ErrorIs(t, err, crawler.ErrFetch)
}

const detailURL = "https://guide.michelin.com/us/en/new-york-state/new-york/restaurant/per-se"

func TestResolve(t *testing.T) {
	t.Parallel()

	fetcher := htmlFetcher{detailURL: `<html><body>
<h1> Per Se </h1>
<p>Three Michelin Stars: Exceptional cuisine</p>
<a href="https://guide.michelin.com/us/en/book">Book</a>
<a href="tel:+12128239335">Call</a>
<a href="https://www.perseny.com/">Visit Website</a>
</body></html>`}
	src := New(fetcher, Config{}, nil)

	entity, err := src.Resolve(context.Background(), crawler.EntityRef{ID: "e1", SourceURL: detailURL})
	require.NoError(t, err)
	require.Equal(t, "e1", entity.ID)
	require.Equal(t, "Per Se", entity.Name)
	require.Equal(t, "https://www.perseny.com/", entity.SiteURL)
	require.Equal(t, "3-stars", entity.Distinction)
	require.Equal(t, "New York", entity.City)
	require.Equal(t, "New York State", entity.State)
	require.Equal(t, crawler.CrawlStatusNotStarted, entity.CrawlStatus)
}

func TestResolveWebsiteHintAndUnknownName(t *testing.T) {
	t.Parallel()

	fetcher := htmlFetcher{detailURL: `<html><body>
<p>Bib Gourmand</p>
<a href="https://guide.michelin.com/us/en/home">Home</a>
<a href="https://instagram.com/x">Follow</a>
<a href="https://chezpanisse.com">www.chezpanisse.com</a>
</body></html>`}
	entity, err := New(fetcher, Config{}, nil).Resolve(context.Background(), crawler.EntityRef{SourceURL: detailURL})
	require.NoError(t, err)
	require.Equal(t, "Unknown", entity.Name)
	require.Equal(t, "https://chezpanisse.com", entity.SiteURL)
	require.Equal(t, "bib-gourmand", entity.Distinction)
	require.Equal(t, uuid.EntityID(detailURL), entity.ID)
}

func TestResolveSkipsBlockedWebsites(t *testing.T) {
	t.Parallel()

	fetcher := htmlFetcher{detailURL: `<html><body><h1>Atomix</h1>
<a href="https://www.instagram.com/atomix">Visit Website</a>
<a href="https://resy.com/cities/ny/atomix">Book at www.resy.com</a>
<a href="https://atomixnyc.com/">Official website</a>
</body></html>`}
	entity, err := New(fetcher, Config{}, nil).Resolve(context.Background(), crawler.EntityRef{SourceURL: detailURL})
	require.NoError(t, err)
	require.Equal(t, "https://atomixnyc.com/", entity.SiteURL)

	entity, err = New(fetcher, Config{SiteBlocklist: []string{"atomixnyc.com"}}, nil).
		Resolve(context.Background(), crawler.EntityRef{SourceURL: detailURL})
	require.NoError(t, err)
	require.Equal(t, "https://www.instagram.com/atomix", entity.SiteURL)
}

func TestLocation(t *testing.T) {
	t.Parallel()

	city, state := Location("https://guide.michelin.com/us/en/district-of-columbia/washington_1/restaurant/minibar")
	require.Equal(t, "Washington", city)
	require.Equal(t, "DC", state)

	city, state = Location("https://guide.michelin.com/us/en/selection")
	require.Empty(t, city)
	require.Empty(t, state)
}
