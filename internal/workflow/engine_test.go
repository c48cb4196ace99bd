package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
)

type fakeEntities struct {
	mu      sync.Mutex
	items   map[string]crawler.Entity
	upserts int
}

func newFakeEntities(items ...crawler.Entity) *fakeEntities {
	f := &fakeEntities{items: make(map[string]crawler.Entity)}
	for _, it := range items {
		f.items[it.ID] = it
	}
	return f
}

func (f *fakeEntities) UpsertEntity(_ context.Context, e crawler.Entity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[e.ID] = e
	f.upserts++
	return nil
}

func (f *fakeEntities) GetEntity(_ context.Context, id string) (crawler.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.items[id]
	if !ok {
		return crawler.Entity{}, crawler.ErrNotFound
	}
	return e, nil
}

func (f *fakeEntities) FindEntities(context.Context, string) ([]crawler.Entity, error) {
	return nil, nil
}

type fakeSource struct {
	entity crawler.Entity
	err    error
}

func (f fakeSource) ListingPage(context.Context, crawler.Scope, int) (crawler.ListingPage, error) {
	return crawler.ListingPage{}, nil
}

func (f fakeSource) Resolve(_ context.Context, ref crawler.EntityRef) (crawler.Entity, error) {
	if f.err != nil {
		return crawler.Entity{}, f.err
	}
	e := f.entity
	e.SourceURL = ref.SourceURL
	return e, nil
}

type fakeSite struct {
	candidate *crawler.Candidate
	pages     int
	calls     int
}

func (f *fakeSite) Find(context.Context, crawler.Entity) (*crawler.Candidate, int, error) {
	f.calls++
	return f.candidate, f.pages, nil
}

type fakeFallback struct {
	candidate *crawler.Candidate
	calls     int
}

func (f *fakeFallback) Find(context.Context, crawler.Entity) (*crawler.Candidate, error) {
	f.calls++
	return f.candidate, nil
}

type fakeDownloader struct {
	fail  map[string]bool
	calls []string
}

func (f *fakeDownloader) Download(_ context.Context, url string) (crawler.Download, error) {
	f.calls = append(f.calls, url)
	if f.fail[url] {
		return crawler.Download{}, crawler.ErrDownload
	}
	return crawler.Download{URL: url, Data: []byte("%PDF Chablis"), ContentHash: "abc123", MimeType: "application/pdf"}, nil
}

type fakeExtractor struct{ err error }

func (f fakeExtractor) Extract(_ context.Context, data []byte, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return string(data), nil
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeBlobs) PutObject(_ context.Context, path, _ string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[path] = data
	return "mem://" + path, nil
}

func (f *fakeBlobs) GetObject(_ context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[path]
	if !ok {
		return nil, crawler.ErrNotFound
	}
	return data, nil
}

type fakePublisher struct{ events []any }

func (f *fakePublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	f.events = append(f.events, payload)
	return "msg-1", nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type recorded struct{ states []crawler.StageState }

func (r *recorded) record(_ context.Context, st crawler.StageState) error {
	r.states = append(r.states, st)
	return nil
}

func (r *recorded) stages() []crawler.Stage {
	out := make([]crawler.Stage, 0, len(r.states))
	for _, st := range r.states {
		out = append(out, st.Stage)
	}
	return out
}

type harness struct {
	entities   *fakeEntities
	site       *fakeSite
	fallback   *fakeFallback
	downloader *fakeDownloader
	blobs      *fakeBlobs
	publisher  *fakePublisher
	extractor  fakeExtractor
	source     fakeSource
}

func (h *harness) engine() *Engine {
	return New(Deps{
		Entities:   h.entities,
		Source:     h.source,
		Site:       h.site,
		Fallback:   h.fallback,
		Downloader: h.downloader,
		Extractor:  h.extractor,
		Blobs:      h.blobs,
		Publisher:  h.publisher,
		Clock:      fixedClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}, Config{BlobPrefix: "wine-lists", Topic: "artifacts"}, nil)
}

func newHarness(entities ...crawler.Entity) *harness {
	return &harness{
		entities:   newFakeEntities(entities...),
		site:       &fakeSite{},
		fallback:   &fakeFallback{},
		downloader: &fakeDownloader{fail: map[string]bool{}},
		blobs:      &fakeBlobs{},
		publisher:  &fakePublisher{},
	}
}

func task(id string) crawler.EntityTask {
	return crawler.EntityTask{JobID: "job-1", Ref: crawler.EntityRef{ID: id, SourceURL: "https://guide.example.com/" + id}}
}

func TestRunSiteHit(t *testing.T) {
	t.Parallel()

	h := newHarness(crawler.Entity{ID: "e1", Name: "Le Bernardin", SiteURL: "https://le-bernardin.example.com"})
	h.site.candidate = &crawler.Candidate{URL: "https://le-bernardin.example.com/wine.pdf", Tier: crawler.TierKeyword}
	h.site.pages = 3
	rec := &recorded{}

	res, err := h.engine().Run(context.Background(), task("e1"), rec.record)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.Equal(t, crawler.CrawlStatusArtifactFound, res.Status)
	require.Equal(t, []crawler.Stage{
		crawler.StageCrawlSite, crawler.StageDownload, crawler.StageExtract, crawler.StageSave, crawler.StageDone,
	}, rec.stages())

	saved, err := h.entities.GetEntity(context.Background(), "e1")
	require.NoError(t, err)
	require.Equal(t, crawler.CrawlStatusArtifactFound, saved.CrawlStatus)
	require.Equal(t, "https://le-bernardin.example.com/wine.pdf", saved.ArtifactURL)
	require.Equal(t, "mem://wine-lists/e1/abc123.pdf", saved.ArtifactURI)
	require.Equal(t, "mem://wine-lists/e1/abc123.txt", saved.TextURI)
	require.Equal(t, 3, saved.PagesVisited)
	require.NotNil(t, saved.LastCrawledAt)
	require.Zero(t, h.fallback.calls)
	require.Len(t, h.publisher.events, 1)

	event, ok := h.publisher.events[0].(crawler.ArtifactEvent)
	require.True(t, ok)
	require.Equal(t, crawler.TierKeyword, event.Tier)
	require.Equal(t, "job-1", event.JobID)
}

func TestRunNoSiteNotFound(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.source = fakeSource{entity: crawler.Entity{Name: "Atelier"}}
	rec := &recorded{}

	res, err := h.engine().Run(context.Background(), task("e2"), rec.record)
	require.NoError(t, err)
	require.Equal(t, crawler.CrawlStatusNoSourceURL, res.Status)
	require.Equal(t, 1, h.fallback.calls)
	require.Zero(t, h.site.calls)
	require.Empty(t, h.publisher.events)

	saved, err := h.entities.GetEntity(context.Background(), "e2")
	require.NoError(t, err)
	require.Equal(t, crawler.CrawlStatusNoSourceURL, saved.CrawlStatus)
	require.Equal(t, "https://guide.example.com/e2", saved.SourceURL)

	counters := crawler.JobCounters{}.Record(res)
	require.Equal(t, 1, counters.NotFound)
}

func TestRunSkipsKnownArtifact(t *testing.T) {
	t.Parallel()

	h := newHarness(crawler.Entity{
		ID: "e3", Name: "Per Se", SiteURL: "https://perse.example.com",
		CrawlStatus: crawler.CrawlStatusArtifactFound, ArtifactURL: "https://perse.example.com/list.pdf",
	})
	rec := &recorded{}

	res, err := h.engine().Run(context.Background(), task("e3"), rec.record)
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Equal(t, []crawler.Stage{crawler.StageSave, crawler.StageDone}, rec.stages())
	require.Zero(t, h.entities.upserts)
	require.Zero(t, h.site.calls)
}

func TestRunForceRecrawls(t *testing.T) {
	t.Parallel()

	h := newHarness(crawler.Entity{
		ID: "e3", Name: "Per Se", SiteURL: "https://perse.example.com",
		CrawlStatus: crawler.CrawlStatusArtifactFound,
	})
	tk := task("e3")
	tk.Force = true

	res, err := h.engine().Run(context.Background(), tk, (&recorded{}).record)
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.Equal(t, 1, h.site.calls)
}

func TestRunDownloadFailureLoopIsBounded(t *testing.T) {
	t.Parallel()

	h := newHarness(crawler.Entity{ID: "e4", Name: "Atomix", SiteURL: "https://atomix.example.com"})
	h.site.candidate = &crawler.Candidate{URL: "https://atomix.example.com/a.pdf", Tier: crawler.TierKeyword}
	h.fallback.candidate = &crawler.Candidate{URL: "https://hub.example.com/b.pdf", Tier: crawler.TierExternal}
	h.downloader.fail["https://atomix.example.com/a.pdf"] = true
	h.downloader.fail["https://hub.example.com/b.pdf"] = true
	rec := &recorded{}

	res, err := h.engine().Run(context.Background(), task("e4"), rec.record)
	require.NoError(t, err)
	require.Equal(t, crawler.CrawlStatusDownloadFailed, res.Status)
	require.Equal(t, 1, h.fallback.calls)
	require.Len(t, h.downloader.calls, 2)

	counters := crawler.JobCounters{}.Record(res)
	require.Equal(t, 1, counters.Failed)
}

func TestRunResumesFromRecordedStage(t *testing.T) {
	t.Parallel()

	h := newHarness(crawler.Entity{ID: "e5", Name: "Chef's Table", SiteURL: "https://chefs.example.com"})
	h.blobs.objects = map[string][]byte{"wine-lists/e5/feed.pdf": []byte("Riesling")}
	resume := crawler.StageState{
		Stage:    crawler.StageExtract,
		EntityID: "e5",
		Scratch: crawler.Scratch{
			HasSite:      true,
			Candidate:    &crawler.Candidate{URL: "https://chefs.example.com/wine.pdf", Tier: crawler.TierMenu},
			ArtifactPath: "wine-lists/e5/feed.pdf",
			ArtifactURI:  "mem://wine-lists/e5/feed.pdf",
			ContentHash:  "feed",
			MimeType:     "application/pdf",
		},
	}
	tk := task("e5")
	tk.Resume = &resume
	rec := &recorded{}

	res, err := h.engine().Run(context.Background(), tk, rec.record)
	require.NoError(t, err)
	require.Equal(t, crawler.CrawlStatusArtifactFound, res.Status)
	require.Equal(t, []crawler.Stage{crawler.StageSave, crawler.StageDone}, rec.stages())
	require.Zero(t, h.site.calls)
	require.Empty(t, h.downloader.calls)
	require.Equal(t, []byte("Riesling"), h.blobs.objects["wine-lists/e5/feed.txt"])
}

func TestRunRecordFailureStopsJob(t *testing.T) {
	t.Parallel()

	h := newHarness(crawler.Entity{ID: "e6", SiteURL: "https://x.example.com"})
	boom := errors.New("redis down")
	res, err := h.engine().Run(context.Background(), task("e6"), func(context.Context, crawler.StageState) error {
		return boom
	})
	require.ErrorIs(t, err, crawler.ErrCheckpointPersist)
	require.ErrorIs(t, err, boom)
	require.Empty(t, res.EntityID)
}

func TestRunResolveFailureIsEntityLevel(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.source = fakeSource{err: errors.New("detail page 500")}

	res, err := h.engine().Run(context.Background(), task("e7"), (&recorded{}).record)
	require.NoError(t, err)
	require.Error(t, res.Err)
	require.Equal(t, 1, crawler.JobCounters{}.Record(res).Failed)
}

func TestExtensionFor(t *testing.T) {
	t.Parallel()

	require.Equal(t, ".pdf", extensionFor("application/pdf", "https://x.example.com/list"))
	require.Equal(t, ".html", extensionFor("text/html; charset=utf-8", ""))
	require.Equal(t, ".txt", extensionFor("text/plain", ""))
	require.Equal(t, ".docx", extensionFor("", "https://x.example.com/wine.DOCX?v=2"))
	require.Equal(t, ".bin", extensionFor("", "https://x.example.com/wine"))
}
