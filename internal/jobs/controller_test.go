package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
	"github.com/JakeFAU/winerank-crawler/internal/storage/memory"
	"github.com/JakeFAU/winerank-crawler/internal/workflow"
)

type pagedSource struct {
	mu    sync.Mutex
	pages map[int][]crawler.EntityRef
	total int
	err   error
	calls int
}

func newPagedSource(total int, pages map[int][]crawler.EntityRef) *pagedSource {
	return &pagedSource{pages: pages, total: total}
}

func (s *pagedSource) ListingPage(_ context.Context, _ crawler.Scope, page int) (crawler.ListingPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return crawler.ListingPage{}, s.err
	}
	return crawler.ListingPage{Number: page, Entities: s.pages[page], TotalPages: s.total}, nil
}

func (s *pagedSource) Resolve(_ context.Context, ref crawler.EntityRef) (crawler.Entity, error) {
	return crawler.Entity{ID: ref.ID, Name: "Restaurant " + ref.ID, SourceURL: ref.SourceURL}, nil
}

func (s *pagedSource) listingCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// upsertRunner saves every entity it sees and reports an artifact.
type upsertRunner struct {
	mu      sync.Mutex
	store   crawler.EntityStore
	ran     []string
	onStart func(index int)
}

func (r *upsertRunner) Run(ctx context.Context, task crawler.EntityTask, _ workflow.Recorder) (crawler.EntityResult, error) {
	r.mu.Lock()
	r.ran = append(r.ran, task.Ref.ID)
	hook := r.onStart
	r.mu.Unlock()
	if hook != nil {
		hook(task.Index)
	}
	entity := crawler.Entity{
		ID:          task.Ref.ID,
		Name:        task.Ref.ID,
		SourceURL:   task.Ref.SourceURL,
		CrawlStatus: crawler.CrawlStatusArtifactFound,
	}
	if err := r.store.UpsertEntity(ctx, entity); err != nil {
		return crawler.EntityResult{}, err
	}
	return crawler.EntityResult{EntityID: task.Ref.ID, Status: crawler.CrawlStatusArtifactFound}, nil
}

func (r *upsertRunner) runs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ran...)
}

type sequentialIDs struct {
	mu sync.Mutex
	n  int
}

func (g *sequentialIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("job-%d", g.n), nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func refs(ids ...string) []crawler.EntityRef {
	out := make([]crawler.EntityRef, 0, len(ids))
	for _, id := range ids {
		out = append(out, crawler.EntityRef{ID: id, SourceURL: "https://guide.example.com/" + id})
	}
	return out
}

func newController(store crawler.Store, source crawler.ListingSource, runner *upsertRunner) *Controller {
	return New(Deps{
		Store:  store,
		Source: source,
		Runner: runner,
		IDs:    &sequentialIDs{},
		Clock:  fixedClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}, Config{
		Concurrency:      1,
		BreakerThreshold: 2,
		Retry:            crawler.NewRetryPolicy(1, time.Millisecond, time.Millisecond),
	}, nil)
}

var threeStars = crawler.Scope{Source: "michelin", Distinction: "3"}

func TestStartWalksEveryPage(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	source := newPagedSource(2, map[int][]crawler.EntityRef{
		1: refs("a", "b"),
		2: refs("c"),
	})
	runner := &upsertRunner{store: store}
	c := newController(store, source, runner)

	job, err := c.Start(context.Background(), threeStars, Options{})
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, job.Status)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.FinishedAt)
	require.Equal(t, crawler.JobCounters{Seen: 3, Succeeded: 3}, job.Counters)
	require.Equal(t, []string{"a", "b", "c"}, runner.runs())

	report, err := c.Status(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, report.Checkpoint)
	require.Equal(t, 2, report.Checkpoint.Page)
	require.True(t, report.Checkpoint.Exhausted())

	_, err = c.Resume(context.Background(), job.ID, Options{})
	require.ErrorIs(t, err, crawler.ErrNotResumable)
}

func TestEmptyListingCompletes(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	runner := &upsertRunner{store: store}
	c := newController(store, newPagedSource(0, nil), runner)

	job, err := c.Start(context.Background(), threeStars, Options{})
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, job.Status)
	require.Zero(t, job.Counters.Seen)
	require.Empty(t, runner.runs())
}

func TestInterruptPausesAndResumeFinishes(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	source := newPagedSource(1, map[int][]crawler.EntityRef{1: refs("a", "b", "c")})
	runner := &upsertRunner{store: store}
	c := newController(store, source, runner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.onStart = func(index int) {
		if index == 0 {
			cancel()
		}
	}

	job, err := c.Start(ctx, threeStars, Options{})
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusPaused, job.Status)
	require.Equal(t, 1, job.Counters.Seen)
	require.Equal(t, []string{"a"}, runner.runs())

	report, err := c.Status(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, 1, report.Checkpoint.NextIndex)
	require.Empty(t, report.Checkpoint.InFlight)

	runner.mu.Lock()
	runner.onStart = nil
	runner.mu.Unlock()
	resumed, err := c.Resume(context.Background(), job.ID, Options{})
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, resumed.Status)
	require.Equal(t, crawler.JobCounters{Seen: 3, Succeeded: 3}, resumed.Counters)
	require.Equal(t, []string{"a", "b", "c"}, runner.runs())
	require.Equal(t, 1, source.listingCalls())
}

func TestStatusReportsCountersMidRun(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	source := newPagedSource(1, map[int][]crawler.EntityRef{1: refs("a", "b")})
	runner := &upsertRunner{store: store}
	c := newController(store, source, runner)

	var (
		midRun    Report
		statusErr error
		recent    []Report
		recentErr error
	)
	runner.onStart = func(index int) {
		if index != 1 {
			return
		}
		midRun, statusErr = c.Status(context.Background(), "job-1")
		recent, recentErr = c.Recent(context.Background(), 10)
	}

	job, err := c.Start(context.Background(), threeStars, Options{})
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, job.Status)

	require.NoError(t, statusErr)
	require.Equal(t, crawler.JobStatusRunning, midRun.Job.Status)
	require.Equal(t, crawler.JobCounters{Seen: 1, Succeeded: 1}, midRun.Job.Counters)
	require.NotNil(t, midRun.Checkpoint)
	require.Equal(t, 1, midRun.Checkpoint.NextIndex)

	require.NoError(t, recentErr)
	require.Len(t, recent, 1)
	require.Equal(t, crawler.JobCounters{Seen: 1, Succeeded: 1}, recent[0].Job.Counters)

	final, err := c.Status(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobCounters{Seen: 2, Succeeded: 2}, final.Job.Counters)
}

func TestResumeTwiceWithoutProgressIsIdempotent(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	source := newPagedSource(1, map[int][]crawler.EntityRef{1: refs("a", "b")})
	runner := &upsertRunner{store: store}
	c := newController(store, source, runner)

	ctx, cancel := context.WithCancel(context.Background())
	runner.onStart = func(int) { cancel() }
	job, err := c.Start(ctx, threeStars, Options{})
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusPaused, job.Status)

	before, ok, err := store.LoadCheckpoint(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	upserts := store.Upserts()

	for range 2 {
		stopped, stop := context.WithCancel(context.Background())
		stop()
		again, err := c.Resume(stopped, job.ID, Options{})
		require.NoError(t, err)
		require.Equal(t, crawler.JobStatusPaused, again.Status)
	}

	after, ok, err := store.LoadCheckpoint(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, before, after)
	require.Equal(t, upserts, store.Upserts())
	require.Equal(t, []string{"a"}, runner.runs())
}

func TestBreakerTripFailsWithCheckpointIntact(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	source := newPagedSource(0, nil)
	source.err = errors.New("listing unavailable")
	runner := &upsertRunner{store: store}
	c := newController(store, source, runner)

	job, err := c.Start(context.Background(), threeStars, Options{})
	require.ErrorIs(t, err, crawler.ErrCircuitOpen)
	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Contains(t, job.ErrorText, "circuit breaker")
	require.Equal(t, 2, source.listingCalls())

	cp, ok, err := store.LoadCheckpoint(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, crawler.NewCheckpoint(job.ID), cp)

	// A failed job resumes with a fresh breaker.
	source.mu.Lock()
	source.err = nil
	source.pages = map[int][]crawler.EntityRef{1: refs("a")}
	source.total = 1
	source.mu.Unlock()
	resumed, err := c.Resume(context.Background(), job.ID, Options{})
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, resumed.Status)
	require.Empty(t, resumed.ErrorText)
}

type failingCheckpoints struct {
	*memory.Store
	failAfter int
	saves     int
}

func (f *failingCheckpoints) SaveCheckpoint(ctx context.Context, jobID string, cp crawler.Checkpoint) error {
	f.saves++
	if f.saves > f.failAfter {
		return errors.New("disk full")
	}
	return f.Store.SaveCheckpoint(ctx, jobID, cp)
}

func TestCheckpointFailureFailsJob(t *testing.T) {
	t.Parallel()

	store := &failingCheckpoints{Store: memory.NewStore(), failAfter: 1}
	source := newPagedSource(1, map[int][]crawler.EntityRef{1: refs("a")})
	runner := &upsertRunner{store: store}
	c := newController(store, source, runner)

	job, err := c.Start(context.Background(), threeStars, Options{})
	require.ErrorIs(t, err, crawler.ErrCheckpointPersist)
	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Empty(t, runner.runs())
}

func TestSingleEntityJob(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	require.NoError(t, store.UpsertEntity(context.Background(), crawler.Entity{
		ID:        "e1",
		Name:      "Per Se",
		SourceURL: "https://guide.example.com/per-se",
	}))
	source := newPagedSource(5, map[int][]crawler.EntityRef{1: refs("x", "y")})
	runner := &upsertRunner{store: store}
	c := newController(store, source, runner)

	job, err := c.Start(context.Background(), crawler.Scope{Source: "michelin", EntityID: "e1"}, Options{Force: true})
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, job.Status)
	require.Equal(t, []string{"e1"}, runner.runs())
	require.Zero(t, source.listingCalls())

	_, err = c.Start(context.Background(), crawler.Scope{Source: "michelin", EntityID: "missing"}, Options{})
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestEndToEndEntityWithoutSite(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	source := newPagedSource(1, map[int][]crawler.EntityRef{1: refs("bistro")})
	clock := fixedClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	engine := workflow.New(workflow.Deps{
		Entities: store,
		Source:   source,
		Clock:    clock,
	}, workflow.Config{}, nil)
	c := New(Deps{Store: store, Source: source, Runner: engine, IDs: &sequentialIDs{}, Clock: clock}, Config{}, nil)

	job, err := c.Start(context.Background(), threeStars, Options{})
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, job.Status)
	require.Equal(t, crawler.JobCounters{Seen: 1, NotFound: 1}, job.Counters)

	entity, err := store.GetEntity(context.Background(), "bistro")
	require.NoError(t, err)
	require.Equal(t, crawler.CrawlStatusNoSourceURL, entity.CrawlStatus)
	require.Equal(t, "Restaurant bistro", entity.Name)
}

func TestFindEntity(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	for _, e := range []crawler.Entity{
		{ID: "1", Name: "Per Se"},
		{ID: "2", Name: "Per Se Bar"},
		{ID: "3", Name: "Atelier Crenn"},
		{ID: "4", Name: "Atelier Crenn Bistro"},
	} {
		require.NoError(t, store.UpsertEntity(context.Background(), e))
	}
	c := newController(store, newPagedSource(0, nil), &upsertRunner{store: store})

	got, err := c.FindEntity(context.Background(), "3")
	require.NoError(t, err)
	require.Equal(t, "Atelier Crenn", got.Name)

	got, err = c.FindEntity(context.Background(), "per se")
	require.NoError(t, err)
	require.Equal(t, "1", got.ID)

	got, err = c.FindEntity(context.Background(), "bar")
	require.NoError(t, err)
	require.Equal(t, "2", got.ID)

	_, err = c.FindEntity(context.Background(), "crenn")
	require.ErrorIs(t, err, ErrAmbiguousEntity)

	_, err = c.FindEntity(context.Background(), "noma")
	require.ErrorIs(t, err, crawler.ErrNotFound)

	_, err = c.FindEntity(context.Background(), "  ")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestRecent(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	c := newController(store, newPagedSource(0, nil), &upsertRunner{store: store})
	for range 3 {
		_, err := c.Start(context.Background(), threeStars, Options{})
		require.NoError(t, err)
	}
	reports, err := c.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	require.Equal(t, "job-3", reports[0].Job.ID)
	require.NotNil(t, reports[0].Checkpoint)
	require.Equal(t, 1, reports[0].Checkpoint.Page)
}
