package crawler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func testPage(ids ...string) []EntityRef {
	refs := make([]EntityRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, EntityRef{ID: id, SourceURL: "https://guide.example/restaurant/" + id})
	}
	return refs
}

func TestCheckpointCompletedPrefix(t *testing.T) {
	t.Parallel()

	cp := NewCheckpoint("job-1").WithPage(1, testPage("a", "b", "c", "d"), 3)
	require.Equal(t, 0, cp.NextIndex)
	require.False(t, cp.Exhausted())

	cp = cp.WithStage(2, StageState{Stage: StageDownload, EntityID: "c"})
	cp = cp.WithCompleted(2, EntityResult{EntityID: "c", Status: CrawlStatusArtifactFound})
	require.Equal(t, 0, cp.NextIndex, "gap at index 0 keeps the prefix in place")
	require.Equal(t, []int{2}, cp.Completed)
	require.Nil(t, cp.InFlight)
	require.True(t, cp.IsCompleted(2))
	require.Equal(t, []int{0, 1, 3}, cp.Pending())

	cp = cp.WithCompleted(0, EntityResult{EntityID: "a", Skipped: true})
	require.Equal(t, 1, cp.NextIndex)

	cp = cp.WithCompleted(1, EntityResult{EntityID: "b", Status: CrawlStatusNoSourceURL})
	require.Equal(t, 3, cp.NextIndex)
	require.Nil(t, cp.Completed)

	cp = cp.WithCompleted(3, EntityResult{EntityID: "d", Err: errors.New("detail page gone")})
	require.True(t, cp.Exhausted())
	require.Equal(t, JobCounters{Seen: 4, Succeeded: 1, Failed: 1, Skipped: 1, NotFound: 1}, cp.Counters)
}

func TestCheckpointCompletedIsIdempotent(t *testing.T) {
	t.Parallel()

	cp := NewCheckpoint("job-1").WithPage(1, testPage("a", "b"), 1)
	cp = cp.WithCompleted(0, EntityResult{Status: CrawlStatusArtifactFound})
	again := cp.WithCompleted(0, EntityResult{Status: CrawlStatusArtifactFound})
	require.Equal(t, cp, again)
}

func TestCheckpointWithMethodsDoNotAlias(t *testing.T) {
	t.Parallel()

	base := NewCheckpoint("job-1").WithPage(1, testPage("a", "b"), 1)
	staged := base.WithStage(0, StageState{
		Stage:   StageDownload,
		Scratch: Scratch{Candidate: &Candidate{URL: "https://a.example/wine.pdf"}},
	})
	require.Nil(t, base.InFlight)

	clone := staged.Clone()
	clone.InFlight[0].Scratch.Candidate.URL = "mutated"
	clone.Entities[0].ID = "mutated"
	require.Equal(t, "https://a.example/wine.pdf", staged.InFlight[0].Scratch.Candidate.URL)
	require.Equal(t, "a", staged.Entities[0].ID)
}

func TestCheckpointWithPageResetsCursor(t *testing.T) {
	t.Parallel()

	cp := NewCheckpoint("job-1").WithPage(1, testPage("a"), 2)
	cp = cp.WithCompleted(0, EntityResult{Status: CrawlStatusArtifactFound})
	require.True(t, cp.Exhausted())

	next := cp.WithPage(2, testPage("b", "c"), 2)
	require.Equal(t, 2, next.Page)
	require.Equal(t, 0, next.NextIndex)
	require.Len(t, next.Entities, 2)
	require.Equal(t, 1, next.Counters.Succeeded, "counters survive page changes")
}

func TestJobStatusFinished(t *testing.T) {
	t.Parallel()

	require.False(t, JobStatusRunning.Finished())
	require.False(t, JobStatusPending.Finished())
	require.True(t, JobStatusPaused.Finished())
	require.True(t, JobStatusFailed.Finished())
	require.True(t, JobStatusCompleted.Finished())
}
