package checkpoint

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
)

type fakeStore struct {
	mu    sync.Mutex
	saved []crawler.Checkpoint
	err   error
}

func (f *fakeStore) LoadCheckpoint(context.Context, string) (crawler.Checkpoint, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saved) == 0 {
		return crawler.Checkpoint{}, false, nil
	}
	return f.saved[len(f.saved)-1], true, nil
}

func (f *fakeStore) SaveCheckpoint(_ context.Context, _ string, cp crawler.Checkpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, cp.Clone())
	return nil
}

func (f *fakeStore) last() crawler.Checkpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved[len(f.saved)-1]
}

func pageOf(n int) []crawler.EntityRef {
	refs := make([]crawler.EntityRef, n)
	for i := range refs {
		refs[i] = crawler.EntityRef{ID: string(rune('a' + i))}
	}
	return refs
}

func found() crawler.EntityResult {
	return crawler.EntityResult{Status: crawler.CrawlStatusArtifactFound}
}

func TestLedgerAdvancesContiguousPrefix(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	cp := crawler.NewCheckpoint("job-1").WithPage(1, pageOf(4), 3)
	l := NewLedger(store, cp, nil)
	ctx := context.Background()

	snap, err := l.Complete(ctx, 2, found())
	require.NoError(t, err)
	require.Equal(t, 0, snap.NextIndex)
	require.Equal(t, []int{2}, snap.Completed)

	snap, err = l.Complete(ctx, 0, found())
	require.NoError(t, err)
	require.Equal(t, 1, snap.NextIndex)

	snap, err = l.Complete(ctx, 1, found())
	require.NoError(t, err)
	require.Equal(t, 3, snap.NextIndex)
	require.Nil(t, snap.Completed)
	require.Equal(t, 3, snap.Counters.Succeeded)
	require.Equal(t, snap, store.last())
}

func TestLedgerCompleteIsIdempotent(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	l := NewLedger(store, crawler.NewCheckpoint("job-1").WithPage(1, pageOf(2), 1), nil)
	ctx := context.Background()

	_, err := l.Complete(ctx, 0, found())
	require.NoError(t, err)
	writes := len(store.saved)

	snap, err := l.Complete(ctx, 0, found())
	require.NoError(t, err)
	require.Equal(t, 1, snap.Counters.Seen)
	require.Len(t, store.saved, writes)

	require.NoError(t, l.RecordStage(ctx, 0, crawler.StageState{Stage: crawler.StageSave}))
	require.Len(t, store.saved, writes)
}

func TestLedgerFailedSaveKeepsPreviousValue(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	l := NewLedger(store, crawler.NewCheckpoint("job-1").WithPage(1, pageOf(2), 1), nil)
	ctx := context.Background()
	require.NoError(t, l.RecordStage(ctx, 0, crawler.StageState{Stage: crawler.StageCrawlSite, EntityID: "a"}))
	before := l.Snapshot()

	store.err = errors.New("connection reset")
	err := l.RecordStage(ctx, 0, crawler.StageState{Stage: crawler.StageDownload, EntityID: "a"})
	require.ErrorIs(t, err, crawler.ErrCheckpointPersist)

	_, err = l.Complete(ctx, 0, found())
	require.ErrorIs(t, err, crawler.ErrCheckpointPersist)
	require.Equal(t, before, l.Snapshot())
}

func TestLedgerRecordStageTracksInFlight(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	l := NewLedger(store, crawler.NewCheckpoint("job-1").WithPage(2, pageOf(3), 5), nil)
	ctx := context.Background()

	require.NoError(t, l.RecordStage(ctx, 1, crawler.StageState{Stage: crawler.StageDownload, EntityID: "b"}))
	require.NoError(t, l.RecordStage(ctx, 2, crawler.StageState{Stage: crawler.StageCrawlSite, EntityID: "c"}))
	snap := l.Snapshot()
	require.Equal(t, []int{1, 2}, snap.InFlightIndices())
	require.Equal(t, crawler.StageDownload, snap.InFlight[1].Stage)

	_, err := l.Complete(ctx, 1, found())
	require.NoError(t, err)
	require.Equal(t, []int{2}, l.Snapshot().InFlightIndices())
	require.Equal(t, "job-1", store.last().JobID)
}

func TestLedgerConcurrentCompletions(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	l := NewLedger(store, crawler.NewCheckpoint("job-1").WithPage(1, pageOf(20), 1), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Complete(ctx, i, found()); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	snap := l.Snapshot()
	require.True(t, snap.Exhausted())
	require.Equal(t, 20, snap.Counters.Seen)
}
