package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/winerank-crawler/internal/checkpoint"
	"github.com/JakeFAU/winerank-crawler/internal/crawler"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestMigrateRunsSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_jobs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Unix(1700000000, 0).UTC()
	job := crawler.Job{
		ID:        "job-1",
		Status:    crawler.JobStatusPending,
		CreatedAt: created,
		Scope:     crawler.Scope{Source: "michelin", Distinction: "3"},
	}

	mock.ExpectExec("INSERT INTO crawl_jobs").
		WithArgs("job-1", "PENDING", "michelin", "3", "", 0, 0, 0, 0, 0, "", created).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	counters := crawler.JobCounters{Seen: 3, Succeeded: 2, NotFound: 1}

	mock.ExpectExec("UPDATE crawl_jobs SET").
		WithArgs("job-1", "COMPLETED", "", 3, 2, 0, 0, 1, false, true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE crawl_jobs SET").
		WithArgs("job-2", "RUNNING", "", 0, 0, 0, 0, 0, true, false, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ctx := context.Background()
	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", crawler.JobStatusCompleted, "", counters))
	err := store.UpdateJobStatus(ctx, "job-2", crawler.JobStatusRunning, "", crawler.JobCounters{})
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func jobRows(mock pgxmock.PgxPoolIface) *pgxmock.Rows {
	return mock.NewRows([]string{
		"id", "status", "scope_source", "scope_distinction", "scope_entity_id",
		"seen", "succeeded", "failed", "skipped", "not_found", "error_text",
		"created_at", "started_at", "finished_at",
	})
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Unix(1700000000, 0).UTC()
	started := created.Add(time.Second)

	mock.ExpectQuery("SELECT (.+) FROM crawl_jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(jobRows(mock).AddRow(
			"job-1", "RUNNING", "michelin", "2", "",
			4, 3, 1, 0, 0, "",
			created, &started, (*time.Time)(nil),
		))
	mock.ExpectQuery("SELECT (.+) FROM crawl_jobs WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	ctx := context.Background()
	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusRunning, job.Status)
	require.Equal(t, "2", job.Scope.Distinction)
	require.Equal(t, 3, job.Counters.Succeeded)
	require.Equal(t, started, *job.StartedAt)
	require.Nil(t, job.FinishedAt)

	_, err = store.GetJob(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListJobs(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Unix(1700000000, 0).UTC()
	none := (*time.Time)(nil)

	mock.ExpectQuery("SELECT (.+) FROM crawl_jobs ORDER BY created_at DESC").
		WithArgs(10).
		WillReturnRows(jobRows(mock).
			AddRow("b", "PAUSED", "michelin", "3", "", 1, 1, 0, 0, 0, "", created.Add(time.Hour), none, none).
			AddRow("a", "COMPLETED", "michelin", "3", "", 2, 2, 0, 0, 0, "", created, none, none))

	jobs, err := store.ListJobs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "b", jobs[0].ID)
	require.Equal(t, crawler.JobStatusCompleted, jobs[1].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointRoundTrip(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	cp := crawler.NewCheckpoint("job-1").WithPage(2, []crawler.EntityRef{{ID: "e1"}, {ID: "e2"}}, 5)
	payload, err := checkpoint.Encode(cp)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO crawl_checkpoints").
		WithArgs("job-1", payload, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT payload FROM crawl_checkpoints").
		WithArgs("job-1").
		WillReturnRows(mock.NewRows([]string{"payload"}).AddRow(payload))
	mock.ExpectQuery("SELECT payload FROM crawl_checkpoints").
		WithArgs("job-2").
		WillReturnError(pgx.ErrNoRows)

	ctx := context.Background()
	require.NoError(t, store.SaveCheckpoint(ctx, "job-1", cp))

	loaded, ok, err := store.LoadCheckpoint(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, cp, loaded)

	_, ok, err = store.LoadCheckpoint(ctx, "job-2")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEntity(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	updated := time.Unix(1700000000, 0).UTC()
	e := crawler.Entity{
		ID:          "e1",
		Name:        "Per Se",
		SourceURL:   "https://guide.michelin.com/per-se",
		CrawlStatus: crawler.CrawlStatusArtifactFound,
		ArtifactURL: "https://perseny.com/wine.pdf",
		UpdatedAt:   updated,
	}

	mock.ExpectExec("INSERT INTO entities").
		WithArgs(
			"e1", "Per Se", e.SourceURL, "", "", "", "", "",
			e.ArtifactURL, "", "", "", "",
			"ARTIFACT_FOUND", 0, (*time.Time)(nil), updated,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := context.Background()
	require.NoError(t, store.UpsertEntity(ctx, e))
	require.Error(t, store.UpsertEntity(ctx, crawler.Entity{Name: "no id"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func entityRow(mock pgxmock.PgxPoolIface, id, name string) *pgxmock.Rows {
	return mock.NewRows([]string{
		"id", "name", "source_url", "site_url", "distinction", "city", "state", "country",
		"artifact_url", "artifact_hash", "artifact_uri", "text_uri", "mime_type",
		"crawl_status", "pages_visited", "last_crawled_at", "updated_at",
	}).AddRow(
		id, name, "", "", "", "", "", "",
		"", "", "", "", "",
		"NOT_STARTED", 0, (*time.Time)(nil), time.Unix(1700000000, 0).UTC(),
	)
}

func TestGetAndFindEntities(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM entities WHERE id").
		WithArgs("e1").
		WillReturnRows(entityRow(mock, "e1", "Per Se"))
	mock.ExpectQuery("SELECT (.+) FROM entities WHERE id").
		WithArgs("e9").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM entities WHERE name ILIKE").
		WithArgs(`%100\% per\_se%`).
		WillReturnRows(entityRow(mock, "e1", "Per Se"))

	ctx := context.Background()
	e, err := store.GetEntity(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, "Per Se", e.Name)
	require.Equal(t, crawler.CrawlStatusNotStarted, e.CrawlStatus)

	_, err = store.GetEntity(ctx, "e9")
	require.ErrorIs(t, err, crawler.ErrNotFound)

	found, err := store.FindEntities(ctx, " 100% per_se ")
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
