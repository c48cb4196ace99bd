// Package postgres provides a Postgres-backed crawler.Store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/winerank-crawler/internal/checkpoint"
	"github.com/JakeFAU/winerank-crawler/internal/crawler"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Store persists jobs, checkpoints and entities in Postgres.
type Store struct {
	pool pool
}

// New connects to Postgres and ensures the schema exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: p}
	if err := s.Migrate(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Migrate creates the tables when they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job crawler.Job) error {
	const query = `
INSERT INTO crawl_jobs (
	id, status, scope_source, scope_distinction, scope_entity_id,
	seen, succeeded, failed, skipped, not_found, error_text, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	c := job.Counters
	_, err := s.pool.Exec(ctx, query,
		job.ID,
		string(job.Status),
		job.Scope.Source,
		job.Scope.Distinction,
		job.Scope.EntityID,
		c.Seen,
		c.Succeeded,
		c.Failed,
		c.Skipped,
		c.NotFound,
		job.ErrorText,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus sets status, error text and counters. Entering RUNNING
// stamps started_at once and clears finished_at; a finished status stamps
// finished_at.
func (s *Store) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	const query = `
UPDATE crawl_jobs SET
	status = $2,
	error_text = $3,
	seen = $4,
	succeeded = $5,
	failed = $6,
	skipped = $7,
	not_found = $8,
	started_at = CASE WHEN $9 THEN COALESCE(started_at, $11) ELSE started_at END,
	finished_at = CASE WHEN $9 THEN NULL WHEN $10 THEN $11 ELSE finished_at END
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		jobID,
		string(status),
		errText,
		counters.Seen,
		counters.Succeeded,
		counters.Failed,
		counters.Skipped,
		counters.NotFound,
		status == crawler.JobStatusRunning,
		status.Finished(),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	return nil
}

const jobColumns = `id, status, scope_source, scope_distinction, scope_entity_id,
	seen, succeeded, failed, skipped, not_found, error_text,
	created_at, started_at, finished_at`

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM crawl_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns up to limit jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]crawler.Job, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM crawl_jobs ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []crawler.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row rowScanner) (crawler.Job, error) {
	var (
		job    crawler.Job
		status string
	)
	err := row.Scan(
		&job.ID,
		&status,
		&job.Scope.Source,
		&job.Scope.Distinction,
		&job.Scope.EntityID,
		&job.Counters.Seen,
		&job.Counters.Succeeded,
		&job.Counters.Failed,
		&job.Counters.Skipped,
		&job.Counters.NotFound,
		&job.ErrorText,
		&job.CreatedAt,
		&job.StartedAt,
		&job.FinishedAt,
	)
	if err != nil {
		return crawler.Job{}, err
	}
	job.Status = crawler.JobStatus(status)
	return job, nil
}

// LoadCheckpoint reads the JSONB checkpoint for a job.
func (s *Store) LoadCheckpoint(ctx context.Context, jobID string) (crawler.Checkpoint, bool, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM crawl_checkpoints WHERE job_id = $1`, jobID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Checkpoint{}, false, nil
	}
	if err != nil {
		return crawler.Checkpoint{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	cp, err := checkpoint.Decode(payload)
	if err != nil {
		return crawler.Checkpoint{}, false, err
	}
	return cp, true, nil
}

// SaveCheckpoint upserts the checkpoint in a single statement.
func (s *Store) SaveCheckpoint(ctx context.Context, jobID string, cp crawler.Checkpoint) error {
	payload, err := checkpoint.Encode(cp)
	if err != nil {
		return err
	}
	const query = `
INSERT INTO crawl_checkpoints (job_id, payload, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (job_id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`
	if _, err := s.pool.Exec(ctx, query, jobID, payload, time.Now().UTC()); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// UpsertEntity inserts or replaces an entity row.
func (s *Store) UpsertEntity(ctx context.Context, e crawler.Entity) error {
	if e.ID == "" {
		return fmt.Errorf("entity id is required")
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	const query = `
INSERT INTO entities (
	id, name, source_url, site_url, distinction, city, state, country,
	artifact_url, artifact_hash, artifact_uri, text_uri, mime_type,
	crawl_status, pages_visited, last_crawled_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	source_url = EXCLUDED.source_url,
	site_url = EXCLUDED.site_url,
	distinction = EXCLUDED.distinction,
	city = EXCLUDED.city,
	state = EXCLUDED.state,
	country = EXCLUDED.country,
	artifact_url = EXCLUDED.artifact_url,
	artifact_hash = EXCLUDED.artifact_hash,
	artifact_uri = EXCLUDED.artifact_uri,
	text_uri = EXCLUDED.text_uri,
	mime_type = EXCLUDED.mime_type,
	crawl_status = EXCLUDED.crawl_status,
	pages_visited = EXCLUDED.pages_visited,
	last_crawled_at = EXCLUDED.last_crawled_at,
	updated_at = EXCLUDED.updated_at`
	_, err := s.pool.Exec(ctx, query,
		e.ID,
		e.Name,
		e.SourceURL,
		e.SiteURL,
		e.Distinction,
		e.City,
		e.State,
		e.Country,
		e.ArtifactURL,
		e.ArtifactHash,
		e.ArtifactURI,
		e.TextURI,
		e.MimeType,
		string(e.CrawlStatus),
		e.PagesVisited,
		e.LastCrawledAt,
		e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}
	return nil
}

const entityColumns = `id, name, source_url, site_url, distinction, city, state, country,
	artifact_url, artifact_hash, artifact_uri, text_uri, mime_type,
	crawl_status, pages_visited, last_crawled_at, updated_at`

// GetEntity fetches an entity by ID.
func (s *Store) GetEntity(ctx context.Context, id string) (crawler.Entity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1`, id)
	e, err := scanEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Entity{}, fmt.Errorf("entity %s: %w", id, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Entity{}, fmt.Errorf("get entity: %w", err)
	}
	return e, nil
}

// FindEntities matches a case-insensitive substring of the name, ordered by name.
func (s *Store) FindEntities(ctx context.Context, name string) ([]crawler.Entity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE name ILIKE $1 ESCAPE '\' ORDER BY name, id`,
		likePattern(name))
	if err != nil {
		return nil, fmt.Errorf("find entities: %w", err)
	}
	defer rows.Close()

	var out []crawler.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find entities: %w", err)
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(name string) string {
	return "%" + likeEscaper.Replace(strings.TrimSpace(name)) + "%"
}

func scanEntity(row rowScanner) (crawler.Entity, error) {
	var (
		e      crawler.Entity
		status string
	)
	err := row.Scan(
		&e.ID,
		&e.Name,
		&e.SourceURL,
		&e.SiteURL,
		&e.Distinction,
		&e.City,
		&e.State,
		&e.Country,
		&e.ArtifactURL,
		&e.ArtifactHash,
		&e.ArtifactURI,
		&e.TextURI,
		&e.MimeType,
		&status,
		&e.PagesVisited,
		&e.LastCrawledAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return crawler.Entity{}, err
	}
	e.CrawlStatus = crawler.CrawlStatus(status)
	return e, nil
}
